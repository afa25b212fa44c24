package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/polydesk/internal/domain"
)

// SwitchKey holds the global pipeline enable flag.
const SwitchKey = "desk:enabled"

// Switch implements domain.Switch on a single Redis key. A missing key
// means enabled, so operators only write it to pause the desk.
type Switch struct {
	rdb *redis.Client
}

// NewSwitch creates a Switch backed by the given Client.
func NewSwitch(c *Client) *Switch {
	return &Switch{rdb: c.Underlying()}
}

// Enabled reads the flag. Unparseable values count as enabled.
func (s *Switch) Enabled(ctx context.Context) (bool, error) {
	raw, err := s.rdb.Get(ctx, SwitchKey).Result()
	if errors.Is(err, redis.Nil) {
		return true, nil
	}
	if err != nil {
		return true, fmt.Errorf("redis: read %s: %w", SwitchKey, err)
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return true, nil
	}
	return v, nil
}

// SetEnabled writes the flag with no expiry.
func (s *Switch) SetEnabled(ctx context.Context, enabled bool) error {
	if err := s.rdb.Set(ctx, SwitchKey, strconv.FormatBool(enabled), 0).Err(); err != nil {
		return fmt.Errorf("redis: write %s: %w", SwitchKey, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.Switch = (*Switch)(nil)
