package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/polydesk/internal/domain"
)

// QuoteCache implements domain.QuoteCache with one hash per market at
// "desk:quote:{marketID}" holding the yes/no prices and the fetch time.
type QuoteCache struct {
	rdb *redis.Client
}

// NewQuoteCache creates a QuoteCache backed by the given Client.
func NewQuoteCache(c *Client) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying()}
}

func quoteKey(marketID string) string {
	return "desk:quote:" + marketID
}

// SetQuote stores q for marketID and expires it after ttl.
func (qc *QuoteCache) SetQuote(ctx context.Context, marketID string, q domain.Quote, ttl time.Duration) error {
	key := quoteKey(marketID)
	pipe := qc.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"yes": strconv.FormatFloat(q.Yes, 'f', -1, 64),
		"no":  strconv.FormatFloat(q.No, 'f', -1, 64),
		"ts":  strconv.FormatInt(time.Now().UnixNano(), 10),
	})
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", marketID, err)
	}
	return nil
}

// GetQuote returns the cached quote or domain.ErrNotFound.
func (qc *QuoteCache) GetQuote(ctx context.Context, marketID string) (domain.Quote, error) {
	vals, err := qc.rdb.HGetAll(ctx, quoteKey(marketID)).Result()
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: get quote %s: %w", marketID, err)
	}
	yesStr, okYes := vals["yes"]
	noStr, okNo := vals["no"]
	if !okYes || !okNo {
		return domain.Quote{}, domain.ErrNotFound
	}
	yes, err := strconv.ParseFloat(yesStr, 64)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: parse quote yes %s: %w", marketID, err)
	}
	no, err := strconv.ParseFloat(noStr, 64)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: parse quote no %s: %w", marketID, err)
	}
	return domain.Quote{Yes: yes, No: no}, nil
}

// Compile-time interface check.
var _ domain.QuoteCache = (*QuoteCache)(nil)
