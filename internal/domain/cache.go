package domain

import (
	"context"
	"time"
)

// QuoteCache keeps recently fetched market quotes.
type QuoteCache interface {
	SetQuote(ctx context.Context, marketID string, q Quote, ttl time.Duration) error
	GetQuote(ctx context.Context, marketID string) (Quote, error)
}

// Switch is the global pipeline kill switch.
type Switch interface {
	Enabled(ctx context.Context) (bool, error)
	SetEnabled(ctx context.Context, enabled bool) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams. StreamRead returns up to
// count entries after lastID in stream order, or the newest count entries
// when lastID is empty.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
