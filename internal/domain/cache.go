package domain

import (
	"context"
	"time"
)

// MarketCache provides fast market snapshot lookups for read endpoints.
// Every Invalidate bumps the market's generation; a reader takes the
// generation before loading from the ledger and Set stores the snapshot only
// if it is unchanged, so a fill never overwrites a newer commit.
type MarketCache interface {
	Get(ctx context.Context, id uint64) (MarketSnapshot, error)
	Generation(ctx context.Context, id uint64) (uint64, error)
	Set(ctx context.Context, snap MarketSnapshot, gen uint64) (bool, error)
	Invalidate(ctx context.Context, id uint64) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// ReplayGuard remembers signed request digests so each one is accepted once.
type ReplayGuard interface {
	// Claim marks key as used for ttl and reports whether it was unused.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
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

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
