package ratelimit

import (
	"context"
	"time"
)

// Counter increments a per-window request counter.
type Counter interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Limiter admits or rejects one request for a caller.
type Limiter interface {
	Allow(ctx context.Context, caller string) error
}
