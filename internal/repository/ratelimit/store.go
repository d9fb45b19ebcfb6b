package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// KeyPrefix namespaces fixed-window counters.
const KeyPrefix = "vecrank:ratelimit:"

// store is the consumer interface for counter operations (ISP).
type store interface {
	IncrBy(ctx context.Context, key string, val int64) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration, nx bool) error
}

// Store keeps per-window request counters on top of DB (INCRBY + EXPIRE NX).
type Store struct {
	store store
}

// New creates a counter store.
func New(s store) *Store {
	return &Store{store: s}
}

// Incr atomically increments the window counter and returns the new count.
// The TTL is set only on the first hit so the window is not extended by later requests.
func (s *Store) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	key = KeyPrefix + key
	n, err := s.store.IncrBy(ctx, key, 1)
	if err != nil {
		return 0, fmt.Errorf("ratelimit INCRBY %s: %w", key, err)
	}
	if err := s.store.Expire(ctx, key, ttl, true); err != nil {
		return 0, fmt.Errorf("ratelimit EXPIRE %s: %w", key, err)
	}
	return n, nil
}
