package resultcache

import (
	"context"
	"time"
)

// store is the consumer interface for the KV backend (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Scan(ctx context.Context, pattern string) ([]string, error)
	Del(ctx context.Context, key string) error
}

type storeBackend struct {
	store store
	ttl   time.Duration
}

// NewStore creates a cache backed by the shared KV store (SET EX on Redis).
func NewStore(s store, ttl time.Duration) *Cache {
	return newCache(&storeBackend{store: s, ttl: ttl}, ttl)
}

func (b *storeBackend) get(ctx context.Context, key string) ([]byte, error) {
	return b.store.Get(ctx, key) //nolint:wrapcheck // wrapped by Cache
}

func (b *storeBackend) set(ctx context.Context, key string, value []byte) error {
	return b.store.SetWithTTL(ctx, key, value, b.ttl) //nolint:wrapcheck // wrapped by Cache
}

func (b *storeBackend) clear(ctx context.Context) (int, error) {
	keys, err := b.store.Scan(ctx, KeyPrefix+"*")
	if err != nil {
		return 0, err //nolint:wrapcheck // wrapped by Cache
	}
	n := 0
	for _, k := range keys {
		if err := b.store.Del(ctx, k); err != nil {
			return n, err //nolint:wrapcheck // wrapped by Cache
		}
		n++
	}
	return n, nil
}
