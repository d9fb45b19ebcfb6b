package resultcache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/kailas-cloud/vecrank/internal/db"
)

type lruBackend struct {
	lru *expirable.LRU[string, []byte]
}

// NewLRU creates an in-process cache holding at most size entries for ttl each.
func NewLRU(size int, ttl time.Duration) *Cache {
	return newCache(&lruBackend{lru: expirable.NewLRU[string, []byte](size, nil, ttl)}, ttl)
}

func (b *lruBackend) get(_ context.Context, key string) ([]byte, error) {
	v, ok := b.lru.Get(key)
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	return v, nil
}

func (b *lruBackend) set(_ context.Context, key string, value []byte) error {
	b.lru.Add(key, value)
	return nil
}

func (b *lruBackend) clear(_ context.Context) (int, error) {
	n := b.lru.Len()
	b.lru.Purge()
	return n, nil
}
