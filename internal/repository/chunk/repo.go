package chunk

import (
	"context"
	"fmt"
	"strings"

	"github.com/kailas-cloud/vecrank/internal/domain"
	domchunk "github.com/kailas-cloud/vecrank/internal/domain/chunk"
	"github.com/kailas-cloud/vecrank/internal/domain/schema"
)

// store is the consumer interface for chunks (ISP).
type store interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	Del(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// Repo stores chunks as hashes under the index prefix.
type Repo struct {
	store  store
	prefix string
	schema *schema.Schema
}

// New creates a chunk repository.
func New(s store, prefix string, sch *schema.Schema) *Repo {
	return &Repo{store: s, prefix: prefix, schema: sch}
}

// Key returns the hash key of a chunk.
func (r *Repo) Key(id string) string { return r.prefix + id }

// ID strips the prefix from a hash key.
func (r *Repo) ID(key string) string { return strings.TrimPrefix(key, r.prefix) }

// Save writes the chunk, replacing any previous version entirely.
func (r *Repo) Save(ctx context.Context, c *domchunk.Chunk) error {
	fields, err := buildHashFields(c, r.schema)
	if err != nil {
		return err
	}

	key := r.Key(c.ID())
	exists, err := r.store.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("check exists %s: %w", key, err)
	}
	// HSET merges, so a previous version's declared fields would otherwise linger.
	if exists {
		if err := r.store.Del(ctx, key); err != nil {
			return fmt.Errorf("del %s: %w", key, err)
		}
	}

	if err := r.store.HSet(ctx, key, fields); err != nil {
		return fmt.Errorf("hset %s: %w", key, err)
	}
	return nil
}

// Get returns a chunk by ID, vector included.
func (r *Repo) Get(ctx context.Context, id string) (domchunk.Chunk, error) {
	key := r.Key(id)
	m, err := r.store.HGetAll(ctx, key)
	if err != nil {
		return domchunk.Chunk{}, fmt.Errorf("hgetall %s: %w", key, err)
	}
	if len(m) == 0 {
		return domchunk.Chunk{}, fmt.Errorf("chunk %s: %w", id, domain.ErrNotFound)
	}
	return Decode(id, m)
}

// Delete removes a chunk.
func (r *Repo) Delete(ctx context.Context, id string) error {
	key := r.Key(id)

	exists, err := r.store.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("check exists %s: %w", key, err)
	}
	if !exists {
		return fmt.Errorf("chunk %s: %w", id, domain.ErrNotFound)
	}

	if err := r.store.Del(ctx, key); err != nil {
		return fmt.Errorf("del %s: %w", key, err)
	}
	return nil
}
