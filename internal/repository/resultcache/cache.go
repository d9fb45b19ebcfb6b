// Package resultcache stores final search pages keyed by a canonical request fingerprint.
package resultcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kailas-cloud/vecrank/internal/db"
	"github.com/kailas-cloud/vecrank/internal/domain/chunk"
	"github.com/kailas-cloud/vecrank/internal/domain/search/request"
	"github.com/kailas-cloud/vecrank/internal/domain/search/result"
)

// KeyPrefix namespaces result cache entries.
const KeyPrefix = "vecrank:cache:"

// ErrMiss is returned by Get when no live entry exists.
var ErrMiss = errors.New("cache miss")

// Entry is a cached page.
type Entry struct {
	Results  []result.Result
	Total    int
	CachedAt time.Time
}

type backend interface {
	get(ctx context.Context, key string) ([]byte, error)
	set(ctx context.Context, key string, value []byte) error
	clear(ctx context.Context) (int, error)
}

// Cache is a TTL-bound result cache. Entries are never invalidated on chunk writes;
// a hit may be up to TTL old.
type Cache struct {
	backend backend
	ttl     time.Duration
	now     func() time.Time
}

func newCache(b backend, ttl time.Duration) *Cache {
	return &Cache{backend: b, ttl: ttl, now: time.Now}
}

// TTL returns the entry lifetime, which is also the staleness window.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Key fingerprints everything that shapes a result page. Maps marshal with sorted keys,
// so filter order does not matter.
func Key(req *request.Request) (string, error) {
	data, err := json.Marshal(struct {
		QueryText string         `json:"query_text"`
		Filters   map[string]any `json:"filters"`
		Config    request.Config `json:"config"`
		Caller    request.Caller `json:"context"`
		Offset    int            `json:"offset"`
	}{req.QueryText(), req.Filters(), req.Config(), req.Caller(), req.Offset()})
	if err != nil {
		return "", fmt.Errorf("marshal cache key: %w", err)
	}
	h := sha256.Sum256(data)
	return KeyPrefix + hex.EncodeToString(h[:]), nil
}

// Get returns a live entry or ErrMiss.
func (c *Cache) Get(ctx context.Context, key string) (Entry, error) {
	data, err := c.backend.get(ctx, key)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return Entry{}, ErrMiss
		}
		return Entry{}, fmt.Errorf("cache get: %w", err)
	}
	return decode(data)
}

// Set stores a page with the cache TTL.
func (c *Cache) Set(ctx context.Context, key string, results []result.Result, total int) error {
	data, err := encode(results, total, c.now())
	if err != nil {
		return err
	}
	if err := c.backend.set(ctx, key, data); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Clear drops every entry and reports how many were removed.
func (c *Cache) Clear(ctx context.Context) (int, error) {
	n, err := c.backend.clear(ctx)
	if err != nil {
		return n, fmt.Errorf("cache clear: %w", err)
	}
	return n, nil
}

type signalDTO struct {
	Name         string  `json:"name"`
	Value        float64 `json:"value"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
}

type resultDTO struct {
	ID         string         `json:"id"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Similarity float64        `json:"similarity"`
	Combined   float64        `json:"combined_score"`
	Signals    []signalDTO    `json:"signals,omitempty"`
}

type entryDTO struct {
	Results  []resultDTO `json:"results"`
	Total    int         `json:"total"`
	CachedAt time.Time   `json:"cached_at"`
}

func encode(results []result.Result, total int, at time.Time) ([]byte, error) {
	e := entryDTO{Results: make([]resultDTO, 0, len(results)), Total: total, CachedAt: at}
	for i := range results {
		r := &results[i]
		sigs := make([]signalDTO, 0, len(r.Signals()))
		for _, s := range r.Signals() {
			sigs = append(sigs, signalDTO(s))
		}
		e.Results = append(e.Results, resultDTO{
			ID: r.ID(), Content: r.Content(), Metadata: r.Metadata(),
			Similarity: r.Similarity(), Combined: r.CombinedScore(), Signals: sigs,
		})
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal cache entry: %w", err)
	}
	return data, nil
}

func decode(data []byte) (Entry, error) {
	var e entryDTO
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, fmt.Errorf("unmarshal cache entry: %w", err)
	}
	out := Entry{Results: make([]result.Result, 0, len(e.Results)), Total: e.Total, CachedAt: e.CachedAt}
	for _, r := range e.Results {
		sigs := make([]result.Signal, 0, len(r.Signals))
		for _, s := range r.Signals {
			sigs = append(sigs, result.Signal(s))
		}
		out.Results = append(out.Results,
			result.New(r.ID, r.Content, chunk.Metadata(r.Metadata), r.Similarity, r.Combined, sigs))
	}
	return out, nil
}
