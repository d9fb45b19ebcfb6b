package resultcache

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/kailas-cloud/vecrank/internal/db/memory"
	"github.com/kailas-cloud/vecrank/internal/domain/chunk"
	"github.com/kailas-cloud/vecrank/internal/domain/search/request"
	"github.com/kailas-cloud/vecrank/internal/domain/search/result"
)

var defaults = request.Defaults{
	Weights:           request.Weights{Similarity: 0.6, Priority: 0.4},
	MaxResults:        10,
	MaxResultsCeiling: 100,
}

func mustRequest(t *testing.T, text string, filters map[string]any, offset int) request.Request {
	t.Helper()
	r, err := request.New(text, filters, request.Overrides{}, request.Caller{Department: "IT"}, offset, defaults)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	return r
}

func mustKey(t *testing.T, r request.Request) string {
	t.Helper()
	k, err := Key(&r)
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	return k
}

func sampleResults() []result.Result {
	return []result.Result{
		result.New("kb-1", "reset password", chunk.Metadata{"department": "IT"}, 0.9, 0.74,
			[]result.Signal{{Name: "similarity", Value: 0.9, Weight: 0.6, Contribution: 0.54}}),
		result.New("kb-2", "unlock account", nil, 0.8, 0.48, nil),
	}
}

func TestKey_Canonical(t *testing.T) {
	ka := mustKey(t, mustRequest(t, "password reset", map[string]any{"department": "IT", "min_priority": 3}, 0))
	kb := mustKey(t, mustRequest(t, "password reset", map[string]any{"min_priority": 3, "department": "IT"}, 0))
	if ka != kb {
		t.Errorf("filter order changed the key: %s vs %s", ka, kb)
	}
	if !strings.HasPrefix(ka, KeyPrefix) {
		t.Errorf("key %s lacks prefix %s", ka, KeyPrefix)
	}

	tests := []struct {
		name string
		req  request.Request
	}{
		{"offset", mustRequest(t, "password reset", map[string]any{"department": "IT", "min_priority": 3}, 10)},
		{"query text", mustRequest(t, "password reset!", nil, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if k := mustKey(t, tt.req); k == ka {
				t.Errorf("%s must change the key", tt.name)
			}
		})
	}
}

func TestStoreCache_RoundTripAndTTL(t *testing.T) {
	now := time.Unix(1000, 0)
	s := memory.NewStore().WithClock(func() time.Time { return now })
	c := NewStore(s, time.Second)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	if _, err := c.Get(ctx, "vecrank:cache:k"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected miss, got %v", err)
	}

	if err := c.Set(ctx, "vecrank:cache:k", sampleResults(), 7); err != nil {
		t.Fatalf("set: %v", err)
	}
	e, err := c.Get(ctx, "vecrank:cache:k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(e.Results) != 2 || e.Total != 7 {
		t.Fatalf("unexpected entry %+v", e)
	}
	first := e.Results[0]
	if first.ID() != "kb-1" || math.Abs(first.CombinedScore()-0.74) > 1e-12 {
		t.Errorf("unexpected first result %s %v", first.ID(), first.CombinedScore())
	}
	if first.Signals()[0].Name != "similarity" {
		t.Errorf("signals not kept: %+v", first.Signals())
	}
	if dep, _ := first.Metadata().String("department"); dep != "IT" {
		t.Errorf("department = %q", dep)
	}
	if !e.CachedAt.Equal(now) {
		t.Errorf("cached_at = %s, want %s", e.CachedAt, now)
	}

	now = now.Add(2 * time.Second)
	if _, err := c.Get(ctx, "vecrank:cache:k"); !errors.Is(err, ErrMiss) {
		t.Errorf("expected miss after TTL, got %v", err)
	}
}

func TestStoreCache_ClearOnlyCacheKeys(t *testing.T) {
	s := memory.NewStore()
	c := NewStore(s, time.Minute)
	ctx := context.Background()

	for _, k := range []string{KeyPrefix + "a", KeyPrefix + "b"} {
		if err := c.Set(ctx, k, nil, 0); err != nil {
			t.Fatalf("set %s: %v", k, err)
		}
	}
	if err := s.Set(ctx, "vecrank:idx:meta", []byte("{}")); err != nil {
		t.Fatalf("set meta: %v", err)
	}

	n, err := c.Clear(ctx)
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if n != 2 {
		t.Errorf("cleared %d keys, want 2", n)
	}
	if _, err := s.Get(ctx, "vecrank:idx:meta"); err != nil {
		t.Errorf("non-cache key removed: %v", err)
	}
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) ([]byte, error) { return nil, errors.New("timeout") }
func (failingStore) SetWithTTL(context.Context, string, []byte, time.Duration) error {
	return errors.New("timeout")
}
func (failingStore) Scan(context.Context, string) ([]string, error) { return nil, errors.New("timeout") }
func (failingStore) Del(context.Context, string) error { return errors.New("timeout") }

func TestStoreCache_BackendErrorsSurface(t *testing.T) {
	c := NewStore(failingStore{}, time.Minute)
	ctx := context.Background()

	_, err := c.Get(ctx, "k")
	if err == nil || errors.Is(err, ErrMiss) {
		t.Errorf("backend error must not read as a miss: %v", err)
	}
	if err := c.Set(ctx, "k", nil, 0); err == nil {
		t.Error("expected set error")
	}
	if _, err := c.Clear(ctx); err == nil {
		t.Error("expected clear error")
	}
}

func TestLRUCache(t *testing.T) {
	c := NewLRU(2, 50*time.Millisecond)
	ctx := context.Background()

	set := func(key string, results []result.Result) {
		t.Helper()
		if err := c.Set(ctx, key, results, len(results)); err != nil {
			t.Fatalf("set %s: %v", key, err)
		}
	}
	set("a", sampleResults())
	set("b", nil)
	set("c", nil) // evicts a

	if _, err := c.Get(ctx, "a"); !errors.Is(err, ErrMiss) {
		t.Errorf("a must be evicted, got %v", err)
	}
	if _, err := c.Get(ctx, "c"); err != nil {
		t.Errorf("c must be cached: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if _, err := c.Get(ctx, "c"); !errors.Is(err, ErrMiss) {
		t.Errorf("c must expire, got %v", err)
	}

	set("d", nil)
	n, err := c.Clear(ctx)
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if n < 1 {
		t.Errorf("cleared %d entries", n)
	}
	if _, err := c.Get(ctx, "d"); !errors.Is(err, ErrMiss) {
		t.Errorf("d must be cleared, got %v", err)
	}
}
