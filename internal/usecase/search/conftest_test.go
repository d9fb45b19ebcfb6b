package search

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kailas-cloud/vecrank/internal/db"
	"github.com/kailas-cloud/vecrank/internal/db/memory"
	"github.com/kailas-cloud/vecrank/internal/domain"
	domchunk "github.com/kailas-cloud/vecrank/internal/domain/chunk"
	domindex "github.com/kailas-cloud/vecrank/internal/domain/index"
	"github.com/kailas-cloud/vecrank/internal/domain/schema"
	"github.com/kailas-cloud/vecrank/internal/domain/search/request"
	"github.com/kailas-cloud/vecrank/internal/domain/search/result"
	"github.com/kailas-cloud/vecrank/internal/pool"
	chunkrepo "github.com/kailas-cloud/vecrank/internal/repository/chunk"
	indexrepo "github.com/kailas-cloud/vecrank/internal/repository/index"
	"github.com/kailas-cloud/vecrank/internal/repository/resultcache"
	searchrepo "github.com/kailas-cloud/vecrank/internal/repository/search"
	"github.com/kailas-cloud/vecrank/internal/usecase/query"
	"github.com/kailas-cloud/vecrank/internal/usecase/scoring"
	"github.com/kailas-cloud/vecrank/internal/usecase/telemetry"
)

const (
	indexName = "vecrank:idx"
	prefix    = "vecrank:chunk:"
)

var testDefaults = request.Defaults{
	Weights:           request.Weights{Similarity: 1},
	MaxResults:        10,
	MaxResultsCeiling: 100,
}

// --- Mocks ---

type mockEmbedder struct {
	vectors map[string][]float32
	err     error
	delay   time.Duration
	calls   atomic.Int32
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	m.calls.Add(1)
	if m.delay > 0 {
		select {
		case <-ctx.Done():
			return domain.EmbeddingResult{}, ctx.Err()
		case <-time.After(m.delay):
		}
	}
	if m.err != nil {
		return domain.EmbeddingResult{}, m.err
	}
	v, ok := m.vectors[text]
	if !ok {
		v = []float32{1, 0}
	}
	return domain.EmbeddingResult{Embedding: v, TotalTokens: 3}, nil
}

type mockCache struct {
	getFn func(ctx context.Context, key string) (resultcache.Entry, error)
	setFn func(ctx context.Context, key string, results []result.Result, total int) error
}

func (m *mockCache) Get(ctx context.Context, key string) (resultcache.Entry, error) {
	return m.getFn(ctx, key)
}

func (m *mockCache) Set(ctx context.Context, key string, results []result.Result, total int) error {
	return m.setFn(ctx, key, results, total)
}

type mockRepo struct {
	searchFn func(ctx context.Context, q *db.KNNQuery) ([]searchrepo.Candidate, error)
}

func (m *mockRepo) SearchKNN(ctx context.Context, q *db.KNNQuery) ([]searchrepo.Candidate, error) {
	return m.searchFn(ctx, q)
}

type recorder struct {
	mu    sync.Mutex
	stats []telemetry.Stat
}

func (r *recorder) Record(s telemetry.Stat) {
	r.mu.Lock()
	r.stats = append(r.stats, s)
	r.mu.Unlock()
}

func (r *recorder) all() []telemetry.Stat {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]telemetry.Stat(nil), r.stats...)
}

// slowConn adds store latency and tracks how many searches run at once.
type slowConn struct {
	db.Conn
	delay   time.Duration
	active  *atomic.Int32
	peak    *atomic.Int32
	counter *atomic.Int32
}

func (c *slowConn) SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
	n := c.active.Add(1)
	defer c.active.Add(-1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	c.counter.Add(1)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(c.delay):
	}
	return c.Conn.SearchKNN(ctx, q)
}

// --- Fixtures ---

type env struct {
	svc      *Service
	store    *memory.Store
	chunks   *chunkrepo.Repo
	embedder *mockEmbedder
	stats    *recorder
	clock    *clock
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type envOptions struct {
	cacheTTL  time.Duration
	noCache   bool
	poolMax   int
	dial      func(s *memory.Store) func(ctx context.Context) (db.Conn, error)
	opts      Options
	skipIndex bool
}

func newEnv(t *testing.T, o envOptions) *env {
	t.Helper()
	clk := &clock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	store := memory.NewStore().WithClock(clk.Now)
	sch := schema.Default()

	if !o.skipIndex {
		idx := indexrepo.New(store, indexName, prefix, 2, sch, domindex.Params{})
		if err := idx.Create(context.Background(), domindex.KindFlat); err != nil {
			t.Fatalf("create index: %v", err)
		}
	}

	poolMax := o.poolMax
	if poolMax == 0 {
		poolMax = 4
	}
	dial := store.Dial
	if o.dial != nil {
		dial = o.dial(store)
	}
	p, err := pool.New(pool.Config{
		Resource: "store", Max: poolMax, AcquireTimeout: time.Second, Discard: searchrepo.DiscardConn,
	}, dial, func(c db.Conn) { c.Close() })
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(p.Close)

	emb := &mockEmbedder{vectors: map[string][]float32{}}
	stats := &recorder{}

	deps := Deps{
		Embedder: emb,
		Repo:     searchrepo.New(p, prefix),
		Builder:  query.New(sch, query.Options{IndexName: indexName}),
		Ranker:   scoring.New(scoring.Params{}),
		Stats:    stats,
	}
	if !o.noCache {
		ttl := o.cacheTTL
		if ttl == 0 {
			ttl = time.Minute
		}
		deps.Cache = resultcache.NewStore(store, ttl)
	}

	svc := New(deps, o.opts)
	svc.now = clk.Now

	return &env{
		svc:      svc,
		store:    store,
		chunks:   chunkrepo.New(store, prefix, sch),
		embedder: emb,
		stats:    stats,
		clock:    clk,
	}
}

func (e *env) save(t *testing.T, id string, vec []float32, meta map[string]any) {
	t.Helper()
	c, err := domchunk.New(id, "content of "+id, meta)
	if err != nil {
		t.Fatalf("chunk.New: %v", err)
	}
	c = c.WithEmbedding(vec)
	c = c.Stamp(1, e.clock.Now())
	if err := e.chunks.Save(context.Background(), &c); err != nil {
		t.Fatalf("save: %v", err)
	}
}

func newRequest(t *testing.T, text string, filters map[string]any, o request.Overrides, caller request.Caller, offset int) request.Request {
	t.Helper()
	req, err := request.New(text, filters, o, caller, offset, testDefaults)
	if err != nil {
		t.Fatalf("request.New: %v", err)
	}
	return req
}

func ptr[T any](v T) *T { return &v }

func ids(rs []result.Result) []string {
	out := make([]string, len(rs))
	for i := range rs {
		out[i] = rs[i].ID()
	}
	return out
}

var errBoom = errors.New("boom")
