package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kailas-cloud/vecrank/internal/domain"
	"github.com/kailas-cloud/vecrank/internal/domain/search/request"
	"github.com/kailas-cloud/vecrank/internal/domain/search/result"
	"github.com/kailas-cloud/vecrank/internal/repository/resultcache"
	"github.com/kailas-cloud/vecrank/internal/usecase/search"
)

// --- Mocks ---

type mockDBPinger struct {
	pingFn func(ctx context.Context) error
}

func (m *mockDBPinger) Ping(ctx context.Context) error { return m.pingFn(ctx) }

type mockEmbeddingChecker struct {
	healthCheckFn func(ctx context.Context) error
}

func (m *mockEmbeddingChecker) HealthCheck(ctx context.Context) error { return m.healthCheckFn(ctx) }

type mockCache struct {
	setErr error
	getErr error
	keys   []string
}

func (m *mockCache) Get(_ context.Context, key string) (resultcache.Entry, error) {
	m.keys = append(m.keys, key)
	return resultcache.Entry{}, m.getErr
}

func (m *mockCache) Set(_ context.Context, key string, _ []result.Result, _ int) error {
	m.keys = append(m.keys, key)
	return m.setErr
}

type mockSearcher struct {
	searchFn func(ctx context.Context, req *request.Request) error
	calls    atomic.Int32
}

func (m *mockSearcher) Canary(ctx context.Context, req *request.Request) (*search.Response, error) {
	m.calls.Add(1)
	if err := m.searchFn(ctx, req); err != nil {
		return nil, err
	}
	return &search.Response{}, nil
}

func ok(context.Context) error { return nil }

var defaults = request.Defaults{Weights: request.Weights{Similarity: 1}, MaxResults: 10, MaxResultsCeiling: 100}

func newService(db, emb func(context.Context) error, cache *mockCache, searcher *mockSearcher) *Service {
	var c Cache
	if cache != nil {
		c = cache
	}
	var s Searcher
	if searcher != nil {
		s = searcher
	}
	return New(&mockDBPinger{pingFn: db}, &mockEmbeddingChecker{healthCheckFn: emb}, c, s, Options{Timeout: 50 * time.Millisecond, Defaults: defaults})
}

func okSearcher() *mockSearcher {
	return &mockSearcher{searchFn: func(context.Context, *request.Request) error { return nil }}
}

// --- Tests ---

func TestCheck_AllHealthy(t *testing.T) {
	cache := &mockCache{}
	searcher := okSearcher()
	svc := newService(ok, ok, cache, searcher)

	r := svc.Check(context.Background())
	if r.Status != Healthy || !r.Healthy {
		t.Fatalf("expected healthy, got %s", r.Status)
	}
	if len(r.Checks) != 4 {
		t.Fatalf("expected 4 checks, got %d", len(r.Checks))
	}
	for name, c := range r.Checks {
		if c.Status != CheckOK {
			t.Errorf("check %s: expected ok, got %s", name, c.Status)
		}
	}
	if len(cache.keys) != 2 || cache.keys[0] != roundTripKey || cache.keys[1] != roundTripKey {
		t.Errorf("expected set and get of the round trip key, got %v", cache.keys)
	}
	if searcher.calls.Load() != 1 {
		t.Errorf("expected one canary search, got %d", searcher.calls.Load())
	}
}

func TestCheck_CanaryUsesConfiguredQuery(t *testing.T) {
	var got string
	searcher := &mockSearcher{searchFn: func(_ context.Context, req *request.Request) error {
		got = req.QueryText()
		return nil
	}}
	svc := New(&mockDBPinger{pingFn: ok}, nil, nil, searcher, Options{CanaryQuery: "reset password", Defaults: defaults})

	svc.Check(context.Background())
	if got != "reset password" {
		t.Errorf("expected canary query text, got %q", got)
	}
}

func TestCheck_CacheFailureDegrades(t *testing.T) {
	svc := newService(ok, ok, &mockCache{getErr: resultcache.ErrMiss}, okSearcher())

	r := svc.Check(context.Background())
	if r.Status != Degraded {
		t.Fatalf("expected degraded, got %s", r.Status)
	}
	if r.Healthy {
		t.Error("degraded report must not be healthy")
	}
	if r.Checks[CheckCache].Status != CheckError {
		t.Errorf("expected cache error, got %s", r.Checks[CheckCache].Status)
	}
}

func TestCheck_CriticalFailures(t *testing.T) {
	fail := func(context.Context) error { return domain.ErrStoreUnavailable }

	tests := []struct {
		name     string
		db, emb  func(context.Context) error
		searcher *mockSearcher
		failing  string
	}{
		{"store down", fail, ok, okSearcher(), CheckStore},
		{"embedding down", ok, func(context.Context) error { return domain.ErrEmbeddingProviderError }, okSearcher(), CheckEmbedding},
		{"canary fails", ok, ok, &mockSearcher{searchFn: func(context.Context, *request.Request) error {
			return domain.ErrIndexUnavailable
		}}, CheckSearch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newService(tt.db, tt.emb, &mockCache{setErr: errors.New("down")}, tt.searcher)

			r := svc.Check(context.Background())
			if r.Status != Unhealthy {
				t.Fatalf("expected error status, got %s", r.Status)
			}
			if r.Checks[tt.failing].Status != CheckError {
				t.Errorf("expected %s to fail", tt.failing)
			}
		})
	}
}

func TestCheck_ErrorDescribesKindOnly(t *testing.T) {
	db := func(context.Context) error { return errors.New("dial tcp 10.0.0.7:6379: connection refused") }
	svc := newService(db, ok, nil, nil)

	r := svc.Check(context.Background())
	if got := r.Checks[CheckStore].Error; got != string(domain.KindInternal) {
		t.Errorf("expected error kind only, got %q", got)
	}
}

func TestCheck_PerCheckTimeout(t *testing.T) {
	slow := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	svc := newService(ok, slow, nil, nil)

	start := time.Now()
	r := svc.Check(context.Background())
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("check not bounded by timeout: %s", elapsed)
	}
	c := r.Checks[CheckEmbedding]
	if c.Status != CheckError || c.Error != "timeout" {
		t.Errorf("expected embedding timeout, got %+v", c)
	}
	if r.Checks[CheckStore].Status != CheckOK {
		t.Error("store check must not be affected by embedding timeout")
	}
}

func TestCheck_TimeoutWhenCheckIgnoresContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	stuck := func(context.Context) error {
		<-release
		return nil
	}
	svc := newService(ok, stuck, nil, nil)

	start := time.Now()
	r := svc.Check(context.Background())
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("stuck check blocked the report: %s", elapsed)
	}
	if c := r.Checks[CheckEmbedding]; c.Status != CheckError || c.Error != "timeout" {
		t.Errorf("expected embedding timeout, got %+v", c)
	}
	if r.Checks[CheckStore].Status != CheckOK || r.Status != Unhealthy {
		t.Errorf("expected store ok and overall error, got %+v", r)
	}
}

func TestCheck_RunsConcurrently(t *testing.T) {
	sleep := func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(30 * time.Millisecond):
			return nil
		}
	}
	svc := New(&mockDBPinger{pingFn: sleep}, &mockEmbeddingChecker{healthCheckFn: sleep}, nil,
		&mockSearcher{searchFn: func(ctx context.Context, _ *request.Request) error { return sleep(ctx) }},
		Options{Timeout: time.Second, Defaults: defaults})

	start := time.Now()
	r := svc.Check(context.Background())
	if r.Status != Healthy {
		t.Fatalf("expected healthy, got %s", r.Status)
	}
	if elapsed := time.Since(start); elapsed >= 85*time.Millisecond {
		t.Errorf("checks ran sequentially: %s", elapsed)
	}
}

func TestLatest(t *testing.T) {
	svc := newService(ok, ok, nil, nil)

	if _, found := svc.Latest(); found {
		t.Fatal("expected no report before the first check")
	}
	svc.Check(context.Background())
	r, found := svc.Latest()
	if !found || r.Status != Healthy {
		t.Errorf("expected stored healthy report, got %v %s", found, r.Status)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	var pings atomic.Int32
	db := func(context.Context) error {
		pings.Add(1)
		return nil
	}
	svc := newService(db, ok, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	time.Sleep(55 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	if n := pings.Load(); n < 2 {
		t.Errorf("expected periodic checks, got %d", n)
	}
	if _, found := svc.Latest(); !found {
		t.Error("expected a stored report")
	}
}
