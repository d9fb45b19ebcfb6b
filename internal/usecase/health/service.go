package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/vecrank/internal/domain"
	"github.com/kailas-cloud/vecrank/internal/domain/search/request"
	"github.com/kailas-cloud/vecrank/internal/metrics"
	"github.com/kailas-cloud/vecrank/internal/repository/resultcache"
)

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates only non-critical checks failed.
	Degraded Status = "degraded"
	// Unhealthy indicates a critical check failed.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// Check names.
const (
	CheckStore     = domain.DependencyStore
	CheckEmbedding = domain.DependencyEmbedding
	CheckCache     = domain.DependencyCache
	CheckSearch    = "search"
)

// Defaults.
const (
	DefaultTimeout     = 2 * time.Second
	DefaultInterval    = 30 * time.Second
	DefaultCanaryQuery = "health check"
)

// roundTripKey is written by the cache check. It shares the cache prefix so Clear removes it.
const roundTripKey = resultcache.KeyPrefix + "health-roundtrip"

// Check is one component's outcome.
type Check struct {
	Status  CheckResult   `json:"status"`
	Latency time.Duration `json:"latency"`
	Error   string        `json:"error,omitempty"`
}

// Report aggregates health check results.
type Report struct {
	Status    Status           `json:"status"`
	Healthy   bool             `json:"healthy"`
	Checks    map[string]Check `json:"checks"`
	CheckedAt time.Time        `json:"checked_at"`
}

// Options configure the monitor.
type Options struct {
	Timeout     time.Duration
	CanaryQuery string
	Defaults    request.Defaults
	Logger      *zap.Logger
}

// Service coordinates health checks.
type Service struct {
	db        DBPinger
	embedding EmbeddingChecker
	cache     Cache
	search    Searcher
	opts      Options
	now       func() time.Time

	mu     sync.RWMutex
	latest *Report
}

// New creates a Service. embedding, cache and search can be nil.
func New(db DBPinger, embedding EmbeddingChecker, cache Cache, searcher Searcher, opts Options) *Service {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.CanaryQuery == "" {
		opts.CanaryQuery = DefaultCanaryQuery
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Service{db: db, embedding: embedding, cache: cache, search: searcher, opts: opts, now: time.Now}
}

// Check runs all checks concurrently, each under its own timeout, and stores the report.
func (s *Service) Check(ctx context.Context) Report {
	type check struct {
		name string
		fn   func(ctx context.Context) error
	}
	checks := []check{{CheckStore, s.db.Ping}}
	if s.embedding != nil {
		checks = append(checks, check{CheckEmbedding, s.embedding.HealthCheck})
	}
	if s.cache != nil {
		checks = append(checks, check{CheckCache, s.cacheRoundTrip})
	}
	if s.search != nil {
		checks = append(checks, check{CheckSearch, s.canarySearch})
	}

	results := make([]Check, len(checks))
	var g errgroup.Group
	for i, ch := range checks {
		g.Go(func() error {
			results[i] = s.run(ctx, ch.name, ch.fn)
			return nil
		})
	}
	_ = g.Wait()

	report := Report{Status: Healthy, Healthy: true, Checks: make(map[string]Check, len(checks)), CheckedAt: s.now()}
	for i, ch := range checks {
		c := results[i]
		report.Checks[ch.name] = c

		up := 1.0
		if c.Status == CheckError {
			up = 0
			report.Healthy = false
			switch {
			case ch.name != CheckCache:
				report.Status = Unhealthy
			case report.Status == Healthy:
				report.Status = Degraded
			}
		}
		metrics.HealthCheckUp.WithLabelValues(ch.name).Set(up)
	}

	s.mu.Lock()
	s.latest = &report
	s.mu.Unlock()
	return report
}

// Latest returns the last stored report. ok is false before the first check.
func (s *Service) Latest() (Report, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return Report{}, false
	}
	return *s.latest, true
}

// Run checks immediately and then every interval until ctx is done.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		r := s.Check(ctx)
		if r.Status != Healthy {
			s.opts.Logger.Warn("Health check failed", zap.String("status", string(r.Status)))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// run bounds fn by the check timeout even when fn ignores its context.
// A check that overruns is left to finish in the background.
func (s *Service) run(ctx context.Context, name string, fn func(context.Context) error) Check {
	cctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	start := s.now()
	done := make(chan error, 1)
	go func() { done <- fn(cctx) }()

	var err error
	select {
	case err = <-done:
	case <-cctx.Done():
		err = cctx.Err()
	}
	c := Check{Status: CheckOK, Latency: s.now().Sub(start)}
	if err != nil {
		c.Status = CheckError
		c.Error = describe(err)
		s.opts.Logger.Debug("Health check error", zap.String("check", name), zap.Error(err))
	}
	return c
}

func (s *Service) cacheRoundTrip(ctx context.Context) error {
	if err := s.cache.Set(ctx, roundTripKey, nil, 0); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	if _, err := s.cache.Get(ctx, roundTripKey); err != nil {
		return fmt.Errorf("cache get: %w", err)
	}
	return nil
}

func (s *Service) canarySearch(ctx context.Context) error {
	req, err := request.New(s.opts.CanaryQuery, nil, request.Overrides{}, request.Caller{}, 0, s.opts.Defaults)
	if err != nil {
		return fmt.Errorf("canary request: %w", err)
	}
	if _, err := s.search.Canary(ctx, &req); err != nil {
		return fmt.Errorf("canary search: %w", err)
	}
	return nil
}

// describe reports the error class, never the raw error.
func describe(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return string(domain.Kind(err))
}
