package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/vecrank/internal/domain"
	"github.com/kailas-cloud/vecrank/internal/domain/search/request"
	"github.com/kailas-cloud/vecrank/internal/domain/search/result"
	"github.com/kailas-cloud/vecrank/internal/logger"
	"github.com/kailas-cloud/vecrank/internal/metrics"
	"github.com/kailas-cloud/vecrank/internal/repository/resultcache"
	"github.com/kailas-cloud/vecrank/internal/usecase/scoring"
	"github.com/kailas-cloud/vecrank/internal/usecase/telemetry"
)

// State is a step of one search run.
type State string

// Search states. Any state may move to StateFailed.
const (
	StateReceived    State = "received"
	StateEmbedding   State = "embedding"
	StateCacheLookup State = "cache_lookup"
	StateCacheHit    State = "cache_hit"
	StateBuildQuery  State = "build_query"
	StateExecute     State = "execute"
	StateScore       State = "score"
	StateCacheWrite  State = "cache_write"
	StateTelemetry   State = "telemetry"
	StateDone        State = "done"
	StateFailed      State = "failed"
)

// Default per-call timeouts.
const (
	DefaultEmbedTimeout = 5 * time.Second
	DefaultStoreTimeout = 2 * time.Second
	DefaultCacheTimeout = 50 * time.Millisecond
	DefaultRetryAfter   = time.Second
)

// Options configure the orchestrator.
type Options struct {
	Dimensions   int
	EmbedTimeout time.Duration
	StoreTimeout time.Duration
	CacheTimeout time.Duration
	RetryAfter   time.Duration
}

// Deps are the collaborators of a search run. Cache, Index and Stats may be nil.
type Deps struct {
	Embedder Embedder
	Repo     Repository
	Builder  QueryBuilder
	Ranker   Ranker
	Cache    Cache
	Index    IndexState
	Stats    StatsRecorder
	Logger   *zap.Logger
}

// Response is a completed search.
type Response struct {
	Results      []result.Result
	Count        int
	Total        int
	Query        string
	ResponseTime time.Duration
	FromCache    bool
	RequestID    string
}

// Service orchestrates embed, cache lookup, KNN, scoring and cache write.
type Service struct {
	deps Deps
	opts Options
	now  func() time.Time
}

// New creates a search orchestrator.
func New(deps Deps, opts Options) *Service {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if opts.EmbedTimeout <= 0 {
		opts.EmbedTimeout = DefaultEmbedTimeout
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = DefaultStoreTimeout
	}
	if opts.CacheTimeout <= 0 {
		opts.CacheTimeout = DefaultCacheTimeout
	}
	if opts.RetryAfter <= 0 {
		opts.RetryAfter = DefaultRetryAfter
	}
	return &Service{deps: deps, opts: opts, now: time.Now}
}

// run carries the state of one search.
type run struct {
	state     State
	start     time.Time
	embedTime time.Duration
	dbTime    time.Duration
	fromCache bool
	results   int
	canary    bool
}

func (r *run) to(s State) { r.state = s }

// Search executes req. requestID is echoed back.
func (s *Service) Search(ctx context.Context, req *request.Request, requestID string) (*Response, error) {
	return s.search(ctx, req, requestID, false)
}

// Canary runs req through embedding, KNN and scoring without reading or writing the result cache.
// It records no query stats and no request metrics.
func (s *Service) Canary(ctx context.Context, req *request.Request) (*Response, error) {
	return s.search(ctx, req, "", true)
}

func (s *Service) search(ctx context.Context, req *request.Request, requestID string, canary bool) (resp *Response, err error) {
	r := &run{state: StateReceived, start: s.now(), canary: canary}
	fingerprint := telemetry.Fingerprint(req.QueryText())
	log := logger.FromContext(ctx).With(zap.String("query_fingerprint", fingerprint))

	defer func() {
		failedAt := r.state
		if err != nil {
			r.to(StateFailed)
			log.Debug("Search failed", zap.String("state", string(failedAt)), zap.Error(err))
		}
		s.record(r, fingerprint, len(req.Filters()), err)
	}()

	r.to(StateEmbedding)
	vector, err := s.embed(ctx, r, req.QueryText())
	if err != nil {
		return nil, err
	}

	r.to(StateCacheLookup)
	var (
		key    string
		keyErr error
	)
	if !canary {
		key, keyErr = resultcache.Key(req)
		if keyErr != nil {
			s.degraded(log, "key", keyErr)
		}
	}
	if entry, ok := s.cacheGet(ctx, log, key, !canary && keyErr == nil); ok {
		r.to(StateCacheHit)
		r.fromCache = true
		r.results = len(entry.Results)
		r.to(StateTelemetry)
		r.to(StateDone)
		return s.response(r, req, entry.Results, entry.Total, requestID), nil
	}

	r.to(StateBuildQuery)
	ef := 0
	if s.deps.Index != nil {
		ef = s.deps.Index.EFRuntime()
	}
	q, err := s.deps.Builder.Build(req, vector, ef)
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	r.to(StateExecute)
	dbStart := s.now()
	var cands []scoring.Candidate
	err = s.call(ctx, domain.DependencyStore, s.opts.StoreTimeout, func(ctx context.Context) error {
		hits, err := s.deps.Repo.SearchKNN(ctx, q)
		if err != nil {
			return err
		}
		cands = make([]scoring.Candidate, len(hits))
		for i, h := range hits {
			cands[i] = scoring.Candidate{Chunk: h.Chunk, Similarity: h.Similarity}
		}
		return nil
	})
	r.dbTime = s.now().Sub(dbStart)
	metrics.SearchStageDuration.WithLabelValues(string(StateExecute)).Observe(r.dbTime.Seconds())
	if err != nil {
		return nil, storeError(err)
	}

	r.to(StateScore)
	cfg := req.Config()
	log.Debug("Ranking candidates",
		zap.Int("candidates", len(cands)),
		zap.Float64("weight_sum", cfg.Weights.Sum()),
	)
	ranked := s.deps.Ranker.Rank(cands, cfg, req.Caller(), s.now())
	total := len(ranked)
	page := paginate(ranked, req.Offset(), cfg.MaxResults)
	r.results = len(page)

	r.to(StateCacheWrite)
	if !canary && keyErr == nil {
		s.cacheSet(ctx, log, key, page, total)
	}

	r.to(StateTelemetry)
	r.to(StateDone)
	return s.response(r, req, page, total, requestID), nil
}

func (s *Service) response(r *run, req *request.Request, page []result.Result, total int, requestID string) *Response {
	if page == nil {
		page = []result.Result{}
	}
	return &Response{
		Results:      page,
		Count:        len(page),
		Total:        total,
		Query:        req.QueryText(),
		ResponseTime: s.now().Sub(r.start),
		FromCache:    r.fromCache,
		RequestID:    requestID,
	}
}

func (s *Service) embed(ctx context.Context, r *run, text string) ([]float32, error) {
	start := s.now()
	var vec []float32
	err := s.call(ctx, domain.DependencyEmbedding, s.opts.EmbedTimeout, func(ctx context.Context) error {
		res, err := s.deps.Embedder.Embed(ctx, text)
		if err != nil {
			return err
		}
		vec = res.Embedding
		return nil
	})
	r.embedTime = s.now().Sub(start)
	metrics.SearchStageDuration.WithLabelValues(string(StateEmbedding)).Observe(r.embedTime.Seconds())

	if err != nil {
		return nil, embedError(err)
	}
	if s.opts.Dimensions > 0 && len(vec) != s.opts.Dimensions {
		return nil, fmt.Errorf("%w: query embedding has %d dimensions, want %d",
			domain.ErrEmbeddingProviderError, len(vec), s.opts.Dimensions)
	}
	return vec, nil
}

// call runs fn under a per-dependency deadline. Only the child deadline maps to a timeout error;
// caller cancellation is returned as is.
func (s *Service) call(ctx context.Context, dep string, timeout time.Duration, fn func(context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := s.now()
	err := fn(cctx)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%s: %w", dep, ctx.Err())
	}
	if errors.Is(cctx.Err(), context.DeadlineExceeded) {
		return &domain.DependencyTimeoutError{
			Dependency: dep,
			Elapsed:    s.now().Sub(start),
			RetryAfter: s.opts.RetryAfter,
		}
	}
	return err
}

// cacheGet and cacheSet are the only places that touch the cache. Every cache error is a miss.
func (s *Service) cacheGet(ctx context.Context, log *zap.Logger, key string, enabled bool) (resultcache.Entry, bool) {
	if s.deps.Cache == nil || !enabled {
		return resultcache.Entry{}, false
	}
	var entry resultcache.Entry
	err := s.tryCache(ctx, func(ctx context.Context) error {
		var err error
		entry, err = s.deps.Cache.Get(ctx, key)
		return err
	})
	switch {
	case err == nil:
		metrics.CacheOperationsTotal.WithLabelValues("get", "hit").Inc()
		return entry, true
	case errors.Is(err, resultcache.ErrMiss):
		metrics.CacheOperationsTotal.WithLabelValues("get", "miss").Inc()
	default:
		metrics.CacheOperationsTotal.WithLabelValues("get", "error").Inc()
		s.degraded(log, "get", err)
	}
	return resultcache.Entry{}, false
}

func (s *Service) cacheSet(ctx context.Context, log *zap.Logger, key string, page []result.Result, total int) {
	if s.deps.Cache == nil {
		return
	}
	err := s.tryCache(ctx, func(ctx context.Context) error {
		return s.deps.Cache.Set(ctx, key, page, total)
	})
	if err != nil {
		metrics.CacheOperationsTotal.WithLabelValues("set", "error").Inc()
		s.degraded(log, "set", err)
		return
	}
	metrics.CacheOperationsTotal.WithLabelValues("set", "ok").Inc()
}

// tryCache bounds a cache call and recovers from a panicking backend.
func (s *Service) tryCache(ctx context.Context, fn func(context.Context) error) (err error) {
	cctx, cancel := context.WithTimeout(ctx, s.opts.CacheTimeout)
	defer cancel()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("cache panic: %v", p)
		}
	}()
	return fn(cctx)
}

func (s *Service) degraded(log *zap.Logger, op string, err error) {
	metrics.DegradedTotal.WithLabelValues(domain.DependencyCache).Inc()
	log.Warn("Partial degradation",
		zap.Bool("degraded", true),
		zap.String("dependency", domain.DependencyCache),
		zap.String("op", op),
		zap.Error(err),
	)
}

func (s *Service) record(r *run, fingerprint string, filters int, err error) {
	if r.canary {
		return
	}
	outcome := telemetry.OutcomeOK
	if err != nil {
		outcome = string(domain.Kind(err))
	}
	elapsed := s.now().Sub(r.start)

	cache := "miss"
	if r.fromCache {
		cache = "hit"
	}
	metrics.SearchRequestsTotal.WithLabelValues(outcome, cache).Inc()
	if err == nil {
		metrics.SearchResultsCount.Observe(float64(r.results))
	}

	if s.deps.Stats == nil {
		return
	}
	s.deps.Stats.Record(telemetry.Stat{
		Query:          fingerprint,
		ExecutionTime:  elapsed,
		EmbeddingTime:  r.embedTime,
		DBTime:         r.dbTime,
		ResultsCount:   r.results,
		FiltersApplied: filters,
		FromCache:      r.fromCache,
		Outcome:        outcome,
		At:             r.start,
	})
}

func paginate(ranked []result.Result, offset, limit int) []result.Result {
	if offset >= len(ranked) {
		return []result.Result{}
	}
	end := min(offset+limit, len(ranked))
	return ranked[offset:end]
}

// embedError tags provider failures so they classify as dependency errors.
func embedError(err error) error {
	switch {
	case errors.Is(err, domain.ErrDependencyTimeout),
		errors.Is(err, domain.ErrEmbeddingProviderError),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("vectorize query: %w", err)
	default:
		return fmt.Errorf("vectorize query: %w: %w", domain.ErrEmbeddingProviderError, err)
	}
}

// storeError tags store failures that carry no domain class of their own.
func storeError(err error) error {
	switch {
	case errors.Is(err, domain.ErrDependencyTimeout),
		errors.Is(err, domain.ErrResourceExhausted),
		errors.Is(err, domain.ErrIndexUnavailable),
		errors.Is(err, domain.ErrInvalidRequest),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("search knn: %w", err)
	default:
		return fmt.Errorf("search knn: %w: %w", domain.ErrStoreUnavailable, err)
	}
}
