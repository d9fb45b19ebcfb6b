// Package app is the composition root: it turns a Config into wired services.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/vecrank/internal/config"
	"github.com/kailas-cloud/vecrank/internal/db"
	"github.com/kailas-cloud/vecrank/internal/db/memory"
	dbRedis "github.com/kailas-cloud/vecrank/internal/db/redis"
	"github.com/kailas-cloud/vecrank/internal/domain"
	domindex "github.com/kailas-cloud/vecrank/internal/domain/index"
	"github.com/kailas-cloud/vecrank/internal/domain/schema"
	"github.com/kailas-cloud/vecrank/internal/domain/search/request"
	"github.com/kailas-cloud/vecrank/internal/metrics"
	"github.com/kailas-cloud/vecrank/internal/pool"
	chunkrepo "github.com/kailas-cloud/vecrank/internal/repository/chunk"
	"github.com/kailas-cloud/vecrank/internal/repository/embcache"
	indexrepo "github.com/kailas-cloud/vecrank/internal/repository/index"
	ratelimitrepo "github.com/kailas-cloud/vecrank/internal/repository/ratelimit"
	"github.com/kailas-cloud/vecrank/internal/repository/resultcache"
	searchrepo "github.com/kailas-cloud/vecrank/internal/repository/search"
	chiTransport "github.com/kailas-cloud/vecrank/internal/transport/chi"
	openaiEmb "github.com/kailas-cloud/vecrank/internal/transport/openai"
	batchuc "github.com/kailas-cloud/vecrank/internal/usecase/batch"
	chunkuc "github.com/kailas-cloud/vecrank/internal/usecase/chunk"
	embeddinguc "github.com/kailas-cloud/vecrank/internal/usecase/embedding"
	healthuc "github.com/kailas-cloud/vecrank/internal/usecase/health"
	indexuc "github.com/kailas-cloud/vecrank/internal/usecase/index"
	"github.com/kailas-cloud/vecrank/internal/usecase/query"
	"github.com/kailas-cloud/vecrank/internal/usecase/ratelimit"
	"github.com/kailas-cloud/vecrank/internal/usecase/scoring"
	searchuc "github.com/kailas-cloud/vecrank/internal/usecase/search"
	"github.com/kailas-cloud/vecrank/internal/usecase/telemetry"
)

// Options override parts of the wiring. Zero values build everything from Config.
type Options struct {
	// Store replaces the store selected by database.driver. The App does not close it.
	Store db.Store
	// Embedder replaces the OpenAI-compatible provider chain for queries and documents.
	Embedder domain.Embedder
	Logger   *zap.Logger
}

// App holds the wired services of one deployment.
type App struct {
	Index   *indexuc.Service
	Chunks  *chunkuc.Service
	Batch   *batchuc.Service
	Search  *searchuc.Service
	Health  *healthuc.Service
	Stats   *telemetry.Recorder
	Cache   *resultcache.Cache // nil when disabled
	Limiter ratelimit.Limiter  // nil when disabled

	cfg       config.Config
	defaults  request.Defaults
	store     db.Store
	ownsStore bool
	pool      *pool.Pool[db.Conn]
	logger    *zap.Logger
}

// New wires a deployment. cfg must have passed ApplyDefaults and Validate.
func New(ctx context.Context, cfg config.Config, opts Options) (_ *App, err error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &App{cfg: cfg, defaults: Defaults(cfg), logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.store = opts.Store
	if a.store == nil {
		if a.store, err = OpenStore(cfg.Database); err != nil {
			return nil, err
		}
		a.ownsStore = true
	}
	if err = a.store.WaitForReady(ctx, cfg.Database.ReadinessTimeout); err != nil {
		return nil, fmt.Errorf("database not ready: %w", err)
	}

	metrics.RegisterSearchMetrics()
	metrics.RegisterEmbeddingMetrics()

	sch, err := Schema(cfg.Schema)
	if err != nil {
		return nil, err
	}

	a.pool, err = pool.New(pool.Config{
		Resource:       domain.DependencyStore,
		Min:            cfg.Database.Pool.Min,
		Max:            cfg.Database.Pool.Max,
		AcquireTimeout: cfg.Database.Pool.AcquireTimeout,
		IdleTimeout:    cfg.Database.Pool.IdleTimeout,
		Discard:        searchrepo.DiscardConn,
	}, a.store.Dial, func(c db.Conn) { c.Close() })
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := a.pool.Warm(ctx); err != nil {
		logger.Warn("Pool warm-up incomplete", zap.Error(err))
	}
	registerCollector(metrics.NewPoolCollector(domain.DependencyStore, a.pool.Stats), logger)

	queryEmb, docEmb := opts.Embedder, opts.Embedder
	if opts.Embedder == nil {
		queryEmb = buildEmbedder(cfg.Embedding, cfg.Embedding.QueryInstruction, a.store, logger)
		docEmb = buildEmbedder(cfg.Embedding, cfg.Embedding.DocumentInstruction, a.store, logger)
	}
	logger.Info("Embedders created",
		zap.String("provider", cfg.Embedding.Provider),
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
	)

	kind, err := domindex.ParseKind(cfg.Index.Kind)
	if err != nil {
		return nil, fmt.Errorf("index kind: %w", err)
	}
	idxRepo := indexrepo.New(a.store, cfg.Index.Name, cfg.Index.Prefix, cfg.Embedding.Dimensions, sch, IndexParams(cfg.Index))
	a.Index = indexuc.New(idxRepo, kind, cfg.Index.FallbackToFlat, logger)
	state, err := a.Index.Ensure(ctx)
	if err != nil {
		return nil, fmt.Errorf("ensure index: %w", err)
	}
	logger.Info("Index ready",
		zap.String("name", state.Name),
		zap.String("requested", string(state.Requested)),
		zap.String("active", string(state.Active)),
		zap.Bool("fallback", state.Fallback),
	)

	// Interfaces stay nil rather than holding a nil *Cache.
	var searchCache searchuc.Cache
	var healthCache healthuc.Cache
	if cfg.Cache.Enabled {
		switch cfg.Cache.Driver {
		case "lru":
			a.Cache = resultcache.NewLRU(cfg.Cache.Size, cfg.Cache.TTL)
		default:
			a.Cache = resultcache.NewStore(a.store, cfg.Cache.TTL)
		}
		searchCache, healthCache = a.Cache, a.Cache
	}

	a.Stats = telemetry.NewRecorder(cfg.Telemetry.Window)
	a.Chunks = chunkuc.New(chunkrepo.New(a.store, cfg.Index.Prefix, sch), docEmb, cfg.Embedding.Dimensions)
	a.Batch = batchuc.New(a.Chunks)
	a.Search = searchuc.New(searchuc.Deps{
		Embedder: queryEmb,
		Repo:     searchrepo.New(a.pool, cfg.Index.Prefix),
		Builder: query.New(sch, query.Options{
			IndexName:     cfg.Index.Name,
			Oversample:    cfg.Scoring.Oversample,
			MaxCandidates: cfg.Scoring.MaxCandidates,
		}),
		Ranker: scoring.New(scoring.Params{
			PriorityCap:     cfg.Scoring.PriorityCap,
			PopularityCap:   cfg.Scoring.PopularityCap,
			RecencyHalfLife: cfg.Scoring.RecencyHalfLife,
		}),
		Cache:  searchCache,
		Index:  a.Index,
		Stats:  a.Stats,
		Logger: logger,
	}, searchuc.Options{
		Dimensions:   cfg.Embedding.Dimensions,
		EmbedTimeout: cfg.Search.EmbedTimeout,
		StoreTimeout: cfg.Search.StoreTimeout,
		CacheTimeout: cfg.Cache.Timeout,
	})

	a.Health = healthuc.New(a.store, &embeddingHealthChecker{embedder: queryEmb}, healthCache, a.Search,
		healthuc.Options{
			Timeout:     cfg.Health.CheckTimeout,
			CanaryQuery: cfg.Health.CanaryQuery,
			Defaults:    a.defaults,
			Logger:      logger,
		})

	if cfg.RateLimit.Enabled {
		a.Limiter, err = ratelimit.New(ratelimit.Config{
			Strategy:   cfg.RateLimit.Strategy,
			RPS:        cfg.RateLimit.RPS,
			Burst:      cfg.RateLimit.Burst,
			Window:     cfg.RateLimit.Window,
			Limit:      cfg.RateLimit.Limit,
			MaxCallers: cfg.RateLimit.MaxCallers,
		}, ratelimitrepo.New(a.store), logger)
		if err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	return a, nil
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config { return a.cfg }

// Defaults returns the request defaults applied at the boundary.
func (a *App) Defaults() request.Defaults { return a.defaults }

// PoolStats reports the store connection pool.
func (a *App) PoolStats() pool.Stats { return a.pool.Stats() }

// RunHealth refreshes the health report until ctx is done.
func (a *App) RunHealth(ctx context.Context) {
	a.Health.Run(ctx, a.cfg.Health.Interval)
}

// Handler builds the HTTP API over the wired services.
func (a *App) Handler() http.Handler {
	deps := chiTransport.Deps{
		Search:    a.Search,
		Chunks:    a.Chunks,
		Batch:     a.Batch,
		Index:     a.Index,
		Health:    a.Health,
		Stats:     a.Stats,
		PoolStats: a.pool.Stats,
		Limiter:   a.Limiter,
		APIKeys:   a.cfg.Auth.APIKeys,
		Defaults:  a.defaults,
		Logger:    a.logger,
	}
	if a.Cache != nil {
		deps.Cache = a.Cache
	}
	return chiTransport.NewServer(deps).Handler()
}

// Close releases the pool and, when the App opened it, the store.
func (a *App) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
	if a.ownsStore && a.store != nil {
		a.store.Close()
	}
}

// OpenStore creates the store selected by database.driver. valkey speaks the Redis protocol.
func OpenStore(cfg config.DatabaseConfig) (db.Store, error) {
	switch cfg.Driver {
	case "redis", "valkey":
		s, err := dbRedis.NewStore(dbRedis.Config{
			Addrs:      cfg.Addrs,
			Username:   cfg.Username,
			Password:   cfg.Password,
			DB:         cfg.DB,
			Standalone: cfg.Standalone,
		})
		if err != nil {
			return nil, fmt.Errorf("create %s store: %w", cfg.Driver, err)
		}
		return s, nil
	case "memory":
		return memory.NewStore(), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// Schema builds the metadata schema; empty lists fall back to the built-in vocabulary.
func Schema(cfg config.SchemaConfig) (*schema.Schema, error) {
	fields := schema.DefaultFields()
	if len(cfg.Fields) > 0 {
		fields = make([]schema.Field, 0, len(cfg.Fields))
		for _, f := range cfg.Fields {
			fields = append(fields, schema.Field{Name: f.Name, Type: schema.FieldType(f.Type)})
		}
	}
	filters := schema.DefaultFilters()
	if len(cfg.Filters) > 0 {
		filters = make([]schema.FilterKey, 0, len(cfg.Filters))
		for _, f := range cfg.Filters {
			filters = append(filters, schema.FilterKey{Key: f.Key, Field: f.Field, Op: schema.Operator(f.Op)})
		}
	}
	sch, err := schema.New(fields, filters, schema.UnknownPolicy(cfg.UnknownFilters))
	if err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}
	return sch, nil
}

// IndexParams maps index config onto the tuning knobs of every kind.
func IndexParams(cfg config.IndexConfig) domindex.Params {
	return domindex.Params{
		M:              cfg.HNSW.M,
		EFConstruction: cfg.HNSW.EFConstruction,
		EFRuntime:      cfg.HNSW.EFRuntime,
		NList:          cfg.IVF.NList,
		NProbe:         cfg.IVF.NProbe,
		BlockSize:      cfg.Flat.BlockSize,
	}
}

// Defaults maps scoring config onto request defaults. Weight pointers are set by ApplyDefaults.
func Defaults(cfg config.Config) request.Defaults {
	w := cfg.Scoring.Weights
	return request.Defaults{
		Weights: request.Weights{
			Similarity: deref(w.Similarity),
			Priority:   deref(w.Priority),
			Popularity: deref(w.Popularity),
			Recency:    deref(w.Recency),
			Department: deref(w.Department),
		},
		SimilarityThreshold: cfg.Scoring.SimilarityThreshold,
		MaxResults:          cfg.Scoring.DefaultMaxResults,
		MaxResultsCeiling:   cfg.Scoring.MaxResultsCeiling,
	}
}

func deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

// buildEmbedder assembles the decorator chain: OpenAI -> Cached -> Instrumented -> Instruction.
func buildEmbedder(cfg config.EmbeddingConfig, instruction string, store db.Store, logger *zap.Logger) domain.Embedder {
	base := openaiEmb.NewEmbedder(&openaiEmb.Config{
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		Model:      cfg.Model,
		Dimensions: cfg.Dimensions,
		Provider:   cfg.Provider,
		Timeout:    cfg.Timeout,
		Logger:     logger,
	})

	var embedder domain.Embedder = base
	if cfg.Cache.Enabled {
		embedder = embcache.New(base, store, cfg.Model, cfg.Dimensions, cfg.Cache.TTL, metrics.EmbeddingCacheTotal, logger)
	}

	embedder = embeddinguc.NewInstrumentedEmbedder(embedder, cfg.Provider, cfg.Model, cfg.Dimensions, logger)

	// outermost so the cache key includes the instruction
	if instruction != "" {
		return domain.NewInstructionEmbedder(embedder, instruction)
	}
	return embedder
}

// embeddingHealthChecker checks the embedder when it can report its own health.
type embeddingHealthChecker struct {
	embedder domain.Embedder
}

func (h *embeddingHealthChecker) HealthCheck(ctx context.Context) error {
	if hc, ok := h.embedder.(domain.HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("embedding health check: %w", err)
		}
	}
	return nil
}

// registerCollector tolerates a second App in the same process.
func registerCollector(c prometheus.Collector, logger *zap.Logger) {
	if err := prometheus.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			logger.Warn("Failed to register collector", zap.Error(err))
		}
	}
}
