package chi

import (
	"context"
	"net/http"
	"time"

	gochi "github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/vecrank/internal/domain"
	dombatch "github.com/kailas-cloud/vecrank/internal/domain/batch"
	domchunk "github.com/kailas-cloud/vecrank/internal/domain/chunk"
	domindex "github.com/kailas-cloud/vecrank/internal/domain/index"
	"github.com/kailas-cloud/vecrank/internal/domain/search/request"
	"github.com/kailas-cloud/vecrank/internal/metrics"
	"github.com/kailas-cloud/vecrank/internal/pool"
	batchuc "github.com/kailas-cloud/vecrank/internal/usecase/batch"
	healthuc "github.com/kailas-cloud/vecrank/internal/usecase/health"
	"github.com/kailas-cloud/vecrank/internal/usecase/ratelimit"
	searchuc "github.com/kailas-cloud/vecrank/internal/usecase/search"
	"github.com/kailas-cloud/vecrank/internal/usecase/telemetry"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// SearchService runs searches.
type SearchService interface {
	Search(ctx context.Context, req *request.Request, requestID string) (*searchuc.Response, error)
}

// ChunkService ingests chunks.
type ChunkService interface {
	Upsert(ctx context.Context, id, content string, metadata map[string]any, vector []float32) (domchunk.Chunk, bool, error)
	Get(ctx context.Context, id string) (domchunk.Chunk, error)
	Delete(ctx context.Context, id string) error
}

// BatchService ingests or removes many chunks with per-item results.
type BatchService interface {
	Upsert(ctx context.Context, items []batchuc.Item) []dombatch.Result
	Delete(ctx context.Context, ids []string) []dombatch.Result
	MaxBatchSize() int
}

// IndexService administers the vector index.
type IndexService interface {
	Info(ctx context.Context) (domindex.State, error)
	Rebuild(ctx context.Context, kind domindex.Kind) (domindex.State, error)
	Recommend(corpusSize, updatesPerDay int) (domindex.Recommendation, error)
}

// HealthService reports component health.
type HealthService interface {
	Check(ctx context.Context) healthuc.Report
	Latest() (healthuc.Report, bool)
}

// StatsSource aggregates query telemetry.
type StatsSource interface {
	Summary() telemetry.Summary
}

// CacheClearer drops cached result pages.
type CacheClearer interface {
	Clear(ctx context.Context) (int, error)
}

// Deps are the services behind the HTTP API. Batch, Cache, PoolStats and Limiter may be nil.
type Deps struct {
	Search     SearchService
	Chunks     ChunkService
	Batch      BatchService
	Index      IndexService
	Health     HealthService
	Stats      StatsSource
	Cache      CacheClearer
	PoolStats  func() pool.Stats
	Limiter    ratelimit.Limiter
	APIKeys    []string
	Defaults   request.Defaults
	RetryAfter time.Duration
	Logger     *zap.Logger
}

// Server is the vecrank HTTP API.
type Server struct {
	deps          Deps
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.RetryAfter <= 0 {
		deps.RetryAfter = searchuc.DefaultRetryAfter
	}
	return &Server{
		deps:          deps,
		logger:        deps.Logger,
		errorHandlers: defaultErrorHandlers(deps.RetryAfter),
	}
}

// Handler builds the router with the full middleware stack.
func (s *Server) Handler() http.Handler {
	metrics.RegisterHTTPMetrics()

	r := gochi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(chiMiddleware.RealIP)
	r.Use(jsonRecoverer(s.logger))
	r.Use(wideEventMiddleware(s.logger))
	r.Use(metrics.Middleware())
	r.Use(BearerAuthMiddleware(s.deps.APIKeys))

	r.Get("/health", s.handleHealth)
	r.Get("/health/live", s.handleLive)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r gochi.Router) {
		r.Use(rateLimitMiddleware(s.deps.Limiter))
		r.Use(bodyLimit)

		r.Post("/search", s.handleSearch)
		r.Get("/stats", s.handleStats)

		if s.deps.Batch != nil {
			r.Post("/chunks/batch", s.handleBatchUpsert)
			r.Post("/chunks/batch/delete", s.handleBatchDelete)
		}
		r.Put("/chunks/{id}", s.handleUpsertChunk)
		r.Get("/chunks/{id}", s.handleGetChunk)
		r.Delete("/chunks/{id}", s.handleDeleteChunk)

		r.Route("/admin", func(r gochi.Router) {
			r.Post("/cache/clear", s.handleClearCache)
			r.Get("/index", s.handleIndexInfo)
			r.Post("/index/rebuild", s.handleIndexRebuild)
			r.Get("/index/recommend", s.handleIndexRecommend)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, domain.KindNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		render.Status(r, http.StatusMethodNotAllowed)
		render.JSON(w, r, errorResponse{ErrorKind: domain.KindValidation, Message: "method not allowed", RequestID: requestID(r)})
	})
	return r
}

func bodyLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		next.ServeHTTP(w, r)
	})
}
