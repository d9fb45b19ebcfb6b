package search

import (
	"context"
	"time"

	"github.com/kailas-cloud/vecrank/internal/db"
	"github.com/kailas-cloud/vecrank/internal/domain"
	"github.com/kailas-cloud/vecrank/internal/domain/search/request"
	"github.com/kailas-cloud/vecrank/internal/domain/search/result"
	"github.com/kailas-cloud/vecrank/internal/repository/resultcache"
	searchrepo "github.com/kailas-cloud/vecrank/internal/repository/search"
	"github.com/kailas-cloud/vecrank/internal/usecase/scoring"
	"github.com/kailas-cloud/vecrank/internal/usecase/telemetry"
)

// Repository runs KNN plans against the store.
type Repository interface {
	SearchKNN(ctx context.Context, q *db.KNNQuery) ([]searchrepo.Candidate, error)
}

// Embedder vectorizes text into embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}

// QueryBuilder compiles a request into a KNN plan.
type QueryBuilder interface {
	Build(req *request.Request, vector []float32, efRuntime int) (*db.KNNQuery, error)
}

// Ranker scores and orders candidates.
type Ranker interface {
	Rank(cands []scoring.Candidate, cfg request.Config, caller request.Caller, now time.Time) []result.Result
}

// Cache stores result pages. Any error is treated as a miss.
type Cache interface {
	Get(ctx context.Context, key string) (resultcache.Entry, error)
	Set(ctx context.Context, key string, results []result.Result, total int) error
}

// IndexState exposes query-time index parameters.
type IndexState interface {
	EFRuntime() int
}

// StatsRecorder receives one stat per search.
type StatsRecorder interface {
	Record(s telemetry.Stat)
}
