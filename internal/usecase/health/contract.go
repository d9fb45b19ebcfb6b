package health

import (
	"context"

	"github.com/kailas-cloud/vecrank/internal/domain/search/request"
	"github.com/kailas-cloud/vecrank/internal/domain/search/result"
	"github.com/kailas-cloud/vecrank/internal/repository/resultcache"
	"github.com/kailas-cloud/vecrank/internal/usecase/search"
)

// DBPinger checks database availability.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// EmbeddingChecker checks embedding provider availability.
type EmbeddingChecker interface {
	HealthCheck(ctx context.Context) error
}

// Cache is checked with a set/get round trip.
type Cache interface {
	Get(ctx context.Context, key string) (resultcache.Entry, error)
	Set(ctx context.Context, key string, results []result.Result, total int) error
}

// Searcher runs the canary query through embedding, KNN and scoring, bypassing cache and stats.
type Searcher interface {
	Canary(ctx context.Context, req *request.Request) (*search.Response, error)
}
