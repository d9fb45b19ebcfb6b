package chi

import (
	"time"

	"github.com/kailas-cloud/vecrank/internal/domain"
	dombatch "github.com/kailas-cloud/vecrank/internal/domain/batch"
	domchunk "github.com/kailas-cloud/vecrank/internal/domain/chunk"
	"github.com/kailas-cloud/vecrank/internal/domain/search/request"
	"github.com/kailas-cloud/vecrank/internal/pool"
	healthuc "github.com/kailas-cloud/vecrank/internal/usecase/health"
	searchuc "github.com/kailas-cloud/vecrank/internal/usecase/search"
	"github.com/kailas-cloud/vecrank/internal/usecase/telemetry"
)

type searchRequest struct {
	QueryText string         `json:"query_text"`
	Filters   map[string]any `json:"filters"`
	Config    configBody     `json:"config"`
	Context   callerBody     `json:"context"`
	Offset    int            `json:"offset"`
}

type configBody struct {
	SimilarityWeight    *float64 `json:"similarity_weight"`
	PriorityWeight      *float64 `json:"priority_weight"`
	PopularityWeight    *float64 `json:"popularity_weight"`
	RecencyWeight       *float64 `json:"recency_weight"`
	DepartmentWeight    *float64 `json:"department_weight"`
	SimilarityThreshold *float64 `json:"similarity_threshold"`
	MaxResults          *int     `json:"max_results"`
}

func (c configBody) overrides() request.Overrides {
	return request.Overrides(c)
}

type callerBody struct {
	Department string `json:"department"`
}

type chunkRequest struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
	Vector   []float32      `json:"vector,omitempty"`
}

type batchChunk struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
	Vector   []float32      `json:"vector,omitempty"`
}

type batchUpsertRequest struct {
	Chunks []batchChunk `json:"chunks"`
}

type batchDeleteRequest struct {
	IDs []string `json:"ids"`
}

type batchItemJSON struct {
	ID        string           `json:"id"`
	Status    string           `json:"status"`
	Version   int              `json:"version,omitempty"`
	ErrorKind domain.ErrorKind `json:"error_kind,omitempty"`
	Message   string           `json:"message,omitempty"`
}

type batchResponse struct {
	Items     []batchItemJSON `json:"items"`
	Succeeded int             `json:"succeeded"`
	Failed    int             `json:"failed"`
}

func batchResponseFrom(results []dombatch.Result) batchResponse {
	out := batchResponse{Items: make([]batchItemJSON, len(results))}
	out.Succeeded, out.Failed = dombatch.Tally(results)
	for i, res := range results {
		item := batchItemJSON{ID: res.ID(), Status: string(res.Status()), Version: res.Version()}
		if err := res.Err(); err != nil {
			item.ErrorKind = domain.Kind(err)
			item.Message = publicMessage(err)
		}
		out.Items[i] = item
	}
	return out
}

type rebuildRequest struct {
	Kind string `json:"kind"`
}

type chunkJSON struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type signalJSON struct {
	Name         string  `json:"name"`
	Value        float64 `json:"value"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
}

type resultJSON struct {
	Chunk         chunkJSON    `json:"chunk"`
	Similarity    float64      `json:"similarity"`
	CombinedScore float64      `json:"combined_score"`
	Signals       []signalJSON `json:"signals"`
}

// searchResponse reports response_time in milliseconds.
type searchResponse struct {
	Results      []resultJSON `json:"results"`
	Count        int          `json:"count"`
	Total        int          `json:"total"`
	Query        string       `json:"query"`
	ResponseTime float64      `json:"response_time"`
	FromCache    bool         `json:"from_cache"`
	RequestID    string       `json:"request_id"`
}

func searchResponseFrom(resp *searchuc.Response) searchResponse {
	out := searchResponse{
		Results:      make([]resultJSON, 0, len(resp.Results)),
		Count:        resp.Count,
		Total:        resp.Total,
		Query:        resp.Query,
		ResponseTime: millis(resp.ResponseTime),
		FromCache:    resp.FromCache,
		RequestID:    resp.RequestID,
	}
	for i := range resp.Results {
		r := &resp.Results[i]
		sigs := make([]signalJSON, 0, len(r.Signals()))
		for _, sg := range r.Signals() {
			sigs = append(sigs, signalJSON(sg))
		}
		out.Results = append(out.Results, resultJSON{
			Chunk:         chunkJSON{ID: r.ID(), Content: r.Content(), Metadata: r.Metadata()},
			Similarity:    r.Similarity(),
			CombinedScore: r.CombinedScore(),
			Signals:       sigs,
		})
	}
	return out
}

type chunkResponse struct {
	ID         string         `json:"id"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Dimensions int            `json:"dimensions"`
	Version    int            `json:"version"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

func chunkResponseFrom(c *domchunk.Chunk) chunkResponse {
	return chunkResponse{
		ID:         c.ID(),
		Content:    c.Content(),
		Metadata:   c.Metadata(),
		Dimensions: len(c.Embedding()),
		Version:    c.Version(),
		UpdatedAt:  c.UpdatedAt(),
	}
}

type checkJSON struct {
	Status    string  `json:"status"`
	LatencyMS float64 `json:"latency_ms"`
	Error     string  `json:"error,omitempty"`
}

type healthResponse struct {
	Status    string               `json:"status"`
	Healthy   bool                 `json:"healthy"`
	Checks    map[string]checkJSON `json:"checks"`
	CheckedAt time.Time            `json:"checked_at"`
}

func healthResponseFrom(r healthuc.Report) healthResponse {
	out := healthResponse{
		Status:    string(r.Status),
		Healthy:   r.Healthy,
		Checks:    make(map[string]checkJSON, len(r.Checks)),
		CheckedAt: r.CheckedAt,
	}
	for name, c := range r.Checks {
		out.Checks[name] = checkJSON{Status: string(c.Status), LatencyMS: millis(c.Latency), Error: c.Error}
	}
	return out
}

type summaryJSON struct {
	Total        int     `json:"total"`
	Hits         int     `json:"hits"`
	Misses       int     `json:"misses"`
	Errors       int     `json:"errors"`
	HitRatio     float64 `json:"hit_ratio"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
	P50MS        float64 `json:"p50_ms"`
	P95MS        float64 `json:"p95_ms"`
	P99MS        float64 `json:"p99_ms"`
	AvgResults   float64 `json:"avg_results"`
}

type statsResponse struct {
	Summary summaryJSON `json:"summary"`
	Pool    *pool.Stats `json:"pool,omitempty"`
}

func summaryFrom(s telemetry.Summary) summaryJSON {
	return summaryJSON{
		Total:        s.Total,
		Hits:         s.Hits,
		Misses:       s.Misses,
		Errors:       s.Errors,
		HitRatio:     s.HitRatio,
		AvgLatencyMS: millis(s.AvgLatency),
		P50MS:        millis(s.P50),
		P95MS:        millis(s.P95),
		P99MS:        millis(s.P99),
		AvgResults:   s.AvgResults,
	}
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
