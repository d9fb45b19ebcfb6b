package vecrank

import "time"

// IndexKind names a vector index algorithm.
type IndexKind string

// Index kinds.
const (
	IndexHNSW IndexKind = "hnsw"
	IndexIVF  IndexKind = "ivf"
	IndexFlat IndexKind = "flat"
)

// Chunk is a unit of indexed content. A nil Vector is embedded from Content.
type Chunk struct {
	ID       string
	Content  string
	Metadata map[string]any
	Vector   []float32
}

// ChunkInfo is a stored chunk.
type ChunkInfo struct {
	ID         string
	Content    string
	Metadata   map[string]any
	Dimensions int
	Version    int
	UpdatedAt  time.Time
}

// BatchResult is the outcome of one item in a batch operation.
type BatchResult struct {
	ID      string
	OK      bool
	Version int // stored version after an upsert
	Err     error
}

// Query is a search request. Nil config pointers use the deployment defaults.
type Query struct {
	Text    string
	Filters map[string]any

	SimilarityWeight    *float64
	PriorityWeight      *float64
	PopularityWeight    *float64
	RecencyWeight       *float64
	DepartmentWeight    *float64
	SimilarityThreshold *float64
	MaxResults          *int

	// Department is the caller's department; it boosts matching chunks and never filters.
	Department string
	Offset     int
}

// Signal explains one term of a combined score.
type Signal struct {
	Name         string
	Value        float64
	Weight       float64
	Contribution float64
}

// Hit is a single ranked result.
type Hit struct {
	ID         string
	Content    string
	Metadata   map[string]any
	Similarity float64
	Score      float64
	Signals    []Signal
}

// SearchResponse is a page of ranked hits.
type SearchResponse struct {
	Hits      []Hit
	Count     int
	Total     int
	FromCache bool
	Took      time.Duration
	RequestID string
}

// IndexInfo describes the vector index.
type IndexInfo struct {
	Name      string
	Exists    bool
	Requested IndexKind
	Active    IndexKind
	Fallback  bool
	NumDocs   int
	Indexing  bool
}

// IndexRecommendation is the advised index kind for a workload.
type IndexRecommendation struct {
	Kind   IndexKind
	Reason string
}

// Stats summarizes recent searches.
type Stats struct {
	Total      int
	Hits       int
	Misses     int
	Errors     int
	HitRatio   float64
	AvgLatency time.Duration
	P50        time.Duration
	P95        time.Duration
	P99        time.Duration
	AvgResults float64
}
