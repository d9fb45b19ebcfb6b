package db

import "github.com/kailas-cloud/vecrank/internal/domain/search/filter"

// KNNQuery is the input for vector similarity search.
type KNNQuery struct {
	IndexName    string
	Filters      filter.Expression
	Vector       []float32
	K            int
	EFRuntime    int // HNSW query-time candidate list size; 0 keeps the index default
	ReturnFields []string
}

// SearchResult is the output of a search operation.
type SearchResult struct {
	Total   int
	Entries []SearchEntry
}

// SearchEntry is a single document hit from a search.
// Score is the similarity derived from cosine distance, clamped to [0,1].
type SearchEntry struct {
	Key    string
	Score  float64
	Fields map[string]string
}

// IndexInfo summarizes a live FT index.
type IndexInfo struct {
	Name     string
	NumDocs  int
	Indexing bool
}
