package request

import (
	"fmt"
	"math"

	"github.com/kailas-cloud/vecrank/internal/domain"
)

// Search parameter limits.
const (
	// MaxQueryLength is the maximum allowed search query length.
	MaxQueryLength = 4096
	// MaxOffset bounds pagination depth.
	MaxOffset = 1000
	// MaxFilters bounds the number of filter keys in one request.
	MaxFilters = 32
)

// Weights are the scoring term multipliers. They are unnormalized: the sum is not constrained.
type Weights struct {
	Similarity float64 `json:"similarity_weight"`
	Priority   float64 `json:"priority_weight"`
	Popularity float64 `json:"popularity_weight"`
	Recency    float64 `json:"recency_weight"`
	Department float64 `json:"department_weight"`
}

// Sum returns the total weight, used for logging only.
func (w Weights) Sum() float64 {
	return w.Similarity + w.Priority + w.Popularity + w.Recency + w.Department
}

// Config is the resolved per-request scoring configuration.
type Config struct {
	Weights             Weights `json:"weights"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
	MaxResults          int     `json:"max_results"`
}

// Overrides are caller-supplied config values; nil means "use the default".
type Overrides struct {
	SimilarityWeight    *float64
	PriorityWeight      *float64
	PopularityWeight    *float64
	RecencyWeight       *float64
	DepartmentWeight    *float64
	SimilarityThreshold *float64
	MaxResults          *int
}

// Defaults are the deployment-wide values applied once at the boundary.
type Defaults struct {
	Weights             Weights
	SimilarityThreshold float64
	MaxResults          int
	MaxResultsCeiling   int
}

// Caller is the caller context consulted by match bonuses. It never filters.
type Caller struct {
	Department string `json:"department,omitempty"`
}

// Request is a validated search request.
type Request struct {
	queryText string
	filters   map[string]any
	config    Config
	caller    Caller
	offset    int
}

// New validates a search request and resolves its config against defaults.
// Filter values are validated later against the metadata schema by the query builder.
func New(
	queryText string,
	filters map[string]any,
	overrides Overrides,
	caller Caller,
	offset int,
	defaults Defaults,
) (Request, error) {
	if queryText == "" {
		return Request{}, domain.NewValidationError("query_text", "must not be empty")
	}
	if len(queryText) > MaxQueryLength {
		return Request{}, domain.NewValidationError("query_text", fmt.Sprintf("too long (max %d bytes)", MaxQueryLength))
	}
	if len(filters) > MaxFilters {
		return Request{}, domain.NewValidationError("filters", fmt.Sprintf("too many filters (max %d)", MaxFilters))
	}
	if offset < 0 || offset > MaxOffset {
		return Request{}, domain.NewValidationError("offset", fmt.Sprintf("must be between 0 and %d", MaxOffset))
	}

	cfg, err := resolve(overrides, defaults)
	if err != nil {
		return Request{}, err
	}

	cp := make(map[string]any, len(filters))
	for k, v := range filters {
		cp[k] = v
	}

	return Request{
		queryText: queryText,
		filters:   cp,
		config:    cfg,
		caller:    caller,
		offset:    offset,
	}, nil
}

func resolve(o Overrides, d Defaults) (Config, error) {
	cfg := Config{
		Weights:             d.Weights,
		SimilarityThreshold: d.SimilarityThreshold,
		MaxResults:          d.MaxResults,
	}

	weights := []struct {
		field string
		in    *float64
		out   *float64
	}{
		{"config.similarity_weight", o.SimilarityWeight, &cfg.Weights.Similarity},
		{"config.priority_weight", o.PriorityWeight, &cfg.Weights.Priority},
		{"config.popularity_weight", o.PopularityWeight, &cfg.Weights.Popularity},
		{"config.recency_weight", o.RecencyWeight, &cfg.Weights.Recency},
		{"config.department_weight", o.DepartmentWeight, &cfg.Weights.Department},
	}
	for _, w := range weights {
		if w.in == nil {
			continue
		}
		if math.IsNaN(*w.in) || math.IsInf(*w.in, 0) || *w.in < 0 {
			return Config{}, domain.NewValidationError(w.field, "must be a non-negative finite number")
		}
		*w.out = *w.in
	}

	if o.SimilarityThreshold != nil {
		t := *o.SimilarityThreshold
		if math.IsNaN(t) || t < 0 || t > 1 {
			return Config{}, domain.NewValidationError("config.similarity_threshold", "must be between 0 and 1")
		}
		cfg.SimilarityThreshold = t
	}

	if o.MaxResults != nil {
		n := *o.MaxResults
		if n < 1 {
			return Config{}, domain.NewValidationError("config.max_results", "must be at least 1")
		}
		if n > d.MaxResultsCeiling {
			return Config{}, domain.NewValidationError("config.max_results",
				fmt.Sprintf("exceeds ceiling %d", d.MaxResultsCeiling))
		}
		cfg.MaxResults = n
	}

	return cfg, nil
}

// QueryText returns the free-text query.
func (r *Request) QueryText() string { return r.queryText }

// Filters returns the raw filter map keyed by declared filter keys.
func (r *Request) Filters() map[string]any { return r.filters }

// Config returns the resolved scoring configuration.
func (r *Request) Config() Config { return r.config }

// Caller returns the caller context.
func (r *Request) Caller() Caller { return r.caller }

// Offset returns the pagination offset.
func (r *Request) Offset() int { return r.offset }
