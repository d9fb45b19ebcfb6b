package result

import "github.com/kailas-cloud/vecrank/internal/domain/chunk"

// Signal is one scoring term's contribution, kept for explanation.
type Signal struct {
	Name         string
	Value        float64 // normalized signal in [0,1]
	Weight       float64
	Contribution float64 // Weight * Value
}

// Result is a single ranked chunk.
type Result struct {
	id         string
	content    string
	metadata   chunk.Metadata
	similarity float64
	combined   float64
	signals    []Signal
}

// New creates a scored search result.
func New(
	id, content string, metadata chunk.Metadata,
	similarity, combined float64, signals []Signal,
) Result {
	return Result{
		id: id, content: content, metadata: metadata,
		similarity: similarity, combined: combined, signals: signals,
	}
}

// ID returns the chunk identifier.
func (r *Result) ID() string { return r.id }

// Content returns the chunk content.
func (r *Result) Content() string { return r.content }

// Metadata returns the chunk metadata.
func (r *Result) Metadata() chunk.Metadata { return r.metadata }

// Similarity returns the distance-derived similarity in [0,1].
func (r *Result) Similarity() float64 { return r.similarity }

// CombinedScore returns the composite ranking score.
func (r *Result) CombinedScore() float64 { return r.combined }

// Signals returns the per-term contributions in evaluation order.
func (r *Result) Signals() []Signal { return r.signals }
