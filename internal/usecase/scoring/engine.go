package scoring

import (
	"cmp"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/kailas-cloud/vecrank/internal/domain/chunk"
	"github.com/kailas-cloud/vecrank/internal/domain/search/request"
	"github.com/kailas-cloud/vecrank/internal/domain/search/result"
)

// Signal defaults.
const (
	DefaultPriorityCap     = 5.0
	DefaultPopularityCap   = 1000.0
	DefaultRecencyHalfLife = 720 * time.Hour
)

// Metadata keys read by the built-in signals.
const (
	PriorityField   = "priority"
	ViewsField      = "views"
	UpdatedAtField  = "updated_at"
	DepartmentField = "department"
)

// Candidate is a store hit awaiting scoring.
type Candidate struct {
	Chunk      chunk.Chunk
	Similarity float64
}

// Input is what a signal sees for one candidate.
type Input struct {
	Chunk      *chunk.Chunk
	Similarity float64
	Caller     request.Caller
	Now        time.Time
}

// Term is one weighted signal. Signal must return a value in [0,1].
type Term struct {
	Name   string
	Weight func(w request.Weights) float64
	Signal func(in Input) float64
}

// Params tune the built-in signals.
type Params struct {
	PriorityCap     float64
	PopularityCap   float64
	RecencyHalfLife time.Duration
}

// Engine combines terms into a composite score. It does no I/O.
type Engine struct {
	terms []Term
}

// New creates an Engine with the built-in terms in fixed order.
func New(p Params) *Engine {
	if p.PriorityCap <= 0 {
		p.PriorityCap = DefaultPriorityCap
	}
	if p.PopularityCap <= 0 {
		p.PopularityCap = DefaultPopularityCap
	}
	if p.RecencyHalfLife <= 0 {
		p.RecencyHalfLife = DefaultRecencyHalfLife
	}

	return &Engine{terms: []Term{
		{
			Name:   "similarity",
			Weight: func(w request.Weights) float64 { return w.Similarity },
			Signal: func(in Input) float64 { return clamp01(in.Similarity) },
		},
		{
			Name:   "priority",
			Weight: func(w request.Weights) float64 { return w.Priority },
			Signal: priority(p.PriorityCap),
		},
		{
			Name:   "popularity",
			Weight: func(w request.Weights) float64 { return w.Popularity },
			Signal: popularity(p.PopularityCap),
		},
		{
			Name:   "recency",
			Weight: func(w request.Weights) float64 { return w.Recency },
			Signal: recency(p.RecencyHalfLife),
		},
		{
			Name:   "department",
			Weight: func(w request.Weights) float64 { return w.Department },
			Signal: department,
		},
	}}
}

// WithTerm returns a copy of the engine with t appended.
func (e *Engine) WithTerm(t Term) *Engine {
	terms := make([]Term, len(e.terms), len(e.terms)+1)
	copy(terms, e.terms)
	return &Engine{terms: append(terms, t)}
}

// Score computes the combined score and per-term breakdown for one candidate.
func (e *Engine) Score(c *Candidate, w request.Weights, caller request.Caller, now time.Time) result.Result {
	in := Input{Chunk: &c.Chunk, Similarity: clamp01(c.Similarity), Caller: caller, Now: now}

	signals := make([]result.Signal, 0, len(e.terms))
	var combined float64
	for _, t := range e.terms {
		weight := t.Weight(w)
		value := clamp01(t.Signal(in))
		contribution := weight * value
		combined += contribution
		signals = append(signals, result.Signal{
			Name: t.Name, Value: value, Weight: weight, Contribution: contribution,
		})
	}

	return result.New(
		c.Chunk.ID(), c.Chunk.Content(), c.Chunk.Metadata(),
		in.Similarity, combined, signals,
	)
}

// Rank drops candidates below the similarity threshold, scores the rest and
// orders them by combined score, then similarity, then id.
func (e *Engine) Rank(cands []Candidate, cfg request.Config, caller request.Caller, now time.Time) []result.Result {
	out := make([]result.Result, 0, len(cands))
	for i := range cands {
		if clamp01(cands[i].Similarity) < cfg.SimilarityThreshold {
			continue
		}
		out = append(out, e.Score(&cands[i], cfg.Weights, caller, now))
	}

	slices.SortFunc(out, func(a, b result.Result) int {
		if c := cmp.Compare(b.CombinedScore(), a.CombinedScore()); c != 0 {
			return c
		}
		if c := cmp.Compare(b.Similarity(), a.Similarity()); c != 0 {
			return c
		}
		return strings.Compare(a.ID(), b.ID())
	})
	return out
}

func priority(limit float64) func(Input) float64 {
	return func(in Input) float64 {
		p, ok := in.Chunk.Metadata().Number(PriorityField)
		if !ok || p <= 0 {
			return 0
		}
		return math.Min(p/limit, 1)
	}
}

func popularity(limit float64) func(Input) float64 {
	denom := math.Log1p(limit)
	return func(in Input) float64 {
		views, ok := in.Chunk.Metadata().Number(ViewsField)
		if !ok || views <= 0 {
			return 0
		}
		return math.Min(math.Log1p(views)/denom, 1)
	}
}

func recency(halfLife time.Duration) func(Input) float64 {
	return func(in Input) float64 {
		updated, ok := in.Chunk.Metadata().Time(UpdatedAtField)
		if !ok || updated.IsZero() {
			return 0
		}
		age := in.Now.Sub(updated)
		if age <= 0 {
			return 1
		}
		return math.Pow(0.5, float64(age)/float64(halfLife))
	}
}

func department(in Input) float64 {
	if in.Caller.Department == "" {
		return 0
	}
	d, ok := in.Chunk.Metadata().String(DepartmentField)
	if !ok || !strings.EqualFold(d, in.Caller.Department) {
		return 0
	}
	return 1
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v <= 0:
		return 0
	case v >= 1:
		return 1
	default:
		return v
	}
}
