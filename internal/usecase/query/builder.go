package query

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/kailas-cloud/vecrank/internal/db"
	"github.com/kailas-cloud/vecrank/internal/domain"
	"github.com/kailas-cloud/vecrank/internal/domain/chunk"
	"github.com/kailas-cloud/vecrank/internal/domain/schema"
	"github.com/kailas-cloud/vecrank/internal/domain/search/filter"
	"github.com/kailas-cloud/vecrank/internal/domain/search/request"
	chunkrepo "github.com/kailas-cloud/vecrank/internal/repository/chunk"
)

// Defaults for candidate pool sizing.
const (
	DefaultOversample    = 3
	DefaultMaxCandidates = 1000
)

// Options configure candidate pool sizing.
type Options struct {
	IndexName     string
	Oversample    int
	MaxCandidates int
}

// Builder compiles validated search requests into store KNN queries.
type Builder struct {
	schema *schema.Schema
	opts   Options
}

// New creates a Builder for the given schema.
func New(sch *schema.Schema, opts Options) *Builder {
	if opts.Oversample <= 0 {
		opts.Oversample = DefaultOversample
	}
	if opts.MaxCandidates <= 0 {
		opts.MaxCandidates = DefaultMaxCandidates
	}
	return &Builder{schema: sch, opts: opts}
}

// Build compiles req and its query vector into a KNN query.
// efRuntime is passed through only when positive.
func (b *Builder) Build(req *request.Request, vector []float32, efRuntime int) (*db.KNNQuery, error) {
	if len(vector) == 0 {
		return nil, domain.NewValidationError("vector", "query vector is empty")
	}

	expr, err := b.Filters(req.Filters())
	if err != nil {
		return nil, err
	}

	return &db.KNNQuery{
		IndexName:    b.opts.IndexName,
		Filters:      expr,
		Vector:       vector,
		K:            b.K(req.Offset(), req.Config().MaxResults),
		EFRuntime:    max(efRuntime, 0),
		ReturnFields: chunkrepo.ReturnFields,
	}, nil
}

// K sizes the candidate pool so re-ranking and the threshold work on more than one page.
func (b *Builder) K(offset, maxResults int) int {
	page := offset + maxResults
	k := page * b.opts.Oversample
	limit := max(b.opts.MaxCandidates, page)
	return min(k, limit)
}

// Filters folds raw request filters into an expression, in sorted key order.
func (b *Builder) Filters(raw map[string]any) (filter.Expression, error) {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	preds := make([]filter.Predicate, 0, len(keys))
	for _, key := range keys {
		fk, ok := b.schema.Filter(key)
		if !ok {
			if b.schema.UnknownPolicy() == schema.UnknownIgnore {
				continue
			}
			return filter.Expression{}, domain.NewValidationError("filters."+key, "unknown filter key")
		}
		f, _ := b.schema.Field(fk.Field)

		p, err := compile(fk, f, raw[key])
		if err != nil {
			return filter.Expression{}, domain.NewValidationError("filters."+key, err.Error())
		}
		preds = append(preds, p)
	}

	expr, err := filter.NewExpression(preds...)
	if err != nil {
		return filter.Expression{}, domain.NewValidationError("filters", err.Error())
	}
	return expr, nil
}

func compile(fk schema.FilterKey, f schema.Field, v any) (filter.Predicate, error) {
	switch fk.Op {
	case schema.OpEquals:
		if f.Type == schema.Numeric {
			n, err := number(v)
			if err != nil {
				return filter.Predicate{}, err
			}
			return filter.NewRange(f.Name, mustRange(nil, &n, nil, &n))
		}
		s, ok := v.(string)
		if !ok || s == "" {
			return filter.Predicate{}, fmt.Errorf("must be a non-empty string")
		}
		return filter.NewEquals(f.Name, s)

	case schema.OpContainsAll, schema.OpContainsAny:
		values, err := stringList(v)
		if err != nil {
			return filter.Predicate{}, err
		}
		if fk.Op == schema.OpContainsAll {
			return filter.NewContainsAll(f.Name, values)
		}
		return filter.NewContainsAny(f.Name, values)

	case schema.OpAtLeast, schema.OpAtMost:
		n, err := number(v)
		if err != nil {
			return filter.Predicate{}, err
		}
		if fk.Op == schema.OpAtLeast {
			return filter.NewAtLeast(f.Name, n)
		}
		return filter.NewAtMost(f.Name, n)

	case schema.OpAfter, schema.OpBefore:
		ms, err := unixMillis(v)
		if err != nil {
			return filter.Predicate{}, err
		}
		if fk.Op == schema.OpAfter {
			return filter.NewAtLeast(f.Name, ms)
		}
		return filter.NewAtMost(f.Name, ms)

	case schema.OpRange:
		r, err := rangeBounds(f, v)
		if err != nil {
			return filter.Predicate{}, err
		}
		return filter.NewRange(f.Name, r)

	default:
		return filter.Predicate{}, fmt.Errorf("unsupported operator %q", fk.Op)
	}
}

// rangeBounds parses {gt,gte,lt,lte}. Timestamp fields accept RFC3339 bounds.
func rangeBounds(f schema.Field, v any) (filter.Range, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return filter.Range{}, fmt.Errorf("must be an object with gt, gte, lt or lte")
	}

	bounds := map[string]*float64{"gt": nil, "gte": nil, "lt": nil, "lte": nil}
	for k, raw := range obj {
		if _, known := bounds[k]; !known {
			return filter.Range{}, fmt.Errorf("unknown range bound %q", k)
		}
		var (
			n   float64
			err error
		)
		if f.Type == schema.Timestamp {
			n, err = unixMillis(raw)
		} else {
			n, err = number(raw)
		}
		if err != nil {
			return filter.Range{}, fmt.Errorf("%s: %w", k, err)
		}
		bounds[k] = &n
	}

	r, err := filter.NewRangeFilter(bounds["gt"], bounds["gte"], bounds["lt"], bounds["lte"])
	if err != nil {
		return filter.Range{}, fmt.Errorf("invalid range: %w", err)
	}
	return r, nil
}

// number accepts JSON numbers only. Numeric strings are rejected.
func number(v any) (float64, error) {
	switch v.(type) {
	case float64, float32, int, int64, int32, json.Number:
	default:
		return 0, fmt.Errorf("must be a number")
	}
	n, ok := chunk.ToFloat(v)
	if !ok {
		return 0, fmt.Errorf("must be a finite number")
	}
	return n, nil
}

// unixMillis converts a cutoff to the millisecond scale timestamp fields are stored at.
// Numbers are unix seconds and may carry a fraction.
func unixMillis(v any) (float64, error) {
	if s, ok := v.(string); ok {
		t, ok := chunk.ToTime(s)
		if !ok {
			return 0, fmt.Errorf("must be an RFC3339 timestamp")
		}
		return float64(t.UnixMilli()), nil
	}
	n, err := number(v)
	if err != nil {
		return 0, fmt.Errorf("must be an RFC3339 timestamp or unix seconds")
	}
	return math.Round(n * 1000), nil
}

func stringList(v any) ([]string, error) {
	var out []string
	switch list := v.(type) {
	case []string:
		out = list
	case []any:
		out = make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok || s == "" {
				return nil, fmt.Errorf("must be an array of non-empty strings")
			}
			out = append(out, s)
		}
	default:
		return nil, fmt.Errorf("must be an array of strings")
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("must not be empty")
	}
	return out, nil
}

func mustRange(gt, gte, lt, lte *float64) filter.Range {
	r, err := filter.NewRangeFilter(gt, gte, lt, lte)
	if err != nil {
		panic(err)
	}
	return r
}
