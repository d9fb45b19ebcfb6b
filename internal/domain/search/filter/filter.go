package filter

import (
	"fmt"
	"strings"
)

// MaxPredicates is the maximum number of predicates in one expression.
const MaxPredicates = 32

// Kind tags the predicate variant.
type Kind int

// Predicate variants.
const (
	// Equals matches a tag field against a single value.
	Equals Kind = iota + 1
	// ContainsAll requires every value to be present in a tags field.
	ContainsAll
	// ContainsAny requires at least one value to be present in a tags field.
	ContainsAny
	// InRange bounds a numeric or timestamp field.
	InRange
)

func (k Kind) String() string {
	switch k {
	case Equals:
		return "equals"
	case ContainsAll:
		return "contains_all"
	case ContainsAny:
		return "contains_any"
	case InRange:
		return "range"
	default:
		return "unknown"
	}
}

// Expression is a conjunction of predicates. Order does not change the matched set.
type Expression struct {
	preds []Predicate
}

// NewExpression validates and creates a filter Expression.
func NewExpression(preds ...Predicate) (Expression, error) {
	if len(preds) > MaxPredicates {
		return Expression{}, fmt.Errorf("too many filter predicates (max %d)", MaxPredicates)
	}
	return Expression{preds: preds}, nil
}

// Predicates returns the conjunction members.
func (e Expression) Predicates() []Predicate { return e.preds }

// IsEmpty reports whether the expression has no predicates.
func (e Expression) IsEmpty() bool { return len(e.preds) == 0 }

// Len returns the number of predicates.
func (e Expression) Len() int { return len(e.preds) }

// Predicate is a single filter clause over one metadata field.
type Predicate struct {
	kind      Kind
	key       string
	values    []string
	rangeExpr *Range
}

// NewEquals creates an exact tag match predicate.
func NewEquals(key, value string) (Predicate, error) {
	if key == "" {
		return Predicate{}, fmt.Errorf("filter key is required")
	}
	if value == "" {
		return Predicate{}, fmt.Errorf("match value is required for key %q", key)
	}
	return Predicate{kind: Equals, key: key, values: []string{value}}, nil
}

// NewContainsAll creates a predicate requiring every value in a tags field.
func NewContainsAll(key string, values []string) (Predicate, error) {
	return newContains(ContainsAll, key, values)
}

// NewContainsAny creates a predicate requiring at least one value in a tags field.
func NewContainsAny(key string, values []string) (Predicate, error) {
	return newContains(ContainsAny, key, values)
}

func newContains(kind Kind, key string, values []string) (Predicate, error) {
	if key == "" {
		return Predicate{}, fmt.Errorf("filter key is required")
	}
	if len(values) == 0 {
		return Predicate{}, fmt.Errorf("at least one value is required for key %q", key)
	}
	for _, v := range values {
		if v == "" {
			return Predicate{}, fmt.Errorf("empty value for key %q", key)
		}
	}
	cp := make([]string, len(values))
	copy(cp, values)
	return Predicate{kind: kind, key: key, values: cp}, nil
}

// NewRange creates a numeric range predicate.
func NewRange(key string, r Range) (Predicate, error) {
	if key == "" {
		return Predicate{}, fmt.Errorf("filter key is required")
	}
	return Predicate{kind: InRange, key: key, rangeExpr: &r}, nil
}

// NewAtLeast creates an inclusive lower bound predicate.
func NewAtLeast(key string, minValue float64) (Predicate, error) {
	return NewRange(key, Range{gte: &minValue})
}

// NewAtMost creates an inclusive upper bound predicate.
func NewAtMost(key string, maxValue float64) (Predicate, error) {
	return NewRange(key, Range{lte: &maxValue})
}

// Kind returns the predicate variant.
func (p Predicate) Kind() Kind { return p.kind }

// Key returns the field name.
func (p Predicate) Key() string { return p.key }

// Values returns the tag values for Equals and Contains predicates.
func (p Predicate) Values() []string { return p.values }

// Range returns the range expression for InRange predicates.
func (p Predicate) Range() *Range { return p.rangeExpr }

// MatchTags evaluates a tag predicate against the field's values (case-insensitive).
func (p Predicate) MatchTags(have []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, h := range have {
		set[strings.ToLower(h)] = struct{}{}
	}
	switch p.kind {
	case Equals, ContainsAny:
		for _, v := range p.values {
			if _, ok := set[strings.ToLower(v)]; ok {
				return true
			}
		}
		return false
	case ContainsAll:
		for _, v := range p.values {
			if _, ok := set[strings.ToLower(v)]; !ok {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Range is a numeric range with gt/gte/lt/lte boundaries.
type Range struct {
	gt  *float64
	gte *float64
	lt  *float64
	lte *float64
}

// NewRangeFilter validates and creates a Range.
// At least one boundary required. gt/gte and lt/lte are mutually exclusive.
func NewRangeFilter(gt, gte, lt, lte *float64) (Range, error) {
	if gt == nil && gte == nil && lt == nil && lte == nil {
		return Range{}, fmt.Errorf("at least one range boundary is required")
	}
	if gt != nil && gte != nil {
		return Range{}, fmt.Errorf("cannot specify both gt and gte")
	}
	if lt != nil && lte != nil {
		return Range{}, fmt.Errorf("cannot specify both lt and lte")
	}
	return Range{gt: gt, gte: gte, lt: lt, lte: lte}, nil
}

// GT returns the lower exclusive bound.
func (r Range) GT() *float64 { return r.gt }

// GTE returns the lower inclusive bound.
func (r Range) GTE() *float64 { return r.gte }

// LT returns the upper exclusive bound.
func (r Range) LT() *float64 { return r.lt }

// LTE returns the upper inclusive bound.
func (r Range) LTE() *float64 { return r.lte }

// Contains reports whether x satisfies every bound.
func (r Range) Contains(x float64) bool {
	if r.gt != nil && !(x > *r.gt) {
		return false
	}
	if r.gte != nil && !(x >= *r.gte) {
		return false
	}
	if r.lt != nil && !(x < *r.lt) {
		return false
	}
	if r.lte != nil && !(x <= *r.lte) {
		return false
	}
	return true
}
