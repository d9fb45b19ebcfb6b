package schema

import (
	"fmt"
	"regexp"
	"sort"
)

// FieldType is the indexing type of a declared metadata field.
type FieldType string

// Field types.
const (
	// Tag is a single string matched exactly (case-insensitive).
	Tag FieldType = "tag"
	// Tags is a string array supporting containment.
	Tags FieldType = "tags"
	// Numeric is a float field with range indexing.
	Numeric FieldType = "numeric"
	// Timestamp is stored as unix seconds with range indexing.
	Timestamp FieldType = "timestamp"
)

// Operator is the predicate a filter key applies to its field.
type Operator string

// Filter operators.
const (
	OpEquals      Operator = "equals"
	OpContainsAll Operator = "contains_all"
	OpContainsAny Operator = "contains_any"
	OpAtLeast     Operator = "at_least"
	OpAtMost      Operator = "at_most"
	OpAfter       Operator = "after"
	OpBefore      Operator = "before"
	OpRange       Operator = "range"
)

// UnknownPolicy decides what happens to filter keys that are not declared.
type UnknownPolicy string

// Unknown filter policies.
const (
	UnknownReject UnknownPolicy = "reject"
	UnknownIgnore UnknownPolicy = "ignore"
)

var (
	nameRegex      = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)
	reservedFields = map[string]bool{
		"id": true, "content": true, "vector": true, "metadata": true, "version": true,
	}
	// allowedOps lists operators valid for each field type.
	allowedOps = map[FieldType]map[Operator]bool{
		Tag:       {OpEquals: true, OpContainsAny: true},
		Tags:      {OpEquals: true, OpContainsAll: true, OpContainsAny: true},
		Numeric:   {OpEquals: true, OpAtLeast: true, OpAtMost: true, OpRange: true},
		Timestamp: {OpAfter: true, OpBefore: true, OpRange: true},
	}
)

// Field is a declared, indexed metadata key.
type Field struct {
	Name string
	Type FieldType
}

// FilterKey binds a request filter key to a declared field and an operator.
type FilterKey struct {
	Key   string
	Field string
	Op    Operator
}

// Schema is the immutable metadata vocabulary of a deployment.
type Schema struct {
	fields  map[string]Field
	order   []string
	filters map[string]FilterKey
	unknown UnknownPolicy
}

// New validates fields and filter keys and builds a Schema.
func New(fields []Field, filters []FilterKey, unknown UnknownPolicy) (*Schema, error) {
	s := &Schema{
		fields:  make(map[string]Field, len(fields)),
		filters: make(map[string]FilterKey, len(filters)),
		unknown: unknown,
	}
	if s.unknown == "" {
		s.unknown = UnknownReject
	}
	if s.unknown != UnknownReject && s.unknown != UnknownIgnore {
		return nil, fmt.Errorf("invalid unknown filter policy %q", unknown)
	}

	for _, f := range fields {
		if !nameRegex.MatchString(f.Name) || len(f.Name) > 64 {
			return nil, fmt.Errorf("invalid field name %q", f.Name)
		}
		if reservedFields[f.Name] {
			return nil, fmt.Errorf("field name %q is reserved", f.Name)
		}
		if _, ok := allowedOps[f.Type]; !ok {
			return nil, fmt.Errorf("invalid field type %q for %q", f.Type, f.Name)
		}
		if _, dup := s.fields[f.Name]; dup {
			return nil, fmt.Errorf("duplicate field %q", f.Name)
		}
		s.fields[f.Name] = f
		s.order = append(s.order, f.Name)
	}

	for _, fk := range filters {
		if fk.Key == "" {
			return nil, fmt.Errorf("filter key is required")
		}
		f, ok := s.fields[fk.Field]
		if !ok {
			return nil, fmt.Errorf("filter %q references undeclared field %q", fk.Key, fk.Field)
		}
		if !allowedOps[f.Type][fk.Op] {
			return nil, fmt.Errorf("filter %q: operator %q not valid for %s field %q", fk.Key, fk.Op, f.Type, f.Name)
		}
		if _, dup := s.filters[fk.Key]; dup {
			return nil, fmt.Errorf("duplicate filter key %q", fk.Key)
		}
		s.filters[fk.Key] = fk
	}

	return s, nil
}

// Default returns the stock knowledge-base schema.
func Default() *Schema {
	s, err := New(DefaultFields(), DefaultFilters(), UnknownReject)
	if err != nil {
		panic(err)
	}
	return s
}

// DefaultFields returns the stock declared metadata fields.
func DefaultFields() []Field {
	return []Field{
		{Name: "department", Type: Tag},
		{Name: "tags", Type: Tags},
		{Name: "priority", Type: Numeric},
		{Name: "views", Type: Numeric},
		{Name: "updated_at", Type: Timestamp},
	}
}

// DefaultFilters returns the stock filter vocabulary.
func DefaultFilters() []FilterKey {
	return []FilterKey{
		{Key: "department", Field: "department", Op: OpEquals},
		{Key: "tags_all", Field: "tags", Op: OpContainsAll},
		{Key: "tags_any", Field: "tags", Op: OpContainsAny},
		{Key: "min_priority", Field: "priority", Op: OpAtLeast},
		{Key: "priority", Field: "priority", Op: OpRange},
		{Key: "updated_after", Field: "updated_at", Op: OpAfter},
	}
}

// Field looks up a declared field.
func (s *Schema) Field(name string) (Field, bool) {
	f, ok := s.fields[name]
	return f, ok
}

// Fields returns declared fields in declaration order.
func (s *Schema) Fields() []Field {
	out := make([]Field, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.fields[name])
	}
	return out
}

// Filter looks up a declared filter key.
func (s *Schema) Filter(key string) (FilterKey, bool) {
	fk, ok := s.filters[key]
	return fk, ok
}

// FilterKeys returns declared filter keys sorted by name.
func (s *Schema) FilterKeys() []string {
	keys := make([]string, 0, len(s.filters))
	for k := range s.filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// UnknownPolicy returns the policy for undeclared filter keys.
func (s *Schema) UnknownPolicy() UnknownPolicy { return s.unknown }
