package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/kailas-cloud/vecrank/internal/db"
	"github.com/kailas-cloud/vecrank/internal/domain/search/filter"
)

// SearchKNN scans candidate documents (all covered documents for FLAT, the nprobe nearest clusters for IVF),
// applies the predicate conjunction and returns the K most similar by cosine.
func (s *Store) SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
	if q.IndexName == "" {
		return nil, fmt.Errorf("index name is required")
	}
	if len(q.Vector) == 0 {
		return nil, fmt.Errorf("vector is required")
	}
	if q.K <= 0 {
		return nil, fmt.Errorf("k must be positive")
	}
	if err := ctx.Err(); err != nil {
		return nil, &db.Error{Op: db.OpSearch, Err: err}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, &db.Error{Op: db.OpSearch, Err: db.ErrConnClosed}
	}
	idx, ok := s.indexes[q.IndexName]
	if !ok {
		return nil, db.ErrIndexNotFound
	}

	var keys []string
	if idx.ivf != nil && idx.ivf.trained() {
		keys = idx.ivf.clusterKeys(q.Vector)
	} else {
		keys = make([]string, 0, len(s.hashes))
		for key := range s.hashes {
			if idx.covers(key) {
				keys = append(keys, key)
			}
		}
	}

	entries := make([]db.SearchEntry, 0, len(keys))
	for _, key := range keys {
		h := s.hashes[key]
		vec, ok := idx.vectorOf(h)
		if !ok {
			continue
		}
		if !idx.matches(q.Filters, h) {
			continue
		}
		entries = append(entries, db.SearchEntry{
			Key:    key,
			Score:  db.SimilarityFromCosine(db.CosineDistance(q.Vector, vec)),
			Fields: project(h, q.ReturnFields),
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].Key < entries[j].Key
	})

	total := len(entries)
	if len(entries) > q.K {
		entries = entries[:q.K]
	}
	return &db.SearchResult{Total: total, Entries: entries}, nil
}

// matches evaluates the conjunction against raw hash fields.
func (idx *index) matches(expr filter.Expression, h map[string]string) bool {
	for _, p := range expr.Predicates() {
		raw, ok := h[p.Key()]
		if !ok {
			return false
		}
		switch p.Kind() {
		case filter.Equals, filter.ContainsAll, filter.ContainsAny:
			if !p.MatchTags(splitTags(raw, idx.fields[p.Key()].TagSeparator)) {
				return false
			}
		case filter.InRange:
			x, err := parseFloat(raw)
			if err != nil || !p.Range().Contains(x) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func splitTags(raw, sep string) []string {
	if sep == "" {
		sep = ","
	}
	parts := strings.Split(raw, sep)
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func project(h map[string]string, fields []string) map[string]string {
	if len(fields) > 0 {
		out := make(map[string]string, len(fields))
		for _, f := range fields {
			if v, ok := h[f]; ok {
				out[f] = v
			}
		}
		return out
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		if k != db.VectorField {
			out[k] = v
		}
	}
	return out
}
