package memory

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/kailas-cloud/vecrank/internal/db"
)

const kmeansIterations = 10

type index struct {
	def    *db.IndexDefinition
	vector db.IndexField
	fields map[string]db.IndexField
	ivf    *ivf // nil for FLAT
}

// CreateIndex registers an index. HNSW is unsupported here. IVF trains once nlist covered vectors exist,
// now or on a later HSet; until then searches scan every covered document.
func (s *Store) CreateIndex(_ context.Context, def *db.IndexDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	idx := &index{def: def, fields: make(map[string]db.IndexField, len(def.Fields))}
	vectors := 0
	for _, f := range def.Fields {
		idx.fields[f.Name] = f
		if f.Type == db.IndexFieldVector {
			idx.vector = f
			vectors++
		}
	}
	if vectors != 1 {
		return errors.New("exactly one vector field is required")
	}
	if !s.SupportsAlgorithm(idx.vector.VectorAlgo) {
		return db.ErrUnsupportedAlgorithm
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.indexes[def.Name]; ok {
		return db.ErrIndexExists
	}
	if idx.vector.VectorAlgo == db.VectorIVF {
		idx.ivf = s.trainIVF(idx)
	}
	s.indexes[def.Name] = idx
	return nil
}

// DropIndex removes the index and keeps the documents, like FT.DROPINDEX without DD.
func (s *Store) DropIndex(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.indexes[name]; !ok {
		return db.ErrIndexNotFound
	}
	delete(s.indexes, name)
	return nil
}

// IndexExists reports whether the index is registered.
func (s *Store) IndexExists(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.indexes[name]
	return ok, nil
}

// IndexInfo counts documents covered by the index prefixes.
func (s *Store) IndexInfo(_ context.Context, name string) (*db.IndexInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.indexes[name]
	if !ok {
		return nil, db.ErrIndexNotFound
	}
	n := 0
	for key := range s.hashes {
		if idx.covers(key) {
			n++
		}
	}
	// an IVF index still waiting for nlist vectors reports as indexing
	return &db.IndexInfo{Name: name, NumDocs: n, Indexing: idx.ivf != nil && !idx.ivf.trained()}, nil
}

// SupportsAlgorithm reports FLAT and IVF support.
func (s *Store) SupportsAlgorithm(algo db.VectorAlgorithm) bool {
	return algo == db.VectorFlat || algo == db.VectorIVF
}

func (idx *index) covers(key string) bool {
	if len(idx.def.Prefixes) == 0 {
		return true
	}
	for _, p := range idx.def.Prefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

func (idx *index) vectorOf(h map[string]string) ([]float32, bool) {
	raw, ok := h[idx.vector.Name]
	if !ok {
		return nil, false
	}
	v, err := db.BytesToVector(raw)
	if err != nil || len(v) != idx.vector.VectorDim {
		return nil, false
	}
	return v, true
}

func (idx *index) assign(key string, h map[string]string) {
	if idx.ivf == nil || !idx.covers(key) {
		return
	}
	if v, ok := idx.vectorOf(h); ok {
		idx.ivf.add(key, v)
	}
}

func (idx *index) unassign(key string) {
	if idx.ivf != nil {
		idx.ivf.remove(key)
	}
}

// trainIVF runs k-means over the covered documents. Caller holds s.mu.
func (s *Store) trainIVF(idx *index) *ivf {
	keys := make([]string, 0, len(s.hashes))
	for key := range s.hashes {
		if idx.covers(key) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	vecs := make([][]float32, 0, len(keys))
	kept := keys[:0]
	for _, key := range keys {
		if v, ok := idx.vectorOf(s.hashes[key]); ok {
			vecs = append(vecs, v)
			kept = append(kept, key)
		}
	}

	nprobe := idx.vector.VectorNProbe
	if nprobe <= 0 {
		nprobe = 1
	}
	nlist := max(idx.vector.VectorNList, 1)
	iv := &ivf{nprobe: nprobe, nlist: nlist, member: make(map[string]int), staged: make(map[string]struct{})}
	if len(vecs) < nlist {
		for _, key := range kept {
			iv.staged[key] = struct{}{}
		}
		return iv
	}
	iv.centroids = kmeans(vecs, nlist)
	iv.lists = make([]map[string]struct{}, len(iv.centroids))
	for i := range iv.lists {
		iv.lists[i] = make(map[string]struct{})
	}
	for i, key := range kept {
		iv.add(key, vecs[i])
	}
	return iv
}

// ivf is an inverted-file index: documents bucketed by nearest centroid.
// Before training, covered keys are only staged.
type ivf struct {
	nprobe    int
	nlist     int
	centroids [][]float32
	lists     []map[string]struct{}
	member    map[string]int
	staged    map[string]struct{}
}

func (v *ivf) trained() bool { return len(v.centroids) > 0 }

// ready reports an untrained index that has enough vectors to train.
func (v *ivf) ready() bool { return !v.trained() && len(v.staged) >= v.nlist }

func (v *ivf) add(key string, vec []float32) {
	if !v.trained() {
		v.staged[key] = struct{}{}
		return
	}
	v.remove(key)
	c := v.nearest(vec, 1)[0]
	v.lists[c][key] = struct{}{}
	v.member[key] = c
}

func (v *ivf) remove(key string) {
	delete(v.staged, key)
	if c, ok := v.member[key]; ok {
		delete(v.lists[c], key)
		delete(v.member, key)
	}
}

// nearest returns the n closest centroid ids, ties broken by id.
func (v *ivf) nearest(vec []float32, n int) []int {
	ids := make([]int, len(v.centroids))
	dist := make([]float64, len(v.centroids))
	for i, c := range v.centroids {
		ids[i] = i
		dist[i] = db.CosineDistance(vec, c)
	}
	sort.SliceStable(ids, func(a, b int) bool { return dist[ids[a]] < dist[ids[b]] })
	if n > len(ids) {
		n = len(ids)
	}
	return ids[:n]
}

// clusterKeys returns the keys in the nprobe clusters closest to vec.
func (v *ivf) clusterKeys(vec []float32) []string {
	var keys []string
	for _, c := range v.nearest(vec, v.nprobe) {
		for key := range v.lists[c] {
			keys = append(keys, key)
		}
	}
	return keys
}

// kmeans is Lloyd's algorithm with deterministic evenly spaced seeding.
func kmeans(vecs [][]float32, k int) [][]float32 {
	if len(vecs) == 0 || k <= 0 {
		return nil
	}
	if k > len(vecs) {
		k = len(vecs)
	}
	dim := len(vecs[0])

	centroids := make([][]float32, k)
	for i := range centroids {
		centroids[i] = append([]float32(nil), vecs[i*len(vecs)/k]...)
	}

	assign := make([]int, len(vecs))
	for iter := 0; iter < kmeansIterations; iter++ {
		changed := false
		for i, v := range vecs {
			best, bestDist := 0, db.CosineDistance(v, centroids[0])
			for c := 1; c < k; c++ {
				if d := db.CosineDistance(v, centroids[c]); d < bestDist {
					best, bestDist = c, d
				}
			}
			if assign[i] != best || iter == 0 {
				changed = changed || assign[i] != best
				assign[i] = best
			}
		}

		sums := make([][]float64, k)
		counts := make([]int, k)
		for c := range sums {
			sums[c] = make([]float64, dim)
		}
		for i, v := range vecs {
			c := assign[i]
			counts[c]++
			for d := range v {
				sums[c][d] += float64(v[d])
			}
		}
		for c := range centroids {
			if counts[c] == 0 {
				continue // keep the previous centroid for empty clusters
			}
			for d := range centroids[c] {
				centroids[c][d] = float32(sums[c][d] / float64(counts[c]))
			}
		}

		if !changed && iter > 0 {
			break
		}
	}
	return centroids
}
