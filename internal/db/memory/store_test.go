package memory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/kailas-cloud/vecrank/internal/db"
	"github.com/kailas-cloud/vecrank/internal/domain/search/filter"
)

func flatIndex(t *testing.T) *db.IndexDefinition {
	t.Helper()
	def, err := db.NewIndex("idx").
		Prefix("chunk:").
		TagWithOpts("department", "|", false).
		Numeric("priority").
		VectorFlat(db.VectorField, 2, db.DistanceCosine, 0).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return def
}

func ivfIndex(t *testing.T) *db.IndexDefinition {
	t.Helper()
	def, err := db.NewIndex("ivf").Prefix("chunk:").
		TagWithOpts("department", "|", false).
		VectorIVF(db.VectorField, 2, db.DistanceCosine, 2, 1).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return def
}

func putDoc(t *testing.T, s *Store, key, dep string, prio int, vec []float32) {
	t.Helper()
	err := s.HSet(context.Background(), key, map[string]string{
		"department":   dep,
		"priority":     fmt.Sprint(prio),
		db.VectorField: db.VectorToBytes(vec),
	})
	if err != nil {
		t.Fatalf("hset %s: %v", key, err)
	}
}

func mustNoErr(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func keysOf(res *db.SearchResult) []string {
	keys := make([]string, len(res.Entries))
	for i, e := range res.Entries {
		keys[i] = e.Key
	}
	return keys
}

func onlyPrefix(t *testing.T, keys []string, prefix string) {
	t.Helper()
	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) {
			t.Errorf("key %s outside %s cluster", k, prefix)
		}
	}
}

func TestKV_TTL(t *testing.T) {
	now := time.Unix(1000, 0)
	s := NewStore().WithClock(func() time.Time { return now })
	ctx := context.Background()

	mustNoErr(t, s.SetWithTTL(ctx, "k", []byte("v"), time.Minute))
	got, err := s.Get(ctx, "k")
	mustNoErr(t, err)
	if string(got) != "v" {
		t.Errorf("got %q, want v", got)
	}

	now = now.Add(time.Minute)
	if _, err := s.Get(ctx, "k"); !errors.Is(err, db.ErrKeyNotFound) {
		t.Errorf("expected ErrKeyNotFound after TTL, got %v", err)
	}
}

func TestIncrBy_ExpireNX(t *testing.T) {
	now := time.Unix(1000, 0)
	s := NewStore().WithClock(func() time.Time { return now })
	ctx := context.Background()

	_, err := s.IncrBy(ctx, "ctr", 2)
	mustNoErr(t, err)
	n, err := s.IncrBy(ctx, "ctr", 3)
	mustNoErr(t, err)
	if n != 5 {
		t.Fatalf("counter = %d, want 5", n)
	}

	mustNoErr(t, s.Expire(ctx, "ctr", time.Second, true))
	mustNoErr(t, s.Expire(ctx, "ctr", time.Hour, true)) // ignored: TTL already set
	now = now.Add(2 * time.Second)

	n, err = s.IncrBy(ctx, "ctr", 1)
	mustNoErr(t, err)
	if n != 1 {
		t.Errorf("counter after expiry = %d, want 1", n)
	}
}

func TestScanAndDel(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	mustNoErr(t, s.Set(ctx, "cache:b", []byte("1")))
	mustNoErr(t, s.Set(ctx, "cache:a", []byte("1")))
	mustNoErr(t, s.HSet(ctx, "chunk:1", map[string]string{"x": "y"}))

	keys, err := s.Scan(ctx, "cache:*")
	mustNoErr(t, err)
	if !slices.Equal(keys, []string{"cache:a", "cache:b"}) {
		t.Errorf("scan = %v", keys)
	}

	mustNoErr(t, s.Del(ctx, "chunk:1"))
	ok, err := s.Exists(ctx, "chunk:1")
	mustNoErr(t, err)
	if ok {
		t.Error("deleted hash still exists")
	}
}

func TestCreateIndex_HNSWUnsupported(t *testing.T) {
	s := NewStore()
	def, err := db.NewIndex("idx").VectorHNSW(db.VectorField, 2, db.DistanceCosine, 16, 200).Build()
	mustNoErr(t, err)

	if err := s.CreateIndex(context.Background(), def); !errors.Is(err, db.ErrUnsupportedAlgorithm) {
		t.Errorf("expected ErrUnsupportedAlgorithm, got %v", err)
	}
	if s.SupportsAlgorithm(db.VectorHNSW) || !s.SupportsAlgorithm(db.VectorIVF) {
		t.Error("memory store supports FLAT and IVF only")
	}
}

func TestCreateIndex_Duplicate(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	mustNoErr(t, s.CreateIndex(ctx, flatIndex(t)))
	if err := s.CreateIndex(ctx, flatIndex(t)); !errors.Is(err, db.ErrIndexExists) {
		t.Errorf("expected ErrIndexExists, got %v", err)
	}

	mustNoErr(t, s.DropIndex(ctx, "idx"))
	if err := s.DropIndex(ctx, "idx"); !errors.Is(err, db.ErrIndexNotFound) {
		t.Errorf("expected ErrIndexNotFound, got %v", err)
	}
}

func TestSearchKNN_FlatOrderAndFilters(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	mustNoErr(t, s.CreateIndex(ctx, flatIndex(t)))

	putDoc(t, s, "chunk:a", "IT", 5, []float32{1, 0})
	putDoc(t, s, "chunk:b", "HR", 1, []float32{1, 0.1})
	putDoc(t, s, "chunk:c", "it", 3, []float32{0, 1})
	putDoc(t, s, "other:z", "IT", 5, []float32{1, 0}) // outside prefix

	res, err := s.SearchKNN(ctx, &db.KNNQuery{IndexName: "idx", Vector: []float32{1, 0}, K: 10})
	mustNoErr(t, err)
	if got := keysOf(res); !slices.Equal(got, []string{"chunk:a", "chunk:b", "chunk:c"}) {
		t.Fatalf("order = %v", got)
	}
	if math.Abs(res.Entries[0].Score-1) > 1e-9 {
		t.Errorf("exact match score = %v, want 1", res.Entries[0].Score)
	}
	if _, ok := res.Entries[0].Fields[db.VectorField]; ok {
		t.Error("vector must not be returned")
	}

	dep, err := filter.NewEquals("department", "it")
	mustNoErr(t, err)
	prio, err := filter.NewAtLeast("priority", 4)
	mustNoErr(t, err)
	expr, err := filter.NewExpression(dep, prio)
	mustNoErr(t, err)

	res, err = s.SearchKNN(ctx, &db.KNNQuery{IndexName: "idx", Vector: []float32{1, 0}, K: 10, Filters: expr})
	mustNoErr(t, err)
	if got := keysOf(res); !slices.Equal(got, []string{"chunk:a"}) {
		t.Errorf("filtered = %v, want [chunk:a]", got)
	}
}

func TestSearchKNN_TiesByKey(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	mustNoErr(t, s.CreateIndex(ctx, flatIndex(t)))
	putDoc(t, s, "chunk:b", "IT", 1, []float32{1, 0})
	putDoc(t, s, "chunk:a", "IT", 1, []float32{1, 0})

	res, err := s.SearchKNN(ctx, &db.KNNQuery{IndexName: "idx", Vector: []float32{1, 0}, K: 1})
	mustNoErr(t, err)
	if res.Total != 2 {
		t.Errorf("total = %d, want 2", res.Total)
	}
	if got := keysOf(res); !slices.Equal(got, []string{"chunk:a"}) {
		t.Errorf("got %v, want [chunk:a]", got)
	}
}

func TestSearchKNN_Errors(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	cancelled, cancel := context.WithCancel(ctx)
	cancel()

	tests := []struct {
		name   string
		ctx    context.Context
		q      *db.KNNQuery
		target error
	}{
		{"missing index", ctx, &db.KNNQuery{IndexName: "missing", Vector: []float32{1}, K: 1}, db.ErrIndexNotFound},
		{"no vector", ctx, &db.KNNQuery{IndexName: "idx", K: 1}, nil},
		{"cancelled", cancelled, &db.KNNQuery{IndexName: "idx", Vector: []float32{1}, K: 1}, context.Canceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.SearchKNN(tt.ctx, tt.q)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.target != nil && !errors.Is(err, tt.target) {
				t.Errorf("expected %v, got %v", tt.target, err)
			}
		})
	}
}

func TestSearchKNN_IVF(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	// two well separated clusters, trained at creation
	for i := 0; i < 5; i++ {
		putDoc(t, s, fmt.Sprintf("chunk:x%d", i), "IT", 1, []float32{1, float32(i) * 0.01})
		putDoc(t, s, fmt.Sprintf("chunk:y%d", i), "IT", 1, []float32{float32(i) * 0.01, 1})
	}
	mustNoErr(t, s.CreateIndex(ctx, ivfIndex(t)))

	// added after training, lands in the x cluster
	putDoc(t, s, "chunk:x9", "IT", 1, []float32{1, 0.02})

	res, err := s.SearchKNN(ctx, &db.KNNQuery{IndexName: "ivf", Vector: []float32{1, 0}, K: 20})
	mustNoErr(t, err)
	if len(res.Entries) != 6 {
		t.Fatalf("expected the 6 x documents, got %v", keysOf(res))
	}
	onlyPrefix(t, keysOf(res), "chunk:x")

	info, err := s.IndexInfo(ctx, "ivf")
	mustNoErr(t, err)
	if info.NumDocs != 11 || info.Indexing {
		t.Errorf("unexpected info %+v", info)
	}
}

func TestSearchKNN_IVFTrainsOnceCorpusReachesNList(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	mustNoErr(t, s.CreateIndex(ctx, ivfIndex(t)))

	indexing := func() bool {
		t.Helper()
		info, err := s.IndexInfo(ctx, "ivf")
		mustNoErr(t, err)
		return info.Indexing
	}
	if !indexing() {
		t.Fatal("empty IVF index must report indexing")
	}

	putDoc(t, s, "chunk:x0", "IT", 1, []float32{1, 0})
	if !indexing() {
		t.Fatal("one vector is below nlist")
	}
	// untrained search scans everything
	res, err := s.SearchKNN(ctx, &db.KNNQuery{IndexName: "ivf", Vector: []float32{0, 1}, K: 10})
	mustNoErr(t, err)
	if len(res.Entries) != 1 {
		t.Fatalf("untrained search = %v", keysOf(res))
	}

	putDoc(t, s, "chunk:y0", "IT", 1, []float32{0, 1})
	if indexing() {
		t.Fatal("index must train once nlist vectors exist")
	}

	for i := 1; i < 4; i++ {
		putDoc(t, s, fmt.Sprintf("chunk:x%d", i), "IT", 1, []float32{1, float32(i) * 0.01})
		putDoc(t, s, fmt.Sprintf("chunk:y%d", i), "IT", 1, []float32{float32(i) * 0.01, 1})
	}

	res, err = s.SearchKNN(ctx, &db.KNNQuery{IndexName: "ivf", Vector: []float32{1, 0}, K: 20})
	mustNoErr(t, err)
	if len(res.Entries) != 4 {
		t.Fatalf("expected the 4 x documents, got %v", keysOf(res))
	}
	onlyPrefix(t, keysOf(res), "chunk:x")
}

func TestConn_ClosedAfterClose(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	c, err := s.Dial(ctx)
	mustNoErr(t, err)
	mustNoErr(t, c.Ping(ctx))
	c.Close()
	if err := c.Ping(ctx); !errors.Is(err, db.ErrConnClosed) {
		t.Errorf("ping after close: %v", err)
	}

	s.Close()
	if _, err := s.Dial(ctx); !errors.Is(err, db.ErrConnClosed) {
		t.Errorf("dial after store close: %v", err)
	}
}
