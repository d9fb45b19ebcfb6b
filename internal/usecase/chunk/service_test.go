package chunk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kailas-cloud/vecrank/internal/db/memory"
	"github.com/kailas-cloud/vecrank/internal/domain"
	domchunk "github.com/kailas-cloud/vecrank/internal/domain/chunk"
	"github.com/kailas-cloud/vecrank/internal/domain/schema"
	chunkrepo "github.com/kailas-cloud/vecrank/internal/repository/chunk"
)

// --- Mocks ---

type mockEmbedder struct {
	vec   []float32
	err   error
	calls int
}

func (m *mockEmbedder) Embed(_ context.Context, _ string) (domain.EmbeddingResult, error) {
	m.calls++
	return domain.EmbeddingResult{Embedding: m.vec}, m.err
}

type mockRepo struct {
	getFn    func(id string) (domchunk.Chunk, error)
	saveFn   func(c *domchunk.Chunk) error
	deleteFn func(id string) error
}

func (m *mockRepo) Save(_ context.Context, c *domchunk.Chunk) error { return m.saveFn(c) }

func (m *mockRepo) Get(_ context.Context, id string) (domchunk.Chunk, error) { return m.getFn(id) }

func (m *mockRepo) Delete(_ context.Context, id string) error { return m.deleteFn(id) }

func newMemoryService(t *testing.T, emb Embedder) *Service {
	t.Helper()
	repo := chunkrepo.New(memory.NewStore(), "vecrank:chunk:", schema.Default())
	svc := New(repo, emb, 3)
	svc.now = func() time.Time { return time.Unix(1717243200, 0) }
	return svc
}

// --- Tests ---

func TestUpsert_EmbedsWhenNoVector(t *testing.T) {
	emb := &mockEmbedder{vec: []float32{1, 0, 0}}
	svc := newMemoryService(t, emb)

	c, created, err := svc.Upsert(context.Background(), "kb-1", "How to reset a password", map[string]any{"department": "IT"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created || c.Version() != 1 {
		t.Errorf("expected new chunk at version 1, got created=%v version=%d", created, c.Version())
	}
	if emb.calls != 1 {
		t.Errorf("expected 1 embed call, got %d", emb.calls)
	}

	got, err := svc.Get(context.Background(), "kb-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Content() != "How to reset a password" || len(got.Embedding()) != 3 {
		t.Errorf("unexpected stored chunk %+v", got)
	}
	if !got.UpdatedAt().Equal(time.Unix(1717243200, 0)) {
		t.Errorf("unexpected updated_at %v", got.UpdatedAt())
	}
}

func TestUpsert_SuppliedVectorSkipsEmbedding(t *testing.T) {
	emb := &mockEmbedder{vec: []float32{1, 0, 0}}
	svc := newMemoryService(t, emb)

	if _, _, err := svc.Upsert(context.Background(), "kb-1", "text", nil, []float32{0, 1, 0}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if emb.calls != 0 {
		t.Errorf("embedder must not be called, got %d calls", emb.calls)
	}
}

func TestUpsert_ReplaceBumpsVersion(t *testing.T) {
	svc := newMemoryService(t, nil)
	ctx := context.Background()

	if _, _, err := svc.Upsert(ctx, "kb-1", "v1", map[string]any{"tags": []any{"a"}}, []float32{1, 0, 0}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	c, created, err := svc.Upsert(ctx, "kb-1", "v2", nil, []float32{0, 0, 1})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if created || c.Version() != 2 {
		t.Errorf("expected replaced chunk at version 2, got created=%v version=%d", created, c.Version())
	}

	got, err := svc.Get(ctx, "kb-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Content() != "v2" {
		t.Errorf("expected v2 content, got %q", got.Content())
	}
	if _, ok := got.Metadata()["tags"]; ok {
		t.Error("metadata of the previous version must not linger")
	}
}

func TestUpsert_Validation(t *testing.T) {
	svc := newMemoryService(t, nil)

	tests := []struct {
		name    string
		id      string
		content string
		meta    map[string]any
		vec     []float32
	}{
		{"bad id", "has space", "text", nil, []float32{1, 0, 0}},
		{"empty content", "kb-1", "", nil, []float32{1, 0, 0}},
		{"wrong dimension", "kb-1", "text", nil, []float32{1, 0}},
		{"no vector no embedder", "kb-1", "text", nil, nil},
		{"tag with separator", "kb-1", "text", map[string]any{"department": "IT|HR"}, []float32{1, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.Upsert(context.Background(), tt.id, tt.content, tt.meta, tt.vec)
			if domain.Kind(err) != domain.KindValidation {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestUpsert_EmbeddingError(t *testing.T) {
	svc := newMemoryService(t, &mockEmbedder{err: domain.ErrEmbeddingProviderError})

	_, _, err := svc.Upsert(context.Background(), "kb-1", "text", nil, nil)
	if !errors.Is(err, domain.ErrEmbeddingProviderError) {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestUpsert_StoreFailure(t *testing.T) {
	repo := &mockRepo{
		getFn:  func(string) (domchunk.Chunk, error) { return domchunk.Chunk{}, domain.ErrNotFound },
		saveFn: func(*domchunk.Chunk) error { return errors.New("connection reset") },
	}
	svc := New(repo, nil, 3)

	_, _, err := svc.Upsert(context.Background(), "kb-1", "text", nil, []float32{1, 0, 0})
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected store unavailable, got %v", err)
	}
}

func TestGetDelete_NotFound(t *testing.T) {
	svc := newMemoryService(t, nil)
	ctx := context.Background()

	if _, err := svc.Get(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected not found on get, got %v", err)
	}
	if err := svc.Delete(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected not found on delete, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	svc := newMemoryService(t, nil)
	ctx := context.Background()
	if _, _, err := svc.Upsert(ctx, "kb-1", "text", nil, []float32{1, 0, 0}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if err := svc.Delete(ctx, "kb-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.Get(ctx, "kb-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected not found after delete, got %v", err)
	}
}
