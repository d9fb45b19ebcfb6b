package chunk

import (
	"context"
	"testing"
	"time"

	domchunk "github.com/kailas-cloud/vecrank/internal/domain/chunk"
	"github.com/kailas-cloud/vecrank/internal/domain/schema"
)

// mockStore implements the consumer interface for tests.
type mockStore struct {
	hsetFn    func(ctx context.Context, key string, fields map[string]string) error
	hgetAllFn func(ctx context.Context, key string) (map[string]string, error)
	delFn     func(ctx context.Context, key string) error
	existsFn  func(ctx context.Context, key string) (bool, error)
}

func (m *mockStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	if m.hsetFn != nil {
		return m.hsetFn(ctx, key, fields)
	}
	return nil
}

func (m *mockStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	if m.hgetAllFn != nil {
		return m.hgetAllFn(ctx, key)
	}
	return map[string]string{}, nil
}

func (m *mockStore) Del(ctx context.Context, key string) error {
	if m.delFn != nil {
		return m.delFn(ctx, key)
	}
	return nil
}

func (m *mockStore) Exists(ctx context.Context, key string) (bool, error) {
	if m.existsFn != nil {
		return m.existsFn(ctx, key)
	}
	return false, nil
}

func newTestRepo(t *testing.T) (*Repo, *mockStore) {
	t.Helper()
	ms := &mockStore{}
	return New(ms, "vecrank:chunk:", schema.Default()), ms
}

func testChunk(t *testing.T, meta map[string]any) domchunk.Chunk {
	t.Helper()
	c, err := domchunk.New("kb-1", "How to reset a password", meta)
	if err != nil {
		t.Fatalf("chunk.New: %v", err)
	}
	c = c.WithEmbedding([]float32{0.1, 0.2, 0.3})
	return c.Stamp(2, time.Unix(1700000000, 0).UTC())
}
