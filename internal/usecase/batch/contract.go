package batch

import (
	"context"

	domchunk "github.com/kailas-cloud/vecrank/internal/domain/chunk"
)

// ChunkWriter stores and removes single chunks.
type ChunkWriter interface {
	Upsert(ctx context.Context, id, content string, metadata map[string]any, vector []float32) (domchunk.Chunk, bool, error)
	Delete(ctx context.Context, id string) error
}
