package chunk

import (
	"context"

	"github.com/kailas-cloud/vecrank/internal/domain"
	domchunk "github.com/kailas-cloud/vecrank/internal/domain/chunk"
)

// Repository defines the storage contract for chunks.
type Repository interface {
	Save(ctx context.Context, c *domchunk.Chunk) error
	Get(ctx context.Context, id string) (domchunk.Chunk, error)
	Delete(ctx context.Context, id string) error
}

// Embedder vectorizes chunk content.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}
