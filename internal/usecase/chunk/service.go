package chunk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kailas-cloud/vecrank/internal/domain"
	domchunk "github.com/kailas-cloud/vecrank/internal/domain/chunk"
)

// Service handles chunk ingestion.
type Service struct {
	repo      Repository
	embed     Embedder
	vectorDim int
	now       func() time.Time
}

// New creates a chunk service. embed may be nil when callers always supply vectors.
func New(repo Repository, embed Embedder, vectorDim int) *Service {
	return &Service{repo: repo, embed: embed, vectorDim: vectorDim, now: time.Now}
}

// Upsert validates and stores a chunk, embedding its content when vector is nil.
// Replacing an existing chunk bumps its version.
func (s *Service) Upsert(
	ctx context.Context, id, content string, metadata map[string]any, vector []float32,
) (c domchunk.Chunk, created bool, err error) {
	c, err = domchunk.New(id, content, metadata)
	if err != nil {
		return domchunk.Chunk{}, false, domain.NewValidationError("chunk", err.Error())
	}

	if vector == nil {
		if s.embed == nil {
			return domchunk.Chunk{}, false, domain.NewValidationError("vector", "required when no embedding provider is configured")
		}
		res, err := s.embed.Embed(ctx, content)
		if err != nil {
			return domchunk.Chunk{}, false, fmt.Errorf("vectorize chunk: %w", err)
		}
		vector = res.Embedding
	}
	if err := domain.CheckDimensions(vector, s.vectorDim); err != nil {
		return domchunk.Chunk{}, false, fmt.Errorf("chunk %s: %w", id, err)
	}

	version := 1
	prev, err := s.repo.Get(ctx, id)
	switch {
	case err == nil:
		version = prev.Version() + 1
	case errors.Is(err, domain.ErrNotFound):
		created = true
	default:
		return domchunk.Chunk{}, false, storeErr("get chunk", err)
	}

	c = c.WithEmbedding(vector)
	c = c.Stamp(version, s.now().UTC())
	if err := s.repo.Save(ctx, &c); err != nil {
		return domchunk.Chunk{}, false, storeErr("save chunk", err)
	}
	return c, created, nil
}

// Get retrieves a chunk by ID.
func (s *Service) Get(ctx context.Context, id string) (domchunk.Chunk, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return domchunk.Chunk{}, storeErr("get chunk", err)
	}
	return c, nil
}

// Delete removes a chunk. Cached result pages keep serving it until they expire.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return storeErr("delete chunk", err)
	}
	return nil
}

// storeErr keeps domain classes and tags everything else as a store failure.
func storeErr(op string, err error) error {
	if domain.Kind(err) != domain.KindInternal || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStoreUnavailable, err)
}
