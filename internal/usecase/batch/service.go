package batch

import (
	"context"
	"errors"
	"fmt"

	"github.com/kailas-cloud/vecrank/internal/domain"
	dombatch "github.com/kailas-cloud/vecrank/internal/domain/batch"
)

// MaxBatchSize is the maximum number of items per batch request.
const MaxBatchSize = 100

// Item is one chunk to upsert. A nil Vector means the content gets embedded.
type Item struct {
	ID       string
	Content  string
	Metadata map[string]any
	Vector   []float32
}

// Service handles batch chunk operations with per-item error reporting.
type Service struct {
	chunks       ChunkWriter
	maxBatchSize int
}

// New creates a batch service.
func New(chunks ChunkWriter) *Service {
	return &Service{chunks: chunks, maxBatchSize: MaxBatchSize}
}

// WithMaxBatchSize configures the maximum batch size.
func (s *Service) WithMaxBatchSize(size int) *Service {
	if size > 0 {
		s.maxBatchSize = size
	}
	return s
}

// MaxBatchSize returns the configured limit.
func (s *Service) MaxBatchSize() int { return s.maxBatchSize }

// Upsert creates or replaces chunks one by one. Once an item fails in a way that
// would fail every later item too, the rest of the batch is reported with that error.
func (s *Service) Upsert(ctx context.Context, items []Item) []dombatch.Result {
	results := make([]dombatch.Result, len(items))
	if s.oversized(len(items)) {
		for i := range items {
			results[i] = dombatch.NewError(items[i].ID, s.sizeErr())
		}
		return results
	}

	seen := make(map[string]struct{}, len(items))
	for i := range items {
		item := &items[i]
		if _, dup := seen[item.ID]; dup {
			results[i] = dombatch.NewError(item.ID, domain.NewValidationError("id", "duplicated in batch"))
			continue
		}
		seen[item.ID] = struct{}{}

		c, _, err := s.chunks.Upsert(ctx, item.ID, item.Content, item.Metadata, item.Vector)
		if err != nil {
			results[i] = dombatch.NewError(item.ID, fmt.Errorf("upsert: %w", err))
			if aborts(err) {
				cascade(results, i+1, func(j int) string { return items[j].ID }, err)
				return results
			}
			continue
		}
		results[i] = dombatch.NewOK(item.ID, c.Version())
	}
	return results
}

// Delete removes chunks by ID.
func (s *Service) Delete(ctx context.Context, ids []string) []dombatch.Result {
	results := make([]dombatch.Result, len(ids))
	if s.oversized(len(ids)) {
		for i, id := range ids {
			results[i] = dombatch.NewError(id, s.sizeErr())
		}
		return results
	}

	for i, id := range ids {
		if err := s.chunks.Delete(ctx, id); err != nil {
			results[i] = dombatch.NewError(id, fmt.Errorf("delete: %w", err))
			if aborts(err) {
				cascade(results, i+1, func(j int) string { return ids[j] }, err)
				return results
			}
			continue
		}
		results[i] = dombatch.NewOK(id, 0)
	}
	return results
}

func (s *Service) oversized(n int) bool { return n > s.maxBatchSize }

func (s *Service) sizeErr() error {
	return domain.NewValidationError("items", fmt.Sprintf("batch size exceeds %d", s.maxBatchSize))
}

// aborts reports errors that no later item can recover from.
func aborts(err error) bool {
	return errors.Is(err, domain.ErrRateLimited) ||
		errors.Is(err, domain.ErrStoreUnavailable) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func cascade(results []dombatch.Result, from int, id func(int) string, err error) {
	for j := from; j < len(results); j++ {
		results[j] = dombatch.NewError(id(j), fmt.Errorf("skipped: %w", err))
	}
}
