package index

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/vecrank/internal/domain"
	domindex "github.com/kailas-cloud/vecrank/internal/domain/index"
	indexrepo "github.com/kailas-cloud/vecrank/internal/repository/index"
)

// Service manages the lifecycle of the vector index.
type Service struct {
	repo           Repository
	kind           domindex.Kind
	fallbackToFlat bool
	logger         *zap.Logger
	now            func() time.Time

	mu     sync.RWMutex
	active domindex.Kind
}

// New creates an index service for the configured kind.
func New(repo Repository, kind domindex.Kind, fallbackToFlat bool, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:           repo,
		kind:           kind,
		fallbackToFlat: fallbackToFlat,
		logger:         logger,
		now:            time.Now,
	}
}

// Ensure creates the index with the configured kind if it does not exist. Idempotent.
func (s *Service) Ensure(ctx context.Context) (domindex.State, error) {
	exists, err := s.repo.Exists(ctx)
	if err != nil {
		return domindex.State{}, fmt.Errorf("ensure index: %w", err)
	}
	if exists {
		meta, ok, err := s.repo.LoadMeta(ctx)
		if err != nil {
			s.logger.Warn("Index metadata unreadable", zap.String("index", s.repo.Name()), zap.Error(err))
		}
		active := s.kind
		if ok {
			active = meta.Active
		}
		s.setActive(active)
		return s.Info(ctx)
	}

	if err := s.build(ctx, s.kind); err != nil {
		return domindex.State{}, fmt.Errorf("ensure index: %w", err)
	}
	return s.Info(ctx)
}

// Rebuild drops the index, keeping chunk data, and recreates it with kind.
// An unsupported kind fails before anything is dropped.
func (s *Service) Rebuild(ctx context.Context, kind domindex.Kind) (domindex.State, error) {
	if _, _, err := s.resolve(kind); err != nil {
		return domindex.State{}, fmt.Errorf("rebuild index: %w", err)
	}
	if err := s.repo.Drop(ctx); err != nil {
		return domindex.State{}, fmt.Errorf("rebuild index: %w", err)
	}
	s.setActive("")

	if err := s.build(ctx, kind); err != nil {
		return domindex.State{}, fmt.Errorf("rebuild index: %w", err)
	}

	s.logger.Info("Index rebuilt",
		zap.String("index", s.repo.Name()),
		zap.String("requested", string(kind)),
		zap.String("active", string(s.ActiveKind())),
	)
	return s.Info(ctx)
}

// Info reports the live index state.
func (s *Service) Info(ctx context.Context) (domindex.State, error) {
	state := domindex.State{Name: s.repo.Name()}

	exists, err := s.repo.Exists(ctx)
	if err != nil {
		return domindex.State{}, fmt.Errorf("index info: %w", err)
	}
	if !exists {
		return state, nil
	}
	state.Exists = true

	info, err := s.repo.Info(ctx)
	if err != nil {
		return domindex.State{}, fmt.Errorf("index info: %w", err)
	}
	state.NumDocs = info.NumDocs
	state.Indexing = info.Indexing

	meta, ok, err := s.repo.LoadMeta(ctx)
	if err != nil {
		return domindex.State{}, fmt.Errorf("index info: %w", err)
	}
	if ok {
		state.Requested = meta.Requested
		state.Active = meta.Active
		state.Fallback = meta.Fallback
		state.Params = meta.Params
	} else {
		state.Active = s.ActiveKind()
		state.Params = s.repo.Params().For(state.Active)
	}
	return state, nil
}

// Recommend suggests an index kind for a corpus.
func (s *Service) Recommend(corpusSize, updatesPerDay int) (domindex.Recommendation, error) {
	rec, err := domindex.Recommend(corpusSize, updatesPerDay)
	if err != nil {
		return domindex.Recommendation{}, domain.NewValidationError("corpus_size", err.Error())
	}
	return rec, nil
}

// ActiveKind returns the kind the index was built with, empty if unknown.
func (s *Service) ActiveKind() domindex.Kind {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// EFRuntime returns the query-time graph parameter, or 0 when the active index is not a graph.
func (s *Service) EFRuntime() int {
	if s.ActiveKind() != domindex.KindHNSW {
		return 0
	}
	return s.repo.Params().EFRuntime
}

func (s *Service) build(ctx context.Context, requested domindex.Kind) error {
	active, fallback, err := s.resolve(requested)
	if err != nil {
		return err
	}
	if err := s.repo.Create(ctx, active); err != nil {
		return err
	}
	s.setActive(active)

	meta := indexrepo.Meta{
		Requested: requested,
		Active:    active,
		Fallback:  fallback,
		Params:    s.repo.Params().For(active),
		BuiltAt:   s.now().UTC(),
	}
	if err := s.repo.SaveMeta(ctx, meta); err != nil {
		s.logger.Warn("Index metadata not saved", zap.String("index", s.repo.Name()), zap.Error(err))
	}
	return nil
}

// resolve applies the fallback policy for kinds the backend cannot build.
func (s *Service) resolve(kind domindex.Kind) (domindex.Kind, bool, error) {
	if s.repo.Supports(kind) {
		return kind, false, nil
	}
	if !s.fallbackToFlat {
		return "", false, &domain.IndexUnavailableError{
			Kind:   string(kind),
			Reason: "not supported by the backend",
		}
	}
	s.logger.Warn("Index kind not supported, falling back to flat",
		zap.String("index", s.repo.Name()),
		zap.String("requested", string(kind)),
	)
	return domindex.KindFlat, true, nil
}

func (s *Service) setActive(k domindex.Kind) {
	s.mu.Lock()
	s.active = k
	s.mu.Unlock()
}
