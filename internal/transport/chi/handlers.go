package chi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	gochi "github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.uber.org/zap"

	"github.com/kailas-cloud/vecrank/internal/domain"
	dombatch "github.com/kailas-cloud/vecrank/internal/domain/batch"
	domindex "github.com/kailas-cloud/vecrank/internal/domain/index"
	"github.com/kailas-cloud/vecrank/internal/domain/search/request"
	"github.com/kailas-cloud/vecrank/internal/logger"
	batchuc "github.com/kailas-cloud/vecrank/internal/usecase/batch"
	healthuc "github.com/kailas-cloud/vecrank/internal/usecase/health"
)

// handleSearch handles POST /v1/search.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var body searchRequest
	if err := decode(r, &body); err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	req, err := request.New(body.QueryText, body.Filters, body.Config.overrides(),
		request.Caller{Department: body.Context.Department}, body.Offset, s.deps.Defaults)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	resp, err := s.deps.Search.Search(r.Context(), &req, requestID(r))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	annotate(r, func(e *event) {
		e.fromCache = resp.FromCache
		e.results = resp.Count
	})
	render.JSON(w, r, searchResponseFrom(resp))
}

// handleHealth handles GET /health. It serves the background report unless ?fresh=true.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report, ok := s.deps.Health.Latest()
	if !ok || r.URL.Query().Get("fresh") == "true" {
		report = s.deps.Health.Check(r.Context())
	}

	status := http.StatusOK
	if report.Status == healthuc.Unhealthy {
		status = http.StatusServiceUnavailable
	}
	render.Status(r, status)
	render.JSON(w, r, healthResponseFrom(report))
}

// handleLive handles GET /health/live.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "ok"})
}

// handleStats handles GET /v1/stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{Summary: summaryFrom(s.deps.Stats.Summary())}
	if s.deps.PoolStats != nil {
		ps := s.deps.PoolStats()
		resp.Pool = &ps
	}
	render.JSON(w, r, resp)
}

// handleUpsertChunk handles PUT /v1/chunks/{id}.
func (s *Server) handleUpsertChunk(w http.ResponseWriter, r *http.Request) {
	var body chunkRequest
	if err := decode(r, &body); err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	id := gochi.URLParam(r, "id")
	c, created, err := s.deps.Chunks.Upsert(r.Context(), id, body.Content, body.Metadata, body.Vector)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	if created {
		w.Header().Set("Location", "/v1/chunks/"+id)
		render.Status(r, http.StatusCreated)
	}
	render.JSON(w, r, chunkResponseFrom(&c))
}

// handleGetChunk handles GET /v1/chunks/{id}.
func (s *Server) handleGetChunk(w http.ResponseWriter, r *http.Request) {
	c, err := s.deps.Chunks.Get(r.Context(), gochi.URLParam(r, "id"))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	render.JSON(w, r, chunkResponseFrom(&c))
}

// handleDeleteChunk handles DELETE /v1/chunks/{id}.
func (s *Server) handleDeleteChunk(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Chunks.Delete(r.Context(), gochi.URLParam(r, "id")); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleClearCache handles POST /v1/admin/cache/clear.
func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cache == nil {
		render.JSON(w, r, map[string]int{"cleared": 0})
		return
	}
	n, err := s.deps.Cache.Clear(r.Context())
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]int{"cleared": n})
}

// handleIndexInfo handles GET /v1/admin/index.
func (s *Server) handleIndexInfo(w http.ResponseWriter, r *http.Request) {
	state, err := s.deps.Index.Info(r.Context())
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	render.JSON(w, r, state)
}

// handleIndexRebuild handles POST /v1/admin/index/rebuild.
func (s *Server) handleIndexRebuild(w http.ResponseWriter, r *http.Request) {
	var body rebuildRequest
	if err := decode(r, &body); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	kind, err := domindex.ParseKind(body.Kind)
	if err != nil {
		s.handleDomainError(w, r, domain.NewValidationError("kind", err.Error()))
		return
	}

	state, err := s.deps.Index.Rebuild(r.Context(), kind)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	render.JSON(w, r, state)
}

// handleIndexRecommend handles GET /v1/admin/index/recommend.
func (s *Server) handleIndexRecommend(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	size, err := intParam(q.Get("corpus_size"), "corpus_size", true)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	updates, err := intParam(q.Get("updates_per_day"), "updates_per_day", false)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	rec, err := s.deps.Index.Recommend(size, updates)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	render.JSON(w, r, rec)
}

// decode reads a JSON body; any failure is a validation error on "body".
func decode(r *http.Request, v any) error {
	if err := render.DecodeJSON(r.Body, v); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return domain.NewValidationError("body", "too large")
		}
		return domain.NewValidationError("body", "invalid JSON")
	}
	return nil
}

func intParam(raw, name string, required bool) (int, error) {
	if raw == "" {
		if required {
			return 0, domain.NewValidationError(name, "is required")
		}
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domain.NewValidationError(name, "must be an integer")
	}
	return n, nil
}

// handleBatchUpsert handles POST /v1/chunks/batch.
func (s *Server) handleBatchUpsert(w http.ResponseWriter, r *http.Request) {
	var body batchUpsertRequest
	if err := decode(r, &body); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	if err := s.checkBatchSize("chunks", len(body.Chunks)); err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	items := make([]batchuc.Item, len(body.Chunks))
	for i, c := range body.Chunks {
		items[i] = batchuc.Item{ID: c.ID, Content: c.Content, Metadata: c.Metadata, Vector: c.Vector}
	}
	s.writeBatch(w, r, s.deps.Batch.Upsert(r.Context(), items))
}

// handleBatchDelete handles POST /v1/chunks/batch/delete.
func (s *Server) handleBatchDelete(w http.ResponseWriter, r *http.Request) {
	var body batchDeleteRequest
	if err := decode(r, &body); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	if err := s.checkBatchSize("ids", len(body.IDs)); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	s.writeBatch(w, r, s.deps.Batch.Delete(r.Context(), body.IDs))
}

func (s *Server) checkBatchSize(field string, n int) error {
	if limit := s.deps.Batch.MaxBatchSize(); n == 0 || n > limit {
		return domain.NewValidationError(field, fmt.Sprintf("count must be between 1 and %d", limit))
	}
	return nil
}

func (s *Server) writeBatch(w http.ResponseWriter, r *http.Request, results []dombatch.Result) {
	log := logger.FromContext(r.Context())
	for _, res := range results {
		if res.Status() == dombatch.StatusError && domain.Kind(res.Err()) == domain.KindInternal {
			log.Error("Batch item failed", zap.String("chunk_id", res.ID()), zap.Error(res.Err()))
		}
	}
	render.JSON(w, r, batchResponseFrom(results))
}
