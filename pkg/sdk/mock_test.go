package vecrank

import (
	"context"
	"time"

	dombatch "github.com/kailas-cloud/vecrank/internal/domain/batch"
	domchunk "github.com/kailas-cloud/vecrank/internal/domain/chunk"
	domindex "github.com/kailas-cloud/vecrank/internal/domain/index"
	"github.com/kailas-cloud/vecrank/internal/domain/search/request"
	batchuc "github.com/kailas-cloud/vecrank/internal/usecase/batch"
	healthuc "github.com/kailas-cloud/vecrank/internal/usecase/health"
	searchuc "github.com/kailas-cloud/vecrank/internal/usecase/search"
	"github.com/kailas-cloud/vecrank/internal/usecase/telemetry"
)

// --- searchUseCase mock ---

type mockSearchUC struct {
	searchFn func(ctx context.Context, req *request.Request, requestID string) (*searchuc.Response, error)
}

func (m *mockSearchUC) Search(ctx context.Context, req *request.Request, requestID string) (*searchuc.Response, error) {
	return m.searchFn(ctx, req, requestID)
}

// --- batchUseCase mock ---

type mockBatchUC struct {
	upsertFn func(items []batchuc.Item) []dombatch.Result
	deleteFn func(ids []string) []dombatch.Result
}

func (m *mockBatchUC) Upsert(_ context.Context, items []batchuc.Item) []dombatch.Result {
	return m.upsertFn(items)
}

func (m *mockBatchUC) Delete(_ context.Context, ids []string) []dombatch.Result {
	return m.deleteFn(ids)
}

// --- chunkUseCase mock ---

type mockChunkUC struct {
	upsertFn func(ctx context.Context, id, content string, md map[string]any, vec []float32) (domchunk.Chunk, bool, error)
	getFn    func(ctx context.Context, id string) (domchunk.Chunk, error)
	deleteFn func(ctx context.Context, id string) error
}

func (m *mockChunkUC) Upsert(
	ctx context.Context, id, content string, md map[string]any, vec []float32,
) (domchunk.Chunk, bool, error) {
	return m.upsertFn(ctx, id, content, md, vec)
}

func (m *mockChunkUC) Get(ctx context.Context, id string) (domchunk.Chunk, error) {
	return m.getFn(ctx, id)
}

func (m *mockChunkUC) Delete(ctx context.Context, id string) error {
	return m.deleteFn(ctx, id)
}

// --- indexUseCase mock ---

type mockIndexUC struct {
	infoFn      func(ctx context.Context) (domindex.State, error)
	rebuildFn   func(ctx context.Context, kind domindex.Kind) (domindex.State, error)
	recommendFn func(corpusSize, updatesPerDay int) (domindex.Recommendation, error)
}

func (m *mockIndexUC) Info(ctx context.Context) (domindex.State, error) { return m.infoFn(ctx) }

func (m *mockIndexUC) Rebuild(ctx context.Context, kind domindex.Kind) (domindex.State, error) {
	return m.rebuildFn(ctx, kind)
}

func (m *mockIndexUC) Recommend(corpusSize, updatesPerDay int) (domindex.Recommendation, error) {
	return m.recommendFn(corpusSize, updatesPerDay)
}

// --- healthUseCase mock ---

type mockHealthUC struct {
	report healthuc.Report
}

func (m *mockHealthUC) Check(context.Context) healthuc.Report { return m.report }

// --- statsSource mock ---

type mockStats struct {
	summary telemetry.Summary
}

func (m *mockStats) Summary() telemetry.Summary { return m.summary }

// --- embedder mock ---

type mockEmbedder struct {
	fn func(ctx context.Context, text string) (EmbeddingResult, error)
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) (EmbeddingResult, error) {
	return m.fn(ctx, text)
}

// --- helpers ---

var testDefaults = request.Defaults{
	Weights:           request.Weights{Similarity: 1},
	MaxResults:        10,
	MaxResultsCeiling: 100,
}

func testClient(searchSvc searchUseCase, chunkSvc chunkUseCase, indexSvc indexUseCase) *Client {
	return &Client{
		defaults:  testDefaults,
		searchSvc: searchSvc,
		chunkSvc:  chunkSvc,
		indexSvc:  indexSvc,
		healthSvc: &mockHealthUC{},
		stats:     &mockStats{},
	}
}

func storedChunk(id string, version int) domchunk.Chunk {
	c, err := domchunk.New(id, "content of "+id, map[string]any{"department": "IT"})
	if err != nil {
		panic(err)
	}
	c = c.WithEmbedding([]float32{1, 0})
	return c.Stamp(version, time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
}
