package vecrank

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kailas-cloud/vecrank/internal/app"
	"github.com/kailas-cloud/vecrank/internal/config"
	"github.com/kailas-cloud/vecrank/internal/domain"
	dombatch "github.com/kailas-cloud/vecrank/internal/domain/batch"
	domchunk "github.com/kailas-cloud/vecrank/internal/domain/chunk"
	domindex "github.com/kailas-cloud/vecrank/internal/domain/index"
	"github.com/kailas-cloud/vecrank/internal/domain/search/request"
	batchuc "github.com/kailas-cloud/vecrank/internal/usecase/batch"
	searchuc "github.com/kailas-cloud/vecrank/internal/usecase/search"
	"github.com/kailas-cloud/vecrank/internal/usecase/telemetry"
)

const defaultDimensions = 1024

// Internal interfaces for substitution in tests.
type searchUseCase interface {
	Search(ctx context.Context, req *request.Request, requestID string) (*searchuc.Response, error)
}

type chunkUseCase interface {
	Upsert(
		ctx context.Context, id, content string, metadata map[string]any, vector []float32,
	) (domchunk.Chunk, bool, error)
	Get(ctx context.Context, id string) (domchunk.Chunk, error)
	Delete(ctx context.Context, id string) error
}

type batchUseCase interface {
	Upsert(ctx context.Context, items []batchuc.Item) []dombatch.Result
	Delete(ctx context.Context, ids []string) []dombatch.Result
}

type indexUseCase interface {
	Info(ctx context.Context) (domindex.State, error)
	Rebuild(ctx context.Context, kind domindex.Kind) (domindex.State, error)
	Recommend(corpusSize, updatesPerDay int) (domindex.Recommendation, error)
}

type statsSource interface {
	Summary() telemetry.Summary
}

type cacheClearer interface {
	Clear(ctx context.Context) (int, error)
}

// Client is the vecrank SDK entry point.
type Client struct {
	app       *app.App
	defaults  request.Defaults
	searchSvc searchUseCase
	chunkSvc  chunkUseCase
	batchSvc  batchUseCase
	indexSvc  indexUseCase
	healthSvc healthUseCase
	stats     statsSource
	cache     cacheClearer // nil when the result cache is disabled
	obs       *observer
}

// New creates a vecrank Client, connects to the store and ensures the vector index.
// The provided context is used for the readiness check and index creation.
func New(ctx context.Context, opts ...Option) (*Client, error) {
	cc := &clientConfig{}
	for _, o := range opts {
		o.apply(cc)
	}

	cfg, err := buildConfig(cc)
	if err != nil {
		return nil, err
	}

	obs, err := newObserver(cc.logger, cc.metricsReg)
	if err != nil {
		return nil, err
	}

	// nil interface, not a nil *embedderAdapter
	var emb domain.Embedder
	if cc.embedder != nil {
		emb = &embedderAdapter{inner: cc.embedder}
	}

	a, err := app.New(ctx, cfg, app.Options{Embedder: emb})
	if err != nil {
		return nil, fmt.Errorf("vecrank: %w", err)
	}
	return newClient(a, obs), nil
}

func newClient(a *app.App, obs *observer) *Client {
	c := &Client{
		app:       a,
		defaults:  a.Defaults(),
		searchSvc: a.Search,
		chunkSvc:  a.Chunks,
		batchSvc:  a.Batch,
		indexSvc:  a.Index,
		healthSvc: a.Health,
		stats:     a.Stats,
		obs:       obs,
	}
	if a.Cache != nil {
		c.cache = a.Cache
	}
	return c
}

// buildConfig starts from the config file, if any, and applies the options on top.
func buildConfig(cc *clientConfig) (config.Config, error) {
	var cfg config.Config
	var err error
	switch {
	case cc.configFile != "":
		cfg, err = config.LoadFile(cc.configFile)
	case cc.configEnv != "":
		cfg, err = config.Load(cc.configEnv)
	}
	if err != nil {
		return config.Config{}, fmt.Errorf("vecrank: %w", err)
	}

	if cc.driver != "" {
		cfg.Database.Driver = cc.driver
		cfg.Database.Addrs = cc.addrs
		cfg.Database.Password = cc.password
	}
	if cc.standalone {
		cfg.Database.Standalone = true
	}
	if cfg.Database.Driver == "" {
		return config.Config{}, errors.New("vecrank: database required (use WithValkey, WithRedis or WithMemory)")
	}

	if cc.dimensions > 0 {
		cfg.Embedding.Dimensions = cc.dimensions
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = defaultDimensions
	}
	if cc.embedder != nil && cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "external"
	}

	if cc.indexKind != "" {
		cfg.Index.Kind = string(cc.indexKind)
	}
	switch {
	case cc.fallbackToFlat != nil:
		cfg.Index.FallbackToFlat = *cc.fallbackToFlat
	case cfg.Database.Driver == "memory":
		cfg.Index.FallbackToFlat = true
	}
	if cc.cacheDriver != "" {
		cfg.Cache.Enabled = true
		cfg.Cache.Driver = cc.cacheDriver
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("vecrank: invalid config: %w", err)
	}
	return cfg, nil
}

// Close releases all resources.
func (c *Client) Close() {
	if c.app != nil {
		c.app.Close()
	}
}

// Search ranks chunks against q.
func (c *Client) Search(ctx context.Context, q Query) (resp SearchResponse, err error) {
	start := time.Now()
	defer func() { c.obs.observe("search", start, err) }()

	req, err := request.New(q.Text, q.Filters, request.Overrides{
		SimilarityWeight:    q.SimilarityWeight,
		PriorityWeight:      q.PriorityWeight,
		PopularityWeight:    q.PopularityWeight,
		RecencyWeight:       q.RecencyWeight,
		DepartmentWeight:    q.DepartmentWeight,
		SimilarityThreshold: q.SimilarityThreshold,
		MaxResults:          q.MaxResults,
	}, request.Caller{Department: q.Department}, q.Offset, c.defaults)
	if err != nil {
		return SearchResponse{}, fmt.Errorf("search: %w", err)
	}

	out, err := c.searchSvc.Search(ctx, &req, uuid.NewString())
	if err != nil {
		return SearchResponse{}, fmt.Errorf("search: %w", err)
	}
	return searchResponseFromDomain(out), nil
}

// Upsert stores a chunk, embedding its content when no vector is given.
// Reports whether the chunk was created.
func (c *Client) Upsert(ctx context.Context, ch Chunk) (info ChunkInfo, created bool, err error) {
	start := time.Now()
	defer func() { c.obs.observe("chunk.upsert", start, err) }()

	stored, created, err := c.chunkSvc.Upsert(ctx, ch.ID, ch.Content, ch.Metadata, ch.Vector)
	if err != nil {
		return ChunkInfo{}, false, fmt.Errorf("upsert chunk %s: %w", ch.ID, err)
	}
	return chunkInfoFromDomain(&stored), created, nil
}

// Get returns a stored chunk.
func (c *Client) Get(ctx context.Context, id string) (info ChunkInfo, err error) {
	start := time.Now()
	defer func() { c.obs.observe("chunk.get", start, err) }()

	stored, err := c.chunkSvc.Get(ctx, id)
	if err != nil {
		return ChunkInfo{}, fmt.Errorf("get chunk %s: %w", id, err)
	}
	return chunkInfoFromDomain(&stored), nil
}

// Delete removes a chunk.
func (c *Client) Delete(ctx context.Context, id string) (err error) {
	start := time.Now()
	defer func() { c.obs.observe("chunk.delete", start, err) }()

	if err = c.chunkSvc.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete chunk %s: %w", id, err)
	}
	return nil
}

// BatchUpsert stores chunks one by one and reports each outcome in input order.
// Items after a rate limit or store failure are reported as skipped.
func (c *Client) BatchUpsert(ctx context.Context, chunks []Chunk) []BatchResult {
	start := time.Now()
	items := make([]batchuc.Item, len(chunks))
	for i, ch := range chunks {
		items[i] = batchuc.Item{ID: ch.ID, Content: ch.Content, Metadata: ch.Metadata, Vector: ch.Vector}
	}
	results := c.batchSvc.Upsert(ctx, items)
	c.obs.observe("chunk.batch_upsert", start, nil)
	return fromBatchResults(results)
}

// BatchDelete removes chunks by ID.
func (c *Client) BatchDelete(ctx context.Context, ids []string) []BatchResult {
	start := time.Now()
	results := c.batchSvc.Delete(ctx, ids)
	c.obs.observe("chunk.batch_delete", start, nil)
	return fromBatchResults(results)
}

// IndexInfo describes the vector index.
func (c *Client) IndexInfo(ctx context.Context) (info IndexInfo, err error) {
	start := time.Now()
	defer func() { c.obs.observe("index.info", start, err) }()

	state, err := c.indexSvc.Info(ctx)
	if err != nil {
		return IndexInfo{}, fmt.Errorf("index info: %w", err)
	}
	return indexInfoFromDomain(state), nil
}

// RebuildIndex recreates the vector index with another algorithm. Stored chunks are kept.
func (c *Client) RebuildIndex(ctx context.Context, kind IndexKind) (info IndexInfo, err error) {
	start := time.Now()
	defer func() { c.obs.observe("index.rebuild", start, err) }()

	k, err := domindex.ParseKind(string(kind))
	if err != nil {
		return IndexInfo{}, fmt.Errorf("rebuild index: %w", domain.NewValidationError("kind", err.Error()))
	}
	state, err := c.indexSvc.Rebuild(ctx, k)
	if err != nil {
		return IndexInfo{}, fmt.Errorf("rebuild index: %w", err)
	}
	return indexInfoFromDomain(state), nil
}

// RecommendIndex advises an index kind for a corpus size and daily update volume.
func (c *Client) RecommendIndex(corpusSize, updatesPerDay int) (IndexRecommendation, error) {
	rec, err := c.indexSvc.Recommend(corpusSize, updatesPerDay)
	if err != nil {
		return IndexRecommendation{}, fmt.Errorf("recommend index: %w", err)
	}
	return IndexRecommendation{Kind: IndexKind(rec.Kind), Reason: rec.Reason}, nil
}

// ClearCache drops cached search results and returns how many were removed.
func (c *Client) ClearCache(ctx context.Context) (n int, err error) {
	if c.cache == nil {
		return 0, nil
	}
	start := time.Now()
	defer func() { c.obs.observe("cache.clear", start, err) }()

	if n, err = c.cache.Clear(ctx); err != nil {
		return n, fmt.Errorf("clear cache: %w", err)
	}
	return n, nil
}

// Stats summarizes recent searches.
func (c *Client) Stats() Stats {
	s := c.stats.Summary()
	return Stats{
		Total:      s.Total,
		Hits:       s.Hits,
		Misses:     s.Misses,
		Errors:     s.Errors,
		HitRatio:   s.HitRatio,
		AvgLatency: s.AvgLatency,
		P50:        s.P50,
		P95:        s.P95,
		P99:        s.P99,
		AvgResults: s.AvgResults,
	}
}

// embedderAdapter wraps public Embedder to satisfy internal domain.Embedder.
type embedderAdapter struct {
	inner Embedder
}

func (a *embedderAdapter) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	r, err := a.inner.Embed(ctx, text)
	if err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("embed: %w", err)
	}
	return domain.EmbeddingResult{
		Embedding:    r.Embedding,
		PromptTokens: r.PromptTokens,
		TotalTokens:  r.TotalTokens,
	}, nil
}
