package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kailas-cloud/vecrank/internal/config"
	"github.com/kailas-cloud/vecrank/internal/db/memory"
	"github.com/kailas-cloud/vecrank/internal/domain"
	domindex "github.com/kailas-cloud/vecrank/internal/domain/index"
)

type vectorEmbedder struct {
	vectors map[string][]float32
}

func (e *vectorEmbedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	if v, ok := e.vectors[text]; ok {
		return domain.EmbeddingResult{Embedding: v}, nil
	}
	return domain.EmbeddingResult{Embedding: []float32{0, 1}}, nil
}

const baseConfig = `
database:
  driver: memory
embedding:
  model: test-model
  dimensions: 2
index:
  kind: flat
cache:
  enabled: true
  driver: lru
`

func newApp(t *testing.T, yaml string) *App {
	t.Helper()
	cfg, err := config.Parse([]byte(yaml))
	require.NoError(t, err)

	emb := &vectorEmbedder{vectors: map[string][]float32{"password reset": {1, 0}}}
	a, err := New(context.Background(), cfg, Options{Store: memory.NewStore(), Embedder: emb})
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func post(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b)))
	return rr
}

func TestNew_EnsuresIndex(t *testing.T) {
	a := newApp(t, baseConfig)

	state, err := a.Index.Info(context.Background())
	require.NoError(t, err)
	assert.True(t, state.Exists)
	assert.Equal(t, domindex.KindFlat, state.Active)
	assert.NotNil(t, a.Cache)
	assert.Nil(t, a.Limiter)
}

func TestNew_HNSWFallsBackOnMemory(t *testing.T) {
	a := newApp(t, `
database:
  driver: memory
embedding:
  model: test-model
  dimensions: 2
index:
  kind: hnsw
  fallback_to_flat: true
`)
	state, err := a.Index.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domindex.KindFlat, state.Active)
	assert.Nil(t, a.Cache)
}

func TestNew_HNSWWithoutFallbackFails(t *testing.T) {
	cfg, err := config.Parse([]byte(`
database:
  driver: memory
embedding:
  model: test-model
  dimensions: 2
index:
  kind: hnsw
`))
	require.NoError(t, err)

	_, err = New(context.Background(), cfg, Options{Store: memory.NewStore(), Embedder: &vectorEmbedder{}})
	require.Error(t, err)
	assert.Equal(t, domain.KindIndexUnavailable, domain.Kind(err))
}

func TestHandler_SearchEndToEnd(t *testing.T) {
	a := newApp(t, baseConfig)
	ctx := context.Background()
	for id, vec := range map[string][]float32{"kb-1": {1, 0}, "kb-2": {0.8, 0.6}, "kb-3": {0, 1}} {
		_, _, err := a.Chunks.Upsert(ctx, id, "content of "+id, map[string]any{"department": "IT"}, vec)
		require.NoError(t, err)
	}
	h := a.Handler()

	rr := post(t, h, "/v1/search", map[string]any{"query_text": "password reset", "config": map[string]any{"max_results": 2}})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp struct {
		Results []struct {
			Chunk struct {
				ID string `json:"id"`
			} `json:"chunk"`
		} `json:"results"`
		Count     int  `json:"count"`
		Total     int  `json:"total"`
		FromCache bool `json:"from_cache"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "kb-1", resp.Results[0].Chunk.ID)
	assert.Equal(t, "kb-2", resp.Results[1].Chunk.ID)
	assert.False(t, resp.FromCache)

	rr = post(t, h, "/v1/search", map[string]any{"query_text": "password reset", "config": map[string]any{"max_results": 2}})
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.True(t, resp.FromCache)

	assert.Equal(t, 2, a.Stats.Summary().Total)
}

func TestHandler_HealthAndStats(t *testing.T) {
	a := newApp(t, baseConfig)
	h := a.Handler()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health?fresh=true", nil))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var health struct {
		Status string                    `json:"status"`
		Checks map[string]map[string]any `json:"checks"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.Contains(t, health.Checks, "store")
	assert.Contains(t, health.Checks, "cache")
	assert.Contains(t, health.Checks, "search")
	assert.Zero(t, a.Stats.Summary().Total, "canary searches are not query stats")

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/stats", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"pool"`)
}

func TestHandler_FixedWindowRateLimit(t *testing.T) {
	a := newApp(t, baseConfig+`
rate_limit:
  enabled: true
  strategy: fixed_window
  limit: 1
  window: 1h
`)
	require.NotNil(t, a.Limiter)
	h := a.Handler()

	assert.Equal(t, http.StatusOK, post(t, h, "/v1/search", map[string]any{"query_text": "vpn"}).Code)
	rr := post(t, h, "/v1/search", map[string]any{"query_text": "vpn"})
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))
}

func TestSchema_CustomVocabulary(t *testing.T) {
	sch, err := Schema(config.SchemaConfig{
		Fields:         []config.FieldConfig{{Name: "team", Type: "tag"}},
		Filters:        []config.FilterConfig{{Key: "team", Field: "team", Op: "equals"}},
		UnknownFilters: "ignore",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"team"}, sch.FilterKeys())

	_, err = Schema(config.SchemaConfig{Fields: []config.FieldConfig{{Name: "1bad", Type: "tag"}}})
	assert.Error(t, err)
}

func TestDefaults_FromConfig(t *testing.T) {
	cfg, err := config.Parse([]byte(baseConfig))
	require.NoError(t, err)

	d := Defaults(cfg)
	assert.InDelta(t, 0.6, d.Weights.Similarity, 1e-9)
	assert.Equal(t, 10, d.MaxResults)
	assert.Equal(t, 100, d.MaxResultsCeiling)
}

func TestHandler_BatchIngestThenSearch(t *testing.T) {
	a := newApp(t, baseConfig)
	h := a.Handler()

	rr := post(t, h, "/v1/chunks/batch", map[string]any{"chunks": []map[string]any{
		{"id": "kb-1", "content": "password reset", "metadata": map[string]any{"department": "IT"}},
		{"id": "kb-2", "content": "printer jam", "vector": []float32{0, 1}},
		{"id": "kb-3", "content": "bad vector", "vector": []float32{1, 0, 0}},
	}})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var batch struct {
		Succeeded int `json:"succeeded"`
		Failed    int `json:"failed"`
		Items     []struct {
			ID        string `json:"id"`
			ErrorKind string `json:"error_kind"`
		} `json:"items"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&batch))
	assert.Equal(t, 2, batch.Succeeded)
	assert.Equal(t, 1, batch.Failed)
	assert.Equal(t, string(domain.KindValidation), batch.Items[2].ErrorKind)

	rr = post(t, h, "/v1/search", map[string]any{"query_text": "password reset", "config": map[string]any{"max_results": 1}})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), `"id":"kb-1"`)

	rr = post(t, h, "/v1/chunks/batch/delete", map[string]any{"ids": []string{"kb-1", "kb-2"}})
	require.Equal(t, http.StatusOK, rr.Code)
	_, err := a.Chunks.Get(context.Background(), "kb-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
