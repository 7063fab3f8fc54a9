package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MayankTamakuwala/HERMES/internal/hermes"
	"github.com/MayankTamakuwala/HERMES/internal/index"
	"github.com/MayankTamakuwala/HERMES/internal/pipeline"
	"github.com/MayankTamakuwala/HERMES/internal/store"
	"github.com/MayankTamakuwala/HERMES/internal/store/dense"
	"github.com/MayankTamakuwala/HERMES/internal/store/sparse"
)

type fakeQueryEmbedder struct{}

func (fakeQueryEmbedder) Get(ctx context.Context, query string) ([]float32, error) {
	return []float32{1, 0}, nil
}

type fakeCrossEncoder struct{}

func (fakeCrossEncoder) ModelName() string { return "fake-cross-encoder" }
func (fakeCrossEncoder) Score(ctx context.Context, pairs [][2]string, batchSize int) ([]float32, error) {
	out := make([]float32, len(pairs))
	for i := range out {
		out[i] = 1
	}
	return out, nil
}

func newTestServer(t *testing.T, loaded bool) *Server {
	t.Helper()
	orch := index.New(t.TempDir(), nil, index.Config{})
	reloadable := &pipeline.Reloadable{}

	if loaded {
		dir := t.TempDir()
		meta, err := store.OpenMetadataStore(filepath.Join(dir, "metadata.db"))
		require.NoError(t, err)
		t.Cleanup(func() { meta.Close() })

		chunks := []hermes.Chunk{
			{ChunkID: 0, FilePath: "a.go", Language: "go", StartLine: 1, EndLine: 3, SymbolName: "Foo", CodeText: "func Foo() {}"},
		}
		require.NoError(t, meta.InsertMany(context.Background(), chunks))

		d := dense.NewFlat(2)
		require.NoError(t, d.Build([][]float32{{1, 0}}))

		s := sparse.New(sparse.DefaultK1, sparse.DefaultB)
		require.NoError(t, s.Build([][]string{sparse.Tokenize(chunks[0].CodeText)}))

		reloadable.Set(pipeline.New(meta, d, s, fakeQueryEmbedder{}, fakeCrossEncoder{}, pipeline.Config{RerankTimeout: time.Second}))
	}

	return New(reloadable, orch)
}

func doRequest(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth_AlwaysOK(t *testing.T) {
	s := newTestServer(t, false)
	rec := doRequest(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleIndexCheck_ReflectsPipelineState(t *testing.T) {
	unloaded := newTestServer(t, false)
	rec := doRequest(t, unloaded, http.MethodGet, "/index/check", nil)
	var body map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body["has_index"])

	loaded := newTestServer(t, true)
	rec = doRequest(t, loaded, http.MethodGet, "/index/check", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body["has_index"])
}

func TestHandleSearch_NoIndexLoadedReturns400WithExactBody(t *testing.T) {
	s := newTestServer(t, false)
	rec := doRequest(t, s, http.MethodPost, "/search", map[string]string{"query": "foo"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "No index loaded. Please index a repository first.", body["detail"])
}

func TestHandleSearch_ReturnsRankedResults(t *testing.T) {
	s := newTestServer(t, true)
	rec := doRequest(t, s, http.MethodPost, "/search", map[string]any{
		"query":          "Foo",
		"retrieval_mode": "hybrid",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp pipeline.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "a.go", resp.Results[0].FilePath)
}

func TestHandleStats_NoIndexLoadedReturns400(t *testing.T) {
	s := newTestServer(t, false)
	rec := doRequest(t, s, http.MethodGet, "/stats", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleStats_ReportsChunkCount(t *testing.T) {
	s := newTestServer(t, true)
	rec := doRequest(t, s, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(1), body["n_chunks"])
	assert.Equal(t, "hybrid", body["retrieval_mode"])
	assert.NotContains(t, body, "top_k_retrieve")
	assert.NotContains(t, body, "top_k_rerank")
	assert.NotContains(t, body, "rerank_timeout_seconds")
}

func TestHandleSearch_OmittedReturnSnippetsDefaultsTrue(t *testing.T) {
	s := newTestServer(t, true)
	rec := doRequest(t, s, http.MethodPost, "/search", map[string]any{
		"query":          "Foo",
		"retrieval_mode": "hybrid",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp pipeline.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.NotEmpty(t, resp.Results[0].CodeSnippet)
}

func TestHandleSearch_ExplicitFalseReturnSnippetsOmitsSnippet(t *testing.T) {
	s := newTestServer(t, true)
	rec := doRequest(t, s, http.MethodPost, "/search", map[string]any{
		"query":           "Foo",
		"retrieval_mode":  "hybrid",
		"return_snippets": false,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp pipeline.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Empty(t, resp.Results[0].CodeSnippet)
}

func TestHandleSearch_UnknownRetrievalModeReturns400(t *testing.T) {
	s := newTestServer(t, true)
	rec := doRequest(t, s, http.MethodPost, "/search", map[string]any{
		"query":          "Foo",
		"retrieval_mode": "bogus",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSearch_OutOfRangeTopKReturns400(t *testing.T) {
	s := newTestServer(t, true)
	rec := doRequest(t, s, http.MethodPost, "/search", map[string]any{
		"query":          "Foo",
		"retrieval_mode": "hybrid",
		"top_k_retrieve": 5000,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleIndexStart_RequiresRepoPath(t *testing.T) {
	s := newTestServer(t, false)
	rec := doRequest(t, s, http.MethodPost, "/index", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleReloadIndex_NoIndexLoadedReturns400(t *testing.T) {
	s := newTestServer(t, false)
	rec := doRequest(t, s, http.MethodPost, "/reload-index", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
