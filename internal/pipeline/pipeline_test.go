package pipeline

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MayankTamakuwala/HERMES/internal/hermes"
)

var errChunkNotFound = errors.New("missing chunk")

// fakeMetadata is an in-memory hermes.MetadataStore for pipeline tests.
type fakeMetadata struct {
	chunks []hermes.Chunk
}

func (m *fakeMetadata) InsertMany(ctx context.Context, chunks []hermes.Chunk) error {
	m.chunks = chunks
	return nil
}

func (m *fakeMetadata) Get(ctx context.Context, id int) (hermes.Chunk, bool, error) {
	if id < 0 || id >= len(m.chunks) {
		return hermes.Chunk{}, false, nil
	}
	return m.chunks[id], true, nil
}

func (m *fakeMetadata) GetMany(ctx context.Context, ids []int) ([]hermes.Chunk, error) {
	out := make([]hermes.Chunk, len(ids))
	for i, id := range ids {
		c, ok, _ := m.Get(ctx, id)
		if !ok {
			return nil, errChunkNotFound
		}
		out[i] = c
	}
	return out, nil
}

func (m *fakeMetadata) Count(ctx context.Context) (int, error) { return len(m.chunks), nil }

func (m *fakeMetadata) FilterIDs(ctx context.Context, language, pathPrefix string) (map[int]struct{}, error) {
	ids := make(map[int]struct{})
	for _, c := range m.chunks {
		if language != "" && c.Language != language {
			continue
		}
		if pathPrefix != "" && !hasPrefix(c.FilePath, pathPrefix) {
			continue
		}
		ids[c.ChunkID] = struct{}{}
	}
	return ids, nil
}

func (m *fakeMetadata) Close() error { return nil }

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// fakeDense returns preconfigured results regardless of the query vector.
type fakeDense struct {
	results []hermes.ScoredChunk
}

func (d *fakeDense) Build(vectors [][]float32) error { return nil }
func (d *fakeDense) Search(query []float32, k int) ([]hermes.ScoredChunk, error) {
	if k < len(d.results) {
		return append([]hermes.ScoredChunk{}, d.results[:k]...), nil
	}
	return append([]hermes.ScoredChunk{}, d.results...), nil
}
func (d *fakeDense) Save(path string) error { return nil }
func (d *fakeDense) Load(path string) error { return nil }
func (d *fakeDense) Len() int               { return len(d.results) }

type fakeSparse struct {
	results []hermes.ScoredChunk
}

func (s *fakeSparse) Build(docs [][]string) error { return nil }
func (s *fakeSparse) Search(tokens []string, k int) ([]hermes.ScoredChunk, error) {
	if k < len(s.results) {
		return append([]hermes.ScoredChunk{}, s.results[:k]...), nil
	}
	return append([]hermes.ScoredChunk{}, s.results...), nil
}
func (s *fakeSparse) Save(path string) error { return nil }
func (s *fakeSparse) Load(path string) error { return nil }
func (s *fakeSparse) Len() int               { return len(s.results) }

type fakeQueryEmbedder struct{}

func (fakeQueryEmbedder) Get(ctx context.Context, query string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

// fakeCrossEncoder scores each pair by document length, so a longer
// code_text ranks higher; the resulting order differs from retrieval
// order deterministically so tests can assert rerank changed the ranking.
type fakeCrossEncoder struct {
	sleep time.Duration
	err   error
}

func (c *fakeCrossEncoder) Score(ctx context.Context, pairs [][2]string, batchSize int) ([]float32, error) {
	if c.sleep > 0 {
		select {
		case <-time.After(c.sleep):
		case <-ctx.Done():
		}
	}
	if c.err != nil {
		return nil, c.err
	}
	scores := make([]float32, len(pairs))
	for i, p := range pairs {
		scores[i] = float32(len(p[1]))
	}
	return scores, nil
}
func (c *fakeCrossEncoder) ModelName() string { return "fake" }

func testChunks() []hermes.Chunk {
	return []hermes.Chunk{
		{ChunkID: 0, FilePath: "a.go", Language: "go", StartLine: 1, EndLine: 5, CodeText: "short"},
		{ChunkID: 1, FilePath: "b.py", Language: "python", StartLine: 1, EndLine: 5, CodeText: "a much longer piece of code text here"},
		{ChunkID: 2, FilePath: "c.go", Language: "go", StartLine: 1, EndLine: 5, CodeText: "medium length text"},
	}
}

func newTestPipeline(dense, sparseResults []hermes.ScoredChunk, ce hermes.CrossEncoder) (*Pipeline, *fakeMetadata) {
	meta := &fakeMetadata{chunks: testChunks()}
	p := New(meta, &fakeDense{results: dense}, &fakeSparse{results: sparseResults}, fakeQueryEmbedder{}, ce, Config{RerankTimeout: 2 * time.Second})
	return p, meta
}

func TestSearch_EmptyQueryIsValidationFailure(t *testing.T) {
	p, _ := newTestPipeline(nil, nil, &fakeCrossEncoder{})
	_, err := p.Search(context.Background(), Request{Query: ""})
	require.Error(t, err)
}

func TestSearch_UnknownRetrievalModeIsValidationFailure(t *testing.T) {
	p, _ := newTestPipeline(nil, nil, &fakeCrossEncoder{})
	_, err := p.Search(context.Background(), Request{Query: "foo", RetrievalMode: hermes.RetrievalMode("bogus")})
	require.Error(t, err)
}

func TestSearch_OutOfRangeTopKIsValidationFailure(t *testing.T) {
	p, _ := newTestPipeline(nil, nil, &fakeCrossEncoder{})
	_, err := p.Search(context.Background(), Request{Query: "foo", RetrievalMode: hermes.ModeHybrid, TopKRetrieve: 100000})
	require.Error(t, err)

	_, err = p.Search(context.Background(), Request{Query: "foo", RetrievalMode: hermes.ModeHybrid, TopKRerank: -1})
	require.Error(t, err)
}

func TestSearch_OmittedModeFallsBackToConfiguredDefault(t *testing.T) {
	sparseResults := []hermes.ScoredChunk{{ChunkID: 0, Score: 5}}
	meta := &fakeMetadata{chunks: testChunks()}
	p := New(meta, &fakeDense{}, &fakeSparse{results: sparseResults}, fakeQueryEmbedder{}, &fakeCrossEncoder{}, Config{
		RerankTimeout: time.Second, RetrievalMode: hermes.ModeSparse,
	})

	resp, err := p.Search(context.Background(), Request{Query: "foo"})
	require.NoError(t, err)
	assert.Equal(t, hermes.ModeSparse, resp.RetrievalMode)
}

func TestSearch_ZeroCandidatesReturnsEmptyWithTimings(t *testing.T) {
	p, _ := newTestPipeline(nil, nil, &fakeCrossEncoder{})
	resp, err := p.Search(context.Background(), Request{Query: "nothing matches", RetrievalMode: hermes.ModeHybrid})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.True(t, resp.RerankSkipped)
	assert.GreaterOrEqual(t, resp.Timings.TotalMs, 0.0)
}

func TestSearch_DenseMode_RerankReordersbyScore(t *testing.T) {
	dense := []hermes.ScoredChunk{{ChunkID: 0, Score: 0.9}, {ChunkID: 1, Score: 0.8}, {ChunkID: 2, Score: 0.7}}
	p, _ := newTestPipeline(dense, nil, &fakeCrossEncoder{})

	resp, err := p.Search(context.Background(), Request{Query: "find code", RetrievalMode: hermes.ModeDense, TopKRerank: 3})
	require.NoError(t, err)
	require.Len(t, resp.Results, 3)
	assert.False(t, resp.RerankSkipped)
	// chunk 1 has the longest code_text, so the cross-encoder ranks it first.
	assert.Equal(t, 1, resp.Results[0].ChunkID)
	assert.Equal(t, 1, resp.Results[0].FinalRank)
}

func TestSearch_RerankTimeoutSkipsAndKeepsRetrievalOrder(t *testing.T) {
	dense := []hermes.ScoredChunk{{ChunkID: 0, Score: 0.9}, {ChunkID: 1, Score: 0.8}, {ChunkID: 2, Score: 0.7}}
	meta := &fakeMetadata{chunks: testChunks()}
	p := New(meta, &fakeDense{results: dense}, &fakeSparse{}, fakeQueryEmbedder{}, &fakeCrossEncoder{sleep: 5 * time.Second}, Config{RerankTimeout: 50 * time.Millisecond})

	resp, err := p.Search(context.Background(), Request{Query: "slow rerank", RetrievalMode: hermes.ModeDense, TopKRerank: 3})
	require.NoError(t, err)
	require.Len(t, resp.Results, 3)
	assert.True(t, resp.RerankSkipped)
	assert.Equal(t, 0, resp.Results[0].ChunkID)
	assert.Equal(t, 1, resp.Results[0].RetrievalRank)
	assert.Equal(t, 1, resp.Results[0].FinalRank)
	assert.Nil(t, resp.Results[0].RerankScore)
}

func TestSearch_LanguageFilterRetainsOnlyMatching(t *testing.T) {
	dense := []hermes.ScoredChunk{{ChunkID: 0, Score: 0.9}, {ChunkID: 1, Score: 0.8}, {ChunkID: 2, Score: 0.7}}
	p, _ := newTestPipeline(dense, nil, &fakeCrossEncoder{})

	resp, err := p.Search(context.Background(), Request{
		Query: "find code", RetrievalMode: hermes.ModeDense, FilterLanguage: "go", TopKRerank: 10,
	})
	require.NoError(t, err)
	for _, r := range resp.Results {
		assert.Equal(t, "go", r.Language)
	}
	assert.Equal(t, 2, resp.TotalCandidates)
}

func TestSearch_HybridFusesAndSurfacesMissedCandidate(t *testing.T) {
	sparseResults := []hermes.ScoredChunk{{ChunkID: 0, Score: 5}, {ChunkID: 2, Score: 3}}
	denseResults := []hermes.ScoredChunk{{ChunkID: 1, Score: 0.95}, {ChunkID: 0, Score: 0.80}}
	p, _ := newTestPipeline(denseResults, sparseResults, &fakeCrossEncoder{})

	resp, err := p.Search(context.Background(), Request{Query: "hybrid query", RetrievalMode: hermes.ModeHybrid, TopKRerank: 10})
	require.NoError(t, err)
	ids := make([]int, len(resp.Results))
	for i, r := range resp.Results {
		ids[i] = r.ChunkID
	}
	assert.ElementsMatch(t, []int{0, 1, 2}, ids)
}

func TestSearch_ReturnSnippetsFalseKeepsSymbolName(t *testing.T) {
	meta := &fakeMetadata{chunks: []hermes.Chunk{
		{ChunkID: 0, FilePath: "a.go", Language: "go", StartLine: 1, EndLine: 2, SymbolName: "Foo", CodeText: "func Foo() {}"},
	}}
	p := New(meta, &fakeDense{results: []hermes.ScoredChunk{{ChunkID: 0, Score: 1}}}, &fakeSparse{}, fakeQueryEmbedder{}, &fakeCrossEncoder{}, Config{RerankTimeout: time.Second})

	resp, err := p.Search(context.Background(), Request{Query: "foo", RetrievalMode: hermes.ModeDense, ReturnSnippets: false})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "Foo", resp.Results[0].SymbolName)
	assert.Empty(t, resp.Results[0].CodeSnippet)
}

func TestSearch_FinalRankIsGaplessPermutation(t *testing.T) {
	dense := []hermes.ScoredChunk{{ChunkID: 0, Score: 0.9}, {ChunkID: 1, Score: 0.8}, {ChunkID: 2, Score: 0.7}}
	p, _ := newTestPipeline(dense, nil, &fakeCrossEncoder{})

	resp, err := p.Search(context.Background(), Request{Query: "rank check", RetrievalMode: hermes.ModeDense, TopKRerank: 3})
	require.NoError(t, err)

	ranks := make([]int, len(resp.Results))
	for i, r := range resp.Results {
		ranks[i] = r.FinalRank
	}
	sort.Ints(ranks)
	for i, r := range ranks {
		assert.Equal(t, i+1, r)
	}
}

func TestSearch_RetrievalScoreMonotonicNonIncreasing(t *testing.T) {
	dense := []hermes.ScoredChunk{{ChunkID: 0, Score: 0.9}, {ChunkID: 1, Score: 0.8}, {ChunkID: 2, Score: 0.7}}
	meta := &fakeMetadata{chunks: testChunks()}
	p := New(meta, &fakeDense{results: dense}, &fakeSparse{}, fakeQueryEmbedder{}, &fakeCrossEncoder{sleep: 5 * time.Second}, Config{RerankTimeout: 10 * time.Millisecond})

	resp, err := p.Search(context.Background(), Request{Query: "order check", RetrievalMode: hermes.ModeDense, TopKRerank: 3})
	require.NoError(t, err)
	require.True(t, resp.RerankSkipped)
	for i := 1; i < len(resp.Results); i++ {
		assert.LessOrEqual(t, resp.Results[i].RetrievalScore, resp.Results[i-1].RetrievalScore)
	}
}
