package dense

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleVectors() [][]float32 {
	return [][]float32{
		{1, 0, 0},
		{0, 1, 0},
		{0, 0, 1},
		{0.9, 0.1, 0},
	}
}

func TestFlat_SelfSearchReturnsSelfFirstNearOne(t *testing.T) {
	f := NewFlat(3)
	require.NoError(t, f.Build(sampleVectors()))

	results, err := f.Search(sampleVectors()[0], 4)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, 0, results[0].ChunkID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-5)
}

func TestFlat_ScoresDescendingTieBreakAscendingID(t *testing.T) {
	f := NewFlat(2)
	require.NoError(t, f.Build([][]float32{{1, 0}, {1, 0}, {0, 1}}))

	results, err := f.Search([]float32{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, 0, results[0].ChunkID)
	assert.Equal(t, 1, results[1].ChunkID)
	assert.True(t, results[0].Score >= results[1].Score)
	assert.True(t, results[1].Score >= results[2].Score)
}

func TestFlat_KGreaterThanNReturnsAll(t *testing.T) {
	f := NewFlat(3)
	require.NoError(t, f.Build(sampleVectors()))

	results, err := f.Search([]float32{1, 0, 0}, 1000)
	require.NoError(t, err)
	assert.Len(t, results, 4)
}

func TestFlat_EmptyIndexReturnsEmpty(t *testing.T) {
	f := NewFlat(3)
	require.NoError(t, f.Build(nil))

	results, err := f.Search([]float32{1, 0, 0}, 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestFlat_ScoresInRange(t *testing.T) {
	f := NewFlat(3)
	require.NoError(t, f.Build(sampleVectors()))

	results, err := f.Search([]float32{1, 1, 1}, 10)
	require.NoError(t, err)
	for _, r := range results {
		assert.True(t, r.Score >= -1.0001 && r.Score <= 1.0001)
	}
}

func TestFlat_SaveLoadRoundTrip(t *testing.T) {
	f := NewFlat(3)
	require.NoError(t, f.Build(sampleVectors()))

	path := filepath.Join(t.TempDir(), "faiss.index")
	require.NoError(t, f.Save(path))

	loaded := NewFlat(3)
	require.NoError(t, loaded.Load(path))
	assert.Equal(t, f.Len(), loaded.Len())

	want, err := f.Search([]float32{1, 0, 0}, 4)
	require.NoError(t, err)
	got, err := loaded.Search([]float32{1, 0, 0}, 4)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

// TestFlat_LoadRejectsIVFFile ensures cross-kind reloads fail loudly
// instead of silently treating centroid rows as chunk vectors, which
// would shift every chunk_id relative to the metadata store.
func TestFlat_LoadRejectsIVFFile(t *testing.T) {
	ivf := NewIVF(3, 2, 2)
	require.NoError(t, ivf.Build(sampleVectors()))
	path := filepath.Join(t.TempDir(), "faiss.index")
	require.NoError(t, ivf.Save(path))

	f := NewFlat(3)
	assert.Error(t, f.Load(path))
}

func TestNormalize_ZeroVector(t *testing.T) {
	out := normalize([]float32{0, 0, 0})
	assert.Equal(t, []float32{0, 0, 0}, out)
}

func TestNormalize_UnitLength(t *testing.T) {
	out := normalize([]float32{3, 4})
	var sumSq float64
	for _, x := range out {
		sumSq += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sumSq), 1e-6)
}
