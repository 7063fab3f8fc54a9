package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubBiencoder struct{ dim int }

func (s stubBiencoder) EncodeOne(ctx context.Context, text string) ([]float32, error) {
	return make([]float32, s.dim), nil
}

func (s stubBiencoder) EncodeBatch(ctx context.Context, texts []string, batchSize int) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, s.dim)
		v[0] = 1
		out[i] = v
	}
	return out, nil
}

func (s stubBiencoder) Dimensions() int   { return s.dim }
func (s stubBiencoder) ModelName() string { return "stub" }

func writeRepoFile(t *testing.T, root, relPath, content string) {
	t.Helper()
	full := filepath.Join(root, relPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func TestOrchestrator_BuildsArtifactsAndReachesDone(t *testing.T) {
	repo := t.TempDir()
	writeRepoFile(t, repo, "main.go", "package main\n\nfunc main() {\n\tprintln(\"hi\")\n}\n")
	writeRepoFile(t, repo, "README.md", "# Title\n\nSome docs content here.\n")

	artifacts := t.TempDir()
	orch := New(artifacts, stubBiencoder{dim: 4}, Config{ChunkMaxChars: 1500, ChunkOverlapLines: 3, ChunkMinChars: 10, EmbedBatchSize: 8})

	require.NoError(t, orch.StartIndex(context.Background(), repo))

	deadline := time.Now().Add(10 * time.Second)
	var state State
	for time.Now().Before(deadline) {
		state, _, _, _ = orch.Status()
		if state == StateDone || state == StateError {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	state, _, summary, message := orch.Status()
	require.Equal(t, StateDone, state, "message: %s", message)
	require.NotNil(t, summary)
	assert.Greater(t, summary.Chunks, 0)
	assert.Equal(t, 2, summary.Files)

	for _, f := range []string{DenseFile, SparseFile, MetadataFile, EmbeddingsFile} {
		_, err := os.Stat(filepath.Join(artifacts, f))
		assert.NoError(t, err, "expected artifact %s to exist", f)
	}
}

func TestOrchestrator_RejectsConcurrentJob(t *testing.T) {
	repo := t.TempDir()
	writeRepoFile(t, repo, "a.go", "package a\n")

	orch := New(t.TempDir(), stubBiencoder{dim: 2}, Config{})
	require.NoError(t, orch.StartIndex(context.Background(), repo))
	err := orch.StartIndex(context.Background(), repo)
	assert.Error(t, err)
}

func TestLoadArtifacts_RoundTripsAfterBuild(t *testing.T) {
	repo := t.TempDir()
	writeRepoFile(t, repo, "main.go", "package main\nfunc main() {}\n")

	artifacts := t.TempDir()
	orch := New(artifacts, stubBiencoder{dim: 3}, Config{})
	require.NoError(t, orch.StartIndex(context.Background(), repo))

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if state, _, _, _ := orch.Status(); state == StateDone || state == StateError {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	state, _, summary, message := orch.Status()
	require.Equal(t, StateDone, state, "message: %s", message)

	meta, dense, sparse, err := LoadArtifacts(artifacts, 0)
	require.NoError(t, err)
	defer meta.Close()

	n, err := meta.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, summary.Chunks, n)
	assert.Equal(t, summary.Chunks, dense.Len())
	assert.Equal(t, summary.Chunks, sparse.Len())
}

// TestLoadArtifacts_ReconstructsIVFNotFlat reproduces the bug where an
// index built with UseIVF was always reloaded as Flat: LoadArtifacts must
// read the persisted kind tag and reconstruct an IVF, or the leading
// centroid rows get misread as chunk vectors and every chunk_id shifts
// relative to the metadata store.
func TestLoadArtifacts_ReconstructsIVFNotFlat(t *testing.T) {
	repo := t.TempDir()
	writeRepoFile(t, repo, "a.go", "package a\nfunc A() {}\n")
	writeRepoFile(t, repo, "b.go", "package a\nfunc B() {}\n")
	writeRepoFile(t, repo, "c.go", "package a\nfunc C() {}\n")

	artifacts := t.TempDir()
	orch := New(artifacts, stubBiencoder{dim: 4}, Config{
		ChunkMaxChars: 1500, ChunkOverlapLines: 3, ChunkMinChars: 1, EmbedBatchSize: 8,
		UseIVF: true, IVFNlist: 2, IVFNprobe: 2,
	})
	require.NoError(t, orch.StartIndex(context.Background(), repo))

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if state, _, _, _ := orch.Status(); state == StateDone || state == StateError {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	state, _, summary, message := orch.Status()
	require.Equal(t, StateDone, state, "message: %s", message)

	meta, dense, _, err := LoadArtifacts(artifacts, 2)
	require.NoError(t, err)
	defer meta.Close()

	assert.Equal(t, summary.Chunks, dense.Len(), "reloaded index row count must match chunk count, not include centroid rows")

	n, err := meta.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, summary.Chunks, n)
}
