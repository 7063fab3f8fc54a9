// Package index implements HERMES's Index Build Orchestrator: scan ->
// chunk -> embed (batched) -> build dense, sparse, and metadata
// artifacts (index files via temp-file-and-rename, one file at a time).
// It exposes a small state machine
// (idle -> indexing -> done | error) that the Serving Surface reads,
// and enforces a single in-flight job per process plus an
// advisory file lock across processes sharing the same artifacts
// directory.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/MayankTamakuwala/HERMES/internal/chunk"
	hermeserrors "github.com/MayankTamakuwala/HERMES/internal/errors"
	"github.com/MayankTamakuwala/HERMES/internal/hermes"
	"github.com/MayankTamakuwala/HERMES/internal/scanner"
	"github.com/MayankTamakuwala/HERMES/internal/store"
	"github.com/MayankTamakuwala/HERMES/internal/store/dense"
	"github.com/MayankTamakuwala/HERMES/internal/store/sparse"
)

// State is the orchestrator's externally-visible job state.
type State string

const (
	StateIdle      State = "idle"
	StateIndexing  State = "indexing"
	StateDone      State = "done"
	StateError     State = "error"
)

// Summary describes a completed indexing job, surfaced at GET /index/status
// and cross-checked against /stats.n_chunks.
type Summary struct {
	JobID      string        `json:"job_id"`
	Files      int           `json:"files"`
	Chunks     int           `json:"chunks"`
	Duration   time.Duration `json:"duration_ms"`
	ScanMs     float64       `json:"scan_ms"`
	ChunkMs    float64       `json:"chunk_ms"`
	EmbedMs    float64       `json:"embed_ms"`
	BuildMs    float64       `json:"build_ms"`
}

// Config bundles the orchestrator's tunables, sourced from the chunk/embed/
// index sections of internal/config.Config.
type Config struct {
	ChunkMaxChars     int
	ChunkOverlapLines int
	ChunkMinChars     int
	EmbedBatchSize    int
	UseIVF            bool
	IVFNlist          int
	IVFNprobe         int
}

// artifact file names under one artifacts directory.
const (
	DenseFile      = "faiss.index"
	SparseFile     = "sparse_index.json"
	MetadataFile   = "metadata.db"
	EmbeddingsFile = "embeddings.npy"
)

// Orchestrator runs one indexing job at a time against an artifacts
// directory, building the Metadata Store, Dense Index, and Sparse Index
// that together define the pipeline's shared chunk_id space.
type Orchestrator struct {
	mu           sync.Mutex
	state        State
	repoPath     string
	summary      *Summary
	message      string
	cfg          Config
	biencoder    hermes.Biencoder
	artifactsDir string

	// OnComplete, if set, is called with the freshly built artifacts on
	// successful completion so the caller can install a new pipeline.Pipeline
	// without the orchestrator depending on the pipeline package.
	OnComplete func(meta hermes.MetadataStore, dense hermes.DenseIndex, sparse hermes.SparseIndex)
}

// New creates an Orchestrator writing artifacts under artifactsDir.
func New(artifactsDir string, biencoder hermes.Biencoder, cfg Config) *Orchestrator {
	return &Orchestrator{
		state:        StateIdle,
		cfg:          cfg,
		biencoder:    biencoder,
		artifactsDir: artifactsDir,
	}
}

// Status reports the orchestrator's current state for GET /index/status.
func (o *Orchestrator) Status() (state State, repoPath string, summary *Summary, message string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state, o.repoPath, o.summary, o.message
}

// StartIndex begins an indexing job against repoPath in the background.
// It returns immediately; only one job may be in flight per process.
// The caller observes progress via Status.
func (o *Orchestrator) StartIndex(ctx context.Context, repoPath string) error {
	o.mu.Lock()
	if o.state == StateIndexing {
		o.mu.Unlock()
		return hermeserrors.AlreadyRunningError()
	}
	o.state = StateIndexing
	o.repoPath = repoPath
	o.summary = nil
	o.message = ""
	o.mu.Unlock()

	jobID := uuid.NewString()
	slog.Info("indexing job started", slog.String("job_id", jobID), slog.String("repo_path", repoPath))

	go o.run(ctx, jobID, repoPath)
	return nil
}

func (o *Orchestrator) run(ctx context.Context, jobID, repoPath string) {
	summary, err := o.build(ctx, jobID, repoPath)

	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		o.state = StateError
		o.message = err.Error()
		slog.Error("indexing job failed", slog.String("job_id", jobID), slog.String("error", err.Error()))
		return
	}
	o.state = StateDone
	o.summary = summary
	slog.Info("indexing job finished", slog.String("job_id", jobID), slog.Int("chunks", summary.Chunks))
}

func (o *Orchestrator) build(ctx context.Context, jobID, repoPath string) (*Summary, error) {
	if err := os.MkdirAll(o.artifactsDir, 0o755); err != nil {
		return nil, hermeserrors.IndexingError("creating artifacts directory", err)
	}

	lockPath := filepath.Join(o.artifactsDir, ".lock")
	fl := flock.New(lockPath)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, hermeserrors.IndexingError("acquiring artifacts lock", err)
	}
	if !locked {
		return nil, hermeserrors.AlreadyRunningError()
	}
	defer fl.Unlock()

	start := time.Now()

	// Stage 1: scan.
	scanStart := time.Now()
	files, err := o.scanFiles(ctx, repoPath)
	if err != nil {
		return nil, hermeserrors.IndexingError("scanning repository", err)
	}
	scanMs := msSince(scanStart)

	// Stage 2: chunk.
	chunkStart := time.Now()
	chunks := o.chunkFiles(ctx, repoPath, files)
	chunkMs := msSince(chunkStart)

	for i := range chunks {
		chunks[i].ChunkID = i
	}

	// Stage 3: embed (batched).
	embedStart := time.Now()
	vectors, err := o.embed(ctx, chunks)
	if err != nil {
		return nil, hermeserrors.ModelFailureError("embedding chunks", err)
	}
	embedMs := msSince(embedStart)

	// Stage 4: build dense, sparse, and metadata artifacts. The dense,
	// sparse, and embeddings files are each written to a temp file and
	// renamed into place; the metadata store is deleted and rebuilt in
	// place. There is no shared staging directory for the set.
	buildStart := time.Now()
	metaStore, denseIdx, sparseIdx, err := o.buildArtifacts(ctx, chunks, vectors)
	if err != nil {
		return nil, hermeserrors.IndexingError("building artifacts", err)
	}
	buildMs := msSince(buildStart)

	if o.OnComplete != nil {
		o.OnComplete(metaStore, denseIdx, sparseIdx)
	}

	return &Summary{
		JobID:    jobID,
		Files:    len(files),
		Chunks:   len(chunks),
		Duration: time.Since(start),
		ScanMs:   scanMs,
		ChunkMs:  chunkMs,
		EmbedMs:  embedMs,
		BuildMs:  buildMs,
	}, nil
}

func (o *Orchestrator) scanFiles(ctx context.Context, repoPath string) ([]*scanner.FileInfo, error) {
	s, err := scanner.New()
	if err != nil {
		return nil, err
	}

	results, err := s.Scan(ctx, &scanner.ScanOptions{
		RootDir:          repoPath,
		RespectGitignore: true,
	})
	if err != nil {
		return nil, err
	}

	var files []*scanner.FileInfo
	for r := range results {
		if r.Error != nil {
			slog.Warn("scan error", slog.String("error", r.Error.Error()))
			continue
		}
		files = append(files, r.File)
	}
	return files, nil
}

func (o *Orchestrator) chunkFiles(ctx context.Context, repoPath string, files []*scanner.FileInfo) []hermes.Chunk {
	codeChunker := chunk.NewCodeChunker()
	mdChunker := chunk.NewMarkdownChunker()
	fallback := chunk.NewLineChunker(o.cfg.ChunkMaxChars, o.cfg.ChunkOverlapLines, o.cfg.ChunkMinChars)
	defer codeChunker.Close()

	var out []hermes.Chunk
	for _, f := range files {
		absPath := filepath.Join(repoPath, f.Path)
		content, err := os.ReadFile(absPath)
		if err != nil {
			slog.Warn("failed to read file", slog.String("path", f.Path), slog.String("error", err.Error()))
			continue
		}

		input := &chunk.FileInput{Path: f.Path, Content: content, Language: f.Language}

		var picked chunk.Chunker
		switch f.ContentType {
		case scanner.ContentTypeMarkdown:
			picked = mdChunker
		default:
			picked = codeChunker
		}

		raw, err := picked.Chunk(ctx, input)
		if err != nil || len(raw) == 0 {
			raw, _ = fallback.Chunk(ctx, input)
		}

		for _, c := range raw {
			symbol := ""
			if len(c.Symbols) > 0 {
				symbol = c.Symbols[0].Name
			}
			out = append(out, hermes.Chunk{
				FilePath:   c.FilePath,
				Language:   c.Language,
				StartLine:  c.StartLine,
				EndLine:    c.EndLine,
				SymbolName: symbol,
				CodeText:   c.Content,
			})
		}
	}
	return out
}

func (o *Orchestrator) embed(ctx context.Context, chunks []hermes.Chunk) ([][]float32, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.CodeText
	}
	batchSize := o.cfg.EmbedBatchSize
	if batchSize <= 0 {
		batchSize = 64
	}
	return o.biencoder.EncodeBatch(ctx, texts, batchSize)
}

func (o *Orchestrator) buildArtifacts(ctx context.Context, chunks []hermes.Chunk, vectors [][]float32) (hermes.MetadataStore, hermes.DenseIndex, hermes.SparseIndex, error) {
	metaPath := filepath.Join(o.artifactsDir, MetadataFile)
	os.Remove(metaPath)
	metaStore, err := store.OpenMetadataStore(metaPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening metadata store: %w", err)
	}
	if err := metaStore.InsertMany(ctx, chunks); err != nil {
		return nil, nil, nil, fmt.Errorf("inserting chunks: %w", err)
	}

	dim := 0
	if len(vectors) > 0 {
		dim = len(vectors[0])
	}

	if err := dense.SaveEmbeddingsNPY(filepath.Join(o.artifactsDir, EmbeddingsFile), vectors); err != nil {
		return nil, nil, nil, fmt.Errorf("saving embeddings matrix: %w", err)
	}

	var denseIdx hermes.DenseIndex
	if o.cfg.UseIVF {
		denseIdx = dense.NewIVF(dim, o.cfg.IVFNlist, o.cfg.IVFNprobe)
	} else {
		denseIdx = dense.NewFlat(dim)
	}
	if err := denseIdx.Build(vectors); err != nil {
		return nil, nil, nil, fmt.Errorf("building dense index: %w", err)
	}
	if err := denseIdx.Save(filepath.Join(o.artifactsDir, DenseFile)); err != nil {
		return nil, nil, nil, fmt.Errorf("saving dense index: %w", err)
	}

	docs := make([][]string, len(chunks))
	for i, c := range chunks {
		docs[i] = sparse.Tokenize(c.CodeText)
	}
	sparseIdx := sparse.New(sparse.DefaultK1, sparse.DefaultB)
	if err := sparseIdx.Build(docs); err != nil {
		return nil, nil, nil, fmt.Errorf("building sparse index: %w", err)
	}
	if err := sparseIdx.Save(filepath.Join(o.artifactsDir, SparseFile)); err != nil {
		return nil, nil, nil, fmt.Errorf("saving sparse index: %w", err)
	}

	return metaStore, denseIdx, sparseIdx, nil
}

// LoadArtifacts opens the three co-registered artifacts from dir, for
// process startup against a previously built index (no indexing job runs).
// nprobe configures an IVF index's search-time probe count; it is ignored
// if the persisted index is Flat.
func LoadArtifacts(dir string, nprobe int) (hermes.MetadataStore, hermes.DenseIndex, hermes.SparseIndex, error) {
	metaPath := filepath.Join(dir, MetadataFile)
	if _, err := os.Stat(metaPath); err != nil {
		return nil, nil, nil, err
	}
	metaStore, err := store.OpenMetadataStore(metaPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening metadata store: %w", err)
	}

	denseIdx, err := loadDenseIndex(filepath.Join(dir, DenseFile), nprobe)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading dense index: %w", err)
	}

	sparseIdx := sparse.New(sparse.DefaultK1, sparse.DefaultB)
	if err := sparseIdx.Load(filepath.Join(dir, SparseFile)); err != nil {
		return nil, nil, nil, fmt.Errorf("loading sparse index: %w", err)
	}

	return metaStore, denseIdx, sparseIdx, nil
}

// loadDenseIndex peeks the persisted file's kind tag and constructs the
// matching implementation before loading it, so an index built as IVF
// (centroids concatenated ahead of its chunk vectors) is never
// misinterpreted as a Flat matrix — doing so would shift every chunk_id
// relative to the metadata store.
func loadDenseIndex(path string, nprobe int) (hermes.DenseIndex, error) {
	kind, err := dense.PeekKind(path)
	if err != nil {
		return nil, err
	}

	var idx hermes.DenseIndex
	switch kind {
	case dense.KindIVF:
		idx = dense.NewIVF(0, 0, nprobe)
	default:
		idx = dense.NewFlat(0)
	}
	if err := idx.Load(path); err != nil {
		return nil, err
	}
	return idx, nil
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000.0
}
