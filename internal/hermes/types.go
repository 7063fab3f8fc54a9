// Package hermes holds the core data types shared across HERMES's
// components: the chunk record, search request/response shapes, and the
// small set of cross-cutting interfaces (Metadata Store, Dense Index,
// Sparse Index, embedders) that the pipeline and orchestrator are built
// against. Keeping these in one package avoids import cycles between
// internal/store, internal/embed, internal/fusion and internal/pipeline.
package hermes

import "context"

// Chunk is one unit of indexed code. ChunkID is dense and assigned by the
// orchestrator in insertion order starting at 0; it is simultaneously the
// Metadata Store row position, the dense embedding matrix row, and the
// sparse index document position. All three stores must be built from the
// same ordered chunk list in a single orchestrator pass — any divergence is
// an integrity error, never silently tolerated.
type Chunk struct {
	ChunkID    int    `json:"chunk_id"`
	FilePath   string `json:"file_path"`
	Language   string `json:"language"`
	StartLine  int    `json:"start_line"`
	EndLine    int    `json:"end_line"`
	SymbolName string `json:"symbol_name,omitempty"`
	CodeText   string `json:"-"`
}

// ScoredChunk is a single-retriever search hit: a chunk_id with its
// retriever-native score. Scores are not comparable across retrievers.
type ScoredChunk struct {
	ChunkID int
	Score   float32
}

// RetrievalMode selects which retriever(s) the search pipeline exercises.
type RetrievalMode string

const (
	ModeDense  RetrievalMode = "dense"
	ModeSparse RetrievalMode = "sparse"
	ModeHybrid RetrievalMode = "hybrid"
)

// MetadataStore is the chunk system of record: bulk insert in chunk_id
// order, point/batch lookup by id, count, and predicate-based id filtering.
// Implementations must be durable across process restart.
type MetadataStore interface {
	InsertMany(ctx context.Context, chunks []Chunk) error
	Get(ctx context.Context, chunkID int) (Chunk, bool, error)
	GetMany(ctx context.Context, chunkIDs []int) ([]Chunk, error)
	Count(ctx context.Context) (int, error)
	FilterIDs(ctx context.Context, language, pathPrefix string) (map[int]struct{}, error)
	Close() error
}

// DenseIndex supports nearest-neighbor search over L2-normalized embedding
// rows using inner product (cosine similarity for normalized vectors).
type DenseIndex interface {
	Build(vectors [][]float32) error
	Search(query []float32, k int) ([]ScoredChunk, error)
	Save(path string) error
	Load(path string) error
	Len() int
}

// SparseIndex supports BM25 search over a tokenized corpus and must
// serialize to/restore from a self-contained representation requiring no
// re-tokenization on reload.
type SparseIndex interface {
	Build(docs [][]string) error
	Search(queryTokens []string, k int) ([]ScoredChunk, error)
	Save(path string) error
	Load(path string) error
	Len() int
}

// Biencoder embeds free text into the shared dense vector space. Output
// rows are L2-normalized. Not assumed thread-safe; callers serialize calls
// to a single instance.
type Biencoder interface {
	EncodeOne(ctx context.Context, text string) ([]float32, error)
	EncodeBatch(ctx context.Context, texts []string, batchSize int) ([][]float32, error)
	Dimensions() int
	ModelName() string
}

// CrossEncoder scores (query, document) pairs jointly; higher is better,
// with no normalization guarantee across calls. Not assumed thread-safe.
type CrossEncoder interface {
	Score(ctx context.Context, pairs [][2]string, batchSize int) ([]float32, error)
	ModelName() string
}
