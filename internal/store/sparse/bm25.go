package sparse

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	hermeserrors "github.com/MayankTamakuwala/HERMES/internal/errors"
	"github.com/MayankTamakuwala/HERMES/internal/hermes"
)

const (
	DefaultK1 = 1.5
	DefaultB  = 0.75
)

// Index is an in-memory, auditable BM25 implementation. Document position
// in the corpus (the slice index passed to Build) is the chunk_id shared
// with the dense index and metadata store — Index never reorders or
// renumbers documents.
type Index struct {
	mu sync.RWMutex

	k1 float64
	b  float64

	docs      [][]string     // docs[chunkID] = tokenized document
	df        map[string]int // term -> number of docs containing it
	docLen    []int
	avgDocLen float64
}

// New creates an empty BM25 index with the given k1/b parameters. Pass
// zero values to use the defaults (k1=1.5, b=0.75).
func New(k1, b float64) *Index {
	if k1 <= 0 {
		k1 = DefaultK1
	}
	if b <= 0 {
		b = DefaultB
	}
	return &Index{k1: k1, b: b, df: make(map[string]int)}
}

// Build replaces the corpus with docs, where docs[i] is the tokenized text
// of chunk_id i. Document frequencies and average length are recomputed.
func (idx *Index) Build(docs [][]string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.docs = docs
	idx.df = make(map[string]int)
	idx.docLen = make([]int, len(docs))

	var totalLen int
	for i, tokens := range docs {
		idx.docLen[i] = len(tokens)
		totalLen += len(tokens)

		seen := make(map[string]struct{}, len(tokens))
		for _, tok := range tokens {
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			idx.df[tok]++
		}
	}

	if len(docs) > 0 {
		idx.avgDocLen = float64(totalLen) / float64(len(docs))
	} else {
		idx.avgDocLen = 0
	}
	return nil
}

// Len returns the number of documents in the corpus.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.docs)
}

// Search scores every document against queryTokens and returns the top k
// (chunk_id, score) pairs sorted by score descending, ties broken by
// ascending chunk_id. Documents whose score is zero (no query token in
// common) are not returned, so k >= N returns every document with a
// nonzero score; N == 0 returns none.
func (idx *Index) Search(queryTokens []string, k int) ([]hermes.ScoredChunk, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	n := len(idx.docs)
	if n == 0 || k <= 0 {
		return nil, nil
	}

	idf := make(map[string]float64, len(queryTokens))
	for _, t := range queryTokens {
		if _, ok := idf[t]; ok {
			continue
		}
		df := idx.df[t]
		idf[t] = math.Log(1 + (float64(n)-float64(df)+0.5)/(float64(df)+0.5))
	}

	results := make([]hermes.ScoredChunk, 0, n)
	for docID, tokens := range idx.docs {
		score := idx.scoreDoc(tokens, queryTokens, idf, idx.docLen[docID])
		if score == 0 {
			continue
		}
		results = append(results, hermes.ScoredChunk{ChunkID: docID, Score: float32(score)})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})

	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

func (idx *Index) scoreDoc(docTokens, queryTokens []string, idf map[string]float64, docLen int) float64 {
	if len(docTokens) == 0 {
		return 0
	}
	tf := make(map[string]int, len(docTokens))
	for _, t := range docTokens {
		tf[t]++
	}

	var score float64
	lengthNorm := 1 - idx.b + idx.b*float64(docLen)/nonZero(idx.avgDocLen)
	for _, qt := range queryTokens {
		f := tf[qt]
		if f == 0 {
			continue
		}
		numerator := float64(f) * (idx.k1 + 1)
		denominator := float64(f) + idx.k1*lengthNorm
		score += idf[qt] * numerator / denominator
	}
	return score
}

func nonZero(v float64) float64 {
	if v == 0 {
		return 1
	}
	return v
}

// persisted is the self-contained JSON representation on disk:
// the tokenization result (Docs), document frequencies, doc lengths,
// average doc length and BM25 parameters. Loading never re-tokenizes.
type persisted struct {
	K1        float64         `json:"k1"`
	B         float64         `json:"b"`
	Docs      [][]string      `json:"docs"`
	DF        map[string]int  `json:"df"`
	DocLen    []int           `json:"doc_len"`
	AvgDocLen float64         `json:"avg_doc_len"`
}

// Save writes the index to a single self-contained JSON file at path via
// write-to-temp-then-rename so a crash mid-write never leaves a partial
// file in place.
func (idx *Index) Save(path string) error {
	idx.mu.RLock()
	p := persisted{
		K1:        idx.k1,
		B:         idx.b,
		Docs:      idx.docs,
		DF:        idx.df,
		DocLen:    idx.docLen,
		AvgDocLen: idx.avgDocLen,
	}
	idx.mu.RUnlock()

	data, err := json.Marshal(p)
	if err != nil {
		return hermeserrors.Wrap(hermeserrors.ErrCodeIndexFailed, err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".sparse-index-*.tmp")
	if err != nil {
		return hermeserrors.Wrap(hermeserrors.ErrCodeFilePermission, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return hermeserrors.Wrap(hermeserrors.ErrCodeIndexFailed, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return hermeserrors.Wrap(hermeserrors.ErrCodeIndexFailed, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return hermeserrors.Wrap(hermeserrors.ErrCodeIndexFailed, err)
	}
	return nil
}

// Load restores the index from a file written by Save. No re-tokenization
// occurs: the persisted token lists are used as-is.
func (idx *Index) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return hermeserrors.Wrap(hermeserrors.ErrCodeFileNotFound, err)
	}

	var p persisted
	if err := json.Unmarshal(data, &p); err != nil {
		return hermeserrors.Wrap(hermeserrors.ErrCodeFileCorrupt, err)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.k1 = p.K1
	idx.b = p.B
	idx.docs = p.Docs
	idx.df = p.DF
	if idx.df == nil {
		idx.df = make(map[string]int)
	}
	idx.docLen = p.DocLen
	idx.avgDocLen = p.AvgDocLen
	return nil
}
