// Package dense implements HERMES's Dense Index: a Flat exact
// inner-product index and an IVF approximate index, selected at build
// time. Both operate on L2-normalized float32 rows so inner product
// equals cosine similarity.
package dense

import (
	"bufio"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"sort"

	hermeserrors "github.com/MayankTamakuwala/HERMES/internal/errors"
	"github.com/MayankTamakuwala/HERMES/internal/hermes"
)

// Kind tags a serialized dense index file with the implementation that
// produced it, so Load can reconstruct the matching type on restart
// instead of assuming Flat.
type Kind byte

const (
	KindFlat Kind = 0
	KindIVF  Kind = 1
)

// PeekKind reads just the leading kind byte from a file written by Save,
// without loading the matrix, so a caller can pick the right constructor
// before calling Load.
func PeekKind(path string) (Kind, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, hermeserrors.Wrap(hermeserrors.ErrCodeFileNotFound, err)
	}
	defer f.Close()

	var b [1]byte
	if _, err := f.Read(b[:]); err != nil {
		return 0, hermeserrors.Wrap(hermeserrors.ErrCodeFileCorrupt, err)
	}
	return Kind(b[0]), nil
}

// Flat performs exact inner-product search by scanning every row. It is
// the default for corpora under ~100k chunks.
type Flat struct {
	dim     int
	vectors [][]float32
}

// NewFlat creates an empty flat index for vectors of the given dimension.
func NewFlat(dim int) *Flat {
	return &Flat{dim: dim}
}

// Build replaces the index contents. Rows are expected to already be
// L2-normalized by the caller (the bi-encoder's contract); Build
// normalizes defensively in case a caller violates that contract.
func (f *Flat) Build(vectors [][]float32) error {
	f.vectors = make([][]float32, len(vectors))
	for i, v := range vectors {
		f.vectors[i] = normalize(v)
		if f.dim == 0 {
			f.dim = len(v)
		}
	}
	return nil
}

// Len returns the number of vectors in the index.
func (f *Flat) Len() int { return len(f.vectors) }

// Search returns the top k (chunk_id, score) pairs by inner product,
// descending, ties broken by ascending chunk_id. k >= N returns all
// vectors; N == 0 returns none.
func (f *Flat) Search(query []float32, k int) ([]hermes.ScoredChunk, error) {
	n := len(f.vectors)
	if n == 0 || k <= 0 {
		return nil, nil
	}
	q := normalize(query)

	results := make([]hermes.ScoredChunk, n)
	for i, v := range f.vectors {
		results[i] = hermes.ScoredChunk{ChunkID: i, Score: dot(q, v)}
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

// Save writes the index to a single file: kind, dimension, row count, then
// the raw row-major float32 matrix, via write-to-temp-then-rename.
func (f *Flat) Save(path string) error {
	return saveMatrix(path, KindFlat, f.dim, 0, f.vectors)
}

// Load reconstructs the index from a file written by Save. Search behavior
// after Load is identical to the original index. It is an integrity error
// to Load a file written by IVF.Save into a Flat.
func (f *Flat) Load(path string) error {
	kind, dim, _, vectors, err := loadMatrix(path)
	if err != nil {
		return err
	}
	if kind != KindFlat {
		return hermeserrors.IntegrityError("dense index file was not built as Flat", nil)
	}
	f.dim = dim
	f.vectors = vectors
	return nil
}

func normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		out := make([]float32, len(v))
		copy(out, v)
		return out
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func dot(a, b []float32) float32 {
	var sum float32
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}

// saveMatrix and loadMatrix implement the shared binary layout used by
// both Flat and IVF for their raw vector storage: a little-endian
// (kind uint8, dim uint32, centroidCount uint32, rowCount uint32) header
// followed by rowCount*dim float32 values. For Flat, centroidCount is
// always 0 and every row is a chunk vector; for IVF the first
// centroidCount rows are coarse centroids and the rest are chunk vectors,
// so Load can split them back apart without recomputing anything.
func saveMatrix(path string, kind Kind, dim, centroidCount int, vectors [][]float32) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".dense-index-*.tmp")
	if err != nil {
		return hermeserrors.Wrap(hermeserrors.ErrCodeFilePermission, err)
	}
	tmpPath := tmp.Name()

	w := bufio.NewWriter(tmp)
	header := make([]byte, 13)
	header[0] = byte(kind)
	binary.LittleEndian.PutUint32(header[1:5], uint32(dim))
	binary.LittleEndian.PutUint32(header[5:9], uint32(centroidCount))
	binary.LittleEndian.PutUint32(header[9:13], uint32(len(vectors)))
	if _, err := w.Write(header); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return hermeserrors.Wrap(hermeserrors.ErrCodeIndexFailed, err)
	}

	buf := make([]byte, 4)
	for _, row := range vectors {
		for _, x := range row {
			binary.LittleEndian.PutUint32(buf, math.Float32bits(x))
			if _, err := w.Write(buf); err != nil {
				tmp.Close()
				os.Remove(tmpPath)
				return hermeserrors.Wrap(hermeserrors.ErrCodeIndexFailed, err)
			}
		}
	}
	if err := w.Flush(); err != nil {
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

func loadMatrix(path string) (Kind, int, int, [][]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, 0, nil, hermeserrors.Wrap(hermeserrors.ErrCodeFileNotFound, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	header := make([]byte, 13)
	if _, err := readFull(r, header); err != nil {
		return 0, 0, 0, nil, hermeserrors.Wrap(hermeserrors.ErrCodeFileCorrupt, err)
	}
	kind := Kind(header[0])
	dim := int(binary.LittleEndian.Uint32(header[1:5]))
	centroidCount := int(binary.LittleEndian.Uint32(header[5:9]))
	n := int(binary.LittleEndian.Uint32(header[9:13]))

	vectors := make([][]float32, n)
	buf := make([]byte, 4)
	for i := 0; i < n; i++ {
		row := make([]float32, dim)
		for j := 0; j < dim; j++ {
			if _, err := readFull(r, buf); err != nil {
				return 0, 0, 0, nil, hermeserrors.Wrap(hermeserrors.ErrCodeFileCorrupt, err)
			}
			row[j] = math.Float32frombits(binary.LittleEndian.Uint32(buf))
		}
		vectors[i] = row
	}
	return kind, dim, centroidCount, vectors, nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
