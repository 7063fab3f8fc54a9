package dense

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	hermeserrors "github.com/MayankTamakuwala/HERMES/internal/errors"
)

// SaveEmbeddingsNPY writes vectors as a NumPy v1.0 .npy file: float32,
// row-major, shape (N, D). This is the raw embedding matrix handed to the
// dense index at build time, persisted separately from faiss.index so it
// can be inspected or reused (e.g. to rebuild a different index kind)
// without re-running the bi-encoder.
func SaveEmbeddingsNPY(path string, vectors [][]float32) error {
	n := len(vectors)
	dim := 0
	if n > 0 {
		dim = len(vectors[0])
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".embeddings-*.tmp")
	if err != nil {
		return hermeserrors.Wrap(hermeserrors.ErrCodeFilePermission, err)
	}
	tmpPath := tmp.Name()

	w := bufio.NewWriter(tmp)
	if err := writeNPYHeader(w, n, dim); err != nil {
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

// writeNPYHeader writes the magic string, version, and header dict for a
// (n, dim) float32 row-major array, padding the header so the data begins
// at an offset that is a multiple of 64 bytes (the convention numpy.save
// itself follows).
func writeNPYHeader(w *bufio.Writer, n, dim int) error {
	dict := fmt.Sprintf("{'descr': '<f4', 'fortran_order': False, 'shape': (%d, %d), }", n, dim)

	// magic(6) + version(2) + header-len(2) = 10 bytes before the dict.
	const preambleLen = 10
	padded := preambleLen + len(dict) + 1 // +1 for the trailing newline
	if rem := padded % 64; rem != 0 {
		dict += strings.Repeat(" ", 64-rem)
	}
	dict += "\n"

	if _, err := w.WriteString("\x93NUMPY"); err != nil {
		return err
	}
	if _, err := w.Write([]byte{1, 0}); err != nil {
		return err
	}
	lenBuf := make([]byte, 2)
	binary.LittleEndian.PutUint16(lenBuf, uint16(len(dict)))
	if _, err := w.Write(lenBuf); err != nil {
		return err
	}
	_, err := w.WriteString(dict)
	return err
}
