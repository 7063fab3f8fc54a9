package dense

import (
	"sort"

	hermeserrors "github.com/MayankTamakuwala/HERMES/internal/errors"
	"github.com/MayankTamakuwala/HERMES/internal/hermes"
)

// IVF is an approximate dense index: vectors are assigned to nlist coarse
// centroids (found by a small Lloyd's k-means pass over the build set),
// and search probes only the nprobe centroids nearest the query, scanning
// their inverted lists exactly. Selected at build time instead of Flat
// when the corpus is large enough that an exhaustive scan is too slow
// (the threshold is left to the operator via config).
type IVF struct {
	dim    int
	nlist  int
	nprobe int

	centroids [][]float32
	lists     [][]int // lists[c] = chunk_ids assigned to centroid c
	vectors   [][]float32
}

// NewIVF creates an IVF index with nlist coarse centroids, probing nprobe
// of them per query.
func NewIVF(dim, nlist, nprobe int) *IVF {
	if nlist <= 0 {
		nlist = 100
	}
	if nprobe <= 0 {
		nprobe = 8
	}
	return &IVF{dim: dim, nlist: nlist, nprobe: nprobe}
}

// Build trains coarse centroids over vectors and assigns every vector to
// its nearest centroid's inverted list. Falls back to a single list (all
// vectors) when there are fewer vectors than requested centroids.
func (idx *IVF) Build(vectors [][]float32) error {
	normed := make([][]float32, len(vectors))
	for i, v := range vectors {
		normed[i] = normalize(v)
		if idx.dim == 0 {
			idx.dim = len(v)
		}
	}
	idx.vectors = normed

	nlist := idx.nlist
	if nlist > len(normed) {
		nlist = len(normed)
	}
	if nlist <= 0 {
		idx.centroids = nil
		idx.lists = nil
		return nil
	}

	idx.centroids = kmeans(normed, nlist, 10)
	idx.lists = make([][]int, len(idx.centroids))
	for chunkID, v := range normed {
		c := nearestCentroid(idx.centroids, v)
		idx.lists[c] = append(idx.lists[c], chunkID)
	}
	return nil
}

// Len returns the number of vectors in the index.
func (idx *IVF) Len() int { return len(idx.vectors) }

// Search probes the nprobe centroids nearest the query and scores every
// vector in their inverted lists exactly, returning the top k results
// descending by score, ties broken by ascending chunk_id.
func (idx *IVF) Search(query []float32, k int) ([]hermes.ScoredChunk, error) {
	n := len(idx.vectors)
	if n == 0 || k <= 0 {
		return nil, nil
	}
	q := normalize(query)

	if len(idx.centroids) == 0 {
		return scoreAndRank(idx.vectors, q, k, indexRange(n)), nil
	}

	probe := idx.nprobe
	if probe > len(idx.centroids) {
		probe = len(idx.centroids)
	}
	nearest := nearestCentroids(idx.centroids, q, probe)

	var candidates []int
	for _, c := range nearest {
		candidates = append(candidates, idx.lists[c]...)
	}
	return scoreAndRank(idx.vectors, q, k, candidates), nil
}

func scoreAndRank(vectors [][]float32, q []float32, k int, candidates []int) []hermes.ScoredChunk {
	results := make([]hermes.ScoredChunk, 0, len(candidates))
	for _, id := range candidates {
		results = append(results, hermes.ScoredChunk{ChunkID: id, Score: dot(q, vectors[id])})
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
	return results
}

func indexRange(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// Save persists centroids and the full vector matrix tagged as KindIVF,
// with the actual centroid count written into the header; inverted lists
// are rebuilt from scratch on Load by reassigning every vector to its
// nearest saved centroid.
func (idx *IVF) Save(path string) error {
	rows := append(append([][]float32{}, idx.centroids...), idx.vectors...)
	return saveMatrix(path, KindIVF, idx.dim, len(idx.centroids), rows)
}

// Load restores the index from a file written by Save. The centroid count
// is read from the file's header rather than derived from idx.nlist,
// since Build clamps nlist down to len(vectors) whenever there are fewer
// training vectors than requested centroids. It is an integrity error to
// Load a file written by Flat.Save into an IVF.
func (idx *IVF) Load(path string) error {
	kind, dim, nCentroids, rows, err := loadMatrix(path)
	if err != nil {
		return err
	}
	if kind != KindIVF {
		return hermeserrors.IntegrityError("dense index file was not built as IVF", nil)
	}
	if nCentroids < 0 || nCentroids > len(rows) {
		return hermeserrors.IntegrityError("dense index file centroid count exceeds row count", nil)
	}
	idx.dim = dim
	idx.centroids = rows[:nCentroids]
	idx.vectors = rows[nCentroids:]

	idx.lists = make([][]int, len(idx.centroids))
	for chunkID, v := range idx.vectors {
		c := nearestCentroid(idx.centroids, v)
		idx.lists[c] = append(idx.lists[c], chunkID)
	}
	return nil
}

// kmeans runs a small, deterministic Lloyd's k-means: centroids are
// seeded from the first k vectors (not randomized, so builds are
// reproducible across runs of the same input) and refined for maxIter
// iterations.
func kmeans(vectors [][]float32, k, maxIter int) [][]float32 {
	centroids := make([][]float32, k)
	for i := 0; i < k; i++ {
		centroids[i] = append([]float32{}, vectors[i]...)
	}

	dim := len(vectors[0])
	for iter := 0; iter < maxIter; iter++ {
		sums := make([][]float64, k)
		counts := make([]int, k)
		for i := range sums {
			sums[i] = make([]float64, dim)
		}

		for _, v := range vectors {
			c := nearestCentroid(centroids, v)
			counts[c]++
			for d := 0; d < dim; d++ {
				sums[c][d] += float64(v[d])
			}
		}

		changed := false
		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				continue
			}
			newCentroid := make([]float32, dim)
			for d := 0; d < dim; d++ {
				newCentroid[d] = float32(sums[c][d] / float64(counts[c]))
			}
			centroids[c] = normalize(newCentroid)
			changed = true
		}
		if !changed {
			break
		}
	}
	return centroids
}

func nearestCentroid(centroids [][]float32, v []float32) int {
	best := 0
	bestScore := dot(centroids[0], v)
	for i := 1; i < len(centroids); i++ {
		s := dot(centroids[i], v)
		if s > bestScore {
			bestScore = s
			best = i
		}
	}
	return best
}

// nearestCentroids returns the indices of the probe centroids with the
// highest inner product to q, in descending order of similarity.
func nearestCentroids(centroids [][]float32, q []float32, probe int) []int {
	type scored struct {
		idx   int
		score float32
	}
	scoredList := make([]scored, len(centroids))
	for i, c := range centroids {
		scoredList[i] = scored{idx: i, score: dot(c, q)}
	}
	sort.Slice(scoredList, func(i, j int) bool { return scoredList[i].score > scoredList[j].score })

	if probe > len(scoredList) {
		probe = len(scoredList)
	}
	out := make([]int, probe)
	for i := 0; i < probe; i++ {
		out[i] = scoredList[i].idx
	}
	return out
}
