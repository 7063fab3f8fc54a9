// Package fusion implements Reciprocal Rank Fusion: combining
// multiple ranked retriever result lists into one fused ranking using only
// rank position, not the retrievers' native scores (which are not
// comparable across retrievers).
package fusion

import (
	"sort"

	"github.com/MayankTamakuwala/HERMES/internal/hermes"
)

// DefaultK is RRF's rank-damping constant.
const DefaultK = 60

// Fuse combines lists — each an independently ranked (chunk_id, score)
// slice — into one fused ranking. A chunk_id's fused score is the sum,
// over every list containing it, of 1/(k+rank+1) where rank is the
// chunk's 0-based position in that list. Output is sorted by fused score
// descending, ties broken by ascending chunk_id. Per-retriever scores are
// not part of the fused score; RetrievalScore below preserves them
// separately for explainability.
func Fuse(lists [][]hermes.ScoredChunk, k int) []hermes.ScoredChunk {
	if k <= 0 {
		k = DefaultK
	}

	fused := make(map[int]float64)
	order := make([]int, 0)
	seen := make(map[int]struct{})

	for _, list := range lists {
		for rank, sc := range list {
			if _, ok := seen[sc.ChunkID]; !ok {
				seen[sc.ChunkID] = struct{}{}
				order = append(order, sc.ChunkID)
			}
			fused[sc.ChunkID] += 1.0 / float64(k+rank+1)
		}
	}

	results := make([]hermes.ScoredChunk, 0, len(order))
	for _, id := range order {
		results = append(results, hermes.ScoredChunk{ChunkID: id, Score: float32(fused[id])})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})
	return results
}

// RetrievalScore returns the "original" retrieval score to report for a
// chunk: the first retriever list's score if the chunk appears there,
// else the second list's score, else 0. Preserves explainability
// rule for what /search reports as retrieval_score under hybrid mode.
func RetrievalScore(lists [][]hermes.ScoredChunk, chunkID int) float32 {
	for _, list := range lists {
		for _, sc := range list {
			if sc.ChunkID == chunkID {
				return sc.Score
			}
		}
	}
	return 0
}
