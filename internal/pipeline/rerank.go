package pipeline

import (
	"context"
	"time"

	"github.com/MayankTamakuwala/HERMES/internal/hermes"
)

// rerankJob is dispatched to the bounded worker pool; result is delivered
// on done, which is always eventually sent to even if the caller gave up
// waiting (so the goroutine backing a timed-out call can finish and exit
// without leaking).
type rerankJob struct {
	query      string
	candidates []hermes.ScoredChunk
	done       chan rerankOutcome
}

type rerankOutcome struct {
	scores map[int]float32
	err    error
}

var rerankSem = make(chan struct{}, rerankWorkers)

// rerank takes the first min(len(candidates), MaxRerankCandidates)
// candidates, fetches their code_text, and submits (query, code_text)
// pairs to the cross-encoder under a wall-clock deadline. On success it
// returns per-chunk scores and skipped=false. On timeout or error it
// returns skipped=true with no scores — the in-flight call is allowed to
// finish in the background and its result is discarded (join-with-
// deadline, not true cancellation).
func (p *Pipeline) rerank(ctx context.Context, query string, candidates []hermes.ScoredChunk) (map[int]float32, bool, error) {
	n := len(candidates)
	if n > p.Config.MaxRerankCandidates {
		n = p.Config.MaxRerankCandidates
	}
	shortlist := candidates[:n]

	chunkIDs := make([]int, len(shortlist))
	for i, c := range shortlist {
		chunkIDs[i] = c.ChunkID
	}
	chunks, err := p.Metadata.GetMany(ctx, chunkIDs)
	if err != nil {
		return nil, false, err
	}

	pairs := make([][2]string, len(chunks))
	for i, c := range chunks {
		pairs[i] = [2]string{query, c.CodeText}
	}

	done := make(chan rerankOutcome, 1)
	go func() {
		rerankSem <- struct{}{}
		defer func() { <-rerankSem }()

		scores, err := p.CrossEncoder.Score(context.Background(), pairs, 0)
		if err != nil {
			done <- rerankOutcome{err: err}
			return
		}
		out := make(map[int]float32, len(shortlist))
		for i, c := range shortlist {
			out[c.ChunkID] = scores[i]
		}
		done <- rerankOutcome{scores: out}
	}()

	timer := time.NewTimer(p.Config.RerankTimeout)
	defer timer.Stop()

	select {
	case outcome := <-done:
		if outcome.err != nil {
			return nil, true, nil // model failure degrades to skipped rerank, not a request failure
		}
		return outcome.scores, false, nil
	case <-timer.C:
		return nil, true, nil
	case <-ctx.Done():
		return nil, true, nil
	}
}
