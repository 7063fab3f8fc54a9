// Package pipeline implements HERMES's Search Pipeline: the
// embed→retrieve→filter→rerank→assemble request path, with stage timings,
// graceful rerank-timeout degradation, and hot-reload via atomic pointer
// swap (see Reloadable in reload.go).
package pipeline

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	hermeserrors "github.com/MayankTamakuwala/HERMES/internal/errors"
	"github.com/MayankTamakuwala/HERMES/internal/fusion"
	"github.com/MayankTamakuwala/HERMES/internal/hermes"
	"github.com/MayankTamakuwala/HERMES/internal/store/sparse"
)

// Defaults mirror the Search config section.
const (
	DefaultTopKRetrieve        = 100
	DefaultTopKRerank          = 10
	DefaultMaxRerankCandidates = 50
	DefaultRerankTimeout       = 10 * time.Second
	DefaultRRFConstant         = 60

	// rerankWorkers bounds concurrent in-flight cross-encoder calls per
	// process: a small worker pool (2 workers) bounds concurrent rerank load.
	rerankWorkers = 2
)

// Config holds the pipeline's tunables, sourced from internal/config's
// Search section.
type Config struct {
	TopKRetrieve        int
	TopKRerank          int
	MaxRerankCandidates int
	RerankTimeout       time.Duration
	RRFConstant         int
	RetrievalMode       hermes.RetrievalMode
}

// DefaultConfig returns the package's stated defaults.
func DefaultConfig() Config {
	return Config{
		TopKRetrieve:        DefaultTopKRetrieve,
		TopKRerank:          DefaultTopKRerank,
		MaxRerankCandidates: DefaultMaxRerankCandidates,
		RerankTimeout:       DefaultRerankTimeout,
		RRFConstant:         DefaultRRFConstant,
		RetrievalMode:       hermes.ModeHybrid,
	}
}

// Request is one /search call's parameters.
type Request struct {
	Query            string
	TopKRetrieve     int
	TopKRerank       int
	RetrievalMode    hermes.RetrievalMode
	FilterLanguage   string
	FilterPathPrefix string
	ReturnSnippets   bool
}

// Result is one ranked hit in a search response.
type Result struct {
	ChunkID        int      `json:"chunk_id"`
	FilePath       string   `json:"file_path"`
	Language       string   `json:"language"`
	StartLine      int      `json:"start_line"`
	EndLine        int      `json:"end_line"`
	SymbolName     string   `json:"symbol_name,omitempty"`
	CodeSnippet    string   `json:"code_snippet,omitempty"`
	RetrievalRank  int      `json:"retrieval_rank"`
	RetrievalScore float32  `json:"retrieval_score"`
	RerankScore    *float32 `json:"rerank_score"`
	FinalRank      int      `json:"final_rank"`
}

// Timings records per-stage wall-clock duration in milliseconds. Absent
// stages (e.g. embed_query_ms under pure sparse mode) stay zero.
type Timings struct {
	EmbedQueryMs float64 `json:"embed_query_ms"`
	RetrievalMs  float64 `json:"retrieval_ms"`
	RerankMs     float64 `json:"rerank_ms"`
	TotalMs      float64 `json:"total_ms"`
}

// Response is the full /search result.
type Response struct {
	RequestID       string        `json:"request_id"`
	Query           string        `json:"query"`
	RetrievalMode   hermes.RetrievalMode `json:"retrieval_mode"`
	Results         []Result      `json:"results"`
	Timings         Timings       `json:"timings_ms"`
	RerankSkipped   bool          `json:"rerank_skipped"`
	TotalCandidates int           `json:"total_candidates"`
}

// QueryEmbedder is satisfied by embed.QueryCache; kept as an interface
// here so pipeline does not import the embed package directly.
type QueryEmbedder interface {
	Get(ctx context.Context, query string) ([]float32, error)
}

// Pipeline is the assembled, immutable search pipeline for one loaded
// index. A new Pipeline is built on every /index or /reload-index call;
// the Reloadable wrapper swaps the active instance atomically.
type Pipeline struct {
	Metadata     hermes.MetadataStore
	Dense        hermes.DenseIndex
	Sparse       hermes.SparseIndex
	QueryCache   QueryEmbedder
	CrossEncoder hermes.CrossEncoder
	Config       Config

	BiencoderModel    string
	CrossencoderModel string
}

// New assembles a Pipeline. cfg zero-value fields are filled with
// DefaultConfig's values.
func New(metadata hermes.MetadataStore, dense hermes.DenseIndex, sparseIdx hermes.SparseIndex, queryCache QueryEmbedder, crossEncoder hermes.CrossEncoder, cfg Config) *Pipeline {
	d := DefaultConfig()
	if cfg.TopKRetrieve <= 0 {
		cfg.TopKRetrieve = d.TopKRetrieve
	}
	if cfg.TopKRerank <= 0 {
		cfg.TopKRerank = d.TopKRerank
	}
	if cfg.MaxRerankCandidates <= 0 {
		cfg.MaxRerankCandidates = d.MaxRerankCandidates
	}
	if cfg.RerankTimeout <= 0 {
		cfg.RerankTimeout = d.RerankTimeout
	}
	if cfg.RRFConstant <= 0 {
		cfg.RRFConstant = d.RRFConstant
	}
	if cfg.RetrievalMode == "" {
		cfg.RetrievalMode = d.RetrievalMode
	}
	return &Pipeline{
		Metadata:     metadata,
		Dense:        dense,
		Sparse:       sparseIdx,
		QueryCache:   queryCache,
		CrossEncoder: crossEncoder,
		Config:       cfg,
	}
}

// Search runs one request through embed→retrieve→filter→rerank→assemble.
func (p *Pipeline) Search(ctx context.Context, req Request) (Response, error) {
	start := time.Now()

	if req.Query == "" {
		return Response{}, hermeserrors.New(hermeserrors.ErrCodeQueryEmpty, "query must not be empty", nil)
	}

	mode := req.RetrievalMode
	if mode == "" {
		mode = p.Config.RetrievalMode
	}
	if mode != hermes.ModeDense && mode != hermes.ModeSparse && mode != hermes.ModeHybrid {
		return Response{}, hermeserrors.New(hermeserrors.ErrCodeInvalidRetrievalMode,
			fmt.Sprintf("unknown retrieval_mode %q", mode), nil)
	}

	topKRetrieve, err := resolveTopK(req.TopKRetrieve, DefaultTopKRetrieve, 1, 1000)
	if err != nil {
		return Response{}, err
	}
	topKRerank, err := resolveTopK(req.TopKRerank, DefaultTopKRerank, 1, 200)
	if err != nil {
		return Response{}, err
	}

	resp := Response{
		RequestID:     newRequestID(),
		Query:         req.Query,
		RetrievalMode: mode,
	}

	// Stage 1+2: embed / tokenize, then retrieve.
	lists, retrievalTiming, err := p.retrieve(ctx, req.Query, mode, topKRetrieve, &resp.Timings)
	if err != nil {
		return Response{}, err
	}
	_ = retrievalTiming

	var candidates []hermes.ScoredChunk
	switch len(lists) {
	case 0:
		candidates = nil
	case 1:
		candidates = lists[0]
	default:
		candidates = fusion.Fuse(lists, p.Config.RRFConstant)
		if topKRetrieve < len(candidates) {
			candidates = candidates[:topKRetrieve]
		}
	}

	// Stage 3: filter.
	if req.FilterLanguage != "" || req.FilterPathPrefix != "" {
		ids, err := p.Metadata.FilterIDs(ctx, req.FilterLanguage, req.FilterPathPrefix)
		if err != nil {
			return Response{}, err
		}
		filtered := candidates[:0:0]
		for _, c := range candidates {
			if _, ok := ids[c.ChunkID]; ok {
				filtered = append(filtered, c)
			}
		}
		candidates = filtered
	}
	resp.TotalCandidates = len(candidates)

	if len(candidates) == 0 {
		resp.RerankSkipped = true
		resp.Timings.TotalMs = msSince(start)
		return resp, nil
	}

	// Stage 4: rerank.
	rerankStart := time.Now()
	rerankScores, rerankSkipped, err := p.rerank(ctx, req.Query, candidates)
	if err != nil {
		return Response{}, err
	}
	resp.Timings.RerankMs = msSince(rerankStart)
	resp.RerankSkipped = rerankSkipped

	// Stage 5: assemble.
	ranked := assemble(candidates, lists, rerankScores, rerankSkipped)

	if topKRerank < len(ranked) {
		ranked = ranked[:topKRerank]
	}

	chunkIDs := make([]int, len(ranked))
	for i, r := range ranked {
		chunkIDs[i] = r.scored.ChunkID
	}
	chunks, err := p.Metadata.GetMany(ctx, chunkIDs)
	if err != nil {
		return Response{}, err
	}

	results := make([]Result, len(ranked))
	for i, r := range ranked {
		c := chunks[i]
		res := Result{
			ChunkID:        c.ChunkID,
			FilePath:       c.FilePath,
			Language:       c.Language,
			StartLine:      c.StartLine,
			EndLine:        c.EndLine,
			SymbolName:     c.SymbolName,
			RetrievalRank:  r.retrievalRank,
			RetrievalScore: r.retrievalScore,
			RerankScore:    r.rerankScore,
			FinalRank:      i + 1,
		}
		if req.ReturnSnippets {
			res.CodeSnippet = c.CodeText
		}
		results[i] = res
	}
	resp.Results = results
	resp.Timings.TotalMs = msSince(start)
	return resp, nil
}

// retrieve runs stage 1 (embed/tokenize) and stage 2 (dense/sparse/hybrid
// retrieval), returning one ranked list per retriever exercised (length 1
// for dense/sparse, length 2 for hybrid before fusion).
func (p *Pipeline) retrieve(ctx context.Context, query string, mode hermes.RetrievalMode, topK int, timings *Timings) ([][]hermes.ScoredChunk, time.Duration, error) {
	retrievalStart := time.Now()

	var denseResults, sparseResults []hermes.ScoredChunk
	g, gctx := errgroup.WithContext(ctx)

	if mode == hermes.ModeDense || mode == hermes.ModeHybrid {
		g.Go(func() error {
			embedStart := time.Now()
			vec, err := p.QueryCache.Get(gctx, query)
			timings.EmbedQueryMs = msSince(embedStart)
			if err != nil {
				return hermeserrors.ModelFailureError("embedding query", err)
			}
			results, err := p.Dense.Search(vec, topK)
			if err != nil {
				return err
			}
			denseResults = results
			return nil
		})
	}
	if mode == hermes.ModeSparse || mode == hermes.ModeHybrid {
		g.Go(func() error {
			tokens := sparse.Tokenize(query)
			results, err := p.Sparse.Search(tokens, topK)
			if err != nil {
				return err
			}
			sparseResults = results
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	var lists [][]hermes.ScoredChunk
	switch mode {
	case hermes.ModeDense:
		lists = [][]hermes.ScoredChunk{denseResults}
	case hermes.ModeSparse:
		lists = [][]hermes.ScoredChunk{sparseResults}
	default:
		lists = [][]hermes.ScoredChunk{denseResults, sparseResults}
	}

	elapsed := time.Since(retrievalStart)
	timings.RetrievalMs = float64(elapsed.Microseconds()) / 1000.0
	return lists, elapsed, nil
}

type rankedCandidate struct {
	scored         hermes.ScoredChunk
	retrievalRank  int // 1-based, post-filter-stage position
	retrievalScore float32
	rerankScore    *float32
}

// assemble merges retrieval order with (optional) rerank scores into the
// final candidate ordering: rerank_score desc with retrieval-rank
// tiebreak when rerank ran, otherwise retrieval order preserved.
func assemble(candidates []hermes.ScoredChunk, lists [][]hermes.ScoredChunk, rerankScores map[int]float32, skipped bool) []rankedCandidate {
	ranked := make([]rankedCandidate, len(candidates))
	for i, c := range candidates {
		rc := rankedCandidate{
			scored:         c,
			retrievalRank:  i + 1,
			retrievalScore: retrievalScoreFor(lists, c),
		}
		if !skipped {
			if s, ok := rerankScores[c.ChunkID]; ok {
				score := s
				rc.rerankScore = &score
			}
		}
		ranked[i] = rc
	}

	if skipped {
		return ranked
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		si, sj := ranked[i].rerankScore, ranked[j].rerankScore
		if si == nil || sj == nil {
			return ranked[i].retrievalRank < ranked[j].retrievalRank
		}
		if *si != *sj {
			return *si > *sj
		}
		return ranked[i].retrievalRank < ranked[j].retrievalRank
	})
	return ranked
}

func retrievalScoreFor(lists [][]hermes.ScoredChunk, c hermes.ScoredChunk) float32 {
	if len(lists) <= 1 {
		return c.Score
	}
	return fusion.RetrievalScore(lists, c.ChunkID)
}

// resolveTopK maps an omitted (zero) request value to def, and rejects an
// explicit value outside [lo, hi] as a validation failure rather than
// silently clamping it to the nearest bound.
func resolveTopK(v, def, lo, hi int) (int, error) {
	if v == 0 {
		return def, nil
	}
	if v < lo || v > hi {
		return 0, hermeserrors.New(hermeserrors.ErrCodeInvalidTopK,
			fmt.Sprintf("top_k value %d out of range [%d, %d]", v, lo, hi), nil)
	}
	return v, nil
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000.0
}

func newRequestID() string {
	buf := make([]byte, 6)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
