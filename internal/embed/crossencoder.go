package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	hermeserrors "github.com/MayankTamakuwala/HERMES/internal/errors"
	"github.com/MayankTamakuwala/HERMES/internal/hermes"
)

var (
	_ hermes.CrossEncoder = (*LexicalCrossEncoder)(nil)
	_ hermes.CrossEncoder = (*HTTPCrossEncoder)(nil)
)

// LexicalCrossEncoder scores (query, document) pairs by token overlap. It
// is used offline and in tests where no network-hosted cross-encoder
// model is configured; the cross-encoder is treated as an external
// black-box model, so this is one concrete engine behind that contract,
// not a stand-in for model quality.
type LexicalCrossEncoder struct {
	model string
}

// NewLexicalCrossEncoder creates an offline cross-encoder.
func NewLexicalCrossEncoder() *LexicalCrossEncoder {
	return &LexicalCrossEncoder{model: "lexical-overlap-v1"}
}

// Score returns, for each (query, document) pair, the fraction of query
// tokens that also appear in the document. Higher is better; no
// cross-call normalization is implied or required.
func (e *LexicalCrossEncoder) Score(ctx context.Context, pairs [][2]string, batchSize int) ([]float32, error) {
	scores := make([]float32, len(pairs))
	for i, pair := range pairs {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		qTokens := tokenize(pair[0])
		if len(qTokens) == 0 {
			scores[i] = 0
			continue
		}
		docSet := make(map[string]struct{})
		for _, t := range tokenize(pair[1]) {
			docSet[t] = struct{}{}
		}
		var matched int
		for _, t := range qTokens {
			if _, ok := docSet[t]; ok {
				matched++
			}
		}
		scores[i] = float32(matched) / float32(len(qTokens))
	}
	return scores, nil
}

// ModelName identifies this cross-encoder engine.
func (e *LexicalCrossEncoder) ModelName() string { return e.model }

// HTTPCrossEncoder scores pairs against a network-hosted cross-encoder
// service (e.g. a locally served reranking model), following the same
// HTTP client shape as the package's Ollama embedder wrapper.
type HTTPCrossEncoder struct {
	client *http.Client
	url    string
	model  string
}

// NewHTTPCrossEncoder creates a cross-encoder client against url, which
// must accept {"model":..., "pairs":[[query,doc],...]} and respond with
// {"scores":[...]}.
func NewHTTPCrossEncoder(url, model string, timeout time.Duration) *HTTPCrossEncoder {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPCrossEncoder{
		client: &http.Client{Timeout: timeout},
		url:    url,
		model:  model,
	}
}

type crossEncoderRequest struct {
	Model string      `json:"model"`
	Pairs [][2]string `json:"pairs"`
}

type crossEncoderResponse struct {
	Scores []float32 `json:"scores"`
}

// Score submits pairs to the remote model in batches of batchSize
// (batchSize <= 0 sends everything in one request).
func (e *HTTPCrossEncoder) Score(ctx context.Context, pairs [][2]string, batchSize int) ([]float32, error) {
	if batchSize <= 0 {
		batchSize = len(pairs)
	}
	if batchSize == 0 {
		return nil, nil
	}

	scores := make([]float32, 0, len(pairs))
	for start := 0; start < len(pairs); start += batchSize {
		end := start + batchSize
		if end > len(pairs) {
			end = len(pairs)
		}
		batchScores, err := e.scoreBatch(ctx, pairs[start:end])
		if err != nil {
			return nil, err
		}
		scores = append(scores, batchScores...)
	}
	return scores, nil
}

func (e *HTTPCrossEncoder) scoreBatch(ctx context.Context, pairs [][2]string) ([]float32, error) {
	body, err := json.Marshal(crossEncoderRequest{Model: e.model, Pairs: pairs})
	if err != nil {
		return nil, hermeserrors.ModelFailureError("encoding cross-encoder request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return nil, hermeserrors.ModelFailureError("building cross-encoder request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, hermeserrors.ModelFailureError("calling cross-encoder service", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, hermeserrors.ModelFailureError(
			fmt.Sprintf("cross-encoder service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))), nil)
	}

	var out crossEncoderResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, hermeserrors.ModelFailureError("decoding cross-encoder response", err)
	}
	if len(out.Scores) != len(pairs) {
		return nil, hermeserrors.ModelFailureError(
			fmt.Sprintf("cross-encoder returned %d scores for %d pairs", len(out.Scores), len(pairs)), nil)
	}
	return out.Scores, nil
}

// ModelName identifies the remote model being served.
func (e *HTTPCrossEncoder) ModelName() string { return e.model }
