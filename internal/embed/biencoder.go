package embed

import (
	"context"

	"github.com/MayankTamakuwala/HERMES/internal/hermes"
)

var _ hermes.Biencoder = (*BiencoderAdapter)(nil)

// BiencoderAdapter adapts the package's Embedder interface (shared with
// the offline static embedders and the Ollama/MLX engine wrappers) to
// hermes.Biencoder's narrower EncodeOne/EncodeBatch contract used by the
// search pipeline and index build orchestrator.
type BiencoderAdapter struct {
	Embedder
}

// NewBiencoder wraps inner as a hermes.Biencoder.
func NewBiencoder(inner Embedder) *BiencoderAdapter {
	return &BiencoderAdapter{Embedder: inner}
}

// EncodeOne embeds a single piece of text, L2-normalized by the
// underlying Embedder implementation.
func (b *BiencoderAdapter) EncodeOne(ctx context.Context, text string) ([]float32, error) {
	return b.Embed(ctx, text)
}

// EncodeBatch embeds texts in chunks of batchSize, concatenating results.
// batchSize <= 0 embeds everything in a single call.
func (b *BiencoderAdapter) EncodeBatch(ctx context.Context, texts []string, batchSize int) ([][]float32, error) {
	if batchSize <= 0 || batchSize >= len(texts) {
		return b.EmbedBatch(ctx, texts)
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := b.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}
