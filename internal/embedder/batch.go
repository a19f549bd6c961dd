package embedder

import (
	"context"
	"fmt"

	"github.com/54b3r/astrorag-go/internal/rag"
)

// DefaultBatchSize is the number of texts sent per embedding request.
const DefaultBatchSize = 32

// Batched splits large Embed calls into sequential requests of at most size
// texts, preserving input order.
type Batched struct {
	inner rag.Embedder
	size  int
}

// NewBatched wraps inner. A size ≤ 0 selects DefaultBatchSize.
func NewBatched(inner rag.Embedder, size int) *Batched {
	if size <= 0 {
		size = DefaultBatchSize
	}
	return &Batched{inner: inner, size: size}
}

// Embed embeds texts batch by batch. The first failing batch aborts the call.
func (b *Batched) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += b.size {
		end := min(start+b.size, len(texts))
		vecs, err := b.inner.Embed(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embedder: batch [%d, %d): %w", start, end, err)
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("embedder: batch [%d, %d): got %d vectors", start, end, len(vecs))
		}
		out = append(out, vecs...)
	}
	return out, nil
}
