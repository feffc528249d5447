package embedder

import (
	"context"
	"fmt"
	"strings"

	"github.com/docchat/docchat-go/internal/rag"
)

// guarded decorates a backend embedder with the behaviour every caller in
// the pipeline relies on:
//
//   - Empty or whitespace-only inputs embed to the zero vector of the
//     configured dimensionality without touching the backend. Some backends
//     reject empty input outright; none of them should be able to crash an
//     upload that happens to contain a blank chunk.
//   - Backend failures are tagged with rag.ErrEmbedding so the session can
//     classify them without knowing which backend is in use.
type guarded struct {
	// inner is the real backend.
	inner rag.Embedder

	// dimensions is the vector length used for zero-vector fallback.
	dimensions int
}

// Wrap returns e decorated with empty-input fallback and error tagging.
// dimensions must match the backend's output vector length.
func Wrap(e rag.Embedder, dimensions int) rag.Embedder {
	return &guarded{inner: e, dimensions: dimensions}
}

// Embed forwards non-empty texts to the backend in one batch and splices
// zero vectors into the empty positions of the result.
func (g *guarded) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	nonEmpty := make([]string, 0, len(texts))
	positions := make([]int, 0, len(texts))
	for i, t := range texts {
		if strings.TrimSpace(t) != "" {
			nonEmpty = append(nonEmpty, t)
			positions = append(positions, i)
		}
	}

	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, g.dimensions)
	}

	if len(nonEmpty) == 0 {
		return out, nil
	}

	vectors, err := g.inner.Embed(ctx, nonEmpty)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", rag.ErrEmbedding, err)
	}
	if len(vectors) != len(nonEmpty) {
		return nil, fmt.Errorf("%w: expected %d vectors, got %d", rag.ErrEmbedding, len(nonEmpty), len(vectors))
	}

	for i, pos := range positions {
		out[pos] = vectors[i]
	}
	return out, nil
}
