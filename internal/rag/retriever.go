package rag

import (
	"context"
	"fmt"
)

// DefaultTopK is the number of chunks retrieved per question when the
// caller passes no explicit k. Four chunks of ~1000 bytes fit comfortably
// in an 8k-token context window alongside the prompt template.
const DefaultTopK = 4

// Retriever embeds a query and searches a document index for the most
// relevant chunks. The index is passed per call rather than held, because a
// session swaps its active index on every document upload.
type Retriever struct {
	// embedder converts query text to a dense vector. It must be the same
	// embedder that produced the index's chunk vectors.
	embedder Embedder

	// defaultTopK is the result count used when Retrieve is called with k <= 0.
	defaultTopK int
}

// NewRetriever constructs a Retriever. defaultTopK falls back to DefaultTopK
// when non-positive.
func NewRetriever(embedder Embedder, defaultTopK int) (*Retriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if defaultTopK <= 0 {
		defaultTopK = DefaultTopK
	}
	return &Retriever{embedder: embedder, defaultTopK: defaultTopK}, nil
}

// Retrieve embeds query and returns the top-k most similar chunks from idx,
// ordered by descending similarity. Embedding failures are tagged with
// ErrEmbedding so callers can classify them.
func (r *Retriever) Retrieve(ctx context.Context, idx Index, query string, k int) ([]ScoredChunk, error) {
	if idx == nil {
		return nil, fmt.Errorf("rag: retrieve: index must not be nil")
	}
	if k <= 0 {
		k = r.defaultTopK
	}

	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("%w: query: %w", ErrEmbedding, err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("%w: empty result for query", ErrEmbedding)
	}

	chunks, err := idx.Search(ctx, vectors[0], k)
	if err != nil {
		return nil, fmt.Errorf("rag: search: %w", err)
	}
	return chunks, nil
}
