package rag

import (
	"context"
	"fmt"
	"math"
	"sort"
)

// Embedder converts text into dense vector embeddings. The same embedder
// must be used for chunks and queries so the vectors are comparable.
// Implementations must be safe to call from multiple goroutines and must be
// deterministic: identical text yields the identical vector.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Index is a read-only nearest-neighbour store over the chunk embeddings of
// exactly one document. Built once, searched many times, destroyed only when
// evicted from the cache or the process exits.
//
// The in-memory implementation scans exhaustively; the interface exists so a
// backend with a real ANN structure (see the Qdrant variant) can be swapped
// in without touching callers.
type Index interface {
	// Search returns up to k chunks ordered by descending cosine similarity
	// to the query embedding. Ties preserve original chunk order. If the
	// index holds fewer than k chunks all of them are returned; k <= 0
	// returns an empty result. Search never errors on small k.
	Search(ctx context.Context, query []float32, k int) ([]ScoredChunk, error)

	// Len reports the number of chunks indexed.
	Len() int

	// Close releases any resources held by the index.
	Close() error
}

// MemoryIndex is the in-memory Index used for normal documents. A single
// document produces tens to low thousands of chunks, so an exhaustive
// linear scan per query is both exact and fast enough.
type MemoryIndex struct {
	// chunks holds the indexed chunks in reading order.
	chunks []Chunk

	// vectors is parallel to chunks; vectors[i] embeds chunks[i].
	vectors [][]float32
}

// BuildMemoryIndex constructs a MemoryIndex from parallel chunk and
// embedding slices. Both must be non-empty and of equal length; an empty
// input reports ErrEmptyDocument so no index ever exists for a document
// without content.
func BuildMemoryIndex(chunks []Chunk, embeddings [][]float32) (*MemoryIndex, error) {
	if len(chunks) == 0 {
		return nil, ErrEmptyDocument
	}
	if len(chunks) != len(embeddings) {
		return nil, fmt.Errorf("rag: %d chunks but %d embeddings", len(chunks), len(embeddings))
	}
	dim := len(embeddings[0])
	for i, v := range embeddings {
		if len(v) != dim {
			return nil, fmt.Errorf("rag: embedding %d has dimension %d, want %d", i, len(v), dim)
		}
	}

	return &MemoryIndex{
		chunks:  append([]Chunk(nil), chunks...),
		vectors: append([][]float32(nil), embeddings...),
	}, nil
}

// Search scans every stored vector, scores it against the query with cosine
// similarity, and returns the top k. The sort is stable so equal scores keep
// reading order, making results deterministic.
func (idx *MemoryIndex) Search(_ context.Context, query []float32, k int) ([]ScoredChunk, error) {
	if k <= 0 {
		return nil, nil
	}

	scored := make([]ScoredChunk, len(idx.chunks))
	for i, v := range idx.vectors {
		scored[i] = ScoredChunk{Chunk: idx.chunks[i], Score: cosine(query, v)}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if k > len(scored) {
		k = len(scored)
	}
	return scored[:k], nil
}

// Len reports the number of chunks indexed.
func (idx *MemoryIndex) Len() int {
	return len(idx.chunks)
}

// Close is a no-op for the in-memory index.
func (idx *MemoryIndex) Close() error {
	return nil
}

// cosine computes the cosine similarity of a and b, accumulating in float64
// for numeric stability. Mismatched lengths or a zero vector score 0 rather
// than erroring: a query can never crash a search.
func cosine(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
