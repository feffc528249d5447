// Package rag implements the retrieval-augmented generation pipeline:
// chunking document text, building an in-memory vector index over chunk
// embeddings, caching one index per distinct document, and retrieving the
// most relevant chunks for a query. Concrete embedding backends live in
// the embedder package and satisfy the Embedder interface defined here.
package rag

import (
	"crypto/sha256"
	"encoding/hex"
)

// Document is one uploaded document: raw bytes plus the filename the user
// gave it. Documents are immutable once ingested; identity is derived from
// content, not from the name.
type Document struct {
	// Name is the original filename, used to pick the text extractor.
	Name string

	// Data is the raw uploaded bytes.
	Data []byte
}

// Fingerprint returns the deterministic content identifier for the document:
// the hex-encoded SHA-256 of its raw bytes. Two uploads with byte-identical
// content always share a fingerprint regardless of filename, so the index
// cache never builds the same document twice.
func (d Document) Fingerprint() string {
	sum := sha256.Sum256(d.Data)
	return hex.EncodeToString(sum[:])
}

// Chunk is a contiguous slice of a document's extracted text, the unit of
// embedding and retrieval. Chunks are produced once, in reading order, and
// never mutated.
type Chunk struct {
	// Index is the zero-based position of the chunk in reading order.
	Index int

	// Text is the chunk content, verbatim from the extracted text.
	Text string

	// Start and End are byte offsets of Text within the extracted text,
	// half-open [Start, End).
	Start int
	End   int
}

// ScoredChunk pairs a retrieved chunk with its similarity score.
type ScoredChunk struct {
	// Chunk is the retrieved chunk.
	Chunk Chunk

	// Score is the cosine similarity between the query embedding and the
	// chunk embedding, in [-1, 1]. Higher is more similar.
	Score float32
}
