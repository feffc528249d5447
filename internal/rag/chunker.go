package rag

import "strings"

const (
	// DefaultChunkSize is the maximum number of bytes per chunk.
	DefaultChunkSize = 1000

	// DefaultChunkOverlap is the number of bytes shared between consecutive
	// chunks. Overlap keeps sentences that straddle a chunk boundary
	// retrievable from at least one side.
	DefaultChunkOverlap = 100
)

// Chunker splits extracted document text into overlapping fixed-size chunks.
// Splitting is purely positional and therefore deterministic: the same input
// text always yields byte-identical chunks with identical offsets, which the
// index cache relies on for fingerprint-keyed reuse.
type Chunker struct {
	// size is the maximum chunk length in bytes.
	size int

	// overlap is the number of bytes repeated at the start of each chunk
	// from the end of the previous one.
	overlap int
}

// NewChunker constructs a Chunker. Non-positive size falls back to
// DefaultChunkSize; negative overlap is clamped to zero; an overlap that
// would prevent forward progress is clamped to size/10.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 10
	}
	return &Chunker{size: size, overlap: overlap}
}

// Split chunks text into an ordered sequence covering the whole input.
// Whitespace-only input produces no chunks. Offsets are byte positions in
// the input text, so Chunk.Text == text[Chunk.Start:Chunk.End] always holds.
func (c *Chunker) Split(text string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	step := c.size - c.overlap
	chunks := make([]Chunk, 0, len(text)/step+1)

	for start := 0; start < len(text); start += step {
		end := start + c.size
		if end > len(text) {
			end = len(text)
		}
		chunks = append(chunks, Chunk{
			Index: len(chunks),
			Text:  text[start:end],
			Start: start,
			End:   end,
		})
		if end == len(text) {
			break
		}
	}

	return chunks
}

// Texts returns the chunk texts in order, shaped for a batch embedding call.
func Texts(chunks []Chunk) []string {
	out := make([]string, len(chunks))
	for i, ch := range chunks {
		out[i] = ch.Text
	}
	return out
}
