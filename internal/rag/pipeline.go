package rag

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/docchat/docchat-go/internal/logging"
)

// ExtractFunc turns a document's raw bytes into plain text. The extract
// package provides the production implementation; it is injected here so
// the pipeline stays independent of file-format concerns.
type ExtractFunc func(name string, data []byte) (string, error)

// IndexFactory builds an Index from a document's chunks and their
// embeddings. NewMemoryIndexFactory is the default; the Qdrant variant
// slots in for documents that outgrow a linear scan.
type IndexFactory func(ctx context.Context, doc Document, chunks []Chunk, embeddings [][]float32) (Index, error)

// NewMemoryIndexFactory returns an IndexFactory producing in-memory indexes.
func NewMemoryIndexFactory() IndexFactory {
	return func(_ context.Context, _ Document, chunks []Chunk, embeddings [][]float32) (Index, error) {
		return BuildMemoryIndex(chunks, embeddings)
	}
}

// Pipeline is the document build path: extract text, chunk it, embed every
// chunk in one batch, and hand the results to the index factory. It
// implements Builder, so the IndexCache drives it directly.
type Pipeline struct {
	// extract converts raw document bytes to plain text.
	extract ExtractFunc

	// chunker splits extracted text into overlapping chunks.
	chunker *Chunker

	// embedder converts chunk texts to vectors.
	embedder Embedder

	// newIndex assembles the final index from chunks and embeddings.
	newIndex IndexFactory
}

// NewPipeline constructs a Pipeline. extract and embedder are required;
// chunker defaults to NewChunker(DefaultChunkSize, DefaultChunkOverlap) and
// newIndex to the in-memory factory.
func NewPipeline(extract ExtractFunc, chunker *Chunker, embedder Embedder, newIndex IndexFactory) (*Pipeline, error) {
	if extract == nil {
		return nil, fmt.Errorf("rag: pipeline extract func must not be nil")
	}
	if embedder == nil {
		return nil, fmt.Errorf("rag: pipeline embedder must not be nil")
	}
	if chunker == nil {
		chunker = NewChunker(DefaultChunkSize, DefaultChunkOverlap)
	}
	if newIndex == nil {
		newIndex = NewMemoryIndexFactory()
	}
	return &Pipeline{
		extract:  extract,
		chunker:  chunker,
		embedder: embedder,
		newIndex: newIndex,
	}, nil
}

// Build runs the full ingestion path for doc. Any failure aborts the build
// with nothing cached: extraction errors propagate as-is (the extract
// package reports unsupported formats), a chunkless document reports
// ErrEmptyDocument, and embedding failures are tagged with ErrEmbedding.
func (p *Pipeline) Build(ctx context.Context, doc Document) (Index, error) {
	log := logging.FromContext(ctx)
	start := time.Now()

	text, err := p.extract(doc.Name, doc.Data)
	if err != nil {
		return nil, fmt.Errorf("rag: extract %s: %w", doc.Name, err)
	}

	chunks := p.chunker.Split(text)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("rag: %s: %w", doc.Name, ErrEmptyDocument)
	}

	embeddings, err := p.embedder.Embed(ctx, Texts(chunks))
	if err != nil {
		return nil, fmt.Errorf("%w: chunks of %s: %w", ErrEmbedding, doc.Name, err)
	}

	idx, err := p.newIndex(ctx, doc, chunks, embeddings)
	if err != nil {
		return nil, fmt.Errorf("rag: build index for %s: %w", doc.Name, err)
	}

	log.Info("rag: index built",
		slog.String("document", doc.Name),
		slog.Int("chunks", len(chunks)),
		slog.Duration("duration", time.Since(start)),
	)
	return idx, nil
}
