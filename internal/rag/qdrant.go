package rag

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig holds connection parameters for an optional Qdrant-backed
// index. When unset, documents are indexed in memory.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantIndex implements Index on a Qdrant collection holding one document's
// chunk vectors. It exists to prove the Index interface does not lock the
// pipeline into exhaustive scanning: Qdrant brings its own HNSW structure
// for documents whose chunk count outgrows a linear pass.
type QdrantIndex struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// collection is the per-document collection, derived from the fingerprint.
	collection string

	// chunks mirrors the indexed chunks so search results carry full chunk
	// data without a payload round-trip per field.
	chunks []Chunk
}

// NewQdrantIndexFactory returns an IndexFactory that stores each document's
// vectors in a dedicated Qdrant collection named after its fingerprint.
// Rebuilding the same document truncates and repopulates the collection, so
// the at-most-one-index-per-fingerprint invariant holds on the server too.
func NewQdrantIndexFactory(cfg *QdrantConfig) IndexFactory {
	return func(ctx context.Context, doc Document, chunks []Chunk, embeddings [][]float32) (Index, error) {
		return buildQdrantIndex(ctx, cfg, doc, chunks, embeddings)
	}
}

func buildQdrantIndex(ctx context.Context, cfg *QdrantConfig, doc Document, chunks []Chunk, embeddings [][]float32) (*QdrantIndex, error) {
	if len(chunks) == 0 {
		return nil, ErrEmptyDocument
	}
	if len(chunks) != len(embeddings) {
		return nil, fmt.Errorf("rag: qdrant: %d chunks but %d embeddings", len(chunks), len(embeddings))
	}

	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("rag: qdrant client: %w", err)
	}

	idx := &QdrantIndex{
		client:     client,
		collection: "docchat_" + doc.Fingerprint()[:16],
		chunks:     append([]Chunk(nil), chunks...),
	}

	if err := idx.recreateCollection(ctx, uint64(len(embeddings[0]))); err != nil {
		_ = client.Close()
		return nil, err
	}
	if err := idx.upsert(ctx, embeddings); err != nil {
		_ = client.Close()
		return nil, err
	}
	return idx, nil
}

// recreateCollection drops any stale collection for this fingerprint and
// creates a fresh one with cosine distance, matching the metric the
// in-memory index uses.
func (idx *QdrantIndex) recreateCollection(ctx context.Context, vectorSize uint64) error {
	exists, err := idx.client.CollectionExists(ctx, idx.collection)
	if err != nil {
		return fmt.Errorf("rag: qdrant: check collection: %w", err)
	}
	if exists {
		if err := idx.client.DeleteCollection(ctx, idx.collection); err != nil {
			return fmt.Errorf("rag: qdrant: drop stale collection: %w", err)
		}
	}

	err = idx.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: idx.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     vectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("rag: qdrant: create collection %q: %w", idx.collection, err)
	}
	return nil
}

// upsert writes one point per chunk, keyed by chunk index.
func (idx *QdrantIndex) upsert(ctx context.Context, embeddings [][]float32) error {
	points := make([]*qdrant.PointStruct, 0, len(idx.chunks))
	for i, ch := range idx.chunks {
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDNum(uint64(ch.Index)),
			Vectors: qdrant.NewVectors(embeddings[i]...),
		})
	}

	_, err := idx.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: idx.collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("rag: qdrant: upsert: %w", err)
	}
	return nil
}

// Search delegates nearest-neighbour lookup to Qdrant and maps point IDs
// back to the mirrored chunks.
func (idx *QdrantIndex) Search(ctx context.Context, query []float32, k int) ([]ScoredChunk, error) {
	if k <= 0 {
		return nil, nil
	}

	limit := uint64(k)
	results, err := idx.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: idx.collection,
		Query:          qdrant.NewQuery(query...),
		Limit:          &limit,
	})
	if err != nil {
		return nil, fmt.Errorf("rag: qdrant: search: %w", err)
	}

	scored := make([]ScoredChunk, 0, len(results))
	for _, r := range results {
		n := int(r.Id.GetNum())
		if n < 0 || n >= len(idx.chunks) {
			continue
		}
		scored = append(scored, ScoredChunk{Chunk: idx.chunks[n], Score: r.Score})
	}
	return scored, nil
}

// Len reports the number of chunks indexed.
func (idx *QdrantIndex) Len() int {
	return len(idx.chunks)
}

// Close drops the per-document collection and closes the gRPC connection.
// The index is destroyed on eviction, so the collection must not outlive it.
func (idx *QdrantIndex) Close() error {
	if err := idx.client.DeleteCollection(context.Background(), idx.collection); err != nil {
		_ = idx.client.Close()
		return fmt.Errorf("rag: qdrant: drop collection: %w", err)
	}
	if err := idx.client.Close(); err != nil {
		return fmt.Errorf("rag: qdrant: close: %w", err)
	}
	return nil
}
