package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/docchat/docchat-go/internal/embedder"
	"github.com/docchat/docchat-go/internal/extract"
	"github.com/docchat/docchat-go/internal/generate"
	"github.com/docchat/docchat-go/internal/provider"
	"github.com/docchat/docchat-go/internal/rag"
	"github.com/docchat/docchat-go/internal/session"
)

// buildSession wires the full chat pipeline from environment configuration:
// embedder, chunker, index factory, cache, chat model, and session. The
// returned cache is shared so callers can expose its metrics.
func buildSession(ctx context.Context, log *slog.Logger) (*session.Session, *rag.IndexCache, error) {
	if err := embedder.Validate(log); err != nil {
		return nil, nil, err
	}

	emb, err := embedder.NewFromEnv()
	if err != nil {
		return nil, nil, err
	}

	chunker := rag.NewChunker(
		getEnvInt("CHUNK_SIZE", rag.DefaultChunkSize),
		getEnvInt("CHUNK_OVERLAP", rag.DefaultChunkOverlap),
	)

	// In-memory exhaustive search by default; Qdrant when QDRANT_HOST is set.
	factory := rag.NewMemoryIndexFactory()
	if host := os.Getenv("QDRANT_HOST"); host != "" {
		factory = rag.NewQdrantIndexFactory(&rag.QdrantConfig{
			Host:   host,
			Port:   getEnvInt("QDRANT_PORT", 6334),
			APIKey: os.Getenv("QDRANT_API_KEY"),
			UseTLS: os.Getenv("QDRANT_TLS") == "true",
		})
		log.Info("using qdrant index backend", slog.String("host", host))
	}

	pipeline, err := rag.NewPipeline(extract.Text, chunker, emb, factory)
	if err != nil {
		return nil, nil, err
	}

	var cacheOpts []rag.CacheOption
	if max := getEnvInt("MAX_INDEXES", 0); max > 0 {
		cacheOpts = append(cacheOpts, rag.WithMaxEntries(max))
	}
	cache, err := rag.NewIndexCache(pipeline, cacheOpts...)
	if err != nil {
		return nil, nil, err
	}

	chatModel, err := provider.NewFromEnv(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialise model provider: %w", err)
	}

	timeout := time.Duration(getEnvInt("MODEL_TIMEOUT_SECONDS", 60)) * time.Second
	gen := generate.NewModelClient(chatModel, timeout)

	topK := getEnvInt("CHAT_TOP_K", rag.DefaultTopK)
	retriever, err := rag.NewRetriever(emb, topK)
	if err != nil {
		return nil, nil, err
	}

	sess, err := session.New(session.Config{
		Cache:     cache,
		Retriever: retriever,
		Generator: gen,
		TopK:      topK,
	})
	if err != nil {
		return nil, nil, err
	}
	return sess, cache, nil
}

// attachFile reads path from disk and attaches it to the session.
func attachFile(ctx context.Context, sess *session.Session, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	return sess.AttachDocument(ctx, rag.Document{
		Name: filepath.Base(path),
		Data: data,
	})
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
