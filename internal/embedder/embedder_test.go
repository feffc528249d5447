package embedder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/docchat/docchat-go/internal/logging"
	"github.com/docchat/docchat-go/internal/rag"
)

// ---------------------------------------------------------------------------
// Ollama backend (httptest-backed)
// ---------------------------------------------------------------------------

func TestOllama_Embed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.Model != "nomic-embed-text" {
			t.Errorf("model: got %q", req.Model)
		}
		resp := ollamaEmbedResponse{Embeddings: make([][]float32, len(req.Input))}
		for i := range req.Input {
			resp.Embeddings[i] = []float32{float32(i), 1}
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	e := NewOllama(&OllamaConfig{Host: srv.URL, Model: "nomic-embed-text"})
	got, err := e.Embed(context.Background(), []string{"one", "two"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(got))
	}
	if got[1][0] != 1 {
		t.Errorf("vector 1: got %v", got[1])
	}
}

func TestOllama_EmbedServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Error: "model not found"})
	}))
	defer srv.Close()

	e := NewOllama(&OllamaConfig{Host: srv.URL, Model: "missing"})
	_, err := e.Embed(context.Background(), []string{"text"})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestOllama_EmbedCountMismatch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: [][]float32{{1}}})
	}))
	defer srv.Close()

	e := NewOllama(&OllamaConfig{Host: srv.URL, Model: "m"})
	_, err := e.Embed(context.Background(), []string{"a", "b"})
	if err == nil {
		t.Fatal("expected error for embedding count mismatch")
	}
}

// ---------------------------------------------------------------------------
// OpenAI backend (httptest-backed)
// ---------------------------------------------------------------------------

func TestOpenAI_Embed_OutOfOrderData(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("auth header: got %q", got)
		}
		fmt.Fprint(w, `{"data":[
			{"index":1,"embedding":[0,1]},
			{"index":0,"embedding":[1,0]}
		]}`)
	}))
	defer srv.Close()

	e := NewOpenAI(&OpenAIConfig{BaseURL: srv.URL, APIKey: "sk-test", Model: "text-embedding-3-small"})
	got, err := e.Embed(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatal(err)
	}
	if got[0][0] != 1 || got[1][1] != 1 {
		t.Errorf("vectors not placed by index: %v", got)
	}
}

func TestOpenAI_Embed_AzureAuth(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("api-key"); got != "az-key" {
			t.Errorf("api-key header: got %q", got)
		}
		if got := r.URL.Query().Get("api-version"); got != "2025-04-01-preview" {
			t.Errorf("api-version: got %q", got)
		}
		fmt.Fprint(w, `{"data":[{"index":0,"embedding":[1,2]}]}`)
	}))
	defer srv.Close()

	e := NewOpenAI(&OpenAIConfig{
		BaseURL:    srv.URL,
		APIKey:     "az-key",
		Model:      "embed-deploy",
		Azure:      true,
		APIVersion: "2025-04-01-preview",
	})
	if _, err := e.Embed(context.Background(), []string{"text"}); err != nil {
		t.Fatal(err)
	}
}

func TestOpenAI_Embed_APIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"invalid api key"}}`)
	}))
	defer srv.Close()

	e := NewOpenAI(&OpenAIConfig{BaseURL: srv.URL, APIKey: "bad", Model: "m"})
	_, err := e.Embed(context.Background(), []string{"text"})
	if err == nil {
		t.Fatal("expected error")
	}
}

// ---------------------------------------------------------------------------
// Wrap — empty-input fallback and error tagging
// ---------------------------------------------------------------------------

// recordingEmbedder records its inputs and returns unit vectors.
type recordingEmbedder struct {
	got []string
	err error
}

func (r *recordingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	r.got = texts
	if r.err != nil {
		return nil, r.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 2, 3}
	}
	return out, nil
}

func TestWrap_EmptyTextsSkipBackend(t *testing.T) {
	t.Parallel()

	inner := &recordingEmbedder{}
	w := Wrap(inner, 3)

	got, err := w.Embed(context.Background(), []string{"real text", "", "   ", "more text"})
	if err != nil {
		t.Fatal(err)
	}

	if len(inner.got) != 2 {
		t.Fatalf("backend received %d texts, want 2", len(inner.got))
	}
	if inner.got[0] != "real text" || inner.got[1] != "more text" {
		t.Errorf("backend inputs: %v", inner.got)
	}

	if len(got) != 4 {
		t.Fatalf("expected 4 vectors, got %d", len(got))
	}
	for _, i := range []int{1, 2} {
		for _, v := range got[i] {
			if v != 0 {
				t.Errorf("vector %d should be all zeros, got %v", i, got[i])
				break
			}
		}
		if len(got[i]) != 3 {
			t.Errorf("vector %d: dimension %d, want 3", i, len(got[i]))
		}
	}
	if got[0][0] != 1 || got[3][0] != 1 {
		t.Errorf("non-empty positions should carry backend vectors: %v", got)
	}
}

func TestWrap_AllEmptyNeverCallsBackend(t *testing.T) {
	t.Parallel()

	inner := &recordingEmbedder{err: errors.New("must not be called")}
	w := Wrap(inner, 2)

	got, err := w.Embed(context.Background(), []string{"", "  "})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || len(got[0]) != 2 {
		t.Errorf("unexpected fallback shape: %v", got)
	}
}

func TestWrap_TagsBackendFailure(t *testing.T) {
	t.Parallel()

	inner := &recordingEmbedder{err: errors.New("connection refused")}
	w := Wrap(inner, 3)

	_, err := w.Embed(context.Background(), []string{"text"})
	if !errors.Is(err, rag.ErrEmbedding) {
		t.Errorf("expected rag.ErrEmbedding, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Env factory
// ---------------------------------------------------------------------------

func TestNewFromEnv_DefaultsToOllama(t *testing.T) {
	clearEmbedderEnv(t)

	e, err := NewFromEnv()
	if err != nil {
		t.Fatal(err)
	}
	g, ok := e.(*guarded)
	if !ok {
		t.Fatalf("expected wrapped embedder, got %T", e)
	}
	if _, ok := g.inner.(*Ollama); !ok {
		t.Errorf("expected Ollama backend, got %T", g.inner)
	}
	if g.dimensions != defaultOllamaDimensions {
		t.Errorf("dimensions: got %d, want %d", g.dimensions, defaultOllamaDimensions)
	}
}

func TestNewFromEnv_InheritsModelProvider(t *testing.T) {
	clearEmbedderEnv(t)
	t.Setenv("MODEL_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	e, err := NewFromEnv()
	if err != nil {
		t.Fatal(err)
	}
	g := e.(*guarded)
	if _, ok := g.inner.(*OpenAI); !ok {
		t.Errorf("expected OpenAI backend, got %T", g.inner)
	}
}

func TestNewFromEnv_OpenAIRequiresKey(t *testing.T) {
	clearEmbedderEnv(t)
	t.Setenv("EMBEDDING_PROVIDER", "openai")

	if _, err := NewFromEnv(); err == nil {
		t.Fatal("expected error without API key")
	}
}

func TestNewFromEnv_UnknownBackend(t *testing.T) {
	clearEmbedderEnv(t)
	t.Setenv("EMBEDDING_PROVIDER", "mainframe")

	if _, err := NewFromEnv(); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestDefaultDimensions(t *testing.T) {
	clearEmbedderEnv(t)

	if got := DefaultDimensions("ollama"); got != defaultOllamaDimensions {
		t.Errorf("ollama: got %d", got)
	}
	if got := DefaultDimensions("openai"); got != defaultOpenAIDimensions {
		t.Errorf("openai: got %d", got)
	}

	t.Setenv("EMBEDDING_DIMENSIONS", "512")
	if got := DefaultDimensions("ollama"); got != 512 {
		t.Errorf("override: got %d, want 512", got)
	}
}

func TestLooksLikeChatModel(t *testing.T) {
	t.Parallel()

	chatModels := []string{"llama3:8b", "gpt-4o", "mistral-7b", "Qwen2.5"}
	for _, m := range chatModels {
		if !looksLikeChatModel(m) {
			t.Errorf("%q should look like a chat model", m)
		}
	}
	embedModels := []string{"nomic-embed-text", "text-embedding-3-small", "bge-large"}
	for _, m := range embedModels {
		if looksLikeChatModel(m) {
			t.Errorf("%q should not look like a chat model", m)
		}
	}
}

func TestValidate(t *testing.T) {
	clearEmbedderEnv(t)

	if err := Validate(logging.Discard()); err != nil {
		t.Errorf("default ollama config should validate: %v", err)
	}

	t.Setenv("EMBEDDING_PROVIDER", "openai")
	if err := Validate(logging.Discard()); err == nil {
		t.Error("openai without key should fail validation")
	}

	t.Setenv("OPENAI_API_KEY", "sk-test")
	if err := Validate(logging.Discard()); err != nil {
		t.Errorf("openai with key should validate: %v", err)
	}

	t.Setenv("EMBEDDING_PROVIDER", "gemini")
	if err := Validate(logging.Discard()); err == nil {
		t.Error("gemini should fail validation")
	}
}

// clearEmbedderEnv unsets every env var the factory reads so tests are
// hermetic regardless of the host environment.
func clearEmbedderEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"MODEL_PROVIDER", "EMBEDDING_PROVIDER", "EMBEDDING_MODEL",
		"EMBEDDING_API_KEY", "EMBEDDING_ENDPOINT", "EMBEDDING_DIMENSIONS",
		"OLLAMA_HOST", "OPENAI_API_KEY",
		"AZURE_OPENAI_API_KEY", "AZURE_OPENAI_ENDPOINT",
	} {
		t.Setenv(k, "")
	}
}
