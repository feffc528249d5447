package session

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docchat/docchat-go/internal/generate"
	"github.com/docchat/docchat-go/internal/rag"
)

// hashEmbedder produces deterministic vectors from word counts so
// retrieval has real similarity structure without a model.
type hashEmbedder struct{}

var vocab = []string{"cat", "dog", "mammal"}

func (hashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, len(vocab))
		lower := strings.ToLower(t)
		for j, w := range vocab {
			v[j] = float32(strings.Count(lower, w))
		}
		out[i] = v
	}
	return out, nil
}

// scriptedGenerator returns a fixed token stream, or fails, recording the
// prompt it was asked to complete.
type scriptedGenerator struct {
	tokens    []string
	err       error // fails Generate itself
	streamErr error // breaks the stream after tokens are delivered
	prompts   []string
}

func (g *scriptedGenerator) Generate(_ context.Context, prompt string) (generate.TokenStream, error) {
	g.prompts = append(g.prompts, prompt)
	if g.err != nil {
		return nil, g.err
	}
	return &scriptedStream{tokens: g.tokens, err: g.streamErr}, nil
}

type scriptedStream struct {
	tokens []string
	err    error // returned after tokens when set, instead of io.EOF
	pos    int
}

func (s *scriptedStream) Recv() (string, error) {
	if s.pos >= len(s.tokens) {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	tok := s.tokens[s.pos]
	s.pos++
	return tok, nil
}

func (s *scriptedStream) Close() {}

func newTestSession(t *testing.T, gen generate.Client) (*Session, *rag.IndexCache) {
	t.Helper()

	pipe, err := rag.NewPipeline(
		func(_ string, data []byte) (string, error) { return string(data), nil },
		rag.NewChunker(0, 0),
		hashEmbedder{},
		rag.NewMemoryIndexFactory(),
	)
	if err != nil {
		t.Fatal(err)
	}
	cache, err := rag.NewIndexCache(pipe)
	if err != nil {
		t.Fatal(err)
	}
	retriever, err := rag.NewRetriever(hashEmbedder{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	sess, err := New(Config{Cache: cache, Retriever: retriever, Generator: gen})
	if err != nil {
		t.Fatal(err)
	}
	return sess, cache
}

func TestNew_RequiresCollaborators(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{}); err == nil {
		t.Error("expected error for empty config")
	}
}

func TestAsk_EndToEnd(t *testing.T) {
	t.Parallel()

	gen := &scriptedGenerator{tokens: []string{"Cats", " are", " mammals."}}
	sess, _ := newTestSession(t, gen)

	doc := rag.Document{Name: "pets.txt", Data: []byte("Cats are mammals. Dogs are mammals too.")}
	if err := sess.AttachDocument(context.Background(), doc); err != nil {
		t.Fatal(err)
	}
	if sess.Fingerprint() != doc.Fingerprint() {
		t.Errorf("fingerprint: got %q", sess.Fingerprint())
	}

	var seen []string
	answer, err := sess.Ask(context.Background(), "What are cats?", func(tok string) {
		seen = append(seen, tok)
	})
	if err != nil {
		t.Fatal(err)
	}
	if answer != "Cats are mammals." {
		t.Errorf("answer: got %q", answer)
	}
	if len(seen) != 3 {
		t.Errorf("expected 3 token callbacks, got %d: %v", len(seen), seen)
	}

	// The assembled prompt grounds the model in the retrieved chunk.
	if len(gen.prompts) != 1 {
		t.Fatalf("expected 1 generation, got %d", len(gen.prompts))
	}
	if !strings.Contains(gen.prompts[0], "Cats are mammals.") {
		t.Errorf("prompt missing document context: %q", gen.prompts[0])
	}
	if !strings.Contains(gen.prompts[0], "What are cats?") {
		t.Errorf("prompt missing question: %q", gen.prompts[0])
	}

	tr := sess.Transcript()
	if len(tr) != 2 {
		t.Fatalf("transcript: expected 2 messages, got %d", len(tr))
	}
	if tr[0].Role != RoleUser || tr[0].Content != "What are cats?" {
		t.Errorf("user turn: %+v", tr[0])
	}
	if tr[1].Role != RoleAssistant || tr[1].Content != "Cats are mammals." {
		t.Errorf("assistant turn: %+v", tr[1])
	}
}

func TestAsk_NoDocumentFailsFast(t *testing.T) {
	t.Parallel()

	sess, _ := newTestSession(t, &scriptedGenerator{tokens: []string{"x"}})

	_, err := sess.Ask(context.Background(), "anything there?", nil)
	if !errors.Is(err, ErrNoActiveIndex) {
		t.Fatalf("expected ErrNoActiveIndex, got %v", err)
	}
	if len(sess.Transcript()) != 0 {
		t.Error("transcript must stay empty when no document is attached")
	}
}

func TestAsk_GenerationFailureKeepsQuestion(t *testing.T) {
	t.Parallel()

	genErr := errors.New("model unavailable")
	gen := &scriptedGenerator{err: genErr}
	sess, _ := newTestSession(t, gen)

	doc := rag.Document{Name: "d.txt", Data: []byte("Dogs are loyal mammals.")}
	if err := sess.AttachDocument(context.Background(), doc); err != nil {
		t.Fatal(err)
	}

	_, err := sess.Ask(context.Background(), "Are dogs loyal?", nil)
	if !errors.Is(err, genErr) {
		t.Fatalf("expected generation error, got %v", err)
	}

	tr := sess.Transcript()
	if len(tr) != 1 {
		t.Fatalf("expected only the user turn, got %d messages", len(tr))
	}
	if tr[0].Role != RoleUser || tr[0].Content != "Are dogs loyal?" {
		t.Errorf("user turn: %+v", tr[0])
	}
}

func TestAsk_BrokenStreamRecordsNoAssistantMessage(t *testing.T) {
	t.Parallel()

	streamErr := errors.New("stream reset")
	gen := &scriptedGenerator{tokens: []string{"half an "}, streamErr: streamErr}
	sess, _ := newTestSession(t, gen)

	doc := rag.Document{Name: "d.txt", Data: []byte("Cats are mammals.")}
	if err := sess.AttachDocument(context.Background(), doc); err != nil {
		t.Fatal(err)
	}

	var seen []string
	_, err := sess.Ask(context.Background(), "What are cats?", func(tok string) {
		seen = append(seen, tok)
	})
	if !errors.Is(err, streamErr) {
		t.Fatalf("expected stream error, got %v", err)
	}
	if len(seen) != 1 {
		t.Errorf("tokens before the break should still reach the caller: %v", seen)
	}

	tr := sess.Transcript()
	if len(tr) != 1 || tr[0].Role != RoleUser {
		t.Fatalf("abandoned generation must record only the user turn: %+v", tr)
	}
}

func TestAttachDocument_ReattachSameContentHitsCache(t *testing.T) {
	t.Parallel()

	sess, cache := newTestSession(t, &scriptedGenerator{tokens: []string{"x"}})

	data := []byte("Cats purr. Dogs bark.")
	if err := sess.AttachDocument(context.Background(), rag.Document{Name: "a.txt", Data: data}); err != nil {
		t.Fatal(err)
	}
	if err := sess.AttachDocument(context.Background(), rag.Document{Name: "copy-of-a.txt", Data: data}); err != nil {
		t.Fatal(err)
	}

	if got := cache.Builds(); got != 1 {
		t.Errorf("builds: got %d, want 1", got)
	}
	if got := cache.Hits(); got != 1 {
		t.Errorf("hits: got %d, want 1", got)
	}
}

func TestAttachDocument_ReplacesActiveDocument(t *testing.T) {
	t.Parallel()

	sess, _ := newTestSession(t, &scriptedGenerator{tokens: []string{"x"}})

	first := rag.Document{Name: "a.txt", Data: []byte("Cats purr.")}
	second := rag.Document{Name: "b.txt", Data: []byte("Dogs bark.")}
	if err := sess.AttachDocument(context.Background(), first); err != nil {
		t.Fatal(err)
	}
	if err := sess.AttachDocument(context.Background(), second); err != nil {
		t.Fatal(err)
	}
	if sess.Fingerprint() != second.Fingerprint() {
		t.Error("second document should be active")
	}
}

func TestAsk_ConcurrentCallsSerialized(t *testing.T) {
	t.Parallel()

	gen := &scriptedGenerator{tokens: []string{"answer"}}
	sess, _ := newTestSession(t, gen)

	doc := rag.Document{Name: "d.txt", Data: []byte("Cats and dogs are mammals.")}
	if err := sess.AttachDocument(context.Background(), doc); err != nil {
		t.Fatal(err)
	}

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := sess.Ask(context.Background(), "q", nil); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	tr := sess.Transcript()
	if len(tr) != 2*n {
		t.Fatalf("transcript: expected %d messages, got %d", 2*n, len(tr))
	}
	for i, m := range tr {
		want := RoleUser
		if i%2 == 1 {
			want = RoleAssistant
		}
		if m.Role != want {
			t.Fatalf("message %d: role %q, want %q", i, m.Role, want)
		}
	}
}

// blockingGenerator yields one token and then stalls until released,
// simulating a slow model mid-stream.
type blockingGenerator struct {
	release chan struct{}
}

func (g *blockingGenerator) Generate(_ context.Context, _ string) (generate.TokenStream, error) {
	return &blockingStream{release: g.release}, nil
}

type blockingStream struct {
	release <-chan struct{}
	sent    bool
}

func (s *blockingStream) Recv() (string, error) {
	if !s.sent {
		s.sent = true
		return "thinking", nil
	}
	<-s.release
	return "", io.EOF
}

func (s *blockingStream) Close() {}

func TestStateReadsNotBlockedByActiveAsk(t *testing.T) {
	t.Parallel()

	gen := &blockingGenerator{release: make(chan struct{})}
	sess, _ := newTestSession(t, gen)

	doc := rag.Document{Name: "d.txt", Data: []byte("Cats are mammals.")}
	if err := sess.AttachDocument(context.Background(), doc); err != nil {
		t.Fatal(err)
	}

	streaming := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := sess.Ask(context.Background(), "What are cats?", func(string) {
			close(streaming)
		})
		if err != nil {
			t.Error(err)
		}
	}()
	<-streaming

	// With the model mid-stream, state reads must still return promptly.
	reads := make(chan struct{})
	go func() {
		defer close(reads)
		if sess.Fingerprint() != doc.Fingerprint() {
			t.Error("fingerprint should be readable during an active ask")
		}
		tr := sess.Transcript()
		if len(tr) != 1 || tr[0].Role != RoleUser {
			t.Errorf("user turn should be visible during an active ask: %+v", tr)
		}
	}()
	select {
	case <-reads:
	case <-time.After(5 * time.Second):
		t.Fatal("Fingerprint/Transcript blocked behind an active ask")
	}

	close(gen.release)
	<-done
}

// cancellingGenerator yields one token, then ends the stream with the
// context's error once the caller cancels.
type cancellingGenerator struct{}

func (cancellingGenerator) Generate(ctx context.Context, _ string) (generate.TokenStream, error) {
	return &cancelStream{ctx: ctx}, nil
}

type cancelStream struct {
	ctx  context.Context
	sent bool
}

func (s *cancelStream) Recv() (string, error) {
	if !s.sent {
		s.sent = true
		return "partial", nil
	}
	<-s.ctx.Done()
	return "", s.ctx.Err()
}

func (s *cancelStream) Close() {}

func TestAsk_ConsumerCancelRecordsNoAssistantMessage(t *testing.T) {
	t.Parallel()

	sess, _ := newTestSession(t, cancellingGenerator{})

	doc := rag.Document{Name: "d.txt", Data: []byte("Cats are mammals.")}
	if err := sess.AttachDocument(context.Background(), doc); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := sess.Ask(ctx, "What are cats?", func(string) {
		cancel() // consumer walks away after the first token
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	tr := sess.Transcript()
	if len(tr) != 1 || tr[0].Role != RoleUser {
		t.Fatalf("abandoned generation must record only the user turn: %+v", tr)
	}
}

func TestSessionIDsAreUnique(t *testing.T) {
	t.Parallel()

	a, _ := newTestSession(t, &scriptedGenerator{})
	b, _ := newTestSession(t, &scriptedGenerator{})
	if a.ID() == b.ID() {
		t.Error("session IDs should differ")
	}
	if len(a.ID()) != 16 {
		t.Errorf("id length: got %d", len(a.ID()))
	}
}
