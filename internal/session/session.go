// Package session holds the conversation state for one document-chat
// exchange: the attached document's index, the transcript, and the wiring
// between retrieval and generation.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/docchat/docchat-go/internal/generate"
	"github.com/docchat/docchat-go/internal/logging"
	"github.com/docchat/docchat-go/internal/rag"
)

// ErrNoActiveIndex is returned by Ask when no document has been attached.
// The transcript is untouched in that case.
var ErrNoActiveIndex = errors.New("session: no document attached")

// Role identifies the author of a transcript message.
type Role string

const (
	// RoleUser marks a question from the user.
	RoleUser Role = "user"
	// RoleAssistant marks a model response.
	RoleAssistant Role = "assistant"
)

// Message is one turn of the conversation transcript.
type Message struct {
	// Role is who authored the message.
	Role Role
	// Content is the message text.
	Content string
	// At is when the message was committed to the transcript.
	At time.Time
}

// Config wires a Session's collaborators.
type Config struct {
	// Cache builds and caches document indexes by fingerprint.
	Cache *rag.IndexCache
	// Retriever embeds questions and searches the active index.
	Retriever *rag.Retriever
	// Generator streams model completions for assembled prompts.
	Generator generate.Client
	// TopK is the number of chunks retrieved per question.
	// Zero or less selects rag.DefaultTopK.
	TopK int
}

// Session is one user's conversation with at most one attached document.
// All methods are safe for concurrent use; Ask calls are serialized so
// the transcript stays an alternating sequence of turns.
type Session struct {
	id        string
	cache     *rag.IndexCache
	retriever *rag.Retriever
	gen       generate.Client
	topK      int

	// askMu serializes Ask calls so the transcript stays an alternating
	// sequence of turns. It is never held while reading state, so
	// Fingerprint and Transcript stay responsive during a live stream.
	askMu sync.Mutex

	// mu guards the fields below and is only held briefly.
	mu          sync.Mutex
	index       rag.Index
	fingerprint string
	transcript  []Message
}

// New constructs a Session. Cache, Retriever, and Generator are required.
func New(cfg Config) (*Session, error) {
	if cfg.Cache == nil {
		return nil, fmt.Errorf("session: index cache is required")
	}
	if cfg.Retriever == nil {
		return nil, fmt.Errorf("session: retriever is required")
	}
	if cfg.Generator == nil {
		return nil, fmt.Errorf("session: generator is required")
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = rag.DefaultTopK
	}
	return &Session{
		id:        newID(),
		cache:     cfg.Cache,
		retriever: cfg.Retriever,
		gen:       cfg.Generator,
		topK:      topK,
	}, nil
}

// ID returns the session's random identifier.
func (s *Session) ID() string {
	return s.id
}

// AttachDocument indexes doc (or reuses the cached index for identical
// content) and makes it the session's active document, replacing any
// previous one. The transcript is preserved across attachments.
func (s *Session) AttachDocument(ctx context.Context, doc rag.Document) error {
	fp := doc.Fingerprint()

	idx, err := s.cache.GetOrBuild(ctx, doc)
	if err != nil {
		return fmt.Errorf("session: attach %s: %w", doc.Name, err)
	}

	s.mu.Lock()
	s.index = idx
	s.fingerprint = fp
	s.mu.Unlock()

	logging.FromContext(ctx).Info("session: document attached",
		slog.String("session", s.id),
		slog.String("document", doc.Name),
		slog.String("fingerprint", fp[:12]),
		slog.Int("chunks", idx.Len()),
	)
	return nil
}

// Fingerprint returns the active document's content fingerprint, or empty
// string when no document is attached.
func (s *Session) Fingerprint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fingerprint
}

// Ask answers question against the active document. Retrieved chunks are
// assembled into a grounded prompt, the model response is streamed through
// onToken (which may be nil) as deltas arrive, and the complete answer is
// returned.
//
// Transcript semantics: with no document attached, Ask fails with
// ErrNoActiveIndex before anything is recorded. Once a question is accepted
// it is committed to the transcript even if retrieval or generation later
// fails; a failed turn records no assistant message. Concurrent Ask calls
// are serialized in arrival order.
func (s *Session) Ask(ctx context.Context, question string, onToken func(token string)) (string, error) {
	s.askMu.Lock()
	defer s.askMu.Unlock()

	s.mu.Lock()
	idx := s.index
	if idx == nil {
		s.mu.Unlock()
		return "", ErrNoActiveIndex
	}
	s.transcript = append(s.transcript, Message{
		Role:    RoleUser,
		Content: question,
		At:      time.Now(),
	})
	s.mu.Unlock()

	start := time.Now()
	chunks, err := s.retriever.Retrieve(ctx, idx, question, s.topK)
	if err != nil {
		return "", fmt.Errorf("session: retrieve: %w", err)
	}

	prompt := rag.AssemblePrompt(chunks, question)

	ts, err := s.gen.Generate(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("session: generate: %w", err)
	}
	defer ts.Close()

	answer, err := generate.Drain(ts, onToken)
	if err != nil {
		return "", fmt.Errorf("session: stream: %w", err)
	}

	s.mu.Lock()
	s.transcript = append(s.transcript, Message{
		Role:    RoleAssistant,
		Content: answer,
		At:      time.Now(),
	})
	s.mu.Unlock()

	logging.FromContext(ctx).Info("session: question answered",
		slog.String("session", s.id),
		slog.Int("chunks_retrieved", len(chunks)),
		slog.Int("answer_chars", len(answer)),
		slog.Duration("duration", time.Since(start)),
	)
	return answer, nil
}

// Transcript returns a copy of the conversation so far.
func (s *Session) Transcript() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// newID returns a 16-hex-character random identifier.
func newID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failure means the process is unusable anyway.
		panic(err)
	}
	return hex.EncodeToString(b[:])
}
