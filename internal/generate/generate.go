// Package generate streams chat-model completions as plain token strings.
//
// It narrows the eino ChatModel surface to what the session layer needs: a
// Client that turns a fully assembled prompt into a TokenStream, delivering
// content deltas in order until io.EOF. Failures anywhere in the exchange are
// tagged with ErrGeneration so callers can classify them without knowing
// which backend is in use.
package generate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ErrGeneration tags any failure to start or consume a completion stream.
// Match with errors.Is.
var ErrGeneration = errors.New("generate: generation failed")

// DefaultTimeout bounds a single completion exchange, covering both the
// initial request and the full token stream.
const DefaultTimeout = 60 * time.Second

// TokenStream delivers completion tokens in generation order.
//
// Recv returns the next content delta, io.EOF after the final token, or an
// error wrapping ErrGeneration if the stream breaks mid-generation. Close
// releases the underlying stream and must be called exactly once; it is safe
// to call after Recv has returned io.EOF or an error.
type TokenStream interface {
	Recv() (string, error)
	Close()
}

// Client starts completion streams for assembled prompts.
type Client interface {
	// Generate sends prompt to the model and returns a live token stream.
	// The returned stream must be closed by the caller.
	Generate(ctx context.Context, prompt string) (TokenStream, error)
}

// ModelClient adapts an eino chat model to the Client interface.
type ModelClient struct {
	// model is the backing chat model (ollama, openai, gemini, ark).
	model model.BaseChatModel

	// timeout bounds each Generate exchange end to end.
	timeout time.Duration
}

// NewModelClient wraps m with per-request timeout handling. A timeout of
// zero or less selects DefaultTimeout.
func NewModelClient(m model.BaseChatModel, timeout time.Duration) *ModelClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &ModelClient{model: m, timeout: timeout}
}

// Generate sends the prompt as a single user message and returns the token
// stream. The request timeout stays armed until the stream is closed, so a
// stalled model cannot hang the caller mid-generation.
func (c *ModelClient) Generate(ctx context.Context, prompt string) (TokenStream, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)

	sr, err := c.model.Stream(ctx, []*schema.Message{
		schema.UserMessage(prompt),
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %w", ErrGeneration, err)
	}

	return &modelStream{inner: sr, cancel: cancel}, nil
}

// modelStream adapts an eino StreamReader of messages to a TokenStream of
// content deltas.
type modelStream struct {
	inner  *schema.StreamReader[*schema.Message]
	cancel context.CancelFunc
}

// Recv returns the next non-empty content delta. Messages carrying no
// content (role-only or tool-call frames) are skipped.
func (s *modelStream) Recv() (string, error) {
	for {
		msg, err := s.inner.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", fmt.Errorf("%w: recv: %w", ErrGeneration, err)
		}
		if msg != nil && msg.Content != "" {
			return msg.Content, nil
		}
	}
}

// Close releases the stream and disarms the request timeout.
func (s *modelStream) Close() {
	s.inner.Close()
	s.cancel()
}

// Drain consumes ts to completion, invoking onToken for each delta as it
// arrives, and returns the concatenated response. onToken may be nil.
// Drain does not close the stream.
func Drain(ts TokenStream, onToken func(token string)) (string, error) {
	var b strings.Builder
	for {
		tok, err := ts.Recv()
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return b.String(), err
		}
		b.WriteString(tok)
		if onToken != nil {
			onToken(tok)
		}
	}
}
