package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/docchat/docchat-go/internal/rag"
	"github.com/docchat/docchat-go/internal/session"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// MaxUploadBytes caps the size of an uploaded document. Defaults to
	// 32 MiB if zero.
	MaxUploadBytes int64
	// Registry receives the server's Prometheus metrics. If nil a private
	// registry is created, keeping tests hermetic.
	Registry *prometheus.Registry
	// Cache, when set, exposes index cache build/hit counters on /metrics.
	Cache *rag.IndexCache
}

// conversation is the surface of session.Session the handlers call.
// Tests inject a fake.
type conversation interface {
	// AttachDocument indexes doc and makes it the active document.
	AttachDocument(ctx context.Context, doc rag.Document) error
	// Ask answers question, streaming deltas through onToken.
	Ask(ctx context.Context, question string, onToken func(token string)) (string, error)
	// Transcript returns the conversation so far.
	Transcript() []session.Message
	// Fingerprint identifies the active document, empty when none.
	Fingerprint() string
}

// Server is the HTTP server that exposes one chat session over REST/SSE.
type Server struct {
	// conv is the chat session behind the API; a fake in tests.
	conv conversation
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// metrics holds the Prometheus instruments owned by this server.
	metrics *serverMetrics
	// registry serves GET /metrics.
	registry *prometheus.Registry
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// chatRequest is the JSON body for POST /api/chat.
type chatRequest struct {
	// Question is the user's natural language question.
	Question string `json:"question"`
}

// uploadResponse is the JSON response for POST /api/upload.
type uploadResponse struct {
	// Document is the uploaded filename.
	Document string `json:"document"`
	// Fingerprint is the content hash identifying the built index.
	Fingerprint string `json:"fingerprint"`
}

// transcriptMessage is one turn in the GET /api/transcript response.
type transcriptMessage struct {
	// Role is "user" or "assistant".
	Role string `json:"role"`
	// Text is the message content.
	Text string `json:"text"`
	// At is the commit timestamp in RFC3339 format.
	At string `json:"at"`
}

// transcriptResponse is the JSON response for GET /api/transcript.
type transcriptResponse struct {
	// Document is the active document fingerprint, empty when none attached.
	Document string `json:"document,omitempty"`
	// Messages is the ordered conversation transcript.
	Messages []transcriptMessage `json:"messages"`
}
