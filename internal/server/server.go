// Package server implements the HTTP server that exposes a document-chat
// session via a REST/SSE API. The server is started by the `docchat serve`
// CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/docchat/docchat-go/internal/extract"
	"github.com/docchat/docchat-go/internal/logging"
	"github.com/docchat/docchat-go/internal/rag"
)

// defaultMaxUploadBytes caps document uploads at 32 MiB.
const defaultMaxUploadBytes = 32 << 20

// New constructs a Server around the provided session and config.
func New(conv conversation, cfg *Config) (*Server, error) {
	if conv == nil {
		return nil, fmt.Errorf("server: session must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// WriteTimeout must be long enough for streaming responses.
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	s := &Server{
		conv:     conv,
		cfg:      cfg,
		log:      log,
		metrics:  newServerMetrics(registry),
		registry: registry,
	}
	if cfg.Cache != nil {
		registerCacheMetrics(registry, cfg.Cache)
	}

	rl, stopRL := newRateLimiter(cfg.RateLimit, cfg.RateBurst)
	s.stopRL = stopRL

	mux := http.NewServeMux()
	mux.Handle("POST /api/upload", s.instrument("upload", rl.middleware(http.HandlerFunc(s.handleUpload))))
	mux.Handle("POST /api/chat", s.instrument("chat", rl.middleware(http.HandlerFunc(s.handleChat))))
	mux.Handle("GET /api/transcript", s.instrument("transcript", http.HandlerFunc(s.handleTranscript)))
	mux.Handle("GET /api/health", s.instrument("health", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.stopRL()
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		s.stopRL()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleUpload handles POST /api/upload. The document arrives as a multipart
// form with a single "file" part; on success its index is built (or reused
// from cache) and attached to the session.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		s.metrics.uploadsTotal.WithLabelValues("error").Inc()
		http.Error(w, "multipart form with a 'file' part is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.metrics.uploadsTotal.WithLabelValues("error").Inc()
		http.Error(w, "failed to read upload", http.StatusBadRequest)
		return
	}

	doc := rag.Document{Name: header.Filename, Data: data}
	if err := s.conv.AttachDocument(r.Context(), doc); err != nil {
		status, outcome := http.StatusInternalServerError, "error"
		switch {
		case errors.Is(err, extract.ErrUnsupportedFormat):
			status, outcome = http.StatusUnsupportedMediaType, "unsupported"
		case errors.Is(err, rag.ErrEmptyDocument):
			status, outcome = http.StatusUnprocessableEntity, "empty"
		case errors.Is(err, rag.ErrEmbedding):
			status = http.StatusBadGateway
		}
		s.metrics.uploadsTotal.WithLabelValues(outcome).Inc()
		logging.FromContext(r.Context()).Error("upload failed",
			slog.String("document", header.Filename),
			slog.Any("error", err),
		)
		http.Error(w, err.Error(), status)
		return
	}

	s.metrics.uploadsTotal.WithLabelValues("ok").Inc()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(uploadResponse{
		Document:    header.Filename,
		Fingerprint: s.conv.Fingerprint(),
	})
}

// handleChat handles POST /api/chat requests. It streams the model's answer
// using Server-Sent Events (SSE) so the client can render tokens as they
// arrive.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Question == "" {
		http.Error(w, "question is required", http.StatusBadRequest)
		return
	}
	if s.conv.Fingerprint() == "" {
		http.Error(w, "no document attached — upload one first", http.StatusConflict)
		return
	}

	// Set SSE headers so the client receives a streaming response.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	sw := &sseWriter{w: w, flusher: flusher}

	s.metrics.chatActiveStreams.Inc()
	defer s.metrics.chatActiveStreams.Dec()

	start := time.Now()
	_, err := s.conv.Ask(r.Context(), req.Question, func(token string) {
		sw.writeData(token)
	})
	outcome := "ok"
	if err != nil {
		outcome = "error"
		fmt.Fprintf(w, "event: error\ndata: %s\n\n", err.Error())
		flusher.Flush()
	} else {
		// Signal stream completion.
		fmt.Fprintf(w, "event: done\ndata: [DONE]\n\n")
		flusher.Flush()
	}
	s.metrics.chatRequestsTotal.WithLabelValues(outcome).Inc()
	s.metrics.chatDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

// handleTranscript handles GET /api/transcript, returning the ordered
// conversation so far.
func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	msgs := s.conv.Transcript()
	resp := transcriptResponse{
		Document: s.conv.Fingerprint(),
		Messages: make([]transcriptMessage, 0, len(msgs)),
	}
	for _, m := range msgs {
		resp.Messages = append(resp.Messages, transcriptMessage{
			Role: string(m.Role),
			Text: m.Content,
			At:   m.At.UTC().Format(time.RFC3339),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// sseWriter emits Server-Sent Event data frames on an http.ResponseWriter.
type sseWriter struct {
	// w is the underlying response writer.
	w http.ResponseWriter

	// flusher flushes buffered data to the client after each write.
	flusher http.Flusher
}

// writeData formats token as one or more SSE data lines and flushes to the
// client. Each newline in token gets its own "data: " prefix so multi-line
// tokens never break the SSE frame boundary.
func (s *sseWriter) writeData(token string) {
	lines := strings.Split(strings.TrimRight(token, "\n"), "\n")
	var buf strings.Builder
	for _, line := range lines {
		buf.WriteString("data: ")
		buf.WriteString(line)
		buf.WriteString("\n")
	}
	buf.WriteString("\n")
	fmt.Fprint(s.w, buf.String())
	s.flusher.Flush()
}
