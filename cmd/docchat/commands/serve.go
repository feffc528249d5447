package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudwego/eino/callbacks"
	"github.com/spf13/cobra"

	"github.com/docchat/docchat-go/internal/logging"
	"github.com/docchat/docchat-go/internal/server"
	"github.com/docchat/docchat-go/internal/tracing"
)

// NewServeCmd constructs the `docchat serve` command, which starts the HTTP
// server exposing the chat pipeline over REST/SSE.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the docchat HTTP server",
		Long: `Start the docchat HTTP server on localhost.

The server exposes:
  POST /api/upload      multipart document upload (builds or reuses the index)
  POST /api/chat        question in, SSE token stream out
  GET  /api/transcript  the ordered conversation so far
  GET  /api/health      liveness check
  GET  /metrics         Prometheus metrics

Examples:
  docchat serve
  docchat serve --port 9090
  MODEL_PROVIDER=openai docchat serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting", slog.String("provider", os.Getenv("MODEL_PROVIDER")))

			// Langfuse tracing — opt-in, no-op if keys are absent.
			handler, flush, ok := tracing.Setup()
			if ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			sess, cache, err := buildSession(ctx, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			// Flags win; otherwise SERVER_HOST/SERVER_PORT apply. Resolved
			// here, after the YAML config has been mapped onto the env.
			host, port = serveAddr(cmd, host, port)

			srv, err := server.New(sess, &server.Config{
				Host:           host,
				Port:           port,
				Logger:         log,
				RateLimit:      float64(getEnvInt("SERVER_RATE_LIMIT", 0)),
				RateBurst:      getEnvInt("SERVER_RATE_BURST", 0),
				MaxUploadBytes: int64(getEnvInt("SERVER_MAX_UPLOAD_MB", 0)) << 20,
				Cache:          cache,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")

	return cmd
}

// serveAddr returns the listen address for the serve command. A flag set
// explicitly on the command line always wins; flags left at their defaults
// fall back to SERVER_HOST and SERVER_PORT.
func serveAddr(cmd *cobra.Command, host string, port int) (string, int) {
	if !cmd.Flags().Changed("host") {
		if v := os.Getenv("SERVER_HOST"); v != "" {
			host = v
		}
	}
	if !cmd.Flags().Changed("port") {
		port = getEnvInt("SERVER_PORT", port)
	}
	return host, port
}
