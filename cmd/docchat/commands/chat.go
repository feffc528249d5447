package commands

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/docchat/docchat-go/internal/logging"
	"github.com/docchat/docchat-go/internal/session"
	"github.com/docchat/docchat-go/internal/tracing"
)

// NewChatCmd constructs the `docchat chat` command: an interactive loop that
// streams answers token-by-token as the model produces them.
func NewChatCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat interactively with a document",
		Long: `Start an interactive chat session.

Attach a document with --file (or the /attach command once inside), then
type questions at the prompt. Answers stream as they are generated.

In-session commands:
  /attach <path>   index a new document (replaces the current one)
  /quit            exit the session

Examples:
  docchat chat --file handbook.pdf
  docchat chat`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			defer tracing.Init()()

			sess, _, err := buildSession(ctx, log)
			if err != nil {
				return fmt.Errorf("chat: %w", err)
			}

			if file != "" {
				fmt.Fprintf(os.Stderr, "indexing %s...\n", file)
				if err := attachFile(ctx, sess, file); err != nil {
					return fmt.Errorf("chat: %w", err)
				}
			}

			fmt.Fprintln(os.Stderr, "docchat — type a question, /attach <path>, or /quit")

			scanner := bufio.NewScanner(os.Stdin)
			scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
			for {
				fmt.Fprint(os.Stderr, "> ")
				if !scanner.Scan() {
					break
				}
				line := strings.TrimSpace(scanner.Text())
				switch {
				case line == "":
					continue
				case line == "/quit" || line == "/exit":
					return nil
				case strings.HasPrefix(line, "/attach "):
					path := strings.TrimSpace(strings.TrimPrefix(line, "/attach "))
					fmt.Fprintf(os.Stderr, "indexing %s...\n", path)
					if err := attachFile(ctx, sess, path); err != nil {
						fmt.Fprintf(os.Stderr, "error: %v\n", err)
					}
					continue
				}

				_, err := sess.Ask(ctx, line, func(token string) {
					fmt.Fprint(os.Stdout, token)
				})
				if err != nil {
					if errors.Is(err, session.ErrNoActiveIndex) {
						fmt.Fprintln(os.Stderr, "no document attached — use /attach <path> first")
						continue
					}
					fmt.Fprintf(os.Stderr, "error: %v\n", err)
					continue
				}
				fmt.Fprintln(os.Stdout)
			}
			return scanner.Err()
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Document to chat about (.txt, .md, .pdf)")

	return cmd
}
