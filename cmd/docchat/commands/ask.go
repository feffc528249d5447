package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/docchat/docchat-go/internal/logging"
	"github.com/docchat/docchat-go/internal/tracing"
)

// NewAskCmd constructs the `docchat ask` command, which indexes a document,
// asks a single question, and streams the answer to stdout.
func NewAskCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a single question about a document",
		Long: `Ask one natural-language question about a document and print the answer.

The document is chunked and embedded on first use; re-asking about the same
file within one process reuses the cached index.

Examples:
  docchat ask --file report.pdf "what were the Q3 revenue drivers?"
  docchat ask --file notes.md "summarise the open action items"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			defer tracing.Init()()

			sess, _, err := buildSession(ctx, log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			if file != "" {
				if err := attachFile(ctx, sess, file); err != nil {
					return fmt.Errorf("ask: %w", err)
				}
			}

			_, err = sess.Ask(ctx, args[0], func(token string) {
				fmt.Fprint(os.Stdout, token)
			})
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			fmt.Fprintln(os.Stdout)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Document to ask about (.txt, .md, .pdf)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}
