// Command docchat is the entry point for the document-chat assistant.
// It provides a CLI interface (via Cobra) and an optional HTTP server
// exposing the same chat pipeline over REST/SSE.
package main

import (
	"fmt"
	"os"

	"github.com/docchat/docchat-go/cmd/docchat/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
