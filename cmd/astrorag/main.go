// Command astrorag is the entry point for the multimodal astrophysics paper
// RAG system. It provides a CLI interface (via Cobra) for ingesting and
// indexing PDFs, asking questions and running the HTTP API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/54b3r/astrorag-go/cmd/astrorag/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := commands.Execute(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
