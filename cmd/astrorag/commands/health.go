package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/astrorag-go/internal/logging"
	"github.com/54b3r/astrorag-go/internal/rag"
	"github.com/54b3r/astrorag-go/internal/server"
)

// healthTimeout bounds each individual dependency check.
const healthTimeout = 10 * time.Second

// NewHealthCmd constructs the `astrorag health` command, which validates the
// local runtime: settings, metadata store, Qdrant, the model backend and the
// external extraction tools.
func NewHealthCmd() *cobra.Command {
	var verbose bool
	var skipLLM bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Validate runtime dependencies",
		Long: `Check every dependency astrorag needs and report each one as ok or failed:

  sqlite      the metadata store opens and answers
  qdrant      the vector store answers its health check
  llm:<name>  the model backend is reachable (token-free where possible)
  pdftoppm    page renderer is on PATH
  tesseract   OCR engine is on PATH

Exits non-zero when any check fails.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)
			out := cmd.OutOrStdout()

			s, err := loadSettings()
			if err != nil {
				return fmt.Errorf("health: %w", err)
			}
			st, err := openStore(s, log)
			if err != nil {
				return fmt.Errorf("health: %w", err)
			}
			defer func() { _ = st.Close() }()

			client, err := rag.NewQdrantClient(&rag.QdrantConfig{
				Host:   s.QdrantHost,
				Port:   s.QdrantPort,
				APIKey: s.QdrantAPIKey,
				UseTLS: s.QdrantTLS,
			})
			pingers := buildPingers(st, client, nil, nil)
			if err != nil {
				clientErr := err
				pingers = append(pingers, server.NewToolPinger("qdrant", func() error { return clientErr }))
			} else {
				defer func() { _ = client.Close() }()
			}
			if !skipLLM {
				chat, pcfg, err := buildChatModel(ctx, log)
				if err != nil {
					return fmt.Errorf("health: %w", err)
				}
				pingers = append(pingers, server.NewLLMPinger(chat, pcfg))
			}
			pingers = append(pingers, toolPingers()...)

			failed := runChecks(ctx, out, pingers)
			if verbose {
				fmt.Fprintf(out, "SQLite: %s\n", s.DBPath)
				fmt.Fprintf(out, "Data:   %s\n", s.DataDir)
				fmt.Fprintf(out, "Qdrant: %s (collections %s, %s)\n", fmt.Sprintf("%s:%d", s.QdrantHost, s.QdrantPort), s.TextCollection, s.PageCollection)
			}
			if failed > 0 {
				return fmt.Errorf("health: %d check(s) failed", failed)
			}
			fmt.Fprintln(out, "Health check passed.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&verbose, "verbose", false, "Print resolved paths and endpoints")
	cmd.Flags().BoolVar(&skipLLM, "skip-llm", false, "Do not check the model backend")

	return cmd
}

// runChecks checks every dependency concurrently and prints one line per
// check in pinger order. It returns the number of failed checks.
func runChecks(ctx context.Context, w io.Writer, pingers []server.Pinger) int {
	failed := 0
	for _, c := range server.RunChecks(ctx, pingers, healthTimeout) {
		if !c.OK {
			failed++
			fmt.Fprintf(w, "FAIL  %-14s %s\n", c.Name, c.Error)
			continue
		}
		fmt.Fprintf(w, "ok    %-14s %s\n", c.Name, c.Latency.Round(time.Millisecond))
	}
	return failed
}
