package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/54b3r/astrorag-go/internal/ingestion"
	"github.com/54b3r/astrorag-go/internal/logging"
)

// NewIndexCmd constructs the `astrorag index` command, which ingests PDFs
// when needed and then builds their text and visual indexes.
func NewIndexCmd() *cobra.Command {
	var pdfs []string
	var force bool
	var skipText bool
	var skipVisual bool

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Chunk, embed and index ingested PDFs",
		Long: `Index PDFs for retrieval. Each document is ingested first if it is new or
changed, then its pages are split into section-aware chunks, embedded and
written to the Qdrant text collection and the SQLite full-text index.
Finally a descriptor of every rendered page is embedded into the page
collection for visual retrieval.

Stages that already ran against the current file content are skipped
unless --force is given. --force never re-runs ingestion.

Environment variables:
  QDRANT_HOST / QDRANT_PORT       Qdrant gRPC endpoint (default: localhost:6334)
  QDRANT_TEXT_COLLECTION          Chunk collection (default: text_chunks)
  QDRANT_PAGE_COLLECTION          Page collection (default: page_images)
  EMBEDDING_PROVIDER / _MODEL     Embedding backend (default: inherits MODEL_PROVIDER)
  CHUNK_MAX_CHARS                 Chunk width in characters (default: 1400)
  CHUNK_OVERLAP_CHARS             Overlap between chunks (default: 200)

Examples:
  astrorag index --pdf ./papers
  astrorag index --pdf riess2016.pdf --force --skip-visual`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			if len(pdfs) == 0 {
				return fmt.Errorf("index: at least one --pdf is required")
			}
			if skipText && skipVisual {
				return fmt.Errorf("index: --skip-text and --skip-visual leave nothing to do")
			}
			paths, err := resolvePDFs(pdfs)
			if err != nil {
				return fmt.Errorf("index: %w", err)
			}

			s, err := loadSettings()
			if err != nil {
				return fmt.Errorf("index: %w", err)
			}
			st, err := openStore(s, log)
			if err != nil {
				return fmt.Errorf("index: %w", err)
			}
			defer func() { _ = st.Close() }()

			idx, err := buildIndexes(ctx, s, log)
			if err != nil {
				return fmt.Errorf("index: %w", err)
			}
			defer idx.Close()

			defer installTracing(cmd.Name(), log)()

			pipeline, err := buildPipeline(ctx, s, st, idx, s.VLMEnabled, log)
			if err != nil {
				return fmt.Errorf("index: %w", err)
			}

			opts := ingestion.ProcessOptions{
				Force:      force,
				SkipText:   skipText,
				SkipVisual: skipVisual,
				EnableVLM:  s.VLMEnabled,
			}
			log.Info("starting indexing", slog.Int("pdfs", len(paths)), slog.Bool("force", force))
			results, runErr := pipeline.ProcessAll(ctx, paths, opts, s.Workers)

			failed := printResults(cmd.OutOrStdout(), results)
			fmt.Fprintf(cmd.OutOrStdout(), "Indexed PDFs: %d (%d failed)\n", len(paths)-failed, failed)
			if runErr != nil {
				return fmt.Errorf("index: %w", runErr)
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&pdfs, "pdf", nil, "PDF file or directory of PDFs (repeatable)")
	cmd.Flags().BoolVar(&force, "force", false, "Re-index even if already indexed")
	cmd.Flags().BoolVar(&skipText, "skip-text", false, "Skip text indexing")
	cmd.Flags().BoolVar(&skipVisual, "skip-visual", false, "Skip visual page indexing")

	return cmd
}
