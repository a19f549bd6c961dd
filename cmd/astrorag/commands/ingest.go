package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/54b3r/astrorag-go/internal/ingestion"
	"github.com/54b3r/astrorag-go/internal/logging"
)

// NewIngestCmd constructs the `astrorag ingest` command, which extracts page
// text, page renders and figures from PDFs into the metadata store.
func NewIngestCmd() *cobra.Command {
	var pdfs []string
	var force bool
	var disableVLM bool

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Extract text, page images and figures from PDFs",
		Long: `Register PDFs in the metadata store and extract their artifacts:
page text, page renders (pdftoppm) and embedded figures with OCR text
(tesseract) and optional vision-model captions.

A document whose content hash has not changed since its last ingest is
skipped unless --force is given. --pdf may name a file or a directory, which
is searched recursively for *.pdf files.

Environment variables:
  ASTRORAG_DB          Metadata database (default: data/metadata.sqlite3)
  ASTRORAG_DATA_DIR    Root of pages/ and figures/ (default: data)
  RENDER_DPI           Page render resolution (default: 200)
  INGEST_MAX_PAGES     Leading pages to ingest, 0 for all (default: 0)
  VLM_ENABLED          Caption figures with VLM_MODEL (default: false)
  INDEX_WORKERS        Documents processed in parallel (default: 2)

Examples:
  astrorag ingest --pdf ./papers
  astrorag ingest --pdf riess2016.pdf --force --disable-vlm`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			if len(pdfs) == 0 {
				return fmt.Errorf("ingest: at least one --pdf is required")
			}
			paths, err := resolvePDFs(pdfs)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			s, err := loadSettings()
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			st, err := openStore(s, log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer func() { _ = st.Close() }()

			defer installTracing(cmd.Name(), log)()

			vlm := s.VLMEnabled && !disableVLM
			pipeline, err := buildPipeline(ctx, s, st, nil, vlm, log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			log.Info("starting ingestion", slog.Int("pdfs", len(paths)), slog.Bool("force", force), slog.Bool("vlm", vlm))
			results, runErr := pipeline.IngestAll(ctx, paths, ingestion.IngestOptions{Force: force, EnableVLM: vlm}, s.Workers)

			failed := printResults(cmd.OutOrStdout(), results)
			fmt.Fprintf(cmd.OutOrStdout(), "Ingested PDFs: %d (%d failed)\n", len(paths)-failed, failed)
			if runErr != nil {
				return fmt.Errorf("ingest: %w", runErr)
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&pdfs, "pdf", nil, "PDF file or directory of PDFs (repeatable)")
	cmd.Flags().BoolVar(&force, "force", false, "Re-ingest even if the file is unchanged")
	cmd.Flags().BoolVar(&disableVLM, "disable-vlm", false, "Skip vision-model figure captions (images and OCR are still extracted)")

	return cmd
}
