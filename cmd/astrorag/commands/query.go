package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/astrorag-go/internal/logging"
)

// NewQueryCmd constructs the `astrorag query` command, which answers a single
// question from the indexed papers and streams the cited answer to stdout.
func NewQueryCmd() *cobra.Command {
	var question string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Ask a question and get a cited answer",
		Long: `Answer an English question from the indexed papers.

The question is searched semantically (Qdrant text collection), lexically
(SQLite FTS5) and visually (page collection). The three rankings are fused
with weighted reciprocal rank fusion, the top chunks and figures of the top
pages become the evidence, and the model answers from that evidence only,
citing [doc_id:page:chunk_id] and [doc_id:page:figure_id].

Without --json the answer is streamed as it is generated. With --json a
single object {question, answer, llm_model, text_evidence, figure_evidence}
is printed once the answer is complete.

Examples:
  astrorag query --question "What value of H0 does the paper report?"
  astrorag query --question "Which bands were used for the light curves?" --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			question = strings.TrimSpace(question)
			if question == "" {
				return fmt.Errorf("query: --question must be non-empty")
			}

			s, err := loadSettings()
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}
			st, err := openStore(s, log)
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}
			defer func() { _ = st.Close() }()

			idx, err := buildIndexes(ctx, s, log)
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}
			defer idx.Close()

			defer installTracing(cmd.Name(), log)()

			chat, pcfg, err := buildChatModel(ctx, log)
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}
			engine, err := buildEngine(s, st, idx, chat, pcfg.ModelName())
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}

			out := cmd.OutOrStdout()
			var stream io.Writer
			if !asJSON {
				stream = out
			}
			ans, err := engine.Ask(ctx, question, stream)
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}

			if !asJSON {
				fmt.Fprintln(out)
				return nil
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			enc.SetEscapeHTML(false)
			return enc.Encode(ans)
		},
	}

	cmd.Flags().StringVarP(&question, "question", "q", "", "Scientific question (English)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full JSON payload instead of streaming the answer")
	_ = cmd.MarkFlagRequired("question")

	return cmd
}
