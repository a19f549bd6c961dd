package commands

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/astrorag-go/internal/logging"
	"github.com/54b3r/astrorag-go/internal/stage"
	"github.com/54b3r/astrorag-go/internal/store"
)

// NewStatusCmd constructs the `astrorag status` command, which lists every
// registered document with the freshness of each processing stage.
func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List documents and the state of each processing stage",
		Long: `List every document in the metadata store with the state of its ingest,
text index and visual index stages:

  up_to_date   the stage completed against the current file content
  stale        the file changed since the stage last completed
  never_run    the stage has not completed yet`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			s, err := loadSettings()
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}
			st, err := openStore(s, log)
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}
			defer func() { _ = st.Close() }()

			return writeStatus(ctx, cmd.OutOrStdout(), st)
		},
	}
}

// documentLister is the store capability writeStatus needs.
type documentLister interface {
	ListDocuments(ctx context.Context) ([]store.Document, error)
}

// writeStatus renders the document table.
func writeStatus(ctx context.Context, w io.Writer, docs documentLister) error {
	list, err := docs.ListDocuments(ctx)
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}
	if len(list) == 0 {
		fmt.Fprintln(w, "No documents ingested.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprint(tw, "DOC\tFILE\tPAGES\tUPDATED")
	for _, s := range stage.All {
		fmt.Fprintf(tw, "\t%s", s)
	}
	fmt.Fprintln(tw)
	for i := range list {
		d := &list[i]
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s", d.DocID, d.FileName, d.PageCount, d.UpdatedAt.UTC().Format(time.RFC3339))
		for _, s := range stage.All {
			fmt.Fprintf(tw, "\t%s", stage.StateOf(d, s))
		}
		fmt.Fprintln(tw)
	}
	return tw.Flush()
}
