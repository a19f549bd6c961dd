// Package commands defines all Cobra CLI commands for the astrorag binary.
package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/astrorag-go/internal/audit"
	"github.com/54b3r/astrorag-go/internal/config"
	"github.com/54b3r/astrorag-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "astrorag",
		Short: "astrorag: cited answers from astrophysics papers",
		Long: `astrorag indexes scientific PDFs (text, rendered pages and figures) and
answers English questions with citations to the exact page, chunk or figure
the evidence came from.

Typical workflow:
  astrorag ingest --pdf ./papers          extract text, pages and figures
  astrorag index  --pdf ./papers          chunk, embed and index them
  astrorag query  --question "..."        ask a question

Settings come from environment variables, an optional .env file and an
optional YAML config file (~/.astrorag/config.yaml). Env vars always win.
See 'astrorag --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			boot := logging.New()

			if _, err := config.LoadDotenv(boot); err != nil {
				return err
			}
			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, boot)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// LOG_LEVEL and LOG_FORMAT may have come from either file.
			log := logging.New()
			cmd.SetContext(logging.WithLogger(cmd.Context(), log))

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.astrorag/config.yaml)")

	root.AddCommand(
		NewIngestCmd(),
		NewIndexCmd(),
		NewQueryCmd(),
		NewStatusCmd(),
		NewHealthCmd(),
		NewServeCmd(),
		NewVersionCmd(),
	)

	return root
}

// Execute runs the root command under ctx and records the end of the
// invoked subcommand in the audit log.
func Execute(ctx context.Context) error {
	started := time.Now()
	cmd, err := NewRootCmd().ExecuteContextC(ctx)
	if cmd == nil || !cmd.HasParent() {
		return err
	}
	cmdCtx := cmd.Context()
	if cmdCtx == nil {
		cmdCtx = ctx
	}
	audit.LogCommandEnd(logging.FromContext(cmdCtx), cmd.Name(), started, err)
	return err
}
