package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/54b3r/astrorag-go/internal/logging"
	"github.com/54b3r/astrorag-go/internal/server"
)

// NewServeCmd constructs the `astrorag serve` command, which starts the HTTP
// API over the indexed papers.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the astrorag HTTP API",
		Long: `Start the astrorag HTTP server.

Endpoints:
  POST /api/ask        stream a cited answer as server-sent events
  POST /api/retrieve   return the evidence package without generating
  GET  /api/documents  list documents with per-stage state
  GET  /api/health     liveness
  GET  /api/ready      readiness (sqlite, qdrant, llm)
  GET  /metrics        Prometheus metrics

/api/ask, /api/retrieve and /api/documents require a Bearer token when
ASTRORAG_API_KEY is set.

Examples:
  astrorag serve
  astrorag serve --port 9090
  MODEL_PROVIDER=azure astrorag serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			s, err := loadSettings()
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			if cmd.Flags().Changed("host") {
				s.Host = host
			}
			if cmd.Flags().Changed("port") {
				s.Port = port
			}

			defer installTracing(cmd.Name(), log)()

			st, err := openStore(s, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer func() { _ = st.Close() }()

			idx, err := buildIndexes(ctx, s, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer idx.Close()

			chat, pcfg, err := buildChatModel(ctx, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			engine, err := buildEngine(s, st, idx, chat, pcfg.ModelName())
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			srv, err := server.New(engine, st, &server.Config{
				Host:       s.Host,
				Port:       s.Port,
				AskTimeout: s.AskTimeout,
				Logger:     log,
				Pingers:    buildPingers(st, idx.client, chat, pcfg),
				APIKey:     s.APIKey,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to (overrides ASTRORAG_HOST)")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on (overrides ASTRORAG_PORT)")

	return cmd
}
