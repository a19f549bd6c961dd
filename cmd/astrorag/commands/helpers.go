package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/qdrant/go-client/qdrant"

	"github.com/54b3r/astrorag-go/internal/answer"
	"github.com/54b3r/astrorag-go/internal/caption"
	"github.com/54b3r/astrorag-go/internal/config"
	"github.com/54b3r/astrorag-go/internal/embedder"
	"github.com/54b3r/astrorag-go/internal/evidence"
	"github.com/54b3r/astrorag-go/internal/extract"
	"github.com/54b3r/astrorag-go/internal/ingestion"
	"github.com/54b3r/astrorag-go/internal/provider"
	"github.com/54b3r/astrorag-go/internal/qa"
	"github.com/54b3r/astrorag-go/internal/rag"
	"github.com/54b3r/astrorag-go/internal/server"
	"github.com/54b3r/astrorag-go/internal/store"
	"github.com/54b3r/astrorag-go/internal/tracing"
)

// installTracing registers the Langfuse handler for every model call made by
// the command. Tracing is opt-in, a no-op if keys are absent. The returned
// function flushes pending traces.
func installTracing(command string, log *slog.Logger) func() {
	cfg := tracing.ConfigFromEnv()
	cfg.Name = "astrorag-" + command
	flush, ok := tracing.Install(cfg)
	if ok {
		log.Info("langfuse tracing enabled", slog.String("host", cfg.Host))
	} else {
		log.Debug("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY or LANGFUSE_SECRET_KEY not set"))
	}
	return flush
}

// loadSettings reads and validates the typed settings.
func loadSettings() (*config.Settings, error) {
	s, err := config.FromEnv()
	if err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// openStore creates the data directory and opens the metadata store.
func openStore(s *config.Settings, log *slog.Logger) (*store.SQLiteStore, error) {
	if err := os.MkdirAll(s.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("could not create data dir %s: %w", s.DataDir, err)
	}
	if err := os.MkdirAll(filepath.Dir(s.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("could not create db dir for %s: %w", s.DBPath, err)
	}
	st, err := store.Open(s.DBPath)
	if err != nil {
		return nil, err
	}
	log.Debug("metadata store opened", slog.String("path", s.DBPath))
	return st, nil
}

// indexes holds the Qdrant-backed vector indexes and the embedder that
// feeds them. The client is shared and closed by Close.
type indexes struct {
	client   *qdrant.Client
	embedder rag.Embedder
	text     *rag.QdrantTextIndex
	pages    *rag.QdrantPageIndex
}

// buildIndexes resolves the embedder and connects to both collections,
// creating them on first use with the embedder's vector size.
func buildIndexes(ctx context.Context, s *config.Settings, log *slog.Logger) (*indexes, error) {
	embCfg := embedder.ConfigFromEnv()
	embCfg.Warn(log, os.Getenv("EMBEDDING_PROVIDER") != "")
	emb, err := embedder.New(ctx, embCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}
	log.Info("embedder initialised",
		slog.String("backend", embCfg.Backend),
		slog.String("model", embCfg.Model),
		slog.Int("dimensions", embCfg.Dimensions),
	)

	client, err := rag.NewQdrantClient(&rag.QdrantConfig{
		Host:   s.QdrantHost,
		Port:   s.QdrantPort,
		APIKey: s.QdrantAPIKey,
		UseTLS: s.QdrantTLS,
	})
	if err != nil {
		return nil, err
	}

	size := uint64(embCfg.Dimensions) //nolint:gosec // validated positive
	text, err := rag.NewQdrantTextIndex(ctx, client, s.TextCollection, size)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", s.QdrantHost, s.QdrantPort, err)
	}
	pages, err := rag.NewQdrantPageIndex(ctx, client, s.PageCollection, size, emb)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to open page collection %s: %w", s.PageCollection, err)
	}
	log.Info("qdrant collections ready",
		slog.String("host", s.QdrantHost),
		slog.Int("port", s.QdrantPort),
		slog.String("text_collection", s.TextCollection),
		slog.String("page_collection", s.PageCollection),
	)
	return &indexes{client: client, embedder: emb, text: text, pages: pages}, nil
}

// Close releases the Qdrant connection.
func (x *indexes) Close() {
	if x != nil && x.client != nil {
		_ = x.client.Close()
	}
}

// buildChatModel constructs the answer model from the environment.
func buildChatModel(ctx context.Context, log *slog.Logger) (model.BaseChatModel, *provider.Config, error) {
	cfg := provider.ConfigFromEnv()
	m, err := provider.New(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialise model provider: %w", err)
	}
	log.Info("provider initialised",
		slog.String("provider", string(cfg.Backend)),
		slog.String("model", cfg.ModelName()),
	)
	return m, cfg, nil
}

// buildCaptioner constructs the figure captioner on the vision model. It
// returns nil when captioning is disabled.
func buildCaptioner(ctx context.Context, s *config.Settings, enabled bool, log *slog.Logger) (caption.Captioner, error) {
	if !enabled {
		log.Info("figure captioning disabled")
		return nil, nil
	}
	cfg := provider.ConfigFromEnv().WithModel(s.VLMModel)
	m, err := provider.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise vision model: %w", err)
	}
	log.Info("figure captioning enabled", slog.String("model", cfg.ModelName()))
	return caption.NewVLMCaptioner(m, cfg.ModelName())
}

// buildPipeline wires the ingestion pipeline. idx may be nil for ingest-only
// runs, in which case the index stages are unavailable.
func buildPipeline(ctx context.Context, s *config.Settings, st *store.SQLiteStore, idx *indexes, vlm bool, log *slog.Logger) (*ingestion.Pipeline, error) {
	runner := extract.ExecRunner{}
	renderer := extract.NewPdftoppmRenderer(runner)
	if err := renderer.Available(); err != nil {
		return nil, fmt.Errorf("page rendering unavailable: %w", err)
	}

	var ocr ingestion.OCR
	if t := extract.NewTesseractOCR(runner); t.Available() == nil {
		ocr = t
	} else {
		log.Warn("tesseract not found; figures will be stored without OCR text")
	}

	captioner, err := buildCaptioner(ctx, s, vlm, log)
	if err != nil {
		return nil, err
	}

	deps := ingestion.Deps{
		Store:     st,
		Renderer:  renderer,
		OCR:       ocr,
		Captioner: captioner,
		Metrics:   ingestion.NewMetrics(prometheus.DefaultRegisterer),
	}
	if idx != nil {
		deps.Embedder = idx.embedder
		deps.Text = idx.text
		deps.Visual = idx.pages
	} else {
		deps.Embedder = unavailableEmbedder{}
		deps.Text = unavailableTextIndex{}
	}

	return ingestion.NewPipeline(deps, ingestion.Config{
		DataDir:      s.DataDir,
		RenderDPI:    s.RenderDPI,
		MaxPages:     s.MaxPages,
		PruneFigures: s.PruneFigures,
		Chunking:     s.Chunking,
	})
}

// buildEngine wires retrieval, evidence assembly and answer generation.
// chat may be nil for retrieval-only use.
func buildEngine(s *config.Settings, st *store.SQLiteStore, idx *indexes, chat model.BaseChatModel, modelName string) (*qa.Engine, error) {
	retriever, err := rag.NewHybridRetriever(idx.embedder, idx.text, st, idx.pages, s.Retrieval)
	if err != nil {
		return nil, err
	}
	assembler := evidence.NewAssembler(st, s.MaxTextItems, s.MaxContextPages)

	if chat == nil {
		return qa.New(retriever, assembler, nil)
	}
	gen, err := answer.NewGenerator(chat, modelName, s.ContextTokens)
	if err != nil {
		return nil, err
	}
	return qa.New(retriever, assembler, gen)
}

// buildPingers returns the dependency checks shared by `health` and the
// server's readiness endpoint. client and chat may be nil.
func buildPingers(st *store.SQLiteStore, client *qdrant.Client, chat model.BaseChatModel, cfg *provider.Config) []server.Pinger {
	pingers := []server.Pinger{server.NewStorePinger(st)}
	if client != nil {
		pingers = append(pingers, server.NewQdrantPinger(client))
	}
	if cfg != nil {
		pingers = append(pingers, server.NewLLMPinger(chat, cfg))
	}
	return pingers
}

// toolPingers checks the external programs used during ingest.
func toolPingers() []server.Pinger {
	runner := extract.ExecRunner{}
	return []server.Pinger{
		server.NewToolPinger("pdftoppm", extract.NewPdftoppmRenderer(runner).Available),
		server.NewToolPinger("tesseract", extract.NewTesseractOCR(runner).Available),
	}
}

// resolvePDFs expands every --pdf argument into the PDF files it names.
func resolvePDFs(args []string) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	for _, a := range args {
		paths, err := extract.FindPDFs(a)
		if err != nil {
			return nil, err
		}
		for _, p := range paths {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no PDFs found in %s", strings.Join(args, ", "))
	}
	return out, nil
}

// printResults writes one line per stage report and one per item failure.
// It returns the number of documents that failed.
func printResults(w io.Writer, results []ingestion.DocResult) int {
	failed := 0
	for _, r := range results {
		for _, rep := range r.Reports {
			switch {
			case rep.Skipped:
				fmt.Fprintf(w, "%s\tdoc %d\t%s\tup to date\n", r.Path, rep.DocID, rep.Stage)
			default:
				fmt.Fprintf(w, "%s\tdoc %d\t%s\tok=%d failed=%d indexed=%d\n",
					r.Path, rep.DocID, rep.Stage, rep.Succeeded(), rep.Failed(), rep.Indexed)
			}
			for _, f := range rep.Failures() {
				fmt.Fprintf(w, "  %s page %d %s: %v\n", f.Kind, f.PageNum, f.ItemID, f.Err)
			}
		}
		if r.Err != nil {
			failed++
			fmt.Fprintf(w, "%s\terror: %v\n", r.Path, r.Err)
		}
	}
	return failed
}

// unavailableEmbedder and unavailableTextIndex stand in for the vector side
// of the pipeline during ingest-only runs, which never call them.
type unavailableEmbedder struct{}

func (unavailableEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, errIndexUnavailable
}

type unavailableTextIndex struct{}

func (unavailableTextIndex) Upsert(context.Context, []rag.TextPoint, [][]float32) error {
	return errIndexUnavailable
}

func (unavailableTextIndex) Search(context.Context, []float32, int) ([]rag.TextHit, error) {
	return nil, errIndexUnavailable
}

func (unavailableTextIndex) DeleteDoc(context.Context, int64) error { return errIndexUnavailable }

var errIndexUnavailable = errors.New("vector index not configured for this command")
