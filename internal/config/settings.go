package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/54b3r/astrorag-go/internal/chunking"
	"github.com/54b3r/astrorag-go/internal/langpolicy"
	"github.com/54b3r/astrorag-go/internal/rag"
)

// Default values for settings that have no env var set.
const (
	DefaultTextCollection = "text_chunks"
	DefaultPageCollection = "page_images"
	DefaultDataDir        = "data"
	DefaultRenderDPI      = 200
	DefaultContextTokens  = 6000
	DefaultMaxTextItems   = 12
	DefaultMaxPages       = 8
	DefaultWorkers        = 2
	DefaultHost           = "127.0.0.1"
	DefaultPort           = 8080
	DefaultAskTimeout     = 5 * time.Minute
)

// Settings is the typed view of the environment after Load has applied the
// YAML file. Model and embedding backends read their own keys through
// provider.ConfigFromEnv and embedder.ConfigFromEnv.
type Settings struct {
	OutputLanguage string
	ContextTokens  int

	VLMEnabled bool
	VLMModel   string

	QdrantHost     string
	QdrantPort     int
	QdrantAPIKey   string
	QdrantTLS      bool
	TextCollection string
	PageCollection string

	DBPath  string
	DataDir string

	RenderDPI    int
	MaxPages     int
	PruneFigures bool
	Chunking     chunking.Options
	Workers      int

	Retrieval       rag.RetrieverConfig
	MaxTextItems    int
	MaxContextPages int

	Host       string
	Port       int
	APIKey     string
	AskTimeout time.Duration
}

// FromEnv reads Settings from the environment, applying defaults for unset
// keys. Malformed numbers are reported rather than silently defaulted.
func FromEnv() (*Settings, error) {
	var p envParser
	rc := rag.DefaultRetrieverConfig()

	s := &Settings{
		OutputLanguage: envOr("OUTPUT_LANGUAGE", "en"),
		ContextTokens:  p.int("MODEL_CONTEXT_TOKENS", DefaultContextTokens),

		VLMEnabled: p.bool("VLM_ENABLED", false),
		VLMModel:   os.Getenv("VLM_MODEL"),

		QdrantHost:     envOr("QDRANT_HOST", "localhost"),
		QdrantPort:     p.int("QDRANT_PORT", 6334),
		QdrantAPIKey:   os.Getenv("QDRANT_API_KEY"),
		QdrantTLS:      p.bool("QDRANT_TLS", false),
		TextCollection: envOr("QDRANT_TEXT_COLLECTION", DefaultTextCollection),
		PageCollection: envOr("QDRANT_PAGE_COLLECTION", DefaultPageCollection),

		DataDir: envOr("ASTRORAG_DATA_DIR", DefaultDataDir),

		RenderDPI:    p.int("RENDER_DPI", DefaultRenderDPI),
		MaxPages:     p.int("INGEST_MAX_PAGES", 0),
		PruneFigures: p.bool("INGEST_PRUNE_FIGURES", false),
		Chunking: chunking.Options{
			MaxChars:     p.int("CHUNK_MAX_CHARS", chunking.DefaultMaxChars),
			OverlapChars: p.int("CHUNK_OVERLAP_CHARS", chunking.DefaultOverlapChars),
		},
		Workers: p.int("INDEX_WORKERS", DefaultWorkers),

		Retrieval: rag.RetrieverConfig{
			TextTopK:      p.int("TEXT_TOP_K", rc.TextTopK),
			LexicalTopK:   p.int("LEXICAL_TOP_K", rc.LexicalTopK),
			VisualTopK:    p.int("VISUAL_TOP_K", rc.VisualTopK),
			RRFK:          p.int("RRF_K", rc.RRFK),
			TextWeight:    p.float("RRF_W_TEXT", rc.TextWeight),
			LexicalWeight: p.float("RRF_W_LEXICAL", rc.LexicalWeight),
			VisualWeight:  p.float("RRF_W_VISUAL", rc.VisualWeight),
		},
		MaxTextItems:    p.int("CONTEXT_MAX_TEXT_ITEMS", DefaultMaxTextItems),
		MaxContextPages: p.int("CONTEXT_MAX_PAGES", DefaultMaxPages),

		Host:       envOr("ASTRORAG_HOST", DefaultHost),
		Port:       p.int("ASTRORAG_PORT", DefaultPort),
		APIKey:     os.Getenv("ASTRORAG_API_KEY"),
		AskTimeout: p.duration("ASK_TIMEOUT", DefaultAskTimeout),
	}
	s.DBPath = envOr("ASTRORAG_DB", filepath.Join(s.DataDir, "metadata.sqlite3"))

	if err := errors.Join(p.errs...); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return s, nil
}

// Validate reports settings that would make the system misbehave at runtime.
func (s *Settings) Validate() error {
	if err := langpolicy.StartupCheck(s.OutputLanguage); err != nil {
		return fmt.Errorf("config: OUTPUT_LANGUAGE: %w", err)
	}
	if err := s.Chunking.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	var errs []error
	if s.RenderDPI <= 0 {
		errs = append(errs, fmt.Errorf("RENDER_DPI must be positive, got %d", s.RenderDPI))
	}
	if s.MaxPages < 0 {
		errs = append(errs, fmt.Errorf("INGEST_MAX_PAGES must not be negative, got %d", s.MaxPages))
	}
	if s.Workers <= 0 {
		errs = append(errs, fmt.Errorf("INDEX_WORKERS must be positive, got %d", s.Workers))
	}
	if s.Retrieval.RRFK <= 0 {
		errs = append(errs, fmt.Errorf("RRF_K must be positive, got %d", s.Retrieval.RRFK))
	}
	if s.Retrieval.TextWeight < 0 || s.Retrieval.LexicalWeight < 0 || s.Retrieval.VisualWeight < 0 {
		errs = append(errs, errors.New("RRF weights must not be negative"))
	}
	if s.TextCollection == "" || s.PageCollection == "" {
		errs = append(errs, errors.New("qdrant collection names must not be empty"))
	}
	if s.TextCollection == s.PageCollection {
		errs = append(errs, fmt.Errorf("QDRANT_TEXT_COLLECTION and QDRANT_PAGE_COLLECTION must differ, both are %q", s.TextCollection))
	}
	if s.Port <= 0 || s.Port > 65535 {
		errs = append(errs, fmt.Errorf("ASTRORAG_PORT out of range: %d", s.Port))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Addr returns the host:port the HTTP server listens on.
func (s *Settings) Addr() string {
	return s.Host + ":" + strconv.Itoa(s.Port)
}

// envParser collects parse errors so FromEnv can report them together.
type envParser struct {
	errs []error
}

func (p *envParser) int(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid integer %q", key, v))
		return fallback
	}
	return n
}

func (p *envParser) float(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid number %q", key, v))
		return fallback
	}
	return f
}

func (p *envParser) bool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid boolean %q", key, v))
		return fallback
	}
	return b
}

func (p *envParser) duration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid duration %q", key, v))
		return fallback
	}
	return d
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
