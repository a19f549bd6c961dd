// Package config provides YAML-based configuration for astrorag.
// Configuration is loaded with a layered precedence: defaults, then the YAML
// file, then env vars. Environment variables always win.
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. ASTRORAG_CONFIG environment variable
//  3. ~/.astrorag/config.yaml
//  4. ./astrorag.yaml
//
// A .env file (ASTRORAG_DOTENV, default ./.env) is read before the YAML file
// and, like it, never overrides variables already set. If no file is found
// the system runs entirely from env vars.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration structure.
// Field names use yaml tags that mirror the env var naming (lowercase, underscored).
type Config struct {
	// Model configures the answer model provider.
	Model ModelConfig `yaml:"model"`

	// Vision configures figure captioning.
	Vision VisionConfig `yaml:"vision"`

	// Embedding configures the embedding provider.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Qdrant configures the Qdrant vector store connection.
	Qdrant QdrantConfig `yaml:"qdrant"`

	// Paths configures where the metadata store and artifacts live.
	Paths PathsConfig `yaml:"paths"`

	// Ingestion configures PDF ingestion and chunking.
	Ingestion IngestionConfig `yaml:"ingestion"`

	// Retrieval configures search depths, fusion and evidence limits.
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// Server configures the HTTP server.
	Server ServerConfig `yaml:"server"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// Tracing configures Langfuse tracing integration.
	Tracing TracingConfig `yaml:"tracing"`
}

// ModelConfig holds answer model settings.
type ModelConfig struct {
	// Provider selects the backend: ollama, openai, azure, ark, gemini.
	Provider string `yaml:"provider"`
	// MaxTokens is the maximum number of tokens in the response.
	MaxTokens int `yaml:"max_tokens"`
	// Temperature controls response randomness.
	Temperature float32 `yaml:"temperature"`
	// ContextTokens bounds the evidence sent with a question.
	ContextTokens int `yaml:"context_tokens"`
	// OutputLanguage must be "en".
	OutputLanguage string `yaml:"output_language"`

	Ollama OllamaConfig `yaml:"ollama"`
	OpenAI OpenAIConfig `yaml:"openai"`
	Azure  AzureConfig  `yaml:"azure"`
	Ark    ArkConfig    `yaml:"ark"`
	Gemini GeminiConfig `yaml:"gemini"`
}

// OllamaConfig holds Ollama provider settings.
type OllamaConfig struct {
	Host  string `yaml:"host"`
	Model string `yaml:"model"`
}

// OpenAIConfig holds OpenAI provider settings.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key. Prefer env var OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// AzureConfig holds Azure OpenAI provider settings.
type AzureConfig struct {
	// APIKey is the Azure OpenAI API key. Prefer env var AZURE_OPENAI_API_KEY.
	APIKey     string `yaml:"api_key"`
	Endpoint   string `yaml:"endpoint"`
	Deployment string `yaml:"deployment"`
	APIVersion string `yaml:"api_version"`
}

// ArkConfig holds Volcengine Ark provider settings.
type ArkConfig struct {
	// APIKey is the Ark API key. Prefer env var ARK_API_KEY.
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// GeminiConfig holds Google Gemini provider settings.
type GeminiConfig struct {
	// APIKey is the Google API key. Prefer env var GOOGLE_API_KEY.
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// VisionConfig holds figure captioning settings.
type VisionConfig struct {
	// Enabled turns on VLM captioning during ingest.
	Enabled bool `yaml:"enabled"`
	// Model is the vision model name on the chat provider.
	Model string `yaml:"model"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	// Provider selects the embedding backend (ollama, openai, azure, gemini).
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	// Dimensions overrides the embedding vector size.
	Dimensions int `yaml:"dimensions"`
	// APIKey is the embedding API key. Prefer env var EMBEDDING_API_KEY.
	APIKey    string `yaml:"api_key"`
	Endpoint  string `yaml:"endpoint"`
	BatchSize int    `yaml:"batch_size"`
}

// QdrantConfig holds Qdrant vector store settings.
type QdrantConfig struct {
	Host string `yaml:"host"`
	// Port is the Qdrant gRPC port.
	Port int `yaml:"port"`
	// APIKey is the Qdrant API key. Prefer env var QDRANT_API_KEY.
	APIKey string `yaml:"api_key"`
	TLS    bool   `yaml:"tls"`
	// TextCollection holds chunk embeddings.
	TextCollection string `yaml:"text_collection"`
	// PageCollection holds page descriptor embeddings.
	PageCollection string `yaml:"page_collection"`
}

// PathsConfig holds filesystem locations.
type PathsConfig struct {
	// DB is the SQLite metadata store path.
	DB string `yaml:"db"`
	// DataDir is the root of rendered pages and extracted figures.
	DataDir string `yaml:"data_dir"`
}

// IngestionConfig holds PDF ingestion settings.
type IngestionConfig struct {
	RenderDPI         int  `yaml:"render_dpi"`
	MaxPages          int  `yaml:"max_pages"`
	PruneFigures      bool `yaml:"prune_figures"`
	ChunkMaxChars     int  `yaml:"chunk_max_chars"`
	ChunkOverlapChars int  `yaml:"chunk_overlap_chars"`
	Workers           int  `yaml:"workers"`
}

// RetrievalConfig holds search and fusion settings.
type RetrievalConfig struct {
	TextTopK        int     `yaml:"text_top_k"`
	LexicalTopK     int     `yaml:"lexical_top_k"`
	VisualTopK      int     `yaml:"visual_top_k"`
	RRFK            int     `yaml:"rrf_k"`
	WeightText      float32 `yaml:"rrf_w_text"`
	WeightLexical   float32 `yaml:"rrf_w_lexical"`
	WeightVisual    float32 `yaml:"rrf_w_visual"`
	MaxTextItems    int     `yaml:"context_max_text_items"`
	MaxContextPages int     `yaml:"context_max_pages"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// APIKey is the Bearer token for API authentication. Prefer env var ASTRORAG_API_KEY.
	APIKey string `yaml:"api_key"`
	// AskTimeout bounds one question, e.g. "5m".
	AskTimeout string `yaml:"ask_timeout"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// TracingConfig holds Langfuse tracing settings.
type TracingConfig struct {
	// PublicKey is the Langfuse public key. Prefer env var LANGFUSE_PUBLIC_KEY.
	PublicKey string `yaml:"public_key"`
	// SecretKey is the Langfuse secret key. Prefer env var LANGFUSE_SECRET_KEY.
	SecretKey string `yaml:"secret_key"`
	Host      string `yaml:"host"`
}

// envMapping maps YAML config fields to their corresponding env var names.
// Only non-empty YAML values are applied; env vars always take precedence.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{"MODEL_PROVIDER", func(c *Config) string { return c.Model.Provider }},
	{"MODEL_MAX_TOKENS", func(c *Config) string { return intStr(c.Model.MaxTokens) }},
	{"MODEL_TEMPERATURE", func(c *Config) string { return float32Str(c.Model.Temperature) }},
	{"MODEL_CONTEXT_TOKENS", func(c *Config) string { return intStr(c.Model.ContextTokens) }},
	{"OUTPUT_LANGUAGE", func(c *Config) string { return c.Model.OutputLanguage }},
	{"OLLAMA_HOST", func(c *Config) string { return c.Model.Ollama.Host }},
	{"OLLAMA_MODEL", func(c *Config) string { return c.Model.Ollama.Model }},
	{"OPENAI_API_KEY", func(c *Config) string { return c.Model.OpenAI.APIKey }},
	{"OPENAI_MODEL", func(c *Config) string { return c.Model.OpenAI.Model }},
	{"AZURE_OPENAI_API_KEY", func(c *Config) string { return c.Model.Azure.APIKey }},
	{"AZURE_OPENAI_ENDPOINT", func(c *Config) string { return c.Model.Azure.Endpoint }},
	{"AZURE_OPENAI_DEPLOYMENT", func(c *Config) string { return c.Model.Azure.Deployment }},
	{"AZURE_OPENAI_API_VERSION", func(c *Config) string { return c.Model.Azure.APIVersion }},
	{"ARK_API_KEY", func(c *Config) string { return c.Model.Ark.APIKey }},
	{"ARK_BASE_URL", func(c *Config) string { return c.Model.Ark.BaseURL }},
	{"ARK_MODEL", func(c *Config) string { return c.Model.Ark.Model }},
	{"GOOGLE_API_KEY", func(c *Config) string { return c.Model.Gemini.APIKey }},
	{"GEMINI_MODEL", func(c *Config) string { return c.Model.Gemini.Model }},
	{"VLM_ENABLED", func(c *Config) string { return boolStr(c.Vision.Enabled) }},
	{"VLM_MODEL", func(c *Config) string { return c.Vision.Model }},
	{"EMBEDDING_PROVIDER", func(c *Config) string { return c.Embedding.Provider }},
	{"EMBEDDING_MODEL", func(c *Config) string { return c.Embedding.Model }},
	{"EMBEDDING_DIMENSIONS", func(c *Config) string { return intStr(c.Embedding.Dimensions) }},
	{"EMBEDDING_API_KEY", func(c *Config) string { return c.Embedding.APIKey }},
	{"EMBEDDING_ENDPOINT", func(c *Config) string { return c.Embedding.Endpoint }},
	{"EMBEDDING_BATCH_SIZE", func(c *Config) string { return intStr(c.Embedding.BatchSize) }},
	{"QDRANT_HOST", func(c *Config) string { return c.Qdrant.Host }},
	{"QDRANT_PORT", func(c *Config) string { return intStr(c.Qdrant.Port) }},
	{"QDRANT_API_KEY", func(c *Config) string { return c.Qdrant.APIKey }},
	{"QDRANT_TLS", func(c *Config) string { return boolStr(c.Qdrant.TLS) }},
	{"QDRANT_TEXT_COLLECTION", func(c *Config) string { return c.Qdrant.TextCollection }},
	{"QDRANT_PAGE_COLLECTION", func(c *Config) string { return c.Qdrant.PageCollection }},
	{"ASTRORAG_DB", func(c *Config) string { return c.Paths.DB }},
	{"ASTRORAG_DATA_DIR", func(c *Config) string { return c.Paths.DataDir }},
	{"RENDER_DPI", func(c *Config) string { return intStr(c.Ingestion.RenderDPI) }},
	{"INGEST_MAX_PAGES", func(c *Config) string { return intStr(c.Ingestion.MaxPages) }},
	{"INGEST_PRUNE_FIGURES", func(c *Config) string { return boolStr(c.Ingestion.PruneFigures) }},
	{"CHUNK_MAX_CHARS", func(c *Config) string { return intStr(c.Ingestion.ChunkMaxChars) }},
	{"CHUNK_OVERLAP_CHARS", func(c *Config) string { return intStr(c.Ingestion.ChunkOverlapChars) }},
	{"INDEX_WORKERS", func(c *Config) string { return intStr(c.Ingestion.Workers) }},
	{"TEXT_TOP_K", func(c *Config) string { return intStr(c.Retrieval.TextTopK) }},
	{"LEXICAL_TOP_K", func(c *Config) string { return intStr(c.Retrieval.LexicalTopK) }},
	{"VISUAL_TOP_K", func(c *Config) string { return intStr(c.Retrieval.VisualTopK) }},
	{"RRF_K", func(c *Config) string { return intStr(c.Retrieval.RRFK) }},
	{"RRF_W_TEXT", func(c *Config) string { return float32Str(c.Retrieval.WeightText) }},
	{"RRF_W_LEXICAL", func(c *Config) string { return float32Str(c.Retrieval.WeightLexical) }},
	{"RRF_W_VISUAL", func(c *Config) string { return float32Str(c.Retrieval.WeightVisual) }},
	{"CONTEXT_MAX_TEXT_ITEMS", func(c *Config) string { return intStr(c.Retrieval.MaxTextItems) }},
	{"CONTEXT_MAX_PAGES", func(c *Config) string { return intStr(c.Retrieval.MaxContextPages) }},
	{"ASTRORAG_HOST", func(c *Config) string { return c.Server.Host }},
	{"ASTRORAG_PORT", func(c *Config) string { return intStr(c.Server.Port) }},
	{"ASTRORAG_API_KEY", func(c *Config) string { return c.Server.APIKey }},
	{"ASK_TIMEOUT", func(c *Config) string { return c.Server.AskTimeout }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
	{"LANGFUSE_PUBLIC_KEY", func(c *Config) string { return c.Tracing.PublicKey }},
	{"LANGFUSE_SECRET_KEY", func(c *Config) string { return c.Tracing.SecretKey }},
	{"LANGFUSE_HOST", func(c *Config) string { return c.Tracing.Host }},
}

// LoadDotenv reads the .env file named by ASTRORAG_DOTENV (default ./.env)
// into the environment without overriding variables that are already set.
// A missing file is not an error. Returns the path that was loaded, or "".
func LoadDotenv(log *slog.Logger) (string, error) {
	path := os.Getenv("ASTRORAG_DOTENV")
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	log.Debug("config: loaded dotenv file", slog.String("path", path))
	return path, nil
}

// Load reads a YAML config file and applies non-empty values as environment
// variables. Existing env vars are never overwritten (env always wins).
// Returns the path that was loaded, or empty string if no file was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applied := 0
	for _, m := range envMapping {
		yamlVal := m.value(&cfg)
		if yamlVal == "" {
			continue
		}
		if _, set := os.LookupEnv(m.envKey); set {
			continue
		}
		if err := os.Setenv(m.envKey, yamlVal); err != nil {
			return "", fmt.Errorf("config: set %s: %w", m.envKey, err)
		}
		applied++
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)

	return path, nil
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("ASTRORAG_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".astrorag", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("astrorag.yaml"); err == nil {
		return "astrorag.yaml"
	}

	return ""
}

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return fmt.Sprintf("%d", v)
}

// float32Str converts a float32 to string, returning "" for zero values.
func float32Str(v float32) string {
	if v == 0 {
		return ""
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
}

// boolStr converts a bool to string, returning "" for false.
func boolStr(v bool) string {
	if !v {
		return ""
	}
	return "true"
}
