package embedder

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/54b3r/astrorag-go/internal/rag"
)

// Default embedding models per backend.
const (
	defaultOllamaModel = "nomic-embed-text"
	defaultOpenAIModel = "text-embedding-3-small"
	defaultGeminiModel = "text-embedding-004"

	// defaultOllamaDimensions is the output dimension of nomic-embed-text.
	// Other Ollama models may differ; override with EMBEDDING_DIMENSIONS.
	defaultOllamaDimensions = 768
	// defaultOpenAIDimensions is the output dimension of text-embedding-3-small.
	defaultOpenAIDimensions = 1536
	// defaultGeminiDimensions is the output dimension of text-embedding-004.
	defaultGeminiDimensions = 768
)

// Config is the resolved embedding configuration.
type Config struct {
	// Backend is one of ollama, openai, azure, gemini.
	Backend    string
	Model      string
	APIKey     string
	Endpoint   string
	APIVersion string
	// Dimensions is the vector size used for Qdrant collections.
	Dimensions int
	BatchSize  int
}

// ConfigFromEnv resolves embedding settings using cascading defaults that
// inherit from the chat provider configuration when embedding-specific
// overrides are not set.
//
// Resolution order:
//
//  1. EMBEDDING_PROVIDER; if unset, inherits MODEL_PROVIDER (default: ollama)
//  2. Per-backend credentials are inherited from the chat provider's env vars
//  3. EMBEDDING_MODEL overrides the default model for the resolved backend
//  4. EMBEDDING_API_KEY overrides the inherited API key
//  5. EMBEDDING_ENDPOINT overrides the inherited endpoint
//  6. EMBEDDING_DIMENSIONS overrides the default dimensions
//  7. EMBEDDING_BATCH_SIZE bounds texts per request (default: 32)
func ConfigFromEnv() *Config {
	backend := os.Getenv("EMBEDDING_PROVIDER")
	if backend == "" {
		backend = getEnvOrDefault("MODEL_PROVIDER", "ollama")
	}
	cfg := &Config{
		Backend:    backend,
		Model:      os.Getenv("EMBEDDING_MODEL"),
		APIKey:     os.Getenv("EMBEDDING_API_KEY"),
		Endpoint:   os.Getenv("EMBEDDING_ENDPOINT"),
		Dimensions: getEnvInt("EMBEDDING_DIMENSIONS", 0),
		BatchSize:  getEnvInt("EMBEDDING_BATCH_SIZE", DefaultBatchSize),
	}

	switch backend {
	case "ollama":
		cfg.Model = orDefault(cfg.Model, defaultOllamaModel)
		cfg.Endpoint = orDefault(cfg.Endpoint, getEnvOrDefault("OLLAMA_HOST", "http://localhost:11434"))
	case "openai":
		cfg.Model = orDefault(cfg.Model, defaultOpenAIModel)
		cfg.APIKey = orDefault(cfg.APIKey, os.Getenv("OPENAI_API_KEY"))
		cfg.Endpoint = orDefault(cfg.Endpoint, "https://api.openai.com/v1")
	case "azure":
		cfg.Model = orDefault(cfg.Model, defaultOpenAIModel)
		cfg.APIKey = orDefault(cfg.APIKey, os.Getenv("AZURE_OPENAI_API_KEY"))
		cfg.Endpoint = orDefault(cfg.Endpoint, os.Getenv("AZURE_OPENAI_ENDPOINT"))
		cfg.APIVersion = getEnvOrDefault("AZURE_OPENAI_API_VERSION", "2024-02-01")
	case "gemini":
		cfg.Model = orDefault(cfg.Model, defaultGeminiModel)
		cfg.APIKey = orDefault(cfg.APIKey, os.Getenv("GOOGLE_API_KEY"))
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultDimensions(backend)
	}
	return cfg
}

// DefaultDimensions returns the default embedding vector size for backend.
func DefaultDimensions(backend string) int {
	switch backend {
	case "ollama":
		return defaultOllamaDimensions
	case "gemini":
		return defaultGeminiDimensions
	default:
		return defaultOpenAIDimensions
	}
}

// New constructs a batched rag.Embedder for cfg.
func New(ctx context.Context, cfg *Config) (rag.Embedder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var inner rag.Embedder
	switch cfg.Backend {
	case "ollama":
		inner = NewOllamaEmbedder(&OllamaConfig{Host: cfg.Endpoint, Model: cfg.Model})
	case "openai":
		inner = NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    cfg.Endpoint,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
		})
	case "azure":
		inner = NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    cfg.Endpoint + "/openai",
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Azure:      true,
			APIVersion: cfg.APIVersion,
		})
	case "gemini":
		g, err := NewGeminiEmbedder(ctx, &GeminiConfig{APIKey: cfg.APIKey, Model: cfg.Model, Dimensions: cfg.Dimensions})
		if err != nil {
			return nil, err
		}
		inner = g
	}
	return NewBatched(inner, cfg.BatchSize), nil
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	return orDefault(os.Getenv(key), fallback)
}

func orDefault(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// errMissing names the env var an operator should set.
func errMissing(backend, keys string) error {
	return fmt.Errorf("embedder: %s requires %s", backend, keys)
}
