package embedder

import (
	"fmt"
	"log/slog"
	"strings"
)

// knownChatModelPrefixes contains name fragments that identify chat or
// completion models which are NOT suitable for embedding.
var knownChatModelPrefixes = []string{
	"gpt-4",
	"gpt-3.5",
	"gpt-35",
	"o1",
	"o3",
	"llama3",
	"llama2",
	"llama-3",
	"llama-2",
	"mistral",
	"mixtral",
	"gemma",
	"phi-",
	"phi3",
	"claude",
	"command-r",
	"deepseek",
	"qwen",
	"solar",
	"vicuna",
	"falcon",
	"yi-",
}

// looksLikeChatModel returns true when the model name resembles a known
// chat/completion model rather than a dedicated embedding model.
func looksLikeChatModel(model string) bool {
	lower := strings.ToLower(model)
	for _, prefix := range knownChatModelPrefixes {
		if strings.Contains(lower, prefix) {
			return true
		}
	}
	return false
}

// Validate returns an error when the configuration is clearly broken, such
// as an azure embedder with no API key.
func (c *Config) Validate() error {
	switch c.Backend {
	case "ollama":
		if c.Endpoint == "" {
			return errMissing(c.Backend, "OLLAMA_HOST or EMBEDDING_ENDPOINT")
		}
	case "openai":
		if c.APIKey == "" {
			return errMissing(c.Backend, "OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
	case "azure":
		if c.APIKey == "" {
			return errMissing(c.Backend, "AZURE_OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		if c.Endpoint == "" {
			return errMissing(c.Backend, "AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT")
		}
	case "gemini":
		if c.APIKey == "" {
			return errMissing(c.Backend, "GOOGLE_API_KEY or EMBEDDING_API_KEY")
		}
	default:
		return fmt.Errorf("embedder: unknown backend %q (valid values: ollama, openai, azure, gemini); set EMBEDDING_PROVIDER", c.Backend)
	}
	if c.Dimensions <= 0 {
		return fmt.Errorf("embedder: dimensions must be positive, got %d", c.Dimensions)
	}
	return nil
}

// Warn logs configuration that is valid but probably unintended: a model name
// that looks like a chat model, or an embedding backend silently inherited
// from MODEL_PROVIDER.
func (c *Config) Warn(log *slog.Logger, explicitProvider bool) {
	if !explicitProvider && c.Backend != "ollama" {
		log.Warn("embedder: EMBEDDING_PROVIDER is not set; inheriting MODEL_PROVIDER as embedding backend",
			slog.String("backend", c.Backend),
			slog.String("hint", "set EMBEDDING_PROVIDER to be explicit"),
		)
	}
	if looksLikeChatModel(c.Model) {
		log.Warn("embedder: EMBEDDING_MODEL looks like a chat model, not an embedding model",
			slog.String("model", c.Model),
			slog.String("hint", "use a dedicated embedding model e.g. nomic-embed-text, text-embedding-3-small"),
		)
	}
}
