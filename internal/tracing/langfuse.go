// Package tracing wires Langfuse into the eino callback system. Tracing is
// opt-in: nothing is installed unless both Langfuse keys are present.
package tracing

import (
	"os"
	"strings"

	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"
)

// DefaultHost is the Langfuse endpoint used when LANGFUSE_HOST is unset.
const DefaultHost = "http://localhost:3000"

// Config holds the Langfuse connection settings.
type Config struct {
	Host      string
	PublicKey string
	SecretKey string
	// Name labels the traces, e.g. the CLI command.
	Name string
}

// ConfigFromEnv reads LANGFUSE_HOST, LANGFUSE_PUBLIC_KEY and
// LANGFUSE_SECRET_KEY.
func ConfigFromEnv() Config {
	host := strings.TrimSpace(os.Getenv("LANGFUSE_HOST"))
	if host == "" {
		host = DefaultHost
	}
	return Config{
		Host:      host,
		PublicKey: strings.TrimSpace(os.Getenv("LANGFUSE_PUBLIC_KEY")),
		SecretKey: strings.TrimSpace(os.Getenv("LANGFUSE_SECRET_KEY")),
	}
}

// Enabled reports whether both keys are set.
func (c Config) Enabled() bool {
	return c.PublicKey != "" && c.SecretKey != ""
}

// Setup initialises the Langfuse callback handler for cfg. Returns a flush
// function that must be called before process exit to ensure all traces are
// sent. If cfg is not enabled, the handler and flush are nil and ok is false.
func Setup(cfg Config) (handler callbacks.Handler, flush func(), ok bool) {
	if !cfg.Enabled() {
		return nil, nil, false
	}
	handler, flush = langfuse.NewLangfuseHandler(&langfuse.Config{
		Host:      cfg.Host,
		PublicKey: cfg.PublicKey,
		SecretKey: cfg.SecretKey,
		Name:      cfg.Name,
	})
	return handler, flush, true
}

// Install registers the Langfuse handler globally so every eino model call
// (answers and figure captions) is traced. The returned function flushes
// pending traces and is never nil.
func Install(cfg Config) (flush func(), ok bool) {
	handler, flush, ok := Setup(cfg)
	if !ok {
		return func() {}, false
	}
	callbacks.AppendGlobalHandlers(handler)
	return flush, true
}
