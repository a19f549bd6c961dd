package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/54b3r/astrorag-go/internal/chunking"
)

// clearEnv unsets keys for the duration of the test. t.Setenv registers the
// restore before the key is removed.
func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoad_NoFile(t *testing.T) {
	t.Parallel()

	log := slog.Default()
	path, err := Load("/nonexistent/path/config.yaml", log)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "" {
		t.Errorf("expected empty path, got %q", path)
	}
}

func TestLoad_ValidFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
model:
  provider: azure
  max_tokens: 8192
  temperature: 0.3
  context_tokens: 4000
  azure:
    endpoint: https://my-resource.openai.azure.com
    deployment: gpt-4o
    api_version: "2025-04-01-preview"
vision:
  enabled: true
  model: qwen2.5vl
embedding:
  provider: ollama
  model: nomic-embed-text
qdrant:
  host: qdrant.internal
  port: 6334
  text_collection: papers_text
paths:
  data_dir: /srv/astrorag
retrieval:
  rrf_w_lexical: 0.25
server:
  ask_timeout: 90s
logging:
  level: debug
  format: text
`)

	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	// Clear env vars that the YAML should set.
	clearEnv(t,
		"MODEL_PROVIDER", "MODEL_MAX_TOKENS", "MODEL_TEMPERATURE", "MODEL_CONTEXT_TOKENS",
		"AZURE_OPENAI_ENDPOINT", "AZURE_OPENAI_DEPLOYMENT", "AZURE_OPENAI_API_VERSION",
		"VLM_ENABLED", "VLM_MODEL",
		"EMBEDDING_PROVIDER", "EMBEDDING_MODEL",
		"QDRANT_HOST", "QDRANT_PORT", "QDRANT_TEXT_COLLECTION",
		"ASTRORAG_DATA_DIR", "RRF_W_LEXICAL", "ASK_TIMEOUT",
		"LOG_LEVEL", "LOG_FORMAT",
	)

	log := slog.Default()
	loaded, err := Load(cfgPath, log)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded != cfgPath {
		t.Errorf("loaded path: got %q, want %q", loaded, cfgPath)
	}

	checks := map[string]string{
		"MODEL_PROVIDER":           "azure",
		"MODEL_MAX_TOKENS":         "8192",
		"MODEL_TEMPERATURE":        "0.3",
		"MODEL_CONTEXT_TOKENS":     "4000",
		"AZURE_OPENAI_ENDPOINT":    "https://my-resource.openai.azure.com",
		"AZURE_OPENAI_DEPLOYMENT":  "gpt-4o",
		"AZURE_OPENAI_API_VERSION": "2025-04-01-preview",
		"VLM_ENABLED":              "true",
		"VLM_MODEL":                "qwen2.5vl",
		"EMBEDDING_PROVIDER":       "ollama",
		"EMBEDDING_MODEL":          "nomic-embed-text",
		"QDRANT_HOST":              "qdrant.internal",
		"QDRANT_PORT":              "6334",
		"QDRANT_TEXT_COLLECTION":   "papers_text",
		"ASTRORAG_DATA_DIR":        "/srv/astrorag",
		"RRF_W_LEXICAL":            "0.25",
		"ASK_TIMEOUT":              "90s",
		"LOG_LEVEL":                "debug",
		"LOG_FORMAT":               "text",
	}
	for k, want := range checks {
		got := os.Getenv(k)
		if got != want {
			t.Errorf("%s: got %q, want %q", k, got, want)
		}
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
model:
  provider: ollama
`)
	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	// Set env var BEFORE loading; it should NOT be overwritten.
	t.Setenv("MODEL_PROVIDER", "azure")

	log := slog.Default()
	_, err := Load(cfgPath, log)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got := os.Getenv("MODEL_PROVIDER"); got != "azure" {
		t.Errorf("MODEL_PROVIDER: expected env override %q, got %q", "azure", got)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(cfgPath, []byte("{{invalid yaml"), 0o644); err != nil {
		t.Fatal(err)
	}

	log := slog.Default()
	_, err := Load(cfgPath, log)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestResolveConfigPath_EnvVar(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "from-env.yaml")
	if err := os.WriteFile(cfgPath, []byte("model: {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ASTRORAG_CONFIG", cfgPath)

	if got := resolveConfigPath(""); got != cfgPath {
		t.Errorf("resolveConfigPath() = %q, want %q", got, cfgPath)
	}
	// An explicit path that does not exist disables the search entirely.
	if got := resolveConfigPath(filepath.Join(dir, "missing.yaml")); got != "" {
		t.Errorf("resolveConfigPath(missing) = %q, want empty", got)
	}
}

// ---------------------------------------------------------------------------
// Dotenv
// ---------------------------------------------------------------------------

func TestLoadDotenv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("QDRANT_HOST=from-dotenv\nASTRORAG_API_KEY=secret\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ASTRORAG_DOTENV", envPath)
	t.Setenv("QDRANT_HOST", "from-shell")
	clearEnv(t, "ASTRORAG_API_KEY")

	got, err := LoadDotenv(slog.Default())
	if err != nil {
		t.Fatalf("LoadDotenv() error: %v", err)
	}
	if got != envPath {
		t.Errorf("LoadDotenv() = %q, want %q", got, envPath)
	}
	if v := os.Getenv("QDRANT_HOST"); v != "from-shell" {
		t.Errorf("QDRANT_HOST = %q, dotenv must not override", v)
	}
	if v := os.Getenv("ASTRORAG_API_KEY"); v != "secret" {
		t.Errorf("ASTRORAG_API_KEY = %q, want value from dotenv", v)
	}
}

func TestLoadDotenv_Missing(t *testing.T) {
	t.Setenv("ASTRORAG_DOTENV", filepath.Join(t.TempDir(), "nope.env"))

	got, err := LoadDotenv(slog.Default())
	if err != nil || got != "" {
		t.Errorf("LoadDotenv() = %q, %v; want empty, nil", got, err)
	}
}

// ---------------------------------------------------------------------------
// Settings
// ---------------------------------------------------------------------------

var settingsKeys = []string{
	"OUTPUT_LANGUAGE", "MODEL_CONTEXT_TOKENS", "VLM_ENABLED", "VLM_MODEL",
	"QDRANT_HOST", "QDRANT_PORT", "QDRANT_API_KEY", "QDRANT_TLS",
	"QDRANT_TEXT_COLLECTION", "QDRANT_PAGE_COLLECTION",
	"ASTRORAG_DB", "ASTRORAG_DATA_DIR", "RENDER_DPI", "INGEST_MAX_PAGES",
	"INGEST_PRUNE_FIGURES", "CHUNK_MAX_CHARS", "CHUNK_OVERLAP_CHARS", "INDEX_WORKERS",
	"TEXT_TOP_K", "LEXICAL_TOP_K", "VISUAL_TOP_K", "RRF_K",
	"RRF_W_TEXT", "RRF_W_LEXICAL", "RRF_W_VISUAL",
	"CONTEXT_MAX_TEXT_ITEMS", "CONTEXT_MAX_PAGES",
	"ASTRORAG_HOST", "ASTRORAG_PORT", "ASTRORAG_API_KEY", "ASK_TIMEOUT",
}

func TestFromEnv_Defaults(t *testing.T) {
	clearEnv(t, settingsKeys...)

	s, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() error: %v", err)
	}
	if s.TextCollection != "text_chunks" || s.PageCollection != "page_images" {
		t.Errorf("collections = %q, %q", s.TextCollection, s.PageCollection)
	}
	if s.DBPath != filepath.Join("data", "metadata.sqlite3") {
		t.Errorf("DBPath = %q", s.DBPath)
	}
	if s.Chunking != chunking.DefaultOptions() {
		t.Errorf("Chunking = %+v", s.Chunking)
	}
	r := s.Retrieval
	if r.TextTopK != 12 || r.LexicalTopK != 12 || r.VisualTopK != 6 || r.RRFK != 60 {
		t.Errorf("Retrieval depths = %+v", r)
	}
	if r.TextWeight != 1.0 || r.LexicalWeight != 0.5 || r.VisualWeight != 0.8 {
		t.Errorf("Retrieval weights = %+v", r)
	}
	if s.RenderDPI != 200 || s.ContextTokens != 6000 || s.Workers != 2 || s.MaxTextItems != 12 || s.MaxContextPages != 8 {
		t.Errorf("defaults = %+v", s)
	}
	if s.Addr() != "127.0.0.1:8080" || s.AskTimeout != 5*time.Minute {
		t.Errorf("server = %s, %s", s.Addr(), s.AskTimeout)
	}
	if err := s.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	clearEnv(t, settingsKeys...)
	t.Setenv("ASTRORAG_DATA_DIR", "/tmp/astro")
	t.Setenv("VISUAL_TOP_K", "0")
	t.Setenv("RRF_W_VISUAL", "1.5")
	t.Setenv("VLM_ENABLED", "true")
	t.Setenv("ASK_TIMEOUT", "45s")

	s, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() error: %v", err)
	}
	if s.DBPath != filepath.Join("/tmp/astro", "metadata.sqlite3") {
		t.Errorf("DBPath = %q, want under data dir", s.DBPath)
	}
	if s.Retrieval.VisualTopK != 0 || s.Retrieval.VisualWeight != 1.5 {
		t.Errorf("Retrieval = %+v", s.Retrieval)
	}
	if !s.VLMEnabled || s.AskTimeout != 45*time.Second {
		t.Errorf("settings = %+v", s)
	}
}

func TestFromEnv_MalformedValues(t *testing.T) {
	clearEnv(t, settingsKeys...)
	t.Setenv("RENDER_DPI", "high")
	t.Setenv("QDRANT_TLS", "maybe")

	_, err := FromEnv()
	if err == nil {
		t.Fatal("expected error for malformed values")
	}
	for _, want := range []string{"RENDER_DPI", "QDRANT_TLS"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not name %s", err, want)
		}
	}
}

func TestSettingsValidate(t *testing.T) {
	clearEnv(t, settingsKeys...)
	base, err := FromEnv()
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{"non-english output", func(s *Settings) { s.OutputLanguage = "de" }, "OUTPUT_LANGUAGE"},
		{"overlap too wide", func(s *Settings) { s.Chunking.OverlapChars = s.Chunking.MaxChars }, "overlap_chars"},
		{"zero workers", func(s *Settings) { s.Workers = 0 }, "INDEX_WORKERS"},
		{"negative weight", func(s *Settings) { s.Retrieval.LexicalWeight = -1 }, "weights"},
		{"same collections", func(s *Settings) { s.PageCollection = s.TextCollection }, "must differ"},
		{"bad port", func(s *Settings) { s.Port = 70000 }, "ASTRORAG_PORT"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := *base
			tc.mutate(&s)
			err := s.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("Validate() = %v, want substring %q", err, tc.wantErr)
			}
		})
	}
}

func TestFloat32Str(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   float32
		want string
	}{
		{0.0, ""},
		{0.2, "0.2"},
		{0.3, "0.3"},
		{1.0, "1"},
		{0.25, "0.25"},
	}
	for _, tt := range tests {
		if got := float32Str(tt.in); got != tt.want {
			t.Errorf("float32Str(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
