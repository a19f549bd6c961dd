package audit

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"
)

func TestSanitiseKey_Secret(t *testing.T) {
	t.Parallel()
	for _, key := range []string{"OPENAI_API_KEY", "ARK_API_KEY", "ASTRORAG_API_KEY", "LANGFUSE_SECRET_KEY"} {
		if got := SanitiseKey(key, "sk-abc123"); got != "set" {
			t.Errorf("%s: expected 'set', got %q", key, got)
		}
		if got := SanitiseKey(key, ""); got != "unset" {
			t.Errorf("%s: expected 'unset', got %q", key, got)
		}
	}
}

func TestSanitiseKey_NonSecret(t *testing.T) {
	t.Parallel()
	if got := SanitiseKey("MODEL_PROVIDER", "azure"); got != "azure" {
		t.Errorf("expected 'azure', got %q", got)
	}
	if got := SanitiseKey("ASTRORAG_DB", ""); got != "unset" {
		t.Errorf("expected 'unset', got %q", got)
	}
}

func TestPresence(t *testing.T) {
	t.Parallel()
	if got := presence("something"); got != "set" {
		t.Errorf("expected 'set', got %q", got)
	}
	if got := presence(""); got != "unset" {
		t.Errorf("expected 'unset', got %q", got)
	}
}

func TestSanitiseConfigPath(t *testing.T) {
	t.Parallel()
	if got := sanitiseConfigPath(""); got != "none" {
		t.Errorf("expected 'none', got %q", got)
	}
	if got := sanitiseConfigPath("/tmp/config.yaml"); got != "/tmp/config.yaml" {
		t.Errorf("expected '/tmp/config.yaml', got %q", got)
	}
	home, err := os.UserHomeDir()
	if err == nil {
		p := home + "/.astrorag/config.yaml"
		if got := sanitiseConfigPath(p); got != "~/.astrorag/config.yaml" {
			t.Errorf("expected '~/.astrorag/config.yaml', got %q", got)
		}
	}
}

func TestLogCommandStart_RedactsSecrets(t *testing.T) {
	t.Setenv("ARK_API_KEY", "ark-very-secret")
	t.Setenv("QDRANT_TEXT_COLLECTION", "text_chunks")

	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))
	LogCommandStart(log, "ingest", "")

	if bytes.Contains(buf.Bytes(), []byte("ark-very-secret")) {
		t.Fatalf("secret value leaked: %s", buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatal(err)
	}
	if entry["ARK_API_KEY"] != "set" || entry["QDRANT_TEXT_COLLECTION"] != "text_chunks" {
		t.Errorf("entry = %v", entry)
	}
	if entry["command"] != "ingest" || entry["config_file"] != "none" {
		t.Errorf("entry = %v", entry)
	}
}

func TestLogCommandEnd(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))
	LogCommandEnd(log, "index", time.Now(), errors.New("qdrant unreachable"))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatal(err)
	}
	if entry["level"] != "ERROR" || entry["outcome"] != "error" || entry["error"] != "qdrant unreachable" {
		t.Errorf("entry = %v", entry)
	}
}
