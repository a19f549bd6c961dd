package commands

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/54b3r/astrorag-go/internal/ingestion"
	"github.com/54b3r/astrorag-go/internal/server"
	"github.com/54b3r/astrorag-go/internal/stage"
	"github.com/54b3r/astrorag-go/internal/store"
)

// ---------------------------------------------------------------------------
// Command tree
// ---------------------------------------------------------------------------

func TestNewRootCmd_Subcommands(t *testing.T) {
	t.Parallel()

	root := NewRootCmd()
	want := []string{"ingest", "index", "query", "status", "health", "serve", "version"}
	for _, name := range want {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("Find(%q) = %v, %v", name, cmd, err)
		}
	}
	if root.PersistentFlags().Lookup("config") == nil {
		t.Error("--config persistent flag missing")
	}
}

func TestIngestCmd_Flags(t *testing.T) {
	t.Parallel()

	cmd := NewIngestCmd()
	for _, f := range []string{"pdf", "force", "disable-vlm"} {
		if cmd.Flags().Lookup(f) == nil {
			t.Errorf("ingest: missing --%s", f)
		}
	}
	idx := NewIndexCmd()
	for _, f := range []string{"pdf", "force", "skip-text", "skip-visual"} {
		if idx.Flags().Lookup(f) == nil {
			t.Errorf("index: missing --%s", f)
		}
	}
}

func TestVersionCmd(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	cmd := NewVersionCmd()
	cmd.SetOut(&buf)
	cmd.Run(cmd, nil)
	if !strings.HasPrefix(buf.String(), "astrorag dev (commit: unknown") {
		t.Errorf("version output = %q", buf.String())
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func TestResolvePDFs(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for _, name := range []string{"b.pdf", "a.PDF", "notes.txt", filepath.Join("sub", "c.pdf")} {
		p := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("%PDF-1.4"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	got, err := resolvePDFs([]string{dir, filepath.Join(dir, "b.pdf")})
	if err != nil {
		t.Fatalf("resolvePDFs() error: %v", err)
	}
	want := []string{
		filepath.Join(dir, "a.PDF"),
		filepath.Join(dir, "b.pdf"),
		filepath.Join(dir, "sub", "c.pdf"),
	}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("resolvePDFs() = %v, want %v", got, want)
	}

	empty := t.TempDir()
	if _, err := resolvePDFs([]string{empty}); err == nil || !strings.Contains(err.Error(), "no PDFs found") {
		t.Errorf("resolvePDFs(empty) error = %v", err)
	}
	if _, err := resolvePDFs([]string{filepath.Join(dir, "notes.txt")}); err == nil {
		t.Error("expected error for non-PDF file")
	}
}

func TestPrintResults(t *testing.T) {
	t.Parallel()

	results := []ingestion.DocResult{
		{
			Path: "a.pdf",
			Reports: []*ingestion.Report{
				{DocID: 1, Stage: stage.Ingest, Items: []ingestion.ItemOutcome{
					{Kind: ingestion.KindText, DocID: 1, PageNum: 1},
					{Kind: ingestion.KindRender, DocID: 1, PageNum: 2, Err: errors.New("pdftoppm exited 1")},
				}},
				{DocID: 1, Stage: stage.TextIndex, Skipped: true},
			},
		},
		{Path: "missing.pdf", Err: errors.New("no such file")},
	}

	var buf bytes.Buffer
	failed := printResults(&buf, results)
	if failed != 1 {
		t.Errorf("failed = %d, want 1", failed)
	}
	out := buf.String()
	for _, want := range []string{
		"a.pdf\tdoc 1\tingest\tok=1 failed=1 indexed=0\n",
		"  render page 2 : pdftoppm exited 1\n",
		"a.pdf\tdoc 1\ttext_index\tup to date\n",
		"missing.pdf\terror: no such file\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q\n---\n%s", want, out)
		}
	}
}

func TestWriteStatus(t *testing.T) {
	t.Parallel()

	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	ctx := context.Background()

	var buf bytes.Buffer
	if err := writeStatus(ctx, &buf, st); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "No documents ingested.\n" {
		t.Errorf("empty status = %q", buf.String())
	}

	doc, err := st.UpsertDocument(ctx, store.DocumentInput{
		FilePath: "/papers/riess.pdf", FileName: "riess.pdf", ContentHash: "h1", PageCount: 12,
	})
	if err != nil {
		t.Fatal(err)
	}
	if ok, err := st.CommitStage(ctx, doc.DocID, store.StageIngest, "h1"); err != nil || !ok {
		t.Fatalf("CommitStage() = %v, %v", ok, err)
	}

	buf.Reset()
	if err := writeStatus(ctx, &buf, st); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("status lines = %q", lines)
	}
	for _, want := range []string{"DOC", "ingest", "text_index", "visual_index"} {
		if !strings.Contains(lines[0], want) {
			t.Errorf("header missing %q: %q", want, lines[0])
		}
	}
	fields := strings.Fields(lines[1])
	if fields[1] != "riess.pdf" || fields[2] != "12" {
		t.Errorf("row = %q", lines[1])
	}
	if got := fields[len(fields)-3:]; strings.Join(got, " ") != "up_to_date never_run never_run" {
		t.Errorf("stage states = %v", got)
	}
}

type stubPinger struct {
	name string
	err  error
}

func (p stubPinger) Name() string                   { return p.name }
func (p stubPinger) Ping(ctx context.Context) error { return p.err }

func TestRunChecks(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	failed := runChecks(context.Background(), &buf, []server.Pinger{
		stubPinger{name: "sqlite"},
		stubPinger{name: "tesseract", err: errors.New("not found on PATH")},
	})
	if failed != 1 {
		t.Errorf("failed = %d, want 1", failed)
	}
	out := buf.String()
	if !strings.Contains(out, "ok    sqlite") || !strings.Contains(out, "FAIL  tesseract") || !strings.Contains(out, "not found on PATH") {
		t.Errorf("output = %q", out)
	}
}

func TestUnavailableIndex(t *testing.T) {
	t.Parallel()

	if _, err := (unavailableEmbedder{}).Embed(context.Background(), []string{"x"}); !errors.Is(err, errIndexUnavailable) {
		t.Errorf("Embed() error = %v", err)
	}
	if err := (unavailableTextIndex{}).DeleteDoc(context.Background(), 1); !errors.Is(err, errIndexUnavailable) {
		t.Errorf("DeleteDoc() error = %v", err)
	}
}
