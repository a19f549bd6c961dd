// Package ingestion turns PDF files into indexed evidence. It runs the three
// per-document stages (ingest, text-index, visual-index) through the stage
// gate so that unchanged documents are skipped and a content change makes
// every stage run again.
//
// Per-item failures (one page's text, one render, one figure's OCR or
// caption, one page's embeddings) are recorded in the stage's Report and do
// not stop the stage. Store failures and cancellation abort the stage and
// leave its watermark untouched.
package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/54b3r/astrorag-go/internal/caption"
	"github.com/54b3r/astrorag-go/internal/chunking"
	"github.com/54b3r/astrorag-go/internal/extract"
	"github.com/54b3r/astrorag-go/internal/rag"
	"github.com/54b3r/astrorag-go/internal/stage"
	"github.com/54b3r/astrorag-go/internal/store"
)

// DefaultRenderDPI is the page render resolution used when Config.RenderDPI
// is zero.
const DefaultRenderDPI = 200

// Store is the subset of the metadata store the pipeline writes to.
type Store interface {
	stage.Store
	UpsertDocument(ctx context.Context, in store.DocumentInput) (*store.Document, error)
	UpsertPage(ctx context.Context, p store.Page) error
	Pages(ctx context.Context, docID int64) ([]store.Page, error)
	TrimPages(ctx context.Context, docID int64, lastPage int) error
	ReplaceChunks(ctx context.Context, docID int64, pageNum int, chunks []store.TextChunk) error
	UpsertFigure(ctx context.Context, f store.Figure) error
	CurrentFigures(ctx context.Context, docID int64) ([]store.Figure, error)
	PruneFigures(ctx context.Context, docID int64, keep []string) (int64, error)
	MarkStaleFigures(ctx context.Context, docID int64, keep []string) (int64, error)
}

// PageTexts yields the plain text of the pages of one open PDF.
type PageTexts interface {
	PageText(n int) (string, error)
	Close() error
}

// PDFSource reads the structure of a PDF file.
type PDFSource interface {
	PageCount(path string) (int, error)
	OpenText(path string) (PageTexts, error)
	Images(path string, lastPage int) (map[int][]extract.Image, error)
}

// Renderer rasterises one page of a PDF to a PNG file.
type Renderer interface {
	Render(ctx context.Context, pdfPath string, n int, outPath string, dpi int) error
}

// OCR reads the text printed in an image.
type OCR interface {
	Text(ctx context.Context, imagePath string) (string, error)
}

// FileSource is the PDFSource backed by the extract package.
type FileSource struct{}

// PageCount implements PDFSource.
func (FileSource) PageCount(path string) (int, error) { return extract.PageCount(path) }

// OpenText implements PDFSource.
func (FileSource) OpenText(path string) (PageTexts, error) {
	tr, err := extract.OpenText(path)
	if err != nil {
		return nil, err
	}
	return tr, nil
}

// Images implements PDFSource.
func (FileSource) Images(path string, lastPage int) (map[int][]extract.Image, error) {
	return extract.Images(path, lastPage)
}

// Config holds the tunables of the pipeline.
type Config struct {
	// DataDir is the root under which pages/ and figures/ are written.
	DataDir string
	// RenderDPI is the page render resolution. Defaults to DefaultRenderDPI.
	RenderDPI int
	// MaxPages limits how many leading pages are ingested. Zero means all.
	MaxPages int
	// PruneFigures deletes figures no longer produced by a re-ingest. When
	// unset they are kept but flagged stale.
	PruneFigures bool
	// Chunking configures the text chunker.
	Chunking chunking.Options
	// Owner identifies this worker in the lease table. Empty gets a
	// host/process identifier.
	Owner string
	// LeaseTTL bounds how long a stage may hold a document.
	LeaseTTL time.Duration
}

// Deps are the collaborators of a Pipeline. Renderer, OCR, Captioner and
// Metrics are optional; Visual defaults to rag.NoopVisualIndex.
type Deps struct {
	Store     Store
	Source    PDFSource
	Renderer  Renderer
	OCR       OCR
	Captioner caption.Captioner
	Embedder  rag.Embedder
	Text      rag.TextIndex
	Visual    rag.VisualIndex
	Metrics   *Metrics
}

// Pipeline runs the ingest and index stages for PDF documents.
// It is safe for concurrent use on different documents.
type Pipeline struct {
	store     Store
	gate      *stage.Gate
	src       PDFSource
	renderer  Renderer
	ocr       OCR
	captioner caption.Captioner
	embedder  rag.Embedder
	text      rag.TextIndex
	visual    rag.VisualIndex
	metrics   *Metrics
	cfg       Config
}

// NewPipeline constructs a Pipeline from d and cfg.
func NewPipeline(d Deps, cfg Config) (*Pipeline, error) {
	if d.Store == nil {
		return nil, fmt.Errorf("ingestion: store must not be nil")
	}
	if d.Embedder == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	if d.Text == nil {
		return nil, fmt.Errorf("ingestion: text index must not be nil")
	}
	if d.Source == nil {
		d.Source = FileSource{}
	}
	if d.Visual == nil {
		d.Visual = rag.NoopVisualIndex{}
	}
	if cfg.RenderDPI <= 0 {
		cfg.RenderDPI = DefaultRenderDPI
	}
	if cfg.MaxPages < 0 {
		cfg.MaxPages = 0
	}
	if cfg.Chunking == (chunking.Options{}) {
		cfg.Chunking = chunking.DefaultOptions()
	}
	if err := cfg.Chunking.Validate(); err != nil {
		return nil, fmt.Errorf("ingestion: %w", err)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}

	return &Pipeline{
		store:     d.Store,
		gate:      stage.NewGate(d.Store, cfg.Owner, cfg.LeaseTTL),
		src:       d.Source,
		renderer:  d.Renderer,
		ocr:       d.OCR,
		captioner: d.Captioner,
		embedder:  d.Embedder,
		text:      d.Text,
		visual:    d.Visual,
		metrics:   d.Metrics,
		cfg:       cfg,
	}, nil
}

// run executes fn for stage s of docID through the gate and records the
// result in rep and the metrics.
func (p *Pipeline) run(ctx context.Context, docID int64, s stage.Stage, force bool, rep *Report, fn stage.Func) error {
	start := time.Now()
	out, err := p.gate.Run(ctx, docID, s, force, fn)
	rep.Skipped = out.Skipped
	p.metrics.observe(rep, err, time.Since(start))
	return err
}
