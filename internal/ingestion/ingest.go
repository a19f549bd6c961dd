package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/54b3r/astrorag-go/internal/extract"
	"github.com/54b3r/astrorag-go/internal/langpolicy"
	"github.com/54b3r/astrorag-go/internal/logging"
	"github.com/54b3r/astrorag-go/internal/stage"
	"github.com/54b3r/astrorag-go/internal/store"
)

// IngestOptions controls one ingest run.
type IngestOptions struct {
	// Force re-ingests the document even when it is up to date.
	Force bool
	// EnableVLM captions extracted figures with the vision model.
	EnableVLM bool
}

// IngestPDF registers the file at path and, unless it is up to date,
// extracts its page text, page renders and figures into the store.
func (p *Pipeline) IngestPDF(ctx context.Context, path string, opts IngestOptions) (*Report, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("ingestion: resolve %s: %w", path, err)
	}
	hash, err := extract.FileHash(abs)
	if err != nil {
		return nil, fmt.Errorf("ingestion: %w", err)
	}
	count, err := p.src.PageCount(abs)
	if err != nil {
		return nil, fmt.Errorf("ingestion: page count of %s: %w", abs, err)
	}

	doc, err := p.store.UpsertDocument(ctx, store.DocumentInput{
		FilePath:    abs,
		FileName:    filepath.Base(abs),
		ContentHash: hash,
		PageCount:   count,
	})
	if err != nil {
		return nil, fmt.Errorf("ingestion: %w", err)
	}

	rep := &Report{DocID: doc.DocID, Path: abs, Stage: stage.Ingest}
	err = p.run(ctx, doc.DocID, stage.Ingest, opts.Force, rep, func(ctx context.Context, d *store.Document) error {
		return p.ingest(ctx, d, abs, opts, rep)
	})
	return rep, err
}

func (p *Pipeline) ingest(ctx context.Context, doc *store.Document, path string, opts IngestOptions, rep *Report) error {
	log := logging.FromContext(ctx).With(slog.Int64("doc_id", doc.DocID), slog.String("stage", string(stage.Ingest)))

	last := doc.PageCount
	if p.cfg.MaxPages > 0 && p.cfg.MaxPages < last {
		last = p.cfg.MaxPages
	}

	texts, err := p.src.OpenText(path)
	if err != nil {
		log.Warn("ingestion: text layer unreadable", slog.String("error", err.Error()))
		rep.fail(KindText, doc.DocID, 0, "", err)
		texts = nil
	} else {
		defer func() { _ = texts.Close() }()
	}
	if p.renderer == nil {
		log.Warn("ingestion: no page renderer configured, pages will have no image")
	}

	pageDir := filepath.Join(p.cfg.DataDir, "pages", fmt.Sprintf("doc_%d", doc.DocID))
	for n := 1; n <= last; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		page := store.Page{DocID: doc.DocID, PageNum: n}

		if texts != nil {
			text, err := texts.PageText(n)
			if err != nil {
				log.Warn("ingestion: page text failed", slog.Int("page", n), slog.String("error", err.Error()))
				rep.fail(KindText, doc.DocID, n, "", err)
			} else {
				page.ExtractedText = text
				rep.ok(KindText, doc.DocID, n, "")
			}
		}

		if p.renderer != nil {
			out := filepath.Join(pageDir, extract.PageImageName(n))
			if err := p.renderer.Render(ctx, path, n, out, p.cfg.RenderDPI); err != nil {
				log.Warn("ingestion: page render failed", slog.Int("page", n), slog.String("error", err.Error()))
				rep.fail(KindRender, doc.DocID, n, "", err)
			} else {
				page.RenderedImagePath = out
				rep.ok(KindRender, doc.DocID, n, "")
			}
		}

		if err := p.store.UpsertPage(ctx, page); err != nil {
			return fmt.Errorf("ingestion: %w", err)
		}
	}
	if err := p.store.TrimPages(ctx, doc.DocID, last); err != nil {
		return fmt.Errorf("ingestion: %w", err)
	}

	kept, complete, err := p.ingestFigures(ctx, doc, path, last, opts, rep)
	if err != nil {
		return err
	}
	switch {
	case !complete:
	case p.cfg.PruneFigures:
		n, err := p.store.PruneFigures(ctx, doc.DocID, kept)
		if err != nil {
			return fmt.Errorf("ingestion: %w", err)
		}
		if n > 0 {
			log.Info("ingestion: pruned stale figures", slog.Int64("removed", n))
		}
	default:
		n, err := p.store.MarkStaleFigures(ctx, doc.DocID, kept)
		if err != nil {
			return fmt.Errorf("ingestion: %w", err)
		}
		if n > 0 {
			log.Info("ingestion: flagged stale figures", slog.Int64("stale", n))
		}
	}

	log.Info("ingestion: document ingested",
		slog.Int("pages", last),
		slog.Int("figures", len(kept)),
		slog.Int("failed_items", rep.Failed()),
	)
	return nil
}

// ingestFigures extracts, stores and describes the embedded images of pages
// 1..last. complete is false when image extraction itself failed, in which
// case kept must not be used to prune.
func (p *Pipeline) ingestFigures(ctx context.Context, doc *store.Document, path string, last int, opts IngestOptions, rep *Report) (kept []string, complete bool, err error) {
	log := logging.FromContext(ctx).With(slog.Int64("doc_id", doc.DocID))

	images, err := p.src.Images(path, last)
	if err != nil {
		log.Warn("ingestion: image extraction failed", slog.String("error", err.Error()))
		rep.fail(KindFigure, doc.DocID, 0, "", err)
		return nil, false, nil
	}

	pageNums := make([]int, 0, len(images))
	for n := range images {
		pageNums = append(pageNums, n)
	}
	sort.Ints(pageNums)

	figDir := filepath.Join(p.cfg.DataDir, "figures", fmt.Sprintf("doc_%d", doc.DocID))
	for _, n := range pageNums {
		for _, im := range images[n] {
			if err := ctx.Err(); err != nil {
				return nil, false, err
			}
			uid := extract.FigureUID(doc.DocID, im)
			stored, err := p.figure(ctx, doc.DocID, im, uid, figDir, opts, rep)
			if err != nil {
				return nil, false, err
			}
			if stored {
				kept = append(kept, uid)
			}
		}
	}
	return kept, true, nil
}

// figure writes one image to disk, runs OCR and captioning on it and stores
// the record. stored is false when the image could not be written.
func (p *Pipeline) figure(ctx context.Context, docID int64, im extract.Image, uid, dir string, opts IngestOptions, rep *Report) (stored bool, err error) {
	log := logging.FromContext(ctx).With(slog.Int64("doc_id", docID), slog.Int("page", im.PageNum), slog.String("figure_uid", uid))

	imgPath := filepath.Join(dir, extract.FigureFileName(uid, im.Ext))
	if err := writeFile(imgPath, im.Data); err != nil {
		log.Warn("ingestion: figure write failed", slog.String("error", err.Error()))
		rep.fail(KindFigure, docID, im.PageNum, uid, err)
		return false, nil
	}

	fig := store.Figure{
		FigureUID: uid,
		FigureID:  im.FigureID(),
		DocID:     docID,
		PageNum:   im.PageNum,
		ImagePath: imgPath,
	}

	if p.ocr != nil {
		text, err := p.ocr.Text(ctx, imgPath)
		if err == nil {
			text, err = langpolicy.Enforce(text)
		}
		if err != nil {
			log.Warn("ingestion: OCR failed", slog.String("error", err.Error()))
			rep.fail(KindOCR, docID, im.PageNum, uid, fmt.Errorf("ocr: %w", err))
		} else {
			fig.OCRText = text
		}
	}

	if opts.EnableVLM && p.captioner != nil {
		res, err := p.captioner.Caption(ctx, imgPath)
		if err != nil {
			log.Warn("ingestion: caption failed", slog.String("error", err.Error()))
			rep.fail(KindCaption, docID, im.PageNum, uid, err)
		} else {
			fig.Caption = res.Caption
			fig.Entities = res.Entities
			fig.Bullets = res.Bullets
		}
	}

	if err := p.store.UpsertFigure(ctx, fig); err != nil {
		return false, fmt.Errorf("ingestion: %w", err)
	}
	rep.ok(KindFigure, docID, im.PageNum, uid)
	return true, nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
