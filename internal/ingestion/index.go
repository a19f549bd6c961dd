package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/54b3r/astrorag-go/internal/chunking"
	"github.com/54b3r/astrorag-go/internal/logging"
	"github.com/54b3r/astrorag-go/internal/rag"
	"github.com/54b3r/astrorag-go/internal/stage"
	"github.com/54b3r/astrorag-go/internal/store"
)

const (
	// leadingTextRunes is how much page text stands in for a page without
	// figures in its visual descriptor.
	leadingTextRunes = 1000
	// maxDescriptorRunes bounds the text a page is indexed by.
	maxDescriptorRunes = 4000
)

// IndexText chunks every ingested page of docID, stores the chunks and
// writes their embeddings to the text index. The document's previous points
// are removed first.
func (p *Pipeline) IndexText(ctx context.Context, docID int64, force bool) (*Report, error) {
	rep := &Report{DocID: docID, Stage: stage.TextIndex}
	err := p.run(ctx, docID, stage.TextIndex, force, rep, func(ctx context.Context, doc *store.Document) error {
		return p.indexText(ctx, doc, rep)
	})
	return rep, err
}

func (p *Pipeline) indexText(ctx context.Context, doc *store.Document, rep *Report) error {
	log := logging.FromContext(ctx).With(slog.Int64("doc_id", doc.DocID), slog.String("stage", string(stage.TextIndex)))
	rep.Path = doc.FilePath

	pages, err := p.store.Pages(ctx, doc.DocID)
	if err != nil {
		return fmt.Errorf("ingestion: %w", err)
	}
	if err := p.text.DeleteDoc(ctx, doc.DocID); err != nil {
		return fmt.Errorf("ingestion: clear text points of doc %d: %w", doc.DocID, err)
	}

	for _, pg := range pages {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunks, err := chunking.Split(doc.DocID, pg.PageNum, pg.ExtractedText, p.cfg.Chunking)
		if err != nil {
			return fmt.Errorf("ingestion: %w", err)
		}

		rows := make([]store.TextChunk, len(chunks))
		points := make([]rag.TextPoint, len(chunks))
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			rows[i] = store.TextChunk{
				ChunkUID:    c.UID,
				ChunkID:     c.ID,
				ChunkIndex:  c.Index,
				DocID:       doc.DocID,
				PageNum:     pg.PageNum,
				SectionName: c.Section,
				Text:        c.Text,
				OffsetStart: c.Start,
				OffsetEnd:   c.End,
			}
			points[i] = rag.TextPoint{
				ChunkUID:   c.UID,
				ChunkID:    c.ID,
				ChunkIndex: c.Index,
				DocID:      doc.DocID,
				PageNum:    pg.PageNum,
				Section:    c.Section,
				Offset:     c.Start,
				Text:       c.Text,
			}
			texts[i] = c.Text
		}

		if err := p.store.ReplaceChunks(ctx, doc.DocID, pg.PageNum, rows); err != nil {
			return fmt.Errorf("ingestion: %w", err)
		}
		if len(chunks) == 0 {
			continue
		}

		vecs, err := p.embedder.Embed(ctx, texts)
		if err == nil && len(vecs) != len(points) {
			err = fmt.Errorf("embedder returned %d vectors for %d chunks", len(vecs), len(points))
		}
		if err == nil {
			err = p.text.Upsert(ctx, points, vecs)
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("ingestion: page embedding failed", slog.Int("page", pg.PageNum), slog.String("error", err.Error()))
			rep.fail(KindEmbed, doc.DocID, pg.PageNum, "", err)
			continue
		}
		rep.ok(KindEmbed, doc.DocID, pg.PageNum, "")
		rep.Indexed += len(points)
	}

	log.Info("ingestion: text indexed",
		slog.Int("pages", len(pages)),
		slog.Int("chunks", rep.Indexed),
		slog.Int("failed_pages", rep.Failed()),
	)
	return nil
}

// IndexVisual rebuilds the page index entries of docID from the rendered
// pages and their figure descriptions.
func (p *Pipeline) IndexVisual(ctx context.Context, docID int64, force bool) (*Report, error) {
	rep := &Report{DocID: docID, Stage: stage.VisualIndex}
	err := p.run(ctx, docID, stage.VisualIndex, force, rep, func(ctx context.Context, doc *store.Document) error {
		return p.indexVisual(ctx, doc, rep)
	})
	return rep, err
}

func (p *Pipeline) indexVisual(ctx context.Context, doc *store.Document, rep *Report) error {
	log := logging.FromContext(ctx).With(slog.Int64("doc_id", doc.DocID), slog.String("stage", string(stage.VisualIndex)))
	rep.Path = doc.FilePath

	pages, err := p.store.Pages(ctx, doc.DocID)
	if err != nil {
		return fmt.Errorf("ingestion: %w", err)
	}
	figs, err := p.store.CurrentFigures(ctx, doc.DocID)
	if err != nil {
		return fmt.Errorf("ingestion: %w", err)
	}
	byPage := make(map[int][]store.Figure)
	for _, f := range figs {
		byPage[f.PageNum] = append(byPage[f.PageNum], f)
	}

	points := make([]rag.PagePoint, 0, len(pages))
	for _, pg := range pages {
		if pg.RenderedImagePath == "" {
			continue
		}
		points = append(points, rag.PagePoint{
			DocID:      doc.DocID,
			PageNum:    pg.PageNum,
			ImagePath:  pg.RenderedImagePath,
			Descriptor: Descriptor(pg, byPage[pg.PageNum]),
		})
	}

	n, err := p.visual.IndexPages(ctx, doc.DocID, points)
	if err != nil {
		return fmt.Errorf("ingestion: index pages of doc %d: %w", doc.DocID, err)
	}
	for _, pt := range points {
		rep.ok(KindPage, doc.DocID, pt.PageNum, "")
	}
	rep.Indexed = n

	log.Info("ingestion: visual indexed", slog.Int("rendered_pages", len(points)), slog.Int("indexed", n))
	return nil
}

// Descriptor builds the text a page is indexed by in the visual index: the
// captions, bullets, entities and OCR text of its figures, or the page's
// leading text when it has no described figure.
func Descriptor(page store.Page, figs []store.Figure) string {
	var parts []string
	for _, f := range figs {
		if f.Caption != "" {
			parts = append(parts, f.Caption)
		}
		parts = append(parts, f.Bullets...)
		if len(f.Entities) > 0 {
			parts = append(parts, strings.Join(f.Entities, ", "))
		}
		if ocr := strings.TrimSpace(f.OCRText); ocr != "" {
			parts = append(parts, ocr)
		}
	}
	if len(parts) == 0 {
		return truncate(strings.TrimSpace(page.ExtractedText), leadingTextRunes)
	}
	return truncate(strings.Join(parts, "\n"), maxDescriptorRunes)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n]))
}
