// Package evidence turns retrieval results into a bounded, citation
// addressable context package: the text chunks and figures an answer may
// cite, plus the rendered context block handed to the language model.
package evidence

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/54b3r/astrorag-go/internal/fusion"
	"github.com/54b3r/astrorag-go/internal/langpolicy"
	"github.com/54b3r/astrorag-go/internal/rag"
	"github.com/54b3r/astrorag-go/internal/store"
)

const (
	// DefaultMaxTextItems caps the number of distinct chunks in a package.
	DefaultMaxTextItems = 12
	// DefaultMaxPages caps the number of pages figures are drawn from.
	DefaultMaxPages = 8

	// TextHeader opens the text section of a rendered context.
	TextHeader = "TEXT EVIDENCE:"
	// FigureHeader opens the figure section of a rendered context.
	FigureHeader = "FIGURE EVIDENCE:"

	noBullets = "  - (No VLM bullets available.)"
)

// Store is the read side of the metadata store used during assembly.
type Store interface {
	ChunksByUID(ctx context.Context, uids []string) ([]store.TextChunk, error)
	FiguresForPages(ctx context.Context, pages []store.PageRef) ([]store.Figure, error)
}

// TextItem is one chunk in a package.
type TextItem struct {
	ChunkUID    string `json:"chunk_uid"`
	ChunkID     string `json:"chunk_id"`
	DocID       int64  `json:"doc_id"`
	PageNum     int    `json:"page_num"`
	SectionName string `json:"section_name"`
	Text        string `json:"text"`
}

// Citation returns the "[doc:page:chunk_id]" reference of the item.
func (t TextItem) Citation() string {
	return cite(t.DocID, t.PageNum, t.ChunkID)
}

// FigureItem is one figure in a package.
type FigureItem struct {
	FigureUID string   `json:"figure_uid"`
	FigureID  string   `json:"figure_id"`
	DocID     int64    `json:"doc_id"`
	PageNum   int      `json:"page_num"`
	ImagePath string   `json:"image_path"`
	OCRText   string   `json:"ocr_text"`
	Caption   string   `json:"vlm_caption"`
	Entities  []string `json:"vlm_entities"`
	Bullets   []string `json:"vlm_bullets"`
}

// Citation returns the "[doc:page:figure_id]" reference of the item.
func (f FigureItem) Citation() string {
	return cite(f.DocID, f.PageNum, f.FigureID)
}

// Package is the assembled evidence for one question.
type Package struct {
	TextItems   []TextItem   `json:"text_items"`
	FigureItems []FigureItem `json:"figure_items"`
	// Context is the rendered block given to the answer model.
	Context string `json:"context_text"`
}

// Assembler selects and renders evidence from retrieval results.
type Assembler struct {
	store        Store
	maxTextItems int
	maxPages     int
}

// NewAssembler returns an Assembler. Non-positive limits use the defaults.
func NewAssembler(s Store, maxTextItems, maxPages int) *Assembler {
	if maxTextItems <= 0 {
		maxTextItems = DefaultMaxTextItems
	}
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	return &Assembler{store: s, maxTextItems: maxTextItems, maxPages: maxPages}
}

// Assemble builds the evidence package for res.
//
// The fused ranking is walked in order: text results add their chunk uid
// (until the text cap is reached) and their page; visual results add their
// page (until the page cap is reached). If the fused ranking yields no chunk
// at all, the raw semantic ranking is used instead. Figures are drawn from
// the lowest (doc, page) pairs up to the page cap. Every artifact is checked
// against the language policy; a violation fails the whole package.
func (a *Assembler) Assemble(ctx context.Context, res *rag.Results) (*Package, error) {
	if res == nil {
		res = &rag.Results{}
	}
	uids, pages := a.selectKeys(res)

	chunks, err := a.store.ChunksByUID(ctx, uids)
	if err != nil {
		return nil, fmt.Errorf("evidence: fetch chunks: %w", err)
	}
	figures, err := a.store.FiguresForPages(ctx, pages)
	if err != nil {
		return nil, fmt.Errorf("evidence: fetch figures: %w", err)
	}

	pkg := &Package{
		TextItems:   make([]TextItem, 0, len(chunks)),
		FigureItems: make([]FigureItem, 0, len(figures)),
	}
	for _, c := range chunks {
		if err := langpolicy.Check(c.Text); err != nil {
			return nil, fmt.Errorf("evidence: chunk %s: %w", c.ChunkUID, err)
		}
		pkg.TextItems = append(pkg.TextItems, TextItem{
			ChunkUID:    c.ChunkUID,
			ChunkID:     c.ChunkID,
			DocID:       c.DocID,
			PageNum:     c.PageNum,
			SectionName: c.SectionName,
			Text:        c.Text,
		})
	}
	for _, f := range figures {
		item, err := figureItem(f)
		if err != nil {
			return nil, fmt.Errorf("evidence: figure %s: %w", f.FigureUID, err)
		}
		pkg.FigureItems = append(pkg.FigureItems, item)
	}

	pkg.Context = Render(pkg.TextItems, pkg.FigureItems)
	if err := langpolicy.Check(pkg.Context); err != nil {
		return nil, fmt.Errorf("evidence: context: %w", err)
	}
	return pkg, nil
}

// selectKeys picks the chunk uids (in rank order) and the sorted, capped
// page list that the package is built from.
func (a *Assembler) selectKeys(res *rag.Results) ([]string, []store.PageRef) {
	var uids []string
	seenUID := make(map[string]bool)
	pageSet := make(map[store.PageRef]bool)

	addPage := func(p fusion.Payload) {
		if p.HasPage() {
			pageSet[store.PageRef{DocID: p.DocID, PageNum: p.PageNum}] = true
		}
	}

	for _, r := range res.Fused {
		switch {
		case r.Source == fusion.SourceText && len(uids) < a.maxTextItems:
			uid := r.Payload.ChunkUID
			if uid == "" {
				uid = r.Key
			}
			if uid != "" && !seenUID[uid] {
				seenUID[uid] = true
				uids = append(uids, uid)
			}
			addPage(r.Payload)
		case r.Source == fusion.SourceVisual && len(pageSet) < a.maxPages:
			addPage(r.Payload)
		}
	}

	if len(uids) == 0 {
		for _, h := range res.Text[:min(len(res.Text), a.maxTextItems)] {
			uids = append(uids, h.ChunkUID)
			addPage(fusion.Payload{DocID: h.DocID, PageNum: h.PageNum})
		}
	}

	pages := make([]store.PageRef, 0, len(pageSet))
	for p := range pageSet {
		pages = append(pages, p)
	}
	sort.Slice(pages, func(i, j int) bool {
		if pages[i].DocID != pages[j].DocID {
			return pages[i].DocID < pages[j].DocID
		}
		return pages[i].PageNum < pages[j].PageNum
	})
	if len(pages) > a.maxPages {
		pages = pages[:a.maxPages]
	}
	return uids, pages
}

func figureItem(f store.Figure) (FigureItem, error) {
	for _, s := range []string{f.OCRText, f.Caption} {
		if err := langpolicy.Check(s); err != nil {
			return FigureItem{}, err
		}
	}
	entities, err := langpolicy.EnforceAll(f.Entities)
	if err != nil {
		return FigureItem{}, err
	}
	bullets, err := langpolicy.EnforceAll(f.Bullets)
	if err != nil {
		return FigureItem{}, err
	}
	return FigureItem{
		FigureUID: f.FigureUID,
		FigureID:  f.FigureID,
		DocID:     f.DocID,
		PageNum:   f.PageNum,
		ImagePath: f.ImagePath,
		OCRText:   f.OCRText,
		Caption:   f.Caption,
		Entities:  entities,
		Bullets:   bullets,
	}, nil
}

// Render produces the context block:
//
//	TEXT EVIDENCE:
//	- [doc:page:chunk_id] text
//	...
//
//	FIGURE EVIDENCE:
//	- [doc:page:figure_id] caption: ...
//	  OCR: ...
//	  - bullet
//
// The output always ends with a newline.
func Render(text []TextItem, figures []FigureItem) string {
	lines := make([]string, len(text))
	for i, t := range text {
		lines[i] = RenderText(t)
	}
	blocks := make([]string, len(figures))
	for i, f := range figures {
		blocks[i] = RenderFigure(f)
	}

	var b strings.Builder
	b.WriteString(TextHeader)
	b.WriteByte('\n')
	b.WriteString(strings.Join(lines, "\n"))
	b.WriteString("\n\n")
	b.WriteString(FigureHeader)
	b.WriteByte('\n')
	b.WriteString(strings.Join(blocks, "\n"))
	b.WriteByte('\n')
	return b.String()
}

// RenderText formats one text evidence line.
func RenderText(t TextItem) string {
	return "- " + t.Citation() + " " + t.Text
}

// RenderFigure formats one figure evidence block.
func RenderFigure(f FigureItem) string {
	bullets := noBullets
	if len(f.Bullets) > 0 {
		parts := make([]string, len(f.Bullets))
		for i, s := range f.Bullets {
			parts[i] = "  - " + s
		}
		bullets = strings.Join(parts, "\n")
	}
	return "- " + f.Citation() + " caption: " + f.Caption + "\n" +
		"  OCR: " + f.OCRText + "\n" +
		bullets
}

func cite(docID int64, pageNum int, id string) string {
	return "[" + strconv.FormatInt(docID, 10) + ":" + strconv.Itoa(pageNum) + ":" + id + "]"
}
