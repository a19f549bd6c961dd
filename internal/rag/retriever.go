package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/54b3r/astrorag-go/internal/fusion"
	"github.com/54b3r/astrorag-go/internal/logging"
)

// RetrieverConfig holds the list depths and fusion weights of a
// HybridRetriever. A non-positive TextTopK or RRFK falls back to
// DefaultRetrieverConfig; a zero LexicalTopK or VisualTopK disables that
// ranking. Weights are used as given.
type RetrieverConfig struct {
	TextTopK    int
	LexicalTopK int
	VisualTopK  int

	// RRFK is the fusion smoothing constant.
	RRFK int

	TextWeight    float64
	LexicalWeight float64
	VisualWeight  float64
}

// DefaultRetrieverConfig returns the depths and weights used when none are
// configured.
func DefaultRetrieverConfig() RetrieverConfig {
	return RetrieverConfig{
		TextTopK:      12,
		LexicalTopK:   12,
		VisualTopK:    6,
		RRFK:          fusion.DefaultK,
		TextWeight:    1.0,
		LexicalWeight: 0.5,
		VisualWeight:  0.8,
	}
}

func (c RetrieverConfig) withDefaults() RetrieverConfig {
	d := DefaultRetrieverConfig()
	if c.TextTopK <= 0 {
		c.TextTopK = d.TextTopK
	}
	if c.LexicalTopK < 0 {
		c.LexicalTopK = 0
	}
	if c.VisualTopK < 0 {
		c.VisualTopK = 0
	}
	if c.RRFK <= 0 {
		c.RRFK = d.RRFK
	}
	return c
}

// fusedTopK is the length of the fused ranking.
func (c RetrieverConfig) fusedTopK() int {
	return max(c.TextTopK, c.LexicalTopK, c.VisualTopK)
}

// HybridRetriever runs semantic, lexical and visual searches concurrently
// and fuses them with weighted RRF. Lists are fused in the order semantic,
// lexical, visual, so a chunk found by both text searches keeps the
// semantic payload.
type HybridRetriever struct {
	embedder Embedder
	text     TextIndex
	lexical  LexicalIndex
	visual   VisualIndex
	cfg      RetrieverConfig
}

// NewHybridRetriever constructs a HybridRetriever. embedder and text are
// required; lexical and visual may be nil to disable those rankings.
func NewHybridRetriever(embedder Embedder, text TextIndex, lexical LexicalIndex, visual VisualIndex, cfg RetrieverConfig) (*HybridRetriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if text == nil {
		return nil, fmt.Errorf("rag: text index must not be nil")
	}
	return &HybridRetriever{
		embedder: embedder,
		text:     text,
		lexical:  lexical,
		visual:   visual,
		cfg:      cfg.withDefaults(),
	}, nil
}

// ErrAllRankingsFailed is returned by Retrieve when every enabled ranking
// failed. It wraps the individual failures.
var ErrAllRankingsFailed = errors.New("rag: every retrieval ranking failed")

// Retrieve returns every ranking for question. A failing ranking (embedder
// or vector search, lexical index, visual index) is logged and left empty so
// the others still fuse; only when all enabled rankings fail is an error
// returned.
func (r *HybridRetriever) Retrieve(ctx context.Context, question string) (*Results, error) {
	log := logging.FromContext(ctx)
	res := &Results{}

	useLexical := r.lexical != nil && r.cfg.LexicalTopK > 0
	useVisual := r.visual != nil && r.cfg.VisualTopK > 0
	var semErr, lexErr, visErr error

	var g errgroup.Group

	g.Go(func() error {
		res.Text, semErr = r.semantic(ctx, question)
		if semErr != nil {
			log.Warn("rag: semantic retrieval failed, continuing without it", slog.String("error", semErr.Error()))
		}
		return nil
	})

	if useLexical {
		g.Go(func() error {
			hits, err := r.lexical.SearchChunks(ctx, question, r.cfg.LexicalTopK)
			if err != nil {
				lexErr = fmt.Errorf("rag: lexical search failed: %w", err)
				log.Warn("rag: lexical retrieval failed, continuing without it", slog.String("error", err.Error()))
				return nil
			}
			res.Lexical = make([]TextHit, 0, len(hits))
			for _, h := range hits {
				res.Lexical = append(res.Lexical, TextHit{
					ChunkUID: h.ChunkUID, ChunkID: h.ChunkID, DocID: h.DocID, PageNum: h.PageNum, Score: h.Score,
				})
			}
			return nil
		})
	}

	if useVisual {
		g.Go(func() error {
			pages, err := r.visual.Search(ctx, question, r.cfg.VisualTopK)
			if err != nil {
				visErr = fmt.Errorf("rag: visual search failed: %w", err)
				log.Warn("rag: visual retrieval failed, continuing with text-only retrieval", slog.String("error", err.Error()))
				return nil
			}
			res.Visual = pages
			return nil
		})
	}

	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if semErr != nil && (!useLexical || lexErr != nil) && (!useVisual || visErr != nil) {
		return nil, fmt.Errorf("%w: %w", ErrAllRankingsFailed, errors.Join(semErr, lexErr, visErr))
	}

	res.Fused = fusion.Fuse([]fusion.List{
		textList(fusion.SourceText, r.cfg.TextWeight, res.Text),
		textList(fusion.SourceText, r.cfg.LexicalWeight, res.Lexical),
		pageList(r.cfg.VisualWeight, res.Visual),
	}, r.cfg.RRFK, r.cfg.fusedTopK())

	log.Debug("rag: retrieved",
		slog.Int("semantic", len(res.Text)),
		slog.Int("lexical", len(res.Lexical)),
		slog.Int("visual", len(res.Visual)),
		slog.Int("fused", len(res.Fused)),
	)
	return res, nil
}

// semantic embeds the question and searches the text index.
func (r *HybridRetriever) semantic(ctx context.Context, question string) ([]TextHit, error) {
	embeddings, err := r.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("rag: embedding query failed: %w", err)
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("rag: embedder returned empty result for query")
	}
	hits, err := r.text.Search(ctx, embeddings[0], r.cfg.TextTopK)
	if err != nil {
		return nil, fmt.Errorf("rag: vector search failed: %w", err)
	}
	return hits, nil
}

func textList(src fusion.Source, weight float64, hits []TextHit) fusion.List {
	items := make([]fusion.Candidate, 0, len(hits))
	for _, h := range hits {
		items = append(items, fusion.Candidate{
			Key: h.ChunkUID,
			Payload: fusion.Payload{
				ChunkUID: h.ChunkUID,
				ChunkID:  h.ChunkID,
				DocID:    h.DocID,
				PageNum:  h.PageNum,
			},
		})
	}
	return fusion.List{Source: src, Weight: weight, Items: items}
}

func pageList(weight float64, pages []PageHit) fusion.List {
	items := make([]fusion.Candidate, 0, len(pages))
	for _, p := range pages {
		items = append(items, fusion.Candidate{
			Key:     fusion.PageKey(p.DocID, p.PageNum),
			Payload: fusion.Payload{DocID: p.DocID, PageNum: p.PageNum},
		})
	}
	return fusion.List{Source: fusion.SourceVisual, Weight: weight, Items: items}
}
