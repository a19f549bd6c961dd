package rag

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	"github.com/54b3r/astrorag-go/internal/fusion"
)

// QdrantPageIndex implements VisualIndex by embedding a textual descriptor
// of every rendered page (its figure captions and OCR text) into a separate
// Qdrant collection. Questions are embedded with the same model and matched
// against those descriptors.
type QdrantPageIndex struct {
	col      collection
	embedder Embedder
}

// NewQdrantPageIndex ensures the page collection exists and returns an index
// over it.
func NewQdrantPageIndex(ctx context.Context, client *qdrant.Client, name string, vectorSize uint64, embedder Embedder) (*QdrantPageIndex, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: page index embedder must not be nil")
	}
	idx := &QdrantPageIndex{
		col:      collection{client: client, name: name, size: vectorSize},
		embedder: embedder,
	}
	if err := idx.col.ensure(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}

// IndexPages deletes the previous page points of docID and writes pages.
// Pages with an empty descriptor are skipped.
func (x *QdrantPageIndex) IndexPages(ctx context.Context, docID int64, pages []PagePoint) (int, error) {
	if err := x.col.deleteDoc(ctx, docID); err != nil {
		return 0, err
	}

	var (
		keep  []PagePoint
		texts []string
	)
	for _, p := range pages {
		if p.DocID != docID {
			return 0, fmt.Errorf("rag: page %d:%d does not belong to doc %d", p.DocID, p.PageNum, docID)
		}
		if p.Descriptor == "" {
			continue
		}
		keep = append(keep, p)
		texts = append(texts, p.Descriptor)
	}
	if len(keep) == 0 {
		return 0, nil
	}

	vecs, err := x.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("rag: embed page descriptors of doc %d: %w", docID, err)
	}
	if len(vecs) != len(keep) {
		return 0, fmt.Errorf("rag: embedder returned %d vectors for %d pages", len(vecs), len(keep))
	}

	points := make([]*qdrant.PointStruct, 0, len(keep))
	for i, p := range keep {
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID(fusion.PageKey(p.DocID, p.PageNum))),
			Vectors: qdrant.NewVectors(vecs[i]...),
			Payload: qdrant.NewValueMap(map[string]any{
				"doc_id":     p.DocID,
				"page_num":   int64(p.PageNum),
				"image_path": p.ImagePath,
			}),
		})
	}
	if err := x.col.upsert(ctx, points); err != nil {
		return 0, err
	}
	return len(points), nil
}

// Search embeds query and returns the k best matching pages.
func (x *QdrantPageIndex) Search(ctx context.Context, query string, k int) ([]PageHit, error) {
	vecs, err := x.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("rag: embed visual query: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("rag: embedder returned empty result for query")
	}

	results, err := x.col.query(ctx, vecs[0], k)
	if err != nil {
		return nil, err
	}
	hits := make([]PageHit, 0, len(results))
	for _, r := range results {
		p := r.GetPayload()
		hits = append(hits, PageHit{
			DocID:   p["doc_id"].GetIntegerValue(),
			PageNum: int(p["page_num"].GetIntegerValue()),
			Score:   float64(r.GetScore()),
		})
	}
	return hits, nil
}

// NoopVisualIndex is used when no page index is configured. It indexes
// nothing and always returns an empty ranking.
type NoopVisualIndex struct{}

// IndexPages reports zero pages written.
func (NoopVisualIndex) IndexPages(context.Context, int64, []PagePoint) (int, error) { return 0, nil }

// Search returns no pages.
func (NoopVisualIndex) Search(context.Context, string, int) ([]PageHit, error) { return nil, nil }
