// Package rag defines the retrieval side of astrorag: the text and page
// indexes, the embedder they share, and the hybrid retriever that queries
// them and fuses their rankings. Concrete backends (Qdrant, the SQLite FTS
// index) satisfy these interfaces so callers never depend on a specific
// store.
package rag

import (
	"context"

	"github.com/54b3r/astrorag-go/internal/fusion"
	"github.com/54b3r/astrorag-go/internal/store"
)

// TextHit is one chunk returned by a text search.
type TextHit struct {
	ChunkUID string  `json:"chunk_uid"`
	ChunkID  string  `json:"chunk_id"`
	DocID    int64   `json:"doc_id"`
	PageNum  int     `json:"page_num"`
	Score    float64 `json:"score"`
	// Text is the chunk body when the backend stores it; may be empty.
	Text string `json:"text,omitempty"`
}

// PageHit is one page returned by a visual search.
type PageHit struct {
	DocID   int64   `json:"doc_id"`
	PageNum int     `json:"page_num"`
	Score   float64 `json:"score"`
}

// TextPoint is one chunk to be written to a TextIndex.
type TextPoint struct {
	ChunkUID   string
	ChunkID    string
	ChunkIndex int
	DocID      int64
	PageNum    int
	Section    string
	// Offset is the chunk's start offset in the page text.
	Offset int
	Text   string
}

// PagePoint is one page to be written to a VisualIndex.
type PagePoint struct {
	DocID     int64
	PageNum   int
	ImagePath string
	// Descriptor is the text the page is indexed by (figure captions, OCR
	// text, or the page's leading text).
	Descriptor string
}

// Results bundles every ranking produced for one question.
type Results struct {
	// Text is the semantic ranking, best first.
	Text []TextHit `json:"text"`
	// Lexical is the full-text ranking, best first.
	Lexical []TextHit `json:"lexical"`
	// Visual is the page ranking, best first.
	Visual []PageHit `json:"visual"`
	// Fused is the RRF combination of the three.
	Fused []fusion.Result `json:"fused"`
}

// Embedder is the interface for converting text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// TextIndex stores chunk embeddings and answers nearest-neighbour queries.
// Implementations must be safe to call from multiple goroutines.
type TextIndex interface {
	// Upsert writes points with their pre-computed vectors. vecs[i] belongs
	// to points[i].
	Upsert(ctx context.Context, points []TextPoint, vecs [][]float32) error
	// Search returns the k chunks nearest to vec, best first.
	Search(ctx context.Context, vec []float32, k int) ([]TextHit, error)
	// DeleteDoc removes every point of docID.
	DeleteDoc(ctx context.Context, docID int64) error
}

// VisualIndex ranks pages for a question.
// Implementations must be safe to call from multiple goroutines.
type VisualIndex interface {
	// IndexPages replaces the indexed pages of docID with pages and returns
	// how many were written.
	IndexPages(ctx context.Context, docID int64, pages []PagePoint) (int, error)
	// Search returns up to k pages for query, best first. It may return an
	// empty slice when nothing is indexed.
	Search(ctx context.Context, query string, k int) ([]PageHit, error)
}

// LexicalIndex is a keyword search over chunk text.
type LexicalIndex interface {
	SearchChunks(ctx context.Context, query string, k int) ([]store.LexicalHit, error)
}
