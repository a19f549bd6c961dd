// Package fusion merges independently ranked candidate lists into a single
// ranking using weighted Reciprocal Rank Fusion (RRF).
//
// RRF only looks at rank positions, never at raw similarity scores, so lists
// produced by backends with incomparable score scales (cosine similarity,
// BM25, visual late-interaction scores) can be combined without calibration.
package fusion

import (
	"sort"
	"strconv"
)

// DefaultK is the RRF smoothing constant used when none is configured.
const DefaultK = 60

// Source tags which modality produced a fused result.
type Source string

const (
	// SourceText marks results that came from a text ranking (semantic or lexical).
	SourceText Source = "text"
	// SourceVisual marks results that came from the page-level visual ranking.
	SourceVisual Source = "visual"
)

// Payload is the metadata carried alongside a ranked key.
type Payload struct {
	// ChunkUID is set for text candidates.
	ChunkUID string `json:"chunk_uid,omitempty"`
	// ChunkID is the page-local chunk id ("c3") for text candidates.
	ChunkID string `json:"chunk_id,omitempty"`
	// DocID is the document the candidate belongs to. Zero means unknown.
	DocID int64 `json:"doc_id,omitempty"`
	// PageNum is the 1-based page the candidate belongs to. Zero means unknown.
	PageNum int `json:"page_num,omitempty"`
}

// HasPage reports whether the payload names a concrete (doc, page) pair.
func (p Payload) HasPage() bool { return p.DocID > 0 && p.PageNum > 0 }

// Candidate is one element of a ranked list. Rank is implied by position.
type Candidate struct {
	Key     string
	Payload Payload
}

// List is one ranked input to Fuse.
type List struct {
	// Source is recorded on results whose key first appears in this list.
	Source Source
	// Weight scales every contribution from this list.
	Weight float64
	// Items is ordered best-first.
	Items []Candidate
}

// Result is one entry of the fused ranking.
type Result struct {
	Key     string  `json:"key"`
	Score   float64 `json:"score"`
	Source  Source  `json:"source"`
	Payload Payload `json:"payload"`
}

// Fuse computes the weighted RRF ranking of lists.
//
// An item at 1-based rank i in a list of weight w contributes w/(k+i). Scores
// are summed per key across lists. The first list (in argument order) that
// contains a key fixes that key's Source and Payload. Results are sorted by
// descending score with ties kept in first-seen order, then truncated to topK
// (topK <= 0 keeps everything). A key repeated inside one list contributes
// once per occurrence.
func Fuse(lists []List, k int, topK int) []Result {
	type entry struct {
		res   Result
		order int
	}

	byKey := make(map[string]*entry)
	var order []string

	for _, l := range lists {
		for i, c := range l.Items {
			contrib := l.Weight / float64(k+i+1)
			e, ok := byKey[c.Key]
			if !ok {
				e = &entry{
					res:   Result{Key: c.Key, Source: l.Source, Payload: c.Payload},
					order: len(order),
				}
				byKey[c.Key] = e
				order = append(order, c.Key)
			}
			e.res.Score += contrib
		}
	}

	out := make([]Result, 0, len(order))
	for _, key := range order {
		out = append(out, byKey[key].res)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })

	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}

// PageKey formats the fusion key of a visual page candidate.
func PageKey(docID int64, pageNum int) string {
	return "page:" + strconv.FormatInt(docID, 10) + ":" + strconv.Itoa(pageNum)
}
