package ingestion

import (
	"github.com/54b3r/astrorag-go/internal/stage"
)

// Item kinds recorded in a Report.
const (
	KindText    = "text"
	KindRender  = "render"
	KindFigure  = "figure"
	KindOCR     = "ocr"
	KindCaption = "caption"
	KindEmbed   = "embed"
	KindPage    = "page"
)

// ItemOutcome is the result of processing one item of a document.
type ItemOutcome struct {
	Kind    string `json:"kind"`
	DocID   int64  `json:"doc_id"`
	PageNum int    `json:"page_num,omitempty"`
	ItemID  string `json:"item_id,omitempty"`
	Err     error  `json:"-"`
}

// Report collects the item outcomes of one stage run on one document.
type Report struct {
	DocID   int64         `json:"doc_id"`
	Path    string        `json:"path,omitempty"`
	Stage   stage.Stage   `json:"stage"`
	Skipped bool          `json:"skipped"`
	Indexed int           `json:"indexed,omitempty"`
	Items   []ItemOutcome `json:"items,omitempty"`
}

// Failed returns the number of failed items.
func (r *Report) Failed() int {
	n := 0
	for _, it := range r.Items {
		if it.Err != nil {
			n++
		}
	}
	return n
}

// Succeeded returns the number of items processed without error.
func (r *Report) Succeeded() int { return len(r.Items) - r.Failed() }

// Failures returns the failed items in the order they were recorded.
func (r *Report) Failures() []ItemOutcome {
	var out []ItemOutcome
	for _, it := range r.Items {
		if it.Err != nil {
			out = append(out, it)
		}
	}
	return out
}

func (r *Report) ok(kind string, docID int64, page int, id string) {
	r.Items = append(r.Items, ItemOutcome{Kind: kind, DocID: docID, PageNum: page, ItemID: id})
}

func (r *Report) fail(kind string, docID int64, page int, id string, err error) {
	r.Items = append(r.Items, ItemOutcome{Kind: kind, DocID: docID, PageNum: page, ItemID: id, Err: err})
}
