package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// BBox is a figure's bounding box in page coordinates.
type BBox struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

// Figure is an image extracted from a page plus its OCR and caption output.
type Figure struct {
	FigureUID string   `json:"figure_uid"`
	FigureID  string   `json:"figure_id"`
	DocID     int64    `json:"doc_id"`
	PageNum   int      `json:"page_num"`
	ImagePath string   `json:"image_path"`
	BBox      *BBox    `json:"bbox,omitempty"`
	OCRText   string   `json:"ocr_text,omitempty"`
	Caption   string   `json:"caption,omitempty"`
	Entities  []string `json:"entities,omitempty"`
	Bullets   []string `json:"bullets,omitempty"`
	// Stale is set when the latest complete ingest of the document did not
	// reproduce this figure.
	Stale bool `json:"stale,omitempty"`
}

// PageRef names one page of one document.
type PageRef struct {
	DocID   int64
	PageNum int
}

// UpsertFigure inserts or updates the figure keyed by FigureUID. created_at
// is preserved on update and the figure is no longer stale.
func (s *SQLiteStore) UpsertFigure(ctx context.Context, f Figure) error {
	entities, err := json.Marshal(nonNil(f.Entities))
	if err != nil {
		return fmt.Errorf("store: encode entities of %s: %w", f.FigureUID, err)
	}
	bullets, err := json.Marshal(nonNil(f.Bullets))
	if err != nil {
		return fmt.Errorf("store: encode bullets of %s: %w", f.FigureUID, err)
	}

	var x0, y0, x1, y1 sql.NullFloat64
	if f.BBox != nil {
		x0 = sql.NullFloat64{Float64: f.BBox.X0, Valid: true}
		y0 = sql.NullFloat64{Float64: f.BBox.Y0, Valid: true}
		x1 = sql.NullFloat64{Float64: f.BBox.X1, Valid: true}
		y1 = sql.NullFloat64{Float64: f.BBox.Y1, Valid: true}
	}

	now := millis(s.now())
	_, err = s.db.ExecContext(ctx, `
INSERT INTO figures (figure_uid, figure_id, doc_id, page_num, image_path,
    bbox_x0, bbox_y0, bbox_x1, bbox_y1, ocr_text, caption, entities_json, bullets_json,
    created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(figure_uid) DO UPDATE SET
    figure_id     = excluded.figure_id,
    image_path    = excluded.image_path,
    bbox_x0       = excluded.bbox_x0,
    bbox_y0       = excluded.bbox_y0,
    bbox_x1       = excluded.bbox_x1,
    bbox_y1       = excluded.bbox_y1,
    ocr_text      = excluded.ocr_text,
    caption       = excluded.caption,
    entities_json = excluded.entities_json,
    bullets_json  = excluded.bullets_json,
    stale         = 0,
    updated_at    = excluded.updated_at`,
		f.FigureUID, f.FigureID, f.DocID, f.PageNum, f.ImagePath,
		x0, y0, x1, y1, f.OCRText, f.Caption, string(entities), string(bullets),
		now, now,
	)
	if err != nil {
		return fmt.Errorf("store: upsert figure %s: %w", f.FigureUID, err)
	}
	return nil
}

// FiguresForPages returns the non-stale figures on any of pages ordered by
// document, page and figure uid.
func (s *SQLiteStore) FiguresForPages(ctx context.Context, pages []PageRef) ([]Figure, error) {
	if len(pages) == 0 {
		return nil, nil
	}
	conds := make([]string, len(pages))
	args := make([]any, 0, 2*len(pages))
	for i, p := range pages {
		conds[i] = "(doc_id = ? AND page_num = ?)"
		args = append(args, p.DocID, p.PageNum)
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT figure_uid, figure_id, doc_id, page_num, image_path,
    bbox_x0, bbox_y0, bbox_x1, bbox_y1, ocr_text, caption, entities_json, bullets_json, stale
FROM figures WHERE stale = 0 AND (`+strings.Join(conds, " OR ")+`)
ORDER BY doc_id, page_num, figure_uid`, args...)
	if err != nil {
		return nil, fmt.Errorf("store: figures for pages: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanFigures(rows)
}

// Figures returns every figure of docID, stale ones included, ordered by
// page and figure uid.
func (s *SQLiteStore) Figures(ctx context.Context, docID int64) ([]Figure, error) {
	return s.figuresOf(ctx, docID, "")
}

// CurrentFigures returns the non-stale figures of docID ordered by page and
// figure uid.
func (s *SQLiteStore) CurrentFigures(ctx context.Context, docID int64) ([]Figure, error) {
	return s.figuresOf(ctx, docID, " AND stale = 0")
}

func (s *SQLiteStore) figuresOf(ctx context.Context, docID int64, filter string) ([]Figure, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT figure_uid, figure_id, doc_id, page_num, image_path,
    bbox_x0, bbox_y0, bbox_x1, bbox_y1, ocr_text, caption, entities_json, bullets_json, stale
FROM figures WHERE doc_id = ?`+filter+` ORDER BY page_num, figure_uid`, docID)
	if err != nil {
		return nil, fmt.Errorf("store: figures of doc %d: %w", docID, err)
	}
	defer func() { _ = rows.Close() }()
	return scanFigures(rows)
}

// PruneFigures deletes the figures of docID whose uid is not in keep and
// returns how many were removed.
func (s *SQLiteStore) PruneFigures(ctx context.Context, docID int64, keep []string) (int64, error) {
	n, err := s.execExcept(ctx, `DELETE FROM figures WHERE doc_id = ?`, docID, keep)
	if err != nil {
		return 0, fmt.Errorf("store: prune figures of doc %d: %w", docID, err)
	}
	return n, nil
}

// MarkStaleFigures flags the figures of docID whose uid is not in keep as
// stale and returns how many were newly flagged. The rows stay readable
// through Figures.
func (s *SQLiteStore) MarkStaleFigures(ctx context.Context, docID int64, keep []string) (int64, error) {
	n, err := s.execExcept(ctx, `UPDATE figures SET stale = 1 WHERE doc_id = ? AND stale = 0`, docID, keep)
	if err != nil {
		return 0, fmt.Errorf("store: mark stale figures of doc %d: %w", docID, err)
	}
	return n, nil
}

// execExcept runs q, which filters on doc_id, restricted to figures whose
// uid is not in keep, and returns the affected row count.
func (s *SQLiteStore) execExcept(ctx context.Context, q string, docID int64, keep []string) (int64, error) {
	args := []any{docID}
	if len(keep) > 0 {
		q += ` AND figure_uid NOT IN (` + strings.TrimSuffix(strings.Repeat("?,", len(keep)), ",") + `)`
		for _, k := range keep {
			args = append(args, k)
		}
	}
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanFigures(rows *sql.Rows) ([]Figure, error) {
	var out []Figure
	for rows.Next() {
		var (
			f                 Figure
			x0, y0, x1, y1    sql.NullFloat64
			entities, bullets string
			stale             int
		)
		if err := rows.Scan(&f.FigureUID, &f.FigureID, &f.DocID, &f.PageNum, &f.ImagePath,
			&x0, &y0, &x1, &y1, &f.OCRText, &f.Caption, &entities, &bullets, &stale); err != nil {
			return nil, fmt.Errorf("store: scan figure: %w", err)
		}
		if x0.Valid && y0.Valid && x1.Valid && y1.Valid {
			f.BBox = &BBox{X0: x0.Float64, Y0: y0.Float64, X1: x1.Float64, Y1: y1.Float64}
		}
		if err := json.Unmarshal([]byte(entities), &f.Entities); err != nil {
			return nil, fmt.Errorf("store: decode entities of %s: %w", f.FigureUID, err)
		}
		if err := json.Unmarshal([]byte(bullets), &f.Bullets); err != nil {
			return nil, fmt.Errorf("store: decode bullets of %s: %w", f.FigureUID, err)
		}
		f.Stale = stale != 0
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: scan figures: %w", err)
	}
	return out, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
