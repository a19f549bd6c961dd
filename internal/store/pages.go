package store

import (
	"context"
	"fmt"
)

// Page is the per-page ingest output of a document.
type Page struct {
	DocID             int64  `json:"doc_id"`
	PageNum           int    `json:"page_num"`
	ExtractedText     string `json:"extracted_text"`
	RenderedImagePath string `json:"rendered_image_path"`
}

// UpsertPage writes or replaces the record for (DocID, PageNum).
func (s *SQLiteStore) UpsertPage(ctx context.Context, p Page) error {
	if p.PageNum < 1 {
		return fmt.Errorf("store: upsert page: page_num must be >= 1, got %d", p.PageNum)
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO pages (doc_id, page_num, extracted_text, rendered_image_path, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(doc_id, page_num) DO UPDATE SET
    extracted_text      = excluded.extracted_text,
    rendered_image_path = excluded.rendered_image_path,
    updated_at          = excluded.updated_at`,
		p.DocID, p.PageNum, p.ExtractedText, p.RenderedImagePath, millis(s.now()),
	)
	if err != nil {
		return fmt.Errorf("store: upsert page %d:%d: %w", p.DocID, p.PageNum, err)
	}
	return nil
}

// Pages returns every page of docID ordered by page number.
func (s *SQLiteStore) Pages(ctx context.Context, docID int64) ([]Page, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT doc_id, page_num, extracted_text, rendered_image_path
FROM pages WHERE doc_id = ? ORDER BY page_num`, docID)
	if err != nil {
		return nil, fmt.Errorf("store: pages of doc %d: %w", docID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []Page
	for rows.Next() {
		var p Page
		if err := rows.Scan(&p.DocID, &p.PageNum, &p.ExtractedText, &p.RenderedImagePath); err != nil {
			return nil, fmt.Errorf("store: scan page: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: pages of doc %d: %w", docID, err)
	}
	return out, nil
}

// TrimPages removes pages, chunks and figures of docID beyond lastPage. It
// is used when a re-ingested file has fewer pages than before.
func (s *SQLiteStore) TrimPages(ctx context.Context, docID int64, lastPage int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: trim pages: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, q := range []string{
		`DELETE FROM pages WHERE doc_id = ? AND page_num > ?`,
		`DELETE FROM text_chunks WHERE doc_id = ? AND page_num > ?`,
		`DELETE FROM text_chunks_fts WHERE doc_id = ? AND page_num > ?`,
		`DELETE FROM figures WHERE doc_id = ? AND page_num > ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, docID, lastPage); err != nil {
			return fmt.Errorf("store: trim pages of doc %d: %w", docID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: trim pages: commit: %w", err)
	}
	return nil
}
