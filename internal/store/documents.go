package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Stage names accepted by CommitStage and Document.Watermark.
const (
	StageIngest      = "ingest"
	StageTextIndex   = "text_index"
	StageVisualIndex = "visual_index"
)

// stageColumns maps a stage name to its watermark column prefix.
var stageColumns = map[string]string{
	StageIngest:      "ingested",
	StageTextIndex:   "text_indexed",
	StageVisualIndex: "visual_indexed",
}

// Watermark records the last successful completion of a stage and the
// content hash the stage ran against. A zero At means the stage never ran.
type Watermark struct {
	At   time.Time `json:"at,omitzero"`
	Hash string    `json:"hash,omitempty"`
}

// IsSet reports whether the stage has completed at least once.
func (w Watermark) IsSet() bool { return !w.At.IsZero() }

// Document is the metadata record of one PDF file.
type Document struct {
	DocID         int64     `json:"doc_id"`
	FilePath      string    `json:"file_path"`
	FileName      string    `json:"file_name"`
	ContentHash   string    `json:"content_hash"`
	PageCount     int       `json:"page_count"`
	Ingested      Watermark `json:"ingested"`
	TextIndexed   Watermark `json:"text_indexed"`
	VisualIndexed Watermark `json:"visual_indexed"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Watermark returns the watermark of the named stage. ok is false for an
// unknown stage name.
func (d *Document) Watermark(stage string) (w Watermark, ok bool) {
	switch stage {
	case StageIngest:
		return d.Ingested, true
	case StageTextIndex:
		return d.TextIndexed, true
	case StageVisualIndex:
		return d.VisualIndexed, true
	}
	return Watermark{}, false
}

// DocumentInput carries the identity of a file to register.
type DocumentInput struct {
	FilePath    string
	FileName    string
	ContentHash string
	PageCount   int
}

// UpsertDocument registers a file or refreshes its identity. The doc_id of an
// existing file_path is preserved; updated_at only moves when the hash, page
// count or file name actually changed. Watermarks are never touched here, so
// a content change leaves them pointing at the old hash and every stage turns
// stale.
func (s *SQLiteStore) UpsertDocument(ctx context.Context, in DocumentInput) (*Document, error) {
	if in.FilePath == "" {
		return nil, errors.New("store: upsert document: file path is required")
	}
	now := millis(s.now())
	_, err := s.db.ExecContext(ctx, `
INSERT INTO documents (file_path, file_name, content_hash, page_count, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(file_path) DO UPDATE SET
    file_name    = excluded.file_name,
    content_hash = excluded.content_hash,
    page_count   = excluded.page_count,
    updated_at   = excluded.updated_at
WHERE documents.content_hash != excluded.content_hash
   OR documents.page_count   != excluded.page_count
   OR documents.file_name    != excluded.file_name`,
		in.FilePath, in.FileName, in.ContentHash, in.PageCount, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("store: upsert document %s: %w", in.FilePath, err)
	}
	return s.DocumentByPath(ctx, in.FilePath)
}

const documentColumns = `doc_id, file_path, file_name, content_hash, page_count,
    ingested_at, ingested_hash, text_indexed_at, text_indexed_hash,
    visual_indexed_at, visual_indexed_hash, created_at, updated_at`

// Document returns the record with the given id, or ErrNotFound.
func (s *SQLiteStore) Document(ctx context.Context, docID int64) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE doc_id = ?`, docID)
	d, err := scanDocument(row)
	if err != nil {
		return nil, fmt.Errorf("store: document %d: %w", docID, err)
	}
	return d, nil
}

// DocumentByPath returns the record registered for path, or ErrNotFound.
func (s *SQLiteStore) DocumentByPath(ctx context.Context, path string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE file_path = ?`, path)
	d, err := scanDocument(row)
	if err != nil {
		return nil, fmt.Errorf("store: document %s: %w", path, err)
	}
	return d, nil
}

// ListDocuments returns every registered document ordered by doc_id.
func (s *SQLiteStore) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+documentColumns+` FROM documents ORDER BY doc_id`)
	if err != nil {
		return nil, fmt.Errorf("store: list documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list documents: %w", err)
		}
		out = append(out, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list documents: %w", err)
	}
	return out, nil
}

// CommitStage records a successful run of stage against expectedHash. The
// write only lands if the document still carries expectedHash; committed is
// false when the content changed underneath the run.
func (s *SQLiteStore) CommitStage(ctx context.Context, docID int64, stage, expectedHash string) (committed bool, err error) {
	col, ok := stageColumns[stage]
	if !ok {
		return false, fmt.Errorf("store: commit stage: unknown stage %q", stage)
	}
	// col comes from a fixed whitelist, never from input.
	q := fmt.Sprintf(`UPDATE documents SET %[1]s_at = ?, %[1]s_hash = content_hash
WHERE doc_id = ? AND content_hash = ?`, col)

	res, err := s.db.ExecContext(ctx, q, millis(s.now()), docID, expectedHash)
	if err != nil {
		return false, fmt.Errorf("store: commit %s for doc %d: %w", stage, docID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: commit %s for doc %d: %w", stage, docID, err)
	}
	return n == 1, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(sc scanner) (*Document, error) {
	var (
		d                          Document
		ingAt, textAt, visAt       sql.NullInt64
		ingHash, textHash, visHash sql.NullString
		createdAt, updatedAt       int64
	)
	err := sc.Scan(
		&d.DocID, &d.FilePath, &d.FileName, &d.ContentHash, &d.PageCount,
		&ingAt, &ingHash, &textAt, &textHash, &visAt, &visHash,
		&createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	d.Ingested = Watermark{At: fromMillis(ingAt), Hash: ingHash.String}
	d.TextIndexed = Watermark{At: fromMillis(textAt), Hash: textHash.String}
	d.VisualIndexed = Watermark{At: fromMillis(visAt), Hash: visHash.String}
	d.CreatedAt = time.UnixMilli(createdAt).UTC()
	d.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &d, nil
}
