package store

import (
	"context"
	"fmt"
	"strings"
	"unicode"
)

// TextChunk is the stored form of one chunk of page text.
type TextChunk struct {
	ChunkUID    string `json:"chunk_uid"`
	ChunkID     string `json:"chunk_id"`
	ChunkIndex  int    `json:"chunk_index"`
	DocID       int64  `json:"doc_id"`
	PageNum     int    `json:"page_num"`
	SectionName string `json:"section_name,omitempty"`
	Text        string `json:"text"`
	OffsetStart int    `json:"offset_start"`
	OffsetEnd   int    `json:"offset_end"`
}

// LexicalHit is one full-text match returned by SearchChunks.
type LexicalHit struct {
	ChunkUID string
	ChunkID  string
	DocID    int64
	PageNum  int
	// Score is the negated BM25 rank, so larger is better.
	Score float64
}

// ReplaceChunks atomically swaps the chunks of one page for chunks. Every
// chunk must belong to (docID, pageNum). Passing no chunks clears the page.
func (s *SQLiteStore) ReplaceChunks(ctx context.Context, docID int64, pageNum int, chunks []TextChunk) error {
	for _, c := range chunks {
		if c.DocID != docID || c.PageNum != pageNum {
			return fmt.Errorf("store: replace chunks: chunk %s does not belong to %d:%d", c.ChunkUID, docID, pageNum)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: replace chunks: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM text_chunks WHERE doc_id = ? AND page_num = ?`, docID, pageNum); err != nil {
		return fmt.Errorf("store: replace chunks %d:%d: %w", docID, pageNum, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM text_chunks_fts WHERE doc_id = ? AND page_num = ?`, docID, pageNum); err != nil {
		return fmt.Errorf("store: replace chunks %d:%d: fts: %w", docID, pageNum, err)
	}

	for _, c := range chunks {
		_, err := tx.ExecContext(ctx, `
INSERT INTO text_chunks (chunk_uid, chunk_id, chunk_index, doc_id, page_num, section_name, text, offset_start, offset_end)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ChunkUID, c.ChunkID, c.ChunkIndex, c.DocID, c.PageNum, c.SectionName, c.Text, c.OffsetStart, c.OffsetEnd,
		)
		if err != nil {
			return fmt.Errorf("store: insert chunk %s: %w", c.ChunkUID, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO text_chunks_fts (text, chunk_uid, doc_id, page_num) VALUES (?, ?, ?, ?)`,
			c.Text, c.ChunkUID, c.DocID, c.PageNum,
		)
		if err != nil {
			return fmt.Errorf("store: index chunk %s: %w", c.ChunkUID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: replace chunks: commit: %w", err)
	}
	return nil
}

// Chunks returns the chunks of docID ordered by page and chunk index.
func (s *SQLiteStore) Chunks(ctx context.Context, docID int64) ([]TextChunk, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT chunk_uid, chunk_id, chunk_index, doc_id, page_num, section_name, text, offset_start, offset_end
FROM text_chunks WHERE doc_id = ? ORDER BY page_num, chunk_index`, docID)
	if err != nil {
		return nil, fmt.Errorf("store: chunks of doc %d: %w", docID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []TextChunk
	for rows.Next() {
		var c TextChunk
		if err := rows.Scan(&c.ChunkUID, &c.ChunkID, &c.ChunkIndex, &c.DocID, &c.PageNum,
			&c.SectionName, &c.Text, &c.OffsetStart, &c.OffsetEnd); err != nil {
			return nil, fmt.Errorf("store: scan chunk: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: chunks of doc %d: %w", docID, err)
	}
	return out, nil
}

// ChunksByUID fetches chunks by uid. The result follows the order of uids;
// unknown uids are skipped.
func (s *SQLiteStore) ChunksByUID(ctx context.Context, uids []string) ([]TextChunk, error) {
	if len(uids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(uids)), ",")
	args := make([]any, len(uids))
	for i, u := range uids {
		args[i] = u
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT chunk_uid, chunk_id, chunk_index, doc_id, page_num, section_name, text, offset_start, offset_end
FROM text_chunks WHERE chunk_uid IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("store: chunks by uid: %w", err)
	}
	defer func() { _ = rows.Close() }()

	byUID := make(map[string]TextChunk, len(uids))
	for rows.Next() {
		var c TextChunk
		if err := rows.Scan(&c.ChunkUID, &c.ChunkID, &c.ChunkIndex, &c.DocID, &c.PageNum,
			&c.SectionName, &c.Text, &c.OffsetStart, &c.OffsetEnd); err != nil {
			return nil, fmt.Errorf("store: scan chunk: %w", err)
		}
		byUID[c.ChunkUID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: chunks by uid: %w", err)
	}

	out := make([]TextChunk, 0, len(byUID))
	seen := make(map[string]bool, len(uids))
	for _, u := range uids {
		c, ok := byUID[u]
		if !ok || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, c)
	}
	return out, nil
}

// SearchChunks runs a BM25 full-text search over chunk text and returns up
// to k hits, best first. Queries with no searchable terms return nil.
func (s *SQLiteStore) SearchChunks(ctx context.Context, query string, k int) ([]LexicalHit, error) {
	match := ftsQuery(query)
	if match == "" || k <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT f.chunk_uid, c.chunk_id, c.doc_id, c.page_num, bm25(text_chunks_fts) AS rank
FROM text_chunks_fts f
JOIN text_chunks c ON c.chunk_uid = f.chunk_uid
WHERE text_chunks_fts MATCH ?
ORDER BY rank, f.chunk_uid
LIMIT ?`, match, k)
	if err != nil {
		return nil, fmt.Errorf("store: search chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []LexicalHit
	for rows.Next() {
		var (
			h    LexicalHit
			rank float64
		)
		if err := rows.Scan(&h.ChunkUID, &h.ChunkID, &h.DocID, &h.PageNum, &rank); err != nil {
			return nil, fmt.Errorf("store: scan search hit: %w", err)
		}
		h.Score = -rank
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: search chunks: %w", err)
	}
	return out, nil
}

// ftsQuery turns free text into an FTS5 query that ORs every distinct word.
// Each term is quoted so punctuation and FTS5 operators in the question
// cannot produce a syntax error.
func ftsQuery(q string) string {
	words := strings.FieldsFunc(strings.ToLower(q), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(words))
	terms := make([]string, 0, len(words))
	for _, w := range words {
		if len([]rune(w)) < 2 || seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, `"`+w+`"`)
	}
	return strings.Join(terms, " OR ")
}
