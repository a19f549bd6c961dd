// Package extract reads PDFs: file identity (hash, page count), per-page
// text, embedded images, page renders and OCR. Pure-Go libraries handle the
// PDF structure; rasterising and OCR shell out to pdftoppm and tesseract.
package extract

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// FileHash returns the lowercase hex sha256 of the file at path.
func FileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("extract: hash %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("extract: hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// FindPDFs resolves pathOrDir to a list of PDF files. A directory is walked
// recursively and every *.pdf (case-insensitive) is returned in sorted
// order; a file must itself have a .pdf extension.
func FindPDFs(pathOrDir string) ([]string, error) {
	info, err := os.Stat(pathOrDir)
	if err != nil {
		return nil, fmt.Errorf("extract: PDF path not found: %s: %w", pathOrDir, err)
	}
	if !info.IsDir() {
		if !isPDF(pathOrDir) {
			return nil, fmt.Errorf("extract: not a PDF file: %s", pathOrDir)
		}
		return []string{pathOrDir}, nil
	}

	var out []string
	err = filepath.WalkDir(pathOrDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && isPDF(path) {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("extract: walk %s: %w", pathOrDir, err)
	}
	sort.Strings(out)
	return out, nil
}

func isPDF(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}

// PageCount returns the number of pages of the PDF at path.
func PageCount(path string) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("extract: page count %s: corrupt or unsupported PDF: %v", path, r)
		}
	}()
	n, err = api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("extract: open %s (corrupt or unsupported): %w", path, err)
	}
	return n, nil
}

// TextReader extracts plain text page by page from one open PDF.
type TextReader struct {
	f *os.File
	r *pdf.Reader
}

// OpenText opens path for text extraction. The caller must Close it.
func OpenText(path string) (tr *TextReader, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("extract: open %s for text: %v", path, r)
		}
	}()
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("extract: open %s for text: %w", path, err)
	}
	return &TextReader{f: f, r: r}, nil
}

// NumPage returns the page count seen by the text reader.
func (t *TextReader) NumPage() int { return t.r.NumPage() }

// PageText returns the trimmed plain text of the 1-based page n. A page
// without a content stream yields "".
func (t *TextReader) PageText(n int) (text string, err error) {
	if n < 1 || n > t.r.NumPage() {
		return "", fmt.Errorf("extract: page %d out of range [1, %d]", n, t.r.NumPage())
	}
	// The parser panics on some malformed content streams.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("extract: text of page %d: %v", n, r)
		}
	}()
	p := t.r.Page(n)
	if p.V.IsNull() {
		return "", nil
	}
	s, err := p.GetPlainText(nil)
	if err != nil {
		return "", fmt.Errorf("extract: text of page %d: %w", n, err)
	}
	return strings.TrimSpace(s), nil
}

// Close releases the underlying file.
func (t *TextReader) Close() error {
	return t.f.Close()
}
