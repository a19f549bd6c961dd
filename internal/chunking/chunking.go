// Package chunking splits the extracted text of a single PDF page into
// overlapping, section-labelled chunks. It performs no I/O.
//
// Offsets are character (rune) offsets into the page text after surrounding
// whitespace has been trimmed, so they stay valid for text containing Greek
// letters and other multi-byte symbols common in scientific papers.
package chunking

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

const (
	// DefaultMaxChars is the default chunk window width in characters.
	DefaultMaxChars = 1400
	// DefaultOverlapChars is the default overlap between consecutive windows.
	DefaultOverlapChars = 200
)

// ErrInvalidOptions is returned when MaxChars/OverlapChars violate
// 0 <= OverlapChars < MaxChars.
var ErrInvalidOptions = errors.New("chunking: invalid options")

// sectionPattern matches a heading line from the fixed vocabulary of
// scientific section names, optionally prefixed by an outline number ("2.1 ").
var sectionPattern = regexp.MustCompile(
	`(?i)^(?:\d+(?:\.\d+)*\s+)?(abstract|introduction|methods?|results?|discussion|conclusion|references)\b`,
)

// Options controls the window size of Split.
type Options struct {
	// MaxChars is the maximum chunk width in characters. Must be positive.
	MaxChars int
	// OverlapChars is how far the next window starts before the previous one
	// ended. Must be in [0, MaxChars).
	OverlapChars int
}

// DefaultOptions returns the window settings used when none are configured.
func DefaultOptions() Options {
	return Options{MaxChars: DefaultMaxChars, OverlapChars: DefaultOverlapChars}
}

// Validate reports whether o can drive a terminating sliding window.
func (o Options) Validate() error {
	if o.MaxChars <= 0 {
		return fmt.Errorf("%w: max_chars must be positive, got %d", ErrInvalidOptions, o.MaxChars)
	}
	if o.OverlapChars < 0 || o.OverlapChars >= o.MaxChars {
		return fmt.Errorf("%w: overlap_chars must be in [0, %d), got %d", ErrInvalidOptions, o.MaxChars, o.OverlapChars)
	}
	return nil
}

// Chunk is one window of page text.
type Chunk struct {
	// UID is the globally unique "doc_id:page_num:chunk_id" identifier.
	UID string
	// ID is the page-local identifier "c{n}".
	ID string
	// Index is n in ID; dense over emitted chunks.
	Index int
	// Section is the title-cased heading this chunk belongs to, or "" when
	// the page has no recognised heading.
	Section string
	// Text is the trimmed window text.
	Text string
	// Start is the inclusive start offset of the window.
	Start int
	// End is the exclusive end offset of the window.
	End int
}

// Span is a recognised section heading and the offset of its line.
type Span struct {
	Offset int
	Name   string
}

// UID formats the canonical chunk identifier.
func UID(docID int64, pageNum int, chunkID string) string {
	return fmt.Sprintf("%d:%d:%s", docID, pageNum, chunkID)
}

// SectionSpans returns the headings found in text, one per offset, sorted by
// offset. When several headings share an offset the last one wins. The text
// is scanned as given; callers that need Split's offsets must trim it first.
func SectionSpans(text string) []Span {
	byOffset := make(map[int]string)
	for _, ln := range splitLines([]rune(text)) {
		m := sectionPattern.FindStringSubmatch(ln.text)
		if m == nil {
			continue
		}
		byOffset[ln.offset] = titleCase(strings.TrimSpace(m[1]))
	}
	if len(byOffset) == 0 {
		return nil
	}
	spans := make([]Span, 0, len(byOffset))
	for off, name := range byOffset {
		spans = append(spans, Span{Offset: off, Name: name})
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].Offset < spans[j].Offset })
	return spans
}

// Split chunks one page of text. Empty or whitespace-only text yields no
// chunks. Chunk offsets are non-decreasing, every chunk is non-empty, and
// consecutive chunks inside a section overlap by at most opts.OverlapChars.
func Split(docID int64, pageNum int, text string, opts Options) ([]Chunk, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil, nil
	}

	// A page without headings is one unnamed section. On a page with
	// headings, text before the first one is not chunked, so chunk ids stay
	// stable whatever running header or carried-over text precedes it.
	spans := SectionSpans(string(runes))
	if len(spans) == 0 {
		spans = []Span{{Offset: 0}}
	}

	var chunks []Chunk
	for i, sp := range spans {
		start := sp.Offset
		end := len(runes)
		if i+1 < len(spans) {
			end = spans[i+1].Offset
		}
		if strings.TrimSpace(string(runes[start:end])) == "" {
			continue
		}

		cursor := start
		for cursor < end {
			windowEnd := min(cursor+opts.MaxChars, end)
			window := strings.TrimSpace(string(runes[cursor:windowEnd]))
			if window == "" {
				break
			}

			id := fmt.Sprintf("c%d", len(chunks))
			chunks = append(chunks, Chunk{
				UID:     UID(docID, pageNum, id),
				ID:      id,
				Index:   len(chunks),
				Section: sp.Name,
				Text:    window,
				Start:   cursor,
				End:     windowEnd,
			})

			if windowEnd >= end {
				break
			}
			cursor = max(start, windowEnd-opts.OverlapChars)
		}
	}
	return chunks, nil
}

// line is a trimmed, non-blank line and the rune offset where it begins.
type line struct {
	offset int
	text   string
}

// splitLines breaks runes on \n, \r\n and \r, keeping each line's starting
// offset in the original slice. Blank lines are dropped.
func splitLines(runes []rune) []line {
	var out []line
	start := 0
	emit := func(end int) {
		if s := strings.TrimSpace(string(runes[start:end])); s != "" {
			out = append(out, line{offset: start, text: s})
		}
	}
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '\n':
			emit(i)
			start = i + 1
		case '\r':
			emit(i)
			if i+1 < len(runes) && runes[i+1] == '\n' {
				i++
			}
			start = i + 1
		}
	}
	if start < len(runes) {
		emit(len(runes))
	}
	return out
}

// titleCase upper-cases the first letter of word and lower-cases the rest.
func titleCase(word string) string {
	if word == "" {
		return word
	}
	lower := strings.ToLower(word)
	return strings.ToUpper(lower[:1]) + lower[1:]
}
