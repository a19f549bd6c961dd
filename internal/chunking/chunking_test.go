package chunking

import (
	"errors"
	"math/rand/v2"
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplit_TwoSections(t *testing.T) {
	t.Parallel()

	text := "1 Introduction\nHello world.\n2 Methods\nWe did X."
	chunks, err := Split(7, 3, text, Options{MaxChars: 100, OverlapChars: 10})
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("want 2 chunks, got %d: %+v", len(chunks), chunks)
	}

	want := []Chunk{
		{UID: "7:3:c0", ID: "c0", Index: 0, Section: "Introduction", Text: "1 Introduction\nHello world.", Start: 0, End: 28},
		{UID: "7:3:c1", ID: "c1", Index: 1, Section: "Methods", Text: "2 Methods\nWe did X.", Start: 28, End: 47},
	}
	if !reflect.DeepEqual(chunks, want) {
		t.Errorf("chunks mismatch\n got: %+v\nwant: %+v", chunks, want)
	}
}

func TestSplit_NoHeadingSlidingWindow(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("x", 30)
	chunks, err := Split(1, 1, text, Options{MaxChars: 10, OverlapChars: 3})
	if err != nil {
		t.Fatalf("Split: %v", err)
	}

	wantSpans := [][2]int{{0, 10}, {7, 17}, {14, 24}, {21, 30}}
	if len(chunks) != len(wantSpans) {
		t.Fatalf("want %d chunks, got %d", len(wantSpans), len(chunks))
	}
	for i, c := range chunks {
		if c.Start != wantSpans[i][0] || c.End != wantSpans[i][1] {
			t.Errorf("chunk %d: got [%d,%d), want [%d,%d)", i, c.Start, c.End, wantSpans[i][0], wantSpans[i][1])
		}
		if c.Section != "" {
			t.Errorf("chunk %d: want empty section, got %q", i, c.Section)
		}
	}
}

func TestSplit_EmptyText(t *testing.T) {
	t.Parallel()

	for _, text := range []string{"", "   ", "\n\t\n"} {
		chunks, err := Split(1, 1, text, DefaultOptions())
		if err != nil {
			t.Fatalf("Split(%q): %v", text, err)
		}
		if len(chunks) != 0 {
			t.Errorf("Split(%q): want no chunks, got %d", text, len(chunks))
		}
	}
}

func TestSplit_InvalidOptions(t *testing.T) {
	t.Parallel()

	cases := []Options{
		{MaxChars: 0, OverlapChars: 0},
		{MaxChars: -5, OverlapChars: 0},
		{MaxChars: 10, OverlapChars: 10},
		{MaxChars: 10, OverlapChars: -1},
	}
	for _, opts := range cases {
		if _, err := Split(1, 1, "text", opts); !errors.Is(err, ErrInvalidOptions) {
			t.Errorf("Split with %+v: want ErrInvalidOptions, got %v", opts, err)
		}
	}
}

func TestSplit_RuneOffsets(t *testing.T) {
	t.Parallel()

	text := "Results\nα β γ δ ε"
	chunks, err := Split(1, 1, text, Options{MaxChars: 100, OverlapChars: 0})
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("want 1 chunk, got %d", len(chunks))
	}
	if got, want := chunks[0].End, utf8.RuneCountInString(text); got != want {
		t.Errorf("End = %d, want rune count %d", got, want)
	}
	if chunks[0].Section != "Results" {
		t.Errorf("Section = %q, want Results", chunks[0].Section)
	}
}

func TestSectionSpans(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want []Span
	}{
		{"none", "plain text\nno headings here", nil},
		{"outline number and upper case", "2.1 METHODS and data", []Span{{0, "Methods"}}},
		{"singular form", "Result\nfoo", []Span{{0, "Result"}}},
		{"word boundary required", "Methodology is described", nil},
		{"indented heading", "intro\n   Conclusion\nend", []Span{{6, "Conclusion"}}},
		{"crlf lines", "Abstract\r\nbody\r\nReferences", []Span{{0, "Abstract"}, {16, "References"}}},
		{"heading mid-line ignored", "see the discussion below", nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := SectionSpans(tc.text)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("SectionSpans(%q) = %+v, want %+v", tc.text, got, tc.want)
			}
		})
	}
}

func TestSplit_TextBeforeFirstHeadingIsSkipped(t *testing.T) {
	t.Parallel()

	text := "continued from previous page.\n3 Results\nWe find H0=70."
	chunks, err := Split(2, 5, text, Options{MaxChars: 100, OverlapChars: 10})
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("want 1 chunk, got %d: %+v", len(chunks), chunks)
	}
	c := chunks[0]
	if c.ID != "c0" || c.UID != "2:5:c0" || c.Section != "Results" {
		t.Errorf("chunk = %+v, want c0 in Results", c)
	}
	if c.Start != 30 || c.End != 54 || c.Text != "3 Results\nWe find H0=70." {
		t.Errorf("chunk span = [%d,%d) %q", c.Start, c.End, c.Text)
	}

	// With several headings the ids are dense from the first heading on.
	chunks, err = Split(2, 5, "ApJ 912:1 (2021)\nAbstract\nShort.\nIntroduction\nLonger body text.", Options{MaxChars: 50, OverlapChars: 5})
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) != 2 || chunks[0].Section != "Abstract" || chunks[1].Section != "Introduction" || chunks[1].ID != "c1" {
		t.Errorf("chunks = %+v", chunks)
	}
}

// TestSplit_Invariants checks ordering, non-emptiness, overlap and the
// iteration bound over randomised pages and window settings.
func TestSplit_Invariants(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(42, 7))
	words := []string{"galaxy", "redshift", "Hα", "flux", "\n", "1 Introduction\n", "3.2 Results\n", "  ", "Methods\n", "λ"}

	for iter := range 200 {
		var b strings.Builder
		for range rng.IntN(400) {
			b.WriteString(words[rng.IntN(len(words))])
			b.WriteByte(' ')
		}
		text := b.String()
		maxChars := 1 + rng.IntN(120)
		overlap := rng.IntN(maxChars)
		opts := Options{MaxChars: maxChars, OverlapChars: overlap}

		chunks, err := Split(1, 1, text, opts)
		if err != nil {
			t.Fatalf("iter %d: Split: %v", iter, err)
		}

		pageLen := utf8.RuneCountInString(strings.TrimSpace(text))
		bound := 0
		if pageLen > 0 {
			// Each section contributes at most ceil(len/(max-overlap)) windows.
			bound = pageLen + len(SectionSpans(strings.TrimSpace(text))) + 1
		}
		if len(chunks) > bound {
			t.Fatalf("iter %d: %d chunks exceeds bound %d", iter, len(chunks), bound)
		}

		for i, c := range chunks {
			if strings.TrimSpace(c.Text) == "" {
				t.Fatalf("iter %d: chunk %d is empty", iter, i)
			}
			if c.Start >= c.End {
				t.Fatalf("iter %d: chunk %d has start %d >= end %d", iter, i, c.Start, c.End)
			}
			if c.End-c.Start > maxChars {
				t.Fatalf("iter %d: chunk %d wider than max_chars", iter, i)
			}
			if i == 0 {
				continue
			}
			prev := chunks[i-1]
			if c.Start < prev.Start {
				t.Fatalf("iter %d: chunk %d start %d before previous %d", iter, i, c.Start, prev.Start)
			}
			if c.Section == prev.Section && prev.End-c.Start > overlap {
				t.Fatalf("iter %d: chunk %d overlaps previous by %d > %d", iter, i, prev.End-c.Start, overlap)
			}
		}
	}
}

func TestSplit_LastChunkReachesSectionEnd(t *testing.T) {
	t.Parallel()

	text := "Introduction\n" + strings.Repeat("ab ", 100) + "\nDiscussion\n" + strings.Repeat("cd ", 50)
	trimmed := strings.TrimSpace(text)
	spans := SectionSpans(trimmed)
	if len(spans) != 2 {
		t.Fatalf("want 2 spans, got %d", len(spans))
	}

	chunks, err := Split(1, 1, text, Options{MaxChars: 40, OverlapChars: 8})
	if err != nil {
		t.Fatalf("Split: %v", err)
	}

	lastBySection := map[string]Chunk{}
	for _, c := range chunks {
		lastBySection[c.Section] = c
	}
	if got := lastBySection["Introduction"].End; got != spans[1].Offset {
		t.Errorf("Introduction ends at %d, want %d", got, spans[1].Offset)
	}
	if got, want := lastBySection["Discussion"].End, utf8.RuneCountInString(trimmed); got != want {
		t.Errorf("Discussion ends at %d, want %d", got, want)
	}
}

func TestSplit_Deterministic(t *testing.T) {
	t.Parallel()

	text := "Abstract\nWe study galaxies.\n1 Introduction\n" + strings.Repeat("Stars form. ", 40)
	a, err := Split(4, 2, text, Options{MaxChars: 64, OverlapChars: 16})
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	b, err := Split(4, 2, text, Options{MaxChars: 64, OverlapChars: 16})
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Error("Split is not deterministic")
	}
}
