// Package langpolicy enforces the English-only output policy applied to every
// textual artifact that is persisted (page text, OCR, captions) or returned to
// a caller (evidence blocks, generated answers).
//
// The check is script-based: it rejects text containing characters from common
// non-Latin scripts. Greek is allowed because scientific notation relies on it.
package langpolicy

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrViolation is returned when text contains a blocked script or when the
// configured output language is not English.
var ErrViolation = errors.New("langpolicy: output must be English")

// blocked lists the Unicode ranges rejected by Check.
var blocked = &unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x0400, Hi: 0x04ff, Stride: 1}, // Cyrillic
		{Lo: 0x0590, Hi: 0x05ff, Stride: 1}, // Hebrew
		{Lo: 0x0600, Hi: 0x06ff, Stride: 1}, // Arabic
		{Lo: 0x0900, Hi: 0x097f, Stride: 1}, // Devanagari
		{Lo: 0x0e00, Hi: 0x0e7f, Stride: 1}, // Thai
		{Lo: 0x3040, Hi: 0x30ff, Stride: 1}, // Hiragana, Katakana
		{Lo: 0x4e00, Hi: 0x9fff, Stride: 1}, // CJK Unified Ideographs
		{Lo: 0xac00, Hi: 0xd7af, Stride: 1}, // Hangul syllables
	},
}

// Check returns an error wrapping ErrViolation if text contains any blocked
// script. The error names the first offending rune and its byte offset.
func Check(text string) error {
	for i, r := range text {
		if unicode.Is(blocked, r) {
			return fmt.Errorf("%w: found %U at offset %d", ErrViolation, r, i)
		}
	}
	return nil
}

// Enforce returns text unchanged when it passes Check.
func Enforce(text string) (string, error) {
	if err := Check(text); err != nil {
		return "", err
	}
	return text, nil
}

// EnforceAll checks every element of items and returns a new slice. Nil input
// yields a nil slice.
func EnforceAll(items []string) ([]string, error) {
	if items == nil {
		return nil, nil
	}
	out := make([]string, 0, len(items))
	for _, s := range items {
		if err := Check(s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// StartupCheck validates the configured output language. Only "en" is
// accepted (case-insensitive, surrounding whitespace ignored).
func StartupCheck(outputLanguage string) error {
	if strings.ToLower(strings.TrimSpace(outputLanguage)) != "en" {
		return fmt.Errorf("%w: output language %q is not supported", ErrViolation, outputLanguage)
	}
	return nil
}
