// Package budget provides token budget estimation for prompts sent to the
// answer model. Because several LLM backends with different tokenizers are
// supported, it uses a conservative character heuristic: 1 token ≈ 4
// characters of English prose.
package budget

import (
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"
)

const (
	// charsPerToken is the character-to-token ratio used for estimation.
	charsPerToken = 4

	// messageOverhead is the per-message framing cost in most chat APIs.
	messageOverhead = 4

	// DefaultMaxContextTokens is the default input context budget in tokens.
	// It fits 8k-context models while leaving room for the answer.
	DefaultMaxContextTokens = 6000
)

// Estimate returns a rough token count for s. Characters are counted as
// runes so Greek letters and math symbols weigh the same as ASCII.
func Estimate(s string) int {
	c := utf8.RuneCountInString(s)
	n := c / charsPerToken
	if n == 0 && c > 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated total token count for a slice of
// schema.Message values, summing role + content for each message.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		total += messageOverhead
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// FitLines returns the longest prefix of lines whose estimated size (one
// extra token per line for the newline) fits within maxTokens, and the
// number of lines dropped. Lines are assumed to be ordered by importance,
// so trimming always removes from the tail.
func FitLines(lines []string, maxTokens int) ([]string, int) {
	used := 0
	for i, l := range lines {
		used += Estimate(l) + 1
		if used > maxTokens {
			return lines[:i], len(lines) - i
		}
	}
	return lines, 0
}

// Remaining returns maxTokens minus the estimated size of fixed, floored at 0.
func Remaining(fixed []*schema.Message, maxTokens int) int {
	return max(0, maxTokens-EstimateMessages(fixed))
}
