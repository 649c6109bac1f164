// Package postprocess cleans up raw transcripts before export.
package postprocess

import (
	"strings"

	"audiomate/internal/domain"
)

// DefaultMaxRepeat is the longest run of identical consecutive tokens kept.
const DefaultMaxRepeat = 3

// Dedupe caps runs of consecutive identical tokens at maxRepeat. Tokens are
// compared case-insensitively with the previous token and kept verbatim.
// Whitespace is collapsed to single spaces and trimmed.
func Dedupe(text string, maxRepeat int) string {
	if maxRepeat <= 0 {
		maxRepeat = DefaultMaxRepeat
	}

	tokens := strings.Fields(text)
	out := make([]string, 0, len(tokens))
	run := 0
	for i, token := range tokens {
		if i > 0 && strings.EqualFold(token, tokens[i-1]) {
			run++
		} else {
			run = 1
		}
		if run <= maxRepeat {
			out = append(out, token)
		}
	}
	return strings.Join(out, " ")
}

// Join concatenates segment texts with single spaces, skipping blank ones.
func Join(segments []domain.Segment) string {
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}
