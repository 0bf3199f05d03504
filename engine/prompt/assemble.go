// Package prompt builds the text sent to the completion provider: the
// bounded excerpt block, the fixed system prompt, the user message and the
// conversation context.
package prompt

import (
	"strings"
	"unicode/utf8"

	"github.com/ozgurozbekuk/asylumapp/engine/domain"
)

// DefaultMaxContextChars is the excerpt budget used by the pipeline.
const DefaultMaxContextChars = 6000

const (
	excerptLabel    = "Excerpt:\n"
	excerptSep      = "\n\n---\n\n"
	truncatedMarker = "\n[...truncated for length...]"
)

// Assemble packs candidate texts into labelled excerpts in order until
// maxChars is spent. The candidate that overflows is cut to the remaining
// budget and marked as truncated. Lengths are counted in runes; the result
// exceeds maxChars by at most the truncation marker.
func Assemble(candidates []domain.RankedCandidate, maxChars int) string {
	labelLen := utf8.RuneCountInString(excerptLabel)
	sepLen := utf8.RuneCountInString(excerptSep)

	blocks := make([]string, 0, len(candidates))
	total := 0
	for _, c := range candidates {
		remaining := maxChars - total - labelLen
		if remaining <= 0 {
			break
		}
		text := c.Text
		if utf8.RuneCountInString(text) > remaining {
			text = clip(text, remaining) + truncatedMarker
		}
		block := excerptLabel + text
		blocks = append(blocks, block)
		total += utf8.RuneCountInString(block) + sepLen
		if total >= maxChars {
			break
		}
	}
	return strings.Join(blocks, excerptSep)
}

// clip returns the first n runes of s.
func clip(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
