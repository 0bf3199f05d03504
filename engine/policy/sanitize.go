package policy

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	internalFilename = regexp.MustCompile(`(?i)\b[\w-]+\.(txt|md|pdf|docx)\b`)
	sourcesLabel     = regexp.MustCompile(`(?i)^(sources:|kaynaklar:)`)
	turkeyMention    = regexp.MustCompile(`(?i)\b(türkiye|turkiye|turkey)\b`)

	spaceBeforeNewline = regexp.MustCompile(`[ \t]+\n`)
	blankLineRun       = regexp.MustCompile(`\n{3,}`)
	spaceRun           = regexp.MustCompile(`[ \t]{2,}`)
	spaceBeforePunct   = regexp.MustCompile(`\s+([.,!?;:])`)
)

// Sanitize applies every cleaning step in order and repeats the sequence
// until the text stops changing, so Sanitize(Sanitize(x)) == Sanitize(x).
// Each step only shortens the text, which bounds the loop.
func Sanitize(answer, question string) string {
	out := answer
	for {
		next := sanitizeOnce(out, question)
		if next == out {
			return out
		}
		out = next
	}
}

func sanitizeOnce(answer, question string) string {
	out := RemoveInternalFilenames(answer)
	out = RemoveFilenameSourceLines(out)
	out = RemoveOffTopicSentences(out, question)
	return NormalizeWhitespace(out)
}

// RemoveInternalFilenames deletes storage file names such as "guide.pdf".
func RemoveInternalFilenames(text string) string {
	return strings.TrimSpace(internalFilename.ReplaceAllString(text, ""))
}

// RemoveFilenameSourceLines drops "Sources:" lines that cite internal files.
func RemoveFilenameSourceLines(text string) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if sourcesLabel.MatchString(strings.TrimSpace(line)) && internalFilename.MatchString(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// MentionsTurkey reports whether text names Turkey.
func MentionsTurkey(text string) bool {
	return turkeyMention.MatchString(text)
}

// RemoveOffTopicSentences removes sentences about Turkey unless the question
// asks about it. Remaining sentences are joined with single spaces.
func RemoveOffTopicSentences(text, question string) string {
	if MentionsTurkey(question) || !MentionsTurkey(text) {
		return text
	}
	sentences := splitSentences(text)
	kept := sentences[:0]
	for _, s := range sentences {
		if !MentionsTurkey(s) {
			kept = append(kept, s)
		}
	}
	return strings.TrimSpace(strings.Join(kept, " "))
}

// splitSentences cuts at whitespace following '.', '!' or '?', and at runs of
// newlines. Empty pieces are dropped.
func splitSentences(text string) []string {
	var (
		out   []string
		start int
		prev  rune
	)
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		afterPunct := prev == '.' || prev == '!' || prev == '?'
		var end int
		switch {
		case afterPunct && unicode.IsSpace(r):
			end = skip(text, i, unicode.IsSpace)
		case r == '\n':
			end = skip(text, i, func(r rune) bool { return r == '\n' })
		default:
			prev = r
			i += size
			continue
		}
		if piece := text[start:i]; piece != "" {
			out = append(out, piece)
		}
		start, i, prev = end, end, 0
	}
	if piece := text[start:]; piece != "" {
		out = append(out, piece)
	}
	return out
}

func skip(text string, i int, match func(rune) bool) int {
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		if !match(r) {
			break
		}
		i += size
	}
	return i
}

// NormalizeWhitespace trims trailing spaces on lines, collapses blank-line
// runs and inner space runs, and removes space before punctuation.
func NormalizeWhitespace(text string) string {
	out := spaceBeforeNewline.ReplaceAllString(text, "\n")
	out = blankLineRun.ReplaceAllString(out, "\n\n")
	out = spaceRun.ReplaceAllString(out, " ")
	out = spaceBeforePunct.ReplaceAllString(out, "$1")
	return strings.TrimSpace(out)
}

// AppendCitation normalizes answer and appends "Source: <label>" unless the
// line is already present. An empty label only normalizes.
func AppendCitation(answer, label string) string {
	base := NormalizeWhitespace(answer)
	if label == "" {
		return base
	}
	existing := regexp.MustCompile(`(?im)^Source:\s*` + regexp.QuoteMeta(label) + `$`)
	if existing.MatchString(base) {
		return base
	}
	return strings.TrimSpace(base + "\n\nSource: " + label)
}
