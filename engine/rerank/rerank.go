// Package rerank reorders vector-search candidates with a cheap lexical
// signal so exact terminology matches are not lost to embedding noise.
package rerank

import (
	"cmp"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/ozgurozbekuk/asylumapp/engine/domain"
)

// Options tunes the blended score. All fields are heuristics.
type Options struct {
	// FinalTopK is the number of candidates kept after reranking.
	FinalTopK int
	// KeywordWeight scales the lexical overlap ratio.
	KeywordWeight float64
	// HeadingBoost is added when a heading segment contains the question's
	// first token.
	HeadingBoost float64
	// MinTokenLength excludes tokens of this many runes or fewer.
	MinTokenLength int
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		FinalTopK:      3,
		KeywordWeight:  0.3,
		HeadingBoost:   0.05,
		MinTokenLength: 3,
	}
}

// Reranker blends vector similarity with keyword overlap and heading hits.
type Reranker struct {
	opts Options
}

// New creates a Reranker.
func New(opts Options) *Reranker {
	if opts.FinalTopK <= 0 {
		opts.FinalTopK = DefaultOptions().FinalTopK
	}
	return &Reranker{opts: opts}
}

// Rerank scores every candidate, sorts by the blended score (stable, so ties
// keep their vector order) and returns at most FinalTopK of them. The input
// slice is not modified.
func (r *Reranker) Rerank(question string, candidates []domain.RankedCandidate) []domain.RankedCandidate {
	if len(candidates) == 0 {
		return []domain.RankedCandidate{}
	}

	normalized := normalize(question)
	questionTokens := make(map[string]struct{})
	for _, t := range r.tokens(normalized) {
		questionTokens[t] = struct{}{}
	}
	var first string
	if fields := strings.Fields(normalized); len(fields) > 0 {
		first = fields[0]
	}

	out := make([]domain.RankedCandidate, len(candidates))
	for i, c := range candidates {
		c.RerankScore = c.VectorScore +
			r.opts.KeywordWeight*r.overlap(questionTokens, c.Text) +
			r.headingBoost(first, c.Metadata.HeadingPath)
		out[i] = c
	}

	slices.SortStableFunc(out, func(a, b domain.RankedCandidate) int {
		return cmp.Compare(b.RerankScore, a.RerankScore)
	})
	if len(out) > r.opts.FinalTopK {
		out = out[:r.opts.FinalTopK]
	}
	return out
}

// overlap is the share of the chunk's qualifying tokens that also appear in
// the question. It is 0 when the question has no qualifying token.
func (r *Reranker) overlap(questionTokens map[string]struct{}, text string) float64 {
	if len(questionTokens) == 0 {
		return 0
	}
	tokens := r.tokens(normalize(text))
	matches := 0
	for _, t := range tokens {
		if _, ok := questionTokens[t]; ok {
			matches++
		}
	}
	return float64(matches) / float64(max(len(tokens), 1))
}

func (r *Reranker) headingBoost(first string, headings []string) float64 {
	if first == "" {
		return 0
	}
	for _, h := range headings {
		if strings.Contains(normalize(h), first) {
			return r.opts.HeadingBoost
		}
	}
	return 0
}

func (r *Reranker) tokens(normalized string) []string {
	fields := strings.Split(normalized, " ")
	out := fields[:0]
	for _, f := range fields {
		if utf8.RuneCountInString(f) > r.opts.MinTokenLength {
			out = append(out, f)
		}
	}
	return out
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
