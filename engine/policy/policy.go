// Package policy decides whether retrieved evidence is in scope, cleans model
// output, derives citation labels and flags harmful advice. The pipeline
// depends on the Policy interface so jurisdiction rules can be swapped.
package policy

import (
	"regexp"
	"strings"

	"github.com/ozgurozbekuk/asylumapp/engine/domain"
)

// Policy is the answer policy applied around the completion call.
// Implementations must be pure and must never panic.
type Policy interface {
	// InScope reports whether any candidate is jurisdiction-specific evidence.
	InScope(candidates []domain.RankedCandidate) bool
	// Fallback returns the canned answer used when evidence is out of scope.
	Fallback(question string) string
	// Sanitize strips internal identifiers and off-topic content.
	Sanitize(answer, question string) string
	// CitationLabel returns the public-authority label, or "".
	CitationLabel(candidates []domain.RankedCandidate) string
	// AppendCitation adds a single citation line for label.
	AppendCitation(answer, label string) string
	// SafetyFlags returns monitoring flags for the final answer.
	SafetyFlags(answer string) []string
}

// FlagHarmfulAdvice marks answers that mention concealment or destruction.
const FlagHarmfulAdvice = "potentially_harmful_advice"

// CitationGovUK is the label for guidance published on GOV.UK.
const CitationGovUK = "GOV.UK"

const (
	fallbackEnglish = "I do not have enough UK-specific evidence in the retrieved context to answer this safely. " +
		"Please check GOV.UK and Citizens Advice, and speak with a regulated immigration adviser or solicitor if needed."
	fallbackTurkish = "Bu soruya yanit vermek icin yeterli UK-ozel kaynak bulamadim. " +
		"Lutfen GOV.UK ve Citizens Advice kaynaklarini kontrol edin ve gerekiyorsa yetkili bir gocmenlik uzmani/solicitor ile gorusun."
)

var (
	turkishLetters  = regexp.MustCompile(`(?i)[çğıöşüİ]`)
	turkishKeywords = regexp.MustCompile(`(?i)\b(avukat|siginma|gocmen|hukuk)\b`)
)

// UK is the policy for UK asylum and immigration guidance.
type UK struct {
	// ScopeMarkers are lower-case substrings of chunk text that count as
	// UK evidence.
	ScopeMarkers []string
	// HarmfulPhrases are lower-case substrings that raise FlagHarmfulAdvice.
	HarmfulPhrases []string
}

// NewUK returns the UK policy with its default markers.
func NewUK() *UK {
	return &UK{
		ScopeMarkers:   []string{"united kingdom", " uk ", "home office"},
		HarmfulPhrases: []string{"lie to", "destroy", "fake document"},
	}
}

var _ Policy = (*UK)(nil)

// InScope implements Policy.
func (p *UK) InScope(candidates []domain.RankedCandidate) bool {
	for _, c := range candidates {
		if isGovUK(c.Metadata.AnyURL(), c.Metadata.Source) {
			return true
		}
		text := strings.ToLower(c.Text)
		for _, m := range p.ScopeMarkers {
			if strings.Contains(text, m) {
				return true
			}
		}
	}
	return false
}

func isGovUK(url, source string) bool {
	return strings.Contains(strings.ToLower(url), "gov.uk") ||
		strings.ToLower(source) == "gov.uk"
}

// Fallback implements Policy. Turkish questions get a Turkish answer.
func (p *UK) Fallback(question string) string {
	if LikelyTurkish(question) {
		return fallbackTurkish
	}
	return fallbackEnglish
}

// LikelyTurkish reports whether text looks Turkish.
func LikelyTurkish(text string) bool {
	return turkishLetters.MatchString(text) || turkishKeywords.MatchString(text)
}

// Sanitize implements Policy.
func (p *UK) Sanitize(answer, question string) string {
	return Sanitize(answer, question)
}

// CitationLabel implements Policy.
func (p *UK) CitationLabel(candidates []domain.RankedCandidate) string {
	for _, c := range candidates {
		m := c.Metadata
		if isGovUK(m.AnyURL(), m.Source) || strings.ToLower(m.Publisher) == "gov.uk" {
			return CitationGovUK
		}
	}
	return ""
}

// AppendCitation implements Policy.
func (p *UK) AppendCitation(answer, label string) string {
	return AppendCitation(answer, label)
}

// SafetyFlags implements Policy. The result is never nil.
func (p *UK) SafetyFlags(answer string) []string {
	flags := []string{}
	lower := strings.ToLower(answer)
	for _, phrase := range p.HarmfulPhrases {
		if strings.Contains(lower, phrase) {
			flags = append(flags, FlagHarmfulAdvice)
			break
		}
	}
	return flags
}
