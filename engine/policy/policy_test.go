package policy

import (
	"strings"
	"testing"

	"github.com/ozgurozbekuk/asylumapp/engine/domain"
)

func TestRemoveInternalFilenames(t *testing.T) {
	got := RemoveInternalFilenames("See asylum-guide.pdf and notes_v2.MD for details")
	if strings.Contains(got, ".pdf") || strings.Contains(strings.ToLower(got), ".md") {
		t.Fatalf("filenames not removed: %q", got)
	}
	if got != "See  and  for details" {
		t.Errorf("got %q", got)
	}
}

func TestRemoveFilenameSourceLines(t *testing.T) {
	in := "Answer line.\nSources: guide.pdf, faq.txt\nKaynaklar: rehber.docx\nSources: GOV.UK"
	want := "Answer line.\nSources: GOV.UK"
	if got := RemoveFilenameSourceLines(in); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRemoveOffTopicSentences(t *testing.T) {
	in := "You can claim asylum in the UK. In Turkey the rules differ! Ask a solicitor.\nTürkiye has its own process.\nContact Citizens Advice."
	got := RemoveOffTopicSentences(in, "How do I claim asylum?")
	want := "You can claim asylum in the UK. Ask a solicitor. Contact Citizens Advice."
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRemoveOffTopicSentences_KeptWhenAsked(t *testing.T) {
	in := "In Turkey the rules differ."
	if got := RemoveOffTopicSentences(in, "I came from Turkey, what now?"); got != in {
		t.Errorf("got %q", got)
	}
}

func TestNormalizeWhitespace(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"a  \nb", "a\nb"},
		{"a\n\n\n\nb", "a\n\nb"},
		{"a   b\t\tc", "a b c"},
		{"Hello , world !", "Hello, world!"},
		{"  padded  ", "padded"},
	}
	for _, tt := range tests {
		if got := NormalizeWhitespace(tt.in); got != tt.want {
			t.Errorf("NormalizeWhitespace(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSanitize_Idempotent(t *testing.T) {
	inputs := []string{
		"",
		"Plain answer.",
		"See report .pdf now",
		"Sources: a.pdf\n\n\n\nThe Home Office decides .  In Turkey it differs.",
		"Use form ASF1.  \n\n\nkaynaklar: x.docx\nDone !",
		"line one\n \n \n \nline two ,  ok",
		"Türkiye! turkey? TURKEY.",
	}
	for _, in := range inputs {
		once := Sanitize(in, "what should I do?")
		twice := Sanitize(once, "what should I do?")
		if once != twice {
			t.Errorf("not idempotent for %q:\n once=%q\ntwice=%q", in, once, twice)
		}
	}
}

func TestAppendCitation_AtMostOnce(t *testing.T) {
	got := AppendCitation("Answer text.", CitationGovUK)
	if got != "Answer text.\n\nSource: GOV.UK" {
		t.Fatalf("got %q", got)
	}
	again := AppendCitation(got, CitationGovUK)
	if strings.Count(again, "Source: GOV.UK") != 1 {
		t.Fatalf("duplicated citation: %q", again)
	}
	lower := AppendCitation("Answer.\nsource:   gov.uk", CitationGovUK)
	if strings.Count(strings.ToLower(lower), "source:") != 1 {
		t.Fatalf("case-insensitive match failed: %q", lower)
	}
	if got := AppendCitation(" x ", ""); got != "x" {
		t.Errorf("empty label: got %q", got)
	}
}

func TestUK_InScope(t *testing.T) {
	p := NewUK()
	tests := []struct {
		name string
		c    domain.RankedCandidate
		want bool
	}{
		{"gov url", domain.RankedCandidate{Metadata: domain.ChunkMetadata{URL: "https://www.GOV.UK/claim-asylum"}}, true},
		{"source url", domain.RankedCandidate{Metadata: domain.ChunkMetadata{SourceURL: "https://gov.uk/x"}}, true},
		{"gov source", domain.RankedCandidate{Metadata: domain.ChunkMetadata{Source: "GOV.UK"}}, true},
		{"home office text", domain.RankedCandidate{Text: "Write to the Home Office."}, true},
		{"uk word", domain.RankedCandidate{Text: "rules in the UK may change"}, true},
		{"other", domain.RankedCandidate{Text: "Rules in France."}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.InScope([]domain.RankedCandidate{tt.c}); got != tt.want {
				t.Errorf("InScope = %v, want %v", got, tt.want)
			}
		})
	}
	if p.InScope(nil) {
		t.Error("no candidates should be out of scope")
	}
}

func TestUK_Fallback(t *testing.T) {
	p := NewUK()
	if got := p.Fallback("How do I find a lawyer?"); !strings.HasPrefix(got, "I do not have enough UK-specific evidence") {
		t.Errorf("english fallback: %q", got)
	}
	if got := p.Fallback("Avukat nasıl bulurum?"); !strings.HasPrefix(got, "Bu soruya") {
		t.Errorf("turkish fallback: %q", got)
	}
	if got := p.Fallback("siginma basvurusu"); !strings.HasPrefix(got, "Bu soruya") {
		t.Errorf("turkish keyword fallback: %q", got)
	}
}

func TestUK_CitationLabel(t *testing.T) {
	p := NewUK()
	pub := domain.RankedCandidate{Metadata: domain.ChunkMetadata{Publisher: "gov.uk"}}
	other := domain.RankedCandidate{Metadata: domain.ChunkMetadata{Source: "citizensadvice.org.uk"}}
	if got := p.CitationLabel([]domain.RankedCandidate{other, pub}); got != CitationGovUK {
		t.Errorf("got %q", got)
	}
	if got := p.CitationLabel([]domain.RankedCandidate{other}); got != "" {
		t.Errorf("got %q, want none", got)
	}
}

func TestUK_SafetyFlags(t *testing.T) {
	p := NewUK()
	if got := p.SafetyFlags("Never lie to the Home Office or destroy papers."); len(got) != 1 || got[0] != FlagHarmfulAdvice {
		t.Errorf("got %v", got)
	}
	got := p.SafetyFlags("Keep copies of your documents.")
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil flags, got %#v", got)
	}
}
