package prompt

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/ozgurozbekuk/asylumapp/engine/domain"
)

func cands(texts ...string) []domain.RankedCandidate {
	out := make([]domain.RankedCandidate, len(texts))
	for i, t := range texts {
		out[i] = domain.RankedCandidate{ChunkID: t, Text: t}
	}
	return out
}

func TestAssemble_SingleShortChunkVerbatim(t *testing.T) {
	text := "You must claim asylum as soon as you arrive in the UK."
	got := Assemble(cands(text), DefaultMaxContextChars)
	if got != "Excerpt:\n"+text {
		t.Fatalf("got %q", got)
	}
	if strings.Contains(got, "truncated") {
		t.Fatal("unexpected truncation marker")
	}
}

func TestAssemble_OrderAndSeparator(t *testing.T) {
	got := Assemble(cands("first", "second", "third"), DefaultMaxContextChars)
	want := "Excerpt:\nfirst\n\n---\n\nExcerpt:\nsecond\n\n---\n\nExcerpt:\nthird"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestAssemble_TruncatesOverflow(t *testing.T) {
	long := strings.Repeat("a", 100)
	got := Assemble(cands("short", long), 60)
	// "Excerpt:\nshort" (14) + sep (7) = 21; remaining = 60-21-9 = 30
	want := "Excerpt:\nshort\n\n---\n\nExcerpt:\n" + strings.Repeat("a", 30) + truncatedMarker
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestAssemble_Bound(t *testing.T) {
	texts := make([]string, 10)
	for i := range texts {
		texts[i] = strings.Repeat("x", 1500)
	}
	for _, budget := range []int{0, 5, 100, 1000, DefaultMaxContextChars} {
		got := Assemble(cands(texts...), budget)
		limit := budget + utf8.RuneCountInString(truncatedMarker)
		if n := utf8.RuneCountInString(got); n > limit {
			t.Errorf("budget %d: length %d exceeds %d", budget, n, limit)
		}
	}
}

func TestAssemble_CountsRunes(t *testing.T) {
	got := Assemble(cands(strings.Repeat("ş", 50)), 20)
	want := "Excerpt:\n" + strings.Repeat("ş", 11) + truncatedMarker
	if got != want {
		t.Fatalf("got %q", got)
	}
}

func TestUserMessage(t *testing.T) {
	got := UserMessage("Excerpt:\nctx", "What now?", "")
	if strings.Contains(got, "Conversation context:") {
		t.Error("empty conversation context should be omitted")
	}
	if !strings.HasSuffix(got, "Retrieved excerpts:\nExcerpt:\nctx\nUser question:\nWhat now?") {
		t.Errorf("unexpected tail: %q", got)
	}

	withConv := UserMessage("c", "q", "User: hi")
	if !strings.Contains(withConv, "Conversation context:\nUser: hi\n\nRetrieved excerpts:") {
		t.Errorf("conversation block missing: %q", withConv)
	}
}

func TestConversationContext(t *testing.T) {
	recent := []domain.Message{
		{Role: domain.RoleUser, Content: "I arrived last week."},
		{Role: domain.RoleAssistant, Content: strings.Repeat("z", 500)},
	}
	got := ConversationContext("User is awaiting interview.", recent)
	lines := strings.Split(got, "\n")
	if len(lines) != 6 {
		t.Fatalf("lines = %d: %q", len(lines), got)
	}
	if lines[1] != "User is awaiting interview." || lines[2] != "" || lines[3] != "Recent turns (most recent last):" {
		t.Errorf("unexpected header: %q", lines[:4])
	}
	if lines[4] != "User: I arrived last week." {
		t.Errorf("line 4 = %q", lines[4])
	}
	if lines[5] != "Assistant: "+strings.Repeat("z", MaxTurnChars) {
		t.Errorf("assistant turn not clipped")
	}
	if ConversationContext("", nil) != "" {
		t.Error("expected empty context")
	}
}

func TestTranscript(t *testing.T) {
	got := Transcript([]domain.Message{
		{Role: domain.RoleUser, Content: "a"},
		{Role: domain.RoleSystem, Content: "b"},
		{Role: domain.RoleAssistant, Content: "c"},
	})
	if got != "User: a\nUser: b\nAssistant: c" {
		t.Errorf("got %q", got)
	}
}

func TestSystemPromptMentionsCitationRule(t *testing.T) {
	if !strings.Contains(SystemPrompt(), "'Source: GOV.UK'") {
		t.Error("system prompt lost the citation rule")
	}
}
