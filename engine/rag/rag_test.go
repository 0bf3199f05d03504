package rag

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ozgurozbekuk/asylumapp/engine/cache"
	"github.com/ozgurozbekuk/asylumapp/engine/domain"
	"github.com/ozgurozbekuk/asylumapp/engine/memory"
	"github.com/ozgurozbekuk/asylumapp/engine/rerank"
	"github.com/ozgurozbekuk/asylumapp/engine/retrieval"
	"github.com/ozgurozbekuk/asylumapp/engine/semantic"
)

// --- mocks ---

type mockRetriever struct {
	results   []domain.RankedCandidate
	usedCache bool
	err       error
	lastScope domain.Scope
}

func (m *mockRetriever) Retrieve(_ context.Context, _ string, scope domain.Scope) ([]domain.RankedCandidate, bool, error) {
	m.lastScope = scope
	return m.results, m.usedCache, m.err
}

type mockCompleter struct {
	reply    string
	err      error
	calls    int
	lastMsgs []domain.ChatMessage
	lastTemp float64
}

func (m *mockCompleter) Complete(_ context.Context, msgs []domain.ChatMessage, temp float64, _ int) (string, error) {
	m.calls++
	m.lastMsgs, m.lastTemp = msgs, temp
	return m.reply, m.err
}

type mockConversations struct {
	conv     domain.Conversation
	getErr   error
	messages []domain.Message
	summary  []domain.ConversationState
}

func (m *mockConversations) Get(_ context.Context, id, owner string) (domain.Conversation, error) {
	if m.getErr != nil {
		return domain.Conversation{}, m.getErr
	}
	if id != m.conv.ID || owner != m.conv.OwnerID {
		return domain.Conversation{}, domain.ErrConversationNotFound
	}
	return m.conv, nil
}

func (m *mockConversations) ListRecentMessages(_ context.Context, _, _ string, limit int) ([]domain.Message, error) {
	if len(m.messages) > limit {
		return m.messages[len(m.messages)-limit:], nil
	}
	return m.messages, nil
}

func (m *mockConversations) CountMessages(_ context.Context, _, _ string) (int, error) {
	return len(m.messages), nil
}

func (m *mockConversations) UpdateSummary(_ context.Context, _, _ string, st domain.ConversationState) error {
	m.summary = append(m.summary, st)
	return nil
}

type mockSummarizer struct{ err error }

func (m *mockSummarizer) EnsureSummary(_ context.Context, c domain.Conversation, _ int) (domain.ConversationState, error) {
	return c.ConversationState, m.err
}

type mockRecorder struct {
	mu        sync.Mutex
	stages    []string
	fallbacks int
	answers   int
}

func (m *mockRecorder) ObserveStage(stage string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stages = append(m.stages, stage)
}

func (m *mockRecorder) ObserveAnswer(fallback bool, _ []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.answers++
	if fallback {
		m.fallbacks++
	}
}

type mockNotifier struct {
	events []FlaggedAnswer
	err    error
}

func (m *mockNotifier) NotifyFlagged(_ context.Context, ev FlaggedAnswer) error {
	m.events = append(m.events, ev)
	return m.err
}

func govChunk(id, text string, score float64) domain.RankedCandidate {
	return domain.RankedCandidate{
		ChunkID:     id,
		Text:        text,
		VectorScore: score,
		Metadata: domain.ChunkMetadata{
			Source: "gov.uk",
			URL:    "https://www.gov.uk/claim-asylum",
			DocID:  "doc-" + id,
		},
	}
}

func newService(d Deps) *Service {
	if d.Reranker == nil {
		d.Reranker = rerank.New(rerank.DefaultOptions())
	}
	return New(d, DefaultOptions(), nil)
}

// --- tests ---

func TestAnswerQuestion_Success(t *testing.T) {
	ret := &mockRetriever{results: []domain.RankedCandidate{
		govChunk("c1", "Documents you need when you claim asylum in the UK: passport, ID.", 0.9),
		govChunk("c2", "Screening interview details.", 0.8),
	}}
	llm := &mockCompleter{reply: "Bring your passport (see guide.pdf) .  \n\n\n\nAsk a solicitor."}
	rec := &mockRecorder{}
	svc := newService(Deps{Retriever: ret, LLM: llm, Recorder: rec})

	res, err := svc.AnswerQuestion(context.Background(), "  What documents do I need?  ", Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "Bring your passport (see ).\n\nAsk a solicitor.\n\nSource: GOV.UK"
	if res.Answer != want {
		t.Errorf("answer = %q, want %q", res.Answer, want)
	}
	if len(res.Citations) != 1 || res.Citations[0] != "GOV.UK" {
		t.Errorf("citations = %v", res.Citations)
	}
	if len(res.SafetyFlags) != 0 || res.Fallback {
		t.Errorf("flags=%v fallback=%v", res.SafetyFlags, res.Fallback)
	}
	if len(res.ContextUsed) != 2 || res.ContextUsed[0].SourceID != "doc-c1" || res.ContextUsed[0].Score != 0.9 {
		t.Errorf("context used = %+v", res.ContextUsed)
	}
	if ret.lastScope.Sector != domain.DefaultSector || ret.lastScope.DocIndexVersion != "v1" {
		t.Errorf("scope = %+v", ret.lastScope)
	}
	if llm.lastTemp != 0.1 || len(llm.lastMsgs) != 2 {
		t.Fatalf("completion call: temp=%v msgs=%d", llm.lastTemp, len(llm.lastMsgs))
	}
	user := llm.lastMsgs[1].Content
	if !strings.Contains(user, "Excerpt:\nDocuments you need") || !strings.HasSuffix(user, "User question:\nWhat documents do I need?") {
		t.Errorf("unexpected user message: %q", user)
	}
	if rec.answers != 1 || len(rec.stages) != 3 {
		t.Errorf("recorder answers=%d stages=%v", rec.answers, rec.stages)
	}
}

func TestAnswerQuestion_InvalidInput(t *testing.T) {
	svc := newService(Deps{Retriever: &mockRetriever{}, LLM: &mockCompleter{}})
	for _, q := range []string{"", "   ", strings.Repeat("a", domain.MaxQuestionLength+1)} {
		_, err := svc.AnswerQuestion(context.Background(), q, Request{})
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("question len %d: expected ErrInvalidInput, got %v", len(q), err)
		}
		if !IsClientError(err) {
			t.Errorf("expected client error")
		}
	}
}

func TestAnswerQuestion_EmptyCorpusEndToEnd(t *testing.T) {
	r := retrieval.New(&staticEmbedder{}, &emptyStore{}, nil, nil, retrieval.DefaultOptions(), nil)
	llm := &mockCompleter{reply: "x"}
	svc := newService(Deps{Retriever: r, LLM: llm})

	_, err := svc.AnswerQuestion(context.Background(), "What documents do I need?", Request{Sector: "uk-asylum"})
	if !errors.Is(err, domain.ErrRetrievalEmpty) {
		t.Fatalf("expected ErrRetrievalEmpty, got %v", err)
	}
	if llm.calls != 0 {
		t.Error("completion must not be called")
	}
}

func TestAnswerQuestion_RealRetrieverCitesAndCaches(t *testing.T) {
	store := semantic.NewMemoryStore(
		domain.Chunk{
			ID:        "gov-1",
			Sector:    domain.DefaultSector,
			Text:      "Documents you need when you claim asylum in the UK: passport, ID.",
			Embedding: []float32{1, 0},
			Metadata:  domain.ChunkMetadata{Source: "gov.uk", URL: "https://www.gov.uk/claim-asylum", DocID: "doc-1"},
		},
		domain.Chunk{
			ID:        "private-1",
			Sector:    domain.DefaultSector,
			Text:      "Someone else's upload.",
			Embedding: []float32{1, 0},
			Metadata:  domain.ChunkMetadata{Source: domain.SourceUserUpload, Owner: "other"},
		},
	)
	c := cache.NewMemory()
	r := retrieval.New(&staticEmbedder{}, store, c, nil, retrieval.DefaultOptions(), nil)
	llm := &mockCompleter{reply: "Bring your passport."}
	svc := newService(Deps{Retriever: r, LLM: llm})
	ctx := context.Background()

	first, err := svc.AnswerQuestion(ctx, "What documents do I need?", Request{})
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	if first.UsedCache {
		t.Error("first call reported a cache hit")
	}
	if len(first.Citations) != 1 || first.Citations[0] != "GOV.UK" {
		t.Errorf("citations = %v", first.Citations)
	}
	if len(first.ContextUsed) != 1 || first.ContextUsed[0].SourceID != "doc-1" {
		t.Errorf("context used = %+v", first.ContextUsed)
	}
	if !strings.HasSuffix(first.Answer, "Source: GOV.UK") {
		t.Errorf("answer = %q", first.Answer)
	}
	if c.Len() != 1 {
		t.Fatalf("cache entries = %d, want 1", c.Len())
	}

	second, err := svc.AnswerQuestion(ctx, "  what documents  do I need? ", Request{})
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if !second.UsedCache {
		t.Error("second call missed the cache")
	}
	if len(second.Citations) != 1 || second.Citations[0] != "GOV.UK" {
		t.Errorf("cached citations = %v", second.Citations)
	}
}

type staticEmbedder struct{}

func (staticEmbedder) Embed(context.Context, string) ([]float32, error) { return []float32{1, 0}, nil }

type emptyStore struct{}

func (emptyStore) Find(context.Context, retrieval.ChunkFilter) ([]domain.Chunk, error) { return nil, nil }

func TestAnswerQuestion_OutOfScopeFallback(t *testing.T) {
	ret := &mockRetriever{results: []domain.RankedCandidate{{ChunkID: "x", Text: "Rules in France.", VectorScore: 0.5}}}
	llm := &mockCompleter{reply: "should not be used"}
	rec := &mockRecorder{}
	svc := newService(Deps{Retriever: ret, LLM: llm, Recorder: rec})

	res, err := svc.AnswerQuestion(context.Background(), "How do I find a lawyer?", Request{})
	if err != nil {
		t.Fatal(err)
	}
	if llm.calls != 0 {
		t.Fatal("model called for out-of-scope evidence")
	}
	if !res.Fallback || !strings.HasPrefix(res.Answer, "I do not have enough UK-specific evidence") {
		t.Errorf("unexpected fallback: %+v", res)
	}
	if len(res.Citations) != 0 || strings.Contains(res.Answer, "Source:") {
		t.Errorf("fallback must not carry a citation: %+v", res)
	}
	if rec.fallbacks != 1 {
		t.Errorf("fallbacks = %d", rec.fallbacks)
	}

	res, err = svc.AnswerQuestion(context.Background(), "Avukat nasıl bulurum?", Request{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(res.Answer, "Bu soruya") {
		t.Errorf("expected Turkish fallback, got %q", res.Answer)
	}
}

func TestAnswerQuestion_ProviderErrors(t *testing.T) {
	ret := &mockRetriever{results: []domain.RankedCandidate{govChunk("c1", "text", 0.9)}}
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"timeout", context.DeadlineExceeded, domain.ErrProviderTimeout},
		{"failure", errors.New("503 from upstream"), domain.ErrProviderFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newService(Deps{Retriever: ret, LLM: &mockCompleter{err: tt.err}})
			_, err := svc.AnswerQuestion(context.Background(), "question", Request{})
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if domain.StageOf(err) != "complete" {
				t.Errorf("stage = %q", domain.StageOf(err))
			}
			if IsClientError(err) {
				t.Error("provider errors are not client errors")
			}
		})
	}
}

func TestAnswerQuestion_RetrieveErrorKeepsStage(t *testing.T) {
	ret := &mockRetriever{err: domain.ProviderError("embed", errors.New("down"))}
	svc := newService(Deps{Retriever: ret, LLM: &mockCompleter{}})

	_, err := svc.AnswerQuestion(context.Background(), "q", Request{})
	if domain.StageOf(err) != "embed" || !errors.Is(err, domain.ErrProviderFailure) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAnswerQuestion_SafetyFlagNotifies(t *testing.T) {
	ret := &mockRetriever{results: []domain.RankedCandidate{govChunk("c1", "text", 0.9)}}
	llm := &mockCompleter{reply: "Do not destroy your documents."}
	n := &mockNotifier{err: errors.New("nats down")}
	svc := newService(Deps{Retriever: ret, LLM: llm, Notifier: n})

	res, err := svc.AnswerQuestion(context.Background(), "Should I throw away papers?", Request{OwnerID: "u1"})
	if err != nil {
		t.Fatalf("notification failure must not fail request: %v", err)
	}
	if len(res.SafetyFlags) != 1 || res.SafetyFlags[0] != "potentially_harmful_advice" {
		t.Errorf("flags = %v", res.SafetyFlags)
	}
	if len(n.events) != 1 || n.events[0].OwnerID != "u1" {
		t.Errorf("events = %+v", n.events)
	}
}

func TestAnswerQuestion_ConversationContext(t *testing.T) {
	ret := &mockRetriever{results: []domain.RankedCandidate{govChunk("c1", "text", 0.9)}}
	llm := &mockCompleter{reply: "answer"}
	convs := &mockConversations{
		conv: domain.Conversation{
			ID:                "conv-1",
			OwnerID:           "u1",
			ConversationState: domain.ConversationState{Summary: "Awaiting interview."},
		},
	}
	for i := 0; i < 10; i++ {
		role := domain.RoleUser
		if i%2 == 1 {
			role = domain.RoleAssistant
		}
		convs.messages = append(convs.messages, domain.Message{Role: role, Content: "m" + string(rune('0'+i))})
	}
	svc := newService(Deps{
		Retriever:     ret,
		LLM:           llm,
		Conversations: convs,
		Summarizer:    &mockSummarizer{err: domain.ErrSummarization},
	})

	_, err := svc.AnswerQuestion(context.Background(), "next step?", Request{OwnerID: "u1", ConversationID: "conv-1"})
	if err != nil {
		t.Fatalf("summarization failure must be tolerated: %v", err)
	}
	user := llm.lastMsgs[1].Content
	if !strings.Contains(user, "Conversation summary (do NOT add new facts, only rely on this as context):\nAwaiting interview.") {
		t.Errorf("summary missing: %q", user)
	}
	if strings.Contains(user, "User: m0") || strings.Contains(user, "Assistant: m1") {
		t.Error("only the 8 most recent turns should be included")
	}
	if !strings.Contains(user, "User: m2\nAssistant: m3") || !strings.Contains(user, "Assistant: m9\n") {
		t.Errorf("recent turns missing: %q", user)
	}
}

func TestAnswerQuestion_ConversationRequiresOwner(t *testing.T) {
	ret := &mockRetriever{results: []domain.RankedCandidate{govChunk("c1", "text", 0.9)}}
	llm := &mockCompleter{reply: "answer"}
	convs := &mockConversations{getErr: errors.New("must not be called")}
	svc := newService(Deps{Retriever: ret, LLM: llm, Conversations: convs})

	if _, err := svc.AnswerQuestion(context.Background(), "q", Request{ConversationID: "conv-1"}); err != nil {
		t.Fatalf("anonymous conversation id should be ignored: %v", err)
	}
}

func TestAnswerQuestion_UnknownConversation(t *testing.T) {
	ret := &mockRetriever{results: []domain.RankedCandidate{govChunk("c1", "text", 0.9)}}
	convs := &mockConversations{conv: domain.Conversation{ID: "conv-1", OwnerID: "u1"}}
	svc := newService(Deps{Retriever: ret, LLM: &mockCompleter{}, Conversations: convs})

	_, err := svc.AnswerQuestion(context.Background(), "q", Request{OwnerID: "u2", ConversationID: "conv-1"})
	if !errors.Is(err, domain.ErrConversationNotFound) || !IsClientError(err) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestAnswerQuestion_SummaryTriggeredThroughMemory(t *testing.T) {
	ret := &mockRetriever{results: []domain.RankedCandidate{govChunk("c1", "text", 0.9)}}
	llm := &mockCompleter{reply: "summary text"}
	convs := &mockConversations{conv: domain.Conversation{ID: "conv-1", OwnerID: "u1"}}
	for i := 0; i < 13; i++ {
		convs.messages = append(convs.messages, domain.Message{Role: domain.RoleUser, Content: "hello"})
	}
	svc := newService(Deps{
		Retriever:     ret,
		LLM:           llm,
		Conversations: convs,
		Summarizer:    memory.New(convs, llm, memory.DefaultOptions(), nil),
	})

	if _, err := svc.AnswerQuestion(context.Background(), "q", Request{OwnerID: "u1", ConversationID: "conv-1"}); err != nil {
		t.Fatal(err)
	}
	if len(convs.summary) != 1 || convs.summary[0].SummaryMessageCount != 13 {
		t.Fatalf("summary not persisted: %+v", convs.summary)
	}
	if llm.calls != 2 {
		t.Errorf("expected summary + answer calls, got %d", llm.calls)
	}
	if !strings.Contains(llm.lastMsgs[1].Content, "Conversation summary (do NOT add new facts, only rely on this as context):\nsummary text") {
		t.Error("fresh summary not used in prompt")
	}
}
