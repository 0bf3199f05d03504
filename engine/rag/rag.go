// Package rag orchestrates the answer pipeline. It accepts a user question,
// retrieves and reranks scoped evidence, assembles a bounded context, folds
// in conversation memory, and either calls the completion provider or
// short-circuits to a fallback when the evidence is out of scope. Every
// answer is sanitized, labelled and screened before it is returned.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ozgurozbekuk/asylumapp/engine/domain"
	"github.com/ozgurozbekuk/asylumapp/engine/policy"
	"github.com/ozgurozbekuk/asylumapp/engine/prompt"
)

var tracer = otel.Tracer("github.com/ozgurozbekuk/asylumapp/engine/rag")

// Retriever returns the top vector candidates for a question.
type Retriever interface {
	Retrieve(ctx context.Context, question string, scope domain.Scope) ([]domain.RankedCandidate, bool, error)
}

// Reranker narrows vector candidates to the final selection.
type Reranker interface {
	Rerank(question string, candidates []domain.RankedCandidate) []domain.RankedCandidate
}

// Completer generates text from chat messages.
type Completer interface {
	Complete(ctx context.Context, messages []domain.ChatMessage, temperature float64, maxTokens int) (string, error)
}

// ConversationStore reads conversation state and turns.
type ConversationStore interface {
	Get(ctx context.Context, conversationID, ownerID string) (domain.Conversation, error)
	ListRecentMessages(ctx context.Context, conversationID, ownerID string, limit int) ([]domain.Message, error)
	CountMessages(ctx context.Context, conversationID, ownerID string) (int, error)
}

// Summarizer refreshes a conversation's rolling summary when due.
type Summarizer interface {
	EnsureSummary(ctx context.Context, conv domain.Conversation, total int) (domain.ConversationState, error)
}

// Recorder receives pipeline measurements.
type Recorder interface {
	ObserveStage(stage string, d time.Duration)
	ObserveAnswer(fallback bool, flags []string)
}

// Notifier is told about answers that raised safety flags.
type Notifier interface {
	NotifyFlagged(ctx context.Context, ev FlaggedAnswer) error
}

// FlaggedAnswer is the monitoring event for a flagged answer.
type FlaggedAnswer struct {
	OwnerID        string    `json:"owner_id,omitempty"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Question       string    `json:"question"`
	Answer         string    `json:"answer"`
	Flags          []string  `json:"flags"`
	At             time.Time `json:"at"`
}

// Deps are the collaborators of a Service. Conversations, Summarizer,
// Recorder and Notifier are optional.
type Deps struct {
	Retriever     Retriever
	Reranker      Reranker
	LLM           Completer
	Policy        policy.Policy
	Conversations ConversationStore
	Summarizer    Summarizer
	Recorder      Recorder
	Notifier      Notifier
}

// Options configures the pipeline behaviour.
type Options struct {
	MaxContextChars int
	RecentTurns     int
	Temperature     float64
	// MaxTokens caps the answer length; 0 leaves it to the provider.
	MaxTokens       int
	DocIndexVersion string
	DefaultSector   string
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxContextChars: prompt.DefaultMaxContextChars,
		RecentTurns:     8,
		Temperature:     0.1,
		DocIndexVersion: "v1",
		DefaultSector:   domain.DefaultSector,
	}
}

// Request scopes one question.
type Request struct {
	Sector         string
	SourceFilter   string
	OwnerID        string
	ConversationID string
}

// Service is the answer orchestration service.
type Service struct {
	deps   Deps
	opts   Options
	logger *slog.Logger
}

// New creates a new Service.
func New(deps Deps, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Policy == nil {
		deps.Policy = policy.NewUK()
	}
	if opts.DefaultSector == "" {
		opts.DefaultSector = domain.DefaultSector
	}
	return &Service{deps: deps, opts: opts, logger: logger}
}

// AnswerQuestion runs the full pipeline for a user question.
func (s *Service) AnswerQuestion(ctx context.Context, question string, req Request) (*domain.AnswerResult, error) {
	ctx, span := tracer.Start(ctx, "rag.AnswerQuestion")
	defer span.End()

	q, err := domain.ValidateQuestion(question)
	if err != nil {
		return nil, fail(span, err)
	}
	scope := s.scope(req)
	span.SetAttributes(
		attribute.String("rag.sector", scope.Sector),
		attribute.Bool("rag.anonymous", scope.Anonymous()),
	)

	// 1. Retrieve (cache or compute).
	var (
		top       []domain.RankedCandidate
		usedCache bool
	)
	err = s.stage(ctx, "retrieve", func(ctx context.Context) error {
		var err error
		top, usedCache, err = s.deps.Retriever.Retrieve(ctx, q, scope)
		return err
	})
	if err != nil {
		return nil, fail(span, fmt.Errorf("rag: retrieve: %w", err))
	}
	if len(top) == 0 {
		return nil, fail(span, fmt.Errorf("rag: retrieve: %w", domain.ErrRetrievalEmpty))
	}
	span.SetAttributes(attribute.Bool("rag.used_cache", usedCache))

	// 2. Rerank and assemble.
	selected := s.deps.Reranker.Rerank(q, top)
	contextText := prompt.Assemble(selected, s.opts.MaxContextChars)
	label := s.deps.Policy.CitationLabel(selected)
	inScope := s.deps.Policy.InScope(selected)

	// 3. Conversation memory.
	var convContext string
	err = s.stage(ctx, "conversation", func(ctx context.Context) error {
		var err error
		convContext, err = s.conversationContext(ctx, req)
		return err
	})
	if err != nil {
		return nil, fail(span, fmt.Errorf("rag: conversation: %w", err))
	}

	// 4. Generate or fall back.
	var raw string
	if !inScope {
		raw = s.deps.Policy.Fallback(q)
	} else {
		err = s.stage(ctx, "complete", func(ctx context.Context) error {
			var err error
			raw, err = s.deps.LLM.Complete(ctx, []domain.ChatMessage{
				{Role: domain.RoleSystem, Content: prompt.SystemPrompt()},
				{Role: domain.RoleUser, Content: prompt.UserMessage(contextText, q, convContext)},
			}, s.opts.Temperature, s.opts.MaxTokens)
			return domain.ProviderError("complete", err)
		})
		if err != nil {
			return nil, fail(span, fmt.Errorf("rag: %w", err))
		}
	}

	// 5. Post-process.
	answer := s.deps.Policy.Sanitize(raw, q)
	answer = s.deps.Policy.AppendCitation(answer, label)
	flags := s.deps.Policy.SafetyFlags(answer)

	result := &domain.AnswerResult{
		Answer:      answer,
		ContextUsed: contextItems(selected),
		Citations:   []string{},
		SafetyFlags: flags,
		UsedCache:   usedCache,
		Fallback:    !inScope,
	}
	if label != "" {
		result.Citations = append(result.Citations, label)
	}

	if s.deps.Recorder != nil {
		s.deps.Recorder.ObserveAnswer(result.Fallback, flags)
	}
	if len(flags) > 0 {
		s.notify(ctx, req, q, answer, flags)
	}
	s.logDebug(q, usedCache, top, selected)
	span.SetAttributes(
		attribute.Bool("rag.fallback", result.Fallback),
		attribute.Int("rag.safety_flags", len(flags)),
	)
	return result, nil
}

func (s *Service) scope(req Request) domain.Scope {
	sector := strings.TrimSpace(req.Sector)
	if sector == "" {
		sector = s.opts.DefaultSector
	}
	return domain.Scope{
		Sector:          sector,
		SourceFilter:    strings.TrimSpace(req.SourceFilter),
		OwnerID:         req.OwnerID,
		DocIndexVersion: s.opts.DocIndexVersion,
	}
}

// conversationContext loads the recent turns and the (possibly refreshed)
// summary. Summarization failures are logged and the stale summary is used.
func (s *Service) conversationContext(ctx context.Context, req Request) (string, error) {
	if req.ConversationID == "" || req.OwnerID == "" || s.deps.Conversations == nil {
		return "", nil
	}
	store := s.deps.Conversations

	conv, err := store.Get(ctx, req.ConversationID, req.OwnerID)
	if err != nil {
		return "", err
	}
	recent, err := store.ListRecentMessages(ctx, conv.ID, req.OwnerID, s.opts.RecentTurns)
	if err != nil {
		return "", fmt.Errorf("recent messages: %w", err)
	}
	total, err := store.CountMessages(ctx, conv.ID, req.OwnerID)
	if err != nil {
		return "", fmt.Errorf("count messages: %w", err)
	}

	state := conv.ConversationState
	if s.deps.Summarizer != nil {
		next, err := s.deps.Summarizer.EnsureSummary(ctx, conv, total)
		if err != nil {
			s.logger.Warn("rag: summarization failed, continuing with previous summary",
				"conversation_id", conv.ID, "err", err)
		} else {
			state = next
		}
	}
	return prompt.ConversationContext(state.Summary, recent), nil
}

// stage runs fn inside a child span and reports its latency.
func (s *Service) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := tracer.Start(ctx, "rag."+name)
	defer span.End()
	start := time.Now()
	err := fn(ctx)
	if s.deps.Recorder != nil {
		s.deps.Recorder.ObserveStage(name, time.Since(start))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, name+" failed")
	}
	return err
}

func (s *Service) notify(ctx context.Context, req Request, question, answer string, flags []string) {
	if s.deps.Notifier == nil {
		return
	}
	ev := FlaggedAnswer{
		OwnerID:        req.OwnerID,
		ConversationID: req.ConversationID,
		Question:       clip(question, 200),
		Answer:         answer,
		Flags:          flags,
		At:             time.Now().UTC(),
	}
	if err := s.deps.Notifier.NotifyFlagged(ctx, ev); err != nil {
		s.logger.Warn("rag: flagged answer notification failed", "err", err)
	}
}

type scored struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

func (s *Service) logDebug(question string, usedCache bool, top, selected []domain.RankedCandidate) {
	if !s.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	top5 := make([]scored, len(top))
	for i, c := range top {
		top5[i] = scored{ID: c.ChunkID, Score: c.VectorScore}
	}
	final := make([]scored, len(selected))
	for i, c := range selected {
		final[i] = scored{ID: c.ChunkID, Score: c.RerankScore}
	}
	s.logger.Debug("rag query debug",
		"query", clip(question, 200),
		"used_cache", usedCache,
		"top", top5,
		"final", final)
}

func contextItems(selected []domain.RankedCandidate) []domain.ContextItem {
	items := make([]domain.ContextItem, len(selected))
	for i, c := range selected {
		items[i] = domain.ContextItem{
			Score:    c.VectorScore,
			SourceID: c.Metadata.DocID,
			Text:     c.Text,
			Metadata: c.Metadata,
		}
	}
	return items
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func clip(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// IsClientError reports whether err was caused by the request itself.
func IsClientError(err error) bool {
	return errors.Is(err, domain.ErrInvalidInput) || errors.Is(err, domain.ErrConversationNotFound)
}
