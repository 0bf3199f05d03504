// Package memory maintains the rolling summary of a conversation so long
// sessions can be answered with bounded context.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ozgurozbekuk/asylumapp/engine/domain"
	"github.com/ozgurozbekuk/asylumapp/engine/prompt"
)

// Store reads turns and persists summaries.
type Store interface {
	// ListRecentMessages returns up to limit of the newest turns, oldest first.
	ListRecentMessages(ctx context.Context, conversationID, ownerID string, limit int) ([]domain.Message, error)
	UpdateSummary(ctx context.Context, conversationID, ownerID string, state domain.ConversationState) error
}

// Completer generates text from chat messages.
type Completer interface {
	Complete(ctx context.Context, messages []domain.ChatMessage, temperature float64, maxTokens int) (string, error)
}

// Options controls when and how summaries are produced.
type Options struct {
	// InitialAfter triggers the first summary once the turn count exceeds it.
	InitialAfter int
	// RefreshEvery triggers a new summary after this many turns since the last.
	RefreshEvery int
	// MaxMessages bounds the transcript sent for summarization.
	MaxMessages int
	Temperature float64
	MaxTokens   int
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		InitialAfter: 12,
		RefreshEvery: 6,
		MaxMessages:  30,
		Temperature:  0.2,
		MaxTokens:    200,
	}
}

// Service refreshes conversation summaries.
type Service struct {
	store  Store
	llm    Completer
	opts   Options
	logger *slog.Logger
}

// New creates a memory Service. Count and token fields that are zero or
// negative take their DefaultOptions value; a zero Temperature is kept.
func New(store Store, llm Completer, opts Options, logger *slog.Logger) *Service {
	def := DefaultOptions()
	if opts.InitialAfter <= 0 {
		opts.InitialAfter = def.InitialAfter
	}
	if opts.RefreshEvery <= 0 {
		opts.RefreshEvery = def.RefreshEvery
	}
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = def.MaxMessages
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = def.MaxTokens
	}
	if opts.Temperature < 0 {
		opts.Temperature = def.Temperature
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, llm: llm, opts: opts, logger: logger}
}

// Due reports whether state needs a new summary at total turns.
func (s *Service) Due(state domain.ConversationState, total int) bool {
	if state.Summary == "" {
		return total > s.opts.InitialAfter
	}
	return total >= state.SummaryMessageCount+s.opts.RefreshEvery
}

// EnsureSummary returns conv's state, resummarizing first when Due. On
// failure the previous state is returned with an error wrapping
// domain.ErrSummarization.
func (s *Service) EnsureSummary(ctx context.Context, conv domain.Conversation, total int) (domain.ConversationState, error) {
	prev := conv.ConversationState
	if !s.Due(prev, total) {
		return prev, nil
	}

	msgs, err := s.store.ListRecentMessages(ctx, conv.ID, conv.OwnerID, s.opts.MaxMessages)
	if err != nil {
		return prev, summarizeErr("list messages", err)
	}

	out, err := s.llm.Complete(ctx, []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: prompt.SummaryInstruction},
		{Role: domain.RoleUser, Content: prompt.Transcript(msgs)},
	}, s.opts.Temperature, s.opts.MaxTokens)
	if err != nil {
		return prev, summarizeErr("complete", err)
	}

	next := domain.ConversationState{
		Summary:             strings.TrimSpace(out),
		SummaryMessageCount: max(total, prev.SummaryMessageCount),
	}
	if next.Summary == "" {
		next.Summary = prev.Summary
	}
	if err := s.store.UpdateSummary(ctx, conv.ID, conv.OwnerID, next); err != nil {
		return prev, summarizeErr("update summary", err)
	}

	s.logger.Debug("memory: summary refreshed",
		"conversation_id", conv.ID,
		"messages", len(msgs),
		"summary_message_count", next.SummaryMessageCount)
	return next, nil
}

func summarizeErr(op string, err error) error {
	return domain.NewStageError("summarize", fmt.Errorf("%w: %s: %w", domain.ErrSummarization, op, err))
}
