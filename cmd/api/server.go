package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ozgurozbekuk/asylumapp/engine/domain"
	"github.com/ozgurozbekuk/asylumapp/engine/policy"
	"github.com/ozgurozbekuk/asylumapp/engine/rag"
	"github.com/ozgurozbekuk/asylumapp/pkg/mid"
)

const maxBodyBytes = 64 << 10

type answerer interface {
	AnswerQuestion(ctx context.Context, question string, req rag.Request) (*domain.AnswerResult, error)
}

type conversations interface {
	Create(ctx context.Context, ownerID, title, language string) (domain.Conversation, error)
	Get(ctx context.Context, id, ownerID string) (domain.Conversation, error)
	List(ctx context.Context, ownerID string, limit int) ([]domain.Conversation, error)
	AppendMessage(ctx context.Context, conversationID, ownerID string, role domain.Role, content string) (domain.Message, error)
	ListRecentMessages(ctx context.Context, conversationID, ownerID string, limit int) ([]domain.Message, error)
	Retitle(ctx context.Context, id, ownerID, text string) error
	Delete(ctx context.Context, id, ownerID string) error
}

type server struct {
	rag    answerer
	convs  conversations
	logger *slog.Logger
}

func newServer(answers answerer, convs conversations, logger *slog.Logger) *server {
	if logger == nil {
		logger = slog.Default()
	}
	return &server{rag: answers, convs: convs, logger: logger}
}

func (s *server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("POST /api/ask", s.handleAsk)
	mux.HandleFunc("GET /api/conversations", s.withOwner(s.handleListConversations))
	mux.HandleFunc("POST /api/conversations", s.withOwner(s.handleCreateConversation))
	mux.HandleFunc("GET /api/conversations/{id}", s.withOwner(s.handleGetConversation))
	mux.HandleFunc("DELETE /api/conversations/{id}", s.withOwner(s.handleDeleteConversation))
	mux.HandleFunc("POST /api/conversations/{id}/messages", s.withOwner(s.handlePostMessage))
}

// --- Handlers ---

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// AskRequest is the JSON body for POST /api/ask.
type AskRequest struct {
	Question       string `json:"question"`
	Sector         string `json:"sector,omitempty"`
	SourceFilter   string `json:"source_filter,omitempty"`
	OfficialOnly   bool   `json:"official_only,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

func (s *server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.rag.AnswerQuestion(r.Context(), req.Question, rag.Request{
		Sector:         req.Sector,
		SourceFilter:   sourceFilter(req.SourceFilter, req.OfficialOnly),
		OwnerID:        owner(r),
		ConversationID: req.ConversationID,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// CreateConversationRequest is the JSON body for POST /api/conversations.
type CreateConversationRequest struct {
	Title          string `json:"title,omitempty"`
	Language       string `json:"language,omitempty"`
	InitialMessage string `json:"initial_message,omitempty"`
}

func (s *server) handleCreateConversation(w http.ResponseWriter, r *http.Request, ownerID string) {
	var req CreateConversationRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	conv, err := s.convs.Create(r.Context(), ownerID, req.Title, req.Language)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	resp := struct {
		Conversation     domain.Conversation `json:"conversation"`
		AssistantMessage *domain.Message     `json:"assistant_message,omitempty"`
	}{Conversation: conv}
	if greeting := strings.TrimSpace(req.InitialMessage); greeting != "" {
		msg, err := s.convs.AppendMessage(r.Context(), conv.ID, ownerID, domain.RoleAssistant, greeting)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		resp.AssistantMessage = &msg
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *server) handleListConversations(w http.ResponseWriter, r *http.Request, ownerID string) {
	convs, err := s.convs.List(r.Context(), ownerID, 0)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if convs == nil {
		convs = []domain.Conversation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

func (s *server) handleGetConversation(w http.ResponseWriter, r *http.Request, ownerID string) {
	id := r.PathValue("id")
	conv, err := s.convs.Get(r.Context(), id, ownerID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	msgs, err := s.convs.ListRecentMessages(r.Context(), id, ownerID, 0)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversation": conv, "messages": msgs})
}

func (s *server) handleDeleteConversation(w http.ResponseWriter, r *http.Request, ownerID string) {
	if err := s.convs.Delete(r.Context(), r.PathValue("id"), ownerID); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "conversation deleted"})
}

// MessageRequest is the JSON body for POST /api/conversations/{id}/messages.
type MessageRequest struct {
	Content      string `json:"content"`
	SourceFilter string `json:"source_filter,omitempty"`
	OfficialOnly bool   `json:"official_only,omitempty"`
}

// MessageResponse pairs the stored turns with the structured answer.
type MessageResponse struct {
	UserMessage      domain.Message       `json:"user_message"`
	AssistantMessage domain.Message       `json:"assistant_message"`
	Result           *domain.AnswerResult `json:"result"`
}

// handlePostMessage stores the question, answers it with the conversation as
// context and stores the answer.
func (s *server) handlePostMessage(w http.ResponseWriter, r *http.Request, ownerID string) {
	var req MessageRequest
	if !decode(w, r, &req) {
		return
	}
	question, err := domain.ValidateQuestion(req.Content)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ctx := r.Context()
	id := r.PathValue("id")

	if _, err := s.convs.Get(ctx, id, ownerID); err != nil {
		s.fail(w, r, err)
		return
	}
	userMsg, err := s.convs.AppendMessage(ctx, id, ownerID, domain.RoleUser, question)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	res, err := s.rag.AnswerQuestion(ctx, question, rag.Request{
		SourceFilter:   sourceFilter(req.SourceFilter, req.OfficialOnly),
		OwnerID:        ownerID,
		ConversationID: id,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	assistantMsg, err := s.convs.AppendMessage(ctx, id, ownerID, domain.RoleAssistant, res.Answer)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.convs.Retitle(ctx, id, ownerID, question); err != nil {
		s.logger.Warn("conversation retitle failed", "conversation_id", id, "err", err)
	}
	writeJSON(w, http.StatusCreated, MessageResponse{UserMessage: userMsg, AssistantMessage: assistantMsg, Result: res})
}

// --- Helpers ---

type ownerHandler func(w http.ResponseWriter, r *http.Request, ownerID string)

// withOwner rejects requests that do not identify a user.
func (s *server) withOwner(h ownerHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := owner(r)
		if id == "" {
			writeError(w, http.StatusUnauthorized, "missing "+mid.HeaderOwnerID+" header")
			return
		}
		h(w, r, id)
	}
}

func owner(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(mid.HeaderOwnerID))
}

// sourceFilter resolves the official-only switch to the GOV.UK source.
func sourceFilter(filter string, officialOnly bool) string {
	if officialOnly {
		return policy.CitationGovUK
	}
	return strings.TrimSpace(filter)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// statusOf maps pipeline errors onto HTTP statuses.
func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrConversationNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrRetrievalEmpty):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrProviderTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrProviderFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

var publicMessages = map[int]string{
	http.StatusNotFound:            "conversation not found",
	http.StatusServiceUnavailable:  "no guidance documents are available for this request",
	http.StatusGatewayTimeout:      "the language model timed out, please try again",
	http.StatusBadGateway:          "the language model is unavailable, please try again",
	http.StatusInternalServerError: "unexpected error while answering the question",
}

func (s *server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	msg := publicMessages[status]
	if status == http.StatusBadRequest {
		msg = "invalid input"
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			msg = ve.Field + " " + ve.Reason
		}
	}

	attrs := []any{"status", status, "stage", domain.StageOf(err), "request_id", mid.RequestIDFrom(r.Context()), "err", err}
	if rag.IsClientError(err) {
		s.logger.Info("request rejected", attrs...)
	} else {
		s.logger.Error("request failed", attrs...)
	}
	writeError(w, status, msg)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
