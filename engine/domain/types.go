// Package domain defines the core types, sentinel errors and input validation
// shared by the answer pipeline. It has no I/O and no third-party imports.
package domain

import "time"

// DefaultSector is the corpus sector used when a request does not name one.
const DefaultSector = "uk-asylum"

// Scope bounds which chunks a request may see and keys its cache entries.
type Scope struct {
	Sector          string `json:"sector"`
	SourceFilter    string `json:"source_filter,omitempty"`
	OwnerID         string `json:"owner_id,omitempty"`
	DocIndexVersion string `json:"doc_index_version"`
}

// Anonymous reports whether the scope has no requesting owner.
func (s Scope) Anonymous() bool { return s.OwnerID == "" }

// RankedCandidate is a retrieved chunk carried through rerank and assembly.
type RankedCandidate struct {
	ChunkID     string        `json:"chunk_id"`
	Text        string        `json:"text"`
	Metadata    ChunkMetadata `json:"metadata"`
	VectorScore float64       `json:"vector_score"`
	RerankScore float64       `json:"rerank_score,omitempty"`
}

// ContextItem is the observable projection of a candidate used for an answer.
type ContextItem struct {
	Score    float64       `json:"score"`
	SourceID string        `json:"source_id"`
	Text     string        `json:"text"`
	Metadata ChunkMetadata `json:"metadata"`
}

// AnswerResult is the structured output of one question-answering request.
type AnswerResult struct {
	Answer      string        `json:"answer"`
	ContextUsed []ContextItem `json:"context_used"`
	Citations   []string      `json:"citations"`
	SafetyFlags []string      `json:"safety_flags"`
	UsedCache   bool          `json:"used_cache"`
	Fallback    bool          `json:"fallback"`
}

// Role tags a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is a role-tagged message sent to a completion provider.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ConversationState is the rolling memory of a conversation.
// SummaryMessageCount is the number of turns Summary accounts for.
type ConversationState struct {
	Summary             string `json:"summary"`
	SummaryMessageCount int    `json:"summary_message_count"`
}

// Conversation is a persisted multi-turn session.
type Conversation struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Title     string    `json:"title"`
	Language  string    `json:"language"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ConversationState
}

// Message is a single persisted conversation turn.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	OwnerID        string    `json:"owner_id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}
