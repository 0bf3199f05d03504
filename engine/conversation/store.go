// Package conversation persists multi-turn sessions and their rolling
// summaries in SQLite. Every read and write is scoped to the owning user;
// a conversation that exists under another owner is reported as not found.
package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ozgurozbekuk/asylumapp/engine/domain"
)

// DefaultTitle names conversations created without a title.
const DefaultTitle = "New conversation"

// maxTitleLength bounds titles derived from a first question.
const maxTitleLength = 80

// Store is a SQLite conversation store. The schema is created by pkg/repo.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore wraps an opened, migrated database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Create starts a conversation for ownerID.
func (s *Store) Create(ctx context.Context, ownerID, title, language string) (domain.Conversation, error) {
	if strings.TrimSpace(ownerID) == "" {
		return domain.Conversation{}, fmt.Errorf("conversation: create: %w: owner is required", domain.ErrInvalidInput)
	}
	now := s.now().UTC().Truncate(time.Millisecond)
	c := domain.Conversation{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Title:     Title(title),
		Language:  Language(language),
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, owner_id, title, language, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.OwnerID, c.Title, c.Language, now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("conversation: create: %w", err)
	}
	return c, nil
}

// Get loads a conversation owned by ownerID.
func (s *Store) Get(ctx context.Context, id, ownerID string) (domain.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, title, language, summary, summary_message_count, created_at, updated_at
		FROM conversations
		WHERE id = ? AND owner_id = ?`, id, ownerID)

	var (
		c                domain.Conversation
		created, updated int64
	)
	err := row.Scan(&c.ID, &c.OwnerID, &c.Title, &c.Language, &c.Summary, &c.SummaryMessageCount, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Conversation{}, fmt.Errorf("conversation: get %s: %w", id, domain.ErrConversationNotFound)
	}
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("conversation: get %s: %w", id, err)
	}
	c.CreatedAt = time.UnixMilli(created).UTC()
	c.UpdatedAt = time.UnixMilli(updated).UTC()
	return c, nil
}

// List returns the owner's conversations, most recently active first.
func (s *Store) List(ctx context.Context, ownerID string, limit int) ([]domain.Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, title, language, summary, summary_message_count, created_at, updated_at
		FROM conversations
		WHERE owner_id = ?
		ORDER BY updated_at DESC, id
		LIMIT ?`, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("conversation: list: %w", err)
	}
	defer rows.Close()

	var out []domain.Conversation
	for rows.Next() {
		var (
			c                domain.Conversation
			created, updated int64
		)
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.Title, &c.Language, &c.Summary, &c.SummaryMessageCount, &created, &updated); err != nil {
			return nil, fmt.Errorf("conversation: list scan: %w", err)
		}
		c.CreatedAt = time.UnixMilli(created).UTC()
		c.UpdatedAt = time.UnixMilli(updated).UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

// AppendMessage stores one turn and bumps the conversation's activity time.
func (s *Store) AppendMessage(ctx context.Context, conversationID, ownerID string, role domain.Role, content string) (domain.Message, error) {
	now := s.now().UTC().Truncate(time.Millisecond)
	m := domain.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		OwnerID:        ownerID,
		Role:           role,
		Content:        content,
		CreatedAt:      now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Message{}, fmt.Errorf("conversation: append: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE conversations SET updated_at = ? WHERE id = ? AND owner_id = ?",
		now.UnixMilli(), conversationID, ownerID)
	if err != nil {
		return domain.Message{}, fmt.Errorf("conversation: append: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Message{}, fmt.Errorf("conversation: append to %s: %w", conversationID, domain.ErrConversationNotFound)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, owner_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.OwnerID, string(m.Role), m.Content, now.UnixMilli())
	if err != nil {
		return domain.Message{}, fmt.Errorf("conversation: append: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Message{}, fmt.Errorf("conversation: append: %w", err)
	}
	return m, nil
}

// ListRecentMessages returns up to limit of the newest turns, oldest first.
// A non-positive limit returns every turn.
func (s *Store) ListRecentMessages(ctx context.Context, conversationID, ownerID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, owner_id, role, content, created_at
		FROM messages
		WHERE conversation_id = ? AND owner_id = ?
		ORDER BY seq DESC
		LIMIT ?`, conversationID, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("conversation: recent messages: %w", err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		var (
			m       domain.Message
			role    string
			created int64
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.OwnerID, &role, &m.Content, &created); err != nil {
			return nil, fmt.Errorf("conversation: recent messages scan: %w", err)
		}
		m.Role = domain.Role(role)
		m.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conversation: recent messages: %w", err)
	}
	slices.Reverse(out)
	return out, nil
}

// CountMessages returns the number of stored turns.
func (s *Store) CountMessages(ctx context.Context, conversationID, ownerID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM messages WHERE conversation_id = ? AND owner_id = ?",
		conversationID, ownerID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("conversation: count messages: %w", err)
	}
	return n, nil
}

// UpdateSummary stores a new rolling summary. The recorded message count
// never decreases.
func (s *Store) UpdateSummary(ctx context.Context, conversationID, ownerID string, state domain.ConversationState) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET summary = ?, summary_message_count = MAX(summary_message_count, ?), updated_at = ?
		WHERE id = ? AND owner_id = ?`,
		state.Summary, state.SummaryMessageCount, s.now().UTC().UnixMilli(), conversationID, ownerID)
	if err != nil {
		return fmt.Errorf("conversation: update summary: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("conversation: update summary %s: %w", conversationID, domain.ErrConversationNotFound)
	}
	return nil
}

// Delete removes a conversation and its turns.
func (s *Store) Delete(ctx context.Context, id, ownerID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM conversations WHERE id = ? AND owner_id = ?", id, ownerID)
	if err != nil {
		return fmt.Errorf("conversation: delete: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("conversation: delete %s: %w", id, domain.ErrConversationNotFound)
	}
	return nil
}

// Retitle replaces a DefaultTitle with a title derived from text. It is a
// no-op for conversations that already carry a title.
func (s *Store) Retitle(ctx context.Context, id, ownerID, text string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE conversations SET title = ? WHERE id = ? AND owner_id = ? AND title = ?",
		Title(text), id, ownerID, DefaultTitle)
	if err != nil {
		return fmt.Errorf("conversation: retitle %s: %w", id, err)
	}
	return nil
}

// Language maps a requested language to "en" or "tr".
func Language(lang string) string {
	if strings.EqualFold(strings.TrimSpace(lang), "tr") {
		return "tr"
	}
	return "en"
}

// Title derives a conversation title from free text: whitespace collapsed,
// clipped to a fixed length, DefaultTitle when empty.
func Title(text string) string {
	t := strings.Join(strings.Fields(text), " ")
	if t == "" {
		return DefaultTitle
	}
	r := []rune(t)
	if len(r) > maxTitleLength {
		return strings.TrimSpace(string(r[:maxTitleLength])) + "…"
	}
	return t
}
