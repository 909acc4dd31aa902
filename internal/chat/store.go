package chat

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// HistoryScope selects which messages a history query covers.
type HistoryScope int

const (
	// ScopeRoom matches messages sent to one room.
	ScopeRoom HistoryScope = iota
	// ScopeDirect matches the either-direction pair between two users.
	ScopeDirect
	// ScopeAdminChannel matches messages where the caller is sender with no
	// recipient or room (outbound to admins) or the caller is recipient
	// (inbound from admins).
	ScopeAdminChannel
)

// HistoryQuery describes one paginated history request. Results are
// newest-first; callers reverse for chronological display.
type HistoryQuery struct {
	Scope  HistoryScope
	RoomID string // ScopeRoom
	UserA  int64  // ScopeDirect: caller; ScopeAdminChannel: caller
	UserB  int64  // ScopeDirect: the other party
	Limit  int
	Offset int
}

// Store persists messages in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a message store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const messageColumns = `id, sender_id, COALESCE(recipient_id, 0), COALESCE(room_id, ''),
	content, COALESCE(original_content, ''), is_moderated, moderation_action,
	message_type, is_read, created_at`

// Insert persists a new message and fills in its ID and CreatedAt.
func (s *Store) Insert(ctx context.Context, m *Message) error {
	const query = `
		INSERT INTO messages
			(sender_id, recipient_id, room_id, content, original_content,
			 is_moderated, moderation_action, message_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`

	var recipientID sql.NullInt64
	if m.RecipientID != 0 {
		recipientID = sql.NullInt64{Int64: m.RecipientID, Valid: true}
	}
	var roomID sql.NullString
	if m.RoomID != "" {
		roomID = sql.NullString{String: m.RoomID, Valid: true}
	}
	var originalContent sql.NullString
	if m.OriginalContent != "" {
		originalContent = sql.NullString{String: m.OriginalContent, Valid: true}
	}

	err := s.db.QueryRowContext(ctx, query,
		m.SenderID,
		recipientID,
		roomID,
		m.Content,
		originalContent,
		m.IsModerated,
		m.ModerationAction,
		m.MessageType,
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return fmt.Errorf("chat: insert message: %w", err)
	}
	return nil
}

// MarkRead sets is_read on the subset of ids addressed to userID and
// returns that subset. Re-marking already-read messages is a no-op with the
// same observable result, so the call is idempotent.
func (s *Store) MarkRead(ctx context.Context, userID int64, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	const query = `
		UPDATE messages
		SET is_read = TRUE
		WHERE id = ANY($1)
		  AND recipient_id = $2
		RETURNING id`

	rows, err := s.db.QueryContext(ctx, query, pq.Array(ids), userID)
	if err != nil {
		return nil, fmt.Errorf("chat: mark read: %w", err)
	}
	defer rows.Close()

	var marked []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("chat: mark read scan: %w", err)
		}
		marked = append(marked, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chat: mark read rows: %w", err)
	}
	return marked, nil
}

// History returns one page of messages for the query scope, newest first.
func (s *Store) History(ctx context.Context, q HistoryQuery) ([]Message, error) {
	var (
		query string
		args  []interface{}
	)

	switch q.Scope {
	case ScopeRoom:
		query = `
			SELECT ` + messageColumns + `
			FROM messages
			WHERE room_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2 OFFSET $3`
		args = []interface{}{q.RoomID, q.Limit, q.Offset}

	case ScopeDirect:
		query = `
			SELECT ` + messageColumns + `
			FROM messages
			WHERE (sender_id = $1 AND recipient_id = $2)
			   OR (sender_id = $2 AND recipient_id = $1)
			ORDER BY created_at DESC, id DESC
			LIMIT $3 OFFSET $4`
		args = []interface{}{q.UserA, q.UserB, q.Limit, q.Offset}

	case ScopeAdminChannel:
		query = `
			SELECT ` + messageColumns + `
			FROM messages
			WHERE (sender_id = $1 AND recipient_id IS NULL AND room_id IS NULL)
			   OR recipient_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2 OFFSET $3`
		args = []interface{}{q.UserA, q.Limit, q.Offset}

	default:
		return nil, fmt.Errorf("chat: unknown history scope %d", q.Scope)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("chat: query history: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		err := rows.Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.RoomID,
			&m.Content, &m.OriginalContent, &m.IsModerated, &m.ModerationAction,
			&m.MessageType, &m.IsRead, &m.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("chat: scan history row: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chat: history rows: %w", err)
	}
	return messages, nil
}
