// Package chat implements the message pipeline: validation, routing through
// moderation, persistence, fan-out, and paginated history.
package chat

import (
	"time"

	"github.com/inkwell/chat-core/internal/protocol"
)

// DefaultMessageType is used when the client omits message_type.
const DefaultMessageType = "text"

// Message is one persisted chat message. At most one of RecipientID and
// RoomID is set; with neither set the message belongs to the sender's admin
// channel. Content holds the post-moderation text; OriginalContent is
// populated only when moderation altered the text. Rows are created once on
// send and mutated only to flip IsRead.
type Message struct {
	ID               int64
	SenderID         int64
	RecipientID      int64  // 0 = not a direct message
	RoomID           string // "" = not a room message
	Content          string
	OriginalContent  string // "" = moderation did not alter the text
	IsModerated      bool
	ModerationAction string
	MessageType      string
	IsRead           bool
	CreatedAt        time.Time
}

// IsDirect reports whether the message targets a single recipient.
func (m *Message) IsDirect() bool { return m.RecipientID != 0 }

// IsRoom reports whether the message targets a room.
func (m *Message) IsRoom() bool { return m.RoomID != "" }

// ScopeKey returns the delivery scope identifier used for the
// recent-message buffer: the room id, the unordered DM pair, or the
// sender's admin channel.
func (m *Message) ScopeKey() string {
	switch {
	case m.IsRoom():
		return "room:" + m.RoomID
	case m.IsDirect():
		return dmScopeKey(m.SenderID, m.RecipientID)
	default:
		return adminScopeKey(m.SenderID)
	}
}

// Payload converts the message to its wire representation.
func (m *Message) Payload() protocol.MessagePayload {
	return protocol.MessagePayload{
		ID:               m.ID,
		SenderID:         m.SenderID,
		RecipientID:      m.RecipientID,
		RoomID:           m.RoomID,
		Content:          m.Content,
		OriginalContent:  m.OriginalContent,
		IsModerated:      m.IsModerated,
		ModerationAction: m.ModerationAction,
		MessageType:      m.MessageType,
		IsRead:           m.IsRead,
		CreatedAt:        m.CreatedAt,
	}
}
