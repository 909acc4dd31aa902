// Package protocol defines the WebSocket message types and structures used for
// communication between the client and server. All messages are serialized as
// JSON and follow a consistent envelope format with a type discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeAuthenticate   = "authenticate"
	TypeJoinRoom       = "join_room"
	TypeLeaveRoom      = "leave_room"
	TypeSendMessage    = "send_message"
	TypeMarkRead       = "mark_read"
	TypeGetChatHistory = "get_chat_history"
	TypePing           = "ping"
)

// Server -> Client message types.
const (
	TypeAuthenticated      = "authenticated"
	TypeAuthError          = "auth_error"
	TypeNewMessage         = "new_message"
	TypeMessageSent        = "message_sent"
	TypeMessageBlocked     = "message_blocked"
	TypeMessageError       = "message_error"
	TypeChatHistory        = "chat_history"
	TypeChatError          = "chat_error"
	TypeJoinedRoom         = "joined_room"
	TypeLeftRoom           = "left_room"
	TypeMessagesMarkedRead = "messages_marked_read"
	TypeNotification       = "notification"
	TypeError              = "error"
	TypePong               = "pong"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	// Capture the full raw message for deferred parsing.
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	// Extract only the type field.
	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// AuthenticateMsg binds the connection to a platform user id.
type AuthenticateMsg struct {
	Type   string `json:"type"`
	UserID int64  `json:"user_id"`
}

// JoinRoomMsg is sent by the client to join a broadcast room. Any room id is
// joinable; a room exists only as long as at least one connection is in it.
type JoinRoomMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

// LeaveRoomMsg is sent by the client to leave a room.
type LeaveRoomMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

// SendMessageMsg carries one outbound chat message. At most one of
// RecipientID and RoomID may be set; with neither set the message targets
// the admin channel.
type SendMessageMsg struct {
	Type        string `json:"type"`
	Content     string `json:"content"`
	RecipientID int64  `json:"recipient_id,omitempty"`
	RoomID      string `json:"room_id,omitempty"`
	MessageType string `json:"message_type,omitempty"`
}

// MarkReadMsg marks the listed message ids as read. Only messages addressed
// to the caller are affected.
type MarkReadMsg struct {
	Type       string  `json:"type"`
	MessageIDs []int64 `json:"message_ids"`
}

// GetChatHistoryMsg requests paginated message history for a scope: a room,
// a direct-message pair, or (with neither set) the caller's admin channel.
type GetChatHistoryMsg struct {
	Type        string `json:"type"`
	RecipientID int64  `json:"recipient_id,omitempty"`
	RoomID      string `json:"room_id,omitempty"`
	Limit       int    `json:"limit,omitempty"`
	Offset      int    `json:"offset,omitempty"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// MessagePayload is the wire representation of a persisted chat message. It
// appears inside new_message, message_sent, and chat_history responses.
type MessagePayload struct {
	ID               int64     `json:"id"`
	SenderID         int64     `json:"sender_id"`
	RecipientID      int64     `json:"recipient_id,omitempty"`
	RoomID           string    `json:"room_id,omitempty"`
	Content          string    `json:"content"`
	OriginalContent  string    `json:"original_content,omitempty"`
	IsModerated      bool      `json:"is_moderated"`
	ModerationAction string    `json:"moderation_action"`
	MessageType      string    `json:"message_type"`
	IsRead           bool      `json:"is_read"`
	CreatedAt        time.Time `json:"created_at"`
	SenderName       string    `json:"sender_name,omitempty"`
	SenderAvatar     string    `json:"sender_avatar,omitempty"`
}

// AuthenticatedMsg confirms a successful authenticate call.
type AuthenticatedMsg struct {
	Type   string `json:"type"`
	UserID int64  `json:"user_id"`
	Role   string `json:"role"`
}

// AuthErrorMsg reports an authentication failure. Reason is a stable code
// such as "unknown_user" or "inactive_account".
type AuthErrorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

// NewMessageMsg delivers a message to a recipient or room member.
type NewMessageMsg struct {
	Type string `json:"type"`
	MessagePayload
}

// MessageSentMsg acknowledges a persisted message back to its sender.
type MessageSentMsg struct {
	Type string `json:"type"`
	MessagePayload
}

// MessageBlockedMsg tells the sender their message was rejected by moderation.
type MessageBlockedMsg struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
	Action string `json:"action"`
}

// MessageErrorMsg reports a send failure (validation or persistence).
type MessageErrorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ChatHistoryMsg carries one page of message history, oldest first.
type ChatHistoryMsg struct {
	Type     string           `json:"type"`
	Messages []MessagePayload `json:"messages"`
}

// ChatErrorMsg reports a history query failure.
type ChatErrorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// JoinedRoomMsg confirms room membership.
type JoinedRoomMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

// LeftRoomMsg confirms leaving a room.
type LeftRoomMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

// MessagesMarkedReadMsg confirms which message ids were marked read.
type MessagesMarkedReadMsg struct {
	Type       string  `json:"type"`
	MessageIDs []int64 `json:"message_ids"`
}

// NotificationMsg is an out-of-band push, e.g. to the admin room.
type NotificationMsg struct {
	Type    string `json:"type"`
	Event   string `json:"event"`
	Message string `json:"message,omitempty"`
}

// ErrorMsg is sent by the server to communicate a protocol-level error
// condition (parse failure, unsupported type).
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeAuthenticate:
		var m AuthenticateMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeJoinRoom:
		var m JoinRoomMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeLeaveRoom:
		var m LeaveRoomMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSendMessage:
		var m SendMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMarkRead:
		var m MarkReadMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeGetChatHistory:
		var m GetChatHistoryMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the server message structs; this function marshals it to
// JSON, injects the type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	// Marshal the payload struct to a generic map so we can ensure the "type"
	// field is present and correct.
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
