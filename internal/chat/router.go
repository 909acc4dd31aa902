package chat

import (
	"context"
	"fmt"
	"log"

	"github.com/inkwell/chat-core/internal/audit"
	"github.com/inkwell/chat-core/internal/directory"
	"github.com/inkwell/chat-core/internal/metrics"
	"github.com/inkwell/chat-core/internal/moderation"
	"github.com/inkwell/chat-core/internal/protocol"
)

// Dispatcher is the delivery side of the connection registry.
type Dispatcher interface {
	ToUser(userID int64, data []byte) int
	ToRoom(roomID string, data []byte) int
	ToAdmins(data []byte) int
}

// Moderator produces a moderation decision for one piece of content. It
// never fails: service errors degrade to the deterministic result.
type Moderator interface {
	Moderate(ctx context.Context, content, contentType string, userID int64) moderation.Decision
}

// MessageStore is the persistence interface the router depends on.
type MessageStore interface {
	Insert(ctx context.Context, m *Message) error
	MarkRead(ctx context.Context, userID int64, ids []int64) ([]int64, error)
	History(ctx context.Context, q HistoryQuery) ([]Message, error)
}

// DecisionLinker ties a moderation decision record to the message row it
// covered, once that row exists. *moderation.Store implements it.
type DecisionLinker interface {
	LinkContent(ctx context.Context, decisionID, contentID int64) error
}

// ReplyFunc writes a payload back to the connection that triggered the
// operation.
type ReplyFunc func(data []byte) error

// Router handles send_message and mark_read end to end: moderate, persist,
// fan out, audit. One router instance serves all connections; per-connection
// ordering comes from the transport's inbox actors.
type Router struct {
	dispatch Dispatcher
	moderate Moderator
	store    MessageStore
	audit    audit.Sink
	buffer   *Buffer
	linker   DecisionLinker
}

// NewRouter creates a Router.
func NewRouter(dispatch Dispatcher, moderate Moderator, store MessageStore, sink audit.Sink, buffer *Buffer) *Router {
	if sink == nil {
		sink = audit.NopSink{}
	}
	if buffer == nil {
		buffer = NewBuffer()
	}
	return &Router{
		dispatch: dispatch,
		moderate: moderate,
		store:    store,
		audit:    sink,
		buffer:   buffer,
	}
}

// SetDecisionLinker registers the store used to back-reference decision
// records to persisted messages. Without one, decision rows keep a NULL
// content id.
func (r *Router) SetDecisionLinker(linker DecisionLinker) {
	r.linker = linker
}

// Send processes one send_message event from an authenticated sender.
//
// The message runs through moderation synchronously; a flagged decision is
// reported to the sender only and never persisted (the decision record is
// still written by the pipeline). Allowed messages are persisted with the
// post-moderation content and fanned out by target: recipient's connection
// plus a sender ack for direct messages, every room member (sender
// included) for room messages, and all admins plus a sender ack for the
// admin channel. A persistence failure drops the message: there is no retry
// or queue, the sender sees message_error and the loss is audited.
func (r *Router) Send(ctx context.Context, sender directory.User, reply ReplyFunc, msg protocol.SendMessageMsg) {
	if msg.RecipientID != 0 && msg.RoomID != "" {
		r.replyError(reply, "message cannot target both a recipient and a room")
		return
	}
	if err := ValidateMessage(msg.Content); err != nil {
		r.replyError(reply, err.Error())
		return
	}

	decision := r.moderate.Moderate(ctx, msg.Content, "message", sender.ID)

	if !decision.IsAllowed {
		metrics.MessagesTotal.WithLabelValues("blocked").Inc()
		r.auditFlagged(sender.ID, msg, decision)
		r.notifyAdminsFlagged(sender.ID, decision)

		data, err := protocol.NewServerMessage(protocol.TypeMessageBlocked, protocol.MessageBlockedMsg{
			Reason: decision.Reason,
			Action: string(decision.Action),
		})
		if err != nil {
			log.Printf("[router] build message_blocked: %v", err)
			return
		}
		if err := reply(data); err != nil {
			log.Printf("[router] send message_blocked to user=%d: %v", sender.ID, err)
		}
		return
	}

	m := &Message{
		SenderID:         sender.ID,
		RecipientID:      msg.RecipientID,
		RoomID:           msg.RoomID,
		Content:          decision.Content(msg.Content),
		IsModerated:      decision.Action != moderation.ActionApproved,
		ModerationAction: string(decision.Action),
		MessageType:      msg.MessageType,
	}
	if m.MessageType == "" {
		m.MessageType = DefaultMessageType
	}
	if m.Content != msg.Content {
		m.OriginalContent = msg.Content
	}

	if err := r.store.Insert(ctx, m); err != nil {
		log.Printf("[router] persist message from user=%d: %v", sender.ID, err)
		metrics.MessagesTotal.WithLabelValues("error").Inc()
		r.audit.Record(audit.Event{
			Type:   audit.EventPersistFailed,
			UserID: sender.ID,
			RoomID: msg.RoomID,
			Detail: map[string]interface{}{"error": err.Error()},
		})
		r.replyError(reply, "failed to save message")
		return
	}

	// Best-effort: the decision row stands on its own even unlinked.
	if r.linker != nil && decision.RecordID != 0 {
		if err := r.linker.LinkContent(ctx, decision.RecordID, m.ID); err != nil {
			log.Printf("[router] link decision=%d to message=%d: %v", decision.RecordID, m.ID, err)
		}
	}

	r.buffer.Add(m.ScopeKey(), BufferedMessage{
		SenderID: m.SenderID,
		Content:  m.Content,
		Ts:       m.CreatedAt.Unix(),
	})

	payload := m.Payload()
	payload.SenderName = sender.Name
	payload.SenderAvatar = sender.AvatarURL

	newMsg, err := protocol.NewServerMessage(protocol.TypeNewMessage, protocol.NewMessageMsg{MessagePayload: payload})
	if err != nil {
		log.Printf("[router] build new_message: %v", err)
		return
	}

	switch {
	case m.IsDirect():
		r.dispatch.ToUser(m.RecipientID, newMsg)
		r.ack(sender.ID, reply, payload)
	case m.IsRoom():
		r.dispatch.ToRoom(m.RoomID, newMsg)
	default:
		r.dispatch.ToAdmins(newMsg)
		r.ack(sender.ID, reply, payload)
	}

	metrics.MessagesTotal.WithLabelValues(outcomeLabel(decision.Action)).Inc()
}

// MarkRead flips is_read on the subset of ids addressed to the caller and
// confirms that subset. The operation is idempotent.
func (r *Router) MarkRead(ctx context.Context, userID int64, reply ReplyFunc, msg protocol.MarkReadMsg) {
	marked, err := r.store.MarkRead(ctx, userID, msg.MessageIDs)
	if err != nil {
		log.Printf("[router] mark read for user=%d: %v", userID, err)
		r.replyError(reply, "failed to mark messages read")
		return
	}
	if marked == nil {
		marked = []int64{}
	}

	data, err := protocol.NewServerMessage(protocol.TypeMessagesMarkedRead, protocol.MessagesMarkedReadMsg{
		MessageIDs: marked,
	})
	if err != nil {
		log.Printf("[router] build messages_marked_read: %v", err)
		return
	}
	if err := reply(data); err != nil {
		log.Printf("[router] send messages_marked_read to user=%d: %v", userID, err)
	}
}

// ack sends the message_sent acknowledgment to the sender.
func (r *Router) ack(senderID int64, reply ReplyFunc, payload protocol.MessagePayload) {
	data, err := protocol.NewServerMessage(protocol.TypeMessageSent, protocol.MessageSentMsg{MessagePayload: payload})
	if err != nil {
		log.Printf("[router] build message_sent: %v", err)
		return
	}
	if err := reply(data); err != nil {
		log.Printf("[router] send message_sent to user=%d: %v", senderID, err)
	}
}

// replyError sends a message_error to the triggering connection.
func (r *Router) replyError(reply ReplyFunc, message string) {
	data, err := protocol.NewServerMessage(protocol.TypeMessageError, protocol.MessageErrorMsg{Message: message})
	if err != nil {
		log.Printf("[router] build message_error: %v", err)
		return
	}
	if err := reply(data); err != nil {
		log.Printf("[router] send message_error: %v", err)
	}
}

// notifyAdminsFlagged pushes an out-of-band notification to online admins
// when a message is flagged. Best-effort; offline admins review the
// decision records instead.
func (r *Router) notifyAdminsFlagged(senderID int64, decision moderation.Decision) {
	data, err := protocol.NewServerMessage(protocol.TypeNotification, protocol.NotificationMsg{
		Event:   "moderation_flagged",
		Message: fmt.Sprintf("message from user %d flagged: %s", senderID, decision.Reason),
	})
	if err != nil {
		log.Printf("[router] build notification: %v", err)
		return
	}
	r.dispatch.ToAdmins(data)
}

// auditFlagged records a flagged message with the recent conversation from
// the same scope attached for moderator review.
func (r *Router) auditFlagged(senderID int64, msg protocol.SendMessageMsg, decision moderation.Decision) {
	scope := (&Message{SenderID: senderID, RecipientID: msg.RecipientID, RoomID: msg.RoomID}).ScopeKey()
	r.audit.Record(audit.Event{
		Type:   audit.EventModerationFlagged,
		UserID: senderID,
		RoomID: msg.RoomID,
		Detail: map[string]interface{}{
			"reason":  decision.Reason,
			"scope":   scope,
			"context": r.buffer.Recent(scope),
		},
	})
}

// outcomeLabel maps a moderation action to the messages_total outcome label.
func outcomeLabel(action moderation.Action) string {
	switch action {
	case moderation.ActionFiltered:
		return "filtered"
	case moderation.ActionRewritten:
		return "rewritten"
	default:
		return "sent"
	}
}
