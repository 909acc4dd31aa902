package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/inkwell/chat-core/internal/metrics"
	"github.com/inkwell/chat-core/internal/protocol"
)

// DefaultHistoryLimit is the page size used when the client omits limit.
const DefaultHistoryLimit = 50

// HistoryService serves scoped, paginated retrieval of past messages. It
// reads from the message store independently of the live delivery path.
type HistoryService struct {
	store MessageStore
}

// NewHistoryService creates a HistoryService.
func NewHistoryService(store MessageStore) *HistoryService {
	return &HistoryService{store: store}
}

// Get resolves the request scope and returns one page of messages in
// chronological order. The store query is newest-first (so limit/offset
// page backwards from the present); the result is reversed here for
// display. Pagination is offset-based only.
//
// Scope resolution: room_id set selects the room; recipient_id set selects
// the either-direction pair between caller and recipient; with neither set
// the caller's admin channel is selected.
func (h *HistoryService) Get(ctx context.Context, callerID int64, msg protocol.GetChatHistoryMsg) ([]protocol.MessagePayload, error) {
	if msg.RecipientID != 0 && msg.RoomID != "" {
		return nil, fmt.Errorf("chat: history cannot target both a recipient and a room")
	}

	q := HistoryQuery{
		Limit:  msg.Limit,
		Offset: msg.Offset,
	}
	if q.Limit <= 0 {
		q.Limit = DefaultHistoryLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	switch {
	case msg.RoomID != "":
		q.Scope = ScopeRoom
		q.RoomID = msg.RoomID
	case msg.RecipientID != 0:
		q.Scope = ScopeDirect
		q.UserA = callerID
		q.UserB = msg.RecipientID
	default:
		q.Scope = ScopeAdminChannel
		q.UserA = callerID
	}

	start := time.Now()
	messages, err := h.store.History(ctx, q)
	metrics.HistoryLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	// Newest-first from the store; reverse for chronological display.
	payloads := make([]protocol.MessagePayload, len(messages))
	for i, m := range messages {
		payloads[len(messages)-1-i] = m.Payload()
	}
	return payloads, nil
}
