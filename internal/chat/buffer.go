package chat

import (
	"fmt"
	"sync"
)

// MaxBufferMessages is the number of recent messages retained per delivery
// scope. The buffer exists so flagged-content audit events can carry the
// surrounding conversation for moderator review.
const MaxBufferMessages = 5

// BufferedMessage is a single message stored in the ring buffer.
type BufferedMessage struct {
	SenderID int64  `json:"sender_id"`
	Content  string `json:"content"`
	Ts       int64  `json:"ts"`
}

// Buffer stores the last N delivered messages per scope in memory.
// It is goroutine-safe and uses a ring buffer internally.
type Buffer struct {
	mu      sync.RWMutex
	buffers map[string]*ringBuffer // scope key -> ring buffer
}

// ringBuffer is a fixed-size circular buffer of BufferedMessage.
type ringBuffer struct {
	items []BufferedMessage
	pos   int
	count int
}

// NewBuffer creates an empty Buffer.
func NewBuffer() *Buffer {
	return &Buffer{
		buffers: make(map[string]*ringBuffer),
	}
}

// Add appends a message to the scope's ring buffer. If the buffer is full,
// the oldest message is overwritten.
func (b *Buffer) Add(scope string, msg BufferedMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rb, ok := b.buffers[scope]
	if !ok {
		rb = &ringBuffer{
			items: make([]BufferedMessage, MaxBufferMessages),
		}
		b.buffers[scope] = rb
	}

	rb.items[rb.pos] = msg
	rb.pos = (rb.pos + 1) % MaxBufferMessages
	if rb.count < MaxBufferMessages {
		rb.count++
	}
}

// Recent returns the last N messages for a scope in chronological order
// (oldest first). Returns an empty slice if the scope has no buffer.
func (b *Buffer) Recent(scope string) []BufferedMessage {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rb, ok := b.buffers[scope]
	if !ok {
		return []BufferedMessage{}
	}

	result := make([]BufferedMessage, rb.count)
	// The oldest message is at position (pos - count) mod MaxBufferMessages.
	start := (rb.pos - rb.count + MaxBufferMessages) % MaxBufferMessages
	for i := 0; i < rb.count; i++ {
		result[i] = rb.items[(start+i)%MaxBufferMessages]
	}
	return result
}

// Remove deletes the buffer for a scope.
func (b *Buffer) Remove(scope string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.buffers, scope)
}

// dmScopeKey builds an order-independent scope key for a DM pair.
func dmScopeKey(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("dm:%d:%d", a, b)
}

// adminScopeKey builds the scope key for a user's admin channel.
func adminScopeKey(userID int64) string {
	return fmt.Sprintf("admin:%d", userID)
}
