package chat

import (
	"fmt"
	"sync"
	"testing"
)

func TestBufferAddAndRecent(t *testing.T) {
	b := NewBuffer()

	b.Add("room:general", BufferedMessage{SenderID: 1, Content: "hello", Ts: 1})
	b.Add("room:general", BufferedMessage{SenderID: 2, Content: "hi", Ts: 2})
	b.Add("room:general", BufferedMessage{SenderID: 1, Content: "how are you?", Ts: 3})

	msgs := b.Recent("room:general")
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].Content != "hello" || msgs[2].Content != "how are you?" {
		t.Errorf("messages out of order: %+v", msgs)
	}
}

func TestBufferWraparound(t *testing.T) {
	b := NewBuffer()

	// Add 7 messages; the buffer holds only 5.
	for i := 1; i <= 7; i++ {
		b.Add("room:general", BufferedMessage{
			SenderID: 1,
			Content:  fmt.Sprintf("msg-%d", i),
			Ts:       int64(i),
		})
	}

	msgs := b.Recent("room:general")
	if len(msgs) != MaxBufferMessages {
		t.Fatalf("expected %d messages, got %d", MaxBufferMessages, len(msgs))
	}
	// Should contain messages 3 through 7 in order.
	for i, msg := range msgs {
		expected := fmt.Sprintf("msg-%d", i+3)
		if msg.Content != expected {
			t.Errorf("index %d: expected %q, got %q", i, expected, msg.Content)
		}
	}
}

func TestBufferRecentUnknownScope(t *testing.T) {
	b := NewBuffer()

	msgs := b.Recent("room:does-not-exist")
	if msgs == nil {
		t.Fatal("expected non-nil empty slice, got nil")
	}
	if len(msgs) != 0 {
		t.Fatalf("expected 0 messages, got %d", len(msgs))
	}
}

func TestBufferRemove(t *testing.T) {
	b := NewBuffer()

	b.Add("room:general", BufferedMessage{SenderID: 1, Content: "hello", Ts: 1})
	b.Remove("room:general")

	if msgs := b.Recent("room:general"); len(msgs) != 0 {
		t.Fatalf("expected 0 messages after remove, got %d", len(msgs))
	}

	// Removing an unknown scope should not panic.
	b.Remove("room:does-not-exist")
}

func TestBufferScopesAreIndependent(t *testing.T) {
	b := NewBuffer()

	b.Add("room:a", BufferedMessage{SenderID: 1, Content: "a1", Ts: 1})
	b.Add("room:b", BufferedMessage{SenderID: 2, Content: "b1", Ts: 2})
	b.Add("room:a", BufferedMessage{SenderID: 2, Content: "a2", Ts: 3})

	if got := b.Recent("room:a"); len(got) != 2 {
		t.Errorf("room:a expected 2 messages, got %d", len(got))
	}
	if got := b.Recent("room:b"); len(got) != 1 {
		t.Errorf("room:b expected 1 message, got %d", len(got))
	}
}

func TestDMScopeKeyOrderIndependent(t *testing.T) {
	if dmScopeKey(1, 2) != dmScopeKey(2, 1) {
		t.Errorf("dm scope must not depend on argument order: %q vs %q",
			dmScopeKey(1, 2), dmScopeKey(2, 1))
	}
	if dmScopeKey(1, 2) == dmScopeKey(1, 3) {
		t.Error("distinct pairs must not collide")
	}
}

func TestMessageScopeKey(t *testing.T) {
	cases := []struct {
		name string
		msg  Message
		want string
	}{
		{"room", Message{SenderID: 1, RoomID: "general"}, "room:general"},
		{"direct", Message{SenderID: 2, RecipientID: 1}, "dm:1:2"},
		{"admin channel", Message{SenderID: 5}, "admin:5"},
	}
	for _, tc := range cases {
		if got := tc.msg.ScopeKey(); got != tc.want {
			t.Errorf("%s: expected %q, got %q", tc.name, tc.want, got)
		}
	}
}

func TestBufferConcurrentAccess(t *testing.T) {
	b := NewBuffer()
	scope := "room:concurrent"
	goroutines := 100

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func(id int) {
			defer wg.Done()
			for m := 0; m < 20; m++ {
				b.Add(scope, BufferedMessage{
					SenderID: int64(id),
					Content:  fmt.Sprintf("g%d-m%d", id, m),
					Ts:       int64(id*20 + m),
				})
				_ = b.Recent(scope)
			}
		}(g)
	}
	wg.Wait()

	if msgs := b.Recent(scope); len(msgs) != MaxBufferMessages {
		t.Fatalf("expected %d messages after concurrent writes, got %d", MaxBufferMessages, len(msgs))
	}
}
