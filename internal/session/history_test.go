package session

import "testing"

func TestHistoryAppendAndGet(t *testing.T) {
	h := NewHistory()
	h.Append("main", "user", "hello")
	h.Append("main", "assistant", "hi there")

	msgs := h.Get("main")
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Fatalf("roles out of order: %+v", msgs)
	}
}

func TestHistoryKeysAreIsolated(t *testing.T) {
	h := NewHistory()
	h.Append("a", "user", "for a")
	if got := h.Get("b"); len(got) != 0 {
		t.Fatalf("key b should be empty, got %+v", got)
	}
}

func TestHistoryCapDropsOldest(t *testing.T) {
	h := NewHistory()
	for i := 0; i < maxMessagesPerKey+10; i++ {
		h.Append("main", "user", "msg")
	}
	if got := len(h.Get("main")); got != maxMessagesPerKey {
		t.Fatalf("got %d messages, want cap %d", got, maxMessagesPerKey)
	}
}

func TestHistoryClear(t *testing.T) {
	h := NewHistory()
	h.Append("main", "user", "hello")
	h.Clear("main")
	if got := h.Get("main"); len(got) != 0 {
		t.Fatalf("clear must drop all messages, got %+v", got)
	}
}

func TestHistoryNilReceiverIsSafe(t *testing.T) {
	var h *History
	h.Append("main", "user", "hello")
	h.Clear("main")
	if got := h.Get("main"); got != nil {
		t.Fatalf("nil history must return nil, got %+v", got)
	}
}
