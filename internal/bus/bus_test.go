package bus

import (
	"sync"
	"testing"
	"time"
)

func TestSessionKey(t *testing.T) {
	msg := InboundMessage{Channel: "feishu", ChatID: "oc_123"}
	if got := msg.SessionKey(); got != "feishu:oc_123" {
		t.Errorf("SessionKey = %q, want feishu:oc_123", got)
	}
}

func TestDispatchOutbound(t *testing.T) {
	b := NewMessageBus(10)
	defer b.Close()

	received := make(chan OutboundMessage, 1)
	b.SubscribeOutbound("feishu", func(msg OutboundMessage) {
		received <- msg
	})

	b.Outbound <- OutboundMessage{Channel: "feishu", ChatID: "oc_1", Content: "hello"}

	select {
	case msg := <-received:
		if msg.Content != "hello" || msg.ChatID != "oc_1" {
			t.Errorf("msg = %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber not invoked")
	}
}

func TestDispatchOutbound_NoSubscriber(t *testing.T) {
	b := NewMessageBus(10)
	defer b.Close()

	// Must not panic or block.
	b.Outbound <- OutboundMessage{Channel: "unknown", Content: "dropped"}
	time.Sleep(20 * time.Millisecond)
}

func TestDispatchOutbound_RoutesByChannel(t *testing.T) {
	b := NewMessageBus(10)
	defer b.Close()

	var mu sync.Mutex
	got := map[string]int{}
	record := func(name string) func(OutboundMessage) {
		return func(OutboundMessage) {
			mu.Lock()
			got[name]++
			mu.Unlock()
		}
	}
	b.SubscribeOutbound("a", record("a"))
	b.SubscribeOutbound("b", record("b"))

	b.Outbound <- OutboundMessage{Channel: "a"}
	b.Outbound <- OutboundMessage{Channel: "b"}
	b.Outbound <- OutboundMessage{Channel: "a"}

	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if got["a"] != 2 || got["b"] != 1 {
		t.Errorf("dispatch counts = %v", got)
	}
}

func TestClose_Idempotent(t *testing.T) {
	b := NewMessageBus(1)
	b.Close()
	b.Close()
}
