package bus

import (
	"log"
	"sync"
)

// MessageBus decouples channels from the reply pipeline. Inbound carries
// messages from channels to the gateway; outbound messages are dispatched to
// the subscriber registered for their channel name.
type MessageBus struct {
	Inbound  chan InboundMessage
	Outbound chan OutboundMessage

	mu          sync.RWMutex
	subscribers map[string]func(OutboundMessage)
	done        chan struct{}
	once        sync.Once
}

func NewMessageBus(bufSize int) *MessageBus {
	if bufSize <= 0 {
		bufSize = 1
	}
	b := &MessageBus{
		Inbound:     make(chan InboundMessage, bufSize),
		Outbound:    make(chan OutboundMessage, bufSize),
		subscribers: make(map[string]func(OutboundMessage)),
		done:        make(chan struct{}),
	}
	go b.dispatchOutbound()
	return b
}

// SubscribeOutbound registers the send function for a channel name. The last
// registration for a name wins.
func (b *MessageBus) SubscribeOutbound(channel string, fn func(OutboundMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[channel] = fn
}

func (b *MessageBus) dispatchOutbound() {
	for {
		select {
		case <-b.done:
			return
		case msg := <-b.Outbound:
			b.mu.RLock()
			fn := b.subscribers[msg.Channel]
			b.mu.RUnlock()
			if fn == nil {
				log.Printf("[bus] no outbound subscriber for channel %q", msg.Channel)
				continue
			}
			fn(msg)
		}
	}
}

func (b *MessageBus) Close() {
	b.once.Do(func() {
		close(b.done)
	})
}
