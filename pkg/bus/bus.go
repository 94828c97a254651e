// Package bus provides the synchronous in-process publish/subscribe channel
// the agents use for targeted revision routing. Delivery is keyed by the
// recipient agent name and happens on the sender's goroutine, so per
// (from, to) pair the delivery order is the send order.
package bus

import (
	"log/slog"
	"sync"
)

// MessageType classifies bus traffic.
type MessageType string

// Message types.
const (
	TypeRequest  MessageType = "request"
	TypeResponse MessageType = "response"
	TypeEvent    MessageType = "event"
)

// Message is one unit of inter-agent traffic. Payload shape is owned by the
// sending agent's domain.
type Message struct {
	From    string
	To      string
	Type    MessageType
	Domain  string
	Payload map[string]any
}

// Handler processes a delivered message.
type Handler func(Message)

// Bus routes messages to subscribed handlers by recipient name.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{handlers: make(map[string][]Handler)}
}

// Subscribe registers a handler for messages addressed to name. Multiple
// handlers per name are delivered in subscription order.
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], h)
}

// Unsubscribe removes all handlers for name.
func (b *Bus) Unsubscribe(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, name)
}

// Send delivers msg to every handler currently subscribed for msg.To and
// returns after all have run. Messages with no subscriber are dropped with
// a log line; the sender is not expected to care.
func (b *Bus) Send(msg Message) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers[msg.To]))
	copy(handlers, b.handlers[msg.To])
	b.mu.RUnlock()

	if len(handlers) == 0 {
		slog.Debug("Bus message dropped, no subscriber",
			"from", msg.From, "to", msg.To, "type", msg.Type)
		return
	}
	for _, h := range handlers {
		h(msg)
	}
}

// SubscriberCount returns the number of handlers registered for name.
func (b *Bus) SubscriberCount(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[name])
}
