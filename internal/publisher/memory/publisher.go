// Package memory contains an in-memory publisher used when no Pub/Sub topic is
// configured, and by tests.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Publisher stores published payloads for inspection. It keeps at most Cap
// messages (oldest dropped) when Cap is positive.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
	total    int
	cap      int
}

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	Topic   string
	Payload any
}

// New returns an unbounded memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// NewBounded returns a Publisher that retains only the last n messages.
func NewBounded(n int) *Publisher {
	return &Publisher{cap: n}
}

// Publish records the message and returns a pseudo ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total++
	p.messages = append(p.messages, PublishedMessage{Topic: topic, Payload: payload})
	if p.cap > 0 && len(p.messages) > p.cap {
		p.messages = append([]PublishedMessage(nil), p.messages[len(p.messages)-p.cap:]...)
	}
	return fmt.Sprintf("memory-%d", p.total), nil
}

// Messages returns the recorded publishes.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}
