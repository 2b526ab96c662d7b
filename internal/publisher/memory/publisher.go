// Package memory records crawl notifications in process memory.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sync"
)

// DefaultCapacity bounds how many messages a Publisher retains.
const DefaultCapacity = 1000

// Message is one recorded publish.
type Message struct {
	ID         string
	Data       []byte
	Attributes map[string]string
}

// Publisher keeps the most recent published notifications for inspection.
type Publisher struct {
	mu       sync.RWMutex
	capacity int
	seq      int
	messages []Message
}

// New returns an empty Publisher retaining DefaultCapacity messages.
func New() *Publisher {
	return NewWithCapacity(DefaultCapacity)
}

// NewWithCapacity retains at most capacity messages, dropping the oldest first.
func NewWithCapacity(capacity int) *Publisher {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Publisher{capacity: capacity}
}

// Publish records a copy of the message and returns a sequential ID.
func (p *Publisher) Publish(_ context.Context, data []byte, attrs map[string]string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	msg := Message{
		ID:         fmt.Sprintf("memory-%d", p.seq),
		Data:       append([]byte(nil), data...),
		Attributes: maps.Clone(attrs),
	}
	if len(p.messages) == p.capacity {
		p.messages = append(p.messages[:0], p.messages[1:]...)
	}
	p.messages = append(p.messages, msg)
	return msg.ID, nil
}

// Messages returns the retained publishes, oldest first.
func (p *Publisher) Messages() []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}
