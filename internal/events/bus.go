// Package events provides a typed fan-out bus for operation lifecycle
// events. Subscribers consume from their own buffered channel; a slow
// subscriber drops events rather than blocking publishers.
package events

import (
	"sync"
	"time"

	"github.com/glosshq/glossgen/internal/domain"
)

// Event is one observable occurrence in the engine
type Event struct {
	Type        domain.EventType         `json:"type"`
	OperationID string                   `json:"operation_id,omitempty"`
	Snapshot    *domain.ProgressSnapshot `json:"snapshot,omitempty"`
	Alert       *domain.Alert            `json:"alert,omitempty"`
	Report      *domain.StatusReport     `json:"report,omitempty"`
	Time        time.Time                `json:"time"`
}

// Bus fans events out to all subscribers
type Bus struct {
	subs   map[int]chan Event
	nextID int
	mu     sync.Mutex
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber with the given channel buffer.
// The returned cancel function unregisters and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, buffer)
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if ch, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber without blocking.
// Events to a full subscriber buffer are dropped.
func (b *Bus) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
