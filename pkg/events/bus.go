package events

import (
	"sync"
	"time"
)

// DefaultHistorySize bounds the bus history when no size is given.
const DefaultHistorySize = 1024

// EventBus provides publish/subscribe for runtime events.
type EventBus interface {
	Publish(event Event)
	Subscribe(filter ...EventType) <-chan Event
	Unsubscribe(ch <-chan Event)
	History(since time.Time) []Event
}

type subscriber struct {
	ch     chan Event
	filter map[EventType]bool // empty means all events
}

// MemoryBus is an in-memory EventBus. It keeps the most recent events in
// a bounded history so the inspector can replay them.
type MemoryBus struct {
	mu          sync.RWMutex
	subscribers []subscriber
	history     []Event
	maxHistory  int
	closed      bool
}

// NewMemoryBus creates a bus remembering up to maxHistory events.
// maxHistory <= 0 selects DefaultHistorySize.
func NewMemoryBus(maxHistory int) *MemoryBus {
	if maxHistory <= 0 {
		maxHistory = DefaultHistorySize
	}
	return &MemoryBus{
		history:    make([]Event, 0, min(maxHistory, 256)),
		maxHistory: maxHistory,
	}
}

// Publish records the event and fans it out. Slow subscribers miss
// events instead of blocking the publisher.
func (b *MemoryBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.history = append(b.history, event)
	if over := len(b.history) - b.maxHistory; over > 0 {
		b.history = append(b.history[:0], b.history[over:]...)
	}
	// Sends happen under the lock so Unsubscribe cannot close a channel
	// mid-send.
	for _, sub := range b.subscribers {
		if len(sub.filter) > 0 && !sub.filter[event.Type] {
			continue
		}
		select {
		case sub.ch <- event:
		default:
		}
	}
	b.mu.Unlock()
}

// Subscribe returns a channel receiving events of the given types, or
// all events when no filter is given.
func (b *MemoryBus) Subscribe(filter ...EventType) <-chan Event {
	ch := make(chan Event, 64)
	sub := subscriber{ch: ch}
	if len(filter) > 0 {
		sub.filter = make(map[EventType]bool, len(filter))
		for _, f := range filter {
			sub.filter[f] = true
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subscribers = append(b.subscribers, sub)
	return ch
}

// Unsubscribe removes and closes a channel returned by Subscribe.
func (b *MemoryBus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subscribers {
		if sub.ch == ch {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			close(sub.ch)
			return
		}
	}
}

// History returns the remembered events at or after since.
func (b *MemoryBus) History(since time.Time) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var result []Event
	for _, e := range b.history {
		if !e.Timestamp.Before(since) {
			result = append(result, e)
		}
	}
	return result
}

// Close closes every subscriber channel. Later publishes are dropped.
func (b *MemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subscribers {
		close(sub.ch)
	}
	b.subscribers = nil
}
