package channels

import (
	"context"
	"sync"
)

// DefaultQueueSize is the Events buffer adapters use unless configured.
const DefaultQueueSize = 100

// EventQueue is the Events channel shared by adapters. Push may race with
// Close; pushes after Close are dropped.
type EventQueue struct {
	ch   chan Event
	done chan struct{}
	once sync.Once

	mu     sync.RWMutex
	closed bool
}

// NewEventQueue creates a queue buffering size events.
func NewEventQueue(size int) *EventQueue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &EventQueue{
		ch:   make(chan Event, size),
		done: make(chan struct{}),
	}
}

// Push delivers ev, blocking while the buffer is full. It reports false if
// ctx ended or the queue closed first.
func (q *EventQueue) Push(ctx context.Context, ev Event) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}
	select {
	case q.ch <- ev:
		return true
	case <-ctx.Done():
		return false
	case <-q.done:
		return false
	}
}

// Events returns the receive side.
func (q *EventQueue) Events() <-chan Event {
	return q.ch
}

// Close closes Events. It is safe to call more than once.
func (q *EventQueue) Close() {
	q.once.Do(func() {
		close(q.done)
		q.mu.Lock()
		q.closed = true
		close(q.ch)
		q.mu.Unlock()
	})
}
