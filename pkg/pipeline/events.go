package pipeline

import (
	"context"
	"sync"
	"time"
)

// EventType identifies a pipeline-level lifecycle event.
type EventType string

const (
	EventStart EventType = "start"
	EventStop  EventType = "stop"
	EventError EventType = "error"
)

// Event is one lifecycle notification. Error events carry the per-message
// failure and, when known, the message that triggered it.
type Event struct {
	Type      EventType `json:"type"`
	At        time.Time `json:"at"`
	MessageID string    `json:"message_id,omitempty"`
	Err       error     `json:"-"`
}

const defaultEventBuffer = 16

// eventBus fans lifecycle events out to subscriber channels. Publishing
// never blocks: events to a full subscriber are dropped rather than stalling
// the message loop.
type eventBus struct {
	mu          sync.Mutex
	subscribers map[uint64]chan Event
	nextID      uint64
	closed      bool
	done        chan struct{}
}

func newEventBus() *eventBus {
	return &eventBus{
		subscribers: make(map[uint64]chan Event),
		done:        make(chan struct{}),
	}
}

func (b *eventBus) publish(event Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	b.mu.Lock()
	subs := make([]chan Event, 0, len(b.subscribers))
	for _, ch := range b.subscribers {
		subs = append(subs, ch)
	}
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
			// Drop instead of blocking the message loop on slow subscribers.
		}
	}
}

// subscribe registers a new subscriber channel. The returned cancel function
// is idempotent; it also runs automatically when ctx is done or the bus closes.
func (b *eventBus) subscribe(ctx context.Context, buffer int) (<-chan Event, func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}

	ch := make(chan Event, buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subscribers[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if sub, ok := b.subscribers[id]; ok {
				delete(b.subscribers, id)
				close(sub)
			}
			b.mu.Unlock()
		})
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-b.done:
		}
		cancel()
	}()

	return ch, cancel
}

func (b *eventBus) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	close(b.done)

	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
}
