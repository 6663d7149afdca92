package pipeline

import (
	"context"
	"testing"
	"time"
)

func TestEventBusDeliversToSubscribers(t *testing.T) {
	bus := newEventBus()
	t.Cleanup(bus.close)

	events, cancel := bus.subscribe(context.Background(), 4)
	defer cancel()

	bus.publish(Event{Type: EventStart})

	select {
	case event := <-events:
		if event.Type != EventStart {
			t.Fatalf("event type = %q, want %q", event.Type, EventStart)
		}
		if event.At.IsZero() {
			t.Fatal("event timestamp not set")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("no event delivered")
	}
}

func TestEventBusDropsWhenSubscriberFull(t *testing.T) {
	bus := newEventBus()
	t.Cleanup(bus.close)

	events, cancel := bus.subscribe(context.Background(), 1)
	defer cancel()

	// Second publish must not block even though nobody is draining.
	bus.publish(Event{Type: EventStart})
	bus.publish(Event{Type: EventStop})

	event := <-events
	if event.Type != EventStart {
		t.Fatalf("event type = %q, want %q", event.Type, EventStart)
	}

	select {
	case extra, ok := <-events:
		if ok {
			t.Fatalf("unexpected buffered event %q", extra.Type)
		}
	default:
	}
}

func TestEventBusCancelClosesChannel(t *testing.T) {
	bus := newEventBus()
	t.Cleanup(bus.close)

	events, cancel := bus.subscribe(context.Background(), 1)
	cancel()
	cancel() // idempotent

	if _, ok := <-events; ok {
		t.Fatal("expected closed channel after cancel")
	}

	// Publishing after cancel must not panic.
	bus.publish(Event{Type: EventStop})
}

func TestEventBusCloseClosesSubscribers(t *testing.T) {
	bus := newEventBus()

	events, _ := bus.subscribe(context.Background(), 1)
	bus.close()
	bus.close() // idempotent

	deadline := time.After(500 * time.Millisecond)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("subscriber channel not closed")
		}
	}
}

func TestEventBusSubscribeAfterClose(t *testing.T) {
	bus := newEventBus()
	bus.close()

	events, cancel := bus.subscribe(context.Background(), 1)
	defer cancel()

	if _, ok := <-events; ok {
		t.Fatal("expected closed channel when subscribing after close")
	}
}
