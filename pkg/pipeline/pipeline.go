// Package pipeline dispatches an ordered stream of inbound messages through
// a middleware chain and filtered handlers.
//
// One pipeline owns one sequential driver loop: messages are processed
// strictly in delivery order, middleware before handlers, with per-message
// errors surfaced as lifecycle events instead of terminating the stream.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"

	"botpipe/pkg/messaging"
	"botpipe/pkg/pipeline/filter"
)

// State is the pipeline lifecycle state.
type State int

const (
	StateIdle State = iota
	StateListening
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config tunes pipeline dispatch behavior.
type Config struct {
	// StopOnHandlerError aborts a message's remaining handlers on the first
	// handler failure. The default (false) isolates errors per handler so
	// independently registered features stay robust against each other.
	StopOnHandlerError bool `json:"stop_on_handler_error,omitempty"`

	// EventBuffer sizes subscriber channels created by Events.
	EventBuffer int `json:"event_buffer,omitempty"`
}

// Pipeline consumes one inbound message stream and drives registered
// middleware and handlers. Registration must complete before Start; Use and
// On after Start warn and have no effect on the running loop.
type Pipeline struct {
	client messaging.Client
	cfg    Config
	log    *slog.Logger
	events *eventBus

	mu          sync.Mutex
	state       State
	stopping    bool
	middlewares []Middleware
	registry    *registry
}

// New builds an idle pipeline bound to one messaging client.
func New(client messaging.Client, cfg Config, log *slog.Logger) (*Pipeline, error) {
	if client == nil {
		return nil, errors.New("messaging client is required")
	}
	if log == nil {
		log = slog.Default()
	}

	return &Pipeline{
		client:   client,
		cfg:      cfg,
		log:      log.With("component", "pipeline"),
		events:   newEventBus(),
		registry: newRegistry(),
	}, nil
}

// Use appends a middleware to the chain. Middlewares run in registration
// order for every message that passes self and conversation checks.
func (p *Pipeline) Use(m Middleware) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateIdle {
		p.log.Warn("Use called after start; middleware ignored", "state", p.state.String())
		return
	}
	p.middlewares = append(p.middlewares, m)
}

// On registers a handler under an event kind. Multiple filters are combined
// with filter.And; with none the handler matches every message of the kind.
func (p *Pipeline) On(kind EventKind, handler Handler, filters ...filter.Filter) {
	if handler == nil {
		p.log.Warn("On called with nil handler; registration ignored", "kind", kind.String())
		return
	}

	var f filter.Filter
	switch len(filters) {
	case 0:
	case 1:
		f = filters[0]
	default:
		f = filter.And(filters...)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateIdle {
		p.log.Warn("On called after start; registration ignored", "kind", kind.String(), "state", p.state.String())
		return
	}
	p.registry.add(kind, handler, f)
}

// Events subscribes to lifecycle events (start, stop, error). The channel
// closes when the subscription is canceled or the pipeline finishes.
// Publishing never blocks the message loop; a full subscriber drops events.
func (p *Pipeline) Events(ctx context.Context, buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = p.cfg.EventBuffer
	}
	return p.events.subscribe(ctx, buffer)
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Start opens the message stream and blocks, driving one iteration per
// arriving message until Stop is called or ctx is canceled.
//
// Per-message failures are emitted as error events and the loop continues.
// A stream-level failure is not masked: it propagates out of Start, and any
// retry or reconnect policy belongs to the caller.
func (p *Pipeline) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	p.mu.Lock()
	if p.state != StateIdle {
		state := p.state
		p.mu.Unlock()
		p.log.Warn("Start called while pipeline is not idle", "state", state.String())
		return nil
	}
	p.state = StateListening
	middlewares := append([]Middleware(nil), p.middlewares...)
	p.mu.Unlock()

	stream, err := p.client.StreamMessages(ctx)
	if err != nil {
		p.enterStopped()
		p.events.close()
		return fmt.Errorf("open message stream: %w", err)
	}
	defer stream.Close()

	p.events.publish(Event{Type: EventStart})
	p.log.Info("Pipeline started", "inbox_id", p.client.InboxID())

	for {
		if p.stopRequested() {
			break
		}

		msg, err := stream.Next(ctx)
		if err != nil {
			if p.stopRequested() || errors.Is(err, context.Canceled) {
				break
			}
			p.enterStopped()
			p.events.close()
			return fmt.Errorf("message stream: %w", err)
		}
		if msg == nil {
			continue
		}

		if strings.EqualFold(msg.SenderID, p.client.InboxID()) {
			p.log.Debug("Skipping own message", "message_id", msg.ID)
			continue
		}

		p.process(ctx, middlewares, msg)

		if p.stopRequested() {
			break
		}
	}

	p.enterStopped()
	p.events.publish(Event{Type: EventStop})
	p.events.close()
	p.log.Info("Pipeline stopped")
	return nil
}

// Stop requests a cooperative shutdown. The in-flight message, if any,
// finishes processing; the loop exits at the next iteration boundary. Stop
// while not listening warns and is a no-op.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateListening {
		p.log.Warn("Stop called while pipeline is not listening", "state", p.state.String())
		return
	}
	p.stopping = true
}

// process runs steps 3-6 of one iteration: conversation resolution, context
// build, middleware chain, handler dispatch. All failures, panics included,
// stay confined to this message.
func (p *Pipeline) process(ctx context.Context, middlewares []Middleware, msg *messaging.Message) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("Recovered panic while processing message", "message_id", msg.ID, "panic", r, "stack", string(debug.Stack()))
			p.emitError(msg, fmt.Errorf("panic processing message %s: %v", msg.ID, r))
		}
	}()

	conv, err := p.client.ConversationByID(ctx, msg.ConversationID)
	if err != nil {
		if errors.Is(err, messaging.ErrConversationNotFound) {
			p.log.Debug("Skipping message without local conversation", "message_id", msg.ID, "conversation_id", msg.ConversationID)
			return
		}
		p.emitError(msg, fmt.Errorf("resolve conversation %s: %w", msg.ConversationID, err))
		return
	}

	mctx, err := NewContext(msg, conv, p.client)
	if err != nil {
		p.emitError(msg, fmt.Errorf("build context: %w", err))
		return
	}

	outcome, err := runChain(ctx, middlewares, mctx)
	if err != nil {
		p.emitError(msg, fmt.Errorf("middleware: %w", err))
		return
	}
	if outcome == Halt {
		p.log.Debug("Middleware halted message", "message_id", msg.ID)
		return
	}

	for _, err := range p.registry.dispatch(ctx, mctx, p.client, kindsFor(msg, conv), p.cfg.StopOnHandlerError) {
		p.emitError(msg, err)
	}
}

func (p *Pipeline) emitError(msg *messaging.Message, err error) {
	p.log.Error("Message processing failed", "message_id", msg.ID, "error", err)
	p.events.publish(Event{Type: EventError, MessageID: msg.ID, Err: err})
}

func (p *Pipeline) stopRequested() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopping
}

func (p *Pipeline) enterStopped() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = StateStopped
	p.stopping = true
}
