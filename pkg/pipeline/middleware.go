package pipeline

import (
	"context"
	"log/slog"

	"botpipe/pkg/pipeline/filter"
)

// Outcome tells the chain whether to keep processing the current message.
// Halting is legitimate chain-of-responsibility behavior (rate limiting,
// auth gating); a halted message is dropped silently apart from debug logs.
type Outcome int

const (
	// Continue passes the message to the next middleware, or to handler
	// dispatch at the end of the chain.
	Continue Outcome = iota

	// Halt vetoes further processing of the current message.
	Halt
)

// Middleware inspects or acts on one message before handler dispatch.
// Returning Halt stops the chain; returning an error stops the chain and is
// surfaced through the pipeline's error event, never crashing the loop.
type Middleware func(ctx context.Context, mctx *Context) (Outcome, error)

// runChain executes middlewares in registration order.
func runChain(ctx context.Context, middlewares []Middleware, mctx *Context) (Outcome, error) {
	for _, m := range middlewares {
		outcome, err := m(ctx, mctx)
		if err != nil {
			return Halt, err
		}
		if outcome == Halt {
			return Halt, nil
		}
	}
	return Continue, nil
}

// Logging returns a middleware that records every message reaching the chain.
func Logging(log *slog.Logger) Middleware {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "pipeline.middleware")

	return func(_ context.Context, mctx *Context) (Outcome, error) {
		log.Debug("Processing message",
			"message_id", mctx.Message.ID,
			"sender_id", mctx.Message.SenderID,
			"conversation_id", mctx.Conversation.ID,
			"content_type", string(mctx.Message.ContentType),
		)
		return Continue, nil
	}
}

// Guard lifts a filter into a vetoing middleware: messages the filter
// rejects are halted before handler dispatch. A filter error halts too and
// surfaces through the pipeline's error event.
func Guard(f filter.Filter, self filter.Identity) Middleware {
	return func(ctx context.Context, mctx *Context) (Outcome, error) {
		ok, err := f(ctx, mctx.Message, self)
		if err != nil {
			return Halt, err
		}
		if !ok {
			return Halt, nil
		}
		return Continue, nil
	}
}
