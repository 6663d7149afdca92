package pipeline

import (
	"context"
	"fmt"

	"botpipe/pkg/messaging"
	"botpipe/pkg/pipeline/filter"
)

// EventKind is the closed set of handler categories. A message always
// dispatches under KindMessage, plus every derived kind that applies to it.
// Finer selection uses filters, not new kinds.
type EventKind int

const (
	KindMessage EventKind = iota
	KindText
	KindReaction
	KindDM
	KindGroup
)

func (k EventKind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindText:
		return "text"
	case KindReaction:
		return "reaction"
	case KindDM:
		return "dm"
	case KindGroup:
		return "group"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Handler processes one message through its per-message context.
type Handler func(ctx context.Context, mctx *Context) error

type registration struct {
	filter  filter.Filter
	handler Handler
}

// registry maps event kinds to ordered handler registrations. Registrations
// are appended before Start and never removed; dispatch iterates them in
// registration order.
type registry struct {
	byKind map[EventKind][]registration
}

func newRegistry() *registry {
	return &registry{byKind: make(map[EventKind][]registration)}
}

func (r *registry) add(kind EventKind, handler Handler, f filter.Filter) {
	r.byKind[kind] = append(r.byKind[kind], registration{filter: f, handler: handler})
}

// kindsFor derives the dispatch kinds for one message. Order is fixed so
// registration order within a kind, and kind order across kinds, are both
// deterministic.
func kindsFor(msg *messaging.Message, conv *messaging.Conversation) []EventKind {
	kinds := []EventKind{KindMessage}

	switch msg.ContentType {
	case messaging.ContentText:
		kinds = append(kinds, KindText)
	case messaging.ContentReaction:
		kinds = append(kinds, KindReaction)
	}

	if conv.IsDirect() {
		kinds = append(kinds, KindDM)
	} else {
		kinds = append(kinds, KindGroup)
	}

	return kinds
}

// dispatch runs matching handlers sequentially in registration order and
// returns the errors encountered. With stopOnError false (the default
// policy) a failing handler does not prevent later ones from running; with
// stopOnError true the first failure aborts the remaining handlers.
func (r *registry) dispatch(ctx context.Context, mctx *Context, self filter.Identity, kinds []EventKind, stopOnError bool) []error {
	var errs []error

	for _, kind := range kinds {
		for _, reg := range r.byKind[kind] {
			if reg.filter != nil {
				ok, err := reg.filter(ctx, mctx.Message, self)
				if err != nil {
					errs = append(errs, fmt.Errorf("%s filter: %w", kind, err))
					if stopOnError {
						return errs
					}
					continue
				}
				if !ok {
					continue
				}
			}

			if err := reg.handler(ctx, mctx); err != nil {
				errs = append(errs, fmt.Errorf("%s handler: %w", kind, err))
				if stopOnError {
					return errs
				}
			}
		}
	}

	return errs
}
