// Package filter provides composable boolean predicates used to selectively
// enable handlers for a subset of messages.
//
// Filters are stateless; combinators return new filters and never mutate
// their inputs, so standard boolean algebra laws hold over compositions.
package filter

import (
	"context"
	"strings"

	"botpipe/pkg/messaging"
)

// Identity exposes the pipeline's own inbox identity to filters that need it.
// messaging.Client satisfies this.
type Identity interface {
	InboxID() string
}

// Filter is a predicate over one inbound message. Filters may perform
// lookups through ctx-aware calls; a non-nil error fails the evaluation.
type Filter func(ctx context.Context, msg *messaging.Message, self Identity) (bool, error)

// And evaluates filters left to right and short-circuits on the first false
// result. Evaluation is strictly sequential so an earlier filter's side
// effects complete before a later one runs. And() with no filters is true.
func And(filters ...Filter) Filter {
	return func(ctx context.Context, msg *messaging.Message, self Identity) (bool, error) {
		for _, f := range filters {
			ok, err := f(ctx, msg, self)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	}
}

// Or evaluates filters left to right and short-circuits on the first true
// result. Or() with no filters is false.
func Or(filters ...Filter) Filter {
	return func(ctx context.Context, msg *messaging.Message, self Identity) (bool, error) {
		for _, f := range filters {
			ok, err := f(ctx, msg, self)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}
}

// Not negates a filter. Errors pass through unnegated.
func Not(f Filter) Filter {
	return func(ctx context.Context, msg *messaging.Message, self Identity) (bool, error) {
		ok, err := f(ctx, msg, self)
		if err != nil {
			return false, err
		}
		return !ok, nil
	}
}

// NotFromSelf matches messages whose sender differs (case-insensitively)
// from the client's own inbox identity.
func NotFromSelf(_ context.Context, msg *messaging.Message, self Identity) (bool, error) {
	if self == nil {
		return true, nil
	}
	return !strings.EqualFold(msg.SenderID, self.InboxID()), nil
}

// TextOnly matches messages carrying text content.
func TextOnly(_ context.Context, msg *messaging.Message, _ Identity) (bool, error) {
	return msg.ContentType == messaging.ContentText, nil
}

// ContentType returns a filter matching an arbitrary content-type tag.
func ContentType(tag messaging.ContentType) Filter {
	return func(_ context.Context, msg *messaging.Message, _ Identity) (bool, error) {
		return msg.ContentType == tag, nil
	}
}

// FromSender returns a filter matching messages sent by any of the given
// identities, compared case-insensitively. With no ids it matches nothing.
func FromSender(ids ...string) Filter {
	allowed := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		trimmed := strings.ToLower(strings.TrimSpace(id))
		if trimmed == "" {
			continue
		}
		allowed[trimmed] = struct{}{}
	}

	return func(_ context.Context, msg *messaging.Message, _ Identity) (bool, error) {
		_, ok := allowed[strings.ToLower(strings.TrimSpace(msg.SenderID))]
		return ok, nil
	}
}
