package messaging

import (
	"context"
	"errors"
)

// ErrConversationNotFound reports that a conversation id is not known to the
// backend yet. Under eventual consistency this is a normal outcome, not a fault.
var ErrConversationNotFound = errors.New("conversation not found")

// ErrStreamClosed reports that the inbound message stream has ended and will
// yield no further messages.
var ErrStreamClosed = errors.New("message stream closed")

// MessageStream is an unbounded, ordered, at-least-once sequence of inbound
// messages. It is not restartable; once Next returns an error the stream is done.
type MessageStream interface {
	// Next blocks until a message arrives, the stream ends, or ctx is done.
	// A nil message with nil error is a backend keepalive and should be skipped.
	Next(ctx context.Context) (*Message, error)

	// Close releases stream resources. Safe to call more than once.
	Close() error
}

// Client is the contract a messaging backend fulfils for the pipeline.
//
// The pipeline never inspects wire format, cryptography, or network retries;
// those stay behind this interface. Implementations must be safe for
// concurrent read access when shared by several pipeline instances.
type Client interface {
	// InboxID returns this client's own sender identity, used for
	// self-message suppression. Comparison is case-insensitive.
	InboxID() string

	// StreamMessages opens the inbound stream.
	StreamMessages(ctx context.Context) (MessageStream, error)

	// ConversationByID resolves a conversation. Returns
	// ErrConversationNotFound when the id has not synced locally.
	ConversationByID(ctx context.Context, id string) (*Conversation, error)

	// Send delivers content to a conversation. A failure propagates to the
	// caller so handler error handling can react.
	Send(ctx context.Context, conversationID, content string, contentType ContentType) error

	// ResolveSenderAddress resolves a message sender's inbox identity into a
	// display identifier.
	ResolveSenderAddress(ctx context.Context, msg *Message) (string, error)
}
