package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"botpipe/pkg/messaging"
)

// Context is the per-message bundle threaded through the middleware chain and
// into every handler. It is built once per message and discarded after
// dispatch completes; it must not be retained across messages.
type Context struct {
	Message      *messaging.Message
	Conversation *messaging.Conversation

	client messaging.Client

	mu            sync.Mutex
	senderAddress string
	resolved      bool
}

// NewContext binds a message and its resolved conversation to the client's
// outbound primitives.
func NewContext(msg *messaging.Message, conv *messaging.Conversation, client messaging.Client) (*Context, error) {
	if msg == nil {
		return nil, errors.New("message is required")
	}
	if conv == nil {
		return nil, errors.New("conversation is required")
	}
	if client == nil {
		return nil, errors.New("client is required")
	}

	return &Context{
		Message:      msg,
		Conversation: conv,
		client:       client,
	}, nil
}

// Send delivers a text reply to this message's conversation. A backend
// failure is returned to the caller, not swallowed.
func (c *Context) Send(ctx context.Context, text string) error {
	return c.SendContent(ctx, text, messaging.ContentText)
}

// SendContent delivers arbitrary typed content to this message's conversation.
func (c *Context) SendContent(ctx context.Context, content string, contentType messaging.ContentType) error {
	if err := c.client.Send(ctx, c.Conversation.ID, content, contentType); err != nil {
		return fmt.Errorf("send to conversation %s: %w", c.Conversation.ID, err)
	}
	return nil
}

// SenderAddress resolves the message sender's inbox identity into a display
// identifier. The first successful resolution is memoized for the lifetime
// of this context; failures are returned and retried on the next call.
func (c *Context) SenderAddress(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.resolved {
		return c.senderAddress, nil
	}

	address, err := c.client.ResolveSenderAddress(ctx, c.Message)
	if err != nil {
		return "", fmt.Errorf("resolve sender address for %s: %w", c.Message.SenderID, err)
	}

	c.senderAddress = address
	c.resolved = true
	return address, nil
}
