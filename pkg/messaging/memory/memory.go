// Package memory provides an in-process messaging backend used by tests and
// local development. It implements messaging.Client over buffered channels.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"botpipe/pkg/messaging"
)

const defaultStreamBuffer = 100

// SentMessage records one outbound delivery for inspection.
type SentMessage struct {
	ConversationID string
	Content        string
	ContentType    messaging.ContentType
}

// Client is an in-memory messaging.Client. Messages published with
// PublishMessage come back out of the stream in publish order.
type Client struct {
	inboxID  string
	messages chan messaging.Message

	done      chan struct{}
	closeOnce sync.Once

	mu            sync.RWMutex
	conversations map[string]messaging.Conversation
	addresses     map[string]string
	sent          []SentMessage
	sendErr       error
}

// NewClient builds an in-memory backend with the given inbox identity.
func NewClient(inboxID string) *Client {
	return &Client{
		inboxID:       inboxID,
		messages:      make(chan messaging.Message, defaultStreamBuffer),
		done:          make(chan struct{}),
		conversations: make(map[string]messaging.Conversation),
		addresses:     make(map[string]string),
	}
}

// InboxID returns the client's own sender identity.
func (c *Client) InboxID() string {
	return c.inboxID
}

// AddConversation makes a conversation resolvable by id.
func (c *Client) AddConversation(conv messaging.Conversation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conversations[conv.ID] = conv
}

// SetSenderAddress maps a sender identity to a display address.
func (c *Client) SetSenderAddress(senderID, address string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addresses[strings.ToLower(senderID)] = address
}

// FailSends makes every subsequent Send return err. Pass nil to restore
// normal delivery.
func (c *Client) FailSends(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

// PublishMessage feeds one message into the stream. Returns false once the
// client is closed or ctx is done.
func (c *Client) PublishMessage(ctx context.Context, msg messaging.Message) bool {
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case <-ctx.Done():
		return false
	case <-c.done:
		return false
	default:
	}

	select {
	case <-ctx.Done():
		return false
	case <-c.done:
		return false
	case c.messages <- msg:
		return true
	}
}

// Close ends the stream; pending Next calls return messaging.ErrStreamClosed.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// StreamMessages opens the inbound stream. One stream per client; a second
// call shares the same feed.
func (c *Client) StreamMessages(_ context.Context) (messaging.MessageStream, error) {
	return &stream{client: c}, nil
}

// ConversationByID resolves a registered conversation.
func (c *Client) ConversationByID(_ context.Context, id string) (*messaging.Conversation, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	conv, ok := c.conversations[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, messaging.ErrConversationNotFound)
	}
	return &conv, nil
}

// Send records the outbound delivery. The target conversation must exist.
func (c *Client) Send(_ context.Context, conversationID, content string, contentType messaging.ContentType) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sendErr != nil {
		return c.sendErr
	}
	if _, ok := c.conversations[conversationID]; !ok {
		return fmt.Errorf("send to %s: %w", conversationID, messaging.ErrConversationNotFound)
	}

	c.sent = append(c.sent, SentMessage{
		ConversationID: conversationID,
		Content:        content,
		ContentType:    contentType,
	})
	return nil
}

// ResolveSenderAddress returns the registered display address for the
// sender, falling back to the raw sender identity.
func (c *Client) ResolveSenderAddress(_ context.Context, msg *messaging.Message) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if address, ok := c.addresses[strings.ToLower(msg.SenderID)]; ok {
		return address, nil
	}
	return msg.SenderID, nil
}

// Sent returns a snapshot of recorded outbound deliveries.
func (c *Client) Sent() []SentMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]SentMessage, len(c.sent))
	copy(out, c.sent)
	return out
}

type stream struct {
	client *Client
}

func (s *stream) Next(ctx context.Context) (*messaging.Message, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.client.done:
		return nil, messaging.ErrStreamClosed
	case msg := <-s.client.messages:
		return &msg, nil
	}
}

// Close is a no-op: the stream shares the client's feed, which stays usable
// until Client.Close.
func (s *stream) Close() error {
	return nil
}
