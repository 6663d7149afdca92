package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"botpipe/pkg/messaging"
)

// countingClient is a minimal messaging.Client that records resolution calls.
type countingClient struct {
	mu           sync.Mutex
	resolveCalls int
	resolveErr   error
	sendErr      error
	sent         []string
}

func (c *countingClient) InboxID() string { return "bot" }

func (c *countingClient) StreamMessages(context.Context) (messaging.MessageStream, error) {
	return nil, errors.New("not implemented")
}

func (c *countingClient) ConversationByID(context.Context, string) (*messaging.Conversation, error) {
	return nil, messaging.ErrConversationNotFound
}

func (c *countingClient) Send(_ context.Context, _ string, content string, _ messaging.ContentType) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, content)
	return nil
}

func (c *countingClient) ResolveSenderAddress(context.Context, *messaging.Message) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resolveCalls++
	if c.resolveErr != nil {
		return "", c.resolveErr
	}
	return "alice.example.eth", nil
}

func testContext(t *testing.T, client messaging.Client) *Context {
	t.Helper()
	mctx, err := NewContext(
		&messaging.Message{ID: "m1", SenderID: "alice", ConversationID: "c1", ContentType: messaging.ContentText},
		&messaging.Conversation{ID: "c1", Kind: messaging.ConversationDirect},
		client,
	)
	if err != nil {
		t.Fatalf("NewContext error: %v", err)
	}
	return mctx
}

func TestNewContextRequiresArguments(t *testing.T) {
	client := &countingClient{}
	msg := &messaging.Message{ID: "m1"}
	conv := &messaging.Conversation{ID: "c1"}

	if _, err := NewContext(nil, conv, client); err == nil {
		t.Fatal("expected error for nil message")
	}
	if _, err := NewContext(msg, nil, client); err == nil {
		t.Fatal("expected error for nil conversation")
	}
	if _, err := NewContext(msg, conv, nil); err == nil {
		t.Fatal("expected error for nil client")
	}
}

func TestSendForwardsToConversation(t *testing.T) {
	client := &countingClient{}
	mctx := testContext(t, client)

	if err := mctx.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if len(client.sent) != 1 || client.sent[0] != "hello" {
		t.Fatalf("sent = %v, want [hello]", client.sent)
	}
}

func TestSendPropagatesFailure(t *testing.T) {
	boom := errors.New("delivery failed")
	client := &countingClient{sendErr: boom}
	mctx := testContext(t, client)

	if err := mctx.Send(context.Background(), "hello"); !errors.Is(err, boom) {
		t.Fatalf("Send error = %v, want %v", err, boom)
	}
}

func TestSenderAddressMemoized(t *testing.T) {
	client := &countingClient{}
	mctx := testContext(t, client)

	for range 3 {
		address, err := mctx.SenderAddress(context.Background())
		if err != nil {
			t.Fatalf("SenderAddress error: %v", err)
		}
		if address != "alice.example.eth" {
			t.Fatalf("address = %q", address)
		}
	}

	if client.resolveCalls != 1 {
		t.Fatalf("resolve calls = %d, want 1", client.resolveCalls)
	}
}

func TestSenderAddressFailureNotCached(t *testing.T) {
	boom := errors.New("lookup failed")
	client := &countingClient{resolveErr: boom}
	mctx := testContext(t, client)

	if _, err := mctx.SenderAddress(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("SenderAddress error = %v, want %v", err, boom)
	}

	client.mu.Lock()
	client.resolveErr = nil
	client.mu.Unlock()

	address, err := mctx.SenderAddress(context.Background())
	if err != nil {
		t.Fatalf("SenderAddress after recovery error: %v", err)
	}
	if address != "alice.example.eth" {
		t.Fatalf("address = %q", address)
	}
	if client.resolveCalls != 2 {
		t.Fatalf("resolve calls = %d, want 2", client.resolveCalls)
	}
}
