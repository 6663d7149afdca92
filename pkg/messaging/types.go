package messaging

import "time"

// ContentType tags the payload variant carried by a message.
type ContentType string

const (
	ContentText        ContentType = "text"
	ContentReaction    ContentType = "reaction"
	ContentTransaction ContentType = "transaction"
	ContentAttachment  ContentType = "attachment"
)

// Message is one inbound item delivered by a messaging backend.
//
// Messages are owned by the backend; the pipeline only reads them.
type Message struct {
	ID             string            `json:"id"`
	SenderID       string            `json:"sender_id"`
	ConversationID string            `json:"conversation_id"`
	Content        string            `json:"content"`
	ContentType    ContentType       `json:"content_type"`
	SentAt         time.Time         `json:"sent_at"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// ConversationKind distinguishes direct from group channels.
type ConversationKind string

const (
	ConversationDirect ConversationKind = "direct"
	ConversationGroup  ConversationKind = "group"
)

// Conversation is a logical channel resolved by id from the backend.
type Conversation struct {
	ID    string           `json:"id"`
	Kind  ConversationKind `json:"kind"`
	Topic string           `json:"topic,omitempty"`
}

// IsDirect reports whether the conversation is a two-party channel.
func (c *Conversation) IsDirect() bool {
	return c != nil && c.Kind == ConversationDirect
}
