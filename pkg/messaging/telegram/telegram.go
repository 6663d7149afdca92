// Package telegram implements messaging.Client over the Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"botpipe/pkg/config"
	"botpipe/pkg/messaging"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

const messagePreviewLimit = 240

// Client bridges Telegram long polling into the pipeline's messaging contract.
type Client struct {
	cfg       config.TelegramConfig
	bot       *telego.Bot
	inboxID   string
	allowFrom map[string]struct{}
	log       *slog.Logger
}

// NewClient validates configuration, connects the bot, and resolves its own
// identity for self-message suppression.
func NewClient(ctx context.Context, cfg config.TelegramConfig, log *slog.Logger) (*Client, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("channels.telegram.token is required")
	}

	if log == nil {
		log = slog.Default()
	}

	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("initialize telegram bot: %w", err)
	}

	me, err := bot.GetMe(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve bot identity: %w", err)
	}

	return &Client{
		cfg:       cfg,
		bot:       bot,
		inboxID:   strconv.FormatInt(me.ID, 10),
		allowFrom: allowFromSet(cfg.AllowFrom),
		log:       log.With("component", "messaging.telegram"),
	}, nil
}

// InboxID returns the bot's own Telegram user id.
func (c *Client) InboxID() string {
	return c.inboxID
}

// StreamMessages starts long polling and exposes updates as an ordered
// message stream.
func (c *Client) StreamMessages(ctx context.Context) (messaging.MessageStream, error) {
	updates, err := c.bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("start long polling: %w", err)
	}

	c.log.Info("Telegram stream started")
	return &stream{client: c, updates: updates}, nil
}

// ConversationByID resolves a Telegram chat. A chat the bot cannot see yet
// maps to messaging.ErrConversationNotFound.
func (c *Client) ConversationByID(ctx context.Context, id string) (*messaging.Conversation, error) {
	chatID, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat id %q: %w", id, messaging.ErrConversationNotFound)
	}

	chat, err := c.bot.GetChat(ctx, &telego.GetChatParams{ChatID: tu.ID(chatID)})
	if err != nil {
		c.log.Debug("Chat lookup failed", "chat_id", id, "error", err)
		return nil, fmt.Errorf("chat %s: %w", id, messaging.ErrConversationNotFound)
	}

	return &messaging.Conversation{
		ID:    id,
		Kind:  conversationKind(chat.Type),
		Topic: chatTopic(chat),
	}, nil
}

// Send delivers text to a Telegram chat. Non-text content types are sent as
// plain text; Telegram renders them no differently.
func (c *Client) Send(ctx context.Context, conversationID, content string, _ messaging.ContentType) error {
	chatID, err := strconv.ParseInt(strings.TrimSpace(conversationID), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q", conversationID)
	}

	c.log.Debug("Sending message", "chat_id", conversationID, "content", previewText(content))
	if _, err := c.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), content)); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

// ResolveSenderAddress resolves a sender id into "@username" or a display
// name, falling back to the raw id when the user is not visible to the bot.
func (c *Client) ResolveSenderAddress(ctx context.Context, msg *messaging.Message) (string, error) {
	senderID, err := strconv.ParseInt(strings.TrimSpace(msg.SenderID), 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid sender id %q", msg.SenderID)
	}

	chat, err := c.bot.GetChat(ctx, &telego.GetChatParams{ChatID: tu.ID(senderID)})
	if err != nil {
		return "", fmt.Errorf("resolve sender %s: %w", msg.SenderID, err)
	}

	if username := strings.TrimSpace(chat.Username); username != "" {
		return "@" + username, nil
	}
	if name := strings.TrimSpace(strings.TrimSpace(chat.FirstName) + " " + strings.TrimSpace(chat.LastName)); name != "" {
		return name, nil
	}
	return msg.SenderID, nil
}

type stream struct {
	client  *Client
	updates <-chan telego.Update
}

func (s *stream) Next(ctx context.Context) (*messaging.Message, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case update, ok := <-s.updates:
			if !ok {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				return nil, fmt.Errorf("telegram long polling: %w", messaging.ErrStreamClosed)
			}

			msg, ok := s.client.messageFromUpdate(update)
			if !ok {
				continue
			}
			return msg, nil
		}
	}
}

func (s *stream) Close() error {
	// Long polling stops when the stream context is canceled.
	return nil
}

// messageFromUpdate maps one Telegram update to a pipeline message. Updates
// without usable text, without a sender, or from senders outside the allow
// list are dropped here.
func (c *Client) messageFromUpdate(update telego.Update) (*messaging.Message, bool) {
	message := update.Message
	if message == nil {
		return nil, false
	}

	content := strings.TrimSpace(message.Text)
	if content == "" {
		// Runtime currently expects text content; ignore media-only updates.
		return nil, false
	}
	if message.From == nil {
		c.log.Debug("Ignoring message without sender")
		return nil, false
	}

	senderID := strconv.FormatInt(message.From.ID, 10)
	if !c.senderAllowed(senderID) {
		c.log.Debug("Ignoring message from unauthorized sender", "sender_id", senderID)
		return nil, false
	}

	chatID := strconv.FormatInt(message.Chat.ID, 10)
	return &messaging.Message{
		ID:             strconv.Itoa(message.MessageID),
		SenderID:       senderID,
		ConversationID: chatID,
		Content:        content,
		ContentType:    messaging.ContentText,
		SentAt:         time.Unix(message.Date, 0).UTC(),
		Metadata: map[string]string{
			"update_id": strconv.Itoa(update.UpdateID),
		},
	}, true
}

// senderAllowed checks whether a sender is permitted by allow_from config.
//
// When no allow list is configured, all senders are accepted.
func (c *Client) senderAllowed(senderID string) bool {
	if len(c.allowFrom) == 0 {
		return true
	}

	_, ok := c.allowFrom[strings.TrimSpace(senderID)]
	return ok
}

func conversationKind(chatType string) messaging.ConversationKind {
	if chatType == telego.ChatTypePrivate {
		return messaging.ConversationDirect
	}
	return messaging.ConversationGroup
}

func chatTopic(chat *telego.ChatFullInfo) string {
	if title := strings.TrimSpace(chat.Title); title != "" {
		return title
	}
	return strings.TrimSpace(chat.Username)
}

// allowFromSet normalizes allow_from values into a lookup set.
func allowFromSet(allowFrom []string) map[string]struct{} {
	if len(allowFrom) == 0 {
		return nil
	}

	allowed := make(map[string]struct{}, len(allowFrom))
	for _, value := range allowFrom {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		allowed[trimmed] = struct{}{}
	}

	if len(allowed) == 0 {
		return nil
	}

	return allowed
}

// previewText returns a bounded log-safe preview of message text.
func previewText(text string) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) <= messagePreviewLimit {
		return trimmed
	}

	return trimmed[:messagePreviewLimit] + "..."
}
