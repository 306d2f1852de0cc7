package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"

	"github.com/PaulBabatuyi/petmarket-gRPC/internal/data"
	"github.com/PaulBabatuyi/petmarket-gRPC/internal/docstore"
)

// Notifier is told about a delivered message so it can push the updated
// inbox row to the recipient.
type Notifier interface {
	MessageSent(recipient string, summary data.ConversationSummary)
}

// Controller streams, sends and acknowledges the messages of conversations.
type Controller struct {
	store    docstore.Store
	log      *zap.Logger
	notifier Notifier
	now      func() time.Time
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) ControllerOption {
	return func(c *Controller) {
		if log != nil {
			c.log = log
		}
	}
}

// WithNotifier registers n for sent messages.
func WithNotifier(n Notifier) ControllerOption {
	return func(c *Controller) { c.notifier = n }
}

func NewController(store docstore.Store, opts ...ControllerOption) *Controller {
	c := &Controller{store: store, log: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StreamOptions configures Stream. Messages are oldest first unless
// NewestFirst is set.
type StreamOptions struct {
	NewestFirst bool
}

// Stream subscribes to the messages of conversationID. The stream ends
// when Close is called or ctx is done.
func (c *Controller) Stream(ctx context.Context, conversationID string, opts StreamOptions) (*Stream, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, data.ErrConversationNotFound
	}
	dir := docstore.Ascending
	if opts.NewestFirst {
		dir = docstore.Descending
	}
	q := docstore.All(messagesPath(conversationID)).OrderBy(data.FieldCreatedAt, dir)

	s := newStream(c.now)
	stop, err := c.store.Subscribe(ctx, q, s.deliver, func(err error) {
		c.log.Warn("message stream error", zap.String("conversation", conversationID), zap.Error(err))
		s.fail(err)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to messages: %w", err)
	}
	s.attach(stop)

	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.closed:
		}
	}()
	return s, nil
}

// Conversation returns conversationID if p takes part in it.
func (c *Controller) Conversation(ctx context.Context, conversationID string, p data.Principal) (data.Conversation, error) {
	email := p.NormalizedEmail()
	if email == "" {
		return data.Conversation{}, data.ErrNotAuthenticated
	}
	if strings.TrimSpace(conversationID) == "" {
		return data.Conversation{}, data.ErrConversationNotFound
	}
	doc, ok, err := c.store.Get(ctx, data.ChatCollection, conversationID)
	if err != nil {
		return data.Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	if !ok {
		return data.Conversation{}, fmt.Errorf("conversation %s: %w", conversationID, data.ErrConversationNotFound)
	}
	conv := data.DecodeConversation(doc, c.now())
	if !conv.Has(email) {
		return data.Conversation{}, data.ErrNotParticipant
	}
	return conv, nil
}

// Send appends a message from p and then updates the conversation's last
// message fields and the recipient's unread counter. The message is kept
// even when that second write fails.
func (c *Controller) Send(ctx context.Context, conversationID string, p data.Principal, text string) (data.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return data.Message{}, data.ErrEmptyMessage
	}
	conv, err := c.Conversation(ctx, conversationID, p)
	if err != nil {
		return data.Message{}, err
	}

	now := c.now().UTC()
	msg := data.Message{Text: text, Sender: p.Participant(), CreatedAt: now}
	id, err := c.store.Add(ctx, messagesPath(conversationID), data.EncodeMessage(msg))
	if err != nil {
		return data.Message{}, fmt.Errorf("send message: %w", err)
	}
	msg.ID = id

	update := docstore.Update{Set: bson.M{
		data.FieldLastMessage:       text,
		data.FieldLastMessageAt:     now,
		data.FieldLastMessageSender: data.EncodeParticipant(msg.Sender),
		data.FieldUpdatedAt:         now,
	}}
	recipient, hasRecipient := conv.Other(p.Email)
	if hasRecipient {
		update.Inc = map[string]int64{data.UnreadField(recipient.Email): 1}
	}
	if err := c.store.Update(ctx, data.ChatCollection, conversationID, update); err != nil {
		c.log.Warn("conversation metadata update failed",
			zap.String("conversation", conversationID),
			zap.String("message", id),
			zap.Error(err))
		return msg, nil
	}

	if hasRecipient && c.notifier != nil {
		conv.LastMessage = text
		conv.LastMessageAt = &now
		conv.LastMessageSender = &msg.Sender
		conv.UnreadCount[recipient.Email]++
		c.notifier.MessageSent(recipient.Email, conv.Summary(recipient.Email))
	}
	return msg, nil
}

// MarkRead clears p's unread counter and records when p last looked.
func (c *Controller) MarkRead(ctx context.Context, conversationID string, p data.Principal) error {
	if _, err := c.Conversation(ctx, conversationID, p); err != nil {
		return err
	}
	err := c.store.Update(ctx, data.ChatCollection, conversationID, docstore.Update{Set: bson.M{
		data.UnreadField(p.Email):   0,
		data.LastSeenField(p.Email): c.now().UTC(),
	}})
	if errors.Is(err, docstore.ErrNotFound) {
		return fmt.Errorf("conversation %s: %w", conversationID, data.ErrConversationNotFound)
	}
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// Inbox lists p's conversations, most recent activity first.
func (c *Controller) Inbox(ctx context.Context, p data.Principal) ([]data.ConversationSummary, error) {
	email := p.NormalizedEmail()
	if email == "" {
		return nil, data.ErrNotAuthenticated
	}
	docs, err := c.store.Find(ctx, docstore.Equals(data.ChatCollection, data.FieldParticipantEmails, email))
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	now := c.now()
	out := make([]data.ConversationSummary, 0, len(docs))
	for _, doc := range docs {
		out = append(out, data.DecodeConversation(doc, now).Summary(email))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out, nil
}

func messagesPath(conversationID string) string {
	return docstore.Sub(data.ChatCollection, conversationID, data.MessagesCollection)
}
