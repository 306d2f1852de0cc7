package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/PaulBabatuyi/petmarket-gRPC/internal/data"
	"github.com/PaulBabatuyi/petmarket-gRPC/internal/docstore"
)

// failingUpdates rejects every Update with ErrUnavailable.
type failingUpdates struct {
	docstore.Store
}

func (failingUpdates) Update(context.Context, string, string, docstore.Update) error {
	return docstore.Unavailable("update", errors.New("timeout"))
}

// endingSubscriptions delivers the current result once and then ends the
// subscription the way a dropped change stream does.
type endingSubscriptions struct {
	docstore.Store
}

func (e endingSubscriptions) Subscribe(ctx context.Context, q docstore.Query, onChange func([]docstore.Document), onError func(error)) (func(), error) {
	docs, err := e.Store.Find(ctx, q)
	if err != nil {
		return nil, err
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		onChange(docs)
		onError(docstore.Ended("watch", docstore.Unavailable("change stream", errors.New("invalidated"))))
	}()
	return func() { <-done }, nil
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) MessageSent(recipient string, summary data.ConversationSummary) {
	m.Called(recipient, summary)
}

func setupConversation(t *testing.T, store docstore.Store) string {
	t.Helper()
	id, err := newResolver(store).ResolvePair(context.Background(), userA, userB, data.Listing{ID: "p1", Name: "Rex"})
	require.NoError(t, err)
	return id
}

func unread(t *testing.T, store docstore.Store, id string) map[string]int {
	t.Helper()
	doc, ok, err := store.Get(context.Background(), data.ChatCollection, id)
	require.NoError(t, err)
	require.True(t, ok)
	return data.DecodeConversation(doc, time.Now()).UnreadCount
}

func nextSnapshot(t *testing.T, s *Stream) []data.Message {
	t.Helper()
	select {
	case msgs, ok := <-s.Messages():
		require.True(t, ok, "stream closed")
		return msgs
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return nil
	}
}

func TestSendUpdatesMetadataAndUnread(t *testing.T) {
	store := docstore.NewMemory()
	id := setupConversation(t, store)
	c := NewController(store)
	ctx := context.Background()

	msg, err := c.Send(ctx, id, userA, "  hello  ")
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Text)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "a@x.com", msg.Sender.Email)

	assert.Equal(t, map[string]int{"a@x.com": 0, "b@x.com": 1}, unread(t, store, id))

	_, err = c.Send(ctx, id, userA, "again")
	require.NoError(t, err)
	assert.Equal(t, 2, unread(t, store, id)["b@x.com"])

	conv, err := c.Conversation(ctx, id, userB)
	require.NoError(t, err)
	assert.Equal(t, "again", conv.LastMessage)
	require.NotNil(t, conv.LastMessageSender)
	assert.Equal(t, "a@x.com", conv.LastMessageSender.Email)
	require.NotNil(t, conv.LastMessageAt)

	require.NoError(t, c.MarkRead(ctx, id, userB))
	require.NoError(t, c.MarkRead(ctx, id, userB))
	assert.Equal(t, 0, unread(t, store, id)["b@x.com"])

	conv, err = c.Conversation(ctx, id, userB)
	require.NoError(t, err)
	assert.Contains(t, conv.LastSeen, "b@x.com")
}

func TestSendRejectsEmptyText(t *testing.T) {
	store := docstore.NewMemory()
	id := setupConversation(t, store)
	c := NewController(store)

	_, err := c.Send(context.Background(), id, userA, "   ")
	assert.True(t, errors.Is(err, data.ErrEmptyMessage))

	docs, err := store.Find(context.Background(), docstore.All(messagesPath(id)))
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestSendRequiresParticipant(t *testing.T) {
	store := docstore.NewMemory()
	id := setupConversation(t, store)
	c := NewController(store)
	mallory := data.Principal{Email: "m@x.com"}

	_, err := c.Send(context.Background(), id, mallory, "hi")
	assert.True(t, errors.Is(err, data.ErrNotParticipant))

	_, err = c.Send(context.Background(), "nope", userA, "hi")
	assert.True(t, errors.Is(err, data.ErrConversationNotFound))
}

func TestSendSurvivesMetadataFailure(t *testing.T) {
	mem := docstore.NewMemory()
	id := setupConversation(t, mem)
	n := new(mockNotifier)
	c := NewController(failingUpdates{mem}, WithNotifier(n))

	msg, err := c.Send(context.Background(), id, userA, "hi")
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)

	docs, err := mem.Find(context.Background(), docstore.All(messagesPath(id)))
	require.NoError(t, err)
	assert.Len(t, docs, 1)
	n.AssertNotCalled(t, "MessageSent", mock.Anything, mock.Anything)
}

func TestSendNotifiesRecipient(t *testing.T) {
	store := docstore.NewMemory()
	id := setupConversation(t, store)
	n := new(mockNotifier)
	n.On("MessageSent", "b@x.com", mock.MatchedBy(func(s data.ConversationSummary) bool {
		return s.ID == id && s.Unread == 1 && s.LastMessage == "hi" && s.Other.Email == "a@x.com"
	})).Once()

	c := NewController(store, WithNotifier(n))
	_, err := c.Send(context.Background(), id, userA, "hi")
	require.NoError(t, err)
	n.AssertExpectations(t)
}

func TestStreamDeliversOrderedSnapshots(t *testing.T) {
	store := docstore.NewMemory()
	id := setupConversation(t, store)
	ctx := context.Background()

	// out-of-order writes, one in a legacy shape
	path := messagesPath(id)
	_, err := store.Add(ctx, path, bson.M{"text": "second", "sender": bson.M{"email": "b@x.com"}, "createdAt": time.Unix(200, 0)})
	require.NoError(t, err)
	_, err = store.Add(ctx, path, bson.M{"text": "first", "user": bson.M{"_id": "a@x.com", "name": "Ann"}, "createdAt": time.Unix(100, 0)})
	require.NoError(t, err)

	c := NewController(store)
	s, err := c.Stream(ctx, id, StreamOptions{})
	require.NoError(t, err)
	defer s.Close()

	msgs := nextSnapshot(t, s)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Text)
	assert.Equal(t, "a@x.com", msgs[0].Sender.Email)
	assert.Equal(t, StateLive, s.State())

	_, err = c.Send(ctx, id, userB, "third")
	require.NoError(t, err)

	var last []data.Message
	require.Eventually(t, func() bool {
		select {
		case last = <-s.Messages():
		default:
		}
		return len(last) == 3
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "third", last[2].Text)
}

func TestStreamNewestFirst(t *testing.T) {
	store := docstore.NewMemory()
	id := setupConversation(t, store)
	c := NewController(store)
	ctx := context.Background()

	_, err := c.Send(ctx, id, userA, "one")
	require.NoError(t, err)
	c.now = func() time.Time { return time.Now().Add(time.Minute) }
	_, err = c.Send(ctx, id, userA, "two")
	require.NoError(t, err)

	s, err := c.Stream(ctx, id, StreamOptions{NewestFirst: true})
	require.NoError(t, err)
	defer s.Close()

	msgs := nextSnapshot(t, s)
	require.Len(t, msgs, 2)
	assert.Equal(t, "two", msgs[0].Text)
}

func TestStreamCloseIsSynchronous(t *testing.T) {
	store := docstore.NewMemory()
	id := setupConversation(t, store)
	c := NewController(store)

	s, err := c.Stream(context.Background(), id, StreamOptions{})
	require.NoError(t, err)
	nextSnapshot(t, s)

	s.Close()
	s.Close()
	assert.Equal(t, StateClosed, s.State())

	_, err = c.Send(context.Background(), id, userA, "after close")
	require.NoError(t, err)

	for range s.Messages() {
		t.Fatal("snapshot delivered after Close")
	}
}

func TestStreamEndsWithContext(t *testing.T) {
	store := docstore.NewMemory()
	id := setupConversation(t, store)
	ctx, cancel := context.WithCancel(context.Background())

	s, err := NewController(store).Stream(ctx, id, StreamOptions{})
	require.NoError(t, err)
	cancel()

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("stream not closed after context cancel")
	}
	assert.Equal(t, StateClosed, s.State())
}

func TestStreamClosesWhenSubscriptionEnds(t *testing.T) {
	store := docstore.NewMemory()
	id := setupConversation(t, store)
	c := NewController(endingSubscriptions{store})

	s, err := c.Stream(context.Background(), id, StreamOptions{})
	require.NoError(t, err)
	defer s.Close()

	assert.Empty(t, nextSnapshot(t, s))
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("stream still open after the subscription ended")
	}
	_, ok := <-s.Messages()
	assert.False(t, ok)
	assert.Equal(t, StateClosed, s.State())
	assert.ErrorIs(t, s.Err(), docstore.ErrSubscriptionEnded)
	assert.ErrorIs(t, s.Err(), docstore.ErrUnavailable)
}

func TestInboxOrdersByActivity(t *testing.T) {
	store := docstore.NewMemory()
	ctx := context.Background()
	r := newResolver(store)
	userC := data.Principal{Email: "c@x.com", DisplayName: "Cy"}

	ab, err := r.ResolvePair(ctx, userA, userB, data.Listing{ID: "p1"})
	require.NoError(t, err)
	ac, err := r.ResolvePair(ctx, userA, userC, data.Listing{ID: "p2"})
	require.NoError(t, err)

	c := NewController(store)
	_, err = c.Send(ctx, ab, userB, "old")
	require.NoError(t, err)
	c.now = func() time.Time { return time.Now().Add(time.Hour) }
	_, err = c.Send(ctx, ac, userC, "new")
	require.NoError(t, err)

	inbox, err := c.Inbox(ctx, userA)
	require.NoError(t, err)
	require.Len(t, inbox, 2)
	assert.Equal(t, ac, inbox[0].ID)
	assert.Equal(t, "c@x.com", inbox[0].Other.Email)
	assert.Equal(t, 1, inbox[0].Unread)
	assert.Equal(t, ab, inbox[1].ID)

	inbox, err = c.Inbox(ctx, userB)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, 0, inbox[0].Unread)
}
