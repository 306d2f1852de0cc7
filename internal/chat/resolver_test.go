package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/PaulBabatuyi/petmarket-gRPC/internal/cache"
	"github.com/PaulBabatuyi/petmarket-gRPC/internal/data"
	"github.com/PaulBabatuyi/petmarket-gRPC/internal/docstore"
)

var (
	userA = data.Principal{ID: "ua", Email: "a@x.com", DisplayName: "Ann"}
	userB = data.Principal{ID: "ub", Email: "b@x.com", DisplayName: "Bob"}
)

func newResolver(store docstore.Store, opts ...ResolverOption) *Resolver {
	return NewResolver(store, data.NewListingsStore(store), opts...)
}

func TestConversationKey(t *testing.T) {
	k1, err := ConversationKey("A@x.com", "b@x.com ")
	require.NoError(t, err)
	k2, err := ConversationKey("b@x.com", "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, "a@x.com|b@x.com", k1)
	assert.Equal(t, k1, k2)

	_, err = ConversationKey("a@x.com", "A@X.COM")
	assert.True(t, errors.Is(err, data.ErrSelfConversation))

	_, err = ConversationKey("", "a@x.com")
	assert.True(t, errors.Is(err, data.ErrNotAuthenticated))
}

func TestResolveCreatesConversationOnce(t *testing.T) {
	store := docstore.NewMemory()
	r := newResolver(store)
	ctx := context.Background()
	listing := data.Listing{ID: "p1", Name: "Rex", UserEmail: "b@x.com", OwnerName: "Bob"}

	id, err := r.Resolve(ctx, userA, listing)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com|b@x.com", id)

	doc, ok, err := store.Get(ctx, data.ChatCollection, id)
	require.NoError(t, err)
	require.True(t, ok)
	conv := data.DecodeConversation(doc, r.now())
	assert.True(t, conv.Has("a@x.com"))
	assert.True(t, conv.Has("b@x.com"))
	assert.Equal(t, "p1", conv.ListingID)
	assert.Equal(t, map[string]int{"a@x.com": 0, "b@x.com": 0}, conv.UnreadCount)
	assert.Empty(t, conv.LastMessage)

	// the owner starting a chat about another listing reaches the same thread
	again, err := r.ResolvePair(ctx, userB, userA, data.Listing{ID: "p9"})
	require.NoError(t, err)
	assert.Equal(t, id, again)

	docs, err := store.Find(ctx, docstore.All(data.ChatCollection))
	require.NoError(t, err)
	assert.Len(t, docs, 1)
	assert.Equal(t, "p1", docs[0].Data[data.FieldListingID])
}

func TestResolveConcurrentCallersShareConversation(t *testing.T) {
	store := docstore.NewMemory()
	r := newResolver(store)
	listing := data.Listing{ID: "p1", UserEmail: "b@x.com"}

	var wg sync.WaitGroup
	ids := make(chan string, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := r.Resolve(context.Background(), userA, listing)
			assert.NoError(t, err)
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)
	for id := range ids {
		assert.Equal(t, "a@x.com|b@x.com", id)
	}

	docs, err := store.Find(context.Background(), docstore.All(data.ChatCollection))
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestResolveRejectsSelf(t *testing.T) {
	r := newResolver(docstore.NewMemory())
	_, err := r.Resolve(context.Background(), userA, data.Listing{ID: "p1", Email: "A@X.com"})
	assert.True(t, errors.Is(err, data.ErrSelfConversation))
}

func TestResolveRequiresInitiatorEmail(t *testing.T) {
	r := newResolver(docstore.NewMemory())
	_, err := r.Resolve(context.Background(), data.Principal{ID: "x"}, data.Listing{UserEmail: "b@x.com"})
	assert.True(t, errors.Is(err, data.ErrNotAuthenticated))
}

func TestResolveOwnerFallbacks(t *testing.T) {
	store := docstore.NewMemory()
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, data.PetsCollection, "p1", bson.M{"name": "Rex", "email": "b@x.com"}, docstore.SetOptions{}))
	require.NoError(t, store.Set(ctx, data.PetsCollection, "p2", bson.M{"name": "Old", "username": "carl"}, docstore.SetOptions{}))
	require.NoError(t, store.Set(ctx, data.PetsCollection, "p3", bson.M{"name": "New", "username": "carl", "userEmail": "c@x.com"}, docstore.SetOptions{}))
	r := newResolver(store)

	// stale client copy without owner fields: re-read the listing
	id, err := r.Resolve(ctx, userA, data.Listing{ID: "p1"})
	require.NoError(t, err)
	assert.Equal(t, "a@x.com|b@x.com", id)

	// legacy post without an email: match another post by the same username
	id, err = r.Resolve(ctx, userA, data.Listing{ID: "p2"})
	require.NoError(t, err)
	assert.Equal(t, "a@x.com|c@x.com", id)

	_, err = r.Resolve(ctx, userA, data.Listing{ID: "missing", Username: "nobody"})
	assert.True(t, errors.Is(err, data.ErrOwnerUnresolved))
}

type mockCache struct {
	mock.Mock
}

func (m *mockCache) Get(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}

func (m *mockCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return m.Called(ctx, key, value, ttl).Error(0)
}

func (m *mockCache) Ping(context.Context) error { return nil }

func (m *mockCache) Close() error { return nil }

func TestResolveUsesOwnerCache(t *testing.T) {
	store := docstore.NewMemory()
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, data.PetsCollection, "p1", bson.M{"email": "b@x.com"}, docstore.SetOptions{}))

	c := new(mockCache)
	c.On("Get", mock.Anything, "listing-owner:p1|").Return("", cache.ErrMiss).Once()
	c.On("Set", mock.Anything, "listing-owner:p1|", "b@x.com", time.Minute).Return(nil).Once()
	c.On("Get", mock.Anything, "listing-owner:p1|").Return("b@x.com", nil)

	r := newResolver(store, WithOwnerCache(c, time.Minute))
	for i := 0; i < 2; i++ {
		id, err := r.Resolve(ctx, userA, data.Listing{ID: "p1"})
		require.NoError(t, err)
		assert.Equal(t, "a@x.com|b@x.com", id)
	}
	c.AssertExpectations(t)
	c.AssertNumberOfCalls(t, "Set", 1)
}

func TestResolveLinksLegacyConversation(t *testing.T) {
	store := docstore.NewMemory()
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, data.ChatCollection, "Bob_Ann", bson.M{"lastMessage": "old"}, docstore.SetOptions{}))

	r := newResolver(store)
	id, err := r.Resolve(ctx, userA, data.Listing{ID: "p1", UserEmail: "b@x.com", OwnerName: "Bob"})
	require.NoError(t, err)

	doc, _, err := store.Get(ctx, data.ChatCollection, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"Bob_Ann"}, data.DecodeConversation(doc, r.now()).LegacyIDs)
}
