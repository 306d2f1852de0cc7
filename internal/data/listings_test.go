package data

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/PaulBabatuyi/petmarket-gRPC/internal/docstore"
)

func seedPets(t *testing.T, store docstore.Store) {
	t.Helper()
	ctx := context.Background()
	pets := map[string]bson.M{
		"p1": {"name": "Rex", "category": "Dogs", "username": "jo", "postedDate": "2024-01-01T00:00:00Z"},
		"p2": {"name": "Tom", "category": "Cats", "username": "jo", "userEmail": "Jo@X.com", "postedDate": "2024-03-01T00:00:00Z"},
		"p3": {"name": "Bubbles", "category": "Fish", "email": "sam@x.com", "price": int32(20), "postedDate": "garbage"},
	}
	for id, p := range pets {
		require.NoError(t, store.Set(ctx, PetsCollection, id, p, docstore.SetOptions{}))
	}
}

func TestListingsStore_GetAndOwnerEmail(t *testing.T) {
	store := docstore.NewMemory()
	seedPets(t, store)
	listings := NewListingsStore(store)
	ctx := context.Background()

	got, err := listings.Get(ctx, "p2")
	require.NoError(t, err)
	assert.Equal(t, "Tom", got.Name)
	assert.Equal(t, "jo@x.com", got.OwnerEmail())

	got, err = listings.Get(ctx, "p3")
	require.NoError(t, err)
	assert.Equal(t, "20", got.Price)
	assert.Equal(t, "sam@x.com", got.OwnerEmail())

	_, err = listings.Get(ctx, "missing")
	assert.True(t, errors.Is(err, ErrListingNotFound))
}

func TestListingsStore_OwnerEmailByUsername(t *testing.T) {
	store := docstore.NewMemory()
	seedPets(t, store)
	listings := NewListingsStore(store)

	email, err := listings.OwnerEmailByUsername(context.Background(), "jo")
	require.NoError(t, err)
	assert.Equal(t, "jo@x.com", email)

	email, err = listings.OwnerEmailByUsername(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, email)
}

func TestListingsStore_ByCategory(t *testing.T) {
	store := docstore.NewMemory()
	seedPets(t, store)
	listings := NewListingsStore(store)
	ctx := context.Background()

	all, err := listings.ByCategory(ctx, AllCategories)
	require.NoError(t, err)
	require.Len(t, all, 3)
	// newest first, unparseable date last
	assert.Equal(t, []string{"p2", "p1", "p3"}, ids(all))

	cats, err := listings.ByCategory(ctx, "Cats")
	require.NoError(t, err)
	assert.Equal(t, []string{"p2"}, ids(cats))
}

func TestListingsStore_AddAndByOwner(t *testing.T) {
	store := docstore.NewMemory()
	listings := NewListingsStore(store)
	listings.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	owner := Principal{ID: "u1", Email: "Owner@X.com", DisplayName: "Owner"}

	added, err := listings.Add(ctx, owner, Listing{Name: "Rex", Category: "Dogs", Breed: "Lab"})
	require.NoError(t, err)
	assert.NotEmpty(t, added.ID)
	assert.Equal(t, "owner@x.com", added.UserEmail)
	assert.Equal(t, "owner@x.com", added.Email)
	assert.Equal(t, StatusAvailable, added.Status)
	assert.Equal(t, "2024-05-01T12:00:00Z", added.PostedDate)
	assert.Equal(t, "Owner", added.Username)

	mine, err := listings.ByOwner(ctx, "OWNER@x.com")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "Lab", mine[0].Breed)

	_, err = listings.Add(ctx, owner, Listing{Name: "no category"})
	assert.True(t, errors.Is(err, ErrInvalidListing))

	_, err = listings.Add(ctx, Principal{ID: "anon"}, Listing{Name: "x", Category: "Dogs"})
	assert.True(t, errors.Is(err, ErrNotAuthenticated))
}

func TestListingsStore_ByIDsKeepsOrder(t *testing.T) {
	store := docstore.NewMemory()
	seedPets(t, store)
	listings := NewListingsStore(store)

	got, err := listings.ByIDs(context.Background(), []string{"p3", "gone", "p1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"p3", "p1"}, ids(got))

	got, err = listings.ByIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestListingsStore_Categories(t *testing.T) {
	store := docstore.NewMemory()
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, CategoryCollection, "c2", bson.M{"name": "Dogs"}, docstore.SetOptions{}))
	require.NoError(t, store.Set(ctx, CategoryCollection, "c1", bson.M{"name": "Cats", "imageUrl": "cats.png"}, docstore.SetOptions{}))

	cats, err := NewListingsStore(store).Categories(ctx)
	require.NoError(t, err)
	require.Len(t, cats, 2)
	assert.Equal(t, "Cats", cats[0].Name)
	assert.Equal(t, "cats.png", cats[0].ImageURL)
}

func ids(listings []Listing) []string {
	out := make([]string, 0, len(listings))
	for _, l := range listings {
		out = append(out, l.ID)
	}
	return out
}
