package data

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/PaulBabatuyi/petmarket-gRPC/internal/docstore"
	"github.com/PaulBabatuyi/petmarket-gRPC/internal/normalize"
)

// AllCategories is the browse filter that selects every listing.
const AllCategories = "All"

// StatusAvailable is the status stamped on newly posted listings.
const StatusAvailable = "available"

// ListingsStore performs pet listing and category operations.
type ListingsStore struct {
	// store is the injected document store; Pets and Category live in it
	store docstore.Store

	// now is replaced in tests
	now func() time.Time
}

// NewListingsStore returns a ListingsStore over the provided store.
func NewListingsStore(store docstore.Store) *ListingsStore {
	return &ListingsStore{store: store, now: time.Now}
}

// Get returns Pets/{id}.
func (l *ListingsStore) Get(ctx context.Context, id string) (Listing, error) {
	if strings.TrimSpace(id) == "" {
		return Listing{}, ErrListingNotFound
	}
	doc, ok, err := l.store.Get(ctx, PetsCollection, id)
	if err != nil {
		return Listing{}, fmt.Errorf("get listing %s: %w", id, err)
	}
	if !ok {
		return Listing{}, fmt.Errorf("listing %s: %w", id, ErrListingNotFound)
	}
	return DecodeListing(doc), nil
}

// OwnerEmailByUsername returns the email carried by the first listing
// posted under username, or "" when none of them records one.
func (l *ListingsStore) OwnerEmailByUsername(ctx context.Context, username string) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return "", nil
	}
	docs, err := l.store.Find(ctx, docstore.Equals(PetsCollection, FieldUsername, username))
	if err != nil {
		return "", fmt.Errorf("find listings by username: %w", err)
	}
	for _, doc := range docs {
		if e := DecodeListing(doc).OwnerEmail(); e != "" {
			return e, nil
		}
	}
	return "", nil
}

// ByCategory lists pets in a category; AllCategories or "" lists every pet.
// Newest posts come first.
func (l *ListingsStore) ByCategory(ctx context.Context, category string) ([]Listing, error) {
	q := docstore.All(PetsCollection)
	if c := strings.TrimSpace(category); c != "" && c != AllCategories {
		q = docstore.Equals(PetsCollection, FieldCategory, c)
	}
	docs, err := l.store.Find(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list listings: %w", err)
	}
	return newestFirst(decodeListings(docs)), nil
}

// ByOwner lists the pets posted by email.
func (l *ListingsStore) ByOwner(ctx context.Context, email string) ([]Listing, error) {
	email = normalize.Email(email)
	if email == "" {
		return nil, ErrNotAuthenticated
	}
	docs, err := l.store.Find(ctx, docstore.Equals(PetsCollection, FieldEmail, email))
	if err != nil {
		return nil, fmt.Errorf("list listings by owner: %w", err)
	}
	return newestFirst(decodeListings(docs)), nil
}

// ByIDs returns the listings with the given ids in the order of ids.
// Unknown ids are skipped; duplicates repeat the listing.
func (l *ListingsStore) ByIDs(ctx context.Context, ids []string) ([]Listing, error) {
	if len(ids) == 0 {
		return []Listing{}, nil
	}
	docs, err := l.store.Find(ctx, docstore.In(PetsCollection, docstore.IDField, ids))
	if err != nil {
		return nil, fmt.Errorf("list listings by id: %w", err)
	}
	byID := make(map[string]Listing, len(docs))
	for _, doc := range docs {
		byID[doc.ID] = DecodeListing(doc)
	}
	out := make([]Listing, 0, len(ids))
	for _, id := range ids {
		if listing, ok := byID[id]; ok {
			out = append(out, listing)
		}
	}
	return out, nil
}

// Add posts a new listing for owner. The owner's email is written to both
// userEmail and email so either generation of readers can resolve it.
func (l *ListingsStore) Add(ctx context.Context, owner Principal, listing Listing) (Listing, error) {
	email := owner.NormalizedEmail()
	if email == "" {
		return Listing{}, ErrNotAuthenticated
	}
	if strings.TrimSpace(listing.Name) == "" || strings.TrimSpace(listing.Category) == "" {
		return Listing{}, fmt.Errorf("%w: name and category are required", ErrInvalidListing)
	}

	listing.ID = ""
	listing.UserEmail = email
	listing.Email = email
	listing.PostedDate = l.now().UTC().Format(time.RFC3339)
	listing.Status = StatusAvailable
	if listing.Username == "" {
		listing.Username = owner.DisplayName
	}
	if listing.UserImage == "" {
		listing.UserImage = owner.AvatarURL
	}

	id, err := l.store.Add(ctx, PetsCollection, EncodeListing(listing))
	if err != nil {
		return Listing{}, fmt.Errorf("add listing: %w", err)
	}
	listing.ID = id
	return listing, nil
}

// Categories lists the Category collection ordered by name.
func (l *ListingsStore) Categories(ctx context.Context) ([]Category, error) {
	docs, err := l.store.Find(ctx, docstore.All(CategoryCollection).OrderBy("name", docstore.Ascending))
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	out := make([]Category, 0, len(docs))
	for _, doc := range docs {
		out = append(out, DecodeCategory(doc))
	}
	return out, nil
}

func decodeListings(docs []docstore.Document) []Listing {
	out := make([]Listing, 0, len(docs))
	for _, doc := range docs {
		out = append(out, DecodeListing(doc))
	}
	return out
}

// newestFirst orders by postedDate; unparseable dates sink to the end.
func newestFirst(listings []Listing) []Listing {
	sort.SliceStable(listings, func(i, j int) bool {
		ti, oki := listings[i].PostedAt()
		tj, okj := listings[j].PostedAt()
		if oki != okj {
			return oki
		}
		return ti.After(tj)
	})
	return listings
}
