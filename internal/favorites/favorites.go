// Package favorites keeps a principal's favorite listing ids in the
// UserFavPet collection, one document per email.
package favorites

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"

	"github.com/PaulBabatuyi/petmarket-gRPC/internal/data"
	"github.com/PaulBabatuyi/petmarket-gRPC/internal/docstore"
)

// Reconciler reads and replaces favorites records.
type Reconciler struct {
	store    docstore.Store
	listings *data.ListingsStore
	log      *zap.Logger
}

// New returns a Reconciler. listings may be nil when FavoriteListings is
// not used; a nil logger discards output.
func New(store docstore.Store, listings *data.ListingsStore, log *zap.Logger) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{store: store, listings: listings, log: log}
}

// GetFavorites returns the principal's record, creating an empty one the
// first time it is read.
func (r *Reconciler) GetFavorites(ctx context.Context, p data.Principal) (data.FavoritesRecord, error) {
	email := p.NormalizedEmail()
	if email == "" {
		return data.FavoritesRecord{}, data.ErrNotAuthenticated
	}

	doc, ok, err := r.store.Get(ctx, data.FavoritesCollection, email)
	if err != nil {
		return data.FavoritesRecord{}, fmt.Errorf("get favorites: %w", err)
	}
	if ok {
		return data.DecodeFavorites(doc), nil
	}

	rec := data.FavoritesRecord{Email: email, Favorites: []string{}}
	err = r.store.Create(ctx, data.FavoritesCollection, email, bson.M{
		data.FieldEmail:     email,
		data.FieldFavorites: bson.A{},
	})
	switch {
	case err == nil:
		r.log.Debug("created favorites record", zap.String("email", email))
		return rec, nil
	case errors.Is(err, docstore.ErrAlreadyExists):
		// a concurrent reader created it first
		doc, ok, err := r.store.Get(ctx, data.FavoritesCollection, email)
		if err != nil {
			return data.FavoritesRecord{}, fmt.Errorf("get favorites: %w", err)
		}
		if ok {
			return data.DecodeFavorites(doc), nil
		}
		return rec, nil
	default:
		return data.FavoritesRecord{}, fmt.Errorf("create favorites: %w", err)
	}
}

// UpdateFavorites replaces the stored list with ids. Concurrent writers
// race and the last write wins; ids are stored as given.
func (r *Reconciler) UpdateFavorites(ctx context.Context, p data.Principal, ids []string) error {
	email := p.NormalizedEmail()
	if email == "" {
		return data.ErrNotAuthenticated
	}
	list := bson.A{}
	for _, id := range ids {
		list = append(list, id)
	}
	err := r.store.Set(ctx, data.FavoritesCollection, email, bson.M{
		data.FieldEmail:     email,
		data.FieldFavorites: list,
	}, docstore.SetOptions{Merge: true})
	if err != nil {
		return fmt.Errorf("update favorites: %w", err)
	}
	return nil
}

// Optimistic lets a caller show the next favorites list before the write
// completes. Apply receives the next list before the write; Rollback
// receives the previous list if the write fails. Either may be nil.
type Optimistic struct {
	Apply    func(next []string)
	Rollback func(previous []string)
}

// Toggle adds listingID to current, or removes it when present, and
// persists the result. It returns the list that is now stored.
func (r *Reconciler) Toggle(ctx context.Context, p data.Principal, current []string, listingID string, opt Optimistic) ([]string, error) {
	if p.NormalizedEmail() == "" {
		return nil, data.ErrNotAuthenticated
	}
	previous := slices.Clone(current)
	var next []string
	if Contains(current, listingID) {
		next = Remove(current, listingID)
	} else {
		next = Add(current, listingID)
	}

	if opt.Apply != nil {
		opt.Apply(slices.Clone(next))
	}
	if err := r.UpdateFavorites(ctx, p, next); err != nil {
		r.log.Warn("favorite toggle rolled back",
			zap.String("email", p.NormalizedEmail()),
			zap.String("listing", listingID),
			zap.Error(err))
		if opt.Rollback != nil {
			opt.Rollback(previous)
		}
		return previous, err
	}
	return next, nil
}

// FavoriteListings resolves the principal's favorites to listings in
// favorites order, skipping listings that no longer exist.
func (r *Reconciler) FavoriteListings(ctx context.Context, p data.Principal) ([]data.Listing, error) {
	if r.listings == nil {
		return nil, errors.New("favorites: no listings store configured")
	}
	rec, err := r.GetFavorites(ctx, p)
	if err != nil {
		return nil, err
	}
	return r.listings.ByIDs(ctx, rec.Favorites)
}

// Contains reports whether id is in list.
func Contains(list []string, id string) bool {
	return slices.Contains(list, id)
}

// Add returns a copy of list with id appended unless already present.
func Add(list []string, id string) []string {
	out := slices.Clone(list)
	if out == nil {
		out = []string{}
	}
	if Contains(out, id) {
		return out
	}
	return append(out, id)
}

// Remove returns a copy of list without any occurrence of id.
func Remove(list []string, id string) []string {
	out := make([]string, 0, len(list))
	for _, v := range list {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
