package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/PaulBabatuyi/petmarket-gRPC/internal/cache"
	"github.com/PaulBabatuyi/petmarket-gRPC/internal/data"
	"github.com/PaulBabatuyi/petmarket-gRPC/internal/docstore"
	"github.com/PaulBabatuyi/petmarket-gRPC/internal/normalize"
)

const ownerCachePrefix = "listing-owner:"

// Resolver maps an initiator and a listing to the conversation with the
// listing's owner, creating it when needed.
type Resolver struct {
	store    docstore.Store
	listings *data.ListingsStore
	cache    cache.Cache
	cacheTTL time.Duration
	log      *zap.Logger
	now      func() time.Time
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithOwnerCache memoizes owner email lookups in c for ttl.
func WithOwnerCache(c cache.Cache, ttl time.Duration) ResolverOption {
	return func(r *Resolver) {
		r.cache = c
		r.cacheTTL = ttl
	}
}

// WithResolverLogger sets the logger.
func WithResolverLogger(log *zap.Logger) ResolverOption {
	return func(r *Resolver) {
		if log != nil {
			r.log = log
		}
	}
}

func NewResolver(store docstore.Store, listings *data.ListingsStore, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		store:    store,
		listings: listings,
		log:      zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the id of the conversation between initiator and the
// owner of listing.
func (r *Resolver) Resolve(ctx context.Context, initiator data.Principal, listing data.Listing) (string, error) {
	if initiator.NormalizedEmail() == "" {
		return "", data.ErrNotAuthenticated
	}
	ownerEmail, err := r.ownerEmail(ctx, listing)
	if err != nil {
		return "", err
	}
	owner := data.Participant{
		Email:       ownerEmail,
		DisplayName: firstNonEmpty(listing.OwnerName, listing.Username),
		AvatarURL:   listing.UserImage,
	}
	return r.ensure(ctx, initiator, owner, listing)
}

// ResolvePair is Resolve for a caller that already knows the owner.
func (r *Resolver) ResolvePair(ctx context.Context, initiator, owner data.Principal, listing data.Listing) (string, error) {
	if initiator.NormalizedEmail() == "" {
		return "", data.ErrNotAuthenticated
	}
	if owner.NormalizedEmail() == "" {
		return "", data.ErrOwnerUnresolved
	}
	return r.ensure(ctx, initiator, owner.Participant(), listing)
}

// ownerEmail tries, in order: the listing itself, the stored listing, and
// the first listing by the same username that records an email.
func (r *Resolver) ownerEmail(ctx context.Context, listing data.Listing) (string, error) {
	if e := listing.OwnerEmail(); e != "" {
		return e, nil
	}

	cacheKey := ownerCachePrefix + listing.ID + "|" + listing.Username
	if r.cache != nil {
		switch e, err := r.cache.Get(ctx, cacheKey); {
		case err == nil && e != "":
			return e, nil
		case err != nil && !errors.Is(err, cache.ErrMiss):
			r.log.Warn("owner cache read failed", zap.Error(err))
		}
	}

	username := listing.Username
	email := ""
	if listing.ID != "" && r.listings != nil {
		stored, err := r.listings.Get(ctx, listing.ID)
		switch {
		case err == nil:
			email = stored.OwnerEmail()
			username = firstNonEmpty(username, stored.Username)
		case errors.Is(err, data.ErrListingNotFound):
		default:
			return "", err
		}
	}
	if email == "" && r.listings != nil {
		var err error
		if email, err = r.listings.OwnerEmailByUsername(ctx, username); err != nil {
			return "", err
		}
	}
	if email == "" {
		return "", data.ErrOwnerUnresolved
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, cacheKey, email, r.cacheTTL); err != nil {
			r.log.Warn("owner cache write failed", zap.Error(err))
		}
	}
	return email, nil
}

// ensure creates Chat/{key} unless it exists. Concurrent callers race on
// Create and the loser reuses the winner's document.
func (r *Resolver) ensure(ctx context.Context, initiator data.Principal, owner data.Participant, listing data.Listing) (string, error) {
	key, err := ConversationKey(initiator.Email, owner.Email)
	if err != nil {
		return "", err
	}

	_, ok, err := r.store.Get(ctx, data.ChatCollection, key)
	if err != nil {
		return "", fmt.Errorf("get conversation: %w", err)
	}
	if ok {
		return key, nil
	}

	conv := data.Conversation{
		ID:           key,
		Participants: []data.Participant{initiator.Participant(), owner},
		ListingID:    listing.ID,
		ListingName:  listing.Name,
		ListingImage: listing.ImageURL,
		CreatedAt:    r.now().UTC(),
		UnreadCount: map[string]int{
			initiator.NormalizedEmail(): 0,
			normalize.Email(owner.Email): 0,
		},
		LegacyIDs: r.legacyConversations(ctx, initiator.DisplayName, owner.DisplayName),
	}

	err = r.store.Create(ctx, data.ChatCollection, key, data.EncodeConversation(conv))
	if err != nil && !errors.Is(err, docstore.ErrAlreadyExists) {
		return "", fmt.Errorf("create conversation: %w", err)
	}
	if err == nil {
		r.log.Info("conversation created",
			zap.String("conversation", key),
			zap.String("listing", listing.ID),
			zap.Strings("legacy", conv.LegacyIDs))
	}
	return key, nil
}

// legacyConversations finds name-keyed conversations between the two
// display names so the new conversation can point at them. Lookup
// failures only lose the link.
func (r *Resolver) legacyConversations(ctx context.Context, a, b string) []string {
	keys := legacyKeys(a, b)
	if len(keys) == 0 {
		return nil
	}
	docs, err := r.store.Find(ctx, docstore.In(data.ChatCollection, docstore.IDField, keys))
	if err != nil {
		r.log.Warn("legacy conversation lookup failed", zap.Error(err))
		return nil
	}
	var ids []string
	for _, doc := range docs {
		ids = append(ids, doc.ID)
	}
	return ids
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
