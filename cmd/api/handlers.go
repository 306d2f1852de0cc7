package main

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/PaulBabatuyi/petmarket-gRPC/internal/auth"
	"github.com/PaulBabatuyi/petmarket-gRPC/internal/data"
	"github.com/PaulBabatuyi/petmarket-gRPC/internal/favorites"
)

type empty struct{}

type idRequest struct {
	ID string `json:"id"`
}

type listPetsRequest struct {
	Category string `json:"category"`
}

type petsResponse struct {
	Pets []data.Listing `json:"pets"`
}

type petResponse struct {
	Pet data.Listing `json:"pet"`
}

type addPetRequest struct {
	Pet data.Listing `json:"pet"`
}

type categoriesResponse struct {
	Categories []data.Category `json:"categories"`
}

type favoritesRequest struct {
	Favorites []string `json:"favorites"`
}

type toggleFavoriteRequest struct {
	PetID string `json:"petId"`
}

type toggleFavoriteResponse struct {
	Favorites []string `json:"favorites"`
	Favorited bool     `json:"favorited"`
}

// startConversationRequest names the pet being discussed. Pet and Owner
// describe a listing the store does not know; for a stored listing the
// stored owner always wins.
type startConversationRequest struct {
	PetID string            `json:"petId"`
	Pet   *data.Listing     `json:"pet,omitempty"`
	Owner *data.Participant `json:"owner,omitempty"`
}

type conversationRequest struct {
	ConversationID string `json:"conversationId"`
}

type conversationIDResponse struct {
	ConversationID string `json:"conversationId"`
}

type conversationResponse struct {
	Conversation data.Conversation `json:"conversation"`
}

type conversationsResponse struct {
	Conversations []data.ConversationSummary `json:"conversations"`
}

type sendMessageRequest struct {
	ConversationID string `json:"conversationId"`
	Text           string `json:"text"`
}

type messageResponse struct {
	Message data.Message `json:"message"`
}

// ListCategories returns the pet categories for the browse tabs.
func (s *Server) ListCategories(ctx context.Context, _ *empty) (categoriesResponse, error) {
	cats, err := s.listings.Categories(ctx)
	if err != nil {
		return categoriesResponse{}, err
	}
	return categoriesResponse{Categories: cats}, nil
}

// ListPets returns the pets of a category; "All" or no category lists every pet.
func (s *Server) ListPets(ctx context.Context, req *listPetsRequest) (petsResponse, error) {
	pets, err := s.listings.ByCategory(ctx, req.Category)
	if err != nil {
		return petsResponse{}, err
	}
	return petsResponse{Pets: pets}, nil
}

func (s *Server) GetPet(ctx context.Context, req *idRequest) (petResponse, error) {
	pet, err := s.listings.Get(ctx, req.ID)
	if err != nil {
		return petResponse{}, err
	}
	return petResponse{Pet: pet}, nil
}

// AddPet posts a new listing owned by the caller.
func (s *Server) AddPet(ctx context.Context, req *addPetRequest) (petResponse, error) {
	p, err := auth.CurrentPrincipal(ctx)
	if err != nil {
		return petResponse{}, err
	}
	pet, err := s.listings.Add(ctx, p, req.Pet)
	if err != nil {
		return petResponse{}, err
	}
	s.log.Info("pet added", zap.String("pet", pet.ID), zap.String("owner", p.NormalizedEmail()))
	return petResponse{Pet: pet}, nil
}

// ListMyPets returns the caller's own posts.
func (s *Server) ListMyPets(ctx context.Context, _ *empty) (petsResponse, error) {
	p, err := auth.CurrentPrincipal(ctx)
	if err != nil {
		return petsResponse{}, err
	}
	pets, err := s.listings.ByOwner(ctx, p.Email)
	if err != nil {
		return petsResponse{}, err
	}
	return petsResponse{Pets: pets}, nil
}

func (s *Server) GetFavorites(ctx context.Context, _ *empty) (data.FavoritesRecord, error) {
	p, err := auth.CurrentPrincipal(ctx)
	if err != nil {
		return data.FavoritesRecord{}, err
	}
	return s.favorites.GetFavorites(ctx, p)
}

// UpdateFavorites replaces the caller's favorites with the given list.
func (s *Server) UpdateFavorites(ctx context.Context, req *favoritesRequest) (favoritesRequest, error) {
	p, err := auth.CurrentPrincipal(ctx)
	if err != nil {
		return favoritesRequest{}, err
	}
	ids := req.Favorites
	if ids == nil {
		ids = []string{}
	}
	if err := s.favorites.UpdateFavorites(ctx, p, ids); err != nil {
		return favoritesRequest{}, err
	}
	return favoritesRequest{Favorites: ids}, nil
}

// ToggleFavorite flips one pet in the caller's stored favorites.
func (s *Server) ToggleFavorite(ctx context.Context, req *toggleFavoriteRequest) (toggleFavoriteResponse, error) {
	p, err := auth.CurrentPrincipal(ctx)
	if err != nil {
		return toggleFavoriteResponse{}, err
	}
	petID := strings.TrimSpace(req.PetID)
	if petID == "" {
		return toggleFavoriteResponse{}, data.ErrListingNotFound
	}
	rec, err := s.favorites.GetFavorites(ctx, p)
	if err != nil {
		return toggleFavoriteResponse{}, err
	}
	next, err := s.favorites.Toggle(ctx, p, rec.Favorites, petID, favorites.Optimistic{})
	if err != nil {
		return toggleFavoriteResponse{}, err
	}
	return toggleFavoriteResponse{Favorites: next, Favorited: favorites.Contains(next, petID)}, nil
}

// ListFavoritePets returns the listings behind the caller's favorites.
func (s *Server) ListFavoritePets(ctx context.Context, _ *empty) (petsResponse, error) {
	p, err := auth.CurrentPrincipal(ctx)
	if err != nil {
		return petsResponse{}, err
	}
	pets, err := s.favorites.FavoriteListings(ctx, p)
	if err != nil {
		return petsResponse{}, err
	}
	return petsResponse{Pets: pets}, nil
}

// StartConversation returns the conversation between the caller and the
// pet's owner, creating it on first contact.
func (s *Server) StartConversation(ctx context.Context, req *startConversationRequest) (conversationIDResponse, error) {
	p, err := auth.CurrentPrincipal(ctx)
	if err != nil {
		return conversationIDResponse{}, err
	}

	petID := req.PetID
	if petID == "" && req.Pet != nil {
		petID = req.Pet.ID
	}

	var id string
	pet, err := s.listings.Get(ctx, petID)
	switch {
	case err == nil:
		id, err = s.resolver.Resolve(ctx, p, pet)
	case !errors.Is(err, data.ErrListingNotFound):
	case req.Owner != nil && req.Owner.Email != "":
		owner := data.Principal{
			ID:          req.Owner.ID,
			Email:       req.Owner.Email,
			DisplayName: req.Owner.DisplayName,
			AvatarURL:   req.Owner.AvatarURL,
		}
		id, err = s.resolver.ResolvePair(ctx, p, owner, unstoredListing(req, petID))
	case req.Pet != nil:
		id, err = s.resolver.Resolve(ctx, p, unstoredListing(req, petID))
	}
	if err != nil {
		return conversationIDResponse{}, err
	}
	return conversationIDResponse{ConversationID: id}, nil
}

// unstoredListing is the client's description of a listing missing from
// the store.
func unstoredListing(req *startConversationRequest, petID string) data.Listing {
	pet := data.Listing{ID: petID}
	if req.Pet != nil {
		pet = *req.Pet
		pet.ID = petID
	}
	return pet
}

func (s *Server) GetConversation(ctx context.Context, req *conversationRequest) (conversationResponse, error) {
	p, err := auth.CurrentPrincipal(ctx)
	if err != nil {
		return conversationResponse{}, err
	}
	conv, err := s.chat.Conversation(ctx, req.ConversationID, p)
	if err != nil {
		return conversationResponse{}, err
	}
	return conversationResponse{Conversation: conv}, nil
}

// ListConversations returns the caller's inbox.
func (s *Server) ListConversations(ctx context.Context, _ *empty) (conversationsResponse, error) {
	p, err := auth.CurrentPrincipal(ctx)
	if err != nil {
		return conversationsResponse{}, err
	}
	convs, err := s.chat.Inbox(ctx, p)
	if err != nil {
		return conversationsResponse{}, err
	}
	return conversationsResponse{Conversations: convs}, nil
}

func (s *Server) SendMessage(ctx context.Context, req *sendMessageRequest) (messageResponse, error) {
	p, err := auth.CurrentPrincipal(ctx)
	if err != nil {
		return messageResponse{}, err
	}
	msg, err := s.chat.Send(ctx, req.ConversationID, p, req.Text)
	if err != nil {
		return messageResponse{}, err
	}
	return messageResponse{Message: msg}, nil
}

// MarkRead clears the caller's unread badge for a conversation.
func (s *Server) MarkRead(ctx context.Context, req *conversationRequest) (empty, error) {
	p, err := auth.CurrentPrincipal(ctx)
	if err != nil {
		return empty{}, err
	}
	return empty{}, s.chat.MarkRead(ctx, req.ConversationID, p)
}
