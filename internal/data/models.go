package data

import (
	"strings"
	"time"

	"github.com/PaulBabatuyi/petmarket-gRPC/internal/normalize"
)

// Collection names are part of the persisted contract shared with the
// mobile client.
const (
	FavoritesCollection = "UserFavPet"
	PetsCollection      = "Pets"
	CategoryCollection  = "Category"
	ChatCollection      = "Chat"
	MessagesCollection  = "Messages"
)

// Principal is the authenticated user as supplied by the identity provider.
type Principal struct {
	ID          string
	Email       string
	DisplayName string
	AvatarURL   string
}

// NormalizedEmail returns the lower-cased email, or "" when absent.
func (p Principal) NormalizedEmail() string { return normalize.Email(p.Email) }

// Key is the stable identity: email when present, id otherwise.
func (p Principal) Key() string {
	if e := p.NormalizedEmail(); e != "" {
		return e
	}
	return strings.TrimSpace(p.ID)
}

// Participant converts the principal into the descriptor stored on
// conversations and messages.
func (p Principal) Participant() Participant {
	return Participant{
		ID:          p.ID,
		Email:       p.NormalizedEmail(),
		DisplayName: p.DisplayName,
		AvatarURL:   p.AvatarURL,
	}
}

// Participant describes one side of a conversation or a message sender.
type Participant struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// FavoritesRecord maps to UserFavPet/{email}.
type FavoritesRecord struct {
	Email     string   `json:"email"`
	Favorites []string `json:"favorites"`
}

// Category maps to the Category collection.
type Category struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ImageURL string `json:"imageUrl,omitempty"`
}

// Listing maps to Pets/{id}. Owner email arrives as userEmail or, on
// older posts, as email; some legacy posts carry neither.
type Listing struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Username     string `json:"username,omitempty"`
	Breed        string `json:"breed,omitempty"`
	Age          string `json:"age,omitempty"`
	Weight       string `json:"weight,omitempty"`
	Sex          string `json:"sex,omitempty"`
	Category     string `json:"category,omitempty"`
	Price        string `json:"price,omitempty"`
	Address      string `json:"address,omitempty"`
	About        string `json:"about,omitempty"`
	OwnerName    string `json:"ownerName,omitempty"`
	OwnerContact string `json:"ownerContact,omitempty"`
	OwnerAddress string `json:"ownerAddress,omitempty"`
	ImageURL     string `json:"imageUrl,omitempty"`
	UserImage    string `json:"userImage,omitempty"`
	PostedDate   string `json:"postedDate,omitempty"`
	Status       string `json:"status,omitempty"`
	UserEmail    string `json:"userEmail,omitempty"`
	Email        string `json:"email,omitempty"`
}

// OwnerEmail returns the normalized posting principal's email, if recorded.
func (l Listing) OwnerEmail() string {
	if e := normalize.Email(l.UserEmail); e != "" {
		return e
	}
	return normalize.Email(l.Email)
}

// PostedAt decodes PostedDate; ok is false for unparseable legacy values.
func (l Listing) PostedAt() (time.Time, bool) {
	ts := normalize.OptionalTimestamp(l.PostedDate)
	if ts == nil {
		return time.Time{}, false
	}
	return *ts, true
}

// Conversation maps to Chat/{conversationId}. UnreadCount and LastSeen are
// keyed by participant email.
type Conversation struct {
	ID                string               `json:"id"`
	Participants      []Participant        `json:"participants"`
	ListingID         string               `json:"listingId,omitempty"`
	ListingName       string               `json:"listingName,omitempty"`
	ListingImage      string               `json:"listingImage,omitempty"`
	CreatedAt         time.Time            `json:"createdAt"`
	LastMessage       string               `json:"lastMessage,omitempty"`
	LastMessageAt     *time.Time           `json:"lastMessageAt,omitempty"`
	LastMessageSender *Participant         `json:"lastMessageSender,omitempty"`
	UnreadCount       map[string]int       `json:"unreadCount"`
	LastSeen          map[string]time.Time `json:"lastSeen,omitempty"`
	LegacyIDs         []string             `json:"legacyIds,omitempty"`
}

// Has reports whether email is one of the participants.
func (c Conversation) Has(email string) bool {
	email = normalize.Email(email)
	for _, p := range c.Participants {
		if normalize.Email(p.Email) == email {
			return true
		}
	}
	return false
}

// Other returns the participant that is not email.
func (c Conversation) Other(email string) (Participant, bool) {
	email = normalize.Email(email)
	for _, p := range c.Participants {
		if pe := normalize.Email(p.Email); pe != "" && pe != email {
			return p, true
		}
	}
	return Participant{}, false
}

// LastActivity is the last message time, or creation time before any message.
func (c Conversation) LastActivity() time.Time {
	if c.LastMessageAt != nil {
		return *c.LastMessageAt
	}
	return c.CreatedAt
}

// ConversationSummary is one inbox row from the viewpoint of one participant.
type ConversationSummary struct {
	ID           string      `json:"id"`
	Other        Participant `json:"other"`
	ListingID    string      `json:"listingId,omitempty"`
	ListingName  string      `json:"listingName,omitempty"`
	ListingImage string      `json:"listingImage,omitempty"`
	LastMessage  string      `json:"lastMessage,omitempty"`
	LastActivity time.Time   `json:"lastActivity"`
	Unread       int         `json:"unread"`
}

// Message maps to Chat/{conversationId}/Messages/{id}.
type Message struct {
	ID        string      `json:"id"`
	Text      string      `json:"text"`
	Sender    Participant `json:"sender"`
	CreatedAt time.Time   `json:"createdAt"`
}
