package data

import (
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/PaulBabatuyi/petmarket-gRPC/internal/docstore"
	"github.com/PaulBabatuyi/petmarket-gRPC/internal/normalize"
)

// Conversation and message document fields.
const (
	FieldConversationID    = "conversationId"
	FieldParticipants      = "participants"
	FieldParticipantEmails = "participantEmails"
	FieldListingID         = "listingId"
	FieldListingName       = "listingName"
	FieldListingImage      = "listingImage"
	FieldCreatedAt         = "createdAt"
	FieldUpdatedAt         = "updatedAt"
	FieldLastMessage       = "lastMessage"
	FieldLastMessageAt     = "lastMessageAt"
	FieldLastMessageSender = "lastMessageSender"
	FieldUnreadCount       = "unreadCount"
	FieldLastSeen          = "lastSeen"
	FieldLegacyIDs         = "legacyIds"
	FieldText              = "text"
	FieldSender            = "sender"
	FieldFavorites         = "favorites"
	FieldEmail             = "email"
	FieldUserEmail         = "userEmail"
	FieldUsername          = "username"
	FieldCategory          = "category"
)

// UnreadField is the dotted path of one participant's unread counter.
func UnreadField(email string) string {
	return FieldUnreadCount + "." + docstore.EscapeKey(normalize.Email(email))
}

// LastSeenField is the dotted path of one participant's last-seen time.
func LastSeenField(email string) string {
	return FieldLastSeen + "." + docstore.EscapeKey(normalize.Email(email))
}

// DecodeFavorites reads a UserFavPet document.
func DecodeFavorites(doc docstore.Document) FavoritesRecord {
	email := docstore.String(doc.Data, FieldEmail)
	if email == "" {
		email = doc.ID
	}
	favs := docstore.Strings(doc.Data, FieldFavorites)
	if favs == nil {
		favs = []string{}
	}
	return FavoritesRecord{Email: email, Favorites: favs}
}

// DecodeCategory reads a Category document.
func DecodeCategory(doc docstore.Document) Category {
	return Category{
		ID:       doc.ID,
		Name:     text(doc.Data, "name"),
		ImageURL: text(doc.Data, "imageUrl"),
	}
}

// EncodeListing builds a Pets document; empty fields are omitted.
func EncodeListing(l Listing) bson.M {
	out := bson.M{}
	put := func(k, v string) {
		if v = strings.TrimSpace(v); v != "" {
			out[k] = v
		}
	}
	put("name", l.Name)
	put(FieldUsername, l.Username)
	put("breed", l.Breed)
	put("age", l.Age)
	put("weight", l.Weight)
	put("sex", l.Sex)
	put(FieldCategory, l.Category)
	put("price", l.Price)
	put("address", l.Address)
	put("about", l.About)
	put("ownerName", l.OwnerName)
	put("ownerContact", l.OwnerContact)
	put("ownerAddress", l.OwnerAddress)
	put("imageUrl", l.ImageURL)
	put("userImage", l.UserImage)
	put("postedDate", l.PostedDate)
	put("status", l.Status)
	put(FieldUserEmail, normalize.Email(l.UserEmail))
	put(FieldEmail, normalize.Email(l.Email))
	return out
}

// DecodeListing reads a Pets document. Numeric fields written by older
// clients are rendered as strings.
func DecodeListing(doc docstore.Document) Listing {
	m := doc.Data
	return Listing{
		ID:           doc.ID,
		Name:         text(m, "name"),
		Username:     text(m, FieldUsername),
		Breed:        text(m, "breed"),
		Age:          text(m, "age"),
		Weight:       text(m, "weight"),
		Sex:          text(m, "sex"),
		Category:     text(m, FieldCategory),
		Price:        text(m, "price"),
		Address:      text(m, "address"),
		About:        text(m, "about"),
		OwnerName:    text(m, "ownerName"),
		OwnerContact: text(m, "ownerContact"),
		OwnerAddress: text(m, "ownerAddress"),
		ImageURL:     text(m, "imageUrl"),
		UserImage:    text(m, "userImage"),
		PostedDate:   text(m, "postedDate"),
		Status:       text(m, "status"),
		UserEmail:    text(m, FieldUserEmail),
		Email:        text(m, FieldEmail),
	}
}

// EncodeParticipant builds the stored participant descriptor.
func EncodeParticipant(p Participant) bson.M {
	return bson.M{
		"id":          p.ID,
		"email":       normalize.Email(p.Email),
		"displayName": p.DisplayName,
		"avatarUrl":   p.AvatarURL,
	}
}

// DecodeParticipant accepts the current descriptor and the older chat
// client shapes ({_id, name, avatar} and {id, name, username, imageUrl}).
func DecodeParticipant(v any) Participant {
	m, ok := docstore.AsMap(v)
	if !ok {
		return Participant{}
	}
	p := Participant{
		ID:          first(m, "id", "userId", "_id"),
		Email:       normalize.Email(text(m, "email")),
		DisplayName: first(m, "displayName", "name", "username"),
		AvatarURL:   first(m, "avatarUrl", "avatar", "imageUrl"),
	}
	// legacy senders used the email as _id
	if p.Email == "" && strings.Contains(p.ID, "@") {
		p.Email = normalize.Email(p.ID)
	}
	return p
}

// EncodeConversation builds a new Chat document.
func EncodeConversation(c Conversation) bson.M {
	participants := bson.A{}
	emails := bson.A{}
	unread := bson.M{}
	for _, p := range c.Participants {
		participants = append(participants, EncodeParticipant(p))
		e := normalize.Email(p.Email)
		emails = append(emails, e)
		unread[docstore.EscapeKey(e)] = c.UnreadCount[e]
	}
	legacy := c.LegacyIDs
	if legacy == nil {
		legacy = []string{}
	}
	return bson.M{
		FieldConversationID:    c.ID,
		FieldParticipants:      participants,
		FieldParticipantEmails: emails,
		FieldListingID:         c.ListingID,
		FieldListingName:       c.ListingName,
		FieldListingImage:      c.ListingImage,
		FieldCreatedAt:         c.CreatedAt,
		FieldLastMessage:       nil,
		FieldLastMessageAt:     nil,
		FieldLastMessageSender: nil,
		FieldUnreadCount:       unread,
		FieldLastSeen:          bson.M{},
		FieldLegacyIDs:         legacy,
	}
}

// DecodeConversation reads a Chat document; now fills missing timestamps.
func DecodeConversation(doc docstore.Document, now time.Time) Conversation {
	m := doc.Data
	c := Conversation{
		ID:           doc.ID,
		ListingID:    first(m, FieldListingID, "petId"),
		ListingName:  first(m, FieldListingName, "petName"),
		ListingImage: first(m, FieldListingImage, "petImage"),
		CreatedAt:    normalize.Timestamp(m[FieldCreatedAt], now),
		LastMessage:  text(m, FieldLastMessage),
		UnreadCount:  map[string]int{},
		LegacyIDs:    docstore.Strings(m, FieldLegacyIDs),
	}

	raw, ok := docstore.AsSlice(m[FieldParticipants])
	if !ok {
		raw, _ = docstore.AsSlice(m["users"])
	}
	for _, v := range raw {
		c.Participants = append(c.Participants, DecodeParticipant(v))
	}

	if ts := normalize.OptionalTimestamp(m[FieldLastMessageAt]); ts != nil {
		c.LastMessageAt = ts
	} else if ts := normalize.OptionalTimestamp(m["lastMessageTime"]); ts != nil {
		c.LastMessageAt = ts
	}
	if _, ok := docstore.AsMap(m[FieldLastMessageSender]); ok {
		sender := DecodeParticipant(m[FieldLastMessageSender])
		c.LastMessageSender = &sender
	}

	// legacy documents stored a single scalar counter; it cannot be
	// attributed to anyone and is ignored
	if counts, ok := docstore.AsMap(m[FieldUnreadCount]); ok {
		for k := range counts {
			c.UnreadCount[docstore.UnescapeKey(k)] = int(docstore.Int(counts, k))
		}
	}
	if seen, ok := docstore.AsMap(m[FieldLastSeen]); ok && len(seen) > 0 {
		c.LastSeen = make(map[string]time.Time, len(seen))
		for k, v := range seen {
			if ts := normalize.OptionalTimestamp(v); ts != nil {
				c.LastSeen[docstore.UnescapeKey(k)] = *ts
			}
		}
	}
	return c
}

// Summary renders c from the viewpoint of email.
func (c Conversation) Summary(email string) ConversationSummary {
	other, _ := c.Other(email)
	return ConversationSummary{
		ID:           c.ID,
		Other:        other,
		ListingID:    c.ListingID,
		ListingName:  c.ListingName,
		ListingImage: c.ListingImage,
		LastMessage:  c.LastMessage,
		LastActivity: c.LastActivity(),
		Unread:       c.UnreadCount[normalize.Email(email)],
	}
}

// EncodeMessage builds a Messages document.
func EncodeMessage(msg Message) bson.M {
	return bson.M{
		FieldText:      msg.Text,
		FieldSender:    EncodeParticipant(msg.Sender),
		FieldCreatedAt: msg.CreatedAt,
	}
}

// DecodeMessage normalizes a Messages document. The sender may be stored
// under sender or, for older clients, user; createdAt may be any of the
// timestamp shapes normalize.Timestamp accepts and defaults to now.
func DecodeMessage(doc docstore.Document, now time.Time) Message {
	senderRaw, ok := doc.Data[FieldSender]
	if !ok {
		senderRaw = doc.Data["user"]
	}
	return Message{
		ID:        doc.ID,
		Text:      text(doc.Data, FieldText),
		Sender:    DecodeParticipant(senderRaw),
		CreatedAt: normalize.Timestamp(doc.Data[FieldCreatedAt], now),
	}
}

func text(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

func first(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v := text(m, k); v != "" {
			return v
		}
	}
	return ""
}
