package data

import (
	"errors"

	"github.com/PaulBabatuyi/petmarket-gRPC/internal/docstore"
)

// Expected, user-facing conditions. None of them is retried.
var (
	ErrNotAuthenticated     = errors.New("not authenticated")
	ErrOwnerUnresolved      = errors.New("listing owner could not be resolved")
	ErrSelfConversation     = errors.New("cannot start a conversation with yourself")
	ErrEmptyMessage         = errors.New("message is empty")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrNotParticipant       = errors.New("not a participant in this conversation")
	ErrListingNotFound      = errors.New("listing not found")
	ErrInvalidListing       = errors.New("invalid listing")
)

// ErrStoreUnavailable marks transport or backend failures; the cause is
// wrapped alongside it.
var ErrStoreUnavailable = docstore.ErrUnavailable
