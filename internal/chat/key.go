// Package chat resolves the conversation shared by two principals and
// streams, sends and acknowledges its messages.
package chat

import (
	"sort"
	"strings"

	"github.com/PaulBabatuyi/petmarket-gRPC/internal/data"
	"github.com/PaulBabatuyi/petmarket-gRPC/internal/normalize"
)

// KeySeparator joins the two emails of a conversation key. It cannot
// appear in an email address.
const KeySeparator = "|"

// ConversationKey returns the id of the conversation between a and b. The
// key is the same for either argument order and any letter case.
func ConversationKey(a, b string) (string, error) {
	a, b = normalize.Email(a), normalize.Email(b)
	if a == "" || b == "" {
		return "", data.ErrNotAuthenticated
	}
	if a == b {
		return "", data.ErrSelfConversation
	}
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, KeySeparator), nil
}

// legacyKeys lists the ids older clients derived from display names, in
// both orders.
func legacyKeys(a, b string) []string {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" || a == b {
		return nil
	}
	return []string{a + "_" + b, b + "_" + a}
}
