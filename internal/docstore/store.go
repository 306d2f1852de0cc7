// Package docstore defines the document database contract consumed by the
// favorites and chat components, plus an in-memory implementation.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
)

var (
	// ErrUnavailable wraps every transport or backend failure.
	ErrUnavailable = errors.New("document store unavailable")
	// ErrNotFound is returned by Update when the target document is absent.
	ErrNotFound = errors.New("document not found")
	// ErrAlreadyExists is returned by Create when the id is taken.
	ErrAlreadyExists = errors.New("document already exists")
	// ErrInvalidPath is returned for malformed collection paths.
	ErrInvalidPath = errors.New("invalid collection path")
	// ErrSubscriptionEnded marks the last error of a subscription that
	// stopped on its own.
	ErrSubscriptionEnded = errors.New("subscription ended")
)

// IDField addresses the document id in queries.
const IDField = "_id"

// Document is a single stored record. Data never contains the id.
type Document struct {
	ID   string
	Data bson.M
}

// SetOptions controls Set. With Merge the given top-level fields replace
// the stored ones and every other field is kept; without it the whole
// document is replaced.
type SetOptions struct {
	Merge bool
}

// Update describes a partial write. Keys may be dotted paths into nested
// maps ("unreadCount.a@x%2Ecom"); Inc is applied atomically by the store.
type Update struct {
	Set bson.M
	Inc map[string]int64
}

// Store is the document database client. Paths are either a collection
// ("Pets") or a subcollection of a document ("Chat/{id}/Messages").
type Store interface {
	Get(ctx context.Context, path, id string) (Document, bool, error)
	Set(ctx context.Context, path, id string, data bson.M, opts SetOptions) error
	Create(ctx context.Context, path, id string, data bson.M) error
	Add(ctx context.Context, path string, data bson.M) (string, error)
	Update(ctx context.Context, path, id string, u Update) error
	Find(ctx context.Context, q Query) ([]Document, error)
	// Subscribe delivers the full query result once it is established and
	// again after every change. Errors that wrap ErrSubscriptionEnded are
	// terminal: no callback follows them. The returned function blocks until
	// no further callback can happen; it must not be called from a callback.
	Subscribe(ctx context.Context, q Query, onChange func([]Document), onError func(error)) (func(), error)
}

// Op is a query filter operator.
type Op int

const (
	OpAll Op = iota
	OpEquals
	OpIn
)

// Direction orders query results.
type Direction int

const (
	Ascending Direction = iota
	Descending
)

// Query selects documents of one collection path. Equality against an
// array field matches when any element is equal.
type Query struct {
	Path      string
	Field     string
	Op        Op
	Value     any
	Values    []any
	Order     string
	Direction Direction
	Limit     int64
}

// All selects every document under path.
func All(path string) Query { return Query{Path: path, Op: OpAll} }

// Equals selects documents whose field equals value.
func Equals(path, field string, value any) Query {
	return Query{Path: path, Field: field, Op: OpEquals, Value: value}
}

// In selects documents whose field is one of values.
func In[T any](path, field string, values []T) Query {
	vs := make([]any, len(values))
	for i, v := range values {
		vs[i] = v
	}
	return Query{Path: path, Field: field, Op: OpIn, Values: vs}
}

// OrderBy returns a copy of q sorted by field.
func (q Query) OrderBy(field string, dir Direction) Query {
	q.Order = field
	q.Direction = dir
	return q
}

// Take returns a copy of q limited to n documents.
func (q Query) Take(n int64) Query {
	q.Limit = n
	return q
}

// Sub builds the path of a subcollection under a document.
func Sub(collection, id, sub string) string {
	return collection + "/" + id + "/" + sub
}

// SplitPath splits a path into its root collection, the chain of parent
// document ids and the leaf collection name. "Chat/c1/Messages" yields
// ("Chat_Messages", "c1").
func SplitPath(path string) (collection string, parent string, err error) {
	parts := strings.Split(path, "/")
	if len(parts)%2 == 0 {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	names := make([]string, 0, len(parts)/2+1)
	ids := make([]string, 0, len(parts)/2)
	for i, p := range parts {
		if p == "" {
			return "", "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
		if i%2 == 0 {
			names = append(names, p)
		} else {
			ids = append(ids, p)
		}
	}
	return strings.Join(names, "_"), strings.Join(ids, "/"), nil
}

var keyEscaper = strings.NewReplacer("%", "%25", ".", "%2E", "$", "%24")
var keyUnescaper = strings.NewReplacer("%2E", ".", "%24", "$", "%25", "%")

// EscapeKey makes s safe as a map key inside a document, where dots
// separate path segments.
func EscapeKey(s string) string { return keyEscaper.Replace(s) }

// UnescapeKey reverses EscapeKey.
func UnescapeKey(s string) string { return keyUnescaper.Replace(s) }

// Ended wraps the error that stopped a subscription with
// ErrSubscriptionEnded. A nil err means the backend closed the
// subscription without reporting a cause.
func Ended(op string, err error) error {
	if err == nil {
		err = ErrUnavailable
	}
	return fmt.Errorf("%s: %w: %w", op, ErrSubscriptionEnded, err)
}

// Unavailable wraps a backend error with ErrUnavailable.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
