package auth

import (
	"context"

	"github.com/PaulBabatuyi/petmarket-gRPC/internal/data"
)

type principalKey struct{}

// WithPrincipal returns ctx carrying p.
func WithPrincipal(ctx context.Context, p data.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// CurrentPrincipal returns the principal attached by the auth interceptor,
// or ErrNotAuthenticated when the request is anonymous.
func CurrentPrincipal(ctx context.Context) (data.Principal, error) {
	p, ok := ctx.Value(principalKey{}).(data.Principal)
	if !ok || p.Key() == "" {
		return data.Principal{}, data.ErrNotAuthenticated
	}
	return p, nil
}
