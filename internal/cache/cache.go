// Package cache provides the key-value cache used to memoize listing owner
// lookups, backed by Redis in production and by memory otherwise.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss signals that the key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// Cache is a concurrency-safe string cache. A zero or negative TTL means
// the value never expires.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Ping backs the readiness check.
	Ping(ctx context.Context) error
	Close() error
}
