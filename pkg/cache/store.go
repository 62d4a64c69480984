package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Store is a best-effort TTL cache of relay responses.
//
// Get returns ErrCacheMiss when the key is absent or its entry has expired.
// Any other error means the store itself failed; callers treat it as a miss.
type Store interface {
	// Get retrieves a non-expired entry by key.
	Get(ctx context.Context, key string) (*Entry, error)

	// Set stores entry under key, replacing any prior entry. The store stamps
	// CachedAt and ExpiresAt from its own clock. A ttl <= 0 stores nothing.
	Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error

	// Delete removes the entry for key, if any.
	Delete(ctx context.Context, key string) error
}
