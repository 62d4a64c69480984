package cache

import (
	"time"
)

// Entry is a cached relay response.
type Entry struct {
	// Data is the response body, stored verbatim
	Data []byte `json:"data"`

	// StatusCode is the HTTP status code of the cached response
	StatusCode int `json:"status_code"`

	// ContentType is the Content-Type header of the cached response
	ContentType string `json:"content_type,omitempty"`

	// CachedAt is when the entry was stored
	CachedAt time.Time `json:"cached_at"`

	// ExpiresAt is when the entry becomes stale
	ExpiresAt time.Time `json:"expires_at"`
}

// IsExpired reports whether the entry is stale at the given instant.
// An entry is valid only while now is strictly before ExpiresAt.
func (e *Entry) IsExpired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// TTL returns the time left until expiration, or 0 if already expired.
func (e *Entry) TTL(now time.Time) time.Duration {
	ttl := e.ExpiresAt.Sub(now)
	if ttl < 0 {
		return 0
	}
	return ttl
}
