package cache

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Option configures the cache middleware.
type Option func(*middleware)

// WithLogger sets the logger used for cache events.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *middleware) {
		m.logger = logger
	}
}

// WithSingleFlight coalesces concurrent misses for the same key so the
// downstream handler runs once and every waiting request receives its
// response. Without it, each concurrent miss runs the handler and the last
// one to finish wins the cache slot.
//
// The shared run ignores cancellation of the request that started it, so
// the wrapped handler must bound its own work (the upstream client timeout).
func WithSingleFlight() Option {
	return func(m *middleware) {
		m.group = &singleflight.Group{}
	}
}

type middleware struct {
	store  Store
	ttl    time.Duration
	label  string
	logger zerolog.Logger
	group  *singleflight.Group
}

// Middleware returns a per-route wrapper that caches successful responses
// for ttl, keyed by DeriveKey.
//
// On a hit the stored payload is written and the wrapped handler is not
// called. On a miss the handler's response is captured, stored, and then
// forwarded. Store failures never fail the request; they degrade to a miss.
func Middleware(store Store, ttl time.Duration, opts ...Option) func(http.Handler) http.Handler {
	m := &middleware{
		store:  store,
		ttl:    ttl,
		label:  storeLabel(store),
		logger: log.With().Str("component", "cache").Logger(),
	}
	for _, opt := range opts {
		opt(m)
	}

	return func(next http.Handler) http.Handler {
		if m.store == nil || m.ttl <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.serve(next, w, r)
		})
	}
}

func (m *middleware) serve(next http.Handler, w http.ResponseWriter, r *http.Request) {
	key := DeriveKey(r)
	if key == "" {
		m.logger.Debug().Msg("No cache key for request, passing through")
		CacheMisses.Inc()
		next.ServeHTTP(w, r)
		return
	}

	if entry := m.lookup(r.Context(), key); entry != nil {
		m.logger.Debug().
			Str("key", key).
			Dur("ttl", entry.TTL(time.Now())).
			Msg("Cache hit, sending stored response")
		CacheHits.WithLabelValues(m.label).Inc()
		writeEntry(w, entry)
		return
	}

	CacheMisses.Inc()

	if m.group == nil {
		m.capture(next, w.Header(), r, key).flushTo(w)
		return
	}

	// The shared run serves every waiter, so it must outlive the request
	// that started it.
	shared := r.WithContext(context.WithoutCancel(r.Context()))
	v, _, joined := m.group.Do(key, func() (any, error) {
		return m.capture(next, w.Header(), shared, key), nil
	})
	if joined {
		m.logger.Debug().Str("key", key).Msg("Joined in-flight request")
	}
	v.(*recorder).flushTo(w)
}

// lookup returns the stored entry for key, or nil on a miss or store failure.
func (m *middleware) lookup(ctx context.Context, key string) *Entry {
	entry, err := m.store.Get(ctx, key)
	if err == nil {
		return entry
	}
	if !errors.Is(err, ErrCacheMiss) {
		m.logger.Warn().Err(err).Str("key", key).Msg("Cache get error, treating as miss")
	}
	return nil
}

// capture runs the handler against a recorder and commits the result.
func (m *middleware) capture(next http.Handler, base http.Header, r *http.Request, key string) *recorder {
	rec := newRecorder(base)
	next.ServeHTTP(rec, r)

	if !rec.cacheable() {
		m.logger.Debug().
			Str("key", key).
			Int("status", rec.status).
			Bool("captured", rec.captured()).
			Msg("Response not cacheable")
		return rec
	}

	// The client may already be gone; the store write should still land.
	ctx := context.WithoutCancel(r.Context())
	if err := m.store.Set(ctx, key, rec.entry(), m.ttl); err != nil {
		m.logger.Warn().Err(err).Str("key", key).Msg("Failed to cache response")
		return rec
	}

	CacheStores.Inc()
	m.logger.Debug().
		Str("key", key).
		Dur("ttl", m.ttl).
		Int("bytes", rec.body.Len()).
		Msg("Stored response in cache")

	return rec
}

func storeLabel(store Store) string {
	switch store.(type) {
	case *MemoryStore:
		return "memory"
	case *RedisStore:
		return "redis"
	default:
		return "custom"
	}
}
