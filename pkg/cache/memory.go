package cache

import (
	"bytes"
	"context"
	"sync"
	"time"
)

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock replaces time.Now, for simulated-time tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSweepInterval enables a background sweep that removes expired entries
// every interval. Without it, expired entries are only evicted when read.
func WithSweepInterval(interval time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		s.sweepEvery = interval
	}
}

// MemoryStore is a process-local Store backed by a map.
//
// There is no size bound; entries leave the map only on expiry or Delete.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	now     func() time.Time

	sweepEvery time.Duration
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

// NewMemoryStore creates an empty in-memory store and starts the sweep
// goroutine if one was requested. Call Close to stop it.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]*Entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	if s.sweepEvery > 0 {
		s.wg.Add(1)
		go s.sweepLoop(ctx)
	}

	return s
}

// Get retrieves a cache entry by key.
// Returns ErrCacheMiss if the key doesn't exist or the entry is expired.
func (s *MemoryStore) Get(_ context.Context, key string) (*Entry, error) {
	now := s.now()

	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrCacheMiss
	}

	if entry.IsExpired(now) {
		s.evictIfExpired(key, now)
		return nil, ErrCacheMiss
	}

	return cloneEntry(entry), nil
}

// Set stores a copy of entry with expiry now+ttl, replacing any prior entry.
func (s *MemoryStore) Set(_ context.Context, key string, entry *Entry, ttl time.Duration) error {
	if entry == nil {
		return ErrInvalidEntry
	}
	if ttl <= 0 {
		return nil
	}

	now := s.now()
	stored := cloneEntry(entry)
	stored.CachedAt = now
	stored.ExpiresAt = now.Add(ttl)

	s.mu.Lock()
	if _, exists := s.entries[key]; !exists {
		CacheEntries.Inc()
	}
	s.entries[key] = stored
	s.mu.Unlock()

	return nil
}

// Delete removes a cache entry.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	s.removeLocked(key)
	s.mu.Unlock()
	return nil
}

// Len returns the number of entries currently held, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Sweep removes every entry that is expired at the store's current time and
// returns how many were removed.
func (s *MemoryStore) Sweep() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, entry := range s.entries {
		if entry.IsExpired(now) {
			s.removeLocked(key)
			removed++
		}
	}
	return removed
}

// Close stops the background sweep. It is safe to call more than once.
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.wg.Wait()
	})
	return nil
}

// evictIfExpired deletes key only if the entry under it is still expired,
// so a concurrent Set between the read and the delete survives.
func (s *MemoryStore) evictIfExpired(key string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.entries[key]; ok && entry.IsExpired(now) {
		s.removeLocked(key)
	}
}

func (s *MemoryStore) removeLocked(key string) {
	if _, ok := s.entries[key]; ok {
		delete(s.entries, key)
		CacheEntries.Dec()
	}
}

func (s *MemoryStore) sweepLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

func cloneEntry(e *Entry) *Entry {
	c := *e
	c.Data = bytes.Clone(e.Data)
	return &c
}
