package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced clock shared by tests in this package.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemoryStore_SetAndGet(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(WithClock(clock.Now))
	defer store.Close()
	ctx := context.Background()

	entry := &Entry{
		Data:        []byte(`{"test": "data"}`),
		StatusCode:  200,
		ContentType: "application/json; charset=utf-8",
	}

	if err := store.Set(ctx, "relay:/weather?q=Paris", entry, 10*time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	retrieved, err := store.Get(ctx, "relay:/weather?q=Paris")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if string(retrieved.Data) != string(entry.Data) {
		t.Errorf("Data mismatch: got %s, want %s", retrieved.Data, entry.Data)
	}
	if retrieved.StatusCode != entry.StatusCode {
		t.Errorf("StatusCode mismatch: got %d, want %d", retrieved.StatusCode, entry.StatusCode)
	}
	if retrieved.ContentType != entry.ContentType {
		t.Errorf("ContentType mismatch: got %s, want %s", retrieved.ContentType, entry.ContentType)
	}
	if !retrieved.CachedAt.Equal(clock.Now()) {
		t.Errorf("CachedAt = %v, want %v", retrieved.CachedAt, clock.Now())
	}
	if want := clock.Now().Add(10 * time.Minute); !retrieved.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", retrieved.ExpiresAt, want)
	}
}

func TestMemoryStore_Get_CacheMiss(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	_, err := store.Get(context.Background(), "relay:/nonexistent")
	if !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Expected ErrCacheMiss, got %v", err)
	}
}

func TestMemoryStore_Expiry(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(WithClock(clock.Now))
	defer store.Close()
	ctx := context.Background()

	if err := store.Set(ctx, "k", &Entry{Data: []byte("v")}, 5*time.Second); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	clock.Advance(4*time.Second + 999*time.Millisecond)
	if _, err := store.Get(ctx, "k"); err != nil {
		t.Fatalf("Get before expiry failed: %v", err)
	}

	clock.Advance(time.Millisecond)
	if _, err := store.Get(ctx, "k"); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Expected ErrCacheMiss at expiry, got %v", err)
	}

	if store.Len() != 0 {
		t.Errorf("Len() = %d after reading expired entry, want 0", store.Len())
	}
}

func TestMemoryStore_Overwrite(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(WithClock(clock.Now))
	defer store.Close()
	ctx := context.Background()

	if err := store.Set(ctx, "k", &Entry{Data: []byte("old")}, time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	clock.Advance(50 * time.Second)
	if err := store.Set(ctx, "k", &Entry{Data: []byte("new")}, time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// The overwrite resets the TTL window.
	clock.Advance(30 * time.Second)
	got, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got.Data) != "new" {
		t.Errorf("Data = %q, want %q", got.Data, "new")
	}
	if store.Len() != 1 {
		t.Errorf("Len() = %d, want 1", store.Len())
	}
}

func TestMemoryStore_Set_NonPositiveTTL(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	for _, ttl := range []time.Duration{0, -time.Second} {
		if err := store.Set(ctx, "k", &Entry{Data: []byte("v")}, ttl); err != nil {
			t.Fatalf("Set(ttl=%v) failed: %v", ttl, err)
		}
	}

	if _, err := store.Get(ctx, "k"); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Expected ErrCacheMiss for non-positive TTL, got %v", err)
	}
}

func TestMemoryStore_Set_NilEntry(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	err := store.Set(context.Background(), "k", nil, time.Minute)
	if !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("Set with nil entry = %v, want ErrInvalidEntry", err)
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	if err := store.Set(ctx, "k", &Entry{Data: []byte("v")}, time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(ctx, "k"); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Expected ErrCacheMiss after Delete, got %v", err)
	}

	// Deleting a missing key is not an error.
	if err := store.Delete(ctx, "missing"); err != nil {
		t.Errorf("Delete(missing) = %v, want nil", err)
	}
}

func TestMemoryStore_PreservesPayload(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	payload := []byte(`{"geo":{"lat":48.8566,"lon":2.3522,"name":"Paris, FR"},` +
		`"current":{"temp":21.5,"weather":[{"id":800,"main":"Clear"}]},"tags":["a","b"],"nested":{"x":null}}`)
	original := append([]byte(nil), payload...)

	if err := store.Set(ctx, "k", &Entry{Data: payload}, time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// Mutating the caller's buffer must not reach the store.
	payload[0] = 'X'

	got, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got.Data) != string(original) {
		t.Errorf("Data = %s, want %s", got.Data, original)
	}

	// Nor must mutating a returned entry.
	got.Data[0] = 'Y'
	again, _ := store.Get(ctx, "k")
	if string(again.Data) != string(original) {
		t.Errorf("Data after mutation = %s, want %s", again.Data, original)
	}
}

func TestMemoryStore_Sweep(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(WithClock(clock.Now))
	defer store.Close()
	ctx := context.Background()

	_ = store.Set(ctx, "short", &Entry{Data: []byte("1")}, time.Second)
	_ = store.Set(ctx, "long", &Entry{Data: []byte("2")}, time.Hour)

	clock.Advance(time.Minute)

	if removed := store.Sweep(); removed != 1 {
		t.Errorf("Sweep() removed %d, want 1", removed)
	}
	if store.Len() != 1 {
		t.Errorf("Len() = %d, want 1", store.Len())
	}
	if _, err := store.Get(ctx, "long"); err != nil {
		t.Errorf("Get(long) failed: %v", err)
	}
}

func TestMemoryStore_BackgroundSweep(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(WithClock(clock.Now), WithSweepInterval(5*time.Millisecond))
	defer store.Close()

	_ = store.Set(context.Background(), "k", &Entry{Data: []byte("v")}, time.Second)
	clock.Advance(2 * time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for store.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("background sweep did not remove the expired entry")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMemoryStore_CloseIdempotent(t *testing.T) {
	store := NewMemoryStore(WithSweepInterval(time.Millisecond))

	if err := store.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = store.Set(ctx, "shared", &Entry{Data: []byte{byte(i)}}, time.Minute)
			_, _ = store.Get(ctx, "shared")
		}(i)
	}
	wg.Wait()

	if _, err := store.Get(ctx, "shared"); err != nil {
		t.Errorf("Get after concurrent writes failed: %v", err)
	}
}
