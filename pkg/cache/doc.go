// Package cache provides the relay's response cache: a TTL store and an
// HTTP middleware that serves repeat requests from it.
//
// Features:
//
// - Deterministic request keys that ignore the trailing client id parameter
// - In-memory store with lazy expiry and an optional background sweep
// - Redis store for relays sharing one cache
// - Fail-open behavior: store errors degrade to a cache miss
// - Optional coalescing of concurrent misses (single-flight)
// - Prometheus metrics for observability
//
// # Basic Usage
//
//	store := cache.NewMemoryStore(cache.WithSweepInterval(time.Minute))
//	defer store.Close()
//
//	mux := http.NewServeMux()
//	mux.Handle("/weather", cache.Middleware(store, 10*time.Minute)(weatherHandler))
//
// # Keys
//
// A key is KeyPrefix followed by the original request URI, truncated before
// the first "&id":
//
//	/weather?q=Paris&id=123 -> relay:/weather?q=Paris
//	/weather?q=Paris&id=456 -> relay:/weather?q=Paris
//
// Any parameter placed after id is therefore not part of the key.
//
// # Interception
//
// On a miss the handler writes into a buffer rather than the client. When
// the handler returns, a 2xx response is stored with the route's TTL and then
// sent. Error responses are forwarded without being stored. Responses carry
// an X-Cache header of HIT or MISS.
//
// # Metrics
//
//   - relay_cache_hits_total{store} - Cache hits
//   - relay_cache_misses_total - Cache misses
//   - relay_cache_stores_total - Responses stored
//   - relay_cache_entries - In-memory entry count
//   - relay_cache_errors_total{operation} - Store errors
//
// # Limits
//
// The memory store has no size bound. Without WithSingleFlight, concurrent
// misses for one key each run the handler and the last to finish is kept.
package cache
