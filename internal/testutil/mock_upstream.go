// Package testutil provides testing utilities for the weather relay.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"time"
)

// Paths served by MockUpstream, mirroring the OpenWeather layout.
const (
	GeoPath     = "/geo/1.0/direct"
	WeatherPath = "/data/3.0/onecall"
)

// MockResponse defines the behavior for a mock upstream endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockUpstream is a configurable fake geocoding and weather server.
type MockUpstream struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc

	// Tracking
	requests  map[string]int
	lastQuery map[string]url.Values
}

// NewMockUpstream creates a mock server answering geocoding and weather
// lookups for any city with fixed Paris-like data.
func NewMockUpstream() *MockUpstream {
	mock := &MockUpstream{
		handlers:  make(map[string]http.HandlerFunc),
		requests:  make(map[string]int),
		lastQuery: make(map[string]url.Values),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.requests[r.URL.Path]++
		mock.lastQuery[r.URL.Path] = r.URL.Query()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}

		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockUpstream) URL() string {
	return m.server.URL
}

// GeoURL returns the geocoding endpoint of the mock server.
func (m *MockUpstream) GeoURL() string {
	return m.server.URL + GeoPath
}

// WeatherURL returns the weather endpoint of the mock server.
func (m *MockUpstream) WeatherURL() string {
	return m.server.URL + WeatherPath
}

// Close shuts down the mock server.
func (m *MockUpstream) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockUpstream) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = make(map[string]int)
	m.lastQuery = make(map[string]url.Values)
}

// SetHandler sets a custom handler for a specific path.
func (m *MockUpstream) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockUpstream) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}

		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// RequestCount returns the number of requests made to path.
func (m *MockUpstream) RequestCount(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requests[path]
}

// LastQuery returns the query of the latest request to path.
func (m *MockUpstream) LastQuery(path string) url.Values {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastQuery[path]
}

// defaultHandler answers like the real services for a known city.
func (m *MockUpstream) defaultHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	switch r.URL.Path {
	case GeoPath:
		city := r.URL.Query().Get("q")
		fmt.Fprintf(w, `[{"name":%q,"lat":48.8566,"lon":2.3522,"country":"FR"}]`, city)
	case WeatherPath:
		w.Write([]byte(WeatherBody(r.URL.Query().Get("units"))))
	default:
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"cod":"404","message":"Internal error"}`))
	}
}

// WeatherBody returns the canned weather document served for units.
func WeatherBody(units string) string {
	temp := "21.5"
	if units == "imperial" {
		temp = "70.7"
	}
	return `{"lat":48.8566,"lon":2.3522,"timezone":"Europe/Paris",` +
		`"current":{"dt":1700000000,"temp":` + temp + `,"weather":[{"id":800,"main":"Clear","description":"clear sky"}]},` +
		`"daily":[{"dt":1700000000,"temp":{"min":12.1,"max":22.3}}]}`
}

// NewHealthyResponse creates a standard 200 OK JSON response.
func NewHealthyResponse(data string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       data,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewEmptyGeoResponse creates a geocoding response with no matches.
func NewEmptyGeoResponse() MockResponse {
	return NewHealthyResponse(`[]`)
}

// NewUnauthorizedResponse creates a 401 response for a bad API key.
func NewUnauthorizedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusUnauthorized,
		Body:       `{"cod":401,"message":"Invalid API key."}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"cod":429,"message":"Your account is temporary blocked"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"cod":"500","message":"Internal error"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewFlakyHandler returns a handler that fails with status for the first
// failures requests and answers like the default handler afterwards.
func (m *MockUpstream) NewFlakyHandler(failures int, status int) http.HandlerFunc {
	var mu sync.Mutex
	remaining := failures
	return func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		fail := remaining > 0
		if fail {
			remaining--
		}
		mu.Unlock()

		if fail {
			w.WriteHeader(status)
			return
		}
		m.defaultHandler(w, r)
	}
}
