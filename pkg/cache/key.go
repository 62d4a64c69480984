package cache

import (
	"net/http"
	"strings"
)

// KeyPrefix namespaces relay response keys so they never collide with other
// users of a shared store.
const KeyPrefix = "relay:"

// ignoredMarker ends the significant part of a request URI. Everything from
// the first occurrence onwards (the client tracking id and any parameter
// after it) is left out of the key.
const ignoredMarker = "&id"

// DeriveKey returns the cache key for an inbound request.
//
// The original request target (r.RequestURI) is preferred; requests built
// client-side or rewritten by a router fall back to r.URL.RequestURI(). An
// empty string means no key could be derived and the request is uncacheable.
//
// Example:
//
//	/weather?q=Paris&id=123 -> relay:/weather?q=Paris
func DeriveKey(r *http.Request) string {
	if r == nil {
		return ""
	}

	uri := significantPart(r.RequestURI)
	if uri == "" && r.URL != nil {
		uri = significantPart(r.URL.RequestURI())
	}
	if uri == "" {
		return ""
	}

	return KeyPrefix + uri
}

// significantPart truncates uri before the first ignoredMarker.
func significantPart(uri string) string {
	before, _, _ := strings.Cut(uri, ignoredMarker)
	return before
}
