// Package cors holds the fixed set of cross-origin headers the proxy puts on
// every response.
package cors

import "net/http"

// Header values sent on every response.
const (
	AllowOrigin  = "*"
	AllowMethods = "GET, POST, PUT, DELETE, PATCH, OPTIONS"
	AllowHeaders = "Content-Type, Authorization"
	MaxAge       = "86400"
)

var headers = [...]struct{ key, value string }{
	{"Access-Control-Allow-Origin", AllowOrigin},
	{"Access-Control-Allow-Methods", AllowMethods},
	{"Access-Control-Allow-Headers", AllowHeaders},
	{"Access-Control-Max-Age", MaxAge},
}

// Apply sets the CORS headers on h, replacing any existing values.
func Apply(h http.Header) {
	for _, hdr := range headers {
		h.Set(hdr.key, hdr.value)
	}
}

// Owns reports whether key is one of the headers set by Apply.
func Owns(key string) bool {
	key = http.CanonicalHeaderKey(key)
	for _, hdr := range headers {
		if hdr.key == key {
			return true
		}
	}
	return false
}
