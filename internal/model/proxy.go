// Package model defines shared types for the proxy.
package model

import (
	"context"
	"net/http"
)

// ProxyRequest represents an inbound request to be forwarded upstream.
type ProxyRequest struct {
	Ctx    context.Context
	Method string
	// URI is the inbound path and query exactly as received.
	URI         string
	ContentType string
	// Body is nil when the inbound request declared no content.
	Body []byte
}

// HasBody reports whether a body is attached to the request.
func (r *ProxyRequest) HasBody() bool {
	return r.Body != nil
}

// ProxyResponse represents an upstream response, fully buffered.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}
