// Package service implements the core proxy forwarding logic.
package service

import (
	"fmt"
	"log/slog"
	"net/http"

	"cors-proxy-go/internal/client"
	"cors-proxy-go/internal/config"
	"cors-proxy-go/internal/model"
)

// defaultContentType is sent upstream when a body arrives without a Content-Type.
const defaultContentType = "application/json"

// excludedResponseHeaders are never relayed from the upstream to the caller.
var excludedResponseHeaders = map[string]bool{
	"Server":     true,
	"Date":       true,
	"Connection": true,
}

// UpstreamStatusError is returned when the upstream answered with an error
// status (4xx or 5xx). It carries what the upstream sent so the caller can
// relay it.
type UpstreamStatusError struct {
	StatusCode int
	Body       []byte
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.StatusCode)
}

// TransportError is returned when no usable upstream response was obtained:
// connection refused, DNS failure, timeout or a malformed response.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProxyService handles the forwarding logic for proxy requests.
type ProxyService struct {
	client  *client.UpstreamClient
	logger  *slog.Logger
	baseURL string
}

// NewProxyService creates a ProxyService bound to the configured upstream.
func NewProxyService(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger) *ProxyService {
	return &ProxyService{
		client:  c,
		logger:  logger.With("component", "proxy_service"),
		baseURL: cfg.Upstream.BaseURL,
	}
}

// Forward sends a ProxyRequest to the upstream and returns its response.
//
// Exactly one upstream call is made. Errors are either *UpstreamStatusError,
// when the upstream answered with status 400 or above, or *TransportError.
func (s *ProxyService) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	upstreamURL := s.buildUpstreamURL(pr.URI)
	header := s.buildRequestHeaders(pr)

	s.logger.Debug("forwarding request",
		"method", pr.Method,
		"uri", pr.URI,
		"body_bytes", len(pr.Body),
	)

	resp, err := s.client.Send(pr.Ctx, pr.Method, upstreamURL, header, pr.Body)
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &UpstreamStatusError{StatusCode: resp.StatusCode, Body: resp.Body}
	}

	resp.Header = s.filterResponseHeaders(resp.Header)
	return resp, nil
}

// buildUpstreamURL appends the inbound URI to the base URL without parsing
// or re-encoding it.
func (s *ProxyService) buildUpstreamURL(uri string) string {
	return s.baseURL + uri
}

// buildRequestHeaders returns the only headers sent upstream: a Content-Type,
// and only when a body is present.
func (s *ProxyService) buildRequestHeaders(pr *model.ProxyRequest) http.Header {
	dst := make(http.Header)
	if !pr.HasBody() {
		return dst
	}
	ct := pr.ContentType
	if ct == "" {
		ct = defaultContentType
	}
	dst.Set("Content-Type", ct)
	return dst
}

func (s *ProxyService) filterResponseHeaders(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for key, vals := range src {
		if excludedResponseHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		dst[key] = vals
	}
	return dst
}
