// Package client provides the HTTP client used to reach the upstream service.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"cors-proxy-go/internal/config"
	"cors-proxy-go/internal/metrics"
	"cors-proxy-go/internal/model"
)

// UpstreamClient sends requests to the configured upstream.
type UpstreamClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewUpstreamClient creates an UpstreamClient with connection pooling and timeouts.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	transport := &http.Transport{
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		// Bodies and Content-Encoding are relayed untouched.
		DisableCompression: true,
	}

	return &UpstreamClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
			// Redirects are passed through to the caller, not followed.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:  logger.With("component", "upstream_client"),
		metrics: m,
	}
}

// Do executes an HTTP request against the upstream and returns the response
// with its body fully read.
func (c *UpstreamClient) Do(req *http.Request) (*model.ProxyResponse, error) {
	c.logger.Debug("upstream request",
		"method", req.Method,
		"url", req.URL.String(),
	)

	method := metrics.NormalizeMethod(req.Method)
	start := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(method, start, "")
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.observe(method, start, "")
		return nil, fmt.Errorf("read upstream body: %w", err)
	}

	c.observe(method, start, strconv.Itoa(resp.StatusCode))

	return &model.ProxyResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// observe records upstream metrics. An empty status marks a failed call.
func (c *UpstreamClient) observe(method string, start time.Time, status string) {
	if c.metrics == nil {
		return
	}
	c.metrics.UpstreamDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if status == "" {
		c.metrics.UpstreamFailures.WithLabelValues(method).Inc()
		return
	}
	c.metrics.UpstreamResponses.WithLabelValues(method, status).Inc()
}

// Send builds a request from its parts and executes it. A nil body sends no
// body at all; the header map is sent as-is apart from suppressing the
// client's default User-Agent.
func (c *UpstreamClient) Send(ctx context.Context, method, url string, header http.Header, body []byte) (*model.ProxyResponse, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = header.Clone()
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	// An empty value stops net/http from writing "Go-http-client/1.1".
	req.Header["User-Agent"] = []string{""}

	return c.Do(req)
}
