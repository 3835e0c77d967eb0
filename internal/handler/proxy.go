package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"cors-proxy-go/internal/cors"
	"cors-proxy-go/internal/metrics"
	"cors-proxy-go/internal/model"
	"cors-proxy-go/internal/service"
)

// ProxyHandler forwards requests to the upstream and answers CORS preflights.
// CORS headers themselves are set by middleware.CORS before either method runs.
type ProxyHandler struct {
	service *service.ProxyService
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler. The metrics parameter is optional.
func NewProxyHandler(svc *service.ProxyService, m *metrics.Metrics, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		metrics: m,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Preflight answers an OPTIONS request locally with 200 and an empty body.
func (h *ProxyHandler) Preflight(c echo.Context) error {
	if h.metrics != nil {
		h.metrics.PreflightTotal.Inc()
	}
	return c.NoContent(http.StatusOK)
}

// Handle forwards the request to the upstream and relays the buffered response.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	body, err := readBody(req)
	if err != nil {
		return h.mapError(c, &service.TransportError{Err: err})
	}

	pr := &model.ProxyRequest{
		// A client disconnect does not abort the upstream call.
		Ctx:         context.WithoutCancel(req.Context()),
		Method:      req.Method,
		URI:         requestURI(req),
		ContentType: req.Header.Get(echo.HeaderContentType),
		Body:        body,
	}

	resp, err := h.service.Forward(pr)
	if err != nil {
		return h.mapError(c, err)
	}

	dst := c.Response().Header()
	for key, vals := range resp.Header {
		if cors.Owns(key) {
			continue
		}
		dst[key] = vals
	}

	c.Response().WriteHeader(resp.StatusCode)
	h.writeBody(c, resp.Body)
	return nil
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	var statusErr *service.UpstreamStatusError
	if errors.As(err, &statusErr) {
		h.logger.Debug("upstream error status",
			"status", statusErr.StatusCode,
			"uri", c.Request().RequestURI,
		)
		c.Response().WriteHeader(statusErr.StatusCode)
		h.writeBody(c, statusErr.Body)
		return nil
	}

	h.logger.Error("proxy error",
		"err", err,
		"method", c.Request().Method,
		"uri", c.Request().RequestURI,
	)
	return c.String(http.StatusInternalServerError, err.Error())
}

// writeBody writes the relayed body. Once the status line is out a failed
// write can only be logged.
func (h *ProxyHandler) writeBody(c echo.Context, body []byte) {
	if len(body) == 0 {
		return
	}
	if _, err := c.Response().Write(body); err != nil {
		h.logger.Error("writing response body",
			"err", err,
			"uri", c.Request().RequestURI,
		)
	}
}

// readBody returns exactly Content-Length bytes of the request body, or nil
// when no positive length was declared.
func readBody(req *http.Request) ([]byte, error) {
	if req.ContentLength <= 0 {
		return nil, nil
	}
	buf := make([]byte, req.ContentLength)
	if _, err := io.ReadFull(req.Body, buf); err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	return buf, nil
}

// requestURI returns the path and query as the client sent them, falling back
// to the parsed URL for absolute-form request targets.
func requestURI(req *http.Request) string {
	if strings.HasPrefix(req.RequestURI, "/") {
		return req.RequestURI
	}
	return req.URL.RequestURI()
}
