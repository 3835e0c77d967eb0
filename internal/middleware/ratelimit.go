package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"cors-proxy-go/internal/config"
)

// RateLimit returns a per-client-IP rate limiter backed by an in-memory store.
// Rejections are plain-text 429s so the CORS headers already on the response
// remain readable by browser callers.
func RateLimit(cfg config.RateLimitConfig) echo.MiddlewareFunc {
	store := echomw.NewRateLimiterMemoryStore(rate.Limit(cfg.RequestsPerSecond))
	return echomw.RateLimiterWithConfig(echomw.RateLimiterConfig{
		Store: store,
		DenyHandler: func(c echo.Context, _ string, _ error) error {
			return c.String(http.StatusTooManyRequests, "rate limit exceeded")
		},
	})
}
