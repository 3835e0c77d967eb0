// Package middleware provides Echo middleware for logging, metrics and CORS.
package middleware

import (
	"github.com/labstack/echo/v4"

	"cors-proxy-go/internal/cors"
)

// hopByHopHeaders are headers that should not be forwarded by proxies.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// CORS returns an Echo middleware that strips hop-by-hop headers from the
// request and puts the CORS header set on the response before the handler
// runs, so router errors and recovered panics carry it too. It also stops
// net/http from adding its own Date header.
func CORS() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			for _, name := range hopByHopHeaders {
				c.Request().Header.Del(name)
			}

			h := c.Response().Header()
			cors.Apply(h)
			h["Date"] = nil

			return next(c)
		}
	}
}
