package middleware

import (
	"errors"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestLogger returns an Echo middleware that writes one access-log record
// per request with slog.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			logger.Info("request",
				"remote_ip", c.RealIP(),
				"method", req.Method,
				"uri", req.RequestURI,
				"proto", req.Proto,
				"status", resolveStatus(c, err),
				"duration_ms", time.Since(start).Milliseconds(),
				"bytes_out", res.Size,
			)

			return err
		}
	}
}

// resolveStatus returns the status the client will see. When a handler returns
// an *echo.HTTPError, the response hasn't been written yet; Echo's central
// error handler will do that later.
func resolveStatus(c echo.Context, err error) int {
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he.Code
		}
	}
	return c.Response().Status
}
