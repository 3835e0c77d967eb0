package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/multierr"

	"cors-proxy-go/internal/client"
	"cors-proxy-go/internal/config"
	"cors-proxy-go/internal/handler"
	"cors-proxy-go/internal/metrics"
	"cors-proxy-go/internal/middleware"
	"cors-proxy-go/internal/service"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("cors-proxy"),
		kong.Description("Local reverse proxy that adds permissive CORS headers to an upstream HTTP API."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.WithLogger(newFxLogger),
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			metrics.New,
			newEcho,
			newAdminServer,
			client.NewUpstreamClient,
			service.NewProxyService,
			handler.NewProxyHandler,
			handler.NewHealthHandler,
		),
		fx.Invoke(handler.RegisterRoutes, warnConfigPermissions, startServer),
	).Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

// newFxLogger routes fx lifecycle events through slog at debug level.
func newFxLogger(logger *slog.Logger) fxevent.Logger {
	l := &fxevent.SlogLogger{Logger: logger.With("component", "fx")}
	l.UseLogLevel(slog.LevelDebug)
	return l
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	applyServerTimeouts(e.Server)

	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(logger))
	e.Use(middleware.MetricsMiddleware(m))
	// CORS runs before the limiters so their rejections carry the headers.
	e.Use(middleware.CORS())
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))

	if cfg.Server.RateLimit.Enabled {
		e.Use(middleware.RateLimit(cfg.Server.RateLimit))
		logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
	}

	return e
}

// adminServer is the optional listener for health, status and metrics.
// Echo is nil when the admin listener is disabled.
type adminServer struct {
	Echo *echo.Echo
}

func newAdminServer(cfg *config.Config, m *metrics.Metrics, health *handler.HealthHandler) *adminServer {
	if !cfg.Admin.Enabled {
		return &adminServer{}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	applyServerTimeouts(e.Server)
	e.Use(echomw.Recover())

	handler.RegisterAdminRoutes(e, health, m, cfg)
	return &adminServer{Echo: e}
}

func applyServerTimeouts(s *http.Server) {
	// Inbound timeouts to mitigate slow-client attacks.
	s.ReadTimeout = 30 * time.Second
	// WriteTimeout is disabled (0); a slow upstream is bounded by the
	// upstream client timeout instead.
	s.WriteTimeout = 0
	s.IdleTimeout = 120 * time.Second
	s.ReadHeaderTimeout = 10 * time.Second
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

func startServer(lc fx.Lifecycle, e *echo.Echo, admin *adminServer, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}

			var adminLn net.Listener
			if admin.Echo != nil {
				adminLn, err = net.Listen("tcp", cfg.Admin.Addr())
				if err != nil {
					_ = ln.Close()
					return fmt.Errorf("bind admin %s: %w", cfg.Admin.Addr(), err)
				}
			}

			printBanner(os.Stdout, cfg)
			logger.Info("starting server", "addr", addr, "upstream", cfg.Upstream.BaseURL)
			go serve(e, ln, logger)

			if adminLn != nil {
				logger.Info("starting admin server", "addr", cfg.Admin.Addr())
				go serve(admin.Echo, adminLn, logger)
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			err := e.Shutdown(ctx)
			if admin.Echo != nil {
				err = multierr.Append(err, admin.Echo.Shutdown(ctx))
			}
			return err
		},
	})
}

func serve(e *echo.Echo, ln net.Listener, logger *slog.Logger) {
	if err := e.Server.Serve(ln); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "addr", ln.Addr().String(), "err", err)
	}
}
