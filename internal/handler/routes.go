package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cors-proxy-go/internal/config"
	"cors-proxy-go/internal/metrics"
)

// forwardedMethods are relayed to the upstream; OPTIONS is answered locally.
var forwardedMethods = []string{
	http.MethodGet,
	http.MethodPost,
	http.MethodPut,
	http.MethodDelete,
	http.MethodPatch,
}

// RegisterRoutes wires the proxy handler onto every path of the proxy listener.
func RegisterRoutes(e *echo.Echo, proxy *ProxyHandler) {
	e.Match(forwardedMethods, "/*", proxy.Handle)
	e.OPTIONS("/*", proxy.Preflight)
}

// RegisterAdminRoutes wires health, status and metrics onto the admin listener.
func RegisterAdminRoutes(e *echo.Echo, health *HealthHandler, m *metrics.Metrics, cfg *config.Config) {
	e.GET("/healthz", health.Healthz)
	e.GET("/proxy/status", health.Status)
	e.GET(cfg.Admin.MetricsPath, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
}
