package main

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/dustin/go-humanize"

	"cors-proxy-go/internal/config"
)

const rule = "========================================="

// printBanner writes the human-readable startup summary.
func printBanner(w io.Writer, cfg *config.Config) {
	var b strings.Builder

	fmt.Fprintln(&b, rule)
	fmt.Fprintln(&b, "  CORS proxy")
	fmt.Fprintln(&b, rule)
	fmt.Fprintln(&b)
	fmt.Fprintf(&b, "Listening on: http://%s\n", cfg.Server.Addr())
	fmt.Fprintf(&b, "Proxying to:  %s\n", cfg.Upstream.BaseURL)
	fmt.Fprintf(&b, "Body limit:   %s\n", humanize.Bytes(uint64(cfg.Server.BodyMaxBytes)))
	if cfg.Admin.Enabled {
		fmt.Fprintf(&b, "Admin:        http://%s (/healthz, /proxy/status, %s)\n", cfg.Admin.Addr(), cfg.Admin.MetricsPath)
	}
	fmt.Fprintln(&b)

	if u, err := url.Parse(cfg.Upstream.BaseURL); err == nil && u.Port() != "" {
		fmt.Fprintln(&b, "Make sure the upstream is running, e.g.:")
		fmt.Fprintf(&b, "  kubectl proxy --port=%s\n", u.Port())
		fmt.Fprintln(&b)
	}

	fmt.Fprintln(&b, "Point the browser client at:")
	fmt.Fprintf(&b, "  http://%s\n", cfg.Server.Addr())
	fmt.Fprintln(&b)
	fmt.Fprintln(&b, "Press Ctrl+C to stop")
	fmt.Fprintln(&b, rule)

	_, _ = io.WriteString(w, b.String())
}
