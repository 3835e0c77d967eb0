package handler

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/labstack/echo/v4"
	. "github.com/onsi/gomega"

	"cors-proxy-go/internal/client"
	"cors-proxy-go/internal/config"
	"cors-proxy-go/internal/metrics"
	"cors-proxy-go/internal/middleware"
	"cors-proxy-go/internal/service"
)

var corsHeaders = map[string]string{
	"Access-Control-Allow-Origin":  "*",
	"Access-Control-Allow-Methods": "GET, POST, PUT, DELETE, PATCH, OPTIONS",
	"Access-Control-Allow-Headers": "Content-Type, Authorization",
	"Access-Control-Max-Age":       "86400",
}

// newTestProxy builds the proxy's Echo stack in front of upstreamURL.
func newTestProxy(upstreamURL string, m *metrics.Metrics) *echo.Echo {
	cfg := &config.Config{
		Upstream: config.UpstreamConfig{
			BaseURL:         upstreamURL,
			TimeoutSeconds:  5,
			IdleConnections: 10,
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	uc := client.NewUpstreamClient(cfg, logger, m)
	svc := service.NewProxyService(uc, cfg, logger)

	e := echo.New()
	e.Use(middleware.CORS())
	RegisterRoutes(e, NewProxyHandler(svc, m, logger))
	return e
}

func expectCORS(g *WithT, h http.Header) {
	for key, want := range corsHeaders {
		g.Expect(h.Values(key)).To(Equal([]string{want}), "header %s", key)
	}
}

func TestProxy_RelaysStatusAndBody(t *testing.T) {
	for _, method := range forwardedMethods {
		t.Run(method, func(t *testing.T) {
			g := NewWithT(t)

			upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != method {
					t.Errorf("method = %q, want %q", r.Method, method)
				}
				w.WriteHeader(http.StatusAccepted)
				_, _ = w.Write([]byte("payload-" + r.Method))
			}))
			defer upstream.Close()

			e := newTestProxy(upstream.URL, nil)
			req := httptest.NewRequest(method, "/api/v1/things", http.NoBody)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			g.Expect(rec.Code).To(Equal(http.StatusAccepted))
			g.Expect(rec.Body.String()).To(Equal("payload-" + method))
			expectCORS(g, rec.Header())
		})
	}
}

func TestProxy_PreflightNeverContactsUpstream(t *testing.T) {
	g := NewWithT(t)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("upstream contacted for %s %s", r.Method, r.URL)
	}))
	defer upstream.Close()

	m := metrics.New()
	e := newTestProxy(upstream.URL, m)

	for _, path := range []string{"/", "/api/v1/pods", "/deep/nested/path?x=1"} {
		req := httptest.NewRequest(http.MethodOptions, path, http.NoBody)
		req.Header.Set("Origin", "http://localhost:3000")
		req.Header.Set("Access-Control-Request-Method", "DELETE")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		g.Expect(rec.Code).To(Equal(http.StatusOK), path)
		g.Expect(rec.Body.Len()).To(BeZero(), path)
		expectCORS(g, rec.Header())
	}

	families, err := m.Registry.Gather()
	g.Expect(err).NotTo(HaveOccurred())
	for _, f := range families {
		if f.GetName() == "cors_proxy_preflight_total" {
			g.Expect(f.GetMetric()[0].GetCounter().GetValue()).To(BeEquivalentTo(3))
		}
	}
}

func TestProxy_FiltersResponseHeaders(t *testing.T) {
	g := NewWithT(t)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "kube-apiserver")
		w.Header().Set("X-Request-Id", "req-42")
		w.Header().Set("Content-Type", "application/json")
		w.Header().Add("Set-Cookie", "a=1")
		w.Header().Add("Set-Cookie", "b=2")
		w.Header().Set("Access-Control-Allow-Origin", "https://other.example")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer upstream.Close()

	// Serve through a real listener so net/http's own response headers show up.
	proxy := httptest.NewServer(newTestProxy(upstream.URL, nil))
	defer proxy.Close()

	resp, err := http.Get(proxy.URL + "/api")
	g.Expect(err).NotTo(HaveOccurred())
	defer func() { _ = resp.Body.Close() }()

	g.Expect(resp.StatusCode).To(Equal(http.StatusOK))
	g.Expect(resp.Header).NotTo(HaveKey("Server"))
	g.Expect(resp.Header).NotTo(HaveKey("Date"))
	g.Expect(resp.Header).NotTo(HaveKey("Connection"))
	g.Expect(resp.Header.Get("X-Request-Id")).To(Equal("req-42"))
	g.Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))
	g.Expect(resp.Header.Values("Set-Cookie")).To(Equal([]string{"a=1", "b=2"}))
	expectCORS(g, resp.Header)
}

func TestProxy_ContentTypeForwarding(t *testing.T) {
	tests := []struct {
		name        string
		method      string
		body        string
		contentType string
		wantType    string
	}{
		{"POST without type defaults to json", http.MethodPost, `{"a":1}`, "", "application/json"},
		{"POST keeps explicit type", http.MethodPost, "hello", "text/plain", "text/plain"},
		{"PUT keeps explicit type", http.MethodPut, "k: v", "application/yaml", "application/yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewWithT(t)

			var gotType, gotBody, gotAuth, gotCustom string
			upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotType = r.Header.Get("Content-Type")
				gotAuth = r.Header.Get("Authorization")
				gotCustom = r.Header.Get("X-Custom")
				b, _ := io.ReadAll(r.Body)
				gotBody = string(b)
				w.WriteHeader(http.StatusOK)
			}))
			defer upstream.Close()

			e := newTestProxy(upstream.URL, nil)
			req := httptest.NewRequest(tt.method, "/items", strings.NewReader(tt.body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			req.Header.Set("Authorization", "Bearer secret")
			req.Header.Set("X-Custom", "dropped")
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			g.Expect(rec.Code).To(Equal(http.StatusOK))
			g.Expect(gotType).To(Equal(tt.wantType))
			g.Expect(gotBody).To(Equal(tt.body))
			g.Expect(gotAuth).To(BeEmpty())
			g.Expect(gotCustom).To(BeEmpty())
		})
	}
}

func TestProxy_GetWithoutBody(t *testing.T) {
	g := NewWithT(t)

	var gotHeader http.Header
	var gotLength int64
	var gotBody []byte
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Clone()
		gotLength = r.ContentLength
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	e := newTestProxy(upstream.URL, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/pods?limit=2", http.NoBody)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	g.Expect(rec.Code).To(Equal(http.StatusOK))
	g.Expect(gotHeader).NotTo(HaveKey("Content-Type"))
	g.Expect(gotLength).To(BeZero())
	g.Expect(gotBody).To(BeEmpty())
}

func TestProxy_ChunkedBodyTreatedAsAbsent(t *testing.T) {
	g := NewWithT(t)

	var gotBody []byte
	var gotType string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	e := newTestProxy(upstream.URL, nil)
	req := httptest.NewRequest(http.MethodPost, "/items", strings.NewReader("streamed"))
	req.ContentLength = -1
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	g.Expect(rec.Code).To(Equal(http.StatusOK))
	g.Expect(gotBody).To(BeEmpty())
	g.Expect(gotType).To(BeEmpty())
}

func TestProxy_UpstreamUnreachable(t *testing.T) {
	g := NewWithT(t)

	e := newTestProxy("http://127.0.0.1:1", nil)
	req := httptest.NewRequest(http.MethodGet, "/api", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	g.Expect(rec.Code).To(Equal(http.StatusInternalServerError))
	g.Expect(rec.Body.String()).To(ContainSubstring("connect"))
	expectCORS(g, rec.Header())

	// The server keeps serving after a failure.
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api", http.NoBody))
	g.Expect(rec.Code).To(Equal(http.StatusOK))
}

func TestProxy_UpstreamErrorStatus(t *testing.T) {
	tests := []struct {
		status int
		body   string
	}{
		{http.StatusNotFound, "not found"},
		{http.StatusInternalServerError, "boom"},
		{http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			g := NewWithT(t)

			upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer upstream.Close()

			e := newTestProxy(upstream.URL, nil)
			req := httptest.NewRequest(http.MethodGet, "/missing", http.NoBody)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			g.Expect(rec.Code).To(Equal(tt.status))
			g.Expect(rec.Body.String()).To(Equal(tt.body))
			expectCORS(g, rec.Header())
		})
	}
}

func TestProxy_ShortBodyIsTransportFailure(t *testing.T) {
	g := NewWithT(t)

	var contacted atomic.Bool
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contacted.Store(true)
	}))
	defer upstream.Close()

	e := newTestProxy(upstream.URL, nil)
	req := httptest.NewRequest(http.MethodPost, "/items", bytes.NewReader([]byte("abc")))
	req.ContentLength = 10
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	g.Expect(rec.Code).To(Equal(http.StatusInternalServerError))
	g.Expect(rec.Body.String()).To(ContainSubstring("read request body"))
	g.Expect(contacted.Load()).To(BeFalse())
	expectCORS(g, rec.Header())
}

func TestProxy_QueryForwardedVerbatim(t *testing.T) {
	g := NewWithT(t)

	var gotURI string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURI = r.RequestURI
	}))
	defer upstream.Close()

	e := newTestProxy(upstream.URL, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/pods?labelSelector=app%3Dweb&b=2&a=1", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	g.Expect(rec.Code).To(Equal(http.StatusOK))
	g.Expect(gotURI).To(Equal("/api/v1/pods?labelSelector=app%3Dweb&b=2&a=1"))
}

func TestProxy_RepeatedGetIsIdempotent(t *testing.T) {
	g := NewWithT(t)

	var calls atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"kind":"PodList"}`))
	}))
	defer upstream.Close()

	e := newTestProxy(upstream.URL, nil)

	var first *httptest.ResponseRecorder
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/pods", http.NoBody))
		if i == 0 {
			first = rec
			continue
		}
		g.Expect(rec.Code).To(Equal(first.Code))
		g.Expect(rec.Body.String()).To(Equal(first.Body.String()))
		g.Expect(rec.Header()).To(Equal(first.Header()))
	}
	g.Expect(calls.Load()).To(BeEquivalentTo(5))
}

func TestReadBody(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		length  int64
		want    []byte
		wantErr bool
	}{
		{"no length", "ignored", 0, nil, false},
		{"unknown length", "ignored", -1, nil, false},
		{"exact length", "hello", 5, []byte("hello"), false},
		{"reads only declared bytes", "hello world", 5, []byte("hello"), false},
		{"short body", "hi", 5, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			req.ContentLength = tt.length

			got, err := readBody(req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("readBody() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !bytes.Equal(got, tt.want) || (got == nil) != (tt.want == nil) {
				t.Errorf("readBody() = %q, want %q", got, tt.want)
			}
		})
	}
}
