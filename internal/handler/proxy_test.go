package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"hls-proxy-go/internal/channel"
	"hls-proxy-go/internal/client"
	"hls-proxy-go/internal/config"
	"hls-proxy-go/internal/metrics"
	"hls-proxy-go/internal/service"
)

func newTestConfig(origin string) *config.Config {
	return &config.Config{
		Upstream: config.UpstreamConfig{TimeoutSeconds: 5, IdleConnections: 4},
		Playlist: config.PlaylistConfig{MaxAgeSeconds: 5, MaxBytes: 1 << 20},
		Segment:  config.SegmentConfig{MaxAgeSeconds: 30},
		Metrics:  config.MetricsConfig{Enabled: true, Path: "/metrics"},
		Channels: map[string]string{"1001": origin},
	}
}

// newTestServer builds an Echo instance wired the way main wires it.
func newTestServer(t *testing.T, cfg *config.Config) *echo.Echo {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New()

	reg, err := channel.NewRegistry(cfg)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	uc := client.NewUpstreamClient(cfg, logger, m)
	svc := service.NewProxyService(uc, reg, cfg, logger, m)

	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler(logger)
	e.Use(echomw.Recover())
	RegisterRoutes(e, NewProxyHandler(svc, cfg, logger), NewHealthHandler(cfg, reg, "test"), cfg, m)
	return e
}

func serve(e *echo.Echo, target string, mutate func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, http.NoBody)
	req.Host = "proxy.test"
	if mutate != nil {
		mutate(req)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestProxyHandler_Playlist(t *testing.T) {
	var gotPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/x-mpegURL")
		_, _ = io.WriteString(w, "#EXTM3U\n#EXT-X-KEY:METHOD=AES-128,URI=\"https://keys.example.com/k/key.bin\"\n#EXTINF:6.0,\nhls/seg_1.ts\n")
	}))
	defer upstream.Close()

	e := newTestServer(t, newTestConfig(upstream.URL+"/live/1001"))
	rec := serve(e, "/1001", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %q)", rec.Code, http.StatusOK, rec.Body.String())
	}
	if gotPath != "/live/1001/index.m3u8" {
		t.Errorf("upstream path = %q, want /live/1001/index.m3u8", gotPath)
	}

	wantHeaders := map[string]string{
		"Content-Type":                 "application/vnd.apple.mpegurl",
		"Access-Control-Allow-Origin":  "*",
		"Access-Control-Allow-Headers": "*",
		"Cache-Control":                "public, max-age=5",
	}
	for k, v := range wantHeaders {
		if got := rec.Header().Get(k); got != v {
			t.Errorf("header %s = %q, want %q", k, got, v)
		}
	}

	want := "#EXTM3U\n" +
		"#EXT-X-KEY:METHOD=AES-128,URI=\"http://proxy.test/1001/key.bin\"\n" +
		"#EXTINF:6.0,\n" +
		"http://proxy.test/1001/hls/seg_1.ts\n"
	if rec.Body.String() != want {
		t.Errorf("body =\n%s\nwant\n%s", rec.Body.String(), want)
	}
}

func TestProxyHandler_ProxyBase(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		_, _ = io.WriteString(w, "#EXTM3U\nseg.ts\n")
	}))
	defer upstream.Close()

	tests := []struct {
		name      string
		publicURL string
		mutate    func(*http.Request)
		wantRef   string
	}{
		{"request host", "", nil, "http://proxy.test/1001/seg.ts"},
		{
			"forwarded proto",
			"",
			func(r *http.Request) { r.Header.Set("X-Forwarded-Proto", "https") },
			"https://proxy.test/1001/seg.ts",
		},
		{"public url", "https://tv.example.org/", nil, "https://tv.example.org/1001/seg.ts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newTestConfig(upstream.URL + "/live/1001")
			cfg.Server.PublicURL = tt.publicURL
			rec := serve(newTestServer(t, cfg), "/1001/index.m3u8", tt.mutate)

			if !strings.Contains(rec.Body.String(), tt.wantRef+"\n") {
				t.Errorf("body = %q, want reference %q", rec.Body.String(), tt.wantRef)
			}
		})
	}
}

func TestProxyHandler_Segment(t *testing.T) {
	payload := "\x47\x40\x00\x10segment"
	var gotPath, gotQuery string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "video/mp2t")
		_, _ = io.WriteString(w, payload)
	}))
	defer upstream.Close()

	e := newTestServer(t, newTestConfig(upstream.URL+"/live/1001"))
	rec := serve(e, "/1001/hls/my%20seg.ts?nimblesessionid=9&sig=a%2Bb", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %q)", rec.Code, http.StatusOK, rec.Body.String())
	}
	if gotPath != "/live/1001/hls/my%20seg.ts" {
		t.Errorf("upstream path = %q, want %q", gotPath, "/live/1001/hls/my%20seg.ts")
	}
	if gotQuery != "nimblesessionid=9&sig=a%2Bb" {
		t.Errorf("upstream query = %q, want %q", gotQuery, "nimblesessionid=9&sig=a%2Bb")
	}
	if rec.Body.String() != payload {
		t.Errorf("body = %q, want %q", rec.Body.String(), payload)
	}

	wantHeaders := map[string]string{
		"Content-Type":                "video/mp2t",
		"Content-Length":              fmt.Sprint(len(payload)),
		"Access-Control-Allow-Origin": "*",
		"Cache-Control":               "public, max-age=30",
	}
	for k, v := range wantHeaders {
		if got := rec.Header().Get(k); got != v {
			t.Errorf("header %s = %q, want %q", k, got, v)
		}
	}
}

func TestProxyHandler_Tunnel(t *testing.T) {
	edge := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "edge-bytes")
	}))
	defer edge.Close()

	e := newTestServer(t, newTestConfig("http://origin.invalid/live/1001"))
	rec := serve(e, "/1001/__proxy__/"+url.QueryEscape(edge.URL+"/hls/seg.ts?tok=1"), nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %q)", rec.Code, http.StatusOK, rec.Body.String())
	}
	if rec.Body.String() != "edge-bytes" {
		t.Errorf("body = %q, want %q", rec.Body.String(), "edge-bytes")
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}

func TestProxyHandler_Errors(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer upstream.Close()

	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	cfg := newTestConfig(upstream.URL + "/live/1001")
	cfg.Channels["2002"] = deadURL + "/live/2002"
	cfg.Tunnel.AllowedHosts = []string{".cdn.example.com"}
	e := newTestServer(t, cfg)

	tests := []struct {
		name       string
		target     string
		wantStatus int
		wantBody   string
		bodyPrefix bool
	}{
		{"unknown channel", "/9999/index.m3u8", http.StatusNotFound, "Channel not found", false},
		{"upstream status", "/1001/index.m3u8", http.StatusForbidden, "Upstream Error: 403", false},
		{"upstream unreachable", "/2002/index.m3u8", http.StatusInternalServerError, "Proxy Error: ", true},
		{"bad tunnel target", "/1001/__proxy__/" + url.QueryEscape("ftp://x/y"), http.StatusBadRequest, "Invalid tunnel target", false},
		{"tunnel host not allowed", "/1001/__proxy__/" + url.QueryEscape("https://evil.example.org/seg.ts"), http.StatusForbidden, "Tunnel target not allowed", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(e, tt.target, nil)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			body := rec.Body.String()
			if tt.bodyPrefix {
				if !strings.HasPrefix(body, tt.wantBody) {
					t.Errorf("body = %q, want prefix %q", body, tt.wantBody)
				}
			} else if body != tt.wantBody {
				t.Errorf("body = %q, want %q", body, tt.wantBody)
			}
		})
	}
}

func TestProxyHandler_UnreachableHidesOrigin(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	e := newTestServer(t, newTestConfig(deadURL+"/secret/live/1001"))
	rec := serve(e, "/1001/index.m3u8?token=abc", nil)

	if strings.Contains(rec.Body.String(), "/secret/live") || strings.Contains(rec.Body.String(), "token=abc") {
		t.Errorf("error body leaks the upstream URL: %q", rec.Body.String())
	}
}

func TestErrorHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler(logger)
	e.Use(echomw.Recover())
	e.GET("/panic", func(c echo.Context) error { panic("boom") })
	e.GET("/plain", func(c echo.Context) error { return errors.New("disk on fire") })
	e.GET("/limited", func(c echo.Context) error { return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded") })

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantPrefix string
	}{
		{"panic", "/panic", http.StatusInternalServerError, "Proxy Error: "},
		{"plain error", "/plain", http.StatusInternalServerError, "Proxy Error: disk on fire"},
		{"http error keeps status", "/limited", http.StatusTooManyRequests, "rate limit exceeded"},
		{"route not found", "/missing/route", http.StatusNotFound, "Not Found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(e, tt.path, nil)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if !strings.HasPrefix(rec.Body.String(), tt.wantPrefix) {
				t.Errorf("body = %q, want prefix %q", rec.Body.String(), tt.wantPrefix)
			}
		})
	}
}

func TestSplitChannelPath(t *testing.T) {
	tests := []struct {
		in          string
		wantChannel string
		wantRest    string
	}{
		{"/1001", "1001", ""},
		{"/1001/", "1001", ""},
		{"/1001/index.m3u8", "1001", "index.m3u8"},
		{"/1001/hls/720p/seg.ts", "1001", "hls/720p/seg.ts"},
		{"/1001/__proxy__/https%3A%2F%2Fcdn%2Fa.ts", "1001", "__proxy__/https%3A%2F%2Fcdn%2Fa.ts"},
		{"/", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			ch, rest := splitChannelPath(tt.in)
			if ch != tt.wantChannel || rest != tt.wantRest {
				t.Errorf("splitChannelPath(%q) = (%q, %q), want (%q, %q)", tt.in, ch, rest, tt.wantChannel, tt.wantRest)
			}
		})
	}
}

func TestSanitizeError(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			"query redacted",
			`Get "https://origin.example.com/live/index.m3u8?nimblesessionid=123&sig=x": EOF`,
			`Get "https://origin.example.com/live/index.m3u8?[REDACTED]": EOF`,
		},
		{
			"no query untouched",
			`Get "https://origin.example.com/live/seg.ts": EOF`,
			`Get "https://origin.example.com/live/seg.ts": EOF`,
		},
		{
			"no url",
			"something went wrong",
			"something went wrong",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeError(errors.New(tt.input)); got != tt.want {
				t.Errorf("sanitizeError() = %q, want %q", got, tt.want)
			}
		})
	}
}
