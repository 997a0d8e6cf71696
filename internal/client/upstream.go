// Package client provides the upstream HTTP client for live-stream origins.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"hls-proxy-go/internal/config"
	"hls-proxy-go/internal/metrics"
	"hls-proxy-go/internal/model"
)

// UpstreamClient sends GET requests to stream origins.
type UpstreamClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
	userAgent  string
}

// NewUpstreamClient creates an UpstreamClient with connection pooling and timeouts.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		// Segments must reach the client byte-for-byte.
		DisableCompression: true,
		// Only the wait for headers is bounded; segment bodies may stream for
		// as long as the client keeps reading.
		ResponseHeaderTimeout: time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	ua := cfg.Upstream.UserAgent
	if ua == "" {
		ua = config.DefaultUserAgent
	}

	return &UpstreamClient{
		httpClient: &http.Client{Transport: transport},
		logger:     logger.With("component", "upstream_client"),
		metrics:    m,
		userAgent:  ua,
	}
}

// Fetch issues a GET for target on behalf of a client whose headers are
// inbound. Non-2xx responses are returned as-is; the caller decides how to
// surface them. The caller is responsible for closing the response body.
//
// The context controls the whole exchange including the body stream: when
// the client disconnects, the upstream transfer is aborted.
func (c *UpstreamClient) Fetch(ctx context.Context, target *url.URL, inbound http.Header, mode model.Mode) (*model.UpstreamResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = c.upstreamHeaders(target, inbound)

	c.logger.Debug("upstream request",
		"mode", mode.String(),
		"host", target.Host,
		"path", target.Path,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via UpstreamResponse
	duration := time.Since(start).Seconds()

	if err != nil {
		if c.metrics != nil {
			c.metrics.UpstreamDuration.WithLabelValues(mode.String()).Observe(duration)
			c.metrics.UpstreamResponses.WithLabelValues(mode.String(), "error").Inc()
		}
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	if c.metrics != nil {
		status := strconv.Itoa(resp.StatusCode)
		c.metrics.UpstreamDuration.WithLabelValues(mode.String()).Observe(duration)
		c.metrics.UpstreamResponses.WithLabelValues(mode.String(), status).Inc()
	}

	final := target
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL
	}

	return &model.UpstreamResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		FinalURL:   final,
		Body:       resp.Body,
	}, nil
}

// upstreamHeaders builds the outbound header set. Origin is never sent:
// many CDNs reject requests carrying a cross-origin Origin header. Referer
// always names the target's own origin, never the proxy's.
func (c *UpstreamClient) upstreamHeaders(target *url.URL, inbound http.Header) http.Header {
	h := make(http.Header)
	ua := inbound.Get("User-Agent")
	if ua == "" {
		ua = c.userAgent
	}
	h.Set("User-Agent", ua)
	h.Set("Referer", target.Scheme+"://"+target.Host+"/")
	return h
}
