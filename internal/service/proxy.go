// Package service implements the proxy pipeline: resolve, fetch, classify,
// then rewrite or stream.
package service

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"hls-proxy-go/internal/channel"
	"hls-proxy-go/internal/client"
	"hls-proxy-go/internal/config"
	"hls-proxy-go/internal/metrics"
	"hls-proxy-go/internal/model"
	"hls-proxy-go/internal/playlist"
)

// PlaylistContentType is the Content-Type of every rewritten manifest.
const PlaylistContentType = "application/vnd.apple.mpegurl"

const defaultStreamContentType = "application/octet-stream"

// maxErrorDrain bounds how much of a failed upstream body is read so the
// connection can be reused.
const maxErrorDrain = 4 << 10

// ProxyService runs one inbound request through the proxy pipeline.
type ProxyService struct {
	client   *client.UpstreamClient
	channels *channel.Registry
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewProxyService creates a ProxyService. The metrics parameter is optional.
func NewProxyService(c *client.UpstreamClient, reg *channel.Registry, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *ProxyService {
	return &ProxyService{
		client:   c,
		channels: reg,
		cfg:      cfg,
		logger:   logger.With("component", "proxy_service"),
		metrics:  m,
	}
}

// Serve resolves pr, fetches the target and prepares the client response.
// Streaming responses carry an open Body the caller must close.
//
// Errors are *Error values tagged with a Kind, except for internal failures
// such as reading a playlist body, which stay untagged.
func (s *ProxyService) Serve(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	ch, target, err := Resolve(s.channels, pr.ChannelID, pr.RestPath, pr.Query)
	if err != nil {
		return nil, err
	}

	if target.Mode == model.ModeTunnel {
		if err := s.checkTunnel(target.URL); err != nil {
			return nil, err
		}
	}

	s.logger.Debug("proxying",
		"channel", ch.ID,
		"mode", target.Mode.String(),
		"target", redactQuery(target.URL),
	)

	resp, err := s.fetch(pr, target)
	if err != nil {
		return nil, err
	}

	mode := target.Mode
	if mode == model.ModeAuto {
		mode = Classify(resp.Header.Get("Content-Type"), target.URL)
	}

	if mode == model.ModePlaylist {
		return s.rewritePlaylist(pr, ch, resp)
	}
	return stream(mode, resp), nil
}

func (s *ProxyService) fetch(pr *model.ProxyRequest, target model.TargetSpec) (*model.UpstreamResponse, error) {
	resp, err := s.client.Fetch(pr.Ctx, target.URL, pr.Header, target.Mode)
	if err != nil {
		return nil, &Error{Kind: KindUpstreamUnreachable, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorDrain))
		_ = resp.Body.Close()
		s.logger.Warn("upstream returned error status",
			"channel", pr.ChannelID,
			"status", resp.StatusCode,
			"target", redactQuery(target.URL),
		)
		return nil, &Error{
			Kind:   KindUpstreamStatus,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("upstream returned %s", http.StatusText(resp.StatusCode)),
		}
	}
	return resp, nil
}

// rewritePlaylist buffers and rewrites a manifest. A manifest that cannot be
// rewritten is served as fetched.
func (s *ProxyService) rewritePlaylist(pr *model.ProxyRequest, ch channel.Channel, resp *model.UpstreamResponse) (*model.ProxyResponse, error) {
	defer func() { _ = resp.Body.Close() }()

	var body io.Reader = resp.Body
	limit := s.cfg.Playlist.MaxBytes
	if limit > 0 {
		body = io.LimitReader(resp.Body, limit+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read playlist: %w", err)
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, fmt.Errorf("read playlist: larger than %d bytes", limit)
	}

	text := string(data)
	out, err := playlist.Rewrite(text, playlist.Params{
		ProxyBase:   pr.ProxyBase,
		ChannelBase: ch.Base(),
		FinalURL:    resp.FinalURL,
	})
	outcome := "rewritten"
	if err != nil {
		s.logger.Warn("playlist rewrite failed, serving original",
			"channel", ch.ID,
			"final_url", redactQuery(resp.FinalURL),
			"error", &Error{Kind: KindRewriteFailure, Err: err},
		)
		out = text
		outcome = "passthrough"
	}
	if s.metrics != nil {
		s.metrics.PlaylistRewrites.WithLabelValues(outcome).Inc()
	}

	return &model.ProxyResponse{
		Mode:          model.ModePlaylist,
		ContentType:   PlaylistContentType,
		ContentLength: int64(len(out)),
		Text:          out,
	}, nil
}

func stream(mode model.Mode, resp *model.UpstreamResponse) *model.ProxyResponse {
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = defaultStreamContentType
	}

	length := int64(-1)
	if v := resp.Header.Get("Content-Length"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			length = n
		}
	}

	return &model.ProxyResponse{
		Mode:          mode,
		ContentType:   ct,
		ContentLength: length,
		Body:          resp.Body,
	}
}

// checkTunnel applies the [tunnel] policy to a decoded tunnel target.
func (s *ProxyService) checkTunnel(target *url.URL) error {
	if s.cfg.Tunnel.Disabled {
		return &Error{Kind: KindTunnelForbidden, Err: ErrTunnelDisabled}
	}
	if !HostAllowed(target.Hostname(), s.cfg.Tunnel.AllowedHosts) {
		return &Error{Kind: KindTunnelForbidden, Err: fmt.Errorf("%w: %s", ErrTunnelHostNotAllowed, target.Hostname())}
	}
	return nil
}

// HostAllowed reports whether host matches the allow-list. An empty list
// allows every host. Entries with a leading "." match the domain itself and
// any subdomain.
func HostAllowed(host string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	for _, entry := range allowed {
		entry = strings.ToLower(entry)
		if domain, ok := strings.CutPrefix(entry, "."); ok {
			if host == domain || strings.HasSuffix(host, entry) {
				return true
			}
			continue
		}
		if host == entry {
			return true
		}
	}
	return false
}

// redactQuery renders u for logs without its query string. Origin query
// strings carry session tokens.
func redactQuery(u *url.URL) string {
	if u == nil {
		return ""
	}
	c := *u
	if c.RawQuery != "" {
		c.RawQuery = "REDACTED"
	}
	c.User = nil
	return c.String()
}
