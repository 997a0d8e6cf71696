package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"hls-proxy-go/internal/config"
	"hls-proxy-go/internal/model"
	"hls-proxy-go/internal/service"
)

// urlQueryPattern matches the query string of URLs embedded in error messages.
// Origin query strings carry session tokens.
var urlQueryPattern = regexp.MustCompile(`(https?://[^\s"?]+)\?[^\s"]*`)

// ProxyHandler serves channel playlists, segments and tunnel fetches.
type ProxyHandler struct {
	service *service.ProxyService
	logger  *slog.Logger

	publicURL      string
	playlistMaxAge int
	segmentMaxAge  int
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, cfg *config.Config, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service:        svc,
		logger:         logger.With("component", "proxy_handler"),
		publicURL:      strings.TrimSuffix(cfg.Server.PublicURL, "/"),
		playlistMaxAge: cfg.Playlist.MaxAgeSeconds,
		segmentMaxAge:  cfg.Segment.MaxAgeSeconds,
	}
}

// Handle serves GET /{channel}/{rest...}.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	// The escaped path is used so tunnel targets and encoded segment names
	// reach the upstream exactly as the player sent them.
	channelID, rest := splitChannelPath(req.URL.EscapedPath())

	query := ""
	if req.URL.RawQuery != "" {
		query = "?" + req.URL.RawQuery
	}

	pr := &model.ProxyRequest{
		Ctx:       req.Context(),
		ChannelID: channelID,
		RestPath:  rest,
		Query:     query,
		Header:    req.Header,
		ProxyBase: h.proxyBase(c, channelID),
	}

	resp, err := h.service.Serve(pr)
	if err != nil {
		return h.mapError(c, err)
	}

	if resp.Mode == model.ModePlaylist {
		return h.emitPlaylist(c, resp)
	}
	return h.emitStream(c, resp)
}

// proxyBase is the origin clients use to reach this proxy, plus the channel id.
func (h *ProxyHandler) proxyBase(c echo.Context, channelID string) string {
	origin := h.publicURL
	if origin == "" {
		origin = c.Scheme() + "://" + c.Request().Host
	}
	return origin + "/" + channelID
}

func (h *ProxyHandler) emitPlaylist(c echo.Context, resp *model.ProxyResponse) error {
	hdr := c.Response().Header()
	hdr.Set(echo.HeaderAccessControlAllowOrigin, "*")
	hdr.Set(echo.HeaderAccessControlAllowHeaders, "*")
	hdr.Set("Cache-Control", cacheControl(h.playlistMaxAge))
	return c.Blob(http.StatusOK, resp.ContentType, []byte(resp.Text))
}

func (h *ProxyHandler) emitStream(c echo.Context, resp *model.ProxyResponse) error {
	defer func() { _ = resp.Body.Close() }()

	hdr := c.Response().Header()
	hdr.Set(echo.HeaderContentType, resp.ContentType)
	hdr.Set(echo.HeaderAccessControlAllowOrigin, "*")
	hdr.Set("Cache-Control", cacheControl(h.segmentMaxAge))
	if resp.ContentLength >= 0 {
		hdr.Set(echo.HeaderContentLength, strconv.FormatInt(resp.ContentLength, 10))
	}
	c.Response().WriteHeader(http.StatusOK)

	// Headers are already sent, so a mid-stream failure (usually the player
	// going away) can only be logged.
	if _, err := io.Copy(c.Response(), resp.Body); err != nil {
		h.logger.Debug("streaming aborted",
			"err", err,
			"mode", resp.Mode.String(),
			"path", c.Request().URL.Path,
		)
	}
	return nil
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	c.Response().Header().Set(echo.HeaderAccessControlAllowOrigin, "*")

	var se *service.Error
	if errors.As(err, &se) {
		switch se.Kind {
		case service.KindUnknownChannel:
			h.logger.Info("unknown channel", "path", c.Request().URL.Path)
			return c.String(http.StatusNotFound, "Channel not found")
		case service.KindUpstreamStatus:
			return c.String(se.Status, fmt.Sprintf("Upstream Error: %d", se.Status))
		case service.KindBadTunnelTarget:
			h.logger.Warn("bad tunnel target", "err", sanitizeError(err))
			return c.String(http.StatusBadRequest, "Invalid tunnel target")
		case service.KindTunnelForbidden:
			h.logger.Warn("tunnel target rejected", "err", sanitizeError(err))
			return c.String(http.StatusForbidden, "Tunnel target not allowed")
		}
	}

	h.logger.Error("proxy error",
		"err", sanitizeError(err),
		"path", c.Request().URL.Path,
	)
	return c.String(http.StatusInternalServerError, "Proxy Error: "+errorMessage(err))
}

// ErrorHandler replaces echo's default error handler. Router and middleware
// errors keep their status; anything else is reported as a proxy error.
func ErrorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	logger = logger.With("component", "error_handler")
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var he *echo.HTTPError
		if errors.As(err, &he) {
			msg, ok := he.Message.(string)
			if !ok {
				msg = http.StatusText(he.Code)
			}
			_ = c.String(he.Code, msg)
			return
		}

		logger.Error("unhandled error",
			"err", sanitizeError(err),
			"path", c.Request().URL.Path,
		)
		c.Response().Header().Set(echo.HeaderAccessControlAllowOrigin, "*")
		_ = c.String(http.StatusInternalServerError, "Proxy Error: "+sanitizeError(err))
	}
}

// splitChannelPath splits "/{channel}/{rest}" into its channel id and rest
// path. rest has no leading slash and stays escaped.
func splitChannelPath(escaped string) (channelID, rest string) {
	p := strings.TrimPrefix(escaped, "/")
	channelID, rest, _ = strings.Cut(p, "/")
	return channelID, rest
}

func cacheControl(maxAge int) string {
	return "public, max-age=" + strconv.Itoa(maxAge)
}

// errorMessage picks the client-facing message for an uncaught error. For
// transport failures only the underlying cause is reported, not the origin URL.
func errorMessage(err error) string {
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Err.Error()
	}
	return sanitizeError(err)
}

// sanitizeError redacts query strings from URLs embedded in error messages.
func sanitizeError(err error) string {
	return urlQueryPattern.ReplaceAllString(err.Error(), "${1}?[REDACTED]")
}
