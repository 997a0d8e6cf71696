package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"hls-proxy-go/internal/channel"
	"hls-proxy-go/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg      *config.Config
	channels *channel.Registry
	version  Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, reg *channel.Registry, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, channels: reg, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status returns proxy status information. Origin URLs are not exposed.
func (h *HealthHandler) Status(c echo.Context) error {
	tunnel := "enabled"
	if h.cfg.Tunnel.Disabled {
		tunnel = "disabled"
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status":   "ok",
		"version":  string(h.version),
		"channels": strconv.Itoa(h.channels.Len()),
		"tunnel":   tunnel,
	})
}
