package service

import (
	"mime"
	"net/url"
	"strings"

	"hls-proxy-go/internal/model"
)

// genericContentTypes say nothing about the payload; for these the path
// suffix decides.
var genericContentTypes = map[string]bool{
	"":                         true,
	"text/plain":               true,
	"application/octet-stream": true,
	"binary/octet-stream":      true,
}

// Classify decides whether an upstream response is a playlist or a segment.
// An HLS content type always wins. A specific non-HLS content type wins over
// a ".m3u8" suffix; a missing or generic one defers to the suffix.
func Classify(contentType string, target *url.URL) model.Mode {
	mt := strings.ToLower(strings.TrimSpace(contentType))
	if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
		mt = strings.ToLower(parsed)
	}

	if strings.Contains(mt, "mpegurl") {
		return model.ModePlaylist
	}
	if !genericContentTypes[mt] {
		return model.ModeSegment
	}
	if strings.HasSuffix(strings.ToLower(target.Path), ".m3u8") {
		return model.ModePlaylist
	}
	return model.ModeSegment
}
