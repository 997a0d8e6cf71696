// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net/http"
	"net/url"
)

// Mode tells the pipeline how an upstream body is handled.
type Mode int

const (
	// ModeAuto defers the decision to the content classifier.
	ModeAuto Mode = iota
	// ModePlaylist bodies are buffered and rewritten.
	ModePlaylist
	// ModeSegment bodies are streamed through unmodified.
	ModeSegment
	// ModeTunnel fetches a client-supplied absolute URL and streams it through.
	ModeTunnel
)

func (m Mode) String() string {
	switch m {
	case ModePlaylist:
		return "playlist"
	case ModeSegment:
		return "segment"
	case ModeTunnel:
		return "tunnel"
	default:
		return "auto"
	}
}

// ProxyRequest is derived from one inbound client request.
type ProxyRequest struct {
	Ctx       context.Context
	ChannelID string
	// RestPath is the escaped path after the channel id, without a leading slash.
	RestPath string
	// Query is the raw query string including its leading "?", or empty.
	Query  string
	Header http.Header
	// ProxyBase is "{requestOrigin}/{channelID}" with no trailing slash.
	ProxyBase string
}

// TargetSpec is the resolved upstream target for a ProxyRequest.
type TargetSpec struct {
	URL  *url.URL
	Mode Mode
}

// UpstreamResponse is the raw upstream reply. Exactly one consumer reads Body.
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	// FinalURL is the URL that produced the response, after redirects.
	FinalURL *url.URL
	Body     io.ReadCloser
}

// ProxyResponse is what the handler emits to the client. Playlist responses
// carry Text; segment and tunnel responses carry Body.
type ProxyResponse struct {
	Mode          Mode
	ContentType   string
	ContentLength int64
	Text          string
	Body          io.ReadCloser
}
