package service

import (
	"fmt"
	"net/url"
	"strings"

	"hls-proxy-go/internal/channel"
	"hls-proxy-go/internal/model"
	"hls-proxy-go/internal/playlist"
)

// Default entry points for a channel requested without a path.
const (
	defaultPlaylist = "index.m3u8"
	smilPlaylist    = "playlist.m3u8"
)

// Resolve maps a channel id, escaped rest path and raw query ("?..." or
// empty) onto an upstream target. It performs no I/O.
//
// The query string is appended verbatim: origins keep session tokens such as
// nimblesessionid there and playback breaks without them.
func Resolve(reg *channel.Registry, channelID, restPath, query string) (channel.Channel, model.TargetSpec, error) {
	ch, ok := reg.Lookup(channelID)
	if !ok {
		return channel.Channel{}, model.TargetSpec{}, &Error{Kind: KindUnknownChannel, Err: fmt.Errorf("%w: %q", ErrUnknownChannel, channelID)}
	}

	if encoded, ok := strings.CutPrefix(restPath, playlist.TunnelMarker+"/"); ok {
		u, err := decodeTunnelTarget(encoded)
		if err != nil {
			return ch, model.TargetSpec{}, &Error{Kind: KindBadTunnelTarget, Err: err}
		}
		return ch, model.TargetSpec{URL: u, Mode: model.ModeTunnel}, nil
	}

	mode := model.ModeAuto
	if restPath == "" {
		mode = model.ModePlaylist
		restPath = defaultPlaylist
		if ch.IsSMIL() {
			restPath = smilPlaylist
		}
	}

	u, err := url.Parse(ch.Base() + "/" + restPath + query)
	if err != nil {
		return ch, model.TargetSpec{}, fmt.Errorf("build upstream URL: %w", err)
	}
	return ch, model.TargetSpec{URL: u, Mode: mode}, nil
}

// decodeTunnelTarget percent-decodes a tunnel path into an absolute http(s) URL.
func decodeTunnelTarget(encoded string) (*url.URL, error) {
	raw, err := url.PathUnescape(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode tunnel target: %w", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse tunnel target: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("tunnel target %q is not an absolute http(s) URL", raw)
	}
	return u, nil
}
