package service

import (
	"errors"
	"fmt"
)

// Kind tags a pipeline failure so the HTTP boundary can map it to a response.
type Kind int

const (
	// KindUnknownChannel means the channel id is not in the registry.
	KindUnknownChannel Kind = iota + 1
	// KindBadTunnelTarget means the tunnel path did not decode to an http(s) URL.
	KindBadTunnelTarget
	// KindTunnelForbidden means the tunnel is disabled or the host is not allowed.
	KindTunnelForbidden
	// KindUpstreamUnreachable means the origin could not be reached at all.
	KindUpstreamUnreachable
	// KindUpstreamStatus means the origin answered with a non-2xx status.
	KindUpstreamStatus
	// KindRewriteFailure means a manifest could not be rewritten. It never
	// reaches the client; the original text is served instead.
	KindRewriteFailure
)

func (k Kind) String() string {
	switch k {
	case KindUnknownChannel:
		return "unknown_channel"
	case KindBadTunnelTarget:
		return "bad_tunnel_target"
	case KindTunnelForbidden:
		return "tunnel_forbidden"
	case KindUpstreamUnreachable:
		return "upstream_unreachable"
	case KindUpstreamStatus:
		return "upstream_status"
	case KindRewriteFailure:
		return "rewrite_failure"
	default:
		return "unknown"
	}
}

var (
	// ErrUnknownChannel is wrapped by KindUnknownChannel errors.
	ErrUnknownChannel = errors.New("channel not found")
	// ErrTunnelDisabled is wrapped when tunnel.disabled is set.
	ErrTunnelDisabled = errors.New("tunnel is disabled")
	// ErrTunnelHostNotAllowed is wrapped when a host is outside tunnel.allowed_hosts.
	ErrTunnelHostNotAllowed = errors.New("tunnel host not allowed")
)

// Error is a tagged pipeline failure.
type Error struct {
	Kind Kind
	// Status is the upstream status code for KindUpstreamStatus.
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Kind == KindUpstreamStatus {
		return fmt.Sprintf("%s %d: %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of err, or 0 for untagged errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
