// Package channel holds the immutable channel-to-origin table.
package channel

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"hls-proxy-go/internal/config"
)

// Channel is one live stream origin. Values are never mutated after the
// registry is built.
type Channel struct {
	ID     string
	Origin *url.URL

	base string // origin without trailing slash
}

// Base returns the origin base URL without a trailing slash.
func (c Channel) Base() string {
	return c.base
}

// IsSMIL reports whether the origin is a Wowza SMIL source, whose default
// entry point is playlist.m3u8 rather than index.m3u8.
func (c Channel) IsSMIL() bool {
	return strings.Contains(strings.ToLower(c.Origin.Path), ".smil")
}

// Registry maps channel ids to origins. It is read-only after construction
// and safe for concurrent use.
type Registry struct {
	channels map[string]Channel
}

// NewRegistry builds a Registry from the [channels] config table.
func NewRegistry(cfg *config.Config) (*Registry, error) {
	r := &Registry{channels: make(map[string]Channel, len(cfg.Channels))}
	for id, raw := range cfg.Channels {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("channel %s: parse origin: %w", id, err)
		}
		r.channels[id] = Channel{
			ID:     id,
			Origin: u,
			base:   strings.TrimSuffix(u.String(), "/"),
		}
	}
	return r, nil
}

// Lookup returns the channel registered under id.
func (r *Registry) Lookup(id string) (Channel, bool) {
	ch, ok := r.channels[id]
	return ch, ok
}

// Len returns the number of registered channels.
func (r *Registry) Len() int {
	return len(r.channels)
}

// IDs returns the registered channel ids in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.channels))
	for id := range r.channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
