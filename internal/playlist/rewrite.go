// Package playlist rewrites HLS manifests so that every reference they
// contain resolves back through the proxy.
//
// Each line is classified first (see Classify) and then rewritten by kind:
//
//   - Reference lines are resolved against the manifest's final fetch URL.
//     References under the channel's base URL become "{proxyBase}/{rest}";
//     anything else (a redirect edge, a foreign CDN) becomes a tunnel
//     reference "{proxyBase}/__proxy__/{escaped absolute URL}".
//   - URI attributes of EXT-X-MEDIA, EXT-X-MAP and similar tags follow the
//     same rule as reference lines.
//   - URI attributes of EXT-X-KEY and EXT-X-SESSION-KEY keep only the key's
//     file name when absolute, or are prefixed directly when relative.
//   - Blank lines and all other comment and tag lines are copied verbatim.
//
// References that already point at proxyBase are left alone, so rewriting an
// already rewritten manifest is a no-op.
package playlist

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"unicode/utf8"
)

// TunnelMarker is the path segment that introduces a tunnel reference.
const TunnelMarker = "__proxy__"

// ErrInvalidEncoding is returned for manifests that are not valid UTF-8.
var ErrInvalidEncoding = errors.New("playlist is not valid UTF-8")

// Params describes where a manifest came from and where it is served.
type Params struct {
	// ProxyBase is "{requestOrigin}/{channelID}".
	ProxyBase string
	// ChannelBase is the channel's configured origin base URL.
	ChannelBase string
	// FinalURL is the URL the manifest was fetched from, after redirects.
	FinalURL *url.URL
}

type rewriter struct {
	proxyBase   string
	channelBase string
	final       *url.URL
}

// Rewrite returns text with every reference replaced by a proxy-relative one.
// Line terminators (LF or CRLF) are preserved. On error the caller should
// serve the original text.
func Rewrite(text string, p Params) (string, error) {
	if !utf8.ValidString(text) {
		return "", ErrInvalidEncoding
	}
	if p.FinalURL == nil || !p.FinalURL.IsAbs() {
		return "", fmt.Errorf("final URL %v is not absolute", p.FinalURL)
	}

	rw := &rewriter{
		proxyBase:   strings.TrimSuffix(p.ProxyBase, "/"),
		channelBase: strings.TrimSuffix(p.ChannelBase, "/"),
		final:       p.FinalURL,
	}

	var b strings.Builder
	b.Grow(len(text) + len(text)/2)

	for n := 1; len(text) > 0; n++ {
		line, eol := nextLine(text)
		text = text[len(line)+len(eol):]

		out, err := rw.line(line)
		if err != nil {
			return "", fmt.Errorf("line %d: %w", n, err)
		}
		b.WriteString(out)
		b.WriteString(eol)
	}
	return b.String(), nil
}

func (rw *rewriter) line(line string) (string, error) {
	switch Classify(line) {
	case KeyAttribute:
		return rewriteURIAttribute(line, rw.key)
	case URIAttribute:
		return rewriteURIAttribute(line, rw.reference)
	case Reference:
		return rw.reference(strings.TrimSpace(line))
	default:
		return line, nil
	}
}

// proxied reports whether ref already points through this proxy.
func (rw *rewriter) proxied(ref string) bool {
	return strings.HasPrefix(ref, rw.proxyBase+"/")
}

func (rw *rewriter) reference(ref string) (string, error) {
	if ref == "" || rw.proxied(ref) {
		return ref, nil
	}
	u, err := rw.final.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", ref, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ref, nil
	}

	abs := u.String()
	if rest, ok := strings.CutPrefix(abs, rw.channelBase+"/"); ok {
		return rw.proxyBase + "/" + rest, nil
	}
	return rw.proxyBase + "/" + TunnelMarker + "/" + url.QueryEscape(abs), nil
}

func (rw *rewriter) key(ref string) (string, error) {
	if ref == "" || rw.proxied(ref) {
		return ref, nil
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse key URI %q: %w", ref, err)
	}

	switch u.Scheme {
	case "":
		return rw.proxyBase + "/" + strings.TrimLeft(ref, "/"), nil
	case "http", "https":
		name := path.Base(u.EscapedPath())
		if name == "/" || name == "." {
			return "", fmt.Errorf("key URI %q has no file name", ref)
		}
		out := rw.proxyBase + "/" + name
		if u.RawQuery != "" {
			out += "?" + u.RawQuery
		}
		return out, nil
	default:
		// skd://, data: and other DRM schemes are not fetched over HTTP.
		return ref, nil
	}
}
