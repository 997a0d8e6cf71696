package playlist

import (
	"errors"
	"strings"
)

// LineKind classifies one manifest line.
type LineKind int

const (
	// Blank is an empty or whitespace-only line.
	Blank LineKind = iota
	// Comment is a comment or tag line with no URI attribute.
	Comment
	// KeyAttribute is an EXT-X-KEY or EXT-X-SESSION-KEY tag carrying a URI.
	KeyAttribute
	// URIAttribute is any other tag carrying a URI (EXT-X-MEDIA, EXT-X-MAP, ...).
	URIAttribute
	// Reference is a segment or variant playlist URI line.
	Reference
)

func (k LineKind) String() string {
	switch k {
	case Blank:
		return "blank"
	case Comment:
		return "comment"
	case KeyAttribute:
		return "key"
	case URIAttribute:
		return "uri"
	case Reference:
		return "reference"
	default:
		return "unknown"
	}
}

var errUnterminatedQuote = errors.New("unterminated quoted attribute value")

// keyTags carry decryption key URIs.
var keyTags = map[string]bool{
	"#EXT-X-KEY":         true,
	"#EXT-X-SESSION-KEY": true,
}

// Classify returns the kind of a single line (without its terminator).
func Classify(line string) LineKind {
	trimmed := strings.TrimSpace(line)
	switch {
	case trimmed == "":
		return Blank
	case !strings.HasPrefix(trimmed, "#"):
		return Reference
	case !strings.HasPrefix(trimmed, "#EXT") || !hasURIAttribute(trimmed):
		return Comment
	case keyTags[tagName(trimmed)]:
		return KeyAttribute
	default:
		return URIAttribute
	}
}

// tagName returns the tag of a "#EXT..." line, e.g. "#EXT-X-KEY".
func tagName(line string) string {
	if i := strings.IndexByte(line, ':'); i >= 0 {
		return line[:i]
	}
	return line
}

// hasURIAttribute reports whether a tag line has a quoted URI attribute.
func hasURIAttribute(line string) bool {
	for i := 0; i < len(line); {
		j := strings.Index(line[i:], `URI="`)
		if j < 0 {
			return false
		}
		j += i
		if j > 0 && (line[j-1] == ':' || line[j-1] == ',') {
			return true
		}
		i = j + 1
	}
	return false
}

// nextLine splits the first line off text. eol is "\n", "\r\n" or "" for a
// final unterminated line.
func nextLine(text string) (line, eol string) {
	i := strings.IndexByte(text, '\n')
	if i < 0 {
		return text, ""
	}
	if i > 0 && text[i-1] == '\r' {
		return text[:i-1], "\r\n"
	}
	return text[:i], "\n"
}

// rewriteURIAttribute walks the attribute list of a tag line and replaces the
// value of every quoted URI attribute with fn(value). Everything else,
// including attribute order and spacing, is copied verbatim.
func rewriteURIAttribute(line string, fn func(string) (string, error)) (string, error) {
	colon := strings.IndexByte(line, ':')
	if colon < 0 {
		return line, nil
	}

	var b strings.Builder
	b.Grow(len(line) + 64)
	b.WriteString(line[:colon+1])

	i := colon + 1
	for i < len(line) {
		eq := strings.IndexByte(line[i:], '=')
		if eq < 0 {
			b.WriteString(line[i:])
			break
		}
		name := strings.TrimSpace(line[i : i+eq])
		b.WriteString(line[i : i+eq+1])
		i += eq + 1

		if i < len(line) && line[i] == '"' {
			end := strings.IndexByte(line[i+1:], '"')
			if end < 0 {
				return "", errUnterminatedQuote
			}
			val := line[i+1 : i+1+end]
			if name == "URI" {
				rewritten, err := fn(val)
				if err != nil {
					return "", err
				}
				val = rewritten
			}
			b.WriteByte('"')
			b.WriteString(val)
			b.WriteByte('"')
			i += end + 2
		} else {
			comma := strings.IndexByte(line[i:], ',')
			if comma < 0 {
				b.WriteString(line[i:])
				break
			}
			b.WriteString(line[i : i+comma])
			i += comma
		}

		if i < len(line) && line[i] == ',' {
			b.WriteByte(',')
			i++
		}
	}
	return b.String(), nil
}
