// Package keys builds the Redis key namespace for the offline parking cache.
package keys

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"

	"github.com/cyrcle-app/parking-engine/internal/geo"
)

// TileKey addresses the cached record set of one grid tile.
func TileKey(t geo.Tile) string {
	return fmt.Sprintf("tile:%d:%d", t.X, t.Y)
}

// ParkingKey addresses one cached parking record by uid.
func ParkingKey(uid string) string {
	return "parking:" + Sanitize(strings.TrimSpace(uid))
}

// Fingerprint returns a stable 16-hex digest of s. Used for response ETags
// and for collapsing free-form filter state into a loggable token.
func Fingerprint(s string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(s))
}

// Sanitize maps arbitrary text into the safe key alphabet. Whitespace runs
// become a single underscore, anything else outside [A-Za-z0-9:_-] becomes
// a dash, and repeated separators collapse.
func Sanitize(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		var out rune
		switch {
		case isASCIIWhitespace(r):
			out = '_'
		case isAlphaNum(r) || r == ':' || r == '_' || r == '-':
			out = r
		default:
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isASCIIWhitespace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f'
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		unicode.IsDigit(r)
}
