package keys

import (
	"regexp"
	"testing"
	"unicode"

	"github.com/cyrcle-app/parking-engine/internal/geo"
)

func TestTileKey_IdentityFromCoordinates(t *testing.T) {
	a := TileKey(geo.TileAt(geo.Point{Lon: 6.55, Lat: 46.55}, 0.1))
	b := TileKey(geo.TileAt(geo.Point{Lon: 6.51, Lat: 46.59}, 0.1))
	if a != b {
		t.Fatalf("same cell, different keys: %s vs %s", a, b)
	}
	if a != "tile:65:465" {
		t.Fatalf("key=%s want tile:65:465", a)
	}
	neg := TileKey(geo.Tile{X: -1, Y: -5})
	if neg != "tile:-1:-5" {
		t.Fatalf("negative key=%s", neg)
	}
}

func TestParkingKey_Sanitized(t *testing.T) {
	k := ParkingKey("  spot one/été ")
	for _, r := range k {
		if r > unicode.MaxASCII {
			t.Fatalf("non-ASCII rune leaked into key: %q", k)
		}
	}
	if !regexp.MustCompile(`^parking:[A-Za-z0-9:_\-]+$`).MatchString(k) {
		t.Fatalf("key contains disallowed characters: %s", k)
	}
}

func TestFingerprint_StableAndDistinct(t *testing.T) {
	a := Fingerprint("capacity=LARGE;cctv=1")
	b := Fingerprint("capacity=LARGE;cctv=1")
	c := Fingerprint("capacity=SMALL;cctv=1")
	if a != b {
		t.Fatal("fingerprint must be deterministic")
	}
	if a == c {
		t.Fatal("different inputs must fingerprint differently")
	}
	if !regexp.MustCompile(`^[0-9a-f]{16}$`).MatchString(a) {
		t.Fatalf("fingerprint format: %s", a)
	}
}
