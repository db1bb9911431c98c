// Package geo defines the coordinate primitives shared across the engine:
// points, bounding rectangles and the quantized tile grid used as the unit
// of fetch and cache granularity.
package geo

import (
	"fmt"
	"math"
	"sort"

	"github.com/golang/geo/s2"
)

// DefaultTileSize is the grid cell edge in degrees.
const DefaultTileSize = 0.1

// earthRadiusMeters is the mean earth radius used for distance and area.
const earthRadiusMeters = 6371010.0

// Point is a (longitude, latitude) pair in EPSG:4326 degrees.
type Point struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

func (p Point) String() string {
	return fmt.Sprintf("%.6f,%.6f", p.Lon, p.Lat)
}

func (p Point) s2LatLng() s2.LatLng {
	return s2.LatLngFromDegrees(p.Lat, p.Lon)
}

// Distance returns the great-circle distance between two points in meters.
func Distance(a, b Point) float64 {
	angle := a.s2LatLng().Distance(b.s2LatLng())
	return angle.Radians() * earthRadiusMeters
}

// BoundingRect is an axis-aligned rectangle. BottomLeft must not exceed
// TopRight on either axis; callers normalize before constructing.
type BoundingRect struct {
	BottomLeft Point `json:"bottomLeft"`
	TopRight   Point `json:"topRight"`
}

// NewBoundingRect validates the corner ordering invariant.
func NewBoundingRect(bottomLeft, topRight Point) (BoundingRect, error) {
	if bottomLeft.Lon > topRight.Lon || bottomLeft.Lat > topRight.Lat {
		return BoundingRect{}, fmt.Errorf(
			"bounding rect corners out of order: bottomLeft=%s topRight=%s",
			bottomLeft, topRight)
	}
	return BoundingRect{BottomLeft: bottomLeft, TopRight: topRight}, nil
}

func (r BoundingRect) Contains(p Point) bool {
	return p.Lon >= r.BottomLeft.Lon && p.Lon <= r.TopRight.Lon &&
		p.Lat >= r.BottomLeft.Lat && p.Lat <= r.TopRight.Lat
}

func (r BoundingRect) Center() Point {
	return Point{
		Lon: (r.BottomLeft.Lon + r.TopRight.Lon) / 2,
		Lat: (r.BottomLeft.Lat + r.TopRight.Lat) / 2,
	}
}

// Pad expands the rectangle around its center by the given factor. A factor
// of 1 returns the rectangle unchanged; factors below 1 are treated as 1.
func (r BoundingRect) Pad(factor float64) BoundingRect {
	if factor <= 1 {
		return r
	}
	c := r.Center()
	halfW := (r.TopRight.Lon - r.BottomLeft.Lon) / 2 * factor
	halfH := (r.TopRight.Lat - r.BottomLeft.Lat) / 2 * factor
	return BoundingRect{
		BottomLeft: Point{Lon: c.Lon - halfW, Lat: c.Lat - halfH},
		TopRight:   Point{Lon: c.Lon + halfW, Lat: c.Lat + halfH},
	}
}

// Tile is a quantized grid cell. Identity is derived purely from the
// coordinates: every point quantizes into exactly one tile per grid size.
type Tile struct {
	X int32 `json:"x"`
	Y int32 `json:"y"`
}

func (t Tile) String() string {
	return fmt.Sprintf("%d:%d", t.X, t.Y)
}

// TileAt returns the tile containing p for the given grid size in degrees.
func TileAt(p Point, size float64) Tile {
	if size <= 0 {
		size = DefaultTileSize
	}
	return Tile{
		X: int32(math.Floor(p.Lon / size)),
		Y: int32(math.Floor(p.Lat / size)),
	}
}

// Rect returns the geographic footprint of the tile.
func (t Tile) Rect(size float64) BoundingRect {
	if size <= 0 {
		size = DefaultTileSize
	}
	return BoundingRect{
		BottomLeft: Point{Lon: float64(t.X) * size, Lat: float64(t.Y) * size},
		TopRight:   Point{Lon: float64(t.X+1) * size, Lat: float64(t.Y+1) * size},
	}
}

// CoveringTiles returns every tile whose cell intersects r, sorted and
// unique. Coverage is complete: for any point inside r the containing tile
// is a member of the result. Cells touching only the max edge are included;
// an extra fetch is cheaper than a missed record.
func CoveringTiles(r BoundingRect, size float64) []Tile {
	if size <= 0 {
		size = DefaultTileSize
	}
	lo := TileAt(r.BottomLeft, size)
	hi := TileAt(r.TopRight, size)

	out := make([]Tile, 0, int(hi.X-lo.X+1)*int(hi.Y-lo.Y+1))
	for x := lo.X; x <= hi.X; x++ {
		for y := lo.Y; y <= hi.Y; y++ {
			out = append(out, Tile{X: x, Y: y})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].X != out[j].X {
			return out[i].X < out[j].X
		}
		return out[i].Y < out[j].Y
	})
	return out
}

// Location is a parking spot's footprint: a center point plus four optional
// corners describing the outline when it is known.
type Location struct {
	Center      Point  `json:"center"`
	TopLeft     *Point `json:"topLeft,omitempty"`
	TopRight    *Point `json:"topRight,omitempty"`
	BottomLeft  *Point `json:"bottomLeft,omitempty"`
	BottomRight *Point `json:"bottomRight,omitempty"`
}

func NewLocation(center Point) Location {
	return Location{Center: center}
}

// HasOutline reports whether all four corners are present.
func (l Location) HasOutline() bool {
	return l.TopLeft != nil && l.TopRight != nil && l.BottomLeft != nil && l.BottomRight != nil
}

// Area returns the footprint area in square meters, or 0 when the outline
// is unknown.
func (l Location) Area() float64 {
	if !l.HasOutline() {
		return 0
	}
	pts := []s2.Point{
		s2.PointFromLatLng(l.BottomLeft.s2LatLng()),
		s2.PointFromLatLng(l.BottomRight.s2LatLng()),
		s2.PointFromLatLng(l.TopRight.s2LatLng()),
		s2.PointFromLatLng(l.TopLeft.s2LatLng()),
	}
	loop := s2.LoopFromPoints(pts)
	area := loop.Area()
	// Loop area depends on vertex orientation; a parking footprint is always
	// the small side of the sphere.
	if area > 2*math.Pi {
		area = 4*math.Pi - area
	}
	return area * earthRadiusMeters * earthRadiusMeters
}
