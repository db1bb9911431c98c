// Package invalidation defines the tile invalidation event emitted when
// parking records change outside this process.
package invalidation

import (
	"fmt"
	"time"

	"github.com/cyrcle-app/parking-engine/internal/geo"
)

type Event struct {
	Version   int       `json:"version"`
	Op        string    `json:"op"`
	TS        time.Time `json:"ts"`
	ParkingID string    `json:"parking_id,omitempty"`
	Source    string    `json:"source,omitempty"`
	Tile      *TileRef  `json:"tile,omitempty"`
	BBox      *BBox     `json:"bbox,omitempty"`
}

type TileRef struct {
	X int32 `json:"x"`
	Y int32 `json:"y"`
}

func (t TileRef) Tile() geo.Tile { return geo.Tile{X: t.X, Y: t.Y} }

type BBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("version must be 1")
	}
	switch e.Op {
	case "insert", "update", "delete":
	default:
		return fmt.Errorf("op must be insert|update|delete")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	hasTile := e.Tile != nil
	hasBBox := e.BBox != nil
	if hasTile == hasBBox {
		return fmt.Errorf("exactly one of tile or bbox is required")
	}
	if hasBBox {
		bb := *e.BBox
		if !(bb.X1 >= -180 && bb.X1 <= 180 && bb.X2 >= -180 && bb.X2 <= 180) {
			return fmt.Errorf("bbox longitude out of range")
		}
		if !(bb.Y1 >= -90 && bb.Y1 <= 90 && bb.Y2 >= -90 && bb.Y2 <= 90) {
			return fmt.Errorf("bbox latitude out of range")
		}
		if !(bb.X2 > bb.X1 && bb.Y2 > bb.Y1) {
			return fmt.Errorf("bbox must satisfy x2>x1 and y2>y1")
		}
	}
	return nil
}

// Tiles derives the stale tile set for the event at the given grid size.
func (e Event) Tiles(tileSize float64) ([]geo.Tile, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	if e.Tile != nil {
		return []geo.Tile{e.Tile.Tile()}, nil
	}
	rect, err := geo.NewBoundingRect(
		geo.Point{Lon: e.BBox.X1, Lat: e.BBox.Y1},
		geo.Point{Lon: e.BBox.X2, Lat: e.BBox.Y2},
	)
	if err != nil {
		return nil, fmt.Errorf("bbox rect: %w", err)
	}
	return geo.CoveringTiles(rect, tileSize), nil
}
