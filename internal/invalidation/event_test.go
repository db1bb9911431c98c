package invalidation

import (
	"testing"
	"time"

	"github.com/cyrcle-app/parking-engine/internal/geo"
)

func mustTS() time.Time { return time.Date(2026, 8, 31, 12, 30, 45, 0, time.UTC) }

func TestEvent_Validate_TileAndBBoxMutualExclusion(t *testing.T) {
	ev := Event{
		Version: 1, Op: "update", TS: mustTS(),
		Tile: &TileRef{X: 65, Y: 465},
		BBox: &BBox{X1: 6.5, Y1: 46.5, X2: 6.6, Y2: 46.6},
	}
	if err := ev.Validate(); err == nil {
		t.Fatalf("expected error when both tile and bbox are set")
	}
	ev.Tile, ev.BBox = nil, nil
	if err := ev.Validate(); err == nil {
		t.Fatalf("expected error when neither tile nor bbox is set")
	}
}

func TestEvent_Validate_TileHappyPath(t *testing.T) {
	ev := Event{
		Version: 1, Op: "delete", TS: mustTS(),
		ParkingID: "p1", Tile: &TileRef{X: 65, Y: 465},
	}
	if err := ev.Validate(); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
}

func TestEvent_Validate_RejectsBadOpAndVersion(t *testing.T) {
	ev := Event{Version: 1, Op: "upsert", TS: mustTS(), Tile: &TileRef{X: 1, Y: 2}}
	if err := ev.Validate(); err == nil {
		t.Fatalf("expected error for unknown op")
	}
	ev.Op = "update"
	ev.Version = 2
	if err := ev.Validate(); err == nil {
		t.Fatalf("expected error for unsupported version")
	}
}

func TestEvent_Validate_RejectsBadBBox(t *testing.T) {
	ev := Event{
		Version: 1, Op: "update", TS: mustTS(),
		BBox: &BBox{X1: 6.5, Y1: 46.5, X2: 6.5, Y2: 46.6},
	}
	if err := ev.Validate(); err == nil {
		t.Fatalf("expected error for non-increasing bbox")
	}
}

func TestEvent_Tiles(t *testing.T) {
	ev := Event{Version: 1, Op: "update", TS: mustTS(), Tile: &TileRef{X: 65, Y: 465}}
	tiles, err := ev.Tiles(0.1)
	if err != nil {
		t.Fatalf("Tiles: %v", err)
	}
	if len(tiles) != 1 || tiles[0] != (geo.Tile{X: 65, Y: 465}) {
		t.Fatalf("tiles=%v", tiles)
	}

	ev = Event{
		Version: 1, Op: "update", TS: mustTS(),
		BBox: &BBox{X1: 6.52, Y1: 46.52, X2: 6.68, Y2: 46.58},
	}
	tiles, err = ev.Tiles(0.1)
	if err != nil {
		t.Fatalf("Tiles bbox: %v", err)
	}
	if len(tiles) != 2 {
		t.Fatalf("bbox tiles=%v want 2", tiles)
	}
}
