package aggregator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/cyrcle-app/parking-engine/internal/geo"
	"github.com/cyrcle-app/parking-engine/internal/parking"
)

// fakeSource serves tiles from a map and counts lookups per tile.
type fakeSource struct {
	mu    sync.Mutex
	tiles map[geo.Tile][]parking.Parking
	fail  map[geo.Tile]error
	calls map[geo.Tile]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		tiles: make(map[geo.Tile][]parking.Parking),
		fail:  make(map[geo.Tile]error),
		calls: make(map[geo.Tile]int),
	}
}

func (f *fakeSource) ForTile(_ context.Context, t geo.Tile) ([]parking.Parking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[t]++
	if err, ok := f.fail[t]; ok {
		return nil, err
	}
	return f.tiles[t], nil
}

func (f *fakeSource) count(t geo.Tile) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[t]
}

// fakeCache is a fakeSource that distinguishes never-put tiles (NotFound)
// and records write-backs.
type fakeCache struct {
	mu   sync.Mutex
	data map[geo.Tile][]parking.Parking
	puts map[geo.Tile]int
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		data: make(map[geo.Tile][]parking.Parking),
		puts: make(map[geo.Tile]int),
	}
}

func (f *fakeCache) ForTile(_ context.Context, t geo.Tile) ([]parking.Parking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	records, ok := f.data[t]
	if !ok {
		return nil, fmt.Errorf("tile %s: %w", t, parking.ErrNotFound)
	}
	return records, nil
}

func (f *fakeCache) PutTile(_ context.Context, t geo.Tile, records []parking.Parking) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[t] = records
	f.puts[t]++
	return nil
}

func (f *fakeCache) DeleteTiles(_ context.Context, tiles []geo.Tile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range tiles {
		delete(f.data, t)
	}
	return nil
}

func spot(uid string, lon, lat float64) parking.Parking {
	return parking.Parking{
		UID:        uid,
		Location:   geo.NewLocation(geo.Point{Lon: lon, Lat: lat}),
		Capacity:   parking.CapacityMedium,
		RackType:   parking.RackURack,
		Protection: parking.ProtectionCovered,
	}
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newAgg(t *testing.T, online TileSource, offline TileCache, cfg Config) *Aggregator {
	t.Helper()
	if cfg.TileSize == 0 {
		cfg.TileSize = 0.1
	}
	a, err := New(online, offline, discard(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

// viewport inside tile 65:465 only
func singleTileViewport(t *testing.T) geo.BoundingRect {
	t.Helper()
	r, err := geo.NewBoundingRect(geo.Point{Lon: 6.52, Lat: 46.52}, geo.Point{Lon: 6.58, Lat: 46.58})
	if err != nil {
		t.Fatalf("viewport: %v", err)
	}
	return r
}

func TestResolveFetchesOnlineAndWritesBack(t *testing.T) {
	online := newFakeSource()
	offline := newFakeCache()
	tile := geo.Tile{X: 65, Y: 465}
	online.tiles[tile] = []parking.Parking{spot("p1", 6.55, 46.55)}

	a := newAgg(t, online, offline, Config{MinZoomForFetch: 7})
	if err := a.Resolve(context.Background(), singleTileViewport(t), 15); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	got := a.Visible()
	if len(got) != 1 || got[0].UID != "p1" {
		t.Fatalf("Visible got %+v", got)
	}
	if offline.puts[tile] != 1 {
		t.Fatalf("write-back count=%d want 1", offline.puts[tile])
	}
}

func TestResolvePrefersCache(t *testing.T) {
	online := newFakeSource()
	offline := newFakeCache()
	tile := geo.Tile{X: 65, Y: 465}
	offline.data[tile] = []parking.Parking{spot("p1", 6.55, 46.55)}

	a := newAgg(t, online, offline, Config{})
	if err := a.Resolve(context.Background(), singleTileViewport(t), 15); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if online.count(tile) != 0 {
		t.Fatalf("online must not be hit on a cached tile, calls=%d", online.count(tile))
	}
	if len(a.Visible()) != 1 {
		t.Fatalf("Visible=%d want 1", len(a.Visible()))
	}
}

func TestResolveSkipsResolvedTiles(t *testing.T) {
	online := newFakeSource()
	offline := newFakeCache()
	tile := geo.Tile{X: 65, Y: 465}
	online.tiles[tile] = []parking.Parking{spot("p1", 6.55, 46.55)}

	a := newAgg(t, online, offline, Config{})
	ctx := context.Background()
	vp := singleTileViewport(t)
	if err := a.Resolve(ctx, vp, 15); err != nil {
		t.Fatalf("first Resolve: %v", err)
	}
	if err := a.Resolve(ctx, vp, 15); err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if online.count(tile) != 1 {
		t.Fatalf("resolved tile refetched, calls=%d", online.count(tile))
	}
}

func TestResolveSkipsBelowMinZoom(t *testing.T) {
	online := newFakeSource()
	offline := newFakeCache()
	tile := geo.Tile{X: 65, Y: 465}
	online.tiles[tile] = []parking.Parking{spot("p1", 6.55, 46.55)}

	a := newAgg(t, online, offline, Config{MinZoomForFetch: 10})
	if err := a.Resolve(context.Background(), singleTileViewport(t), 5); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(a.Visible()) != 0 {
		t.Fatal("zoomed-out viewport must not fetch")
	}
	if online.count(tile) != 0 {
		t.Fatalf("online hit despite zoom gate, calls=%d", online.count(tile))
	}
}

func TestResolvePartialFailureKeepsSuccesses(t *testing.T) {
	online := newFakeSource()
	offline := newFakeCache()
	good := geo.Tile{X: 65, Y: 465}
	bad := geo.Tile{X: 66, Y: 465}
	online.tiles[good] = []parking.Parking{spot("p1", 6.55, 46.55)}
	boom := errors.New("upstream down")
	online.fail[bad] = boom

	// viewport spanning both tiles
	vp, err := geo.NewBoundingRect(geo.Point{Lon: 6.52, Lat: 46.52}, geo.Point{Lon: 6.68, Lat: 46.58})
	if err != nil {
		t.Fatalf("viewport: %v", err)
	}

	a := newAgg(t, online, offline, Config{})
	rerr := a.Resolve(context.Background(), vp, 15)
	if rerr == nil {
		t.Fatal("expected partial failure error")
	}
	if !errors.Is(rerr, boom) {
		t.Fatalf("error must wrap the tile failure, got %v", rerr)
	}
	if got := a.Visible(); len(got) != 1 || got[0].UID != "p1" {
		t.Fatalf("successes must survive partial failure, got %+v", got)
	}

	// the failed tile stays unresolved and is retried next time
	online.mu.Lock()
	delete(online.fail, bad)
	online.tiles[bad] = []parking.Parking{spot("p2", 6.65, 46.55)}
	online.mu.Unlock()
	if err := a.Resolve(context.Background(), vp, 15); err != nil {
		t.Fatalf("retry Resolve: %v", err)
	}
	if len(a.Visible()) != 2 {
		t.Fatalf("Visible=%d want 2 after retry", len(a.Visible()))
	}
}

func TestMergeDeduplicatesAndKeepsOrder(t *testing.T) {
	online := newFakeSource()
	offline := newFakeCache()
	a := newAgg(t, online, offline, Config{})

	a.Upsert(spot("p1", 6.55, 46.55))
	a.Upsert(spot("p2", 6.56, 46.55))
	updated := spot("p1", 6.55, 46.55)
	updated.Name = "renamed"
	a.Upsert(updated)

	got := a.Visible()
	if len(got) != 2 {
		t.Fatalf("Visible=%d want 2", len(got))
	}
	if got[0].UID != "p1" || got[0].Name != "renamed" || got[1].UID != "p2" {
		t.Fatalf("order or dedup broken: %+v", got)
	}
}

func TestRemoveAndReset(t *testing.T) {
	a := newAgg(t, newFakeSource(), newFakeCache(), Config{})
	a.Upsert(spot("p1", 6.55, 46.55))
	a.Upsert(spot("p2", 6.56, 46.55))

	a.Remove("p1")
	if got := a.Visible(); len(got) != 1 || got[0].UID != "p2" {
		t.Fatalf("after Remove: %+v", got)
	}
	if _, ok := a.Get("p1"); ok {
		t.Fatal("removed record still visible")
	}

	a.Reset()
	if len(a.Visible()) != 0 {
		t.Fatal("Reset must clear the working set")
	}
}

func TestInvalidateDropsTileRecordsAndRefetches(t *testing.T) {
	online := newFakeSource()
	offline := newFakeCache()
	tile := geo.Tile{X: 65, Y: 465}
	online.tiles[tile] = []parking.Parking{spot("p1", 6.55, 46.55)}

	a := newAgg(t, online, offline, Config{})
	ctx := context.Background()
	vp := singleTileViewport(t)
	if err := a.Resolve(ctx, vp, 15); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	online.mu.Lock()
	online.tiles[tile] = []parking.Parking{spot("p1", 6.55, 46.55), spot("p9", 6.54, 46.54)}
	online.mu.Unlock()
	_ = offline.DeleteTiles(ctx, []geo.Tile{tile})
	a.Invalidate([]geo.Tile{tile})

	if len(a.Visible()) != 0 {
		t.Fatal("invalidated tile records must be dropped")
	}
	if err := a.Resolve(ctx, vp, 15); err != nil {
		t.Fatalf("re-Resolve: %v", err)
	}
	if len(a.Visible()) != 2 {
		t.Fatalf("Visible=%d want 2 after invalidation refetch", len(a.Visible()))
	}
}
