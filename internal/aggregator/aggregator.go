// Package aggregator maintains the set of parking records visible in the
// current viewport. It quantizes the viewport into tiles, resolves each tile
// cache-first with a bounded worker pool, and merges the results by uid so a
// record fetched through two overlapping viewports appears once.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/cyrcle-app/parking-engine/internal/core/observability"
	"github.com/cyrcle-app/parking-engine/internal/geo"
	"github.com/cyrcle-app/parking-engine/internal/parking"
)

// TileSource serves the full record set of one tile.
type TileSource interface {
	ForTile(ctx context.Context, tile geo.Tile) ([]parking.Parking, error)
}

// TileCache is a TileSource that also accepts write-backs and prunes.
type TileCache interface {
	TileSource
	PutTile(ctx context.Context, tile geo.Tile, records []parking.Parking) error
	DeleteTiles(ctx context.Context, tiles []geo.Tile) error
}

type Config struct {
	TileSize        float64
	PadFactor       float64
	MinZoomForFetch float64
	MaxWorkers      int
	QueueSize       int
	ResolvedSize    int
}

type Aggregator struct {
	logger *slog.Logger

	online  TileSource
	offline TileCache

	tileSize        float64
	padFactor       float64
	minZoomForFetch float64
	maxWorkers      int
	queueSize       int

	// resolved remembers tiles already merged into the working set so a
	// panned-back viewport does not refetch them.
	resolved *lru.Cache[geo.Tile, time.Time]

	mu    sync.Mutex
	byUID map[string]parking.Parking
	order []string // first-seen uid order, backs the stable snapshot
}

func New(online TileSource, offline TileCache, logger *slog.Logger, cfg Config) (*Aggregator, error) {
	if cfg.TileSize <= 0 {
		cfg.TileSize = geo.DefaultTileSize
	}
	if cfg.PadFactor < 1 {
		cfg.PadFactor = 1
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 8
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.ResolvedSize <= 0 {
		cfg.ResolvedSize = 4096
	}
	resolved, err := lru.New[geo.Tile, time.Time](cfg.ResolvedSize)
	if err != nil {
		return nil, fmt.Errorf("resolved tile set: %w", err)
	}
	return &Aggregator{
		logger:          logger,
		online:          online,
		offline:         offline,
		tileSize:        cfg.TileSize,
		padFactor:       cfg.PadFactor,
		minZoomForFetch: cfg.MinZoomForFetch,
		maxWorkers:      cfg.MaxWorkers,
		queueSize:       cfg.QueueSize,
		resolved:        resolved,
		byUID:           make(map[string]parking.Parking),
	}, nil
}

type tileResult struct {
	tile    geo.Tile
	records []parking.Parking
	err     error
}

// Resolve merges every tile covering the padded viewport into the working
// set. Tiles that fail keep the rest of the viewport usable: their errors
// are joined and returned after all successes are merged, and the failed
// tiles stay unresolved so the next Resolve retries them.
func (a *Aggregator) Resolve(ctx context.Context, viewport geo.BoundingRect, zoom float64) error {
	start := time.Now()

	// zoomed far out the viewport covers too many tiles to be worth fetching
	if zoom < a.minZoomForFetch {
		observability.IncResolveTiles("skipped_zoom", 1)
		return nil
	}

	tiles := geo.CoveringTiles(viewport.Pad(a.padFactor), a.tileSize)
	pending := make([]geo.Tile, 0, len(tiles))
	for _, t := range tiles {
		if _, ok := a.resolved.Get(t); !ok {
			pending = append(pending, t)
		}
	}
	observability.IncResolveTiles("already_resolved", len(tiles)-len(pending))
	if len(pending) == 0 {
		observability.ObserveResolve(time.Since(start).Seconds())
		return nil
	}

	jobs := make(chan geo.Tile, a.queueSize)
	results := make(chan tileResult, len(pending))

	var wg sync.WaitGroup
	wg.Add(a.maxWorkers)
	for range a.maxWorkers {
		go func() {
			defer wg.Done()
			for tile := range jobs {
				select {
				case <-ctx.Done():
					return
				default:
				}
				res := a.resolveTile(ctx, tile)
				select {
				case results <- res:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	for _, t := range pending {
		select {
		case jobs <- t:
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return fmt.Errorf("viewport resolve: %w", ctx.Err())
		}
	}
	close(jobs)
	wg.Wait()
	close(results)

	var errs []error
	merged := 0
	for res := range results {
		if res.err != nil {
			errs = append(errs, fmt.Errorf("tile %s: %w", res.tile, res.err))
			continue
		}
		a.merge(res.records)
		a.resolved.Add(res.tile, time.Now())
		merged++
	}
	observability.IncResolveTiles("merged", merged)
	observability.IncResolveTiles("failed", len(errs))

	observability.ObserveResolve(time.Since(start).Seconds())
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("viewport resolve partial failure",
			"tiles", len(pending), "merged", merged, "failed", len(errs))
		return fmt.Errorf("viewport resolve: %w", err)
	}
	a.logger.Debug("viewport resolved",
		"tiles", len(tiles), "fetched", merged, "dur", time.Since(start).String())
	return nil
}

// resolveTile is cache-first: a missing tile falls back to the online store
// and writes the result back so the next session starts warm.
func (a *Aggregator) resolveTile(ctx context.Context, tile geo.Tile) tileResult {
	records, err := a.offline.ForTile(ctx, tile)
	if err == nil {
		return tileResult{tile: tile, records: records}
	}
	if !errors.Is(err, parking.ErrNotFound) {
		a.logger.Warn("offline tile read failed, falling back to online",
			"tile", tile.String(), "err", err)
	}

	records, err = a.online.ForTile(ctx, tile)
	if err != nil {
		return tileResult{tile: tile, err: err}
	}
	if werr := a.offline.PutTile(ctx, tile, records); werr != nil {
		// write-back is best effort, the fetched records are still good
		a.logger.Warn("tile write-back failed", "tile", tile.String(), "err", werr)
	}
	return tileResult{tile: tile, records: records}
}

func (a *Aggregator) merge(records []parking.Parking) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range records {
		if _, ok := a.byUID[p.UID]; !ok {
			a.order = append(a.order, p.UID)
		}
		a.byUID[p.UID] = p
	}
}

// Upsert folds a local mutation into the working set without a refetch.
func (a *Aggregator) Upsert(p parking.Parking) {
	a.merge([]parking.Parking{p})
}

// Remove drops one record from the working set.
func (a *Aggregator) Remove(uid string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.byUID[uid]; !ok {
		return
	}
	delete(a.byUID, uid)
	for i, id := range a.order {
		if id == uid {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
}

// Invalidate forgets the given tiles and the records that live in them, so
// the next Resolve refetches fresh copies.
func (a *Aggregator) Invalidate(tiles []geo.Tile) {
	if len(tiles) == 0 {
		return
	}
	stale := make(map[geo.Tile]struct{}, len(tiles))
	for _, t := range tiles {
		stale[t] = struct{}{}
		a.resolved.Remove(t)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	kept := a.order[:0]
	for _, uid := range a.order {
		p := a.byUID[uid]
		if _, gone := stale[p.Tile(a.tileSize)]; gone {
			delete(a.byUID, uid)
			continue
		}
		kept = append(kept, uid)
	}
	a.order = kept
}

// Reset drops the whole working set and the resolved-tile memory.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	a.byUID = make(map[string]parking.Parking)
	a.order = nil
	a.mu.Unlock()
	a.resolved.Purge()
}

// Visible returns a snapshot of the working set in first-seen order. The
// order is stable across overlapping viewports: re-resolving a tile never
// moves a record that was already visible.
func (a *Aggregator) Visible() []parking.Parking {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]parking.Parking, 0, len(a.order))
	for _, uid := range a.order {
		out = append(out, a.byUID[uid])
	}
	return out
}

// Get returns one visible record by uid.
func (a *Aggregator) Get(uid string) (parking.Parking, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.byUID[uid]
	return p, ok
}
