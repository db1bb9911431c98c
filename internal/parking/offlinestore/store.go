// Package offlinestore implements the parking store contract on a local
// Redis cache. It is a read cache populated by explicit tile downloads and
// by the aggregator's write-back path; every mutating operation fails with
// parking.ErrUnsupported.
package offlinestore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cyrcle-app/parking-engine/internal/cache/keys"
	"github.com/cyrcle-app/parking-engine/internal/cache/redisstore"
	"github.com/cyrcle-app/parking-engine/internal/core/observability"
	"github.com/cyrcle-app/parking-engine/internal/geo"
	"github.com/cyrcle-app/parking-engine/internal/parking"
)

const backendLabel = "offline"

type Store struct {
	cli        *redisstore.Client
	tileSize   float64
	ttlTile    time.Duration
	ttlParking time.Duration
	opTimeout  time.Duration
}

var _ parking.Store = (*Store)(nil)

type Options struct {
	TileSize   float64
	TTLTile    time.Duration
	TTLParking time.Duration
	OpTimeout  time.Duration
}

func New(cli *redisstore.Client, opts Options) *Store {
	if opts.TileSize <= 0 {
		opts.TileSize = geo.DefaultTileSize
	}
	return &Store{
		cli:        cli,
		tileSize:   opts.TileSize,
		ttlTile:    opts.TTLTile,
		ttlParking: opts.TTLParking,
		opTimeout:  opts.OpTimeout,
	}
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// NewUID always fails: an offline cache cannot mint globally unique ids.
func (s *Store) NewUID() (string, error) {
	return "", fmt.Errorf("%w: new uid on offline store", parking.ErrUnsupported)
}

func (s *Store) OnSignIn(_ context.Context) error { return nil }

func (s *Store) GetByID(ctx context.Context, id string) (parking.Parking, error) {
	start := time.Now()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	key := keys.ParkingKey(id)
	raw, err := s.cli.MGet(ctx, []string{key})
	observability.ObserveStoreOp(backendLabel, "get_by_id", err, time.Since(start).Seconds())
	if err != nil {
		return parking.Parking{}, fmt.Errorf("offline get %q: %w", id, err)
	}
	body, ok := raw[key]
	if !ok {
		return parking.Parking{}, fmt.Errorf("offline get %q: %w", id, parking.ErrNotFound)
	}
	var p parking.Parking
	if err := json.Unmarshal(body, &p); err != nil {
		return parking.Parking{}, fmt.Errorf("offline decode %q: %w", id, err)
	}
	return p, nil
}

// ForTile returns parking.ErrNotFound when the tile was never downloaded,
// so callers can distinguish "no cached copy" from "cached and empty".
func (s *Store) ForTile(ctx context.Context, tile geo.Tile) ([]parking.Parking, error) {
	start := time.Now()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	key := keys.TileKey(tile)
	raw, err := s.cli.MGet(ctx, []string{key})
	observability.ObserveStoreOp(backendLabel, "for_tile", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("offline tile %s: %w", tile, err)
	}
	body, ok := raw[key]
	if !ok {
		observability.AddTileCacheMisses(1)
		return nil, fmt.Errorf("offline tile %s: %w", tile, parking.ErrNotFound)
	}
	observability.AddTileCacheHits(1)

	var out []parking.Parking
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("offline decode tile %s: %w", tile, err)
	}
	return out, nil
}

func (s *Store) ByIDs(ctx context.Context, ids []string) ([]parking.Parking, error) {
	start := time.Now()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if len(ids) == 0 {
		return nil, nil
	}
	ks := make([]string, len(ids))
	for i, id := range ids {
		ks[i] = keys.ParkingKey(id)
	}
	raw, err := s.cli.MGet(ctx, ks)
	observability.ObserveStoreOp(backendLabel, "by_ids", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("offline batch get %d ids: %w", len(ids), err)
	}

	out := make([]parking.Parking, 0, len(raw))
	for _, k := range ks {
		body, ok := raw[k]
		if !ok {
			continue // missing ids are silently omitted
		}
		var p parking.Parking
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("offline decode %q: %w", k, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Store) Add(_ context.Context, _ parking.Parking) error {
	return fmt.Errorf("%w: add parking on offline store", parking.ErrUnsupported)
}

func (s *Store) Update(_ context.Context, _ parking.Parking) error {
	return fmt.Errorf("%w: update parking on offline store", parking.ErrUnsupported)
}

func (s *Store) DeleteByID(ctx context.Context, id string) error {
	start := time.Now()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err := s.cli.Del(ctx, keys.ParkingKey(id))
	observability.ObserveStoreOp(backendLabel, "delete_by_id", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("offline delete %q: %w", id, err)
	}
	return nil
}

func (s *Store) AddReport(_ context.Context, _ parking.Report) (parking.Report, error) {
	return parking.Report{}, fmt.Errorf("%w: add report on offline store", parking.ErrUnsupported)
}

func (s *Store) AddImageReport(_ context.Context, _ parking.ImageReport, _ string) (parking.ImageReport, error) {
	return parking.ImageReport{}, fmt.Errorf("%w: add image report on offline store", parking.ErrUnsupported)
}

func (s *Store) ReportsForParking(_ context.Context, _ string) ([]parking.Report, error) {
	return nil, fmt.Errorf("%w: reports lookup on offline store", parking.ErrUnsupported)
}

func (s *Store) ReportsForImage(_ context.Context, _, _ string) ([]parking.ImageReport, error) {
	return nil, fmt.Errorf("%w: image reports lookup on offline store", parking.ErrUnsupported)
}

// PutTile caches the full record set of one tile, plus a per-uid entry for
// id lookups. An empty slice is cached too: it proves the tile was fetched.
func (s *Store) PutTile(ctx context.Context, tile geo.Tile, records []parking.Parking) error {
	return s.putTile(ctx, tile, records, s.ttlTile, s.ttlParking)
}

func (s *Store) putTile(ctx context.Context, tile geo.Tile, records []parking.Parking, ttlTile, ttlParking time.Duration) error {
	start := time.Now()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if records == nil {
		records = []parking.Parking{}
	}
	body, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("offline encode tile %s: %w", tile, err)
	}
	if err := s.cli.Set(ctx, keys.TileKey(tile), body, ttlTile); err != nil {
		observability.ObserveStoreOp(backendLabel, "put_tile", err, time.Since(start).Seconds())
		return fmt.Errorf("offline put tile %s: %w", tile, err)
	}

	kv := make(map[string][]byte, len(records))
	for _, p := range records {
		pb, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("offline encode parking %q: %w", p.UID, err)
		}
		kv[keys.ParkingKey(p.UID)] = pb
	}
	err = s.cli.MSetWithTTL(ctx, kv, ttlParking)
	observability.ObserveStoreOp(backendLabel, "put_tile", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("offline put tile %s records: %w", tile, err)
	}
	return nil
}

// Download groups records by tile and caches each group without expiry,
// for explicit offline-mode downloads.
func (s *Store) Download(ctx context.Context, records []parking.Parking) error {
	byTile := make(map[geo.Tile][]parking.Parking)
	for _, p := range records {
		t := p.Tile(s.tileSize)
		byTile[t] = append(byTile[t], p)
	}

	for t, group := range byTile {
		if err := s.putTile(ctx, t, group, 0, 0); err != nil {
			return fmt.Errorf("offline download tile %s: %w", t, err)
		}
	}
	return nil
}

// DeleteTiles prunes downloaded tiles and the records cached under them.
func (s *Store) DeleteTiles(ctx context.Context, tiles []geo.Tile) error {
	start := time.Now()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if len(tiles) == 0 {
		return nil
	}
	tileKeys := make([]string, len(tiles))
	for i, t := range tiles {
		tileKeys[i] = keys.TileKey(t)
	}

	raw, err := s.cli.MGet(ctx, tileKeys)
	if err != nil {
		return fmt.Errorf("offline read tiles for prune: %w", err)
	}
	del := make([]string, 0, len(tileKeys))
	del = append(del, tileKeys...)
	for _, body := range raw {
		var group []parking.Parking
		if err := json.Unmarshal(body, &group); err != nil {
			continue // stale payload, the tile key removal is enough
		}
		for _, p := range group {
			del = append(del, keys.ParkingKey(p.UID))
		}
	}

	err = s.cli.Del(ctx, del...)
	observability.ObserveStoreOp(backendLabel, "delete_tiles", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("offline prune %d tiles: %w", len(tiles), err)
	}
	return nil
}
