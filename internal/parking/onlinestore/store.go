// Package onlinestore implements the parking store contract on MySQL. It is
// the canonical backend: records live as JSON documents with extracted
// longitude/latitude columns, and spatial lookups are plain coordinate range
// predicates over those columns.
package onlinestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cyrcle-app/parking-engine/internal/core/observability"
	"github.com/cyrcle-app/parking-engine/internal/geo"
	"github.com/cyrcle-app/parking-engine/internal/parking"
)

const backendLabel = "online"

// Schema is the DDL for the tables this store owns.
const Schema = `
CREATE TABLE IF NOT EXISTS parkings (
    uid       VARCHAR(64) PRIMARY KEY,
    longitude DOUBLE NOT NULL,
    latitude  DOUBLE NOT NULL,
    doc       JSON NOT NULL,
    KEY idx_parkings_longitude (longitude),
    KEY idx_parkings_latitude (latitude)
);
CREATE TABLE IF NOT EXISTS parking_reports (
    uid        VARCHAR(64) PRIMARY KEY,
    parking_id VARCHAR(64) NOT NULL,
    doc        JSON NOT NULL,
    KEY idx_parking_reports_parking (parking_id)
);
CREATE TABLE IF NOT EXISTS image_reports (
    uid        VARCHAR(64) PRIMARY KEY,
    parking_id VARCHAR(64) NOT NULL,
    image_id   VARCHAR(128) NOT NULL,
    doc        JSON NOT NULL,
    KEY idx_image_reports_image (parking_id, image_id)
);`

type Options struct {
	TileSize  float64
	OpTimeout time.Duration
}

type Store struct {
	db        *sql.DB
	tileSize  float64
	opTimeout time.Duration
}

var _ parking.Store = (*Store)(nil)

func New(db *sql.DB, opts Options) *Store {
	if opts.TileSize <= 0 {
		opts.TileSize = geo.DefaultTileSize
	}
	return &Store{db: db, tileSize: opts.TileSize, opTimeout: opts.OpTimeout}
}

// EnsureSchema creates the tables when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range strings.Split(Schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// NewUID mints a fresh identifier; uniqueness is backed by the random uuid
// space plus the primary key on insert.
func (s *Store) NewUID() (string, error) {
	return uuid.NewString(), nil
}

func (s *Store) OnSignIn(ctx context.Context) error {
	start := time.Now()
	err := s.db.PingContext(ctx)
	observability.ObserveStoreOp(backendLabel, "on_sign_in", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("online ping: %w", err)
	}
	return nil
}

func (s *Store) GetByID(ctx context.Context, id string) (parking.Parking, error) {
	start := time.Now()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var doc []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM parkings WHERE uid = ?`, id).Scan(&doc)
	observability.ObserveStoreOp(backendLabel, "get_by_id", err, time.Since(start).Seconds())
	if errors.Is(err, sql.ErrNoRows) {
		return parking.Parking{}, fmt.Errorf("online get %q: %w", id, parking.ErrNotFound)
	}
	if err != nil {
		return parking.Parking{}, fmt.Errorf("online get %q: %w", id, err)
	}
	var p parking.Parking
	if err := json.Unmarshal(doc, &p); err != nil {
		return parking.Parking{}, fmt.Errorf("online decode %q: %w", id, err)
	}
	return p, nil
}

// ForTile composes two coordinate range predicates; the backend has no
// native geospatial index.
func (s *Store) ForTile(ctx context.Context, tile geo.Tile) ([]parking.Parking, error) {
	r := tile.Rect(s.tileSize)
	return s.between(ctx, "for_tile", r)
}

// Between returns every record inside the rectangle; min edges inclusive,
// max edges exclusive, matching the tile quantization.
func (s *Store) Between(ctx context.Context, r geo.BoundingRect) ([]parking.Parking, error) {
	return s.between(ctx, "between", r)
}

func (s *Store) between(ctx context.Context, op string, r geo.BoundingRect) ([]parking.Parking, error) {
	start := time.Now()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM parkings
		 WHERE longitude >= ? AND longitude < ? AND latitude >= ? AND latitude < ?`,
		r.BottomLeft.Lon, r.TopRight.Lon, r.BottomLeft.Lat, r.TopRight.Lat)
	observability.ObserveStoreOp(backendLabel, op, err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("online range query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out, err := scanParkings(rows)
	if err != nil {
		return nil, fmt.Errorf("online range scan: %w", err)
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
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM parkings WHERE uid IN (`+placeholders+`)`, args...)
	observability.ObserveStoreOp(backendLabel, "by_ids", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("online batch get %d ids: %w", len(ids), err)
	}
	defer func() { _ = rows.Close() }()

	out, err := scanParkings(rows)
	if err != nil {
		return nil, fmt.Errorf("online batch scan: %w", err)
	}
	return out, nil
}

func (s *Store) Add(ctx context.Context, p parking.Parking) error {
	return s.upsert(ctx, "add", p)
}

// Update has full-record replace semantics, same as Add.
func (s *Store) Update(ctx context.Context, p parking.Parking) error {
	return s.upsert(ctx, "update", p)
}

func (s *Store) upsert(ctx context.Context, op string, p parking.Parking) error {
	if err := p.Validate(); err != nil {
		return err
	}

	start := time.Now()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("online encode %q: %w", p.UID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO parkings (uid, longitude, latitude, doc) VALUES (?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE longitude = VALUES(longitude), latitude = VALUES(latitude), doc = VALUES(doc)`,
		p.UID, p.Location.Center.Lon, p.Location.Center.Lat, doc)
	observability.ObserveStoreOp(backendLabel, op, err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("online upsert %q: %w", p.UID, err)
	}
	return nil
}

func (s *Store) DeleteByID(ctx context.Context, id string) error {
	start := time.Now()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `DELETE FROM parkings WHERE uid = ?`, id)
	observability.ObserveStoreOp(backendLabel, "delete_by_id", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("online delete %q: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("online delete %q: %w", id, parking.ErrNotFound)
	}
	return nil
}

func (s *Store) AddReport(ctx context.Context, r parking.Report) (parking.Report, error) {
	if err := r.Validate(); err != nil {
		return parking.Report{}, err
	}
	if r.UID == "" {
		r.UID = uuid.NewString()
	}

	start := time.Now()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	doc, err := json.Marshal(r)
	if err != nil {
		return parking.Report{}, fmt.Errorf("online encode report: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO parking_reports (uid, parking_id, doc) VALUES (?, ?, ?)`,
		r.UID, r.ParkingID, doc)
	observability.ObserveStoreOp(backendLabel, "add_report", err, time.Since(start).Seconds())
	if err != nil {
		return parking.Report{}, fmt.Errorf("online add report: %w", err)
	}
	return r, nil
}

func (s *Store) AddImageReport(ctx context.Context, r parking.ImageReport, parkingID string) (parking.ImageReport, error) {
	if err := r.Validate(); err != nil {
		return parking.ImageReport{}, err
	}
	if parkingID == "" {
		return parking.ImageReport{}, fmt.Errorf("%w: image report needs a parking id", parking.ErrValidation)
	}
	if r.UID == "" {
		r.UID = uuid.NewString()
	}

	start := time.Now()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	doc, err := json.Marshal(r)
	if err != nil {
		return parking.ImageReport{}, fmt.Errorf("online encode image report: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO image_reports (uid, parking_id, image_id, doc) VALUES (?, ?, ?, ?)`,
		r.UID, parkingID, r.ImageID, doc)
	observability.ObserveStoreOp(backendLabel, "add_image_report", err, time.Since(start).Seconds())
	if err != nil {
		return parking.ImageReport{}, fmt.Errorf("online add image report: %w", err)
	}
	return r, nil
}

func (s *Store) ReportsForParking(ctx context.Context, parkingID string) ([]parking.Report, error) {
	start := time.Now()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM parking_reports WHERE parking_id = ?`, parkingID)
	observability.ObserveStoreOp(backendLabel, "reports_for_parking", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("online reports for %q: %w", parkingID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []parking.Report
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("online report scan: %w", err)
		}
		var r parking.Report
		if err := json.Unmarshal(doc, &r); err != nil {
			return nil, fmt.Errorf("online report decode: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("online report rows: %w", err)
	}
	return out, nil
}

func (s *Store) ReportsForImage(ctx context.Context, parkingID, imageID string) ([]parking.ImageReport, error) {
	start := time.Now()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM image_reports WHERE parking_id = ? AND image_id = ?`, parkingID, imageID)
	observability.ObserveStoreOp(backendLabel, "reports_for_image", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("online reports for image %q: %w", imageID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []parking.ImageReport
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("online image report scan: %w", err)
		}
		var r parking.ImageReport
		if err := json.Unmarshal(doc, &r); err != nil {
			return nil, fmt.Errorf("online image report decode: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("online image report rows: %w", err)
	}
	return out, nil
}

// KClosest returns up to k records ordered by distance from center. The
// candidate set comes from a bounding-box range query, not a true radius
// query; the box is the radius inflated to degrees at the center latitude.
func (s *Store) KClosest(ctx context.Context, center geo.Point, radiusMeters float64, k int) ([]parking.Parking, error) {
	if k <= 0 || radiusMeters <= 0 {
		return nil, nil
	}

	dLat := radiusMeters / 111320.0
	cosLat := cosDeg(center.Lat)
	if cosLat < 0.01 {
		cosLat = 0.01
	}
	dLon := dLat / cosLat

	box := geo.BoundingRect{
		BottomLeft: geo.Point{Lon: center.Lon - dLon, Lat: center.Lat - dLat},
		TopRight:   geo.Point{Lon: center.Lon + dLon, Lat: center.Lat + dLat},
	}
	candidates, err := s.between(ctx, "k_closest", box)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return geo.Distance(center, candidates[i].Location.Center) <
			geo.Distance(center, candidates[j].Location.Center)
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates, nil
}

func scanParkings(rows *sql.Rows) ([]parking.Parking, error) {
	var out []parking.Parking
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var p parking.Parking
		if err := json.Unmarshal(doc, &p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func cosDeg(deg float64) float64 {
	return math.Cos(deg * math.Pi / 180)
}
