package parking

import (
	"context"
	"errors"

	"github.com/cyrcle-app/parking-engine/internal/geo"
)

// Failure taxonomy shared by every backend. Anything else returned by a
// store is a transport or backend failure wrapped with %w.
var (
	// ErrNotFound is returned when an id has no record.
	ErrNotFound = errors.New("parking not found")
	// ErrUnsupported is returned by read-only backends for write operations.
	ErrUnsupported = errors.New("operation not supported on this backend")
	// ErrValidation marks records or reports that must not be persisted.
	ErrValidation = errors.New("validation failed")
	// ErrAlreadyReported guards the one-report-per-user-and-target rule.
	ErrAlreadyReported = errors.New("already reported by this user")
)

// Store is the uniform CRUD + spatial/batch lookup contract over parking
// records. The online backend is the source of truth; the offline backend
// is a read cache that rejects writes with ErrUnsupported.
type Store interface {
	// NewUID mints a store-guaranteed-unique identifier.
	NewUID() (string, error)

	// OnSignIn prepares the backend for a user session.
	OnSignIn(ctx context.Context) error

	// GetByID returns ErrNotFound when the id is absent.
	GetByID(ctx context.Context, id string) (Parking, error)

	// ForTile returns every parking whose center quantizes into the tile.
	ForTile(ctx context.Context, tile geo.Tile) ([]Parking, error)

	// ByIDs is a batch lookup. Missing ids are silently omitted and the
	// returned order need not match the input order.
	ByIDs(ctx context.Context, ids []string) ([]Parking, error)

	// Add and Update are full-record upserts.
	Add(ctx context.Context, p Parking) error
	Update(ctx context.Context, p Parking) error

	DeleteByID(ctx context.Context, id string) error

	// AddReport persists the report and returns it with its assigned uid.
	// The already-reported pre-check is the caller's responsibility.
	AddReport(ctx context.Context, r Report) (Report, error)
	AddImageReport(ctx context.Context, r ImageReport, parkingID string) (ImageReport, error)

	ReportsForParking(ctx context.Context, parkingID string) ([]Report, error)
	ReportsForImage(ctx context.Context, parkingID, imageID string) ([]ImageReport, error)
}
