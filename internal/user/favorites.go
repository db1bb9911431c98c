package user

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cyrcle-app/parking-engine/internal/parking"
)

// Service tracks the signed-in user and materializes their favorite parking
// records. Mutations persist first and only then update the in-memory copy,
// so a failed write never leaves the session ahead of the store. The mutex is
// held across the whole read-modify-persist cycle: concurrent mutations
// serialize instead of saving from the same base details.
type Service struct {
	logger   *slog.Logger
	users    Store
	parkings parking.Store

	mu        sync.Mutex
	current   *User
	favorites []parking.Parking
}

func NewService(users Store, parkings parking.Store, logger *slog.Logger) *Service {
	return &Service{logger: logger, users: users, parkings: parkings}
}

// SignIn loads or creates the account, warms the parking backend and
// materializes the favorite records.
func (s *Service) SignIn(ctx context.Context, id, username string) error {
	if id == "" {
		return fmt.Errorf("sign in: empty user id")
	}

	u, err := s.users.Get(ctx, id)
	if err != nil {
		u = User{ID: id, Username: username}
		if serr := s.users.Save(ctx, u); serr != nil {
			return fmt.Errorf("sign in create %q: %w", id, serr)
		}
		s.logger.Info("new user created", "user_id", id)
	}
	if username != "" && u.Username != username {
		u.Username = username
		if err := s.users.Save(ctx, u); err != nil {
			return fmt.Errorf("sign in rename %q: %w", id, err)
		}
	}

	if err := s.parkings.OnSignIn(ctx); err != nil {
		return fmt.Errorf("sign in backend: %w", err)
	}

	s.mu.Lock()
	s.current = &u
	s.favorites = nil
	s.mu.Unlock()

	return s.LoadFavorites(ctx)
}

// SignOut drops the session and the materialized favorites.
func (s *Service) SignOut() {
	s.mu.Lock()
	s.current = nil
	s.favorites = nil
	s.mu.Unlock()
}

// Current returns a copy of the signed-in user.
func (s *Service) Current() (User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return User{}, false
	}
	return *s.current, true
}

// LoadFavorites refetches the favorite records. Ids the parking store no
// longer knows are kept in the account but simply not materialized.
func (s *Service) LoadFavorites(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ErrNoSession
	}
	ids := s.current.Details.FavoriteParkings

	if len(ids) == 0 {
		s.favorites = nil
		return nil
	}

	records, err := s.parkings.ByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("load favorites: %w", err)
	}

	// restore the account's ordering, batch lookups do not guarantee it
	byUID := make(map[string]parking.Parking, len(records))
	for _, p := range records {
		byUID[p.UID] = p
	}
	ordered := make([]parking.Parking, 0, len(records))
	for _, id := range ids {
		if p, ok := byUID[id]; ok {
			ordered = append(ordered, p)
		}
	}

	s.favorites = ordered
	return nil
}

// Favorites returns the materialized favorite records in account order.
func (s *Service) Favorites() []parking.Parking {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]parking.Parking(nil), s.favorites...)
}

// AddFavorite persists the new favorite and materializes its record.
func (s *Service) AddFavorite(ctx context.Context, parkingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ErrNoSession
	}
	if contains(s.current.Details.FavoriteParkings, parkingID) {
		return nil
	}

	p, err := s.parkings.GetByID(ctx, parkingID)
	if err != nil {
		return fmt.Errorf("add favorite %q: %w", parkingID, err)
	}

	updated := *s.current
	updated.Details = copyDetails(updated.Details)
	updated.Details.FavoriteParkings = append(updated.Details.FavoriteParkings, parkingID)
	if err := s.users.Save(ctx, updated); err != nil {
		return fmt.Errorf("add favorite %q: %w", parkingID, err)
	}

	s.current = &updated
	s.favorites = append(s.favorites, p)
	return nil
}

// RemoveFavorite persists the removal and drops the materialized record.
func (s *Service) RemoveFavorite(ctx context.Context, parkingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ErrNoSession
	}
	if !contains(s.current.Details.FavoriteParkings, parkingID) {
		return nil
	}

	updated := *s.current
	updated.Details = copyDetails(updated.Details)
	updated.Details.FavoriteParkings = without(updated.Details.FavoriteParkings, parkingID)
	if err := s.users.Save(ctx, updated); err != nil {
		return fmt.Errorf("remove favorite %q: %w", parkingID, err)
	}

	s.current = &updated
	kept := s.favorites[:0]
	for _, p := range s.favorites {
		if p.UID != parkingID {
			kept = append(kept, p)
		}
	}
	s.favorites = kept
	return nil
}

// MarkReported records that the current user reported a parking spot.
func (s *Service) MarkReported(ctx context.Context, parkingID string) error {
	return s.mark(ctx, parkingID, func(d *Details) []string {
		d.ReportedParkings = appendUnique(d.ReportedParkings, parkingID)
		return d.ReportedParkings
	})
}

// MarkReviewed records that the current user reviewed a parking spot.
func (s *Service) MarkReviewed(ctx context.Context, parkingID string) error {
	return s.mark(ctx, parkingID, func(d *Details) []string {
		d.ReviewedParkings = appendUnique(d.ReviewedParkings, parkingID)
		return d.ReviewedParkings
	})
}

// MarkReportedImage records that the current user reported an image.
func (s *Service) MarkReportedImage(ctx context.Context, imageID string) error {
	return s.mark(ctx, imageID, func(d *Details) []string {
		d.ReportedImages = appendUnique(d.ReportedImages, imageID)
		return d.ReportedImages
	})
}

func (s *Service) mark(ctx context.Context, id string, apply func(*Details) []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ErrNoSession
	}
	updated := *s.current
	updated.Details = copyDetails(updated.Details)
	apply(&updated.Details)

	if err := s.users.Save(ctx, updated); err != nil {
		return fmt.Errorf("mark %q: %w", id, err)
	}

	s.current = &updated
	return nil
}

// HasReported reports whether the current user already filed against this
// parking; used as the pre-check for the one-report-per-user rule.
func (s *Service) HasReported(parkingID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil && contains(s.current.Details.ReportedParkings, parkingID)
}

// HasReportedImage is the image counterpart of HasReported.
func (s *Service) HasReportedImage(imageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil && contains(s.current.Details.ReportedImages, imageID)
}

func appendUnique(list []string, v string) []string {
	if contains(list, v) {
		return list
	}
	return append(list, v)
}

func copyDetails(d Details) Details {
	return Details{
		FavoriteParkings: append([]string(nil), d.FavoriteParkings...),
		ReportedParkings: append([]string(nil), d.ReportedParkings...),
		ReviewedParkings: append([]string(nil), d.ReviewedParkings...),
		ReportedImages:   append([]string(nil), d.ReportedImages...),
	}
}
