package user

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cyrcle-app/parking-engine/internal/geo"
	"github.com/cyrcle-app/parking-engine/internal/parking"
)

type memUsers struct {
	mu    sync.Mutex
	users map[string]User
	saves int
	fail  error
}

func newMemUsers() *memUsers { return &memUsers{users: make(map[string]User)} }

func (m *memUsers) Get(_ context.Context, id string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, fmt.Errorf("user %q: %w", id, ErrNotFound)
	}
	return u, nil
}

func (m *memUsers) Save(_ context.Context, u User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.users[u.ID] = u
	m.saves++
	return nil
}

// fakeParkings implements the parking store contract over a map.
type fakeParkings struct {
	mu      sync.Mutex
	records map[string]parking.Parking
}

func newFakeParkings(ps ...parking.Parking) *fakeParkings {
	f := &fakeParkings{records: make(map[string]parking.Parking)}
	for _, p := range ps {
		f.records[p.UID] = p
	}
	return f
}

func (f *fakeParkings) NewUID() (string, error)            { return "uid", nil }
func (f *fakeParkings) OnSignIn(_ context.Context) error   { return nil }
func (f *fakeParkings) Add(_ context.Context, p parking.Parking) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[p.UID] = p
	return nil
}
func (f *fakeParkings) Update(ctx context.Context, p parking.Parking) error { return f.Add(ctx, p) }
func (f *fakeParkings) DeleteByID(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, id)
	return nil
}

func (f *fakeParkings) GetByID(_ context.Context, id string) (parking.Parking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.records[id]
	if !ok {
		return parking.Parking{}, fmt.Errorf("parking %q: %w", id, parking.ErrNotFound)
	}
	return p, nil
}

func (f *fakeParkings) ForTile(_ context.Context, _ geo.Tile) ([]parking.Parking, error) {
	return nil, nil
}

func (f *fakeParkings) ByIDs(_ context.Context, ids []string) ([]parking.Parking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []parking.Parking
	// deliberately reversed: callers must not rely on batch order
	for i := len(ids) - 1; i >= 0; i-- {
		if p, ok := f.records[ids[i]]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeParkings) AddReport(_ context.Context, r parking.Report) (parking.Report, error) {
	r.UID = "r1"
	return r, nil
}

func (f *fakeParkings) AddImageReport(_ context.Context, r parking.ImageReport, _ string) (parking.ImageReport, error) {
	r.UID = "ir1"
	return r, nil
}

func (f *fakeParkings) ReportsForParking(_ context.Context, _ string) ([]parking.Report, error) {
	return nil, nil
}

func (f *fakeParkings) ReportsForImage(_ context.Context, _, _ string) ([]parking.ImageReport, error) {
	return nil, nil
}

func spot(uid string) parking.Parking {
	return parking.Parking{
		UID:        uid,
		Location:   geo.NewLocation(geo.Point{Lon: 6.55, Lat: 46.55}),
		Capacity:   parking.CapacityMedium,
		RackType:   parking.RackURack,
		Protection: parking.ProtectionCovered,
	}
}

func newSvc(users Store, parkings parking.Store) *Service {
	return NewService(users, parkings, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSignInCreatesMissingUser(t *testing.T) {
	users := newMemUsers()
	svc := newSvc(users, newFakeParkings())

	if err := svc.SignIn(context.Background(), "u1", "ada"); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	u, ok := svc.Current()
	if !ok || u.ID != "u1" || u.Username != "ada" {
		t.Fatalf("Current=%+v ok=%v", u, ok)
	}
	if _, err := users.Get(context.Background(), "u1"); err != nil {
		t.Fatalf("account not persisted: %v", err)
	}
}

func TestSignInLoadsFavoritesInAccountOrder(t *testing.T) {
	users := newMemUsers()
	users.users["u1"] = User{
		ID: "u1", Username: "ada",
		Details: Details{FavoriteParkings: []string{"p2", "gone", "p1"}},
	}
	svc := newSvc(users, newFakeParkings(spot("p1"), spot("p2")))

	if err := svc.SignIn(context.Background(), "u1", "ada"); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	favs := svc.Favorites()
	if len(favs) != 2 || favs[0].UID != "p2" || favs[1].UID != "p1" {
		t.Fatalf("favorites=%+v", favs)
	}
}

func TestAddFavoritePersistsThenMaterializes(t *testing.T) {
	users := newMemUsers()
	svc := newSvc(users, newFakeParkings(spot("p1")))
	ctx := context.Background()

	if err := svc.SignIn(ctx, "u1", "ada"); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if err := svc.AddFavorite(ctx, "p1"); err != nil {
		t.Fatalf("AddFavorite: %v", err)
	}
	if favs := svc.Favorites(); len(favs) != 1 || favs[0].UID != "p1" {
		t.Fatalf("favorites=%+v", favs)
	}
	saved := users.users["u1"]
	if !contains(saved.Details.FavoriteParkings, "p1") {
		t.Fatalf("favorite not persisted: %+v", saved.Details)
	}

	// adding twice is a no-op
	if err := svc.AddFavorite(ctx, "p1"); err != nil {
		t.Fatalf("idempotent AddFavorite: %v", err)
	}
	if favs := svc.Favorites(); len(favs) != 1 {
		t.Fatalf("favorites duplicated: %+v", favs)
	}
}

func TestAddFavoriteFailedSaveLeavesSessionUntouched(t *testing.T) {
	users := newMemUsers()
	svc := newSvc(users, newFakeParkings(spot("p1")))
	ctx := context.Background()

	if err := svc.SignIn(ctx, "u1", "ada"); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	boom := errors.New("db down")
	users.fail = boom
	if err := svc.AddFavorite(ctx, "p1"); !errors.Is(err, boom) {
		t.Fatalf("want save failure, got %v", err)
	}
	if favs := svc.Favorites(); len(favs) != 0 {
		t.Fatalf("session ran ahead of the store: %+v", favs)
	}
	u, _ := svc.Current()
	if len(u.Details.FavoriteParkings) != 0 {
		t.Fatalf("account ran ahead of the store: %+v", u.Details)
	}
}

// overlapUsers flags any two Saves running at the same time.
type overlapUsers struct {
	inner    *memUsers
	inFlight atomic.Int32
	overlap  atomic.Bool
}

func (o *overlapUsers) Get(ctx context.Context, id string) (User, error) {
	return o.inner.Get(ctx, id)
}

func (o *overlapUsers) Save(ctx context.Context, u User) error {
	if o.inFlight.Add(1) > 1 {
		o.overlap.Store(true)
	}
	defer o.inFlight.Add(-1)
	time.Sleep(time.Millisecond)
	return o.inner.Save(ctx, u)
}

func TestConcurrentAddFavoritesLoseNothing(t *testing.T) {
	const n = 8
	spots := make([]parking.Parking, n)
	for i := range spots {
		spots[i] = spot(fmt.Sprintf("p%d", i))
	}
	users := &overlapUsers{inner: newMemUsers()}
	svc := newSvc(users, newFakeParkings(spots...))
	ctx := context.Background()

	if err := svc.SignIn(ctx, "u1", "ada"); err != nil {
		t.Fatalf("SignIn: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := svc.AddFavorite(ctx, id); err != nil {
				t.Errorf("AddFavorite %s: %v", id, err)
			}
		}(fmt.Sprintf("p%d", i))
	}
	wg.Wait()

	if users.overlap.Load() {
		t.Fatal("account saves ran concurrently")
	}
	u, _ := svc.Current()
	if len(u.Details.FavoriteParkings) != n {
		t.Fatalf("session id-set lost writes: %v", u.Details.FavoriteParkings)
	}
	saved, err := users.inner.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(saved.Details.FavoriteParkings) != n {
		t.Fatalf("persisted id-set lost writes: %v", saved.Details.FavoriteParkings)
	}
	favs := svc.Favorites()
	if len(favs) != n {
		t.Fatalf("materialized %d records, id-set has %d", len(favs), n)
	}
	for _, p := range favs {
		if !contains(saved.Details.FavoriteParkings, p.UID) {
			t.Fatalf("materialized %s missing from persisted id-set", p.UID)
		}
	}
}

func TestRemoveFavorite(t *testing.T) {
	users := newMemUsers()
	users.users["u1"] = User{
		ID: "u1", Details: Details{FavoriteParkings: []string{"p1", "p2"}},
	}
	svc := newSvc(users, newFakeParkings(spot("p1"), spot("p2")))
	ctx := context.Background()

	if err := svc.SignIn(ctx, "u1", ""); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if err := svc.RemoveFavorite(ctx, "p1"); err != nil {
		t.Fatalf("RemoveFavorite: %v", err)
	}
	if favs := svc.Favorites(); len(favs) != 1 || favs[0].UID != "p2" {
		t.Fatalf("favorites=%+v", favs)
	}
	if contains(users.users["u1"].Details.FavoriteParkings, "p1") {
		t.Fatal("removal not persisted")
	}
}

func TestMarksAndHasReported(t *testing.T) {
	users := newMemUsers()
	svc := newSvc(users, newFakeParkings(spot("p1")))
	ctx := context.Background()

	if err := svc.SignIn(ctx, "u1", "ada"); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if svc.HasReported("p1") {
		t.Fatal("fresh session must have no reports")
	}
	if err := svc.MarkReported(ctx, "p1"); err != nil {
		t.Fatalf("MarkReported: %v", err)
	}
	if !svc.HasReported("p1") {
		t.Fatal("report mark lost")
	}
	if err := svc.MarkReportedImage(ctx, "img1"); err != nil {
		t.Fatalf("MarkReportedImage: %v", err)
	}
	if !svc.HasReportedImage("img1") {
		t.Fatal("image report mark lost")
	}
	if err := svc.MarkReviewed(ctx, "p1"); err != nil {
		t.Fatalf("MarkReviewed: %v", err)
	}
	if !contains(users.users["u1"].Details.ReviewedParkings, "p1") {
		t.Fatal("review mark not persisted")
	}
}

func TestSessionScopedOpsNeedSignIn(t *testing.T) {
	svc := newSvc(newMemUsers(), newFakeParkings())
	ctx := context.Background()

	if err := svc.AddFavorite(ctx, "p1"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("AddFavorite: %v", err)
	}
	if err := svc.LoadFavorites(ctx); !errors.Is(err, ErrNoSession) {
		t.Fatalf("LoadFavorites: %v", err)
	}
	if err := svc.MarkReported(ctx, "p1"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("MarkReported: %v", err)
	}
}

func TestSignOutClearsSession(t *testing.T) {
	users := newMemUsers()
	users.users["u1"] = User{ID: "u1", Details: Details{FavoriteParkings: []string{"p1"}}}
	svc := newSvc(users, newFakeParkings(spot("p1")))

	if err := svc.SignIn(context.Background(), "u1", ""); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	svc.SignOut()
	if _, ok := svc.Current(); ok {
		t.Fatal("session survived SignOut")
	}
	if len(svc.Favorites()) != 0 {
		t.Fatal("favorites survived SignOut")
	}
}
