// Package router validates incoming requests and maps them onto the
// engine operations.
package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cyrcle-app/parking-engine/internal/address"
	"github.com/cyrcle-app/parking-engine/internal/aggregator"
	"github.com/cyrcle-app/parking-engine/internal/cache/keys"
	"github.com/cyrcle-app/parking-engine/internal/core/observability"
	"github.com/cyrcle-app/parking-engine/internal/filter"
	"github.com/cyrcle-app/parking-engine/internal/geo"
	"github.com/cyrcle-app/parking-engine/internal/parking"
	"github.com/cyrcle-app/parking-engine/internal/user"
)

const defaultZoom = 15.0

type API struct {
	logger *slog.Logger
	store  parking.Store
	agg    *aggregator.Aggregator
	users  *user.Service
	addr   *address.Client
}

func New(logger *slog.Logger, store parking.Store, agg *aggregator.Aggregator, users *user.Service, addr *address.Client) *API {
	return &API{logger: logger, store: store, agg: agg, users: users, addr: addr}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Observe wraps a handler with the per-route HTTP metrics.
func Observe(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		h(sw, r)
		observability.ObserveHTTP(r.Method, route, sw.code, time.Since(start).Seconds())
	}
}

func respondJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, parking.ErrNotFound), errors.Is(err, user.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, parking.ErrValidation):
		code = http.StatusBadRequest
	case errors.Is(err, parking.ErrAlreadyReported):
		code = http.StatusConflict
	case errors.Is(err, parking.ErrUnsupported):
		code = http.StatusNotImplemented
	case errors.Is(err, user.ErrNoSession):
		code = http.StatusUnauthorized
	}
	respondJSON(w, code, map[string]string{"error": err.Error()})
}

// ParseViewportRequest reads the bbox, zoom and filter parameters.
func ParseViewportRequest(r *http.Request) (geo.BoundingRect, float64, *filter.Selection, error) {
	q := r.URL.Query()

	rect, err := parseBBox(strings.TrimSpace(q.Get("bbox")))
	if err != nil {
		return geo.BoundingRect{}, 0, nil, err
	}

	zoom := defaultZoom
	if raw := strings.TrimSpace(q.Get("zoom")); raw != "" {
		z, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return geo.BoundingRect{}, 0, nil, fmt.Errorf("invalid zoom: %w", err)
		}
		zoom = z
	}

	sel, err := parseSelection(q.Get("capacity"), q.Get("rack"), q.Get("protection"),
		q.Get("cctv"), q.Get("radius"), q.Get("ref"))
	if err != nil {
		return geo.BoundingRect{}, 0, nil, err
	}
	return rect, zoom, sel, nil
}

func parseBBox(raw string) (geo.BoundingRect, error) {
	if raw == "" {
		return geo.BoundingRect{}, errors.New("missing required parameter: bbox")
	}
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return geo.BoundingRect{}, errors.New("bbox expects 4 comma-separated values: x1,y1,x2,y2")
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return geo.BoundingRect{}, fmt.Errorf("bbox value %d: %w", i+1, err)
		}
		vals[i] = f
	}
	if !(vals[0] >= -180 && vals[0] <= 180 && vals[2] >= -180 && vals[2] <= 180) {
		return geo.BoundingRect{}, errors.New("longitude must be in [-180,180]")
	}
	if !(vals[1] >= -90 && vals[1] <= 90 && vals[3] >= -90 && vals[3] <= 90) {
		return geo.BoundingRect{}, errors.New("latitude must be in [-90,90]")
	}
	rect, err := geo.NewBoundingRect(
		geo.Point{Lon: vals[0], Lat: vals[1]},
		geo.Point{Lon: vals[2], Lat: vals[3]},
	)
	if err != nil {
		return geo.BoundingRect{}, fmt.Errorf("invalid bbox: %w", err)
	}
	return rect, nil
}

// parseSelection narrows a permissive selection to the facet values named in
// the query. An explicitly empty facet parameter (capacity=none) clears it.
func parseSelection(capRaw, rackRaw, protRaw, cctvRaw, radiusRaw, refRaw string) (*filter.Selection, error) {
	sel := filter.NewSelection()

	if capRaw != "" {
		sel.ClearCapacities()
		if capRaw != "none" {
			for _, v := range strings.Split(capRaw, ",") {
				n, err := strconv.Atoi(strings.TrimSpace(v))
				if err != nil || !parking.Capacity(n).Valid() {
					return nil, fmt.Errorf("invalid capacity value %q", v)
				}
				sel.ToggleCapacity(parking.Capacity(n))
			}
		}
	}
	if rackRaw != "" {
		sel.ClearRackTypes()
		if rackRaw != "none" {
			for _, v := range strings.Split(rackRaw, ",") {
				n, err := strconv.Atoi(strings.TrimSpace(v))
				if err != nil || !parking.RackType(n).Valid() {
					return nil, fmt.Errorf("invalid rack value %q", v)
				}
				sel.ToggleRackType(parking.RackType(n))
			}
		}
	}
	if protRaw != "" {
		sel.ClearProtections()
		if protRaw != "none" {
			for _, v := range strings.Split(protRaw, ",") {
				n, err := strconv.Atoi(strings.TrimSpace(v))
				if err != nil || !parking.Protection(n).Valid() {
					return nil, fmt.Errorf("invalid protection value %q", v)
				}
				sel.ToggleProtection(parking.Protection(n))
			}
		}
	}

	if cctvRaw != "" {
		on, err := strconv.ParseBool(cctvRaw)
		if err != nil {
			return nil, fmt.Errorf("invalid cctv value %q", cctvRaw)
		}
		sel.SetOnlyWithCCTV(on)
	}

	if radiusRaw != "" {
		m, err := strconv.ParseFloat(radiusRaw, 64)
		if err != nil || m <= 0 {
			return nil, fmt.Errorf("invalid radius value %q", radiusRaw)
		}
		sel.SetRadius(m)
	}
	if refRaw != "" {
		parts := strings.Split(refRaw, ",")
		if len(parts) != 2 {
			return nil, errors.New("ref expects lon,lat")
		}
		lon, lonErr := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		lat, latErr := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if lonErr != nil || latErr != nil {
			return nil, errors.New("invalid ref coordinates")
		}
		sel.SetReference(&geo.Point{Lon: lon, Lat: lat})
	}
	return sel, nil
}

// Viewport resolves the requested bbox and serves the filtered records.
// A partial tile failure still serves what resolved, flagged in a header.
func (a *API) Viewport(w http.ResponseWriter, r *http.Request) {
	rect, zoom, sel, err := ParseViewportRequest(r)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	partial := false
	if err := a.agg.Resolve(r.Context(), rect, zoom); err != nil {
		a.logger.Warn("viewport resolve incomplete", "err", err)
		partial = true
	}

	visible := a.agg.Visible()
	inView := make([]parking.Parking, 0, len(visible))
	for _, p := range visible {
		if rect.Contains(p.Location.Center) {
			inView = append(inView, p)
		}
	}
	out := sel.Apply(inView)

	// hash full record bodies so attribute edits change the validator too
	var sb strings.Builder
	for _, p := range out {
		if doc, err := json.Marshal(p); err == nil {
			sb.Write(doc)
		}
		sb.WriteByte('\n')
	}
	etag := `"` + keys.Fingerprint(sb.String()+sel.Fingerprint()) + `"`
	if !partial {
		if match := r.Header.Get("If-None-Match"); match == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", etag)
	} else {
		w.Header().Set("X-Partial-Result", "true")
	}
	respondJSON(w, http.StatusOK, out)
}

func (a *API) GetParking(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if p, ok := a.agg.Get(id); ok {
		respondJSON(w, http.StatusOK, p)
		return
	}
	p, err := a.store.GetByID(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (a *API) CreateParking(w http.ResponseWriter, r *http.Request) {
	var p parking.Parking
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body: " + err.Error()})
		return
	}
	if p.UID == "" {
		uid, err := a.store.NewUID()
		if err != nil {
			respondError(w, err)
			return
		}
		p.UID = uid
	}
	if err := p.Validate(); err != nil {
		respondError(w, err)
		return
	}
	if err := a.store.Add(r.Context(), p); err != nil {
		respondError(w, err)
		return
	}
	a.agg.Upsert(p)
	respondJSON(w, http.StatusCreated, p)
}

func (a *API) UpdateParking(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var p parking.Parking
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body: " + err.Error()})
		return
	}
	if p.UID == "" {
		p.UID = id
	}
	if p.UID != id {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "uid does not match path"})
		return
	}
	if err := p.Validate(); err != nil {
		respondError(w, err)
		return
	}
	if err := a.store.Update(r.Context(), p); err != nil {
		respondError(w, err)
		return
	}
	a.agg.Upsert(p)
	respondJSON(w, http.StatusOK, p)
}

func (a *API) DeleteParking(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.store.DeleteByID(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}
	a.agg.Remove(id)
	w.WriteHeader(http.StatusNoContent)
}

type reportBody struct {
	Reason      int    `json:"reason"`
	Description string `json:"description,omitempty"`
}

// AddReport enforces one report per user and parking: both the session
// bookkeeping and the record itself are consulted before persisting.
func (a *API) AddReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	u, ok := a.users.Current()
	if !ok {
		respondError(w, user.ErrNoSession)
		return
	}

	var body reportBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body: " + err.Error()})
		return
	}

	p, err := a.store.GetByID(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	if a.users.HasReported(id) || p.ReportedBy(u.ID) {
		respondError(w, fmt.Errorf("parking %q: %w", id, parking.ErrAlreadyReported))
		return
	}

	rep, err := a.store.AddReport(r.Context(), parking.Report{
		ParkingID:   id,
		UserID:      u.ID,
		Reason:      parking.ReportReason(body.Reason),
		Description: body.Description,
	})
	if err != nil {
		respondError(w, err)
		return
	}

	p.ReportingUsers = append(p.ReportingUsers, u.ID)
	if err := a.store.Update(r.Context(), p); err != nil {
		a.logger.Warn("report bookkeeping update failed", "parking_id", id, "err", err)
	} else {
		a.agg.Upsert(p)
	}
	if err := a.users.MarkReported(r.Context(), id); err != nil {
		a.logger.Warn("report session mark failed", "parking_id", id, "err", err)
	}
	respondJSON(w, http.StatusCreated, rep)
}

func (a *API) ListReports(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	reports, err := a.store.ReportsForParking(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	if reports == nil {
		reports = []parking.Report{}
	}
	respondJSON(w, http.StatusOK, reports)
}

type imageReportBody struct {
	Reason int `json:"reason"`
}

func (a *API) AddImageReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	imageID := chi.URLParam(r, "imageID")
	u, ok := a.users.Current()
	if !ok {
		respondError(w, user.ErrNoSession)
		return
	}

	var body imageReportBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body: " + err.Error()})
		return
	}

	p, err := a.store.GetByID(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	if a.users.HasReportedImage(imageID) || p.ImageReported(imageID) {
		respondError(w, fmt.Errorf("image %q: %w", imageID, parking.ErrAlreadyReported))
		return
	}

	rep, err := a.store.AddImageReport(r.Context(), parking.ImageReport{
		ImageID: imageID,
		UserID:  u.ID,
		Reason:  parking.ImageReportReason(body.Reason),
	}, id)
	if err != nil {
		respondError(w, err)
		return
	}

	p.ReportedImages = append(p.ReportedImages, imageID)
	if err := a.store.Update(r.Context(), p); err != nil {
		a.logger.Warn("image report bookkeeping update failed", "parking_id", id, "err", err)
	} else {
		a.agg.Upsert(p)
	}
	if err := a.users.MarkReportedImage(r.Context(), imageID); err != nil {
		a.logger.Warn("image report session mark failed", "image_id", imageID, "err", err)
	}
	respondJSON(w, http.StatusCreated, rep)
}

func (a *API) ListImageReports(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	imageID := chi.URLParam(r, "imageID")
	reports, err := a.store.ReportsForImage(r.Context(), id, imageID)
	if err != nil {
		respondError(w, err)
		return
	}
	if reports == nil {
		reports = []parking.ImageReport{}
	}
	respondJSON(w, http.StatusOK, reports)
}

type signInBody struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

func (a *API) SignIn(w http.ResponseWriter, r *http.Request) {
	var body signInBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ID == "" {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "id is required"})
		return
	}
	if err := a.users.SignIn(r.Context(), body.ID, body.Username); err != nil {
		respondError(w, err)
		return
	}
	u, _ := a.users.Current()
	respondJSON(w, http.StatusOK, u)
}

func (a *API) SignOut(w http.ResponseWriter, _ *http.Request) {
	a.users.SignOut()
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) Favorites(w http.ResponseWriter, _ *http.Request) {
	if _, ok := a.users.Current(); !ok {
		respondError(w, user.ErrNoSession)
		return
	}
	favs := a.users.Favorites()
	if favs == nil {
		favs = []parking.Parking{}
	}
	respondJSON(w, http.StatusOK, favs)
}

func (a *API) AddFavorite(w http.ResponseWriter, r *http.Request) {
	if err := a.users.AddFavorite(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) RemoveFavorite(w http.ResponseWriter, r *http.Request) {
	if err := a.users.RemoveFavorite(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) SuggestAddress(w http.ResponseWriter, r *http.Request) {
	if a.addr == nil {
		respondJSON(w, http.StatusNotImplemented, map[string]string{"error": "address lookup disabled"})
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = n
	}
	suggestions, err := a.addr.Suggest(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		respondJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	if suggestions == nil {
		suggestions = []address.Suggestion{}
	}
	respondJSON(w, http.StatusOK, suggestions)
}
