// Package filter implements the visible-parking filter pipeline: a mutable
// Selection of facet choices plus a pure Apply that narrows a record slice
// without reordering it.
package filter

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cyrcle-app/parking-engine/internal/cache/keys"
	"github.com/cyrcle-app/parking-engine/internal/geo"
	"github.com/cyrcle-app/parking-engine/internal/parking"
)

// DefaultRadiusMeters is the radius preselected when a reference point is
// first set.
const DefaultRadiusMeters = 1000.0

type facet[T comparable] map[T]struct{}

func (f facet[T]) has(v T) bool { _, ok := f[v]; return ok }

func (f facet[T]) toggle(v T) {
	if f.has(v) {
		delete(f, v)
	} else {
		f[v] = struct{}{}
	}
}

func allOf[T comparable](vals []T) facet[T] {
	f := make(facet[T], len(vals))
	for _, v := range vals {
		f[v] = struct{}{}
	}
	return f
}

// Selection holds the current filter state. An empty facet set excludes
// every record: deselecting all capacities means "show nothing", not "show
// everything". The radius criterion only participates once a reference
// point is set.
type Selection struct {
	capacities  facet[parking.Capacity]
	racks       facet[parking.RackType]
	protections facet[parking.Protection]

	onlyWithCCTV bool
	radiusMeters float64
	reference    *geo.Point
}

// NewSelection starts permissive: every facet value selected, CCTV off, no
// reference point.
func NewSelection() *Selection {
	return &Selection{
		capacities:   allOf(parking.Capacities()),
		racks:        allOf(parking.RackTypes()),
		protections:  allOf(parking.Protections()),
		radiusMeters: DefaultRadiusMeters,
	}
}

func (s *Selection) ToggleCapacity(c parking.Capacity) { s.capacities.toggle(c) }
func (s *Selection) ToggleRackType(r parking.RackType) { s.racks.toggle(r) }
func (s *Selection) ToggleProtection(p parking.Protection) {
	s.protections.toggle(p)
}

func (s *Selection) HasCapacity(c parking.Capacity) bool     { return s.capacities.has(c) }
func (s *Selection) HasRackType(r parking.RackType) bool     { return s.racks.has(r) }
func (s *Selection) HasProtection(p parking.Protection) bool { return s.protections.has(p) }

func (s *Selection) ClearCapacities() { s.capacities = facet[parking.Capacity]{} }
func (s *Selection) ClearRackTypes()  { s.racks = facet[parking.RackType]{} }
func (s *Selection) ClearProtections() {
	s.protections = facet[parking.Protection]{}
}

func (s *Selection) SelectAllCapacities() { s.capacities = allOf(parking.Capacities()) }
func (s *Selection) SelectAllRackTypes()  { s.racks = allOf(parking.RackTypes()) }
func (s *Selection) SelectAllProtections() {
	s.protections = allOf(parking.Protections())
}

// ClearAll empties every facet set; Apply then matches nothing.
func (s *Selection) ClearAll() {
	s.ClearCapacities()
	s.ClearRackTypes()
	s.ClearProtections()
}

// SelectAll restores the permissive facet state. CCTV, radius and reference
// are left alone.
func (s *Selection) SelectAll() {
	s.SelectAllCapacities()
	s.SelectAllRackTypes()
	s.SelectAllProtections()
}

func (s *Selection) SetOnlyWithCCTV(on bool) { s.onlyWithCCTV = on }
func (s *Selection) OnlyWithCCTV() bool      { return s.onlyWithCCTV }

func (s *Selection) SetRadius(meters float64) {
	if meters > 0 {
		s.radiusMeters = meters
	}
}
func (s *Selection) Radius() float64 { return s.radiusMeters }

// SetReference activates the radius criterion around p; nil deactivates it.
func (s *Selection) SetReference(p *geo.Point) { s.reference = p }
func (s *Selection) Reference() *geo.Point     { return s.reference }

// Matches reports whether one record passes every active criterion.
func (s *Selection) Matches(p parking.Parking) bool {
	if !s.capacities.has(p.Capacity) {
		return false
	}
	if !s.racks.has(p.RackType) {
		return false
	}
	if !s.protections.has(p.Protection) {
		return false
	}
	if s.onlyWithCCTV && !p.HasSecurity {
		return false
	}
	if s.reference != nil {
		if geo.Distance(*s.reference, p.Location.Center) > s.radiusMeters {
			return false
		}
	}
	return true
}

// Apply returns the records passing the selection, in input order. The
// input slice is never mutated.
func (s *Selection) Apply(records []parking.Parking) []parking.Parking {
	out := make([]parking.Parking, 0, len(records))
	for _, p := range records {
		if s.Matches(p) {
			out = append(out, p)
		}
	}
	return out
}

// Fingerprint is a short stable hash of the selection state, usable as a
// cache-key fragment or HTTP validator. Equal selections always produce the
// same fingerprint.
func (s *Selection) Fingerprint() string {
	var b strings.Builder

	b.WriteString("cap=")
	writeSorted(&b, s.capacities)
	b.WriteString(";rack=")
	writeSorted(&b, s.racks)
	b.WriteString(";prot=")
	writeSorted(&b, s.protections)

	fmt.Fprintf(&b, ";cctv=%t;radius=%.1f", s.onlyWithCCTV, s.radiusMeters)
	if s.reference != nil {
		fmt.Fprintf(&b, ";ref=%.6f,%.6f", s.reference.Lon, s.reference.Lat)
	}
	return keys.Fingerprint(b.String())
}

func writeSorted[T ~int](b *strings.Builder, f facet[T]) {
	vals := make([]int, 0, len(f))
	for v := range f {
		vals = append(vals, int(v))
	}
	sort.Ints(vals)
	for i, v := range vals {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(b, "%d", v)
	}
}
