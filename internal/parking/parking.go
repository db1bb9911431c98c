// Package parking defines the parking record model and the store contract
// shared by the online and offline backends.
package parking

import (
	"fmt"
	"strings"

	"github.com/cyrcle-app/parking-engine/internal/geo"
)

// MaxImages caps the number of image attachments per parking.
const MaxImages = 5

// Capacity buckets are ordered: XSmall < Small < Medium < Large.
type Capacity int

const (
	CapacityXSmall Capacity = iota
	CapacitySmall
	CapacityMedium
	CapacityLarge
)

var capacityNames = [...]string{"XSMALL", "SMALL", "MEDIUM", "LARGE"}

var capacityDescriptions = [...]string{
	"Less than 10 spots",
	"10 to 25 spots",
	"26 to 50 spots",
	"More than 50 spots",
}

// Capacities lists every capacity bucket in ordinal order.
func Capacities() []Capacity {
	return []Capacity{CapacityXSmall, CapacitySmall, CapacityMedium, CapacityLarge}
}

func (c Capacity) Valid() bool { return c >= CapacityXSmall && c <= CapacityLarge }

func (c Capacity) String() string {
	if !c.Valid() {
		return fmt.Sprintf("Capacity(%d)", int(c))
	}
	return capacityNames[c]
}

// Description is the human-readable label shown in filter panels.
func (c Capacity) Description() string {
	if !c.Valid() {
		return "Unknown capacity"
	}
	return capacityDescriptions[c]
}

// RackType enumerates the rack shapes a spot can offer.
type RackType int

const (
	RackTwoTier RackType = iota
	RackURack
	RackVertical
	RackWave
	RackWallButterfly
	RackPost
	RackGrid
	RackOther
)

var rackTypeNames = [...]string{
	"TWO_TIER", "U_RACK", "VERTICAL", "WAVE", "WALL_BUTTERFLY", "POST", "GRID", "OTHER",
}

var rackTypeDescriptions = [...]string{
	"Two-tier rack",
	"U-rack",
	"Vertical rack",
	"Wave rack",
	"Wall butterfly rack",
	"Post and ring",
	"Grid rack",
	"Other",
}

func RackTypes() []RackType {
	out := make([]RackType, 0, len(rackTypeNames))
	for i := range rackTypeNames {
		out = append(out, RackType(i))
	}
	return out
}

func (r RackType) Valid() bool { return r >= RackTwoTier && r <= RackOther }

func (r RackType) String() string {
	if !r.Valid() {
		return fmt.Sprintf("RackType(%d)", int(r))
	}
	return rackTypeNames[r]
}

func (r RackType) Description() string {
	if !r.Valid() {
		return "Other"
	}
	return rackTypeDescriptions[r]
}

// Protection describes how exposed a spot is to the weather.
type Protection int

const (
	ProtectionNone Protection = iota
	ProtectionCovered
	ProtectionIndoors
	ProtectionUnknown
)

var protectionNames = [...]string{"NONE", "COVERED", "INDOORS", "UNKNOWN"}

var protectionDescriptions = [...]string{
	"Exposed to weather",
	"Covered",
	"Indoors",
	"Unknown",
}

func Protections() []Protection {
	return []Protection{ProtectionNone, ProtectionCovered, ProtectionIndoors, ProtectionUnknown}
}

func (p Protection) Valid() bool { return p >= ProtectionNone && p <= ProtectionUnknown }

func (p Protection) String() string {
	if !p.Valid() {
		return fmt.Sprintf("Protection(%d)", int(p))
	}
	return protectionNames[p]
}

func (p Protection) Description() string {
	if !p.Valid() {
		return "Unknown"
	}
	return protectionDescriptions[p]
}

// Image is metadata for one attachment.
type Image struct {
	ID         string `json:"id"`
	URL        string `json:"url"`
	UploadedBy string `json:"uploadedBy,omitempty"`
}

// Parking is the central entity. The persistent source of truth is the
// store; uids are minted by the store, never guessed client-side.
type Parking struct {
	UID          string       `json:"uid"`
	Name         string       `json:"name,omitempty"`
	Description  string       `json:"description,omitempty"`
	Location     geo.Location `json:"location"`
	Images       []string     `json:"images,omitempty"`
	ImageObjects []Image      `json:"imageObjects,omitempty"`
	Capacity     Capacity     `json:"capacity"`
	RackType     RackType     `json:"rackType"`
	Protection   Protection   `json:"protection"`
	HasSecurity  bool         `json:"hasSecurity"`
	Price        float64      `json:"price"`
	Owner        string       `json:"owner,omitempty"`

	ReportingUsers []string `json:"reportingUsers,omitempty"`
	ReportedImages []string `json:"reportedImages,omitempty"`

	// Review aggregates are derived by the review subsystem.
	AvgScore  float64 `json:"avgScore"`
	NbReviews int     `json:"nbReviews"`
}

// Tile returns the grid cell the parking's center quantizes into.
func (p Parking) Tile(size float64) geo.Tile {
	return geo.TileAt(p.Location.Center, size)
}

// ReportedBy reports whether userID already filed a report for this parking.
func (p Parking) ReportedBy(userID string) bool {
	for _, u := range p.ReportingUsers {
		if u == userID {
			return true
		}
	}
	return false
}

// ImageReported reports whether imageID already has a report on record.
func (p Parking) ImageReported(imageID string) bool {
	for _, id := range p.ReportedImages {
		if id == imageID {
			return true
		}
	}
	return false
}

// Validate checks invariants a store should never be asked to persist.
func (p Parking) Validate() error {
	if strings.TrimSpace(p.UID) == "" {
		return fmt.Errorf("%w: missing uid", ErrValidation)
	}
	if !p.Capacity.Valid() || !p.RackType.Valid() || !p.Protection.Valid() {
		return fmt.Errorf("%w: invalid attribute value", ErrValidation)
	}
	if p.Price < 0 {
		return fmt.Errorf("%w: negative price", ErrValidation)
	}
	if len(p.Images) > MaxImages || len(p.ImageObjects) > MaxImages {
		return fmt.Errorf("%w: more than %d images", ErrValidation, MaxImages)
	}
	return nil
}
