package parking

import "fmt"

// ReportReason enumerates why a user reported a parking spot.
type ReportReason int

const (
	ReasonInexistent ReportReason = iota
	ReasonPermanentlyFull
	ReasonIllegalSpot
	ReasonDangerous
	ReasonOtherIssue
)

var reportReasonNames = [...]string{
	"INEXISTENT", "PERMANENTLY_FULL", "ILLEGAL_SPOT", "DANGEROUS", "OTHER",
}

var reportReasonDescriptions = [...]string{
	"The spot does not exist",
	"The spot is permanently full",
	"The spot is not a legal parking",
	"The spot is dangerous",
	"Other issue",
}

func (r ReportReason) Valid() bool { return r >= ReasonInexistent && r <= ReasonOtherIssue }

func (r ReportReason) String() string {
	if !r.Valid() {
		return fmt.Sprintf("ReportReason(%d)", int(r))
	}
	return reportReasonNames[r]
}

func (r ReportReason) Description() string {
	if !r.Valid() {
		return "Other issue"
	}
	return reportReasonDescriptions[r]
}

// ImageReportReason enumerates why a user reported an attached image.
type ImageReportReason int

const (
	ImageReasonWrongLocation ImageReportReason = iota
	ImageReasonInappropriate
	ImageReasonLowQuality
)

var imageReportReasonNames = [...]string{"WRONG_LOCATION", "INAPPROPRIATE", "LOW_QUALITY"}

func (r ImageReportReason) Valid() bool {
	return r >= ImageReasonWrongLocation && r <= ImageReasonLowQuality
}

func (r ImageReportReason) String() string {
	if !r.Valid() {
		return fmt.Sprintf("ImageReportReason(%d)", int(r))
	}
	return imageReportReasonNames[r]
}

// Report is a user-filed complaint against a parking record. At most one
// active report may exist per (user, parking) pair; callers check
// Parking.ReportedBy before submitting.
type Report struct {
	UID         string       `json:"uid"`
	ParkingID   string       `json:"parkingId"`
	UserID      string       `json:"userId"`
	Reason      ReportReason `json:"reason"`
	Description string       `json:"description,omitempty"`
}

func (r Report) Validate() error {
	if r.ParkingID == "" || r.UserID == "" {
		return fmt.Errorf("%w: report needs parking and user ids", ErrValidation)
	}
	if !r.Reason.Valid() {
		return fmt.Errorf("%w: invalid report reason", ErrValidation)
	}
	return nil
}

// ImageReport is a complaint against one attached image.
type ImageReport struct {
	UID     string            `json:"uid"`
	ImageID string            `json:"imageId"`
	UserID  string            `json:"userId"`
	Reason  ImageReportReason `json:"reason"`
}

func (r ImageReport) Validate() error {
	if r.ImageID == "" || r.UserID == "" {
		return fmt.Errorf("%w: image report needs image and user ids", ErrValidation)
	}
	if !r.Reason.Valid() {
		return fmt.Errorf("%w: invalid image report reason", ErrValidation)
	}
	return nil
}
