package models

import (
	"strings"
	"time"
)

// ReportKind distinguishes corruption reports from infrastructure requests.
type ReportKind string

const (
	KindRedFlag      ReportKind = "red_flag"
	KindIntervention ReportKind = "intervention"
)

// Kinds lists every report kind in display order.
var Kinds = []ReportKind{KindRedFlag, KindIntervention}

// ParseKind accepts the canonical kind and its URL segment spellings.
func ParseKind(raw string) (ReportKind, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "red_flag", "redflag", "redflags", "red-flag", "red flag":
		return KindRedFlag, true
	case "intervention", "interventions":
		return KindIntervention, true
	}
	return ReportKind(raw), false
}

// Segment returns the collection path segment for the kind.
func (k ReportKind) Segment() string {
	switch k {
	case KindRedFlag:
		return "redflags"
	case KindIntervention:
		return "interventions"
	}
	return ""
}

// Label is the human readable name.
func (k ReportKind) Label() string {
	switch k {
	case KindRedFlag:
		return "Red-flag"
	case KindIntervention:
		return "Intervention"
	}
	return string(k)
}

// ReportStatus captures lifecycle states of a report.
type ReportStatus string

const (
	StatusDraft              ReportStatus = "DRAFT"
	StatusUnderInvestigation ReportStatus = "UNDER_INVESTIGATION"
	StatusResolved           ReportStatus = "RESOLVED"
	StatusRejected           ReportStatus = "REJECTED"
)

// ParseStatus normalises the status spellings seen on the wire: any case,
// spaces or hyphens for underscores, an enum class prefix ("Status.DRAFT"),
// and the legacy PENDING initial state which is treated as DRAFT.
func ParseStatus(raw string) (ReportStatus, bool) {
	s := strings.TrimSpace(raw)
	if idx := strings.LastIndex(s, "."); idx >= 0 {
		s = s[idx+1:]
	}
	s = strings.ToUpper(strings.NewReplacer(" ", "_", "-", "_").Replace(s))
	switch ReportStatus(s) {
	case StatusDraft, "PENDING":
		return StatusDraft, true
	case StatusUnderInvestigation, "INVESTIGATING":
		return StatusUnderInvestigation, true
	case StatusResolved:
		return StatusResolved, true
	case StatusRejected:
		return StatusRejected, true
	}
	return ReportStatus(raw), false
}

// Label is the human readable status.
func (s ReportStatus) Label() string {
	switch s {
	case StatusDraft:
		return "Draft"
	case StatusUnderInvestigation:
		return "Under Investigation"
	case StatusResolved:
		return "Resolved"
	case StatusRejected:
		return "Rejected"
	case "":
		return "Unknown"
	}
	return string(s)
}

// UnknownLocation is the place name used when reverse geocoding fails.
const UnknownLocation = "Unknown Location"

// Location is a geographic point with an optional human readable name.
type Location struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// ValidCoordinates reports whether the point lies within WGS84 bounds.
func ValidCoordinates(lat, lng float64) bool {
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// MediaType is the kind of attachment.
type MediaType string

const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
)

// MediaTypeFromMIME classifies a MIME type, returning false for anything
// other than images and videos.
func MediaTypeFromMIME(mime string) (MediaType, bool) {
	mime = strings.ToLower(mime)
	switch {
	case strings.HasPrefix(mime, "image/"):
		return MediaImage, true
	case strings.HasPrefix(mime, "video/"):
		return MediaVideo, true
	}
	return "", false
}

// Media is an attachment belonging to a report.
type Media struct {
	ID        string    `json:"id"`
	MediaType MediaType `json:"media_type"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Report is a citizen submission of either kind.
type Report struct {
	ID          string       `json:"id"`
	Kind        ReportKind   `json:"kind"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Location    Location     `json:"location"`
	Status      ReportStatus `json:"status"`
	AuthorID    string       `json:"author_id"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	Media       []Media      `json:"media"`
}

// Clone returns a deep copy so callers cannot mutate shared media slices.
func (r Report) Clone() Report {
	out := r
	if r.Media != nil {
		out.Media = append([]Media(nil), r.Media...)
	}
	return out
}

// ReportFilter constrains listing queries.
type ReportFilter struct {
	Kind     *ReportKind
	Status   *ReportStatus
	AuthorID string
	Page     int
	PageSize int
}
