package model

import (
	"strings"
	"time"
)

// DisruptionType is the normalized category of a disruption record.
type DisruptionType string

const (
	TypeDisruption   DisruptionType = "disruption"
	TypeMaintenance  DisruptionType = "maintenance"
	TypeCalamity     DisruptionType = "calamity"
	TypeCancellation DisruptionType = "cancellation"
)

// NormalizeType maps the Dutch type names used by the NS feed onto the
// normalized DisruptionType values. Unknown types pass through lowercased so
// new upstream categories are preserved rather than dropped.
func NormalizeType(raw string) DisruptionType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "verstoring", "storing", "disruption":
		return TypeDisruption
	case "werkzaamheden", "maintenance":
		return TypeMaintenance
	case "calamiteit", "calamity":
		return TypeCalamity
	case "cancellation":
		return TypeCancellation
	default:
		return DisruptionType(strings.ToLower(strings.TrimSpace(raw)))
	}
}

// RawDisruption is one record of the raw layer: the upstream payload exactly
// as fetched, keyed by the stable external disruption id. Re-fetching the
// same id overwrites payload and fetched_at.
type RawDisruption struct {
	DisruptionID string    `json:"disruption_id"`
	Payload      []byte    `json:"payload"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// Disruption is a cleaned, normalized disruption record. It is a pure
// function of the corresponding RawDisruption plus the transform rules, so
// the cleaned table can always be dropped and rebuilt from the raw layer.
type Disruption struct {
	DisruptionID     string         `json:"disruption_id"`
	Type             DisruptionType `json:"type"`
	Title            string         `json:"title"`
	Description      string         `json:"description,omitempty"`
	StartTime        time.Time      `json:"start_time"`
	EndTime          time.Time      `json:"end_time"`
	DurationMinutes  *float64       `json:"duration_minutes,omitempty"`
	ImpactLevel      int            `json:"impact_level"`
	AffectedStations string         `json:"affected_stations,omitempty"` // sorted, comma-joined station codes
	IsResolved       bool           `json:"is_resolved"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// StationCodes splits the denormalized station list back into codes.
func (d *Disruption) StationCodes() []string {
	if d.AffectedStations == "" {
		return nil
	}
	return strings.Split(d.AffectedStations, ",")
}

// TransformFailure records a raw record that could not be transformed.
// Failures are isolated per record: they never abort the batch, and keeping
// the payload alongside the error makes reprocessing possible once the
// transform is fixed.
type TransformFailure struct {
	DisruptionID string    `json:"disruption_id"`
	ErrorClass   string    `json:"error_class"`
	ErrorMessage string    `json:"error_message"`
	Payload      []byte    `json:"payload,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}
