package model

import "time"

// DailyStat is one aggregated row per calendar date, recomputed from the
// full cleaned table on every run. A disruption counts toward a date when
// its [start, end] interval overlaps that date.
type DailyStat struct {
	Date               string    `json:"date"` // YYYY-MM-DD
	Total              int       `json:"total"`
	Disruptions        int       `json:"disruptions"`
	Maintenance        int       `json:"maintenance"`
	Calamities         int       `json:"calamities"`
	Cancellations      int       `json:"cancellations"`
	AvgDurationMinutes *float64  `json:"avg_duration_minutes,omitempty"`
	MaxImpact          int       `json:"max_impact"`
	Active             int       `json:"active"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// TrendPoint is one row of the 30-day trend query: per-date per-type counts
// with a 7-row rolling window.
type TrendPoint struct {
	Date               string   `json:"date"`
	Type               string   `json:"type"`
	IncidentCount      int      `json:"incident_count"`
	AvgDurationMinutes *float64 `json:"avg_duration_minutes,omitempty"`
	Rolling7Total      int      `json:"rolling_7day_total"`
	Rolling7Avg        float64  `json:"rolling_7day_avg"`
}

// StationSeverity ranks a station by how often it appears in the
// denormalized affected-station lists.
type StationSeverity struct {
	Code               string   `json:"station_code"`
	Name               string   `json:"station_name,omitempty"`
	TotalDisruptions   int      `json:"total_disruptions"`
	AvgDurationMinutes *float64 `json:"avg_duration_minutes,omitempty"`
	AvgImpact          float64  `json:"avg_impact_level"`
	Percentile         float64  `json:"disruption_percentile"`
	Rank               int      `json:"severity_rank"`
	RiskCategory       string   `json:"risk_category"`
}

// DayDelta is one row of the day-over-day comparison: totals with LAG-based
// deltas. Pointer fields are nil on the first date, where no previous day
// exists.
type DayDelta struct {
	Date               string   `json:"date"`
	Total              int      `json:"total"`
	AvgDurationMinutes *float64 `json:"avg_duration_minutes,omitempty"`
	MaxImpact          int      `json:"max_impact"`
	PrevDayTotal       *int     `json:"prev_day_total,omitempty"`
	Delta              *int     `json:"dod_delta,omitempty"`
	PctChange          *float64 `json:"dod_pct_change,omitempty"`
	Rolling7Total      int      `json:"rolling_7day"`
}

// PeakHour is one row of the hour-of-week ranking.
type PeakHour struct {
	DayName            string   `json:"day_name"`
	Hour               string   `json:"hour_label"` // "08:00"
	Count              int      `json:"disruption_count"`
	AvgDurationMinutes *float64 `json:"avg_duration_minutes,omitempty"`
	AvgImpact          float64  `json:"avg_impact_level"`
	Rank               int      `json:"rank"`
}

// Overlap pairs two disruptions that were active at the same time.
type Overlap struct {
	DisruptionA    string `json:"disruption_a"`
	DisruptionB    string `json:"disruption_b"`
	TypeA          string `json:"type_a"`
	TypeB          string `json:"type_b"`
	OverlapMinutes int    `json:"overlap_minutes"`
}

// AnalyticsReport bundles the full analytics suite for the stats command
// and the read-only API.
type AnalyticsReport struct {
	Trend           []TrendPoint      `json:"trend"`
	StationSeverity []StationSeverity `json:"station_severity"`
	DayOverDay      []DayDelta        `json:"day_over_day"`
	PeakHours       []PeakHour        `json:"peak_hours"`
	Overlaps        []Overlap         `json:"overlaps"`
}
