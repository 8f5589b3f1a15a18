// Package store persists the two-layer disruption schema (raw + cleaned),
// the station reference table, and the derived daily statistics. Two
// backends implement the same interface: SQLite for the default local
// deployment and Postgres for the planned shared instance.
package store

import (
	"context"
	"time"

	"github.com/railsense/railwatch/internal/model"
)

// DisruptionFilter specifies criteria for listing cleaned disruptions.
type DisruptionFilter struct {
	Type     model.DisruptionType `json:"type,omitempty"`
	Resolved *bool                `json:"resolved,omitempty"`
	Limit    int                  `json:"limit,omitempty"`
	Offset   int                  `json:"offset,omitempty"`
}

// Store is the persistence interface for the disruption pipeline.
//
// All upserts are keyed by the external disruption id and retry-safe:
// re-running a load with identical input leaves table state identical apart
// from updated_at / fetched_at.
type Store interface {
	// Raw layer
	UpsertRaw(ctx context.Context, records []model.RawDisruption) (int64, error)
	GetRaw(ctx context.Context, disruptionID string) (*model.RawDisruption, error)
	ListRaw(ctx context.Context) ([]model.RawDisruption, error)

	// Cleaned layer
	UpsertDisruptions(ctx context.Context, records []model.Disruption) (int64, error)
	GetDisruption(ctx context.Context, disruptionID string) (*model.Disruption, error)
	ListDisruptions(ctx context.Context, filter DisruptionFilter) ([]model.Disruption, error)
	ActiveDisruptions(ctx context.Context) ([]model.Disruption, error)
	// MarkResolvedExcept flags every unresolved disruption whose id is not
	// in activeIDs: anything that dropped out of the feed is over.
	MarkResolvedExcept(ctx context.Context, activeIDs []string, now time.Time) (int64, error)
	// WipeDisruptions clears the cleaned table so it can be rebuilt from raw.
	WipeDisruptions(ctx context.Context) error

	// Station reference
	SeedStations(ctx context.Context, stations []model.Station) error
	ListStations(ctx context.Context) ([]model.Station, error)

	// Daily aggregation
	RecomputeDailyStats(ctx context.Context) (int, error)
	ListDailyStats(ctx context.Context, limit int) ([]model.DailyStat, error)

	// Transform dead letters
	RecordTransformFailures(ctx context.Context, failures []model.TransformFailure) error
	ListTransformFailures(ctx context.Context, limit int) ([]model.TransformFailure, error)

	// Analytics (read-only derivations over the cleaned layer)
	RollingTrend(ctx context.Context, days int) ([]model.TrendPoint, error)
	StationSeverity(ctx context.Context) ([]model.StationSeverity, error)
	DayOverDay(ctx context.Context) ([]model.DayDelta, error)
	PeakHours(ctx context.Context, limit int) ([]model.PeakHour, error)
	OverlappingDisruptions(ctx context.Context, days, limit int) ([]model.Overlap, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// riskCategory buckets a severity percentile the way the reporting side
// expects: worst 10% HIGH, next 20% MEDIUM, rest LOW.
func riskCategory(percentile float64) string {
	switch {
	case percentile > 0.9:
		return "HIGH RISK"
	case percentile > 0.7:
		return "MEDIUM RISK"
	default:
		return "LOW RISK"
	}
}
