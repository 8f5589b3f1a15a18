package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/railsense/railwatch/internal/model"
)

// day returns midnight UTC n days before today. The trend and overlap
// queries window on the current date, so fixtures anchor on time.Now.
func day(n int) time.Time {
	y, m, d := time.Now().UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -n)
}

func TestSQLite_RollingTrend(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.UpsertDisruptions(ctx, []model.Disruption{
		makeDisruption("prio-1", model.TypeDisruption, day(3).Add(8*time.Hour), day(3).Add(9*time.Hour), 2, ""),
		makeDisruption("prio-2", model.TypeDisruption, day(2).Add(8*time.Hour), day(2).Add(9*time.Hour), 2, ""),
		makeDisruption("prio-3", model.TypeDisruption, day(2).Add(10*time.Hour), day(2).Add(11*time.Hour), 2, ""),
		makeDisruption("werk-1", model.TypeMaintenance, day(2).Add(1*time.Hour), day(2).Add(5*time.Hour), 3, ""),
	})
	require.NoError(t, err)

	points, err := st.RollingTrend(ctx, 30)
	require.NoError(t, err)
	require.Len(t, points, 3)

	// Ordered by date then type; the rolling window accumulates per type.
	assert.Equal(t, string(model.TypeDisruption), points[0].Type)
	assert.Equal(t, 1, points[0].IncidentCount)
	assert.Equal(t, 1, points[0].Rolling7Total)

	assert.Equal(t, string(model.TypeDisruption), points[1].Type)
	assert.Equal(t, 2, points[1].IncidentCount)
	assert.Equal(t, 3, points[1].Rolling7Total)
	assert.InDelta(t, 1.5, points[1].Rolling7Avg, 0.001)

	assert.Equal(t, string(model.TypeMaintenance), points[2].Type)
	assert.Equal(t, 1, points[2].Rolling7Total)
}

func TestSQLite_RollingTrend_ExcludesOldRows(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.UpsertDisruptions(ctx, []model.Disruption{
		makeDisruption("prio-old", model.TypeDisruption, day(90), day(90).Add(time.Hour), 2, ""),
		makeDisruption("prio-new", model.TypeDisruption, day(1), day(1).Add(time.Hour), 2, ""),
	})
	require.NoError(t, err)

	points, err := st.RollingTrend(ctx, 7)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, 1, points[0].IncidentCount)
}

func TestSQLite_StationSeverity(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.SeedStations(ctx, []model.Station{
		{Code: "ASD", Name: "Amsterdam Centraal"},
		{Code: "UT", Name: "Utrecht Centraal"},
	}))

	_, err := st.UpsertDisruptions(ctx, []model.Disruption{
		makeDisruption("prio-1", model.TypeDisruption, day(3), day(3).Add(time.Hour), 4, "ASD,UT"),
		makeDisruption("prio-2", model.TypeDisruption, day(2), day(2).Add(time.Hour), 2, "ASD"),
		makeDisruption("prio-3", model.TypeDisruption, day(1), day(1).Add(time.Hour), 3, "ASD"),
		makeDisruption("prio-4", model.TypeDisruption, day(1), day(1).Add(2*time.Hour), 2, ""),
	})
	require.NoError(t, err)

	ranked, err := st.StationSeverity(ctx)
	require.NoError(t, err)
	require.Len(t, ranked, 2)

	top := ranked[0]
	assert.Equal(t, "ASD", top.Code)
	assert.Equal(t, "Amsterdam Centraal", top.Name)
	assert.Equal(t, 3, top.TotalDisruptions)
	assert.Equal(t, 1, top.Rank)
	assert.InDelta(t, 3.0, top.AvgImpact, 0.001)
	assert.Equal(t, "HIGH RISK", top.RiskCategory)

	assert.Equal(t, "UT", ranked[1].Code)
	assert.Equal(t, 1, ranked[1].TotalDisruptions)
	assert.Equal(t, "LOW RISK", ranked[1].RiskCategory)
}

func TestSQLite_StationSeverity_UnknownCodeKeepsRow(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.UpsertDisruptions(ctx, []model.Disruption{
		makeDisruption("prio-1", model.TypeDisruption, day(1), day(1).Add(time.Hour), 2, "XXX"),
	})
	require.NoError(t, err)

	ranked, err := st.StationSeverity(ctx)
	require.NoError(t, err)
	require.Len(t, ranked, 1)
	assert.Equal(t, "XXX", ranked[0].Code)
	assert.Empty(t, ranked[0].Name)
}

func TestSQLite_DayOverDay(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.UpsertDisruptions(ctx, []model.Disruption{
		makeDisruption("prio-1", model.TypeDisruption, day(2).Add(8*time.Hour), day(2).Add(9*time.Hour), 2, ""),
		makeDisruption("prio-2", model.TypeDisruption, day(1).Add(8*time.Hour), day(1).Add(9*time.Hour), 3, ""),
		makeDisruption("prio-3", model.TypeDisruption, day(1).Add(10*time.Hour), day(1).Add(11*time.Hour), 4, ""),
		makeDisruption("prio-4", model.TypeDisruption, day(1).Add(12*time.Hour), day(1).Add(13*time.Hour), 2, ""),
	})
	require.NoError(t, err)

	deltas, err := st.DayOverDay(ctx)
	require.NoError(t, err)
	require.Len(t, deltas, 2)

	first := deltas[0]
	assert.Equal(t, 1, first.Total)
	assert.Nil(t, first.PrevDayTotal)
	assert.Nil(t, first.Delta)
	assert.Nil(t, first.PctChange)
	assert.Equal(t, 1, first.Rolling7Total)

	second := deltas[1]
	assert.Equal(t, 3, second.Total)
	assert.Equal(t, 4, second.MaxImpact)
	require.NotNil(t, second.PrevDayTotal)
	assert.Equal(t, 1, *second.PrevDayTotal)
	require.NotNil(t, second.Delta)
	assert.Equal(t, 2, *second.Delta)
	require.NotNil(t, second.PctChange)
	assert.InDelta(t, 200.0, *second.PctChange, 0.001)
	assert.Equal(t, 4, second.Rolling7Total)
}

func TestSQLite_PeakHours(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	// Two disruptions in the same weekday-hour bucket, one elsewhere.
	monday := time.Date(2026, 2, 9, 8, 0, 0, 0, time.UTC)
	_, err := st.UpsertDisruptions(ctx, []model.Disruption{
		makeDisruption("prio-1", model.TypeDisruption, monday.Add(5*time.Minute), monday.Add(time.Hour), 2, ""),
		makeDisruption("prio-2", model.TypeDisruption, monday.Add(30*time.Minute), monday.Add(2*time.Hour), 4, ""),
		makeDisruption("prio-3", model.TypeDisruption, monday.Add(26*time.Hour), monday.Add(27*time.Hour), 2, ""),
	})
	require.NoError(t, err)

	peaks, err := st.PeakHours(ctx, 5)
	require.NoError(t, err)
	require.Len(t, peaks, 2)

	top := peaks[0]
	assert.Equal(t, "Monday", top.DayName)
	assert.Equal(t, "08:00", top.Hour)
	assert.Equal(t, 2, top.Count)
	assert.Equal(t, 1, top.Rank)
	assert.InDelta(t, 3.0, top.AvgImpact, 0.001)

	assert.Equal(t, "Tuesday", peaks[1].DayName)
	assert.Equal(t, 2, peaks[1].Rank)
}

func TestSQLite_OverlappingDisruptions(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	base := day(1).Add(8 * time.Hour)

	_, err := st.UpsertDisruptions(ctx, []model.Disruption{
		makeDisruption("prio-1", model.TypeDisruption, base, base.Add(time.Hour), 3, ""),
		makeDisruption("werk-1", model.TypeMaintenance, base.Add(30*time.Minute), base.Add(2*time.Hour), 3, ""),
		makeDisruption("prio-2", model.TypeDisruption, base.Add(5*time.Hour), base.Add(6*time.Hour), 2, ""),
	})
	require.NoError(t, err)

	overlaps, err := st.OverlappingDisruptions(ctx, 7, 10)
	require.NoError(t, err)
	require.Len(t, overlaps, 1)

	ov := overlaps[0]
	assert.Equal(t, "prio-1", ov.DisruptionA)
	assert.Equal(t, "werk-1", ov.DisruptionB)
	assert.Equal(t, string(model.TypeDisruption), ov.TypeA)
	assert.Equal(t, string(model.TypeMaintenance), ov.TypeB)
	assert.Equal(t, 30, ov.OverlapMinutes)
}

func TestSQLite_Analytics_EmptyTables(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	trend, err := st.RollingTrend(ctx, 30)
	require.NoError(t, err)
	assert.Empty(t, trend)

	ranked, err := st.StationSeverity(ctx)
	require.NoError(t, err)
	assert.Empty(t, ranked)

	deltas, err := st.DayOverDay(ctx)
	require.NoError(t, err)
	assert.Empty(t, deltas)

	peaks, err := st.PeakHours(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, peaks)

	overlaps, err := st.OverlappingDisruptions(ctx, 7, 10)
	require.NoError(t, err)
	assert.Empty(t, overlaps)
}
