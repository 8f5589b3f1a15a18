package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/railsense/railwatch/internal/model"
	"github.com/railsense/railwatch/internal/store"
)

func newTestAPIServer(t *testing.T) (*httptest.Server, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	srv := httptest.NewServer(newAPIRouter(st, analyticsParams{TrendDays: 30, OverlapDays: 7, PeakHourRows: 10}))
	t.Cleanup(srv.Close)
	return srv, st
}

func seedAPIData(t *testing.T, st *store.SQLiteStore) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, st.SeedStations(ctx, []model.Station{
		{Code: "ASD", Name: "Amsterdam Centraal", Lat: 52.3789, Lon: 4.9003},
		{Code: "UT", Name: "Utrecht Centraal", Lat: 52.0894, Lon: 5.11},
	}))

	duration := 90.0
	_, err := st.UpsertDisruptions(ctx, []model.Disruption{
		{
			DisruptionID:     "prio-1",
			Type:             model.TypeDisruption,
			Title:            "Seinstoring tussen stations",
			StartTime:        now.Add(-time.Hour),
			EndTime:          now.Add(time.Hour),
			DurationMinutes:  &duration,
			ImpactLevel:      4,
			AffectedStations: "ASD,UT",
			CreatedAt:        now,
			UpdatedAt:        now,
		},
		{
			DisruptionID: "werk-1",
			Type:         model.TypeMaintenance,
			Title:        "Geplande werkzaamheden",
			StartTime:    now.Add(-26 * time.Hour),
			EndTime:      now.Add(-25 * time.Hour),
			ImpactLevel:  3,
			IsResolved:   true,
			CreatedAt:    now,
			UpdatedAt:    now,
		},
	})
	require.NoError(t, err)

	_, err = st.RecomputeDailyStats(ctx)
	require.NoError(t, err)
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestAPI_Health(t *testing.T) {
	srv, _ := newTestAPIServer(t)

	var body map[string]string
	status := getJSON(t, srv.URL+"/health", &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}

func TestAPI_ListDisruptions_TypeFilter(t *testing.T) {
	srv, st := newTestAPIServer(t)
	seedAPIData(t, st)

	var disruptions []model.Disruption
	status := getJSON(t, srv.URL+"/api/disruptions?type=maintenance", &disruptions)
	assert.Equal(t, http.StatusOK, status)
	require.Len(t, disruptions, 1)
	assert.Equal(t, "werk-1", disruptions[0].DisruptionID)
}

func TestAPI_ListDisruptions_EmptyIsArray(t *testing.T) {
	srv, _ := newTestAPIServer(t)

	resp, err := http.Get(srv.URL + "/api/disruptions")
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck

	var raw json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	assert.JSONEq(t, `[]`, string(raw))
}

func TestAPI_ActiveDisruptions(t *testing.T) {
	srv, st := newTestAPIServer(t)
	seedAPIData(t, st)

	var active []model.Disruption
	status := getJSON(t, srv.URL+"/api/disruptions/active", &active)
	assert.Equal(t, http.StatusOK, status)
	require.Len(t, active, 1)
	assert.Equal(t, "prio-1", active[0].DisruptionID)
}

func TestAPI_GetDisruption(t *testing.T) {
	srv, st := newTestAPIServer(t)
	seedAPIData(t, st)

	var d model.Disruption
	status := getJSON(t, srv.URL+"/api/disruptions/prio-1", &d)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, []string{"ASD", "UT"}, d.StationCodes())

	status = getJSON(t, srv.URL+"/api/disruptions/nonexistent", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPI_Stations(t *testing.T) {
	srv, st := newTestAPIServer(t)
	seedAPIData(t, st)

	var stations []model.Station
	status := getJSON(t, srv.URL+"/api/stations", &stations)
	assert.Equal(t, http.StatusOK, status)
	require.Len(t, stations, 2)
	assert.Equal(t, "ASD", stations[0].Code)
}

func TestAPI_DailyStats(t *testing.T) {
	srv, st := newTestAPIServer(t)
	seedAPIData(t, st)

	var stats []model.DailyStat
	status := getJSON(t, srv.URL+"/api/stats/daily", &stats)
	assert.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, stats)
}

func TestAPI_StationStats(t *testing.T) {
	srv, st := newTestAPIServer(t)
	seedAPIData(t, st)

	var ranked []model.StationSeverity
	status := getJSON(t, srv.URL+"/api/stats/stations", &ranked)
	assert.Equal(t, http.StatusOK, status)
	require.Len(t, ranked, 2)
	assert.Equal(t, "Amsterdam Centraal", ranked[0].Name)
}

func TestAPI_AnalyticsReport(t *testing.T) {
	srv, st := newTestAPIServer(t)
	seedAPIData(t, st)

	var report model.AnalyticsReport
	status := getJSON(t, srv.URL+"/api/stats/analytics", &report)
	assert.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, report.Trend)
	assert.NotEmpty(t, report.StationSeverity)
	assert.NotEmpty(t, report.DayOverDay)
	assert.NotEmpty(t, report.PeakHours)
}
