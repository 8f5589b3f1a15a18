package transform

import (
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/railsense/railwatch/internal/model"
)

var testNow = time.Date(2026, 2, 14, 12, 0, 0, 0, time.UTC)

func testStations() []model.Station {
	return []model.Station{
		{Code: "ASD", Name: "Amsterdam Centraal", Lat: 52.379, Lon: 4.900},
		{Code: "UT", Name: "Utrecht Centraal", Lat: 52.089, Lon: 5.110},
		{Code: "RTD", Name: "Rotterdam Centraal", Lat: 51.925, Lon: 4.469},
		{Code: "GVC", Name: "Den Haag Centraal", Lat: 52.081, Lon: 4.324},
	}
}

func newTestCleaner(t *testing.T) *Cleaner {
	t.Helper()
	return NewCleaner(DefaultImpactPolicy(), testStations(), WithClock(clockwork.NewFakeClockAt(testNow)))
}

func rawRecord(id, payload string) model.RawDisruption {
	return model.RawDisruption{DisruptionID: id, Payload: []byte(payload), FetchedAt: testNow}
}

func TestClean_FullRecord(t *testing.T) {
	c := newTestCleaner(t)

	d, err := c.Clean(rawRecord("prio-13345", `{
		"id": "prio-13345",
		"type": "verstoring",
		"title": "Storing tussen Amsterdam en Utrecht",
		"description": "Door een seinstoring rijden er minder treinen.",
		"start": "2026-02-14T08:30:00+0100",
		"end": "2026-02-14T10:00:00+0100",
		"timespans": [{"situation": {"stations": [{"stationCode": "ASD"}, {"stationCode": "UT"}]}}]
	}`))
	require.NoError(t, err)

	assert.Equal(t, "prio-13345", d.DisruptionID)
	assert.Equal(t, model.TypeDisruption, d.Type)
	assert.Equal(t, "Storing tussen Amsterdam en Utrecht", d.Title)
	assert.Equal(t, time.Date(2026, 2, 14, 7, 30, 0, 0, time.UTC), d.StartTime)
	assert.Equal(t, time.Date(2026, 2, 14, 9, 0, 0, 0, time.UTC), d.EndTime)
	require.NotNil(t, d.DurationMinutes)
	assert.InDelta(t, 90.0, *d.DurationMinutes, 0.001)
	assert.Equal(t, 3, d.ImpactLevel) // disruption, 60 < 90 <= 120
	assert.Equal(t, "ASD,UT", d.AffectedStations)
	assert.False(t, d.IsResolved)
	assert.Equal(t, testNow, d.CreatedAt)
	assert.Equal(t, testNow, d.UpdatedAt)
}

func TestClean_OngoingGetsProvisionalEnd(t *testing.T) {
	c := newTestCleaner(t)

	d, err := c.Clean(rawRecord("prio-1", `{
		"id": "prio-1",
		"type": "storing",
		"title": "Storing rond Rotterdam Centraal",
		"start": "2026-02-14T11:00:00Z"
	}`))
	require.NoError(t, err)

	assert.Equal(t, testNow.Add(2*time.Hour), d.EndTime)
	require.NotNil(t, d.DurationMinutes)
	assert.InDelta(t, 180.0, *d.DurationMinutes, 0.001) // 11:00 -> 14:00
}

func TestClean_NegativeDurationDropped(t *testing.T) {
	c := newTestCleaner(t)

	d, err := c.Clean(rawRecord("prio-2", `{
		"id": "prio-2",
		"type": "verstoring",
		"title": "Korte storing Utrecht",
		"start": "2026-02-14T10:00:00Z",
		"end": "2026-02-14T09:00:00Z"
	}`))
	require.NoError(t, err)
	assert.Nil(t, d.DurationMinutes)
	assert.Equal(t, 2, d.ImpactLevel) // missing duration counts as zero
}

func TestClean_ShortTitleBlanked(t *testing.T) {
	c := newTestCleaner(t)

	d, err := c.Clean(rawRecord("prio-3", `{
		"id": "prio-3", "type": "verstoring", "title": "  ok  ",
		"start": "2026-02-14T10:00:00Z", "end": "2026-02-14T10:30:00Z"
	}`))
	require.NoError(t, err)
	assert.Empty(t, d.Title)
}

func TestClean_MissingStartFails(t *testing.T) {
	c := newTestCleaner(t)

	_, err := c.Clean(rawRecord("prio-4", `{"id": "prio-4", "type": "verstoring", "title": "Storing zonder start"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no start time")
}

func TestClean_MalformedPayloadFails(t *testing.T) {
	c := newTestCleaner(t)

	_, err := c.Clean(rawRecord("prio-5", `{not json`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse payload")
}

func TestClean_TypeNormalization(t *testing.T) {
	c := newTestCleaner(t)

	cases := map[string]model.DisruptionType{
		"verstoring":    model.TypeDisruption,
		"storing":       model.TypeDisruption,
		"werkzaamheden": model.TypeMaintenance,
		"calamiteit":    model.TypeCalamity,
		"CALAMITEIT":    model.TypeCalamity,
		"prorail":       model.DisruptionType("prorail"),
	}
	for raw, want := range cases {
		d, err := c.Clean(rawRecord("prio-6", fmt.Sprintf(
			`{"id":"prio-6","type":%q,"title":"Type mapping check","start":"2026-02-14T10:00:00Z","end":"2026-02-14T10:30:00Z"}`, raw,
		)))
		require.NoError(t, err, raw)
		assert.Equal(t, want, d.Type, raw)
	}
}

func TestCleanBatch_IsolatesFailures(t *testing.T) {
	c := newTestCleaner(t)

	raws := []model.RawDisruption{
		rawRecord("good-1", `{"id":"good-1","type":"verstoring","title":"Storing bij Amsterdam","start":"2026-02-14T08:00:00Z","end":"2026-02-14T09:00:00Z"}`),
		rawRecord("bad-1", `{broken`),
		rawRecord("good-2", `{"id":"good-2","type":"werkzaamheden","title":"Werkzaamheden Utrecht","start":"2026-02-14T06:00:00Z","end":"2026-02-14T18:00:00Z"}`),
		rawRecord("bad-2", `{"id":"bad-2","type":"verstoring","title":"Geen starttijd"}`),
	}

	cleaned, failures := c.CleanBatch(raws)

	require.Len(t, cleaned, 2)
	assert.Equal(t, "good-1", cleaned[0].DisruptionID)
	assert.Equal(t, "good-2", cleaned[1].DisruptionID)

	require.Len(t, failures, 2)
	assert.Equal(t, "bad-1", failures[0].DisruptionID)
	assert.Equal(t, "permanent", failures[0].ErrorClass)
	assert.NotEmpty(t, failures[0].ErrorMessage)
	assert.Equal(t, "bad-2", failures[1].DisruptionID)
}

func TestCleanBatch_AllGood(t *testing.T) {
	c := newTestCleaner(t)
	cleaned, failures := c.CleanBatch([]model.RawDisruption{
		rawRecord("a", `{"id":"a","type":"verstoring","title":"Storing bij Rotterdam","start":"2026-02-14T08:00:00Z","end":"2026-02-14T08:45:00Z"}`),
	})
	require.Len(t, cleaned, 1)
	assert.Empty(t, failures)
}
