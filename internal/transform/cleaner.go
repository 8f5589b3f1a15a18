// Package transform maps raw NS disruption payloads onto cleaned records:
// normalized types, UTC timestamps, derived duration and impact level, and a
// flattened affected-station list.
package transform

import (
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"

	"github.com/railsense/railwatch/internal/model"
	"github.com/railsense/railwatch/internal/resilience"
)

// ongoingGrace is the provisional horizon for disruptions the feed reports
// without an end time: effective end = now + 2h, revised on the next fetch.
const ongoingGrace = 2 * time.Hour

// minTitleRunes drops junk titles (test records, bare punctuation).
const minTitleRunes = 5

// nsPayload is the subset of the NS disruption document the transform needs.
type nsPayload struct {
	ID          string       `json:"id"`
	Type        string       `json:"type"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Start       string       `json:"start"`
	End         string       `json:"end"`
	Section     *nsSection   `json:"section"`
	Timespans   []nsTimespan `json:"timespans"`
}

type nsSection struct {
	Stations []nsStation `json:"stations"`
}

type nsTimespan struct {
	Situation *nsSituation `json:"situation"`
}

type nsSituation struct {
	Stations []nsStation `json:"stations"`
}

type nsStation struct {
	UICCode     string `json:"uicCode"`
	StationCode string `json:"stationCode"`
}

// timeLayouts covers the timestamp shapes the NS feed has been seen to emit:
// RFC 3339 and the same with a colonless zone offset.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05",
}

// Cleaner transforms raw records into cleaned disruptions. One Cleaner is
// built per run so every record in a batch shares the same reference data
// and timestamps are drawn from a single clock.
type Cleaner struct {
	policy      ImpactPolicy
	knownCodes  map[string]struct{}
	foldedNames map[string]string // folded station name -> code
	clock       clockwork.Clock
}

// CleanerOption customizes a Cleaner.
type CleanerOption func(*Cleaner)

// WithClock injects a clock for deterministic created_at/updated_at values.
func WithClock(clk clockwork.Clock) CleanerOption {
	return func(c *Cleaner) { c.clock = clk }
}

// NewCleaner builds a Cleaner with the given impact policy and station
// reference. The station list drives the title-based extraction fallback;
// an empty list disables code validation on that fallback.
func NewCleaner(policy ImpactPolicy, stations []model.Station, opts ...CleanerOption) *Cleaner {
	c := &Cleaner{
		policy:      policy,
		knownCodes:  make(map[string]struct{}, len(stations)),
		foldedNames: make(map[string]string, len(stations)),
		clock:       clockwork.NewRealClock(),
	}
	for _, s := range stations {
		c.knownCodes[s.Code] = struct{}{}
		if s.Name != "" {
			c.foldedNames[fold(s.Name)] = s.Code
		}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Clean transforms one raw record. Errors affect only this record; the
// caller isolates them and continues with the rest of the batch.
func (c *Cleaner) Clean(raw model.RawDisruption) (*model.Disruption, error) {
	if raw.DisruptionID == "" {
		return nil, eris.New("transform: missing disruption id")
	}

	var p nsPayload
	if err := json.Unmarshal(raw.Payload, &p); err != nil {
		return nil, eris.Wrapf(err, "transform: parse payload %s", raw.DisruptionID)
	}

	start, err := parseTime(p.Start)
	if err != nil {
		return nil, eris.Wrapf(err, "transform: start time of %s", raw.DisruptionID)
	}
	if start.IsZero() {
		return nil, eris.Errorf("transform: record %s has no start time", raw.DisruptionID)
	}

	now := c.clock.Now().UTC()

	end, err := parseTime(p.End)
	if err != nil {
		return nil, eris.Wrapf(err, "transform: end time of %s", raw.DisruptionID)
	}
	if end.IsZero() {
		// Ongoing: no end reported yet.
		end = now.Add(ongoingGrace)
	}

	var duration *float64
	if minutes := end.Sub(start).Minutes(); minutes >= 0 {
		duration = &minutes
	}

	typ := model.NormalizeType(p.Type)

	durationForImpact := 0.0
	if duration != nil {
		durationForImpact = *duration
	}

	return &model.Disruption{
		DisruptionID:     raw.DisruptionID,
		Type:             typ,
		Title:            cleanTitle(p.Title),
		Description:      p.Description,
		StartTime:        start,
		EndTime:          end,
		DurationMinutes:  duration,
		ImpactLevel:      c.policy.Level(typ, durationForImpact),
		AffectedStations: c.extractStations(&p),
		IsResolved:       false,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// CleanBatch transforms a batch, isolating per-record failures. It returns
// the cleaned records plus one TransformFailure per record that could not be
// transformed; the failure set never aborts the batch.
func (c *Cleaner) CleanBatch(raws []model.RawDisruption) ([]model.Disruption, []model.TransformFailure) {
	cleaned := make([]model.Disruption, 0, len(raws))
	var failures []model.TransformFailure

	for _, raw := range raws {
		d, err := c.Clean(raw)
		if err != nil {
			failures = append(failures, model.TransformFailure{
				DisruptionID: raw.DisruptionID,
				ErrorClass:   resilience.ClassifyError(err),
				ErrorMessage: err.Error(),
				Payload:      raw.Payload,
				OccurredAt:   c.clock.Now().UTC(),
			})
			continue
		}
		cleaned = append(cleaned, *d)
	}
	return cleaned, failures
}

func cleanTitle(title string) string {
	t := strings.TrimSpace(title)
	if utf8.RuneCountInString(t) < minTitleRunes {
		return ""
	}
	return t
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	var lastErr error
	for _, layout := range timeLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, eris.Wrapf(lastErr, "transform: parse time %q", s)
}
