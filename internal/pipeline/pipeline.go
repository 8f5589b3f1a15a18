// Package pipeline orchestrates the daily load: fetch the feed, land the
// payloads in the raw layer, transform them into cleaned records, resolve
// disruptions that dropped out of the feed, and rebuild the daily stats.
package pipeline

import (
	"context"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/railsense/railwatch/internal/fetcher"
	"github.com/railsense/railwatch/internal/model"
	"github.com/railsense/railwatch/internal/store"
	"github.com/railsense/railwatch/internal/transform"
)

// Pipeline wires the fetcher, the transform, and the store into one run.
type Pipeline struct {
	fetcher fetcher.Fetcher
	store   store.Store
	cleaner *transform.Cleaner
	clock   clockwork.Clock
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithClock injects a clock for deterministic run timestamps.
func WithClock(clk clockwork.Clock) Option {
	return func(p *Pipeline) { p.clock = clk }
}

// New builds a Pipeline. The cleaner is constructed per run by the caller so
// each run sees the current station reference data.
func New(f fetcher.Fetcher, st store.Store, cleaner *transform.Cleaner, opts ...Option) *Pipeline {
	p := &Pipeline{
		fetcher: f,
		store:   st,
		cleaner: cleaner,
		clock:   clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes one full load. Stages run strictly in order: every record
// fetched is landed raw before any transform starts, so a transform bug never
// costs data.
func (p *Pipeline) Run(ctx context.Context) (*model.RunReport, error) {
	report := &model.RunReport{
		RunID:     uuid.New().String(),
		StartedAt: p.clock.Now().UTC(),
	}
	log := zap.L().With(zap.String("run_id", report.RunID))

	raws, err := p.fetcher.FetchDisruptions(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: fetch disruptions")
	}
	report.Fetched = len(raws)
	log.Info("fetched disruption feed", zap.Int("records", len(raws)))

	rawN, err := p.store.UpsertRaw(ctx, raws)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: land raw layer")
	}
	report.RawUpserted = int(rawN)

	if err := p.transformAndStore(ctx, raws, report, log); err != nil {
		return nil, err
	}

	// Presence in the feed is what keeps a disruption active; a transform
	// failure does not resolve it.
	activeIDs := make([]string, 0, len(raws))
	for _, r := range raws {
		activeIDs = append(activeIDs, r.DisruptionID)
	}
	marked, err := p.store.MarkResolvedExcept(ctx, activeIDs, p.clock.Now().UTC())
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: mark resolved")
	}
	report.MarkedResolved = int(marked)
	if marked > 0 {
		log.Info("resolved disruptions absent from feed", zap.Int64("count", marked))
	}

	if err := p.recomputeStats(ctx, report, log); err != nil {
		return nil, err
	}

	report.ElapsedMS = p.clock.Now().UTC().Sub(report.StartedAt).Milliseconds()
	log.Info("run complete",
		zap.Int("fetched", report.Fetched),
		zap.Int("transformed", report.Transformed),
		zap.Int("failed", len(report.FailedIDs)),
		zap.Int("stat_dates", report.StatDates),
		zap.Int64("elapsed_ms", report.ElapsedMS),
	)
	return report, nil
}

// Rebuild drops the cleaned layer and re-derives it from the raw layer with
// the current transform rules. The feed is not contacted.
func (p *Pipeline) Rebuild(ctx context.Context) (*model.RunReport, error) {
	report := &model.RunReport{
		RunID:     uuid.New().String(),
		StartedAt: p.clock.Now().UTC(),
	}
	log := zap.L().With(zap.String("run_id", report.RunID))

	raws, err := p.store.ListRaw(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: rebuild: list raw")
	}
	report.Fetched = len(raws)
	log.Info("rebuilding cleaned layer from raw", zap.Int("records", len(raws)))

	if err := p.store.WipeDisruptions(ctx); err != nil {
		return nil, eris.Wrap(err, "pipeline: rebuild: wipe cleaned layer")
	}

	if err := p.transformAndStore(ctx, raws, report, log); err != nil {
		return nil, err
	}
	if err := p.recomputeStats(ctx, report, log); err != nil {
		return nil, err
	}

	report.ElapsedMS = p.clock.Now().UTC().Sub(report.StartedAt).Milliseconds()
	log.Info("rebuild complete",
		zap.Int("transformed", report.Transformed),
		zap.Int("failed", len(report.FailedIDs)),
	)
	return report, nil
}

func (p *Pipeline) transformAndStore(ctx context.Context, raws []model.RawDisruption, report *model.RunReport, log *zap.Logger) error {
	cleaned, failures := p.cleaner.CleanBatch(raws)
	report.Transformed = len(cleaned)
	for _, f := range failures {
		report.FailedIDs = append(report.FailedIDs, f.DisruptionID)
	}

	if _, err := p.store.UpsertDisruptions(ctx, cleaned); err != nil {
		return eris.Wrap(err, "pipeline: upsert cleaned layer")
	}
	if err := p.store.RecordTransformFailures(ctx, failures); err != nil {
		return eris.Wrap(err, "pipeline: record transform failures")
	}
	if len(failures) > 0 {
		log.Warn("some records failed to transform",
			zap.Int("failed", len(failures)),
			zap.Strings("disruption_ids", report.FailedIDs),
		)
	}
	return nil
}

func (p *Pipeline) recomputeStats(ctx context.Context, report *model.RunReport, log *zap.Logger) error {
	dates, err := p.store.RecomputeDailyStats(ctx)
	if err != nil {
		return eris.Wrap(err, "pipeline: recompute daily stats")
	}
	report.StatDates = dates
	log.Info("daily stats recomputed", zap.Int("dates", dates))
	return nil
}
