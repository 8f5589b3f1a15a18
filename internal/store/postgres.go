package store

import (
	"context"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/railsense/railwatch/internal/db"
	"github.com/railsense/railwatch/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests to inject pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: pool.Close}
}

// Pool returns the underlying database pool for subsystems that need direct
// query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS raw_disruptions (
	disruption_id TEXT PRIMARY KEY,
	payload       JSONB NOT NULL,
	fetched_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS disruptions (
	disruption_id     TEXT PRIMARY KEY,
	type              TEXT NOT NULL,
	title             TEXT NOT NULL,
	description       TEXT NOT NULL DEFAULT '',
	start_time        TIMESTAMPTZ NOT NULL,
	end_time          TIMESTAMPTZ NOT NULL,
	duration_minutes  DOUBLE PRECISION,
	impact_level      INTEGER NOT NULL,
	affected_stations TEXT NOT NULL DEFAULT '',
	is_resolved       BOOLEAN NOT NULL DEFAULT FALSE,
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS stations (
	code TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	lat  DOUBLE PRECISION NOT NULL DEFAULT 0,
	lon  DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS daily_stats (
	date                 DATE PRIMARY KEY,
	total                INTEGER NOT NULL,
	disruptions          INTEGER NOT NULL,
	maintenance          INTEGER NOT NULL,
	calamities           INTEGER NOT NULL,
	cancellations        INTEGER NOT NULL,
	avg_duration_minutes DOUBLE PRECISION,
	max_impact           INTEGER NOT NULL,
	active               INTEGER NOT NULL,
	updated_at           TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS transform_failures (
	id            BIGSERIAL PRIMARY KEY,
	disruption_id TEXT NOT NULL,
	error_class   TEXT NOT NULL,
	error_message TEXT NOT NULL,
	payload       JSONB,
	occurred_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_disruptions_type ON disruptions(type);
CREATE INDEX IF NOT EXISTS idx_disruptions_start_time ON disruptions(start_time);
CREATE INDEX IF NOT EXISTS idx_disruptions_resolved ON disruptions(is_resolved);
CREATE INDEX IF NOT EXISTS idx_transform_failures_occurred_at ON transform_failures(occurred_at);

CREATE OR REPLACE VIEW active_disruptions AS
SELECT disruption_id, type, title, description, start_time, end_time,
       duration_minutes, impact_level, affected_stations, is_resolved,
       created_at, updated_at
FROM disruptions
WHERE NOT is_resolved AND end_time > now();

CREATE OR REPLACE VIEW station_stats AS
SELECT u.station_code,
       COUNT(*) AS total_disruptions,
       AVG(d.duration_minutes) AS avg_duration_minutes,
       AVG(d.impact_level) AS avg_impact_level
FROM disruptions d
CROSS JOIN LATERAL unnest(string_to_array(d.affected_stations, ',')) AS u(station_code)
WHERE d.affected_stations <> ''
GROUP BY u.station_code;
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) UpsertRaw(ctx context.Context, records []model.RawDisruption) (int64, error) {
	rows := make([][]any, 0, len(records))
	for _, r := range records {
		rows = append(rows, []any{r.DisruptionID, string(r.Payload), r.FetchedAt.UTC()})
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "raw_disruptions",
		Columns:      []string{"disruption_id", "payload", "fetched_at"},
		ConflictKeys: []string{"disruption_id"},
	}, rows)
	return n, eris.Wrap(err, "postgres: upsert raw")
}

func (s *PostgresStore) GetRaw(ctx context.Context, disruptionID string) (*model.RawDisruption, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT disruption_id, payload, fetched_at FROM raw_disruptions WHERE disruption_id = $1`,
		disruptionID,
	)
	var r model.RawDisruption
	err := row.Scan(&r.DisruptionID, &r.Payload, &r.FetchedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get raw %s", disruptionID)
	}
	return &r, nil
}

func (s *PostgresStore) ListRaw(ctx context.Context) ([]model.RawDisruption, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT disruption_id, payload, fetched_at FROM raw_disruptions ORDER BY disruption_id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list raw")
	}
	defer rows.Close()

	var records []model.RawDisruption
	for rows.Next() {
		var r model.RawDisruption
		if err := rows.Scan(&r.DisruptionID, &r.Payload, &r.FetchedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan raw")
		}
		records = append(records, r)
	}
	return records, eris.Wrap(rows.Err(), "postgres: list raw iterate")
}

func (s *PostgresStore) UpsertDisruptions(ctx context.Context, records []model.Disruption) (int64, error) {
	rows := make([][]any, 0, len(records))
	for _, d := range records {
		rows = append(rows, []any{
			d.DisruptionID, string(d.Type), d.Title, d.Description,
			d.StartTime.UTC(), d.EndTime.UTC(), d.DurationMinutes, d.ImpactLevel,
			d.AffectedStations, d.IsResolved, d.CreatedAt.UTC(), d.UpdatedAt.UTC(),
		})
	}
	// created_at is excluded from the update set so the first insert wins.
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table: "disruptions",
		Columns: []string{
			"disruption_id", "type", "title", "description", "start_time", "end_time",
			"duration_minutes", "impact_level", "affected_stations", "is_resolved",
			"created_at", "updated_at",
		},
		ConflictKeys: []string{"disruption_id"},
		UpdateCols: []string{
			"type", "title", "description", "start_time", "end_time",
			"duration_minutes", "impact_level", "affected_stations", "is_resolved",
			"updated_at",
		},
	}, rows)
	return n, eris.Wrap(err, "postgres: upsert disruptions")
}

const pgDisruptionCols = `disruption_id, type, title, description, start_time, end_time,
	duration_minutes, impact_level, affected_stations, is_resolved, created_at, updated_at`

func (s *PostgresStore) GetDisruption(ctx context.Context, disruptionID string) (*model.Disruption, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgDisruptionCols+` FROM disruptions WHERE disruption_id = $1`,
		disruptionID,
	)
	d, err := scanPGDisruption(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get disruption %s", disruptionID)
	}
	return d, nil
}

func (s *PostgresStore) ListDisruptions(ctx context.Context, filter DisruptionFilter) ([]model.Disruption, error) {
	query := `SELECT ` + pgDisruptionCols + ` FROM disruptions WHERE 1=1`
	var args []any

	if filter.Type != "" {
		args = append(args, string(filter.Type))
		query += ` AND type = $` + itoa(len(args))
	}
	if filter.Resolved != nil {
		args = append(args, *filter.Resolved)
		query += ` AND is_resolved = $` + itoa(len(args))
	}
	query += ` ORDER BY start_time DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += ` LIMIT $` + itoa(len(args))

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list disruptions")
	}
	defer rows.Close()

	return collectPGDisruptions(rows)
}

func (s *PostgresStore) ActiveDisruptions(ctx context.Context) ([]model.Disruption, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgDisruptionCols+` FROM active_disruptions ORDER BY impact_level DESC, start_time`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: active disruptions")
	}
	defer rows.Close()

	return collectPGDisruptions(rows)
}

func (s *PostgresStore) MarkResolvedExcept(ctx context.Context, activeIDs []string, now time.Time) (int64, error) {
	var tag interface{ RowsAffected() int64 }
	var err error
	if len(activeIDs) == 0 {
		tag, err = s.pool.Exec(ctx,
			`UPDATE disruptions SET is_resolved = TRUE, updated_at = $1 WHERE NOT is_resolved`,
			now.UTC(),
		)
	} else {
		tag, err = s.pool.Exec(ctx,
			`UPDATE disruptions SET is_resolved = TRUE, updated_at = $1
			 WHERE NOT is_resolved AND NOT (disruption_id = ANY($2))`,
			now.UTC(), activeIDs,
		)
	}
	if err != nil {
		return 0, eris.Wrap(err, "postgres: mark resolved")
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) WipeDisruptions(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM disruptions`)
	return eris.Wrap(err, "postgres: wipe disruptions")
}

func (s *PostgresStore) SeedStations(ctx context.Context, stations []model.Station) error {
	rows := make([][]any, 0, len(stations))
	for _, st := range stations {
		rows = append(rows, []any{st.Code, st.Name, st.Lat, st.Lon})
	}
	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "stations",
		Columns:      []string{"code", "name", "lat", "lon"},
		ConflictKeys: []string{"code"},
	}, rows)
	return eris.Wrap(err, "postgres: seed stations")
}

func (s *PostgresStore) ListStations(ctx context.Context) ([]model.Station, error) {
	rows, err := s.pool.Query(ctx, `SELECT code, name, lat, lon FROM stations ORDER BY code`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list stations")
	}
	defer rows.Close()

	var stations []model.Station
	for rows.Next() {
		var st model.Station
		if err := rows.Scan(&st.Code, &st.Name, &st.Lat, &st.Lon); err != nil {
			return nil, eris.Wrap(err, "postgres: scan station")
		}
		stations = append(stations, st)
	}
	return stations, eris.Wrap(rows.Err(), "postgres: list stations iterate")
}

func (s *PostgresStore) RecomputeDailyStats(ctx context.Context) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: recompute stats: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM daily_stats`); err != nil {
		return 0, eris.Wrap(err, "postgres: recompute stats: clear")
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO daily_stats (date, total, disruptions, maintenance, calamities,
			cancellations, avg_duration_minutes, max_impact, active, updated_at)
		SELECT s.d::date,
			COUNT(*),
			COUNT(*) FILTER (WHERE dis.type = 'disruption'),
			COUNT(*) FILTER (WHERE dis.type = 'maintenance'),
			COUNT(*) FILTER (WHERE dis.type = 'calamity'),
			COUNT(*) FILTER (WHERE dis.type = 'cancellation'),
			AVG(dis.duration_minutes),
			MAX(dis.impact_level),
			COUNT(*) FILTER (WHERE NOT dis.is_resolved),
			$1
		FROM generate_series(
			(SELECT MIN(start_time)::date FROM disruptions),
			(SELECT MAX(end_time)::date FROM disruptions),
			interval '1 day') AS s(d)
		JOIN disruptions dis
		  ON dis.start_time::date <= s.d::date AND dis.end_time::date >= s.d::date
		GROUP BY s.d::date
	`, time.Now().UTC())
	if err != nil {
		return 0, eris.Wrap(err, "postgres: recompute stats: insert")
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: recompute stats: commit")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) ListDailyStats(ctx context.Context, limit int) ([]model.DailyStat, error) {
	if limit <= 0 {
		limit = 90
	}
	rows, err := s.pool.Query(ctx, `
		SELECT to_char(date, 'YYYY-MM-DD'), total, disruptions, maintenance, calamities,
		       cancellations, avg_duration_minutes, max_impact, active, updated_at
		FROM daily_stats ORDER BY date DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list daily stats")
	}
	defer rows.Close()

	var stats []model.DailyStat
	for rows.Next() {
		var ds model.DailyStat
		err := rows.Scan(&ds.Date, &ds.Total, &ds.Disruptions, &ds.Maintenance,
			&ds.Calamities, &ds.Cancellations, &ds.AvgDurationMinutes, &ds.MaxImpact,
			&ds.Active, &ds.UpdatedAt)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan daily stat")
		}
		stats = append(stats, ds)
	}
	return stats, eris.Wrap(rows.Err(), "postgres: list daily stats iterate")
}

func (s *PostgresStore) RecordTransformFailures(ctx context.Context, failures []model.TransformFailure) error {
	if len(failures) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(failures))
	for _, f := range failures {
		var payload any
		if len(f.Payload) > 0 {
			payload = string(f.Payload)
		}
		rows = append(rows, []any{f.DisruptionID, f.ErrorClass, f.ErrorMessage, payload, f.OccurredAt.UTC()})
	}
	_, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"transform_failures"},
		[]string{"disruption_id", "error_class", "error_message", "payload", "occurred_at"},
		pgx.CopyFromRows(rows),
	)
	return eris.Wrap(err, "postgres: record failures")
}

func (s *PostgresStore) ListTransformFailures(ctx context.Context, limit int) ([]model.TransformFailure, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT disruption_id, error_class, error_message, COALESCE(payload::text, ''), occurred_at
		FROM transform_failures ORDER BY occurred_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list failures")
	}
	defer rows.Close()

	var failures []model.TransformFailure
	for rows.Next() {
		var f model.TransformFailure
		var payload string
		if err := rows.Scan(&f.DisruptionID, &f.ErrorClass, &f.ErrorMessage, &payload, &f.OccurredAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan failure")
		}
		if payload != "" {
			f.Payload = []byte(payload)
		}
		failures = append(failures, f)
	}
	return failures, eris.Wrap(rows.Err(), "postgres: list failures iterate")
}

// helpers

func scanPGDisruption(row pgx.Row) (*model.Disruption, error) {
	var d model.Disruption
	var typ string
	err := row.Scan(&d.DisruptionID, &typ, &d.Title, &d.Description,
		&d.StartTime, &d.EndTime, &d.DurationMinutes, &d.ImpactLevel,
		&d.AffectedStations, &d.IsResolved, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	d.Type = model.DisruptionType(typ)
	return &d, nil
}

func collectPGDisruptions(rows pgx.Rows) ([]model.Disruption, error) {
	var out []model.Disruption
	for rows.Next() {
		d, err := scanPGDisruption(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan disruption")
		}
		out = append(out, *d)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate disruptions")
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
