package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/railsense/railwatch/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	// _time_format=sqlite stores time.Time in a layout the SQL date
	// functions can parse; the aggregation queries depend on DATE() and
	// julianday() over stored timestamps.
	if !strings.Contains(dsn, "_time_format") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_time_format=sqlite"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS raw_disruptions (
	disruption_id TEXT PRIMARY KEY,
	payload       TEXT NOT NULL,
	fetched_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS disruptions (
	disruption_id     TEXT PRIMARY KEY,
	type              TEXT NOT NULL,
	title             TEXT NOT NULL,
	description       TEXT NOT NULL DEFAULT '',
	start_time        DATETIME NOT NULL,
	end_time          DATETIME NOT NULL,
	duration_minutes  REAL,
	impact_level      INTEGER NOT NULL,
	affected_stations TEXT NOT NULL DEFAULT '',
	is_resolved       INTEGER NOT NULL DEFAULT 0,
	created_at        DATETIME NOT NULL,
	updated_at        DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS stations (
	code TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	lat  REAL NOT NULL DEFAULT 0,
	lon  REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS daily_stats (
	date                 TEXT PRIMARY KEY,
	total                INTEGER NOT NULL,
	disruptions          INTEGER NOT NULL,
	maintenance          INTEGER NOT NULL,
	calamities           INTEGER NOT NULL,
	cancellations        INTEGER NOT NULL,
	avg_duration_minutes REAL,
	max_impact           INTEGER NOT NULL,
	active               INTEGER NOT NULL,
	updated_at           DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS transform_failures (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	disruption_id TEXT NOT NULL,
	error_class   TEXT NOT NULL,
	error_message TEXT NOT NULL,
	payload       TEXT,
	occurred_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_disruptions_type ON disruptions(type);
CREATE INDEX IF NOT EXISTS idx_disruptions_start_time ON disruptions(start_time);
CREATE INDEX IF NOT EXISTS idx_disruptions_resolved ON disruptions(is_resolved);
CREATE INDEX IF NOT EXISTS idx_transform_failures_occurred_at ON transform_failures(occurred_at);

CREATE VIEW IF NOT EXISTS active_disruptions AS
SELECT disruption_id, type, title, description, start_time, end_time,
       duration_minutes, impact_level, affected_stations, is_resolved,
       created_at, updated_at
FROM disruptions
WHERE is_resolved = 0 AND end_time > datetime('now');

CREATE VIEW IF NOT EXISTS station_stats AS
SELECT j.value AS station_code,
       COUNT(*) AS total_disruptions,
       AVG(d.duration_minutes) AS avg_duration_minutes,
       AVG(d.impact_level) AS avg_impact_level
FROM disruptions d
JOIN json_each('["' || REPLACE(d.affected_stations, ',', '","') || '"]') j
WHERE d.affected_stations != ''
GROUP BY j.value;
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertRaw(ctx context.Context, records []model.RawDisruption) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert raw: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO raw_disruptions (disruption_id, payload, fetched_at) VALUES (?, ?, ?)
		 ON CONFLICT (disruption_id) DO UPDATE SET
		   payload = excluded.payload, fetched_at = excluded.fetched_at`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert raw: prepare")
	}
	defer stmt.Close()

	var n int64
	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.DisruptionID, string(r.Payload), r.FetchedAt.UTC()); err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert raw %s", r.DisruptionID)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert raw: commit")
	}
	return n, nil
}

func (s *SQLiteStore) GetRaw(ctx context.Context, disruptionID string) (*model.RawDisruption, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT disruption_id, payload, fetched_at FROM raw_disruptions WHERE disruption_id = ?`,
		disruptionID,
	)
	var r model.RawDisruption
	var payload string
	err := row.Scan(&r.DisruptionID, &payload, &r.FetchedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get raw %s", disruptionID)
	}
	r.Payload = []byte(payload)
	return &r, nil
}

func (s *SQLiteStore) ListRaw(ctx context.Context) ([]model.RawDisruption, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT disruption_id, payload, fetched_at FROM raw_disruptions ORDER BY disruption_id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list raw")
	}
	defer rows.Close()

	var records []model.RawDisruption
	for rows.Next() {
		var r model.RawDisruption
		var payload string
		if err := rows.Scan(&r.DisruptionID, &payload, &r.FetchedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan raw")
		}
		r.Payload = []byte(payload)
		records = append(records, r)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: list raw iterate")
}

func (s *SQLiteStore) UpsertDisruptions(ctx context.Context, records []model.Disruption) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert disruptions: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	// created_at is intentionally absent from the update set: the first
	// insert wins, later refreshes only move updated_at.
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO disruptions (disruption_id, type, title, description, start_time, end_time,
		   duration_minutes, impact_level, affected_stations, is_resolved, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (disruption_id) DO UPDATE SET
		   type = excluded.type,
		   title = excluded.title,
		   description = excluded.description,
		   start_time = excluded.start_time,
		   end_time = excluded.end_time,
		   duration_minutes = excluded.duration_minutes,
		   impact_level = excluded.impact_level,
		   affected_stations = excluded.affected_stations,
		   is_resolved = excluded.is_resolved,
		   updated_at = excluded.updated_at`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert disruptions: prepare")
	}
	defer stmt.Close()

	var n int64
	for _, d := range records {
		var duration any
		if d.DurationMinutes != nil {
			duration = *d.DurationMinutes
		}
		_, err := stmt.ExecContext(ctx,
			d.DisruptionID, string(d.Type), d.Title, d.Description,
			d.StartTime.UTC(), d.EndTime.UTC(), duration, d.ImpactLevel,
			d.AffectedStations, boolToInt(d.IsResolved), d.CreatedAt.UTC(), d.UpdatedAt.UTC(),
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert disruption %s", d.DisruptionID)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert disruptions: commit")
	}
	return n, nil
}

func (s *SQLiteStore) GetDisruption(ctx context.Context, disruptionID string) (*model.Disruption, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+disruptionCols+` FROM disruptions WHERE disruption_id = ?`,
		disruptionID,
	)
	d, err := scanDisruption(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get disruption %s", disruptionID)
	}
	return d, nil
}

func (s *SQLiteStore) ListDisruptions(ctx context.Context, filter DisruptionFilter) ([]model.Disruption, error) {
	query := `SELECT ` + disruptionCols + ` FROM disruptions WHERE 1=1`
	var args []any

	if filter.Type != "" {
		query += ` AND type = ?`
		args = append(args, string(filter.Type))
	}
	if filter.Resolved != nil {
		query += ` AND is_resolved = ?`
		args = append(args, boolToInt(*filter.Resolved))
	}
	query += ` ORDER BY start_time DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list disruptions")
	}
	defer rows.Close()

	return collectDisruptions(rows)
}

func (s *SQLiteStore) ActiveDisruptions(ctx context.Context) ([]model.Disruption, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+disruptionCols+` FROM active_disruptions ORDER BY impact_level DESC, start_time`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: active disruptions")
	}
	defer rows.Close()

	return collectDisruptions(rows)
}

func (s *SQLiteStore) MarkResolvedExcept(ctx context.Context, activeIDs []string, now time.Time) (int64, error) {
	query := `UPDATE disruptions SET is_resolved = 1, updated_at = ? WHERE is_resolved = 0`
	args := []any{now.UTC()}

	if len(activeIDs) > 0 {
		query += ` AND disruption_id NOT IN (?` + strings.Repeat(", ?", len(activeIDs)-1) + `)`
		for _, id := range activeIDs {
			args = append(args, id)
		}
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: mark resolved")
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: mark resolved: rows affected")
}

func (s *SQLiteStore) WipeDisruptions(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM disruptions`)
	return eris.Wrap(err, "sqlite: wipe disruptions")
}

func (s *SQLiteStore) SeedStations(ctx context.Context, stations []model.Station) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: seed stations: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO stations (code, name, lat, lon) VALUES (?, ?, ?, ?)
		 ON CONFLICT (code) DO UPDATE SET name = excluded.name, lat = excluded.lat, lon = excluded.lon`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: seed stations: prepare")
	}
	defer stmt.Close()

	for _, st := range stations {
		if _, err := stmt.ExecContext(ctx, st.Code, st.Name, st.Lat, st.Lon); err != nil {
			return eris.Wrapf(err, "sqlite: seed station %s", st.Code)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: seed stations: commit")
}

func (s *SQLiteStore) ListStations(ctx context.Context) ([]model.Station, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT code, name, lat, lon FROM stations ORDER BY code`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list stations")
	}
	defer rows.Close()

	var stations []model.Station
	for rows.Next() {
		var st model.Station
		if err := rows.Scan(&st.Code, &st.Name, &st.Lat, &st.Lon); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan station")
		}
		stations = append(stations, st)
	}
	return stations, eris.Wrap(rows.Err(), "sqlite: list stations iterate")
}

// RecomputeDailyStats rebuilds the whole daily_stats table from the cleaned
// layer. A disruption counts toward every calendar date its [start, end]
// interval touches, so a three-day outage shows up three times.
func (s *SQLiteStore) RecomputeDailyStats(ctx context.Context) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: recompute stats: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM daily_stats`); err != nil {
		return 0, eris.Wrap(err, "sqlite: recompute stats: clear")
	}

	res, err := tx.ExecContext(ctx, `
		WITH RECURSIVE span(d) AS (
			SELECT DATE(MIN(start_time)) FROM disruptions
			UNION ALL
			SELECT DATE(d, '+1 day') FROM span
			WHERE d < (SELECT DATE(MAX(end_time)) FROM disruptions)
			LIMIT 3700
		)
		INSERT INTO daily_stats (date, total, disruptions, maintenance, calamities,
			cancellations, avg_duration_minutes, max_impact, active, updated_at)
		SELECT span.d,
			COUNT(*),
			SUM(CASE WHEN dis.type = 'disruption' THEN 1 ELSE 0 END),
			SUM(CASE WHEN dis.type = 'maintenance' THEN 1 ELSE 0 END),
			SUM(CASE WHEN dis.type = 'calamity' THEN 1 ELSE 0 END),
			SUM(CASE WHEN dis.type = 'cancellation' THEN 1 ELSE 0 END),
			AVG(dis.duration_minutes),
			MAX(dis.impact_level),
			SUM(CASE WHEN dis.is_resolved = 0 THEN 1 ELSE 0 END),
			?
		FROM span
		JOIN disruptions dis
		  ON DATE(dis.start_time) <= span.d AND DATE(dis.end_time) >= span.d
		WHERE span.d IS NOT NULL
		GROUP BY span.d
	`, time.Now().UTC())
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: recompute stats: insert")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: recompute stats: rows affected")
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: recompute stats: commit")
	}
	return int(n), nil
}

func (s *SQLiteStore) ListDailyStats(ctx context.Context, limit int) ([]model.DailyStat, error) {
	if limit <= 0 {
		limit = 90
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, total, disruptions, maintenance, calamities, cancellations,
		       avg_duration_minutes, max_impact, active, updated_at
		FROM daily_stats ORDER BY date DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list daily stats")
	}
	defer rows.Close()

	var stats []model.DailyStat
	for rows.Next() {
		var ds model.DailyStat
		var avg sql.NullFloat64
		err := rows.Scan(&ds.Date, &ds.Total, &ds.Disruptions, &ds.Maintenance,
			&ds.Calamities, &ds.Cancellations, &avg, &ds.MaxImpact, &ds.Active, &ds.UpdatedAt)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan daily stat")
		}
		if avg.Valid {
			ds.AvgDurationMinutes = &avg.Float64
		}
		stats = append(stats, ds)
	}
	return stats, eris.Wrap(rows.Err(), "sqlite: list daily stats iterate")
}

func (s *SQLiteStore) RecordTransformFailures(ctx context.Context, failures []model.TransformFailure) error {
	if len(failures) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: record failures: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO transform_failures (disruption_id, error_class, error_message, payload, occurred_at)
		 VALUES (?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: record failures: prepare")
	}
	defer stmt.Close()

	for _, f := range failures {
		if _, err := stmt.ExecContext(ctx, f.DisruptionID, f.ErrorClass, f.ErrorMessage, string(f.Payload), f.OccurredAt.UTC()); err != nil {
			return eris.Wrapf(err, "sqlite: record failure %s", f.DisruptionID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: record failures: commit")
}

func (s *SQLiteStore) ListTransformFailures(ctx context.Context, limit int) ([]model.TransformFailure, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT disruption_id, error_class, error_message, payload, occurred_at
		FROM transform_failures ORDER BY occurred_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list failures")
	}
	defer rows.Close()

	var failures []model.TransformFailure
	for rows.Next() {
		var f model.TransformFailure
		var payload sql.NullString
		if err := rows.Scan(&f.DisruptionID, &f.ErrorClass, &f.ErrorMessage, &payload, &f.OccurredAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan failure")
		}
		if payload.Valid {
			f.Payload = []byte(payload.String)
		}
		failures = append(failures, f)
	}
	return failures, eris.Wrap(rows.Err(), "sqlite: list failures iterate")
}

// helpers

const disruptionCols = `disruption_id, type, title, description, start_time, end_time,
	duration_minutes, impact_level, affected_stations, is_resolved, created_at, updated_at`

type scannable interface {
	Scan(dest ...any) error
}

func scanDisruption(row scannable) (*model.Disruption, error) {
	var d model.Disruption
	var typ string
	var duration sql.NullFloat64
	var resolved int

	err := row.Scan(&d.DisruptionID, &typ, &d.Title, &d.Description,
		&d.StartTime, &d.EndTime, &duration, &d.ImpactLevel,
		&d.AffectedStations, &resolved, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}

	d.Type = model.DisruptionType(typ)
	if duration.Valid {
		d.DurationMinutes = &duration.Float64
	}
	d.IsResolved = resolved != 0
	return &d, nil
}

func collectDisruptions(rows *sql.Rows) ([]model.Disruption, error) {
	var out []model.Disruption
	for rows.Next() {
		d, err := scanDisruption(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan disruption")
		}
		out = append(out, *d)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate disruptions")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
