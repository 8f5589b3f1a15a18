package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/railsense/railwatch/internal/model"
)

// RollingTrend returns per-date per-type incident counts for the last n days
// with a 7-row rolling window per type.
func (s *SQLiteStore) RollingTrend(ctx context.Context, days int) ([]model.TrendPoint, error) {
	if days <= 0 {
		days = 30
	}
	rows, err := s.db.QueryContext(ctx, `
		WITH daily AS (
			SELECT DATE(start_time) AS d,
			       type,
			       COUNT(*) AS incident_count,
			       AVG(duration_minutes) AS avg_duration
			FROM disruptions
			WHERE DATE(start_time) >= DATE('now', ?)
			GROUP BY DATE(start_time), type
		)
		SELECT d, type, incident_count, avg_duration,
		       SUM(incident_count) OVER w AS rolling_7day_total,
		       AVG(incident_count) OVER w AS rolling_7day_avg
		FROM daily
		WINDOW w AS (PARTITION BY type ORDER BY d ROWS BETWEEN 6 PRECEDING AND CURRENT ROW)
		ORDER BY d, type
	`, fmt.Sprintf("-%d day", days))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: rolling trend")
	}
	defer rows.Close()

	var points []model.TrendPoint
	for rows.Next() {
		var p model.TrendPoint
		var avg sql.NullFloat64
		if err := rows.Scan(&p.Date, &p.Type, &p.IncidentCount, &avg, &p.Rolling7Total, &p.Rolling7Avg); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan trend point")
		}
		if avg.Valid {
			p.AvgDurationMinutes = &avg.Float64
		}
		points = append(points, p)
	}
	return points, eris.Wrap(rows.Err(), "sqlite: rolling trend iterate")
}

// StationSeverity ranks stations by disruption count. The denormalized
// comma-joined station list is unnested with json_each by rewriting it into
// a JSON array literal, which keeps the whole ranking in one query.
func (s *SQLiteStore) StationSeverity(ctx context.Context) ([]model.StationSeverity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ss.station_code,
		       COALESCE(st.name, ''),
		       ss.total_disruptions,
		       ss.avg_duration_minutes,
		       ss.avg_impact_level,
		       PERCENT_RANK() OVER (ORDER BY ss.total_disruptions) AS pct,
		       RANK() OVER (ORDER BY ss.total_disruptions DESC) AS severity_rank
		FROM station_stats ss
		LEFT JOIN stations st ON st.code = ss.station_code
		ORDER BY ss.total_disruptions DESC, ss.station_code
	`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: station severity")
	}
	defer rows.Close()

	var out []model.StationSeverity
	for rows.Next() {
		var sv model.StationSeverity
		var avg sql.NullFloat64
		if err := rows.Scan(&sv.Code, &sv.Name, &sv.TotalDisruptions, &avg, &sv.AvgImpact, &sv.Percentile, &sv.Rank); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan station severity")
		}
		if avg.Valid {
			sv.AvgDurationMinutes = &avg.Float64
		}
		sv.RiskCategory = riskCategory(sv.Percentile)
		out = append(out, sv)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: station severity iterate")
}

// DayOverDay compares each date with the previous one via LAG. Delta fields
// come back nil on the first date, where no previous day exists.
func (s *SQLiteStore) DayOverDay(ctx context.Context) ([]model.DayDelta, error) {
	rows, err := s.db.QueryContext(ctx, `
		WITH daily AS (
			SELECT DATE(start_time) AS d,
			       COUNT(*) AS total,
			       AVG(duration_minutes) AS avg_duration,
			       MAX(impact_level) AS max_impact
			FROM disruptions
			GROUP BY DATE(start_time)
		)
		SELECT d, total, avg_duration, max_impact,
		       LAG(total) OVER w AS prev_total,
		       total - LAG(total) OVER w AS delta,
		       ROUND((total - LAG(total) OVER w) * 100.0 / LAG(total) OVER w, 1) AS pct_change,
		       SUM(total) OVER (ORDER BY d ROWS BETWEEN 6 PRECEDING AND CURRENT ROW) AS rolling_7day
		FROM daily
		WINDOW w AS (ORDER BY d)
		ORDER BY d
	`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: day over day")
	}
	defer rows.Close()

	var out []model.DayDelta
	for rows.Next() {
		var dd model.DayDelta
		var avg, pct sql.NullFloat64
		var prev, delta sql.NullInt64
		err := rows.Scan(&dd.Date, &dd.Total, &avg, &dd.MaxImpact, &prev, &delta, &pct, &dd.Rolling7Total)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan day delta")
		}
		if avg.Valid {
			dd.AvgDurationMinutes = &avg.Float64
		}
		if prev.Valid {
			v := int(prev.Int64)
			dd.PrevDayTotal = &v
		}
		if delta.Valid {
			v := int(delta.Int64)
			dd.Delta = &v
		}
		if pct.Valid {
			dd.PctChange = &pct.Float64
		}
		out = append(out, dd)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: day over day iterate")
}

// PeakHours ranks (weekday, hour) buckets by disruption starts.
func (s *SQLiteStore) PeakHours(ctx context.Context, limit int) ([]model.PeakHour, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		WITH hourly AS (
			SELECT CASE CAST(strftime('%w', start_time) AS INTEGER)
			         WHEN 0 THEN 'Sunday'
			         WHEN 1 THEN 'Monday'
			         WHEN 2 THEN 'Tuesday'
			         WHEN 3 THEN 'Wednesday'
			         WHEN 4 THEN 'Thursday'
			         WHEN 5 THEN 'Friday'
			         ELSE 'Saturday'
			       END AS day_name,
			       strftime('%H:00', start_time) AS hour_label,
			       COUNT(*) AS cnt,
			       AVG(duration_minutes) AS avg_duration,
			       AVG(impact_level) AS avg_impact
			FROM disruptions
			GROUP BY strftime('%w', start_time), strftime('%H', start_time)
		)
		SELECT day_name, hour_label, cnt, avg_duration, avg_impact,
		       RANK() OVER (ORDER BY cnt DESC) AS rnk
		FROM hourly
		ORDER BY cnt DESC, day_name, hour_label
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: peak hours")
	}
	defer rows.Close()

	var out []model.PeakHour
	for rows.Next() {
		var ph model.PeakHour
		var avg sql.NullFloat64
		if err := rows.Scan(&ph.DayName, &ph.Hour, &ph.Count, &avg, &ph.AvgImpact, &ph.Rank); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan peak hour")
		}
		if avg.Valid {
			ph.AvgDurationMinutes = &avg.Float64
		}
		out = append(out, ph)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: peak hours iterate")
}

// OverlappingDisruptions self-joins the cleaned table on interval overlap.
// Pairs are emitted once with the lexically smaller id first.
func (s *SQLiteStore) OverlappingDisruptions(ctx context.Context, days, limit int) ([]model.Overlap, error) {
	if days <= 0 {
		days = 7
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.disruption_id, b.disruption_id, a.type, b.type,
		       CAST(ROUND((julianday(MIN(a.end_time, b.end_time)) -
		                   julianday(MAX(a.start_time, b.start_time))) * 1440) AS INTEGER) AS overlap_minutes
		FROM disruptions a
		JOIN disruptions b
		  ON a.disruption_id < b.disruption_id
		 AND a.start_time < b.end_time
		 AND b.start_time < a.end_time
		WHERE a.start_time >= DATE('now', ?)
		ORDER BY overlap_minutes DESC, a.disruption_id, b.disruption_id
		LIMIT ?
	`, fmt.Sprintf("-%d day", days), limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: overlapping disruptions")
	}
	defer rows.Close()

	var out []model.Overlap
	for rows.Next() {
		var ov model.Overlap
		if err := rows.Scan(&ov.DisruptionA, &ov.DisruptionB, &ov.TypeA, &ov.TypeB, &ov.OverlapMinutes); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan overlap")
		}
		out = append(out, ov)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: overlapping disruptions iterate")
}
