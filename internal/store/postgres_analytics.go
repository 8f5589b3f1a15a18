package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/railsense/railwatch/internal/model"
)

func (s *PostgresStore) RollingTrend(ctx context.Context, days int) ([]model.TrendPoint, error) {
	if days <= 0 {
		days = 30
	}
	rows, err := s.pool.Query(ctx, `
		WITH daily AS (
			SELECT start_time::date AS d,
			       type,
			       COUNT(*)::int AS incident_count,
			       AVG(duration_minutes) AS avg_duration
			FROM disruptions
			WHERE start_time::date >= current_date - $1::int
			GROUP BY start_time::date, type
		)
		SELECT to_char(d, 'YYYY-MM-DD'), type, incident_count, avg_duration,
		       SUM(incident_count) OVER w AS rolling_7day_total,
		       AVG(incident_count) OVER w AS rolling_7day_avg
		FROM daily
		WINDOW w AS (PARTITION BY type ORDER BY d ROWS BETWEEN 6 PRECEDING AND CURRENT ROW)
		ORDER BY d, type
	`, days)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: rolling trend")
	}
	defer rows.Close()

	var points []model.TrendPoint
	for rows.Next() {
		var p model.TrendPoint
		if err := rows.Scan(&p.Date, &p.Type, &p.IncidentCount, &p.AvgDurationMinutes, &p.Rolling7Total, &p.Rolling7Avg); err != nil {
			return nil, eris.Wrap(err, "postgres: scan trend point")
		}
		points = append(points, p)
	}
	return points, eris.Wrap(rows.Err(), "postgres: rolling trend iterate")
}

func (s *PostgresStore) StationSeverity(ctx context.Context) ([]model.StationSeverity, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ss.station_code,
		       COALESCE(st.name, ''),
		       ss.total_disruptions::int,
		       ss.avg_duration_minutes,
		       ss.avg_impact_level,
		       PERCENT_RANK() OVER (ORDER BY ss.total_disruptions) AS pct,
		       RANK() OVER (ORDER BY ss.total_disruptions DESC)::int AS severity_rank
		FROM station_stats ss
		LEFT JOIN stations st ON st.code = ss.station_code
		ORDER BY ss.total_disruptions DESC, ss.station_code
	`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: station severity")
	}
	defer rows.Close()

	var out []model.StationSeverity
	for rows.Next() {
		var sv model.StationSeverity
		if err := rows.Scan(&sv.Code, &sv.Name, &sv.TotalDisruptions, &sv.AvgDurationMinutes, &sv.AvgImpact, &sv.Percentile, &sv.Rank); err != nil {
			return nil, eris.Wrap(err, "postgres: scan station severity")
		}
		sv.RiskCategory = riskCategory(sv.Percentile)
		out = append(out, sv)
	}
	return out, eris.Wrap(rows.Err(), "postgres: station severity iterate")
}

func (s *PostgresStore) DayOverDay(ctx context.Context) ([]model.DayDelta, error) {
	rows, err := s.pool.Query(ctx, `
		WITH daily AS (
			SELECT start_time::date AS d,
			       COUNT(*)::int AS total,
			       AVG(duration_minutes) AS avg_duration,
			       MAX(impact_level)::int AS max_impact
			FROM disruptions
			GROUP BY start_time::date
		)
		SELECT to_char(d, 'YYYY-MM-DD'), total, avg_duration, max_impact,
		       LAG(total) OVER w AS prev_total,
		       total - LAG(total) OVER w AS delta,
		       ROUND((total - LAG(total) OVER w) * 100.0 / NULLIF(LAG(total) OVER w, 0), 1)::float8 AS pct_change,
		       SUM(total) OVER (ORDER BY d ROWS BETWEEN 6 PRECEDING AND CURRENT ROW)::int AS rolling_7day
		FROM daily
		WINDOW w AS (ORDER BY d)
		ORDER BY d
	`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: day over day")
	}
	defer rows.Close()

	var out []model.DayDelta
	for rows.Next() {
		var dd model.DayDelta
		err := rows.Scan(&dd.Date, &dd.Total, &dd.AvgDurationMinutes, &dd.MaxImpact,
			&dd.PrevDayTotal, &dd.Delta, &dd.PctChange, &dd.Rolling7Total)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan day delta")
		}
		out = append(out, dd)
	}
	return out, eris.Wrap(rows.Err(), "postgres: day over day iterate")
}

func (s *PostgresStore) PeakHours(ctx context.Context, limit int) ([]model.PeakHour, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx, `
		WITH hourly AS (
			SELECT trim(to_char(start_time, 'Day')) AS day_name,
			       to_char(start_time, 'HH24:00') AS hour_label,
			       COUNT(*)::int AS cnt,
			       AVG(duration_minutes) AS avg_duration,
			       AVG(impact_level) AS avg_impact
			FROM disruptions
			GROUP BY 1, 2
		)
		SELECT day_name, hour_label, cnt, avg_duration, avg_impact,
		       RANK() OVER (ORDER BY cnt DESC)::int AS rnk
		FROM hourly
		ORDER BY cnt DESC, day_name, hour_label
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: peak hours")
	}
	defer rows.Close()

	var out []model.PeakHour
	for rows.Next() {
		var ph model.PeakHour
		if err := rows.Scan(&ph.DayName, &ph.Hour, &ph.Count, &ph.AvgDurationMinutes, &ph.AvgImpact, &ph.Rank); err != nil {
			return nil, eris.Wrap(err, "postgres: scan peak hour")
		}
		out = append(out, ph)
	}
	return out, eris.Wrap(rows.Err(), "postgres: peak hours iterate")
}

func (s *PostgresStore) OverlappingDisruptions(ctx context.Context, days, limit int) ([]model.Overlap, error) {
	if days <= 0 {
		days = 7
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT a.disruption_id, b.disruption_id, a.type, b.type,
		       ROUND(EXTRACT(EPOCH FROM (LEAST(a.end_time, b.end_time) -
		                                 GREATEST(a.start_time, b.start_time))) / 60)::int AS overlap_minutes
		FROM disruptions a
		JOIN disruptions b
		  ON a.disruption_id < b.disruption_id
		 AND a.start_time < b.end_time
		 AND b.start_time < a.end_time
		WHERE a.start_time >= now() - make_interval(days => $1)
		ORDER BY overlap_minutes DESC, a.disruption_id, b.disruption_id
		LIMIT $2
	`, days, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: overlapping disruptions")
	}
	defer rows.Close()

	var out []model.Overlap
	for rows.Next() {
		var ov model.Overlap
		if err := rows.Scan(&ov.DisruptionA, &ov.DisruptionB, &ov.TypeA, &ov.TypeB, &ov.OverlapMinutes); err != nil {
			return nil, eris.Wrap(err, "postgres: scan overlap")
		}
		out = append(out, ov)
	}
	return out, eris.Wrap(rows.Err(), "postgres: overlapping disruptions iterate")
}
