// Watchdial - Playback Session Telemetry and Reporting
// Copyright 2026 Watchdial contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchdial/watchdial

package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/watchdial/watchdial/internal/metrics"
	"github.com/watchdial/watchdial/internal/models"
)

// tzShiftExpr shifts the record timestamp by a minutes offset before any
// bucket key is derived from it. Every use consumes one query argument (the
// offset in minutes).
const tzShiftExpr = "date_created + to_minutes(CAST(? AS BIGINT))"

// typeFilterClause builds an "AND item_type IN (...)" fragment for a
// non-empty type filter.
func typeFilterClause(types []string, args *[]any) string {
	if len(types) == 0 {
		return ""
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(types)), ",")
	for _, t := range types {
		*args = append(*args, t)
	}
	return fmt.Sprintf(" AND item_type IN (%s)", placeholders)
}

// notIgnoredClause excludes records for users on the ignore list.
const notIgnoredClause = " AND user_id NOT IN (SELECT user_id FROM user_ignore_list)"

// GetUsageForUser returns the raw playback rows for one user on one
// (timezone-shifted) date, ordered by play time.
func (db *DB) GetUsageForUser(ctx context.Context, date, userID string, types []string, tzOffsetMin int) ([]models.ItemActivityRow, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()
	defer metrics.ObserveStoreQuery("usage_for_user", time.Now())

	args := []any{tzOffsetMin, userID, tzOffsetMin, date}
	query := fmt.Sprintf(`SELECT id, strftime(%s, '%%H:%%M') AS play_time,
			item_id, item_name, item_type, client_name, playback_method, device_name, play_duration
		FROM playback_activity
		WHERE user_id = ? AND strftime(%s, '%%Y-%%m-%%d') = ?`, tzShiftExpr, tzShiftExpr)
	query += typeFilterClause(types, &args)
	query += " ORDER BY date_created"

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query user usage: %w", err)
	}
	defer closeWithLog(rows, "user usage rows")

	var result []models.ItemActivityRow
	for rows.Next() {
		var row models.ItemActivityRow
		if err := rows.Scan(&row.RowID, &row.Time, &row.ItemID, &row.ItemName,
			&row.ItemType, &row.Client, &row.Method, &row.Device, &row.Duration); err != nil {
			return nil, fmt.Errorf("failed to scan user usage row: %w", err)
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// GetUsageForDays returns per-user, per-date play counts and summed durations
// within the inclusive [fromDate, toDate] window (dates compared after the
// timezone shift). Ignored users are excluded.
func (db *DB) GetUsageForDays(ctx context.Context, fromDate, toDate string, types []string, tzOffsetMin int) ([]models.UsageDayRow, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()
	defer metrics.ObserveStoreQuery("usage_for_days", time.Now())

	args := []any{tzOffsetMin, tzOffsetMin, fromDate, toDate}
	query := fmt.Sprintf(`SELECT user_id,
			strftime(%s, '%%Y-%%m-%%d') AS day,
			COUNT(*) AS plays,
			CAST(COALESCE(SUM(play_duration), 0) AS INTEGER) AS seconds
		FROM playback_activity
		WHERE strftime(%s, '%%Y-%%m-%%d') BETWEEN ? AND ?`, tzShiftExpr, tzShiftExpr)
	query += notIgnoredClause
	query += typeFilterClause(types, &args)
	query += " GROUP BY user_id, day"

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage for days: %w", err)
	}
	defer closeWithLog(rows, "usage day rows")

	var result []models.UsageDayRow
	for rows.Next() {
		var row models.UsageDayRow
		if err := rows.Scan(&row.UserID, &row.Date, &row.Count, &row.Seconds); err != nil {
			return nil, fmt.Errorf("failed to scan usage day row: %w", err)
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// GetHourlyCounts returns play counts keyed by "w-HH" (day-of-week 0=Sunday,
// zero-padded hour) within the shifted date window. Only buckets with
// activity are returned; zero-fill is the reporting engine's concern.
func (db *DB) GetHourlyCounts(ctx context.Context, fromDate, toDate string, types []string, tzOffsetMin int) (map[string]int, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()
	defer metrics.ObserveStoreQuery("hourly_counts", time.Now())

	args := []any{tzOffsetMin, tzOffsetMin, fromDate, toDate}
	query := fmt.Sprintf(`SELECT strftime(%s, '%%w-%%H') AS hour_key, COUNT(*) AS plays
		FROM playback_activity
		WHERE strftime(%s, '%%Y-%%m-%%d') BETWEEN ? AND ?`, tzShiftExpr, tzShiftExpr)
	query += notIgnoredClause
	query += typeFilterClause(types, &args)
	query += " GROUP BY hour_key"

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query hourly counts: %w", err)
	}
	defer closeWithLog(rows, "hourly count rows")

	counts := make(map[string]int)
	for rows.Next() {
		var key string
		var plays int
		if err := rows.Scan(&key, &plays); err != nil {
			return nil, fmt.Errorf("failed to scan hourly count row: %w", err)
		}
		counts[key] = plays
	}
	return counts, rows.Err()
}

// GetBreakdown returns per-group play counts and summed durations for the
// given column within the shifted date window. The column must come from the
// reporting engine's validated dimension set; it is interpolated into the
// statement.
func (db *DB) GetBreakdown(ctx context.Context, fromDate, toDate, column string, tzOffsetMin int) ([]models.BreakdownRow, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()
	defer metrics.ObserveStoreQuery("breakdown", time.Now())

	args := []any{tzOffsetMin, fromDate, toDate}
	query := fmt.Sprintf(`SELECT COALESCE(%s, '') AS label,
			COUNT(*) AS plays,
			CAST(COALESCE(SUM(play_duration), 0) AS INTEGER) AS seconds
		FROM playback_activity
		WHERE strftime(%s, '%%Y-%%m-%%d') BETWEEN ? AND ?`, column, tzShiftExpr)
	query += notIgnoredClause
	query += " GROUP BY label"

	return db.queryBreakdownRows(ctx, query, args)
}

// GetTvShowsBreakdown groups episode playback by series. Episode records are
// named "Series - sNNeNN - Episode"; the series prefix is the group label.
func (db *DB) GetTvShowsBreakdown(ctx context.Context, fromDate, toDate string, tzOffsetMin int) ([]models.BreakdownRow, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()
	defer metrics.ObserveStoreQuery("tv_shows_breakdown", time.Now())

	args := []any{tzOffsetMin, fromDate, toDate}
	query := fmt.Sprintf(`SELECT CASE WHEN strpos(item_name, ' - s') > 0
				THEN substr(item_name, 1, strpos(item_name, ' - s') - 1)
				ELSE item_name END AS label,
			COUNT(*) AS plays,
			CAST(COALESCE(SUM(play_duration), 0) AS INTEGER) AS seconds
		FROM playback_activity
		WHERE item_type = 'Episode'
		AND strftime(%s, '%%Y-%%m-%%d') BETWEEN ? AND ?`, tzShiftExpr)
	query += notIgnoredClause
	query += " GROUP BY label"

	return db.queryBreakdownRows(ctx, query, args)
}

// GetMoviesBreakdown groups movie playback by item name.
func (db *DB) GetMoviesBreakdown(ctx context.Context, fromDate, toDate string, tzOffsetMin int) ([]models.BreakdownRow, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()
	defer metrics.ObserveStoreQuery("movies_breakdown", time.Now())

	args := []any{tzOffsetMin, fromDate, toDate}
	query := fmt.Sprintf(`SELECT item_name AS label,
			COUNT(*) AS plays,
			CAST(COALESCE(SUM(play_duration), 0) AS INTEGER) AS seconds
		FROM playback_activity
		WHERE item_type = 'Movie'
		AND strftime(%s, '%%Y-%%m-%%d') BETWEEN ? AND ?`, tzShiftExpr)
	query += notIgnoredClause
	query += " GROUP BY label"

	return db.queryBreakdownRows(ctx, query, args)
}

func (db *DB) queryBreakdownRows(ctx context.Context, query string, args []any) ([]models.BreakdownRow, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query breakdown: %w", err)
	}
	defer closeWithLog(rows, "breakdown rows")

	var result []models.BreakdownRow
	for rows.Next() {
		var row models.BreakdownRow
		if err := rows.Scan(&row.Label, &row.Count, &row.Time); err != nil {
			return nil, fmt.Errorf("failed to scan breakdown row: %w", err)
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// GetDurationBuckets returns play counts grouped by play_duration divided by
// bucketSeconds (floor division). The window is on the unshifted record date;
// duration bucketing has no timezone component.
func (db *DB) GetDurationBuckets(ctx context.Context, fromDate, toDate string, types []string, bucketSeconds int) (map[int]int, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()
	defer metrics.ObserveStoreQuery("duration_buckets", time.Now())

	if bucketSeconds <= 0 {
		return nil, fmt.Errorf("bucket size must be positive, got %d", bucketSeconds)
	}

	args := []any{bucketSeconds, fromDate, toDate}
	query := `SELECT CAST(FLOOR(play_duration / ?) AS INTEGER) AS bucket, COUNT(*) AS plays
		FROM playback_activity
		WHERE strftime(date_created, '%Y-%m-%d') BETWEEN ? AND ?`
	query += notIgnoredClause
	query += typeFilterClause(types, &args)
	query += " GROUP BY bucket"

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query duration buckets: %w", err)
	}
	defer closeWithLog(rows, "duration bucket rows")

	buckets := make(map[int]int)
	for rows.Next() {
		var bucket, plays int
		if err := rows.Scan(&bucket, &plays); err != nil {
			return nil, fmt.Errorf("failed to scan duration bucket row: %w", err)
		}
		buckets[bucket] = plays
	}
	return buckets, rows.Err()
}

// GetUserSummaries returns the per-user activity overview for the shifted
// date window: total plays, total play time, and the most recent activity.
func (db *DB) GetUserSummaries(ctx context.Context, fromDate, toDate string, tzOffsetMin int) ([]models.UserSummary, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()
	defer metrics.ObserveStoreQuery("user_summaries", time.Now())

	args := []any{tzOffsetMin, tzOffsetMin, fromDate, toDate}
	query := fmt.Sprintf(`SELECT user_id,
			COUNT(*) AS total_count,
			CAST(COALESCE(SUM(play_duration), 0) AS INTEGER) AS total_time,
			MAX(%s) AS latest_date,
			arg_max(item_name, date_created) AS latest_item,
			arg_max(client_name, date_created) AS latest_client
		FROM playback_activity
		WHERE strftime(%s, '%%Y-%%m-%%d') BETWEEN ? AND ?`, tzShiftExpr, tzShiftExpr)
	query += notIgnoredClause
	query += " GROUP BY user_id ORDER BY latest_date DESC"

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query user summaries: %w", err)
	}
	defer closeWithLog(rows, "user summary rows")

	var result []models.UserSummary
	for rows.Next() {
		var row models.UserSummary
		var latest time.Time
		if err := rows.Scan(&row.UserID, &row.TotalCount, &row.TotalTime,
			&latest, &row.LatestItem, &row.LatestClient); err != nil {
			return nil, fmt.Errorf("failed to scan user summary row: %w", err)
		}
		row.LatestDate = latest
		result = append(result, row)
	}
	return result, rows.Err()
}
