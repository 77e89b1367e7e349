// Watchdial - Playback Session Telemetry and Reporting
// Copyright 2026 Watchdial contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchdial/watchdial

// Package reports turns raw playback aggregates into fully shaped report
// payloads: window arithmetic, zero-filled buckets, label normalization
// and deterministic ordering all live here, while the SQL grouping stays
// in the database package.
package reports

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/watchdial/watchdial/internal/models"
)

// dateFormat is the report date key layout.
const dateFormat = "2006-01-02"

// DefaultBucketSeconds is the duration histogram bucket width when the
// engine is constructed without an override.
const DefaultBucketSeconds = 300

// Store is the aggregate source the engine reads from. *database.DB
// satisfies it.
type Store interface {
	GetUsageForUser(ctx context.Context, date, userID string, types []string, tzOffsetMin int) ([]models.ItemActivityRow, error)
	GetUsageForDays(ctx context.Context, fromDate, toDate string, types []string, tzOffsetMin int) ([]models.UsageDayRow, error)
	GetHourlyCounts(ctx context.Context, fromDate, toDate string, types []string, tzOffsetMin int) (map[string]int, error)
	GetBreakdown(ctx context.Context, fromDate, toDate, column string, tzOffsetMin int) ([]models.BreakdownRow, error)
	GetTvShowsBreakdown(ctx context.Context, fromDate, toDate string, tzOffsetMin int) ([]models.BreakdownRow, error)
	GetMoviesBreakdown(ctx context.Context, fromDate, toDate string, tzOffsetMin int) ([]models.BreakdownRow, error)
	GetDurationBuckets(ctx context.Context, fromDate, toDate string, types []string, bucketSeconds int) (map[int]int, error)
	GetUserSummaries(ctx context.Context, fromDate, toDate string, tzOffsetMin int) ([]models.UserSummary, error)
}

// breakdownColumns maps the accepted breakdown dimensions to their storage
// columns. Only values from this set ever reach the store.
var breakdownColumns = map[string]string{
	"ItemType":       "item_type",
	"UserId":         "user_id",
	"ClientName":     "client_name",
	"DeviceName":     "device_name",
	"PlaybackMethod": "playback_method",
}

// Window is an inclusive report date range with a minutes timezone offset
// applied to record timestamps before any date or hour key is derived.
type Window struct {
	Days        int
	End         time.Time
	TzOffsetMin int
}

// dates returns the window bounds as date keys. A window of N days ending
// on E covers [E-(N-1), E].
func (w Window) dates() (from, to string) {
	end := w.End
	if end.IsZero() {
		end = time.Now().UTC()
	}
	start := end.AddDate(0, 0, -(w.Days - 1))
	return start.Format(dateFormat), end.Format(dateFormat)
}

func (w Window) validate() error {
	if w.Days <= 0 {
		return fmt.Errorf("report window must cover at least one day, got %d", w.Days)
	}
	return nil
}

// Engine shapes report payloads from stored playback aggregates.
type Engine struct {
	store         Store
	bucketSeconds int
}

// Option configures an Engine.
type Option func(*Engine)

// WithBucketSeconds overrides the duration histogram bucket width.
func WithBucketSeconds(seconds int) Option {
	return func(e *Engine) {
		if seconds > 0 {
			e.bucketSeconds = seconds
		}
	}
}

// NewEngine creates a reporting engine over the given store.
func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:         store,
		bucketSeconds: DefaultBucketSeconds,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// UsageForUser lists one user's playback rows on a single shifted date.
func (e *Engine) UsageForUser(ctx context.Context, date, userID string, types []string, tzOffsetMin int) ([]models.ItemActivityRow, error) {
	if _, err := time.Parse(dateFormat, date); err != nil {
		return nil, fmt.Errorf("invalid report date %q: %w", date, err)
	}
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	rows, err := e.store.GetUsageForUser(ctx, date, userID, types, tzOffsetMin)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []models.ItemActivityRow{}
	}
	return rows, nil
}

// UsageForDays builds the per-user daily usage report. Every user group
// carries a value for every date in the window, zero filled, and the
// synthetic labels group (an all-zero series) is appended last. When
// byDuration is true the values are summed play seconds, otherwise play
// counts. Groups are ordered by user id; callers that substitute display
// names re-sort at their own boundary.
func (e *Engine) UsageForDays(ctx context.Context, w Window, types []string, byDuration bool) ([]models.UserUsage, error) {
	if err := w.validate(); err != nil {
		return nil, err
	}
	from, to := w.dates()

	rows, err := e.store.GetUsageForDays(ctx, from, to, types, w.TzOffsetMin)
	if err != nil {
		return nil, err
	}

	dates := windowDates(from, w.Days)
	byUser := make(map[string]map[string]int)
	for _, row := range rows {
		usage, ok := byUser[row.UserID]
		if !ok {
			usage = zeroSeries(dates)
			byUser[row.UserID] = usage
		}
		if byDuration {
			usage[row.Date] = row.Seconds
		} else {
			usage[row.Date] = row.Count
		}
	}

	userIDs := make([]string, 0, len(byUser))
	for id := range byUser {
		userIDs = append(userIDs, id)
	}
	sort.Strings(userIDs)

	result := make([]models.UserUsage, 0, len(userIDs)+1)
	for _, id := range userIDs {
		result = append(result, models.UserUsage{UserID: id, Usage: byUser[id]})
	}
	result = append(result, models.UserUsage{
		UserID: models.LabelsUserID,
		Usage:  zeroSeries(dates),
	})
	return result, nil
}

// HourlyUsage builds the day-of-week/hour heatmap. The result always holds
// exactly 168 buckets keyed "w-HH" (0=Sunday through 6=Saturday, zero
// padded hour), zero filled.
func (e *Engine) HourlyUsage(ctx context.Context, w Window, types []string) (map[string]int, error) {
	if err := w.validate(); err != nil {
		return nil, err
	}
	from, to := w.dates()

	counts, err := e.store.GetHourlyCounts(ctx, from, to, types, w.TzOffsetMin)
	if err != nil {
		return nil, err
	}

	report := make(map[string]int, 168)
	for day := 0; day < 7; day++ {
		for hour := 0; hour < 24; hour++ {
			key := fmt.Sprintf("%d-%02d", day, hour)
			report[key] = counts[key]
		}
	}
	return report, nil
}

// Breakdown groups all playback in the window by the given dimension.
// Accepted dimensions are ItemType, UserId, ClientName, DeviceName and
// PlaybackMethod; anything else is rejected. Empty group labels are
// reported as the unknown sentinel, and rows are ordered by count
// descending with ties broken by label.
func (e *Engine) Breakdown(ctx context.Context, w Window, dimension string) ([]models.BreakdownRow, error) {
	if err := w.validate(); err != nil {
		return nil, err
	}
	column, ok := breakdownColumns[dimension]
	if !ok {
		return nil, fmt.Errorf("unknown breakdown dimension %q", dimension)
	}
	from, to := w.dates()

	rows, err := e.store.GetBreakdown(ctx, from, to, column, w.TzOffsetMin)
	if err != nil {
		return nil, err
	}
	return shapeBreakdown(rows), nil
}

// TvShows groups episode playback by series within the window.
func (e *Engine) TvShows(ctx context.Context, w Window) ([]models.BreakdownRow, error) {
	if err := w.validate(); err != nil {
		return nil, err
	}
	from, to := w.dates()

	rows, err := e.store.GetTvShowsBreakdown(ctx, from, to, w.TzOffsetMin)
	if err != nil {
		return nil, err
	}
	return shapeBreakdown(rows), nil
}

// Movies groups movie playback by item name within the window.
func (e *Engine) Movies(ctx context.Context, w Window) ([]models.BreakdownRow, error) {
	if err := w.validate(); err != nil {
		return nil, err
	}
	from, to := w.dates()

	rows, err := e.store.GetMoviesBreakdown(ctx, from, to, w.TzOffsetMin)
	if err != nil {
		return nil, err
	}
	return shapeBreakdown(rows), nil
}

// DurationHistogramBucket is one column of the session length histogram.
type DurationHistogramBucket struct {
	Bucket int `json:"bucket"`
	Count  int `json:"count"`
}

// DurationHistogram counts sessions per play-duration bucket. Buckets run
// contiguously from 0 to the highest occupied bucket, zero filled; an
// empty window yields the single zero bucket. Duration bucketing uses the
// raw record date, so the window carries no timezone shift here.
func (e *Engine) DurationHistogram(ctx context.Context, w Window, types []string) ([]DurationHistogramBucket, error) {
	if err := w.validate(); err != nil {
		return nil, err
	}
	from, to := w.dates()

	buckets, err := e.store.GetDurationBuckets(ctx, from, to, types, e.bucketSeconds)
	if err != nil {
		return nil, err
	}

	max := 0
	for bucket := range buckets {
		if bucket > max {
			max = bucket
		}
	}
	result := make([]DurationHistogramBucket, 0, max+1)
	for bucket := 0; bucket <= max; bucket++ {
		result = append(result, DurationHistogramBucket{Bucket: bucket, Count: buckets[bucket]})
	}
	return result, nil
}

// UserSummaries returns the per-user activity overview for the window.
func (e *Engine) UserSummaries(ctx context.Context, w Window) ([]models.UserSummary, error) {
	if err := w.validate(); err != nil {
		return nil, err
	}
	from, to := w.dates()

	summaries, err := e.store.GetUserSummaries(ctx, from, to, w.TzOffsetMin)
	if err != nil {
		return nil, err
	}
	if summaries == nil {
		summaries = []models.UserSummary{}
	}
	return summaries, nil
}

// windowDates lists every date key in an n-day window starting at from.
func windowDates(from string, days int) []string {
	start, _ := time.Parse(dateFormat, from)
	dates := make([]string, 0, days)
	for i := 0; i < days; i++ {
		dates = append(dates, start.AddDate(0, 0, i).Format(dateFormat))
	}
	return dates
}

func zeroSeries(dates []string) map[string]int {
	series := make(map[string]int, len(dates))
	for _, d := range dates {
		series[d] = 0
	}
	return series
}

// shapeBreakdown normalizes empty labels to the unknown sentinel and
// orders rows by count descending, label ascending.
func shapeBreakdown(rows []models.BreakdownRow) []models.BreakdownRow {
	shaped := make([]models.BreakdownRow, 0, len(rows))
	for _, row := range rows {
		if row.Label == "" {
			row.Label = models.UnknownLabel
		}
		shaped = append(shaped, row)
	}
	sort.Slice(shaped, func(i, j int) bool {
		if shaped[i].Count != shaped[j].Count {
			return shaped[i].Count > shaped[j].Count
		}
		return shaped[i].Label < shaped[j].Label
	})
	return shaped
}
