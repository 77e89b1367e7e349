// Watchdial - Playback Session Telemetry and Reporting
// Copyright 2026 Watchdial contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchdial/watchdial

package models

import (
	"time"

	"github.com/google/uuid"
)

// ItemActivityRow is one playback record in a per-user, per-date listing.
type ItemActivityRow struct {
	RowID    uuid.UUID `json:"row_id"`
	Time     string    `json:"time"`
	ItemID   string    `json:"item_id"`
	ItemName string    `json:"item_name"`
	ItemType string    `json:"item_type"`
	Client   string    `json:"client"`
	Method   string    `json:"method"`
	Device   string    `json:"device"`
	Duration int       `json:"duration"`
}

// UsageDayRow is one (user, date) aggregate from the playback store.
type UsageDayRow struct {
	UserID  string
	Date    string
	Count   int
	Seconds int
}

// UserUsage is one user's bucketed activity in a usage-for-days report.
// Usage maps "YYYY-MM-DD" date keys to the selected aggregate (play count or
// summed duration); every date in the requested window is present, zero
// filled. The synthetic labels entry (UserID == LabelsUserID) carries an
// all-zero series for chart axis labelling.
type UserUsage struct {
	UserID string         `json:"user_id"`
	Usage  map[string]int `json:"user_usage"`
}

// LabelsUserID is the synthetic usage-for-days group appended for axis labels.
const LabelsUserID = "labels_user"

// BreakdownRow is one group in a breakdown report, ordered by Count
// descending with ties broken by Label ascending.
type BreakdownRow struct {
	Label string `json:"label"`
	Count int    `json:"count"`
	Time  int    `json:"time"`
}

// UnknownLabel is the sentinel substituted for null/empty group labels in
// breakdown reports.
const UnknownLabel = "Not Known"

// UserSummary is one row of the per-user activity overview.
type UserSummary struct {
	UserID       string    `json:"user_id"`
	TotalCount   int       `json:"total_count"`
	TotalTime    int       `json:"total_time"`
	LatestDate   time.Time `json:"latest_date"`
	LatestItem   string    `json:"latest_item"`
	LatestClient string    `json:"latest_client"`
}

// CustomQueryResult holds the raw output of an ad-hoc read query.
type CustomQueryResult struct {
	Columns []string `json:"colums"`
	Rows    [][]any  `json:"results"`
	Message string   `json:"message"`
}
