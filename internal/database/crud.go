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

	"github.com/google/uuid"

	"github.com/watchdial/watchdial/internal/logging"
	"github.com/watchdial/watchdial/internal/models"
)

// InsertPlaybackRecord persists a newly confirmed playback record. The id is
// assigned if missing.
func (db *DB) InsertPlaybackRecord(ctx context.Context, record *models.PlaybackRecord) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.Date.IsZero() {
		record.Date = time.Now()
	}

	query := `INSERT INTO playback_activity (
		id, date_created, user_id, item_id, item_name, item_type,
		client_name, device_name, playback_method, play_duration
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := db.conn.ExecContext(ctx, query,
		record.ID, record.Date, record.UserID, record.ItemID,
		record.ItemName, record.ItemType, record.ClientName,
		record.DeviceName, record.PlaybackMethod, record.PlayDuration,
	)
	if err != nil {
		return fmt.Errorf("failed to insert playback record: %w", err)
	}

	logging.Debug().
		Str("record_id", record.ID.String()).
		Str("user_id", record.UserID).
		Str("item", record.ItemName).
		Msg("Playback record inserted")
	return nil
}

// UpdatePlayDuration pushes an updated duration for an open session's record.
// Records are immutable once committed except for this field.
func (db *DB) UpdatePlayDuration(ctx context.Context, id uuid.UUID, seconds int) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	result, err := db.conn.ExecContext(ctx,
		`UPDATE playback_activity SET play_duration = ? WHERE id = ?`, seconds, id)
	if err != nil {
		return fmt.Errorf("failed to update play duration: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return fmt.Errorf("no playback record with id %s", id)
	}
	return nil
}

// GetTypeFilterList returns the distinct item types observed in the store,
// sorted ascending.
func (db *DB) GetTypeFilterList(ctx context.Context) ([]string, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx,
		`SELECT DISTINCT item_type FROM playback_activity ORDER BY item_type`)
	if err != nil {
		return nil, fmt.Errorf("failed to query item types: %w", err)
	}
	defer closeWithLog(rows, "type filter rows")

	var types []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("failed to scan item type: %w", err)
		}
		types = append(types, t)
	}
	return types, rows.Err()
}

// GetUserList returns the ids on the ignore list.
func (db *DB) GetUserList(ctx context.Context) ([]string, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx,
		`SELECT user_id FROM user_ignore_list ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query ignore list: %w", err)
	}
	defer closeWithLog(rows, "ignore list rows")

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan ignore list row: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ManageUserList adds or removes a user id on the ignore list. Sessions for
// ignored users are never tracked.
func (db *DB) ManageUserList(ctx context.Context, action, userID string) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	switch action {
	case "add":
		_, err := db.conn.ExecContext(ctx,
			`INSERT INTO user_ignore_list (user_id) VALUES (?) ON CONFLICT DO NOTHING`, userID)
		if err != nil {
			return fmt.Errorf("failed to add user to ignore list: %w", err)
		}
	case "remove":
		_, err := db.conn.ExecContext(ctx,
			`DELETE FROM user_ignore_list WHERE user_id = ?`, userID)
		if err != nil {
			return fmt.Errorf("failed to remove user from ignore list: %w", err)
		}
	default:
		return fmt.Errorf("unknown ignore list action %q", action)
	}
	return nil
}

// IsUserIgnored reports whether the user id is on the ignore list.
func (db *DB) IsUserIgnored(ctx context.Context, userID string) (bool, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var count int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM user_ignore_list WHERE user_id = ?`, userID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check ignore list: %w", err)
	}
	return count > 0, nil
}

// RemoveUnknownUsers deletes playback records whose user id is not in the
// given keep list. Used to prune activity left behind by deleted accounts.
func (db *DB) RemoveUnknownUsers(ctx context.Context, knownUserIDs []string) (int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if len(knownUserIDs) == 0 {
		return 0, fmt.Errorf("refusing to prune with empty known user list")
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(knownUserIDs)), ",")
	args := make([]any, len(knownUserIDs))
	for i, id := range knownUserIDs {
		args[i] = id
	}

	result, err := db.conn.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM playback_activity WHERE user_id NOT IN (%s)`, placeholders), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to prune unknown users: %w", err)
	}
	removed, _ := result.RowsAffected()
	if removed > 0 {
		logging.Info().Int64("removed", removed).Msg("Pruned records for unknown users")
	}
	return removed, nil
}

// PruneOlderThan deletes playback records older than the cutoff. Retention
// pruning; a zero cutoff is rejected.
func (db *DB) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if cutoff.IsZero() {
		return 0, fmt.Errorf("retention cutoff is zero")
	}

	result, err := db.conn.ExecContext(ctx,
		`DELETE FROM playback_activity WHERE date_created < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune old records: %w", err)
	}
	removed, _ := result.RowsAffected()
	return removed, nil
}
