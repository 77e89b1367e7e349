// Watchdial - Playback Session Telemetry and Reporting
// Copyright 2026 Watchdial contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchdial/watchdial

package database

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/watchdial/watchdial/internal/logging"
	"github.com/watchdial/watchdial/internal/models"
)

// ExportRawData serializes the full record set as a JSON backup payload.
func (db *DB) ExportRawData(ctx context.Context) ([]byte, error) {
	records, err := db.exportRecords(ctx)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize backup: %w", err)
	}
	return data, nil
}

// ImportRawData loads a backup payload produced by ExportRawData. Records
// already present (same date, user, item and duration) are skipped, so
// re-importing a backup is idempotent. Returns the number of records added.
func (db *DB) ImportRawData(ctx context.Context, data []byte) (int, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var records []models.PlaybackRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return 0, fmt.Errorf("failed to parse backup payload: %w", err)
	}

	imported := 0
	for i := range records {
		record := &records[i]
		exists, err := db.recordExists(ctx, record)
		if err != nil {
			return imported, err
		}
		if exists {
			continue
		}
		// Imported rows get fresh ids so a backup from another install
		// cannot collide with local records.
		record.ID = uuid.New()
		if err := db.InsertPlaybackRecord(ctx, record); err != nil {
			return imported, err
		}
		imported++
	}

	logging.Info().Int("imported", imported).Int("total", len(records)).Msg("Backup import finished")
	return imported, nil
}

func (db *DB) exportRecords(ctx context.Context) ([]models.PlaybackRecord, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, date_created, user_id, item_id, item_name, item_type,
			client_name, device_name, playback_method, play_duration
		FROM playback_activity ORDER BY date_created`)
	if err != nil {
		return nil, fmt.Errorf("failed to export records: %w", err)
	}
	defer closeWithLog(rows, "export rows")

	var records []models.PlaybackRecord
	for rows.Next() {
		var r models.PlaybackRecord
		if err := rows.Scan(&r.ID, &r.Date, &r.UserID, &r.ItemID, &r.ItemName,
			&r.ItemType, &r.ClientName, &r.DeviceName, &r.PlaybackMethod, &r.PlayDuration); err != nil {
			return nil, fmt.Errorf("failed to scan export row: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (db *DB) recordExists(ctx context.Context, record *models.PlaybackRecord) (bool, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM playback_activity
		WHERE date_created = ? AND user_id = ? AND item_id = ? AND play_duration = ?`,
		record.Date, record.UserID, record.ItemID, record.PlayDuration).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check for existing record: %w", err)
	}
	return count > 0, nil
}
