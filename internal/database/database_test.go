// Watchdial - Playback Session Telemetry and Reporting
// Copyright 2026 Watchdial contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchdial/watchdial

package database

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/watchdial/watchdial/internal/config"
	"github.com/watchdial/watchdial/internal/models"
)

// testDBSemaphore serializes database lifecycles. Concurrent DuckDB CGO
// connections can hang under CI resource pressure, so only one test holds a
// live connection at a time.
var testDBSemaphore = make(chan struct{}, 1)

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	testDBSemaphore <- struct{}{}
	t.Cleanup(func() {
		<-testDBSemaphore
	})

	db, err := New(&config.DatabaseConfig{
		Path:      ":memory:",
		MaxMemory: "1GB",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return db
}

func mkTime(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse("2006-01-02 15:04:05", value)
	if err != nil {
		t.Fatalf("time.Parse(%q) error = %v", value, err)
	}
	return ts.UTC()
}

func insertRecord(t *testing.T, db *DB, record models.PlaybackRecord) uuid.UUID {
	t.Helper()
	if record.ItemType == "" {
		record.ItemType = "Movie"
	}
	if record.ClientName == "" {
		record.ClientName = "TestClient"
	}
	if record.DeviceName == "" {
		record.DeviceName = "TestDevice"
	}
	if record.PlaybackMethod == "" {
		record.PlaybackMethod = "DirectPlay"
	}
	if err := db.InsertPlaybackRecord(context.Background(), &record); err != nil {
		t.Fatalf("InsertPlaybackRecord() error = %v", err)
	}
	return record.ID
}

func TestInsertAssignsID(t *testing.T) {
	db := setupTestDB(t)

	record := models.PlaybackRecord{
		Date:     mkTime(t, "2024-01-10 14:00:00"),
		UserID:   "u1",
		ItemID:   "i1",
		ItemName: "Some Movie",
	}
	id := insertRecord(t, db, record)
	if id == uuid.Nil {
		t.Error("record ID = uuid.Nil, expected an assigned id")
	}
}

func TestUpdatePlayDuration(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	id := insertRecord(t, db, models.PlaybackRecord{
		Date:         mkTime(t, "2024-01-10 14:00:00"),
		UserID:       "u1",
		ItemID:       "i1",
		ItemName:     "Some Movie",
		PlayDuration: 10,
	})

	if err := db.UpdatePlayDuration(ctx, id, 120); err != nil {
		t.Fatalf("UpdatePlayDuration() error = %v", err)
	}

	var duration int
	err := db.Conn().QueryRowContext(ctx,
		`SELECT play_duration FROM playback_activity WHERE id = ?`, id).Scan(&duration)
	if err != nil {
		t.Fatalf("duration query error = %v", err)
	}
	if duration != 120 {
		t.Errorf("play_duration = %d, expected 120", duration)
	}

	if err := db.UpdatePlayDuration(ctx, uuid.New(), 60); err == nil {
		t.Error("UpdatePlayDuration() with unknown id error = nil, expected an error")
	}
}

func TestGetTypeFilterList(t *testing.T) {
	db := setupTestDB(t)

	base := mkTime(t, "2024-01-10 14:00:00")
	insertRecord(t, db, models.PlaybackRecord{Date: base, UserID: "u1", ItemID: "i1", ItemName: "E1", ItemType: "Episode"})
	insertRecord(t, db, models.PlaybackRecord{Date: base, UserID: "u1", ItemID: "i2", ItemName: "M1", ItemType: "Movie"})
	insertRecord(t, db, models.PlaybackRecord{Date: base, UserID: "u2", ItemID: "i3", ItemName: "M2", ItemType: "Movie"})

	types, err := db.GetTypeFilterList(context.Background())
	if err != nil {
		t.Fatalf("GetTypeFilterList() error = %v", err)
	}
	if len(types) != 2 || types[0] != "Episode" || types[1] != "Movie" {
		t.Errorf("GetTypeFilterList() = %v, expected [Episode Movie]", types)
	}
}

func TestIgnoreList(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	ignored, err := db.IsUserIgnored(ctx, "u1")
	if err != nil {
		t.Fatalf("IsUserIgnored() error = %v", err)
	}
	if ignored {
		t.Error("IsUserIgnored(u1) = true before adding, expected false")
	}

	if err := db.ManageUserList(ctx, "add", "u1"); err != nil {
		t.Fatalf("ManageUserList(add) error = %v", err)
	}
	// Adding twice is a no-op.
	if err := db.ManageUserList(ctx, "add", "u1"); err != nil {
		t.Fatalf("ManageUserList(add) second call error = %v", err)
	}

	ignored, err = db.IsUserIgnored(ctx, "u1")
	if err != nil {
		t.Fatalf("IsUserIgnored() error = %v", err)
	}
	if !ignored {
		t.Error("IsUserIgnored(u1) = false after adding, expected true")
	}

	list, err := db.GetUserList(ctx)
	if err != nil {
		t.Fatalf("GetUserList() error = %v", err)
	}
	if len(list) != 1 || list[0] != "u1" {
		t.Errorf("GetUserList() = %v, expected [u1]", list)
	}

	if err := db.ManageUserList(ctx, "remove", "u1"); err != nil {
		t.Fatalf("ManageUserList(remove) error = %v", err)
	}
	ignored, err = db.IsUserIgnored(ctx, "u1")
	if err != nil {
		t.Fatalf("IsUserIgnored() error = %v", err)
	}
	if ignored {
		t.Error("IsUserIgnored(u1) = true after removing, expected false")
	}

	if err := db.ManageUserList(ctx, "toggle", "u1"); err == nil {
		t.Error("ManageUserList(toggle) error = nil, expected an error")
	}
}

func TestRemoveUnknownUsers(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	base := mkTime(t, "2024-01-10 14:00:00")
	insertRecord(t, db, models.PlaybackRecord{Date: base, UserID: "keep", ItemID: "i1", ItemName: "M1"})
	insertRecord(t, db, models.PlaybackRecord{Date: base, UserID: "gone", ItemID: "i2", ItemName: "M2"})
	insertRecord(t, db, models.PlaybackRecord{Date: base, UserID: "gone", ItemID: "i3", ItemName: "M3"})

	removed, err := db.RemoveUnknownUsers(ctx, []string{"keep"})
	if err != nil {
		t.Fatalf("RemoveUnknownUsers() error = %v", err)
	}
	if removed != 2 {
		t.Errorf("RemoveUnknownUsers() removed = %d, expected 2", removed)
	}

	var count int
	if err := db.Conn().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM playback_activity`).Scan(&count); err != nil {
		t.Fatalf("count query error = %v", err)
	}
	if count != 1 {
		t.Errorf("remaining records = %d, expected 1", count)
	}

	if _, err := db.RemoveUnknownUsers(ctx, nil); err == nil {
		t.Error("RemoveUnknownUsers(nil) error = nil, expected refusal")
	}
}

func TestPruneOlderThan(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	insertRecord(t, db, models.PlaybackRecord{Date: mkTime(t, "2023-12-01 10:00:00"), UserID: "u1", ItemID: "i1", ItemName: "Old"})
	insertRecord(t, db, models.PlaybackRecord{Date: mkTime(t, "2024-01-10 10:00:00"), UserID: "u1", ItemID: "i2", ItemName: "New"})

	removed, err := db.PruneOlderThan(ctx, mkTime(t, "2024-01-01 00:00:00"))
	if err != nil {
		t.Fatalf("PruneOlderThan() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("PruneOlderThan() removed = %d, expected 1", removed)
	}

	if _, err := db.PruneOlderThan(ctx, time.Time{}); err == nil {
		t.Error("PruneOlderThan(zero) error = nil, expected an error")
	}
}
