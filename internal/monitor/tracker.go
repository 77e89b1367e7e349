// Watchdial - Playback Session Telemetry and Reporting
// Copyright 2026 Watchdial contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchdial/watchdial

// Package monitor implements the playback session state machine: it consumes
// the noisy start/progress/stop event stream, confirms sessions against the
// live server state after a delay, and commits at most one playback record
// per session to the store.
package monitor

import (
	"fmt"
	"time"

	"github.com/watchdial/watchdial/internal/models"
)

type trackerState int

const (
	stateNew trackerState = iota
	stateConfirmed
	stateClosed
)

func (s trackerState) String() string {
	switch s {
	case stateNew:
		return "new"
	case stateConfirmed:
		return "confirmed"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Tracker holds the mutable state of one active playback session. A tracker
// is owned by the registry; all access goes through the registry's per-key
// exclusive section, so the fields need no locking of their own.
type Tracker struct {
	key    string
	userID string
	item   models.MediaItem

	clientName string
	deviceName string
	deviceID   string

	createdAt   time.Time
	lastUpdated time.Time
	state       trackerState

	// record is set once confirmation succeeds; the tracker is its single
	// writer from then on.
	record *models.PlaybackRecord

	// transitions is a diagnostic log of state changes for this session.
	transitions []string
}

func newTracker(key string, event *models.SessionEvent) *Tracker {
	now := event.Timestamp
	if now.IsZero() {
		now = time.Now().UTC()
	}
	t := &Tracker{
		key:         key,
		userID:      event.UserIDs[0],
		item:        *event.Item,
		clientName:  event.ClientName,
		deviceName:  event.DeviceName,
		deviceID:    event.DeviceID,
		createdAt:   now,
		lastUpdated: now,
		state:       stateNew,
	}
	t.logTransition("started item %q", t.item.Name)
	return t
}

func (t *Tracker) logTransition(format string, args ...any) {
	entry := time.Now().UTC().Format(time.RFC3339) + " " + fmt.Sprintf(format, args...)
	t.transitions = append(t.transitions, entry)
}

// Duration returns the elapsed session length in seconds from start to the
// given instant. Never negative.
func (t *Tracker) Duration(now time.Time) int {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	seconds := int(now.Sub(t.createdAt) / time.Second)
	if seconds < 0 {
		return 0
	}
	return seconds
}

// Confirmed reports whether the session has a committed record.
func (t *Tracker) Confirmed() bool {
	return t.state == stateConfirmed && t.record != nil
}

// Transitions returns a copy of the diagnostic transition log.
func (t *Tracker) Transitions() []string {
	out := make([]string, len(t.transitions))
	copy(out, t.transitions)
	return out
}
