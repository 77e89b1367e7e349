// Watchdial - Playback Session Telemetry and Reporting
// Copyright 2026 Watchdial contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchdial/watchdial

// Package models defines the data structures shared across Watchdial: the
// persisted playback record, the raw session events consumed by the monitor,
// and the report result rows produced by the reporting engine.
package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PlaybackRecord is the unit persisted to the record store: one confirmed
// playback session. A record is created by the confirmation task once a
// session has been verified against the live server state, then its
// PlayDuration is updated in place while the session remains open. After the
// session stops the record is final.
//
// UserID and ItemID are opaque identifiers; Watchdial never resolves them to
// display names itself (identity resolution is a boundary concern).
type PlaybackRecord struct {
	ID             uuid.UUID `json:"id"`
	Date           time.Time `json:"date"`
	UserID         string    `json:"user_id"`
	ItemID         string    `json:"item_id"`
	ItemName       string    `json:"item_name"`
	ItemType       string    `json:"item_type"`
	ClientName     string    `json:"client_name"`
	DeviceName     string    `json:"device_name"`
	PlaybackMethod string    `json:"playback_method"`

	// PlayDuration is the session duration in seconds. Monotonically
	// non-decreasing while the session is active.
	PlayDuration int `json:"play_duration"`
}

// EventKind tags the three playback callback kinds delivered by the event
// source.
type EventKind string

const (
	EventStart    EventKind = "start"
	EventProgress EventKind = "progress"
	EventStop     EventKind = "stop"
)

// MediaItem identifies the item a session event refers to.
type MediaItem struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`

	// ThemeMedia marks theme songs and local trailers, which are never
	// tracked.
	ThemeMedia bool `json:"theme_media,omitempty"`
}

// SessionEvent is a single playback callback from the event source. An
// arbitrary, possibly out-of-order subset of start/progress/stop events may
// arrive for a given physical session.
type SessionEvent struct {
	Kind       EventKind  `json:"kind"`
	DeviceID   string     `json:"device_id"`
	ClientName string     `json:"client_name"`
	DeviceName string     `json:"device_name"`
	UserIDs    []string   `json:"user_ids"`
	Item       *MediaItem `json:"item,omitempty"`

	PositionTicks int64     `json:"position_ticks"`
	Timestamp     time.Time `json:"timestamp"`
}

// SessionKey returns the composite key naming the physical playback session
// this event belongs to, or "" if the event carries no user or item. The key
// is not globally unique across reused device/user/item triples; tracker
// lifetime is bounded by registry membership, not by the key alone.
func (e *SessionEvent) SessionKey() string {
	if len(e.UserIDs) == 0 || e.Item == nil {
		return ""
	}
	return e.DeviceID + "-" + e.UserIDs[0] + "-" + e.Item.ID
}

// TranscodeInfo carries the codec decisions of a transcoding session, used to
// annotate the playback method string.
type TranscodeInfo struct {
	VideoDirect bool
	VideoCodec  string
	AudioDirect bool
	AudioCodec  string
}

// LiveSession is the server-side view of what a device is currently playing,
// as returned by the event source's live-session lookup. The confirmation
// task compares it against the identity captured at start time.
type LiveSession struct {
	NowPlayingItemID string
	UserID           string
	PlayMethod       string
	Transcode        *TranscodeInfo
}

// PlaybackMethod formats the session's play method for the persisted record.
// Transcoding sessions are annotated with the effective video/audio codecs,
// "direct" meaning the respective stream is copied.
func (s *LiveSession) PlaybackMethod() string {
	method := s.PlayMethod
	if method == "" {
		method = "na"
	}
	if s.Transcode == nil {
		return method
	}
	video := "direct"
	if !s.Transcode.VideoDirect {
		video = s.Transcode.VideoCodec
	}
	audio := "direct"
	if !s.Transcode.AudioDirect {
		audio = s.Transcode.AudioCodec
	}
	return fmt.Sprintf("%s (v:%s a:%s)", method, video, audio)
}
