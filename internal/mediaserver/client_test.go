// Watchdial - Playback Session Telemetry and Reporting
// Copyright 2026 Watchdial contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchdial/watchdial

package mediaserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/watchdial/watchdial/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New(config.MediaServerConfig{
		URL:     server.URL + "/",
		APIKey:  "test-key",
		Timeout: 5 * time.Second,
	})
}

func TestGetLiveSessionMatchesDevice(t *testing.T) {
	var gotToken string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Sessions" {
			t.Errorf("path = %q, expected /Sessions", r.URL.Path)
		}
		gotToken = r.Header.Get("X-Emby-Token")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"DeviceId": "other", "UserId": "u9", "NowPlayingItem": {"Id": "i9"}},
			{"DeviceId": "dev1", "UserId": "u1",
			 "NowPlayingItem": {"Id": "i1"},
			 "PlayState": {"PlayMethod": "Transcode"},
			 "TranscodingInfo": {"VideoCodec": "h264", "AudioCodec": "aac",
			                     "IsVideoDirect": false, "IsAudioDirect": true}}
		]`))
	})

	live, err := client.GetLiveSession(context.Background(), "dev1")
	if err != nil {
		t.Fatalf("GetLiveSession() error = %v", err)
	}
	if live == nil {
		t.Fatal("GetLiveSession() = nil, expected a session")
	}
	if gotToken != "test-key" {
		t.Errorf("X-Emby-Token = %q, expected %q", gotToken, "test-key")
	}
	if live.NowPlayingItemID != "i1" {
		t.Errorf("NowPlayingItemID = %q, expected %q", live.NowPlayingItemID, "i1")
	}
	if live.UserID != "u1" {
		t.Errorf("UserID = %q, expected %q", live.UserID, "u1")
	}
	if got := live.PlaybackMethod(); got != "Transcode (v:h264 a:direct)" {
		t.Errorf("PlaybackMethod() = %q, expected %q", got, "Transcode (v:h264 a:direct)")
	}
}

func TestGetLiveSessionNoMatch(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"DeviceId": "dev1", "UserId": "u1"}]`))
	})

	// dev1 has no NowPlayingItem, dev2 is absent entirely.
	for _, deviceID := range []string{"dev1", "dev2"} {
		live, err := client.GetLiveSession(context.Background(), deviceID)
		if err != nil {
			t.Fatalf("GetLiveSession(%q) error = %v", deviceID, err)
		}
		if live != nil {
			t.Errorf("GetLiveSession(%q) = %+v, expected nil", deviceID, live)
		}
	}
}

func TestGetLiveSessionServerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	if _, err := client.GetLiveSession(context.Background(), "dev1"); err == nil {
		t.Error("GetLiveSession() error = nil, expected an error")
	}
}

func TestGetLiveSessionDisabled(t *testing.T) {
	client := New(config.MediaServerConfig{})

	live, err := client.GetLiveSession(context.Background(), "dev1")
	if err != nil {
		t.Fatalf("GetLiveSession() error = %v", err)
	}
	if live != nil {
		t.Errorf("GetLiveSession() = %+v, expected nil for disabled client", live)
	}
}

func TestDisplayNameCachesUserList(t *testing.T) {
	var fetches int
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Users" {
			t.Errorf("path = %q, expected /Users", r.URL.Path)
		}
		fetches++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"Id": "u1", "Name": "Alice"}, {"Id": "u2", "Name": "Bob"}]`))
	})

	ctx := context.Background()
	if got := client.DisplayName(ctx, "u1"); got != "Alice" {
		t.Errorf("DisplayName(u1) = %q, expected %q", got, "Alice")
	}
	if got := client.DisplayName(ctx, "u2"); got != "Bob" {
		t.Errorf("DisplayName(u2) = %q, expected %q", got, "Bob")
	}
	if got := client.DisplayName(ctx, "unknown"); got != "unknown" {
		t.Errorf("DisplayName(unknown) = %q, expected the id back", got)
	}
	if fetches != 1 {
		t.Errorf("user list fetches = %d, expected 1", fetches)
	}
}

func TestDisplayNameFallsBackOnError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	})

	if got := client.DisplayName(context.Background(), "u1"); got != "u1" {
		t.Errorf("DisplayName() = %q, expected the id back on failure", got)
	}
}

func TestKnownUserIDs(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"Id": "u1", "Name": "Alice"}, {"Id": "u2", "Name": "Bob"}]`))
	})

	ids, err := client.KnownUserIDs(context.Background())
	if err != nil {
		t.Fatalf("KnownUserIDs() error = %v", err)
	}
	if len(ids) != 2 || ids[0] != "u1" || ids[1] != "u2" {
		t.Errorf("KnownUserIDs() = %v, expected [u1 u2]", ids)
	}
}
