// Watchdial - Playback Session Telemetry and Reporting
// Copyright 2026 Watchdial contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchdial/watchdial

// Package mediaserver is the REST client for the observed media server. It
// serves two boundary concerns: the live-session lookup used by the session
// confirmation task, and display name resolution for the API layer.
//
// The wire format follows the Jellyfin/Emby session API.
package mediaserver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/watchdial/watchdial/internal/config"
	"github.com/watchdial/watchdial/internal/logging"
	"github.com/watchdial/watchdial/internal/models"
)

// userCacheTTL bounds how stale resolved display names may get.
const userCacheTTL = 5 * time.Minute

// Client provides access to the media server REST API. A client with an
// empty base URL is disabled: lookups return nothing and names resolve to
// the opaque id.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	userMu        sync.Mutex
	userNames     map[string]string
	userFetchedAt time.Time
}

// New creates a media server client from configuration.
func New(cfg config.MediaServerConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Enabled reports whether a server URL is configured.
func (c *Client) Enabled() bool {
	return c.baseURL != ""
}

// session mirrors the server's session resource, reduced to the fields the
// confirmation check needs.
type session struct {
	DeviceID       string `json:"DeviceId"`
	UserID         string `json:"UserId"`
	NowPlayingItem *struct {
		ID string `json:"Id"`
	} `json:"NowPlayingItem"`
	PlayState *struct {
		PlayMethod string `json:"PlayMethod"`
	} `json:"PlayState"`
	TranscodingInfo *struct {
		VideoCodec    string `json:"VideoCodec"`
		AudioCodec    string `json:"AudioCodec"`
		IsVideoDirect bool   `json:"IsVideoDirect"`
		IsAudioDirect bool   `json:"IsAudioDirect"`
	} `json:"TranscodingInfo"`
}

type user struct {
	ID   string `json:"Id"`
	Name string `json:"Name"`
}

// GetLiveSession returns the device's current playing session, or nil when
// the device has none.
func (c *Client) GetLiveSession(ctx context.Context, deviceID string) (*models.LiveSession, error) {
	if !c.Enabled() {
		return nil, nil
	}

	var sessions []session
	if err := c.getJSON(ctx, "/Sessions", &sessions); err != nil {
		return nil, fmt.Errorf("live session lookup failed: %w", err)
	}

	for _, s := range sessions {
		if s.DeviceID != deviceID || s.NowPlayingItem == nil {
			continue
		}
		live := &models.LiveSession{
			NowPlayingItemID: s.NowPlayingItem.ID,
			UserID:           s.UserID,
		}
		if s.PlayState != nil {
			live.PlayMethod = s.PlayState.PlayMethod
		}
		if s.TranscodingInfo != nil {
			live.Transcode = &models.TranscodeInfo{
				VideoDirect: s.TranscodingInfo.IsVideoDirect,
				VideoCodec:  s.TranscodingInfo.VideoCodec,
				AudioDirect: s.TranscodingInfo.IsAudioDirect,
				AudioCodec:  s.TranscodingInfo.AudioCodec,
			}
		}
		return live, nil
	}
	return nil, nil
}

// DisplayName resolves a user id to its display name, refreshing the cached
// user list at most once per TTL. Unknown ids and lookup failures fall back
// to the opaque id.
func (c *Client) DisplayName(ctx context.Context, userID string) string {
	if !c.Enabled() {
		return userID
	}

	c.userMu.Lock()
	defer c.userMu.Unlock()

	if time.Since(c.userFetchedAt) > userCacheTTL {
		var users []user
		if err := c.getJSON(ctx, "/Users", &users); err != nil {
			logging.Err(err).Msg("User list refresh failed, names unresolved")
			return userID
		}
		c.userNames = make(map[string]string, len(users))
		for _, u := range users {
			c.userNames[u.ID] = u.Name
		}
		c.userFetchedAt = time.Now()
	}

	if name := c.userNames[userID]; name != "" {
		return name
	}
	return userID
}

// KnownUserIDs returns the ids of all users the server currently knows,
// for pruning records of deleted accounts.
func (c *Client) KnownUserIDs(ctx context.Context) ([]string, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("media server is not configured")
	}

	var users []user
	if err := c.getJSON(ctx, "/Users", &users); err != nil {
		return nil, fmt.Errorf("user list lookup failed: %w", err)
	}
	ids := make([]string, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	return ids, nil
}

// Ping checks server reachability.
func (c *Client) Ping(ctx context.Context) error {
	if !c.Enabled() {
		return fmt.Errorf("media server is not configured")
	}
	var info struct {
		ID string `json:"Id"`
	}
	if err := c.getJSON(ctx, "/System/Info/Public", &info); err != nil {
		return fmt.Errorf("media server ping failed: %w", err)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Emby-Token", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s returned status %d: %s", endpoint, resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", endpoint, err)
	}
	return nil
}
