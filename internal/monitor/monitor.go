// Watchdial - Playback Session Telemetry and Reporting
// Copyright 2026 Watchdial contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchdial/watchdial

package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/watchdial/watchdial/internal/logging"
	"github.com/watchdial/watchdial/internal/metrics"
	"github.com/watchdial/watchdial/internal/models"
)

// RecordStore is the durable store the monitor commits playback records to.
// *database.DB satisfies it.
type RecordStore interface {
	InsertPlaybackRecord(ctx context.Context, record *models.PlaybackRecord) error
	UpdatePlayDuration(ctx context.Context, id uuid.UUID, seconds int) error
	IsUserIgnored(ctx context.Context, userID string) (bool, error)
}

// SessionSource looks up the live server-side session for a device. The
// confirmation task uses it to verify that a started session is still the
// one actually playing.
type SessionSource interface {
	// GetLiveSession returns the device's current session, or nil when the
	// device has none.
	GetLiveSession(ctx context.Context, deviceID string) (*models.LiveSession, error)
}

// Config holds the monitor's timing knobs.
type Config struct {
	// ConfirmationDelay is how long after Start the confirmation check runs.
	ConfirmationDelay time.Duration

	// ProgressDebounce is the minimum spacing between accepted progress
	// updates for one session.
	ProgressDebounce time.Duration
}

const (
	defaultConfirmationDelay = 20 * time.Second
	defaultProgressDebounce  = 20 * time.Second

	// confirmTimeout bounds one confirmation check, live lookup included.
	confirmTimeout = 10 * time.Second
)

// Monitor consumes playback session events and maintains the session
// registry. Each event may be delivered on its own goroutine; the registry
// serializes handling per session key.
type Monitor struct {
	store    RecordStore
	source   SessionSource
	registry *Registry
	breaker  *gobreaker.CircuitBreaker[any]

	confirmationDelay time.Duration
	progressDebounce  time.Duration

	// wg tracks in-flight confirmation tasks so Drain can wait them out;
	// quit abandons confirmations still waiting on their delay.
	wg       sync.WaitGroup
	quit     chan struct{}
	quitOnce sync.Once
}

// New creates a session monitor over the given store and live-session
// source. Zero config fields fall back to the 20 second defaults.
func New(store RecordStore, source SessionSource, cfg Config) *Monitor {
	if cfg.ConfirmationDelay <= 0 {
		cfg.ConfirmationDelay = defaultConfirmationDelay
	}
	if cfg.ProgressDebounce <= 0 {
		cfg.ProgressDebounce = defaultProgressDebounce
	}
	return &Monitor{
		store:             store,
		source:            source,
		registry:          NewRegistry(),
		breaker:           newStoreBreaker(),
		confirmationDelay: cfg.ConfirmationDelay,
		progressDebounce:  cfg.ProgressDebounce,
		quit:              make(chan struct{}),
	}
}

// HandleEvent dispatches one session event. Untracked progress/stop events
// are dropped without error; store failures are returned to the caller with
// registry state already cleaned up.
func (m *Monitor) HandleEvent(ctx context.Context, event *models.SessionEvent) error {
	metrics.RecordSessionEvent(string(event.Kind))

	var err error
	switch event.Kind {
	case models.EventStart:
		err = m.handleStart(ctx, event)
	case models.EventProgress:
		err = m.handleProgress(ctx, event)
	case models.EventStop:
		err = m.handleStop(ctx, event)
	default:
		err = fmt.Errorf("unknown event kind %q", event.Kind)
	}

	metrics.SessionsActive.Set(float64(m.registry.Len()))
	return err
}

// ActiveSessions returns the number of tracked sessions.
func (m *Monitor) ActiveSessions() int {
	return m.registry.Len()
}

func (m *Monitor) handleStart(ctx context.Context, event *models.SessionEvent) error {
	if event.Item == nil {
		metrics.RecordRejectedEvent("no_item")
		logging.Debug().Str("device_id", event.DeviceID).Msg("Start event without item, not tracking")
		return nil
	}
	if event.Item.ThemeMedia {
		metrics.RecordRejectedEvent("theme_media")
		logging.Debug().Str("item_name", event.Item.Name).Msg("Theme media playback, not tracking")
		return nil
	}
	if len(event.UserIDs) == 0 {
		metrics.RecordRejectedEvent("no_user")
		logging.Debug().Str("item_name", event.Item.Name).Msg("Start event without user, not tracking")
		return nil
	}

	ignored, err := m.store.IsUserIgnored(ctx, event.UserIDs[0])
	if err != nil {
		return fmt.Errorf("failed to check ignore list: %w", err)
	}
	if ignored {
		metrics.RecordRejectedEvent("ignored_user")
		logging.Debug().Str("user_id", event.UserIDs[0]).Msg("Ignored user playback, not tracking")
		return nil
	}

	key := event.SessionKey()
	var flushErr error
	_ = m.registry.Update(key, func(stale *Tracker) (*Tracker, error) {
		if stale != nil {
			// Key reuse before the prior session stopped. Flush its
			// trailing duration before replacing it.
			metrics.SessionsReplaced.Inc()
			flushErr = m.flushTracker(ctx, stale, event.Timestamp)
			if flushErr != nil {
				logging.Err(flushErr).
					Str("session_key", key).
					Str("item_name", stale.item.Name).
					Msg("Failed to flush stale session, replaced by new start")
			} else {
				logging.Info().
					Str("session_key", key).
					Str("item_name", stale.item.Name).
					Msg("Stale session flushed, replaced by new start")
			}
		}
		tracker := newTracker(key, event)
		logging.Info().
			Str("session_key", key).
			Str("user_id", tracker.userID).
			Str("item_name", tracker.item.Name).
			Msg("Session tracking started")
		return tracker, nil
	})

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		timer := time.NewTimer(m.confirmationDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
			m.confirm(key)
		case <-m.quit:
		}
	}()
	// The new session is tracked either way; a failed flush of the stale
	// one still surfaces to the caller.
	return flushErr
}

func (m *Monitor) handleProgress(ctx context.Context, event *models.SessionEvent) error {
	key := event.SessionKey()
	if key == "" {
		metrics.SessionUntrackedDrops.Inc()
		return nil
	}

	return m.registry.Update(key, func(t *Tracker) (*Tracker, error) {
		if t == nil {
			metrics.SessionUntrackedDrops.Inc()
			logging.Debug().Str("session_key", key).Msg("Progress for untracked session, dropped")
			return nil, nil
		}

		now := event.Timestamp
		if now.IsZero() {
			now = time.Now().UTC()
		}
		if now.Sub(t.lastUpdated) < m.progressDebounce {
			return t, nil
		}

		t.lastUpdated = now
		duration := t.Duration(now)
		t.logTransition("progress accepted, duration %ds", duration)

		if t.record != nil {
			t.record.PlayDuration = duration
			if err := m.updateDuration(ctx, t.record.ID, duration); err != nil {
				// Abandon this session; whatever was committed stays.
				logging.Err(err).
					Str("session_key", key).
					Msg("Progress update failed, abandoning session")
				return nil, fmt.Errorf("failed to update play duration: %w", err)
			}
		}
		return t, nil
	})
}

func (m *Monitor) handleStop(ctx context.Context, event *models.SessionEvent) error {
	key := event.SessionKey()
	if key == "" {
		metrics.SessionUntrackedDrops.Inc()
		return nil
	}

	return m.registry.Update(key, func(t *Tracker) (*Tracker, error) {
		if t == nil {
			metrics.SessionUntrackedDrops.Inc()
			logging.Debug().Str("session_key", key).Msg("Stop for untracked session, dropped")
			return nil, nil
		}

		err := m.flushTracker(ctx, t, event.Timestamp)
		t.state = stateClosed
		t.logTransition("stopped")
		logging.Info().
			Str("session_key", key).
			Str("item_name", t.item.Name).
			Bool("confirmed", t.record != nil).
			Msg("Session tracking stopped")
		return nil, err
	})
}

// flushTracker pushes the tracker's final duration to the store if the
// session was confirmed. Unconfirmed sessions flush to nothing.
func (m *Monitor) flushTracker(ctx context.Context, t *Tracker, at time.Time) error {
	if t.record == nil {
		return nil
	}
	duration := t.Duration(at)
	t.record.PlayDuration = duration
	if err := m.updateDuration(ctx, t.record.ID, duration); err != nil {
		return fmt.Errorf("failed to flush play duration: %w", err)
	}
	return nil
}

// confirm is the one-shot confirmation check scheduled at session start. It
// is never cancelled by an early stop; it simply finds the tracker gone or
// the live identity changed and becomes a no-op.
func (m *Monitor) confirm(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), confirmTimeout)
	defer cancel()

	// The live lookup happens outside the key's exclusive section so a slow
	// server response does not stall event handling. A session that stops in
	// between is simply gone by the time we re-check.
	var deviceID string
	found := false
	_ = m.registry.Update(key, func(t *Tracker) (*Tracker, error) {
		if t != nil {
			deviceID = t.deviceID
			found = true
		}
		return t, nil
	})
	if !found {
		metrics.RecordConfirmation("gone")
		logging.Debug().Str("session_key", key).Msg("Confirmation found no tracked session")
		return
	}

	live, err := m.source.GetLiveSession(ctx, deviceID)
	if err != nil {
		metrics.RecordConfirmation("source_error")
		logging.Err(err).Str("session_key", key).Msg("Live session lookup failed, session unconfirmed")
		return
	}

	_ = m.registry.Update(key, func(t *Tracker) (*Tracker, error) {
		if t == nil {
			metrics.RecordConfirmation("gone")
			return nil, nil
		}
		if t.state != stateNew {
			return t, nil
		}
		if live == nil || live.NowPlayingItemID != t.item.ID || live.UserID != t.userID {
			metrics.RecordConfirmation("mismatch")
			t.logTransition("confirmation mismatch, session not counted")
			logging.Info().
				Str("session_key", key).
				Str("item_name", t.item.Name).
				Msg("Live session identity mismatch, session not counted")
			return t, nil
		}

		record := &models.PlaybackRecord{
			ID:             uuid.New(),
			Date:           t.createdAt,
			UserID:         t.userID,
			ItemID:         t.item.ID,
			ItemName:       t.item.Name,
			ItemType:       t.item.Type,
			ClientName:     t.clientName,
			DeviceName:     t.deviceName,
			PlaybackMethod: live.PlaybackMethod(),
			PlayDuration:   t.Duration(time.Now().UTC()),
		}
		if err := m.insertRecord(ctx, record); err != nil {
			metrics.RecordConfirmation("store_error")
			logging.Err(err).Str("session_key", key).Msg("Record insert failed, session unconfirmed")
			return t, nil
		}

		t.record = record
		t.state = stateConfirmed
		t.logTransition("confirmed as %s", record.ID)
		metrics.RecordConfirmation("confirmed")
		logging.Info().
			Str("session_key", key).
			Str("record_id", record.ID.String()).
			Str("playback_method", record.PlaybackMethod).
			Msg("Session confirmed")
		return t, nil
	})
}

func (m *Monitor) insertRecord(ctx context.Context, record *models.PlaybackRecord) error {
	_, err := m.breaker.Execute(func() (any, error) {
		return nil, m.store.InsertPlaybackRecord(ctx, record)
	})
	metrics.RecordStoreWrite("insert", storeWriteResult(err))
	return err
}

func (m *Monitor) updateDuration(ctx context.Context, id uuid.UUID, seconds int) error {
	_, err := m.breaker.Execute(func() (any, error) {
		return nil, m.store.UpdatePlayDuration(ctx, id, seconds)
	})
	metrics.RecordStoreWrite("update", storeWriteResult(err))
	return err
}

// Drain abandons pending confirmation tasks, waits for running ones, then
// flushes every tracked session and empties the registry. Confirmed sessions
// get a final duration update; unconfirmed ones are dropped.
func (m *Monitor) Drain(ctx context.Context) {
	m.quitOnce.Do(func() { close(m.quit) })

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	now := time.Now().UTC()
	m.registry.Drain(func(key string, t *Tracker) {
		if err := m.flushTracker(ctx, t, now); err != nil {
			logging.Err(err).Str("session_key", key).Msg("Failed to flush session during drain")
		}
	})
	metrics.SessionsActive.Set(0)
}
