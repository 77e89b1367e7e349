// Watchdial - Playback Session Telemetry and Reporting
// Copyright 2026 Watchdial contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchdial/watchdial

package services

import (
	"context"
	"time"

	"github.com/watchdial/watchdial/internal/logging"
	"github.com/watchdial/watchdial/internal/metrics"
)

// PruneStore deletes playback records older than a cutoff. *database.DB
// satisfies it.
type PruneStore interface {
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionService periodically deletes playback records older than the
// retention window. One prune runs at startup, then one per interval.
type RetentionService struct {
	store         PruneStore
	retentionDays int
	interval      time.Duration
}

// NewRetentionService creates the pruning service. retentionDays must be
// positive; a non-positive interval falls back to daily.
func NewRetentionService(store PruneStore, retentionDays int, interval time.Duration) *RetentionService {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &RetentionService{
		store:         store,
		retentionDays: retentionDays,
		interval:      interval,
	}
}

// Serve implements suture.Service.
func (s *RetentionService) Serve(ctx context.Context) error {
	s.prune(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.prune(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// prune runs one retention pass. Failures are logged, not fatal; the next
// tick retries.
func (s *RetentionService) prune(ctx context.Context) {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.retentionDays)
	removed, err := s.store.PruneOlderThan(ctx, cutoff)
	if err != nil {
		logging.Err(err).Time("cutoff", cutoff).Msg("Retention prune failed")
		return
	}
	if removed > 0 {
		metrics.StoreRecordsPruned.Add(float64(removed))
		logging.Info().
			Int64("records_removed", removed).
			Time("cutoff", cutoff).
			Msg("Retention prune completed")
	}
}

func (s *RetentionService) String() string {
	return "retention-pruner"
}
