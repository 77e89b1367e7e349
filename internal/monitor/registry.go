// Watchdial - Playback Session Telemetry and Reporting
// Copyright 2026 Watchdial contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchdial/watchdial

package monitor

import (
	"hash/fnv"
	"sync"
)

// registryShards is the stripe count for the session registry. Events for
// the same key always land on the same stripe, giving per-key serialization;
// different stripes proceed concurrently.
const registryShards = 32

type registryShard struct {
	mu       sync.Mutex
	trackers map[string]*Tracker
}

// Registry is the concurrency-safe mapping from session key to active
// tracker. All tracker mutation happens inside Update's exclusive section,
// including the store writes that depend on tracker state, so per-session
// writes reach the store in event order.
type Registry struct {
	shards [registryShards]registryShard
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i].trackers = make(map[string]*Tracker)
	}
	return r
}

func (r *Registry) shard(key string) *registryShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &r.shards[h.Sum32()%registryShards]
}

// Update runs fn under the key's exclusive section. fn receives the current
// tracker for the key (nil if none) and returns the tracker to keep; a nil
// return removes the key. The error is passed through.
func (r *Registry) Update(key string, fn func(t *Tracker) (*Tracker, error)) error {
	shard := r.shard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	next, err := fn(shard.trackers[key])
	if next == nil {
		delete(shard.trackers, key)
	} else {
		shard.trackers[key] = next
	}
	return err
}

// Len returns the number of active trackers.
func (r *Registry) Len() int {
	total := 0
	for i := range r.shards {
		shard := &r.shards[i]
		shard.mu.Lock()
		total += len(shard.trackers)
		shard.mu.Unlock()
	}
	return total
}

// Drain removes every tracker, invoking fn for each under its stripe's
// exclusive section. Used at shutdown to flush confirmed sessions.
func (r *Registry) Drain(fn func(key string, t *Tracker)) {
	for i := range r.shards {
		shard := &r.shards[i]
		shard.mu.Lock()
		for key, tracker := range shard.trackers {
			fn(key, tracker)
			delete(shard.trackers, key)
		}
		shard.mu.Unlock()
	}
}
