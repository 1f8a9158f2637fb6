// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package status reports run progress over HTTP.
//
// Tracker implements engine.Observer and keeps the latest view of a run.
// Server exposes it with gin:
//
//	GET /health      liveness
//	GET /v1/status   the tracker snapshot as JSON
//	GET /metrics     Prometheus, when a metrics handler is configured
package status

import (
	"slices"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianClosure/services/closure/engine"
	"github.com/AleutianAI/AleutianClosure/services/closure/scheduler"
)

// State is the lifecycle of a run.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateDone    State = "done"
	StateFailed  State = "failed"
)

// maxRecentPairs bounds Snapshot.RecentPairs.
const maxRecentPairs = 32

// PairStatus describes one converged residency.
type PairStatus struct {
	Partitions   []int         `json:"partitions"`
	Passes       int           `json:"passes"`
	NewEdges     int64         `json:"new_edges"`
	FailedChunks int           `json:"failed_chunks"`
	Duration     time.Duration `json:"duration_ns"`
}

// Snapshot is the JSON body of /v1/status.
type Snapshot struct {
	RunID         string       `json:"run_id,omitempty"`
	State         State        `json:"state"`
	NumPartitions int          `json:"num_partitions"`
	TotalPairs    int          `json:"total_pairs"`
	PairsDone     int          `json:"pairs_done"`
	Current       []int        `json:"current,omitempty"`
	ResidentVerts int          `json:"resident_vertices"`
	NewEdges      int64        `json:"new_edges"`
	Passes        int          `json:"passes"`
	FailedChunks  int          `json:"failed_chunks"`
	StartedAt     time.Time    `json:"started_at,omitempty"`
	FinishedAt    time.Time    `json:"finished_at,omitempty"`
	Error         string       `json:"error,omitempty"`
	RecentPairs   []PairStatus `json:"recent_pairs,omitempty"`
}

// Tracker records run progress. The zero value is not usable; call
// NewTracker.
//
// Thread Safety: Observer methods and Snapshot may be called concurrently.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

var _ engine.Observer = (*Tracker)(nil)

// NewTracker returns an idle tracker.
func NewTracker() *Tracker {
	return &Tracker{snap: Snapshot{State: StateIdle}, now: time.Now}
}

// RunStarted resets the tracker for a new run.
func (t *Tracker) RunStarted(runID string, numParts int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap = Snapshot{
		RunID:         runID,
		State:         StateRunning,
		NumPartitions: numParts,
		TotalPairs:    scheduler.NumPairs(numParts),
		StartedAt:     t.now(),
	}
}

// ResidencyStarted records the partitions now in memory.
func (t *Tracker) ResidencyStarted(runID string, partitions []int, vertices int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if runID != t.snap.RunID {
		return
	}
	t.snap.Current = slices.Clone(partitions)
	t.snap.ResidentVerts = vertices
}

// ResidencyConverged adds a residency's totals.
func (t *Tracker) ResidencyConverged(runID string, partitions []int, stats *engine.Stats) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if runID != t.snap.RunID || stats == nil {
		return
	}
	t.snap.PairsDone++
	t.snap.NewEdges += stats.NewEdges
	t.snap.Passes += stats.Passes
	t.snap.FailedChunks += stats.FailedChunks
	t.snap.RecentPairs = append(t.snap.RecentPairs, PairStatus{
		Partitions:   slices.Clone(partitions),
		Passes:       stats.Passes,
		NewEdges:     stats.NewEdges,
		FailedChunks: stats.FailedChunks,
		Duration:     stats.Duration,
	})
	if n := len(t.snap.RecentPairs); n > maxRecentPairs {
		t.snap.RecentPairs = slices.Clone(t.snap.RecentPairs[n-maxRecentPairs:])
	}
}

// RunFinished marks the run done or failed.
func (t *Tracker) RunFinished(runID string, _ *engine.RunStats, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if runID != t.snap.RunID {
		return
	}
	t.snap.Current = nil
	t.snap.ResidentVerts = 0
	t.snap.FinishedAt = t.now()
	if err != nil {
		t.snap.State = StateFailed
		t.snap.Error = err.Error()
		return
	}
	t.snap.State = StateDone
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := t.snap
	s.Current = slices.Clone(s.Current)
	s.RecentPairs = slices.Clone(s.RecentPairs)
	return s
}
