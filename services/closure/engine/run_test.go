// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianClosure/services/closure/partition"
	"github.com/AleutianAI/AleutianClosure/services/closure/scheduler"
)

// recordingLoader wraps a Loader and remembers every request.
type recordingLoader struct {
	inner    Loader
	requests [][]int
	vertices []int
	fail     error
}

func (l *recordingLoader) Load(ctx context.Context, ids []int) (*partition.Residency, error) {
	l.requests = append(l.requests, append([]int(nil), ids...))
	if l.fail != nil {
		return nil, l.fail
	}
	res, err := l.inner.Load(ctx, ids)
	if err == nil {
		l.vertices = append(l.vertices, res.Len())
	}
	return res, err
}

type recordingObserver struct {
	events []string
	runID  string
	err    error
}

func (o *recordingObserver) RunStarted(runID string, numParts int) {
	o.runID = runID
	o.events = append(o.events, fmt.Sprintf("start %d", numParts))
}

func (o *recordingObserver) ResidencyStarted(_ string, parts []int, vertices int) {
	o.events = append(o.events, fmt.Sprintf("load %v %d", parts, vertices))
}

func (o *recordingObserver) ResidencyConverged(_ string, parts []int, stats *Stats) {
	o.events = append(o.events, fmt.Sprintf("converged %v %d", parts, stats.NewEdges))
}

func (o *recordingObserver) RunFinished(_ string, stats *RunStats, err error) {
	o.err = err
	o.events = append(o.events, fmt.Sprintf("finished %d", stats.Pairs))
}

// writeRing writes n single-vertex partitions where vertex v has one edge
// to v+1 mod n.
func writeRing(t *testing.T, n int) *partition.Loader {
	t.Helper()
	layout := partition.Layout{Base: filepath.Join(t.TempDir(), "ring")}
	table := make([]int32, n)
	for i := range table {
		table[i] = int32(i)
	}
	require.NoError(t, partition.WriteAllocationTableFile(layout, table))
	dir, err := partition.LoadDirectory(layout, 0)
	require.NoError(t, err)
	for v := 0; v < n; v++ {
		require.NoError(t, partition.WritePartition(dir, layout, v, []partition.SourceEdges{
			{Src: int32(v), Dests: []int32{int32((v + 1) % n)}, Values: []byte{1}},
		}))
	}
	return partition.NewLoader(layout, dir, partition.WithLoaderLogger(quietLogger()))
}

func TestRunner_FourSingleVertexPartitions(t *testing.T) {
	loader := &recordingLoader{inner: writeRing(t, 4)}
	obs := &recordingObserver{}
	processed := 0
	proc := ProcessorFunc(func(_ context.Context, res *partition.Residency) error {
		processed++
		assert.Equal(t, 2, res.Len())
		return nil
	})

	e := newTestEngine(t, closureKernel(), nil)
	r := NewRunner(scheduler.NewBasicScheduler(), loader, e, 4,
		WithProcessor(proc),
		WithObserver(obs),
		WithRunnerLogger(quietLogger()),
	)

	stats, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 6, stats.Pairs)
	assert.Equal(t, 6, processed)
	assert.Equal(t, [][]int{{1, 0}, {2, 0}, {2, 1}, {3, 0}, {3, 1}, {3, 2}}, loader.requests)
	assert.Equal(t, []int{2, 2, 2, 2, 2, 2}, loader.vertices)

	// Adjacent pairs derive one composed edge each; (2,0) and (3,1) derive none.
	assert.Equal(t, int64(4), stats.NewEdges)
	perPair := map[string]int64{}
	for _, rs := range stats.Residencies {
		require.NotNil(t, rs.Engine)
		assert.Zero(t, rs.Engine.PerPass[rs.Engine.Passes-1].NewEdges)
		perPair[fmt.Sprint(rs.Partitions)] = rs.Engine.NewEdges
	}
	assert.Equal(t, map[string]int64{
		"[1 0]": 1, "[2 0]": 0, "[2 1]": 1,
		"[3 0]": 1, "[3 1]": 0, "[3 2]": 1,
	}, perPair)

	_, err = uuid.Parse(stats.RunID)
	assert.NoError(t, err)
	assert.Equal(t, stats.RunID, obs.runID)
	assert.NoError(t, obs.err)
	require.Len(t, obs.events, 1+6*2+1)
	assert.Equal(t, "start 4", obs.events[0])
	assert.Equal(t, "load [1 0] 2", obs.events[1])
	assert.Equal(t, "converged [1 0] 1", obs.events[2])
	assert.Equal(t, "finished 6", obs.events[len(obs.events)-1])
}

func TestRunner_ResumesFromJournal(t *testing.T) {
	journal := &pairJournal{done: []scheduler.Pair{{I: 1, J: 0}, {I: 2, J: 0}, {I: 2, J: 1}}}
	loader := &recordingLoader{inner: writeRing(t, 3)}
	e := newTestEngine(t, closureKernel(), nil)
	r := NewRunner(scheduler.NewBasicScheduler(scheduler.WithJournal(journal)), loader, e, 3,
		WithRunnerLogger(quietLogger()))

	stats, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Pairs)
	assert.Empty(t, loader.requests)
}

func TestRunner_Errors(t *testing.T) {
	boom := errors.New("disk gone")

	t.Run("load failure stops the run", func(t *testing.T) {
		loader := &recordingLoader{fail: boom}
		obs := &recordingObserver{}
		r := NewRunner(scheduler.NewBasicScheduler(), loader, newTestEngine(t, closureKernel(), nil), 3,
			WithObserver(obs), WithRunnerLogger(quietLogger()))

		stats, err := r.Run(context.Background())
		assert.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "load partitions [1 0]")
		assert.Zero(t, stats.Pairs)
		assert.ErrorIs(t, obs.err, boom)
		assert.Len(t, loader.requests, 1)
	})

	t.Run("processor failure stops the run", func(t *testing.T) {
		loader := &recordingLoader{inner: writeRing(t, 3)}
		proc := ProcessorFunc(func(context.Context, *partition.Residency) error { return boom })
		r := NewRunner(scheduler.NewBasicScheduler(), loader, newTestEngine(t, closureKernel(), nil), 3,
			WithProcessor(proc), WithRunnerLogger(quietLogger()))

		_, err := r.Run(context.Background())
		assert.ErrorIs(t, err, boom)
		assert.Len(t, loader.requests, 1)
	})

	t.Run("invalid partition count", func(t *testing.T) {
		r := NewRunner(scheduler.NewBasicScheduler(), &recordingLoader{}, newTestEngine(t, closureKernel(), nil), 0,
			WithRunnerLogger(quietLogger()))
		_, err := r.Run(context.Background())
		assert.ErrorIs(t, err, scheduler.ErrInvalidPartCount)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		loader := &recordingLoader{inner: writeRing(t, 3)}
		r := NewRunner(scheduler.NewBasicScheduler(), loader, newTestEngine(t, closureKernel(), nil), 3,
			WithRunnerLogger(quietLogger()))
		_, err := r.Run(ctx)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, loader.requests)
	})
}

type pairJournal struct {
	done []scheduler.Pair
}

func (j *pairJournal) Computed(context.Context) ([]scheduler.Pair, error) {
	return j.done, nil
}

func (j *pairJournal) MarkComputed(_ context.Context, p scheduler.Pair) error {
	j.done = append(j.done, p)
	return nil
}
