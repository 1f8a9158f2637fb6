// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memJournal is an in-memory Journal for tests.
type memJournal struct {
	pairs   []Pair
	failErr error
}

func (j *memJournal) Computed(context.Context) ([]Pair, error) {
	return append([]Pair(nil), j.pairs...), nil
}

func (j *memJournal) MarkComputed(_ context.Context, p Pair) error {
	if j.failErr != nil {
		return j.failErr
	}
	j.pairs = append(j.pairs, p)
	return nil
}

// drain calls Next until the scheduler is exhausted.
func drain(t *testing.T, s Scheduler) [][]int {
	t.Helper()
	var out [][]int
	for {
		parts, ok, err := s.Next(context.Background())
		require.NoError(t, err)
		if !ok {
			return out
		}
		out = append(out, parts)
		require.LessOrEqual(t, len(out), 10000, "scheduler never terminates")
	}
}

func TestBasicScheduler_Order(t *testing.T) {
	s := NewBasicScheduler()
	require.NoError(t, s.Init(context.Background(), 4))

	got := drain(t, s)
	want := [][]int{{1, 0}, {2, 0}, {2, 1}, {3, 0}, {3, 1}, {3, 2}}
	assert.Equal(t, want, got)
	assert.Equal(t, 0, s.Remaining())

	// Exhaustion is sticky.
	_, ok, err := s.Next(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBasicScheduler_EveryPairOnce(t *testing.T) {
	for _, n := range []int{1, 2, 3, 7, 16} {
		s := NewBasicScheduler()
		require.NoError(t, s.Init(context.Background(), n))

		got := drain(t, s)
		assert.Len(t, got, NumPairs(n), "n=%d", n)

		seen := make(map[Pair]bool)
		for _, parts := range got {
			require.Len(t, parts, PartsPerComputation)
			p := Pair{I: parts[0], J: parts[1]}
			assert.True(t, p.Valid(n), "pair %s", p)
			assert.False(t, seen[p], "pair %s returned twice", p)
			seen[p] = true
			assert.True(t, s.IsComputed(p.I, p.J))
		}
	}
}

func TestBasicScheduler_InitResets(t *testing.T) {
	s := NewBasicScheduler()
	require.NoError(t, s.Init(context.Background(), 3))
	drain(t, s)

	require.NoError(t, s.Init(context.Background(), 3))
	assert.Equal(t, 3, s.Remaining())
}

func TestBasicScheduler_Errors(t *testing.T) {
	s := NewBasicScheduler()
	_, _, err := s.Next(context.Background())
	assert.ErrorIs(t, err, ErrNotInitialized)

	assert.ErrorIs(t, s.Init(context.Background(), 0), ErrInvalidPartCount)
}

func TestBasicScheduler_Journal(t *testing.T) {
	t.Run("replays computed pairs", func(t *testing.T) {
		j := &memJournal{pairs: []Pair{{1, 0}, {2, 1}}}
		s := NewBasicScheduler(WithJournal(j))
		require.NoError(t, s.Init(context.Background(), 3))

		got := drain(t, s)
		assert.Equal(t, [][]int{{2, 0}}, got)
		assert.Len(t, j.pairs, 3)
	})

	t.Run("rejects invalid journal entries", func(t *testing.T) {
		j := &memJournal{pairs: []Pair{{0, 1}}}
		s := NewBasicScheduler(WithJournal(j))
		assert.ErrorIs(t, s.Init(context.Background(), 3), ErrInvalidPair)
	})

	t.Run("journal failure leaves pair pending", func(t *testing.T) {
		boom := errors.New("disk full")
		j := &memJournal{failErr: boom}
		s := NewBasicScheduler(WithJournal(j))
		require.NoError(t, s.Init(context.Background(), 2))

		_, ok, err := s.Next(context.Background())
		assert.ErrorIs(t, err, boom)
		assert.False(t, ok)
		assert.Equal(t, 1, s.Remaining())
	})
}

func TestPriorityScheduler(t *testing.T) {
	weights := map[Pair]float64{
		{1, 0}: 1,
		{2, 0}: 5,
		{2, 1}: 5,
		{3, 0}: 0,
		{3, 1}: 9,
		{3, 2}: 2,
	}
	s := NewPriorityScheduler(func(p Pair) float64 { return weights[p] })
	require.NoError(t, s.Init(context.Background(), 4))
	assert.Equal(t, 6, s.Remaining())

	got := drain(t, s)
	want := [][]int{{3, 1}, {2, 0}, {2, 1}, {3, 2}, {1, 0}, {3, 0}}
	assert.Equal(t, want, got)
}

func TestPriorityScheduler_Journal(t *testing.T) {
	j := &memJournal{pairs: []Pair{{1, 0}}}
	s := NewPriorityScheduler(func(Pair) float64 { return 1 }, WithJournal(j))
	require.NoError(t, s.Init(context.Background(), 3))

	got := drain(t, s)
	assert.Equal(t, [][]int{{2, 0}, {2, 1}}, got)
	assert.ElementsMatch(t, []Pair{{1, 0}, {2, 0}, {2, 1}}, j.pairs)
}

func TestPriorityScheduler_NotInitialized(t *testing.T) {
	s := NewPriorityScheduler(func(Pair) float64 { return 0 })
	_, _, err := s.Next(context.Background())
	assert.ErrorIs(t, err, ErrNotInitialized)
}
