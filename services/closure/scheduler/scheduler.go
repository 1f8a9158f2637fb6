// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scheduler decides which partition pair is brought into memory
// next and remembers which pairs have been computed.
//
// The engine depends only on the Scheduler interface. BasicScheduler walks
// the lower triangle of the pair matrix in order; PriorityScheduler serves
// pairs by caller-supplied weight. Both hand out every pair at most once.
//
// # Thread Safety
//
// Schedulers are single-consumer: Next must not be called concurrently.
package scheduler

import (
	"context"
	"errors"
	"fmt"
)

// PartsPerComputation is the number of partitions resident at once.
const PartsPerComputation = 2

// Sentinel errors for scheduling.
var (
	// ErrNotInitialized is returned by Next before Init.
	ErrNotInitialized = errors.New("scheduler not initialized")

	// ErrInvalidPartCount is returned by Init for fewer than one partition.
	ErrInvalidPartCount = errors.New("invalid number of partitions")

	// ErrInvalidPair is returned when a journal replays a pair outside the
	// matrix or not below the diagonal.
	ErrInvalidPair = errors.New("invalid partition pair")
)

// Pair is a cell (I, J) of the schedule matrix with J < I.
type Pair struct {
	I int
	J int
}

// Partitions returns the pair as the partition list to load, I first.
func (p Pair) Partitions() []int {
	return []int{p.I, p.J}
}

func (p Pair) String() string {
	return fmt.Sprintf("(%d,%d)", p.I, p.J)
}

// Valid reports whether p is below the diagonal of an n-partition matrix.
func (p Pair) Valid(n int) bool {
	return p.J >= 0 && p.J < p.I && p.I < n
}

// NumPairs returns how many pairs an n-partition matrix holds.
func NumPairs(n int) int {
	return n * (n - 1) / 2
}

// Scheduler hands out partition sets to load.
type Scheduler interface {
	// Init resets the schedule for numParts partitions.
	Init(ctx context.Context, numParts int) error

	// Next returns the next partitions to load and marks them computed.
	// ok is false once no pair remains; that is not an error.
	Next(ctx context.Context) (parts []int, ok bool, err error)
}

// Journal persists computed pairs so a schedule survives restarts.
type Journal interface {
	// Computed returns every pair recorded so far.
	Computed(ctx context.Context) ([]Pair, error)

	// MarkComputed records p.
	MarkComputed(ctx context.Context, p Pair) error
}

// Option configures a scheduler.
type Option func(*options)

type options struct {
	journal Journal
}

// WithJournal makes the scheduler replay and record computed pairs.
func WithJournal(j Journal) Option {
	return func(o *options) {
		o.journal = j
	}
}

func applyOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// replay loads journaled pairs, validating them against numParts.
func replay(ctx context.Context, j Journal, numParts int) ([]Pair, error) {
	if j == nil {
		return nil, nil
	}
	pairs, err := j.Computed(ctx)
	if err != nil {
		return nil, fmt.Errorf("replay schedule journal: %w", err)
	}
	for _, p := range pairs {
		if !p.Valid(numParts) {
			return nil, fmt.Errorf("%w: %s for %d partitions", ErrInvalidPair, p, numParts)
		}
	}
	return pairs, nil
}
