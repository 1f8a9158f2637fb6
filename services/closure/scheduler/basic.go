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
	"fmt"
)

// BasicScheduler serves the lexicographically first uncomputed pair (i, j),
// j < i, scanning i then j in ascending order.
//
// A pair is marked computed as soon as it is returned.
type BasicScheduler struct {
	numParts int
	computed [][]bool // row i has i cells
	journal  Journal
}

var _ Scheduler = (*BasicScheduler)(nil)

// NewBasicScheduler creates an uninitialized scheduler.
func NewBasicScheduler(opts ...Option) *BasicScheduler {
	o := applyOptions(opts)
	return &BasicScheduler{journal: o.journal}
}

// Init resets the matrix to numParts partitions, then replays the journal.
func (s *BasicScheduler) Init(ctx context.Context, numParts int) error {
	if numParts < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidPartCount, numParts)
	}
	computed := make([][]bool, numParts)
	for i := range computed {
		computed[i] = make([]bool, i)
	}

	pairs, err := replay(ctx, s.journal, numParts)
	if err != nil {
		return err
	}
	for _, p := range pairs {
		computed[p.I][p.J] = true
	}

	s.numParts = numParts
	s.computed = computed
	return nil
}

// Next returns the next pair as [i, j].
func (s *BasicScheduler) Next(ctx context.Context) ([]int, bool, error) {
	if s.computed == nil {
		return nil, false, ErrNotInitialized
	}
	for i := 0; i < s.numParts; i++ {
		for j := 0; j < i; j++ {
			if s.computed[i][j] {
				continue
			}
			p := Pair{I: i, J: j}
			if s.journal != nil {
				if err := s.journal.MarkComputed(ctx, p); err != nil {
					return nil, false, fmt.Errorf("journal pair %s: %w", p, err)
				}
			}
			s.computed[i][j] = true
			return p.Partitions(), true, nil
		}
	}
	return nil, false, nil
}

// IsComputed reports whether pair (i, j) has been handed out.
func (s *BasicScheduler) IsComputed(i, j int) bool {
	p := Pair{I: i, J: j}
	if !p.Valid(s.numParts) {
		return false
	}
	return s.computed[i][j]
}

// Remaining returns how many pairs have not been handed out.
func (s *BasicScheduler) Remaining() int {
	n := 0
	for i := range s.computed {
		for _, done := range s.computed[i] {
			if !done {
				n++
			}
		}
	}
	return n
}
