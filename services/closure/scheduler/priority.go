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
	"container/heap"
	"context"
	"fmt"
)

// WeightFunc scores a pair; higher weights are served first.
type WeightFunc func(p Pair) float64

// PriorityScheduler serves uncomputed pairs by descending weight, breaking
// ties in the order BasicScheduler would use. Weights are evaluated once,
// at Init.
type PriorityScheduler struct {
	weight   WeightFunc
	journal  Journal
	queue    pairQueue
	numParts int
	ready    bool
}

var _ Scheduler = (*PriorityScheduler)(nil)

// NewPriorityScheduler creates an uninitialized scheduler using weight.
func NewPriorityScheduler(weight WeightFunc, opts ...Option) *PriorityScheduler {
	o := applyOptions(opts)
	return &PriorityScheduler{weight: weight, journal: o.journal}
}

// Init scores every pair not already in the journal.
func (s *PriorityScheduler) Init(ctx context.Context, numParts int) error {
	if numParts < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidPartCount, numParts)
	}
	pairs, err := replay(ctx, s.journal, numParts)
	if err != nil {
		return err
	}
	done := make(map[Pair]bool, len(pairs))
	for _, p := range pairs {
		done[p] = true
	}

	queue := make(pairQueue, 0, NumPairs(numParts)-len(done))
	for i := 0; i < numParts; i++ {
		for j := 0; j < i; j++ {
			p := Pair{I: i, J: j}
			if done[p] {
				continue
			}
			queue = append(queue, weightedPair{pair: p, weight: s.weight(p)})
		}
	}
	heap.Init(&queue)

	s.queue = queue
	s.numParts = numParts
	s.ready = true
	return nil
}

// Next returns the heaviest remaining pair as [i, j].
func (s *PriorityScheduler) Next(ctx context.Context) ([]int, bool, error) {
	if !s.ready {
		return nil, false, ErrNotInitialized
	}
	if s.queue.Len() == 0 {
		return nil, false, nil
	}
	top := s.queue[0]
	if s.journal != nil {
		if err := s.journal.MarkComputed(ctx, top.pair); err != nil {
			return nil, false, fmt.Errorf("journal pair %s: %w", top.pair, err)
		}
	}
	heap.Pop(&s.queue)
	return top.pair.Partitions(), true, nil
}

// Remaining returns how many pairs have not been handed out.
func (s *PriorityScheduler) Remaining() int {
	return s.queue.Len()
}

type weightedPair struct {
	pair   Pair
	weight float64
}

// pairQueue is a max-heap on weight.
type pairQueue []weightedPair

func (q pairQueue) Len() int { return len(q) }

func (q pairQueue) Less(a, b int) bool {
	if q[a].weight != q[b].weight {
		return q[a].weight > q[b].weight
	}
	if q[a].pair.I != q[b].pair.I {
		return q[a].pair.I < q[b].pair.I
	}
	return q[a].pair.J < q[b].pair.J
}

func (q pairQueue) Swap(a, b int) { q[a], q[b] = q[b], q[a] }

func (q *pairQueue) Push(x any) { *q = append(*q, x.(weightedPair)) }

func (q *pairQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}
