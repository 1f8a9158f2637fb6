// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package partition

import (
	"fmt"
	"os"
	"sort"
)

// Directory maps global vertex IDs to partitions.
//
// Partition p owns the contiguous source range [MinSrc(p), MaxSrc(p)].
// Partition 0 starts at the dataset's first vertex ID and every later
// partition starts right after its predecessor's bound.
//
// Thread Safety: Immutable after construction, safe for concurrent use.
type Directory struct {
	firstVertex int32
	maxSrc      []int32
}

// NewDirectory builds a directory from allocation table bounds.
//
// Inputs:
//   - table: inclusive max source vertex per partition, strictly increasing.
//   - firstVertex: the lowest vertex ID of partition 0.
//
// Outputs:
//   - *Directory: the directory.
//   - error: ErrInvalidAllocationTable if the table is empty or a partition
//     would own no vertices.
func NewDirectory(table []int32, firstVertex int32) (*Directory, error) {
	if len(table) == 0 {
		return nil, fmt.Errorf("%w: no partitions", ErrInvalidAllocationTable)
	}
	prev := int64(firstVertex) - 1
	for p, bound := range table {
		if int64(bound) <= prev {
			return nil, fmt.Errorf("%w: partition %d bound %d does not exceed %d",
				ErrInvalidAllocationTable, p, bound, prev)
		}
		prev = int64(bound)
	}
	maxSrc := make([]int32, len(table))
	copy(maxSrc, table)
	return &Directory{firstVertex: firstVertex, maxSrc: maxSrc}, nil
}

// LoadDirectory reads the allocation table of layout.
func LoadDirectory(layout Layout, firstVertex int32) (*Directory, error) {
	f, err := os.Open(layout.AllocationTablePath())
	if err != nil {
		return nil, fmt.Errorf("open allocation table: %w", err)
	}
	defer f.Close()

	table, err := ReadAllocationTable(f)
	if err != nil {
		return nil, err
	}
	return NewDirectory(table, firstVertex)
}

// NumParts returns the number of partitions.
func (d *Directory) NumParts() int {
	return len(d.maxSrc)
}

// Valid reports whether p names a partition.
func (d *Directory) Valid(p int) bool {
	return p >= 0 && p < len(d.maxSrc)
}

// MinSrc returns the lowest source vertex of partition p.
func (d *Directory) MinSrc(p int) int32 {
	if p == 0 {
		return d.firstVertex
	}
	return d.maxSrc[p-1] + 1
}

// MaxSrc returns the highest source vertex of partition p.
func (d *Directory) MaxSrc(p int) int32 {
	return d.maxSrc[p]
}

// NumUniqueSrcs returns how many source vertices partition p owns.
func (d *Directory) NumUniqueSrcs(p int) int {
	return int(int64(d.MaxSrc(p))-int64(d.MinSrc(p))) + 1
}

// Contains reports whether partition p owns vertex v. It is false for an
// unknown p.
func (d *Directory) Contains(p int, v int32) bool {
	if !d.Valid(p) {
		return false
	}
	return v >= d.MinSrc(p) && v <= d.MaxSrc(p)
}

// PartitionOf returns the partition owning vertex v.
func (d *Directory) PartitionOf(v int32) (int, bool) {
	if v < d.firstVertex {
		return 0, false
	}
	p := sort.Search(len(d.maxSrc), func(i int) bool { return d.maxSrc[i] >= v })
	if p == len(d.maxSrc) {
		return 0, false
	}
	return p, true
}

// Table returns a copy of the allocation table bounds.
func (d *Directory) Table() []int32 {
	out := make([]int32, len(d.maxSrc))
	copy(out, d.maxSrc)
	return out
}
