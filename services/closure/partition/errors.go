// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package partition reads the on-disk partitioned graph and builds the
// in-memory state for a set of resident partitions.
//
// # On-disk Layout
//
// A dataset with base path B and N partitions consists of:
//
//	B.partAllocTable       text, N lines, line p = max source vertex of partition p
//	B.partition.<p>        binary edge records
//	B.partition.<p>.degrees text, "src<TAB>degree" per source vertex
//
// Edge records are big-endian:
//
//	int32 src, int32 count, count * (int32 dest, int8 value)
//
// # Ownership Model
//
// A Residency owns its vertices, edge lists and intervals for as long as
// its partitions are loaded. Vertex edge arrays are never mutated after
// Load returns. Newly derived edges live in the per-vertex edges.List.
package partition

import (
	"errors"
	"fmt"
)

// Sentinel errors for partition operations.
var (
	// ErrInvalidAllocationTable is returned when the allocation table is
	// empty, unparsable, or its bounds are not strictly increasing.
	ErrInvalidAllocationTable = errors.New("invalid partition allocation table")

	// ErrInvalidPartition is returned for a partition ID the directory does
	// not know about.
	ErrInvalidPartition = errors.New("invalid partition id")

	// ErrDuplicatePartition is returned when the same partition is requested
	// twice in one load.
	ErrDuplicatePartition = errors.New("duplicate partition id")

	// ErrNoPartitions is returned when Load is called with no partitions.
	ErrNoPartitions = errors.New("no partitions requested")

	// ErrMalformedDegrees is returned when a degree file line cannot be parsed.
	ErrMalformedDegrees = errors.New("malformed degree file")

	// ErrDegreeMismatch is returned when an edge file holds more edges for a
	// source vertex than its degree file declared.
	ErrDegreeMismatch = errors.New("edge count exceeds declared degree")

	// ErrSourceOutOfRange is returned when a degree or edge record names a
	// source vertex outside its partition.
	ErrSourceOutOfRange = errors.New("source vertex outside partition range")
)

// ConsistencyError describes a disagreement between a partition's files.
// It wraps ErrDegreeMismatch or ErrSourceOutOfRange.
type ConsistencyError struct {
	PartitionID int
	Source      int32
	Degree      int32
	Err         error
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("partition %d, source %d (degree %d): %v", e.PartitionID, e.Source, e.Degree, e.Err)
}

func (e *ConsistencyError) Unwrap() error {
	return e.Err
}
