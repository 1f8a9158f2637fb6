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
	"io"
)

// SourceEdges is one edge record of a partition.
type SourceEdges struct {
	Src    int32
	Dests  []int32
	Values []byte
}

// WriteAllocationTableFile writes the dataset's allocation table.
func WriteAllocationTableFile(layout Layout, table []int32) error {
	return writeFileAtomic(layout.AllocationTablePath(), func(w io.Writer) error {
		return WriteAllocationTable(w, table)
	})
}

// WritePartition writes the edge file and the matching degree file for
// partition id. Records may repeat a source; degrees are summed.
func WritePartition(dir *Directory, layout Layout, id int, records []SourceEdges) error {
	if !dir.Valid(id) {
		return fmt.Errorf("%w: %d", ErrInvalidPartition, id)
	}
	minSrc := dir.MinSrc(id)
	degrees := make([]int32, dir.NumUniqueSrcs(id))
	for _, rec := range records {
		slot := int64(rec.Src) - int64(minSrc)
		if slot < 0 || slot >= int64(len(degrees)) {
			return &ConsistencyError{PartitionID: id, Source: rec.Src, Err: ErrSourceOutOfRange}
		}
		degrees[slot] += int32(len(rec.Dests))
	}

	err := writeFileAtomic(layout.EdgeFilePath(id), func(w io.Writer) error {
		ew := NewEdgeWriter(w)
		for _, rec := range records {
			if err := ew.WriteRecord(rec.Src, rec.Dests, rec.Values); err != nil {
				return err
			}
		}
		return ew.Flush()
	})
	if err != nil {
		return fmt.Errorf("write edge file of partition %d: %w", id, err)
	}

	err = writeFileAtomic(layout.DegreeFilePath(id), func(w io.Writer) error {
		return WriteDegrees(w, minSrc, degrees)
	})
	if err != nil {
		return fmt.Errorf("write degree file of partition %d: %w", id, err)
	}
	return nil
}
