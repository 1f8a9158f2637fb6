// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/AleutianAI/AleutianClosure/services/closure/edges"
	"github.com/AleutianAI/AleutianClosure/services/closure/engine"
	"github.com/AleutianAI/AleutianClosure/services/closure/partition"
)

// WriteBack folds derived edges into the partition files they belong to.
//
// Description:
//
//	For every partition of a residency that gained edges, rewrites its
//	edge file as one record per source holding the loaded edges followed
//	by the derived ones, and rewrites its degree file to match. Partition
//	boundaries never change. Files are replaced atomically.
//
// Limitations:
//   - Edges that the loader dropped from a cut-off edge file are not
//     restored; the rewritten file holds what was resident.
//
// Thread Safety: Safe for concurrent use on distinct partitions.
type WriteBack struct {
	layout partition.Layout
	dir    *partition.Directory
	logger *slog.Logger
}

var _ engine.Processor = (*WriteBack)(nil)

// NewWriteBack creates a write-back processor for one dataset.
func NewWriteBack(layout partition.Layout, dir *partition.Directory, logger *slog.Logger) *WriteBack {
	if logger == nil {
		logger = slog.Default()
	}
	return &WriteBack{layout: layout, dir: dir, logger: logger}
}

// Process implements engine.Processor.
func (w *WriteBack) Process(ctx context.Context, res *partition.Residency) error {
	for _, iv := range res.Intervals {
		if err := ctx.Err(); err != nil {
			return err
		}
		added := 0
		for i := iv.IndexStart; i <= iv.IndexEnd; i++ {
			added += res.EdgeLists[i].Size()
		}
		if added == 0 {
			continue
		}

		start := time.Now()
		records := make([]partition.SourceEdges, 0, iv.Len())
		for i := iv.IndexStart; i <= iv.IndexEnd; i++ {
			v := res.Vertex(i)
			derived := res.EdgeLists[i].Writable()
			if v.OutDegree()+derived.Len() == 0 {
				continue
			}
			rec := partition.SourceEdges{
				Src:    v.ID,
				Dests:  make([]int32, 0, v.OutDegree()+derived.Len()),
				Values: make([]byte, 0, v.OutDegree()+derived.Len()),
			}
			rec.Dests = append(rec.Dests, v.Dests...)
			rec.Values = append(rec.Values, v.Values...)
			derived.Each(func(e edges.Edge) bool {
				rec.Dests = append(rec.Dests, e.Dest)
				rec.Values = append(rec.Values, e.Value)
				return true
			})
			records = append(records, rec)
		}

		if err := partition.WritePartition(w.dir, w.layout, iv.PartitionID, records); err != nil {
			return fmt.Errorf("write back partition %d: %w", iv.PartitionID, err)
		}
		w.logger.Info("partition written back",
			slog.Int("partition_id", iv.PartitionID),
			slog.String("new_edges", humanize.Comma(int64(added))),
			slog.Duration("duration", time.Since(start)),
		)
	}
	return nil
}
