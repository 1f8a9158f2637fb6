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
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianClosure/services/closure/edges"
)

// sortChunk is the number of vertices one sort task handles.
const sortChunk = 4096

// Loader builds Residencies from partition files.
//
// Thread Safety: Safe for concurrent use; each Load owns its result.
type Loader struct {
	layout      Layout
	dir         *Directory
	logger      *slog.Logger
	parallelism int

	// truncWarn rate limits warnings about cut-off records.
	truncWarn rate.Sometimes
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLoaderLogger sets the loader's logger.
func WithLoaderLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithParallelism bounds how many partitions are read, and how many sort
// tasks run, at once.
func WithParallelism(n int) LoaderOption {
	return func(l *Loader) {
		if n > 0 {
			l.parallelism = n
		}
	}
}

// NewLoader creates a loader for the dataset described by layout and dir.
func NewLoader(layout Layout, dir *Directory, opts ...LoaderOption) *Loader {
	l := &Loader{
		layout:      layout,
		dir:         dir,
		logger:      slog.Default(),
		parallelism: runtime.NumCPU(),
		truncWarn:   rate.Sometimes{First: 3, Interval: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Directory returns the loader's partition directory.
func (l *Loader) Directory() *Directory {
	return l.dir
}

// Load reads the given partitions into a new Residency.
//
// Description:
//
//	For each partition, reads its degree file, allocates exactly-sized edge
//	arrays, then streams its edge file into them. Slots are assigned
//	partition by partition in the order of ids. After all files are read,
//	every vertex's edges are sorted by destination. An empty edge list is
//	created per vertex for derived edges.
//
// Inputs:
//   - ctx: Context for cancellation.
//   - ids: Partitions to load, without duplicates.
//
// Outputs:
//   - *Residency: The loaded state.
//   - error: Non-nil on I/O failure or a consistency error. A partial
//     residency is never returned.
//
// Limitations:
//   - A record cut short at the end of an edge file ends that file's read;
//     edges read in full before the cut are kept.
//
// Thread Safety: Safe for concurrent use.
func (l *Loader) Load(ctx context.Context, ids []int) (*Residency, error) {
	ctx, span := startLoadSpan(ctx, ids)
	defer span.End()
	start := time.Now()

	res, err := l.load(ctx, ids)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		recordLoadMetrics(ctx, time.Since(start), 0, 0, false)
		return nil, err
	}

	numEdges := res.NumEdges()
	span.SetAttributes(
		attribute.Int("partition.vertices", res.Len()),
		attribute.Int("partition.edges", numEdges),
	)
	recordLoadMetrics(ctx, time.Since(start), res.Len(), numEdges, true)

	l.logger.Info("partitions loaded",
		slog.Any("partitions", ids),
		slog.String("vertices", humanize.Comma(int64(res.Len()))),
		slog.String("edges", humanize.Comma(int64(numEdges))),
		slog.String("edge_memory", humanize.IBytes(uint64(numEdges)*5)),
		slog.Duration("duration", time.Since(start)),
	)
	return res, nil
}

func (l *Loader) load(ctx context.Context, ids []int) (*Residency, error) {
	if err := l.validate(ids); err != nil {
		return nil, err
	}

	intervals := make([]LoadedVertexInterval, len(ids))
	total := 0
	for k, id := range ids {
		n := l.dir.NumUniqueSrcs(id)
		intervals[k] = LoadedVertexInterval{
			PartitionID: id,
			MinSrc:      l.dir.MinSrc(id),
			MaxSrc:      l.dir.MaxSrc(id),
			IndexStart:  total,
			IndexEnd:    total + n - 1,
		}
		total += n
	}

	res := &Residency{
		Partitions: append([]int(nil), ids...),
		Vertices:   make([]Vertex, total),
		Intervals:  intervals,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.parallelism)
	for _, iv := range intervals {
		g.Go(func() error {
			return l.loadPartition(gctx, iv, res.Vertices[iv.IndexStart:iv.IndexEnd+1])
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := l.sortVertices(ctx, res.Vertices); err != nil {
		return nil, err
	}

	res.EdgeLists = make([]*edges.List, total)
	for i := range res.EdgeLists {
		res.EdgeLists[i] = edges.NewList()
	}
	return res, nil
}

func (l *Loader) validate(ids []int) error {
	if len(ids) == 0 {
		return ErrNoPartitions
	}
	seen := make(map[int]bool, len(ids))
	for _, id := range ids {
		if !l.dir.Valid(id) {
			return fmt.Errorf("%w: %d (have %d partitions)", ErrInvalidPartition, id, l.dir.NumParts())
		}
		if seen[id] {
			return fmt.Errorf("%w: %d", ErrDuplicatePartition, id)
		}
		seen[id] = true
	}
	return nil
}

// loadPartition fills vs, the slots of one partition.
func (l *Loader) loadPartition(ctx context.Context, iv LoadedVertexInterval, vs []Vertex) error {
	degrees := make([]int32, len(vs))
	if err := l.readDegrees(iv.PartitionID, iv.MinSrc, degrees); err != nil {
		return err
	}

	var sum int64
	for _, d := range degrees {
		sum += int64(d)
	}
	dests := make([]int32, sum)
	values := make([]byte, sum)
	var off int64
	for i := range vs {
		d := int64(degrees[i])
		vs[i] = Vertex{
			ID:     iv.MinSrc + int32(i),
			Dests:  dests[off : off+d : off+d],
			Values: values[off : off+d : off+d],
		}
		off += d
	}

	filled, truncated, err := l.readEdges(ctx, iv, vs)
	if err != nil {
		return err
	}

	short := 0
	for i := range vs {
		if int(filled[i]) < len(vs[i].Dests) {
			vs[i].Dests = vs[i].Dests[:filled[i]]
			vs[i].Values = vs[i].Values[:filled[i]]
			short++
		}
	}
	if short > 0 {
		l.logger.Debug("vertices loaded with fewer edges than declared",
			slog.Int("partition_id", iv.PartitionID),
			slog.Int("vertices", short),
			slog.Bool("truncated", truncated),
		)
	}
	return nil
}

func (l *Loader) readDegrees(id int, minSrc int32, degrees []int32) error {
	f, err := os.Open(l.layout.DegreeFilePath(id))
	if err != nil {
		return fmt.Errorf("open degree file of partition %d: %w", id, err)
	}
	defer f.Close()
	return ReadDegrees(f, id, minSrc, degrees)
}

// readEdges streams partition iv's edge file into vs. It returns the number
// of edges stored per slot and whether the file ended mid-record.
func (l *Loader) readEdges(ctx context.Context, iv LoadedVertexInterval, vs []Vertex) ([]int32, bool, error) {
	path := l.layout.EdgeFilePath(iv.PartitionID)
	f, err := os.Open(path)
	if err != nil {
		return nil, false, fmt.Errorf("open edge file of partition %d: %w", iv.PartitionID, err)
	}
	defer f.Close()

	rr := newRecordReader(f)
	filled := make([]int32, len(vs))
	records := 0

	for {
		if records%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, false, err
			}
		}

		src, count, err := rr.header()
		if errors.Is(err, io.EOF) {
			return filled, false, nil
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			l.warnTruncated(iv.PartitionID, records, "record header cut short")
			return filled, true, nil
		}
		if err != nil {
			return nil, false, fmt.Errorf("read edge file of partition %d: %w", iv.PartitionID, err)
		}
		if count < 0 {
			l.warnTruncated(iv.PartitionID, records, "negative edge count")
			return filled, true, nil
		}

		slot := int64(src) - int64(iv.MinSrc)
		if slot < 0 || slot >= int64(len(vs)) {
			return nil, false, &ConsistencyError{PartitionID: iv.PartitionID, Source: src, Err: ErrSourceOutOfRange}
		}
		v := &vs[slot]

		for k := int32(0); k < count; k++ {
			dest, value, err := rr.edge()
			if errors.Is(err, io.ErrUnexpectedEOF) {
				l.warnTruncated(iv.PartitionID, records, "edge entry cut short")
				return filled, true, nil
			}
			if err != nil {
				return nil, false, fmt.Errorf("read edge file of partition %d: %w", iv.PartitionID, err)
			}
			pos := filled[slot]
			if int(pos) >= len(v.Dests) {
				return nil, false, &ConsistencyError{
					PartitionID: iv.PartitionID,
					Source:      src,
					Degree:      int32(len(v.Dests)),
					Err:         ErrDegreeMismatch,
				}
			}
			v.Dests[pos] = dest
			v.Values[pos] = value
			filled[slot]++
		}
		records++
	}
}

func (l *Loader) warnTruncated(id, records int, reason string) {
	truncatedRecords.WithLabelValues(reason).Inc()
	l.truncWarn.Do(func() {
		l.logger.Warn("edge file ends mid-record, stopping read",
			slog.Int("partition_id", id),
			slog.Int("records_read", records),
			slog.String("reason", reason),
		)
	})
}

// sortVertices sorts every vertex's edges by destination in parallel.
func (l *Loader) sortVertices(ctx context.Context, vs []Vertex) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.parallelism)
	for start := 0; start < len(vs); start += sortChunk {
		end := min(start+sortChunk, len(vs))
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for i := start; i < end; i++ {
				SortEdges(&vs[i])
			}
			return nil
		})
	}
	return g.Wait()
}

// SortEdges sorts v's edges by destination, carrying values along.
func SortEdges(v *Vertex) {
	s := byDest{dests: v.Dests, values: v.Values}
	if !sort.IsSorted(s) {
		sort.Sort(s)
	}
}

type byDest struct {
	dests  []int32
	values []byte
}

func (s byDest) Len() int { return len(s.dests) }

func (s byDest) Less(i, j int) bool {
	if s.dests[i] != s.dests[j] {
		return s.dests[i] < s.dests[j]
	}
	return s.values[i] < s.values[j]
}

func (s byDest) Swap(i, j int) {
	s.dests[i], s.dests[j] = s.dests[j], s.dests[i]
	s.values[i], s.values[j] = s.values[j], s.values[i]
}
