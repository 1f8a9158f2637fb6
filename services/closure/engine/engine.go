// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine runs a Kernel to a fixpoint over one resident partition
// set, and drives whole runs through a Scheduler.
//
// # Passes
//
// ComputeToFixpoint splits the resident vertices into chunks of
// 1 + n/ChunkDivisor slots and runs passes until one produces no edge:
//
//	for {
//	    snapshot every edge list     // publish pass k-1, hide pass k
//	    run every chunk, at most Workers at once
//	    wait for all chunks          // barrier
//	    if pass total == 0 { converged }
//	}
//
// During a pass a vertex's own list is visible to it in full, while every
// other list is visible only up to its last snapshot.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianClosure/services/closure/partition"
)

// Engine computes fixpoints of a Kernel.
//
// Thread Safety: An Engine may be shared, but residencies must not be
// computed concurrently with each other when they share edge lists.
type Engine struct {
	kernel Kernel
	cfg    Config
	logger *slog.Logger

	// failWarn rate limits skipped-chunk warnings.
	failWarn rate.Sometimes
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New creates an engine running kernel.
//
// Inputs:
//   - kernel: The per-vertex update. Must not be nil.
//   - cfg: Engine settings. Zero numeric fields take their defaults.
//   - opts: Optional settings.
//
// Outputs:
//   - *Engine: Ready engine.
//   - error: ErrNilKernel or ErrInvalidConfig.
//
// Local termination is switched off when kernel is a LocalTerminator that
// reports it unsound.
func New(kernel Kernel, cfg Config, opts ...Option) (*Engine, error) {
	if kernel == nil {
		return nil, ErrNilKernel
	}
	cfg, err := cfg.normalize()
	if err != nil {
		return nil, err
	}
	e := &Engine{
		kernel:   kernel,
		cfg:      cfg,
		logger:   slog.Default(),
		failWarn: rate.Sometimes{First: 5, Interval: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(e)
	}
	if lt, ok := kernel.(LocalTerminator); ok && e.cfg.LocalTermination && !lt.LocallyTerminable() {
		e.cfg.LocalTermination = false
		e.logger.Info("local termination disabled; kernel reads edges published after a quiet update")
	}
	return e, nil
}

// Config returns the normalized configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// PassStats describes one pass.
type PassStats struct {
	Pass         int
	NewEdges     int64
	Updated      int64
	FailedChunks int
	Duration     time.Duration
}

// Stats describes one residency.
type Stats struct {
	Passes       int
	NewEdges     int64
	FailedChunks int
	PerPass      []PassStats
	Duration     time.Duration

	// Failures aggregates skipped chunk errors; nil when none failed.
	Failures error
}

func (s *Stats) add(ps PassStats) {
	s.Passes++
	s.NewEdges += ps.NewEdges
	s.FailedChunks += ps.FailedChunks
	s.PerPass = append(s.PerPass, ps)
}

// ComputeToFixpoint runs passes over res until a pass derives no edge.
//
// Description:
//
//	Builds a fresh VertexState per vertex, then loops: snapshot every edge
//	list, run every chunk through the worker limit, wait for the barrier,
//	stop when the pass total is zero. On return every edge list has been
//	snapshotted once more, so Readable views hold every derived edge.
//
// Inputs:
//   - ctx: Context for cancellation.
//   - res: The resident partitions. Its edge lists are appended to.
//
// Outputs:
//   - *Stats: Per-pass counts; partial when err is non-nil.
//   - error: ErrResidencyDeadline, a *ChunkError in FailureAbort mode, or
//     the context error. Skipped chunk failures are reported in
//     Stats.Failures, not here. After an error res must be discarded:
//     a stuck kernel may still be writing to it.
//
// Limitations:
//   - Terminates only for monotone kernels over a finite edge space.
//
// Thread Safety: Must not be called concurrently for the same res.
func (e *Engine) ComputeToFixpoint(ctx context.Context, res *partition.Residency) (*Stats, error) {
	if res == nil {
		return nil, ErrNilResidency
	}
	ctx, span := startResidencySpan(ctx, res)
	defer span.End()
	start := time.Now()

	stats, err := e.compute(ctx, res)
	stats.Duration = time.Since(start)
	recordResidencyMetrics(ctx, stats, err == nil)

	span.SetAttributes(
		attribute.Int("engine.passes", stats.Passes),
		attribute.Int64("engine.new_edges", stats.NewEdges),
		attribute.Int("engine.failed_chunks", stats.FailedChunks),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return stats, err
	}

	e.logger.Info("residency converged",
		slog.Any("partitions", res.Partitions),
		slog.Int("passes", stats.Passes),
		slog.String("new_edges", humanize.Comma(stats.NewEdges)),
		slog.Int("failed_chunks", stats.FailedChunks),
		slog.Duration("duration", stats.Duration),
	)
	return stats, nil
}

func (e *Engine) compute(ctx context.Context, res *partition.Residency) (*Stats, error) {
	if e.cfg.ResidencyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, e.cfg.ResidencyTimeout, ErrResidencyDeadline)
		defer cancel()
	}

	stats := &Stats{}
	states := make([]VertexState, res.Len())
	chunks := Chunks(res.Len(), e.cfg.ChunkDivisor)
	var failures *multierror.Error

	for pass := 1; ; pass++ {
		for _, l := range res.EdgeLists {
			l.Snapshot()
		}

		ps, skipped, err := e.runPass(ctx, pass, res, states, chunks)
		stats.add(ps)
		failures = multierror.Append(failures, skipped...)
		if err != nil {
			stats.Failures = failures.ErrorOrNil()
			return stats, err
		}
		if ps.NewEdges == 0 {
			break
		}
	}

	for _, l := range res.EdgeLists {
		l.Snapshot()
	}
	stats.Failures = failures.ErrorOrNil()
	return stats, nil
}

// runPass runs every chunk once and waits for all of them.
//
// It returns the skipped chunk errors and, separately, the error that ends
// the residency.
func (e *Engine) runPass(ctx context.Context, pass int, res *partition.Residency, states []VertexState, chunks []Chunk) (PassStats, []error, error) {
	ctx, span := startPassSpan(ctx, pass, len(chunks))
	defer span.End()
	start := time.Now()

	var (
		total   atomic.Int64
		updated atomic.Int64
		pending atomic.Int64
		failed  atomic.Int64

		mu      sync.Mutex
		skipped []error
	)
	pending.Store(int64(len(chunks)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)

	done := make(chan error, 1)
	go func() {
		for _, c := range chunks {
			g.Go(func() error {
				defer pending.Add(-1)

				n, u, err := e.runChunk(gctx, pass, c, res, states)
				if err == nil {
					total.Add(n)
					updated.Add(u)
					return nil
				}
				var ce *ChunkError
				if !errors.As(err, &ce) {
					return err
				}
				failed.Add(1)
				chunkFailures.WithLabelValues(string(e.cfg.FailureMode)).Inc()
				if e.cfg.FailureMode == FailureAbort {
					return ce
				}
				e.failWarn.Do(func() {
					e.logger.Warn("chunk failed, skipping its updates",
						slog.Int("pass", ce.Pass),
						slog.Int("chunk", ce.Chunk),
						slog.Int("vertex", int(ce.Vertex)),
						slog.String("error", ce.Err.Error()),
					)
				})
				mu.Lock()
				skipped = append(skipped, ce)
				mu.Unlock()
				return nil
			})
		}
		done <- g.Wait()
	}()

	ticker := time.NewTicker(e.cfg.WaitLogInterval)
	defer ticker.Stop()

	stats := func() PassStats {
		return PassStats{
			Pass:         pass,
			NewEdges:     total.Load(),
			Updated:      updated.Load(),
			FailedChunks: int(failed.Load()),
			Duration:     time.Since(start),
		}
	}

	for {
		select {
		case err := <-done:
			ps := stats()
			recordPassMetrics(ctx, ps)
			span.SetAttributes(
				attribute.Int64("pass.new_edges", ps.NewEdges),
				attribute.Int64("pass.updated", ps.Updated),
				attribute.Int("pass.failed_chunks", ps.FailedChunks),
			)
			e.logger.Debug("pass complete",
				slog.Int("pass", pass),
				slog.Int64("new_edges", ps.NewEdges),
				slog.Int64("updated", ps.Updated),
				slog.Int("failed_chunks", ps.FailedChunks),
				slog.Duration("duration", ps.Duration),
			)
			if err != nil {
				if ctx.Err() != nil {
					err = contextError(ctx, e.cfg.ResidencyTimeout)
				}
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return ps, skipped, err
			}
			return ps, skipped, nil

		case <-ticker.C:
			e.logger.Info("waiting for pass to finish",
				slog.Int("pass", pass),
				slog.Int64("pending_chunks", pending.Load()),
				slog.Int("chunks", len(chunks)),
				slog.Int64("new_edges_so_far", total.Load()),
				slog.Duration("elapsed", time.Since(start)),
			)

		case <-ctx.Done():
			// Chunks may still be running; only the atomics are safe to read.
			err := contextError(ctx, e.cfg.ResidencyTimeout)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return stats(), nil, err
		}
	}
}

// runChunk updates every active vertex of c in slot order.
//
// A kernel error or panic becomes a *ChunkError; context errors are
// returned as they are.
func (e *Engine) runChunk(ctx context.Context, pass int, c Chunk, res *partition.Residency, states []VertexState) (newEdges, updated int64, err error) {
	slot := c.Start
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			e.logger.Error("panic in chunk task",
				slog.Int("pass", pass),
				slog.Int("chunk", c.ID),
				slog.Int("slot", slot),
				slog.Any("panic", r),
				slog.String("stack", string(buf[:n])),
			)
			newEdges, updated = 0, 0
			err = &ChunkError{
				Pass:   pass,
				Chunk:  c.ID,
				Vertex: res.Vertices[slot].ID,
				Err:    fmt.Errorf("%w: %v", ErrKernelPanic, r),
			}
		}
	}()

	u := Update{Pass: pass, Neighbors: res}
	for ; slot < c.End; slot++ {
		v := res.Vertex(slot)
		st := &states[slot]
		if v.OutDegree() == 0 || st.Terminated {
			continue
		}
		if err := ctx.Err(); err != nil {
			return 0, 0, err
		}

		out := res.EdgeLists[slot]
		before := out.Size()
		u.Index, u.Vertex, u.Out, u.State = slot, v, out, st
		if kerr := e.kernel.Update(ctx, &u); kerr != nil {
			if err := ctx.Err(); err != nil {
				return 0, 0, err
			}
			return 0, 0, &ChunkError{Pass: pass, Chunk: c.ID, Vertex: v.ID, Err: kerr}
		}

		added := out.Size() - before
		st.NewEdges = added
		st.Rounds++
		if added == 0 && e.cfg.LocalTermination {
			st.Terminated = true
		}
		newEdges += int64(added)
		updated++
	}
	return newEdges, updated, nil
}

// contextError maps a done context to the error reported to callers.
func contextError(ctx context.Context, timeout time.Duration) error {
	if errors.Is(context.Cause(ctx), ErrResidencyDeadline) {
		return fmt.Errorf("%w after %s", ErrResidencyDeadline, timeout)
	}
	return ctx.Err()
}
