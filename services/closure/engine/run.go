// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianClosure/services/closure/partition"
	"github.com/AleutianAI/AleutianClosure/services/closure/scheduler"
)

// Loader brings a partition set into memory.
//
// *partition.Loader implements it.
type Loader interface {
	Load(ctx context.Context, ids []int) (*partition.Residency, error)
}

var _ Loader = (*partition.Loader)(nil)

// Processor receives every converged residency before the next one is
// scheduled. It decides what of the derived edges is persisted.
type Processor interface {
	Process(ctx context.Context, res *partition.Residency) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, res *partition.Residency) error

// Process calls f.
func (f ProcessorFunc) Process(ctx context.Context, res *partition.Residency) error {
	return f(ctx, res)
}

// Observer is told about run progress. Calls come from the goroutine
// running Run, one at a time.
type Observer interface {
	RunStarted(runID string, numParts int)
	ResidencyStarted(runID string, partitions []int, vertices int)
	ResidencyConverged(runID string, partitions []int, stats *Stats)
	RunFinished(runID string, stats *RunStats, err error)
}

// ResidencyStats summarizes one converged residency.
type ResidencyStats struct {
	Partitions []int
	Vertices   int
	Edges      int
	Engine     *Stats
}

// RunStats summarizes a run.
type RunStats struct {
	RunID        string
	Pairs        int
	Passes       int
	NewEdges     int64
	FailedChunks int
	Duration     time.Duration
	Residencies  []ResidencyStats
}

func (s *RunStats) add(rs ResidencyStats) {
	s.Pairs++
	s.Passes += rs.Engine.Passes
	s.NewEdges += rs.Engine.NewEdges
	s.FailedChunks += rs.Engine.FailedChunks
	s.Residencies = append(s.Residencies, rs)
}

// Runner drives a run: Scheduler, then Loader, then Engine, then Processor,
// until the scheduler has nothing left.
type Runner struct {
	sched     scheduler.Scheduler
	loader    Loader
	engine    *Engine
	numParts  int
	processor Processor
	observer  Observer
	logger    *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithProcessor sets the collaborator called after each residency.
func WithProcessor(p Processor) RunnerOption {
	return func(r *Runner) {
		r.processor = p
	}
}

// WithObserver sets the progress observer.
func WithObserver(o Observer) RunnerOption {
	return func(r *Runner) {
		r.observer = o
	}
}

// WithRunnerLogger sets the runner's logger.
func WithRunnerLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRunner creates a runner over numParts partitions.
func NewRunner(sched scheduler.Scheduler, loader Loader, eng *Engine, numParts int, opts ...RunnerOption) *Runner {
	r := &Runner{
		sched:    sched,
		loader:   loader,
		engine:   eng,
		numParts: numParts,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run computes every scheduled partition set to its fixpoint.
//
// Description:
//
//	Initializes the scheduler, then repeats: ask for the next partition
//	set, load it, compute it to a fixpoint, hand it to the processor.
//	The run ends normally when the scheduler reports no set remaining.
//
// Inputs:
//   - ctx: Context for cancellation.
//
// Outputs:
//   - *RunStats: Totals so far; never nil.
//   - error: The first load, engine, processor or scheduler error. Nothing
//     is retried.
//
// Thread Safety: Not safe for concurrent use.
func (r *Runner) Run(ctx context.Context) (*RunStats, error) {
	runID := uuid.NewString()
	ctx, span := startRunSpan(ctx, runID, r.numParts)
	defer span.End()

	stats := &RunStats{RunID: runID}
	start := time.Now()
	logger := r.logger.With(slog.String("run_id", runID))

	if r.observer != nil {
		r.observer.RunStarted(runID, r.numParts)
	}
	err := r.run(ctx, logger, stats)
	stats.Duration = time.Since(start)
	if r.observer != nil {
		r.observer.RunFinished(runID, stats, err)
	}

	span.SetAttributes(
		attribute.Int("run.pairs", stats.Pairs),
		attribute.Int64("run.new_edges", stats.NewEdges),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("run failed",
			slog.Int("pairs", stats.Pairs),
			slog.String("error", err.Error()),
		)
		return stats, err
	}

	logger.Info("run complete",
		slog.Int("pairs", stats.Pairs),
		slog.Int("passes", stats.Passes),
		slog.String("new_edges", humanize.Comma(stats.NewEdges)),
		slog.Int("failed_chunks", stats.FailedChunks),
		slog.Duration("duration", stats.Duration),
	)
	return stats, nil
}

func (r *Runner) run(ctx context.Context, logger *slog.Logger, stats *RunStats) error {
	if err := r.sched.Init(ctx, r.numParts); err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}
	logger.Info("run started", slog.Int("partitions", r.numParts))

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		parts, ok, err := r.sched.Next(ctx)
		if err != nil {
			return fmt.Errorf("schedule next: %w", err)
		}
		if !ok {
			return nil
		}
		pairsScheduled.Inc()

		rs, err := r.step(ctx, logger, stats.RunID, parts)
		if err != nil {
			return err
		}
		stats.add(rs)
	}
}

// step loads, computes and processes one partition set.
func (r *Runner) step(ctx context.Context, logger *slog.Logger, runID string, parts []int) (ResidencyStats, error) {
	res, err := r.loader.Load(ctx, parts)
	if err != nil {
		return ResidencyStats{}, fmt.Errorf("load partitions %v: %w", parts, err)
	}
	residentVertices.Set(float64(res.Len()))
	defer residentVertices.Set(0)

	rs := ResidencyStats{
		Partitions: parts,
		Vertices:   res.Len(),
		Edges:      res.NumEdges(),
	}
	if r.observer != nil {
		r.observer.ResidencyStarted(runID, parts, rs.Vertices)
	}

	es, err := r.engine.ComputeToFixpoint(ctx, res)
	rs.Engine = es
	if err != nil {
		return rs, fmt.Errorf("compute partitions %v: %w", parts, err)
	}
	if r.observer != nil {
		r.observer.ResidencyConverged(runID, parts, es)
	}

	if r.processor != nil {
		if err := r.processor.Process(ctx, res); err != nil {
			return rs, fmt.Errorf("process partitions %v: %w", parts, err)
		}
	}
	logger.Debug("residency processed",
		slog.Any("partitions", parts),
		slog.Int64("new_edges", es.NewEdges),
	)
	return rs, nil
}
