// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianClosure/services/closure/config"
	"github.com/AleutianAI/AleutianClosure/services/closure/engine"
	"github.com/AleutianAI/AleutianClosure/services/closure/kernel"
	"github.com/AleutianAI/AleutianClosure/services/closure/partition"
	"github.com/AleutianAI/AleutianClosure/services/closure/scheduler"
	"github.com/AleutianAI/AleutianClosure/services/closure/status"
	"github.com/AleutianAI/AleutianClosure/services/closure/storage/badger"
	"github.com/AleutianAI/AleutianClosure/services/closure/store"
	"github.com/AleutianAI/AleutianClosure/services/closure/telemetry"
)

type runOptions struct {
	workers     int
	failureMode string
	order       string
	statusAddr  string
	noWriteBack bool
	noJournal   bool
	fresh       bool
	yes         bool
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the kernel over every partition pair until the graph converges",
		Long: `run schedules every unordered pair of partitions once, loads the pair,
runs the kernel to a fixpoint, and hands the derived edges to the
configured processors (partition write-back and the badger edge store).

With the journal enabled an interrupted run resumes where it stopped.
Use --fresh to forget previously computed pairs.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runClosure(cmd, root, opts)
		},
	}
	f := cmd.Flags()
	f.IntVar(&opts.workers, "workers", 0, "concurrent chunk tasks (default max(8, NumCPU))")
	f.StringVar(&opts.failureMode, "failure-mode", "", "skip or fail")
	f.StringVar(&opts.order, "order", "", "pair order: basic or priority")
	f.StringVar(&opts.statusAddr, "status-addr", "", "status server address (empty keeps the config value)")
	f.BoolVar(&opts.noWriteBack, "no-write-back", false, "do not append derived edges to partition files")
	f.BoolVar(&opts.noJournal, "no-journal", false, "do not record or replay computed pairs")
	f.BoolVar(&opts.fresh, "fresh", false, "clear the journal before running")
	f.BoolVarP(&opts.yes, "yes", "y", false, "do not ask before clearing the journal")
	return cmd
}

func (o *runOptions) override(cmd *cobra.Command) config.Override {
	return func(c *config.Config) {
		f := cmd.Flags()
		if f.Changed("workers") {
			c.Engine.Workers = o.workers
		}
		if f.Changed("failure-mode") {
			c.Engine.FailureMode = o.failureMode
		}
		if f.Changed("order") {
			c.Scheduler.Order = o.order
		}
		if f.Changed("status-addr") {
			c.Telemetry.StatusAddr = o.statusAddr
		}
		if o.noWriteBack {
			c.Storage.WriteBack = false
		}
		if o.noJournal {
			c.Scheduler.Journal = false
		}
	}
}

func runClosure(cmd *cobra.Command, root *rootOptions, opts *runOptions) error {
	cfg, err := root.loadConfig(cmd, opts.override(cmd))
	if err != nil {
		return err
	}
	if err := cfg.RequireDataset(); err != nil {
		return err
	}
	if opts.fresh && cfg.Scheduler.Journal && !opts.yes {
		ok, err := confirmFresh(cmd, cfg.Storage.Path)
		if err != nil {
			return err
		}
		if !ok {
			root.printer(cmd).Info("journal kept; nothing to do")
			return nil
		}
	}

	logger := newLogger(cfg, cmd)
	defer logger.Close()
	log := logger.Slog()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Init(ctx, cfg.TelemetryConfig(version))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			log.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	ctx, span := otel.Tracer("aleutian.closure.cli").Start(ctx, "closure.run",
		trace.WithAttributes(attribute.String("dataset", cfg.Dataset.Base)))
	defer span.End()
	log = telemetry.LoggerWithTrace(ctx, log)

	stats, err := execute(ctx, cfg, opts, log)
	if err != nil {
		telemetry.RecordError(span, err)
		if errors.Is(err, context.Canceled) {
			log.Warn("run interrupted; rerun to resume", slog.String("error", err.Error()))
		}
		return err
	}

	printRunStats(root, cmd, stats)
	return nil
}

// confirmFresh asks before the journal is cleared. Without a terminal on
// stdin there is nobody to ask and the flag is taken as given.
func confirmFresh(cmd *cobra.Command, storagePath string) (bool, error) {
	in, ok := cmd.InOrStdin().(*os.File)
	if !ok || !(isatty.IsTerminal(in.Fd()) || isatty.IsCygwinTerminal(in.Fd())) {
		return true, nil
	}

	confirmed := false
	err := huh.NewConfirm().
		Title("Clear the schedule journal?").
		Description(fmt.Sprintf("Every pair recorded in %s will be computed again.", storagePath)).
		Affirmative("Clear").
		Negative("Keep").
		Value(&confirmed).
		Run()
	if errors.Is(err, huh.ErrUserAborted) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("confirm --fresh: %w", err)
	}
	return confirmed, nil
}

// execute wires the pipeline described by cfg and runs it.
func execute(ctx context.Context, cfg *config.Config, opts *runOptions, log *slog.Logger) (*engine.RunStats, error) {
	layout := partition.Layout{Base: cfg.Dataset.Base}
	dir, err := partition.LoadDirectory(layout, cfg.Dataset.FirstVertexID)
	if err != nil {
		return nil, fmt.Errorf("load partition directory: %w", err)
	}
	numParts := dir.NumParts()
	if cfg.Dataset.NumPartitions != 0 && cfg.Dataset.NumPartitions != numParts {
		return nil, fmt.Errorf("%w: dataset.num_partitions is %d but the allocation table has %d",
			config.ErrInvalidConfig, cfg.Dataset.NumPartitions, numParts)
	}

	grammar, err := kernel.LoadGrammar(cfg.Kernel.GrammarFile)
	if err != nil {
		return nil, fmt.Errorf("load grammar: %w", err)
	}
	eng, err := engine.New(kernel.NewComposer(grammar), cfg.EngineConfig(), engine.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}
	loader := partition.NewLoader(layout, dir, partition.WithLoaderLogger(log))

	var db *badger.DB
	if cfg.Storage.EdgeStore || cfg.Scheduler.Journal {
		bc := cfg.BadgerConfig()
		bc.Logger = log.With(slog.String("component", "badger"))
		db, err = badger.Open(bc)
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		defer func() {
			if err := db.Close(); err != nil {
				log.Warn("close storage failed", slog.String("error", err.Error()))
			}
		}()
	}

	var schedOpts []scheduler.Option
	if cfg.Scheduler.Journal {
		journal, err := store.NewScheduleJournal(db)
		if err != nil {
			return nil, err
		}
		if opts.fresh {
			if err := journal.Reset(ctx); err != nil {
				return nil, fmt.Errorf("reset journal: %w", err)
			}
		}
		schedOpts = append(schedOpts, scheduler.WithJournal(journal))
	}
	sched, err := newScheduler(cfg.Scheduler.Order, layout, numParts, schedOpts...)
	if err != nil {
		return nil, err
	}

	var chain store.Chain
	if cfg.Storage.WriteBack {
		chain = append(chain, store.NewWriteBack(layout, dir, log))
	}
	if cfg.Storage.EdgeStore {
		es, err := store.NewEdgeStore(db, log)
		if err != nil {
			return nil, err
		}
		chain = append(chain, es)
	}

	tracker := status.NewTracker()
	if cfg.Telemetry.StatusAddr != "" {
		srv := status.NewServer(tracker, telemetry.MetricsHandler(), log)
		if err := srv.Start(cfg.Telemetry.StatusAddr); err != nil {
			return nil, err
		}
		defer func() {
			if err := srv.Shutdown(context.Background()); err != nil {
				log.Warn("status server shutdown failed", slog.String("error", err.Error()))
			}
		}()
	}

	log.Info("starting closure run",
		slog.String("dataset", cfg.Dataset.Base),
		slog.Int("partitions", numParts),
		slog.Int("pairs", scheduler.NumPairs(numParts)),
		slog.String("order", cfg.Scheduler.Order),
		slog.Bool("journal", cfg.Scheduler.Journal))

	runner := engine.NewRunner(sched, loader, eng, numParts,
		engine.WithProcessor(chain),
		engine.WithObserver(tracker),
		engine.WithRunnerLogger(log))
	return runner.Run(ctx)
}

// newScheduler builds the scheduler for order. Priority order runs the
// pairs with the most edge data first.
func newScheduler(order string, layout partition.Layout, numParts int, opts ...scheduler.Option) (scheduler.Scheduler, error) {
	switch order {
	case "", config.OrderBasic:
		return scheduler.NewBasicScheduler(opts...), nil
	case config.OrderPriority:
		sizes := make([]int64, numParts)
		for p := range sizes {
			size, err := layout.EdgeFileSize(p)
			if err != nil {
				return nil, fmt.Errorf("size of partition %d: %w", p, err)
			}
			sizes[p] = size
		}
		weight := func(p scheduler.Pair) float64 {
			return float64(sizes[p.I] + sizes[p.J])
		}
		return scheduler.NewPriorityScheduler(weight, opts...), nil
	default:
		return nil, fmt.Errorf("%w: unknown scheduler order %q", config.ErrInvalidConfig, order)
	}
}

func printRunStats(root *rootOptions, cmd *cobra.Command, stats *engine.RunStats) {
	p := root.printer(cmd)
	p.KeyValues("Closure run", [][2]string{
		{"run_id", stats.RunID},
		{"pairs", humanize.Comma(int64(stats.Pairs))},
		{"passes", humanize.Comma(int64(stats.Passes))},
		{"new_edges", humanize.Comma(stats.NewEdges)},
		{"failed_chunks", humanize.Comma(int64(stats.FailedChunks))},
		{"duration", stats.Duration.Round(time.Millisecond).String()},
	})
	if stats.FailedChunks > 0 {
		p.Warning("%d chunks failed and were skipped; see the log for details", stats.FailedChunks)
	} else {
		p.Success("converged")
	}
}
