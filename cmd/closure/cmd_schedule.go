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
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianClosure/services/closure/config"
	"github.com/AleutianAI/AleutianClosure/services/closure/partition"
	"github.com/AleutianAI/AleutianClosure/services/closure/scheduler"
	"github.com/AleutianAI/AleutianClosure/services/closure/storage/badger"
	"github.com/AleutianAI/AleutianClosure/services/closure/store"
)

type scheduleOptions struct {
	partitions int
	order      string
	resume     bool
}

func newScheduleCmd(root *rootOptions) *cobra.Command {
	opts := &scheduleOptions{}
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Print the order in which partition pairs would be loaded",
		Long: `schedule runs the scheduler without loading anything. With --resume it
replays the journal in storage and lists only the pairs still to compute.
The journal is never modified.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSchedule(cmd, root, opts)
		},
	}
	f := cmd.Flags()
	f.IntVarP(&opts.partitions, "partitions", "n", 0, "number of partitions (default: from the dataset)")
	f.StringVar(&opts.order, "order", "", "basic or priority (priority needs the dataset)")
	f.BoolVar(&opts.resume, "resume", false, "skip pairs already recorded in the journal")
	return cmd
}

// readOnlyJournal replays a journal without recording anything.
type readOnlyJournal struct {
	scheduler.Journal
}

func (readOnlyJournal) MarkComputed(context.Context, scheduler.Pair) error { return nil }

func runSchedule(cmd *cobra.Command, root *rootOptions, opts *scheduleOptions) error {
	cfg, err := root.loadConfig(cmd, func(c *config.Config) {
		if opts.order != "" {
			c.Scheduler.Order = opts.order
		}
	})
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	layout := partition.Layout{Base: cfg.Dataset.Base}
	numParts := opts.partitions
	if numParts == 0 || cfg.Scheduler.Order == config.OrderPriority {
		if err := cfg.RequireDataset(); err != nil {
			return err
		}
		dir, err := partition.LoadDirectory(layout, cfg.Dataset.FirstVertexID)
		if err != nil {
			return fmt.Errorf("load partition directory: %w", err)
		}
		if numParts == 0 {
			numParts = dir.NumParts()
		}
	}

	var schedOpts []scheduler.Option
	if opts.resume {
		db, err := badger.Open(cfg.BadgerConfig())
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer db.Close()
		journal, err := store.NewScheduleJournal(db)
		if err != nil {
			return err
		}
		schedOpts = append(schedOpts, scheduler.WithJournal(readOnlyJournal{journal}))
	}

	sched, err := newScheduler(cfg.Scheduler.Order, layout, numParts, schedOpts...)
	if err != nil {
		return err
	}
	if err := sched.Init(ctx, numParts); err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}

	var rows [][]string
	for step := 1; ; step++ {
		parts, ok, err := sched.Next(ctx)
		if err != nil {
			return fmt.Errorf("schedule next: %w", err)
		}
		if !ok {
			break
		}
		rows = append(rows, []string{strconv.Itoa(step), joinInts(parts)})
	}

	p := root.printer(cmd)
	p.Title(fmt.Sprintf("%s schedule over %d partitions", cfg.Scheduler.Order, numParts))
	p.Table([]string{"step", "partitions"}, rows)
	p.Info("%d of %d pairs pending", len(rows), scheduler.NumPairs(numParts))
	return nil
}

func joinInts(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = strconv.Itoa(x)
	}
	return strings.Join(parts, ",")
}
