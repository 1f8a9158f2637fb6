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
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianClosure/services/closure/partition"
	"github.com/AleutianAI/AleutianClosure/services/closure/scheduler"
	"github.com/AleutianAI/AleutianClosure/services/closure/storage/badger"
	"github.com/AleutianAI/AleutianClosure/services/closure/store"
)

func newInspectCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Show the partitions of a dataset and the journal progress",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInspect(cmd, root)
		},
	}
}

// partitionInfo summarizes one partition on disk.
type partitionInfo struct {
	id       int
	minSrc   int32
	maxSrc   int32
	sources  int
	edges    int64
	fileSize int64
}

func inspectPartition(layout partition.Layout, dir *partition.Directory, id int) (partitionInfo, error) {
	info := partitionInfo{
		id:      id,
		minSrc:  dir.MinSrc(id),
		maxSrc:  dir.MaxSrc(id),
		sources: dir.NumUniqueSrcs(id),
	}
	size, err := layout.EdgeFileSize(id)
	if err != nil {
		return info, err
	}
	info.fileSize = size

	f, err := os.Open(layout.DegreeFilePath(id))
	if err != nil {
		return info, err
	}
	defer f.Close()
	degrees := make([]int32, info.sources)
	if err := partition.ReadDegrees(f, id, info.minSrc, degrees); err != nil {
		return info, err
	}
	for _, d := range degrees {
		info.edges += int64(d)
	}
	return info, nil
}

func runInspect(cmd *cobra.Command, root *rootOptions) error {
	cfg, err := root.loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.RequireDataset(); err != nil {
		return err
	}

	layout := partition.Layout{Base: cfg.Dataset.Base}
	dir, err := partition.LoadDirectory(layout, cfg.Dataset.FirstVertexID)
	if err != nil {
		return fmt.Errorf("load partition directory: %w", err)
	}

	var rows [][]string
	var totalEdges, totalBytes int64
	for id := 0; id < dir.NumParts(); id++ {
		info, err := inspectPartition(layout, dir, id)
		if err != nil {
			return fmt.Errorf("inspect partition %d: %w", id, err)
		}
		totalEdges += info.edges
		totalBytes += info.fileSize
		rows = append(rows, []string{
			strconv.Itoa(id),
			strconv.FormatInt(int64(info.minSrc), 10),
			strconv.FormatInt(int64(info.maxSrc), 10),
			humanize.Comma(int64(info.sources)),
			humanize.Comma(info.edges),
			humanize.IBytes(uint64(info.fileSize)),
		})
	}

	p := root.printer(cmd)
	p.Title(cfg.Dataset.Base)
	p.Table([]string{"partition", "min_src", "max_src", "sources", "edges", "edge_file"}, rows)

	summary := [][2]string{
		{"partitions", strconv.Itoa(dir.NumParts())},
		{"edges", humanize.Comma(totalEdges)},
		{"size", humanize.IBytes(uint64(totalBytes))},
	}
	computed, err := journalProgress(cmd, cfg.Storage.Path, cfg.Storage.InMemory)
	switch {
	case err != nil:
		return err
	case computed >= 0:
		summary = append(summary, [2]string{"pairs_computed",
			fmt.Sprintf("%d/%d", computed, scheduler.NumPairs(dir.NumParts()))})
	}
	p.KeyValues("Totals", summary)
	return nil
}

// journalProgress counts journaled pairs, or returns -1 when there is no
// persistent storage to read.
func journalProgress(cmd *cobra.Command, path string, inMemory bool) (int, error) {
	if inMemory || path == "" {
		return -1, nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return -1, nil
	}
	cfg := badger.DefaultConfig()
	cfg.Path = path
	cfg.GCInterval = 0
	db, err := badger.Open(cfg)
	if err != nil {
		return 0, fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()
	journal, err := store.NewScheduleJournal(db)
	if err != nil {
		return 0, err
	}
	pairs, err := journal.Computed(cmd.Context())
	if err != nil {
		return 0, err
	}
	return len(pairs), nil
}
