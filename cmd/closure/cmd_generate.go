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
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianClosure/services/closure/kernel"
	"github.com/AleutianAI/AleutianClosure/services/closure/partition"
)

type generateOptions struct {
	vertices   int
	partitions int
	degree     int
	label      string
	seed       uint64
}

func newGenerateCmd(root *rootOptions) *cobra.Command {
	opts := &generateOptions{}
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write a random partitioned graph",
		Long: `generate writes an allocation table plus one edge file and one degree
file per partition under the dataset base path. Vertices are split into
equal ranges; every vertex gets up to --degree distinct random targets.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runGenerate(cmd, root, opts)
		},
	}
	f := cmd.Flags()
	f.IntVar(&opts.vertices, "vertices", 1000, "number of vertices")
	f.IntVarP(&opts.partitions, "partitions", "n", 4, "number of partitions")
	f.IntVar(&opts.degree, "degree", 2, "out-edges per vertex")
	f.StringVar(&opts.label, "label", "", "edge label name from the grammar (default: the first label)")
	f.Uint64Var(&opts.seed, "seed", 1, "random seed")
	return cmd
}

// generateGraph builds a random graph and its allocation table. Vertex IDs
// run from first to first+vertices-1.
func generateGraph(opts *generateOptions, first int32, value byte) ([]int32, [][]partition.SourceEdges, error) {
	if opts.vertices <= 0 || opts.partitions <= 0 || opts.degree < 0 {
		return nil, nil, errors.New("vertices and partitions must be positive and degree non-negative")
	}
	if opts.partitions > opts.vertices {
		return nil, nil, fmt.Errorf("%d partitions need at least as many vertices, got %d", opts.partitions, opts.vertices)
	}

	table := make([]int32, opts.partitions)
	for p := range table {
		table[p] = first + int32((p+1)*opts.vertices/opts.partitions) - 1
	}

	rng := rand.New(rand.NewPCG(opts.seed, opts.seed^0x9e3779b97f4a7c15))
	records := make([][]partition.SourceEdges, opts.partitions)
	p := 0
	for i := 0; i < opts.vertices; i++ {
		src := first + int32(i)
		for src > table[p] {
			p++
		}
		k := min(opts.degree, opts.vertices)
		dests := make([]int32, 0, k)
		for len(dests) < k {
			d := first + int32(rng.IntN(opts.vertices))
			if !slices.Contains(dests, d) {
				dests = append(dests, d)
			}
		}
		slices.Sort(dests)
		values := make([]byte, len(dests))
		for j := range values {
			values[j] = value
		}
		records[p] = append(records[p], partition.SourceEdges{Src: src, Dests: dests, Values: values})
	}
	return table, records, nil
}

func runGenerate(cmd *cobra.Command, root *rootOptions, opts *generateOptions) error {
	cfg, err := root.loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.RequireDataset(); err != nil {
		return err
	}

	grammar, err := kernel.LoadGrammar(cfg.Kernel.GrammarFile)
	if err != nil {
		return fmt.Errorf("load grammar: %w", err)
	}
	name := opts.label
	if name == "" {
		name = grammar.Labels()[0]
	}
	value, ok := grammar.Label(name)
	if !ok {
		return fmt.Errorf("%w: %q", kernel.ErrUnknownLabel, name)
	}

	first := cfg.Dataset.FirstVertexID
	table, records, err := generateGraph(opts, first, value)
	if err != nil {
		return err
	}

	layout := partition.Layout{Base: cfg.Dataset.Base}
	if err := os.MkdirAll(filepath.Dir(layout.Base), 0o750); err != nil {
		return err
	}
	dir, err := partition.NewDirectory(table, first)
	if err != nil {
		return err
	}
	if err := partition.WriteAllocationTableFile(layout, table); err != nil {
		return fmt.Errorf("write allocation table: %w", err)
	}
	var edgesWritten int64
	for id, recs := range records {
		if err := partition.WritePartition(dir, layout, id, recs); err != nil {
			return fmt.Errorf("write partition %d: %w", id, err)
		}
		for _, r := range recs {
			edgesWritten += int64(len(r.Dests))
		}
	}

	root.printer(cmd).Success("wrote %s vertices and %s %q edges in %d partitions to %s",
		humanize.Comma(int64(opts.vertices)), humanize.Comma(edgesWritten), name, opts.partitions, layout.Base)
	return nil
}
