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
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianClosure/services/closure/config"
	"github.com/AleutianAI/AleutianClosure/services/closure/kernel"
	"github.com/AleutianAI/AleutianClosure/services/closure/storage/badger"
	"github.com/AleutianAI/AleutianClosure/services/closure/store"
)

type queryOptions struct {
	src   int32
	count bool
}

func newQueryCmd(root *rootOptions) *cobra.Command {
	opts := &queryOptions{}
	cmd := &cobra.Command{
		Use:   "query",
		Short: "List derived edges recorded in the edge store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runQuery(cmd, root, opts)
		},
	}
	f := cmd.Flags()
	f.Int32Var(&opts.src, "src", -1, "source vertex to list")
	f.BoolVar(&opts.count, "count", false, "print the total number of derived edges instead")
	return cmd
}

func runQuery(cmd *cobra.Command, root *rootOptions, opts *queryOptions) error {
	cfg, err := root.loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Storage.InMemory {
		return fmt.Errorf("%w: query needs persistent storage", config.ErrInvalidConfig)
	}
	if !opts.count && opts.src < 0 {
		return fmt.Errorf("either --src or --count is required")
	}

	grammar, err := kernel.LoadGrammar(cfg.Kernel.GrammarFile)
	if err != nil {
		return fmt.Errorf("load grammar: %w", err)
	}

	bc := badger.DefaultConfig()
	bc.Path = cfg.Storage.Path
	bc.GCInterval = 0
	db, err := badger.Open(bc)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()
	es, err := store.NewEdgeStore(db, nil)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	p := root.printer(cmd)
	if opts.count {
		n, err := es.Count(ctx)
		if err != nil {
			return err
		}
		p.Info("%d", n)
		return nil
	}

	found, err := es.Edges(ctx, opts.src)
	if err != nil {
		return err
	}
	rows := make([][]string, len(found))
	for i, e := range found {
		rows[i] = []string{strconv.FormatInt(int64(opts.src), 10), strconv.FormatInt(int64(e.Dest), 10), grammar.LabelName(e.Value)}
	}
	p.Table([]string{"src", "dst", "label"}, rows)
	return nil
}
