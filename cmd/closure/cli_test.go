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
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianClosure/services/closure/partition"
	"github.com/AleutianAI/AleutianClosure/services/closure/storage/badger"
	"github.com/AleutianAI/AleutianClosure/services/closure/store"
)

const testConfig = `
telemetry:
  metric_exporter: none
  status_addr: ""
logging:
  level: error
  format: json
`

// cliEnv is a temp workspace with a config file, dataset base and
// storage path.
type cliEnv struct {
	config  string
	dataset string
	storage string
}

func newCLIEnv(t *testing.T) cliEnv {
	t.Helper()
	dir := t.TempDir()
	env := cliEnv{
		config:  filepath.Join(dir, "closure.yaml"),
		dataset: filepath.Join(dir, "data", "graph"),
		storage: filepath.Join(dir, "db"),
	}
	require.NoError(t, os.WriteFile(env.config, []byte(testConfig), 0o600))
	return env
}

func (e cliEnv) exec(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(""))
	base := []string{"--config", e.config, "--dataset", e.dataset, "--storage", e.storage, "--output", "machine"}
	cmd.SetArgs(append(args, base...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestGenerateGraph(t *testing.T) {
	opts := &generateOptions{vertices: 10, partitions: 3, degree: 2, seed: 5}
	table, records, err := generateGraph(opts, 100, 1)
	require.NoError(t, err)

	assert.Equal(t, []int32{102, 105, 109}, table)
	total := 0
	for p, recs := range records {
		for _, r := range recs {
			assert.LessOrEqual(t, r.Src, table[p])
			assert.Len(t, r.Dests, 2)
			assert.NotEqual(t, r.Dests[0], r.Dests[1])
			for _, d := range r.Dests {
				assert.GreaterOrEqual(t, d, int32(100))
				assert.LessOrEqual(t, d, int32(109))
			}
			total++
		}
	}
	assert.Equal(t, 10, total)

	_, _, err = generateGraph(&generateOptions{vertices: 2, partitions: 3, degree: 1}, 0, 1)
	assert.Error(t, err)
}

func TestCLI_EndToEnd(t *testing.T) {
	env := newCLIEnv(t)
	gen := &generateOptions{vertices: 40, partitions: 4, degree: 1, seed: 11}

	out, err := env.exec(t, "generate", "--vertices", "40", "--partitions", "4", "--degree", "1", "--seed", "11")
	require.NoError(t, err)
	assert.Contains(t, out, "OK: wrote 40 vertices")

	out, err = env.exec(t, "schedule")
	require.NoError(t, err)
	assert.Contains(t, out, "1\t1,0\n")
	assert.Contains(t, out, "6 of 6 pairs pending")

	out, err = env.exec(t, "run", "--workers", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "pairs\t6\n")
	assert.Contains(t, out, "OK: converged")

	// Every stored edge must be a real path in the generated graph.
	_, records, err := generateGraph(gen, 0, 1)
	require.NoError(t, err)
	adj := make(map[int32][]int32)
	for _, recs := range records {
		for _, r := range recs {
			adj[r.Src] = append(adj[r.Src], r.Dests...)
		}
	}
	reachable := func(src int32) map[int32]bool {
		seen := map[int32]bool{}
		queue := append([]int32(nil), adj[src]...)
		for len(queue) > 0 {
			v := queue[0]
			queue = queue[1:]
			if seen[v] {
				continue
			}
			seen[v] = true
			queue = append(queue, adj[v]...)
		}
		return seen
	}

	bc := badger.DefaultConfig()
	bc.Path = env.storage
	bc.GCInterval = 0
	db, err := badger.Open(bc)
	require.NoError(t, err)
	es, err := store.NewEdgeStore(db, nil)
	require.NoError(t, err)

	ctx := context.Background()
	derived := 0
	for src := int32(0); src < 40; src++ {
		found, err := es.Edges(ctx, src)
		require.NoError(t, err)
		reach := reachable(src)
		for _, e := range found {
			assert.True(t, reach[e.Dest], "derived edge %d->%d is not a path", src, e.Dest)
			assert.Equal(t, byte(1), e.Value)
		}
		derived += len(found)
	}
	count, err := es.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, derived, count)
	require.NoError(t, db.Close())

	// Write-back grew the partition files by exactly the derived edges.
	layout := partition.Layout{Base: env.dataset}
	dir, err := partition.LoadDirectory(layout, 0)
	require.NoError(t, err)
	var onDisk int64
	for id := 0; id < dir.NumParts(); id++ {
		info, err := inspectPartition(layout, dir, id)
		require.NoError(t, err)
		onDisk += info.edges
	}
	assert.Equal(t, int64(40+derived), onDisk)

	out, err = env.exec(t, "schedule", "--resume")
	require.NoError(t, err)
	assert.Contains(t, out, "0 of 6 pairs pending")

	out, err = env.exec(t, "inspect")
	require.NoError(t, err)
	assert.Contains(t, out, "pairs_computed\t6/6\n")

	out, err = env.exec(t, "query", "--count")
	require.NoError(t, err)
	assert.Equal(t, strings.TrimSpace(out), strconv.Itoa(derived))

	// A rerun finds every pair journaled and does nothing.
	out, err = env.exec(t, "run")
	require.NoError(t, err)
	assert.Contains(t, out, "pairs\t0\n")

	// --fresh without a terminal clears the journal without asking.
	out, err = env.exec(t, "run", "--fresh")
	require.NoError(t, err)
	assert.Contains(t, out, "pairs\t6\n")
}

func TestCLI_Errors(t *testing.T) {
	env := newCLIEnv(t)

	t.Run("run without dataset files", func(t *testing.T) {
		_, err := env.exec(t, "run")
		assert.ErrorContains(t, err, "load partition directory")
	})

	t.Run("bad failure mode", func(t *testing.T) {
		_, err := env.exec(t, "run", "--failure-mode", "retry")
		assert.ErrorContains(t, err, "FailureMode")
	})

	t.Run("query needs src or count", func(t *testing.T) {
		_, err := env.exec(t, "query")
		assert.ErrorContains(t, err, "--src or --count")
	})

	t.Run("unknown label", func(t *testing.T) {
		_, err := env.exec(t, "generate", "--label", "nope")
		assert.ErrorContains(t, err, "nope")
	})
}
