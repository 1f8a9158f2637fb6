// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"rich":    LevelRich,
		"":        LevelRich,
		"MINIMAL": LevelMinimal,
		"m":       LevelMinimal,
		"machine": LevelMachine,
		"plain":   LevelMachine,
		"other":   LevelRich,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestDetectLevel(t *testing.T) {
	t.Run("non-file writer is machine", func(t *testing.T) {
		t.Setenv(EnvOutput, "")
		assert.Equal(t, LevelMachine, DetectLevel(&bytes.Buffer{}))
	})
	t.Run("env wins", func(t *testing.T) {
		t.Setenv(EnvOutput, "minimal")
		assert.Equal(t, LevelMinimal, DetectLevel(&bytes.Buffer{}))
	})
}

func TestPrinter_Machine(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, LevelMachine)

	p.Title("ignored")
	p.Success("pair %s converged", "(1,0)")
	p.Warning("skipped %d chunks", 2)
	p.Error("failed")
	p.Info("plain %d", 1)
	p.KeyValues("Stats", [][2]string{{"passes", "3"}, {"new_edges", "12"}})
	p.Table([]string{"src", "dst"}, [][]string{{"1", "2"}, {"3", "4"}})

	assert.Equal(t, "OK: pair (1,0) converged\n"+
		"WARN: skipped 2 chunks\n"+
		"ERROR: failed\n"+
		"plain 1\n"+
		"passes\t3\n"+
		"new_edges\t12\n"+
		"src\tdst\n1\t2\n3\t4\n", buf.String())
}

func TestPrinter_Rich(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, LevelRich)

	p.Title("Closure run")
	p.Success("done")
	p.KeyValues("Stats", [][2]string{{"passes", "3"}})
	p.Table([]string{"pair", "edges"}, [][]string{{"(1,0)", "4"}})

	out := buf.String()
	assert.Contains(t, out, "Closure run")
	assert.Contains(t, out, string(IconSuccess))
	assert.Contains(t, out, "passes")
	assert.Contains(t, out, "(1,0)")
	assert.Contains(t, out, "╭", "rounded border")
}

func TestPrinter_Minimal(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, LevelMinimal)
	p.Warning("careful")
	p.Table([]string{"a"}, [][]string{{"x"}})

	assert.Contains(t, buf.String(), "⚠ careful\n")
	assert.NotContains(t, buf.String(), "╭")
	assert.Equal(t, LevelMinimal, p.Level())
}

func TestPrinter_ProgressBar(t *testing.T) {
	machine := NewPrinter(&bytes.Buffer{}, LevelMachine)
	assert.Equal(t, "3/6", machine.ProgressBar(3, 6, 10))

	rich := NewPrinter(&bytes.Buffer{}, LevelRich)
	bar := rich.ProgressBar(3, 6, 10)
	assert.Contains(t, bar, " 50%")
	assert.Equal(t, "0/0", rich.ProgressBar(0, 0, 10))
	assert.Contains(t, rich.ProgressBar(9, 6, 4), "100%")
}

func TestIcon_Render(t *testing.T) {
	for _, icon := range []Icon{IconSuccess, IconWarning, IconError, IconPending, IconArrow} {
		assert.Contains(t, icon.Render(), string(icon))
	}
}
