// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// Level controls how rich CLI output is.
type Level string

const (
	// LevelRich uses colors, icons and boxed tables.
	LevelRich Level = "rich"

	// LevelMinimal uses icons and plain tables.
	LevelMinimal Level = "minimal"

	// LevelMachine prints tab-separated text for scripts.
	LevelMachine Level = "machine"
)

// EnvOutput overrides level detection.
const EnvOutput = "CLOSURE_OUTPUT"

// ParseLevel converts a name to a Level. Unknown names are rich.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "minimal", "min", "m":
		return LevelMinimal
	case "machine", "plain", "quiet", "q":
		return LevelMachine
	default:
		return LevelRich
	}
}

// DetectLevel picks the level for w. CLOSURE_OUTPUT wins; otherwise
// terminals are rich and everything else is machine.
func DetectLevel(w io.Writer) Level {
	if env := os.Getenv(EnvOutput); env != "" {
		return ParseLevel(env)
	}
	if isTerminal(w) {
		return LevelRich
	}
	return LevelMachine
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
