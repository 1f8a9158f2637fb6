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
	"fmt"
	"runtime"
	"time"
)

// FailureMode decides what a failing chunk does to its residency.
type FailureMode string

const (
	// FailureSkip logs the failure, counts it, and lets the pass continue.
	// The chunk contributes no new edges to the pass total.
	FailureSkip FailureMode = "skip"

	// FailureAbort stops the residency with a *ChunkError.
	FailureAbort FailureMode = "fail"
)

// Defaults applied by DefaultConfig.
const (
	DefaultChunkDivisor    = 64
	DefaultWaitLogInterval = 1500 * time.Millisecond
	minDefaultWorkers      = 8
)

// Config tunes an Engine.
type Config struct {
	// Workers bounds how many chunk tasks run at once.
	Workers int

	// ChunkDivisor sets the chunk size to 1 + n/ChunkDivisor for n loaded
	// vertices, which yields at most ChunkDivisor+1 chunks per pass.
	ChunkDivisor int

	// WaitLogInterval is how often a pass still waiting on chunks logs its
	// progress. Waiting is never an error by itself.
	WaitLogInterval time.Duration

	// ResidencyTimeout aborts a residency that has not converged in time.
	// Zero disables the deadline.
	ResidencyTimeout time.Duration

	// FailureMode is FailureSkip or FailureAbort.
	FailureMode FailureMode

	// LocalTermination skips, for the rest of a residency, every vertex
	// whose update produced no edge. Only sound for monotone kernels.
	LocalTermination bool
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		Workers:          DefaultWorkers(),
		ChunkDivisor:     DefaultChunkDivisor,
		WaitLogInterval:  DefaultWaitLogInterval,
		FailureMode:      FailureSkip,
		LocalTermination: true,
	}
}

// DefaultWorkers returns max(8, NumCPU).
func DefaultWorkers() int {
	return max(minDefaultWorkers, runtime.NumCPU())
}

// normalize fills unset numeric fields with defaults and validates the rest.
func (c Config) normalize() (Config, error) {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers()
	}
	if c.ChunkDivisor <= 0 {
		c.ChunkDivisor = DefaultChunkDivisor
	}
	if c.WaitLogInterval <= 0 {
		c.WaitLogInterval = DefaultWaitLogInterval
	}
	if c.ResidencyTimeout < 0 {
		return c, fmt.Errorf("%w: negative residency timeout %s", ErrInvalidConfig, c.ResidencyTimeout)
	}
	switch c.FailureMode {
	case "":
		c.FailureMode = FailureSkip
	case FailureSkip, FailureAbort:
	default:
		return c, fmt.Errorf("%w: unknown failure mode %q", ErrInvalidConfig, c.FailureMode)
	}
	return c, nil
}

// ChunkSize returns the number of vertices per chunk for n vertices.
func ChunkSize(n, divisor int) int {
	if divisor <= 0 {
		divisor = DefaultChunkDivisor
	}
	return 1 + n/divisor
}

// Chunk is a contiguous range [Start, End) of local vertex slots.
type Chunk struct {
	ID    int
	Start int
	End   int
}

// Len returns the number of slots in the chunk.
func (c Chunk) Len() int {
	return c.End - c.Start
}

// Chunks splits [0, n) into chunks of ChunkSize(n, divisor) slots. The last
// chunk may be shorter. n == 0 yields no chunks.
func Chunks(n, divisor int) []Chunk {
	if n <= 0 {
		return nil
	}
	size := ChunkSize(n, divisor)
	out := make([]Chunk, 0, n/size+1)
	for start := 0; start < n; start += size {
		out = append(out, Chunk{ID: len(out), Start: start, End: min(start+size, n)})
	}
	return out
}
