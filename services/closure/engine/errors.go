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
	"errors"
	"fmt"
)

// Sentinel errors for the engine.
var (
	// ErrInvalidConfig is returned by New for an unusable Config.
	ErrInvalidConfig = errors.New("invalid engine config")

	// ErrNilKernel is returned by New without a kernel.
	ErrNilKernel = errors.New("engine kernel is nil")

	// ErrNilResidency is returned by ComputeToFixpoint for a nil residency.
	ErrNilResidency = errors.New("residency is nil")

	// ErrResidencyDeadline is returned when a residency does not converge
	// within Config.ResidencyTimeout. The residency must be discarded.
	ErrResidencyDeadline = errors.New("residency deadline exceeded")

	// ErrChunkFailed marks a kernel failure inside a chunk task.
	ErrChunkFailed = errors.New("chunk failed")

	// ErrKernelPanic marks a kernel panic recovered by a chunk task.
	ErrKernelPanic = errors.New("kernel panicked")
)

// ChunkError reports a kernel failure in one chunk of one pass.
//
// errors.Is matches both ErrChunkFailed and the underlying cause.
type ChunkError struct {
	Pass   int
	Chunk  int
	Vertex int32
	Err    error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("pass %d chunk %d vertex %d: %v", e.Pass, e.Chunk, e.Vertex, e.Err)
}

func (e *ChunkError) Unwrap() []error {
	return []error{ErrChunkFailed, e.Err}
}
