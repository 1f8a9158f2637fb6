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
	"context"

	"github.com/AleutianAI/AleutianClosure/services/closure/edges"
	"github.com/AleutianAI/AleutianClosure/services/closure/partition"
)

// Kernel derives new edges for one vertex.
//
// Description:
//
//	Update is called once per pass for every active vertex. It may read
//	any resident vertex through u.Neighbors, which only exposes edges
//	published by the previous pass, and it may append to u.Out. The
//	engine counts the edges appended during the call; a call appending
//	nothing marks the vertex quiet for the pass.
//
// Limitations:
//   - The engine only terminates for monotone kernels over a finite edge
//     space. A kernel that keeps appending keeps the residency alive.
//   - Kernels must not append edges they have already appended, or the
//     fixpoint is never reached. u.State.Scratch is the place to keep
//     per-vertex dedup state.
//
// Thread Safety: Update is called concurrently for different vertices
// and never concurrently for the same vertex.
type Kernel interface {
	Update(ctx context.Context, u *Update) error
}

// LocalTerminator is implemented by kernels that know whether local
// termination is sound for them. A kernel that returns false may need a
// neighbor's newly published edges after an update that appended nothing,
// and the engine then updates every vertex on every pass. Kernels that do
// not implement it are trusted to follow Config.LocalTermination.
type LocalTerminator interface {
	LocallyTerminable() bool
}

// KernelFunc adapts a function to Kernel.
type KernelFunc func(ctx context.Context, u *Update) error

// Update calls f.
func (f KernelFunc) Update(ctx context.Context, u *Update) error {
	return f(ctx, u)
}

// Neighborhood is the read-only view of a residency handed to kernels.
//
// *partition.Residency implements it.
type Neighborhood interface {
	// Len returns the number of resident vertices.
	Len() int

	// Vertex returns the on-disk edges of slot i. Callers must not modify it.
	Vertex(i int) *partition.Vertex

	// Readable returns the derived edges of slot i published before the
	// current pass.
	Readable(i int) edges.View

	// LocalIndex maps a global vertex ID to its slot, if resident.
	LocalIndex(id int32) (int, bool)
}

var _ Neighborhood = (*partition.Residency)(nil)

// Update carries one kernel invocation.
type Update struct {
	// Pass is the 1-based pass number within the residency.
	Pass int

	// Index is the vertex's local slot.
	Index int

	// Vertex holds the vertex's on-disk edges.
	Vertex *partition.Vertex

	// Out is the vertex's own derived edge list. Out.Writable sees edges
	// appended earlier in the current pass.
	Out edges.Appender

	// State is the vertex's per-residency arena.
	State *VertexState

	// Neighbors exposes every resident vertex.
	Neighbors Neighborhood
}

// VertexState is the per-vertex arena kept for the life of a residency.
type VertexState struct {
	// NewEdges is the number of edges appended by the last update.
	NewEdges int

	// Rounds counts completed updates.
	Rounds int

	// Terminated is set once an update appends nothing and local
	// termination is enabled.
	Terminated bool

	// Scratch belongs to the kernel.
	Scratch any
}
