// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package edges holds the per-vertex lists of edges derived while a
// partition pair is resident in memory.
//
// # Epochs
//
// Every List has two boundaries. The write boundary moves each time the
// owner appends. The read boundary moves only when Snapshot is called,
// which the engine does once per pass while no worker is running:
//
//	pass k:   readers see [0, readable)    owner appends at [size, ...)
//	barrier:  Snapshot()  -> readable = size
//	pass k+1: readers see everything appended during pass k
//
// Storage is a sequence of fixed-size blocks. A block, once allocated, is
// never moved or resized, so an append during pass k never touches memory
// a reader may be looking at.
//
// # Thread Safety
//
// A List has exactly one writer (the vertex that owns it). Append, Size
// and Writable must only be called by that writer. Readable and the
// Readable* accessors may be called from any goroutine during a pass.
// Snapshot must only be called when no goroutine is reading or writing.
package edges

// BlockSize is the number of edges held by one storage block.
const BlockSize = 64

// Edge is a derived (destination, label) pair.
type Edge struct {
	Dest  int32
	Value byte
}

// List is an append-only edge list with a one-pass-lagged read view.
//
// The zero value is an empty list ready for use.
type List struct {
	// Writer-owned state.
	blocks [][]Edge
	size   int

	// Published state, replaced only by Snapshot.
	readBlocks [][]Edge
	readSize   int
}

// NewList returns an empty list.
func NewList() *List {
	return &List{}
}

// Append adds an edge at the write boundary.
//
// The edge is visible to the owner immediately (through Writable) and to
// every other reader after the next Snapshot.
func (l *List) Append(dest int32, value byte) {
	pos := l.size % BlockSize
	if pos == 0 {
		l.blocks = append(l.blocks, make([]Edge, BlockSize))
	}
	l.blocks[len(l.blocks)-1][pos] = Edge{Dest: dest, Value: value}
	l.size++
}

// Size returns the number of edges appended so far. Owner only.
func (l *List) Size() int {
	return l.size
}

// Index returns the position of the last appended edge, or -1 when the
// list is empty. Owner only.
func (l *List) Index() int {
	return l.size - 1
}

// Snapshot moves the read boundary to the current write boundary.
func (l *List) Snapshot() {
	l.readBlocks = l.blocks
	l.readSize = l.size
}

// Readable returns the view published by the last Snapshot.
func (l *List) Readable() View {
	return View{blocks: l.readBlocks, n: l.readSize}
}

// Writable returns a view of every edge appended so far, including the
// ones not yet published. Owner only.
func (l *List) Writable() View {
	return View{blocks: l.blocks, n: l.size}
}

// ReadableSize returns the number of edges visible to readers.
func (l *List) ReadableSize() int {
	return l.readSize
}

// ReadableIndex returns the position of the last edge visible to readers,
// or -1 when nothing is visible yet.
func (l *List) ReadableIndex() int {
	return l.readSize - 1
}

// ReadableLast returns the last edge visible to readers.
func (l *List) ReadableLast() (Edge, bool) {
	if l.readSize == 0 {
		return Edge{}, false
	}
	return l.Readable().At(l.readSize - 1), true
}

// Appender is the write side of a List handed to the list's owner.
type Appender interface {
	Append(dest int32, value byte)
	Size() int
	Writable() View
}

var _ Appender = (*List)(nil)

// View is an immutable window over the first Len edges of a List.
//
// A View stays valid after further appends to the list it came from; it
// simply does not see them.
type View struct {
	blocks [][]Edge
	n      int
}

// Len returns the number of edges in the view.
func (v View) Len() int {
	return v.n
}

// At returns edge i. It panics if i is outside [0, Len).
func (v View) At(i int) Edge {
	if i < 0 || i >= v.n {
		panic("edges: view index out of range")
	}
	return v.blocks[i/BlockSize][i%BlockSize]
}

// Each calls fn for every edge in order until fn returns false.
func (v View) Each(fn func(Edge) bool) {
	remaining := v.n
	for _, block := range v.blocks {
		if remaining == 0 {
			return
		}
		take := min(remaining, BlockSize)
		for _, e := range block[:take] {
			if !fn(e) {
				return
			}
		}
		remaining -= take
	}
}

// Edges copies the view into a new slice.
func (v View) Edges() []Edge {
	out := make([]Edge, 0, v.n)
	v.Each(func(e Edge) bool {
		out = append(out, e)
		return true
	})
	return out
}
