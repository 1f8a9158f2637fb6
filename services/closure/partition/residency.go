// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package partition

import (
	"fmt"

	"github.com/AleutianAI/AleutianClosure/services/closure/edges"
)

// Vertex is a loaded source vertex and its on-disk out-edges.
//
// Dests and Values are parallel and sorted by destination after Load.
type Vertex struct {
	ID     int32
	Dests  []int32
	Values []byte
}

// OutDegree returns the number of loaded out-edges.
func (v *Vertex) OutDegree() int {
	return len(v.Dests)
}

func (v Vertex) String() string {
	return fmt.Sprintf("Vertex{id=%d, degree=%d}", v.ID, len(v.Dests))
}

// LoadedVertexInterval is the slot range [IndexStart, IndexEnd] holding
// the vertices of one loaded partition.
type LoadedVertexInterval struct {
	PartitionID int
	MinSrc      int32
	MaxSrc      int32
	IndexStart  int
	IndexEnd    int
}

// Len returns the number of slots in the interval.
func (iv LoadedVertexInterval) Len() int {
	return iv.IndexEnd - iv.IndexStart + 1
}

// ContainsIndex reports whether local slot i belongs to the interval.
func (iv LoadedVertexInterval) ContainsIndex(i int) bool {
	return i >= iv.IndexStart && i <= iv.IndexEnd
}

// ContainsVertex reports whether global vertex id belongs to the interval.
func (iv LoadedVertexInterval) ContainsVertex(id int32) bool {
	return id >= iv.MinSrc && id <= iv.MaxSrc
}

// Residency is the in-memory state of one loaded set of partitions.
//
// Vertices, EdgeLists and the intervals are indexed by local slot. Slots
// never move while the residency lives.
//
// Thread Safety: Vertex data is read-only. Each EdgeLists[i] follows the
// single-writer protocol of package edges.
type Residency struct {
	Partitions []int
	Vertices   []Vertex
	EdgeLists  []*edges.List
	Intervals  []LoadedVertexInterval
}

// Len returns the number of loaded vertices.
func (r *Residency) Len() int {
	return len(r.Vertices)
}

// Vertex returns the vertex in local slot i.
func (r *Residency) Vertex(i int) *Vertex {
	return &r.Vertices[i]
}

// Readable returns the published view of slot i's derived edges.
func (r *Residency) Readable(i int) edges.View {
	return r.EdgeLists[i].Readable()
}

// LocalIndex translates a global vertex ID to its local slot.
func (r *Residency) LocalIndex(id int32) (int, bool) {
	for _, iv := range r.Intervals {
		if iv.ContainsVertex(id) {
			return iv.IndexStart + int(id-iv.MinSrc), true
		}
	}
	return 0, false
}

// IntervalOf returns the interval containing local slot i.
func (r *Residency) IntervalOf(i int) (LoadedVertexInterval, bool) {
	for _, iv := range r.Intervals {
		if iv.ContainsIndex(i) {
			return iv, true
		}
	}
	return LoadedVertexInterval{}, false
}

// NumEdges returns the number of on-disk edges loaded.
func (r *Residency) NumEdges() int {
	n := 0
	for i := range r.Vertices {
		n += len(r.Vertices[i].Dests)
	}
	return n
}

// NumNewEdges returns the number of edges derived so far.
func (r *Residency) NumNewEdges() int {
	n := 0
	for _, l := range r.EdgeLists {
		n += l.Size()
	}
	return n
}
