// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package kernel

import (
	"context"

	"github.com/AleutianAI/AleutianClosure/services/closure/edges"
	"github.com/AleutianAI/AleutianClosure/services/closure/engine"
)

// Composer derives edges by applying a Grammar to paths of length two
// through resident vertices.
//
// Description:
//
//	For a vertex v, every out-edge v -a-> u is taken from v's on-disk
//	edges plus every edge v has derived so far, including ones derived
//	earlier in the current pass. When u is resident, each u -b-> w from
//	u's on-disk edges and u's published derived edges yields v -c-> w for
//	every production c ::= a b. Edges v already has are skipped.
//
// Thread Safety: Safe for concurrent use by the engine. Per-vertex state
// lives in engine.VertexState.Scratch.
type Composer struct {
	grammar *Grammar
}

var (
	_ engine.Kernel          = (*Composer)(nil)
	_ engine.LocalTerminator = (*Composer)(nil)
)

// NewComposer creates a composer over g.
func NewComposer(g *Grammar) *Composer {
	return &Composer{grammar: g}
}

// Grammar returns the composer's grammar.
func (c *Composer) Grammar() *Grammar {
	return c.grammar
}

// LocallyTerminable reports whether a vertex that derived nothing can be
// skipped for the rest of a residency.
//
// With a single label, an update that appends nothing leaves v knowing
// every vertex reachable from it through resident on-disk edges, and no
// neighbor can publish an edge outside that set. With more labels a
// neighbor u can derive u -c-> w after v went quiet, and only then does a
// rule with right-hand c fire for v.
func (c *Composer) LocallyTerminable() bool {
	return c.grammar.RuleLabels() <= 1
}

type edgeKey uint64

func keyOf(dest int32, value byte) edgeKey {
	return edgeKey(uint64(uint32(dest))<<8 | uint64(value))
}

// vertexState is the composer's per-vertex scratch.
type vertexState struct {
	known map[edgeKey]struct{}
}

func (c *Composer) state(u *engine.Update) *vertexState {
	if st, ok := u.State.Scratch.(*vertexState); ok {
		return st
	}
	st := &vertexState{known: make(map[edgeKey]struct{}, len(u.Vertex.Dests))}
	for i, d := range u.Vertex.Dests {
		st.known[keyOf(d, u.Vertex.Values[i])] = struct{}{}
	}
	u.Out.Writable().Each(func(e edges.Edge) bool {
		st.known[keyOf(e.Dest, e.Value)] = struct{}{}
		return true
	})
	u.State.Scratch = st
	return st
}

// Update implements engine.Kernel.
func (c *Composer) Update(_ context.Context, u *engine.Update) error {
	st := c.state(u)
	nb := u.Neighbors
	// Own derived edges as of the start of this update; edges appended
	// below are followed next pass.
	own := u.Out.Writable()

	emit := func(a byte, w edges.Edge) {
		for _, res := range c.grammar.Derive(a, w.Value) {
			k := keyOf(w.Dest, res)
			if _, ok := st.known[k]; ok {
				continue
			}
			st.known[k] = struct{}{}
			u.Out.Append(w.Dest, res)
		}
	}
	step := func(mid int32, a byte) {
		j, ok := nb.LocalIndex(mid)
		if !ok {
			return
		}
		mv := nb.Vertex(j)
		for i, d := range mv.Dests {
			emit(a, edges.Edge{Dest: d, Value: mv.Values[i]})
		}
		nb.Readable(j).Each(func(e edges.Edge) bool {
			emit(a, e)
			return true
		})
	}

	for i, d := range u.Vertex.Dests {
		step(d, u.Vertex.Values[i])
	}
	own.Each(func(e edges.Edge) bool {
		step(e.Dest, e.Value)
		return true
	})
	return nil
}
