// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store holds the collaborators that receive converged
// residencies: partition write-back, the badger-backed derived-edge store,
// and the badger-backed schedule journal.
package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/AleutianAI/AleutianClosure/services/closure/engine"
	"github.com/AleutianAI/AleutianClosure/services/closure/partition"
)

// Sentinel errors for stores.
var (
	// ErrNilDB is returned by constructors given no database.
	ErrNilDB = errors.New("database is nil")

	// ErrMalformedKey is returned when a stored key does not decode.
	ErrMalformedKey = errors.New("malformed key")
)

// Chain runs processors in order and stops at the first failure. Untyped
// nil entries are skipped; a typed nil pointer is called like any other
// processor.
type Chain []engine.Processor

var _ engine.Processor = Chain(nil)

// Process implements engine.Processor.
func (c Chain) Process(ctx context.Context, res *partition.Residency) error {
	for i, p := range c {
		if p == nil {
			continue
		}
		if err := p.Process(ctx, res); err != nil {
			return fmt.Errorf("processor %d: %w", i, err)
		}
	}
	return nil
}

// putVertex appends v so that byte order matches numeric order.
func putVertex(b []byte, v int32) []byte {
	return binary.BigEndian.AppendUint32(b, uint32(v)^0x80000000)
}

func vertexAt(b []byte) int32 {
	return int32(binary.BigEndian.Uint32(b) ^ 0x80000000)
}
