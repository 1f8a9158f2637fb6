// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"
	"github.com/dustin/go-humanize"

	"github.com/AleutianAI/AleutianClosure/services/closure/edges"
	"github.com/AleutianAI/AleutianClosure/services/closure/engine"
	"github.com/AleutianAI/AleutianClosure/services/closure/partition"
	"github.com/AleutianAI/AleutianClosure/services/closure/storage/badger"
)

// edgePrefix starts every derived-edge key: prefix, src, dst, label.
var edgePrefix = []byte("e/")

const edgeKeyLen = 2 + 4 + 4 + 1

// EdgeStore keeps every derived edge in BadgerDB, keyed so that the edges
// of one source are contiguous and sorted by destination.
//
// Thread Safety: Safe for concurrent use.
type EdgeStore struct {
	db     *badger.DB
	logger *slog.Logger
}

var _ engine.Processor = (*EdgeStore)(nil)

// NewEdgeStore creates a store over db.
func NewEdgeStore(db *badger.DB, logger *slog.Logger) (*EdgeStore, error) {
	if db == nil {
		return nil, ErrNilDB
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EdgeStore{db: db, logger: logger}, nil
}

func edgeKey(src, dst int32, label byte) []byte {
	k := make([]byte, 0, edgeKeyLen)
	k = append(k, edgePrefix...)
	k = putVertex(k, src)
	k = putVertex(k, dst)
	return append(k, label)
}

func sourcePrefix(src int32) []byte {
	return putVertex(append([]byte(nil), edgePrefix...), src)
}

// Process implements engine.Processor by storing every derived edge.
func (s *EdgeStore) Process(ctx context.Context, res *partition.Residency) error {
	start := time.Now()
	written := 0
	err := s.db.WithBatch(ctx, func(wb *dgbadger.WriteBatch) error {
		var err error
		written, err = setDerived(wb, res)
		return err
	})
	if err != nil {
		return fmt.Errorf("store derived edges of %v: %w", res.Partitions, err)
	}
	s.logger.Debug("derived edges stored",
		slog.Any("partitions", res.Partitions),
		slog.String("edges", humanize.Comma(int64(written))),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

// keySetter is the part of *badger.WriteBatch used by setDerived.
type keySetter interface {
	Set(key, value []byte) error
}

// setDerived sets one key per derived edge of res and returns how many
// sets succeeded. It stops at the first failure.
func setDerived(ks keySetter, res *partition.Residency) (int, error) {
	written := 0
	for i := range res.Vertices {
		src := res.Vertices[i].ID
		var err error
		res.EdgeLists[i].Writable().Each(func(e edges.Edge) bool {
			if err = ks.Set(edgeKey(src, e.Dest, e.Value), nil); err != nil {
				return false
			}
			written++
			return true
		})
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// Put stores a single derived edge.
func (s *EdgeStore) Put(ctx context.Context, src, dst int32, label byte) error {
	return s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		return txn.Set(edgeKey(src, dst, label), nil)
	})
}

// Edges returns the stored edges of src sorted by destination, then label.
func (s *EdgeStore) Edges(ctx context.Context, src int32) ([]edges.Edge, error) {
	var out []edges.Edge
	prefix := sourcePrefix(src)
	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().Key()
			if len(key) != edgeKeyLen {
				return fmt.Errorf("%w: %x", ErrMalformedKey, key)
			}
			out = append(out, edges.Edge{
				Dest:  vertexAt(key[len(prefix):]),
				Value: key[edgeKeyLen-1],
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Count returns the number of stored edges.
func (s *EdgeStore) Count(ctx context.Context) (int, error) {
	n := 0
	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = edgePrefix

		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(edgePrefix); it.Next() {
			if n%4096 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			n++
		}
		return nil
	})
	return n, err
}
