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
	"encoding/binary"
	"fmt"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianClosure/services/closure/scheduler"
	"github.com/AleutianAI/AleutianClosure/services/closure/storage/badger"
)

// journalPrefix starts every schedule journal key: prefix, i, j.
var journalPrefix = []byte("s/")

const journalKeyLen = 2 + 4 + 4

// ScheduleJournal records computed partition pairs in BadgerDB so a run
// can resume without recomputing them. Values hold the time the pair was
// handed out, in Unix milliseconds.
//
// Thread Safety: Safe for concurrent use.
type ScheduleJournal struct {
	db  *badger.DB
	now func() time.Time
}

var _ scheduler.Journal = (*ScheduleJournal)(nil)

// NewScheduleJournal creates a journal over db.
func NewScheduleJournal(db *badger.DB) (*ScheduleJournal, error) {
	if db == nil {
		return nil, ErrNilDB
	}
	return &ScheduleJournal{db: db, now: time.Now}, nil
}

func journalKey(p scheduler.Pair) []byte {
	k := make([]byte, 0, journalKeyLen)
	k = append(k, journalPrefix...)
	k = binary.BigEndian.AppendUint32(k, uint32(p.I))
	return binary.BigEndian.AppendUint32(k, uint32(p.J))
}

// MarkComputed implements scheduler.Journal.
func (j *ScheduleJournal) MarkComputed(ctx context.Context, p scheduler.Pair) error {
	val := binary.BigEndian.AppendUint64(nil, uint64(j.now().UnixMilli()))
	return j.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		return txn.Set(journalKey(p), val)
	})
}

// Computed implements scheduler.Journal. Pairs come back in (i, j) order.
func (j *ScheduleJournal) Computed(ctx context.Context) ([]scheduler.Pair, error) {
	var pairs []scheduler.Pair
	err := j.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = journalPrefix

		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(journalPrefix); it.Next() {
			key := it.Item().Key()
			if len(key) != journalKeyLen {
				return fmt.Errorf("%w: %x", ErrMalformedKey, key)
			}
			pairs = append(pairs, scheduler.Pair{
				I: int(binary.BigEndian.Uint32(key[2:6])),
				J: int(binary.BigEndian.Uint32(key[6:10])),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pairs, nil
}

// Reset forgets every computed pair.
func (j *ScheduleJournal) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return j.db.DropPrefix(journalPrefix)
}
