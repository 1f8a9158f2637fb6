// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package edges

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestList_Empty(t *testing.T) {
	var l List

	assert.Equal(t, 0, l.Size())
	assert.Equal(t, -1, l.Index())
	assert.Equal(t, 0, l.ReadableSize())
	assert.Equal(t, -1, l.ReadableIndex())
	_, ok := l.ReadableLast()
	assert.False(t, ok)
	assert.Equal(t, 0, l.Readable().Len())
	assert.Empty(t, l.Writable().Edges())
}

func TestList_AppendIsInvisibleUntilSnapshot(t *testing.T) {
	l := NewList()
	l.Append(7, 1)
	l.Append(9, 2)

	assert.Equal(t, 2, l.Size())
	assert.Equal(t, 0, l.Readable().Len(), "readers must not see unsnapshotted appends")
	assert.Equal(t, []Edge{{7, 1}, {9, 2}}, l.Writable().Edges(), "owner sees its own appends")

	l.Snapshot()
	assert.Equal(t, 2, l.ReadableSize())
	assert.Equal(t, 1, l.ReadableIndex())
	last, ok := l.ReadableLast()
	require.True(t, ok)
	assert.Equal(t, Edge{9, 2}, last)

	l.Append(11, 3)
	assert.Equal(t, 2, l.Readable().Len())
	assert.Equal(t, 3, l.Writable().Len())
}

func TestList_SpansBlocks(t *testing.T) {
	l := NewList()
	total := BlockSize*3 + 5
	for i := 0; i < total; i++ {
		l.Append(int32(i), byte(i%7))
	}
	l.Snapshot()

	v := l.Readable()
	require.Equal(t, total, v.Len())
	for i := 0; i < total; i++ {
		assert.Equal(t, Edge{Dest: int32(i), Value: byte(i % 7)}, v.At(i))
	}
	assert.Len(t, v.Edges(), total)
}

func TestView_StableAfterAppend(t *testing.T) {
	l := NewList()
	for i := 0; i < BlockSize; i++ {
		l.Append(int32(i), 0)
	}
	before := l.Writable()

	// Forces a new block and possibly a new outer slice.
	for i := 0; i < BlockSize*4; i++ {
		l.Append(-1, 9)
	}

	require.Equal(t, BlockSize, before.Len())
	for i := 0; i < before.Len(); i++ {
		assert.Equal(t, int32(i), before.At(i).Dest)
	}
}

func TestView_EachStopsEarly(t *testing.T) {
	l := NewList()
	for i := 0; i < 10; i++ {
		l.Append(int32(i), 0)
	}
	l.Snapshot()

	seen := 0
	l.Readable().Each(func(e Edge) bool {
		seen++
		return e.Dest < 3
	})
	assert.Equal(t, 4, seen)
}

func TestView_AtOutOfRangePanics(t *testing.T) {
	l := NewList()
	l.Append(1, 1)
	assert.Panics(t, func() { l.Readable().At(0) })
	assert.Panics(t, func() { l.Writable().At(1) })
}

// TestList_ConcurrentReadersDuringAppend exercises the epoch protocol under
// the race detector: one writer appends while many readers walk the
// published view. Readers must never observe more than ReadableIndex+1
// edges.
func TestList_ConcurrentReadersDuringAppend(t *testing.T) {
	l := NewList()
	for i := 0; i < 100; i++ {
		l.Append(int32(i), 1)
	}
	l.Snapshot()
	published := l.ReadableIndex()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < BlockSize*50; i++ {
			l.Append(int32(1000+i), 2)
		}
	}()

	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for round := 0; round < 50; round++ {
				v := l.Readable()
				assert.LessOrEqual(t, v.Len(), published+1)
				count := 0
				v.Each(func(e Edge) bool {
					assert.Equal(t, byte(1), e.Value)
					count++
					return true
				})
				assert.Equal(t, published+1, count)
			}
		}()
	}
	wg.Wait()

	l.Snapshot()
	assert.Equal(t, 100+BlockSize*50, l.ReadableSize())
}
