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
	"bytes"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDirectory(t *testing.T) {
	t.Run("ranges follow bounds", func(t *testing.T) {
		d, err := NewDirectory([]int32{4, 9, 10}, 1)
		require.NoError(t, err)

		assert.Equal(t, 3, d.NumParts())
		assert.Equal(t, int32(1), d.MinSrc(0))
		assert.Equal(t, int32(4), d.MaxSrc(0))
		assert.Equal(t, 4, d.NumUniqueSrcs(0))
		assert.Equal(t, int32(5), d.MinSrc(1))
		assert.Equal(t, 5, d.NumUniqueSrcs(1))
		assert.Equal(t, int32(10), d.MinSrc(2))
		assert.Equal(t, 1, d.NumUniqueSrcs(2))
	})

	t.Run("empty table rejected", func(t *testing.T) {
		_, err := NewDirectory(nil, 0)
		assert.ErrorIs(t, err, ErrInvalidAllocationTable)
	})

	t.Run("non increasing table rejected", func(t *testing.T) {
		_, err := NewDirectory([]int32{4, 4}, 0)
		assert.ErrorIs(t, err, ErrInvalidAllocationTable)
	})

	t.Run("bound below first vertex rejected", func(t *testing.T) {
		_, err := NewDirectory([]int32{0}, 1)
		assert.ErrorIs(t, err, ErrInvalidAllocationTable)
	})
}

func TestDirectory_PartitionOf(t *testing.T) {
	d, err := NewDirectory([]int32{4, 9, 10}, 1)
	require.NoError(t, err)

	tests := []struct {
		vertex int32
		want   int
		ok     bool
	}{
		{0, 0, false},
		{1, 0, true},
		{4, 0, true},
		{5, 1, true},
		{9, 1, true},
		{10, 2, true},
		{11, 0, false},
	}
	for _, tt := range tests {
		got, ok := d.PartitionOf(tt.vertex)
		assert.Equal(t, tt.ok, ok, "vertex %d", tt.vertex)
		if tt.ok {
			assert.Equal(t, tt.want, got, "vertex %d", tt.vertex)
		}
	}
}

func TestDirectory_Contains(t *testing.T) {
	d, err := NewDirectory([]int32{4, 9, 10}, 1)
	require.NoError(t, err)

	tests := []struct {
		name      string
		partition int
		vertex    int32
		want      bool
	}{
		{"first vertex", 0, 1, true},
		{"below first vertex", 0, 0, false},
		{"upper bound", 0, 4, true},
		{"next partition", 0, 5, false},
		{"lower bound", 1, 5, true},
		{"previous partition", 1, 4, false},
		{"single vertex partition", 2, 10, true},
		{"past last bound", 2, 11, false},
		{"negative partition", -1, 1, false},
		{"unknown partition", 3, 10, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, d.Contains(tt.partition, tt.vertex))
			if tt.want {
				p, ok := d.PartitionOf(tt.vertex)
				require.True(t, ok)
				assert.Equal(t, tt.partition, p)
			}
		})
	}
}

func TestDirectory_FullInt32Range(t *testing.T) {
	d, err := NewDirectory([]int32{-1, math.MaxInt32}, math.MinInt32)
	require.NoError(t, err)

	assert.Equal(t, 1<<31, d.NumUniqueSrcs(0))
	assert.Equal(t, 1<<31, d.NumUniqueSrcs(1))
	assert.True(t, d.Contains(0, math.MinInt32))
	assert.True(t, d.Contains(1, math.MaxInt32))
}

func TestReadAllocationTable(t *testing.T) {
	table, err := ReadAllocationTable(strings.NewReader("3\n\n7\n12\n"))
	require.NoError(t, err)
	assert.Equal(t, []int32{3, 7, 12}, table)

	_, err = ReadAllocationTable(strings.NewReader("3\nseven\n"))
	assert.ErrorIs(t, err, ErrInvalidAllocationTable)

	var buf bytes.Buffer
	require.NoError(t, WriteAllocationTable(&buf, table))
	assert.Equal(t, "3\n7\n12\n", buf.String())
}

func TestLoadDirectory_MissingTable(t *testing.T) {
	layout := Layout{Base: filepath.Join(t.TempDir(), "missing")}
	_, err := LoadDirectory(layout, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestReadDegrees(t *testing.T) {
	t.Run("fills listed sources", func(t *testing.T) {
		degrees := make([]int32, 3)
		err := ReadDegrees(strings.NewReader("5\t2\n7\t4\n"), 1, 5, degrees)
		require.NoError(t, err)
		assert.Equal(t, []int32{2, 0, 4}, degrees)
	})

	t.Run("source outside partition", func(t *testing.T) {
		degrees := make([]int32, 3)
		err := ReadDegrees(strings.NewReader("9\t2\n"), 1, 5, degrees)
		var ce *ConsistencyError
		require.ErrorAs(t, err, &ce)
		assert.ErrorIs(t, err, ErrSourceOutOfRange)
		assert.Equal(t, int32(9), ce.Source)
	})

	t.Run("malformed line", func(t *testing.T) {
		degrees := make([]int32, 3)
		err := ReadDegrees(strings.NewReader("5 2\n"), 1, 5, degrees)
		assert.ErrorIs(t, err, ErrMalformedDegrees)
	})

	t.Run("round trip", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteDegrees(&buf, 5, []int32{2, 0, 4}))
		assert.Equal(t, "5\t2\n7\t4\n", buf.String())
	})
}

func TestRecordReader_FieldByField(t *testing.T) {
	var buf bytes.Buffer
	ew := NewEdgeWriter(&buf)
	require.NoError(t, ew.WriteRecord(3, []int32{8, 9}, []byte{1, 2}))
	require.NoError(t, ew.Flush())
	// 8 header bytes + 2 entries of 5 bytes.
	require.Equal(t, 18, buf.Len())

	rr := newRecordReader(bytes.NewReader(buf.Bytes()[:13]))
	src, count, err := rr.header()
	require.NoError(t, err)
	assert.Equal(t, int32(3), src)
	assert.Equal(t, int32(2), count)

	dest, value, err := rr.edge()
	require.NoError(t, err)
	assert.Equal(t, int32(8), dest)
	assert.Equal(t, byte(1), value)

	_, _, err = rr.edge()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestEdgeWriter_LengthMismatch(t *testing.T) {
	ew := NewEdgeWriter(&bytes.Buffer{})
	assert.Error(t, ew.WriteRecord(1, []int32{1, 2}, []byte{1}))
}
