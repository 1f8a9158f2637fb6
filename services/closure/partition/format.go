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
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Layout names the files of a partitioned dataset.
type Layout struct {
	// Base is the path prefix shared by every dataset file.
	Base string
}

// AllocationTablePath returns the path of the partition allocation table.
func (l Layout) AllocationTablePath() string {
	return l.Base + ".partAllocTable"
}

// EdgeFilePath returns the path of partition id's binary edge file.
func (l Layout) EdgeFilePath(id int) string {
	return fmt.Sprintf("%s.partition.%d", l.Base, id)
}

// DegreeFilePath returns the path of partition id's degree file.
func (l Layout) DegreeFilePath(id int) string {
	return l.EdgeFilePath(id) + ".degrees"
}

// EdgeFileSize returns the size in bytes of partition id's edge file.
func (l Layout) EdgeFileSize(id int) (int64, error) {
	info, err := os.Stat(l.EdgeFilePath(id))
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// ReadAllocationTable parses one inclusive maximum source vertex ID per line.
// Blank lines are ignored.
func ReadAllocationTable(r io.Reader) ([]int32, error) {
	var table []int32
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		v, err := strconv.ParseInt(text, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrInvalidAllocationTable, line, err)
		}
		table = append(table, int32(v))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read allocation table: %w", err)
	}
	return table, nil
}

// WriteAllocationTable writes one bound per line.
func WriteAllocationTable(w io.Writer, table []int32) error {
	bw := bufio.NewWriter(w)
	for _, v := range table {
		if _, err := fmt.Fprintf(bw, "%d\n", v); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadDegrees parses "src<TAB>degree" lines for a partition whose sources
// span [minSrc, minSrc+len(degrees)). Sources not listed keep degree 0.
func ReadDegrees(r io.Reader, partitionID int, minSrc int32, degrees []int32) error {
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		fields := strings.Split(text, "\t")
		if len(fields) != 2 {
			return fmt.Errorf("%w: partition %d line %d: want 2 fields, got %d",
				ErrMalformedDegrees, partitionID, line, len(fields))
		}
		src, err := strconv.ParseInt(fields[0], 10, 32)
		if err != nil {
			return fmt.Errorf("%w: partition %d line %d: %v", ErrMalformedDegrees, partitionID, line, err)
		}
		deg, err := strconv.ParseInt(fields[1], 10, 32)
		if err != nil || deg < 0 {
			return fmt.Errorf("%w: partition %d line %d: bad degree %q", ErrMalformedDegrees, partitionID, line, fields[1])
		}
		slot := int64(src) - int64(minSrc)
		if slot < 0 || slot >= int64(len(degrees)) {
			return &ConsistencyError{PartitionID: partitionID, Source: int32(src), Degree: int32(deg), Err: ErrSourceOutOfRange}
		}
		degrees[slot] = int32(deg)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read degrees of partition %d: %w", partitionID, err)
	}
	return nil
}

// WriteDegrees writes a degree line for every source with a nonzero degree.
func WriteDegrees(w io.Writer, minSrc int32, degrees []int32) error {
	bw := bufio.NewWriter(w)
	for i, d := range degrees {
		if d == 0 {
			continue
		}
		if _, err := fmt.Fprintf(bw, "%d\t%d\n", minSrc+int32(i), d); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// recordReader decodes edge records field by field so a record cut short
// still yields the edges read before the cut.
type recordReader struct {
	r   *bufio.Reader
	buf [4]byte
}

func newRecordReader(r io.Reader) *recordReader {
	return &recordReader{r: bufio.NewReaderSize(r, 1<<20)}
}

// header reads a record's source and edge count. io.EOF means the stream
// ended cleanly between records.
func (rr *recordReader) header() (src, count int32, err error) {
	if src, err = rr.int32(); err != nil {
		return 0, 0, err
	}
	if count, err = rr.int32(); err != nil {
		return 0, 0, eofToUnexpected(err)
	}
	return src, count, nil
}

// edge reads one (dest, value) entry.
func (rr *recordReader) edge() (int32, byte, error) {
	dest, err := rr.int32()
	if err != nil {
		return 0, 0, eofToUnexpected(err)
	}
	value, err := rr.r.ReadByte()
	if err != nil {
		return 0, 0, eofToUnexpected(err)
	}
	return dest, value, nil
}

func (rr *recordReader) int32() (int32, error) {
	if _, err := io.ReadFull(rr.r, rr.buf[:]); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(rr.buf[:])), nil
}

func eofToUnexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// EdgeWriter encodes edge records.
type EdgeWriter struct {
	w   *bufio.Writer
	buf [8]byte
}

// NewEdgeWriter returns a buffered record writer. Call Flush when done.
func NewEdgeWriter(w io.Writer) *EdgeWriter {
	return &EdgeWriter{w: bufio.NewWriterSize(w, 1<<20)}
}

// WriteRecord writes one record for src. dests and values must have the
// same length.
func (ew *EdgeWriter) WriteRecord(src int32, dests []int32, values []byte) error {
	if len(dests) != len(values) {
		return fmt.Errorf("record for %d: %d destinations but %d values", src, len(dests), len(values))
	}
	binary.BigEndian.PutUint32(ew.buf[0:4], uint32(src))
	binary.BigEndian.PutUint32(ew.buf[4:8], uint32(len(dests)))
	if _, err := ew.w.Write(ew.buf[:8]); err != nil {
		return err
	}
	for i, d := range dests {
		binary.BigEndian.PutUint32(ew.buf[0:4], uint32(d))
		ew.buf[4] = values[i]
		if _, err := ew.w.Write(ew.buf[:5]); err != nil {
			return err
		}
	}
	return nil
}

// Flush writes any buffered data to the underlying writer.
func (ew *EdgeWriter) Flush() error {
	return ew.w.Flush()
}

// writeFileAtomic writes a file through a temporary sibling and renames it
// into place.
func writeFileAtomic(path string, fill func(w io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	if err := fill(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
