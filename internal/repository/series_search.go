package repository

import (
	"bytes"
	"errors"
	"io"
	"strconv"

	"BarHarvest/internal/domain/models"
)

const scanChunk = 256

var errNoLine = errors.New("no complete row at offset")

// lineStartBefore returns the offset just after the last '\n' at or before pos, or -1 when
// the scan reaches the beginning of the file without finding one.
func lineStartBefore(r io.ReaderAt, pos int64) (int64, error) {
	buf := make([]byte, scanChunk)
	for pos >= 0 {
		from := max(pos-scanChunk+1, 0)
		chunk := buf[:pos-from+1]
		if _, err := r.ReadAt(chunk, from); err != nil && !errors.Is(err, io.EOF) {
			return -1, err
		}
		if i := bytes.LastIndexByte(chunk, '\n'); i >= 0 {
			return from + int64(i) + 1, nil
		}
		pos = from - 1
	}
	return -1, nil
}

// readLine returns the bytes from start up to, not including, the next '\n' or end.
func readLine(r io.ReaderAt, start, end int64) ([]byte, error) {
	var line []byte
	buf := make([]byte, scanChunk)
	for off := start; off < end; {
		n := min(int64(len(buf)), end-off)
		chunk := buf[:n]
		if _, err := r.ReadAt(chunk, off); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		if i := bytes.IndexByte(chunk, '\n'); i >= 0 {
			return append(line, chunk[:i]...), nil
		}
		line = append(line, chunk...)
		off += n
	}
	return line, nil
}

func parseTimestamp(line []byte) (float64, error) {
	field, _, ok := bytes.Cut(line, []byte{','})
	if !ok {
		return 0, errNoLine
	}
	return strconv.ParseFloat(string(bytes.TrimSpace(field)), 64)
}

// lineTimestamp returns the timestamp of the row containing byte offset off. A '\n' belongs
// to the row it terminates. The header, which has no preceding newline, and offsets at or
// past the end never yield a timestamp.
func lineTimestamp(r io.ReaderAt, size, off int64) (float64, error) {
	if off < 0 || off >= size {
		return 0, errNoLine
	}
	var b [1]byte
	if _, err := r.ReadAt(b[:], off); err != nil {
		return 0, err
	}
	pos := off
	if b[0] == '\n' {
		pos--
	}
	start, err := lineStartBefore(r, pos)
	if err != nil {
		return 0, err
	}
	if start < 0 {
		return 0, errNoLine
	}
	line, err := readLine(r, start, size)
	if err != nil {
		return 0, err
	}
	return parseTimestamp(line)
}

// lastLineTimestamp returns the timestamp of the final row, if that row starts at or after
// dataStart.
func lastLineTimestamp(r io.ReaderAt, dataStart, size int64) (float64, bool) {
	if size-2 < dataStart-1 {
		return 0, false
	}
	start, err := lineStartBefore(r, size-2)
	if err != nil || start < dataStart {
		return 0, false
	}
	line, err := readLine(r, start, size)
	if err != nil {
		return 0, false
	}
	ts, err := parseTimestamp(line)
	if err != nil {
		return 0, false
	}
	return ts, true
}

// searchLineStart binary searches byte offsets in [left, right) for the start of the first
// row whose timestamp is >= target. It returns right when no row qualifies. When a midpoint
// row cannot be parsed, onFail is called and the current upper bound is returned.
func searchLineStart(r io.ReaderAt, size, left, right int64, target float64, onFail func(error)) int64 {
	lo, hi := left, right
	for lo < hi {
		m := lo + (hi-lo)/2
		ts, err := lineTimestamp(r, size, m)
		if err != nil {
			if onFail != nil {
				onFail(err)
			}
			return hi
		}
		if ts < target {
			lo = m + 1
		} else {
			hi = m
		}
	}
	return lo
}

// searchBarIndex returns the index of the last bar whose timestamp is <= target.
// target must not be before the first bar.
func searchBarIndex(bars []models.Bar, target float64) int {
	lo, hi := 0, len(bars)
	for lo < hi {
		m := lo + (hi-lo)/2
		if bars[m].Timestamp <= target {
			lo = m + 1
		} else {
			hi = m
		}
	}
	return lo - 1
}
