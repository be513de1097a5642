// pkg/wal/iterator.go
package wal

import (
	"fmt"

	"luxwal/pkg/walerr"
)

// FileReader is the random-read contract the iterator needs from the
// underlying WAL file handle.
type FileReader interface {
	Read(dst []byte, off int64) (int, error)
	Size() (int64, error)
}

// Iterator performs an ordered, sized, sub-sized traversal of the frames
// in a WAL file: ordered because frames are visited in file order, sized
// because Size reports the exact count up front, and sub-sized because
// that count may be smaller than the number of frames physically present
// (a trailing partial frame is never yielded, and neither are frames
// beyond lastCommitFrame when one is given; with no commit frame known,
// every whole frame in the file is yielded, committed or not).
type Iterator struct {
	f     FileReader
	count int
	index int
}

// NewIterator builds an Iterator over f. If lastCommitFrame is >= 0, the
// iterator yields exactly lastCommitFrame+1 frames (the count recorded
// by the index header). Otherwise the count is derived from the file's
// size, ignoring any trailing partial frame: a partial frame is evidence
// of an in-flight writer, not something the iterator reports.
//
// NewIterator fails with walerr.ErrCorruptWAL if f is smaller than the
// WAL header.
func NewIterator(f FileReader, lastCommitFrame int32) (*Iterator, error) {
	size, err := f.Size()
	if err != nil {
		return nil, fmt.Errorf("wal: iterator stat: %w", err)
	}
	if size < HeaderSize {
		return nil, walerr.ErrCorruptWAL
	}

	count := 0
	if lastCommitFrame >= 0 {
		count = int(lastCommitFrame) + 1
	} else {
		content := size - HeaderSize
		if content > 0 {
			count = int(content / FrameSize)
		}
	}

	return &Iterator{f: f, count: count}, nil
}

// Size returns the total number of frames this iterator will yield.
func (it *Iterator) Size() int {
	return it.count
}

// HasNext reports whether a call to Next will succeed.
func (it *Iterator) HasNext() bool {
	return it.index < it.count
}

// Next reads, parses and returns the next frame in file order.
func (it *Iterator) Next() (Frame, error) {
	if !it.HasNext() {
		return Frame{}, fmt.Errorf("wal: iterator exhausted")
	}

	offset := int64(HeaderSize) + int64(it.index)*int64(FrameSize)

	buf := make([]byte, FrameSize)
	n, err := it.f.Read(buf, offset)
	if err != nil {
		return Frame{}, fmt.Errorf("wal: iterator read frame %d: %w", it.index, err)
	}
	if n < FrameSize {
		return Frame{}, fmt.Errorf("%w: short frame read at index %d", walerr.ErrCorruptPage, it.index)
	}

	fr := ParseFrameHeader(buf[:FrameHeaderSize])
	fr.Page = make([]byte, PageSize)
	copy(fr.Page, buf[FrameHeaderSize:FrameSize])

	it.index++
	return fr, nil
}
