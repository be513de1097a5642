// pkg/walidx/header.go
//
// Package walidx composes the off-heap frame->page table (pkg/waltable)
// with the duplicated shared-memory index header into the WAL index:
// the structure every cooperating process maps to coordinate readers,
// writers and staleness detection.
package walidx

import (
	"encoding/binary"

	"luxwal/pkg/wal"
)

const (
	// headerCopySize is the serialized size of one index-header copy.
	headerCopySize = 32

	// headerRegionSize is the space reserved for both header copies.
	headerRegionSize = 2 * headerCopySize

	// lockByteArraySize reserves one byte per lock slot (two used, six
	// reserved) ahead of the off-heap table.
	lockByteArraySize = 8

	// tableBase is where the frame->page table begins within the shared
	// buffer, directly after the header copies and the lock bytes.
	tableBase = headerRegionSize + lockByteArraySize
)

// Header is the in-memory mirror of one copy of the duplicated
// shared-memory index header, plus the cursor that advances as frames
// are appended.
type Header struct {
	LastCommitFrame int32 // index of the newest committed frame, or -1
	Cursor          int32 // index of the next frame slot to append
	RandomSalt      int32
	SequentialSalt  int32
	DBSize          int64
	CumulativeChecksum uint64
}

// IsEmpty reports whether this header describes a WAL with no committed
// frames yet.
func (h Header) IsEmpty() bool {
	return h.LastCommitFrame == -1
}

// NotifyAppended advances the header to reflect one more frame having
// been written: the cursor and dbSize increase, the cumulative checksum
// becomes the frame's own, and lastCommitFrame moves forward if the
// frame completes a transaction.
func (h Header) NotifyAppended(fr wal.Frame, frameIndex int32) Header {
	h.Cursor = frameIndex + 1
	h.CumulativeChecksum = fr.Checksum
	h.DBSize++
	if fr.Commit {
		h.LastCommitFrame = frameIndex
	}
	return h
}

// Serialize encodes h as the fixed 32-byte on-disk record.
func (h Header) Serialize() []byte {
	buf := make([]byte, headerCopySize)
	binary.BigEndian.PutUint32(buf[0:4], uint32(h.LastCommitFrame))
	binary.BigEndian.PutUint32(buf[4:8], uint32(h.Cursor))
	binary.BigEndian.PutUint32(buf[8:12], uint32(h.RandomSalt))
	binary.BigEndian.PutUint32(buf[12:16], uint32(h.SequentialSalt))
	binary.BigEndian.PutUint64(buf[16:24], uint64(h.DBSize))
	binary.BigEndian.PutUint64(buf[24:32], h.CumulativeChecksum)
	return buf
}

// ParseHeader decodes one 32-byte index-header copy.
func ParseHeader(buf []byte) Header {
	return Header{
		LastCommitFrame:    int32(binary.BigEndian.Uint32(buf[0:4])),
		Cursor:             int32(binary.BigEndian.Uint32(buf[4:8])),
		RandomSalt:         int32(binary.BigEndian.Uint32(buf[8:12])),
		SequentialSalt:     int32(binary.BigEndian.Uint32(buf[12:16])),
		DBSize:             int64(binary.BigEndian.Uint64(buf[16:24])),
		CumulativeChecksum: binary.BigEndian.Uint64(buf[24:32]),
	}
}
