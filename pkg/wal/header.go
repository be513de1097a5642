// pkg/wal/header.go
//
// Package wal implements the on-disk WAL file format: a fixed-size
// header record at offset 0 followed by zero or more fixed-size frames
// (see frame.go), and the sequential iterator over them (see
// iterator.go).
package wal

import (
	"encoding/binary"
	"fmt"

	"luxwal/internal/hash"
	"luxwal/pkg/walerr"
)

const (
	// Magic identifies the WAL file format ("LUX1").
	Magic uint32 = 0x4C555831

	// HeaderSize is the serialized size of a Header record.
	HeaderSize = 32

	// checksummedSize is the number of leading bytes of a serialized
	// header the checksum covers (everything but the checksum field
	// itself).
	checksummedSize = 24
)

// Header is the fixed 32-byte record at offset 0 of a WAL file.
type Header struct {
	Magic              uint32
	DBSize             uint64 // database size in pages at last commit; 0 if unknown
	CheckpointSequence uint32
	RandomSalt         uint32
	SequentialSalt     uint32
	Checksum           uint64
}

// NewHeader builds a Header for a brand new WAL file, with the given
// salts and dbSize, computing its checksum.
func NewHeader(dbSize uint64, randomSalt, sequentialSalt uint32) Header {
	h := Header{
		Magic:              Magic,
		DBSize:             dbSize,
		CheckpointSequence: 0,
		RandomSalt:         randomSalt,
		SequentialSalt:     sequentialSalt,
	}
	h.Checksum = h.CalculateChecksum()
	return h
}

// CalculateChecksum recomputes the hash of the header's first 24 bytes.
func (h Header) CalculateChecksum() uint64 {
	buf := make([]byte, checksummedSize)
	putHeaderPrefix(buf, h)
	return hash.New().MixBytes(buf, 0, checksummedSize).State()
}

// Serialize encodes h as the 32-byte on-disk record.
func (h Header) Serialize() []byte {
	buf := make([]byte, HeaderSize)
	putHeaderPrefix(buf, h)
	binary.BigEndian.PutUint64(buf[24:32], h.Checksum)
	return buf
}

// IsValid reports whether the magic number and checksum are consistent.
func (h Header) IsValid() bool {
	return h.Magic == Magic && h.Checksum == h.CalculateChecksum()
}

func putHeaderPrefix(buf []byte, h Header) {
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint64(buf[4:12], h.DBSize)
	binary.BigEndian.PutUint32(buf[12:16], h.CheckpointSequence)
	binary.BigEndian.PutUint32(buf[16:20], h.RandomSalt)
	binary.BigEndian.PutUint32(buf[20:24], h.SequentialSalt)
}

// ParseHeader decodes a 32-byte buffer into a Header, without validating
// it. Callers that need validation should call IsValid or use
// ReadHeaderFromFile.
func ParseHeader(buf []byte) Header {
	return Header{
		Magic:              binary.BigEndian.Uint32(buf[0:4]),
		DBSize:             binary.BigEndian.Uint64(buf[4:12]),
		CheckpointSequence: binary.BigEndian.Uint32(buf[12:16]),
		RandomSalt:         binary.BigEndian.Uint32(buf[16:20]),
		SequentialSalt:     binary.BigEndian.Uint32(buf[20:24]),
		Checksum:           binary.BigEndian.Uint64(buf[24:32]),
	}
}

// fileReader is the minimal random-read contract header/iterator need,
// satisfied by *internal/iofile.File.
type fileReader interface {
	Read(dst []byte, off int64) (int, error)
}

// ReadHeaderFromFile reads and validates the WAL header at the given
// offset (always 0 in practice; the parameter exists because the
// iterator computes frame offsets the same way). It fails with
// walerr.ErrCorruptWAL if fewer than HeaderSize bytes are available or
// the checksum does not validate.
func ReadHeaderFromFile(f fileReader, offset int64) (Header, error) {
	buf := make([]byte, HeaderSize)
	n, err := f.Read(buf, offset)
	if err != nil && n < HeaderSize {
		return Header{}, fmt.Errorf("%w: %v", walerr.ErrCorruptWAL, err)
	}
	if n < HeaderSize {
		return Header{}, walerr.ErrCorruptWAL
	}

	h := ParseHeader(buf)
	if !h.IsValid() {
		return Header{}, walerr.ErrCorruptWAL
	}
	return h, nil
}
