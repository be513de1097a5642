// pkg/wal/frame.go
package wal

import (
	"encoding/binary"
	"errors"

	"luxwal/internal/hash"
)

const (
	// PageSize is the fixed page image size a frame carries.
	PageSize = 4096

	// FrameHeaderSize is the serialized size of a frame's header
	// portion (everything but the page image).
	FrameHeaderSize = 32

	// FrameSize is the total on-disk size of one frame.
	FrameSize = FrameHeaderSize + PageSize
)

// ErrIncompleteFrame is returned by FrameBuilder.Build when a required
// field was never set.
var ErrIncompleteFrame = errors.New("wal: frame is missing required fields")

// Frame is one append-only WAL record: a page image plus the metadata
// needed to validate and locate it.
type Frame struct {
	PageIndex      uint64 // target page number, >= 1
	Commit         bool   // true iff this frame completes a transaction
	RandomSalt     uint32
	SequentialSalt uint32
	Checksum       uint64 // cumulative checksum, chained from the previous frame
	Page           []byte // exactly PageSize bytes
}

// CalculateChecksum chains the cumulative hash: it seeds a new Hash with
// cumulativeSeed (the previous frame's checksum, or the header's own
// checksum for frame 0) and mixes in this frame's fields in a fixed
// order.
func (fr Frame) CalculateChecksum(cumulativeSeed uint64) uint64 {
	h := hash.NewSeeded(cumulativeSeed)
	h.MixI64(int64(fr.PageIndex))
	h.MixBool(fr.Commit)
	h.MixI32(int32(fr.RandomSalt))
	h.MixI32(int32(fr.SequentialSalt))
	h.MixBytes(fr.Page, 0, PageSize)
	return h.State()
}

// Header returns the 32-byte serialized frame header (everything but
// the page image).
func (fr Frame) Header() []byte {
	buf := make([]byte, FrameHeaderSize)
	binary.BigEndian.PutUint64(buf[0:8], fr.PageIndex)
	if fr.Commit {
		buf[8] = 1
	}
	binary.BigEndian.PutUint32(buf[9:13], fr.RandomSalt)
	binary.BigEndian.PutUint32(buf[13:17], fr.SequentialSalt)
	binary.BigEndian.PutUint64(buf[17:25], fr.Checksum)
	// buf[25:32] is reserved padding, left zero.
	return buf
}

// ParseFrameHeader decodes a 32-byte buffer into the header portion of a
// Frame (Page is left nil; callers fill it from the following
// PageSize bytes).
func ParseFrameHeader(buf []byte) Frame {
	return Frame{
		PageIndex:      binary.BigEndian.Uint64(buf[0:8]),
		Commit:         buf[8] == 1,
		RandomSalt:     binary.BigEndian.Uint32(buf[9:13]),
		SequentialSalt: binary.BigEndian.Uint32(buf[13:17]),
		Checksum:       binary.BigEndian.Uint64(buf[17:25]),
	}
}

// SaltsMatch reports whether fr's salts match the WAL header's current
// salts, the test that distinguishes a live frame from an orphan left
// by a prior checkpoint epoch.
func (fr Frame) SaltsMatch(h Header) bool {
	return fr.RandomSalt == h.RandomSalt && fr.SequentialSalt == h.SequentialSalt
}

// Valid reports whether fr is a valid frame given the WAL header and the
// cumulative checksum seed carried forward from the previous frame (or
// the header's checksum, for frame 0).
func (fr Frame) Valid(h Header, cumulativeSeed uint64) bool {
	return fr.SaltsMatch(h) && fr.Checksum == fr.CalculateChecksum(cumulativeSeed)
}

// FrameBuilder assembles a Frame, validating that every required field
// (PageIndex, RandomSalt, SequentialSalt, Checksum, Page) was supplied
// before Build returns one. Commit defaults to false when unset.
type FrameBuilder struct {
	frame Frame
	set   fieldMask
}

type fieldMask uint8

const (
	fieldPageIndex fieldMask = 1 << iota
	fieldRandomSalt
	fieldSequentialSalt
	fieldChecksum
	fieldPage

	requiredFields = fieldPageIndex | fieldRandomSalt | fieldSequentialSalt | fieldChecksum | fieldPage
)

// NewFrameBuilder returns an empty builder.
func NewFrameBuilder() *FrameBuilder {
	return &FrameBuilder{}
}

func (b *FrameBuilder) PageIndex(v uint64) *FrameBuilder {
	b.frame.PageIndex = v
	b.set |= fieldPageIndex
	return b
}

func (b *FrameBuilder) Commit(v bool) *FrameBuilder {
	b.frame.Commit = v
	return b
}

func (b *FrameBuilder) RandomSalt(v uint32) *FrameBuilder {
	b.frame.RandomSalt = v
	b.set |= fieldRandomSalt
	return b
}

func (b *FrameBuilder) SequentialSalt(v uint32) *FrameBuilder {
	b.frame.SequentialSalt = v
	b.set |= fieldSequentialSalt
	return b
}

func (b *FrameBuilder) Checksum(v uint64) *FrameBuilder {
	b.frame.Checksum = v
	b.set |= fieldChecksum
	return b
}

func (b *FrameBuilder) Page(v []byte) *FrameBuilder {
	b.frame.Page = v
	b.set |= fieldPage
	return b
}

// Build validates that all required fields were set and returns the
// assembled Frame.
func (b *FrameBuilder) Build() (Frame, error) {
	if b.set&requiredFields != requiredFields {
		return Frame{}, ErrIncompleteFrame
	}
	if len(b.frame.Page) != PageSize {
		return Frame{}, ErrIncompleteFrame
	}
	return b.frame, nil
}
