// pkg/wal/frame_test.go
package wal

import (
	"errors"
	"testing"
)

func pageWithPrefix(prefix ...byte) []byte {
	p := make([]byte, PageSize)
	copy(p, prefix)
	return p
}

func TestFrameBuilderRequiresAllFields(t *testing.T) {
	_, err := NewFrameBuilder().PageIndex(1).Build()
	if !errors.Is(err, ErrIncompleteFrame) {
		t.Fatalf("expected ErrIncompleteFrame, got %v", err)
	}
}

func TestFrameBuilderCommitDefaultsFalse(t *testing.T) {
	fr, err := NewFrameBuilder().
		PageIndex(1).
		RandomSalt(1).
		SequentialSalt(1).
		Checksum(0).
		Page(pageWithPrefix(1, 3, 3, 7)).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if fr.Commit {
		t.Fatal("expected Commit to default to false")
	}
}

func TestFrameHeaderRoundTrip(t *testing.T) {
	fr := Frame{
		PageIndex:      9,
		Commit:         true,
		RandomSalt:     0x01020304,
		SequentialSalt: 0x05060708,
		Checksum:       0x1122334455667788,
	}
	header := fr.Header()
	if len(header) != FrameHeaderSize {
		t.Fatalf("expected %d byte header, got %d", FrameHeaderSize, len(header))
	}

	got := ParseFrameHeader(header)
	if got.PageIndex != fr.PageIndex || got.Commit != fr.Commit ||
		got.RandomSalt != fr.RandomSalt || got.SequentialSalt != fr.SequentialSalt ||
		got.Checksum != fr.Checksum {
		t.Fatalf("expected round-tripped frame header to equal original: %+v != %+v", got, fr)
	}
}

func TestCalculateChecksumDeterministic(t *testing.T) {
	fr := Frame{
		PageIndex:      1,
		RandomSalt:     1,
		SequentialSalt: 1,
		Page:           pageWithPrefix(1, 3, 3, 7),
	}
	a := fr.CalculateChecksum(0)
	b := fr.CalculateChecksum(0)
	if a != b {
		t.Fatalf("expected deterministic checksum, got %d != %d", a, b)
	}
}

func TestValidDetectsSaltMismatch(t *testing.T) {
	h := NewHeader(0, 1, 1)
	fr := Frame{PageIndex: 1, RandomSalt: 2, SequentialSalt: 1, Page: pageWithPrefix()}
	fr.Checksum = fr.CalculateChecksum(h.Checksum)
	if fr.Valid(h, h.Checksum) {
		t.Fatal("expected a frame with mismatched salts to be invalid")
	}
}

func TestValidDetectsChecksumTamper(t *testing.T) {
	h := NewHeader(0, 1, 1)
	fr := Frame{PageIndex: 1, RandomSalt: 1, SequentialSalt: 1, Page: pageWithPrefix()}
	fr.Checksum = fr.CalculateChecksum(h.Checksum)
	fr.Page[0] ^= 0xFF // tamper with the page after computing the checksum
	if fr.Valid(h, h.Checksum) {
		t.Fatal("expected a tampered frame to be invalid")
	}
}

func TestChecksumChainsAcrossFrames(t *testing.T) {
	h := NewHeader(0, 1, 1)
	f0 := Frame{PageIndex: 1, RandomSalt: 1, SequentialSalt: 1, Page: pageWithPrefix(1, 3, 3, 7)}
	f0.Checksum = f0.CalculateChecksum(h.Checksum)

	f1 := Frame{PageIndex: 2, RandomSalt: 1, SequentialSalt: 1, Page: pageWithPrefix(1, 3, 3, 7)}
	f1.Checksum = f1.CalculateChecksum(f0.Checksum)

	if !f0.Valid(h, h.Checksum) {
		t.Fatal("expected f0 to validate against the header's checksum")
	}
	if !f1.Valid(h, f0.Checksum) {
		t.Fatal("expected f1 to validate against f0's checksum")
	}
	if f1.Valid(h, h.Checksum) {
		t.Fatal("expected f1 to be invalid if seeded with the wrong cumulative checksum")
	}
}
