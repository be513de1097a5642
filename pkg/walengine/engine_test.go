// pkg/walengine/engine_test.go
package walengine

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"luxwal/pkg/wal"
	"luxwal/pkg/walerr"
)

func newDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.db")
}

func TestOpenOnEmptyPathStartsEmpty(t *testing.T) {
	dbPath := newDBPath(t)
	e, err := Open(dbPath, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()

	h, err := e.Header()
	if err != nil {
		t.Fatalf("Header: %v", err)
	}
	if h.DBSize != 0 {
		t.Fatalf("expected dbSize 0, got %d", h.DBSize)
	}
	if !h.IsValid() {
		t.Fatal("expected a freshly created WAL header to validate")
	}
}

func TestOpenCloseReopen(t *testing.T) {
	dbPath := newDBPath(t)
	e, err := Open(dbPath, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	e2, err := Open(dbPath, Options{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer e2.Close()

	h, err := e2.Header()
	if err != nil {
		t.Fatalf("Header after reopen: %v", err)
	}
	if h.Magic != wal.Magic {
		t.Fatalf("expected magic %#x after reopen, got %#x", wal.Magic, h.Magic)
	}
}

func TestBeginWriteTransactionWithoutReadFails(t *testing.T) {
	e, err := Open(newDBPath(t), Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()

	if err := e.BeginWriteTransaction(); !errors.Is(err, walerr.ErrOutOfOrderLock) {
		t.Fatalf("expected ErrOutOfOrderLock, got %v", err)
	}
}

func TestSingleCommitRoundTrip(t *testing.T) {
	e, err := Open(newDBPath(t), Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()

	if err := e.BeginReadTransaction(); err != nil {
		t.Fatalf("BeginReadTransaction: %v", err)
	}
	defer e.EndReadTransaction()

	if err := e.BeginWriteTransaction(); err != nil {
		t.Fatalf("BeginWriteTransaction: %v", err)
	}
	defer e.EndWriteTransaction()

	page := make([]byte, wal.PageSize)
	copy(page[0:], []byte{1, 3, 3, 7})
	copy(page[4091:], []byte{1, 3, 3, 7})

	if err := e.WritePage(1, page, true); err != nil {
		t.Fatalf("WritePage: %v", err)
	}

	if got := e.FrameIndexOf(1); got != 0 {
		t.Fatalf("expected FrameIndexOf(1) == 0, got %d", got)
	}

	got, err := e.PageAt(0)
	if err != nil {
		t.Fatalf("PageAt(0): %v", err)
	}
	if !bytes.Equal(got, page) {
		t.Fatal("expected PageAt(0) to return the written page unchanged")
	}

	h, err := e.Header()
	if err != nil {
		t.Fatalf("Header: %v", err)
	}
	if h.DBSize != 1 {
		t.Fatalf("expected dbSize 1, got %d", h.DBSize)
	}
	if !h.IsValid() {
		t.Fatal("expected header to validate after commit")
	}
}

func TestPageAtRejectsNegativeIndex(t *testing.T) {
	e, err := Open(newDBPath(t), Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()

	if _, err := e.PageAt(-1); !errors.Is(err, walerr.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestPageAtPastLastCommitFrameFails(t *testing.T) {
	e, err := Open(newDBPath(t), Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()

	if err := e.BeginReadTransaction(); err != nil {
		t.Fatalf("BeginReadTransaction: %v", err)
	}
	defer e.EndReadTransaction()

	if _, err := e.PageAt(0); !errors.Is(err, walerr.ErrNoSuchPage) {
		t.Fatalf("expected ErrNoSuchPage on an empty WAL, got %v", err)
	}
}

func TestLargeAppendYieldsExactFrameCount(t *testing.T) {
	e, err := Open(newDBPath(t), Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()

	if err := e.BeginReadTransaction(); err != nil {
		t.Fatalf("BeginReadTransaction: %v", err)
	}
	defer e.EndReadTransaction()
	if err := e.BeginWriteTransaction(); err != nil {
		t.Fatalf("BeginWriteTransaction: %v", err)
	}
	defer e.EndWriteTransaction()

	const n = 1024
	page := make([]byte, wal.PageSize)
	copy(page, []byte{1, 3, 3, 7})
	for i := 0; i < n; i++ {
		if err := e.WritePage(uint64(i+1), page, i == n-1); err != nil {
			t.Fatalf("WritePage(%d): %v", i, err)
		}
	}

	h, err := e.Header()
	if err != nil {
		t.Fatalf("Header: %v", err)
	}
	if h.DBSize != n {
		t.Fatalf("expected dbSize %d, got %d", n, h.DBSize)
	}

	for i := int32(0); i < n; i++ {
		got, err := e.PageAt(i)
		if err != nil {
			t.Fatalf("PageAt(%d): %v", i, err)
		}
		if !bytes.Equal(got[:4], []byte{1, 3, 3, 7}) {
			t.Fatalf("expected frame %d to carry the expected prefix", i)
		}
	}
}

func TestOverwrittenPageResolvesToNewestFrame(t *testing.T) {
	e, err := Open(newDBPath(t), Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()

	if err := e.BeginReadTransaction(); err != nil {
		t.Fatalf("BeginReadTransaction: %v", err)
	}
	defer e.EndReadTransaction()
	if err := e.BeginWriteTransaction(); err != nil {
		t.Fatalf("BeginWriteTransaction: %v", err)
	}
	defer e.EndWriteTransaction()

	first := make([]byte, wal.PageSize)
	copy(first, []byte{0xAA})
	if err := e.WritePage(1, first, false); err != nil {
		t.Fatalf("WritePage(1) first: %v", err)
	}
	if got := e.FrameIndexOf(1); got != 0 {
		t.Fatalf("expected FrameIndexOf(1) == 0, got %d", got)
	}

	second := make([]byte, wal.PageSize)
	copy(second, []byte{0xBB})
	if err := e.WritePage(1, second, true); err != nil {
		t.Fatalf("WritePage(1) second: %v", err)
	}

	if got := e.FrameIndexOf(1); got != 1 {
		t.Fatalf("expected FrameIndexOf(1) == 1 after overwrite, got %d", got)
	}

	got, err := e.PageAt(1)
	if err != nil {
		t.Fatalf("PageAt(1): %v", err)
	}
	if !bytes.Equal(got, second) {
		t.Fatal("expected PageAt(1) to return the newest image of the overwritten page")
	}
}

func TestStaleUpgradeDetected(t *testing.T) {
	dbPath := newDBPath(t)
	a, err := Open(dbPath, Options{})
	if err != nil {
		t.Fatalf("Open a: %v", err)
	}
	defer a.Close()

	b, err := Open(dbPath, Options{})
	if err != nil {
		t.Fatalf("Open b: %v", err)
	}
	defer b.Close()

	if err := a.BeginReadTransaction(); err != nil {
		t.Fatalf("a.BeginReadTransaction: %v", err)
	}
	defer a.EndReadTransaction()

	if err := b.BeginReadTransaction(); err != nil {
		t.Fatalf("b.BeginReadTransaction: %v", err)
	}
	if err := b.BeginWriteTransaction(); err != nil {
		t.Fatalf("b.BeginWriteTransaction: %v", err)
	}
	page := make([]byte, wal.PageSize)
	if err := b.WritePage(1, page, true); err != nil {
		t.Fatalf("b.WritePage: %v", err)
	}
	b.EndWriteTransaction()

	if err := a.BeginWriteTransaction(); !errors.Is(err, walerr.ErrStaleWAL) {
		t.Fatalf("expected ErrStaleWAL, got %v", err)
	}
}

func TestCorruptPageDetectedAfterTruncation(t *testing.T) {
	dbPath := newDBPath(t)
	e, err := Open(dbPath, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := e.BeginReadTransaction(); err != nil {
		t.Fatalf("BeginReadTransaction: %v", err)
	}
	if err := e.BeginWriteTransaction(); err != nil {
		t.Fatalf("BeginWriteTransaction: %v", err)
	}
	page := make([]byte, wal.PageSize)
	copy(page, []byte{1, 3, 3, 7})
	if err := e.WritePage(1, page, true); err != nil {
		t.Fatalf("WritePage: %v", err)
	}
	e.EndWriteTransaction()
	e.EndReadTransaction()
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	walPath := dbPath + "-wal"
	truncatedSize := int64(wal.HeaderSize) + int64(wal.FrameHeaderSize) + wal.PageSize/2
	if err := os.Truncate(walPath, truncatedSize); err != nil {
		t.Fatalf("truncate wal: %v", err)
	}

	reopened, err := Open(dbPath, Options{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	if err := reopened.BeginReadTransaction(); err != nil {
		t.Fatalf("BeginReadTransaction after reopen: %v", err)
	}
	defer reopened.EndReadTransaction()

	if _, err := reopened.PageAt(0); !errors.Is(err, walerr.ErrCorruptPage) {
		t.Fatalf("expected ErrCorruptPage, got %v", err)
	}
}

func TestCreateNewRejectsNonEmptyDB(t *testing.T) {
	dbPath := newDBPath(t)
	if err := os.WriteFile(dbPath, []byte{1, 2, 3, 4}, 0644); err != nil {
		t.Fatalf("seed db file: %v", err)
	}

	if _, err := Open(dbPath, Options{}); !errors.Is(err, walerr.ErrNotImplemented) {
		t.Fatalf("expected ErrNotImplemented for a non-empty db, got %v", err)
	}
}
