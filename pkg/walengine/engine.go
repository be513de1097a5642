// pkg/walengine/engine.go
//
// Package walengine ties the WAL file format (pkg/wal), the shared-memory
// index (pkg/walidx) and the file façade (internal/iofile) together into
// the public transaction API: open, the read/write transaction state
// machine, write_page, and close.
package walengine

import (
	"errors"
	"fmt"
	"log"
	"math/rand"
	"os"
	"sync"

	"golang.org/x/sync/singleflight"

	"luxwal/internal/iofile"
	"luxwal/pkg/wal"
	"luxwal/pkg/walerr"
	"luxwal/pkg/walidx"
)

// Options configures Open: a plain struct with zero-value defaults, no
// flag/env/file loader.
type Options struct {
	// ReadOnly, when set, skips WAL/shm creation: Open fails if the WAL
	// does not already exist. An existing WAL is still opened read-write,
	// and a missing shm file beside it is created.
	ReadOnly bool
}

// Engine is one process's handle on a database's WAL pair. Not safe for
// concurrent use by multiple goroutines without external synchronization
// beyond what BeginRead/WriteTransaction already provide: the same
// discipline the index itself documents.
type Engine struct {
	dbPath, walPath, shmPath string

	walFile *iofile.File
	shmFile *iofile.File
	index   *walidx.Index

	closed bool
}

// initInFlight gates concurrent creators of the same WAL path: the first
// caller to LoadOrStore wins and proceeds to create the files via
// initGroup.Do; every other concurrent caller observes loaded==true from
// LoadOrStore and fails fast with ErrInitLockBusy without ever calling
// Do. This is deliberately layered on top of singleflight rather than
// relying on its own Do return value: Do's `shared` result is true for
// every caller merged into a run, including the original leader, so it
// cannot by itself distinguish "I am the leader" from "I joined
// someone else's call", which one-shot, fail-fast-for-followers
// creation semantics require.
var initInFlight sync.Map // path -> struct{}
var initGroup singleflight.Group

// Open resolves <db>-wal and <db>-shm next to dbPath. If the WAL exists,
// the engine attaches to it (replaying from the WAL if the index is
// empty). Otherwise it creates a brand new pair, refusing to do so if
// <db> is non-empty (recovery is out of scope).
func Open(dbPath string, opts Options) (*Engine, error) {
	walPath := dbPath + "-wal"
	shmPath := dbPath + "-shm"

	_, err := os.Stat(walPath)
	switch {
	case err == nil:
		return openExisting(dbPath, walPath, shmPath)
	case errors.Is(err, os.ErrNotExist):
		if opts.ReadOnly {
			return nil, fmt.Errorf("%w: read-only open of nonexistent WAL", walerr.ErrInvalidArgument)
		}
		return createNew(dbPath, walPath, shmPath)
	default:
		return nil, fmt.Errorf("walengine: stat %s: %w", walPath, err)
	}
}

func openExisting(dbPath, walPath, shmPath string) (*Engine, error) {
	walFile, err := iofile.Open(walPath, iofile.Options{})
	if err != nil {
		return nil, fmt.Errorf("walengine: open wal: %w", err)
	}
	shmFile, err := iofile.Open(shmPath, iofile.Options{Create: true})
	if err != nil {
		walFile.Close()
		return nil, fmt.Errorf("walengine: open shm: %w", err)
	}

	idx, err := walidx.BuildFromExisting(walFile, shmFile)
	if err != nil {
		walFile.Close()
		shmFile.Close()
		return nil, err
	}

	return &Engine{dbPath: dbPath, walPath: walPath, shmPath: shmPath, walFile: walFile, shmFile: shmFile, index: idx}, nil
}

func createNew(dbPath, walPath, shmPath string) (*Engine, error) {
	if _, loaded := initInFlight.LoadOrStore(walPath, struct{}{}); loaded {
		return nil, walerr.ErrInitLockBusy
	}
	defer initInFlight.Delete(walPath)

	v, err, _ := initGroup.Do(walPath, func() (any, error) {
		return doCreateNew(dbPath, walPath, shmPath)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Engine), nil
}

func doCreateNew(dbPath, walPath, shmPath string) (*Engine, error) {
	empty, err := dbIsEmpty(dbPath)
	if err != nil {
		return nil, fmt.Errorf("walengine: stat %s: %w", dbPath, err)
	}
	if !empty {
		return nil, walerr.ErrNotImplemented
	}

	walFile, err := iofile.Open(walPath, iofile.Options{Create: true, Exclusive: true})
	if err != nil {
		return nil, fmt.Errorf("walengine: create wal: %w", err)
	}
	shmFile, err := iofile.Open(shmPath, iofile.Options{Create: true, Exclusive: true})
	if err != nil {
		walFile.Close()
		os.Remove(walPath)
		return nil, fmt.Errorf("walengine: create shm: %w", err)
	}

	randomSalt, sequentialSalt := rand.Uint32(), rand.Uint32()
	header := wal.NewHeader(0, randomSalt, sequentialSalt)
	if _, err := walFile.Write(header.Serialize(), 0); err != nil {
		walFile.Close()
		shmFile.Close()
		return nil, fmt.Errorf("walengine: write wal header: %w", err)
	}

	idx, err := walidx.BuildInitial(0, int32(randomSalt), int32(sequentialSalt), header.Checksum, shmFile)
	if err != nil {
		walFile.Close()
		shmFile.Close()
		return nil, err
	}

	// Guard the freshly created index file with both byte-range locks
	// once, acting as the sole creator: this establishes the lock file's
	// slots are writable and contended-free before any reader attaches.
	if err := idx.Lock(walidx.Shared); err != nil {
		walFile.Close()
		shmFile.Close()
		return nil, err
	}
	if err := idx.Lock(walidx.Exclusive); err != nil {
		idx.Unlock()
		walFile.Close()
		shmFile.Close()
		return nil, err
	}
	idx.Unlock()

	return &Engine{dbPath: dbPath, walPath: walPath, shmPath: shmPath, walFile: walFile, shmFile: shmFile, index: idx}, nil
}

func dbIsEmpty(dbPath string) (bool, error) {
	info, err := os.Stat(dbPath)
	if errors.Is(err, os.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return info.Size() == 0, nil
}

// Header always re-reads the WAL header from disk and validates it.
func (e *Engine) Header() (wal.Header, error) {
	return wal.ReadHeaderFromFile(e.walFile, 0)
}

// FrameIndexOf delegates to the index's frame->page lookup.
func (e *Engine) FrameIndexOf(pageIndex int64) int32 {
	return e.index.FindFrameIndexOf(pageIndex)
}

// PageAt returns the committed page image at frameIndex. Requires at
// least SHARED to be held; if it is not, a warning is logged (per the
// spec's engine-side logging contract) and the read proceeds anyway,
// since this check exists to catch programmer error, not to prevent a
// racing reader at the OS level.
func (e *Engine) PageAt(frameIndex int32) ([]byte, error) {
	if frameIndex < 0 {
		return nil, walerr.ErrInvalidArgument
	}
	if e.index.State()&walidx.Shared == 0 {
		log.Printf("walengine: PageAt(%d) called without SHARED held", frameIndex)
	}
	if frameIndex > e.index.Header().LastCommitFrame {
		return nil, walerr.ErrNoSuchPage
	}

	off := int64(wal.HeaderSize) + int64(frameIndex)*int64(wal.FrameSize) + int64(wal.FrameHeaderSize)
	page := make([]byte, wal.PageSize)
	n, err := e.walFile.Read(page, off)
	if err != nil && errors.Is(err, iofile.ErrClosedByInterrupt) {
		return nil, walerr.ErrClosedByInterrupt
	}
	if n < wal.PageSize {
		return nil, walerr.ErrCorruptPage
	}
	return page, nil
}

// BeginReadTransaction reloads the index if it is stale, then acquires
// SHARED.
func (e *Engine) BeginReadTransaction() error {
	stale, err := e.index.IsStale()
	if err != nil {
		return err
	}
	if stale {
		if err := e.index.Reload(); err != nil {
			return err
		}
	}
	return e.index.Lock(walidx.Shared)
}

// EndReadTransaction releases every lock held.
func (e *Engine) EndReadTransaction() {
	e.index.Unlock()
}

// BeginWriteTransaction acquires EXCLUSIVE, requiring SHARED already
// held. If the index turns out to be stale at the moment of acquisition,
// all locks are released and ErrStaleWAL is returned so the caller
// restarts from a new read transaction.
func (e *Engine) BeginWriteTransaction() error {
	if err := e.index.Lock(walidx.Exclusive); err != nil {
		return err
	}
	stale, err := e.index.IsStale()
	if err != nil {
		e.index.Unlock()
		return err
	}
	if stale {
		e.index.Unlock()
		return walerr.ErrStaleWAL
	}
	return nil
}

// EndWriteTransaction releases every lock held.
func (e *Engine) EndWriteTransaction() {
	e.index.Unlock()
}

// WritePage appends page as a new frame targeting pageIndex at the
// index's current cursor position, chaining its checksum from the
// index's cumulative checksum. Writing the same pageIndex again in a
// later frame is how a page gets overwritten: FindFrameIndexOf(pageIndex)
// always resolves to the most recently appended frame carrying it. If
// commit is true, the WAL header is advanced and both the index and the
// WAL file are synced, in that order, completing the commit sequence the
// concurrency model requires.
func (e *Engine) WritePage(pageIndex uint64, page []byte, commit bool) error {
	if e.index.State()&walidx.Exclusive == 0 {
		return walerr.ErrOutOfOrderLock
	}
	if pageIndex < 1 {
		return fmt.Errorf("%w: pageIndex must be >= 1, got %d", walerr.ErrInvalidArgument, pageIndex)
	}
	if len(page) != wal.PageSize {
		return fmt.Errorf("%w: page must be %d bytes, got %d", walerr.ErrInvalidArgument, wal.PageSize, len(page))
	}

	h := e.index.Header()
	frameIndex := h.Cursor

	fr, err := wal.NewFrameBuilder().
		PageIndex(pageIndex).
		Commit(commit).
		RandomSalt(uint32(h.RandomSalt)).
		SequentialSalt(uint32(h.SequentialSalt)).
		Checksum(0).
		Page(page).
		Build()
	if err != nil {
		return fmt.Errorf("%w: %v", walerr.ErrWriteFatal, err)
	}
	fr.Checksum = fr.CalculateChecksum(h.CumulativeChecksum)

	off := int64(wal.HeaderSize) + int64(frameIndex)*int64(wal.FrameSize)
	if _, err := e.walFile.Write(fr.Header(), off); err != nil {
		return classifyIOError(err)
	}
	if _, err := e.walFile.Write(fr.Page, off+int64(wal.FrameHeaderSize)); err != nil {
		return classifyIOError(err)
	}

	if err := e.index.NotifyAppended(fr, frameIndex); err != nil {
		return fmt.Errorf("%w: %v", walerr.ErrWriteFatal, err)
	}

	if !commit {
		return nil
	}

	// Commit sequence: both mapped header copies, then the on-disk WAL
	// header, then sync the index, then sync the WAL file.
	e.index.Publish()

	walHeader, err := wal.ReadHeaderFromFile(e.walFile, 0)
	if err != nil {
		return fmt.Errorf("%w: %v", walerr.ErrWriteFatal, err)
	}
	walHeader.DBSize = uint64(e.index.Header().DBSize)
	walHeader.Checksum = walHeader.CalculateChecksum()
	if _, err := e.walFile.Write(walHeader.Serialize(), 0); err != nil {
		return classifyIOError(err)
	}

	if err := e.index.DurableSync(); err != nil {
		return fmt.Errorf("%w: %v", walerr.ErrWriteFatal, err)
	}
	if err := e.walFile.Sync(); err != nil {
		return fmt.Errorf("%w: %v", walerr.ErrWriteFatal, err)
	}
	return nil
}

// Close releases the index's mapped segment and closes both files.
// Further operations on a closed Engine are not valid.
func (e *Engine) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true

	idxErr := e.index.Close()
	walErr := e.walFile.Close()
	shmErr := e.shmFile.Close()

	if idxErr != nil {
		return idxErr
	}
	if walErr != nil {
		return walErr
	}
	return shmErr
}

// classifyIOError distinguishes interruption (fatal, caller must Reopen)
// from other I/O failures (transient, caller may retry), per the error
// taxonomy callers drive their retry loop from.
func classifyIOError(err error) error {
	if errors.Is(err, iofile.ErrClosedByInterrupt) {
		return walerr.ErrClosedByInterrupt
	}
	return fmt.Errorf("%w: %v", walerr.ErrWriteTransient, err)
}
