// pkg/walerr/errors.go
//
// Package walerr collects the error taxonomy every public WAL operation
// surfaces, grouped by recovery policy rather than by which package
// raises them: several packages (pkg/wal, pkg/walidx, pkg/walengine)
// need to raise or recognize the same kind, and callers driving a retry
// loop (walengine.WritePage in particular) need to tell transient
// conditions from fatal ones without inspecting an underlying cause.
package walerr

import "errors"

var (
	// ErrCorruptWAL: checksum mismatch, a partial header, or a builder
	// validating a bad magic number. Fatal for the current session.
	ErrCorruptWAL = errors.New("wal: corrupt WAL")

	// ErrCorruptPage: a WAL frame's page payload could not be fully
	// read. Fatal.
	ErrCorruptPage = errors.New("wal: corrupt page")

	// ErrNoSuchPage: a page was requested at a frame index past
	// lastCommitFrame. Expected, surfaced to the caller.
	ErrNoSuchPage = errors.New("wal: no such page")

	// ErrStaleWAL: the index snapshot changed between acquiring SHARED
	// and attempting EXCLUSIVE. Recoverable: release locks and retry
	// from BeginReadTransaction.
	ErrStaleWAL = errors.New("wal: stale index, retry from a new read transaction")

	// ErrOutOfOrderLock: EXCLUSIVE was requested without SHARED already
	// held. Programmer error, fatal for this session.
	ErrOutOfOrderLock = errors.New("wal: exclusive lock requested without shared lock held")

	// ErrLockFailed: file lock acquisition failed for a reason other
	// than interruption. Propagate; caller may retry.
	ErrLockFailed = errors.New("wal: file lock acquisition failed")

	// ErrClosedByInterrupt: a blocking I/O call was interrupted and the
	// underlying file was closed as a result. Fatal for this handle;
	// the caller must reopen.
	ErrClosedByInterrupt = errors.New("wal: closed by interrupt, reopen required")

	// ErrClosedAsync: another thread closed the underlying file out
	// from under this one. Transient; caller may retry with a fresh
	// handle.
	ErrClosedAsync = errors.New("wal: closed by another thread")

	// ErrWriteTransient: a non-deterministic I/O error occurred during
	// an append. Transient; caller should retry.
	ErrWriteTransient = errors.New("wal: transient write error")

	// ErrWriteFatal: a non-writable channel, a corrupt WAL detected
	// mid-write, or a closed channel. Fatal; caller must not retry.
	ErrWriteFatal = errors.New("wal: fatal write error")

	// ErrConcurrentModification: both index-header copies differ
	// without the current thread holding EXCLUSIVE. Recoverable: retry
	// the snapshot load.
	ErrConcurrentModification = errors.New("wal: concurrent modification detected")

	// ErrRecursiveGrow: the off-heap table's grow operation re-entered
	// itself. Fatal; the caller's pre-grow capacity/size is restored.
	ErrRecursiveGrow = errors.New("wal: recursive grow detected")

	// ErrInitLockBusy: WAL creation was attempted while another thread
	// is already creating it. Transient; caller retries.
	ErrInitLockBusy = errors.New("wal: initialization already in progress")

	// ErrNotImplemented: open() was asked to recover a non-empty
	// database. Checkpoint/recovery are out of scope; the engine
	// refuses rather than silently ignoring it.
	ErrNotImplemented = errors.New("wal: recovery of an existing database is not implemented")

	// ErrInvalidArgument: a caller-supplied argument violates a
	// documented precondition (e.g. a negative frame index).
	ErrInvalidArgument = errors.New("wal: invalid argument")
)
