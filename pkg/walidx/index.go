// pkg/walidx/index.go
package walidx

import (
	"fmt"

	"luxwal/internal/iofile"
	"luxwal/pkg/wal"
	"luxwal/pkg/waltable"
	"luxwal/pkg/walerr"
)

// Lock state bitmask. NONE is the Go zero value, so "no locks held" is
// the natural zero-value LockState rather than a bit that must be
// explicitly cleared. SHARED and EXCLUSIVE are disjoint bits (0x02 and
// 0x04); they are independent of the byte-range lock slot offsets
// below (0 and 2).
type LockState uint8

const (
	None      LockState = 0
	Shared    LockState = 0x02
	Exclusive LockState = 0x04
)

const (
	sharedSlotOffset    = 0
	exclusiveSlotOffset = 2
	slotLength          = 1
)

// Index is the shared-memory WAL index: the duplicated header plus the
// off-heap frame->page table, mapped over one growable buffer, guarded
// by a three-plane lock protocol (in-process shared, in-process
// exclusive, cross-process byte-range).
type Index struct {
	shmFile *iofile.File
	resizer *waltable.FileResizer
	table   *waltable.Table

	header     Header // this instance's working copy
	generation uint64 // bumped on every successful Reload

	state         LockState
	sharedLock    *iofile.Lock
	exclusiveLock *iofile.Lock
}

// BuildInitial creates a brand new index for a freshly created WAL: both
// header copies start with lastCommitFrame = -1, cursor = 0, the given
// salts, and the supplied dbSize. cumulativeSeed is the WAL file
// header's own checksum, the empty-state seed frame 0's cumulative
// hash chains from.
func BuildInitial(dbSize int64, randomSalt, sequentialSalt int32, cumulativeSeed uint64, shmFile *iofile.File) (*Index, error) {
	if dbSize < 0 {
		return nil, fmt.Errorf("%w: negative dbSize %d", walerr.ErrInvalidArgument, dbSize)
	}
	if shmFile == nil {
		return nil, fmt.Errorf("%w: nil shm file", walerr.ErrInvalidArgument)
	}

	resizer := waltable.NewFileResizer(shmFile)
	table, err := waltable.Create(resizer, tableBase)
	if err != nil {
		return nil, fmt.Errorf("walidx: build initial: %w", err)
	}

	buf := table.FullBuffer()
	for i := range buf[:tableBase] {
		buf[i] = 0
	}

	h := Header{
		LastCommitFrame:    -1,
		Cursor:             0,
		RandomSalt:         randomSalt,
		SequentialSalt:     sequentialSalt,
		DBSize:             dbSize,
		CumulativeChecksum: cumulativeSeed,
	}
	writeBothCopies(buf, h)

	return &Index{shmFile: shmFile, resizer: resizer, table: table, header: h, state: None}, nil
}

// BuildFromExisting attaches to an existing index file. If its header
// shows no committed frames yet, it opportunistically rebuilds the
// index from the WAL file under the ordered shared-then-exclusive lock,
// replaying every frame whose salts match the WAL header's current
// epoch.
func BuildFromExisting(walFile, shmFile *iofile.File) (*Index, error) {
	resizer := waltable.NewFileResizer(shmFile)
	table, err := waltable.Attach(resizer, tableBase)
	if err != nil {
		return nil, fmt.Errorf("walidx: attach: %w", err)
	}

	buf := table.FullBuffer()
	copy1 := ParseHeader(buf[0:headerCopySize])
	copy2 := ParseHeader(buf[headerCopySize : 2*headerCopySize])
	if copy1 != copy2 {
		return nil, walerr.ErrConcurrentModification
	}

	idx := &Index{shmFile: shmFile, resizer: resizer, table: table, header: copy1, state: None}

	if idx.header.IsEmpty() {
		if err := idx.rebuildFromWAL(walFile); err != nil {
			return nil, err
		}
	}

	return idx, nil
}

// rebuildFromWAL performs the opportunistic replay described by
// BuildFromExisting's doc comment. It acquires SHARED then EXCLUSIVE
// (the only order the lock state machine permits), re-verifies the
// index is still empty (a racing peer may have already rebuilt it), and
// if so replays the WAL's frames.
func (idx *Index) rebuildFromWAL(walFile *iofile.File) error {
	if err := idx.Lock(Shared); err != nil {
		return fmt.Errorf("walidx: rebuild: %w", err)
	}
	if err := idx.Lock(Exclusive); err != nil {
		idx.Unlock()
		return fmt.Errorf("walidx: rebuild: %w", err)
	}
	defer idx.Unlock()

	buf := idx.table.FullBuffer()
	current := ParseHeader(buf[0:headerCopySize])
	if !current.IsEmpty() {
		// A racing peer already rebuilt the index; adopt its result.
		idx.header = current
		return nil
	}

	walHeader, err := wal.ReadHeaderFromFile(walFile, 0)
	if err != nil {
		return fmt.Errorf("walidx: rebuild: read WAL header: %w", err)
	}

	it, err := wal.NewIterator(walFile, idx.header.LastCommitFrame)
	if err != nil {
		return fmt.Errorf("walidx: rebuild: %w", err)
	}

	frameIndex := int32(0)
	for it.HasNext() {
		fr, err := it.Next()
		if err != nil {
			return fmt.Errorf("walidx: rebuild: %w", err)
		}
		if fr.SaltsMatch(walHeader) {
			if err := idx.notifyAppendedLocked(fr, frameIndex); err != nil {
				return err
			}
		}
		frameIndex++
	}

	idx.Publish()
	return nil
}

// Header returns the index's current in-memory header.
func (idx *Index) Header() Header {
	return idx.header
}

// Generation returns the number of times Reload has successfully run.
func (idx *Index) Generation() uint64 {
	return idx.generation
}

// Table exposes the off-heap frame->page table for direct lookups.
func (idx *Index) Table() *waltable.Table {
	return idx.table
}

// Lock requests the given lock level, following this state machine:
//
//	NONE -> SHARED:    in-process reader lock, then cross-process SHARED byte-range lock.
//	SHARED -> EXCLUSIVE: in-process exclusive mutex, then cross-process EXCLUSIVE byte-range lock.
//	already >= requested level: no-op.
//	EXCLUSIVE requested without SHARED held: ErrOutOfOrderLock.
func (idx *Index) Lock(level LockState) error {
	switch level {
	case Shared:
		if idx.state&Shared != 0 {
			return nil
		}
		idx.shmFile.Mutex().RLock()
		lock, err := idx.shmFile.FileLock(sharedSlotOffset, slotLength, true)
		if err != nil {
			idx.shmFile.Mutex().RUnlock()
			return fmt.Errorf("%w: %v", walerr.ErrLockFailed, err)
		}
		idx.sharedLock = lock
		idx.state |= Shared
		return nil

	case Exclusive:
		if idx.state&Exclusive != 0 {
			return nil
		}
		if idx.state&Shared == 0 {
			return walerr.ErrOutOfOrderLock
		}
		idx.shmFile.ExclusiveMutex().Lock()
		lock, err := idx.shmFile.FileLock(exclusiveSlotOffset, slotLength, false)
		if err != nil {
			idx.shmFile.ExclusiveMutex().Unlock()
			return fmt.Errorf("%w: %v", walerr.ErrLockFailed, err)
		}
		idx.exclusiveLock = lock
		idx.state |= Exclusive
		return nil

	default:
		return fmt.Errorf("%w: unknown lock level %v", walerr.ErrInvalidArgument, level)
	}
}

// Unlock releases every lock currently held, exclusive first (as the
// additive-upgrade discipline requires: cross-process exclusive, then
// in-process exclusive mutex, then cross-process shared, then in-process
// reader lock), and resets the state to NONE.
func (idx *Index) Unlock() {
	if idx.state&Exclusive != 0 {
		if idx.exclusiveLock != nil {
			idx.exclusiveLock.Unlock()
			idx.exclusiveLock = nil
		}
		idx.shmFile.ExclusiveMutex().Unlock()
		idx.state &^= Exclusive
	}
	if idx.state&Shared != 0 {
		if idx.sharedLock != nil {
			idx.sharedLock.Unlock()
			idx.sharedLock = nil
		}
		idx.shmFile.Mutex().RUnlock()
		idx.state &^= Shared
	}
}

// State returns the currently held lock bitmask.
func (idx *Index) State() LockState {
	return idx.state
}

// IsStale reports whether the shared-memory header has been updated by
// a peer since this instance last loaded it. Both copies are re-checked
// for agreement first: disagreement without this thread holding
// EXCLUSIVE is a concurrent-modification signal, not mere staleness.
func (idx *Index) IsStale() (bool, error) {
	buf := idx.table.FullBuffer()
	copy1 := ParseHeader(buf[0:headerCopySize])
	copy2 := ParseHeader(buf[headerCopySize : 2*headerCopySize])
	if copy1 != copy2 && idx.state&Exclusive == 0 {
		return false, walerr.ErrConcurrentModification
	}
	return copy1 != idx.header, nil
}

// Reload adopts the current on-disk header into memory and re-syncs the
// off-heap table's view of the shared buffer, so a peer's growth is
// visible. It bumps Generation on every successful call, independent of
// whether the header actually changed.
func (idx *Index) Reload() error {
	if err := idx.table.Reload(); err != nil {
		return fmt.Errorf("walidx: reload: %w", err)
	}

	buf := idx.table.FullBuffer()
	copy1 := ParseHeader(buf[0:headerCopySize])
	copy2 := ParseHeader(buf[headerCopySize : 2*headerCopySize])
	if copy1 != copy2 && idx.state&Exclusive == 0 {
		return walerr.ErrConcurrentModification
	}

	idx.header = copy1
	idx.generation++
	return nil
}

// NotifyAppended mutates the in-memory header and inserts
// (frameIndex, pageIndex) into the frame->page table. Requires
// EXCLUSIVE to be held.
func (idx *Index) NotifyAppended(fr wal.Frame, frameIndex int32) error {
	if idx.state&Exclusive == 0 {
		return walerr.ErrOutOfOrderLock
	}
	return idx.notifyAppendedLocked(fr, frameIndex)
}

func (idx *Index) notifyAppendedLocked(fr wal.Frame, frameIndex int32) error {
	if err := idx.table.Put(frameIndex, int64(fr.PageIndex)); err != nil {
		return fmt.Errorf("walidx: notify appended: %w", err)
	}
	idx.header = idx.header.NotifyAppended(fr, frameIndex)
	return nil
}

// Publish writes the in-memory header back to both mapped copies, the
// second copy last so a concurrent reader that observes them differing
// knows it caught a writer mid-update. Requires EXCLUSIVE.
func (idx *Index) Publish() {
	buf := idx.table.FullBuffer()
	writeBothCopies(buf, idx.header)
}

// Close releases the mapped shared-memory segment. The underlying shm
// file handle is not closed: callers own it and close it separately,
// mirroring FileResizer's own Close contract.
func (idx *Index) Close() error {
	return idx.resizer.Close()
}

// DurableSync fsyncs the shm file, making Publish's writes durable. Kept
// distinct from Publish so a caller can batch several in-memory updates
// before paying for one fsync.
func (idx *Index) DurableSync() error {
	return idx.shmFile.Sync()
}

// FindFrameIndexOf returns the frame slot pageIndex currently lives in,
// or -1. Requires at least SHARED.
func (idx *Index) FindFrameIndexOf(pageIndex int64) int32 {
	return idx.table.KeyOf(pageIndex)
}

func writeBothCopies(buf []byte, h Header) {
	copy(buf[0:headerCopySize], h.Serialize())
	copy(buf[headerCopySize:2*headerCopySize], h.Serialize())
}
