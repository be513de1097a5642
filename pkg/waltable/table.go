// pkg/waltable/table.go
//
// Package waltable implements the off-heap, open-addressed, int32-key to
// int64-value hash table backing the WAL index's frame->page lookup.
// Its storage is a region within a single growable shared-memory buffer
// (see Resizer) so that every process attached to the same file
// observes the same table without any out-of-band metadata beyond the
// region itself: capacity, size and a (non-portable, informational-only;
// see Reload) data pointer are recorded inline at the front of the
// region.
//
// Not safe for concurrent use: callers must hold the WAL index's
// exclusive lock while calling Put, and at least its shared lock while
// calling KeyOf/Size/Capacity.
package waltable

import (
	"encoding/binary"
	"fmt"

	"luxwal/internal/iofile"
	"luxwal/pkg/walerr"
)

const (
	// DefaultCapacity is the table's initial entry count.
	DefaultCapacity = 4096

	// loadFactorLimit is the fraction of occupied slots at which a put
	// triggers a doubling grow.
	loadFactorLimit = 0.75

	headerSize = 16 // capacity:i32, size:i32, dataPointer:i64
	entrySize  = 16 // key:i32, padding:i32, value:i64

	emptyKey = int32(-1)
)

// Resizer grows the single shared buffer a Table's region lives in and
// returns the buffer in full. Implementations must never return a
// buffer shorter than minSize, and must preserve every byte already
// written at offsets below the previous size (including bytes outside
// the table's own region, e.g. the WAL index header that precedes it).
type Resizer interface {
	Resize(minSize int64) ([]byte, error)
}

// FileResizer is the default Resizer: the whole underlying file is
// mapped as one shared memory segment from offset 0, remapped (after
// extending the file, never shrinking it) whenever a larger buffer is
// requested. This is what lets the WAL index header and the off-heap
// table share the literal same mapped region, as the design calls for.
type FileResizer struct {
	file *iofile.File
	seg  *iofile.Segment
}

// NewFileResizer wraps file. The caller retains ownership of file and
// must Close it; Close on the FileResizer only unmaps the segment.
func NewFileResizer(file *iofile.File) *FileResizer {
	return &FileResizer{file: file}
}

// Resize ensures the mapped buffer is at least minSize bytes, extending
// (never truncating) the file first if needed, then remapping.
func (r *FileResizer) Resize(minSize int64) ([]byte, error) {
	cur, err := r.file.Size()
	if err != nil {
		return nil, fmt.Errorf("waltable: stat backing file: %w", err)
	}
	target := minSize
	if cur > target {
		target = cur
	}
	if target != cur {
		if err := r.file.Truncate(target); err != nil {
			return nil, fmt.Errorf("waltable: extend backing file: %w", err)
		}
	}

	seg, err := r.file.MapShared(0, target)
	if err != nil {
		return nil, fmt.Errorf("waltable: map backing file: %w", err)
	}
	if r.seg != nil {
		r.seg.Close()
	}
	r.seg = seg
	return seg.Data, nil
}

// Close unmaps the current segment, if any. The underlying file is not
// closed.
func (r *FileResizer) Close() error {
	if r.seg == nil {
		return nil
	}
	return r.seg.Close()
}

// Table is the off-heap frame->page lookup table.
type Table struct {
	resizer Resizer
	base    int64 // offset of the table header within the shared buffer
	data    []byte
	growing bool // guards against reentrant grows
}

// Create resizes the buffer to hold a brand new table at base, with
// DefaultCapacity entries, all initialized to the empty-entry sentinel.
func Create(resizer Resizer, base int64) (*Table, error) {
	data, err := resizer.Resize(base + regionSize(DefaultCapacity))
	if err != nil {
		return nil, fmt.Errorf("waltable: create: %w", err)
	}

	t := &Table{resizer: resizer, base: base, data: data}
	zeroEntries(t.data, base, DefaultCapacity)
	t.putHeader(DefaultCapacity, 0)
	return t, nil
}

// Attach maps an existing table at base, discovering its capacity from
// the on-disk header before resizing to the full entries region.
func Attach(resizer Resizer, base int64) (*Table, error) {
	data, err := resizer.Resize(base + headerSize)
	if err != nil {
		return nil, fmt.Errorf("waltable: attach peek: %w", err)
	}
	capacity := int32(binary.BigEndian.Uint32(data[base : base+4]))
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: non-positive table capacity %d", walerr.ErrCorruptWAL, capacity)
	}

	data, err = resizer.Resize(base + regionSize(capacity))
	if err != nil {
		return nil, fmt.Errorf("waltable: attach: %w", err)
	}
	return &Table{resizer: resizer, base: base, data: data}, nil
}

// FullBuffer returns the entire shared buffer backing this table,
// including whatever precedes the table's own region (e.g. a WAL index
// header). Callers that co-own the same Resizer (pkg/walidx) use this
// to keep their own view of the buffer in sync after a grow.
func (t *Table) FullBuffer() []byte {
	return t.data
}

// Reload re-synchronizes this Table's view of the buffer with whatever
// is currently on disk: if a peer process grew the table since we last
// looked, our buffer may be too short to see the new entries, and we
// must resize to the current capacity. Bytes already within our buffer
// reflect peer writes immediately, since the backing mapping is shared.
func (t *Table) Reload() error {
	onDiskCapacity := int32(binary.BigEndian.Uint32(t.data[t.base : t.base+4]))
	if t.base+regionSize(onDiskCapacity) <= int64(len(t.data)) {
		return nil
	}

	data, err := t.resizer.Resize(t.base + regionSize(onDiskCapacity))
	if err != nil {
		return fmt.Errorf("waltable: reload: %w", err)
	}
	t.data = data
	return nil
}

// Capacity returns the table's current entry capacity.
func (t *Table) Capacity() int32 {
	return int32(binary.BigEndian.Uint32(t.data[t.base : t.base+4]))
}

// Size returns the number of occupied entries.
func (t *Table) Size() int32 {
	return int32(binary.BigEndian.Uint32(t.data[t.base+4 : t.base+8]))
}

// LoadFactor returns the current fraction of occupied slots, for
// diagnostics and tests.
func (t *Table) LoadFactor() float64 {
	return float64(t.Size()) / float64(t.Capacity())
}

// Stats is a snapshot of the table's occupancy, useful for a caller
// diagnosing load-factor growth or asserting on it in tests.
type Stats struct {
	Capacity   int32
	Size       int32
	LoadFactor float64
}

// Stats returns a snapshot of the table's current capacity, size and
// load factor.
func (t *Table) Stats() Stats {
	return Stats{Capacity: t.Capacity(), Size: t.Size(), LoadFactor: t.LoadFactor()}
}

// Put inserts (key, value), growing the table first if this insert
// would push the load factor to >= 0.75.
func (t *Table) Put(key int32, value int64) error {
	if key == emptyKey {
		return fmt.Errorf("%w: key -1 is the empty sentinel", walerr.ErrInvalidArgument)
	}

	if float64(t.Size()+1)/float64(t.Capacity()) >= loadFactorLimit {
		if err := t.grow(); err != nil {
			return err
		}
	}
	return t.putInto(t.data, t.base, t.Capacity(), key, value, true)
}

// putInto performs the linear-probe insert against an arbitrary entries
// buffer (either the live buffer, or a staging buffer built during
// grow), optionally bumping the on-disk size counter.
func (t *Table) putInto(data []byte, base int64, capacity int32, key int32, value int64, bumpSize bool) error {
	bucket := hashcode(value) % uint32(capacity)
	for i := uint32(0); i < uint32(capacity); i++ {
		slot := (bucket + i) % uint32(capacity)
		off := base + headerSize + int64(slot)*entrySize
		if int32(binary.BigEndian.Uint32(data[off:off+4])) == emptyKey {
			binary.BigEndian.PutUint32(data[off:off+4], uint32(key))
			binary.BigEndian.PutUint64(data[off+8:off+16], uint64(value))
			if bumpSize {
				t.putHeader(capacity, t.Size()+1)
			}
			return nil
		}
	}
	// Unreachable under the 0.75 load factor cap, which guarantees an
	// empty slot always exists.
	return fmt.Errorf("waltable: table full at capacity %d", capacity)
}

// KeyOf returns the key most recently inserted for value, or -1 if none
// is present. Because entries are never deleted, the last match found
// while probing forward from the bucket to the first empty slot is
// always the most recently inserted one.
func (t *Table) KeyOf(value int64) int32 {
	capacity := t.Capacity()
	bucket := hashcode(value) % uint32(capacity)
	found := emptyKey

	for i := uint32(0); i < uint32(capacity); i++ {
		slot := (bucket + i) % uint32(capacity)
		off := t.base + headerSize + int64(slot)*entrySize
		key := int32(binary.BigEndian.Uint32(t.data[off : off+4]))
		if key == emptyKey {
			break
		}
		v := int64(binary.BigEndian.Uint64(t.data[off+8 : off+16]))
		if v == value {
			found = key
		}
	}
	return found
}

// grow doubles the table's capacity. It stages the re-insert of every
// existing entry against an in-memory buffer first, so that a detected
// reentrant grow (ErrRecursiveGrow) can be reported without ever
// mutating the live buffer, leaving the previous capacity/size
// untouched.
func (t *Table) grow() error {
	if t.growing {
		return walerr.ErrRecursiveGrow
	}
	t.growing = true
	defer func() { t.growing = false }()

	oldCapacity := t.Capacity()
	newCapacity := oldCapacity * 2
	if newCapacity <= oldCapacity {
		return fmt.Errorf("waltable: capacity overflow growing past %d", oldCapacity)
	}

	// Collect entries in probe order, starting just past an empty slot, so
	// a cluster that wraps around the end of the table is read from its
	// start and repeated values keep their insertion order.
	start := int32(0)
	for i := int32(0); i < oldCapacity; i++ {
		off := t.base + headerSize + int64(i)*entrySize
		if int32(binary.BigEndian.Uint32(t.data[off:off+4])) == emptyKey {
			start = i
			break
		}
	}

	existing := make([]entryPair, 0, t.Size())
	for n := int32(0); n < oldCapacity; n++ {
		i := (start + n) % oldCapacity
		off := t.base + headerSize + int64(i)*entrySize
		key := int32(binary.BigEndian.Uint32(t.data[off : off+4]))
		if key == emptyKey {
			continue
		}
		value := int64(binary.BigEndian.Uint64(t.data[off+8 : off+16]))
		existing = append(existing, entryPair{key, value})
	}

	staging := make([]byte, regionSize(newCapacity))
	zeroEntries(staging, 0, newCapacity)
	for _, e := range existing {
		if err := t.putInto(staging, 0, newCapacity, e.key, e.value, false); err != nil {
			return fmt.Errorf("waltable: re-insert during grow: %w", err)
		}
	}

	data, err := t.resizer.Resize(t.base + regionSize(newCapacity))
	if err != nil {
		return fmt.Errorf("waltable: resize for grow: %w", err)
	}
	copy(data[t.base:], staging)
	binary.BigEndian.PutUint32(data[t.base:t.base+4], uint32(newCapacity))
	binary.BigEndian.PutUint32(data[t.base+4:t.base+8], uint32(len(existing)))
	// dataPointer is informational only (see package doc on pointer
	// portability); record the region's file-relative base so a peer
	// can sanity-check it without trusting it as a real address.
	binary.BigEndian.PutUint64(data[t.base+8:t.base+16], uint64(t.base+headerSize))

	t.data = data
	return nil
}

type entryPair struct {
	key   int32
	value int64
}

func (t *Table) putHeader(capacity, size int32) {
	binary.BigEndian.PutUint32(t.data[t.base:t.base+4], uint32(capacity))
	binary.BigEndian.PutUint32(t.data[t.base+4:t.base+8], uint32(size))
	binary.BigEndian.PutUint64(t.data[t.base+8:t.base+16], uint64(t.base+headerSize))
}

func regionSize(capacity int32) int64 {
	return int64(headerSize) + int64(capacity)*int64(entrySize)
}

func zeroEntries(data []byte, base int64, capacity int32) {
	empty := emptyKey
	for i := int32(0); i < capacity; i++ {
		off := base + headerSize + int64(i)*entrySize
		binary.BigEndian.PutUint32(data[off:off+4], uint32(empty))
	}
}

// hashcode mixes an int64 value into a well-distributed 32-bit bucket
// index source: MurmurHash3's 64-bit finalizer mix (fmix64), chosen for its avalanche behavior on the
// small, often-sequential page numbers this table stores.
func hashcode(v int64) uint32 {
	x := uint64(v)
	x ^= x >> 33
	x *= 0xff51afd7ed558ccd
	x ^= x >> 33
	x *= 0xc4ceb9fe1a85ec53
	x ^= x >> 33
	return uint32(x)
}
