// internal/iofile/iofile.go
//
// Package iofile is the file façade the WAL engine is built on: random
// positioned read/write, shared memory mapping of a region, advisory
// cross-process byte-range locks, and fsync. It deliberately keeps three
// disjoint locking planes apart instead of unifying them behind one
// mutex type, because each targets a distinct contention class:
//
//   - Mutex()/ExclusiveMutex() are in-process only, shared by every
//     File handle opened (by any path) against the same underlying
//     filesystem object, via internal/fileid.
//   - FileLock()/TryFileLock() are advisory byte-range locks enforced
//     by the OS across processes.
//
// Platform-specific mapping and locking live in iofile_unix.go and
// iofile_windows.go; this file holds the shared, OS-independent parts.
package iofile

import (
	"errors"
	"os"
	"sync"

	"luxwal/internal/fileid"
)

// ErrClosedByInterrupt is returned when a blocking operation was
// interrupted and the underlying descriptor was closed as a result.
// Callers must call Reopen before issuing further operations.
var ErrClosedByInterrupt = errors.New("iofile: closed by interrupt, call Reopen")

// ErrNotOpen is returned by operations attempted on a File that has been
// Closed (or invalidated by an interrupt and not yet reopened).
var ErrNotOpen = errors.New("iofile: file is not open")

// Options configures Open.
type Options struct {
	// Create requests O_CREATE.
	Create bool
	// Exclusive requests O_CREATE|O_EXCL: fail if the file already
	// exists. Used for the one-shot creation of a brand new WAL/shm
	// pair.
	Exclusive bool
	// ReadOnly opens the file O_RDONLY instead of O_RDWR.
	ReadOnly bool
}

// File is one handle on an underlying filesystem object. Multiple File
// values may be open on the same object (via different paths, or the
// same path opened twice); they all share the same fileid.Serial and
// therefore the same in-process mutexes.
type File struct {
	mu     sync.Mutex // guards path/f/open against concurrent Reopen
	path   string
	f      *os.File
	serial *fileid.Serial
	open   bool
}

// Open resolves path's canonical identity and opens the underlying file.
func Open(path string, opts Options) (*File, error) {
	serial, err := fileid.Find(path)
	if err != nil {
		return nil, err
	}

	flag := os.O_RDWR
	if opts.ReadOnly {
		flag = os.O_RDONLY
	}
	if opts.Create {
		flag |= os.O_CREATE
	}
	if opts.Exclusive {
		flag |= os.O_CREATE | os.O_EXCL
	}

	f, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		fileid.Release(serial)
		return nil, err
	}

	return &File{
		path:   path,
		f:      f,
		serial: serial,
		open:   true,
	}, nil
}

// Path returns the path File was opened with.
func (fl *File) Path() string {
	return fl.path
}

// IsOpen reports whether the underlying descriptor is currently valid.
func (fl *File) IsOpen() bool {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	return fl.open
}

// Size returns the current file size in bytes.
func (fl *File) Size() (int64, error) {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	if !fl.open {
		return 0, ErrNotOpen
	}
	info, err := fl.f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Reopen re-establishes the underlying descriptor after it was closed by
// an interrupted blocking operation. Clients must call this after any
// operation returns ErrClosedByInterrupt before issuing further calls.
func (fl *File) Reopen() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.open {
		return nil
	}

	f, err := os.OpenFile(fl.path, os.O_RDWR, 0644)
	if err != nil {
		return err
	}
	fl.f = f
	fl.open = true
	return nil
}

// invalidate marks the handle closed, as if an interrupt tore down the
// descriptor. The interrupted call itself returns ErrClosedByInterrupt;
// subsequent calls fail with ErrNotOpen until Reopen is called.
func (fl *File) invalidate() {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	if fl.f != nil {
		fl.f.Close()
	}
	fl.open = false
}

// Read performs a positioned read at off, independent of any other
// handle's position.
func (fl *File) Read(dst []byte, off int64) (int, error) {
	fl.mu.Lock()
	f, open := fl.f, fl.open
	fl.mu.Unlock()
	if !open {
		return 0, ErrNotOpen
	}

	n, err := f.ReadAt(dst, off)
	if isInterrupted(err) {
		fl.invalidate()
		return n, ErrClosedByInterrupt
	}
	return n, err
}

// Write performs a positioned write at off, independent of any other
// handle's position.
func (fl *File) Write(src []byte, off int64) (int, error) {
	fl.mu.Lock()
	f, open := fl.f, fl.open
	fl.mu.Unlock()
	if !open {
		return 0, ErrNotOpen
	}

	n, err := f.WriteAt(src, off)
	if isInterrupted(err) {
		fl.invalidate()
		return n, ErrClosedByInterrupt
	}
	return n, err
}

// Truncate changes the file's size, zero-extending it if size is larger
// than the current size. Used by the off-heap table to grow its backing
// region before remapping it.
func (fl *File) Truncate(size int64) error {
	fl.mu.Lock()
	f, open := fl.f, fl.open
	fl.mu.Unlock()
	if !open {
		return ErrNotOpen
	}
	return f.Truncate(size)
}

// Sync flushes the file's content to stable storage.
func (fl *File) Sync() error {
	fl.mu.Lock()
	f, open := fl.f, fl.open
	fl.mu.Unlock()
	if !open {
		return ErrNotOpen
	}
	return f.Sync()
}

// Mutex returns the in-process reader/writer mutex shared by every File
// handle on this underlying object.
func (fl *File) Mutex() *sync.RWMutex {
	return fl.serial.Mutex
}

// ExclusiveMutex returns the in-process exclusive mutex shared by every
// File handle on this underlying object, used to guard the SHARED ->
// EXCLUSIVE upgrade.
func (fl *File) ExclusiveMutex() *sync.Mutex {
	return fl.serial.ExclusiveMutex
}

// Close releases the underlying descriptor and the shared identity.
func (fl *File) Close() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if !fl.open {
		fileid.Release(fl.serial)
		return nil
	}
	fl.open = false
	err := fl.f.Close()
	fileid.Release(fl.serial)
	return err
}

// fd returns the raw descriptor for platform-specific mmap/lock calls.
// Callers must hold fl.mu or otherwise know the handle is stable.
func (fl *File) fd() uintptr {
	return fl.f.Fd()
}
