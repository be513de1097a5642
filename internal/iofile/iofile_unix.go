//go:build unix || linux || darwin || freebsd || openbsd || netbsd

// internal/iofile/iofile_unix.go
package iofile

import (
	"errors"

	"golang.org/x/sys/unix"
)

type segmentImpl struct{}

func (segmentImpl) sync(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return unix.Msync(data, unix.MS_SYNC)
}

func (segmentImpl) close(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return unix.Munmap(data)
}

// MapShared maps [off, off+size) of the underlying file for both read
// and write, visible to every process mapping the same file.
func (fl *File) MapShared(off, size int64) (*Segment, error) {
	fl.mu.Lock()
	fd := int(fl.fd())
	open := fl.open
	fl.mu.Unlock()
	if !open {
		return nil, ErrNotOpen
	}

	data, err := unix.Mmap(fd, off, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, err
	}

	return &Segment{
		Data:   data,
		offset: off,
		size:   size,
		impl:   segmentImpl{},
	}, nil
}

// FileLock blocks until it acquires an advisory byte-range lock on
// [off, off+length) of the file, shared or exclusive.
func (fl *File) FileLock(off, length int64, shared bool) (*Lock, error) {
	if err := fcntlLock(fl, off, length, shared, true); err != nil {
		return nil, err
	}
	return &Lock{off: off, length: length, shared: shared, f: fl}, nil
}

// TryFileLock attempts a non-blocking acquisition; it returns (nil, nil)
// if the lock is currently held by someone else.
func (fl *File) TryFileLock(off, length int64, shared bool) (*Lock, error) {
	err := fcntlLock(fl, off, length, shared, false)
	if err == errWouldBlock {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &Lock{off: off, length: length, shared: shared, f: fl}, nil
}

func unlockRange(fl *File, off, length int64) error {
	fl.mu.Lock()
	fd := int(fl.fd())
	fl.mu.Unlock()

	lk := unix.Flock_t{
		Type:   unix.F_UNLCK,
		Whence: 0,
		Start:  off,
		Len:    length,
	}
	return unix.FcntlFlock(uintptr(fd), unix.F_SETLK, &lk)
}

var errWouldBlock = unix.EAGAIN

func fcntlLock(fl *File, off, length int64, shared, blocking bool) error {
	fl.mu.Lock()
	fd := int(fl.fd())
	open := fl.open
	fl.mu.Unlock()
	if !open {
		return ErrNotOpen
	}

	typ := int16(unix.F_WRLCK)
	if shared {
		typ = unix.F_RDLCK
	}
	lk := unix.Flock_t{
		Type:   typ,
		Whence: 0,
		Start:  off,
		Len:    length,
	}

	cmd := unix.F_SETLK
	if blocking {
		cmd = unix.F_SETLKW
	}

	err := unix.FcntlFlock(uintptr(fd), cmd, &lk)
	if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EACCES) {
		return errWouldBlock
	}
	if isInterrupted(err) {
		fl.invalidate()
		return ErrClosedByInterrupt
	}
	return err
}
