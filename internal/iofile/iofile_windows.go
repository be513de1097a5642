//go:build windows

// internal/iofile/iofile_windows.go
package iofile

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

type segmentImpl struct {
	handle windows.Handle
}

func (s segmentImpl) sync(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return windows.FlushViewOfFile(uintptr(unsafe.Pointer(&data[0])), uintptr(len(data)))
}

func (s segmentImpl) close(data []byte) error {
	if len(data) > 0 {
		if err := windows.UnmapViewOfFile(uintptr(unsafe.Pointer(&data[0]))); err != nil {
			return err
		}
	}
	if s.handle != 0 {
		return windows.CloseHandle(s.handle)
	}
	return nil
}

// MapShared maps [off, off+size) of the underlying file for both read
// and write, visible to every process mapping the same file.
func (fl *File) MapShared(off, size int64) (*Segment, error) {
	fl.mu.Lock()
	fd := windows.Handle(fl.fd())
	open := fl.open
	fl.mu.Unlock()
	if !open {
		return nil, ErrNotOpen
	}

	end := off + size
	h, err := windows.CreateFileMapping(fd, nil, windows.PAGE_READWRITE, uint32(end>>32), uint32(end&0xFFFFFFFF), nil)
	if err != nil {
		return nil, err
	}

	addr, err := windows.MapViewOfFile(h, windows.FILE_MAP_READ|windows.FILE_MAP_WRITE, uint32(off>>32), uint32(off&0xFFFFFFFF), uintptr(size))
	if err != nil {
		windows.CloseHandle(h)
		return nil, err
	}

	data := unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(size))

	return &Segment{
		Data:   data,
		offset: off,
		size:   size,
		impl:   segmentImpl{handle: h},
	}, nil
}

// FileLock blocks until it acquires an advisory byte-range lock on
// [off, off+length) of the file, shared or exclusive.
func (fl *File) FileLock(off, length int64, shared bool) (*Lock, error) {
	if err := lockFileRange(fl, off, length, shared, true); err != nil {
		return nil, err
	}
	return &Lock{off: off, length: length, shared: shared, f: fl}, nil
}

// TryFileLock attempts a non-blocking acquisition; it returns (nil, nil)
// if the lock is currently held by someone else.
func (fl *File) TryFileLock(off, length int64, shared bool) (*Lock, error) {
	err := lockFileRange(fl, off, length, shared, false)
	if err == errWouldBlock {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &Lock{off: off, length: length, shared: shared, f: fl}, nil
}

var errWouldBlock = windows.ERROR_LOCK_VIOLATION

func lockFileRange(fl *File, off, length int64, shared, blocking bool) error {
	fl.mu.Lock()
	fd := windows.Handle(fl.fd())
	open := fl.open
	fl.mu.Unlock()
	if !open {
		return ErrNotOpen
	}

	var flags uint32
	if !shared {
		flags |= windows.LOCKFILE_EXCLUSIVE_LOCK
	}
	if !blocking {
		flags |= windows.LOCKFILE_FAIL_IMMEDIATELY
	}

	ol := new(windows.Overlapped)
	ol.Offset = uint32(off & 0xFFFFFFFF)
	ol.OffsetHigh = uint32(off >> 32)

	err := windows.LockFileEx(fd, flags, 0, uint32(length&0xFFFFFFFF), uint32(length>>32), ol)
	if err == windows.ERROR_LOCK_VIOLATION {
		return errWouldBlock
	}
	return err
}

func unlockRange(fl *File, off, length int64) error {
	fl.mu.Lock()
	fd := windows.Handle(fl.fd())
	fl.mu.Unlock()

	ol := new(windows.Overlapped)
	ol.Offset = uint32(off & 0xFFFFFFFF)
	ol.OffsetHigh = uint32(off >> 32)
	return windows.UnlockFileEx(fd, 0, uint32(length&0xFFFFFFFF), uint32(length>>32), ol)
}
