// internal/iofile/lock.go
package iofile

// Lock represents a held advisory, cross-process byte-range lock
// obtained via File.FileLock or File.TryFileLock.
type Lock struct {
	off, length int64
	shared      bool
	f           *File
}

// Unlock releases the byte range.
func (l *Lock) Unlock() error {
	return unlockRange(l.f, l.off, l.length)
}
