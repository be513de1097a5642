//go:build unix || linux || darwin || freebsd || openbsd || netbsd

// internal/iofile/interrupt_unix.go
package iofile

import (
	"errors"
	"syscall"
)

// isInterrupted reports whether err indicates a blocking syscall was
// interrupted (EINTR), the case in which the engine must treat the
// handle as invalidated and require an explicit Reopen.
func isInterrupted(err error) bool {
	return errors.Is(err, syscall.EINTR)
}
