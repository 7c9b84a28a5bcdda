package bridge

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"bazil.org/fuse"

	"vnfuse/internal/logging"
)

var (
	errLogger = logging.GetLogger().WithPrefix("error")
)

// Error wraps a handler failure with the operation and the kernel node or
// handle it concerned.
type Error struct {
	Op   string // Operation that failed (e.g., "lookup", "readdir")
	Node uint64 // Kernel node ID or file handle
	Err  error  // Underlying error
}

// Error implements the error interface, providing a formatted error message
func (e *Error) Error() string {
	if e.Node == 0 {
		return fmt.Sprintf("operation %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("operation %s on %d failed: %v", e.Op, e.Node, e.Err)
}

// Unwrap implements error unwrapping for the errors.Is/As functions
func (e *Error) Unwrap() error {
	return e.Err
}

// ToErrno converts any error to the errno sent to the kernel. Errors that
// carry no errno become EIO.
func ToErrno(err error) fuse.Errno {
	if err == nil {
		return 0
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		return fuse.Errno(errno)
	}
	var ferr fuse.Errno
	if errors.As(err, &ferr) {
		return ferr
	}

	switch {
	case errors.Is(err, os.ErrNotExist):
		return fuse.ENOENT
	case errors.Is(err, os.ErrPermission):
		return fuse.EPERM
	default:
		errLogger.Debug("Unknown error type, returning EIO: %v", err)
		return fuse.EIO
	}
}

// Common operation names for consistent logging and error reporting
const (
	OpLookup     = "lookup"
	OpGetattr    = "getattr"
	OpOpen       = "open"
	OpOpendir    = "opendir"
	OpRead       = "read"
	OpReaddir    = "readdir"
	OpRelease    = "release"
	OpReleasedir = "releasedir"
	OpReadlink   = "readlink"
	OpForget     = "forget"
	OpStatfs     = "statfs"
	OpDestroy    = "destroy"
)
