package backend

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"syscall"
)

// Sentinel errors for storage failure classification.
// Use errors.Is(err, ErrXxx) for typed assertions.
var (
	// ErrUnsupported indicates the backend capability is absent.
	ErrUnsupported = errors.New("unsupported")

	// ErrNotFound indicates the named entry does not exist.
	ErrNotFound = errors.New("not found")

	// ErrLocked indicates another sync access handle holds the file.
	ErrLocked = errors.New("no modification allowed: file is locked")

	// ErrInvalidName indicates a name unusable in a flat namespace.
	ErrInvalidName = errors.New("invalid name")

	// ErrTypeMismatch indicates the entry exists but is not a file.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrPermissionDenied indicates a permission/access failure (EACCES, 403).
	ErrPermissionDenied = errors.New("permission denied")

	// ErrDiskFull indicates storage is out of space (ENOSPC, quota).
	ErrDiskFull = errors.New("no space left on device")

	// ErrClosed indicates use of a sync access handle after Close.
	ErrClosed = errors.New("handle closed")

	// ErrIO is the catch-all kind for unclassified backend failures.
	ErrIO = errors.New("i/o error")
)

var (
	errEmptyName       = errors.New("name is empty")
	errReservedName    = errors.New("name is reserved")
	errSeparatorInName = errors.New("name contains a path separator")
)

// StorageError wraps an underlying error with storage classification.
// It preserves the original error in the chain for inspection via errors.As.
type StorageError struct {
	// Kind is the sentinel error for classification (e.g., ErrNotFound).
	Kind error
	// Op is the operation that failed (e.g., "write", "read", "remove").
	Op string
	// Name is the entry involved, if any.
	Name string
	// Err is the underlying error.
	Err error
}

func (e *StorageError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%s %s: %v: %v", e.Op, e.Name, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As chain traversal.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target sentinel.
func (e *StorageError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// NewStorageError creates a classified storage error.
func NewStorageError(kind error, op, name string, err error) *StorageError {
	return &StorageError{
		Kind: kind,
		Op:   op,
		Name: name,
		Err:  err,
	}
}

// Wrap classifies err and wraps it for op on name.
// Returns nil if err is nil. Already-classified errors are returned as is.
func Wrap(err error, op, name string) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return NewStorageError(classifyError(err), op, name, err)
}

// classifyError determines the appropriate sentinel error for the given error.
// Typed errors are checked first, then message patterns for backends
// (object stores) that only report text.
func classifyError(err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return ErrNotFound
	case errors.Is(err, fs.ErrPermission):
		return ErrPermissionDenied
	case errors.Is(err, fs.ErrClosed):
		return ErrClosed
	case errors.Is(err, syscall.ENOSPC):
		return ErrDiskFull
	case errors.Is(err, syscall.EISDIR), errors.Is(err, syscall.ENOTDIR):
		return ErrTypeMismatch
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case containsAny(errStr, "no such file", "does not exist", "not found", "nosuchkey", "404"):
		return ErrNotFound
	case containsAny(errStr, "permission denied", "access denied", "forbidden", "403"):
		return ErrPermissionDenied
	case containsAny(errStr, "no space left", "disk full", "quota exceeded"):
		return ErrDiskFull
	case containsAny(errStr, "is a directory", "not a directory"):
		return ErrTypeMismatch
	default:
		return ErrIO
	}
}

// containsAny checks if s contains any of the (lowercase) substrings.
func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
