// Package backend defines the storage primitives the worker drives and
// provides implementations over an OS directory and over a Lode store.
//
// The namespace is flat: a single root directory of named files. A file's
// bytes can only be modified through a SyncAccessHandle, which holds an
// exclusive lock on the file until closed.
package backend

import (
	"context"
	"strings"
	"time"
)

// Kind is the type of a directory entry.
type Kind string

const (
	// KindFile is a regular file.
	KindFile Kind = "file"
	// KindDirectory is a nested directory. The store never creates these
	// but a backend may still report ones placed there externally.
	KindDirectory Kind = "directory"
)

// Entry is one item of a directory listing.
type Entry struct {
	Name string
	Kind Kind
}

// Storage is a private, durable, origin-scoped namespace.
type Storage interface {
	// Supported reports whether the backend capability is available at all.
	Supported() bool
	// Persist requests that stored data survive storage pressure.
	// Returns whether the grant is in effect; failure is never fatal.
	Persist(ctx context.Context) (bool, error)
	// Root opens the root directory of the namespace.
	Root(ctx context.Context) (Directory, error)
	// Name identifies the backend in logs and metrics.
	Name() string
}

// Directory is the flat root directory.
type Directory interface {
	// Entries enumerates the directory in unspecified order.
	Entries(ctx context.Context) ([]Entry, error)
	// FileHandle acquires a handle for name. With create=false the file
	// must already exist (ErrNotFound otherwise); with create=true it is
	// created empty if absent.
	FileHandle(ctx context.Context, name string, create bool) (FileHandle, error)
	// RemoveEntry removes name. Fails with ErrNotFound if absent.
	RemoveEntry(ctx context.Context, name string) error
}

// FileHandle refers to a named file without holding it open.
type FileHandle interface {
	// Name is the file's name within the root directory.
	Name() string
	// CreateSyncAccessHandle opens the file for synchronous access and takes
	// the exclusive lock. Fails with ErrLocked if another handle holds it.
	CreateSyncAccessHandle(ctx context.Context) (SyncAccessHandle, error)
	// File snapshots the whole file.
	File(ctx context.Context) (*File, error)
}

// SyncAccessHandle is an exclusive, blocking handle onto one file.
// Close must be called on every path; an unclosed handle keeps the file locked.
type SyncAccessHandle interface {
	// Read reads into p starting at byte offset at.
	Read(p []byte, at int64) (int, error)
	// Write writes p starting at byte offset at, growing the file as needed.
	Write(p []byte, at int64) (int, error)
	// Truncate resizes the file to size bytes.
	Truncate(size int64) error
	// GetSize returns the current size in bytes.
	GetSize() (int64, error)
	// Flush persists all writes made through this handle.
	Flush() error
	// Close releases the lock. Unflushed writes may be lost.
	Close() error
}

// File is a snapshot of a file's contents and backend-tracked metadata.
type File struct {
	Name         string
	Size         int64
	LastModified time.Time
	data         []byte
}

// NewFile builds a snapshot. Backends outside this package use it to
// construct File values.
func NewFile(name string, data []byte, lastModified time.Time) *File {
	return &File{
		Name:         name,
		Size:         int64(len(data)),
		LastModified: lastModified,
		data:         data,
	}
}

// Bytes returns the raw contents.
func (f *File) Bytes() []byte { return f.data }

// Text decodes the contents as UTF-8 text.
func (f *File) Text() string { return string(f.data) }

// ValidateName checks that name is usable as a flat entry name.
// Dot-prefixed names are valid; they are only hidden from listings.
func ValidateName(name string) error {
	switch {
	case name == "":
		return NewStorageError(ErrInvalidName, "validate", name, errEmptyName)
	case name == "." || name == "..":
		return NewStorageError(ErrInvalidName, "validate", name, errReservedName)
	case strings.ContainsAny(name, "/\\\x00"):
		return NewStorageError(ErrInvalidName, "validate", name, errSeparatorInName)
	}
	return nil
}
