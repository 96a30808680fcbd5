package backend

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// FS stores files as regular files in one OS directory.
type FS struct {
	root string
}

// Verify FS implements Storage.
var _ Storage = (*FS)(nil)

// NewFS creates a directory-backed store rooted at root.
// The directory is created on first use.
func NewFS(root string) *FS {
	return &FS{root: root}
}

// Name implements Storage.
func (s *FS) Name() string { return "fs" }

// Supported implements Storage. An FS store needs a root path.
func (s *FS) Supported() bool { return s.root != "" }

// Persist implements Storage. Regular files are already durable; the grant
// is confirmed by syncing the root directory itself.
func (s *FS) Persist(_ context.Context) (bool, error) {
	if err := os.MkdirAll(s.root, 0o700); err != nil {
		return false, Wrap(err, "persist", "")
	}
	d, err := os.Open(s.root)
	if err != nil {
		return false, Wrap(err, "persist", "")
	}
	defer func() { _ = d.Close() }()
	if err := d.Sync(); err != nil {
		// Some filesystems refuse fsync on directories.
		return false, nil
	}
	return true, nil
}

// Root implements Storage.
func (s *FS) Root(_ context.Context) (Directory, error) {
	if !s.Supported() {
		return nil, NewStorageError(ErrUnsupported, "open root", "", errors.New("no storage path configured"))
	}
	if err := os.MkdirAll(s.root, 0o700); err != nil {
		return nil, Wrap(err, "open root", "")
	}
	return &fsDirectory{path: s.root}, nil
}

type fsDirectory struct {
	path string
}

func (d *fsDirectory) Entries(_ context.Context) ([]Entry, error) {
	dirEntries, err := os.ReadDir(d.path)
	if err != nil {
		return nil, Wrap(err, "list", "")
	}
	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		switch {
		case de.IsDir():
			entries = append(entries, Entry{Name: de.Name(), Kind: KindDirectory})
		case de.Type().IsRegular():
			entries = append(entries, Entry{Name: de.Name(), Kind: KindFile})
		}
	}
	return entries, nil
}

func (d *fsDirectory) FileHandle(_ context.Context, name string, create bool) (FileHandle, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	path := filepath.Join(d.path, name)

	info, err := os.Stat(path)
	switch {
	case err == nil:
		if info.IsDir() {
			return nil, NewStorageError(ErrTypeMismatch, "open", name, errors.New("entry is a directory"))
		}
	case errors.Is(err, os.ErrNotExist) && create:
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, Wrap(err, "create", name)
		}
		if err := f.Close(); err != nil {
			return nil, Wrap(err, "create", name)
		}
	default:
		return nil, Wrap(err, "open", name)
	}

	return &fsFileHandle{name: name, path: path}, nil
}

func (d *fsDirectory) RemoveEntry(_ context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	return Wrap(os.Remove(filepath.Join(d.path, name)), "remove", name)
}

type fsFileHandle struct {
	name string
	path string
}

func (h *fsFileHandle) Name() string { return h.name }

func (h *fsFileHandle) CreateSyncAccessHandle(_ context.Context) (SyncAccessHandle, error) {
	f, err := os.OpenFile(h.path, os.O_RDWR, 0)
	if err != nil {
		return nil, Wrap(err, "open", h.name)
	}
	if err := lockFile(f); err != nil {
		_ = f.Close()
		if errors.Is(err, ErrLocked) {
			return nil, NewStorageError(ErrLocked, "lock", h.name, err)
		}
		return nil, Wrap(err, "lock", h.name)
	}
	return &fsSyncHandle{name: h.name, f: f}, nil
}

func (h *fsFileHandle) File(_ context.Context) (*File, error) {
	data, err := os.ReadFile(h.path)
	if err != nil {
		return nil, Wrap(err, "read", h.name)
	}
	info, err := os.Stat(h.path)
	if err != nil {
		return nil, Wrap(err, "stat", h.name)
	}
	return NewFile(h.name, data, info.ModTime()), nil
}

type fsSyncHandle struct {
	name string
	f    *os.File

	mu     sync.Mutex
	closed bool
}

func (h *fsSyncHandle) Read(p []byte, at int64) (int, error) {
	n, err := h.f.ReadAt(p, at)
	if errors.Is(err, io.EOF) {
		return n, nil
	}
	return n, Wrap(err, "read", h.name)
}

func (h *fsSyncHandle) Write(p []byte, at int64) (int, error) {
	n, err := h.f.WriteAt(p, at)
	return n, Wrap(err, "write", h.name)
}

func (h *fsSyncHandle) Truncate(size int64) error {
	return Wrap(h.f.Truncate(size), "truncate", h.name)
}

func (h *fsSyncHandle) GetSize() (int64, error) {
	info, err := h.f.Stat()
	if err != nil {
		return 0, Wrap(err, "stat", h.name)
	}
	return info.Size(), nil
}

func (h *fsSyncHandle) Flush() error {
	return Wrap(h.f.Sync(), "flush", h.name)
}

func (h *fsSyncHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return NewStorageError(ErrClosed, "close", h.name, os.ErrClosed)
	}
	h.closed = true
	unlockErr := unlockFile(h.f)
	closeErr := h.f.Close()
	return Wrap(errors.Join(unlockErr, closeErr), "close", h.name)
}
