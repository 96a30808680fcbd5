package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/justapithecus/lode/lode"
)

// filesPrefix is the key prefix under which every entry is stored.
const filesPrefix = "files/"

// Lode stores files as objects in a Lode Store (memory, filesystem or S3).
// Object stores have no in-place writes, so a sync access handle buffers the
// file and Flush replaces the whole object. Locks are process-local.
//
// Lode stores carry no object metadata. Modification times are read from
// disk for lode-fs; memory and S3 stores only report writes made through
// this instance, and a zero time otherwise.
type Lode struct {
	name    string
	factory lode.StoreFactory
	locks   *lockTable
	fsRoot  string

	storeOnce sync.Once
	store     lode.Store
	storeErr  error

	mu       sync.Mutex
	modified map[string]time.Time
}

// Verify Lode implements Storage.
var _ Storage = (*Lode)(nil)

// NewLode creates a store over the Lode Store produced by factory.
// The factory is invoked lazily on first use.
func NewLode(name string, factory lode.StoreFactory) *Lode {
	return &Lode{
		name:     name,
		factory:  factory,
		locks:    newLockTable(),
		modified: make(map[string]time.Time),
	}
}

// NewLodeMemory creates a store over a fresh in-memory Lode Store.
func NewLodeMemory() *Lode {
	store := lode.NewMemory()
	return NewLode("memory", func() (lode.Store, error) { return store, nil })
}

// NewLodeFS creates a store over a Lode filesystem Store rooted at root.
func NewLodeFS(root string) (*Lode, error) {
	if root == "" {
		return nil, NewStorageError(ErrUnsupported, "init", "", errors.New("lode-fs requires a storage path"))
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, Wrap(err, "init", "")
	}
	s := NewLode("lode-fs", lode.NewFSFactory(root))
	s.fsRoot = root
	return s, nil
}

// Name implements Storage.
func (s *Lode) Name() string { return s.name }

// Supported implements Storage.
func (s *Lode) Supported() bool { return s.factory != nil }

// Persist implements Storage. Lode stores are durable by construction,
// except the memory store, which can never be.
func (s *Lode) Persist(_ context.Context) (bool, error) {
	return s.name != "memory", nil
}

// Root implements Storage.
func (s *Lode) Root(_ context.Context) (Directory, error) {
	if !s.Supported() {
		return nil, NewStorageError(ErrUnsupported, "open root", "", errors.New("no lode store configured"))
	}
	store, err := s.getOrCreateStore()
	if err != nil {
		return nil, Wrap(err, "open root", "")
	}
	return &lodeDirectory{s: s, store: store}, nil
}

// getOrCreateStore lazily initializes the Store from the factory.
func (s *Lode) getOrCreateStore() (lode.Store, error) {
	s.storeOnce.Do(func() {
		s.store, s.storeErr = s.factory()
	})
	return s.store, s.storeErr
}

func (s *Lode) touch(name string) {
	s.mu.Lock()
	s.modified[name] = time.Now()
	s.mu.Unlock()
}

func (s *Lode) forget(name string) {
	s.mu.Lock()
	delete(s.modified, name)
	s.mu.Unlock()
}

func (s *Lode) lastModified(name string) time.Time {
	if s.fsRoot != "" {
		if info, err := os.Stat(filepath.Join(s.fsRoot, filepath.FromSlash(objectKey(name)))); err == nil {
			return info.ModTime()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modified[name]
}

func objectKey(name string) string { return filesPrefix + name }

type lodeDirectory struct {
	s     *Lode
	store lode.Store
}

func (d *lodeDirectory) Entries(ctx context.Context) ([]Entry, error) {
	keys, err := d.store.List(ctx, filesPrefix)
	if err != nil {
		werr := Wrap(err, "list", "")
		if errors.Is(werr, ErrNotFound) {
			// Nothing has been written yet.
			return []Entry{}, nil
		}
		return nil, werr
	}

	entries := make([]Entry, 0, len(keys))
	for _, key := range keys {
		// Stores may report keys relative to their root or fully qualified.
		idx := strings.LastIndex(key, filesPrefix)
		if idx < 0 {
			continue
		}
		rel := key[idx+len(filesPrefix):]
		if rel == "" || strings.Contains(rel, "/") {
			continue
		}
		entries = append(entries, Entry{Name: rel, Kind: KindFile})
	}
	return entries, nil
}

func (d *lodeDirectory) FileHandle(ctx context.Context, name string, create bool) (FileHandle, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	key := objectKey(name)

	exists, err := d.store.Exists(ctx, key)
	if err != nil {
		return nil, Wrap(err, "open", name)
	}
	if !exists {
		if !create {
			return nil, NewStorageError(ErrNotFound, "open", name, os.ErrNotExist)
		}
		if err := d.store.Put(ctx, key, bytes.NewReader(nil)); err != nil {
			return nil, Wrap(err, "create", name)
		}
		d.s.touch(name)
	}
	return &lodeFileHandle{dir: d, name: name}, nil
}

func (d *lodeDirectory) RemoveEntry(ctx context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	key := objectKey(name)
	exists, err := d.store.Exists(ctx, key)
	if err != nil {
		return Wrap(err, "remove", name)
	}
	if !exists {
		return NewStorageError(ErrNotFound, "remove", name, os.ErrNotExist)
	}
	if err := d.store.Delete(ctx, key); err != nil {
		return Wrap(err, "remove", name)
	}
	d.s.forget(name)
	return nil
}

// readObject returns the full object body for name.
func (d *lodeDirectory) readObject(ctx context.Context, name string) ([]byte, error) {
	key := objectKey(name)
	exists, err := d.store.Exists(ctx, key)
	if err != nil {
		return nil, Wrap(err, "read", name)
	}
	if !exists {
		return nil, NewStorageError(ErrNotFound, "read", name, os.ErrNotExist)
	}
	rc, err := d.store.Get(ctx, key)
	if err != nil {
		return nil, Wrap(err, "read", name)
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, Wrap(err, "read", name)
	}
	return data, nil
}

// replaceObject swaps the object body for name. Lode stores do not overwrite
// existing paths, so the old object is deleted first and put back if the new
// body cannot be stored.
func (d *lodeDirectory) replaceObject(ctx context.Context, name string, data []byte) error {
	key := objectKey(name)
	previous, err := d.readObject(ctx, name)
	existed := err == nil
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Wrap(err, "flush", name)
	}
	if existed {
		if err := d.store.Delete(ctx, key); err != nil {
			return Wrap(err, "flush", name)
		}
	}
	if err := d.store.Put(ctx, key, bytes.NewReader(data)); err != nil {
		putErr := Wrap(err, "flush", name)
		if !existed {
			return putErr
		}
		if restoreErr := d.store.Put(ctx, key, bytes.NewReader(previous)); restoreErr != nil {
			return errors.Join(putErr, Wrap(restoreErr, "restore", name))
		}
		return putErr
	}
	d.s.touch(name)
	return nil
}

type lodeFileHandle struct {
	dir  *lodeDirectory
	name string
}

func (h *lodeFileHandle) Name() string { return h.name }

func (h *lodeFileHandle) CreateSyncAccessHandle(ctx context.Context) (SyncAccessHandle, error) {
	if err := h.dir.s.locks.acquire(h.name); err != nil {
		return nil, NewStorageError(ErrLocked, "lock", h.name, err)
	}
	data, err := h.dir.readObject(ctx, h.name)
	if err != nil {
		h.dir.s.locks.release(h.name)
		return nil, err
	}
	return &lodeSyncHandle{ctx: ctx, dir: h.dir, name: h.name, buf: data}, nil
}

func (h *lodeFileHandle) File(ctx context.Context) (*File, error) {
	data, err := h.dir.readObject(ctx, h.name)
	if err != nil {
		return nil, err
	}
	return NewFile(h.name, data, h.dir.s.lastModified(h.name)), nil
}

// lodeSyncHandle buffers the object in memory between open and Flush.
type lodeSyncHandle struct {
	ctx  context.Context
	dir  *lodeDirectory
	name string

	mu     sync.Mutex
	buf    []byte
	dirty  bool
	closed bool
}

func (h *lodeSyncHandle) checkOpen(op string) error {
	if h.closed {
		return NewStorageError(ErrClosed, op, h.name, os.ErrClosed)
	}
	return nil
}

func (h *lodeSyncHandle) Read(p []byte, at int64) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.checkOpen("read"); err != nil {
		return 0, err
	}
	if at < 0 {
		return 0, NewStorageError(ErrIO, "read", h.name, fmt.Errorf("negative offset %d", at))
	}
	if at >= int64(len(h.buf)) {
		return 0, nil
	}
	return copy(p, h.buf[at:]), nil
}

func (h *lodeSyncHandle) Write(p []byte, at int64) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.checkOpen("write"); err != nil {
		return 0, err
	}
	if at < 0 {
		return 0, NewStorageError(ErrIO, "write", h.name, fmt.Errorf("negative offset %d", at))
	}
	end := at + int64(len(p))
	if end > int64(len(h.buf)) {
		grown := make([]byte, end)
		copy(grown, h.buf)
		h.buf = grown
	}
	n := copy(h.buf[at:end], p)
	h.dirty = true
	return n, nil
}

func (h *lodeSyncHandle) Truncate(size int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.checkOpen("truncate"); err != nil {
		return err
	}
	if size < 0 {
		return NewStorageError(ErrIO, "truncate", h.name, fmt.Errorf("negative size %d", size))
	}
	if size <= int64(len(h.buf)) {
		h.buf = h.buf[:size]
	} else {
		grown := make([]byte, size)
		copy(grown, h.buf)
		h.buf = grown
	}
	h.dirty = true
	return nil
}

func (h *lodeSyncHandle) GetSize() (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.checkOpen("stat"); err != nil {
		return 0, err
	}
	return int64(len(h.buf)), nil
}

func (h *lodeSyncHandle) Flush() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.checkOpen("flush"); err != nil {
		return err
	}
	if !h.dirty {
		return nil
	}
	body := make([]byte, len(h.buf))
	copy(body, h.buf)
	if err := h.dir.replaceObject(h.ctx, h.name, body); err != nil {
		return err
	}
	h.dirty = false
	return nil
}

func (h *lodeSyncHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.checkOpen("close"); err != nil {
		return err
	}
	h.closed = true
	h.buf = nil
	h.dir.s.locks.release(h.name)
	return nil
}
