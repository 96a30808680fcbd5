// Package executor implements the six storage operations against a
// backend.Storage. It runs inside the isolated worker; nothing here knows
// about the channel.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/justapithecus/burrow/backend"
	"github.com/justapithecus/burrow/iox"
	"github.com/justapithecus/burrow/log"
)

// Config configures an Executor.
type Config struct {
	// Storage is the backend the operations run against.
	Storage backend.Storage
	// Logger receives operation diagnostics. Nil discards them.
	Logger *log.Logger
	// Locale drives listing order (default language.Und).
	Locale language.Tag
}

// Executor performs storage operations.
type Executor struct {
	storage backend.Storage
	logger  *log.Logger
	locale  language.Tag
}

// New creates an Executor.
func New(cfg Config) *Executor {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Nop()
	}
	return &Executor{
		storage: cfg.Storage,
		logger:  logger,
		locale:  cfg.Locale,
	}
}

// Init verifies the backend is available, asks for a persistence grant and
// opens the root directory.
func (e *Executor) Init(ctx context.Context) error {
	if e.storage == nil || !e.storage.Supported() {
		return backend.NewStorageError(backend.ErrUnsupported, "init", "",
			errors.New("storage backend is not available in this environment"))
	}

	persisted, err := e.storage.Persist(ctx)
	switch {
	case err != nil:
		e.logger.Warn("persistence request failed", map[string]any{
			"backend": e.storage.Name(),
			"error":   err.Error(),
		})
	default:
		e.logger.Debug("persistence requested", map[string]any{
			"backend":   e.storage.Name(),
			"persisted": persisted,
		})
	}

	if _, err := e.storage.Root(ctx); err != nil {
		return err
	}
	return nil
}

// List returns the visible file names in locale order.
// Directories and dot-prefixed names are excluded.
func (e *Executor) List(ctx context.Context) ([]string, error) {
	dir, err := e.root(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := dir.Entries(ctx)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Kind != backend.KindFile || strings.HasPrefix(entry.Name, ".") {
			continue
		}
		names = append(names, entry.Name)
	}

	// Collators are not safe for concurrent use.
	c := collate.New(e.locale)
	slices.SortFunc(names, func(a, b string) int {
		if r := c.CompareString(a, b); r != 0 {
			return r
		}
		return strings.Compare(a, b)
	})
	return names, nil
}

// Create writes content to name, creating the file if needed, and returns
// the stored name.
func (e *Executor) Create(ctx context.Context, name, content string) (string, error) {
	dir, err := e.root(ctx)
	if err != nil {
		return "", err
	}
	fh, err := dir.FileHandle(ctx, name, true)
	if err != nil {
		return "", err
	}
	if err := e.overwrite(ctx, fh, content); err != nil {
		return "", err
	}
	return fh.Name(), nil
}

// Read returns the full text of an existing file.
func (e *Executor) Read(ctx context.Context, name string) (string, error) {
	dir, err := e.root(ctx)
	if err != nil {
		return "", err
	}
	fh, err := dir.FileHandle(ctx, name, false)
	if err != nil {
		return "", err
	}
	f, err := fh.File(ctx)
	if err != nil {
		return "", err
	}

	e.logger.Debug("file read", map[string]any{
		"file_name":     f.Name,
		"size":          f.Size,
		"last_modified": f.LastModified,
	})

	text := f.Text()
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, string(utf8.RuneError))
	}
	return text, nil
}

// Update replaces the content of an existing file.
func (e *Executor) Update(ctx context.Context, name, content string) error {
	dir, err := e.root(ctx)
	if err != nil {
		return err
	}
	fh, err := dir.FileHandle(ctx, name, false)
	if err != nil {
		return err
	}
	return e.overwrite(ctx, fh, content)
}

// Delete removes an existing file.
func (e *Executor) Delete(ctx context.Context, name string) error {
	dir, err := e.root(ctx)
	if err != nil {
		return err
	}
	return dir.RemoveEntry(ctx, name)
}

func (e *Executor) root(ctx context.Context) (backend.Directory, error) {
	if e.storage == nil {
		return nil, backend.NewStorageError(backend.ErrUnsupported, "open root", "",
			errors.New("no storage backend configured"))
	}
	return e.storage.Root(ctx)
}

// overwrite replaces the file body under one exclusive sync handle:
// truncate, write at 0, flush. The handle is closed on every path.
func (e *Executor) overwrite(ctx context.Context, fh backend.FileHandle, content string) (err error) {
	h, err := fh.CreateSyncAccessHandle(ctx)
	if err != nil {
		return err
	}
	defer iox.CloseInto(&err, h)

	if err := h.Truncate(0); err != nil {
		return err
	}
	data := []byte(content)
	n, err := h.Write(data, 0)
	if err != nil {
		return err
	}
	if n != len(data) {
		return backend.NewStorageError(backend.ErrIO, "write", fh.Name(),
			fmt.Errorf("short write: %d of %d bytes: %w", n, len(data), io.ErrShortWrite))
	}
	return h.Flush()
}
