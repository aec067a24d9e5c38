// Package store persists the annotation store as a single JSON document.
//
// Writes go to a temporary file that is renamed over the previous document,
// so readers observe either the old or the new store, never a partial one.
// A lock file next to the document keeps indexing runs from writing
// concurrently.
package store

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/google/renameio"

	"github.com/menta2k/image-search/pkg/types"
)

// FileStore reads and writes the annotation store at a fixed path
type FileStore struct {
	path string
}

// New creates a FileStore for the document at path
func New(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the document path
func (s *FileStore) Path() string {
	return s.path
}

// Exists reports whether a store document is present
func (s *FileStore) Exists() bool {
	info, err := os.Stat(s.path)
	return err == nil && !info.IsDir()
}

// Load reads and parses the store. Any failure wraps types.ErrStoreUnavailable.
func (s *FileStore) Load() (*types.AnnotationStore, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: no results at %s, process images first", types.ErrStoreUnavailable, s.path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %s: %v", types.ErrStoreUnavailable, s.path, err)
	}
	st, err := Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", types.ErrStoreUnavailable, s.path, err)
	}
	return st, nil
}

// Save replaces the document with st atomically
func (s *FileStore) Save(st *types.AnnotationStore) error {
	data, err := Marshal(st)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create store directory: %w", err)
		}
	}
	if err := renameio.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write store: %w", err)
	}
	return nil
}

// Lock takes the writer lock without blocking. It fails with
// types.ErrIndexLocked when another process or run holds it.
func (s *FileStore) Lock() (*WriterLock, error) {
	lockPath := s.path + ".lock"
	if dir := filepath.Dir(lockPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create lock directory: %w", err)
		}
	}
	fl := flock.New(lockPath)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s is held", types.ErrIndexLocked, lockPath)
	}
	return &WriterLock{flock: fl}, nil
}

// WriterLock is a held store lock
type WriterLock struct {
	flock *flock.Flock
}

// Unlock releases the lock. Calling it more than once is harmless.
func (l *WriterLock) Unlock() error {
	if l == nil || l.flock == nil {
		return nil
	}
	err := l.flock.Unlock()
	l.flock = nil
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}
