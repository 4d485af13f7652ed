package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// FSBackend stores each blob as a file under root/<namespace>/<key>
type FSBackend struct {
	root string
}

// NewFSBackend creates a filesystem backend, creating root if needed
func NewFSBackend(root string) (*FSBackend, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage root %s: %w", root, err)
	}
	return &FSBackend{root: root}, nil
}

// Root returns the storage directory
func (b *FSBackend) Root() string {
	return b.root
}

func (b *FSBackend) path(namespace, key string) string {
	return filepath.Join(b.root, namespace, key)
}

// Create opens a temporary file that is renamed into place on Commit
func (b *FSBackend) Create(ctx context.Context, namespace, key string) (Writer, error) {
	if err := ValidateKey(namespace, key); err != nil {
		return nil, err
	}

	dir := filepath.Join(b.root, namespace)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create namespace directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+key+".upload-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}

	return &fsWriter{file: tmp, final: b.path(namespace, key)}, nil
}

// Open opens a committed object
func (b *FSBackend) Open(ctx context.Context, namespace, key string) (io.ReadCloser, int64, error) {
	if err := ValidateKey(namespace, key); err != nil {
		return nil, 0, err
	}

	f, err := os.Open(b.path(namespace, key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, fmt.Errorf("failed to open blob: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("failed to stat blob: %w", err)
	}
	return f, info.Size(), nil
}

// Remove deletes a committed object
func (b *FSBackend) Remove(ctx context.Context, namespace, key string) error {
	if err := ValidateKey(namespace, key); err != nil {
		return err
	}

	if err := os.Remove(b.path(namespace, key)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to remove blob: %w", err)
	}
	return nil
}

type fsWriter struct {
	mu      sync.Mutex
	file    *os.File
	final   string
	done    bool
	aborted bool
}

func (w *fsWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.aborted {
		return 0, ErrAborted
	}
	if w.done {
		return 0, ErrCommitted
	}
	return w.file.Write(p)
}

func (w *fsWriter) Commit(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.aborted {
		return ErrAborted
	}
	if w.done {
		return ErrCommitted
	}
	w.done = true

	if err := w.file.Sync(); err != nil {
		w.discard()
		return fmt.Errorf("failed to sync blob: %w", err)
	}
	if err := w.file.Close(); err != nil {
		os.Remove(w.file.Name())
		return fmt.Errorf("failed to close blob: %w", err)
	}
	if err := ctx.Err(); err != nil {
		os.Remove(w.file.Name())
		return err
	}
	if err := os.Rename(w.file.Name(), w.final); err != nil {
		os.Remove(w.file.Name())
		return fmt.Errorf("failed to commit blob: %w", err)
	}
	return nil
}

func (w *fsWriter) Abort() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.done {
		return nil
	}
	w.done = true
	w.aborted = true
	return w.discard()
}

func (w *fsWriter) discard() error {
	w.file.Close()
	if err := os.Remove(w.file.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
