package storage

import (
	"bytes"
	"context"
	"io"
	"sync"
)

// MemoryBackend keeps payloads in memory
type MemoryBackend struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryBackend creates an empty in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		blobs: make(map[string][]byte),
	}
}

func blobKey(namespace, key string) string {
	return namespace + "/" + key
}

// Create returns a buffering writer
func (b *MemoryBackend) Create(ctx context.Context, namespace, key string) (Writer, error) {
	if err := ValidateKey(namespace, key); err != nil {
		return nil, err
	}
	return &memoryWriter{backend: b, key: blobKey(namespace, key)}, nil
}

// Open returns a reader over the payload. Stored slices are never modified.
func (b *MemoryBackend) Open(ctx context.Context, namespace, key string) (io.ReadCloser, int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	data, ok := b.blobs[blobKey(namespace, key)]
	if !ok {
		return nil, 0, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

// Remove deletes a payload
func (b *MemoryBackend) Remove(ctx context.Context, namespace, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	k := blobKey(namespace, key)
	if _, ok := b.blobs[k]; !ok {
		return ErrNotFound
	}
	delete(b.blobs, k)
	return nil
}

// Len returns the number of stored payloads
func (b *MemoryBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.blobs)
}

type memoryWriter struct {
	mu      sync.Mutex
	backend *MemoryBackend
	key     string
	buf     bytes.Buffer
	done    bool
	aborted bool
}

func (w *memoryWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.aborted {
		return 0, ErrAborted
	}
	if w.done {
		return 0, ErrCommitted
	}
	return w.buf.Write(p)
}

func (w *memoryWriter) Commit(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.aborted {
		return ErrAborted
	}
	if w.done {
		return ErrCommitted
	}
	w.done = true

	data := make([]byte, w.buf.Len())
	copy(data, w.buf.Bytes())

	w.backend.mu.Lock()
	w.backend.blobs[w.key] = data
	w.backend.mu.Unlock()
	return nil
}

func (w *memoryWriter) Abort() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.done {
		return nil
	}
	w.done = true
	w.aborted = true
	w.buf.Reset()
	return nil
}
