// Package storage holds object payloads. Metadata lives in pkg/store.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	ErrNotFound   = errors.New("blob not found")
	ErrInvalidKey = errors.New("invalid key")
	ErrCommitted  = errors.New("writer already committed")
	ErrAborted    = errors.New("writer aborted")
)

// Writer receives an object's payload. Nothing is visible to readers until
// Commit; Abort drops whatever was written.
type Writer interface {
	io.Writer
	Commit(ctx context.Context) error
	Abort() error
}

// Backend stores payloads addressed by namespace and key
type Backend interface {
	Create(ctx context.Context, namespace, key string) (Writer, error)
	Open(ctx context.Context, namespace, key string) (io.ReadCloser, int64, error)
	Remove(ctx context.Context, namespace, key string) error
}

// ValidateKey rejects keys that could escape a namespace
func ValidateKey(namespace, key string) error {
	for _, part := range []string{namespace, key} {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidKey, part)
		}
		if strings.ContainsAny(part, "/\\\x00") {
			return fmt.Errorf("%w: %q", ErrInvalidKey, part)
		}
	}
	return nil
}
