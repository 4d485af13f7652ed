package models

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidNamespace = errors.New("invalid namespace")
)

// Namespace groups objects that share limits and access rules
type Namespace struct {
	Name string `json:"name" mapstructure:"name" yaml:"name"`

	// MaxObjectSize is the largest accepted upload in bytes, 0 means unlimited
	MaxObjectSize int64 `json:"max_object_size" mapstructure:"max_object_size" yaml:"max_object_size"`

	// StaticKeys rejects uploads over an existing key instead of replacing it
	StaticKeys bool `json:"static_keys" mapstructure:"static_keys" yaml:"static_keys"`

	// ReadOnly rejects uploads and deletes
	ReadOnly bool `json:"read_only" mapstructure:"read_only" yaml:"read_only"`

	// PublicRead allows downloads without an API key
	PublicRead bool `json:"public_read" mapstructure:"public_read" yaml:"public_read"`

	ContentType string `json:"content_type,omitempty" mapstructure:"content_type" yaml:"content_type,omitempty"`
}

// Validate checks the namespace definition
func (n Namespace) Validate() error {
	if n.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidNamespace)
	}
	if n.MaxObjectSize < 0 {
		return fmt.Errorf("%w: %s: negative max_object_size", ErrInvalidNamespace, n.Name)
	}
	return nil
}

// Allows reports whether an upload of size bytes fits the namespace limit.
// A negative size means the length is unknown.
func (n Namespace) Allows(size int64) bool {
	if n.MaxObjectSize == 0 || size < 0 {
		return true
	}
	return size <= n.MaxObjectSize
}
