package store

import (
	"context"
	"errors"
	"time"

	"github.com/iderikon/mediastorage-proxy/pkg/models"
)

var (
	ErrObjectNotFound      = errors.New("object not found")
	ErrObjectExists        = errors.New("object already exists")
	ErrUnsupportedDatabase = errors.New("unsupported database type")
)

// Store defines the interface for object metadata persistence.
// Memory, SQLite and PostgreSQL implement it.
type Store interface {
	// PutObject inserts or replaces the record for (namespace, key) and
	// returns the record it replaced, nil for a new key. With replace=false
	// an existing record yields ErrObjectExists.
	PutObject(ctx context.Context, obj *models.Object, replace bool) (*models.Object, error)
	GetObject(ctx context.Context, namespace, key string) (*models.Object, error)
	// DeleteObject removes the record and returns it
	DeleteObject(ctx context.Context, namespace, key string) (*models.Object, error)
	ListObjects(ctx context.Context, namespace string) ([]*models.Object, error)
	Stats(ctx context.Context) (*Stats, error)

	// Lifecycle
	HealthCheck() error
	Close() error
}

// Stats contains aggregated object counts per namespace
type Stats struct {
	ObjectsByNamespace map[string]int
	BytesByNamespace   map[string]int64
	TotalObjects       int
	TotalBytes         int64
}

// Config holds database configuration
type Config struct {
	Type string `mapstructure:"type" yaml:"type"` // "memory", "sqlite" or "postgres"
	DSN  string `mapstructure:"dsn" yaml:"dsn"`   // Connection string or SQLite path

	// PostgreSQL specific
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

// NewStore creates a store based on configuration
func NewStore(config Config) (Store, error) {
	switch config.Type {
	case "memory":
		return NewMemoryStore(), nil
	case "postgres", "postgresql":
		return NewPostgreSQLStore(config)
	case "sqlite", "":
		path := config.DSN
		if path == "" {
			path = "mdsproxy.db"
		}
		return NewSQLiteStore(path)
	default:
		return nil, ErrUnsupportedDatabase
	}
}
