package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/iderikon/mediastorage-proxy/pkg/models"
)

// sqlStore holds the queries shared by the SQLite and PostgreSQL stores.
// Queries are written with '?' placeholders and rebound per driver.
type sqlStore struct {
	db      *sql.DB
	dollars bool // PostgreSQL style $N placeholders
}

const objectsSchema = `
CREATE TABLE IF NOT EXISTS objects (
	id TEXT NOT NULL,
	namespace TEXT NOT NULL,
	key TEXT NOT NULL,
	size BIGINT NOT NULL,
	content_type TEXT NOT NULL DEFAULT '',
	checksum TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (namespace, key)
);
CREATE INDEX IF NOT EXISTS idx_objects_created_at ON objects(created_at);
`

func (s *sqlStore) rebind(query string) string {
	if !s.dollars {
		return query
	}

	var b strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

func (s *sqlStore) initSchema() error {
	if _, err := s.db.Exec(objectsSchema); err != nil {
		return fmt.Errorf("failed to create objects table: %w", err)
	}
	return nil
}

// PutObject inserts or replaces an object record
func (s *sqlStore) PutObject(ctx context.Context, obj *models.Object, replace bool) (*models.Object, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	existing, err := s.lockObject(ctx, tx, obj.Namespace, obj.Key)

	now := time.Now().UTC()
	switch {
	case errors.Is(err, sql.ErrNoRows):
		createdAt := obj.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		_, err = tx.ExecContext(ctx, s.rebind(`
			INSERT INTO objects (id, namespace, key, size, content_type, checksum, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
			obj.ID, obj.Namespace, obj.Key, obj.Size, obj.ContentType, obj.Checksum, createdAt, now)
	case err != nil:
		return nil, fmt.Errorf("failed to look up object: %w", err)
	case !replace:
		return nil, ErrObjectExists
	default:
		_, err = tx.ExecContext(ctx, s.rebind(`
			UPDATE objects SET id = ?, size = ?, content_type = ?, checksum = ?, updated_at = ?
			WHERE namespace = ? AND key = ?`),
			obj.ID, obj.Size, obj.ContentType, obj.Checksum, now, obj.Namespace, obj.Key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to store object: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit object: %w", err)
	}
	return existing, nil
}

// lockObject reads a record inside tx. PostgreSQL locks the row until the
// transaction ends; SQLite runs a single writer anyway.
func (s *sqlStore) lockObject(ctx context.Context, tx *sql.Tx, namespace, key string) (*models.Object, error) {
	query := `
		SELECT id, namespace, key, size, content_type, checksum, created_at, updated_at
		FROM objects WHERE namespace = ? AND key = ?`
	if s.dollars {
		query += " FOR UPDATE"
	}
	return scanObject(tx.QueryRowContext(ctx, s.rebind(query), namespace, key))
}

// GetObject retrieves an object record
func (s *sqlStore) GetObject(ctx context.Context, namespace, key string) (*models.Object, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, namespace, key, size, content_type, checksum, created_at, updated_at
		FROM objects WHERE namespace = ? AND key = ?`), namespace, key)

	obj, err := scanObject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrObjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	return obj, nil
}

// DeleteObject removes an object record
func (s *sqlStore) DeleteObject(ctx context.Context, namespace, key string) (*models.Object, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	obj, err := s.lockObject(ctx, tx, namespace, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrObjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up object: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		s.rebind(`DELETE FROM objects WHERE namespace = ? AND key = ?`), namespace, key); err != nil {
		return nil, fmt.Errorf("failed to delete object: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to delete object: %w", err)
	}
	return obj, nil
}

// ListObjects returns the records of a namespace sorted by key
func (s *sqlStore) ListObjects(ctx context.Context, namespace string) ([]*models.Object, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, namespace, key, size, content_type, checksum, created_at, updated_at
		FROM objects WHERE namespace = ? ORDER BY key`), namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}
	defer rows.Close()

	objects := make([]*models.Object, 0)
	for rows.Next() {
		obj, err := scanObject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan object: %w", err)
		}
		objects = append(objects, obj)
	}
	return objects, rows.Err()
}

// Stats aggregates counts per namespace
func (s *sqlStore) Stats(ctx context.Context) (*Stats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT namespace, COUNT(*), COALESCE(SUM(size), 0) FROM objects GROUP BY namespace`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	stats := &Stats{
		ObjectsByNamespace: make(map[string]int),
		BytesByNamespace:   make(map[string]int64),
	}
	for rows.Next() {
		var (
			namespace string
			count     int
			bytes     int64
		)
		if err := rows.Scan(&namespace, &count, &bytes); err != nil {
			return nil, fmt.Errorf("failed to scan stats: %w", err)
		}
		stats.ObjectsByNamespace[namespace] = count
		stats.BytesByNamespace[namespace] = bytes
		stats.TotalObjects += count
		stats.TotalBytes += bytes
	}
	return stats, rows.Err()
}

// HealthCheck verifies database connectivity
func (s *sqlStore) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Close closes the database
func (s *sqlStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanObject(row scanner) (*models.Object, error) {
	var obj models.Object
	err := row.Scan(&obj.ID, &obj.Namespace, &obj.Key, &obj.Size, &obj.ContentType,
		&obj.Checksum, &obj.CreatedAt, &obj.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &obj, nil
}
