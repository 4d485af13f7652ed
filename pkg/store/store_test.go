package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/iderikon/mediastorage-proxy/pkg/models"
)

func newObject(namespace, key string, size int64) *models.Object {
	return &models.Object{
		ID:          uuid.New().String(),
		Namespace:   namespace,
		Key:         key,
		Size:        size,
		ContentType: "image/jpeg",
		Checksum:    fmt.Sprintf("%064x", size),
	}
}

// testObjectOperations runs the behavior every Store must share
func testObjectOperations(t *testing.T, s Store, namespace string) {
	ctx := context.Background()

	if _, err := s.GetObject(ctx, namespace, "missing"); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("Expected ErrObjectNotFound, got %v", err)
	}

	first := newObject(namespace, "b.jpg", 10)
	prev, err := s.PutObject(ctx, first, false)
	if err != nil {
		t.Fatalf("Failed to put object: %v", err)
	}
	if prev != nil {
		t.Errorf("Expected no previous record for a new key, got %+v", prev)
	}

	got, err := s.GetObject(ctx, namespace, "b.jpg")
	if err != nil {
		t.Fatalf("Failed to get object: %v", err)
	}
	if got.ID != first.ID || got.Size != 10 || got.Checksum != first.Checksum || got.ContentType != "image/jpeg" {
		t.Errorf("Unexpected object: %+v", got)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Errorf("Expected timestamps to be set, got %+v", got)
	}
	created := got.CreatedAt

	if _, err := s.PutObject(ctx, newObject(namespace, "b.jpg", 20), false); !errors.Is(err, ErrObjectExists) {
		t.Fatalf("Expected ErrObjectExists, got %v", err)
	}

	time.Sleep(10 * time.Millisecond)
	replacement := newObject(namespace, "b.jpg", 20)
	prev, err = s.PutObject(ctx, replacement, true)
	if err != nil {
		t.Fatalf("Failed to replace object: %v", err)
	}
	if prev == nil || prev.ID != first.ID || prev.Size != 10 {
		t.Errorf("Expected replaced record %s, got %+v", first.ID, prev)
	}
	got, err = s.GetObject(ctx, namespace, "b.jpg")
	if err != nil {
		t.Fatalf("Failed to get replaced object: %v", err)
	}
	if got.ID != replacement.ID || got.Size != 20 {
		t.Errorf("Replacement not stored: %+v", got)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("Replace changed created_at from %v to %v", created, got.CreatedAt)
	}

	second := newObject(namespace, "a.jpg", 5)
	if _, err := s.PutObject(ctx, second, false); err != nil {
		t.Fatalf("Failed to put second object: %v", err)
	}
	if _, err := s.PutObject(ctx, newObject(namespace+"-other", "c.jpg", 7), false); err != nil {
		t.Fatalf("Failed to put object in other namespace: %v", err)
	}

	objects, err := s.ListObjects(ctx, namespace)
	if err != nil {
		t.Fatalf("Failed to list objects: %v", err)
	}
	if len(objects) != 2 || objects[0].Key != "a.jpg" || objects[1].Key != "b.jpg" {
		t.Errorf("Expected [a.jpg b.jpg], got %d objects", len(objects))
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Failed to get stats: %v", err)
	}
	if stats.ObjectsByNamespace[namespace] != 2 || stats.BytesByNamespace[namespace] != 25 {
		t.Errorf("Unexpected stats for %s: %d objects, %d bytes", namespace,
			stats.ObjectsByNamespace[namespace], stats.BytesByNamespace[namespace])
	}

	deleted, err := s.DeleteObject(ctx, namespace, "a.jpg")
	if err != nil {
		t.Fatalf("Failed to delete object: %v", err)
	}
	if deleted.ID != second.ID {
		t.Errorf("Expected deleted record %s, got %s", second.ID, deleted.ID)
	}
	if _, err := s.DeleteObject(ctx, namespace, "a.jpg"); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("Expected ErrObjectNotFound on second delete, got %v", err)
	}

	if err := s.HealthCheck(); err != nil {
		t.Errorf("Health check failed: %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	testObjectOperations(t, s, "photos")
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	obj := newObject("photos", "a.jpg", 1)
	if _, err := s.PutObject(ctx, obj, false); err != nil {
		t.Fatalf("Failed to put object: %v", err)
	}
	obj.Size = 99

	got, _ := s.GetObject(ctx, "photos", "a.jpg")
	got.Key = "mutated"

	again, _ := s.GetObject(ctx, "photos", "a.jpg")
	if again.Size != 1 || again.Key != "a.jpg" {
		t.Errorf("Store shares memory with callers: %+v", again)
	}
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "objects.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer s.Close()

	testObjectOperations(t, s, "photos")

	if err := s.Vacuum(); err != nil {
		t.Errorf("Vacuum failed: %v", err)
	}
}

// TestSQLiteConcurrentPuts checks that concurrent writers don't hit SQLITE_BUSY
func TestSQLiteConcurrentPuts(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "objects.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer s.Close()

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, err := s.PutObject(context.Background(), newObject("bulk", fmt.Sprintf("k-%02d", idx), int64(idx)), true)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Concurrent put failed: %v", err)
		}
	}

	objects, err := s.ListObjects(context.Background(), "bulk")
	if err != nil {
		t.Fatalf("Failed to list objects: %v", err)
	}
	if len(objects) != n {
		t.Errorf("Expected %d objects, got %d", n, len(objects))
	}
}

func TestNewStore(t *testing.T) {
	s, err := NewStore(Config{Type: "memory"})
	if err != nil {
		t.Fatalf("Failed to create memory store: %v", err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Errorf("Expected *MemoryStore, got %T", s)
	}

	s, err = NewStore(Config{Type: "sqlite", DSN: filepath.Join(t.TempDir(), "x.db")})
	if err != nil {
		t.Fatalf("Failed to create sqlite store: %v", err)
	}
	s.Close()

	if _, err := NewStore(Config{Type: "mongo"}); !errors.Is(err, ErrUnsupportedDatabase) {
		t.Errorf("Expected ErrUnsupportedDatabase, got %v", err)
	}
	if _, err := NewStore(Config{Type: "postgres"}); err == nil {
		t.Error("Expected error for postgres without DSN")
	}
}

func TestRebind(t *testing.T) {
	s := &sqlStore{dollars: true}
	got := s.rebind("SELECT * FROM objects WHERE namespace = ? AND key = ?")
	want := "SELECT * FROM objects WHERE namespace = $1 AND key = $2"
	if got != want {
		t.Errorf("rebind() = %q, want %q", got, want)
	}

	plain := &sqlStore{}
	if q := plain.rebind("a = ?"); q != "a = ?" {
		t.Errorf("rebind() without dollars changed query to %q", q)
	}
}

// TestPostgreSQLIntegration tests the PostgreSQL store with a real database
// Set DATABASE_DSN environment variable to run: export DATABASE_DSN="postgresql://..."
func TestPostgreSQLIntegration(t *testing.T) {
	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" {
		t.Skip("Skipping PostgreSQL integration test: DATABASE_DSN not set")
	}

	s, err := NewStore(Config{Type: "postgres", DSN: dsn})
	if err != nil {
		t.Fatalf("Failed to create PostgreSQL store: %v", err)
	}
	defer s.Close()

	// Unique namespace so repeated runs don't collide
	testObjectOperations(t, s, "it-"+uuid.New().String()[:8])
}
