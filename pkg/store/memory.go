package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iderikon/mediastorage-proxy/pkg/models"
)

// MemoryStore is an in-memory implementation of the metadata store
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]*models.Object
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string]*models.Object),
	}
}

func objectKey(namespace, key string) string {
	return namespace + "/" + key
}

// PutObject stores a copy of obj
func (s *MemoryStore) PutObject(ctx context.Context, obj *models.Object, replace bool) (*models.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := objectKey(obj.Namespace, obj.Key)
	existing, ok := s.objects[k]
	if ok && !replace {
		return nil, ErrObjectExists
	}

	stored := *obj
	now := time.Now()
	if ok {
		stored.CreatedAt = existing.CreatedAt
	} else if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	s.objects[k] = &stored
	return existing, nil
}

// GetObject returns a copy of the record
func (s *MemoryStore) GetObject(ctx context.Context, namespace, key string) (*models.Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[objectKey(namespace, key)]
	if !ok {
		return nil, ErrObjectNotFound
	}
	out := *obj
	return &out, nil
}

// DeleteObject removes the record
func (s *MemoryStore) DeleteObject(ctx context.Context, namespace, key string) (*models.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := objectKey(namespace, key)
	obj, ok := s.objects[k]
	if !ok {
		return nil, ErrObjectNotFound
	}
	delete(s.objects, k)
	return obj, nil
}

// ListObjects returns the namespace's records sorted by key
func (s *MemoryStore) ListObjects(ctx context.Context, namespace string) ([]*models.Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	objects := make([]*models.Object, 0)
	for _, obj := range s.objects {
		if obj.Namespace == namespace {
			out := *obj
			objects = append(objects, &out)
		}
	}
	sort.Slice(objects, func(i, j int) bool {
		return objects[i].Key < objects[j].Key
	})
	return objects, nil
}

// Stats aggregates counts per namespace
func (s *MemoryStore) Stats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &Stats{
		ObjectsByNamespace: make(map[string]int),
		BytesByNamespace:   make(map[string]int64),
	}
	for _, obj := range s.objects {
		stats.ObjectsByNamespace[obj.Namespace]++
		stats.BytesByNamespace[obj.Namespace] += obj.Size
		stats.TotalObjects++
		stats.TotalBytes += obj.Size
	}
	return stats, nil
}

// HealthCheck always succeeds
func (s *MemoryStore) HealthCheck() error {
	return nil
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}
