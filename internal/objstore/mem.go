package objstore

import (
	"context"
	"sync"

	veldterrors "github.com/veldt-db/veldt/internal/errors"
)

// MemStore is an in-memory Store for tests and benchmarks.
type MemStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{objects: make(map[string][]byte)}
}

// Upload implements Store.
func (s *MemStore) Upload(_ context.Context, path string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := make([]byte, len(data))
	copy(buf, data)
	s.objects[path] = buf
	return nil
}

// Get implements Store.
func (s *MemStore) Get(_ context.Context, path string, offset int64, length int64) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.objects[path]
	if !ok {
		return nil, veldterrors.Newf(veldterrors.ErrCodeObjectRead, "object %s not found", path)
	}
	if offset < 0 || offset+length > int64(len(data)) {
		return nil, veldterrors.Newf(veldterrors.ErrCodeObjectRead,
			"range [%d, %d) out of bounds for object %s of %d bytes", offset, offset+length, path, len(data))
	}

	out := make([]byte, length)
	copy(out, data[offset:offset+length])
	return out, nil
}

// Len returns the number of stored objects.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// Size returns the byte size of the object at path, or -1 if absent.
func (s *MemStore) Size(path string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[path]
	if !ok {
		return -1
	}
	return int64(len(data))
}
