// Package objstore provides the object-addressed blob store consumed by the
// vector storage engine. Objects are whole-file immutable: uploaded once,
// then read by byte range.
package objstore

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Store is the blob store primitive surface.
type Store interface {
	// Upload stores data under path. Paths are never overwritten by the
	// engine; object ids are allocated fresh before every upload.
	Upload(ctx context.Context, path string, data []byte) error

	// Get reads length bytes starting at offset from the object at path.
	Get(ctx context.Context, path string, offset int64, length int64) ([]byte, error)
}

// IDManager allocates globally unique object ids, used for both vector files
// and graph files.
type IDManager interface {
	NewObjectID(ctx context.Context) (uint64, error)
}

// VectorFilePath returns the object path of a vector file.
func VectorFilePath(objectID uint64) string {
	return fmt.Sprintf("vector/%d.data", objectID)
}

// GraphFilePath returns the object path of an HNSW graph file.
func GraphFilePath(objectID uint64) string {
	return fmt.Sprintf("graph/%d.graph", objectID)
}

// CounterIDManager is an in-process IDManager backed by an atomic counter.
type CounterIDManager struct {
	next atomic.Uint64
}

// NewCounterIDManager creates an id manager whose first id is start.
func NewCounterIDManager(start uint64) *CounterIDManager {
	m := &CounterIDManager{}
	m.next.Store(start)
	return m
}

// NewObjectID implements IDManager.
func (m *CounterIDManager) NewObjectID(_ context.Context) (uint64, error) {
	return m.next.Add(1) - 1, nil
}
