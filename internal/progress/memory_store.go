package progress

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by tests and dry runs.
type MemoryStore struct {
	versionedStore
}

var _ Store = (*MemoryStore)(nil)

type memoryDocs struct {
	mu   sync.Mutex
	docs map[string]memoryDoc
}

type memoryDoc struct {
	doc     []byte
	version int64
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{versionedStore: newVersionedStore(&memoryDocs{docs: make(map[string]memoryDoc)})}
}

func (m *memoryDocs) load(_ context.Context, stream string) ([]byte, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[stream]
	if !ok {
		return nil, 0, fmt.Errorf("stream %q: %w", stream, ErrNotFound)
	}
	return append([]byte(nil), d.doc...), d.version, nil
}

func (m *memoryDocs) insert(_ context.Context, stream string, doc []byte, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[stream]; ok {
		return fmt.Errorf("stream %q already exists: %w", stream, ErrConflict)
	}
	m.docs[stream] = memoryDoc{doc: append([]byte(nil), doc...), version: 1}
	return nil
}

func (m *memoryDocs) swap(_ context.Context, stream string, doc []byte, expected int64, _ time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[stream]
	if !ok {
		return false, fmt.Errorf("stream %q: %w", stream, ErrNotFound)
	}
	if d.version != expected {
		return false, nil
	}
	m.docs[stream] = memoryDoc{doc: append([]byte(nil), doc...), version: expected + 1}
	return true, nil
}

func (m *memoryDocs) close() error { return nil }
