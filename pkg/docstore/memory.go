package docstore

import (
	"context"
	"sort"
	"sync"
)

// MemStore is an in-process Store backed by a map. It is safe for concurrent
// use and is the reference implementation the file and Redis stores are tested
// against.
type MemStore struct {
	mu   sync.Mutex
	docs map[string]Document
}

// NewMemStore creates an empty in-memory document store.
func NewMemStore() *MemStore {
	return &MemStore{docs: make(map[string]Document)}
}

// Get returns the current document and version.
func (m *MemStore) Get(ctx context.Context, id string) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.docs[id]
	if !ok {
		return Document{ID: id}, ErrNotFound
	}

	// Copy the body so callers cannot mutate stored state.
	out := Document{ID: id, Version: doc.Version, Data: append([]byte(nil), doc.Data...)}
	return out, nil
}

// CompareAndSwap conditionally replaces the document body.
func (m *MemStore) CompareAndSwap(ctx context.Context, id string, expectedVersion int64, data []byte) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.docs[id]
	currentVersion := int64(0)
	if ok {
		currentVersion = current.Version
	}

	if currentVersion != expectedVersion {
		return 0, ErrVersionMismatch
	}

	next := Document{
		ID:      id,
		Version: currentVersion + 1,
		Data:    append([]byte(nil), data...),
	}
	m.docs[id] = next
	return next.Version, nil
}

// List returns all document IDs in sorted order.
func (m *MemStore) List(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.docs))
	for id := range m.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete removes a document. Missing documents are ignored.
func (m *MemStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.docs, id)
	return nil
}

// Close is a no-op for the in-memory store.
func (m *MemStore) Close() error {
	return nil
}
