package store

import (
	"context"
	"sync"
)

type memoryEntry struct {
	data []byte
	meta Meta
}

// MemoryStore is a process-local BlobStore.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry)}
}

// Store keeps a copy of data.
func (s *MemoryStore) Store(ctx context.Context, data []byte, meta Meta) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := newID()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = memoryEntry{data: append([]byte(nil), data...), meta: stamp(meta, len(data))}
	return id, nil
}

// Get returns a copy of the stored bytes.
func (s *MemoryStore) Get(ctx context.Context, id string) ([]byte, *Meta, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, nil, ErrNotFound
	}
	meta := e.meta
	return append([]byte(nil), e.data...), &meta, nil
}

// Delete removes an entry.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return ErrNotFound
	}
	delete(s.entries, id)
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// Len returns the number of stored documents.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
