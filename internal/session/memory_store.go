package session

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps the document in process memory.
type MemoryStore struct {
	data     []byte
	maxBytes int
	mu       sync.Mutex
}

// NewMemoryStore returns an empty in-memory store. A positive maxBytes
// rejects larger documents with ErrQuotaExceeded.
func NewMemoryStore(maxBytes int) *MemoryStore {
	return &MemoryStore{maxBytes: maxBytes}
}

// Read returns a copy of the stored document.
func (m *MemoryStore) Read(_ context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil, nil
	}
	return append([]byte(nil), m.data...), nil
}

// Write stores a copy of data.
func (m *MemoryStore) Write(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.maxBytes > 0 && len(data) > m.maxBytes {
		return fmt.Errorf("writing %d bytes: %w", len(data), ErrQuotaExceeded)
	}
	m.data = append([]byte(nil), data...)
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}
