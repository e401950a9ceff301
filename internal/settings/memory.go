package settings

import (
	"context"
	"sync"
)

// MemoryStore keeps settings in process memory. Nothing survives a restart.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]int)}
}

func (m *MemoryStore) GetInt(_ context.Context, key string, def int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.values[key]; ok {
		return v
	}
	return def
}

func (m *MemoryStore) PutInt(_ context.Context, key string, value int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}
