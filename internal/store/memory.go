package store

import (
	"sync"
)

// MemoryTier is the session-scoped storage tier: values live only as long as
// the process, mirroring the browser's sessionStorage. Safe for concurrent
// use.
type MemoryTier struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryTier() *MemoryTier {
	return &MemoryTier{
		values: make(map[string]string),
	}
}

func (m *MemoryTier) Get(key string) (string, bool) {
	m.mu.RLock()
	v, ok := m.values[key]
	m.mu.RUnlock()
	return v, ok
}

func (m *MemoryTier) Set(key string, value string) error {
	m.mu.Lock()
	m.values[key] = value
	m.mu.Unlock()
	return nil
}

func (m *MemoryTier) Remove(key string) error {
	m.mu.Lock()
	delete(m.values, key)
	m.mu.Unlock()
	return nil
}
