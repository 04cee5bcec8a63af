package cache

import (
	"sync"
	"time"
)

type memEntry struct {
	payload   []byte
	expiresAt time.Time
}

// Memory is the in-process tier. Expiry is checked lazily on read; a hit
// never touches the shared store.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memEntry
}

// NewMemory creates an empty tier-1 cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memEntry)}
}

// Get returns a copy of the payload if the entry exists and is unexpired.
func (m *Memory) Get(key string) ([]byte, bool) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return append([]byte(nil), e.payload...), true
}

// Set stores a copy of the payload under key for ttl.
func (m *Memory) Set(key string, payload []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	m.mu.Lock()
	m.entries[key] = memEntry{
		payload:   append([]byte(nil), payload...),
		expiresAt: time.Now().Add(ttl),
	}
	m.mu.Unlock()
}

// Purge drops expired entries. Called opportunistically; correctness does
// not depend on it.
func (m *Memory) Purge() int {
	now := time.Now()
	removed := 0
	m.mu.Lock()
	for k, e := range m.entries {
		if now.After(e.expiresAt) {
			delete(m.entries, k)
			removed++
		}
	}
	m.mu.Unlock()
	return removed
}

// Len reports the number of stored entries, expired or not.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
