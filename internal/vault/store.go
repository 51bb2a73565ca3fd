package vault

import (
	"context"
	"sync"
)

// SessionStore holds envelopes for the life of a session. Implementations
// must not survive process termination.
type SessionStore interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte)
	Delete(ctx context.Context, key string)
}

// MemoryStore is a process-memory SessionStore. It can be shared by several
// vaults; deletions are broadcast to watchers so siblings drop cached state.
type MemoryStore struct {
	mu       sync.RWMutex
	data     map[string][]byte
	watchers map[int]func(key string)
	nextID   int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: map[string][]byte{}, watchers: map[int]func(string){}}
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true
}

func (m *MemoryStore) Set(_ context.Context, key string, value []byte) {
	v := make([]byte, len(value))
	copy(v, value)
	m.mu.Lock()
	m.data[key] = v
	m.mu.Unlock()
}

func (m *MemoryStore) Delete(_ context.Context, key string) {
	m.mu.Lock()
	_, existed := m.data[key]
	delete(m.data, key)
	watchers := make([]func(string), 0, len(m.watchers))
	for _, w := range m.watchers {
		watchers = append(watchers, w)
	}
	m.mu.Unlock()
	if !existed {
		return
	}
	for _, w := range watchers {
		w(key)
	}
}

// Len is the number of stored entries.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// Watch registers fn for deletions and returns an unsubscribe func.
func (m *MemoryStore) Watch(fn func(key string)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.watchers[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.watchers, id)
		m.mu.Unlock()
	}
}
