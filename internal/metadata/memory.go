package metadata

import (
	"context"
	"sort"
	"sync"
)

var (
	_ Advancer = (*MemoryStore)(nil)
	_ Lister   = (*MemoryStore)(nil)
)

// MemoryStore is a process-local Store. Markers are lost on restart.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryStore) Put(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

// Entries lists the markers ordered by key.
func (m *MemoryStore) Entries(context.Context) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := make([]Entry, 0, len(m.values))
	for k, v := range m.values {
		entries = append(entries, Entry{Key: k, Value: v})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

func (m *MemoryStore) Advance(_ context.Context, key string, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var current int64
	if v, ok := m.values[key]; ok {
		parsed, err := ParseMarker(v)
		if err != nil {
			return false, err
		}
		current = parsed
	}
	if id <= current {
		return false, nil
	}
	m.values[key] = FormatMarker(id)
	return true, nil
}
