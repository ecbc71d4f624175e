package store

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// KV is the namespaced key-value interface the mutation log persists into.
//
// Implementations must be safe for concurrent use.
type KV interface {
	// Get returns the value for key; ok is false when the key is absent.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Set stores value under key.
	Set(ctx context.Context, key string, value []byte) error

	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
}

// Lister is implemented by KVs that can enumerate keys.
type Lister interface {
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Memory is an in-memory KV. The zero value is not usable; use NewMemory.
type Memory struct {
	mu   sync.Mutex
	data map[string]memEntry
	seq  int64
}

type memEntry struct {
	value []byte
	seq   int64
}

var (
	_ KV     = (*Memory)(nil)
	_ Lister = (*Memory)(nil)
)

// NewMemory creates an empty in-memory KV.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]memEntry)}
}

// Get returns a copy of the value stored under key.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

// Set stores a copy of value under key.
func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	m.data[key] = memEntry{value: append([]byte(nil), value...), seq: m.seq}
	return nil
}

// Remove deletes key.
func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, key)
	return nil
}

// Keys lists keys with the given prefix, oldest write first.
func (m *Memory) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	type keyed struct {
		key string
		seq int64
	}
	var found []keyed
	for k, e := range m.data {
		if strings.HasPrefix(k, prefix) {
			found = append(found, keyed{key: k, seq: e.seq})
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].seq < found[j].seq })

	keys := make([]string, len(found))
	for i, f := range found {
		keys[i] = f.key
	}
	return keys, nil
}

// Len returns the number of stored keys.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}
