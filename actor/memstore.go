package actor

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store, used in tests and single-node setups.
type MemoryStore struct {
	mu    sync.RWMutex
	slots map[string][]byte
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{slots: make(map[string][]byte)}
}

func memKey(kind, key, name string) string {
	return kind + "/" + key + "/" + name
}

func (m *MemoryStore) Load(_ context.Context, kind, key, name string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	raw, ok := m.slots[memKey(kind, key, name)]
	if !ok {
		return nil, false, nil
	}

	out := make([]byte, len(raw))
	copy(out, raw)
	return out, true, nil
}

func (m *MemoryStore) Save(_ context.Context, kind, key, name string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	m.slots[memKey(kind, key, name)] = stored
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, kind, key, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.slots, memKey(kind, key, name))
	return nil
}
