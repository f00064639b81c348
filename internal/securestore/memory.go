package securestore

import (
	"context"
	"sync"
)

// MemoryStore keeps credentials in process memory. Used as the failover
// target when redis is unreachable; contents do not survive a restart.
type MemoryStore struct {
	values sync.Map
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	val, ok := m.values.Load(key)
	if !ok {
		return "", nil
	}
	return val.(string), nil
}

func (m *MemoryStore) Set(ctx context.Context, key, value string) error {
	m.values.Store(key, value)
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.values.Delete(key)
	return nil
}
