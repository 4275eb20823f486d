package persistence

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps values in process memory. The quota applies to the sum of
// all values, which makes it handy to exercise shrinking in tests.
type MemoryStore struct {
	data  map[string][]byte
	quota int
	sync.RWMutex
}

func NewMemoryStore(quotaBytes int) *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte), quota: quotaBytes}
}

func (m *MemoryStore) Save(_ context.Context, key string, value []byte) error {
	m.Lock()
	defer m.Unlock()
	if m.quota > 0 {
		total := len(value)
		for k, v := range m.data {
			if k != key {
				total += len(v)
			}
		}
		if total > m.quota {
			return quotaError(key, total, m.quota)
		}
	}
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryStore) Load(_ context.Context, key string) ([]byte, bool, error) {
	m.RLock()
	defer m.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.Lock()
	defer m.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemoryStore) Keys(_ context.Context) ([]string, error) {
	m.RLock()
	defer m.RUnlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// SetQuota changes the quota of subsequent writes.
func (m *MemoryStore) SetQuota(quotaBytes int) {
	m.Lock()
	defer m.Unlock()
	m.quota = quotaBytes
}
