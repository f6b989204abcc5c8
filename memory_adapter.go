package kvengine

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
)

// memoryAdapter implements rawAdapter over process-local maps, per
// spec §4.2. It is guarded by a RWMutex rather than sync.Map — the
// same explicit-mutex posture the pack's cache implementations take
// (other_examples' EnterpriseCache guards its maps with
// sync.RWMutex) — since reads vastly outnumber writes but writes
// must still serialise.
type memoryAdapter struct {
	mu     sync.RWMutex
	values map[string]string
	meta   map[string]*Metadata
	closed bool
}

func newMemoryAdapter() *memoryAdapter {
	return &memoryAdapter{
		values: make(map[string]string),
		meta:   make(map[string]*Metadata),
	}
}

func (m *memoryAdapter) initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = false
	return nil
}

// close clears both maps, per spec §4.2.
func (m *memoryAdapter) close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values = make(map[string]string)
	m.meta = make(map[string]*Metadata)
	m.closed = true
	return nil
}

func (m *memoryAdapter) getRaw(ctx context.Context, key string) (*StorageRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, false, nil
	}
	value, ok := m.values[key]
	if !ok {
		return nil, false, nil
	}
	return &StorageRecord{Value: value, Metadata: m.meta[key]}, true, nil
}

func (m *memoryAdapter) setRaw(ctx context.Context, key string, rec *StorageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.values[key] = rec.Value
	m.meta[key] = rec.Metadata
	return nil
}

func (m *memoryAdapter) deleteRaw(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	delete(m.meta, key)
	return nil
}

func (m *memoryAdapter) clearRaw(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values = make(map[string]string)
	m.meta = make(map[string]*Metadata)
	return nil
}

func (m *memoryAdapter) listRaw(ctx context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for key := range m.values {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (m *memoryAdapter) countRaw(ctx context.Context, prefix string) (int, error) {
	keys, _ := m.listRaw(ctx, prefix)
	return len(keys), nil
}

func (m *memoryAdapter) hasRaw(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.values[key]
	return ok, nil
}

// sizeBytesRaw sums 2*len(key) + 2*len(JSON(value)) + 2*len(JSON(metadata))
// per spec §4.2. The value is already stored as its wire string, so
// its JSON length is simply its byte length.
func (m *memoryAdapter) sizeBytesRaw(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total int64
	for key, value := range m.values {
		total += int64(2 * len(key))
		total += int64(2 * len(value))
		if meta, ok := m.meta[key]; ok {
			if b, err := json.Marshal(meta); err == nil {
				total += int64(2 * len(b))
			}
		}
	}
	return total, nil
}

func (m *memoryAdapter) updateAccessRaw(ctx context.Context, key string, accessedAtMs int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if meta, ok := m.meta[key]; ok {
		meta.SetAccessedAt(accessedAtMs).BumpAccessCount()
	}
	return nil
}
