package cache

import (
	"context"
	"encoding/json"
	"path"
	"sync"
	"time"
)

// MemStore is an in-process implementation of Store used by unit tests that
// exercise the short-term window engine, rate limiter, or auth caching
// without a running Redis instance. It honors TTL expiry and the same
// atomic-replace contract the real Cache provides.
type MemStore struct {
	mu      sync.Mutex
	values  map[string][]byte
	expires map[string]time.Time
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		values:  make(map[string][]byte),
		expires: make(map[string]time.Time),
	}
}

func (m *MemStore) expired(key string) bool {
	exp, ok := m.expires[key]
	return ok && time.Now().After(exp)
}

func (m *MemStore) purgeLocked(key string) {
	if m.expired(key) {
		delete(m.values, key)
		delete(m.expires, key)
	}
}

func (m *MemStore) Set(_ context.Context, key string, value any, ttl time.Duration) bool {
	b, err := json.Marshal(value)
	if err != nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = b
	if ttl > 0 {
		m.expires[key] = time.Now().Add(ttl)
	} else {
		delete(m.expires, key)
	}
	return true
}

func (m *MemStore) Get(_ context.Context, key string, dst any) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeLocked(key)
	b, ok := m.values[key]
	if !ok {
		return false
	}
	return json.Unmarshal(b, dst) == nil
}

func (m *MemStore) Delete(_ context.Context, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeLocked(key)
	_, ok := m.values[key]
	delete(m.values, key)
	delete(m.expires, key)
	return ok
}

func (m *MemStore) Exists(_ context.Context, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeLocked(key)
	_, ok := m.values[key]
	return ok
}

func (m *MemStore) Expire(_ context.Context, key string, ttl time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeLocked(key)
	if _, ok := m.values[key]; !ok {
		return false
	}
	m.expires[key] = time.Now().Add(ttl)
	return true
}

func (m *MemStore) TTL(_ context.Context, key string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeLocked(key)
	if _, ok := m.values[key]; !ok {
		return -2 * time.Second
	}
	exp, ok := m.expires[key]
	if !ok {
		return -1 * time.Second
	}
	return time.Until(exp)
}

func (m *MemStore) Increment(_ context.Context, key string, amount int64) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeLocked(key)
	var cur int64
	if b, ok := m.values[key]; ok {
		_ = json.Unmarshal(b, &cur)
	}
	cur += amount
	b, _ := json.Marshal(cur)
	m.values[key] = b
	return cur, true
}

func (m *MemStore) SetMany(ctx context.Context, mapping map[string]any, ttl time.Duration) bool {
	for k, v := range mapping {
		if !m.Set(ctx, k, v, ttl) {
			return false
		}
	}
	return true
}

func (m *MemStore) GetMany(_ context.Context, keys []string) map[string]json.RawMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make(map[string]json.RawMessage)
	for _, k := range keys {
		m.purgeLocked(k)
		if b, ok := m.values[k]; ok {
			result[k] = json.RawMessage(b)
		}
	}
	return result
}

func (m *MemStore) DeletePattern(_ context.Context, pattern string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.values {
		if ok, _ := path.Match(pattern, k); ok {
			delete(m.values, k)
			delete(m.expires, k)
			n++
		}
	}
	return n
}

func (m *MemStore) AtomicReplace(ctx context.Context, key string, value any, ttl time.Duration) bool {
	m.mu.Lock()
	delete(m.values, key)
	delete(m.expires, key)
	m.mu.Unlock()
	return m.Set(ctx, key, value, ttl)
}
