package cache

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	value     []byte
	expiresAt time.Time
}

type memLock struct {
	token     uint64
	expiresAt time.Time
}

// Memory implements Cache inside the process. It is the default when no
// Redis URL is configured, so a single instance still refuses overlapping
// syncs.
type Memory struct {
	mu    sync.RWMutex
	data  map[string]memEntry
	locks map[string]memLock
	gens  map[string]int64
	seq   uint64

	now func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		data:  make(map[string]memEntry),
		locks: make(map[string]memLock),
		gens:  make(map[string]int64),
		now:   time.Now,
	}
}

func (m *Memory) AcquireLock(_ context.Context, key string, ttl time.Duration) (func(), bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if held, ok := m.locks[key]; ok && now.Before(held.expiresAt) {
		return nil, false, nil
	}

	m.seq++
	token := m.seq
	m.locks[key] = memLock{token: token, expiresAt: now.Add(ttl)}

	release := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if held, ok := m.locks[key]; ok && held.token == token {
			delete(m.locks, key)
		}
	}
	return release, true, nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	e, ok := m.data[key]
	m.mu.RUnlock()

	if !ok || !m.now().Before(e.expiresAt) {
		return nil, ErrCacheMiss
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.data[key] = memEntry{value: stored, expiresAt: now.Add(ttl)}

	// Expired entries are swept on write.
	for k, e := range m.data {
		if !now.Before(e.expiresAt) {
			delete(m.data, k)
		}
	}
	return nil
}

func (m *Memory) Generation(_ context.Context, userID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gens[userID], nil
}

func (m *Memory) BumpGeneration(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gens[userID]++
	return m.gens[userID], nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
