package cache

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	data      []byte
	expiresAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Memory is an in-process Backend with lazy expiration. Locks and values
// share one keyspace, as they do in Redis.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

func (m *Memory) Lock(_ context.Context, key string, ttl time.Duration) (UnlockFunc, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[key]; ok && !e.expired(m.now()) {
		return nil, ErrLocked
	}
	e := &entry{}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.entries[key] = e

	return func(context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		// Identity check: an expired lock may have been taken over.
		if cur, ok := m.entries[key]; ok && cur == e {
			delete(m.entries, key)
		}
		return nil
	}, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	data := make([]byte, len(value))
	copy(data, value)
	e := &entry{data: data}

	m.mu.Lock()
	defer m.mu.Unlock()
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, ErrMiss
	}
	if e.expired(m.now()) {
		delete(m.entries, key)
		return nil, ErrMiss
	}
	out := make([]byte, len(e.data))
	copy(out, e.data)
	return out, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
