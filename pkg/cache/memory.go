package cache

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	value   []byte
	expires time.Time
}

func (e memEntry) live(now time.Time) bool {
	return e.expires.IsZero() || now.Before(e.expires)
}

// Memory is an in-process Store. Once it holds max entries, Set drops expired
// entries and then the one closest to expiry.
type Memory struct {
	mu   sync.Mutex
	data map[string]memEntry
	max  int
	now  func() time.Time
}

var _ Store = (*Memory)(nil)

// NewMemory returns a Memory holding at most max entries; max <= 0 means 1024.
func NewMemory(max int) *Memory {
	if max <= 0 {
		max = 1024
	}
	return &Memory{data: make(map[string]memEntry), max: max, now: time.Now}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[key]
	if !ok {
		return nil, ErrMiss
	}
	if !e.live(m.now()) {
		delete(m.data, key)
		return nil, ErrMiss
	}
	return append([]byte(nil), e.value...), nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if _, ok := m.data[key]; !ok && len(m.data) >= m.max {
		m.evict(now)
	}
	e := memEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expires = now.Add(ttl)
	}
	m.data[key] = e
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

func (m *Memory) Close() error { return nil }

func (m *Memory) evict(now time.Time) {
	var (
		victim string
		soon   time.Time
	)
	for k, e := range m.data {
		if !e.live(now) {
			delete(m.data, k)
			continue
		}
		if !e.expires.IsZero() && (soon.IsZero() || e.expires.Before(soon)) {
			victim, soon = k, e.expires
		}
	}
	if len(m.data) < m.max {
		return
	}
	if victim == "" {
		for k := range m.data {
			victim = k
			break
		}
	}
	delete(m.data, victim)
}
