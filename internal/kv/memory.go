package kv

import (
	"context"
	"sync"
	"time"
)

// MemoryKV is an in-process KV used by tests and single-node dev runs —
// the same role miniredis plays for the Redis client, but requiring no
// external process.
type MemoryKV struct {
	mu       sync.Mutex
	counters map[string]windowCounter
	sessions map[string]map[string]time.Time
}

type windowCounter struct {
	count     int
	expiresAt time.Time
}

func NewMemory() *MemoryKV {
	return &MemoryKV{
		counters: map[string]windowCounter{},
		sessions: map[string]map[string]time.Time{},
	}
}

func (m *MemoryKV) IncrWindow(ctx context.Context, key string, ttl time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	c, ok := m.counters[key]
	if !ok || now.After(c.expiresAt) {
		c = windowCounter{count: 0, expiresAt: now.Add(ttl)}
	}
	c.count++
	m.counters[key] = c
	return c.count, nil
}

func (m *MemoryKV) ActiveSessionCount(ctx context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(userID)
	return len(m.sessions[userID]), nil
}

func (m *MemoryKV) RegisterSession(ctx context.Context, userID, sessionID string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[userID] == nil {
		m.sessions[userID] = map[string]time.Time{}
	}
	m.sessions[userID][sessionID] = time.Now().Add(ttl)
	return nil
}

func (m *MemoryKV) ReleaseSession(ctx context.Context, userID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions[userID], sessionID)
	return nil
}

func (m *MemoryKV) expireLocked(userID string) {
	now := time.Now()
	for id, exp := range m.sessions[userID] {
		if now.After(exp) {
			delete(m.sessions[userID], id)
		}
	}
}
