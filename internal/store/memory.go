package store

import (
	"context"
	"sync"

	"atomic-guide-cac/internal/domain"
	"atomic-guide-cac/internal/errs"
)

// MemoryStore is an in-process Store used by the pure-core property
// tests (§8) and local dev. It enforces the same optimistic-CAS contract
// as the Postgres backend.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
	audit    map[string][]AuditEntry
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		sessions: map[string]*domain.Session{},
		audit:    map[string][]AuditEntry{},
	}
}

func (m *MemoryStore) Create(ctx context.Context, session *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[session.SessionID]; ok {
		return errs.New(errs.Conflict, "session already exists")
	}
	session.Version = 1
	m.sessions[session.SessionID] = session.Clone()
	return nil
}

func (m *MemoryStore) Load(ctx context.Context, sessionID string) (*domain.Session, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, 0, errs.New(errs.NotFound, "session not found")
	}
	return s.Clone(), s.Version, nil
}

func (m *MemoryStore) Commit(ctx context.Context, next *domain.Session, expectedVersion int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.sessions[next.SessionID]
	if !ok {
		return errs.New(errs.NotFound, "session not found")
	}
	if current.Version != expectedVersion {
		return errs.New(errs.Conflict, "version mismatch")
	}
	if next.Version != expectedVersion+1 {
		next.Version = expectedVersion + 1
	}
	m.sessions[next.SessionID] = next.Clone()
	return nil
}

func (m *MemoryStore) AppendAudit(ctx context.Context, sessionID string, entry AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit[sessionID] = append(m.audit[sessionID], entry)
	return nil
}

func (m *MemoryStore) Audit(ctx context.Context, sessionID string) ([]AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AuditEntry(nil), m.audit[sessionID]...), nil
}

func (m *MemoryStore) Delete(ctx context.Context, sessionID string, actor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return errs.New(errs.NotFound, "session not found")
	}
	m.audit[sessionID] = append(m.audit[sessionID], AuditEntry{Action: "delete", Actor: actor})
	delete(m.sessions, sessionID)
	return nil
}
