// Package store implements SessionStore (§4.7): transactional envelope
// persistence with optimistic versioning, an append-only message log,
// and an audit trail. Two backends are provided: a Postgres-backed one
// (lib/pq, the teacher's driver of choice) for production, and an
// in-memory one for unit tests and the pure-core property tests of §8.
package store

import (
	"context"
	"time"

	"atomic-guide-cac/internal/domain"
)

// AuditEntry is a non-critical telemetry record appended outside the
// per-turn CAS.
type AuditEntry struct {
	Timestamp time.Time
	Actor     string
	Action    string
	Detail    map[string]any
}

// Store is the transactional contract the engine depends on.
type Store interface {
	// Create writes the envelope plus its initial messages in one
	// transaction, at version 1.
	Create(ctx context.Context, session *domain.Session) error

	// Load returns the envelope and its full, timestamp-ordered message
	// list, plus the current version.
	Load(ctx context.Context, sessionID string) (*domain.Session, int, error)

	// Commit atomically persists next as version expectedVersion+1 (the
	// store sets next.Version) iff the stored version is still
	// expectedVersion; only new messages/checks are appended, existing
	// ones are never rewritten. Returns errs.Conflict on a version
	// mismatch.
	Commit(ctx context.Context, next *domain.Session, expectedVersion int) error

	// AppendAudit writes a non-critical telemetry entry outside the CAS.
	AppendAudit(ctx context.Context, sessionID string, entry AuditEntry) error

	// Audit returns every audit entry recorded for sessionID, oldest
	// first. Backs the supplemental audit read endpoint (§4.9).
	Audit(ctx context.Context, sessionID string) ([]AuditEntry, error)

	// Delete removes a session after a prior audit write recording who
	// requested it.
	Delete(ctx context.Context, sessionID string, actor string) error
}
