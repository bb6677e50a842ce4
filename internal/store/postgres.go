package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"atomic-guide-cac/internal/domain"
	"atomic-guide-cac/internal/errs"

	_ "github.com/lib/pq"
)

// PostgresStore implements Store on top of database/sql + lib/pq,
// following the teacher's query style (explicit SQL, %w-wrapped errors,
// FOR UPDATE row locks for the CAS path) rather than an ORM.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func Open(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	return db, nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id TEXT PRIMARY KEY,
	config_ref TEXT NOT NULL,
	student_ref TEXT NOT NULL,
	course_ref TEXT NOT NULL,
	status TEXT NOT NULL,
	progress JSONB NOT NULL,
	timing JSONB NOT NULL,
	analytics JSONB NOT NULL,
	security JSONB NOT NULL,
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	session_id TEXT NOT NULL REFERENCES sessions(session_id),
	message_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL,
	metadata JSONB,
	content_hash TEXT NOT NULL,
	integrity JSONB,
	PRIMARY KEY (session_id, timestamp, message_id)
);

CREATE TABLE IF NOT EXISTS audit_log (
	id BIGSERIAL PRIMARY KEY,
	session_id TEXT NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL,
	actor TEXT NOT NULL,
	action TEXT NOT NULL,
	detail JSONB
);
`

// Migrate applies the schema DDL. Idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

func (p *PostgresStore) Create(ctx context.Context, session *domain.Session) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin create: %w", err)
	}
	defer tx.Rollback()

	progressJSON, timingJSON, analyticsJSON, securityJSON, err := marshalEnvelope(session)
	if err != nil {
		return err
	}

	session.Version = 1
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (session_id, config_ref, student_ref, course_ref, status, progress, timing, analytics, security, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, session.SessionID, session.ConfigRef, session.StudentRef, session.CourseRef, session.Status,
		progressJSON, timingJSON, analyticsJSON, securityJSON, session.Version)
	if err != nil {
		return fmt.Errorf("store: insert session: %w", err)
	}

	if err := insertMessages(ctx, tx, session.SessionID, session.Conversation); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit create: %w", err)
	}
	return nil
}

func (p *PostgresStore) Load(ctx context.Context, sessionID string) (*domain.Session, int, error) {
	var s domain.Session
	var progressJSON, timingJSON, analyticsJSON, securityJSON []byte

	row := p.db.QueryRowContext(ctx, `
		SELECT session_id, config_ref, student_ref, course_ref, status, progress, timing, analytics, security, version
		FROM sessions WHERE session_id = $1
	`, sessionID)
	err := row.Scan(&s.SessionID, &s.ConfigRef, &s.StudentRef, &s.CourseRef, &s.Status,
		&progressJSON, &timingJSON, &analyticsJSON, &securityJSON, &s.Version)
	if err == sql.ErrNoRows {
		return nil, 0, errs.New(errs.NotFound, "session not found")
	}
	if err != nil {
		return nil, 0, fmt.Errorf("store: load session: %w", err)
	}
	if err := unmarshalEnvelope(&s, progressJSON, timingJSON, analyticsJSON, securityJSON); err != nil {
		return nil, 0, err
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT message_id, role, content, timestamp, metadata, content_hash, integrity
		FROM messages WHERE session_id = $1 ORDER BY timestamp ASC
	`, sessionID)
	if err != nil {
		return nil, 0, fmt.Errorf("store: load messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m domain.Message
		var metadataJSON, integrityJSON []byte
		m.SessionID = sessionID
		if err := rows.Scan(&m.MessageID, &m.Role, &m.Content, &m.Timestamp, &metadataJSON, &m.ContentHash, &integrityJSON); err != nil {
			return nil, 0, fmt.Errorf("store: scan message: %w", err)
		}
		if len(metadataJSON) > 0 {
			m.Metadata = &domain.MessageMetadata{}
			if err := json.Unmarshal(metadataJSON, m.Metadata); err != nil {
				return nil, 0, fmt.Errorf("store: unmarshal message metadata: %w", err)
			}
		}
		if len(integrityJSON) > 0 {
			m.Integrity = &domain.Integrity{}
			if err := json.Unmarshal(integrityJSON, m.Integrity); err != nil {
				return nil, 0, fmt.Errorf("store: unmarshal message integrity: %w", err)
			}
		}
		s.Conversation = append(s.Conversation, m)
	}

	return &s, s.Version, nil
}

// Commit implements the optimistic-CAS write path (§4.7, I4, I5): the
// row lock via SELECT ... FOR UPDATE plus the WHERE version=$expected on
// the UPDATE makes the compare-and-swap atomic even under concurrent
// writers, matching the teacher's AwardXP transaction pattern.
func (p *PostgresStore) Commit(ctx context.Context, next *domain.Session, expectedVersion int) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin commit: %w", err)
	}
	defer tx.Rollback()

	var currentVersion int
	err = tx.QueryRowContext(ctx, `SELECT version FROM sessions WHERE session_id = $1 FOR UPDATE`, next.SessionID).Scan(&currentVersion)
	if err == sql.ErrNoRows {
		return errs.New(errs.NotFound, "session not found")
	}
	if err != nil {
		return fmt.Errorf("store: lock session: %w", err)
	}
	if currentVersion != expectedVersion {
		return errs.New(errs.Conflict, "version mismatch")
	}

	progressJSON, timingJSON, analyticsJSON, securityJSON, err := marshalEnvelope(next)
	if err != nil {
		return err
	}
	newVersion := expectedVersion + 1

	_, err = tx.ExecContext(ctx, `
		UPDATE sessions
		SET status=$1, progress=$2, timing=$3, analytics=$4, security=$5, version=$6
		WHERE session_id=$7 AND version=$8
	`, next.Status, progressJSON, timingJSON, analyticsJSON, securityJSON, newVersion, next.SessionID, expectedVersion)
	if err != nil {
		return fmt.Errorf("store: update session: %w", err)
	}

	// Only append messages past what was already persisted at load time;
	// the caller is expected to have set next.Conversation to the full,
	// ordered list, so we insert any not yet present by primary key.
	if err := insertMessages(ctx, tx, next.SessionID, next.Conversation); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	next.Version = newVersion
	return nil
}

func (p *PostgresStore) AppendAudit(ctx context.Context, sessionID string, entry AuditEntry) error {
	detailJSON, err := json.Marshal(entry.Detail)
	if err != nil {
		return fmt.Errorf("store: marshal audit detail: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO audit_log (session_id, timestamp, actor, action, detail)
		VALUES ($1, $2, $3, $4, $5)
	`, sessionID, entry.Timestamp, entry.Actor, entry.Action, detailJSON)
	if err != nil {
		return fmt.Errorf("store: insert audit: %w", err)
	}
	return nil
}

func (p *PostgresStore) Audit(ctx context.Context, sessionID string) ([]AuditEntry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT timestamp, actor, action, detail FROM audit_log WHERE session_id = $1 ORDER BY timestamp ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: query audit: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var detailJSON []byte
		if err := rows.Scan(&e.Timestamp, &e.Actor, &e.Action, &detailJSON); err != nil {
			return nil, fmt.Errorf("store: scan audit: %w", err)
		}
		if len(detailJSON) > 0 {
			if err := json.Unmarshal(detailJSON, &e.Detail); err != nil {
				return nil, fmt.Errorf("store: unmarshal audit detail: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (p *PostgresStore) Delete(ctx context.Context, sessionID string, actor string) error {
	if err := p.AppendAudit(ctx, sessionID, AuditEntry{Timestamp: timeNow(), Actor: actor, Action: "delete"}); err != nil {
		return err
	}
	if _, err := p.db.ExecContext(ctx, `DELETE FROM messages WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("store: delete messages: %w", err)
	}
	res, err := p.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("store: delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.New(errs.NotFound, "session not found")
	}
	return nil
}

func insertMessages(ctx context.Context, tx *sql.Tx, sessionID string, messages []domain.Message) error {
	for _, m := range messages {
		var metadataJSON, integrityJSON []byte
		var err error
		if m.Metadata != nil {
			metadataJSON, err = json.Marshal(m.Metadata)
			if err != nil {
				return fmt.Errorf("store: marshal message metadata: %w", err)
			}
		}
		if m.Integrity != nil {
			integrityJSON, err = json.Marshal(m.Integrity)
			if err != nil {
				return fmt.Errorf("store: marshal message integrity: %w", err)
			}
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO messages (session_id, message_id, role, content, timestamp, metadata, content_hash, integrity)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (session_id, timestamp, message_id) DO NOTHING
		`, sessionID, m.MessageID, m.Role, m.Content, m.Timestamp, nullableJSON(metadataJSON), m.ContentHash, nullableJSON(integrityJSON))
		if err != nil {
			return fmt.Errorf("store: insert message %s: %w", m.MessageID, err)
		}
	}
	return nil
}

func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}

func marshalEnvelope(s *domain.Session) (progressJSON, timingJSON, analyticsJSON, securityJSON []byte, err error) {
	progressJSON, err = json.Marshal(s.Progress)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("store: marshal progress: %w", err)
	}
	timingJSON, err = json.Marshal(s.Timing)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("store: marshal timing: %w", err)
	}
	analyticsJSON, err = json.Marshal(s.Analytics)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("store: marshal analytics: %w", err)
	}
	securityJSON, err = json.Marshal(s.Security)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("store: marshal security: %w", err)
	}
	return progressJSON, timingJSON, analyticsJSON, securityJSON, nil
}

func unmarshalEnvelope(s *domain.Session, progressJSON, timingJSON, analyticsJSON, securityJSON []byte) error {
	if err := json.Unmarshal(progressJSON, &s.Progress); err != nil {
		return fmt.Errorf("store: unmarshal progress: %w", err)
	}
	if err := json.Unmarshal(timingJSON, &s.Timing); err != nil {
		return fmt.Errorf("store: unmarshal timing: %w", err)
	}
	if err := json.Unmarshal(analyticsJSON, &s.Analytics); err != nil {
		return fmt.Errorf("store: unmarshal analytics: %w", err)
	}
	if err := json.Unmarshal(securityJSON, &s.Security); err != nil {
		return fmt.Errorf("store: unmarshal security: %w", err)
	}
	return nil
}

func timeNow() (t time.Time) { return time.Now() }
