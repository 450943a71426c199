// Package postgres persists audit batches to an append-only table.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"carecore/internal/audit"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_events (
    id              UUID PRIMARY KEY,
    ts              TIMESTAMPTZ NOT NULL,
    actor_id        TEXT NOT NULL,
    session_id      TEXT NOT NULL DEFAULT '',
    subject_hash    TEXT NOT NULL DEFAULT '',
    action          TEXT NOT NULL,
    resource        TEXT NOT NULL,
    resource_id     TEXT NOT NULL DEFAULT '',
    outcome_code    INTEGER NOT NULL,
    risk_level      TEXT NOT NULL,
    compliance_flags TEXT[] NOT NULL DEFAULT '{}',
    correction_of   UUID,
    integrity_hash  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_events_ts_idx ON audit_events (ts);
CREATE INDEX IF NOT EXISTS audit_events_session_idx ON audit_events (session_id);
`

const insertEvent = `
INSERT INTO audit_events (
    id, ts, actor_id, session_id, subject_hash, action, resource,
    resource_id, outcome_code, risk_level, compliance_flags, correction_of,
    integrity_hash
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
`

// Store writes audit batches to PostgreSQL. The table is append-only; there
// is deliberately no update or delete path.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to PostgreSQL with the lib/pq driver and verifies the
// connection.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping audit database: %w", err)
	}
	return New(db), nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the audit table if missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure audit schema: %w", err)
	}
	return nil
}

// AppendBatch writes the batch in one transaction so a partial failure leaves
// nothing behind and the whole batch can be retried.
func (s *Store) AppendBatch(ctx context.Context, events []audit.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audit batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertEvent)
	if err != nil {
		return fmt.Errorf("prepare audit insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		var correctionOf any
		if e.CorrectionOf != uuid.Nil {
			correctionOf = e.CorrectionOf
		}
		_, err := stmt.ExecContext(ctx,
			e.ID, e.Timestamp, e.ActorID, e.SessionID, e.SubjectHash,
			string(e.Action), string(e.Resource), e.ResourceID, e.OutcomeCode,
			string(e.RiskLevel), pq.Array(e.ComplianceFlags), correctionOf,
			e.IntegrityHash,
		)
		if err != nil {
			return fmt.Errorf("insert audit event %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit audit batch: %w", err)
	}
	return nil
}
