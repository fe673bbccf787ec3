package event

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kylerisse/neustart/pkg/storage"
)

var auditSchema = []string{
	`CREATE TABLE IF NOT EXISTS audit_events(
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		job_id TEXT NOT NULL DEFAULT '',
		payload TEXT NOT NULL DEFAULT '{}',
		notify INTEGER NOT NULL DEFAULT 0,
		ts INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_events_job ON audit_events(job_id)`,
}

// AuditSink appends every event to a SQLite table.
type AuditSink struct {
	db      *sql.DB
	timeout time.Duration
}

// NewAuditSink creates the audit table in db if needed. The caller owns db.
func NewAuditSink(ctx context.Context, db *sql.DB) (*AuditSink, error) {
	if err := storage.Migrate(ctx, db, auditSchema...); err != nil {
		return nil, fmt.Errorf("init audit schema: %w", err)
	}
	return &AuditSink{db: db, timeout: 2 * time.Second}, nil
}

func (a *AuditSink) insert(ctx context.Context, e Event, notify bool) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("encode payload for %s: %w", e.Kind, err)
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	_, err = a.db.ExecContext(ctx,
		`INSERT INTO audit_events(kind, job_id, payload, notify, ts) VALUES(?,?,?,?,?)`,
		string(e.Kind), e.JobID, string(payload), notify, e.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert audit event %s: %w", e.Kind, err)
	}
	return nil
}

// Emit implements Sink.
func (a *AuditSink) Emit(ctx context.Context, e Event) error {
	return a.insert(ctx, e, false)
}

// Notify implements Sink. The notification request itself is audited.
func (a *AuditSink) Notify(ctx context.Context, e Event) error {
	return a.insert(ctx, e, true)
}

// ForJob returns the events recorded for jobID, oldest first.
func (a *AuditSink) ForJob(ctx context.Context, jobID string) ([]Event, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	rows, err := a.db.QueryContext(ctx,
		`SELECT kind, job_id, payload, ts FROM audit_events WHERE job_id = ? AND notify = 0 ORDER BY id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e       Event
			kind    string
			payload string
			ts      int64
		)
		if err := rows.Scan(&kind, &e.JobID, &payload, &ts); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.Kind = Kind(kind)
		e.Timestamp = time.UnixMilli(ts)
		if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
			return nil, fmt.Errorf("decode payload for %s: %w", kind, err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
