package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// AuditEvent is one row of the append-only audit log.
type AuditEvent struct {
	ID     int64     `json:"id"`
	TS     time.Time `json:"ts"`
	Agent  string    `json:"agent"`
	Action string    `json:"action"`
	Detail string    `json:"detail"`
}

// AppendAudit adds an event to the audit log.
func (s *Store) AppendAudit(ctx context.Context, ts time.Time, agent, action, detail string) error {
	_, err := s.exec(ctx, s.db,
		`INSERT INTO audit_log (ts, agent, action, detail) VALUES (?, ?, ?, ?)`,
		timestamp(ts), agent, action, detail)
	if err != nil {
		return fmt.Errorf("append audit %s/%s: %w", agent, action, err)
	}
	return nil
}

// ListAudit returns the newest events first. An empty agent lists all.
func (s *Store) ListAudit(ctx context.Context, agent string, limit int) ([]AuditEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var (
		rows *sql.Rows
		err  error
	)
	if agent == "" {
		rows, err = s.query(ctx, s.db,
			`SELECT id, ts, agent, action, detail FROM audit_log ORDER BY id DESC LIMIT ?`, limit)
	} else {
		rows, err = s.query(ctx, s.db,
			`SELECT id, ts, agent, action, detail FROM audit_log WHERE agent = ? ORDER BY id DESC LIMIT ?`,
			agent, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var (
			e  AuditEvent
			ts string
		)
		if err := rows.Scan(&e.ID, &ts, &e.Agent, &e.Action, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		if t := nullTime(sql.NullString{String: ts, Valid: true}); t != nil {
			e.TS = *t
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
