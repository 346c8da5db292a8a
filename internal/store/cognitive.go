package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nidhogg/nuka-mind/internal/cognitive"
)

const stateColumns = `id, agent_id, scan_status, last_system1_run, last_system2_run,
	system2_count_today, system2_date, pending_intentions, last_scan_result,
	created_at, updated_at`

func stateID(agentID string) string {
	return fmt.Sprintf("cog-%s-%s", shortID(agentID), hexID(8))
}

// EnsureState returns the agent's scheduler row, creating an idle one if it
// does not exist yet.
func (s *Store) EnsureState(ctx context.Context, agentID string) (*cognitive.State, error) {
	now := timestamp(s.now())
	_, err := s.exec(ctx, s.db, `
		INSERT INTO cognitive_state (id, agent_id, scan_status, system2_count_today,
			pending_intentions, created_at, updated_at)
		VALUES (?, ?, 'idle', 0, '[]', ?, ?)
		ON CONFLICT (agent_id) DO NOTHING`,
		stateID(agentID), agentID, now, now)
	if err != nil {
		return nil, fmt.Errorf("ensure state %s: %w", agentID, err)
	}
	return s.GetState(ctx, agentID)
}

// GetState loads the agent's scheduler row or returns ErrNotFound.
func (s *Store) GetState(ctx context.Context, agentID string) (*cognitive.State, error) {
	row := s.queryRow(ctx, s.db,
		`SELECT `+stateColumns+` FROM cognitive_state WHERE agent_id = ?`, agentID)

	var (
		st                   cognitive.State
		status               string
		s1, s2, date, result sql.NullString
		created, updated     string
	)
	err := row.Scan(&st.ID, &st.AgentID, &status, &s1, &s2,
		&st.System2CountToday, &date, &st.PendingIntentions, &result,
		&created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get state %s: %w", agentID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get state %s: %w", agentID, err)
	}
	st.ScanStatus = cognitive.Status(status)
	st.LastSystem1Run = nullTime(s1)
	st.LastSystem2Run = nullTime(s2)
	st.System2Date = date.String
	st.LastScanResult = result.String
	if t := nullTime(sql.NullString{String: created, Valid: true}); t != nil {
		st.CreatedAt = *t
	}
	if t := nullTime(sql.NullString{String: updated, Valid: true}); t != nil {
		st.UpdatedAt = *t
	}
	return &st, nil
}

// TryBeginScan atomically moves the row to running unless it already is.
func (s *Store) TryBeginScan(ctx context.Context, agentID string, at time.Time) (bool, error) {
	res, err := s.exec(ctx, s.db, `
		UPDATE cognitive_state SET scan_status = 'running', updated_at = ?
		WHERE agent_id = ? AND scan_status <> 'running'`,
		timestamp(at), agentID)
	if err != nil {
		return false, fmt.Errorf("begin scan %s: %w", agentID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("begin scan %s: %w", agentID, err)
	}
	return n == 1, nil
}

// SetScanStatus writes a status from the enum.
func (s *Store) SetScanStatus(ctx context.Context, agentID string, status cognitive.Status, at time.Time) error {
	if !status.Valid() {
		return fmt.Errorf("set status %q for %s: %w", status, agentID, cognitive.ErrInvalidStatus)
	}
	_, err := s.exec(ctx, s.db,
		`UPDATE cognitive_state SET scan_status = ?, updated_at = ? WHERE agent_id = ?`,
		string(status), timestamp(at), agentID)
	if err != nil {
		return fmt.Errorf("set status %s: %w", agentID, err)
	}
	return nil
}

// RecordScan stores the outcome of a System 1 scan.
func (s *Store) RecordScan(ctx context.Context, agentID string, status cognitive.Status, result string, at time.Time) error {
	if !status.Valid() {
		return fmt.Errorf("record scan %q for %s: %w", status, agentID, cognitive.ErrInvalidStatus)
	}
	ts := timestamp(at)
	_, err := s.exec(ctx, s.db, `
		UPDATE cognitive_state
		SET scan_status = ?, last_scan_result = ?, last_system1_run = ?, updated_at = ?
		WHERE agent_id = ?`,
		string(status), result, ts, ts, agentID)
	if err != nil {
		return fmt.Errorf("record scan %s: %w", agentID, err)
	}
	return nil
}

// DailyCount returns today's System 2 count. A counter dated on another day
// is reset to zero and written back in the same call. A missing row counts
// as zero.
func (s *Store) DailyCount(ctx context.Context, agentID, today string) (int, error) {
	var count int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := s.exec(ctx, tx, `
			UPDATE cognitive_state
			SET system2_count_today = 0, system2_date = ?, updated_at = ?
			WHERE agent_id = ? AND (system2_date IS NULL OR system2_date <> ?)`,
			today, timestamp(s.now()), agentID, today)
		if err != nil {
			return err
		}
		err = s.queryRow(ctx, tx,
			`SELECT system2_count_today FROM cognitive_state WHERE agent_id = ?`, agentID).Scan(&count)
		if errors.Is(err, sql.ErrNoRows) {
			count = 0
			return nil
		}
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("daily count %s: %w", agentID, err)
	}
	return count, nil
}

// RecordDeliberation counts one System 2 run for today and returns the row
// to idle.
func (s *Store) RecordDeliberation(ctx context.Context, agentID, today string, at time.Time) error {
	ts := timestamp(at)
	_, err := s.exec(ctx, s.db, `
		UPDATE cognitive_state
		SET system2_count_today = CASE WHEN system2_date = ? THEN system2_count_today + 1 ELSE 1 END,
		    system2_date = ?,
		    last_system2_run = ?,
		    scan_status = 'idle',
		    updated_at = ?
		WHERE agent_id = ?`,
		today, today, ts, ts, agentID)
	if err != nil {
		return fmt.Errorf("record deliberation %s: %w", agentID, err)
	}
	return nil
}

// ListStates returns every scheduler row ordered by agent.
func (s *Store) ListStates(ctx context.Context) ([]*cognitive.State, error) {
	rows, err := s.query(ctx, s.db, `SELECT agent_id FROM cognitive_state ORDER BY agent_id`)
	if err != nil {
		return nil, fmt.Errorf("list states: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan state id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list states: %w", err)
	}

	states := make([]*cognitive.State, 0, len(ids))
	for _, id := range ids {
		st, err := s.GetState(ctx, id)
		if err != nil {
			return nil, err
		}
		states = append(states, st)
	}
	return states, nil
}
