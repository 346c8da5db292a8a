package store

import (
	"context"
	"fmt"
	"time"

	"github.com/nidhogg/nuka-mind/internal/cognitive"
	"github.com/nidhogg/nuka-mind/internal/memory"
)

// OpenGaps returns the agent's unresolved gaps, most important first.
func (s *Store) OpenGaps(ctx context.Context, agentID string, limit int) ([]cognitive.Gap, error) {
	rows, err := s.query(ctx, s.db, `
		SELECT id, domain, description, importance FROM knowledge_gaps
		WHERE agent_id = ? AND resolved_at IS NULL
		ORDER BY importance DESC, id
		LIMIT ?`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("open gaps %s: %w", agentID, err)
	}
	defer rows.Close()

	var gaps []cognitive.Gap
	for rows.Next() {
		var g cognitive.Gap
		if err := rows.Scan(&g.ID, &g.Domain, &g.Description, &g.Importance); err != nil {
			return nil, fmt.Errorf("scan gap: %w", err)
		}
		gaps = append(gaps, g)
	}
	return gaps, rows.Err()
}

// AddGap records a knowledge gap and returns its id.
func (s *Store) AddGap(ctx context.Context, agentID, domain, description string, importance float64) (string, error) {
	id := fmt.Sprintf("kg-s2-%s-%s", shortID(agentID), hexID(6))
	_, err := s.exec(ctx, s.db, `
		INSERT INTO knowledge_gaps (id, agent_id, domain, description, importance, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		id, agentID, memory.Truncate(domain, 50), memory.Truncate(description, 500),
		importance, timestamp(s.now()))
	if err != nil {
		return "", fmt.Errorf("add gap for %s: %w", agentID, err)
	}
	return id, nil
}

// ResolveGap marks a gap resolved.
func (s *Store) ResolveGap(ctx context.Context, id string, at time.Time) error {
	res, err := s.exec(ctx, s.db,
		`UPDATE knowledge_gaps SET resolved_at = ? WHERE id = ? AND resolved_at IS NULL`,
		timestamp(at), id)
	if err != nil {
		return fmt.Errorf("resolve gap %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("resolve gap %s: %w", id, ErrNotFound)
	}
	return nil
}
