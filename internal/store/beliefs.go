package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nidhogg/nuka-mind/internal/cognitive"
	"github.com/nidhogg/nuka-mind/internal/memory"
)

// ErrBeliefRejected is returned when a proposed belief fails the length
// rules and is not stored.
var ErrBeliefRejected = errors.New("belief rejected")

var beliefCategories = map[string]bool{
	"identity": true, "goal": true, "preference": true, "decision": true, "fact": true,
}

// ProposeBelief stores a provisional belief for review. Confidence is
// clamped to [0.5, 1] and importance to [1, 10]; unknown categories become
// fact.
func (s *Store) ProposeBelief(ctx context.Context, agentID string, b cognitive.BeliefDraft) (string, error) {
	content := strings.TrimSpace(b.Content)
	if n := len([]rune(content)); n < 10 || n > 500 {
		return "", fmt.Errorf("propose belief for %s: content length %d: %w", agentID, n, ErrBeliefRejected)
	}
	category := b.Category
	if !beliefCategories[category] {
		category = "fact"
	}
	confidence := b.Confidence
	if confidence == 0 {
		confidence = 0.65
	}
	confidence = min(max(confidence, 0.5), 1.0)
	importance := b.Importance
	if importance == 0 {
		importance = 5
	}
	importance = min(max(importance, 1), 10)

	id := fmt.Sprintf("s2-%s-%s", shortID(agentID), hexID(8))
	now := timestamp(s.now())
	_, err := s.exec(ctx, s.db, `
		INSERT INTO beliefs (id, agent_id, content, category, source, confidence, importance,
			status, evidence_for, evidence_against, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, agentID, content, category, "system2:"+agentID, confidence, importance,
		string(memory.StatusProvisional),
		memory.Truncate(b.EvidenceFor, 500), memory.Truncate(b.EvidenceAgainst, 500), now, now)
	if err != nil {
		return "", fmt.Errorf("propose belief for %s: %w", agentID, err)
	}
	return id, nil
}

// SetBeliefStatus moves a belief between provisional, active and archived.
func (s *Store) SetBeliefStatus(ctx context.Context, id string, status memory.Status) error {
	switch status {
	case memory.StatusProvisional, memory.StatusActive, memory.StatusArchived:
	default:
		return fmt.Errorf("set belief %s: unknown status %q", id, status)
	}
	res, err := s.exec(ctx, s.db,
		`UPDATE beliefs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), timestamp(s.now()), id)
	if err != nil {
		return fmt.Errorf("set belief %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set belief %s: %w", id, ErrNotFound)
	}
	return nil
}
