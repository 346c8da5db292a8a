package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/nidhogg/nuka-mind/internal/cognitive"
)

// Proposal board limits.
const (
	MaxProposalTitle   = 200
	MaxProposalContent = 2000
)

var protectedAuthors = map[string]bool{"vector": true, "__shared__": true}

// OpenProposals returns the newest open, unblocked proposals. Content is
// never selected.
func (s *Store) OpenProposals(ctx context.Context, limit int) ([]cognitive.ProposalSummary, error) {
	rows, err := s.query(ctx, s.db, `
		SELECT title, author_agent_id, requires_review FROM proposals
		WHERE status = 'open' AND blocked = 0
		ORDER BY created_at DESC, id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("open proposals: %w", err)
	}
	defer rows.Close()

	var out []cognitive.ProposalSummary
	for rows.Next() {
		var (
			p      cognitive.ProposalSummary
			review int
		)
		if err := rows.Scan(&p.Title, &p.Author, &review); err != nil {
			return nil, fmt.Errorf("scan proposal: %w", err)
		}
		p.RequiresReview = review != 0
		out = append(out, p)
	}
	return out, rows.Err()
}

// Post validates and stores a proposal. Rejections come back as a blocked
// result, not an error.
func (s *Store) Post(ctx context.Context, agentID, title, content string, evidence []string) (*cognitive.PostResult, error) {
	if protectedAuthors[strings.ToLower(agentID)] {
		return &cognitive.PostResult{
			Blocked: true,
			Message: fmt.Sprintf("agent %q is in the protected namespace and cannot author proposals", agentID),
		}, nil
	}
	if n := len([]rune(content)); n > MaxProposalContent {
		return &cognitive.PostResult{
			Blocked: true,
			Message: fmt.Sprintf("content exceeds maximum length of %d chars (got %d)", MaxProposalContent, n),
		}, nil
	}
	if n := len([]rune(title)); n > MaxProposalTitle {
		return &cognitive.PostResult{
			Blocked: true,
			Message: fmt.Sprintf("title exceeds maximum length of %d chars (got %d)", MaxProposalTitle, n),
		}, nil
	}

	if evidence == nil {
		evidence = []string{}
	}
	ev, err := json.Marshal(evidence)
	if err != nil {
		return nil, fmt.Errorf("marshal evidence: %w", err)
	}
	review := len(evidence) == 0

	id := uuid.NewString()
	now := timestamp(s.now())
	_, err = s.exec(ctx, s.db, `
		INSERT INTO proposals (id, author_agent_id, title, content, evidence, status,
			requires_review, blocked, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 'open', ?, 0, ?, ?)`,
		id, agentID, title, content, string(ev), boolInt(review), now, now)
	if err != nil {
		return nil, fmt.Errorf("post proposal for %s: %w", agentID, err)
	}

	msg := "proposal posted"
	if review {
		msg += " [flagged for review: no evidence cited]"
	}
	return &cognitive.PostResult{ID: id, RequiresReview: review, Message: msg}, nil
}
