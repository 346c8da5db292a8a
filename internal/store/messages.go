package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nidhogg/nuka-mind/internal/cognitive"
)

// MaxReadLimit caps one read of an agent's inbox.
const MaxReadLimit = 10

// ReadUnread returns up to limit unread, unblocked messages addressed to
// the agent, newest first, and marks them read. Sanitized content is
// returned when present.
func (s *Store) ReadUnread(ctx context.Context, agentID string, limit int) ([]cognitive.Message, error) {
	if limit <= 0 || limit > MaxReadLimit {
		limit = MaxReadLimit
	}
	now := timestamp(s.now())

	var msgs []cognitive.Message
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := s.query(ctx, tx, `
			SELECT id, from_agent_id, content, sanitized_content, requires_review, created_at
			FROM agent_messages
			WHERE to_agent_id = ? AND blocked = 0 AND read_at IS NULL
			ORDER BY created_at DESC, id
			LIMIT ?`, agentID, limit)
		if err != nil {
			return err
		}
		for rows.Next() {
			var (
				m         cognitive.Message
				sanitized sql.NullString
				review    int
				created   string
			)
			if err := rows.Scan(&m.ID, &m.From, &m.Content, &sanitized, &review, &created); err != nil {
				rows.Close()
				return err
			}
			if sanitized.Valid && sanitized.String != "" {
				m.Content = sanitized.String
			}
			m.RequiresReview = review != 0
			if t := nullTime(sql.NullString{String: created, Valid: true}); t != nil {
				m.CreatedAt = *t
			}
			msgs = append(msgs, m)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, m := range msgs {
			if _, err := s.exec(ctx, tx,
				`UPDATE agent_messages SET read_at = ?, read_by = ? WHERE id = ?`,
				now, agentID, m.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read messages for %s: %w", agentID, err)
	}
	s.logger.Debug("messages read", zap.String("agent", agentID), zap.Int("count", len(msgs)))
	return msgs, nil
}

// OutboundMessage is a message already screened by the injection validator.
type OutboundMessage struct {
	From           string
	To             string
	Content        string
	Sanitized      string
	RequiresReview bool
	Blocked        bool
}

// SendMessage stores a screened message and returns its id.
func (s *Store) SendMessage(ctx context.Context, m OutboundMessage) (string, error) {
	id := uuid.NewString()
	var sanitized any
	if m.Sanitized != "" {
		sanitized = m.Sanitized
	}
	_, err := s.exec(ctx, s.db, `
		INSERT INTO agent_messages (id, from_agent_id, to_agent_id, content, sanitized_content,
			requires_review, blocked, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, m.From, m.To, m.Content, sanitized, boolInt(m.RequiresReview), boolInt(m.Blocked),
		timestamp(s.now()))
	if err != nil {
		return "", fmt.Errorf("send message %s->%s: %w", m.From, m.To, err)
	}
	return id, nil
}
