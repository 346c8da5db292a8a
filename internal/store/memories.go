package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nidhogg/nuka-mind/internal/memory"
)

func table(scope memory.Scope) (string, error) {
	switch scope {
	case memory.ScopeMemories, memory.ScopeBeliefs:
		return string(scope), nil
	}
	return "", fmt.Errorf("unknown scope %q", scope)
}

func itemColumns(scope memory.Scope) string {
	evidence := `'', ''`
	if scope == memory.ScopeBeliefs {
		evidence = `evidence_for, evidence_against`
	}
	return `id, agent_id, content, category, confidence, importance, decay_rate,
		access_count, created_at, last_accessed, status,
		COALESCE(activation_score, 0), ` + evidence
}

func scanItems(rows *sql.Rows) ([]memory.Item, error) {
	defer rows.Close()
	var items []memory.Item
	for rows.Next() {
		var (
			it                memory.Item
			conf, imp, decay  sql.NullFloat64
			created, accessed sql.NullString
			status            string
		)
		if err := rows.Scan(&it.ID, &it.AgentID, &it.Content, &it.Category,
			&conf, &imp, &decay, &it.AccessCount, &created, &accessed, &status,
			&it.ActivationScore, &it.EvidenceFor, &it.EvidenceAgainst); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		it.Confidence = nullFloat(conf)
		it.Importance = nullFloat(imp)
		it.DecayRate = nullFloat(decay)
		it.CreatedAt = nullTime(created)
		it.LastAccessed = nullTime(accessed)
		it.Status = memory.Status(status)
		items = append(items, it)
	}
	return items, rows.Err()
}

// ActiveItems returns every active row of a scope.
func (s *Store) ActiveItems(ctx context.Context, scope memory.Scope) ([]memory.Item, error) {
	tbl, err := table(scope)
	if err != nil {
		return nil, err
	}
	rows, err := s.query(ctx, s.db,
		`SELECT `+itemColumns(scope)+` FROM `+tbl+` WHERE status = 'active' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list active %s: %w", tbl, err)
	}
	return scanItems(rows)
}

// SaveActivations writes activation scores for a scope in one transaction.
func (s *Store) SaveActivations(ctx context.Context, scope memory.Scope, scores map[string]float64, at time.Time) error {
	tbl, err := table(scope)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	ts := timestamp(at)
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			if _, err := s.exec(ctx, tx,
				`UPDATE `+tbl+` SET activation_score = ?, last_activation_calc = ? WHERE id = ?`,
				scores[id], ts, id); err != nil {
				return fmt.Errorf("save activation %s: %w", id, err)
			}
		}
		return nil
	})
}

// MemoriesFor returns the memories owned by any of owners.
func (s *Store) MemoriesFor(ctx context.Context, owners []string) ([]memory.Item, error) {
	if len(owners) == 0 {
		return nil, nil
	}
	args := make([]any, len(owners))
	for i, o := range owners {
		args[i] = o
	}
	rows, err := s.query(ctx, s.db,
		`SELECT `+itemColumns(memory.ScopeMemories)+` FROM memories
		 WHERE agent_id IN (`+placeholders(len(owners))+`) ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	return scanItems(rows)
}

// TouchMemories records one access on each memory.
func (s *Store) TouchMemories(ctx context.Context, ids []string, at time.Time) error {
	ts := timestamp(at)
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			if _, err := s.exec(ctx, tx,
				`UPDATE memories SET last_accessed = ?, access_count = access_count + 1 WHERE id = ?`,
				ts, id); err != nil {
				return fmt.Errorf("touch memory %s: %w", id, err)
			}
		}
		return nil
	})
}

// TopBeliefs returns the agent's own active beliefs by activation, then
// importance.
func (s *Store) TopBeliefs(ctx context.Context, agentID string, limit int) ([]memory.Item, error) {
	rows, err := s.query(ctx, s.db,
		`SELECT `+itemColumns(memory.ScopeBeliefs)+` FROM beliefs
		 WHERE agent_id = ? AND status = 'active'
		 ORDER BY COALESCE(activation_score, 0) DESC, COALESCE(importance, 0) DESC, id
		 LIMIT ?`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("top beliefs %s: %w", agentID, err)
	}
	return scanItems(rows)
}

// NewItem is a memory or belief to insert.
type NewItem struct {
	AgentID         string
	Content         string
	Category        string
	EntryType       string
	Source          string
	Status          memory.Status
	Confidence      *float64
	Importance      *float64
	DecayRate       *float64
	EvidenceFor     string
	EvidenceAgainst string
}

// InsertItem stores a new memory or belief and returns its id.
func (s *Store) InsertItem(ctx context.Context, scope memory.Scope, it NewItem) (string, error) {
	if it.Status == "" {
		it.Status = memory.StatusActive
	}
	id := uuid.NewString()
	now := timestamp(s.now())

	var err error
	switch scope {
	case memory.ScopeMemories:
		_, err = s.exec(ctx, s.db, `
			INSERT INTO memories (id, agent_id, content, category, entry_type, source,
				confidence, importance, decay_rate, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, it.AgentID, it.Content, it.Category, it.EntryType, it.Source,
			it.Confidence, it.Importance, it.DecayRate, string(it.Status), now)
	case memory.ScopeBeliefs:
		category := it.Category
		if category == "" {
			category = "fact"
		}
		_, err = s.exec(ctx, s.db, `
			INSERT INTO beliefs (id, agent_id, content, category, source,
				confidence, importance, decay_rate, status, evidence_for, evidence_against,
				created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, it.AgentID, it.Content, category, it.Source,
			it.Confidence, it.Importance, it.DecayRate, string(it.Status),
			it.EvidenceFor, it.EvidenceAgainst, now, now)
	default:
		return "", fmt.Errorf("unknown scope %q", scope)
	}
	if err != nil {
		return "", fmt.Errorf("insert %s: %w", scope, err)
	}
	return id, nil
}

// SeedResult counts rows rewritten by SeedHeuristics.
type SeedResult struct {
	Memories int `json:"memories"`
	Beliefs  int `json:"beliefs"`
}

type seedRow struct {
	id, content, entryType string
}

// SeedHeuristics rewrites importance and decay_rate on every active memory
// and belief from content keywords and entry type.
func (s *Store) SeedHeuristics(ctx context.Context) (SeedResult, error) {
	var res SeedResult
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		mem, err := s.seedRows(ctx, tx, `SELECT id, content, entry_type FROM memories WHERE status = 'active'`)
		if err != nil {
			return err
		}
		bel, err := s.seedRows(ctx, tx, `SELECT id, content, '' FROM beliefs WHERE status = 'active'`)
		if err != nil {
			return err
		}
		for _, r := range mem {
			if _, err := s.exec(ctx, tx, `UPDATE memories SET importance = ?, decay_rate = ? WHERE id = ?`,
				memory.InferImportance(r.content), memory.InferDecay(r.entryType, r.content), r.id); err != nil {
				return fmt.Errorf("seed memory %s: %w", r.id, err)
			}
		}
		for _, r := range bel {
			if _, err := s.exec(ctx, tx, `UPDATE beliefs SET importance = ?, decay_rate = ? WHERE id = ?`,
				memory.InferImportance(r.content), memory.InferDecay("", r.content), r.id); err != nil {
				return fmt.Errorf("seed belief %s: %w", r.id, err)
			}
		}
		res = SeedResult{Memories: len(mem), Beliefs: len(bel)}
		return nil
	})
	if err != nil {
		return SeedResult{}, fmt.Errorf("seed heuristics: %w", err)
	}
	s.logger.Info("importance seeding complete",
		zap.Int("memories", res.Memories), zap.Int("beliefs", res.Beliefs))
	return res, nil
}

func (s *Store) seedRows(ctx context.Context, tx *sql.Tx, q string) ([]seedRow, error) {
	rows, err := s.query(ctx, tx, q)
	if err != nil {
		return nil, fmt.Errorf("list seed rows: %w", err)
	}
	defer rows.Close()
	var out []seedRow
	for rows.Next() {
		var r seedRow
		if err := rows.Scan(&r.id, &r.content, &r.entryType); err != nil {
			return nil, fmt.Errorf("scan seed row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
