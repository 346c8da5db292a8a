package cognitive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/nuka-mind/internal/memory"
	"github.com/nidhogg/nuka-mind/internal/provider"
)

// DefaultSystem2Timeout bounds the deliberation backend call.
const DefaultSystem2Timeout = 90 * time.Second

// Action types System 2 may emit.
const (
	ActionProposal     = "proposal"
	ActionBeliefUpdate = "belief_update"
	ActionKnowledgeGap = "knowledge_gap"
)

// Limits applied to a decoded action before it is routed.
const (
	maxActionTitle   = 100
	maxActionContent = 300
	maxBeliefContent = 200
	maxGapDesc       = 200
	maxGapDomain     = 50
)

// ParseErrorDomain is the gap domain recorded for unreadable output.
const ParseErrorDomain = "system2_parse_error"

// MockAction is the canned deliberation output used in mock runs.
const MockAction = `{"type": "knowledge_gap", "domain": "mock", "description": "Mock System 2 output for test", "importance": 3.0}`

// Action is the single decision System 2 produces.
type Action struct {
	Type        string       `json:"type"`
	Title       string       `json:"title,omitempty"`
	Content     string       `json:"content,omitempty"`
	Evidence    []string     `json:"evidence,omitempty"`
	Belief      *BeliefDraft `json:"belief,omitempty"`
	Domain      string       `json:"domain,omitempty"`
	Description string       `json:"description,omitempty"`
	Importance  *float64     `json:"importance,omitempty"`
}

// ThinkResult is the outcome of one deliberation.
type ThinkResult struct {
	Success     bool   `json:"success"`
	CapHit      bool   `json:"cap_hit"`
	ActionType  string `json:"action_type,omitempty"`
	Routed      bool   `json:"routed"`
	RouteDetail string `json:"route_detail,omitempty"`
	ParseErr    string `json:"parse_error,omitempty"`
	BackendErr  string `json:"backend_error,omitempty"`
}

// Deliberator is the expensive reasoning pass. It produces exactly one
// action and routes it to the proposal board, belief review or gap list.
type Deliberator struct {
	State     StateStore
	Beliefs   BeliefSource
	Recall    MemoryRecall
	Messages  MessageReader
	Proposals ProposalBoard
	Gaps      GapStore
	Writer    BeliefWriter
	Completer provider.Completer
	Audit     Auditor
	DailyCap  int
	Timeout   time.Duration
	Now       func() time.Time
	logger    *zap.Logger
}

// NewDeliberator creates a deliberator with the default cap and timeout.
// The store-backed dependencies are wired by the caller.
func NewDeliberator(state StateStore, c provider.Completer, audit Auditor, logger *zap.Logger) *Deliberator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deliberator{
		State:     state,
		Completer: c,
		Audit:     audit,
		DailyCap:  DefaultDailyCap,
		Timeout:   DefaultSystem2Timeout,
		Now:       time.Now,
		logger:    logger,
	}
}

// Deliberate runs System 2 for agentID. Backend and parse failures are
// reported in the result; only store errors are returned.
func (d *Deliberator) Deliberate(ctx context.Context, agentID, reason string) (*ThinkResult, error) {
	now := d.Now()
	today := Today(now)

	count, err := d.State.DailyCount(ctx, agentID, today)
	if err != nil {
		return nil, fmt.Errorf("deliberate %s: %w", agentID, err)
	}
	if count >= d.DailyCap {
		d.Audit.Record(ctx, agentID, "system2_think",
			fmt.Sprintf("DAILY_CAP_REACHED count=%d reason='%s'", count, memory.Truncate(reason, 100)))
		d.logger.Info("system2 daily cap reached",
			zap.String("agent", agentID), zap.Int("count", count))
		return &ThinkResult{CapHit: true}, nil
	}

	prompt := DeliberationPrompt(agentID, reason, d.buildContext(ctx, agentID, reason))

	start := time.Now()
	raw, err := d.Completer.Complete(ctx, prompt, d.Timeout)
	if err != nil {
		d.logger.Warn("system2 backend failed",
			zap.String("agent", agentID), zap.Error(err))
		d.Audit.Record(ctx, agentID, "system2_think_error", "API call failed: "+err.Error())
		if serr := d.State.SetScanStatus(ctx, agentID, StatusIdle, now); serr != nil {
			return nil, fmt.Errorf("deliberate %s: %w", agentID, serr)
		}
		return &ThinkResult{BackendErr: err.Error()}, nil
	}
	d.logger.Debug("system2 output received",
		zap.String("agent", agentID), zap.Duration("duration", time.Since(start)))

	action, perr := ParseAction(raw)
	res := &ThinkResult{Success: true, ActionType: action.Type}
	if perr != nil {
		res.ParseErr = perr.Error()
		d.logger.Warn("system2 output unparsable, recording gap",
			zap.String("agent", agentID), zap.Error(perr))
	}

	res.Routed, res.RouteDetail = d.route(ctx, agentID, action)

	if err := d.State.RecordDeliberation(ctx, agentID, today, now); err != nil {
		return nil, fmt.Errorf("deliberate %s: %w", agentID, err)
	}
	d.Audit.Record(ctx, agentID, "system2_think",
		fmt.Sprintf("action_type=%s routed=%t reason='%s' route_detail=%s",
			action.Type, res.Routed, memory.Truncate(reason, 100), memory.Truncate(res.RouteDetail, 100)))
	d.logger.Info("system2 complete",
		zap.String("agent", agentID),
		zap.String("action", action.Type),
		zap.Bool("routed", res.Routed))
	return res, nil
}

// DeliberationPrompt is the reasoning instruction around the context.
func DeliberationPrompt(agentID, reason, body string) string {
	return fmt.Sprintf(`You are %s's background cognitive process (System 2, deliberate reasoning).

Escalation reason from System 1: %s

%s

Task: Given the above context, what is the ONE most important thing to act on?

Generate exactly ONE action from these options:
1. A new proposal (if there's a gap the team should address)
2. A belief update (if something needs updating based on new evidence)
3. A knowledge gap (if something important is unknown)

Output ONLY valid JSON in one of these formats:

For proposal:
{"type": "proposal", "title": "<max 100 chars>", "content": "<max 300 chars>", "evidence": []}

For belief update:
{"type": "belief_update", "belief": {"content": "<max 200 chars>", "category": "fact", "confidence": 0.7, "importance": 5.0, "evidence_for": "<why>", "evidence_against": ""}}

For knowledge gap:
{"type": "knowledge_gap", "domain": "<domain>", "description": "<max 200 chars>", "importance": 5.0}

JSON only, no explanation:`, agentID, reason, body)
}

func (d *Deliberator) buildContext(ctx context.Context, agentID, reason string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== System 2 Context for agent: %s ===\n\n", agentID)

	fmt.Fprintf(&b, "## My beliefs (agent_id='%s' ONLY):\n", agentID)
	beliefs, err := d.Beliefs.TopBeliefs(ctx, agentID, 10)
	if err != nil {
		fmt.Fprintf(&b, "  (belief read error: %v)\n", err)
	} else {
		beliefs = d.ownBeliefs(agentID, beliefs)
		if len(beliefs) == 0 {
			b.WriteString("  (no active beliefs)\n")
		}
		for _, it := range beliefs {
			category := it.Category
			if category == "" {
				category = "fact"
			}
			var conf float64
			if it.Confidence != nil {
				conf = *it.Confidence
			}
			fmt.Fprintf(&b, "  - [%s,%.2f] %s\n", category, conf, memory.Truncate(oneLine(it.Content), 120))
		}
	}

	if d.Recall != nil {
		ranked, err := d.Recall.Retrieve(ctx, memory.Query{AgentID: agentID, Legacy: reason, Limit: memory.DefaultRetrieveLimit})
		switch {
		case err != nil:
			d.logger.Warn("memory recall failed", zap.String("agent", agentID), zap.Error(err))
		case len(ranked) > 0:
			b.WriteString("\n## Relevant memories:\n")
			for _, line := range memory.FormatRecall(ranked, 100) {
				fmt.Fprintf(&b, "  %s\n", line)
			}
		}
	}

	b.WriteString("\n## Open proposals (shared context):\n")
	props, err := d.Proposals.OpenProposals(ctx, 5)
	switch {
	case err != nil:
		fmt.Fprintf(&b, "  (proposal read error: %v)\n", err)
	case len(props) == 0:
		b.WriteString("  (none)\n")
	default:
		for _, p := range props {
			fmt.Fprintf(&b, "  - '%s' by %s\n", memory.Truncate(p.Title, 80), memory.Truncate(p.Author, 15))
		}
	}

	b.WriteString("\n## Unread messages:\n")
	msgs, err := d.Messages.ReadUnread(ctx, agentID, 5)
	switch {
	case err != nil:
		fmt.Fprintf(&b, "  (message read error: %v)\n", err)
	case len(msgs) == 0:
		b.WriteString("  (none)\n")
	default:
		for _, m := range msgs {
			fmt.Fprintf(&b, "  - from:%s %s\n", memory.Truncate(m.From, 15), memory.Truncate(oneLine(m.Content), 80))
		}
	}

	b.WriteString("\n## Knowledge gaps:\n")
	gaps, err := d.Gaps.OpenGaps(ctx, agentID, 5)
	switch {
	case err != nil:
		fmt.Fprintf(&b, "  (gap read error: %v)\n", err)
	case len(gaps) == 0:
		b.WriteString("  (none)\n")
	default:
		for _, g := range gaps {
			desc := strings.TrimSpace(g.Description)
			if desc == "" {
				desc = "(no description)"
			}
			fmt.Fprintf(&b, "  - [%s,imp=%.0f] %s\n",
				memory.Truncate(strings.TrimSpace(g.Domain), 20), g.Importance, memory.Truncate(desc, 100))
		}
	}
	return b.String()
}

// ownBeliefs drops any belief not owned by agentID.
func (d *Deliberator) ownBeliefs(agentID string, items []memory.Item) []memory.Item {
	out := items[:0:0]
	for _, it := range items {
		if it.AgentID != agentID {
			d.logger.Error("dropping belief owned by another agent",
				zap.String("agent", agentID),
				zap.String("owner", it.AgentID),
				zap.String("belief", it.ID))
			continue
		}
		out = append(out, it)
	}
	return out
}

// ParseAction decodes System 2 output, tolerating a markdown fence. Output
// that is not a known action becomes a parse-error knowledge gap, returned
// together with the reason.
func ParseAction(raw string) (Action, error) {
	clean := stripFence(raw)
	var a Action
	if err := json.Unmarshal([]byte(clean), &a); err != nil {
		return parseFallback(raw), fmt.Errorf("decode action: %w", err)
	}
	a.Type = strings.ToLower(strings.TrimSpace(a.Type))
	switch a.Type {
	case ActionProposal, ActionKnowledgeGap:
	case ActionBeliefUpdate:
		if a.Belief == nil {
			return parseFallback(raw), errors.New("belief_update without belief")
		}
	default:
		return parseFallback(raw), fmt.Errorf("unknown action type %q", a.Type)
	}
	return a.limited(), nil
}

func stripFence(raw string) string {
	clean := strings.TrimSpace(raw)
	if !strings.HasPrefix(clean, "```") {
		return clean
	}
	parts := strings.Split(clean, "```")
	if len(parts) < 2 {
		return clean
	}
	body := strings.TrimPrefix(parts[1], "json")
	return strings.TrimSpace(body)
}

func parseFallback(raw string) Action {
	imp := 3.0
	return Action{
		Type:        ActionKnowledgeGap,
		Domain:      ParseErrorDomain,
		Description: "System 2 output could not be parsed: " + memory.Truncate(raw, 100),
		Importance:  &imp,
	}
}

func (a Action) limited() Action {
	a.Title = memory.Truncate(a.Title, maxActionTitle)
	a.Content = memory.Truncate(a.Content, maxActionContent)
	a.Domain = memory.Truncate(a.Domain, maxGapDomain)
	a.Description = memory.Truncate(a.Description, maxGapDesc)
	if a.Belief != nil {
		b := *a.Belief
		b.Content = memory.Truncate(b.Content, maxBeliefContent)
		a.Belief = &b
	}
	return a
}

func (d *Deliberator) route(ctx context.Context, agentID string, a Action) (bool, string) {
	switch a.Type {
	case ActionProposal:
		title := a.Title
		if strings.TrimSpace(title) == "" {
			title = "System 2 proposal"
		}
		res, err := d.Proposals.Post(ctx, agentID, title, a.Content, a.Evidence)
		if err != nil {
			return false, "error: " + err.Error()
		}
		return !res.Blocked, fmt.Sprintf("proposal_id=%s blocked=%t", res.ID, res.Blocked)

	case ActionBeliefUpdate:
		id, err := d.Writer.ProposeBelief(ctx, agentID, *a.Belief)
		if err != nil {
			return false, "error: " + err.Error()
		}
		return true, "belief queued for review id=" + id

	case ActionKnowledgeGap:
		imp := 5.0
		if a.Importance != nil {
			imp = *a.Importance
		}
		id, err := d.Gaps.AddGap(ctx, agentID, a.Domain, a.Description, imp)
		if err != nil {
			return false, "error: " + err.Error()
		}
		return true, "gap_id=" + id
	}
	return false, "unknown action type: " + a.Type
}
