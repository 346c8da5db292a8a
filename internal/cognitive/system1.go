package cognitive

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/nuka-mind/internal/memory"
	"github.com/nidhogg/nuka-mind/internal/provider"
)

const (
	// DefaultDailyCap is how many System 2 runs an agent gets per day.
	DefaultDailyCap = 2
	// DefaultSystem1Timeout bounds the watchdog backend call.
	DefaultSystem1Timeout = 60 * time.Second

	maxReasonLen = 500
	// FallbackDecision is used when the backend cannot answer.
	FallbackDecision = "NO: API call failed, safe fallback to idle"
)

// ScanResult is the outcome of one System 1 scan.
type ScanResult struct {
	Escalated  bool   `json:"escalated"`
	Reason     string `json:"reason"`
	CapBlocked bool   `json:"cap_blocked"`
	Status     Status `json:"status"`
	// BackendErr is set when the decision is the safe fallback.
	BackendErr string `json:"backend_error,omitempty"`
}

// Scanner is the cheap watchdog pass that decides whether deliberation is
// worth its cost.
type Scanner struct {
	State     StateStore
	Sources   SnapshotSources
	Completer provider.Completer
	Audit     Auditor
	DailyCap  int
	Timeout   time.Duration
	Now       func() time.Time
	logger    *zap.Logger
}

// NewScanner creates a scanner with the default cap and timeout.
func NewScanner(state StateStore, src SnapshotSources, c provider.Completer, audit Auditor, logger *zap.Logger) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{
		State:     state,
		Sources:   src,
		Completer: c,
		Audit:     audit,
		DailyCap:  DefaultDailyCap,
		Timeout:   DefaultSystem1Timeout,
		Now:       time.Now,
		logger:    logger,
	}
}

// ScanPrompt is the watchdog instruction wrapped around a snapshot.
func ScanPrompt(agentID, snapshot string) string {
	return fmt.Sprintf("You are a fast cognitive watchdog for agent '%s'.\n"+
		"Given the following agent context, answer: is there anything worth deeper analysis?\n"+
		"Answer with exactly 'YES: <one-sentence reason>' or 'NO: <one-sentence reason>'.\n\n"+
		"--- CONTEXT ---\n%s\n--- END CONTEXT ---\n\n"+
		"Decision (YES or NO with one sentence reason):",
		agentID, memory.Truncate(snapshot, SnapshotLimit))
}

// ParseDecision reads a YES/NO answer. Only the first line decides; the
// reason is whatever follows the keyword.
func ParseDecision(text string) (escalate bool, reason string) {
	text = strings.TrimSpace(text)
	switch {
	case hasFoldPrefix(text, "YES"):
		escalate, reason = true, text[3:]
	case hasFoldPrefix(text, "NO"):
		reason = text[2:]
	default:
		reason = text
	}
	return escalate, strings.Trim(reason, " :.-\t\r\n")
}

func hasFoldPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

// Scan classifies the agent's current context and records the result.
// Backend failure is never an escalation. Only store errors are returned.
func (s *Scanner) Scan(ctx context.Context, agentID string) (*ScanResult, error) {
	now := s.Now()
	if _, err := s.State.EnsureState(ctx, agentID); err != nil {
		return nil, fmt.Errorf("scan %s: %w", agentID, err)
	}

	snapshot := BuildSnapshot(ctx, s.Sources, agentID, now)
	res := &ScanResult{}

	start := time.Now()
	text, err := s.Completer.Complete(ctx, ScanPrompt(agentID, snapshot), s.Timeout)
	if err != nil {
		s.logger.Warn("system1 backend failed, falling back to idle",
			zap.String("agent", agentID), zap.Error(err))
		res.BackendErr = err.Error()
		text = FallbackDecision
	} else {
		s.logger.Debug("system1 decision",
			zap.String("agent", agentID), zap.Duration("duration", time.Since(start)))
	}

	escalate, reason := ParseDecision(text)
	reason = memory.Truncate(reason, maxReasonLen)
	res.Reason = reason

	if escalate {
		count, err := s.State.DailyCount(ctx, agentID, Today(now))
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", agentID, err)
		}
		if count >= s.DailyCap {
			res.CapBlocked = true
			res.Status = StatusIdle
			res.Reason = "[DAILY_CAP_REACHED] " + reason
			if err := s.State.RecordScan(ctx, agentID, StatusIdle, res.Reason, now); err != nil {
				return nil, fmt.Errorf("scan %s: %w", agentID, err)
			}
			s.Audit.Record(ctx, agentID, "system1_scan",
				fmt.Sprintf("ESCALATED but DAILY_CAP_REACHED (count=%d): %s", count, reason))
			s.logger.Info("system1 escalation blocked by daily cap",
				zap.String("agent", agentID), zap.Int("count", count))
			return res, nil
		}
		res.Escalated = true
		res.Status = StatusEscalated
	} else {
		res.Status = StatusIdle
	}

	if err := s.State.RecordScan(ctx, agentID, res.Status, reason, now); err != nil {
		return nil, fmt.Errorf("scan %s: %w", agentID, err)
	}

	result := "idle"
	if res.Escalated {
		result = "ESCALATED"
	}
	detail := fmt.Sprintf("result=%s reason=%s", result, memory.Truncate(reason, 200))
	if res.BackendErr != "" {
		detail += " backend_error=" + memory.Truncate(res.BackendErr, 200)
	}
	s.Audit.Record(ctx, agentID, "system1_scan", detail)
	s.logger.Info("system1 scan complete",
		zap.String("agent", agentID), zap.Bool("escalated", res.Escalated))
	return res, nil
}

// Today is the UTC counter date for t.
func Today(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}
