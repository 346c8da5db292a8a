package cognitive

import (
	"context"
	"errors"
	"time"

	"github.com/nidhogg/nuka-mind/internal/memory"
)

// Status is the scan state of one agent.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusEscalated Status = "escalated"
	StatusError     Status = "error"
)

// ErrInvalidStatus is returned when a status outside the enum is written.
var ErrInvalidStatus = errors.New("invalid scan status")

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusIdle, StatusRunning, StatusEscalated, StatusError:
		return true
	}
	return false
}

// State is the per-agent scheduler record. Exactly one exists per agent.
type State struct {
	ID                string     `json:"id"`
	AgentID           string     `json:"agent_id"`
	ScanStatus        Status     `json:"scan_status"`
	LastSystem1Run    *time.Time `json:"last_system1_run,omitempty"`
	LastSystem2Run    *time.Time `json:"last_system2_run,omitempty"`
	System2CountToday int        `json:"system2_count_today"`
	System2Date       string     `json:"system2_date,omitempty"`
	PendingIntentions string     `json:"pending_intentions"`
	LastScanResult    string     `json:"last_scan_result,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Message is an inbound agent message that passed validation.
type Message struct {
	ID             string    `json:"id"`
	From           string    `json:"from"`
	Content        string    `json:"content"`
	RequiresReview bool      `json:"requires_review"`
	CreatedAt      time.Time `json:"created_at"`
}

// ProposalSummary is what the scanners may see of an open proposal.
type ProposalSummary struct {
	Title          string `json:"title"`
	Author         string `json:"author"`
	RequiresReview bool   `json:"requires_review"`
}

// PostResult reports the outcome of posting a proposal.
type PostResult struct {
	ID             string `json:"id"`
	Blocked        bool   `json:"blocked"`
	RequiresReview bool   `json:"requires_review"`
	Message        string `json:"message"`
}

// Gap is an unresolved knowledge gap.
type Gap struct {
	ID          string  `json:"id"`
	Domain      string  `json:"domain"`
	Description string  `json:"description"`
	Importance  float64 `json:"importance"`
}

// BeliefDraft is a belief proposed by deliberation.
type BeliefDraft struct {
	Content         string  `json:"content"`
	Category        string  `json:"category"`
	Confidence      float64 `json:"confidence"`
	Importance      float64 `json:"importance"`
	EvidenceFor     string  `json:"evidence_for"`
	EvidenceAgainst string  `json:"evidence_against"`
}

// StateStore persists State and implements the cap and scan transitions.
type StateStore interface {
	EnsureState(ctx context.Context, agentID string) (*State, error)
	GetState(ctx context.Context, agentID string) (*State, error)
	// TryBeginScan moves a non-running row to running and reports whether it
	// did.
	TryBeginScan(ctx context.Context, agentID string, at time.Time) (bool, error)
	SetScanStatus(ctx context.Context, agentID string, status Status, at time.Time) error
	RecordScan(ctx context.Context, agentID string, status Status, result string, at time.Time) error
	// DailyCount resets a counter dated before today and returns the count.
	DailyCount(ctx context.Context, agentID, today string) (int, error)
	RecordDeliberation(ctx context.Context, agentID, today string, at time.Time) error
}

// Auditor records events. It never fails the caller.
type Auditor interface {
	Record(ctx context.Context, agentID, action, detail string)
}

// Alerter notifies operators.
type Alerter interface {
	Alert(ctx context.Context, title, body string)
}

// BeliefSource returns an agent's own active beliefs ordered by activation.
type BeliefSource interface {
	TopBeliefs(ctx context.Context, agentID string, limit int) ([]memory.Item, error)
}

// MessageReader is the validated read path for agent messages.
type MessageReader interface {
	ReadUnread(ctx context.Context, agentID string, limit int) ([]Message, error)
}

// ProposalBoard is the shared proposal board.
type ProposalBoard interface {
	OpenProposals(ctx context.Context, limit int) ([]ProposalSummary, error)
	Post(ctx context.Context, agentID, title, content string, evidence []string) (*PostResult, error)
}

// GapStore holds knowledge gaps.
type GapStore interface {
	OpenGaps(ctx context.Context, agentID string, limit int) ([]Gap, error)
	AddGap(ctx context.Context, agentID, domain, description string, importance float64) (string, error)
}

// BeliefWriter stores proposed beliefs for later review.
type BeliefWriter interface {
	ProposeBelief(ctx context.Context, agentID string, b BeliefDraft) (string, error)
}

// MemoryRecall retrieves ranked memories.
type MemoryRecall interface {
	Retrieve(ctx context.Context, q memory.Query) ([]memory.Ranked, error)
}

// ResourceGuard checks the shared store before a loop runs.
type ResourceGuard interface {
	EnsurePermissions(ctx context.Context) ([]string, error)
	WALSize(ctx context.Context) (int64, error)
}
