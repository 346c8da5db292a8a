package cognitive

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nidhogg/nuka-mind/internal/memory"
)

// memState is an in-memory StateStore that counts writes.
type memState struct {
	mu     sync.Mutex
	rows   map[string]*State
	writes int
	// failEnsure makes EnsureState return an error.
	failEnsure error
	// honorCtx makes writes fail once their context is done, as the SQL
	// drivers do.
	honorCtx bool
}

func newMemState() *memState {
	return &memState{rows: map[string]*State{}}
}

func (m *memState) EnsureState(_ context.Context, agentID string) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failEnsure != nil {
		return nil, m.failEnsure
	}
	st, ok := m.rows[agentID]
	if !ok {
		m.writes++
		st = &State{ID: "cog-" + agentID, AgentID: agentID, ScanStatus: StatusIdle, PendingIntentions: "[]"}
		m.rows[agentID] = st
	}
	cp := *st
	return &cp, nil
}

func (m *memState) GetState(_ context.Context, agentID string) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.rows[agentID]
	if !ok {
		return nil, errors.New("not found")
	}
	cp := *st
	return &cp, nil
}

func (m *memState) TryBeginScan(_ context.Context, agentID string, _ time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.rows[agentID]
	if !ok || st.ScanStatus == StatusRunning {
		return false, nil
	}
	m.writes++
	st.ScanStatus = StatusRunning
	return true, nil
}

func (m *memState) SetScanStatus(ctx context.Context, agentID string, status Status, _ time.Time) error {
	if !status.Valid() {
		return ErrInvalidStatus
	}
	if m.honorCtx && ctx.Err() != nil {
		return ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.rows[agentID]; ok {
		m.writes++
		st.ScanStatus = status
	}
	return nil
}

func (m *memState) RecordScan(ctx context.Context, agentID string, status Status, result string, at time.Time) error {
	if !status.Valid() {
		return ErrInvalidStatus
	}
	if m.honorCtx && ctx.Err() != nil {
		return ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.rows[agentID]; ok {
		m.writes++
		st.ScanStatus = status
		st.LastScanResult = result
		st.LastSystem1Run = &at
	}
	return nil
}

func (m *memState) DailyCount(_ context.Context, agentID, today string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.rows[agentID]
	if !ok {
		return 0, nil
	}
	if st.System2Date != today {
		m.writes++
		st.System2Date = today
		st.System2CountToday = 0
	}
	return st.System2CountToday, nil
}

func (m *memState) RecordDeliberation(_ context.Context, agentID, today string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.rows[agentID]
	if !ok {
		return nil
	}
	m.writes++
	if st.System2Date == today {
		st.System2CountToday++
	} else {
		st.System2CountToday = 1
	}
	st.System2Date = today
	st.LastSystem2Run = &at
	st.ScanStatus = StatusIdle
	return nil
}

func (m *memState) status(agentID string) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[agentID].ScanStatus
}

func (m *memState) count(agentID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[agentID].System2CountToday
}

type auditEvent struct {
	agent, action, detail string
}

type recAudit struct {
	mu     sync.Mutex
	events []auditEvent
}

func (r *recAudit) Record(_ context.Context, agentID, action, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, auditEvent{agentID, action, detail})
}

func (r *recAudit) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.action
	}
	return out
}

type recAlerts struct {
	titles []string
}

func (r *recAlerts) Alert(_ context.Context, title, _ string) {
	r.titles = append(r.titles, title)
}

type fakeGuard struct {
	fixed []string
	wal   int64
}

func (g *fakeGuard) EnsurePermissions(context.Context) ([]string, error) { return g.fixed, nil }
func (g *fakeGuard) WALSize(context.Context) (int64, error)              { return g.wal, nil }

type fakeBeliefs struct {
	items []memory.Item
	err   error
}

func (f *fakeBeliefs) TopBeliefs(_ context.Context, _ string, limit int) ([]memory.Item, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.items) > limit {
		return f.items[:limit], nil
	}
	return f.items, nil
}

type fakeMessages struct {
	msgs []Message
	err  error
}

func (f *fakeMessages) ReadUnread(_ context.Context, _ string, limit int) ([]Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.msgs) > limit {
		return f.msgs[:limit], nil
	}
	return f.msgs, nil
}

type postCall struct {
	title, content string
	evidence       []string
}

type fakeBoard struct {
	open    []ProposalSummary
	posts   []postCall
	blocked bool
	err     error
}

func (f *fakeBoard) OpenProposals(_ context.Context, limit int) ([]ProposalSummary, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.open) > limit {
		return f.open[:limit], nil
	}
	return f.open, nil
}

func (f *fakeBoard) Post(_ context.Context, _, title, content string, evidence []string) (*PostResult, error) {
	f.posts = append(f.posts, postCall{title, content, evidence})
	if f.blocked {
		return &PostResult{Blocked: true, Message: "blocked"}, nil
	}
	return &PostResult{ID: "prop-1", RequiresReview: len(evidence) == 0}, nil
}

type addedGap struct {
	domain, desc string
	importance   float64
}

type fakeGaps struct {
	open  []Gap
	added []addedGap
	err   error
}

func (f *fakeGaps) OpenGaps(_ context.Context, _ string, limit int) ([]Gap, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.open) > limit {
		return f.open[:limit], nil
	}
	return f.open, nil
}

func (f *fakeGaps) AddGap(_ context.Context, _, domain, desc string, importance float64) (string, error) {
	f.added = append(f.added, addedGap{domain, desc, importance})
	return "kg-1", nil
}

type fakeWriter struct {
	drafts []BeliefDraft
}

func (f *fakeWriter) ProposeBelief(_ context.Context, _ string, b BeliefDraft) (string, error) {
	f.drafts = append(f.drafts, b)
	return "s2-1", nil
}

// panicScanner blows up mid-cycle.
type panicScanner struct{}

func (panicScanner) Scan(context.Context, string) (*ScanResult, error) {
	panic("scanner exploded")
}

// hangingCompleter blocks until its context is done, like a backend that
// never answers before the process is interrupted.
type hangingCompleter struct {
	started chan struct{}
}

func newHangingCompleter() *hangingCompleter {
	return &hangingCompleter{started: make(chan struct{})}
}

func (h *hangingCompleter) Complete(ctx context.Context, _ string, _ time.Duration) (string, error) {
	close(h.started)
	<-ctx.Done()
	return "", ctx.Err()
}

// cancelOnStart cancels once the completer is waiting.
func cancelOnStart(h *hangingCompleter, cancel context.CancelFunc) {
	go func() {
		<-h.started
		cancel()
	}()
}

func fp(v float64) *float64 { return &v }
