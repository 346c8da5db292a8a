package cognitive

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/nuka-mind/internal/memory"
)

// DefaultWALLimit halts the loop when the write-ahead log grows past it.
const DefaultWALLimit int64 = 50 << 20

// Exit reasons reported by Run. Errors are reported as "error: <msg>".
const (
	ExitWALTooLarge    = "wal_too_large"
	ExitAlreadyRunning = "already_running"
	ExitIdle           = "system1_idle"
	ExitEscalatedCap   = "system1_escalated_cap"
	ExitRanSystem2     = "system1_escalated_ran_s2"
)

// LoopResult is the outcome of one loop invocation.
type LoopResult struct {
	Completed        bool   `json:"completed"`
	ExitReason       string `json:"exit_reason"`
	System1Escalated bool   `json:"system1_escalated"`
	System2Ran       bool   `json:"system2_ran"`
}

// ErrScanInProgress is returned by ScanOnce when another invocation holds
// the agent's row.
var ErrScanInProgress = errors.New("scan already running")

// ScanRunner is the System 1 pass.
type ScanRunner interface {
	Scan(ctx context.Context, agentID string) (*ScanResult, error)
}

// DeliberationRunner is the System 2 pass.
type DeliberationRunner interface {
	Deliberate(ctx context.Context, agentID, reason string) (*ThinkResult, error)
}

// Orchestrator runs one bounded attention cycle: safety gates, a System 1
// scan, and System 2 when escalated and within the daily cap.
type Orchestrator struct {
	Guard    ResourceGuard
	State    StateStore
	Scanner  ScanRunner
	Thinker  DeliberationRunner
	Audit    Auditor
	Alerts   Alerter
	WALLimit int64
	DailyCap int
	Now      func() time.Time
	logger   *zap.Logger
}

// NewOrchestrator wires a loop with the default WAL limit and daily cap.
// alerts may be nil.
func NewOrchestrator(guard ResourceGuard, state StateStore, scanner ScanRunner, thinker DeliberationRunner,
	audit Auditor, alerts Alerter, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		Guard:    guard,
		State:    state,
		Scanner:  scanner,
		Thinker:  thinker,
		Audit:    audit,
		Alerts:   alerts,
		WALLimit: DefaultWALLimit,
		DailyCap: DefaultDailyCap,
		Now:      time.Now,
		logger:   logger,
	}
}

// Run executes the loop for one agent. It never leaves the agent's row in
// running, whatever happens inside the cycle.
func (o *Orchestrator) Run(ctx context.Context, agentID string) *LoopResult {
	log := o.logger.With(zap.String("agent", agentID))

	fixed, err := o.Guard.EnsurePermissions(ctx)
	if err != nil {
		log.Warn("permission check failed", zap.Error(err))
	}
	for _, p := range fixed {
		o.Audit.Record(ctx, agentID, "db_permission_fix",
			fmt.Sprintf("Auto-fixed %s: corrected to 0600", filepath.Base(p)))
	}

	walSize, err := o.Guard.WALSize(ctx)
	if err != nil {
		log.Warn("wal size check failed", zap.Error(err))
	}
	walMB := float64(walSize) / (1 << 20)
	if walSize > o.WALLimit {
		msg := fmt.Sprintf("WAL file too large: %.1fMB > %.0fMB limit. Cognitive loop HALTED. Manual WAL checkpoint required.",
			walMB, float64(o.WALLimit)/(1<<20))
		o.Audit.Record(ctx, agentID, "cognitive_loop_wal_alert", msg)
		o.alert(ctx, "cognitive loop halted: "+agentID, msg)
		log.Error("wal too large, halting", zap.Int64("wal_bytes", walSize))
		return &LoopResult{ExitReason: ExitWALTooLarge}
	}

	if _, err := o.State.EnsureState(ctx, agentID); err != nil {
		return o.fail(ctx, agentID, err)
	}

	began, err := o.State.TryBeginScan(ctx, agentID, o.Now())
	if err != nil {
		return o.fail(ctx, agentID, err)
	}
	if !began {
		o.Audit.Record(ctx, agentID, "cognitive_loop_double_fire",
			"Prevented double-fire: scan_status=running for agent="+agentID)
		log.Warn("scan already in progress")
		return &LoopResult{ExitReason: ExitAlreadyRunning}
	}
	log.Info("cognitive loop started")

	defer o.releaseRunning(agentID)

	res, err := o.cycle(ctx, agentID, walMB)
	if err != nil {
		if serr := o.State.SetScanStatus(context.WithoutCancel(ctx), agentID, StatusError, o.Now()); serr != nil {
			log.Error("could not record error status", zap.Error(serr))
		}
		return o.fail(ctx, agentID, err)
	}
	return res
}

// cycle runs System 1 and, when warranted, System 2. Panics are returned
// as errors.
func (o *Orchestrator) cycle(ctx context.Context, agentID string, walMB float64) (res *LoopResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	scan, err := o.Scanner.Scan(ctx, agentID)
	if err != nil {
		return nil, err
	}
	o.logger.Info("system1 finished",
		zap.String("agent", agentID),
		zap.Bool("escalated", scan.Escalated),
		zap.String("reason", memory.Truncate(scan.Reason, 60)))

	ran := false
	if scan.Escalated && !scan.CapBlocked {
		count, err := o.State.DailyCount(ctx, agentID, Today(o.Now()))
		if err != nil {
			return nil, err
		}
		if count >= o.DailyCap {
			o.Audit.Record(ctx, agentID, "cognitive_loop",
				fmt.Sprintf("System 1 escalated but System 2 cap hit (%d/%d): %s",
					count, o.DailyCap, memory.Truncate(scan.Reason, 100)))
		} else {
			think, err := o.Thinker.Deliberate(ctx, agentID, scan.Reason)
			if err != nil {
				return nil, err
			}
			ran = think.Success
		}
	}

	if scan.Escalated && !ran {
		if err := o.State.SetScanStatus(ctx, agentID, StatusIdle, o.Now()); err != nil {
			return nil, err
		}
	}

	o.Audit.Record(ctx, agentID, "cognitive_loop",
		fmt.Sprintf("complete: escalated=%t s2_ran=%t wal_mb=%.1f", scan.Escalated, ran, walMB))

	res = &LoopResult{Completed: true, ExitReason: ExitIdle, System1Escalated: scan.Escalated, System2Ran: ran}
	switch {
	case scan.Escalated && ran:
		res.ExitReason = ExitRanSystem2
	// Escalated without a successful System 2 run: the cap was hit or the
	// System 2 backend failed. The audit trail tells the two apart.
	case scan.Escalated:
		res.ExitReason = ExitEscalatedCap
	}
	return res, nil
}

func (o *Orchestrator) fail(ctx context.Context, agentID string, err error) *LoopResult {
	msg := memory.Truncate(err.Error(), 200)
	o.Audit.Record(context.WithoutCancel(ctx), agentID, "cognitive_loop_error", "Unhandled exception: "+msg)
	o.alert(ctx, "cognitive loop error: "+agentID, msg)
	o.logger.Error("cognitive loop failed", zap.String("agent", agentID), zap.Error(err))
	return &LoopResult{ExitReason: "error: " + err.Error()}
}

// releaseRunning resets a row still marked running back to idle.
func (o *Orchestrator) releaseRunning(agentID string) {
	releaseIfRunning(o.State, agentID, o.Now, o.logger)
}

// releaseIfRunning runs on a fresh context so a cancelled caller still
// frees the row.
func releaseIfRunning(state StateStore, agentID string, now func() time.Time, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := state.GetState(ctx, agentID)
	if err != nil {
		logger.Warn("cleanup state read failed", zap.String("agent", agentID), zap.Error(err))
		return
	}
	if st.ScanStatus != StatusRunning {
		return
	}
	if err := state.SetScanStatus(ctx, agentID, StatusIdle, now()); err != nil {
		logger.Warn("cleanup reset failed", zap.String("agent", agentID), zap.Error(err))
	}
}

// ScanOnce claims the agent's row and runs a single System 1 scan outside
// the loop. A failed or panicking scan marks the row error; the row is never
// left running.
func ScanOnce(ctx context.Context, state StateStore, scanner ScanRunner, agentID string,
	now func() time.Time, logger *zap.Logger) (res *ScanResult, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := state.EnsureState(ctx, agentID); err != nil {
		return nil, err
	}
	began, err := state.TryBeginScan(ctx, agentID, now())
	if err != nil {
		return nil, err
	}
	if !began {
		return nil, ErrScanInProgress
	}
	defer releaseIfRunning(state, agentID, now, logger)
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("scan %s: panic: %v", agentID, r)
		}
		if err == nil {
			return
		}
		if serr := state.SetScanStatus(context.WithoutCancel(ctx), agentID, StatusError, now()); serr != nil {
			logger.Error("could not record error status", zap.String("agent", agentID), zap.Error(serr))
		}
	}()
	return scanner.Scan(ctx, agentID)
}

func (o *Orchestrator) alert(ctx context.Context, title, body string) {
	if o.Alerts == nil {
		return
	}
	o.Alerts.Alert(context.WithoutCancel(ctx), title, body)
}
