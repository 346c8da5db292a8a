package daemon

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/nuka-mind/internal/cognitive"
)

// BeatFunc runs one loop invocation for an agent.
type BeatFunc func(ctx context.Context, agentID string) *cognitive.LoopResult

// ListAgentsFunc discovers agents when no static list is configured.
type ListAgentsFunc func(ctx context.Context) ([]string, error)

// Beat is the last outcome recorded for an agent.
type Beat struct {
	AgentID string                `json:"agent_id"`
	At      time.Time             `json:"at"`
	Result  *cognitive.LoopResult `json:"result"`
}

// Heartbeat drives the cognitive loop for each agent every interval.
// Agents are run one after another; a beat never overlaps another beat
// in the same process.
type Heartbeat struct {
	interval time.Duration
	timeout  time.Duration
	agentIDs []string
	beatFn   BeatFunc
	listFn   ListAgentsFunc
	lastTick time.Time
	last     map[string]Beat
	mu       sync.Mutex
	beatMu   sync.Mutex
	now      func() time.Time
	logger   *zap.Logger
}

// NewHeartbeat creates a heartbeat. listFn may be nil.
func NewHeartbeat(interval time.Duration, beatFn BeatFunc, listFn ListAgentsFunc, logger *zap.Logger) *Heartbeat {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Heartbeat{
		interval: interval,
		timeout:  5 * time.Minute,
		beatFn:   beatFn,
		listFn:   listFn,
		last:     make(map[string]Beat),
		now:      time.Now,
		logger:   logger,
	}
}

// SetAgents replaces the static agent list.
func (h *Heartbeat) SetAgents(ids []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.agentIDs = append([]string(nil), ids...)
}

// Run fires a beat right away and then every interval until ctx is done.
func (h *Heartbeat) Run(ctx context.Context) error {
	h.logger.Info("heartbeat started", zap.Duration("interval", h.interval))
	h.FireNow(ctx)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("heartbeat stopped")
			return nil
		case t := <-ticker.C:
			h.OnTick(ctx, t)
		}
	}
}

// OnTick fires a beat when at least one interval has passed since the last.
func (h *Heartbeat) OnTick(ctx context.Context, t time.Time) {
	h.mu.Lock()
	if !h.lastTick.IsZero() && t.Sub(h.lastTick) < h.interval {
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()
	h.FireNow(ctx)
}

// FireNow runs every agent immediately and returns how many completed.
func (h *Heartbeat) FireNow(ctx context.Context) int {
	h.beatMu.Lock()
	defer h.beatMu.Unlock()

	h.mu.Lock()
	h.lastTick = h.now()
	agents := append([]string(nil), h.agentIDs...)
	h.mu.Unlock()

	if len(agents) == 0 && h.listFn != nil {
		found, err := h.listFn(ctx)
		if err != nil {
			h.logger.Warn("agent discovery failed", zap.Error(err))
		}
		agents = found
	}

	completed := 0
	for _, id := range agents {
		if ctx.Err() != nil {
			break
		}
		bctx, cancel := context.WithTimeout(ctx, h.timeout)
		res := h.beatFn(bctx, id)
		cancel()

		h.mu.Lock()
		h.last[id] = Beat{AgentID: id, At: h.now(), Result: res}
		h.mu.Unlock()

		if res != nil && res.Completed {
			completed++
			h.logger.Debug("heartbeat fired",
				zap.String("agent", id),
				zap.String("exit_reason", res.ExitReason))
			continue
		}
		reason := "no result"
		if res != nil {
			reason = res.ExitReason
		}
		h.logger.Warn("heartbeat did not complete",
			zap.String("agent", id),
			zap.String("exit_reason", reason))
	}
	return completed
}

// Last returns the most recent beat per agent.
func (h *Heartbeat) Last() []Beat {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Beat, 0, len(h.last))
	for _, b := range h.last {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}
