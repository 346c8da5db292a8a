package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nidhogg/nuka-mind/internal/store"
)

// Appender is the durable audit log.
type Appender interface {
	AppendAudit(ctx context.Context, ts time.Time, agent, action, detail string) error
}

const streamPrefix = "nuka:audit:"

// Trail records audit events in the store and, when a Redis client is
// attached, mirrors each one to the agent's stream. The store is the
// source of truth; a mirror failure is only logged.
type Trail struct {
	log    Appender
	rdb    *redis.Client
	now    func() time.Time
	logger *zap.Logger
}

// NewTrail creates a store-only trail.
func NewTrail(log Appender, logger *zap.Logger) *Trail {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trail{log: log, now: time.Now, logger: logger}
}

// Connect parses redisURL, pings it and attaches it as the mirror.
func (t *Trail) Connect(ctx context.Context, redisURL string) error {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return fmt.Errorf("redis ping: %w", err)
	}
	t.rdb = rdb
	t.logger.Info("audit mirror connected", zap.String("addr", opts.Addr))
	return nil
}

// Mirrored reports whether events are copied to Redis.
func (t *Trail) Mirrored() bool { return t.rdb != nil }

// Record appends an event. It never fails the caller.
func (t *Trail) Record(ctx context.Context, agentID, action, detail string) {
	ev := store.AuditEvent{TS: t.now().UTC(), Agent: agentID, Action: action, Detail: detail}
	if err := t.log.AppendAudit(ctx, ev.TS, agentID, action, detail); err != nil {
		t.logger.Error("audit write failed",
			zap.String("agent", agentID),
			zap.String("action", action),
			zap.Error(err))
	}
	if t.rdb == nil {
		return
	}
	if err := t.publish(ctx, ev); err != nil {
		t.logger.Warn("audit mirror failed", zap.String("agent", agentID), zap.Error(err))
	}
}

func (t *Trail) publish(ctx context.Context, ev store.AuditEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	stream := streamPrefix + ev.Agent
	if err := t.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{"data": string(data)},
	}).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", stream, err)
	}
	t.logger.Debug("audit mirrored",
		zap.String("agent", ev.Agent),
		zap.String("action", ev.Action))
	return nil
}

// Follow streams mirrored events for agentID written after the call.
// The channel closes when ctx is cancelled or no mirror is attached.
func (t *Trail) Follow(ctx context.Context, agentID string) <-chan store.AuditEvent {
	ch := make(chan store.AuditEvent, 16)
	if t.rdb == nil {
		close(ch)
		return ch
	}
	stream := streamPrefix + agentID

	go func() {
		defer close(ch)
		lastID := "$"
		for ctx.Err() == nil {
			results, err := t.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{stream, lastID},
				Count:   10,
				Block:   2 * time.Second,
			}).Result()
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				if !errors.Is(err, redis.Nil) {
					t.logger.Warn("audit follow read failed", zap.Error(err))
				}
				continue
			}
			for _, r := range results {
				for _, msg := range r.Messages {
					lastID = msg.ID
					data, ok := msg.Values["data"].(string)
					if !ok {
						continue
					}
					var ev store.AuditEvent
					if json.Unmarshal([]byte(data), &ev) != nil {
						continue
					}
					select {
					case ch <- ev:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return ch
}

// Close releases the mirror connection.
func (t *Trail) Close() error {
	if t.rdb == nil {
		return nil
	}
	return t.rdb.Close()
}
