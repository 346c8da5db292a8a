package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Alert is an operator notification raised by the loop.
type Alert struct {
	Title  string    `json:"title"`
	Body   string    `json:"body"`
	Source string    `json:"source"`
	SentAt time.Time `json:"sent_at"`
}

// Sink delivers alerts to one platform.
type Sink interface {
	Platform() string
	Send(ctx context.Context, a *Alert) error
}

// Record tracks a delivered alert.
type Record struct {
	Alert   *Alert   `json:"alert"`
	Targets []string `json:"targets"`
	Failed  []string `json:"failed,omitempty"`
}

const historyLimit = 100

// Broadcaster fans alerts out to every configured sink. Delivery errors are
// logged; alerting never fails the caller.
type Broadcaster struct {
	sinks   []Sink
	source  string
	history []Record
	mu      sync.Mutex
	now     func() time.Time
	timeout time.Duration
	logger  *zap.Logger
}

// NewBroadcaster creates a broadcaster. source names the sender in
// messages, usually the host or deployment.
func NewBroadcaster(source string, logger *zap.Logger, sinks ...Sink) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		sinks:   sinks,
		source:  source,
		now:     time.Now,
		timeout: 10 * time.Second,
		logger:  logger,
	}
}

// Platforms lists the configured sinks.
func (b *Broadcaster) Platforms() []string {
	out := make([]string, len(b.sinks))
	for i, s := range b.sinks {
		out[i] = s.Platform()
	}
	return out
}

// Alert sends title and body to every sink.
func (b *Broadcaster) Alert(ctx context.Context, title, body string) {
	if err := b.Send(ctx, &Alert{Title: title, Body: body}); err != nil {
		b.logger.Warn("alert delivery incomplete", zap.String("title", title), zap.Error(err))
	}
}

// Send delivers a to every sink and returns the joined delivery errors.
func (b *Broadcaster) Send(ctx context.Context, a *Alert) error {
	if a.Title == "" {
		return errors.New("alert title is required")
	}
	if a.Source == "" {
		a.Source = b.source
	}
	a.SentAt = b.now()

	b.logger.Info("sending operator alert",
		zap.String("title", a.Title),
		zap.Strings("platforms", b.Platforms()))

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	rec := Record{Alert: a}
	var errs []error
	for _, s := range b.sinks {
		if err := s.Send(ctx, a); err != nil {
			rec.Failed = append(rec.Failed, s.Platform())
			errs = append(errs, fmt.Errorf("%s: %w", s.Platform(), err))
			continue
		}
		rec.Targets = append(rec.Targets, s.Platform())
	}

	b.mu.Lock()
	b.history = append(b.history, rec)
	if len(b.history) > historyLimit {
		b.history = b.history[len(b.history)-historyLimit:]
	}
	b.mu.Unlock()
	return errors.Join(errs...)
}

// History returns up to limit recent alerts, oldest first.
func (b *Broadcaster) History(limit int) []Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	if limit <= 0 || limit > len(b.history) {
		limit = len(b.history)
	}
	out := make([]Record, limit)
	copy(out, b.history[len(b.history)-limit:])
	return out
}

func format(a *Alert) string {
	if a.Source == "" {
		return fmt.Sprintf("*%s*\n%s", a.Title, a.Body)
	}
	return fmt.Sprintf("*[%s] %s*\n%s", a.Source, a.Title, a.Body)
}
