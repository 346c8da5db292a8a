package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
)

// SlackSink posts alerts to a Slack incoming webhook.
type SlackSink struct {
	url      string
	username string
}

// NewSlackSink creates a sink for webhookURL.
func NewSlackSink(webhookURL, username string) *SlackSink {
	return &SlackSink{url: webhookURL, username: username}
}

func (s *SlackSink) Platform() string { return "slack" }

// Send posts the alert text.
func (s *SlackSink) Send(ctx context.Context, a *Alert) error {
	msg := &slack.WebhookMessage{
		Text:      format(a),
		Username:  s.username,
		IconEmoji: ":rotating_light:",
	}
	if err := slack.PostWebhookContext(ctx, s.url, msg); err != nil {
		return fmt.Errorf("slack webhook: %w", err)
	}
	return nil
}
