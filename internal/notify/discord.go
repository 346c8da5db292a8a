package notify

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// DiscordSink posts alerts through a Discord channel webhook.
type DiscordSink struct {
	session  *discordgo.Session
	id       string
	token    string
	username string
}

// NewDiscordSink parses a webhook URL of the form
// https://discord.com/api/webhooks/<id>/<token>.
func NewDiscordSink(webhookURL, username string) (*DiscordSink, error) {
	id, token, err := parseWebhook(webhookURL)
	if err != nil {
		return nil, err
	}
	// Webhook execution needs no bot token.
	session, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	return &DiscordSink{session: session, id: id, token: token, username: username}, nil
}

func parseWebhook(raw string) (id, token string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("parse discord webhook: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "webhooks" {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", fmt.Errorf("discord webhook %q: missing id or token", u.Redacted())
}

func (d *DiscordSink) Platform() string { return "discord" }

// Send executes the webhook with the alert text.
func (d *DiscordSink) Send(ctx context.Context, a *Alert) error {
	params := &discordgo.WebhookParams{
		Content:  strings.ReplaceAll(format(a), "*", "**"),
		Username: d.username,
	}
	if _, err := d.session.WebhookExecute(d.id, d.token, false, params, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord webhook execute: %w", err)
	}
	return nil
}
