package notify

import (
	"context"
	"fmt"
	"time"
)

const discordMaxChars = 2000

// DiscordSender delivers notifications via a Discord webhook.
type DiscordSender struct {
	webhook
	url string
}

// NewDiscordSender creates a DiscordSender for the given webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhook: newWebhook("discord", 500*time.Millisecond, 5),
		url:     webhookURL,
	}
}

// Send posts the message with a bold title. Discord answers 204 on success.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	content := truncate(fmt.Sprintf("**%s**\n%s", title, message), discordMaxChars)
	return d.post(ctx, d.url, map[string]string{"content": content})
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string { return "discord" }
