// Package notify delivers desk alerts to operator chat channels. Every event
// goes to all configured senders, filtered by event type.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches notifications to one or more Senders.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier for senders. Only event types listed in
// events are forwarded by Notify; an empty list forwards everything.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// FromConfig builds the senders for whichever channels have credentials.
// It returns nil when no channel is configured.
func FromConfig(telegramToken, telegramChatID, discordWebhook string, events []string, logger *slog.Logger) *Notifier {
	var senders []Sender
	if telegramToken != "" && telegramChatID != "" {
		senders = append(senders, NewTelegramSender(telegramToken, telegramChatID))
	}
	if discordWebhook != "" {
		senders = append(senders, NewDiscordSender(discordWebhook))
	}
	if len(senders) == 0 {
		return nil
	}
	return NewNotifier(senders, events, logger)
}

// Senders returns the configured channel names.
func (n *Notifier) Senders() []string {
	out := make([]string, 0, len(n.senders))
	for _, s := range n.senders {
		out = append(out, s.Name())
	}
	return out
}

// Notify sends to every sender when event passes the filter. One sender
// failing does not stop delivery to the others; failures are joined.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "notify: event filtered", slog.String("event", event))
		return nil
	}

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.WarnContext(ctx, "notify: sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
