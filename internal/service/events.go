package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/polydesk/internal/domain"
)

// Notifier delivers human-readable alerts (Discord, Telegram).
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// EventPublisher fans desk events out to the bus and to operator alerts.
// Every sink is optional and failures are only logged; events never block
// or fail a pipeline step.
type EventPublisher struct {
	bus      domain.SignalBus
	notifier Notifier
	logger   *slog.Logger
}

// NewEventPublisher creates an EventPublisher. bus and notifier may be nil.
func NewEventPublisher(bus domain.SignalBus, notifier Notifier, logger *slog.Logger) *EventPublisher {
	return &EventPublisher{
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "events")),
	}
}

// Publish sends ev on its channel, appends it to the durable stream and
// forwards text to the notifier when text is non-empty.
func (p *EventPublisher) Publish(ctx context.Context, ev domain.DeskEvent, title, text string) {
	if p == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	if p.bus != nil {
		payload, err := json.Marshal(ev)
		if err != nil {
			p.logger.ErrorContext(ctx, "events: marshal failed", slog.String("type", string(ev.Type)), slog.String("error", err.Error()))
			return
		}
		if err := p.bus.Publish(ctx, ev.Channel(), payload); err != nil {
			p.logger.WarnContext(ctx, "events: publish failed", slog.String("type", string(ev.Type)), slog.String("error", err.Error()))
		}
		if err := p.bus.StreamAppend(ctx, domain.StreamEvents, payload); err != nil {
			p.logger.WarnContext(ctx, "events: stream append failed", slog.String("type", string(ev.Type)), slog.String("error", err.Error()))
		}
	}
	if p.notifier != nil && text != "" {
		if err := p.notifier.Notify(ctx, string(ev.Type), title, text); err != nil {
			p.logger.WarnContext(ctx, "events: notify failed", slog.String("type", string(ev.Type)), slog.String("error", err.Error()))
		}
	}
}

// shortID trims an id for display.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8] + "…"
}

// shortMarket trims a market id for display.
func shortMarket(id string) string {
	if len(id) <= 14 {
		return id
	}
	return id[:14] + "…"
}

func pct(p float64) string {
	return fmt.Sprintf("%.1f%%", p*100)
}
