package domain

import "time"

// Bus channels and the durable event stream used by the desk.
const (
	ChannelSignals = "desk:signals"
	ChannelOrders  = "desk:orders"
	ChannelReports = "desk:reports"
	StreamEvents   = "desk:events"
)

// EventType names a desk event.
type EventType string

const (
	EventSignalEmitted EventType = "signal_emitted"
	EventOrderSized    EventType = "order_sized"
	EventOrderFilled   EventType = "order_filled"
	EventReport        EventType = "report"
	EventTickFailed    EventType = "tick_failed"
)

// DeskEvent is the JSON envelope published on the bus and streamed to
// dashboard clients.
type DeskEvent struct {
	Type EventType      `json:"type"`
	At   time.Time      `json:"at"`
	Data map[string]any `json:"data,omitempty"`
}

// Channel returns the pub/sub channel an event belongs on.
func (e DeskEvent) Channel() string {
	switch e.Type {
	case EventSignalEmitted:
		return ChannelSignals
	case EventOrderSized, EventOrderFilled:
		return ChannelOrders
	default:
		return ChannelReports
	}
}
