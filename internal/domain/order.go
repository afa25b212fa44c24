package domain

import "time"

// SizedOrderStatus tracks the execution lifecycle of a sized order.
type SizedOrderStatus string

const (
	SizedOrderPending   SizedOrderStatus = "pending"
	SizedOrderFilled    SizedOrderStatus = "filled"
	SizedOrderCancelled SizedOrderStatus = "cancelled"
)

// CanTransition reports whether an order may move from s to next.
func (s SizedOrderStatus) CanTransition(next SizedOrderStatus) bool {
	return s == SizedOrderPending && (next == SizedOrderFilled || next == SizedOrderCancelled)
}

// SizedOrder is a risk-approved order waiting for the executor. Each one
// belongs to exactly one approved Signal.
type SizedOrder struct {
	ID          string
	CreatedAt   time.Time
	SignalID    string
	MarketID    string
	Side        Side
	SizeUSD     float64
	MaxPrice    *float64
	SlippageBps float64
	Wallet      string
	Status      SizedOrderStatus
	FilledAt    *time.Time
	FillPrice   *float64
}

// Validate checks the invariants a sized order must satisfy before insert.
func (o SizedOrder) Validate() error {
	if o.SignalID == "" || o.MarketID == "" {
		return ErrInvalidOrder
	}
	if !(o.SizeUSD > 0) {
		return ErrInvalidOrder
	}
	return nil
}

// OpenOrder is a pending sized order joined with its originating signal.
// Signal is nil when the join finds nothing.
type OpenOrder struct {
	Order  SizedOrder
	Signal *Signal
}

// Fill describes one execution reported by the executor.
type Fill struct {
	SizedOrderID string
	FillPrice    float64
	// ArrivalPrice defaults to the originating signal's market price when nil.
	ArrivalPrice *float64
	ClobOrderID  string
	Wallet       string
	FilledAt     time.Time
}
