package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// OrderBuilder turns a freshly claimed signal into the sized order that
// approves it. It runs inside the claim and must not block on I/O.
type OrderBuilder func(sig Signal) (SizedOrder, error)

// SignalStore persists signals.
type SignalStore interface {
	Create(ctx context.Context, sig Signal) error
	GetByID(ctx context.Context, id string) (Signal, error)
	CountByStatus(ctx context.Context, status SignalStatus) (int64, error)
	CountByStatusSince(ctx context.Context, status SignalStatus, since time.Time) (int64, error)
	// Claim atomically selects a pending signal (id, or the oldest when id is
	// empty), inserts the order built from it and marks it approved. A
	// signal that is missing, not pending or claimed concurrently yields
	// ErrNotFound.
	Claim(ctx context.Context, id string, build OrderBuilder) (Signal, SizedOrder, error)
}

// SizedOrderStore persists sized orders and the executor-side transitions.
type SizedOrderStore interface {
	GetByID(ctx context.Context, id string) (SizedOrder, error)
	ListOpen(ctx context.Context, limit int) ([]OpenOrder, error)
	CountByStatus(ctx context.Context, status SizedOrderStatus) (int64, error)
	StatusCountsSince(ctx context.Context, since time.Time) (map[SizedOrderStatus]int64, error)
	// RecordFill marks a pending order filled and appends its trade row in
	// one step.
	RecordFill(ctx context.Context, fill Fill) (TradeLog, error)
	Cancel(ctx context.Context, id string) error
}

// TradeLogStore reads the append-only trade log.
type TradeLogStore interface {
	ListRecent(ctx context.Context, limit int) ([]TradeWithSignal, error)
	List(ctx context.Context, opts ListOpts) ([]TradeLog, error)
	TotalsSince(ctx context.Context, since time.Time) (TradeTotals, error)
}

// RiskConfigStore persists operator-tunable parameters.
type RiskConfigStore interface {
	GetAll(ctx context.Context) (map[string]string, error)
	Set(ctx context.Context, key, value string) error
	List(ctx context.Context) ([]RiskConfigEntry, error)
}

// Ledger bundles the four desk stores behind one handle.
type Ledger struct {
	Signals SignalStore
	Orders  SizedOrderStore
	Trades  TradeLogStore
	Risk    RiskConfigStore
}

// Available reports whether every store is wired.
func (l *Ledger) Available() bool {
	return l != nil && l.Signals != nil && l.Orders != nil && l.Trades != nil && l.Risk != nil
}
