package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/polydesk/internal/domain"
)

const paperBatch = 25

// PaperExecutor stands in for the live executor in paper mode. It fills
// pending sized orders at the current quote, or cancels them when the quote
// has moved past the order's slippage budget.
type PaperExecutor struct {
	orders        domain.SizedOrderStore
	quotes        domain.QuoteSource
	events        *EventPublisher
	ledgerTimeout time.Duration
	quoteTimeout  time.Duration
	logger        *slog.Logger
	now           func() time.Time
}

// NewPaperExecutor creates a PaperExecutor.
func NewPaperExecutor(orders domain.SizedOrderStore, quotes domain.QuoteSource, events *EventPublisher, ledgerTimeout, quoteTimeout time.Duration, logger *slog.Logger) *PaperExecutor {
	return &PaperExecutor{
		orders:        orders,
		quotes:        quotes,
		events:        events,
		ledgerTimeout: ledgerTimeout,
		quoteTimeout:  quoteTimeout,
		logger:        logger.With(slog.String("component", "paper_executor")),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// PriceLimit is the worst acceptable fill for an order whose signal saw
// price: the price plus the slippage budget.
func PriceLimit(price, slippageBps float64) float64 {
	return price + slippageBps/10000
}

// FillOpen works through one batch of pending orders. Orders whose quote is
// unavailable stay pending for the next run.
func (e *PaperExecutor) FillOpen(ctx context.Context) (domain.StepResult, error) {
	if e.orders == nil || e.quotes == nil {
		return domain.StepResult{
			Outcome: domain.OutcomeFailure,
			Reason:  domain.ReasonNotConfigured,
			Text:    "Paper executor needs the ledger and a quote source.",
		}, nil
	}

	lctx, cancel := withTimeout(ctx, e.ledgerTimeout)
	open, err := e.orders.ListOpen(lctx, paperBatch)
	cancel()
	if err != nil {
		return domain.StepResult{
			Outcome: domain.OutcomeFailure,
			Reason:  domain.ReasonPersistenceFailed,
			Text:    fmt.Sprintf("Paper fill failed: %v", err),
		}, nil
	}
	if len(open) == 0 {
		return domain.StepResult{Outcome: domain.OutcomeNoop, Text: "No pending sized orders."}, nil
	}

	var filled, cancelled, skipped int
	for _, oo := range open {
		switch e.execute(ctx, oo) {
		case domain.SizedOrderFilled:
			filled++
		case domain.SizedOrderCancelled:
			cancelled++
		default:
			skipped++
		}
	}

	text := fmt.Sprintf("Paper executor: %d filled, %d cancelled, %d skipped.", filled, cancelled, skipped)
	if filled+cancelled == 0 {
		return domain.StepResult{Outcome: domain.OutcomeFailure, Reason: domain.ReasonDependencyFailed, Text: text}, nil
	}
	return domain.StepResult{Outcome: domain.OutcomeSuccess, Text: text}, nil
}

// execute returns the order's new status, or pending when it was left alone.
func (e *PaperExecutor) execute(ctx context.Context, oo domain.OpenOrder) domain.SizedOrderStatus {
	o := oo.Order
	log := e.logger.With(slog.String("sized_order_id", o.ID), slog.String("market_id", o.MarketID))

	qctx, cancel := withTimeout(ctx, e.quoteTimeout)
	q, err := e.quotes.Quotes(qctx, o.MarketID)
	cancel()
	if err != nil {
		log.WarnContext(ctx, "paper_executor: quote failed", slog.String("error", err.Error()))
		return domain.SizedOrderPending
	}
	price := q.Price(o.Side)

	lctx, lcancel := withTimeout(ctx, e.ledgerTimeout)
	defer lcancel()

	if oo.Signal != nil && price > PriceLimit(oo.Signal.MarketPrice, o.SlippageBps) {
		if err := e.orders.Cancel(lctx, o.ID); err != nil {
			log.WarnContext(ctx, "paper_executor: cancel failed", slog.String("error", err.Error()))
			return domain.SizedOrderPending
		}
		log.InfoContext(ctx, "paper_executor: cancelled, price moved",
			slog.Float64("signal_price", oo.Signal.MarketPrice),
			slog.Float64("quote", price),
		)
		return domain.SizedOrderCancelled
	}

	trade, err := e.orders.RecordFill(lctx, domain.Fill{
		SizedOrderID: o.ID,
		FillPrice:    price,
		ClobOrderID:  "paper-" + o.ID,
		Wallet:       o.Wallet,
		FilledAt:     e.now(),
	})
	if err != nil {
		log.WarnContext(ctx, "paper_executor: record fill failed", slog.String("error", err.Error()))
		return domain.SizedOrderPending
	}

	e.events.Publish(ctx, domain.DeskEvent{
		Type: domain.EventOrderFilled,
		At:   trade.CreatedAt,
		Data: map[string]any{
			"sizedOrderId": o.ID,
			"tradeId":      trade.ID,
			"marketId":     o.MarketID,
			"side":         o.Side,
			"sizeUsd":      o.SizeUSD,
			"fillPrice":    price,
		},
	}, "", "")
	log.InfoContext(ctx, "paper_executor: filled",
		slog.Float64("fill_price", price),
		slog.Float64("size_usd", o.SizeUSD),
	)
	return domain.SizedOrderFilled
}
