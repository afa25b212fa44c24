package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polydesk/internal/domain"
	"github.com/alanyoungcy/polydesk/internal/store/memory"
)

func newPaper(ledger *domain.Ledger, quotes domain.QuoteSource) *PaperExecutor {
	return NewPaperExecutor(ledger.Orders, quotes, nil, 0, 0, testLogger())
}

func sizedOrder(t *testing.T, ledger *domain.Ledger) string {
	t.Helper()
	seedSignal(t, ledger, 400, ptr(0.5), time.Now().UTC())
	res, err := newSizer(ledger).Approve(context.Background(), RiskRequest{})
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeSuccess, res.Outcome)
	return res.SizedOrderID
}

func TestPaperFillWithinBudget(t *testing.T) {
	ctx := context.Background()
	ledger := memory.New().Ledger()
	id := sizedOrder(t, ledger)

	quotes := &fakeQuotes{quotes: map[string]domain.Quote{testMarket: {Yes: 0.503, No: 0.497}}}
	res, err := newPaper(ledger, quotes).FillOpen(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSuccess, res.Outcome)
	assert.Equal(t, "Paper executor: 1 filled, 0 cancelled, 0 skipped.", res.Text)

	o, err := ledger.Orders.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.SizedOrderFilled, o.Status)

	trades, err := ledger.Trades.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, 0.5, *trades[0].ArrivalPrice)
	assert.Equal(t, 30.0, *trades[0].SlippageBps)
	assert.Equal(t, "paper-"+id, trades[0].ClobOrderID)
}

func TestPaperCancelsWhenPriceMoved(t *testing.T) {
	ctx := context.Background()
	ledger := memory.New().Ledger()
	id := sizedOrder(t, ledger)

	quotes := &fakeQuotes{quotes: map[string]domain.Quote{testMarket: {Yes: 0.60, No: 0.40}}}
	res, err := newPaper(ledger, quotes).FillOpen(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSuccess, res.Outcome)

	o, err := ledger.Orders.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.SizedOrderCancelled, o.Status)
}

func TestPaperLeavesOrdersPendingOnQuoteFailure(t *testing.T) {
	ctx := context.Background()
	ledger := memory.New().Ledger()
	id := sizedOrder(t, ledger)

	res, err := newPaper(ledger, &fakeQuotes{quoteErr: errors.New("gamma 502")}).FillOpen(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeFailure, res.Outcome)
	assert.Equal(t, domain.ReasonDependencyFailed, res.Reason)

	o, err := ledger.Orders.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.SizedOrderPending, o.Status)
}

func TestPaperNoOpenOrders(t *testing.T) {
	res, err := newPaper(memory.New().Ledger(), &fakeQuotes{}).FillOpen(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeNoop, res.Outcome)

	res, err = NewPaperExecutor(nil, nil, nil, 0, 0, testLogger()).FillOpen(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonNotConfigured, res.Reason)
}

func TestPriceLimit(t *testing.T) {
	assert.InDelta(t, 0.505, PriceLimit(0.5, 50), 1e-12)
	assert.Equal(t, 0.5, PriceLimit(0.5, 0))
}
