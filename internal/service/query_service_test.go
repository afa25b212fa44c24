package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polydesk/internal/domain"
	"github.com/alanyoungcy/polydesk/internal/store/memory"
)

func TestExecutionPnL(t *testing.T) {
	got := ExecutionPnL(domain.TradeLog{ArrivalPrice: ptr(0.52), FillPrice: 0.51, SizeUSD: 50})
	require.NotNil(t, got)
	assert.InDelta(t, 0.50, *got, 1e-9)

	// A fill at the arrival price is a paper fill.
	assert.Nil(t, ExecutionPnL(domain.TradeLog{ArrivalPrice: ptr(0.5), FillPrice: 0.5, SizeUSD: 50}))

	got = ExecutionPnL(domain.TradeLog{ArrivalPrice: ptr(0.0), FillPrice: 0, SizeUSD: 50})
	require.NotNil(t, got)
	assert.Equal(t, 0.0, *got)
}

func TestUnrealizedPnL(t *testing.T) {
	pnl, pct := UnrealizedPnL(domain.SideYes, 0.40, 0.50, 100)
	assert.InDelta(t, 10, pnl, 1e-9)
	assert.InDelta(t, 25, pct, 1e-9)

	pnl, pct = UnrealizedPnL(domain.SideNo, 0.40, 0.50, 100)
	assert.InDelta(t, -10, pnl, 1e-9)
	assert.InDelta(t, -100.0/6, pct, 1e-9)

	_, pct = UnrealizedPnL(domain.SideYes, 0, 0.5, 100)
	assert.Equal(t, 0.0, pct)
}

func TestStatusWithoutLedger(t *testing.T) {
	q := NewQueryService(nil, nil, 0, 0, testLogger())
	v := q.Status(context.Background())
	assert.Zero(t, v.TradesToday)
	assert.Zero(t, v.PendingSignalsCount)
	assert.NotEmpty(t, v.Hint)
	assert.NotZero(t, v.UpdatedAt)
}

func TestStatusUnreachableLedger(t *testing.T) {
	mem := memory.New()
	mem.FailWith(errors.New("dial tcp 10.0.0.1:5432: connect: connection refused"))
	v := NewQueryService(mem.Ledger(), nil, 0, 0, testLogger()).Status(context.Background())
	assert.Zero(t, v.TradesToday)
	assert.Zero(t, v.VolumeTodayUSD)
	assert.Zero(t, v.PendingSizedOrdersCount)
	assert.Contains(t, v.Hint, "connection refused")
}

func TestStatusCountsToday(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	ledger := mem.Ledger()
	now := time.Now().UTC()

	fillOrder(t, ledger, seedSignal(t, ledger, 400, ptr(0.5), now), 0.49)
	seedSignal(t, ledger, 400, ptr(0.5), now)
	seedSignal(t, ledger, 400, ptr(0.5), now)
	_, err := newSizer(ledger).Approve(ctx, RiskRequest{})
	require.NoError(t, err)

	yesterday := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(-time.Hour)
	mem.AppendTrade(domain.TradeLog{ID: uuid.New().String(), CreatedAt: yesterday, MarketID: testMarket, Side: domain.SideYes, SizeUSD: 999, FillPrice: 0.5})

	v := NewQueryService(ledger, nil, 0, 0, testLogger()).Status(ctx)
	assert.Empty(t, v.Hint)
	assert.Equal(t, int64(1), v.TradesToday)
	assert.InDelta(t, 5, v.VolumeTodayUSD, 1e-9)
	assert.InDelta(t, (0.5-0.49)*5, v.ExecutionPnLTodayUSD, 1e-9)
	assert.Equal(t, int64(1), v.PendingSignalsCount)
	assert.Equal(t, int64(1), v.PendingSizedOrdersCount)
}

func TestTradesAnnotatesPnLAndStrategy(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	ledger := mem.Ledger()

	sig := seedSignal(t, ledger, 400, ptr(0.5), time.Now().UTC())
	mem.AppendTrade(domain.TradeLog{
		ID: uuid.New().String(), CreatedAt: time.Now().UTC(), SignalID: sig.ID,
		MarketID: testMarket, Side: domain.SideYes, SizeUSD: 50,
		ArrivalPrice: ptr(0.52), FillPrice: 0.51,
	})
	quotes := &fakeQuotes{
		quotes:  map[string]domain.Quote{testMarket: {Yes: 0.61, No: 0.39}},
		details: map[string]domain.MarketDetail{testMarket: {MarketID: testMarket, Question: "Will BTC rise?", Slug: "btc-up"}},
	}

	v := NewQueryService(ledger, quotes, 0, 0, testLogger()).Trades(ctx, 0)
	require.Len(t, v.Trades, 1)
	tr := v.Trades[0]
	require.NotNil(t, tr.ExecutionPnLUSD)
	assert.InDelta(t, 0.50, *tr.ExecutionPnLUSD, 1e-9)
	assert.Equal(t, "synth", tr.Strategy)
	assert.Equal(t, "400 bps edge, forecast 60%, entry 50%", tr.StrategyWhy)
	assert.Equal(t, "Will BTC rise?", tr.Question)
	require.NotNil(t, tr.EventURL)
	assert.Equal(t, "https://polymarket.com/market/btc-up", *tr.EventURL)
	require.NotNil(t, tr.MtmPnLUSD)
	assert.InDelta(t, 5.0, *tr.MtmPnLUSD, 1e-9)
}

func TestTradesLimitAndHint(t *testing.T) {
	mem := memory.New()
	for i := 0; i < 120; i++ {
		mem.AppendTrade(domain.TradeLog{ID: uuid.New().String(), CreatedAt: time.Now().UTC(), MarketID: testMarket, SizeUSD: 1, FillPrice: 0.5})
	}
	q := NewQueryService(mem.Ledger(), nil, 0, 0, testLogger())
	assert.Len(t, q.Trades(context.Background(), 500).Trades, MaxTradesLimit)
	assert.Len(t, q.Trades(context.Background(), 0).Trades, DefaultTradesLimit)

	v := NewQueryService(nil, nil, 0, 0, testLogger()).Trades(context.Background(), 10)
	assert.Empty(t, v.Trades)
	assert.NotNil(t, v.Trades)
	assert.NotEmpty(t, v.Hint)
}

func TestPositionsLivePrices(t *testing.T) {
	ctx := context.Background()
	ledger := memory.New().Ledger()
	sig := seedSignal(t, ledger, 400, ptr(0.5), time.Now().UTC())
	res, err := newSizer(ledger).Approve(ctx, RiskRequest{SignalID: sig.ID})
	require.NoError(t, err)

	quotes := &fakeQuotes{
		quotes:  map[string]domain.Quote{testMarket: {Yes: 0.60, No: 0.40}},
		details: map[string]domain.MarketDetail{testMarket: {Question: "Will BTC rise?"}},
	}
	v := NewQueryService(ledger, quotes, 0, 0, testLogger()).Positions(ctx)
	require.Len(t, v.Positions, 1)
	p := v.Positions[0]
	assert.Equal(t, res.SizedOrderID, p.ID)
	assert.Equal(t, sig.ID, p.SignalID)
	assert.Equal(t, "Will BTC rise?", p.Question)
	assert.Equal(t, 0.5, p.EntryPrice)
	assert.Equal(t, 0.6, p.CurrentPrice)
	assert.InDelta(t, (0.6-0.5)*p.SizeUSD, p.UnrealizedPnL, 1e-9)
	assert.InDelta(t, 20, p.UnrealizedPnLPct, 1e-9)
	assert.Equal(t, "synth", p.Strategy)
	assert.Equal(t, int64(1), v.TotalPending)
	assert.False(t, v.LivePricesSkipped)

	// No stored metadata, so a fallback is synthesised.
	assert.Equal(t, true, p.Metadata["_fallback"])
	assert.Equal(t, 50.0, p.Metadata["entry_price_pct"])
}

func TestPositionsEnrichmentFailureFallsBack(t *testing.T) {
	ctx := context.Background()
	ledger := memory.New().Ledger()
	sig := seedSignal(t, ledger, 400, ptr(0.5), time.Now().UTC())
	_, err := newSizer(ledger).Approve(ctx, RiskRequest{SignalID: sig.ID})
	require.NoError(t, err)

	quotes := &fakeQuotes{quoteErr: errors.New("timeout")}
	v := NewQueryService(ledger, quotes, 0, 0, testLogger()).Positions(ctx)
	require.Len(t, v.Positions, 1)
	p := v.Positions[0]
	assert.Equal(t, p.EntryPrice, p.CurrentPrice)
	assert.Equal(t, shortMarket(testMarket), p.Question)
	assert.Zero(t, p.UnrealizedPnL)
}

func TestPositionsSkipLivePricesWhenCapped(t *testing.T) {
	ctx := context.Background()
	ledger := memory.New().Ledger()
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < PositionsPageSize+2; i++ {
		seedSignal(t, ledger, 400, ptr(0.5), base.Add(time.Duration(i)*time.Second))
		_, err := newSizer(ledger).Approve(ctx, RiskRequest{})
		require.NoError(t, err)
	}
	quotes := &fakeQuotes{quotes: map[string]domain.Quote{testMarket: {Yes: 0.9, No: 0.1}}}

	v := NewQueryService(ledger, quotes, 0, 0, testLogger()).Positions(ctx)
	assert.Len(t, v.Positions, PositionsPageSize)
	assert.Equal(t, int64(PositionsPageSize+2), v.TotalPending)
	assert.True(t, v.LivePricesSkipped)
	assert.Zero(t, quotes.calls)
}

func TestPositionsWithoutLedger(t *testing.T) {
	v := NewQueryService(nil, nil, 0, 0, testLogger()).Positions(context.Background())
	assert.Empty(t, v.Positions)
	assert.NotEmpty(t, v.Hint)
}
