package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polydesk/internal/domain"
)

func pendingSignal(createdAt time.Time) domain.Signal {
	return domain.Signal{
		ID:           uuid.New().String(),
		CreatedAt:    createdAt,
		Source:       "test",
		MarketID:     "0xabc",
		Side:         domain.SideYes,
		ForecastProb: 0.6,
		MarketPrice:  0.5,
		EdgeBps:      1000,
		Status:       domain.SignalPending,
	}
}

func buildOrder(size float64) domain.OrderBuilder {
	return func(sig domain.Signal) (domain.SizedOrder, error) {
		return domain.SizedOrder{
			ID:       uuid.New().String(),
			SignalID: sig.ID,
			MarketID: sig.MarketID,
			Side:     sig.Side,
			SizeUSD:  size,
		}, nil
	}
}

func TestClaimOldestPendingFirst(t *testing.T) {
	ctx := context.Background()
	l := New().Ledger()
	now := time.Now().UTC()

	older := pendingSignal(now.Add(-time.Hour))
	newer := pendingSignal(now)
	require.NoError(t, l.Signals.Create(ctx, newer))
	require.NoError(t, l.Signals.Create(ctx, older))

	sig, order, err := l.Signals.Claim(ctx, "", buildOrder(10))
	require.NoError(t, err)
	assert.Equal(t, older.ID, sig.ID)
	assert.Equal(t, domain.SignalApproved, sig.Status)
	assert.Equal(t, older.ID, order.SignalID)
	assert.Equal(t, domain.SizedOrderPending, order.Status)

	stored, err := l.Signals.GetByID(ctx, older.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SignalApproved, stored.Status)
}

func TestClaimByIDRequiresPending(t *testing.T) {
	ctx := context.Background()
	l := New().Ledger()
	sig := pendingSignal(time.Now())
	require.NoError(t, l.Signals.Create(ctx, sig))

	_, _, err := l.Signals.Claim(ctx, sig.ID, buildOrder(10))
	require.NoError(t, err)

	_, _, err = l.Signals.Claim(ctx, sig.ID, buildOrder(10))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, _, err = l.Signals.Claim(ctx, "missing", buildOrder(10))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestClaimRejectsInvalidOrderWithoutApproving(t *testing.T) {
	ctx := context.Background()
	l := New().Ledger()
	sig := pendingSignal(time.Now())
	require.NoError(t, l.Signals.Create(ctx, sig))

	_, _, err := l.Signals.Claim(ctx, sig.ID, buildOrder(0))
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)

	stored, err := l.Signals.GetByID(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SignalPending, stored.Status)
}

func TestConcurrentClaimYieldsOneOrder(t *testing.T) {
	ctx := context.Background()
	store := New()
	l := store.Ledger()
	sig := pendingSignal(time.Now())
	require.NoError(t, l.Signals.Create(ctx, sig))

	const racers = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, losses := 0, 0
	start := make(chan struct{})
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, _, err := l.Signals.Claim(ctx, "", buildOrder(10))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, domain.ErrNotFound):
				losses++
			default:
				t.Errorf("unexpected claim error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, racers-1, losses)

	open, err := l.Orders.ListOpen(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, open, 1)
	approved, err := l.Signals.CountByStatus(ctx, domain.SignalApproved)
	require.NoError(t, err)
	assert.EqualValues(t, 1, approved)
}

func TestListOpenOldestFirst(t *testing.T) {
	ctx := context.Background()
	l := New().Ledger()
	now := time.Now().UTC()

	// Claim in reverse so insertion order differs from creation order.
	var ids []string
	for _, age := range []time.Duration{time.Minute, 2 * time.Minute, 3 * time.Minute} {
		sig := pendingSignal(now)
		require.NoError(t, l.Signals.Create(ctx, sig))
		_, order, err := l.Signals.Claim(ctx, sig.ID, func(s domain.Signal) (domain.SizedOrder, error) {
			o, err := buildOrder(10)(s)
			o.CreatedAt = now.Add(-age)
			return o, err
		})
		require.NoError(t, err)
		ids = append(ids, order.ID)
	}

	open, err := l.Orders.ListOpen(ctx, 2)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, ids[2], open[0].Order.ID)
	assert.Equal(t, ids[1], open[1].Order.ID)
	require.NotNil(t, open[0].Signal)
}

func TestRecordFillAppendsTradeAndTransitions(t *testing.T) {
	ctx := context.Background()
	l := New().Ledger()
	sig := pendingSignal(time.Now())
	sig.MarketPrice = 0.52
	require.NoError(t, l.Signals.Create(ctx, sig))
	_, order, err := l.Signals.Claim(ctx, sig.ID, buildOrder(50))
	require.NoError(t, err)

	trade, err := l.Orders.RecordFill(ctx, domain.Fill{SizedOrderID: order.ID, FillPrice: 0.51})
	require.NoError(t, err)
	require.NotNil(t, trade.ArrivalPrice)
	assert.InDelta(t, 0.52, *trade.ArrivalPrice, 1e-12)
	assert.InDelta(t, 0.50, trade.ExecutionPnL(), 1e-9)
	require.NotNil(t, trade.SlippageBps)
	assert.InDelta(t, -100, *trade.SlippageBps, 1e-9)

	got, err := l.Orders.GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SizedOrderFilled, got.Status)

	_, err = l.Orders.RecordFill(ctx, domain.Fill{SizedOrderID: order.ID, FillPrice: 0.5})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.ErrorIs(t, l.Orders.Cancel(ctx, order.ID), domain.ErrInvalidTransition)

	tot, err := l.Trades.TotalsSince(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, tot.Count)
	assert.InDelta(t, 50, tot.NotionalUSD, 1e-9)
}

func TestTradeListWindowAndLimit(t *testing.T) {
	ctx := context.Background()
	s := New()
	l := s.Ledger()
	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		s.AppendTrade(domain.TradeLog{CreatedAt: now.Add(-time.Duration(i) * time.Hour), SizeUSD: 10, FillPrice: 0.5})
	}
	since := now.Add(-150 * time.Minute)
	trades, err := l.Trades.List(ctx, domain.ListOpts{Since: &since, Limit: 2})
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.True(t, trades[0].CreatedAt.After(trades[1].CreatedAt))
}

func TestFailWithSimulatesOutage(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.FailWith(errors.New("connection refused"))
	_, err := s.Ledger().Signals.CountByStatus(ctx, domain.SignalPending)
	assert.Error(t, err)

	s.FailWith(nil)
	_, err = s.Ledger().Signals.CountByStatus(ctx, domain.SignalPending)
	assert.NoError(t, err)
}
