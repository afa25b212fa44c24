package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polydesk/internal/domain"
	"github.com/alanyoungcy/polydesk/internal/store/memory"
)

func TestResolveOverlaysRiskConfig(t *testing.T) {
	ctx := context.Background()
	ledger := memory.New().Ledger()
	require.NoError(t, ledger.Risk.Set(ctx, domain.RiskKeyKellyFraction, "0.5"))
	require.NoError(t, ledger.Risk.Set(ctx, domain.RiskKeyMinSizeUSD, "not-a-number"))
	require.NoError(t, ledger.Risk.Set(ctx, domain.RiskKeyDefaultMarketID, testMarket))

	r := NewParamsResolver(domain.DefaultRiskParams(), ledger.Risk, nil, 0, testLogger())
	p := r.Resolve(ctx)
	assert.Equal(t, 0.5, p.KellyFraction)
	assert.Equal(t, 5.0, p.MinSizeUSD)
	assert.Equal(t, testMarket, p.DefaultMarketID)
	assert.True(t, p.Enabled)

	// Values are re-read on every call.
	require.NoError(t, ledger.Risk.Set(ctx, domain.RiskKeyEnabled, "false"))
	assert.False(t, r.Enabled(ctx))
}

func TestResolveKillSwitch(t *testing.T) {
	sw := &fakeSwitch{on: false}
	r := NewParamsResolver(domain.DefaultRiskParams(), nil, sw, 0, testLogger())
	assert.False(t, r.Enabled(context.Background()))

	sw.on = true
	assert.True(t, r.Enabled(context.Background()))

	// An unreadable switch leaves the configured flag in charge.
	sw.err = errors.New("redis down")
	assert.True(t, r.Enabled(context.Background()))
}

func TestResolveFallsBackOnReadError(t *testing.T) {
	mem := memory.New()
	mem.FailWith(errors.New("boom"))
	base := domain.DefaultRiskParams()
	r := NewParamsResolver(base, mem.Ledger().Risk, nil, 0, testLogger())
	assert.Equal(t, base, r.Resolve(context.Background()))
}

func TestSyntheticForecastIsStable(t *testing.T) {
	a := SyntheticForecast("btc")
	b := SyntheticForecast(" BTC ")
	assert.Equal(t, a, b)
	assert.Equal(t, domain.SourceSynthetic, a.Source)
	assert.GreaterOrEqual(t, a.Probability, 0.35)
	assert.Less(t, a.Probability, 0.65)
	assert.NotEqual(t, SyntheticForecast("ETH").Probability, SyntheticForecast("SOL").Probability)
}
