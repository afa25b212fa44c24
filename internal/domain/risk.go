package domain

import (
	"strconv"
	"strings"
	"time"
)

// Keys recognised in the risk_config table.
const (
	RiskKeyBankrollUSD      = "bankroll_usd"
	RiskKeyKellyFraction    = "kelly_fraction"
	RiskKeyMaxPositionPct   = "max_position_pct"
	RiskKeyMinSizeUSD       = "min_size_usd"
	RiskKeyMaxSizeUSD       = "max_size_usd"
	RiskKeySlippageBps      = "slippage_bps"
	RiskKeyEdgeThresholdBps = "edge_threshold_bps"
	RiskKeyDefaultMarketID  = "default_condition_id"
	RiskKeyEnabled          = "enabled"
)

// RiskConfigEntry is one operator-tunable key/value row.
type RiskConfigEntry struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}

// RiskParams are the operator knobs resolved at the start of every tick.
type RiskParams struct {
	BankrollUSD      float64
	KellyFraction    float64
	MaxPositionPct   float64
	MinSizeUSD       float64
	MaxSizeUSD       float64
	SlippageBps      float64
	EdgeThresholdBps float64
	DefaultMarketID  string
	Enabled          bool
}

// Overlay returns a copy of p with every recognised, parseable entry in kv
// applied. Zero or unparseable numeric values keep the base value.
func (p RiskParams) Overlay(kv map[string]string) RiskParams {
	out := p
	num := func(key string, dst *float64) {
		raw, ok := kv[key]
		if !ok {
			return
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil || v == 0 {
			return
		}
		*dst = v
	}
	num(RiskKeyBankrollUSD, &out.BankrollUSD)
	num(RiskKeyKellyFraction, &out.KellyFraction)
	num(RiskKeyMaxPositionPct, &out.MaxPositionPct)
	num(RiskKeyMinSizeUSD, &out.MinSizeUSD)
	num(RiskKeyMaxSizeUSD, &out.MaxSizeUSD)
	num(RiskKeySlippageBps, &out.SlippageBps)

	// A zero threshold is meaningful, so it is not treated as unset.
	if raw, ok := kv[RiskKeyEdgeThresholdBps]; ok {
		if v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err == nil {
			out.EdgeThresholdBps = v
		}
	}
	if v := strings.TrimSpace(kv[RiskKeyDefaultMarketID]); v != "" {
		out.DefaultMarketID = v
	}
	if raw, ok := kv[RiskKeyEnabled]; ok {
		if v, err := strconv.ParseBool(strings.TrimSpace(raw)); err == nil {
			out.Enabled = v
		}
	}
	return out
}

// DefaultRiskParams returns the desk defaults used when nothing is
// configured.
func DefaultRiskParams() RiskParams {
	return RiskParams{
		BankrollUSD:      1000,
		KellyFraction:    0.25,
		MaxPositionPct:   0.05,
		MinSizeUSD:       5,
		MaxSizeUSD:       500,
		SlippageBps:      50,
		EdgeThresholdBps: 200,
		Enabled:          true,
	}
}
