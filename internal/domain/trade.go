package domain

import (
	"math"
	"time"
)

// TradeLog is one executed fill. Rows are append-only.
type TradeLog struct {
	ID           string
	CreatedAt    time.Time
	SizedOrderID string
	SignalID     string
	MarketID     string
	Side         Side
	SizeUSD      float64
	ArrivalPrice *float64
	FillPrice    float64
	SlippageBps  *float64
	ClobOrderID  string
	Wallet       string
}

// ExecutionPnL returns (arrival - fill) * size. Positive means the fill was
// better than the arrival price. A missing arrival price counts as the fill.
func (t TradeLog) ExecutionPnL() float64 {
	arrival := t.FillPrice
	if t.ArrivalPrice != nil {
		arrival = *t.ArrivalPrice
	}
	return (arrival - t.FillPrice) * t.SizeUSD
}

// SlippageFor returns the fill slippage against arrival in whole basis points.
func SlippageFor(arrival, fill float64) float64 {
	return math.Round((fill - arrival) * 10000)
}

// TradeWithSignal is a trade row joined with its originating signal.
type TradeWithSignal struct {
	Trade  TradeLog
	Signal *Signal
}

// TradeTotals aggregates trade rows over a window.
type TradeTotals struct {
	Count           int64
	NotionalUSD     float64
	ExecutionPnLUSD float64
}
