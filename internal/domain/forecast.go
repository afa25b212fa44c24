package domain

import "context"

// Source says whether a forecast came from a live provider or was
// synthesised locally.
type Source string

const (
	SourceLive      Source = "live"
	SourceSynthetic Source = "synthetic"
)

// Forecast is a probability estimate for an asset.
type Forecast struct {
	Probability float64
	Provider    string // tag written to Signal.Source
	Source      Source
}

// Forecaster supplies probability estimates. Implementations degrade to a
// synthetic forecast instead of failing.
type Forecaster interface {
	Forecast(ctx context.Context, asset string) (Forecast, error)
}

// Quote is a two-sided market price on the [0,1] scale.
type Quote struct {
	Yes float64
	No  float64
}

// Price returns the quoted price for side.
func (q Quote) Price(side Side) float64 {
	if side == SideNo {
		return q.No
	}
	return q.Yes
}

// MarketDetail is descriptive metadata for a market.
type MarketDetail struct {
	MarketID string
	Question string
	Slug     string
}

// QuoteSource supplies live prices and descriptions for markets.
type QuoteSource interface {
	Quotes(ctx context.Context, marketID string) (Quote, error)
	Detail(ctx context.Context, marketID string) (MarketDetail, error)
}
