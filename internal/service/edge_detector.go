package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polydesk/internal/domain"
	"github.com/alanyoungcy/polydesk/internal/metrics"
	"github.com/alanyoungcy/polydesk/internal/telemetry"
)

// Edge check defaults.
const (
	DefaultAsset = "BTC"
	// StrategyEdgeCheck is the strategy tag stored in signal metadata.
	StrategyEdgeCheck = "edge_check"
)

var conditionIDPattern = regexp.MustCompile(`0x[a-fA-F0-9]{64}`)

// ExtractMarketID returns the first condition id found in text, or "".
func ExtractMarketID(text string) string {
	return conditionIDPattern.FindString(text)
}

// Edge is the side decision for one forecast/quote pair.
type Edge struct {
	Side       domain.Side
	EdgeBps    float64
	Price      float64
	YesEdgeBps float64
	NoEdgeBps  float64
}

// ComputeEdge compares probability p with both sides of q and picks the side
// with the larger absolute edge. When both sides are equally far from fair
// the side with the positive edge wins, then YES.
func ComputeEdge(p float64, q domain.Quote) Edge {
	yes := (p - q.Yes) * 10000
	no := ((1 - p) - q.No) * 10000

	useYes := math.Abs(yes) > math.Abs(no)
	if math.Abs(math.Abs(yes)-math.Abs(no)) < 1e-6 {
		useYes = yes >= no
	}
	if useYes {
		return Edge{Side: domain.SideYes, EdgeBps: yes, Price: q.Yes, YesEdgeBps: yes, NoEdgeBps: no}
	}
	return Edge{Side: domain.SideNo, EdgeBps: no, Price: q.No, YesEdgeBps: yes, NoEdgeBps: no}
}

// EdgeRequest is the input to EdgeDetector.Detect.
type EdgeRequest struct {
	// MarketID is the condition id. When empty it is extracted from Text.
	MarketID string
	Text     string
	Asset    string
	// ThresholdBps overrides the operator threshold when set.
	ThresholdBps *float64
}

// EdgeResult summarises one detection run.
type EdgeResult struct {
	domain.StepResult
	MarketID       string        `json:"marketId,omitempty"`
	Asset          string        `json:"asset,omitempty"`
	ForecastProb   float64       `json:"forecastProb"`
	ForecastSource domain.Source `json:"forecastSource,omitempty"`
	YesPrice       float64       `json:"yesPrice"`
	NoPrice        float64       `json:"noPrice"`
	Side           domain.Side   `json:"side,omitempty"`
	EdgeBps        float64       `json:"edgeBps"`
	ThresholdBps   float64       `json:"thresholdBps"`
	// Emit is the decision; Persisted says whether the signal row was written.
	Emit      bool   `json:"emit"`
	Persisted bool   `json:"persisted"`
	SignalID  string `json:"signalId,omitempty"`
}

// EdgeDetector turns a forecast and a live quote into pending signals.
type EdgeDetector struct {
	forecaster    domain.Forecaster
	quotes        domain.QuoteSource
	signals       domain.SignalStore
	params        *ParamsResolver
	events        *EventPublisher
	quoteTimeout  time.Duration
	ledgerTimeout time.Duration
	logger        *slog.Logger
	now           func() time.Time
}

// EdgeDetectorConfig holds the call timeouts.
type EdgeDetectorConfig struct {
	QuoteTimeout  time.Duration
	LedgerTimeout time.Duration
}

// NewEdgeDetector creates an EdgeDetector. quotes and signals may be nil;
// detection then reports not_configured or skips persistence respectively.
func NewEdgeDetector(
	forecaster domain.Forecaster,
	quotes domain.QuoteSource,
	signals domain.SignalStore,
	params *ParamsResolver,
	events *EventPublisher,
	cfg EdgeDetectorConfig,
	logger *slog.Logger,
) *EdgeDetector {
	return &EdgeDetector{
		forecaster:    forecaster,
		quotes:        quotes,
		signals:       signals,
		params:        params,
		events:        events,
		quoteTimeout:  cfg.QuoteTimeout,
		ledgerTimeout: cfg.LedgerTimeout,
		logger:        logger.With(slog.String("component", "edge_detector")),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Detect runs one edge check. The returned error is always nil; every
// expected failure is reported through the result's Outcome and Reason.
func (d *EdgeDetector) Detect(ctx context.Context, req EdgeRequest) (EdgeResult, error) {
	marketID := strings.TrimSpace(req.MarketID)
	if marketID == "" {
		marketID = ExtractMarketID(req.Text)
	}
	if marketID == "" {
		return EdgeResult{StepResult: domain.StepResult{
			Outcome: domain.OutcomeFailure,
			Reason:  domain.ReasonMissingInput,
			Text:    "Edge check needs a market condition id (0x followed by 64 hex characters).",
		}}, nil
	}
	if d.quotes == nil {
		return EdgeResult{MarketID: marketID, StepResult: domain.StepResult{
			Outcome: domain.OutcomeFailure,
			Reason:  domain.ReasonNotConfigured,
			Text:    "Polymarket quote source not available.",
		}}, nil
	}

	asset := strings.ToUpper(strings.TrimSpace(req.Asset))
	if asset == "" {
		asset = DefaultAsset
	}
	threshold := d.params.Resolve(ctx).EdgeThresholdBps
	if req.ThresholdBps != nil {
		threshold = *req.ThresholdBps
	}
	threshold = math.Max(0, threshold)

	ctx, span := telemetry.StartSpan(ctx, "edge.detect", "market_id", marketID, "asset", asset)
	res, err := d.detect(ctx, marketID, asset, threshold)
	telemetry.End(span, err)
	if err != nil {
		d.logger.WarnContext(ctx, "edge_detector: quote fetch failed",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
		res.StepResult = domain.StepResult{
			Outcome: domain.OutcomeFailure,
			Reason:  domain.ReasonDependencyFailed,
			Text:    fmt.Sprintf("Edge check failed: %v", err),
		}
	}
	return res, nil
}

func (d *EdgeDetector) detect(ctx context.Context, marketID, asset string, threshold float64) (EdgeResult, error) {
	res := EdgeResult{MarketID: marketID, Asset: asset, ThresholdBps: threshold}

	var (
		forecast domain.Forecast
		quote    domain.Quote
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if d.forecaster == nil {
			forecast = SyntheticForecast(asset)
			return nil
		}
		f, err := d.forecaster.Forecast(gctx, asset)
		if err != nil {
			// Forecasters degrade on their own; this only guards a
			// misbehaving implementation.
			d.logger.WarnContext(gctx, "edge_detector: forecaster error, using synthetic",
				slog.String("asset", asset),
				slog.String("error", err.Error()),
			)
			f = SyntheticForecast(asset)
		}
		forecast = f
		return nil
	})
	g.Go(func() error {
		qctx, cancel := withTimeout(gctx, d.quoteTimeout)
		defer cancel()
		q, err := d.quotes.Quotes(qctx, marketID)
		if err != nil {
			return fmt.Errorf("quotes %s: %w", marketID, err)
		}
		quote = q
		return nil
	})
	if err := g.Wait(); err != nil {
		return res, err
	}

	edge := ComputeEdge(forecast.Probability, quote)
	res.ForecastProb = forecast.Probability
	res.ForecastSource = forecast.Source
	res.YesPrice = quote.Yes
	res.NoPrice = quote.No
	res.Side = edge.Side
	res.EdgeBps = edge.EdgeBps
	res.Emit = math.Abs(edge.EdgeBps) >= threshold
	metrics.EdgeBps.Observe(math.Abs(edge.EdgeBps))

	if !res.Emit {
		res.StepResult = domain.StepResult{
			Outcome: domain.OutcomeNoop,
			Reason:  domain.ReasonBelowThreshold,
			Text:    d.summary(res, forecast) + "\nBelow threshold; no signal.",
		}
		return res, nil
	}

	sig := d.buildSignal(marketID, asset, forecast, edge)
	if err := d.persist(ctx, sig); err != nil {
		d.logger.ErrorContext(ctx, "edge_detector: persist signal failed",
			slog.String("signal_id", sig.ID),
			slog.String("market_id", marketID),
			slog.String("side", string(sig.Side)),
			slog.Float64("edge_bps", sig.EdgeBps),
			slog.Float64("forecast_prob", sig.ForecastProb),
			slog.Float64("market_price", sig.MarketPrice),
			slog.String("error", err.Error()),
		)
		reason := domain.ReasonPersistenceFailed
		if errors.Is(err, domain.ErrNotConfigured) {
			reason = domain.ReasonNotConfigured
		}
		res.StepResult = domain.StepResult{
			Outcome: domain.OutcomeFailure,
			Reason:  reason,
			Text:    d.summary(res, forecast) + "\nEdge found but the signal was not recorded; it will be re-detected next run.",
		}
		return res, nil
	}

	res.Persisted = true
	res.SignalID = sig.ID
	res.StepResult = domain.StepResult{
		Outcome: domain.OutcomeSuccess,
		Text:    d.summary(res, forecast) + fmt.Sprintf("\nSignal emitted for Risk (id: %s).", sig.ID),
	}

	metrics.SignalsEmitted.WithLabelValues(string(sig.Side), string(forecast.Source)).Inc()
	d.logger.InfoContext(ctx, "edge_detector: signal emitted",
		slog.String("signal_id", sig.ID),
		slog.String("market_id", marketID),
		slog.String("side", string(sig.Side)),
		slog.Float64("edge_bps", sig.EdgeBps),
	)
	d.events.Publish(ctx, domain.DeskEvent{
		Type: domain.EventSignalEmitted,
		At:   sig.CreatedAt,
		Data: map[string]any{
			"signalId": sig.ID,
			"marketId": sig.MarketID,
			"side":     sig.Side,
			"edgeBps":  sig.EdgeBps,
			"source":   sig.Source,
		},
	}, "Signal emitted", fmt.Sprintf("%s %s edge %+.0f bps on %s", asset, sig.Side, sig.EdgeBps, shortMarket(marketID)))

	return res, nil
}

func (d *EdgeDetector) buildSignal(marketID, asset string, f domain.Forecast, e Edge) domain.Signal {
	absEdge := math.Abs(e.EdgeBps)
	confidence := math.Min(1, absEdge/1000)
	dir := "overpriced"
	if e.EdgeBps > 0 {
		dir = "underpriced"
	}
	rationale := fmt.Sprintf("Edge check for %s: %s forecast %s vs market %s. %.0f bps %s. Buying %s.",
		asset, f.Provider, pct(f.Probability), pct(e.Price), absEdge, dir, e.Side)

	return domain.Signal{
		ID:           uuid.New().String(),
		CreatedAt:    d.now(),
		Source:       f.Provider,
		MarketID:     marketID,
		Side:         e.Side,
		Confidence:   &confidence,
		ForecastProb: f.Probability,
		MarketPrice:  e.Price,
		EdgeBps:      e.EdgeBps,
		Status:       domain.SignalPending,
		Metadata: map[string]any{
			"rationale":      rationale,
			"source":         StrategyEdgeCheck,
			"asset":          asset,
			"conditionId":    marketID,
			"forecastSource": string(f.Source),
		},
	}
}

func (d *EdgeDetector) persist(ctx context.Context, sig domain.Signal) error {
	if d.signals == nil {
		return domain.ErrNotConfigured
	}
	ctx, cancel := withTimeout(ctx, d.ledgerTimeout)
	defer cancel()
	return d.signals.Create(ctx, sig)
}

func (d *EdgeDetector) summary(res EdgeResult, f domain.Forecast) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Edge check (%s)\n", shortMarket(res.MarketID))
	fmt.Fprintf(&b, "%s %s: %s (%s) | Polymarket YES: %s NO: %s\n",
		f.Provider, res.Asset, pct(res.ForecastProb), f.Source, pct(res.YesPrice), pct(res.NoPrice))
	fmt.Fprintf(&b, "Edge: %s %+.0f bps (threshold %.0f bps).", res.Side, res.EdgeBps, res.ThresholdBps)
	return b.String()
}
