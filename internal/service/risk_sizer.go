package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/polydesk/internal/domain"
	"github.com/alanyoungcy/polydesk/internal/metrics"
	"github.com/alanyoungcy/polydesk/internal/telemetry"
)

// DefaultConfidence is used for signals stored without a confidence.
const DefaultConfidence = 0.5

// ComputeSize returns the USD size for sig under p.
//
// The base size is the signal's suggestion or bankroll * maxPositionPct.
// With a positive Kelly fraction and a nonzero edge the size becomes
// bankroll * |edge| * kelly * confidence, capped at bankroll * maxPositionPct.
// The result is clamped to [MinSizeUSD, MaxSizeUSD].
func ComputeSize(p domain.RiskParams, sig domain.Signal) float64 {
	size := p.BankrollUSD * p.MaxPositionPct
	if sig.SuggestedSizeUSD != nil {
		size = *sig.SuggestedSizeUSD
	}
	if p.KellyFraction > 0 && sig.EdgeBps != 0 {
		edgePct := math.Abs(sig.EdgeBps) / 10000
		kellyPct := edgePct * p.KellyFraction * sig.ConfidenceOr(DefaultConfidence)
		size = math.Min(p.BankrollUSD*kellyPct, p.BankrollUSD*p.MaxPositionPct)
	}
	if math.IsNaN(size) {
		size = p.MinSizeUSD
	}
	return math.Max(p.MinSizeUSD, math.Min(p.MaxSizeUSD, size))
}

// NormalizeWallet validates addr as a hex account address and returns its
// checksummed form. An empty address stays empty.
func NormalizeWallet(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", nil
	}
	if !common.IsHexAddress(addr) {
		return "", fmt.Errorf("risk_sizer: invalid wallet address %q: %w", addr, domain.ErrMissingInput)
	}
	return common.HexToAddress(addr).Hex(), nil
}

// RiskRequest is the input to RiskSizer.Approve.
type RiskRequest struct {
	// SignalID targets one signal; empty means the oldest pending one.
	SignalID string
	Wallet   string
}

// RiskResult summarises one approval run.
type RiskResult struct {
	domain.StepResult
	SignalID     string      `json:"signalId,omitempty"`
	SizedOrderID string      `json:"sizedOrderId,omitempty"`
	MarketID     string      `json:"marketId,omitempty"`
	Side         domain.Side `json:"side,omitempty"`
	SizeUSD      float64     `json:"sizeUsd,omitempty"`
	BankrollUSD  float64     `json:"bankrollUsd,omitempty"`
}

// RiskSizer claims pending signals and turns them into sized orders.
type RiskSizer struct {
	signals       domain.SignalStore
	params        *ParamsResolver
	events        *EventPublisher
	ledgerTimeout time.Duration
	logger        *slog.Logger
	now           func() time.Time
}

// NewRiskSizer creates a RiskSizer. signals may be nil, in which case every
// run reports not_configured.
func NewRiskSizer(signals domain.SignalStore, params *ParamsResolver, events *EventPublisher, ledgerTimeout time.Duration, logger *slog.Logger) *RiskSizer {
	return &RiskSizer{
		signals:       signals,
		params:        params,
		events:        events,
		ledgerTimeout: ledgerTimeout,
		logger:        logger.With(slog.String("component", "risk_sizer")),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Approve claims one pending signal, sizes it and writes its SizedOrder in a
// single atomic ledger step. Losing a claim race is a noop, not a failure.
func (s *RiskSizer) Approve(ctx context.Context, req RiskRequest) (RiskResult, error) {
	if s.signals == nil {
		return RiskResult{StepResult: domain.StepResult{
			Outcome: domain.OutcomeFailure,
			Reason:  domain.ReasonNotConfigured,
			Text:    "Database connection not available; cannot approve signals.",
		}}, nil
	}
	wallet, err := NormalizeWallet(req.Wallet)
	if err != nil {
		return RiskResult{StepResult: domain.StepResult{
			Outcome: domain.OutcomeFailure,
			Reason:  domain.ReasonMissingInput,
			Text:    err.Error(),
		}}, nil
	}

	params := s.params.Resolve(ctx)

	build := func(sig domain.Signal) (domain.SizedOrder, error) {
		return domain.SizedOrder{
			ID:          uuid.New().String(),
			CreatedAt:   s.now(),
			SignalID:    sig.ID,
			MarketID:    sig.MarketID,
			Side:        sig.Side,
			SizeUSD:     ComputeSize(params, sig),
			SlippageBps: params.SlippageBps,
			Wallet:      wallet,
			Status:      domain.SizedOrderPending,
		}, nil
	}

	ctx, span := telemetry.StartSpan(ctx, "risk.claim", "signal_id", req.SignalID)
	qctx, cancel := withTimeout(ctx, s.ledgerTimeout)
	sig, order, err := s.signals.Claim(qctx, strings.TrimSpace(req.SignalID), build)
	cancel()
	if errors.Is(err, domain.ErrNotFound) {
		telemetry.End(span, nil)
		metrics.ClaimMisses.Inc()
		s.logger.DebugContext(ctx, "risk_sizer: no pending signal", slog.String("signal_id", req.SignalID))
		return RiskResult{SignalID: req.SignalID, StepResult: domain.StepResult{
			Outcome: domain.OutcomeNoop,
			Reason:  domain.ReasonNoPendingSignal,
			Text:    "No pending signal found to approve.",
		}}, nil
	}
	telemetry.End(span, err)
	if err != nil {
		s.logger.ErrorContext(ctx, "risk_sizer: claim failed",
			slog.String("signal_id", req.SignalID),
			slog.Float64("bankroll_usd", params.BankrollUSD),
			slog.String("error", err.Error()),
		)
		return RiskResult{SignalID: req.SignalID, StepResult: domain.StepResult{
			Outcome: domain.OutcomeFailure,
			Reason:  domain.ReasonPersistenceFailed,
			Text:    fmt.Sprintf("Risk approve failed: %v", err),
		}}, nil
	}

	metrics.OrdersSized.Inc()
	metrics.OrderSizeUSD.Observe(order.SizeUSD)
	s.logger.InfoContext(ctx, "risk_sizer: sized order",
		slog.String("sized_order_id", order.ID),
		slog.String("signal_id", sig.ID),
		slog.String("market_id", sig.MarketID),
		slog.String("side", string(sig.Side)),
		slog.Float64("edge_bps", sig.EdgeBps),
		slog.Float64("size_usd", order.SizeUSD),
	)

	text := fmt.Sprintf("Risk approved signal %s -> sized order %s\nMarket: %s | Side: %s | Size: $%.2f\nBankroll: $%.0f | Executor can pick up this order.",
		shortID(sig.ID), shortID(order.ID), shortMarket(sig.MarketID), sig.Side, order.SizeUSD, params.BankrollUSD)

	s.events.Publish(ctx, domain.DeskEvent{
		Type: domain.EventOrderSized,
		At:   order.CreatedAt,
		Data: map[string]any{
			"signalId":     sig.ID,
			"sizedOrderId": order.ID,
			"marketId":     order.MarketID,
			"side":         order.Side,
			"sizeUsd":      order.SizeUSD,
		},
	}, "Order sized", fmt.Sprintf("%s $%.2f on %s", order.Side, order.SizeUSD, shortMarket(order.MarketID)))

	return RiskResult{
		StepResult:   domain.StepResult{Outcome: domain.OutcomeSuccess, Text: text},
		SignalID:     sig.ID,
		SizedOrderID: order.ID,
		MarketID:     sig.MarketID,
		Side:         sig.Side,
		SizeUSD:      order.SizeUSD,
		BankrollUSD:  params.BankrollUSD,
	}, nil
}
