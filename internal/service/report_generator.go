package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polydesk/internal/domain"
)

// Report defaults.
const (
	DefaultReportHours = 168
	MaxReportHours     = 24 * 366
	DefaultReportLimit = 50
	MaxReportLimit     = 200
)

// ReportRequest is the input to ReportGenerator.Generate. Zero values take
// the defaults; values above the maximums are clamped.
type ReportRequest struct {
	Hours int
	Limit int
}

// Report is a time-windowed performance summary.
type Report struct {
	domain.StepResult
	Hours           int       `json:"hours"`
	Since           time.Time `json:"since"`
	TradeCount      int       `json:"tradeCount"`
	NotionalUSD     float64   `json:"notionalUsd"`
	FilledCount     int64     `json:"filledCount"`
	PendingCount    int64     `json:"pendingCount"`
	RejectedCount   int64     `json:"rejectedCount"`
	FillRate        float64   `json:"fillRate"`
	AvgSlippageBps  *float64  `json:"avgSlippageBps,omitempty"`
	SignalsApproved int64     `json:"signalsApproved"`
}

// FillRate returns filled / (filled + pending + rejected), or 0 when there
// are no orders.
func FillRate(filled, pending, rejected int64) float64 {
	total := filled + pending + rejected
	if total <= 0 || filled <= 0 {
		return 0
	}
	return float64(filled) / float64(total)
}

// AvgSlippage returns the mean slippage over trades that carry one, or nil.
func AvgSlippage(trades []domain.TradeLog) *float64 {
	var sum float64
	var n int
	for _, t := range trades {
		if t.SlippageBps == nil {
			continue
		}
		sum += *t.SlippageBps
		n++
	}
	if n == 0 {
		return nil
	}
	avg := sum / float64(n)
	return &avg
}

// ReportGenerator aggregates the ledger into fill-rate and TCA summaries.
// It only reads.
type ReportGenerator struct {
	ledger        *domain.Ledger
	ledgerTimeout time.Duration
	logger        *slog.Logger
	now           func() time.Time
}

// NewReportGenerator creates a ReportGenerator. ledger may be nil.
func NewReportGenerator(ledger *domain.Ledger, ledgerTimeout time.Duration, logger *slog.Logger) *ReportGenerator {
	return &ReportGenerator{
		ledger:        ledger,
		ledgerTimeout: ledgerTimeout,
		logger:        logger.With(slog.String("component", "report_generator")),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Generate builds a report for the requested window.
func (g *ReportGenerator) Generate(ctx context.Context, req ReportRequest) (Report, error) {
	hours := req.Hours
	if hours <= 0 {
		hours = DefaultReportHours
	}
	if hours > MaxReportHours {
		hours = MaxReportHours
	}
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultReportLimit
	}
	if limit > MaxReportLimit {
		limit = MaxReportLimit
	}
	since := g.now().Add(-time.Duration(hours) * time.Hour)
	rep := Report{Hours: hours, Since: since}

	if !g.ledger.Available() {
		rep.StepResult = domain.StepResult{
			Outcome: domain.OutcomeFailure,
			Reason:  domain.ReasonNotConfigured,
			Text:    "Database connection not available; cannot read trade log.",
		}
		return rep, nil
	}

	qctx, cancel := withTimeout(ctx, g.ledgerTimeout)
	defer cancel()

	var (
		trades   []domain.TradeLog
		counts   map[domain.SizedOrderStatus]int64
		approved int64
	)
	eg, ectx := errgroup.WithContext(qctx)
	eg.Go(func() error {
		var err error
		trades, err = g.ledger.Trades.List(ectx, domain.ListOpts{Since: &since, Limit: limit})
		return err
	})
	eg.Go(func() error {
		var err error
		counts, err = g.ledger.Orders.StatusCountsSince(ectx, since)
		return err
	})
	eg.Go(func() error {
		var err error
		approved, err = g.ledger.Signals.CountByStatusSince(ectx, domain.SignalApproved, since)
		return err
	})
	if err := eg.Wait(); err != nil {
		g.logger.ErrorContext(ctx, "report_generator: ledger query failed",
			slog.Int("hours", hours),
			slog.String("error", err.Error()),
		)
		rep.StepResult = domain.StepResult{
			Outcome: domain.OutcomeFailure,
			Reason:  domain.ReasonDependencyFailed,
			Text:    fmt.Sprintf("Report failed: %v", err),
		}
		return rep, nil
	}

	rep.TradeCount = len(trades)
	for _, t := range trades {
		rep.NotionalUSD += t.SizeUSD
	}
	rep.FilledCount = counts[domain.SizedOrderFilled]
	rep.PendingCount = counts[domain.SizedOrderPending]
	// Orders that never fill are reported as rejected.
	rep.RejectedCount = counts[domain.SizedOrderCancelled]
	rep.FillRate = FillRate(rep.FilledCount, rep.PendingCount, rep.RejectedCount)
	rep.AvgSlippageBps = AvgSlippage(trades)
	rep.SignalsApproved = approved

	rep.StepResult = domain.StepResult{Outcome: domain.OutcomeSuccess, Text: rep.render()}
	g.logger.InfoContext(ctx, "report_generator: report built",
		slog.Int("trades", rep.TradeCount),
		slog.Float64("fill_rate", rep.FillRate),
	)
	return rep, nil
}

func (r Report) render() string {
	lines := []string{
		fmt.Sprintf("Polymarket desk report (last %dh)", r.Hours),
		fmt.Sprintf("Trades: %d filled, %.0f USD notional.", r.TradeCount, r.NotionalUSD),
		fmt.Sprintf("Orders: %d filled, %d pending, %d rejected. Fill rate %.0f%%.",
			r.FilledCount, r.PendingCount, r.RejectedCount, r.FillRate*100),
	}
	if r.AvgSlippageBps != nil {
		lines = append(lines, fmt.Sprintf("TCA (avg slippage): %+.0f bps.", *r.AvgSlippageBps))
	}
	if r.SignalsApproved > 0 {
		lines = append(lines, fmt.Sprintf("Signals approved (in period): %d.", r.SignalsApproved))
	}
	return strings.Join(lines, "\n")
}
