package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polydesk/internal/domain"
)

// Query limits.
const (
	DefaultTradesLimit = 50
	MaxTradesLimit     = 100
	PositionsPageSize  = 30
	maxTradeEnrich     = 25
	enrichConcurrency  = 8
)

// HintNoLedger is returned with empty payloads when no ledger is wired.
const HintNoLedger = "Database not configured; desk tables (signals, sized_orders, trade_log) are unavailable"

// StatusView is the /desk/status payload.
type StatusView struct {
	TradesToday             int64   `json:"tradesToday"`
	VolumeTodayUSD          float64 `json:"volumeTodayUsd"`
	ExecutionPnLTodayUSD    float64 `json:"executionPnlTodayUsd"`
	PendingSignalsCount     int64   `json:"pendingSignalsCount"`
	PendingSizedOrdersCount int64   `json:"pendingSizedOrdersCount"`
	UpdatedAt               int64   `json:"updatedAt"`
	Hint                    string  `json:"hint,omitempty"`
}

// TradeView is one row of the /desk/trades payload.
type TradeView struct {
	ID              string      `json:"id"`
	CreatedAt       time.Time   `json:"createdAt"`
	MarketID        string      `json:"marketId"`
	Question        string      `json:"question,omitempty"`
	EventURL        *string     `json:"eventUrl"`
	Side            domain.Side `json:"side"`
	SizeUSD         float64     `json:"sizeUsd"`
	ArrivalPrice    *float64    `json:"arrivalPrice"`
	FillPrice       float64     `json:"fillPrice"`
	ExecutionPnLUSD *float64    `json:"executionPnlUsd"`
	MtmPnLUSD       *float64    `json:"mtmPnlUsd"`
	CurrentPrice    *float64    `json:"currentPrice"`
	Strategy        string      `json:"strategy"`
	StrategyWhy     string      `json:"strategyWhy,omitempty"`
}

// TradesView is the /desk/trades payload.
type TradesView struct {
	Trades    []TradeView `json:"trades"`
	UpdatedAt int64       `json:"updatedAt"`
	Hint      string      `json:"hint,omitempty"`
}

// PositionView is one open paper position.
type PositionView struct {
	ID               string         `json:"id"`
	SignalID         string         `json:"signalId"`
	MarketID         string         `json:"marketId"`
	Question         string         `json:"question"`
	Side             domain.Side    `json:"side"`
	SizeUSD          float64        `json:"sizeUsd"`
	EntryPrice       float64        `json:"entryPrice"`
	CurrentPrice     float64        `json:"currentPrice"`
	UnrealizedPnL    float64        `json:"unrealizedPnl"`
	UnrealizedPnLPct float64        `json:"unrealizedPnlPct"`
	OpenedAt         time.Time      `json:"openedAt"`
	Strategy         string         `json:"strategy"`
	EdgeBps          float64        `json:"edgeBps"`
	Confidence       float64        `json:"confidence"`
	ForecastProb     float64        `json:"forecastProb"`
	Metadata         map[string]any `json:"metadata"`
}

// PositionsView is the /desk/positions payload.
type PositionsView struct {
	Positions         []PositionView `json:"positions"`
	TotalPending      int64          `json:"totalPending"`
	LivePricesSkipped bool           `json:"livePricesSkipped"`
	UpdatedAt         int64          `json:"updatedAt"`
	Hint              string         `json:"hint,omitempty"`
}

// ExecutionPnL returns the execution P&L shown for a trade, or nil for a
// paper fill (no measurable difference against a nonzero arrival price).
func ExecutionPnL(t domain.TradeLog) *float64 {
	pnl := t.ExecutionPnL()
	arrival := t.FillPrice
	if t.ArrivalPrice != nil {
		arrival = *t.ArrivalPrice
	}
	if math.Abs(pnl) < 0.005 && arrival != 0 {
		return nil
	}
	return &pnl
}

// UnrealizedPnL marks a position to current. entry is the signal's market
// price; for NO positions the entry-side cost is 1 - entry.
func UnrealizedPnL(side domain.Side, entry, current, size float64) (pnl, pct float64) {
	entryForSide := entry
	if side == domain.SideNo {
		entryForSide = 1 - entry
	}
	pnl = (current - entryForSide) * size
	if entryForSide != 0 && size != 0 {
		pct = pnl / (entryForSide * size) * 100
	}
	return pnl, pct
}

// QueryService backs the read-only dashboard endpoints.
type QueryService struct {
	ledger        *domain.Ledger
	quotes        domain.QuoteSource
	ledgerTimeout time.Duration
	quoteTimeout  time.Duration
	logger        *slog.Logger
	now           func() time.Time
}

// NewQueryService creates a QueryService. ledger and quotes may be nil.
func NewQueryService(ledger *domain.Ledger, quotes domain.QuoteSource, ledgerTimeout, quoteTimeout time.Duration, logger *slog.Logger) *QueryService {
	return &QueryService{
		ledger:        ledger,
		quotes:        quotes,
		ledgerTimeout: ledgerTimeout,
		quoteTimeout:  quoteTimeout,
		logger:        logger.With(slog.String("component", "query")),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (s *QueryService) stamp() int64 {
	return s.now().UnixMilli()
}

func (s *QueryService) unreachable(ctx context.Context, op string, err error) string {
	s.logger.WarnContext(ctx, "query: ledger read failed", slog.String("op", op), slog.String("error", err.Error()))
	return fmt.Sprintf("Ledger unreachable: %v", err)
}

// Status returns today's (UTC) fill totals and the pending queue depths.
func (s *QueryService) Status(ctx context.Context) StatusView {
	view := StatusView{UpdatedAt: s.stamp()}
	if !s.ledger.Available() {
		view.Hint = HintNoLedger
		return view
	}

	now := s.now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	qctx, cancel := withTimeout(ctx, s.ledgerTimeout)
	defer cancel()

	var (
		totals        domain.TradeTotals
		pendingSigs   int64
		pendingOrders int64
	)
	g, gctx := errgroup.WithContext(qctx)
	g.Go(func() error {
		var err error
		totals, err = s.ledger.Trades.TotalsSince(gctx, midnight)
		return err
	})
	g.Go(func() error {
		var err error
		pendingSigs, err = s.ledger.Signals.CountByStatus(gctx, domain.SignalPending)
		return err
	})
	g.Go(func() error {
		var err error
		pendingOrders, err = s.ledger.Orders.CountByStatus(gctx, domain.SizedOrderPending)
		return err
	})
	if err := g.Wait(); err != nil {
		view.Hint = s.unreachable(ctx, "status", err)
		return view
	}

	view.TradesToday = totals.Count
	view.VolumeTodayUSD = totals.NotionalUSD
	view.ExecutionPnLTodayUSD = totals.ExecutionPnLUSD
	view.PendingSignalsCount = pendingSigs
	view.PendingSizedOrdersCount = pendingOrders
	return view
}

type marketEnrichment struct {
	question string
	slug     string
	yes      *float64
}

// Trades returns the most recent fills, newest first.
func (s *QueryService) Trades(ctx context.Context, limit int) TradesView {
	view := TradesView{Trades: []TradeView{}, UpdatedAt: s.stamp()}
	if limit <= 0 {
		limit = DefaultTradesLimit
	}
	if limit > MaxTradesLimit {
		limit = MaxTradesLimit
	}
	if !s.ledger.Available() {
		view.Hint = HintNoLedger
		return view
	}

	qctx, cancel := withTimeout(ctx, s.ledgerTimeout)
	rows, err := s.ledger.Trades.ListRecent(qctx, limit)
	cancel()
	if err != nil {
		view.Hint = s.unreachable(ctx, "trades", err)
		return view
	}

	enrich := s.enrichMarkets(ctx, rows)
	for _, r := range rows {
		view.Trades = append(view.Trades, buildTradeView(r, enrich[r.Trade.MarketID]))
	}
	return view
}

func buildTradeView(r domain.TradeWithSignal, e *marketEnrichment) TradeView {
	t := r.Trade
	v := TradeView{
		ID:              t.ID,
		CreatedAt:       t.CreatedAt,
		MarketID:        t.MarketID,
		Side:            t.Side,
		SizeUSD:         t.SizeUSD,
		ArrivalPrice:    t.ArrivalPrice,
		FillPrice:       t.FillPrice,
		ExecutionPnLUSD: ExecutionPnL(t),
		Strategy:        "unknown",
	}
	if sig := r.Signal; sig != nil {
		if sig.Source != "" {
			v.Strategy = sig.Source
		}
		why := []string{fmt.Sprintf("%.0f bps edge", sig.EdgeBps)}
		why = append(why, fmt.Sprintf("forecast %.0f%%", sig.ForecastProb*100))
		why = append(why, fmt.Sprintf("entry %g%%", math.Round(sig.MarketPrice*1000)/10))
		v.StrategyWhy = strings.Join(why, ", ")
	}
	if e == nil {
		return v
	}
	v.Question = e.question
	if e.slug != "" {
		u := "https://polymarket.com/market/" + e.slug
		v.EventURL = &u
	}
	if e.yes != nil {
		current := *e.yes
		entry := t.FillPrice
		if t.Side == domain.SideNo {
			current = 1 - current
			entry = 1 - entry
		}
		mtm := math.Round((current-entry)*t.SizeUSD*100) / 100
		v.MtmPnLUSD = &mtm
		v.CurrentPrice = e.yes
	}
	return v
}

// enrichMarkets looks up descriptions and YES prices for up to
// maxTradeEnrich distinct markets. Every lookup is best-effort.
func (s *QueryService) enrichMarkets(ctx context.Context, rows []domain.TradeWithSignal) map[string]*marketEnrichment {
	out := make(map[string]*marketEnrichment)
	if s.quotes == nil || len(rows) == 0 {
		return out
	}
	var ids []string
	seen := make(map[string]bool)
	for _, r := range rows {
		id := r.Trade.MarketID
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
		if len(ids) == maxTradeEnrich {
			break
		}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(enrichConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			e := &marketEnrichment{}
			if q, err := s.quote(gctx, id); err == nil {
				yes := q.Yes
				e.yes = &yes
			}
			if d, err := s.detail(gctx, id); err == nil {
				e.question = d.Question
				e.slug = d.Slug
			}
			mu.Lock()
			out[id] = e
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Positions returns pending sized orders marked to the live quote.
func (s *QueryService) Positions(ctx context.Context) PositionsView {
	view := PositionsView{Positions: []PositionView{}, UpdatedAt: s.stamp()}
	if !s.ledger.Available() {
		view.Hint = HintNoLedger
		return view
	}

	qctx, cancel := withTimeout(ctx, s.ledgerTimeout)
	defer cancel()

	var (
		total int64
		open  []domain.OpenOrder
	)
	g, gctx := errgroup.WithContext(qctx)
	g.Go(func() error {
		var err error
		total, err = s.ledger.Orders.CountByStatus(gctx, domain.SizedOrderPending)
		return err
	})
	g.Go(func() error {
		var err error
		open, err = s.ledger.Orders.ListOpen(gctx, PositionsPageSize)
		return err
	})
	if err := g.Wait(); err != nil {
		view.Hint = s.unreachable(ctx, "positions", err)
		return view
	}

	view.TotalPending = total
	// Enriching every row of a deep queue would outlast the request.
	view.LivePricesSkipped = total > PositionsPageSize
	view.Positions = make([]PositionView, len(open))
	for i, o := range open {
		view.Positions[i] = basePosition(o)
	}

	if s.quotes != nil && !view.LivePricesSkipped {
		eg, ectx := errgroup.WithContext(ctx)
		eg.SetLimit(enrichConcurrency)
		for i := range view.Positions {
			p := &view.Positions[i]
			eg.Go(func() error {
				s.markPosition(ectx, p)
				return nil
			})
		}
		_ = eg.Wait()
	}
	return view
}

func basePosition(o domain.OpenOrder) PositionView {
	ord := o.Order
	p := PositionView{
		ID:           ord.ID,
		SignalID:     ord.SignalID,
		MarketID:     ord.MarketID,
		Question:     shortMarket(ord.MarketID),
		Side:         ord.Side,
		SizeUSD:      ord.SizeUSD,
		EntryPrice:   0.5,
		OpenedAt:     ord.CreatedAt,
		Strategy:     "unknown",
	}
	if sig := o.Signal; sig != nil {
		p.EntryPrice = sig.MarketPrice
		if sig.Source != "" {
			p.Strategy = sig.Source
		}
		p.EdgeBps = sig.EdgeBps
		p.Confidence = sig.ConfidenceOr(0)
		p.ForecastProb = sig.ForecastProb
		if len(sig.Metadata) > 0 {
			p.Metadata = sig.Metadata
		}
	}
	if p.Metadata == nil {
		p.Metadata = map[string]any{
			"_fallback":       true,
			"strategy":        p.Strategy,
			"edge_bps":        p.EdgeBps,
			"forecast_prob":   p.ForecastProb,
			"entry_price_pct": math.Round(p.EntryPrice*1000) / 10,
		}
	}
	p.CurrentPrice = p.EntryPrice
	p.UnrealizedPnL, p.UnrealizedPnLPct = UnrealizedPnL(p.Side, p.EntryPrice, p.CurrentPrice, p.SizeUSD)
	return p
}

func (s *QueryService) markPosition(ctx context.Context, p *PositionView) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		q, err := s.quote(ctx, p.MarketID)
		if err != nil {
			s.logger.DebugContext(ctx, "query: live price unavailable", slog.String("market_id", p.MarketID), slog.String("error", err.Error()))
			return
		}
		p.CurrentPrice = q.Price(p.Side)
	}()
	var question string
	go func() {
		defer wg.Done()
		if d, err := s.detail(ctx, p.MarketID); err == nil {
			question = d.Question
		}
	}()
	wg.Wait()
	if question != "" {
		p.Question = question
	}
	p.UnrealizedPnL, p.UnrealizedPnLPct = UnrealizedPnL(p.Side, p.EntryPrice, p.CurrentPrice, p.SizeUSD)
}

func (s *QueryService) quote(ctx context.Context, marketID string) (domain.Quote, error) {
	ctx, cancel := withTimeout(ctx, s.quoteTimeout)
	defer cancel()
	return s.quotes.Quotes(ctx, marketID)
}

func (s *QueryService) detail(ctx context.Context, marketID string) (domain.MarketDetail, error) {
	ctx, cancel := withTimeout(ctx, s.quoteTimeout)
	defer cancel()
	return s.quotes.Detail(ctx, marketID)
}
