// Package memory implements the desk ledger in process memory. It backs
// paper mode and tests; a single mutex serialises every mutation so claims
// are atomic the same way a row lock is in Postgres.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/polydesk/internal/domain"
)

// defaultArrivalPrice matches the Postgres store when no price is known.
const defaultArrivalPrice = 0.5

// Store holds every desk table.
type Store struct {
	mu      sync.Mutex
	signals map[string]domain.Signal
	orders  map[string]domain.SizedOrder
	bySig   map[string]string // signal id -> sized order id
	trades  []domain.TradeLog
	risk    map[string]domain.RiskConfigEntry

	// failWith, when set, is returned by every call. Tests use it to
	// simulate an unreachable ledger.
	failWith error
}

// New returns an empty in-memory ledger.
func New() *Store {
	return &Store{
		signals: make(map[string]domain.Signal),
		orders:  make(map[string]domain.SizedOrder),
		bySig:   make(map[string]string),
		risk:    make(map[string]domain.RiskConfigEntry),
	}
}

// Ledger exposes the store through the domain.Ledger bundle.
func (s *Store) Ledger() *domain.Ledger {
	return &domain.Ledger{
		Signals: (*signalStore)(s),
		Orders:  (*orderStore)(s),
		Trades:  (*tradeStore)(s),
		Risk:    (*riskStore)(s),
	}
}

// FailWith makes every subsequent call return err. Pass nil to recover.
func (s *Store) FailWith(err error) {
	s.mu.Lock()
	s.failWith = err
	s.mu.Unlock()
}

func (s *Store) lock(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.failWith != nil {
		err := s.failWith
		s.mu.Unlock()
		return err
	}
	return nil
}

func cloneSignal(sig domain.Signal) domain.Signal {
	if sig.Metadata != nil {
		m := make(map[string]any, len(sig.Metadata))
		for k, v := range sig.Metadata {
			m[k] = v
		}
		sig.Metadata = m
	}
	return sig
}

// --- signals ---

type signalStore Store

func (ss *signalStore) Create(ctx context.Context, sig domain.Signal) error {
	s := (*Store)(ss)
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.mu.Unlock()

	if _, ok := s.signals[sig.ID]; ok {
		return domain.ErrAlreadyExists
	}
	if sig.Status == "" {
		sig.Status = domain.SignalPending
	}
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = time.Now().UTC()
	}
	s.signals[sig.ID] = cloneSignal(sig)
	return nil
}

func (ss *signalStore) GetByID(ctx context.Context, id string) (domain.Signal, error) {
	s := (*Store)(ss)
	if err := s.lock(ctx); err != nil {
		return domain.Signal{}, err
	}
	defer s.mu.Unlock()

	sig, ok := s.signals[id]
	if !ok {
		return domain.Signal{}, domain.ErrNotFound
	}
	return cloneSignal(sig), nil
}

func (ss *signalStore) CountByStatus(ctx context.Context, status domain.SignalStatus) (int64, error) {
	return ss.count(ctx, status, time.Time{})
}

func (ss *signalStore) CountByStatusSince(ctx context.Context, status domain.SignalStatus, since time.Time) (int64, error) {
	return ss.count(ctx, status, since)
}

func (ss *signalStore) count(ctx context.Context, status domain.SignalStatus, since time.Time) (int64, error) {
	s := (*Store)(ss)
	if err := s.lock(ctx); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()

	var n int64
	for _, sig := range s.signals {
		if sig.Status == status && !sig.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (ss *signalStore) Claim(ctx context.Context, id string, build domain.OrderBuilder) (domain.Signal, domain.SizedOrder, error) {
	s := (*Store)(ss)
	if err := s.lock(ctx); err != nil {
		return domain.Signal{}, domain.SizedOrder{}, err
	}
	defer s.mu.Unlock()

	var sig domain.Signal
	var found bool
	if id != "" {
		sig, found = s.signals[id]
		found = found && sig.Status == domain.SignalPending
	} else {
		sig, found = s.oldestPending()
	}
	if !found {
		return domain.Signal{}, domain.SizedOrder{}, domain.ErrNotFound
	}
	if _, taken := s.bySig[sig.ID]; taken {
		return domain.Signal{}, domain.SizedOrder{}, domain.ErrNotFound
	}

	order, err := build(cloneSignal(sig))
	if err != nil {
		return domain.Signal{}, domain.SizedOrder{}, err
	}
	if err := order.Validate(); err != nil {
		return domain.Signal{}, domain.SizedOrder{}, fmt.Errorf("memory: claim signal %s: %w", sig.ID, err)
	}
	if order.Status == "" {
		order.Status = domain.SizedOrderPending
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}

	sig.Status = domain.SignalApproved
	s.signals[sig.ID] = sig
	s.orders[order.ID] = order
	s.bySig[sig.ID] = order.ID
	return cloneSignal(sig), order, nil
}

// oldestPending must be called with mu held.
func (s *Store) oldestPending() (domain.Signal, bool) {
	var best domain.Signal
	found := false
	for _, sig := range s.signals {
		if sig.Status != domain.SignalPending {
			continue
		}
		if !found || sig.CreatedAt.Before(best.CreatedAt) ||
			(sig.CreatedAt.Equal(best.CreatedAt) && sig.ID < best.ID) {
			best = sig
			found = true
		}
	}
	return best, found
}

// --- sized orders ---

type orderStore Store

func (os *orderStore) GetByID(ctx context.Context, id string) (domain.SizedOrder, error) {
	s := (*Store)(os)
	if err := s.lock(ctx); err != nil {
		return domain.SizedOrder{}, err
	}
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return domain.SizedOrder{}, domain.ErrNotFound
	}
	return o, nil
}

func (os *orderStore) ListOpen(ctx context.Context, limit int) ([]domain.OpenOrder, error) {
	s := (*Store)(os)
	if err := s.lock(ctx); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	var out []domain.OpenOrder
	for _, o := range s.orders {
		if o.Status != domain.SizedOrderPending {
			continue
		}
		oo := domain.OpenOrder{Order: o}
		if sig, ok := s.signals[o.SignalID]; ok {
			c := cloneSignal(sig)
			oo.Signal = &c
		}
		out = append(out, oo)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Order, out[j].Order
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.ID < b.ID
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (os *orderStore) CountByStatus(ctx context.Context, status domain.SizedOrderStatus) (int64, error) {
	s := (*Store)(os)
	if err := s.lock(ctx); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()

	var n int64
	for _, o := range s.orders {
		if o.Status == status {
			n++
		}
	}
	return n, nil
}

func (os *orderStore) StatusCountsSince(ctx context.Context, since time.Time) (map[domain.SizedOrderStatus]int64, error) {
	s := (*Store)(os)
	if err := s.lock(ctx); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	counts := make(map[domain.SizedOrderStatus]int64)
	for _, o := range s.orders {
		if !o.CreatedAt.Before(since) {
			counts[o.Status]++
		}
	}
	return counts, nil
}

func (os *orderStore) RecordFill(ctx context.Context, fill domain.Fill) (domain.TradeLog, error) {
	s := (*Store)(os)
	if err := s.lock(ctx); err != nil {
		return domain.TradeLog{}, err
	}
	defer s.mu.Unlock()

	o, ok := s.orders[fill.SizedOrderID]
	if !ok {
		return domain.TradeLog{}, domain.ErrNotFound
	}
	if !o.Status.CanTransition(domain.SizedOrderFilled) {
		return domain.TradeLog{}, fmt.Errorf("memory: fill sized order %s (%s): %w", o.ID, o.Status, domain.ErrInvalidTransition)
	}

	arrival := defaultArrivalPrice
	if fill.ArrivalPrice != nil {
		arrival = *fill.ArrivalPrice
	} else if sig, ok := s.signals[o.SignalID]; ok {
		arrival = sig.MarketPrice
	}
	filledAt := fill.FilledAt
	if filledAt.IsZero() {
		filledAt = time.Now().UTC()
	}
	price := fill.FillPrice
	slippage := domain.SlippageFor(arrival, price)

	o.Status = domain.SizedOrderFilled
	o.FilledAt = &filledAt
	o.FillPrice = &price
	s.orders[o.ID] = o

	t := domain.TradeLog{
		ID:           uuid.New().String(),
		CreatedAt:    filledAt,
		SizedOrderID: o.ID,
		SignalID:     o.SignalID,
		MarketID:     o.MarketID,
		Side:         o.Side,
		SizeUSD:      o.SizeUSD,
		ArrivalPrice: &arrival,
		FillPrice:    price,
		SlippageBps:  &slippage,
		ClobOrderID:  fill.ClobOrderID,
		Wallet:       fill.Wallet,
	}
	s.trades = append(s.trades, t)
	return t, nil
}

func (os *orderStore) Cancel(ctx context.Context, id string) error {
	s := (*Store)(os)
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return domain.ErrNotFound
	}
	if !o.Status.CanTransition(domain.SizedOrderCancelled) {
		return fmt.Errorf("memory: cancel sized order %s (%s): %w", id, o.Status, domain.ErrInvalidTransition)
	}
	o.Status = domain.SizedOrderCancelled
	s.orders[id] = o
	return nil
}

// --- trade log ---

type tradeStore Store

// AppendTrade inserts a trade row directly. Tests use it to seed history
// without going through RecordFill.
func (s *Store) AppendTrade(t domain.TradeLog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	s.trades = append(s.trades, t)
}

// newestFirst must be called with mu held.
func (s *Store) newestFirst() []domain.TradeLog {
	out := make([]domain.TradeLog, len(s.trades))
	copy(out, s.trades)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (ts *tradeStore) ListRecent(ctx context.Context, limit int) ([]domain.TradeWithSignal, error) {
	s := (*Store)(ts)
	if err := s.lock(ctx); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	var out []domain.TradeWithSignal
	for _, t := range s.newestFirst() {
		if limit > 0 && len(out) >= limit {
			break
		}
		tw := domain.TradeWithSignal{Trade: t}
		if sig, ok := s.signals[t.SignalID]; ok {
			c := cloneSignal(sig)
			tw.Signal = &c
		}
		out = append(out, tw)
	}
	return out, nil
}

func (ts *tradeStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.TradeLog, error) {
	s := (*Store)(ts)
	if err := s.lock(ctx); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	var out []domain.TradeLog
	skipped := 0
	for _, t := range s.newestFirst() {
		if opts.Since != nil && t.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && !t.CreatedAt.Before(*opts.Until) {
			continue
		}
		if skipped < opts.Offset {
			skipped++
			continue
		}
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
		out = append(out, t)
	}
	return out, nil
}

func (ts *tradeStore) TotalsSince(ctx context.Context, since time.Time) (domain.TradeTotals, error) {
	s := (*Store)(ts)
	if err := s.lock(ctx); err != nil {
		return domain.TradeTotals{}, err
	}
	defer s.mu.Unlock()

	var tot domain.TradeTotals
	for _, t := range s.trades {
		if t.CreatedAt.Before(since) {
			continue
		}
		tot.Count++
		tot.NotionalUSD += t.SizeUSD
		tot.ExecutionPnLUSD += t.ExecutionPnL()
	}
	return tot, nil
}

// --- risk config ---

type riskStore Store

func (rs *riskStore) GetAll(ctx context.Context) (map[string]string, error) {
	s := (*Store)(rs)
	if err := s.lock(ctx); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	out := make(map[string]string, len(s.risk))
	for k, e := range s.risk {
		out[k] = e.Value
	}
	return out, nil
}

func (rs *riskStore) Set(ctx context.Context, key, value string) error {
	s := (*Store)(rs)
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.mu.Unlock()

	s.risk[key] = domain.RiskConfigEntry{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	return nil
}

func (rs *riskStore) List(ctx context.Context) ([]domain.RiskConfigEntry, error) {
	s := (*Store)(rs)
	if err := s.lock(ctx); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	out := make([]domain.RiskConfigEntry, 0, len(s.risk))
	for _, e := range s.risk {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Compile-time interface checks.
var (
	_ domain.SignalStore     = (*signalStore)(nil)
	_ domain.SizedOrderStore = (*orderStore)(nil)
	_ domain.TradeLogStore   = (*tradeStore)(nil)
	_ domain.RiskConfigStore = (*riskStore)(nil)
)
