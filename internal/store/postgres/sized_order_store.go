package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polydesk/internal/domain"
)

// defaultArrivalPrice is used when neither the fill nor the originating
// signal carries an arrival price.
const defaultArrivalPrice = 0.5

// execer is satisfied by both *pgxpool.Pool and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// SizedOrderStore implements domain.SizedOrderStore using PostgreSQL.
type SizedOrderStore struct {
	pool *pgxpool.Pool
}

// NewSizedOrderStore creates a new SizedOrderStore backed by the given connection pool.
func NewSizedOrderStore(pool *pgxpool.Pool) *SizedOrderStore {
	return &SizedOrderStore{pool: pool}
}

const sizedOrderSelectCols = `o.id, o.created_at, o.signal_id, o.market_id, o.side, o.size_usd,
	o.max_price, o.slippage_bps, o.wallet, o.status, o.filled_at, o.fill_price`

// joinedSignalCols selects the LEFT JOINed signal alongside an order or trade.
const joinedSignalCols = `s.id, s.created_at, s.source, s.market_id, s.side, s.suggested_size_usd,
	s.confidence, s.forecast_prob, s.market_price, s.edge_bps, s.status, s.metadata_json`

func insertSizedOrder(ctx context.Context, q execer, o domain.SizedOrder) error {
	const query = `
		INSERT INTO sized_orders (
			id, created_at, signal_id, market_id, side, size_usd,
			max_price, slippage_bps, wallet, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := q.Exec(ctx, query,
		o.ID, o.CreatedAt, o.SignalID, o.MarketID, string(o.Side), o.SizeUSD,
		o.MaxPrice, o.SlippageBps, o.Wallet, string(o.Status),
	)
	return err
}

// nullableSignal holds the LEFT JOINed signal columns.
type nullableSignal struct {
	id, source, marketID, side, status *string
	createdAt                          *time.Time
	suggested, confidence              *float64
	forecast, price, edge              *float64
	meta                               []byte
}

func (n *nullableSignal) dest() []any {
	return []any{
		&n.id, &n.createdAt, &n.source, &n.marketID, &n.side, &n.suggested,
		&n.confidence, &n.forecast, &n.price, &n.edge, &n.status, &n.meta,
	}
}

func (n *nullableSignal) signal() *domain.Signal {
	if n.id == nil {
		return nil
	}
	sig := &domain.Signal{
		ID:               *n.id,
		SuggestedSizeUSD: n.suggested,
		Confidence:       n.confidence,
		Metadata:         decodeMetadata(n.meta),
	}
	if n.createdAt != nil {
		sig.CreatedAt = *n.createdAt
	}
	if n.source != nil {
		sig.Source = *n.source
	}
	if n.marketID != nil {
		sig.MarketID = *n.marketID
	}
	if n.side != nil {
		sig.Side = domain.ParseSide(*n.side)
	}
	if n.status != nil {
		sig.Status = domain.SignalStatus(*n.status)
	}
	if n.forecast != nil {
		sig.ForecastProb = *n.forecast
	}
	if n.price != nil {
		sig.MarketPrice = *n.price
	}
	if n.edge != nil {
		sig.EdgeBps = *n.edge
	}
	return sig
}

func sizedOrderDest(o *domain.SizedOrder, side, status *string) []any {
	return []any{
		&o.ID, &o.CreatedAt, &o.SignalID, &o.MarketID, side, &o.SizeUSD,
		&o.MaxPrice, &o.SlippageBps, &o.Wallet, status, &o.FilledAt, &o.FillPrice,
	}
}

// GetByID retrieves a sized order by its id.
func (s *SizedOrderStore) GetByID(ctx context.Context, id string) (domain.SizedOrder, error) {
	var o domain.SizedOrder
	var side, status string
	err := s.pool.QueryRow(ctx,
		`SELECT `+sizedOrderSelectCols+` FROM sized_orders o WHERE o.id = $1`, id,
	).Scan(sizedOrderDest(&o, &side, &status)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SizedOrder{}, domain.ErrNotFound
		}
		return domain.SizedOrder{}, fmt.Errorf("postgres: get sized order %s: %w", id, err)
	}
	o.Side = domain.ParseSide(side)
	o.Status = domain.SizedOrderStatus(status)
	return o, nil
}

// ListOpen returns pending sized orders, oldest first, joined with their
// originating signal.
func (s *SizedOrderStore) ListOpen(ctx context.Context, limit int) ([]domain.OpenOrder, error) {
	query := `SELECT ` + sizedOrderSelectCols + `, ` + joinedSignalCols + `
		FROM sized_orders o
		LEFT JOIN signals s ON s.id = o.signal_id
		WHERE o.status = 'pending'
		ORDER BY o.created_at ASC, o.id`
	var args []any
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open sized orders: %w", err)
	}
	defer rows.Close()

	var out []domain.OpenOrder
	for rows.Next() {
		var o domain.SizedOrder
		var side, status string
		var ns nullableSignal
		dest := append(sizedOrderDest(&o, &side, &status), ns.dest()...)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("postgres: scan open sized order: %w", err)
		}
		o.Side = domain.ParseSide(side)
		o.Status = domain.SizedOrderStatus(status)
		out = append(out, domain.OpenOrder{Order: o, Signal: ns.signal()})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate open sized orders: %w", err)
	}
	return out, nil
}

// CountByStatus counts sized orders in the given status.
func (s *SizedOrderStore) CountByStatus(ctx context.Context, status domain.SizedOrderStatus) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sized_orders WHERE status = $1`, string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count sized orders %s: %w", status, err)
	}
	return n, nil
}

// StatusCountsSince groups sized orders created at or after since by status.
func (s *SizedOrderStore) StatusCountsSince(ctx context.Context, since time.Time) (map[domain.SizedOrderStatus]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM sized_orders WHERE created_at >= $1 GROUP BY status`, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: sized order status counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.SizedOrderStatus]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("postgres: scan sized order status count: %w", err)
		}
		counts[domain.SizedOrderStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate sized order status counts: %w", err)
	}
	return counts, nil
}

// RecordFill marks a pending order filled and appends the trade row in one
// transaction.
func (s *SizedOrderStore) RecordFill(ctx context.Context, fill domain.Fill) (domain.TradeLog, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.TradeLog{}, fmt.Errorf("postgres: begin fill: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var o domain.SizedOrder
	var side, status string
	var signalPrice *float64
	dest := append(sizedOrderDest(&o, &side, &status), &signalPrice)
	err = tx.QueryRow(ctx, `
		SELECT `+sizedOrderSelectCols+`, s.market_price
		FROM sized_orders o
		LEFT JOIN signals s ON s.id = o.signal_id
		WHERE o.id = $1
		FOR UPDATE OF o`, fill.SizedOrderID,
	).Scan(dest...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TradeLog{}, domain.ErrNotFound
		}
		return domain.TradeLog{}, fmt.Errorf("postgres: lock sized order %s: %w", fill.SizedOrderID, err)
	}
	if !domain.SizedOrderStatus(status).CanTransition(domain.SizedOrderFilled) {
		return domain.TradeLog{}, fmt.Errorf("postgres: fill sized order %s (%s): %w",
			fill.SizedOrderID, status, domain.ErrInvalidTransition)
	}

	arrival := defaultArrivalPrice
	switch {
	case fill.ArrivalPrice != nil:
		arrival = *fill.ArrivalPrice
	case signalPrice != nil:
		arrival = *signalPrice
	}
	filledAt := fill.FilledAt
	if filledAt.IsZero() {
		filledAt = time.Now().UTC()
	}
	slippage := domain.SlippageFor(arrival, fill.FillPrice)

	if _, err := tx.Exec(ctx,
		`UPDATE sized_orders SET status = 'filled', filled_at = $1, fill_price = $2 WHERE id = $3`,
		filledAt, fill.FillPrice, o.ID,
	); err != nil {
		return domain.TradeLog{}, fmt.Errorf("postgres: mark sized order %s filled: %w", o.ID, err)
	}

	trade := domain.TradeLog{
		ID:           uuid.New().String(),
		CreatedAt:    filledAt,
		SizedOrderID: o.ID,
		SignalID:     o.SignalID,
		MarketID:     o.MarketID,
		Side:         domain.ParseSide(side),
		SizeUSD:      o.SizeUSD,
		ArrivalPrice: &arrival,
		FillPrice:    fill.FillPrice,
		SlippageBps:  &slippage,
		ClobOrderID:  fill.ClobOrderID,
		Wallet:       fill.Wallet,
	}
	var clobID *string
	if trade.ClobOrderID != "" {
		clobID = &trade.ClobOrderID
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO trade_log (
			id, created_at, sized_order_id, signal_id, market_id, side, size_usd,
			arrival_price, fill_price, slippage_bps, clob_order_id, wallet
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		trade.ID, trade.CreatedAt, trade.SizedOrderID, trade.SignalID, trade.MarketID,
		string(trade.Side), trade.SizeUSD, trade.ArrivalPrice, trade.FillPrice,
		trade.SlippageBps, clobID, trade.Wallet,
	); err != nil {
		return domain.TradeLog{}, fmt.Errorf("postgres: insert trade for order %s: %w", o.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.TradeLog{}, fmt.Errorf("postgres: commit fill %s: %w", o.ID, err)
	}
	return trade, nil
}

// Cancel moves a pending order to cancelled.
func (s *SizedOrderStore) Cancel(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sized_orders SET status = 'cancelled' WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return fmt.Errorf("postgres: cancel sized order %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetByID(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("postgres: cancel sized order %s: %w", id, domain.ErrInvalidTransition)
	}
	return nil
}

// Compile-time interface check.
var _ domain.SizedOrderStore = (*SizedOrderStore)(nil)
