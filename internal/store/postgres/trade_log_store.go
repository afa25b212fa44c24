package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polydesk/internal/domain"
)

// TradeLogStore implements domain.TradeLogStore using PostgreSQL. The table
// is append-only; rows are written by SizedOrderStore.RecordFill.
type TradeLogStore struct {
	pool *pgxpool.Pool
}

// NewTradeLogStore creates a new TradeLogStore backed by the given connection pool.
func NewTradeLogStore(pool *pgxpool.Pool) *TradeLogStore {
	return &TradeLogStore{pool: pool}
}

const tradeLogSelectCols = `t.id, t.created_at, t.sized_order_id, COALESCE(t.signal_id::text, ''), t.market_id,
	t.side, t.size_usd, t.arrival_price, t.fill_price, t.slippage_bps,
	COALESCE(t.clob_order_id, ''), t.wallet`

func tradeLogDest(t *domain.TradeLog, side *string) []any {
	return []any{
		&t.ID, &t.CreatedAt, &t.SizedOrderID, &t.SignalID, &t.MarketID,
		side, &t.SizeUSD, &t.ArrivalPrice, &t.FillPrice, &t.SlippageBps,
		&t.ClobOrderID, &t.Wallet,
	}
}

func scanTradeLogRows(rows pgx.Rows) ([]domain.TradeLog, error) {
	defer rows.Close()
	var out []domain.TradeLog
	for rows.Next() {
		var t domain.TradeLog
		var side string
		if err := rows.Scan(tradeLogDest(&t, &side)...); err != nil {
			return nil, err
		}
		t.Side = domain.ParseSide(side)
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListRecent returns the newest trades joined with their originating signal.
func (s *TradeLogStore) ListRecent(ctx context.Context, limit int) ([]domain.TradeWithSignal, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+tradeLogSelectCols+`, `+joinedSignalCols+`
		FROM trade_log t
		LEFT JOIN signals s ON s.id = t.signal_id
		ORDER BY t.created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent trades: %w", err)
	}
	defer rows.Close()

	var out []domain.TradeWithSignal
	for rows.Next() {
		var t domain.TradeLog
		var side string
		var ns nullableSignal
		dest := append(tradeLogDest(&t, &side), ns.dest()...)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("postgres: scan recent trade: %w", err)
		}
		t.Side = domain.ParseSide(side)
		out = append(out, domain.TradeWithSignal{Trade: t, Signal: ns.signal()})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate recent trades: %w", err)
	}
	return out, nil
}

// List returns trades newest-first filtered by opts.
func (s *TradeLogStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.TradeLog, error) {
	query := `SELECT ` + tradeLogSelectCols + ` FROM trade_log t WHERE TRUE`
	var args []any
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND t.created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND t.created_at < $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY t.created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	trades, err := scanTradeLogRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return trades, nil
}

// TotalsSince aggregates trade count, notional and execution P&L for rows
// created at or after since.
func (s *TradeLogStore) TotalsSince(ctx context.Context, since time.Time) (domain.TradeTotals, error) {
	var tot domain.TradeTotals
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(size_usd), 0),
		       COALESCE(SUM((COALESCE(arrival_price, fill_price) - fill_price) * size_usd), 0)
		FROM trade_log
		WHERE created_at >= $1`, since,
	).Scan(&tot.Count, &tot.NotionalUSD, &tot.ExecutionPnLUSD)
	if err != nil {
		return domain.TradeTotals{}, fmt.Errorf("postgres: trade totals: %w", err)
	}
	return tot, nil
}

// Compile-time interface check.
var _ domain.TradeLogStore = (*TradeLogStore)(nil)
