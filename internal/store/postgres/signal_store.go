package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polydesk/internal/domain"
)

// uniqueViolation is the SQLSTATE Postgres reports for a duplicate key.
const uniqueViolation = "23505"

// SignalStore implements domain.SignalStore using PostgreSQL.
type SignalStore struct {
	pool *pgxpool.Pool
}

// NewSignalStore creates a new SignalStore backed by the given connection pool.
func NewSignalStore(pool *pgxpool.Pool) *SignalStore {
	return &SignalStore{pool: pool}
}

const signalSelectCols = `id, created_at, source, market_id, side, suggested_size_usd,
	confidence, forecast_prob, market_price, edge_bps, status, metadata_json`

func scanSignal(scanner interface{ Scan(dest ...any) error }) (domain.Signal, error) {
	var sig domain.Signal
	var side, status string
	var meta []byte
	err := scanner.Scan(
		&sig.ID, &sig.CreatedAt, &sig.Source, &sig.MarketID, &side,
		&sig.SuggestedSizeUSD, &sig.Confidence,
		&sig.ForecastProb, &sig.MarketPrice, &sig.EdgeBps,
		&status, &meta,
	)
	if err != nil {
		return domain.Signal{}, err
	}
	sig.Side = domain.ParseSide(side)
	sig.Status = domain.SignalStatus(status)
	sig.Metadata = decodeMetadata(meta)
	return sig, nil
}

// decodeMetadata parses a metadata_json blob. Malformed blobs are treated as
// absent so readers can fall back to synthesised metadata.
func decodeMetadata(raw []byte) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

// Create inserts a new signal.
func (s *SignalStore) Create(ctx context.Context, sig domain.Signal) error {
	var meta []byte
	if sig.Metadata != nil {
		b, err := json.Marshal(sig.Metadata)
		if err != nil {
			return fmt.Errorf("postgres: marshal signal metadata %s: %w", sig.ID, err)
		}
		meta = b
	}
	status := sig.Status
	if status == "" {
		status = domain.SignalPending
	}

	const query = `
		INSERT INTO signals (
			id, created_at, source, market_id, side, suggested_size_usd,
			confidence, forecast_prob, market_price, edge_bps, status, metadata_json
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := s.pool.Exec(ctx, query,
		sig.ID, sig.CreatedAt, sig.Source, sig.MarketID, string(sig.Side),
		sig.SuggestedSizeUSD, sig.Confidence,
		sig.ForecastProb, sig.MarketPrice, sig.EdgeBps,
		string(status), meta,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create signal %s: %w", sig.ID, err)
	}
	return nil
}

// GetByID retrieves a signal by its id.
func (s *SignalStore) GetByID(ctx context.Context, id string) (domain.Signal, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+signalSelectCols+` FROM signals WHERE id = $1`, id)
	sig, err := scanSignal(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Signal{}, domain.ErrNotFound
		}
		return domain.Signal{}, fmt.Errorf("postgres: get signal %s: %w", id, err)
	}
	return sig, nil
}

// CountByStatus counts signals in the given status.
func (s *SignalStore) CountByStatus(ctx context.Context, status domain.SignalStatus) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM signals WHERE status = $1`, string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count signals %s: %w", status, err)
	}
	return n, nil
}

// CountByStatusSince counts signals in the given status created at or after since.
func (s *SignalStore) CountByStatusSince(ctx context.Context, status domain.SignalStatus, since time.Time) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM signals WHERE status = $1 AND created_at >= $2`,
		string(status), since,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count signals %s since: %w", status, err)
	}
	return n, nil
}

// Claim locks one pending signal with FOR UPDATE SKIP LOCKED, inserts the
// sized order built from it and flips it to approved inside a single
// transaction. Concurrent callers never see the same row: the loser either
// skips the locked row or finds it no longer pending, and gets
// domain.ErrNotFound.
func (s *SignalStore) Claim(ctx context.Context, id string, build domain.OrderBuilder) (domain.Signal, domain.SizedOrder, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Signal{}, domain.SizedOrder{}, fmt.Errorf("postgres: begin claim: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var row pgx.Row
	if id != "" {
		row = tx.QueryRow(ctx, `
			SELECT `+signalSelectCols+` FROM signals
			WHERE id = $1 AND status = 'pending'
			FOR UPDATE SKIP LOCKED`, id)
	} else {
		row = tx.QueryRow(ctx, `
			SELECT `+signalSelectCols+` FROM signals
			WHERE status = 'pending'
			ORDER BY created_at ASC, id ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED`)
	}
	sig, err := scanSignal(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Signal{}, domain.SizedOrder{}, domain.ErrNotFound
		}
		return domain.Signal{}, domain.SizedOrder{}, fmt.Errorf("postgres: claim signal %s: %w", id, err)
	}

	order, err := build(sig)
	if err != nil {
		return domain.Signal{}, domain.SizedOrder{}, err
	}
	if err := order.Validate(); err != nil {
		return domain.Signal{}, domain.SizedOrder{}, fmt.Errorf("postgres: claim signal %s: %w", sig.ID, err)
	}
	if order.Status == "" {
		order.Status = domain.SizedOrderPending
	}

	if err := insertSizedOrder(ctx, tx, order); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.Signal{}, domain.SizedOrder{}, domain.ErrNotFound
		}
		return domain.Signal{}, domain.SizedOrder{}, fmt.Errorf("postgres: insert sized order for signal %s: %w", sig.ID, err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE signals SET status = 'approved' WHERE id = $1 AND status = 'pending'`, sig.ID)
	if err != nil {
		return domain.Signal{}, domain.SizedOrder{}, fmt.Errorf("postgres: approve signal %s: %w", sig.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Signal{}, domain.SizedOrder{}, domain.ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Signal{}, domain.SizedOrder{}, fmt.Errorf("postgres: commit claim %s: %w", sig.ID, err)
	}
	sig.Status = domain.SignalApproved
	return sig, order, nil
}

// Compile-time interface check.
var _ domain.SignalStore = (*SignalStore)(nil)
