package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polydesk/internal/domain"
)

// RiskConfigStore implements domain.RiskConfigStore using PostgreSQL.
type RiskConfigStore struct {
	pool *pgxpool.Pool
}

// NewRiskConfigStore creates a new RiskConfigStore backed by the given connection pool.
func NewRiskConfigStore(pool *pgxpool.Pool) *RiskConfigStore {
	return &RiskConfigStore{pool: pool}
}

// GetAll returns every key/value pair in risk_config.
func (s *RiskConfigStore) GetAll(ctx context.Context) (map[string]string, error) {
	entries, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		out[e.Key] = e.Value
	}
	return out, nil
}

// Set upserts a single key.
func (s *RiskConfigStore) Set(ctx context.Context, key, value string) error {
	const query = `
		INSERT INTO risk_config (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET
			value      = EXCLUDED.value,
			updated_at = NOW()`
	if _, err := s.pool.Exec(ctx, query, key, value); err != nil {
		return fmt.Errorf("postgres: set risk config %s: %w", key, err)
	}
	return nil
}

// List returns all entries ordered by key.
func (s *RiskConfigStore) List(ctx context.Context) ([]domain.RiskConfigEntry, error) {
	rows, err := s.pool.Query(ctx, `SELECT key, value, updated_at FROM risk_config ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list risk config: %w", err)
	}
	defer rows.Close()

	var out []domain.RiskConfigEntry
	for rows.Next() {
		var e domain.RiskConfigEntry
		if err := rows.Scan(&e.Key, &e.Value, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan risk config: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate risk config: %w", err)
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.RiskConfigStore = (*RiskConfigStore)(nil)
