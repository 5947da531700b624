package tenancy

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store answers tenant existence checks against Postgres.
type Store struct {
	pool rowQuerier
}

func NewStore(pool rowQuerier) *Store {
	if pool == nil {
		panic("tenancy: pgx pool required")
	}
	return &Store{pool: pool}
}

// Exists reports whether the tenant id is registered.
func (s *Store) Exists(ctx context.Context, tenantID uuid.UUID) (bool, error) {
	query := `SELECT 1 FROM tenants WHERE id = $1`
	var exists int
	if err := s.pool.QueryRow(ctx, query, tenantID).Scan(&exists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("tenancy: check tenant: %w", err)
	}
	return true, nil
}
