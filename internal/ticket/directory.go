package ticket

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// EntityDirectory resolves transfer targets to display names. An empty name
// with a nil error means the entity does not exist.
type EntityDirectory interface {
	UserName(ctx context.Context, tenantID, id uuid.UUID) (string, error)
	DepartmentName(ctx context.Context, tenantID, id uuid.UUID) (string, error)
	ChannelName(ctx context.Context, tenantID, id uuid.UUID) (string, error)
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgDirectory resolves names against the users/departments/channels tables.
type PgDirectory struct {
	pool rowQuerier
}

func NewPgDirectory(pool rowQuerier) *PgDirectory {
	if pool == nil {
		panic("ticket: pgx pool required")
	}
	return &PgDirectory{pool: pool}
}

func (d *PgDirectory) UserName(ctx context.Context, tenantID, id uuid.UUID) (string, error) {
	return d.name(ctx, `SELECT name FROM users WHERE id = $1 AND tenant_id = $2`, tenantID, id)
}

func (d *PgDirectory) DepartmentName(ctx context.Context, tenantID, id uuid.UUID) (string, error) {
	return d.name(ctx, `SELECT name FROM departments WHERE id = $1 AND tenant_id = $2`, tenantID, id)
}

func (d *PgDirectory) ChannelName(ctx context.Context, tenantID, id uuid.UUID) (string, error) {
	return d.name(ctx, `SELECT name FROM channels WHERE id = $1 AND tenant_id = $2`, tenantID, id)
}

func (d *PgDirectory) name(ctx context.Context, query string, tenantID, id uuid.UUID) (string, error) {
	var name string
	if err := d.pool.QueryRow(ctx, query, id, tenantID).Scan(&name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("ticket: resolve name: %w", err)
	}
	return name, nil
}
