package contact

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of pgxpool.Pool the store needs.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists contacts in Postgres.
type Store struct {
	pool Querier
}

func NewStore(pool Querier) *Store {
	if pool == nil {
		panic("contact: pgx pool required")
	}
	return &Store{pool: pool}
}

const contactColumns = `id, tenant_id, display_name, phone, created_at, updated_at`

// FindByPhone fetches the contact for (tenant, normalized phone) or nil.
func (s *Store) FindByPhone(ctx context.Context, tenantID uuid.UUID, phone string) (*Contact, error) {
	query := `
		SELECT ` + contactColumns + `
		FROM contacts
		WHERE tenant_id = $1 AND phone = $2
	`
	c, err := scanContact(s.pool.QueryRow(ctx, query, tenantID, phone))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("contact: find by phone: %w", err)
	}
	return c, nil
}

// GetOrCreateByPhone inserts a contact for the phone if missing, relying on
// the (tenant_id, phone) unique constraint to collapse concurrent creates.
func (s *Store) GetOrCreateByPhone(ctx context.Context, tenantID uuid.UUID, phone, displayName string) (*Contact, error) {
	query := `
		INSERT INTO contacts (id, tenant_id, display_name, phone)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, phone) DO UPDATE SET updated_at = now()
		RETURNING ` + contactColumns + `
	`
	c, err := scanContact(s.pool.QueryRow(ctx, query, uuid.New(), tenantID, displayName, phone))
	if err != nil {
		return nil, fmt.Errorf("contact: get or create: %w", err)
	}
	return c, nil
}

// UpdateDisplayName overwrites the stored name.
func (s *Store) UpdateDisplayName(ctx context.Context, id uuid.UUID, displayName string) error {
	query := `
		UPDATE contacts
		SET display_name = $2, updated_at = now()
		WHERE id = $1
	`
	if _, err := s.pool.Exec(ctx, query, id, displayName); err != nil {
		return fmt.Errorf("contact: update display name: %w", err)
	}
	return nil
}

// GetByID fetches a contact scoped to the tenant, or nil when absent.
func (s *Store) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*Contact, error) {
	query := `
		SELECT ` + contactColumns + `
		FROM contacts
		WHERE id = $1 AND tenant_id = $2
	`
	c, err := scanContact(s.pool.QueryRow(ctx, query, id, tenantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("contact: get by id: %w", err)
	}
	return c, nil
}

func scanContact(row pgx.Row) (*Contact, error) {
	var c Contact
	if err := row.Scan(&c.ID, &c.TenantID, &c.DisplayName, &c.Phone, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}
