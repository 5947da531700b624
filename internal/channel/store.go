package channel

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgxPool is the subset of pgxpool.Pool the store needs.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store persists channels and credentials in Postgres.
type Store struct {
	pool PgxPool
}

func NewStore(pool PgxPool) *Store {
	if pool == nil {
		panic("channel: pgx pool required")
	}
	return &Store{pool: pool}
}

const channelColumns = `id, tenant_id, name, phone_number, provider_number_id,
	business_account_id, status, is_default, credential_id, created_at, updated_at`

const credentialColumns = `id, tenant_id, client_id, client_secret, access_token,
	token_type, expires_at, active, created_at`

// CreateChannel inserts a channel. When the channel is marked default, the
// previous default is cleared inside the same transaction so the tenant keeps
// exactly one.
func (s *Store) CreateChannel(ctx context.Context, ch *Channel) (*Channel, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("channel: begin create: %w", err)
	}
	defer tx.Rollback(ctx)

	if ch.IsDefault {
		clear := `
			UPDATE channels
			SET is_default = false, updated_at = now()
			WHERE tenant_id = $1 AND is_default
		`
		if _, err := tx.Exec(ctx, clear, ch.TenantID); err != nil {
			return nil, fmt.Errorf("channel: clear default: %w", err)
		}
	}

	insert := `
		INSERT INTO channels (id, tenant_id, name, phone_number, provider_number_id,
			business_account_id, status, is_default, credential_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + channelColumns + `
	`
	created, err := scanChannel(tx.QueryRow(ctx, insert,
		uuid.New(), ch.TenantID, ch.Name, ch.PhoneNumber, ch.ProviderNumberID,
		ch.BusinessAccountID, StatusDisconnected, ch.IsDefault, ch.CredentialID))
	if err != nil {
		return nil, fmt.Errorf("channel: insert: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("channel: commit create: %w", err)
	}
	return created, nil
}

// GetChannel fetches a channel scoped to the tenant, or nil when absent.
func (s *Store) GetChannel(ctx context.Context, tenantID, id uuid.UUID) (*Channel, error) {
	query := `
		SELECT ` + channelColumns + `
		FROM channels
		WHERE id = $1 AND tenant_id = $2
	`
	ch, err := scanChannel(s.pool.QueryRow(ctx, query, id, tenantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("channel: get: %w", err)
	}
	return ch, nil
}

// FindByProviderNumberID resolves the channel a webhook item belongs to.
func (s *Store) FindByProviderNumberID(ctx context.Context, tenantID uuid.UUID, providerNumberID string) (*Channel, error) {
	query := `
		SELECT ` + channelColumns + `
		FROM channels
		WHERE tenant_id = $1 AND provider_number_id = $2
	`
	ch, err := scanChannel(s.pool.QueryRow(ctx, query, tenantID, providerNumberID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("channel: find by provider number: %w", err)
	}
	return ch, nil
}

// ListChannels returns the tenant's channels, default first, then newest.
func (s *Store) ListChannels(ctx context.Context, tenantID uuid.UUID) ([]*Channel, error) {
	query := `
		SELECT ` + channelColumns + `
		FROM channels
		WHERE tenant_id = $1
		ORDER BY is_default DESC, created_at DESC
	`
	rows, err := s.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("channel: list: %w", err)
	}
	defer rows.Close()

	var channels []*Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("channel: scan list: %w", err)
		}
		channels = append(channels, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("channel: iterate list: %w", err)
	}
	return channels, nil
}

// UpdateStatus flips the connection state.
func (s *Store) UpdateStatus(ctx context.Context, tenantID, id uuid.UUID, status Status) error {
	query := `
		UPDATE channels
		SET status = $3, updated_at = now()
		WHERE id = $1 AND tenant_id = $2
	`
	tag, err := s.pool.Exec(ctx, query, id, tenantID, status)
	if err != nil {
		return fmt.Errorf("channel: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// DeleteChannel removes the channel row. Callers gate on connection state.
func (s *Store) DeleteChannel(ctx context.Context, tenantID, id uuid.UUID) error {
	query := `DELETE FROM channels WHERE id = $1 AND tenant_id = $2`
	tag, err := s.pool.Exec(ctx, query, id, tenantID)
	if err != nil {
		return fmt.Errorf("channel: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// InsertCredential stores a new active credential row, deactivating any
// previous active rows in the same transaction.
func (s *Store) InsertCredential(ctx context.Context, cred *Credential) (*Credential, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("channel: begin credential insert: %w", err)
	}
	defer tx.Rollback(ctx)

	deactivate := `
		UPDATE credentials
		SET active = false
		WHERE tenant_id = $1 AND active
	`
	if _, err := tx.Exec(ctx, deactivate, cred.TenantID); err != nil {
		return nil, fmt.Errorf("channel: deactivate credentials: %w", err)
	}

	insert := `
		INSERT INTO credentials (id, tenant_id, client_id, client_secret,
			access_token, token_type, expires_at, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, true)
		RETURNING ` + credentialColumns + `
	`
	created, err := scanCredential(tx.QueryRow(ctx, insert,
		uuid.New(), cred.TenantID, cred.ClientID, cred.ClientSecret,
		cred.AccessToken, cred.TokenType, cred.ExpiresAt))
	if err != nil {
		return nil, fmt.Errorf("channel: insert credential: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("channel: commit credential insert: %w", err)
	}
	return created, nil
}

// ActiveCredential returns the tenant's newest active credential, or nil.
func (s *Store) ActiveCredential(ctx context.Context, tenantID uuid.UUID) (*Credential, error) {
	query := `
		SELECT ` + credentialColumns + `
		FROM credentials
		WHERE tenant_id = $1 AND active
		ORDER BY created_at DESC
		LIMIT 1
	`
	cred, err := scanCredential(s.pool.QueryRow(ctx, query, tenantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("channel: active credential: %w", err)
	}
	return cred, nil
}

// GetCredential fetches a credential row scoped to the tenant, or nil.
func (s *Store) GetCredential(ctx context.Context, tenantID, id uuid.UUID) (*Credential, error) {
	query := `
		SELECT ` + credentialColumns + `
		FROM credentials
		WHERE id = $1 AND tenant_id = $2
	`
	cred, err := scanCredential(s.pool.QueryRow(ctx, query, id, tenantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("channel: get credential: %w", err)
	}
	return cred, nil
}

// CredentialsHistory returns every credential row for the tenant, newest first.
func (s *Store) CredentialsHistory(ctx context.Context, tenantID uuid.UUID) ([]*Credential, error) {
	query := `
		SELECT ` + credentialColumns + `
		FROM credentials
		WHERE tenant_id = $1
		ORDER BY created_at DESC
	`
	rows, err := s.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("channel: credentials history: %w", err)
	}
	defer rows.Close()

	var creds []*Credential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("channel: scan credential: %w", err)
		}
		creds = append(creds, cred)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("channel: iterate credentials: %w", err)
	}
	return creds, nil
}

func scanChannel(row pgx.Row) (*Channel, error) {
	var ch Channel
	if err := row.Scan(&ch.ID, &ch.TenantID, &ch.Name, &ch.PhoneNumber,
		&ch.ProviderNumberID, &ch.BusinessAccountID, &ch.Status, &ch.IsDefault,
		&ch.CredentialID, &ch.CreatedAt, &ch.UpdatedAt); err != nil {
		return nil, err
	}
	return &ch, nil
}

func scanCredential(row pgx.Row) (*Credential, error) {
	var c Credential
	if err := row.Scan(&c.ID, &c.TenantID, &c.ClientID, &c.ClientSecret,
		&c.AccessToken, &c.TokenType, &c.ExpiresAt, &c.Active, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}
