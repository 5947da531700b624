package ticket

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrActiveExists is returned by CreateActive when a concurrent attach won the
// race for the contact's single ACTIVE slot. Callers re-read and attach to
// the winner.
var ErrActiveExists = errors.New("ticket: active ticket already exists for contact")

// PgxPool is the subset of pgxpool.Pool the store needs.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store persists tickets and their transfer audit trail in Postgres.
type Store struct {
	pool PgxPool
}

func NewStore(pool PgxPool) *Store {
	if pool == nil {
		panic("ticket: pgx pool required")
	}
	return &Store{pool: pool}
}

const ticketColumns = `id, tenant_id, channel_id, contact_id, protocol, status,
	priority, assigned_user_id, department_id, active, created_at, updated_at`

const transferColumns = `id, ticket_id, type, from_user_id, to_user_id,
	from_department_id, to_department_id, from_channel_id, to_channel_id, reason, created_at`

// FindActiveByContact returns the contact's single ACTIVE ticket tenant-wide,
// or nil.
func (s *Store) FindActiveByContact(ctx context.Context, tenantID, contactID uuid.UUID) (*Ticket, error) {
	query := `
		SELECT ` + ticketColumns + `
		FROM tickets
		WHERE tenant_id = $1 AND contact_id = $2 AND status = $3 AND active
	`
	t, err := scanTicket(s.pool.QueryRow(ctx, query, tenantID, contactID, StatusActive))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("ticket: find active: %w", err)
	}
	return t, nil
}

// FindActiveByPhone locates the ACTIVE ticket for a phone on a channel, for
// the outbound path where only the destination number is known.
func (s *Store) FindActiveByPhone(ctx context.Context, tenantID, channelID uuid.UUID, phone string) (*Ticket, error) {
	query := `
		SELECT t.id, t.tenant_id, t.channel_id, t.contact_id, t.protocol, t.status,
			t.priority, t.assigned_user_id, t.department_id, t.active, t.created_at, t.updated_at
		FROM tickets t
		JOIN contacts c ON c.id = t.contact_id
		WHERE t.tenant_id = $1 AND t.channel_id = $2 AND c.phone = $3
			AND t.status = $4 AND t.active
	`
	t, err := scanTicket(s.pool.QueryRow(ctx, query, tenantID, channelID, phone, StatusActive))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("ticket: find active by phone: %w", err)
	}
	return t, nil
}

// Get fetches a ticket scoped to the tenant, or nil.
func (s *Store) Get(ctx context.Context, tenantID, id uuid.UUID) (*Ticket, error) {
	query := `
		SELECT ` + ticketColumns + `
		FROM tickets
		WHERE id = $1 AND tenant_id = $2
	`
	t, err := scanTicket(s.pool.QueryRow(ctx, query, id, tenantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("ticket: get: %w", err)
	}
	return t, nil
}

// List returns the tenant's tickets newest first, optionally filtered by
// status.
func (s *Store) List(ctx context.Context, tenantID uuid.UUID, status Status, limit, offset int) ([]*Ticket, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `
		SELECT ` + ticketColumns + `
		FROM tickets
		WHERE tenant_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := s.pool.Query(ctx, query, tenantID, string(status), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ticket: list: %w", err)
	}
	defer rows.Close()

	var tickets []*Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("ticket: scan list: %w", err)
		}
		tickets = append(tickets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ticket: iterate list: %w", err)
	}
	return tickets, nil
}

// CreateActive opens a new ACTIVE ticket for (contact, channel) in one
// transaction: stray PENDING/ON_HOLD tickets on the channel are closed, the
// daily protocol sequence is advanced under an advisory lock, and the insert
// is guarded by the partial unique index on active contacts. A unique
// violation means another worker opened the contact's ticket first; the
// caller gets ErrActiveExists and re-reads.
func (s *Store) CreateActive(ctx context.Context, tenantID, channelID, contactID uuid.UUID) (*Ticket, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("ticket: begin create: %w", err)
	}
	defer tx.Rollback(ctx)

	// Serializes protocol generation per tenant for the span of the tx.
	lock := `SELECT pg_advisory_xact_lock(hashtext('ticket_protocol:' || $1::text))`
	if _, err := tx.Exec(ctx, lock, tenantID); err != nil {
		return nil, fmt.Errorf("ticket: advisory lock: %w", err)
	}

	closeStray := `
		UPDATE tickets
		SET status = $4, active = false, updated_at = now()
		WHERE tenant_id = $1 AND contact_id = $2 AND channel_id = $3
			AND status IN ($5, $6) AND active
	`
	if _, err := tx.Exec(ctx, closeStray, tenantID, contactID, channelID,
		StatusClosed, StatusPending, StatusOnHold); err != nil {
		return nil, fmt.Errorf("ticket: close stray tickets: %w", err)
	}

	protocol, err := nextProtocol(ctx, tx, tenantID, time.Now())
	if err != nil {
		return nil, err
	}

	insert := `
		INSERT INTO tickets (id, tenant_id, channel_id, contact_id, protocol,
			status, priority, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, true)
		RETURNING ` + ticketColumns + `
	`
	created, err := scanTicket(tx.QueryRow(ctx, insert,
		uuid.New(), tenantID, channelID, contactID, protocol, StatusActive, PriorityNormal))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrActiveExists
		}
		return nil, fmt.Errorf("ticket: insert: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("ticket: commit create: %w", err)
	}
	return created, nil
}

// nextProtocol computes YYYYMMDD + zero-padded daily sequence. Must run under
// the per-tenant advisory lock.
func nextProtocol(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID, now time.Time) (string, error) {
	prefix := now.Format("20060102")
	query := `
		SELECT coalesce(max(substring(protocol FROM 9)::int), 0)
		FROM tickets
		WHERE tenant_id = $1 AND protocol LIKE $2 || '%'
	`
	var seq int
	if err := tx.QueryRow(ctx, query, tenantID, prefix).Scan(&seq); err != nil {
		return "", fmt.Errorf("ticket: protocol sequence: %w", err)
	}
	return fmt.Sprintf("%s%04d", prefix, seq+1), nil
}

// Close marks the ticket CLOSED. Returns false when the ticket was already
// closed (or missing); the service decides how to surface that.
func (s *Store) Close(ctx context.Context, tenantID, id uuid.UUID) (bool, error) {
	query := `
		UPDATE tickets
		SET status = $3, active = false, updated_at = now()
		WHERE id = $1 AND tenant_id = $2 AND status <> $3
	`
	tag, err := s.pool.Exec(ctx, query, id, tenantID, StatusClosed)
	if err != nil {
		return false, fmt.Errorf("ticket: close: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RecordTransfer mutates the field Type names and appends the audit row in
// one transaction.
func (s *Store) RecordTransfer(ctx context.Context, tenantID uuid.UUID, t *Transfer) (*Transfer, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("ticket: begin transfer: %w", err)
	}
	defer tx.Rollback(ctx)

	var update string
	var target *uuid.UUID
	switch t.Type {
	case TransferUser:
		update = `UPDATE tickets SET assigned_user_id = $3, updated_at = now() WHERE id = $1 AND tenant_id = $2`
		target = t.ToUserID
	case TransferDepartment:
		update = `UPDATE tickets SET department_id = $3, updated_at = now() WHERE id = $1 AND tenant_id = $2`
		target = t.ToDepartmentID
	case TransferChannel:
		update = `UPDATE tickets SET channel_id = $3, updated_at = now() WHERE id = $1 AND tenant_id = $2`
		target = t.ToChannelID
	default:
		return nil, fmt.Errorf("ticket: unknown transfer type %q", t.Type)
	}
	tag, err := tx.Exec(ctx, update, t.TicketID, tenantID, target)
	if err != nil {
		return nil, fmt.Errorf("ticket: apply transfer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, pgx.ErrNoRows
	}

	insert := `
		INSERT INTO ticket_transfers (id, ticket_id, type, from_user_id, to_user_id,
			from_department_id, to_department_id, from_channel_id, to_channel_id, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING ` + transferColumns + `
	`
	created, err := scanTransfer(tx.QueryRow(ctx, insert,
		uuid.New(), t.TicketID, t.Type, t.FromUserID, t.ToUserID,
		t.FromDepartmentID, t.ToDepartmentID, t.FromChannelID, t.ToChannelID, t.Reason))
	if err != nil {
		return nil, fmt.Errorf("ticket: insert transfer: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("ticket: commit transfer: %w", err)
	}
	return created, nil
}

// ListTransfers returns a ticket's transfer audit rows, newest first.
func (s *Store) ListTransfers(ctx context.Context, ticketID uuid.UUID) ([]*Transfer, error) {
	query := `
		SELECT ` + transferColumns + `
		FROM ticket_transfers
		WHERE ticket_id = $1
		ORDER BY created_at DESC
	`
	rows, err := s.pool.Query(ctx, query, ticketID)
	if err != nil {
		return nil, fmt.Errorf("ticket: list transfers: %w", err)
	}
	defer rows.Close()

	var transfers []*Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("ticket: scan transfer: %w", err)
		}
		transfers = append(transfers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ticket: iterate transfers: %w", err)
	}
	return transfers, nil
}

func scanTicket(row pgx.Row) (*Ticket, error) {
	var t Ticket
	if err := row.Scan(&t.ID, &t.TenantID, &t.ChannelID, &t.ContactID, &t.Protocol,
		&t.Status, &t.Priority, &t.AssignedUserID, &t.DepartmentID, &t.Active,
		&t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func scanTransfer(row pgx.Row) (*Transfer, error) {
	var t Transfer
	if err := row.Scan(&t.ID, &t.TicketID, &t.Type, &t.FromUserID, &t.ToUserID,
		&t.FromDepartmentID, &t.ToDepartmentID, &t.FromChannelID, &t.ToChannelID,
		&t.Reason, &t.CreatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
