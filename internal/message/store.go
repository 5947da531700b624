package message

import (
	"context"
	"errors"
	"fmt"
	"time"

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

// Store persists messages in Postgres.
type Store struct {
	pool Querier
}

func NewStore(pool Querier) *Store {
	if pool == nil {
		panic("message: pgx pool required")
	}
	return &Store{pool: pool}
}

const messageColumns = `id, channel_id, ticket_id, provider_message_id, direction,
	origin, category, type, content, status, from_phone, timestamp, metadata, created_at`

const insertMessage = `
	INSERT INTO messages (id, channel_id, ticket_id, provider_message_id, direction,
		origin, category, type, content, status, from_phone, timestamp, metadata)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	RETURNING ` + messageColumns

// CreateInbound inserts a webhook message. The unique provider_message_id
// index makes redelivered webhooks collapse onto the first insert: on a
// duplicate the existing row is returned instead of an error.
func (s *Store) CreateInbound(ctx context.Context, m *Message) (*Message, error) {
	created, err := scanMessage(s.pool.QueryRow(ctx, insertMessage,
		uuid.New(), m.ChannelID, m.TicketID, m.ProviderMessageID, DirectionInbound,
		OriginContact, CategoryChat, m.Type, m.Content, StatusReceived,
		m.FromPhone, m.Timestamp, m.Metadata))
	if err != nil {
		if isUniqueViolation(err) && m.ProviderMessageID != nil {
			existing, findErr := s.FindByProviderID(ctx, *m.ProviderMessageID)
			if findErr != nil {
				return nil, findErr
			}
			if existing != nil {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("message: create inbound: %w", err)
	}
	return created, nil
}

// CreateOutbound inserts a message already accepted by the provider.
func (s *Store) CreateOutbound(ctx context.Context, m *Message) (*Message, error) {
	created, err := scanMessage(s.pool.QueryRow(ctx, insertMessage,
		uuid.New(), m.ChannelID, m.TicketID, m.ProviderMessageID, DirectionOutbound,
		OriginUser, CategoryChat, m.Type, m.Content, StatusSent,
		m.FromPhone, m.Timestamp, m.Metadata))
	if err != nil {
		return nil, fmt.Errorf("message: create outbound: %w", err)
	}
	return created, nil
}

// CreateSystem records a lifecycle annotation on a ticket. The category tells
// creation, transfer and closure entries apart in the thread.
func (s *Store) CreateSystem(ctx context.Context, channelID, ticketID uuid.UUID, category Category, content string) (*Message, error) {
	providerID := SyntheticProviderID("system")
	created, err := scanMessage(s.pool.QueryRow(ctx, insertMessage,
		uuid.New(), channelID, ticketID, providerID, DirectionOutbound,
		OriginSystem, category, TypeText, content, StatusSent,
		"", time.Now(), nil))
	if err != nil {
		return nil, fmt.Errorf("message: create system: %w", err)
	}
	return created, nil
}

// CreateNote records an agent-only note on a ticket. Notes never reach the
// contact; metadata carries audit context such as the author.
func (s *Store) CreateNote(ctx context.Context, channelID, ticketID uuid.UUID, content string, metadata []byte) (*Message, error) {
	providerID := SyntheticProviderID("note")
	created, err := scanMessage(s.pool.QueryRow(ctx, insertMessage,
		uuid.New(), channelID, ticketID, providerID, DirectionOutbound,
		OriginUser, CategoryNote, TypeText, content, StatusSent,
		"", time.Now(), metadata))
	if err != nil {
		return nil, fmt.Errorf("message: create note: %w", err)
	}
	return created, nil
}

// FindByProviderID looks a message up by its provider id. Absence is not an
// error: status events routinely arrive for messages never stored.
func (s *Store) FindByProviderID(ctx context.Context, providerID string) (*Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE provider_message_id = $1
	`
	m, err := scanMessage(s.pool.QueryRow(ctx, query, providerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("message: find by provider id: %w", err)
	}
	return m, nil
}

// UpdateStatusByProviderID applies a provider status event. Returns false when
// no stored message carries the provider id.
func (s *Store) UpdateStatusByProviderID(ctx context.Context, providerID string, status Status) (bool, error) {
	query := `
		UPDATE messages
		SET status = $2, timestamp = now()
		WHERE provider_message_id = $1
	`
	tag, err := s.pool.Exec(ctx, query, providerID, status)
	if err != nil {
		return false, fmt.Errorf("message: update status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// LinkToTicket attaches a stored message to its ticket.
func (s *Store) LinkToTicket(ctx context.Context, messageID, ticketID uuid.UUID) error {
	query := `
		UPDATE messages
		SET ticket_id = $2
		WHERE id = $1
	`
	if _, err := s.pool.Exec(ctx, query, messageID, ticketID); err != nil {
		return fmt.Errorf("message: link to ticket: %w", err)
	}
	return nil
}

// MarkReadForContact flips the phone's RECEIVED inbound backlog on the
// channel to READ, stamping the transition time, and returns how many rows
// changed.
func (s *Store) MarkReadForContact(ctx context.Context, channelID uuid.UUID, phone string) (int64, error) {
	query := `
		UPDATE messages
		SET status = $3, timestamp = now()
		WHERE channel_id = $1 AND from_phone = $2
			AND direction = $4 AND status = $5
	`
	tag, err := s.pool.Exec(ctx, query, channelID, phone, StatusRead, DirectionInbound, StatusReceived)
	if err != nil {
		return 0, fmt.Errorf("message: mark read: %w", err)
	}
	return tag.RowsAffected(), nil
}

// UnreadCount counts inbound messages from the phone still in RECEIVED.
func (s *Store) UnreadCount(ctx context.Context, channelID uuid.UUID, phone string) (int64, error) {
	query := `
		SELECT count(*)
		FROM messages
		WHERE channel_id = $1 AND from_phone = $2
			AND direction = $3 AND status = $4
	`
	var count int64
	if err := s.pool.QueryRow(ctx, query, channelID, phone, DirectionInbound, StatusReceived).Scan(&count); err != nil {
		return 0, fmt.Errorf("message: unread count: %w", err)
	}
	return count, nil
}

// ListByTicket returns a ticket's messages oldest first, notes included.
func (s *Store) ListByTicket(ctx context.Context, ticketID uuid.UUID) ([]*Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE ticket_id = $1
		ORDER BY created_at ASC
	`
	return s.list(ctx, query, ticketID)
}

// ListByChannel returns a page of a channel's messages, newest first.
func (s *Store) ListByChannel(ctx context.Context, channelID uuid.UUID, limit, offset int) ([]*Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE channel_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	return s.list(ctx, query, channelID, limit, offset)
}

// ListByPhone returns the phone's messages across all of the tenant's
// channels, newest first.
func (s *Store) ListByPhone(ctx context.Context, tenantID uuid.UUID, phone string, limit, offset int) ([]*Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `
		SELECT m.id, m.channel_id, m.ticket_id, m.provider_message_id, m.direction,
			m.origin, m.category, m.type, m.content, m.status, m.from_phone,
			m.timestamp, m.metadata, m.created_at
		FROM messages m
		JOIN channels c ON c.id = m.channel_id
		WHERE c.tenant_id = $1 AND m.from_phone = $2
		ORDER BY m.created_at DESC
		LIMIT $3 OFFSET $4
	`
	return s.list(ctx, query, tenantID, phone, limit, offset)
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]*Message, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("message: list: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("message: scan: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("message: iterate: %w", err)
	}
	return messages, nil
}

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	if err := row.Scan(&m.ID, &m.ChannelID, &m.TicketID, &m.ProviderMessageID,
		&m.Direction, &m.Origin, &m.Category, &m.Type, &m.Content, &m.Status,
		&m.FromPhone, &m.Timestamp, &m.Metadata, &m.CreatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
