package ticket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/atendelab/zapdesk/internal/apperr"
	"github.com/atendelab/zapdesk/internal/message"
	"github.com/atendelab/zapdesk/pkg/logging"
)

// ticketStore is the storage surface the service drives.
type ticketStore interface {
	FindActiveByContact(ctx context.Context, tenantID, contactID uuid.UUID) (*Ticket, error)
	FindActiveByPhone(ctx context.Context, tenantID, channelID uuid.UUID, phone string) (*Ticket, error)
	Get(ctx context.Context, tenantID, id uuid.UUID) (*Ticket, error)
	List(ctx context.Context, tenantID uuid.UUID, status Status, limit, offset int) ([]*Ticket, error)
	CreateActive(ctx context.Context, tenantID, channelID, contactID uuid.UUID) (*Ticket, error)
	Close(ctx context.Context, tenantID, id uuid.UUID) (bool, error)
	RecordTransfer(ctx context.Context, tenantID uuid.UUID, t *Transfer) (*Transfer, error)
	ListTransfers(ctx context.Context, ticketID uuid.UUID) ([]*Transfer, error)
}

// systemMessenger writes lifecycle annotations into the message thread.
type systemMessenger interface {
	CreateSystem(ctx context.Context, channelID, ticketID uuid.UUID, category message.Category, content string) (*message.Message, error)
	CreateNote(ctx context.Context, channelID, ticketID uuid.UUID, content string, metadata []byte) (*message.Message, error)
}

// Service is the ticket lifecycle manager.
type Service struct {
	store     ticketStore
	messages  systemMessenger
	directory EntityDirectory
	logger    *logging.Logger
}

func NewService(store ticketStore, messages systemMessenger, directory EntityDirectory, logger *logging.Logger) *Service {
	if store == nil {
		panic("ticket: store cannot be nil")
	}
	if messages == nil {
		panic("ticket: message store cannot be nil")
	}
	if directory == nil {
		panic("ticket: entity directory cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{store: store, messages: messages, directory: directory, logger: logger}
}

// AttachInbound finds or opens the ticket an inbound message belongs to. A
// contact holds one ACTIVE ticket tenant-wide: activity on a different
// channel closes the old thread and opens a new one there. Storage failures
// come back transient so the queue wrapper retries the whole task.
func (s *Service) AttachInbound(ctx context.Context, tenantID, channelID, contactID uuid.UUID) (*Ticket, error) {
	active, err := s.store.FindActiveByContact(ctx, tenantID, contactID)
	if err != nil {
		return nil, apperr.Transient(err, "ticket: find active for contact %s", contactID)
	}

	if active != nil {
		if active.ChannelID == channelID {
			return active, nil
		}
		if err := s.closeWithMessage(ctx, tenantID, active,
			"Ticket closed due to interaction on another channel"); err != nil {
			return nil, err
		}
	}

	// Two rounds cover the race where the winner's ticket is itself closed
	// between our re-read and retry.
	for attempt := 0; attempt < 2; attempt++ {
		created, err := s.store.CreateActive(ctx, tenantID, channelID, contactID)
		if err == nil {
			if _, err := s.messages.CreateSystem(ctx, channelID, created.ID, message.CategorySystem,
				fmt.Sprintf("Ticket #%s created", created.Protocol)); err != nil {
				return nil, apperr.Transient(err, "ticket: system message for %s", created.ID)
			}
			s.logger.Info("ticket created", "ticket_id", created.ID, "protocol", created.Protocol, "channel_id", channelID)
			return created, nil
		}
		if !errors.Is(err, ErrActiveExists) {
			return nil, apperr.Transient(err, "ticket: create for contact %s", contactID)
		}
		winner, err := s.store.FindActiveByContact(ctx, tenantID, contactID)
		if err != nil {
			return nil, apperr.Transient(err, "ticket: re-read after conflict")
		}
		if winner != nil && winner.ChannelID == channelID {
			return winner, nil
		}
		if winner != nil {
			// Winner lives on another channel; this message still takes over.
			if err := s.closeWithMessage(ctx, tenantID, winner,
				"Ticket closed due to interaction on another channel"); err != nil {
				return nil, err
			}
		}
	}
	return nil, apperr.Conflict("ticket: could not settle active ticket for contact %s", contactID)
}

func (s *Service) closeWithMessage(ctx context.Context, tenantID uuid.UUID, t *Ticket, text string) error {
	closed, err := s.store.Close(ctx, tenantID, t.ID)
	if err != nil {
		return apperr.Transient(err, "ticket: close %s", t.ID)
	}
	if !closed {
		// Someone else closed it first; the annotation is already theirs.
		return nil
	}
	if _, err := s.messages.CreateSystem(ctx, t.ChannelID, t.ID, message.CategoryClosure, text); err != nil {
		return apperr.Transient(err, "ticket: closure message for %s", t.ID)
	}
	s.logger.Info("ticket closed", "ticket_id", t.ID, "protocol", t.Protocol)
	return nil
}

// FindActive returns the contact's ACTIVE ticket, or nil.
func (s *Service) FindActive(ctx context.Context, tenantID, contactID uuid.UUID) (*Ticket, error) {
	return s.store.FindActiveByContact(ctx, tenantID, contactID)
}

// FindActiveByPhone returns the phone's ACTIVE ticket on the channel, or nil.
func (s *Service) FindActiveByPhone(ctx context.Context, tenantID, channelID uuid.UUID, phone string) (*Ticket, error) {
	return s.store.FindActiveByPhone(ctx, tenantID, channelID, phone)
}

// Get returns the ticket or NotFound.
func (s *Service) Get(ctx context.Context, tenantID, id uuid.UUID) (*Ticket, error) {
	t, err := s.store.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, apperr.NotFound("ticket: %s not found", id)
	}
	return t, nil
}

// List returns the tenant's tickets, optionally filtered by status.
func (s *Service) List(ctx context.Context, tenantID uuid.UUID, status Status, limit, offset int) ([]*Ticket, error) {
	return s.store.List(ctx, tenantID, status, limit, offset)
}

// ListTransfers returns a ticket's audit trail, newest first.
func (s *Service) ListTransfers(ctx context.Context, tenantID, ticketID uuid.UUID) ([]*Transfer, error) {
	if _, err := s.Get(ctx, tenantID, ticketID); err != nil {
		return nil, err
	}
	return s.store.ListTransfers(ctx, ticketID)
}

// TransferInput names the new owner of a ticket.
type TransferInput struct {
	Type   TransferType
	ToID   uuid.UUID
	Reason string
}

// Transfer reassigns the ticket and appends the immutable audit row, plus a
// human-readable annotation in the thread.
func (s *Service) Transfer(ctx context.Context, tenantID, ticketID uuid.UUID, in TransferInput) (*Transfer, error) {
	t, err := s.Get(ctx, tenantID, ticketID)
	if err != nil {
		return nil, err
	}

	toName, err := s.targetName(ctx, tenantID, in.Type, in.ToID)
	if err != nil {
		return nil, err
	}
	if toName == "" {
		return nil, apperr.NotFound("ticket: transfer target %s not found", in.ToID)
	}

	transfer := &Transfer{TicketID: ticketID, Type: in.Type, Reason: in.Reason}
	var fromID *uuid.UUID
	switch in.Type {
	case TransferUser:
		fromID = t.AssignedUserID
		transfer.FromUserID, transfer.ToUserID = fromID, &in.ToID
	case TransferDepartment:
		fromID = t.DepartmentID
		transfer.FromDepartmentID, transfer.ToDepartmentID = fromID, &in.ToID
	case TransferChannel:
		channelID := t.ChannelID
		fromID = &channelID
		transfer.FromChannelID, transfer.ToChannelID = fromID, &in.ToID
	default:
		return nil, apperr.Validation("ticket: unknown transfer type %q", in.Type)
	}

	fromName := "unassigned"
	if fromID != nil {
		name, err := s.targetName(ctx, tenantID, in.Type, *fromID)
		if err != nil {
			return nil, err
		}
		if name != "" {
			fromName = name
		}
	}

	created, err := s.store.RecordTransfer(ctx, tenantID, transfer)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("ticket: %s not found", ticketID)
		}
		return nil, err
	}

	if _, err := s.messages.CreateSystem(ctx, t.ChannelID, ticketID, message.CategoryTransfer,
		fmt.Sprintf("Ticket transferred from %s to %s", fromName, toName)); err != nil {
		return nil, err
	}
	s.logger.Info("ticket transferred", "ticket_id", ticketID, "type", in.Type, "to", in.ToID)
	return created, nil
}

func (s *Service) targetName(ctx context.Context, tenantID uuid.UUID, typ TransferType, id uuid.UUID) (string, error) {
	switch typ {
	case TransferUser:
		return s.directory.UserName(ctx, tenantID, id)
	case TransferDepartment:
		return s.directory.DepartmentName(ctx, tenantID, id)
	case TransferChannel:
		return s.directory.ChannelName(ctx, tenantID, id)
	default:
		return "", apperr.Validation("ticket: unknown transfer type %q", typ)
	}
}

// Close ends the ticket. Closing an already-closed ticket is a caller bug and
// comes back Conflict to keep the audit trail meaningful.
func (s *Service) Close(ctx context.Context, tenantID, ticketID uuid.UUID, reason string) error {
	t, err := s.Get(ctx, tenantID, ticketID)
	if err != nil {
		return err
	}
	if t.Status == StatusClosed {
		return apperr.Conflict("ticket: %s is already closed", ticketID)
	}
	closed, err := s.store.Close(ctx, tenantID, ticketID)
	if err != nil {
		return err
	}
	if !closed {
		return apperr.Conflict("ticket: %s is already closed", ticketID)
	}

	text := "Ticket closed"
	if strings.TrimSpace(reason) != "" {
		text = fmt.Sprintf("Ticket closed - reason: %s", reason)
	}
	if _, err := s.messages.CreateSystem(ctx, t.ChannelID, ticketID, message.CategoryClosure, text); err != nil {
		return err
	}
	s.logger.Info("ticket closed", "ticket_id", ticketID, "protocol", t.Protocol, "reason", reason)
	return nil
}

// AddNote appends an agent-only note to the ticket thread.
func (s *Service) AddNote(ctx context.Context, tenantID, ticketID, authorID uuid.UUID, text string) (*message.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperr.Validation("ticket: note text is required")
	}
	t, err := s.Get(ctx, tenantID, ticketID)
	if err != nil {
		return nil, err
	}
	metadata, _ := json.Marshal(map[string]string{"authorId": authorID.String()})
	return s.messages.CreateNote(ctx, t.ChannelID, ticketID, text, metadata)
}
