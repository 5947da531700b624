// Package worker is stage two of the pipeline: it drains the task queue and
// drives the contact resolver, ticket lifecycle and message store.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/atendelab/zapdesk/internal/apperr"
	"github.com/atendelab/zapdesk/internal/contact"
	"github.com/atendelab/zapdesk/internal/message"
	"github.com/atendelab/zapdesk/internal/provider"
	"github.com/atendelab/zapdesk/internal/queue"
	"github.com/atendelab/zapdesk/internal/ticket"
	"github.com/atendelab/zapdesk/pkg/logging"
)

type messageStore interface {
	FindByProviderID(ctx context.Context, providerID string) (*message.Message, error)
	CreateInbound(ctx context.Context, m *message.Message) (*message.Message, error)
	LinkToTicket(ctx context.Context, messageID, ticketID uuid.UUID) error
	UpdateStatusByProviderID(ctx context.Context, providerID string, status message.Status) (bool, error)
	MarkReadForContact(ctx context.Context, channelID uuid.UUID, phone string) (int64, error)
}

type contactResolver interface {
	Resolve(ctx context.Context, tenantID uuid.UUID, rawPhone, profileName string) (*contact.Contact, error)
}

type ticketAttacher interface {
	AttachInbound(ctx context.Context, tenantID, channelID, contactID uuid.UUID) (*ticket.Ticket, error)
}

// Processor executes one task at a time. Every handler is idempotent: the
// queue redelivers, and redeliveries must not duplicate tickets or system
// messages.
type Processor struct {
	messages messageStore
	contacts contactResolver
	tickets  ticketAttacher
	logger   *logging.Logger
}

func NewProcessor(messages messageStore, contacts contactResolver, tickets ticketAttacher, logger *logging.Logger) *Processor {
	if messages == nil {
		panic("worker: message store cannot be nil")
	}
	if contacts == nil {
		panic("worker: contact resolver cannot be nil")
	}
	if tickets == nil {
		panic("worker: ticket attacher cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Processor{messages: messages, contacts: contacts, tickets: tickets, logger: logger}
}

// Process dispatches on the task kind. Transient errors tell the caller to
// retry the whole task; anything else means the task is a lost cause.
func (p *Processor) Process(ctx context.Context, t *queue.Task) error {
	switch t.Kind {
	case queue.KindReceive:
		if t.Receive == nil {
			return apperr.Validation("worker: receive task missing payload")
		}
		return p.processReceive(ctx, t.Receive)
	case queue.KindStatus:
		if t.Status == nil {
			return apperr.Validation("worker: status task missing payload")
		}
		return p.processStatus(ctx, t.Status)
	case queue.KindMarkRead:
		if t.MarkRead == nil {
			return apperr.Validation("worker: mark_read task missing payload")
		}
		return p.processMarkRead(ctx, t.MarkRead)
	default:
		return apperr.Validation("worker: unknown task kind %q", t.Kind)
	}
}

func (p *Processor) processReceive(ctx context.Context, t *queue.ReceiveTask) error {
	msg := t.Message

	existing, err := p.messages.FindByProviderID(ctx, msg.ID)
	if err != nil {
		return apperr.Transient(err, "worker: dedupe lookup %s", msg.ID)
	}
	if existing != nil && existing.TicketID != nil {
		// Redelivered task already fully processed.
		p.logger.Debug("receive task already processed", "provider_message_id", msg.ID)
		return nil
	}

	stored := existing
	if stored == nil {
		msgType, content, err := extractContent(&msg)
		if err != nil {
			return err
		}
		providerID := msg.ID
		stored, err = p.messages.CreateInbound(ctx, &message.Message{
			ChannelID:         t.ChannelID,
			ProviderMessageID: &providerID,
			Type:              msgType,
			Content:           content,
			FromPhone:         contact.NormalizePhone(msg.From),
			Timestamp:         parseTimestamp(msg.Timestamp),
		})
		if err != nil {
			return apperr.Transient(err, "worker: persist inbound %s", msg.ID)
		}
	}

	c, err := p.contacts.Resolve(ctx, t.TenantID, msg.From, t.ProfileName)
	if err != nil {
		return err
	}

	tk, err := p.tickets.AttachInbound(ctx, t.TenantID, t.ChannelID, c.ID)
	if err != nil {
		return err
	}

	if err := p.messages.LinkToTicket(ctx, stored.ID, tk.ID); err != nil {
		return apperr.Transient(err, "worker: link message %s to ticket %s", stored.ID, tk.ID)
	}
	p.logger.Info("message processed", "provider_message_id", msg.ID, "ticket_id", tk.ID, "protocol", tk.Protocol)
	return nil
}

func (p *Processor) processStatus(ctx context.Context, t *queue.StatusTask) error {
	status := message.MapProviderStatus(t.Event.Status)
	updated, err := p.messages.UpdateStatusByProviderID(ctx, t.Event.ID, status)
	if err != nil {
		return apperr.Transient(err, "worker: apply status %s", t.Event.ID)
	}
	if !updated {
		// Status for a message we never stored; common when callbacks outrun
		// the receive task or reference pre-cutover sends.
		p.logger.Debug("status for unknown message", "provider_message_id", t.Event.ID, "status", t.Event.Status)
		return nil
	}
	p.logger.Info("message status updated", "provider_message_id", t.Event.ID, "status", status)
	return nil
}

func (p *Processor) processMarkRead(ctx context.Context, t *queue.MarkReadTask) error {
	count, err := p.messages.MarkReadForContact(ctx, t.ChannelID, t.Phone)
	if err != nil {
		return apperr.Transient(err, "worker: mark read %s", t.Phone)
	}
	p.logger.Info("inbound backlog marked read", "channel_id", t.ChannelID, "phone", t.Phone, "count", count)
	return nil
}

// extractContent normalizes the typed webhook body: text stays plain, media
// becomes a JSON blob of provider media id plus descriptive fields.
func extractContent(msg *provider.InboundMessage) (message.Type, string, error) {
	switch msg.Type {
	case "text":
		if msg.Text == nil {
			return "", "", apperr.Validation("worker: text message %s without body", msg.ID)
		}
		return message.TypeText, msg.Text.Body, nil
	case "image":
		return mediaContent(message.TypeImage, msg.ID, msg.Image)
	case "audio":
		return mediaContent(message.TypeAudio, msg.ID, msg.Audio)
	case "video":
		return mediaContent(message.TypeVideo, msg.ID, msg.Video)
	case "document":
		if msg.Document == nil {
			return "", "", apperr.Validation("worker: document message %s without payload", msg.ID)
		}
		blob, err := json.Marshal(map[string]any{
			"id":       msg.Document.ID,
			"mimeType": msg.Document.MimeType,
			"filename": msg.Document.Filename,
			"caption":  msg.Document.Caption,
		})
		if err != nil {
			return "", "", fmt.Errorf("worker: encode document content: %w", err)
		}
		return message.TypeDocument, string(blob), nil
	default:
		return "", "", apperr.Validation("worker: unsupported message type %q", msg.Type)
	}
}

func mediaContent(msgType message.Type, msgID string, media *provider.Media) (message.Type, string, error) {
	if media == nil {
		return "", "", apperr.Validation("worker: %s message %s without payload", msgType, msgID)
	}
	blob, err := json.Marshal(map[string]any{
		"id":       media.ID,
		"mimeType": media.MimeType,
		"caption":  media.Caption,
		"voice":    media.Voice,
	})
	if err != nil {
		return "", "", fmt.Errorf("worker: encode media content: %w", err)
	}
	return msgType, string(blob), nil
}

func parseTimestamp(raw string) time.Time {
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || secs <= 0 {
		return time.Now()
	}
	return time.Unix(secs, 0)
}
