// Package outbound sends conversation-scoped messages through the provider
// and persists them once the provider accepts.
package outbound

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/atendelab/zapdesk/internal/apperr"
	"github.com/atendelab/zapdesk/internal/channel"
	"github.com/atendelab/zapdesk/internal/contact"
	"github.com/atendelab/zapdesk/internal/message"
	"github.com/atendelab/zapdesk/internal/observability/metrics"
	"github.com/atendelab/zapdesk/internal/provider"
	"github.com/atendelab/zapdesk/internal/queue"
	"github.com/atendelab/zapdesk/internal/ticket"
	"github.com/atendelab/zapdesk/pkg/logging"
)

type channelGateway interface {
	Get(ctx context.Context, tenantID, id uuid.UUID) (*channel.Channel, error)
	SendingCredential(ctx context.Context, tenantID uuid.UUID) (*channel.Credential, error)
}

type ticketFinder interface {
	FindActiveByPhone(ctx context.Context, tenantID, channelID uuid.UUID, phone string) (*ticket.Ticket, error)
}

type outboundStore interface {
	CreateOutbound(ctx context.Context, m *message.Message) (*message.Message, error)
}

type providerGateway interface {
	SendMessage(ctx context.Context, creds provider.SendCredentials, req *provider.SendRequest) (*provider.SendResponse, error)
}

type taskPublisher interface {
	Publish(ctx context.Context, t *queue.Task) error
}

// Service is the outbound send pipeline.
type Service struct {
	channels  channelGateway
	tickets   ticketFinder
	messages  outboundStore
	provider  providerGateway
	publisher taskPublisher
	metrics   *metrics.Metrics
	logger    *logging.Logger
}

func NewService(channels channelGateway, tickets ticketFinder, messages outboundStore, gateway providerGateway, publisher taskPublisher, m *metrics.Metrics, logger *logging.Logger) *Service {
	if channels == nil {
		panic("outbound: channel gateway cannot be nil")
	}
	if tickets == nil {
		panic("outbound: ticket finder cannot be nil")
	}
	if messages == nil {
		panic("outbound: message store cannot be nil")
	}
	if gateway == nil {
		panic("outbound: provider gateway cannot be nil")
	}
	if publisher == nil {
		panic("outbound: publisher cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		channels:  channels,
		tickets:   tickets,
		messages:  messages,
		provider:  gateway,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

// SendInput is one outbound message request.
type SendInput struct {
	To       string `json:"to"`
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Caption  string `json:"caption,omitempty"`
	MediaURL string `json:"mediaUrl,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// TicketRef identifies the conversation a send landed in.
type TicketRef struct {
	ID       uuid.UUID `json:"id"`
	Protocol string    `json:"protocol"`
}

// Result is the send outcome: the persisted message, the raw provider
// acknowledgment, and the resolved ticket.
type Result struct {
	Message          *message.Message
	ProviderResponse json.RawMessage
	Ticket           TicketRef
}

// Send pushes one message into an existing conversation. Sends are
// strictly conversation-scoped: without an ACTIVE ticket for the destination
// on the channel there is no cold-send fallback. A provider failure leaves no
// message row behind.
func (s *Service) Send(ctx context.Context, tenantID, channelID uuid.UUID, in SendInput) (*Result, error) {
	if err := validate(in); err != nil {
		return nil, err
	}

	ch, err := s.channels.Get(ctx, tenantID, channelID)
	if err != nil {
		return nil, err
	}
	if ch.Status != channel.StatusConnected {
		return nil, apperr.NotFound("outbound: channel %s is not connected", channelID)
	}
	cred, err := s.channels.SendingCredential(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	phone := contact.NormalizePhone(in.To)
	if phone == "" {
		return nil, apperr.Validation("outbound: invalid destination phone %q", in.To)
	}

	tk, err := s.tickets.FindActiveByPhone(ctx, tenantID, channelID, phone)
	if err != nil {
		return nil, err
	}
	if tk == nil {
		return nil, apperr.NotFound("outbound: no active ticket for %s on channel %s", phone, channelID)
	}

	resp, err := s.provider.SendMessage(ctx, provider.SendCredentials{
		AccessToken:   cred.AccessToken,
		PhoneNumberID: ch.ProviderNumberID,
	}, &provider.SendRequest{
		To:       phone,
		Type:     in.Type,
		Body:     in.Text,
		Caption:  in.Caption,
		MediaURL: in.MediaURL,
		Filename: in.Filename,
	})
	if err != nil {
		s.metrics.OutboundSend(in.Type, "failed")
		return nil, apperr.Provider(err, "outbound: send to %s", phone)
	}

	content, err := buildContent(in)
	if err != nil {
		return nil, err
	}
	ticketID := tk.ID
	var providerID *string
	if id := resp.MessageID(); id != "" {
		providerID = &id
	}
	stored, err := s.messages.CreateOutbound(ctx, &message.Message{
		ChannelID:         channelID,
		TicketID:          &ticketID,
		ProviderMessageID: providerID,
		Type:              message.Type(in.Type),
		Content:           content,
		FromPhone:         phone,
		Timestamp:         time.Now(),
	})
	if err != nil {
		return nil, apperr.Transient(err, "outbound: persist sent message")
	}

	// Replying implies the agent read the backlog; flip it asynchronously.
	if err := s.publisher.Publish(ctx, queue.NewMarkReadTask(tenantID, channelID, phone)); err != nil {
		s.logger.Warn("failed to enqueue mark-read task", "channel_id", channelID, "phone", phone, "error", err)
	}

	s.metrics.OutboundSend(in.Type, "sent")
	s.logger.Info("message sent", "ticket_id", tk.ID, "protocol", tk.Protocol, "type", in.Type)
	return &Result{
		Message:          stored,
		ProviderResponse: resp.Raw,
		Ticket:           TicketRef{ID: tk.ID, Protocol: tk.Protocol},
	}, nil
}

// validate enforces the type-specific required fields.
func validate(in SendInput) error {
	if strings.TrimSpace(in.To) == "" {
		return apperr.Validation("outbound: to is required")
	}
	switch in.Type {
	case "text":
		if strings.TrimSpace(in.Text) == "" {
			return apperr.Validation("outbound: text is required for text messages")
		}
	case "image", "audio", "video":
		if strings.TrimSpace(in.MediaURL) == "" {
			return apperr.Validation("outbound: mediaUrl is required for %s messages", in.Type)
		}
	case "document":
		if strings.TrimSpace(in.MediaURL) == "" {
			return apperr.Validation("outbound: mediaUrl is required for document messages")
		}
		if strings.TrimSpace(in.Filename) == "" {
			return apperr.Validation("outbound: filename is required for document messages")
		}
	default:
		return apperr.Validation("outbound: unsupported message type %q", in.Type)
	}
	return nil
}

func buildContent(in SendInput) (string, error) {
	if in.Type == "text" {
		return in.Text, nil
	}
	blob, err := json.Marshal(map[string]string{
		"url":      in.MediaURL,
		"caption":  in.Caption,
		"filename": in.Filename,
	})
	if err != nil {
		return "", apperr.Validation("outbound: encode media content: %v", err)
	}
	return string(blob), nil
}
