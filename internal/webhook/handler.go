// Package webhook is stage one of inbound ingestion: verify the provider
// handshake, split webhook batches into queue tasks, and always answer 200 so
// the provider never retry-storms us.
package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/atendelab/zapdesk/internal/channel"
	"github.com/atendelab/zapdesk/internal/observability/metrics"
	"github.com/atendelab/zapdesk/internal/provider"
	"github.com/atendelab/zapdesk/internal/queue"
	"github.com/atendelab/zapdesk/pkg/logging"
)

const maxBodyBytes = 2 << 20

type channelResolver interface {
	ResolveByProviderNumberID(ctx context.Context, tenantID uuid.UUID, providerNumberID string) (*channel.Channel, error)
}

type taskPublisher interface {
	Publish(ctx context.Context, t *queue.Task) error
}

// Handler serves the provider webhook endpoints.
type Handler struct {
	channels    channelResolver
	publisher   taskPublisher
	verifyToken string
	metrics     *metrics.Metrics
	tracer      trace.Tracer
	logger      *logging.Logger
}

func NewHandler(channels channelResolver, publisher taskPublisher, verifyToken string, m *metrics.Metrics, logger *logging.Logger) *Handler {
	if channels == nil {
		panic("webhook: channel resolver cannot be nil")
	}
	if publisher == nil {
		panic("webhook: publisher cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		channels:    channels,
		publisher:   publisher,
		verifyToken: verifyToken,
		metrics:     m,
		tracer:      otel.Tracer("zapdesk/webhook"),
		logger:      logger,
	}
}

// Verify answers the provider's subscription handshake.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") == "subscribe" && q.Get("hub.verify_token") == h.verifyToken {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(q.Get("hub.challenge")))
		return
	}
	h.logger.Warn("webhook verification rejected", "mode", q.Get("hub.mode"))
	w.WriteHeader(http.StatusForbidden)
}

type processedCounts struct {
	Messages int `json:"messages"`
	Statuses int `json:"statuses"`
}

// Receive fans a webhook batch out into queue tasks. Item-level failures are
// logged and skipped; sibling items in the batch still go through, and the
// provider always gets 200.
func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "webhook.receive")
	defer span.End()

	var counts processedCounts
	defer func() {
		span.SetAttributes(
			attribute.Int("webhook.messages", counts.Messages),
			attribute.Int("webhook.statuses", counts.Statuses),
		)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]processedCounts{"processed": counts})
	}()

	tenantID, err := uuid.Parse(chi.URLParam(r, "tenantID"))
	if err != nil {
		h.logger.Warn("webhook with invalid tenant id", "tenant", chi.URLParam(r, "tenantID"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.logger.Warn("failed to read webhook body", "error", err)
		return
	}
	h.metrics.WebhookBody(len(body))

	var payload provider.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		h.logger.Warn("malformed webhook payload", "error", err)
		return
	}

	// A batch can mix several phone numbers; resolve each channel once.
	resolved := map[string]*channel.Channel{}
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			value := change.Value
			ch, ok := resolved[value.Metadata.PhoneNumberID]
			if !ok {
				ch, err = h.channels.ResolveByProviderNumberID(ctx, tenantID, value.Metadata.PhoneNumberID)
				if err != nil {
					h.logger.Error("failed to resolve webhook channel", "phone_number_id", value.Metadata.PhoneNumberID, "error", err)
					h.countSkipped(value)
					continue
				}
				resolved[value.Metadata.PhoneNumberID] = ch
			}
			if ch == nil {
				h.logger.Warn("webhook for unknown channel", "tenant_id", tenantID, "phone_number_id", value.Metadata.PhoneNumberID)
				h.countSkipped(value)
				continue
			}

			for _, msg := range value.Messages {
				task := queue.NewReceiveTask(tenantID, ch.ID, msg, value.ProfileNameFor(msg.From))
				if err := h.publisher.Publish(ctx, task); err != nil {
					h.logger.Error("failed to enqueue receive task", "provider_message_id", msg.ID, "error", err)
					h.metrics.WebhookItem("message", "error")
					continue
				}
				h.metrics.WebhookItem("message", "enqueued")
				counts.Messages++
			}
			for _, event := range value.Statuses {
				task := queue.NewStatusTask(tenantID, ch.ID, event)
				if err := h.publisher.Publish(ctx, task); err != nil {
					h.logger.Error("failed to enqueue status task", "provider_message_id", event.ID, "error", err)
					h.metrics.WebhookItem("status", "error")
					continue
				}
				h.metrics.WebhookItem("status", "enqueued")
				counts.Statuses++
			}
		}
	}
}

func (h *Handler) countSkipped(value provider.Value) {
	for range value.Messages {
		h.metrics.WebhookItem("message", "skipped")
	}
	for range value.Statuses {
		h.metrics.WebhookItem("status", "skipped")
	}
}
