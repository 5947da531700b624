package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/atendelab/zapdesk/internal/apperr"
	"github.com/atendelab/zapdesk/internal/channel"
	"github.com/atendelab/zapdesk/internal/contact"
	"github.com/atendelab/zapdesk/internal/message"
	"github.com/atendelab/zapdesk/internal/outbound"
	"github.com/atendelab/zapdesk/internal/tenancy"
	"github.com/atendelab/zapdesk/internal/ticket"
	"github.com/atendelab/zapdesk/pkg/logging"
)

// Handlers bundles the services behind the internal API.
type Handlers struct {
	channels *channel.Service
	tickets  *ticket.Service
	messages *message.Store
	outbound *outbound.Service
	logger   *logging.Logger
}

func NewHandlers(channels *channel.Service, tickets *ticket.Service, messages *message.Store, out *outbound.Service, logger *logging.Logger) *Handlers {
	if channels == nil || tickets == nil || messages == nil || out == nil {
		panic("api: all services are required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handlers{channels: channels, tickets: tickets, messages: messages, outbound: out, logger: logger}
}

func tenantFrom(r *http.Request) (uuid.UUID, error) {
	tenantID, ok := tenancy.TenantIDFromContext(r.Context())
	if !ok {
		return uuid.Nil, apperr.Validation("api: request missing tenant scope")
	}
	return tenantID, nil
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, apperr.Validation("api: invalid %s", name)
	}
	return id, nil
}

func pagination(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// ---- channels ----

type createChannelRequest struct {
	Name              string `json:"name"`
	PhoneNumber       string `json:"phoneNumber"`
	ProviderNumberID  string `json:"providerNumberId"`
	BusinessAccountID string `json:"businessAccountId"`
	IsDefault         bool   `json:"isDefault"`
}

func (h *Handlers) CreateChannel(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var req createChannelRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	ch, err := h.channels.Create(r.Context(), tenantID, channel.CreateInput{
		Name:              req.Name,
		PhoneNumber:       req.PhoneNumber,
		ProviderNumberID:  req.ProviderNumberID,
		BusinessAccountID: req.BusinessAccountID,
		IsDefault:         req.IsDefault,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, channelDTO(ch))
}

func (h *Handlers) ListChannels(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	channels, err := h.channels.List(r.Context(), tenantID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	out := make([]any, 0, len(channels))
	for _, ch := range channels {
		out = append(out, channelDTO(ch))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) ChannelStatus(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	channelID, err := pathUUID(r, "channelID")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	ch, err := h.channels.Get(r.Context(), tenantID, channelID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": ch.ID, "status": ch.Status})
}

func (h *Handlers) ConnectChannel(w http.ResponseWriter, r *http.Request) {
	h.setChannelState(w, r, h.channels.Connect)
}

func (h *Handlers) DisconnectChannel(w http.ResponseWriter, r *http.Request) {
	h.setChannelState(w, r, h.channels.Disconnect)
}

func (h *Handlers) setChannelState(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, tenantID, id uuid.UUID) (*channel.Channel, error)) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	channelID, err := pathUUID(r, "channelID")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	ch, err := action(r.Context(), tenantID, channelID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, channelDTO(ch))
}

func (h *Handlers) DeleteChannel(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	channelID, err := pathUUID(r, "channelID")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.channels.Delete(r.Context(), tenantID, channelID); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- credentials ----

type credentialRequest struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

func (h *Handlers) CreateCredential(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var req credentialRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	cred, err := h.channels.CreateCredential(r.Context(), tenantID, channel.CredentialInput{
		ClientID:     req.ClientID,
		ClientSecret: req.ClientSecret,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, credentialDTO(cred))
}

func (h *Handlers) RotateCredential(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	credentialID, err := pathUUID(r, "credentialID")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	cred, err := h.channels.RotateCredential(r.Context(), tenantID, credentialID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, credentialDTO(cred))
}

func (h *Handlers) CredentialsHistory(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	creds, err := h.channels.CredentialsHistory(r.Context(), tenantID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	out := make([]any, 0, len(creds))
	for _, cred := range creds {
		out = append(out, credentialDTO(cred))
	}
	writeJSON(w, http.StatusOK, out)
}

// ---- messages ----

func (h *Handlers) SendMessage(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	channelID, err := pathUUID(r, "channelID")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var req outbound.SendInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	result, err := h.outbound.Send(r.Context(), tenantID, channelID, req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message":          messageDTO(result.Message),
		"providerResponse": result.ProviderResponse,
		"ticket":           result.Ticket,
	})
}

type markReadRequest struct {
	Phone string `json:"phone"`
}

func (h *Handlers) MarkRead(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	channelID, err := pathUUID(r, "channelID")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var req markReadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	phone := contact.NormalizePhone(req.Phone)
	if phone == "" {
		writeError(w, h.logger, apperr.Validation("api: phone is required"))
		return
	}
	// Channel lookup keeps the update tenant-scoped.
	if _, err := h.channels.Get(r.Context(), tenantID, channelID); err != nil {
		writeError(w, h.logger, err)
		return
	}
	count, err := h.messages.MarkReadForContact(r.Context(), channelID, phone)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updatedCount": count})
}

func (h *Handlers) UnreadCount(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	channelID, err := pathUUID(r, "channelID")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	phone := contact.NormalizePhone(r.URL.Query().Get("phone"))
	if phone == "" {
		writeError(w, h.logger, apperr.Validation("api: phone is required"))
		return
	}
	if _, err := h.channels.Get(r.Context(), tenantID, channelID); err != nil {
		writeError(w, h.logger, err)
		return
	}
	count, err := h.messages.UnreadCount(r.Context(), channelID, phone)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"unreadCount": count})
}

func (h *Handlers) ListChannelMessages(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	channelID, err := pathUUID(r, "channelID")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if _, err := h.channels.Get(r.Context(), tenantID, channelID); err != nil {
		writeError(w, h.logger, err)
		return
	}
	limit, offset := pagination(r)
	messages, err := h.messages.ListByChannel(r.Context(), channelID, limit, offset)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, messageDTOs(messages))
}

func (h *Handlers) ListPhoneMessages(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	phone := contact.NormalizePhone(chi.URLParam(r, "phone"))
	if phone == "" {
		writeError(w, h.logger, apperr.Validation("api: invalid phone"))
		return
	}
	limit, offset := pagination(r)
	messages, err := h.messages.ListByPhone(r.Context(), tenantID, phone, limit, offset)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, messageDTOs(messages))
}

func (h *Handlers) ListTicketMessages(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	ticketID, err := pathUUID(r, "ticketID")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if _, err := h.tickets.Get(r.Context(), tenantID, ticketID); err != nil {
		writeError(w, h.logger, err)
		return
	}
	messages, err := h.messages.ListByTicket(r.Context(), ticketID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, messageDTOs(messages))
}

// ---- tickets ----

func (h *Handlers) ListTickets(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	limit, offset := pagination(r)
	status := ticket.Status(r.URL.Query().Get("status"))
	tickets, err := h.tickets.List(r.Context(), tenantID, status, limit, offset)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	out := make([]any, 0, len(tickets))
	for _, t := range tickets {
		out = append(out, ticketDTO(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) GetTicket(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	ticketID, err := pathUUID(r, "ticketID")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	t, err := h.tickets.Get(r.Context(), tenantID, ticketID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ticketDTO(t))
}

type transferRequest struct {
	Type   string    `json:"type"`
	ToID   uuid.UUID `json:"toId"`
	Reason string    `json:"reason,omitempty"`
}

func (h *Handlers) TransferTicket(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	ticketID, err := pathUUID(r, "ticketID")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var req transferRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	transfer, err := h.tickets.Transfer(r.Context(), tenantID, ticketID, ticket.TransferInput{
		Type:   ticket.TransferType(req.Type),
		ToID:   req.ToID,
		Reason: req.Reason,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, transferDTO(transfer))
}

type closeRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (h *Handlers) CloseTicket(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	ticketID, err := pathUUID(r, "ticketID")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var req closeRequest
	if err := decodeJSON(r, &req); err != nil && !apperr.IsValidation(err) {
		writeError(w, h.logger, err)
		return
	}
	if err := h.tickets.Close(r.Context(), tenantID, ticketID, req.Reason); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(ticket.StatusClosed)})
}

type noteRequest struct {
	Text string `json:"text"`
}

func (h *Handlers) AddNote(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	ticketID, err := pathUUID(r, "ticketID")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	authorID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeError(w, h.logger, apperr.Validation("api: token missing subject"))
		return
	}
	var req noteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	note, err := h.tickets.AddNote(r.Context(), tenantID, ticketID, authorID, req.Text)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, messageDTO(note))
}

func (h *Handlers) ListTransfers(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	ticketID, err := pathUUID(r, "ticketID")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	transfers, err := h.tickets.ListTransfers(r.Context(), tenantID, ticketID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	out := make([]any, 0, len(transfers))
	for _, t := range transfers {
		out = append(out, transferDTO(t))
	}
	writeJSON(w, http.StatusOK, out)
}

// ---- DTOs ----

func channelDTO(ch *channel.Channel) map[string]any {
	return map[string]any{
		"id":                ch.ID,
		"name":              ch.Name,
		"phoneNumber":       ch.PhoneNumber,
		"providerNumberId":  ch.ProviderNumberID,
		"businessAccountId": ch.BusinessAccountID,
		"status":            ch.Status,
		"isDefault":         ch.IsDefault,
		"createdAt":         ch.CreatedAt.Format(time.RFC3339),
		"updatedAt":         ch.UpdatedAt.Format(time.RFC3339),
	}
}

// credentialDTO never exposes the client secret or raw token.
func credentialDTO(cred *channel.Credential) map[string]any {
	return map[string]any{
		"id":        cred.ID,
		"clientId":  cred.ClientID,
		"tokenType": cred.TokenType,
		"expiresAt": cred.ExpiresAt.Format(time.RFC3339),
		"active":    cred.Active,
		"createdAt": cred.CreatedAt.Format(time.RFC3339),
	}
}

func messageDTO(m *message.Message) map[string]any {
	return map[string]any{
		"id":                m.ID,
		"channelId":         m.ChannelID,
		"ticketId":          m.TicketID,
		"providerMessageId": m.ProviderMessageID,
		"direction":         m.Direction,
		"origin":            m.Origin,
		"category":          m.Category,
		"type":              m.Type,
		"content":           m.DecodedContent(),
		"status":            m.Status,
		"from":              m.FromPhone,
		"timestamp":         m.Timestamp.Format(time.RFC3339),
		"createdAt":         m.CreatedAt.Format(time.RFC3339),
	}
}

func messageDTOs(messages []*message.Message) []any {
	out := make([]any, 0, len(messages))
	for _, m := range messages {
		out = append(out, messageDTO(m))
	}
	return out
}

func ticketDTO(t *ticket.Ticket) map[string]any {
	return map[string]any{
		"id":             t.ID,
		"channelId":      t.ChannelID,
		"contactId":      t.ContactID,
		"protocol":       t.Protocol,
		"status":         t.Status,
		"priority":       t.Priority,
		"assignedUserId": t.AssignedUserID,
		"departmentId":   t.DepartmentID,
		"createdAt":      t.CreatedAt.Format(time.RFC3339),
		"updatedAt":      t.UpdatedAt.Format(time.RFC3339),
	}
}

func transferDTO(t *ticket.Transfer) map[string]any {
	return map[string]any{
		"id":               t.ID,
		"ticketId":         t.TicketID,
		"type":             t.Type,
		"fromUserId":       t.FromUserID,
		"toUserId":         t.ToUserID,
		"fromDepartmentId": t.FromDepartmentID,
		"toDepartmentId":   t.ToDepartmentID,
		"fromChannelId":    t.FromChannelID,
		"toChannelId":      t.ToChannelID,
		"reason":           t.Reason,
		"createdAt":        t.CreatedAt.Format(time.RFC3339),
	}
}
