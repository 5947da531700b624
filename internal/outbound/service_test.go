package outbound

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/atendelab/zapdesk/internal/apperr"
	"github.com/atendelab/zapdesk/internal/channel"
	"github.com/atendelab/zapdesk/internal/message"
	"github.com/atendelab/zapdesk/internal/provider"
	"github.com/atendelab/zapdesk/internal/queue"
	"github.com/atendelab/zapdesk/internal/ticket"
)

type fakeChannels struct {
	channel *channel.Channel
	cred    *channel.Credential
}

func (f *fakeChannels) Get(_ context.Context, _, id uuid.UUID) (*channel.Channel, error) {
	if f.channel == nil || f.channel.ID != id {
		return nil, apperr.NotFound("channel %s not found", id)
	}
	return f.channel, nil
}

func (f *fakeChannels) SendingCredential(_ context.Context, _ uuid.UUID) (*channel.Credential, error) {
	if f.cred == nil {
		return nil, apperr.NotFound("no active credential")
	}
	return f.cred, nil
}

type fakeTickets struct {
	ticket *ticket.Ticket
}

func (f *fakeTickets) FindActiveByPhone(_ context.Context, _, _ uuid.UUID, _ string) (*ticket.Ticket, error) {
	return f.ticket, nil
}

type fakeOutboundStore struct {
	created []*message.Message
}

func (f *fakeOutboundStore) CreateOutbound(_ context.Context, m *message.Message) (*message.Message, error) {
	stored := *m
	stored.ID = uuid.New()
	stored.Direction = message.DirectionOutbound
	stored.Status = message.StatusSent
	f.created = append(f.created, &stored)
	return &stored, nil
}

type fakeProvider struct {
	calls []*provider.SendRequest
	creds []provider.SendCredentials
	err   error
}

func (f *fakeProvider) SendMessage(_ context.Context, creds provider.SendCredentials, req *provider.SendRequest) (*provider.SendResponse, error) {
	f.calls = append(f.calls, req)
	f.creds = append(f.creds, creds)
	if f.err != nil {
		return nil, f.err
	}
	return &provider.SendResponse{
		Messages: []provider.SentMessage{{ID: "wamid.accepted"}},
		Raw:      []byte(`{"messages":[{"id":"wamid.accepted"}]}`),
	}, nil
}

type sendFixture struct {
	svc       *Service
	channels  *fakeChannels
	tickets   *fakeTickets
	store     *fakeOutboundStore
	gateway   *fakeProvider
	broker    *queue.MemoryClient
	tenantID  uuid.UUID
	channelID uuid.UUID
}

func newSendFixture() *sendFixture {
	tenantID, channelID := uuid.New(), uuid.New()
	channels := &fakeChannels{
		channel: &channel.Channel{
			ID:               channelID,
			TenantID:         tenantID,
			Status:           channel.StatusConnected,
			ProviderNumberID: "pn-1",
		},
		cred: &channel.Credential{AccessToken: "token-abc", Active: true},
	}
	tickets := &fakeTickets{ticket: &ticket.Ticket{
		ID: uuid.New(), TenantID: tenantID, ChannelID: channelID,
		Protocol: "202608300007", Status: ticket.StatusActive,
	}}
	store := &fakeOutboundStore{}
	gateway := &fakeProvider{}
	broker := queue.NewMemoryClient(8)
	publisher := queue.NewPublisher(broker, 3, 0, nil)

	return &sendFixture{
		svc:       NewService(channels, tickets, store, gateway, publisher, nil, nil),
		channels:  channels,
		tickets:   tickets,
		store:     store,
		gateway:   gateway,
		broker:    broker,
		tenantID:  tenantID,
		channelID: channelID,
	}
}

func TestSendTextPersistsAndMarksRead(t *testing.T) {
	f := newSendFixture()

	res, err := f.svc.Send(context.Background(), f.tenantID, f.channelID, SendInput{
		To: "+55 11 99999-9999", Type: "text", Text: "chegou sim",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if len(f.gateway.calls) != 1 {
		t.Fatalf("provider called %d times", len(f.gateway.calls))
	}
	if f.gateway.creds[0].AccessToken != "token-abc" || f.gateway.creds[0].PhoneNumberID != "pn-1" {
		t.Errorf("credentials = %+v", f.gateway.creds[0])
	}
	if f.gateway.calls[0].To != "5511999999999" {
		t.Errorf("destination not normalized: %q", f.gateway.calls[0].To)
	}

	if len(f.store.created) != 1 {
		t.Fatalf("persisted %d messages", len(f.store.created))
	}
	stored := f.store.created[0]
	if stored.Content != "chegou sim" || *stored.ProviderMessageID != "wamid.accepted" {
		t.Errorf("stored = content %q provider id %v", stored.Content, stored.ProviderMessageID)
	}
	if *stored.TicketID != f.tickets.ticket.ID {
		t.Errorf("message not attached to the active ticket")
	}

	if res.Ticket.Protocol != "202608300007" {
		t.Errorf("ticket ref = %+v", res.Ticket)
	}
	if string(res.ProviderResponse) != `{"messages":[{"id":"wamid.accepted"}]}` {
		t.Errorf("raw response = %s", res.ProviderResponse)
	}

	msgs, err := f.broker.Receive(context.Background(), 1, 0)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatal("mark-read task not enqueued")
	}
	task, err := queue.DecodeTask(msgs[0].Body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if task.Kind != queue.KindMarkRead || task.MarkRead.Phone != "5511999999999" {
		t.Errorf("task = %+v", task)
	}
}

func TestSendWithoutActiveTicketIsNotFound(t *testing.T) {
	f := newSendFixture()
	f.tickets.ticket = nil

	_, err := f.svc.Send(context.Background(), f.tenantID, f.channelID, SendInput{
		To: "5511999999999", Type: "text", Text: "oi",
	})
	if !apperr.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if len(f.gateway.calls) != 0 {
		t.Error("provider must not be called without a conversation")
	}
	if len(f.store.created) != 0 {
		t.Error("nothing may be persisted without a conversation")
	}
}

func TestSendOnDisconnectedChannelIsNotFound(t *testing.T) {
	f := newSendFixture()
	f.channels.channel.Status = channel.StatusDisconnected

	_, err := f.svc.Send(context.Background(), f.tenantID, f.channelID, SendInput{
		To: "5511999999999", Type: "text", Text: "oi",
	})
	if !apperr.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if len(f.gateway.calls) != 0 {
		t.Error("provider must not be called on a disconnected channel")
	}
}

func TestSendProviderFailureLeavesNoRow(t *testing.T) {
	f := newSendFixture()
	f.gateway.err = errors.New("graph api: 500")

	_, err := f.svc.Send(context.Background(), f.tenantID, f.channelID, SendInput{
		To: "5511999999999", Type: "text", Text: "oi",
	})
	if apperr.KindOf(err) != apperr.KindProvider {
		t.Fatalf("expected a provider error, got %v", err)
	}
	if len(f.store.created) != 0 {
		t.Error("provider failure must leave no message row")
	}
	if f.broker.Len() != 0 {
		t.Error("provider failure must not enqueue mark-read")
	}
}

func TestSendValidation(t *testing.T) {
	f := newSendFixture()

	cases := []struct {
		name string
		in   SendInput
	}{
		{"missing to", SendInput{Type: "text", Text: "oi"}},
		{"text without body", SendInput{To: "5511999999999", Type: "text"}},
		{"image without url", SendInput{To: "5511999999999", Type: "image", Caption: "foto"}},
		{"document without filename", SendInput{To: "5511999999999", Type: "document", MediaURL: "https://cdn/x.pdf"}},
		{"unknown type", SendInput{To: "5511999999999", Type: "sticker"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Send(context.Background(), f.tenantID, f.channelID, tc.in)
			if !apperr.IsValidation(err) {
				t.Fatalf("expected a validation error, got %v", err)
			}
		})
	}
	if len(f.gateway.calls) != 0 {
		t.Error("invalid input must not reach the provider")
	}
}

func TestSendDocumentContent(t *testing.T) {
	f := newSendFixture()

	_, err := f.svc.Send(context.Background(), f.tenantID, f.channelID, SendInput{
		To: "5511999999999", Type: "document",
		MediaURL: "https://cdn.example.com/contrato.pdf", Filename: "contrato.pdf", Caption: "segue o contrato",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	stored := f.store.created[0]
	if stored.Type != message.TypeDocument {
		t.Errorf("type = %v", stored.Type)
	}
	want := `{"caption":"segue o contrato","filename":"contrato.pdf","url":"https://cdn.example.com/contrato.pdf"}`
	if stored.Content != want {
		t.Errorf("content = %s", stored.Content)
	}
}
