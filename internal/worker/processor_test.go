package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/atendelab/zapdesk/internal/apperr"
	"github.com/atendelab/zapdesk/internal/contact"
	"github.com/atendelab/zapdesk/internal/message"
	"github.com/atendelab/zapdesk/internal/provider"
	"github.com/atendelab/zapdesk/internal/queue"
	"github.com/atendelab/zapdesk/internal/ticket"
)

type fakeMessageStore struct {
	byProvider map[string]*message.Message
	linked     map[uuid.UUID]uuid.UUID
	statuses   map[string]message.Status
	markedRead []string

	findErr error
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{
		byProvider: map[string]*message.Message{},
		linked:     map[uuid.UUID]uuid.UUID{},
		statuses:   map[string]message.Status{},
	}
}

func (f *fakeMessageStore) FindByProviderID(_ context.Context, providerID string) (*message.Message, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.byProvider[providerID], nil
}

func (f *fakeMessageStore) CreateInbound(_ context.Context, m *message.Message) (*message.Message, error) {
	stored := *m
	stored.ID = uuid.New()
	stored.Direction = message.DirectionInbound
	stored.Status = message.StatusReceived
	f.byProvider[*m.ProviderMessageID] = &stored
	return &stored, nil
}

func (f *fakeMessageStore) LinkToTicket(_ context.Context, messageID, ticketID uuid.UUID) error {
	f.linked[messageID] = ticketID
	return nil
}

func (f *fakeMessageStore) UpdateStatusByProviderID(_ context.Context, providerID string, status message.Status) (bool, error) {
	if _, ok := f.byProvider[providerID]; !ok {
		return false, nil
	}
	f.statuses[providerID] = status
	return true, nil
}

func (f *fakeMessageStore) MarkReadForContact(_ context.Context, _ uuid.UUID, phone string) (int64, error) {
	f.markedRead = append(f.markedRead, phone)
	return 2, nil
}

type fakeContacts struct {
	resolved *contact.Contact
}

func (f *fakeContacts) Resolve(_ context.Context, tenantID uuid.UUID, rawPhone, profileName string) (*contact.Contact, error) {
	f.resolved = &contact.Contact{
		ID:          uuid.New(),
		TenantID:    tenantID,
		DisplayName: profileName,
		Phone:       contact.NormalizePhone(rawPhone),
	}
	return f.resolved, nil
}

type fakeAttacher struct {
	ticket  *ticket.Ticket
	attachN int
}

func (f *fakeAttacher) AttachInbound(_ context.Context, tenantID, channelID, contactID uuid.UUID) (*ticket.Ticket, error) {
	f.attachN++
	if f.ticket == nil {
		f.ticket = &ticket.Ticket{
			ID:        uuid.New(),
			TenantID:  tenantID,
			ChannelID: channelID,
			ContactID: contactID,
			Protocol:  "202608300001",
			Status:    ticket.StatusActive,
		}
	}
	return f.ticket, nil
}

func receiveTask(msg provider.InboundMessage) *queue.Task {
	return queue.NewReceiveTask(uuid.New(), uuid.New(), msg, "Maria")
}

func textMessage(id, body string) provider.InboundMessage {
	return provider.InboundMessage{
		ID:        id,
		From:      "5511999999999",
		Timestamp: "1714000000",
		Type:      "text",
		Text:      &provider.Text{Body: body},
	}
}

func TestProcessReceiveStoresAndLinks(t *testing.T) {
	store := newFakeMessageStore()
	attacher := &fakeAttacher{}
	p := NewProcessor(store, &fakeContacts{}, attacher, nil)

	task := receiveTask(textMessage("wamid.1", "oi"))
	if err := p.Process(context.Background(), task); err != nil {
		t.Fatalf("process: %v", err)
	}

	stored := store.byProvider["wamid.1"]
	if stored == nil {
		t.Fatal("inbound message not persisted")
	}
	if stored.Content != "oi" || stored.Type != message.TypeText {
		t.Errorf("stored = type %v content %q", stored.Type, stored.Content)
	}
	if stored.Timestamp.Unix() != 1714000000 {
		t.Errorf("timestamp = %v", stored.Timestamp)
	}
	if got := store.linked[stored.ID]; got != attacher.ticket.ID {
		t.Errorf("message linked to %s, want %s", got, attacher.ticket.ID)
	}
}

func TestProcessReceiveSkipsFullyProcessedRedelivery(t *testing.T) {
	store := newFakeMessageStore()
	ticketID := uuid.New()
	store.byProvider["wamid.dup"] = &message.Message{ID: uuid.New(), TicketID: &ticketID}
	attacher := &fakeAttacher{}
	p := NewProcessor(store, &fakeContacts{}, attacher, nil)

	if err := p.Process(context.Background(), receiveTask(textMessage("wamid.dup", "oi"))); err != nil {
		t.Fatalf("process: %v", err)
	}
	if attacher.attachN != 0 {
		t.Errorf("redelivery must not touch the ticket lifecycle, attach called %d times", attacher.attachN)
	}
}

func TestProcessReceiveResumesPartialRedelivery(t *testing.T) {
	// Message stored but the link step died before completing: the retry must
	// attach the existing row instead of inserting a twin.
	store := newFakeMessageStore()
	orphan := &message.Message{ID: uuid.New(), Content: "oi", Type: message.TypeText}
	store.byProvider["wamid.partial"] = orphan
	attacher := &fakeAttacher{}
	p := NewProcessor(store, &fakeContacts{}, attacher, nil)

	if err := p.Process(context.Background(), receiveTask(textMessage("wamid.partial", "oi"))); err != nil {
		t.Fatalf("process: %v", err)
	}
	if store.linked[orphan.ID] != attacher.ticket.ID {
		t.Errorf("existing row not linked to the ticket")
	}
}

func TestProcessReceiveMediaContent(t *testing.T) {
	store := newFakeMessageStore()
	p := NewProcessor(store, &fakeContacts{}, &fakeAttacher{}, nil)

	task := receiveTask(provider.InboundMessage{
		ID:        "wamid.audio",
		From:      "5511999999999",
		Timestamp: "1714000000",
		Type:      "audio",
		Audio:     &provider.Media{ID: "media-1", MimeType: "audio/ogg", Voice: true},
	})
	if err := p.Process(context.Background(), task); err != nil {
		t.Fatalf("process: %v", err)
	}

	stored := store.byProvider["wamid.audio"]
	if stored.Type != message.TypeAudio {
		t.Fatalf("type = %v", stored.Type)
	}
	var blob map[string]any
	if err := json.Unmarshal([]byte(stored.Content), &blob); err != nil {
		t.Fatalf("content not JSON: %v", err)
	}
	if blob["id"] != "media-1" || blob["voice"] != true {
		t.Errorf("content = %v", blob)
	}
}

func TestProcessReceiveUnsupportedTypeIsNotRetried(t *testing.T) {
	p := NewProcessor(newFakeMessageStore(), &fakeContacts{}, &fakeAttacher{}, nil)

	err := p.Process(context.Background(), receiveTask(provider.InboundMessage{
		ID: "wamid.sticker", From: "5511999999999", Type: "sticker",
	}))
	if !apperr.IsValidation(err) {
		t.Fatalf("expected a validation error, got %v", err)
	}
	if apperr.IsTransient(err) {
		t.Fatal("unsupported types must not be retried")
	}
}

func TestProcessReceiveStorageErrorIsTransient(t *testing.T) {
	store := newFakeMessageStore()
	store.findErr = errors.New("connection refused")
	p := NewProcessor(store, &fakeContacts{}, &fakeAttacher{}, nil)

	err := p.Process(context.Background(), receiveTask(textMessage("wamid.1", "oi")))
	if !apperr.IsTransient(err) {
		t.Fatalf("expected a transient error, got %v", err)
	}
}

func TestProcessStatus(t *testing.T) {
	store := newFakeMessageStore()
	store.byProvider["wamid.out"] = &message.Message{ID: uuid.New()}
	p := NewProcessor(store, &fakeContacts{}, &fakeAttacher{}, nil)

	task := queue.NewStatusTask(uuid.New(), uuid.New(), provider.StatusEvent{ID: "wamid.out", Status: "read"})
	if err := p.Process(context.Background(), task); err != nil {
		t.Fatalf("process: %v", err)
	}
	if got := store.statuses["wamid.out"]; got != message.StatusRead {
		t.Errorf("status = %v, want READ", got)
	}
}

func TestProcessStatusUnknownMessageIsNotAnError(t *testing.T) {
	p := NewProcessor(newFakeMessageStore(), &fakeContacts{}, &fakeAttacher{}, nil)

	task := queue.NewStatusTask(uuid.New(), uuid.New(), provider.StatusEvent{ID: "wamid.ghost", Status: "delivered"})
	if err := p.Process(context.Background(), task); err != nil {
		t.Fatalf("status for an unknown message must be swallowed, got %v", err)
	}
}

func TestProcessMarkRead(t *testing.T) {
	store := newFakeMessageStore()
	p := NewProcessor(store, &fakeContacts{}, &fakeAttacher{}, nil)

	task := queue.NewMarkReadTask(uuid.New(), uuid.New(), "5511999999999")
	if err := p.Process(context.Background(), task); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(store.markedRead) != 1 || store.markedRead[0] != "5511999999999" {
		t.Errorf("marked read = %v", store.markedRead)
	}
}

func TestProcessRejectsMismatchedPayload(t *testing.T) {
	p := NewProcessor(newFakeMessageStore(), &fakeContacts{}, &fakeAttacher{}, nil)

	for _, task := range []*queue.Task{
		{ID: uuid.NewString(), Kind: queue.KindReceive},
		{ID: uuid.NewString(), Kind: queue.KindStatus},
		{ID: uuid.NewString(), Kind: queue.KindMarkRead},
		{ID: uuid.NewString(), Kind: "unknown"},
	} {
		if err := p.Process(context.Background(), task); !apperr.IsValidation(err) {
			t.Errorf("kind %q: expected a validation error, got %v", task.Kind, err)
		}
	}
}

func TestParseTimestampFallsBackToNow(t *testing.T) {
	before := time.Now().Add(-time.Second)
	got := parseTimestamp("not-a-number")
	if got.Before(before) {
		t.Fatalf("fallback timestamp too old: %v", got)
	}
	if got := parseTimestamp("1714000000"); got.Unix() != 1714000000 {
		t.Fatalf("parsed = %v", got)
	}
}
