package ticket

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/atendelab/zapdesk/internal/apperr"
	"github.com/atendelab/zapdesk/internal/message"
)

type fakeTicketStore struct {
	tickets   map[uuid.UUID]*Ticket
	transfers []*Transfer
	seq       int

	// hiddenWinner becomes visible the moment CreateActive conflicts,
	// simulating a concurrent insert that committed between our read
	// and our write.
	hiddenWinner *Ticket
}

func newFakeTicketStore() *fakeTicketStore {
	return &fakeTicketStore{tickets: map[uuid.UUID]*Ticket{}}
}

func (f *fakeTicketStore) FindActiveByContact(_ context.Context, tenantID, contactID uuid.UUID) (*Ticket, error) {
	for _, t := range f.tickets {
		if t.TenantID == tenantID && t.ContactID == contactID && t.Status == StatusActive && t.Active {
			return t, nil
		}
	}
	return nil, nil
}

func (f *fakeTicketStore) FindActiveByPhone(_ context.Context, _, _ uuid.UUID, _ string) (*Ticket, error) {
	return nil, nil
}

func (f *fakeTicketStore) Get(_ context.Context, tenantID, id uuid.UUID) (*Ticket, error) {
	t, ok := f.tickets[id]
	if !ok || t.TenantID != tenantID {
		return nil, nil
	}
	return t, nil
}

func (f *fakeTicketStore) List(_ context.Context, tenantID uuid.UUID, status Status, _, _ int) ([]*Ticket, error) {
	var out []*Ticket
	for _, t := range f.tickets {
		if t.TenantID == tenantID && (status == "" || t.Status == status) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeTicketStore) CreateActive(_ context.Context, tenantID, channelID, contactID uuid.UUID) (*Ticket, error) {
	if f.hiddenWinner != nil {
		f.tickets[f.hiddenWinner.ID] = f.hiddenWinner
		f.hiddenWinner = nil
		return nil, ErrActiveExists
	}
	for _, t := range f.tickets {
		if t.ContactID == contactID && t.Status == StatusActive && t.Active {
			return nil, ErrActiveExists
		}
	}
	f.seq++
	t := &Ticket{
		ID:        uuid.New(),
		TenantID:  tenantID,
		ChannelID: channelID,
		ContactID: contactID,
		Protocol:  fmt.Sprintf("%s%04d", time.Now().Format("20060102"), f.seq),
		Status:    StatusActive,
		Priority:  PriorityNormal,
		Active:    true,
	}
	f.tickets[t.ID] = t
	return t, nil
}

func (f *fakeTicketStore) Close(_ context.Context, tenantID, id uuid.UUID) (bool, error) {
	t, ok := f.tickets[id]
	if !ok || t.TenantID != tenantID || t.Status == StatusClosed {
		return false, nil
	}
	t.Status = StatusClosed
	t.Active = false
	return true, nil
}

func (f *fakeTicketStore) RecordTransfer(_ context.Context, _ uuid.UUID, t *Transfer) (*Transfer, error) {
	t.ID = uuid.New()
	f.transfers = append(f.transfers, t)
	ticket := f.tickets[t.TicketID]
	switch t.Type {
	case TransferUser:
		ticket.AssignedUserID = t.ToUserID
	case TransferDepartment:
		ticket.DepartmentID = t.ToDepartmentID
	case TransferChannel:
		ticket.ChannelID = *t.ToChannelID
	}
	return t, nil
}

func (f *fakeTicketStore) ListTransfers(_ context.Context, ticketID uuid.UUID) ([]*Transfer, error) {
	var out []*Transfer
	for _, t := range f.transfers {
		if t.TicketID == ticketID {
			out = append(out, t)
		}
	}
	return out, nil
}

type recordedMessage struct {
	TicketID uuid.UUID
	Category message.Category
	Content  string
}

type fakeMessenger struct {
	system []recordedMessage
	notes  []recordedMessage
}

func (f *fakeMessenger) CreateSystem(_ context.Context, _, ticketID uuid.UUID, category message.Category, content string) (*message.Message, error) {
	f.system = append(f.system, recordedMessage{TicketID: ticketID, Category: category, Content: content})
	return &message.Message{ID: uuid.New(), TicketID: &ticketID, Category: category, Content: content}, nil
}

func (f *fakeMessenger) CreateNote(_ context.Context, _, ticketID uuid.UUID, content string, _ []byte) (*message.Message, error) {
	f.notes = append(f.notes, recordedMessage{TicketID: ticketID, Category: message.CategoryNote, Content: content})
	return &message.Message{ID: uuid.New(), TicketID: &ticketID, Category: message.CategoryNote, Content: content}, nil
}

type fakeDirectory struct {
	users       map[uuid.UUID]string
	departments map[uuid.UUID]string
	channels    map[uuid.UUID]string
}

func (f *fakeDirectory) UserName(_ context.Context, _, id uuid.UUID) (string, error) {
	return f.users[id], nil
}

func (f *fakeDirectory) DepartmentName(_ context.Context, _, id uuid.UUID) (string, error) {
	return f.departments[id], nil
}

func (f *fakeDirectory) ChannelName(_ context.Context, _, id uuid.UUID) (string, error) {
	return f.channels[id], nil
}

func newTestService() (*Service, *fakeTicketStore, *fakeMessenger, *fakeDirectory) {
	store := newFakeTicketStore()
	messenger := &fakeMessenger{}
	directory := &fakeDirectory{
		users:       map[uuid.UUID]string{},
		departments: map[uuid.UUID]string{},
		channels:    map[uuid.UUID]string{},
	}
	return NewService(store, messenger, directory, nil), store, messenger, directory
}

func TestAttachInboundCreatesFirstTicket(t *testing.T) {
	svc, _, messenger, _ := newTestService()
	tenantID, channelID, contactID := uuid.New(), uuid.New(), uuid.New()

	tk, err := svc.AttachInbound(context.Background(), tenantID, channelID, contactID)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if tk.Status != StatusActive {
		t.Fatalf("status = %v, want ACTIVE", tk.Status)
	}
	wantPrefix := time.Now().Format("20060102")
	if !strings.HasPrefix(tk.Protocol, wantPrefix) || !strings.HasSuffix(tk.Protocol, "0001") {
		t.Errorf("protocol = %q, want %s0001", tk.Protocol, wantPrefix)
	}
	if len(messenger.system) != 1 {
		t.Fatalf("system messages = %d, want exactly 1", len(messenger.system))
	}
	if messenger.system[0].Content != "Ticket #"+tk.Protocol+" created" {
		t.Errorf("system message = %q", messenger.system[0].Content)
	}
}

func TestAttachInboundReturnsExistingOnSameChannel(t *testing.T) {
	svc, _, messenger, _ := newTestService()
	tenantID, channelID, contactID := uuid.New(), uuid.New(), uuid.New()

	first, err := svc.AttachInbound(context.Background(), tenantID, channelID, contactID)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	second, err := svc.AttachInbound(context.Background(), tenantID, channelID, contactID)
	if err != nil {
		t.Fatalf("attach again: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected the same ticket back")
	}
	if len(messenger.system) != 1 {
		t.Errorf("re-attach must not duplicate system messages, got %d", len(messenger.system))
	}
}

func TestAttachInboundCrossChannelTakeover(t *testing.T) {
	svc, store, messenger, _ := newTestService()
	tenantID, contactID := uuid.New(), uuid.New()
	channel7, channel9 := uuid.New(), uuid.New()

	old, err := svc.AttachInbound(context.Background(), tenantID, channel7, contactID)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	fresh, err := svc.AttachInbound(context.Background(), tenantID, channel9, contactID)
	if err != nil {
		t.Fatalf("attach on second channel: %v", err)
	}

	if fresh.ID == old.ID {
		t.Fatalf("a new ticket must be opened on the new channel")
	}
	if got := store.tickets[old.ID].Status; got != StatusClosed {
		t.Fatalf("old ticket status = %v, want CLOSED", got)
	}
	if fresh.ChannelID != channel9 || fresh.Status != StatusActive {
		t.Fatalf("new ticket not active on channel 9")
	}

	var closure bool
	for _, m := range messenger.system {
		if m.TicketID == old.ID && m.Category == message.CategoryClosure &&
			m.Content == "Ticket closed due to interaction on another channel" {
			closure = true
		}
	}
	if !closure {
		t.Errorf("missing takeover closure message")
	}
}

func TestAttachInboundRaceLoserAttachesToWinner(t *testing.T) {
	svc, store, _, _ := newTestService()
	tenantID, channelID, contactID := uuid.New(), uuid.New(), uuid.New()

	winner := &Ticket{
		ID:        uuid.New(),
		TenantID:  tenantID,
		ChannelID: channelID,
		ContactID: contactID,
		Protocol:  time.Now().Format("20060102") + "0042",
		Status:    StatusActive,
		Priority:  PriorityNormal,
		Active:    true,
	}
	store.hiddenWinner = winner

	got, err := svc.AttachInbound(context.Background(), tenantID, channelID, contactID)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if got.ID != winner.ID {
		t.Fatalf("loser must attach to the winner's ticket")
	}
}

func TestCloseRejectsDoubleClose(t *testing.T) {
	svc, _, messenger, _ := newTestService()
	tenantID, channelID, contactID := uuid.New(), uuid.New(), uuid.New()

	tk, err := svc.AttachInbound(context.Background(), tenantID, channelID, contactID)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := svc.Close(context.Background(), tenantID, tk.ID, "resolved"); err != nil {
		t.Fatalf("close: %v", err)
	}

	var closure string
	for _, m := range messenger.system {
		if m.Category == message.CategoryClosure {
			closure = m.Content
		}
	}
	if closure != "Ticket closed - reason: resolved" {
		t.Errorf("closure message = %q", closure)
	}

	err = svc.Close(context.Background(), tenantID, tk.ID, "")
	if !apperr.IsConflict(err) {
		t.Fatalf("double close must be a conflict, got %v", err)
	}
}

func TestTransferRecordsAuditAndMessage(t *testing.T) {
	svc, store, messenger, directory := newTestService()
	tenantID, channelID, contactID := uuid.New(), uuid.New(), uuid.New()
	agent := uuid.New()
	directory.users[agent] = "Ana"

	tk, err := svc.AttachInbound(context.Background(), tenantID, channelID, contactID)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}

	transfer, err := svc.Transfer(context.Background(), tenantID, tk.ID, TransferInput{
		Type: TransferUser, ToID: agent, Reason: "escalation",
	})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if transfer.Type != TransferUser || *transfer.ToUserID != agent {
		t.Fatalf("transfer audit row wrong: %+v", transfer)
	}
	if got := store.tickets[tk.ID].AssignedUserID; got == nil || *got != agent {
		t.Fatalf("ticket not reassigned")
	}

	last := messenger.system[len(messenger.system)-1]
	if last.Category != message.CategoryTransfer || last.Content != "Ticket transferred from unassigned to Ana" {
		t.Errorf("transfer message = %q (%v)", last.Content, last.Category)
	}
}

func TestTransferUnknownTargetIsNotFound(t *testing.T) {
	svc, _, _, _ := newTestService()
	tenantID, channelID, contactID := uuid.New(), uuid.New(), uuid.New()

	tk, err := svc.AttachInbound(context.Background(), tenantID, channelID, contactID)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	_, err = svc.Transfer(context.Background(), tenantID, tk.ID, TransferInput{
		Type: TransferDepartment, ToID: uuid.New(),
	})
	if !apperr.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAddNote(t *testing.T) {
	svc, _, messenger, _ := newTestService()
	tenantID, channelID, contactID := uuid.New(), uuid.New(), uuid.New()

	tk, err := svc.AttachInbound(context.Background(), tenantID, channelID, contactID)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	note, err := svc.AddNote(context.Background(), tenantID, tk.ID, uuid.New(), "customer prefers email")
	if err != nil {
		t.Fatalf("add note: %v", err)
	}
	if note.Category != message.CategoryNote {
		t.Errorf("category = %v, want NOTE", note.Category)
	}
	if len(messenger.notes) != 1 {
		t.Errorf("notes recorded = %d", len(messenger.notes))
	}

	if _, err := svc.AddNote(context.Background(), tenantID, uuid.New(), uuid.New(), "orphan"); !apperr.IsNotFound(err) {
		t.Errorf("note on unknown ticket must be not found, got %v", err)
	}
	if _, err := svc.AddNote(context.Background(), tenantID, tk.ID, uuid.New(), "  "); !apperr.IsValidation(err) {
		t.Errorf("empty note must be a validation error, got %v", err)
	}
}
