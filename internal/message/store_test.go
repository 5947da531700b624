package message

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

var messageRowColumns = []string{
	"id", "channel_id", "ticket_id", "provider_message_id", "direction",
	"origin", "category", "type", "content", "status", "from_phone",
	"timestamp", "metadata", "created_at",
}

func TestUpdateStatusByProviderID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()
	store := &Store{pool: mock}

	mock.ExpectExec("UPDATE messages").
		WithArgs("wamid.1", StatusRead).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	ok, err := store.UpdateStatusByProviderID(context.Background(), "wamid.1", StatusRead)
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if !ok {
		t.Fatalf("expected a row to be updated")
	}
}

func TestUpdateStatusByProviderIDUnknownMessage(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()
	store := &Store{pool: mock}

	mock.ExpectExec("UPDATE messages").
		WithArgs("wamid.unknown", StatusDelivered).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := store.UpdateStatusByProviderID(context.Background(), "wamid.unknown", StatusDelivered)
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if ok {
		t.Fatalf("no row should match an unknown provider id")
	}
}

func TestMarkReadForContact(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()
	store := &Store{pool: mock}
	channelID := uuid.New()

	mock.ExpectExec("UPDATE messages").
		WithArgs(channelID, "5511999999999", StatusRead, DirectionInbound, StatusReceived).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	count, err := store.MarkReadForContact(context.Background(), channelID, "5511999999999")
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if count != 3 {
		t.Fatalf("updated count = %d, want 3", count)
	}
}

func TestFindByProviderIDAbsent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()
	store := &Store{pool: mock}

	mock.ExpectQuery("SELECT (.+) FROM messages").
		WithArgs("wamid.missing").
		WillReturnError(pgx.ErrNoRows)

	m, err := store.FindByProviderID(context.Background(), "wamid.missing")
	if err != nil {
		t.Fatalf("absence must not be an error, got %v", err)
	}
	if m != nil {
		t.Fatalf("expected nil message")
	}
}

func TestCreateInboundDuplicateReturnsExisting(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()
	store := &Store{pool: mock}

	channelID := uuid.New()
	existingID := uuid.New()
	ticketID := uuid.New()
	providerID := "wamid.dup"
	now := time.Now()

	mock.ExpectQuery("INSERT INTO messages").
		WithArgs(
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectQuery("SELECT (.+) FROM messages").
		WithArgs(providerID).
		WillReturnRows(pgxmock.NewRows(messageRowColumns).AddRow(
			existingID, channelID, &ticketID, &providerID, DirectionInbound,
			OriginContact, CategoryChat, TypeText, "hello", StatusReceived,
			"5511999999999", now, []byte(nil), now,
		))

	m, err := store.CreateInbound(context.Background(), &Message{
		ChannelID:         channelID,
		ProviderMessageID: &providerID,
		Type:              TypeText,
		Content:           "hello",
		FromPhone:         "5511999999999",
		Timestamp:         now,
	})
	if err != nil {
		t.Fatalf("duplicate insert must resolve to the existing row: %v", err)
	}
	if m.ID != existingID {
		t.Fatalf("expected existing message id %s, got %s", existingID, m.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
