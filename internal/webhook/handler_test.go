package webhook

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atendelab/zapdesk/internal/channel"
	"github.com/atendelab/zapdesk/internal/queue"
)

type fakeResolver struct {
	channels map[string]*channel.Channel
	err      error
}

func (f *fakeResolver) ResolveByProviderNumberID(_ context.Context, _ uuid.UUID, providerNumberID string) (*channel.Channel, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.channels[providerNumberID], nil
}

type fakePublisher struct {
	tasks []*queue.Task
	err   error
}

func (f *fakePublisher) Publish(_ context.Context, t *queue.Task) error {
	if f.err != nil {
		return f.err
	}
	f.tasks = append(f.tasks, t)
	return nil
}

func newTestRouter(resolver *fakeResolver, publisher *fakePublisher) *chi.Mux {
	h := NewHandler(resolver, publisher, "topsecret", nil, nil)
	r := chi.NewRouter()
	r.Get("/webhooks/whatsapp/{tenantID}", h.Verify)
	r.Post("/webhooks/whatsapp/{tenantID}", h.Receive)
	return r
}

func TestVerifyHandshake(t *testing.T) {
	router := newTestRouter(&fakeResolver{}, &fakePublisher{})

	req := httptest.NewRequest(http.MethodGet,
		"/webhooks/whatsapp/"+uuid.NewString()+"?hub.mode=subscribe&hub.verify_token=topsecret&hub.challenge=12345", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "12345", rec.Body.String())
}

func TestVerifyRejectsWrongToken(t *testing.T) {
	router := newTestRouter(&fakeResolver{}, &fakePublisher{})

	req := httptest.NewRequest(http.MethodGet,
		"/webhooks/whatsapp/"+uuid.NewString()+"?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.NotContains(t, rec.Body.String(), "12345")
}

const batchPayload = `{
	"object": "whatsapp_business_account",
	"entry": [{
		"id": "entry-1",
		"changes": [{
			"field": "messages",
			"value": {
				"messaging_product": "whatsapp",
				"metadata": {"display_phone_number": "5511888887777", "phone_number_id": "pn-1"},
				"contacts": [{"wa_id": "5511999999999", "profile": {"name": "Maria"}}],
				"messages": [
					{"id": "wamid.m1", "from": "5511999999999", "timestamp": "1714000000", "type": "text", "text": {"body": "oi"}},
					{"id": "wamid.m2", "from": "5511999999999", "timestamp": "1714000001", "type": "text", "text": {"body": "tudo bem?"}}
				],
				"statuses": [
					{"id": "wamid.out1", "status": "delivered", "timestamp": "1714000002", "recipient_id": "5511999999999"}
				]
			}
		}]
	}]
}`

func TestReceiveFansBatchOut(t *testing.T) {
	channelID := uuid.New()
	resolver := &fakeResolver{channels: map[string]*channel.Channel{
		"pn-1": {ID: channelID, ProviderNumberID: "pn-1"},
	}}
	publisher := &fakePublisher{}
	router := newTestRouter(resolver, publisher)

	req := httptest.NewRequest(http.MethodPost,
		"/webhooks/whatsapp/"+uuid.NewString(), strings.NewReader(batchPayload))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"processed":{"messages":2,"statuses":1}}`, rec.Body.String())

	require.Len(t, publisher.tasks, 3)
	assert.Equal(t, queue.KindReceive, publisher.tasks[0].Kind)
	assert.Equal(t, "wamid.m1", publisher.tasks[0].Receive.Message.ID)
	assert.Equal(t, "Maria", publisher.tasks[0].Receive.ProfileName)
	assert.Equal(t, channelID, publisher.tasks[0].Receive.ChannelID)
	assert.Equal(t, queue.KindStatus, publisher.tasks[2].Kind)
	assert.Equal(t, "delivered", publisher.tasks[2].Status.Event.Status)
}

func TestReceiveSkipsUnknownChannel(t *testing.T) {
	publisher := &fakePublisher{}
	router := newTestRouter(&fakeResolver{channels: map[string]*channel.Channel{}}, publisher)

	req := httptest.NewRequest(http.MethodPost,
		"/webhooks/whatsapp/"+uuid.NewString(), strings.NewReader(batchPayload))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"processed":{"messages":0,"statuses":0}}`, rec.Body.String())
	assert.Empty(t, publisher.tasks)
}

func TestReceiveAlwaysAnswers200(t *testing.T) {
	router := newTestRouter(&fakeResolver{err: errors.New("db down")}, &fakePublisher{err: errors.New("broker down")})

	for _, body := range []string{batchPayload, "not json", ""} {
		req := httptest.NewRequest(http.MethodPost,
			"/webhooks/whatsapp/"+uuid.NewString(), strings.NewReader(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp/not-a-uuid", strings.NewReader(batchPayload))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
