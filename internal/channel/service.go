package channel

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/atendelab/zapdesk/internal/apperr"
	"github.com/atendelab/zapdesk/pkg/logging"
)

// expiryWarningWindow triggers a rotation warning when the active token is
// about to lapse.
const expiryWarningWindow = 7 * 24 * time.Hour

// Token is the result of exchanging client credentials with the provider.
type Token struct {
	AccessToken string
	TokenType   string
	ExpiresIn   int64 // seconds
}

// TokenExchanger trades client credentials for a provider access token.
type TokenExchanger interface {
	ExchangeToken(ctx context.Context, clientID, clientSecret string) (*Token, error)
}

// Service is the channel/credential gateway: channel lifecycle plus the
// credential history behind it.
type Service struct {
	store     *Store
	exchanger TokenExchanger
	logger    *logging.Logger
}

func NewService(store *Store, exchanger TokenExchanger, logger *logging.Logger) *Service {
	if store == nil {
		panic("channel: store cannot be nil")
	}
	if exchanger == nil {
		panic("channel: token exchanger cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{store: store, exchanger: exchanger, logger: logger}
}

// CreateInput is the payload for registering a channel.
type CreateInput struct {
	Name              string
	PhoneNumber       string
	ProviderNumberID  string
	BusinessAccountID string
	IsDefault         bool
}

// Create registers a channel for the tenant. The tenant must already hold an
// active credential; the new channel is pinned to it and starts DISCONNECTED.
func (s *Service) Create(ctx context.Context, tenantID uuid.UUID, in CreateInput) (*Channel, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return nil, apperr.Validation("channel: name is required")
	}
	if strings.TrimSpace(in.PhoneNumber) == "" {
		return nil, apperr.Validation("channel: phone number is required")
	}

	cred, err := s.store.ActiveCredential(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, apperr.Conflict("channel: no active credential for tenant")
	}

	ch := &Channel{
		TenantID:          tenantID,
		Name:              in.Name,
		PhoneNumber:       in.PhoneNumber,
		ProviderNumberID:  in.ProviderNumberID,
		BusinessAccountID: in.BusinessAccountID,
		IsDefault:         in.IsDefault,
		CredentialID:      &cred.ID,
	}
	created, err := s.store.CreateChannel(ctx, ch)
	if err != nil {
		return nil, err
	}
	s.logger.Info("channel created", "channel_id", created.ID, "tenant_id", tenantID, "default", created.IsDefault)
	return created, nil
}

// Get returns the channel or NotFound.
func (s *Service) Get(ctx context.Context, tenantID, id uuid.UUID) (*Channel, error) {
	ch, err := s.store.GetChannel(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if ch == nil {
		return nil, apperr.NotFound("channel: %s not found", id)
	}
	return ch, nil
}

// List returns the tenant's channels.
func (s *Service) List(ctx context.Context, tenantID uuid.UUID) ([]*Channel, error) {
	return s.store.ListChannels(ctx, tenantID)
}

// ResolveByProviderNumberID maps a webhook phone_number_id to a channel, or
// nil when no channel claims it.
func (s *Service) ResolveByProviderNumberID(ctx context.Context, tenantID uuid.UUID, providerNumberID string) (*Channel, error) {
	return s.store.FindByProviderNumberID(ctx, tenantID, providerNumberID)
}

// Connect moves a channel to CONNECTED. The channel needs its provider ids
// filled in and the tenant an active credential, otherwise sends would fail
// immediately.
func (s *Service) Connect(ctx context.Context, tenantID, id uuid.UUID) (*Channel, error) {
	ch, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if ch.ProviderNumberID == "" || ch.BusinessAccountID == "" {
		return nil, apperr.Validation("channel: provider number id and business account id are required to connect")
	}
	cred, err := s.store.ActiveCredential(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, apperr.Conflict("channel: no active credential for tenant")
	}
	if err := s.store.UpdateStatus(ctx, tenantID, id, StatusConnected); err != nil {
		return nil, err
	}
	ch.Status = StatusConnected
	s.logger.Info("channel connected", "channel_id", id, "tenant_id", tenantID)
	return ch, nil
}

// Disconnect moves a channel to DISCONNECTED.
func (s *Service) Disconnect(ctx context.Context, tenantID, id uuid.UUID) (*Channel, error) {
	ch, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateStatus(ctx, tenantID, id, StatusDisconnected); err != nil {
		return nil, err
	}
	ch.Status = StatusDisconnected
	s.logger.Info("channel disconnected", "channel_id", id, "tenant_id", tenantID)
	return ch, nil
}

// Delete removes a channel. Connected channels must be disconnected first.
func (s *Service) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	ch, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if ch.Status == StatusConnected {
		return apperr.Conflict("channel: %s is connected, disconnect before deleting", id)
	}
	if err := s.store.DeleteChannel(ctx, tenantID, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.NotFound("channel: %s not found", id)
		}
		return err
	}
	s.logger.Info("channel deleted", "channel_id", id, "tenant_id", tenantID)
	return nil
}

// CredentialInput is the payload for registering provider credentials.
type CredentialInput struct {
	ClientID     string
	ClientSecret string
}

// CreateCredential exchanges the client pair for an access token and stores
// it as the tenant's active credential, retiring any previous one.
func (s *Service) CreateCredential(ctx context.Context, tenantID uuid.UUID, in CredentialInput) (*Credential, error) {
	if in.ClientID == "" || in.ClientSecret == "" {
		return nil, apperr.Validation("channel: client id and client secret are required")
	}
	token, err := s.exchanger.ExchangeToken(ctx, in.ClientID, in.ClientSecret)
	if err != nil {
		return nil, apperr.Provider(err, "channel: exchange token")
	}
	cred := &Credential{
		TenantID:     tenantID,
		ClientID:     in.ClientID,
		ClientSecret: in.ClientSecret,
		AccessToken:  token.AccessToken,
		TokenType:    token.TokenType,
		ExpiresAt:    time.Now().Add(time.Duration(token.ExpiresIn) * time.Second),
	}
	created, err := s.store.InsertCredential(ctx, cred)
	if err != nil {
		return nil, err
	}
	s.logger.Info("credential created", "credential_id", created.ID, "tenant_id", tenantID, "expires_at", created.ExpiresAt)
	return created, nil
}

// RotateCredential re-exchanges the stored client pair and inserts a fresh
// active row. The old row stays in the history, deactivated.
func (s *Service) RotateCredential(ctx context.Context, tenantID, id uuid.UUID) (*Credential, error) {
	old, err := s.store.GetCredential(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if old == nil {
		return nil, apperr.NotFound("channel: credential %s not found", id)
	}
	token, err := s.exchanger.ExchangeToken(ctx, old.ClientID, old.ClientSecret)
	if err != nil {
		return nil, apperr.Provider(err, "channel: exchange token")
	}
	fresh := &Credential{
		TenantID:     tenantID,
		ClientID:     old.ClientID,
		ClientSecret: old.ClientSecret,
		AccessToken:  token.AccessToken,
		TokenType:    token.TokenType,
		ExpiresAt:    time.Now().Add(time.Duration(token.ExpiresIn) * time.Second),
	}
	created, err := s.store.InsertCredential(ctx, fresh)
	if err != nil {
		return nil, err
	}
	s.logger.Info("credential rotated", "credential_id", created.ID, "replaces", old.ID, "tenant_id", tenantID)
	return created, nil
}

// CredentialsHistory lists every credential the tenant ever registered,
// newest first.
func (s *Service) CredentialsHistory(ctx context.Context, tenantID uuid.UUID) ([]*Credential, error) {
	return s.store.CredentialsHistory(ctx, tenantID)
}

// SendingCredential returns the credential outbound sends must use. No
// active credential reads as NotFound on the send path; a near-expiry token
// only logs a warning.
func (s *Service) SendingCredential(ctx context.Context, tenantID uuid.UUID) (*Credential, error) {
	cred, err := s.store.ActiveCredential(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, apperr.NotFound("channel: no active credential for tenant")
	}
	if cred.ExpiresWithin(expiryWarningWindow) {
		s.logger.Warn("credential expiring soon", "credential_id", cred.ID, "tenant_id", tenantID, "expires_at", cred.ExpiresAt)
	}
	return cred, nil
}
