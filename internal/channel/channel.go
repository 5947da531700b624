// Package channel owns WhatsApp channel records and the provider credentials
// they send with.
package channel

import (
	"time"

	"github.com/google/uuid"
)

// Status is the connection state of a channel.
type Status string

const (
	StatusConnected    Status = "CONNECTED"
	StatusDisconnected Status = "DISCONNECTED"
)

// Channel is a WhatsApp Business phone number registered for a tenant.
type Channel struct {
	ID                uuid.UUID
	TenantID          uuid.UUID
	Name              string
	PhoneNumber       string
	ProviderNumberID  string
	BusinessAccountID string
	Status            Status
	IsDefault         bool
	CredentialID      *uuid.UUID
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Credential is one row of the tenant's provider credential history. Only the
// newest active row is used for sends; rotation deactivates it and inserts a
// fresh one.
type Credential struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	ClientID     string
	ClientSecret string
	AccessToken  string
	TokenType    string
	ExpiresAt    time.Time
	Active       bool
	CreatedAt    time.Time
}

// ExpiresWithin reports whether the token expires before now+d.
func (c *Credential) ExpiresWithin(d time.Duration) bool {
	return !c.ExpiresAt.IsZero() && time.Until(c.ExpiresAt) < d
}
