// Package ticket owns the conversation-thread state machine: one ACTIVE
// ticket per contact tenant-wide, date-seeded protocol numbers, and the
// transfer/closure audit trail.
package ticket

import (
	"time"

	"github.com/google/uuid"
)

// Status of a ticket. A closed ticket is never reopened; a new inbound
// conversation gets a fresh ticket instead.
type Status string

const (
	StatusActive  Status = "ACTIVE"
	StatusPending Status = "PENDING"
	StatusOnHold  Status = "ON_HOLD"
	StatusClosed  Status = "CLOSED"
)

// Priority of a ticket in agent queues.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
)

// Ticket is a conversation thread between a contact and a channel.
type Ticket struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	ChannelID      uuid.UUID
	ContactID      uuid.UUID
	Protocol       string
	Status         Status
	Priority       Priority
	AssignedUserID *uuid.UUID
	DepartmentID   *uuid.UUID
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TransferType says which ticket field a transfer mutated.
type TransferType string

const (
	TransferUser       TransferType = "USER"
	TransferDepartment TransferType = "DEPARTMENT"
	TransferChannel    TransferType = "CHANNEL"
)

// Transfer is one immutable audit row. Only the pair matching Type is set.
type Transfer struct {
	ID               uuid.UUID
	TicketID         uuid.UUID
	Type             TransferType
	FromUserID       *uuid.UUID
	ToUserID         *uuid.UUID
	FromDepartmentID *uuid.UUID
	ToDepartmentID   *uuid.UUID
	FromChannelID    *uuid.UUID
	ToChannelID      *uuid.UUID
	Reason           string
	CreatedAt        time.Time
}
