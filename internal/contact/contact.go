// Package contact resolves external phone identifiers to tenant-scoped
// contact records.
package contact

import (
	"time"

	"github.com/google/uuid"
)

// Contact is a tenant-scoped identity keyed by normalized phone number.
type Contact struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	DisplayName string
	Phone       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
