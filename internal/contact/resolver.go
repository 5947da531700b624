package contact

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/atendelab/zapdesk/internal/apperr"
	"github.com/atendelab/zapdesk/pkg/logging"
)

// Resolver maps raw phone identifiers to contact records, creating one on
// first contact.
type Resolver struct {
	store  resolverStore
	logger *logging.Logger
}

type resolverStore interface {
	FindByPhone(ctx context.Context, tenantID uuid.UUID, phone string) (*Contact, error)
	GetOrCreateByPhone(ctx context.Context, tenantID uuid.UUID, phone, displayName string) (*Contact, error)
	UpdateDisplayName(ctx context.Context, id uuid.UUID, displayName string) error
}

func NewResolver(store resolverStore, logger *logging.Logger) *Resolver {
	if store == nil {
		panic("contact: store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Resolver{store: store, logger: logger}
}

// Resolve normalizes rawPhone and returns the matching contact, creating it
// with a placeholder display name when unseen. A differing profile name
// refreshes the stored one. Storage failures surface as transient errors;
// the caller's queue wrapper owns retries.
func (r *Resolver) Resolve(ctx context.Context, tenantID uuid.UUID, rawPhone, profileName string) (*Contact, error) {
	phone := NormalizePhone(rawPhone)
	if phone == "" {
		return nil, apperr.Validation("contact: empty phone %q", rawPhone)
	}

	existing, err := r.store.FindByPhone(ctx, tenantID, phone)
	if err != nil {
		return nil, apperr.Transient(err, "contact: lookup %s", phone)
	}

	profileName = strings.TrimSpace(profileName)

	if existing != nil {
		if profileName != "" && existing.DisplayName != profileName {
			if err := r.store.UpdateDisplayName(ctx, existing.ID, profileName); err != nil {
				return nil, apperr.Transient(err, "contact: rename %s", phone)
			}
			existing.DisplayName = profileName
		}
		return existing, nil
	}

	displayName := profileName
	if displayName == "" {
		displayName = "WhatsApp " + phone
	}
	created, err := r.store.GetOrCreateByPhone(ctx, tenantID, phone, displayName)
	if err != nil {
		return nil, apperr.Transient(err, "contact: create %s", phone)
	}
	r.logger.Info("contact created", "contact_id", created.ID, "phone", phone)
	return created, nil
}
