package repo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arcims/arcims-platform/domains/tenants/be/service"
)

// MemoryRepository is an in-memory implementation suitable for tests and
// early development. It mirrors the postgres repository's semantics,
// including write-once field handling.
type MemoryRepository struct {
	mu         sync.RWMutex
	byID       map[uuid.UUID]service.Tenant
	byExternal map[string]uuid.UUID
}

// NewMemoryRepository constructs a MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:       make(map[uuid.UUID]service.Tenant),
		byExternal: make(map[string]uuid.UUID),
	}
}

func (r *MemoryRepository) Create(ctx context.Context, t service.Tenant) (service.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byExternal[t.ExternalIdentityID]; exists {
		return service.Tenant{}, service.ErrConflict
	}

	r.byID[t.ID] = t
	r.byExternal[t.ExternalIdentityID] = t.ID
	return t, nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, id uuid.UUID) (service.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.byID[id]
	if !ok {
		return service.Tenant{}, service.ErrNotFound
	}
	return t, nil
}

func (r *MemoryRepository) GetByExternalIdentity(ctx context.Context, externalID string) (service.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byExternal[externalID]
	if !ok {
		return service.Tenant{}, service.ErrNotFound
	}
	return r.byID[id], nil
}

func (r *MemoryRepository) GetByConnectorID(ctx context.Context, connectorID string) (service.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, t := range r.byID {
		if t.DataConnectorID != nil && *t.DataConnectorID == connectorID {
			return t, nil
		}
	}
	return service.Tenant{}, service.ErrNotFound
}

func (r *MemoryRepository) UpdateState(ctx context.Context, id uuid.UUID, state service.State) (service.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byID[id]
	if !ok {
		return service.Tenant{}, service.ErrNotFound
	}

	// The terminal state is immutable; a stale transition racing a completed
	// onboarding must not move the tenant back.
	if t.State == service.StateReady {
		return t, nil
	}

	t.State = state
	t.UpdatedAt = time.Now().UTC()
	r.byID[id] = t
	return t, nil
}

func (r *MemoryRepository) SetCompanyName(ctx context.Context, id uuid.UUID, name string) (service.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byID[id]
	if !ok {
		return service.Tenant{}, service.ErrNotFound
	}

	if t.CompanyName != nil {
		if *t.CompanyName == name {
			return t, nil
		}
		return service.Tenant{}, fmt.Errorf("company_name: %w", service.ErrInconsistent)
	}

	t.CompanyName = &name
	t.UpdatedAt = time.Now().UTC()
	r.byID[id] = t
	return t, nil
}

func (r *MemoryRepository) SetExternalIDs(ctx context.Context, id uuid.UUID, ids service.ExternalIDs) (service.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byID[id]
	if !ok {
		return service.Tenant{}, service.ErrNotFound
	}

	next := t
	for _, f := range []struct {
		name string
		have **string
		want *string
	}{
		{"connector_group_id", &next.ConnectorGroupID, ids.ConnectorGroupID},
		{"destination_id", &next.DestinationID, ids.DestinationID},
		{"data_connector_id", &next.DataConnectorID, ids.DataConnectorID},
		{"bank_link_user_id", &next.BankLinkUserID, ids.BankLinkUserID},
		{"bank_link_connector_id", &next.BankLinkConnectorID, ids.BankLinkConnectorID},
	} {
		if f.want == nil {
			continue
		}
		if *f.have != nil {
			if **f.have != *f.want {
				return service.Tenant{}, fmt.Errorf("%s: %w", f.name, service.ErrInconsistent)
			}
			continue
		}
		v := *f.want
		*f.have = &v
	}

	next.UpdatedAt = time.Now().UTC()
	r.byID[id] = next
	return next, nil
}

func (r *MemoryRepository) MarkDataReady(ctx context.Context, id uuid.UUID) (service.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byID[id]
	if !ok {
		return service.Tenant{}, service.ErrNotFound
	}

	t.DataReady = true
	t.State = service.StateReady
	t.UpdatedAt = time.Now().UTC()
	r.byID[id] = t
	return t, nil
}

// Ensure interface compliance.
var _ service.Repository = (*MemoryRepository)(nil)
