package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/arcims/arcims-platform/platform/go/tenant"
)

// Errors returned by the service layer.
var (
	ErrNotFound     = errors.New("tenant not found")
	ErrConflict     = errors.New("tenant already exists for external identity")
	ErrInvalidState = errors.New("invalid onboarding state")
	ErrInconsistent = errors.New("write-once field already set to a different value")
	ErrValidation   = errors.New("validation failed")
)

// Tenant represents the domain model for one onboarded customer, the unit of
// data isolation.
type Tenant struct {
	ID                 uuid.UUID
	CompanyName        *string
	ExternalIdentityID string
	Email              string
	WarehouseRole      string
	State              State
	DataReady          bool

	// External reference ids, each write-once and nullable until the
	// corresponding provisioning step completes.
	ConnectorGroupID    *string
	DestinationID       *string
	DataConnectorID     *string
	BankLinkUserID      *string
	BankLinkConnectorID *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ExternalIDs carries a partial write-once update of the external reference
// fields. Nil fields are left untouched.
type ExternalIDs struct {
	ConnectorGroupID    *string
	DestinationID       *string
	DataConnectorID     *string
	BankLinkUserID      *string
	BankLinkConnectorID *string
}

// CreateInput represents the request to register a tenant.
type CreateInput struct {
	CompanyName        *string
	ExternalIdentityID string
	Email              string
}

// Repository abstracts persistence.
type Repository interface {
	Create(ctx context.Context, t Tenant) (Tenant, error)
	GetByID(ctx context.Context, id uuid.UUID) (Tenant, error)
	GetByExternalIdentity(ctx context.Context, externalID string) (Tenant, error)
	GetByConnectorID(ctx context.Context, connectorID string) (Tenant, error)
	UpdateState(ctx context.Context, id uuid.UUID, state State) (Tenant, error)
	SetCompanyName(ctx context.Context, id uuid.UUID, name string) (Tenant, error)
	SetExternalIDs(ctx context.Context, id uuid.UUID, ids ExternalIDs) (Tenant, error)
	MarkDataReady(ctx context.Context, id uuid.UUID) (Tenant, error)
}

// Service provides tenant lifecycle operations and owns the onboarding state
// machine. All other components trigger state transitions through it.
type Service struct {
	repo Repository
}

// New constructs a Service with required dependencies.
func New(repo Repository) *Service {
	if repo == nil {
		panic("tenants repo is required")
	}
	return &Service{repo: repo}
}

// Create registers a tenant in the pending state with its warehouse role
// derived from the fresh id. Duplicate external identities surface as
// ErrConflict.
func (s *Service) Create(ctx context.Context, input CreateInput) (Tenant, error) {
	externalID := strings.TrimSpace(input.ExternalIdentityID)
	if externalID == "" {
		return Tenant{}, fmt.Errorf("%w: external identity id is required", ErrValidation)
	}
	email := strings.TrimSpace(input.Email)
	if email == "" {
		return Tenant{}, fmt.Errorf("%w: email is required", ErrValidation)
	}

	id := uuid.New()
	now := time.Now().UTC()

	t := Tenant{
		ID:                 id,
		CompanyName:        input.CompanyName,
		ExternalIdentityID: externalID,
		Email:              email,
		WarehouseRole:      tenant.RoleName(id),
		State:              StatePending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	return s.repo.Create(ctx, t)
}

// GetByID returns a tenant by internal id.
func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (Tenant, error) {
	return s.repo.GetByID(ctx, id)
}

// GetByExternalIdentity returns a tenant by the account-system identity that
// triggered its creation.
func (s *Service) GetByExternalIdentity(ctx context.Context, externalID string) (Tenant, error) {
	return s.repo.GetByExternalIdentity(ctx, externalID)
}

// GetByConnectorID reverse-looks-up the tenant owning a data connector.
func (s *Service) GetByConnectorID(ctx context.Context, connectorID string) (Tenant, error) {
	return s.repo.GetByConnectorID(ctx, connectorID)
}

// UpdateState applies a manual state edit. The raw value is validated before
// any write; the terminal state is reserved for the sync-completion path and
// rejected here because it additionally requires data_ready.
func (s *Service) UpdateState(ctx context.Context, id uuid.UUID, raw string) (Tenant, error) {
	state, err := ParseState(raw)
	if err != nil {
		return Tenant{}, err
	}
	if state == StateReady {
		return Tenant{}, fmt.Errorf("%w: %q is reserved for the sync completion path", ErrInvalidState, StateReady)
	}
	return s.repo.UpdateState(ctx, id, state)
}

// Advance moves a tenant forward to the target state. Calls for a tenant
// already in or past the target are no-ops, not errors, so duplicate
// triggers and racing setups converge.
func (s *Service) Advance(ctx context.Context, id uuid.UUID, target State) (Tenant, error) {
	if _, ok := stateRank[target]; !ok {
		return Tenant{}, fmt.Errorf("%w: unknown state %q", ErrInvalidState, target)
	}

	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Tenant{}, err
	}
	if !current.State.Before(target) {
		return current, nil
	}
	return s.repo.UpdateState(ctx, id, target)
}

// SetCompanyName fills the company name once during onboarding.
func (s *Service) SetCompanyName(ctx context.Context, id uuid.UUID, name string) (Tenant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Tenant{}, fmt.Errorf("%w: company name is required", ErrValidation)
	}
	return s.repo.SetCompanyName(ctx, id, name)
}

// SetExternalIDs persists write-once external reference ids after the
// corresponding external resources were created.
func (s *Service) SetExternalIDs(ctx context.Context, id uuid.UUID, ids ExternalIDs) (Tenant, error) {
	return s.repo.SetExternalIDs(ctx, id, ids)
}

// MarkDataReady records the confirmed completion of the initial historical
// sync: data_ready and the terminal state flip together, idempotently.
func (s *Service) MarkDataReady(ctx context.Context, id uuid.UUID) (Tenant, error) {
	return s.repo.MarkDataReady(ctx, id)
}
