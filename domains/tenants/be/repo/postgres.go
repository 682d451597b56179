package repo

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/arcims/arcims-platform/domains/tenants/be/service"
	"github.com/arcims/arcims-platform/platform/go/persistence"
)

// PostgresRepository implements the tenant repository on top of the shared
// persistence layer.
type PostgresRepository struct {
	store *persistence.TenantStore
}

// NewPostgresRepository constructs a repository backed by TenantStore.
func NewPostgresRepository(store *persistence.TenantStore) *PostgresRepository {
	if store == nil {
		panic("tenant store is required")
	}
	return &PostgresRepository{store: store}
}

func (r *PostgresRepository) Create(ctx context.Context, t service.Tenant) (service.Tenant, error) {
	out, err := r.store.Create(ctx, toRecord(t))
	if err != nil {
		return service.Tenant{}, mapConflict(err)
	}
	return toServiceTenant(out), nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id uuid.UUID) (service.Tenant, error) {
	rec, err := r.store.GetByID(ctx, id)
	if err != nil {
		return service.Tenant{}, mapStoreError(err)
	}
	return toServiceTenant(rec), nil
}

func (r *PostgresRepository) GetByExternalIdentity(ctx context.Context, externalID string) (service.Tenant, error) {
	rec, err := r.store.GetByExternalIdentity(ctx, externalID)
	if err != nil {
		return service.Tenant{}, mapStoreError(err)
	}
	return toServiceTenant(rec), nil
}

func (r *PostgresRepository) GetByConnectorID(ctx context.Context, connectorID string) (service.Tenant, error) {
	rec, err := r.store.GetByConnectorID(ctx, connectorID)
	if err != nil {
		return service.Tenant{}, mapStoreError(err)
	}
	return toServiceTenant(rec), nil
}

func (r *PostgresRepository) UpdateState(ctx context.Context, id uuid.UUID, state service.State) (service.Tenant, error) {
	rec, err := r.store.UpdateState(ctx, id, string(state))
	if err != nil {
		return service.Tenant{}, mapStoreError(err)
	}
	return toServiceTenant(rec), nil
}

func (r *PostgresRepository) SetCompanyName(ctx context.Context, id uuid.UUID, name string) (service.Tenant, error) {
	rec, err := r.store.SetCompanyName(ctx, id, name)
	if err != nil {
		return service.Tenant{}, mapStoreError(err)
	}
	return toServiceTenant(rec), nil
}

func (r *PostgresRepository) SetExternalIDs(ctx context.Context, id uuid.UUID, ids service.ExternalIDs) (service.Tenant, error) {
	rec, err := r.store.SetExternalIDs(ctx, id, persistence.ExternalIDs{
		ConnectorGroupID:    ids.ConnectorGroupID,
		DestinationID:       ids.DestinationID,
		DataConnectorID:     ids.DataConnectorID,
		BankLinkUserID:      ids.BankLinkUserID,
		BankLinkConnectorID: ids.BankLinkConnectorID,
	})
	if err != nil {
		return service.Tenant{}, mapStoreError(err)
	}
	return toServiceTenant(rec), nil
}

func (r *PostgresRepository) MarkDataReady(ctx context.Context, id uuid.UUID) (service.Tenant, error) {
	rec, err := r.store.MarkDataReady(ctx, id)
	if err != nil {
		return service.Tenant{}, mapStoreError(err)
	}
	return toServiceTenant(rec), nil
}

func toRecord(t service.Tenant) persistence.TenantRecord {
	return persistence.TenantRecord{
		TenantID:            t.ID,
		CompanyName:         t.CompanyName,
		ExternalIdentityID:  t.ExternalIdentityID,
		Email:               t.Email,
		WarehouseRole:       t.WarehouseRole,
		OnboardingState:     string(t.State),
		DataReady:           t.DataReady,
		ConnectorGroupID:    t.ConnectorGroupID,
		DestinationID:       t.DestinationID,
		DataConnectorID:     t.DataConnectorID,
		BankLinkUserID:      t.BankLinkUserID,
		BankLinkConnectorID: t.BankLinkConnectorID,
		CreatedAt:           t.CreatedAt,
		UpdatedAt:           t.UpdatedAt,
	}
}

func toServiceTenant(rec persistence.TenantRecord) service.Tenant {
	return service.Tenant{
		ID:                  rec.TenantID,
		CompanyName:         rec.CompanyName,
		ExternalIdentityID:  rec.ExternalIdentityID,
		Email:               rec.Email,
		WarehouseRole:       rec.WarehouseRole,
		State:               service.State(rec.OnboardingState),
		DataReady:           rec.DataReady,
		ConnectorGroupID:    rec.ConnectorGroupID,
		DestinationID:       rec.DestinationID,
		DataConnectorID:     rec.DataConnectorID,
		BankLinkUserID:      rec.BankLinkUserID,
		BankLinkConnectorID: rec.BankLinkConnectorID,
		CreatedAt:           rec.CreatedAt,
		UpdatedAt:           rec.UpdatedAt,
	}
}

func mapStoreError(err error) error {
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		return service.ErrNotFound
	case errors.Is(err, persistence.ErrInconsistent):
		return service.ErrInconsistent
	default:
		return err
	}
}

func mapConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "23505" && strings.Contains(pgErr.ConstraintName, "external_identity") {
			return service.ErrConflict
		}
	}
	return err
}

// Ensure interface compliance.
var _ service.Repository = (*PostgresRepository)(nil)
