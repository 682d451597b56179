package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TenantsTable defines the table backing the tenant registry.
const TenantsTable = "tenants"

// Errors surfaced by the store layer. Repos translate them to domain errors.
var (
	ErrNotFound     = errors.New("record not found")
	ErrInconsistent = errors.New("write-once field already holds a different value")
)

// TenantRecord represents one row of the tenant registry.
type TenantRecord struct {
	TenantID            uuid.UUID `db:"tenant_id"`
	CompanyName         *string   `db:"company_name"`
	ExternalIdentityID  string    `db:"external_identity_id"`
	Email               string    `db:"email"`
	WarehouseRole       string    `db:"warehouse_role"`
	OnboardingState     string    `db:"onboarding_state"`
	DataReady           bool      `db:"data_ready"`
	ConnectorGroupID    *string   `db:"connector_group_id"`
	DestinationID       *string   `db:"destination_id"`
	DataConnectorID     *string   `db:"data_connector_id"`
	BankLinkUserID      *string   `db:"bank_link_user_id"`
	BankLinkConnectorID *string   `db:"bank_link_connector_id"`
	CreatedAt           time.Time `db:"created_at"`
	UpdatedAt           time.Time `db:"updated_at"`
}

// ExternalIDs carries a partial update of the write-once external reference
// fields. Nil fields are left untouched.
type ExternalIDs struct {
	ConnectorGroupID    *string
	DestinationID       *string
	DataConnectorID     *string
	BankLinkUserID      *string
	BankLinkConnectorID *string
}

const tenantColumns = `tenant_id, company_name, external_identity_id, email, warehouse_role,
            onboarding_state, data_ready, connector_group_id, destination_id, data_connector_id,
            bank_link_user_id, bank_link_connector_id, created_at, updated_at`

// TenantStore provides access to the tenants table.
type TenantStore struct {
	pool *pgxpool.Pool
}

// NewTenantStore creates a store; assumes migrations already created the table.
func NewTenantStore(ctx context.Context, pool *pgxpool.Pool) (*TenantStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &TenantStore{pool: pool}, nil
}

// Create inserts a new tenant row. Unique-violation errors bubble up for the
// repo layer to translate into a domain conflict.
func (s *TenantStore) Create(ctx context.Context, rec TenantRecord) (TenantRecord, error) {
	if rec.TenantID == uuid.Nil {
		return TenantRecord{}, errors.New("tenant id is required")
	}
	if rec.ExternalIdentityID == "" {
		return TenantRecord{}, errors.New("external identity id is required")
	}

	query := fmt.Sprintf(`
        INSERT INTO %s (
            %s
        ) VALUES (
            $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
        )
        RETURNING %s
    `, TenantsTable, tenantColumns, tenantColumns)

	row := s.pool.QueryRow(ctx, query,
		rec.TenantID, rec.CompanyName, rec.ExternalIdentityID, rec.Email, rec.WarehouseRole,
		rec.OnboardingState, rec.DataReady, rec.ConnectorGroupID, rec.DestinationID,
		rec.DataConnectorID, rec.BankLinkUserID, rec.BankLinkConnectorID,
		rec.CreatedAt, rec.UpdatedAt,
	)

	return scanTenantRecord(row)
}

// GetByID fetches a tenant by its internal id.
func (s *TenantStore) GetByID(ctx context.Context, id uuid.UUID) (TenantRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE tenant_id = $1", tenantColumns, TenantsTable)
	return s.queryOne(ctx, query, id)
}

// GetByExternalIdentity fetches a tenant by the account-system identity that
// triggered its creation.
func (s *TenantStore) GetByExternalIdentity(ctx context.Context, externalID string) (TenantRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE external_identity_id = $1", tenantColumns, TenantsTable)
	return s.queryOne(ctx, query, externalID)
}

// GetByConnectorID reverse-looks-up the tenant owning a data connector.
// Webhook resolution depends on this.
func (s *TenantStore) GetByConnectorID(ctx context.Context, connectorID string) (TenantRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE data_connector_id = $1", tenantColumns, TenantsTable)
	return s.queryOne(ctx, query, connectorID)
}

// UpdateState writes the onboarding state. State validation happens in the
// service layer before this is reached. The terminal state is immutable at
// the row level: once a tenant is ready, a racing stale transition (e.g. a
// late sync_start delivery) must not move it back, or data_ready and the
// state would disagree.
func (s *TenantStore) UpdateState(ctx context.Context, id uuid.UUID, state string) (TenantRecord, error) {
	query := fmt.Sprintf(`
        UPDATE %s SET onboarding_state = $2, updated_at = $3
        WHERE tenant_id = $1 AND onboarding_state <> 'ready'
        RETURNING %s
    `, TenantsTable, tenantColumns)

	rec, err := scanTenantRecord(s.pool.QueryRow(ctx, query, id, state, time.Now().UTC()))
	if errors.Is(err, ErrNotFound) {
		// Missing row or guarded terminal row; re-read to tell them apart
		// and return the terminal row unchanged.
		return s.GetByID(ctx, id)
	}
	return rec, err
}

// SetCompanyName fills the company name exactly once. Re-setting the same
// value is a no-op; a different value is an integrity error.
func (s *TenantStore) SetCompanyName(ctx context.Context, id uuid.UUID, name string) (TenantRecord, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return TenantRecord{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	current, err := s.lockTenant(ctx, tx, id)
	if err != nil {
		return TenantRecord{}, err
	}

	if current.CompanyName != nil {
		if *current.CompanyName == name {
			return current, tx.Commit(ctx)
		}
		return TenantRecord{}, fmt.Errorf("company_name: %w", ErrInconsistent)
	}

	query := fmt.Sprintf(`
        UPDATE %s SET company_name = $2, updated_at = $3
        WHERE tenant_id = $1
        RETURNING %s
    `, TenantsTable, tenantColumns)

	out, err := scanTenantRecord(tx.QueryRow(ctx, query, id, name, time.Now().UTC()))
	if err != nil {
		return TenantRecord{}, err
	}
	return out, tx.Commit(ctx)
}

// SetExternalIDs applies a partial, write-once update of the external
// reference fields under a row lock. Setting a field to its current value is
// a no-op; setting it to a different value fails with ErrInconsistent and
// leaves the row untouched.
func (s *TenantStore) SetExternalIDs(ctx context.Context, id uuid.UUID, ids ExternalIDs) (TenantRecord, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return TenantRecord{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	current, err := s.lockTenant(ctx, tx, id)
	if err != nil {
		return TenantRecord{}, err
	}

	next := current
	changed := false

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
				return TenantRecord{}, fmt.Errorf("%s: %w", f.name, ErrInconsistent)
			}
			continue
		}
		v := *f.want
		*f.have = &v
		changed = true
	}

	if !changed {
		return current, tx.Commit(ctx)
	}

	query := fmt.Sprintf(`
        UPDATE %s SET
            connector_group_id = $2, destination_id = $3, data_connector_id = $4,
            bank_link_user_id = $5, bank_link_connector_id = $6, updated_at = $7
        WHERE tenant_id = $1
        RETURNING %s
    `, TenantsTable, tenantColumns)

	out, err := scanTenantRecord(tx.QueryRow(ctx, query, id,
		next.ConnectorGroupID, next.DestinationID, next.DataConnectorID,
		next.BankLinkUserID, next.BankLinkConnectorID, time.Now().UTC(),
	))
	if err != nil {
		return TenantRecord{}, err
	}
	return out, tx.Commit(ctx)
}

// MarkDataReady flips data_ready and the terminal state in one statement, so
// duplicate webhook deliveries converge on the same row.
func (s *TenantStore) MarkDataReady(ctx context.Context, id uuid.UUID) (TenantRecord, error) {
	query := fmt.Sprintf(`
        UPDATE %s SET data_ready = TRUE, onboarding_state = 'ready', updated_at = $2
        WHERE tenant_id = $1
        RETURNING %s
    `, TenantsTable, tenantColumns)

	row := s.pool.QueryRow(ctx, query, id, time.Now().UTC())
	return scanTenantRecord(row)
}

func (s *TenantStore) queryOne(ctx context.Context, query string, arg any) (TenantRecord, error) {
	return scanTenantRecord(s.pool.QueryRow(ctx, query, arg))
}

func (s *TenantStore) lockTenant(ctx context.Context, tx pgx.Tx, id uuid.UUID) (TenantRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE tenant_id = $1 FOR UPDATE", tenantColumns, TenantsTable)
	return scanTenantRecord(tx.QueryRow(ctx, query, id))
}

func scanTenantRecord(row pgx.Row) (TenantRecord, error) {
	var rec TenantRecord
	err := row.Scan(
		&rec.TenantID, &rec.CompanyName, &rec.ExternalIdentityID, &rec.Email, &rec.WarehouseRole,
		&rec.OnboardingState, &rec.DataReady, &rec.ConnectorGroupID, &rec.DestinationID,
		&rec.DataConnectorID, &rec.BankLinkUserID, &rec.BankLinkConnectorID,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TenantRecord{}, ErrNotFound
		}
		return TenantRecord{}, err
	}
	return rec, nil
}
