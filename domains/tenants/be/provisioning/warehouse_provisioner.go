package provisioning

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/arcims/arcims-platform/platform/go/tenant"
)

// StatementExecer executes one administrative warehouse statement.
// *sql.DB (snowflake driver) satisfies it; tests substitute a fake.
type StatementExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// WarehouseConfig names the shared warehouse objects every tenant role is
// granted into. All values are validated as identifiers before use.
type WarehouseConfig struct {
	Warehouse string
	Database  string
	Schema    string
	// ServiceUser is the shared identity the connector service authenticates
	// as; it must be able to assume each tenant role.
	ServiceUser string
}

// WarehouseProvisioner creates the per-tenant warehouse role, its grants and
// the entitlement row consumed by the row-filtering secure views. Every step
// uses create-if-absent semantics so a retry after a mid-sequence failure
// skips completed work instead of duplicating it.
type WarehouseProvisioner struct {
	db  StatementExecer
	cfg WarehouseConfig
}

// NewWarehouseProvisioner constructs a provisioner over an admin session.
func NewWarehouseProvisioner(db StatementExecer, cfg WarehouseConfig) (*WarehouseProvisioner, error) {
	if db == nil {
		return nil, fmt.Errorf("warehouse provisioner requires an admin session")
	}
	for _, ident := range []string{cfg.Warehouse, cfg.Database, cfg.Schema, cfg.ServiceUser} {
		if err := tenant.ValidateIdentifier(ident); err != nil {
			return nil, fmt.Errorf("warehouse config: %w", err)
		}
	}
	return &WarehouseProvisioner{db: db, cfg: cfg}, nil
}

// Provision ensures the tenant role, its grants and the entitlement row
// exist, returning the derived role name. Safe to re-run for an
// already-provisioned tenant.
func (p *WarehouseProvisioner) Provision(ctx context.Context, tenantID uuid.UUID) (string, error) {
	role := tenant.RoleName(tenantID)
	if err := tenant.ValidateIdentifier(role); err != nil {
		return "", fmt.Errorf("derive role: %w", err)
	}

	sharedSchema := p.cfg.Database + "." + p.cfg.Schema

	steps := []struct {
		name string
		stmt string
	}{
		{"create role", fmt.Sprintf("CREATE ROLE IF NOT EXISTS %s", role)},
		{"grant warehouse usage", fmt.Sprintf("GRANT USAGE, OPERATE ON WAREHOUSE %s TO ROLE %s", p.cfg.Warehouse, role)},
		{"grant database usage", fmt.Sprintf("GRANT USAGE ON DATABASE %s TO ROLE %s", p.cfg.Database, role)},
		{"grant create schema", fmt.Sprintf("GRANT CREATE SCHEMA ON DATABASE %s TO ROLE %s", p.cfg.Database, role)},
		{"grant shared schema usage", fmt.Sprintf("GRANT USAGE ON SCHEMA %s TO ROLE %s", sharedSchema, role)},
		{"grant shared views", fmt.Sprintf("GRANT SELECT ON ALL VIEWS IN SCHEMA %s TO ROLE %s", sharedSchema, role)},
		{"grant future shared views", fmt.Sprintf("GRANT SELECT ON FUTURE VIEWS IN SCHEMA %s TO ROLE %s", sharedSchema, role)},
		// Connector-created schemas (e.g. fortnox_<id>) become visible to the
		// role without per-schema grants.
		{"grant future schema usage", fmt.Sprintf("GRANT USAGE ON FUTURE SCHEMAS IN DATABASE %s TO ROLE %s", p.cfg.Database, role)},
		{"grant future schema objects", fmt.Sprintf("GRANT CREATE TABLE, CREATE VIEW, CREATE STAGE ON FUTURE SCHEMAS IN DATABASE %s TO ROLE %s", p.cfg.Database, role)},
		// The connector service authenticates as the shared user and assumes
		// the tenant role at query time.
		{"grant role to service user", fmt.Sprintf("GRANT ROLE %s TO USER %s", role, p.cfg.ServiceUser)},
		{"ensure entitlements table", fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s.ENTITLEMENTS (ROLE_NAME VARCHAR NOT NULL, TENANT_ID VARCHAR NOT NULL)", sharedSchema)},
	}

	for _, step := range steps {
		if _, err := p.db.ExecContext(ctx, step.stmt); err != nil {
			return "", fmt.Errorf("%s: %w", step.name, err)
		}
	}

	// Exactly one entitlement row per tenant; re-runs match and insert nothing.
	entitlement := fmt.Sprintf(`
        MERGE INTO %s.ENTITLEMENTS e
        USING (SELECT ? AS ROLE_NAME, ? AS TENANT_ID) n
        ON e.ROLE_NAME = n.ROLE_NAME
        WHEN NOT MATCHED THEN INSERT (ROLE_NAME, TENANT_ID) VALUES (n.ROLE_NAME, n.TENANT_ID)
    `, sharedSchema)
	if _, err := p.db.ExecContext(ctx, entitlement, role, tenantID.String()); err != nil {
		return "", fmt.Errorf("ensure entitlement row: %w", err)
	}

	return role, nil
}
