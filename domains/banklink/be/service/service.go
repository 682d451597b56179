package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	tenants "github.com/arcims/arcims-platform/domains/tenants/be/service"
	"github.com/arcims/arcims-platform/platform/go/fivetran"
	"github.com/arcims/arcims-platform/platform/go/metrics"
	"github.com/arcims/arcims-platform/platform/go/tenant"
	"github.com/arcims/arcims-platform/platform/go/tink"
)

// ErrNotLinked is returned when activation runs before setup has created the
// tenant's bank connector.
var ErrNotLinked = errors.New("bank link not set up")

// BankAPI is the slice of the aggregator client used by the service.
type BankAPI interface {
	CreateUser(ctx context.Context, externalUserID, market, locale string) (tink.User, error)
	AuthorizationCode(ctx context.Context, externalUserID, idHint string) (string, error)
	LinkURL(authorizationCode, redirectURI, market string) string
}

// ConnectorAPI is the slice of the connector-service client used to manage
// the bank-data connector.
type ConnectorAPI interface {
	CreateConnector(ctx context.Context, params fivetran.ConnectorParams) (fivetran.Connector, error)
	UpdateConnectorConfig(ctx context.Context, connectorID string, config map[string]any) (fivetran.Connector, error)
	TriggerSync(ctx context.Context, connectorID string) error
}

// Config carries the fixed bank-link parameters shared by every tenant.
type Config struct {
	// SourceService is the bank-data connector type, e.g. "tink".
	SourceService string
	// Market and Locale select the banking market for aggregator users.
	Market string
	Locale string
	// RedirectURI is where the link frontend returns the user afterwards.
	RedirectURI string
}

// SetupResult is the outcome of a bank-link setup call.
type SetupResult struct {
	Tenant  tenants.Tenant
	LinkURL string
}

// Service orchestrates bank-account linking: the tenant's aggregator user,
// its bank-data connector, and the delegated authorization hand-off. The
// aggregator user and connector ids are write-once; authorization codes are
// single-use and regenerated on every setup call.
type Service struct {
	tenants *tenants.Service
	bank    BankAPI
	conn    ConnectorAPI
	cfg     Config
	logger  *zap.Logger
}

// New constructs the bank-link service.
func New(tenantSvc *tenants.Service, bank BankAPI, conn ConnectorAPI, cfg Config, logger *zap.Logger) *Service {
	if tenantSvc == nil {
		panic("tenants service is required")
	}
	if bank == nil {
		panic("aggregator client is required")
	}
	if conn == nil {
		panic("connector API client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{tenants: tenantSvc, bank: bank, conn: conn, cfg: cfg, logger: logger}
}

// Setup ensures the tenant's aggregator user and bank connector exist, then
// issues a fresh delegated authorization code and builds the link URL the
// user completes bank selection in. Safe to call repeatedly; only the code
// and URL differ between runs.
func (s *Service) Setup(ctx context.Context, tenantID uuid.UUID) (SetupResult, error) {
	t, err := s.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return SetupResult{}, err
	}
	// The bank connector lives in the tenant's connector group, so that group
	// must exist before any aggregator resource is created.
	if t.BankLinkConnectorID == nil && t.ConnectorGroupID == nil {
		return SetupResult{}, fmt.Errorf("%w: connector setup must complete before bank link", tenants.ErrValidation)
	}

	externalUserID := t.ID.String()

	if t.BankLinkUserID == nil {
		user, err := s.bank.CreateUser(ctx, externalUserID, s.cfg.Market, s.cfg.Locale)
		if err != nil {
			metrics.ProvisioningFailures.WithLabelValues("bank_user").Inc()
			return SetupResult{}, fmt.Errorf("create aggregator user: %w", err)
		}
		t, err = s.tenants.SetExternalIDs(ctx, t.ID, tenants.ExternalIDs{BankLinkUserID: &user.UserID})
		if err != nil {
			return SetupResult{}, err
		}
	}

	if t.BankLinkConnectorID == nil {
		// The connector starts against sandbox credentials; activation flips
		// it to the tenant's real aggregator user once linking completed.
		conn, err := s.conn.CreateConnector(ctx, fivetran.ConnectorParams{
			GroupID:       *t.ConnectorGroupID,
			Service:       s.cfg.SourceService,
			RunSetupTests: false,
			Paused:        true,
			SyncFrequency: 1440,
			ScheduleType:  "auto",
			Config: map[string]any{
				"schema":           tenant.SchemaName(s.cfg.SourceService, t.ID),
				"external_user_id": externalUserID,
				"use_sandbox":      true,
			},
		})
		if err != nil {
			metrics.ProvisioningFailures.WithLabelValues("bank_connector").Inc()
			return SetupResult{}, fmt.Errorf("create bank connector: %w", err)
		}
		t, err = s.tenants.SetExternalIDs(ctx, t.ID, tenants.ExternalIDs{BankLinkConnectorID: &conn.ID})
		if err != nil {
			return SetupResult{}, err
		}
	}

	code, err := s.bank.AuthorizationCode(ctx, externalUserID, t.Email)
	if err != nil {
		return SetupResult{}, fmt.Errorf("delegated authorization: %w", err)
	}

	return SetupResult{
		Tenant:  t,
		LinkURL: s.bank.LinkURL(code, s.cfg.RedirectURI, s.cfg.Market),
	}, nil
}

// Activate switches the bank connector from sandbox to the tenant's real
// aggregator user and triggers the first sync. Called after the user finished
// the link flow. Idempotent: re-running reapplies the same config and
// requests another sync.
func (s *Service) Activate(ctx context.Context, tenantID uuid.UUID) (tenants.Tenant, error) {
	t, err := s.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return tenants.Tenant{}, err
	}
	if t.BankLinkConnectorID == nil {
		return tenants.Tenant{}, ErrNotLinked
	}

	if _, err := s.conn.UpdateConnectorConfig(ctx, *t.BankLinkConnectorID, map[string]any{
		"external_user_id": t.ID.String(),
		"use_sandbox":      false,
	}); err != nil {
		return tenants.Tenant{}, fmt.Errorf("activate bank connector: %w", err)
	}

	if err := s.conn.TriggerSync(ctx, *t.BankLinkConnectorID); err != nil {
		return tenants.Tenant{}, fmt.Errorf("trigger bank sync: %w", err)
	}

	s.logger.Info("bank link activated",
		zap.String("tenant_id", t.ID.String()),
		zap.String("bank_connector_id", *t.BankLinkConnectorID))

	return t, nil
}
