package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	tenants "github.com/arcims/arcims-platform/domains/tenants/be/service"
	"github.com/arcims/arcims-platform/platform/go/fivetran"
	"github.com/arcims/arcims-platform/platform/go/metrics"
	"github.com/arcims/arcims-platform/platform/go/tenant"
)

// ErrNotProvisioned is returned when a status read arrives before setup has
// created the tenant's data connector.
var ErrNotProvisioned = errors.New("data connector not provisioned")

// ProvisioningError wraps a failure of one named setup step. Earlier steps
// have already persisted their results, so the caller can simply retry.
type ProvisioningError struct {
	Step string
	Err  error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provisioning step %q failed: %v", e.Step, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// ConnectorAPI is the slice of the connector-service client used during setup.
type ConnectorAPI interface {
	CreateGroup(ctx context.Context, name string) (fivetran.Group, error)
	CreateDestination(ctx context.Context, params fivetran.DestinationParams) (fivetran.Destination, error)
	CreateConnector(ctx context.Context, params fivetran.ConnectorParams) (fivetran.Connector, error)
	GetConnector(ctx context.Context, connectorID string) (fivetran.Connector, error)
	CreateGroupWebhook(ctx context.Context, groupID, url, secret string, events []string) (fivetran.Webhook, error)
}

// IdentityProvisioner ensures the tenant's warehouse identity exists and
// returns its role name. Implementations must be safe to re-run.
type IdentityProvisioner interface {
	Provision(ctx context.Context, tenantID uuid.UUID) (string, error)
}

// Config carries the fixed setup parameters shared by every tenant.
type Config struct {
	// SourceService is the connector type created for each tenant, e.g. "fortnox".
	SourceService string
	// DestinationService is the warehouse destination type, e.g. "snowflake".
	DestinationService string
	// DestinationConfig is the shared warehouse connection block sent when a
	// group's destination is created.
	DestinationConfig map[string]any
	// RedirectURI is where the connect card returns the user after
	// authorizing the source system.
	RedirectURI string
	// WebhookURL receives sync-status deliveries for every group.
	WebhookURL string
	// WebhookSecret signs deliveries; empty disables registration signing.
	WebhookSecret string
}

// Setup step names, used in errors and failure metrics.
const (
	StepIdentity    = "identity"
	StepGroup       = "group"
	StepDestination = "destination"
	StepConnector   = "connector"
	StepWebhook     = "webhook"
)

var webhookEvents = []string{"sync_start", "sync_end"}

// SetupResult is the outcome of a setup call.
type SetupResult struct {
	Tenant tenants.Tenant
	// ConnectCardURI is where the user completes source authorization. Nil on
	// re-runs when the connector service no longer exposes the card.
	ConnectCardURI *string
}

// StatusSnapshot is a live read of the tenant's data connector.
type StatusSnapshot struct {
	ConnectorID      string     `json:"connector_id"`
	SetupState       string     `json:"setup_state"`
	SyncState        string     `json:"sync_state"`
	IsHistoricalSync bool       `json:"is_historical_sync"`
	SucceededAt      *time.Time `json:"succeeded_at"`
	FailedAt         *time.Time `json:"failed_at"`
}

// Service orchestrates data-connector setup for a tenant: warehouse identity,
// connector group, destination, the source connector with its connect card,
// and the group's webhook subscription. Each step persists its external id
// before the next starts, so a crash mid-sequence resumes instead of
// duplicating resources.
type Service struct {
	tenants     *tenants.Service
	api         ConnectorAPI
	provisioner IdentityProvisioner
	cfg         Config
	logger      *zap.Logger
}

// New constructs the connector orchestration service.
func New(tenantSvc *tenants.Service, api ConnectorAPI, provisioner IdentityProvisioner, cfg Config, logger *zap.Logger) *Service {
	if tenantSvc == nil {
		panic("tenants service is required")
	}
	if api == nil {
		panic("connector API client is required")
	}
	if provisioner == nil {
		panic("identity provisioner is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{tenants: tenantSvc, api: api, provisioner: provisioner, cfg: cfg, logger: logger}
}

// Setup runs the full connector provisioning sequence for a tenant. Already
// completed steps are skipped based on the persisted external ids, so the
// call is safe to retry after any failure.
func (s *Service) Setup(ctx context.Context, tenantID uuid.UUID) (SetupResult, error) {
	t, err := s.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return SetupResult{}, err
	}

	if _, err := s.provisioner.Provision(ctx, t.ID); err != nil {
		return SetupResult{}, s.stepFailed(StepIdentity, err)
	}

	t, groupCreated, err := s.ensureGroup(ctx, t)
	if err != nil {
		return SetupResult{}, err
	}

	t, err = s.ensureDestination(ctx, t)
	if err != nil {
		return SetupResult{}, err
	}

	t, connectCard, err := s.ensureConnector(ctx, t)
	if err != nil {
		return SetupResult{}, err
	}

	// One subscription per group is enough; the group is created exactly once
	// per tenant, so registration piggybacks on that transition.
	if groupCreated && s.cfg.WebhookURL != "" {
		if _, err := s.api.CreateGroupWebhook(ctx, *t.ConnectorGroupID, s.cfg.WebhookURL, s.cfg.WebhookSecret, webhookEvents); err != nil {
			return SetupResult{}, s.stepFailed(StepWebhook, err)
		}
	}

	t, err = s.tenants.Advance(ctx, t.ID, tenants.StateConnecting)
	if err != nil {
		return SetupResult{}, err
	}

	s.logger.Info("connector setup complete",
		zap.String("tenant_id", t.ID.String()),
		zap.String("connector_id", *t.DataConnectorID))

	return SetupResult{Tenant: t, ConnectCardURI: connectCard}, nil
}

// Status performs a live read-through of the tenant's connector state; it is
// never served from local persistence.
func (s *Service) Status(ctx context.Context, tenantID uuid.UUID) (StatusSnapshot, error) {
	t, err := s.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return StatusSnapshot{}, err
	}
	if t.DataConnectorID == nil {
		return StatusSnapshot{}, ErrNotProvisioned
	}

	conn, err := s.api.GetConnector(ctx, *t.DataConnectorID)
	if err != nil {
		return StatusSnapshot{}, fmt.Errorf("read connector %s: %w", *t.DataConnectorID, err)
	}

	return StatusSnapshot{
		ConnectorID:      conn.ID,
		SetupState:       conn.Status.SetupState,
		SyncState:        conn.Status.SyncState,
		IsHistoricalSync: conn.Status.IsHistoricalSync,
		SucceededAt:      conn.SucceededAt,
		FailedAt:         conn.FailedAt,
	}, nil
}

func (s *Service) ensureGroup(ctx context.Context, t tenants.Tenant) (tenants.Tenant, bool, error) {
	if t.ConnectorGroupID != nil {
		return t, false, nil
	}

	// The group label carries the company name; signup-driven tenants must
	// have it filled in before setup runs.
	if t.CompanyName == nil || *t.CompanyName == "" {
		return tenants.Tenant{}, false, fmt.Errorf("%w: company name required before connector setup", tenants.ErrValidation)
	}

	group, err := s.api.CreateGroup(ctx, tenant.GroupName(*t.CompanyName, t.ID))
	if err != nil {
		return tenants.Tenant{}, false, s.stepFailed(StepGroup, err)
	}

	t, err = s.tenants.SetExternalIDs(ctx, t.ID, tenants.ExternalIDs{ConnectorGroupID: &group.ID})
	if err != nil {
		return tenants.Tenant{}, false, err
	}
	return t, true, nil
}

func (s *Service) ensureDestination(ctx context.Context, t tenants.Tenant) (tenants.Tenant, error) {
	if t.DestinationID != nil {
		return t, nil
	}

	dest, err := s.api.CreateDestination(ctx, fivetran.DestinationParams{
		GroupID:        *t.ConnectorGroupID,
		Service:        s.cfg.DestinationService,
		TimeZoneOffset: "0",
		RunSetupTests:  true,
		Config:         s.cfg.DestinationConfig,
	})
	if err != nil {
		return tenants.Tenant{}, s.stepFailed(StepDestination, err)
	}

	return s.tenants.SetExternalIDs(ctx, t.ID, tenants.ExternalIDs{DestinationID: &dest.ID})
}

func (s *Service) ensureConnector(ctx context.Context, t tenants.Tenant) (tenants.Tenant, *string, error) {
	if t.DataConnectorID != nil {
		// Re-run after the connector exists: surface the card again if the
		// connector service still returns it.
		conn, err := s.api.GetConnector(ctx, *t.DataConnectorID)
		if err != nil {
			return tenants.Tenant{}, nil, s.stepFailed(StepConnector, err)
		}
		if conn.ConnectCard != nil && conn.ConnectCard.URI != "" {
			uri := conn.ConnectCard.URI
			return t, &uri, nil
		}
		return t, nil, nil
	}

	conn, err := s.api.CreateConnector(ctx, fivetran.ConnectorParams{
		GroupID:       *t.ConnectorGroupID,
		Service:       s.cfg.SourceService,
		RunSetupTests: false,
		Paused:        false,
		SyncFrequency: 360,
		ScheduleType:  "auto",
		ConnectCardConfig: &fivetran.ConnectCardConfig{
			RedirectURI:    s.cfg.RedirectURI,
			HideSetupGuide: true,
		},
		Config: map[string]any{
			"schema": tenant.SchemaName(s.cfg.SourceService, t.ID),
		},
	})
	if err != nil {
		return tenants.Tenant{}, nil, s.stepFailed(StepConnector, err)
	}

	t, err = s.tenants.SetExternalIDs(ctx, t.ID, tenants.ExternalIDs{DataConnectorID: &conn.ID})
	if err != nil {
		return tenants.Tenant{}, nil, err
	}

	var card *string
	if conn.ConnectCard != nil && conn.ConnectCard.URI != "" {
		uri := conn.ConnectCard.URI
		card = &uri
	}
	return t, card, nil
}

func (s *Service) stepFailed(step string, err error) error {
	metrics.ProvisioningFailures.WithLabelValues(step).Inc()
	s.logger.Warn("provisioning step failed", zap.String("step", step), zap.Error(err))
	return &ProvisioningError{Step: step, Err: err}
}
