package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	connectors "github.com/arcims/arcims-platform/domains/connectors/be/service"
	"github.com/arcims/arcims-platform/domains/tenants/be/repo"
	tenants "github.com/arcims/arcims-platform/domains/tenants/be/service"
	"github.com/arcims/arcims-platform/platform/go/fivetran"
	"github.com/arcims/arcims-platform/platform/go/tenant"
)

type stubAPI struct {
	groups      int
	destination int
	connectors  int
	webhooks    []string

	lastGroupName      string
	lastConnector      fivetran.ConnectorParams
	connectorByID      map[string]fivetran.Connector
	failCreateGroup    error
	failCreateConn     error
	failGetConnector   error
	getConnectorResult *fivetran.Connector
}

func newStubAPI() *stubAPI {
	return &stubAPI{connectorByID: make(map[string]fivetran.Connector)}
}

func (s *stubAPI) CreateGroup(ctx context.Context, name string) (fivetran.Group, error) {
	if s.failCreateGroup != nil {
		return fivetran.Group{}, s.failCreateGroup
	}
	s.groups++
	s.lastGroupName = name
	return fivetran.Group{ID: fmt.Sprintf("grp_%d", s.groups), Name: name}, nil
}

func (s *stubAPI) CreateDestination(ctx context.Context, params fivetran.DestinationParams) (fivetran.Destination, error) {
	s.destination++
	return fivetran.Destination{ID: fmt.Sprintf("dst_%d", s.destination), GroupID: params.GroupID, Service: params.Service}, nil
}

func (s *stubAPI) CreateConnector(ctx context.Context, params fivetran.ConnectorParams) (fivetran.Connector, error) {
	if s.failCreateConn != nil {
		return fivetran.Connector{}, s.failCreateConn
	}
	s.connectors++
	s.lastConnector = params
	conn := fivetran.Connector{
		ID:          fmt.Sprintf("con_%d", s.connectors),
		GroupID:     params.GroupID,
		Service:     params.Service,
		ConnectCard: &fivetran.ConnectCard{Token: "tok", URI: "https://connect.example/card"},
	}
	s.connectorByID[conn.ID] = conn
	return conn, nil
}

func (s *stubAPI) GetConnector(ctx context.Context, connectorID string) (fivetran.Connector, error) {
	if s.failGetConnector != nil {
		return fivetran.Connector{}, s.failGetConnector
	}
	if s.getConnectorResult != nil {
		return *s.getConnectorResult, nil
	}
	conn, ok := s.connectorByID[connectorID]
	if !ok {
		return fivetran.Connector{}, &fivetran.APIError{StatusCode: 404, Code: "NotFound"}
	}
	return conn, nil
}

func (s *stubAPI) CreateGroupWebhook(ctx context.Context, groupID, url, secret string, events []string) (fivetran.Webhook, error) {
	s.webhooks = append(s.webhooks, groupID)
	return fivetran.Webhook{ID: "wh_1", URL: url, Events: events, Active: true}, nil
}

type stubProvisioner struct {
	calls int
	fail  error
}

func (p *stubProvisioner) Provision(ctx context.Context, tenantID uuid.UUID) (string, error) {
	if p.fail != nil {
		return "", p.fail
	}
	p.calls++
	return tenant.RoleName(tenantID), nil
}

func testConfig() connectors.Config {
	return connectors.Config{
		SourceService:      "fortnox",
		DestinationService: "snowflake",
		DestinationConfig:  map[string]any{"host": "acct.snowflakecomputing.com"},
		RedirectURI:        "https://app.example/onboarding",
		WebhookURL:         "https://api.example/api/webhooks/sync-status",
		WebhookSecret:      "s3cret",
	}
}

type fixture struct {
	tenants     *tenants.Service
	api         *stubAPI
	provisioner *stubProvisioner
	svc         *connectors.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	tenantSvc := tenants.New(repo.NewMemoryRepository())
	api := newStubAPI()
	prov := &stubProvisioner{}
	svc := connectors.New(tenantSvc, api, prov, testConfig(), zap.NewNop())
	return &fixture{tenants: tenantSvc, api: api, provisioner: prov, svc: svc}
}

func (f *fixture) createTenant(t *testing.T) tenants.Tenant {
	t.Helper()
	name := "Acme AB"
	created, err := f.tenants.Create(context.Background(), tenants.CreateInput{
		CompanyName:        &name,
		ExternalIdentityID: "idp|" + uuid.NewString(),
		Email:              "founder@acme.example",
	})
	require.NoError(t, err)
	return created
}

func TestSetupProvisionsEverythingOnce(t *testing.T) {
	f := newFixture(t)
	created := f.createTenant(t)

	result, err := f.svc.Setup(context.Background(), created.ID)
	require.NoError(t, err)

	require.Equal(t, 1, f.provisioner.calls)
	require.Equal(t, 1, f.api.groups)
	require.Equal(t, 1, f.api.destination)
	require.Equal(t, 1, f.api.connectors)
	require.Equal(t, []string{"grp_1"}, f.api.webhooks)

	require.Equal(t, "Acme AB_"+tenant.ShortID(created.ID), f.api.lastGroupName)
	require.Equal(t, "fortnox_"+tenant.ShortID(created.ID), f.api.lastConnector.Config["schema"])
	require.NotNil(t, f.api.lastConnector.ConnectCardConfig)

	require.NotNil(t, result.ConnectCardURI)
	require.Equal(t, "https://connect.example/card", *result.ConnectCardURI)

	require.Equal(t, tenants.StateConnecting, result.Tenant.State)
	require.Equal(t, "grp_1", *result.Tenant.ConnectorGroupID)
	require.Equal(t, "dst_1", *result.Tenant.DestinationID)
	require.Equal(t, "con_1", *result.Tenant.DataConnectorID)
}

func TestSetupIsIdempotent(t *testing.T) {
	f := newFixture(t)
	created := f.createTenant(t)

	_, err := f.svc.Setup(context.Background(), created.ID)
	require.NoError(t, err)
	_, err = f.svc.Setup(context.Background(), created.ID)
	require.NoError(t, err)

	require.Equal(t, 1, f.api.groups)
	require.Equal(t, 1, f.api.destination)
	require.Equal(t, 1, f.api.connectors)
	require.Len(t, f.api.webhooks, 1)
	// The provisioner re-runs each time; its statements are create-if-absent.
	require.Equal(t, 2, f.provisioner.calls)
}

func TestSetupResumesAfterConnectorFailure(t *testing.T) {
	f := newFixture(t)
	created := f.createTenant(t)

	f.api.failCreateConn = errors.New("quota exceeded")
	_, err := f.svc.Setup(context.Background(), created.ID)

	var pErr *connectors.ProvisioningError
	require.ErrorAs(t, err, &pErr)
	require.Equal(t, connectors.StepConnector, pErr.Step)

	// Group and destination ids survived the failure.
	mid, err := f.tenants.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	require.NotNil(t, mid.ConnectorGroupID)
	require.NotNil(t, mid.DestinationID)
	require.Nil(t, mid.DataConnectorID)
	require.Equal(t, tenants.StatePending, mid.State)

	f.api.failCreateConn = nil
	result, err := f.svc.Setup(context.Background(), created.ID)
	require.NoError(t, err)

	require.Equal(t, 1, f.api.groups)
	require.Equal(t, 1, f.api.connectors)
	require.Equal(t, tenants.StateConnecting, result.Tenant.State)
}

func TestSetupIdentityFailureStopsEarly(t *testing.T) {
	f := newFixture(t)
	created := f.createTenant(t)

	f.provisioner.fail = errors.New("warehouse unreachable")
	_, err := f.svc.Setup(context.Background(), created.ID)

	var pErr *connectors.ProvisioningError
	require.ErrorAs(t, err, &pErr)
	require.Equal(t, connectors.StepIdentity, pErr.Step)
	require.Zero(t, f.api.groups)
}

func TestSetupRequiresCompanyName(t *testing.T) {
	f := newFixture(t)
	created, err := f.tenants.Create(context.Background(), tenants.CreateInput{
		ExternalIdentityID: "idp|" + uuid.NewString(),
		Email:              "founder@acme.example",
	})
	require.NoError(t, err)

	_, err = f.svc.Setup(context.Background(), created.ID)
	require.ErrorIs(t, err, tenants.ErrValidation)
	require.Zero(t, f.api.groups)
}

func TestSetupUnknownTenant(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Setup(context.Background(), uuid.New())
	require.ErrorIs(t, err, tenants.ErrNotFound)
}

func TestStatusReadsLiveConnector(t *testing.T) {
	f := newFixture(t)
	created := f.createTenant(t)

	_, err := f.svc.Setup(context.Background(), created.ID)
	require.NoError(t, err)

	f.api.getConnectorResult = &fivetran.Connector{
		ID:     "con_1",
		Status: fivetran.ConnectorStatus{SetupState: "connected", SyncState: "syncing", IsHistoricalSync: true},
	}

	snap, err := f.svc.Status(context.Background(), created.ID)
	require.NoError(t, err)
	require.Equal(t, "con_1", snap.ConnectorID)
	require.Equal(t, "connected", snap.SetupState)
	require.True(t, snap.IsHistoricalSync)
}

func TestStatusBeforeSetup(t *testing.T) {
	f := newFixture(t)
	created := f.createTenant(t)

	_, err := f.svc.Status(context.Background(), created.ID)
	require.ErrorIs(t, err, connectors.ErrNotProvisioned)
}
