package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	banklink "github.com/arcims/arcims-platform/domains/banklink/be/service"
	"github.com/arcims/arcims-platform/domains/tenants/be/repo"
	tenants "github.com/arcims/arcims-platform/domains/tenants/be/service"
	"github.com/arcims/arcims-platform/platform/go/fivetran"
	"github.com/arcims/arcims-platform/platform/go/tink"
)

type stubBank struct {
	usersCreated int
	codesIssued  int
	lastIDHint   string
	failUser     error
}

func (b *stubBank) CreateUser(ctx context.Context, externalUserID, market, locale string) (tink.User, error) {
	if b.failUser != nil {
		return tink.User{}, b.failUser
	}
	b.usersCreated++
	return tink.User{UserID: "usr_" + externalUserID[:8]}, nil
}

func (b *stubBank) AuthorizationCode(ctx context.Context, externalUserID, idHint string) (string, error) {
	b.codesIssued++
	b.lastIDHint = idHint
	return fmt.Sprintf("code_%d", b.codesIssued), nil
}

func (b *stubBank) LinkURL(code, redirectURI, market string) string {
	return fmt.Sprintf("https://link.example?code=%s&market=%s", code, market)
}

type stubConnectors struct {
	created    int
	lastCreate fivetran.ConnectorParams
	lastUpdate map[string]any
	syncs      []string
}

func (c *stubConnectors) CreateConnector(ctx context.Context, params fivetran.ConnectorParams) (fivetran.Connector, error) {
	c.created++
	c.lastCreate = params
	return fivetran.Connector{ID: fmt.Sprintf("bankcon_%d", c.created)}, nil
}

func (c *stubConnectors) UpdateConnectorConfig(ctx context.Context, connectorID string, config map[string]any) (fivetran.Connector, error) {
	c.lastUpdate = config
	return fivetran.Connector{ID: connectorID}, nil
}

func (c *stubConnectors) TriggerSync(ctx context.Context, connectorID string) error {
	c.syncs = append(c.syncs, connectorID)
	return nil
}

type fixture struct {
	tenants *tenants.Service
	bank    *stubBank
	conn    *stubConnectors
	svc     *banklink.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	tenantSvc := tenants.New(repo.NewMemoryRepository())
	bank := &stubBank{}
	conn := &stubConnectors{}
	svc := banklink.New(tenantSvc, bank, conn, banklink.Config{
		SourceService: "tink",
		Market:        "SE",
		Locale:        "sv_SE",
		RedirectURI:   "https://app.example/banklink/done",
	}, zap.NewNop())
	return &fixture{tenants: tenantSvc, bank: bank, conn: conn, svc: svc}
}

func (f *fixture) createTenant(t *testing.T) tenants.Tenant {
	t.Helper()
	created, err := f.tenants.Create(context.Background(), tenants.CreateInput{
		ExternalIdentityID: "idp|" + uuid.NewString(),
		Email:              "founder@acme.example",
	})
	require.NoError(t, err)
	group := "grp_1"
	linked, err := f.tenants.SetExternalIDs(context.Background(), created.ID, tenants.ExternalIDs{ConnectorGroupID: &group})
	require.NoError(t, err)
	return linked
}

func TestSetupCreatesUserAndConnectorOnce(t *testing.T) {
	f := newFixture(t)
	created := f.createTenant(t)

	result, err := f.svc.Setup(context.Background(), created.ID)
	require.NoError(t, err)

	require.Equal(t, 1, f.bank.usersCreated)
	require.Equal(t, 1, f.conn.created)
	require.Equal(t, "founder@acme.example", f.bank.lastIDHint)
	require.Equal(t, "grp_1", f.conn.lastCreate.GroupID)
	require.Equal(t, true, f.conn.lastCreate.Config["use_sandbox"])
	require.Equal(t, created.ID.String(), f.conn.lastCreate.Config["external_user_id"])
	require.Contains(t, result.LinkURL, "code=code_1")
	require.Contains(t, result.LinkURL, "market=SE")
	require.NotNil(t, result.Tenant.BankLinkUserID)
	require.NotNil(t, result.Tenant.BankLinkConnectorID)

	// Re-running reuses both resources but issues a fresh code.
	again, err := f.svc.Setup(context.Background(), created.ID)
	require.NoError(t, err)
	require.Equal(t, 1, f.bank.usersCreated)
	require.Equal(t, 1, f.conn.created)
	require.Contains(t, again.LinkURL, "code=code_2")
}

func TestSetupRequiresConnectorGroup(t *testing.T) {
	f := newFixture(t)
	created, err := f.tenants.Create(context.Background(), tenants.CreateInput{
		ExternalIdentityID: "idp|" + uuid.NewString(),
		Email:              "founder@acme.example",
	})
	require.NoError(t, err)

	_, err = f.svc.Setup(context.Background(), created.ID)
	require.ErrorIs(t, err, tenants.ErrValidation)

	// Nothing was created upstream before the rejection.
	require.Equal(t, 0, f.bank.usersCreated)
	require.Equal(t, 0, f.conn.created)

	after, err := f.tenants.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	require.Nil(t, after.BankLinkUserID)
	require.Nil(t, after.BankLinkConnectorID)
}

func TestSetupUserFailureLeavesTenantUntouched(t *testing.T) {
	f := newFixture(t)
	created := f.createTenant(t)

	boom := errors.New("aggregator down")
	f.bank.failUser = boom
	_, err := f.svc.Setup(context.Background(), created.ID)
	require.ErrorIs(t, err, boom)

	after, err := f.tenants.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	require.Nil(t, after.BankLinkUserID)
	require.Nil(t, after.BankLinkConnectorID)
}

func TestActivateSwitchesOffSandboxAndSyncs(t *testing.T) {
	f := newFixture(t)
	created := f.createTenant(t)

	_, err := f.svc.Setup(context.Background(), created.ID)
	require.NoError(t, err)

	_, err = f.svc.Activate(context.Background(), created.ID)
	require.NoError(t, err)

	require.Equal(t, false, f.conn.lastUpdate["use_sandbox"])
	require.Equal(t, created.ID.String(), f.conn.lastUpdate["external_user_id"])
	require.Equal(t, []string{"bankcon_1"}, f.conn.syncs)
}

func TestActivateBeforeSetup(t *testing.T) {
	f := newFixture(t)
	created := f.createTenant(t)

	_, err := f.svc.Activate(context.Background(), created.ID)
	require.ErrorIs(t, err, banklink.ErrNotLinked)
}

func TestSetupUnknownTenant(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Setup(context.Background(), uuid.New())
	require.ErrorIs(t, err, tenants.ErrNotFound)
}
