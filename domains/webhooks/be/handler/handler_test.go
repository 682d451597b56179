package handler_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arcims/arcims-platform/domains/tenants/be/repo"
	tenants "github.com/arcims/arcims-platform/domains/tenants/be/service"
	"github.com/arcims/arcims-platform/domains/webhooks/be/handler"
	webhooks "github.com/arcims/arcims-platform/domains/webhooks/be/service"
)

func newServer(t *testing.T, secret string) (*httptest.Server, *tenants.Service) {
	t.Helper()

	tenantSvc := tenants.New(repo.NewMemoryRepository())
	ingester := webhooks.NewIngester(tenantSvc, webhooks.Config{SyncSecret: secret}, zap.NewNop())

	r := chi.NewRouter()
	handler.NewHandler(ingester, zap.NewNop()).Mount(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, tenantSvc
}

func linkConnector(t *testing.T, svc *tenants.Service, connectorID string) tenants.Tenant {
	t.Helper()
	created, err := svc.Create(context.Background(), tenants.CreateInput{
		ExternalIdentityID: "idp|" + uuid.NewString(),
		Email:              "founder@acme.example",
	})
	require.NoError(t, err)
	linked, err := svc.SetExternalIDs(context.Background(), created.ID, tenants.ExternalIDs{DataConnectorID: &connectorID})
	require.NoError(t, err)
	return linked
}

func deliver(t *testing.T, url string, body []byte, signature string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("X-Fivetran-Signature-256", signature)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func completionBody(t *testing.T, connectorID string) []byte {
	t.Helper()
	now := time.Now().UTC()
	body, err := json.Marshal(map[string]any{
		"event": "sync_end",
		"data": map[string]any{
			"id": connectorID,
			"status": map[string]any{
				"sync_state":         "scheduled",
				"is_historical_sync": true,
			},
			"succeeded_at": now,
		},
	})
	require.NoError(t, err)
	return body
}

func TestSyncDeliveryMarksTenantReady(t *testing.T) {
	srv, tenantSvc := newServer(t, "")
	created := linkConnector(t, tenantSvc, "con_1")

	resp := deliver(t, srv.URL+"/api/webhooks/sync-status", completionBody(t, "con_1"), "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var ack map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ack))
	resp.Body.Close()
	require.Equal(t, "processed", ack["status"])

	after, err := tenantSvc.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	require.True(t, after.DataReady)
}

func TestSyncDeliveryRejectsBadSignature(t *testing.T) {
	srv, tenantSvc := newServer(t, "s3cret")
	linkConnector(t, tenantSvc, "con_1")
	body := completionBody(t, "con_1")

	resp := deliver(t, srv.URL+"/api/webhooks/sync-status", body, "deadbeef")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write(body)
	resp = deliver(t, srv.URL+"/api/webhooks/sync-status", body, hex.EncodeToString(mac.Sum(nil)))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestSyncDeliveryMalformedBody(t *testing.T) {
	srv, _ := newServer(t, "")

	resp := deliver(t, srv.URL+"/api/webhooks/sync-status", []byte("not json"), "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestIdentityDeliveryCreatesTenant(t *testing.T) {
	srv, tenantSvc := newServer(t, "")

	body, err := json.Marshal(map[string]any{
		"event": "user.created",
		"user":  map[string]any{"id": "idp|from-webhook", "email": "new@acme.example"},
	})
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/api/webhooks/identity", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	created, err := tenantSvc.GetByExternalIdentity(context.Background(), "idp|from-webhook")
	require.NoError(t, err)
	require.Equal(t, tenants.StatePending, created.State)
}
