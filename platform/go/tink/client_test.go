package tink

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(Config{
		BaseURL:       server.URL,
		LinkBaseURL:   "https://link.example/connect",
		ClientID:      "client-id",
		ClientSecret:  "client-secret",
		ActorClientID: "actor-id",
	})
}

func TestCreateUserExchangesTokenFirst(t *testing.T) {
	var sawToken bool
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/token":
			require.NoError(t, r.ParseForm())
			require.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
			require.Equal(t, "user:create", r.PostForm.Get("scope"))
			require.Equal(t, "client-id", r.PostForm.Get("client_id"))
			sawToken = true
			_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "tok-123"})
		case "/user/create":
			require.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Equal(t, "tenant-1", body["external_user_id"])
			require.Equal(t, "SE", body["market"])
			_ = json.NewEncoder(w).Encode(map[string]string{"user_id": "agg-user-1"})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})

	user, err := client.CreateUser(context.Background(), "tenant-1", "SE", "en_US")
	require.NoError(t, err)
	require.True(t, sawToken)
	require.Equal(t, "agg-user-1", user.UserID)
}

func TestAuthorizationCodeDelegatesWithHint(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/token":
			require.NoError(t, r.ParseForm())
			require.Equal(t, "authorization:grant", r.PostForm.Get("scope"))
			_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "tok-grant"})
		case "/oauth/authorization-grant/delegate":
			require.Equal(t, "Bearer tok-grant", r.Header.Get("Authorization"))
			require.NoError(t, r.ParseForm())
			require.Equal(t, "code", r.PostForm.Get("response_type"))
			require.Equal(t, "actor-id", r.PostForm.Get("actor_client_id"))
			require.Equal(t, "tenant-1", r.PostForm.Get("external_user_id"))
			require.Equal(t, "owner@acme.example", r.PostForm.Get("id_hint"))
			require.Equal(t, DelegateScope, r.PostForm.Get("scope"))
			_ = json.NewEncoder(w).Encode(map[string]string{"code": "auth-code-1"})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})

	code, err := client.AuthorizationCode(context.Background(), "tenant-1", "owner@acme.example")
	require.NoError(t, err)
	require.Equal(t, "auth-code-1", code)
}

func TestAuthorizationCodeFallsBackToExternalID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/token":
			_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "tok"})
		case "/oauth/authorization-grant/delegate":
			require.NoError(t, r.ParseForm())
			require.Equal(t, "tenant-1", r.PostForm.Get("id_hint"))
			_ = json.NewEncoder(w).Encode(map[string]string{"code": "c"})
		}
	})

	_, err := client.AuthorizationCode(context.Background(), "tenant-1", "")
	require.NoError(t, err)
}

func TestUpstreamErrorSurfacesStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"errorMessage":"invalid scope"}`, http.StatusForbidden)
	})

	_, err := client.ClientAccessToken(context.Background(), "user:create")
	require.Error(t, err)

	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream)
	require.Equal(t, http.StatusForbidden, upstream.StatusCode)
}

func TestLinkURL(t *testing.T) {
	client := NewClient(Config{ClientID: "client-id"})
	link := client.LinkURL("auth-code-1", "https://app.example/onboarding/bank-complete", "SE")

	parsed, err := url.Parse(link)
	require.NoError(t, err)
	q := parsed.Query()
	require.Equal(t, "client-id", q.Get("client_id"))
	require.Equal(t, "auth-code-1", q.Get("authorization_code"))
	require.Equal(t, "https://app.example/onboarding/bank-complete", q.Get("redirect_uri"))
	require.Equal(t, "SE", q.Get("market"))
}
