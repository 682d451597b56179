package tink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL points at the hosted aggregator API.
const DefaultBaseURL = "https://api.tink.com/api/v1"

// DefaultLinkBaseURL is the hosted bank-link frontend.
const DefaultLinkBaseURL = "https://link.tink.com/1.0/business-transactions/connect-accounts"

// DelegateScope is the scope set granted to the link actor on behalf of the
// tenant's aggregator user.
const DelegateScope = "authorization:read,authorization:grant,credentials:refresh,credentials:read,credentials:write,providers:read,user:read"

// Config carries connection settings for the aggregator client.
type Config struct {
	BaseURL     string
	LinkBaseURL string
	// ClientID and ClientSecret identify this backend to the aggregator.
	ClientID     string
	ClientSecret string
	// ActorClientID is the public client id of the hosted link frontend that
	// acts on the user's behalf during the delegated grant.
	ActorClientID string
	HTTPClient    *http.Client
}

// Client performs the multi-step token exchange against the bank-data
// aggregator: client token, user creation, delegated authorization code.
type Client struct {
	baseURL       string
	linkBaseURL   string
	clientID      string
	clientSecret  string
	actorClientID string
	http          *http.Client
}

// NewClient constructs a Client from config.
func NewClient(cfg Config) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	link := cfg.LinkBaseURL
	if link == "" {
		link = DefaultLinkBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:       base,
		linkBaseURL:   link,
		clientID:      cfg.ClientID,
		clientSecret:  cfg.ClientSecret,
		actorClientID: cfg.ActorClientID,
		http:          httpClient,
	}
}

// User is an aggregator-side user owned by one tenant.
type User struct {
	UserID string `json:"user_id"`
}

// UpstreamError is a non-2xx response from the aggregator.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("aggregator returned %d: %s", e.StatusCode, e.Body)
}

// ClientAccessToken obtains a client-credentials token for backend operations.
func (c *Client) ClientAccessToken(ctx context.Context, scope string) (string, error) {
	form := url.Values{
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"grant_type":    {"client_credentials"},
		"scope":         {scope},
	}

	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := c.postForm(ctx, "/oauth/token", "", form, &out); err != nil {
		return "", fmt.Errorf("client access token: %w", err)
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("client access token: empty token in response")
	}
	return out.AccessToken, nil
}

// CreateUser creates the aggregator user for a tenant. The tenant id is used
// as the external user id so later calls need no stored mapping.
func (c *Client) CreateUser(ctx context.Context, externalUserID, market, locale string) (User, error) {
	token, err := c.ClientAccessToken(ctx, "user:create")
	if err != nil {
		return User{}, err
	}

	payload, err := json.Marshal(map[string]string{
		"external_user_id": externalUserID,
		"market":           market,
		"locale":           locale,
	})
	if err != nil {
		return User{}, fmt.Errorf("encode user payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/user/create", strings.NewReader(string(payload)))
	if err != nil {
		return User{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	var out User
	if err := c.doJSON(req, &out); err != nil {
		return User{}, fmt.Errorf("create user: %w", err)
	}
	return out, nil
}

// AuthorizationCode obtains a delegated authorization code the link frontend
// exchanges on the user's behalf. idHint is shown to the user during the
// flow, typically their email.
func (c *Client) AuthorizationCode(ctx context.Context, externalUserID, idHint string) (string, error) {
	token, err := c.ClientAccessToken(ctx, "authorization:grant")
	if err != nil {
		return "", err
	}

	if idHint == "" {
		idHint = externalUserID
	}

	form := url.Values{
		"response_type":    {"code"},
		"actor_client_id":  {c.actorClientID},
		"external_user_id": {externalUserID},
		"id_hint":          {idHint},
		"scope":            {DelegateScope},
	}

	var out struct {
		Code string `json:"code"`
	}
	if err := c.postForm(ctx, "/oauth/authorization-grant/delegate", token, form, &out); err != nil {
		return "", fmt.Errorf("authorization code: %w", err)
	}
	if out.Code == "" {
		return "", fmt.Errorf("authorization code: empty code in response")
	}
	return out.Code, nil
}

// LinkURL builds the user-facing bank-link URL for an authorization code.
func (c *Client) LinkURL(authorizationCode, redirectURI, market string) string {
	q := url.Values{
		"client_id":          {c.clientID},
		"authorization_code": {authorizationCode},
		"redirect_uri":       {redirectURI},
		"market":             {market},
	}
	return c.linkBaseURL + "?" + q.Encode()
}

func (c *Client) postForm(ctx context.Context, path, bearer string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return c.doJSON(req, out)
}

func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &UpstreamError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
