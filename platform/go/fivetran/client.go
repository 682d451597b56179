package fivetran

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultBaseURL points at the hosted connector-service API.
const DefaultBaseURL = "https://api.fivetran.com/v1"

// Config carries the connection settings for the connector-service client.
type Config struct {
	// BaseURL overrides the API endpoint; tests point it at a local server.
	BaseURL string
	// AuthToken is the pre-encoded basic auth token (base64 of key:secret).
	AuthToken string
	// HTTPClient overrides the transport; nil gets a sane default timeout.
	HTTPClient *http.Client
}

// Client is a thin REST client for the connector service. All calls are
// request/response; retry policy belongs to the caller.
type Client struct {
	baseURL   string
	authToken string
	http      *http.Client
}

// NewClient constructs a Client from config.
func NewClient(cfg Config) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: base, authToken: cfg.AuthToken, http: httpClient}
}

// Group is a logical grouping of connectors sharing one destination.
type Group struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Destination is the warehouse target attached to a group.
type Destination struct {
	ID      string `json:"id"`
	GroupID string `json:"group_id"`
	Service string `json:"service"`
}

// ConnectorStatus is the live status block of a connector.
type ConnectorStatus struct {
	SetupState       string `json:"setup_state"`
	SyncState        string `json:"sync_state"`
	IsHistoricalSync bool   `json:"is_historical_sync"`
}

// ConnectCard carries the user-facing authorization hand-off.
type ConnectCard struct {
	Token string `json:"token"`
	URI   string `json:"uri"`
}

// Connector is a configured data-movement task.
type Connector struct {
	ID          string          `json:"id"`
	GroupID     string          `json:"group_id"`
	Service     string          `json:"service"`
	Schema      string          `json:"schema"`
	Status      ConnectorStatus `json:"status"`
	SucceededAt *time.Time      `json:"succeeded_at"`
	FailedAt    *time.Time      `json:"failed_at"`
	ConnectCard *ConnectCard    `json:"connect_card,omitempty"`
}

// Webhook is a registered event subscription for a group.
type Webhook struct {
	ID     string   `json:"id"`
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Active bool     `json:"active"`
}

// DestinationParams configures a new warehouse destination. The destination
// authenticates as the shared service identity; row scoping happens at query
// time through the tenant role.
type DestinationParams struct {
	GroupID        string         `json:"group_id"`
	Service        string         `json:"service"`
	TimeZoneOffset string         `json:"time_zone_offset"`
	RunSetupTests  bool           `json:"run_setup_tests"`
	Config         map[string]any `json:"config"`
}

// ConnectCardConfig configures the OAuth-style hand-off for a connector.
type ConnectCardConfig struct {
	RedirectURI    string `json:"redirect_uri"`
	HideSetupGuide bool   `json:"hide_setup_guide"`
}

// ConnectorParams configures a new data connector.
type ConnectorParams struct {
	GroupID           string             `json:"group_id"`
	Service           string             `json:"service"`
	TrustCertificates bool               `json:"trust_certificates"`
	TrustFingerprints bool               `json:"trust_fingerprints"`
	RunSetupTests     bool               `json:"run_setup_tests"`
	Paused            bool               `json:"paused"`
	SyncFrequency     int                `json:"sync_frequency"`
	ScheduleType      string             `json:"schedule_type"`
	ConnectCardConfig *ConnectCardConfig `json:"connect_card_config,omitempty"`
	Config            map[string]any     `json:"config"`
}

// APIError is a non-2xx response from the connector service.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("connector service returned %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

type envelope struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// CreateGroup creates a connector group.
func (c *Client) CreateGroup(ctx context.Context, name string) (Group, error) {
	var out Group
	err := c.do(ctx, http.MethodPost, "/groups", map[string]string{"name": name}, &out)
	return out, err
}

// CreateDestination attaches a warehouse destination to a group.
func (c *Client) CreateDestination(ctx context.Context, params DestinationParams) (Destination, error) {
	var out Destination
	err := c.do(ctx, http.MethodPost, "/destinations", params, &out)
	return out, err
}

// CreateConnector creates a data connector inside a group.
func (c *Client) CreateConnector(ctx context.Context, params ConnectorParams) (Connector, error) {
	var out Connector
	err := c.do(ctx, http.MethodPost, "/connectors", params, &out)
	return out, err
}

// GetConnector reads the live connector state; never cached.
func (c *Client) GetConnector(ctx context.Context, connectorID string) (Connector, error) {
	var out Connector
	err := c.do(ctx, http.MethodGet, "/connectors/"+connectorID, nil, &out)
	return out, err
}

// UpdateConnectorConfig patches connector configuration fields.
func (c *Client) UpdateConnectorConfig(ctx context.Context, connectorID string, config map[string]any) (Connector, error) {
	var out Connector
	err := c.do(ctx, http.MethodPatch, "/connectors/"+connectorID, map[string]any{"config": config}, &out)
	return out, err
}

// TriggerSync requests an immediate sync of the connector.
func (c *Client) TriggerSync(ctx context.Context, connectorID string) error {
	return c.do(ctx, http.MethodPost, "/connectors/"+connectorID+"/sync", map[string]any{}, nil)
}

// CreateGroupWebhook subscribes a delivery URL to the group's sync events.
// The secret is used by the service to sign each delivery.
func (c *Client) CreateGroupWebhook(ctx context.Context, groupID, url, secret string, events []string) (Webhook, error) {
	var out Webhook
	err := c.do(ctx, http.MethodPost, "/webhooks/group/"+groupID, map[string]any{
		"url":    url,
		"events": events,
		"active": true,
		"secret": secret,
	}, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Basic "+c.authToken)
	req.Header.Set("Accept", "application/json;version=2")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var env envelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil && resp.StatusCode < 300 {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Code: env.Code, Message: env.Message}
	}

	if out != nil {
		if len(env.Data) == 0 {
			return fmt.Errorf("%s %s: empty data payload", method, path)
		}
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode data payload: %w", err)
		}
	}
	return nil
}
