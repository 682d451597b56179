package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	tenants "github.com/arcims/arcims-platform/domains/tenants/be/service"
	"github.com/arcims/arcims-platform/platform/go/metrics"
)

// Errors returned by the ingester.
var (
	ErrBadPayload   = errors.New("malformed webhook payload")
	ErrBadSignature = errors.New("webhook signature mismatch")
)

// Ack statuses returned to the sender. Deliveries are at-least-once and may
// arrive out of order; every status is a 2xx so the sender stops retrying.
const (
	AckIgnored      = "ignored"
	AckProcessed    = "processed"
	AckAcknowledged = "acknowledged"
)

// Ack is the response body for a webhook delivery.
type Ack struct {
	Status string `json:"status"`
}

// SyncEvent is a sync-status delivery from the connector service. The
// connector id and status block arrive nested under data.
type SyncEvent struct {
	Event string `json:"event"`
	Data  struct {
		ID     string `json:"id"`
		Status struct {
			SyncState        string `json:"sync_state"`
			IsHistoricalSync bool   `json:"is_historical_sync"`
		} `json:"status"`
		SucceededAt *time.Time `json:"succeeded_at"`
		FailedAt    *time.Time `json:"failed_at"`
	} `json:"data"`
}

// IdentityEvent is a user-lifecycle delivery from the identity provider.
type IdentityEvent struct {
	Event string `json:"event"`
	User  struct {
		ID    string `json:"id"`
		Email string `json:"email"`
		Name  string `json:"name"`
	} `json:"user"`
}

// Config carries the shared secrets used to verify delivery signatures. An
// empty secret disables verification for that channel.
type Config struct {
	SyncSecret     string
	IdentitySecret string
}

// Ingester turns external webhook deliveries into tenant state transitions.
// It is the only component that moves tenants to the terminal state.
type Ingester struct {
	tenants *tenants.Service
	cfg     Config
	logger  *zap.Logger
}

// NewIngester constructs the webhook ingester.
func NewIngester(tenantSvc *tenants.Service, cfg Config, logger *zap.Logger) *Ingester {
	if tenantSvc == nil {
		panic("tenants service is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingester{tenants: tenantSvc, cfg: cfg, logger: logger}
}

// IngestSync processes one sync-status delivery. A connector id that resolves
// to no tenant is acknowledged as ignored rather than erroring, since group
// webhooks can carry events for connectors this system never created.
func (i *Ingester) IngestSync(ctx context.Context, body []byte, signature string) (Ack, error) {
	if err := verifySignature(i.cfg.SyncSecret, body, signature); err != nil {
		return Ack{}, err
	}

	var event SyncEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return Ack{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if event.Data.ID == "" {
		return Ack{}, fmt.Errorf("%w: missing data.id", ErrBadPayload)
	}

	t, err := i.tenants.GetByConnectorID(ctx, event.Data.ID)
	if errors.Is(err, tenants.ErrNotFound) {
		i.logger.Debug("sync event for unknown connector",
			zap.String("connector_id", event.Data.ID),
			zap.String("event", event.Event))
		return i.ack(AckIgnored), nil
	}
	if err != nil {
		return Ack{}, err
	}

	switch {
	case event.Event == "sync_start":
		if _, err := i.tenants.Advance(ctx, t.ID, tenants.StateSyncing); err != nil {
			return Ack{}, err
		}
		return i.ack(AckAcknowledged), nil

	case isInitialSyncComplete(event):
		alreadyReady := t.DataReady
		if _, err := i.tenants.MarkDataReady(ctx, t.ID); err != nil {
			return Ack{}, err
		}
		if !alreadyReady {
			metrics.TenantsReady.Inc()
			i.logger.Info("tenant data ready",
				zap.String("tenant_id", t.ID.String()),
				zap.String("connector_id", event.Data.ID))
		}
		return i.ack(AckProcessed), nil

	default:
		// Failed syncs, incremental completions and unknown event types are
		// accepted without a state change.
		return i.ack(AckAcknowledged), nil
	}
}

// IngestIdentity processes one identity-provider delivery, registering a
// tenant when a new user appears. Duplicate deliveries are ignored.
func (i *Ingester) IngestIdentity(ctx context.Context, body []byte, signature string) (Ack, error) {
	if err := verifySignature(i.cfg.IdentitySecret, body, signature); err != nil {
		return Ack{}, err
	}

	var event IdentityEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return Ack{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	if event.Event != "user.created" {
		return i.ack(AckAcknowledged), nil
	}
	if event.User.ID == "" || event.User.Email == "" {
		return Ack{}, fmt.Errorf("%w: user id and email are required", ErrBadPayload)
	}

	input := tenants.CreateInput{
		ExternalIdentityID: event.User.ID,
		Email:              event.User.Email,
	}
	if name := strings.TrimSpace(event.User.Name); name != "" {
		input.CompanyName = &name
	}

	created, err := i.tenants.Create(ctx, input)
	if errors.Is(err, tenants.ErrConflict) {
		return i.ack(AckIgnored), nil
	}
	if err != nil {
		return Ack{}, err
	}

	i.logger.Info("tenant registered from identity event",
		zap.String("tenant_id", created.ID.String()),
		zap.String("external_identity_id", created.ExternalIdentityID))
	return i.ack(AckProcessed), nil
}

// isInitialSyncComplete reports whether a delivery confirms the first full
// historical sync. Only this combination may move a tenant to the terminal
// state; incremental syncs and failures never do.
func isInitialSyncComplete(event SyncEvent) bool {
	return event.Event == "sync_end" &&
		event.Data.SucceededAt != nil &&
		event.Data.Status.IsHistoricalSync
}

func (i *Ingester) ack(status string) Ack {
	metrics.WebhookEvents.WithLabelValues(status).Inc()
	return Ack{Status: status}
}

// verifySignature checks the hex HMAC-SHA256 of the raw body against the
// delivered signature. Verification is skipped when no secret is configured.
func verifySignature(secret string, body []byte, signature string) error {
	if secret == "" {
		return nil
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(signature))) {
		return ErrBadSignature
	}
	return nil
}
