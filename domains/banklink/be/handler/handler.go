package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arcims/arcims-platform/domains/banklink/be/service"
	tenants "github.com/arcims/arcims-platform/domains/tenants/be/service"
	"github.com/arcims/arcims-platform/platform/go/fivetran"
	"github.com/arcims/arcims-platform/platform/go/httpjson"
	"github.com/arcims/arcims-platform/platform/go/tink"
)

// Handler exposes bank-link setup and activation over HTTP.
type Handler struct {
	svc    *service.Service
	logger *zap.Logger
}

// NewHandler constructs the bank-link handler.
func NewHandler(svc *service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("banklink service is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// Mount registers the bank-link routes on the given router.
func (h *Handler) Mount(r chi.Router) {
	r.Post("/api/banklink/setup/{tenantID}", h.setup)
	r.Post("/api/banklink/activate/{tenantID}", h.activate)
}

type setupResponse struct {
	TenantID        string `json:"tenant_id"`
	BankLinkUserID  string `json:"bank_link_user_id"`
	BankConnectorID string `json:"bank_link_connector_id"`
	LinkURL         string `json:"link_url"`
}

type activateResponse struct {
	TenantID        string `json:"tenant_id"`
	BankConnectorID string `json:"bank_link_connector_id"`
	SyncTriggered   bool   `json:"sync_triggered"`
}

func (h *Handler) setup(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "tenantID"))
	if err != nil {
		httpjson.WriteError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}

	result, err := h.svc.Setup(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	httpjson.Write(w, http.StatusOK, setupResponse{
		TenantID:        result.Tenant.ID.String(),
		BankLinkUserID:  *result.Tenant.BankLinkUserID,
		BankConnectorID: *result.Tenant.BankLinkConnectorID,
		LinkURL:         result.LinkURL,
	})
}

func (h *Handler) activate(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "tenantID"))
	if err != nil {
		httpjson.WriteError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}

	t, err := h.svc.Activate(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	httpjson.Write(w, http.StatusOK, activateResponse{
		TenantID:        t.ID.String(),
		BankConnectorID: *t.BankLinkConnectorID,
		SyncTriggered:   true,
	})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var upstream *tink.UpstreamError
	var apiErr *fivetran.APIError
	switch {
	case errors.Is(err, tenants.ErrValidation):
		httpjson.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, tenants.ErrNotFound):
		httpjson.WriteError(w, http.StatusNotFound, "tenant not found")
	case errors.Is(err, service.ErrNotLinked):
		httpjson.WriteError(w, http.StatusConflict, "bank link not set up yet")
	case errors.As(err, &upstream):
		h.logger.Warn("aggregator rejected request",
			zap.String("path", r.URL.Path),
			zap.Int("upstream_status", upstream.StatusCode),
			zap.Error(err))
		httpjson.WriteError(w, http.StatusBadGateway, "bank aggregator error")
	case errors.As(err, &apiErr):
		h.logger.Warn("connector service rejected request",
			zap.String("path", r.URL.Path),
			zap.Int("upstream_status", apiErr.StatusCode),
			zap.Error(err))
		httpjson.WriteError(w, http.StatusBadGateway, "connector service error")
	default:
		h.logger.Error("bank link request failed", zap.String("path", r.URL.Path), zap.Error(err))
		httpjson.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
