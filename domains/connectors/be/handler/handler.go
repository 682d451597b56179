package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arcims/arcims-platform/domains/connectors/be/service"
	tenants "github.com/arcims/arcims-platform/domains/tenants/be/service"
	"github.com/arcims/arcims-platform/platform/go/fivetran"
	"github.com/arcims/arcims-platform/platform/go/httpjson"
)

// Handler exposes connector setup and status over HTTP.
type Handler struct {
	svc    *service.Service
	logger *zap.Logger
}

// NewHandler constructs the connectors handler.
func NewHandler(svc *service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("connectors service is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// Mount registers the connector routes on the given router.
func (h *Handler) Mount(r chi.Router) {
	r.Post("/api/connectors/setup/{tenantID}", h.setup)
	r.Get("/api/connectors/status/{tenantID}", h.status)
}

type setupResponse struct {
	TenantID        string  `json:"tenant_id"`
	OnboardingState string  `json:"onboarding_state"`
	GroupID         string  `json:"group_id"`
	DestinationID   string  `json:"destination_id"`
	ConnectorID     string  `json:"connector_id"`
	ConnectCardURI  *string `json:"connect_card_uri"`
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
		OnboardingState: string(result.Tenant.State),
		GroupID:         *result.Tenant.ConnectorGroupID,
		DestinationID:   *result.Tenant.DestinationID,
		ConnectorID:     *result.Tenant.DataConnectorID,
		ConnectCardURI:  result.ConnectCardURI,
	})
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "tenantID"))
	if err != nil {
		httpjson.WriteError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}

	snap, err := h.svc.Status(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	httpjson.Write(w, http.StatusOK, snap)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *fivetran.APIError
	switch {
	case errors.Is(err, tenants.ErrValidation):
		httpjson.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, tenants.ErrNotFound):
		httpjson.WriteError(w, http.StatusNotFound, "tenant not found")
	case errors.Is(err, service.ErrNotProvisioned):
		httpjson.WriteError(w, http.StatusConflict, "data connector not provisioned yet")
	case errors.As(err, &apiErr):
		h.logger.Warn("connector service rejected request",
			zap.String("path", r.URL.Path),
			zap.Int("upstream_status", apiErr.StatusCode),
			zap.Error(err))
		httpjson.WriteError(w, http.StatusBadGateway, "connector service error")
	default:
		h.logger.Error("connector request failed", zap.String("path", r.URL.Path), zap.Error(err))
		httpjson.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
