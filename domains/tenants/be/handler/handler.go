package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arcims/arcims-platform/domains/tenants/be/service"
	"github.com/arcims/arcims-platform/platform/go/httpjson"
)

// Handler exposes the tenant lifecycle over HTTP.
type Handler struct {
	svc    *service.Service
	logger *zap.Logger
}

// NewHandler constructs the tenant handler.
func NewHandler(svc *service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("tenants service is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// Mount registers the tenant routes on the given router.
func (h *Handler) Mount(r chi.Router) {
	r.Post("/api/tenants", h.create)
	r.Get("/api/tenants/{externalIdentityID}", h.getByExternalIdentity)
	r.Patch("/api/tenants/{tenantID}", h.patchCompanyName)
	r.Patch("/api/tenants/{tenantID}/state", h.patchState)
}

type createRequest struct {
	ExternalIdentityID string  `json:"external_identity_id"`
	Email              string  `json:"email"`
	CompanyName        *string `json:"company_name,omitempty"`
}

type patchCompanyNameRequest struct {
	CompanyName string `json:"company_name"`
}

type patchStateRequest struct {
	State string `json:"state"`
}

type tenantResponse struct {
	TenantID            string    `json:"tenant_id"`
	CompanyName         *string   `json:"company_name"`
	ExternalIdentityID  string    `json:"external_identity_id"`
	Email               string    `json:"email"`
	WarehouseRole       string    `json:"warehouse_role"`
	OnboardingState     string    `json:"onboarding_state"`
	DataReady           bool      `json:"data_ready"`
	ConnectorGroupID    *string   `json:"connector_group_id"`
	DestinationID       *string   `json:"destination_id"`
	DataConnectorID     *string   `json:"data_connector_id"`
	BankLinkUserID      *string   `json:"bank_link_user_id"`
	BankLinkConnectorID *string   `json:"bank_link_connector_id"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func toResponse(t service.Tenant) tenantResponse {
	return tenantResponse{
		TenantID:            t.ID.String(),
		CompanyName:         t.CompanyName,
		ExternalIdentityID:  t.ExternalIdentityID,
		Email:               t.Email,
		WarehouseRole:       t.WarehouseRole,
		OnboardingState:     string(t.State),
		DataReady:           t.DataReady,
		ConnectorGroupID:    t.ConnectorGroupID,
		DestinationID:       t.DestinationID,
		DataConnectorID:     t.DataConnectorID,
		BankLinkUserID:      t.BankLinkUserID,
		BankLinkConnectorID: t.BankLinkConnectorID,
		CreatedAt:           t.CreatedAt,
		UpdatedAt:           t.UpdatedAt,
	}
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpjson.Decode(r, &req); err != nil {
		httpjson.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	created, err := h.svc.Create(r.Context(), service.CreateInput{
		CompanyName:        req.CompanyName,
		ExternalIdentityID: req.ExternalIdentityID,
		Email:              req.Email,
	})
	if err != nil {
		h.writeServiceError(w, r, err, "create tenant")
		return
	}

	httpjson.Write(w, http.StatusCreated, toResponse(created))
}

func (h *Handler) getByExternalIdentity(w http.ResponseWriter, r *http.Request) {
	externalID := chi.URLParam(r, "externalIdentityID")

	t, err := h.svc.GetByExternalIdentity(r.Context(), externalID)
	if err != nil {
		h.writeServiceError(w, r, err, "get tenant")
		return
	}

	httpjson.Write(w, http.StatusOK, toResponse(t))
}

func (h *Handler) patchCompanyName(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "tenantID"))
	if err != nil {
		httpjson.WriteError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}

	var req patchCompanyNameRequest
	if err := httpjson.Decode(r, &req); err != nil {
		httpjson.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	t, err := h.svc.SetCompanyName(r.Context(), id, req.CompanyName)
	if err != nil {
		h.writeServiceError(w, r, err, "set company name")
		return
	}

	httpjson.Write(w, http.StatusOK, toResponse(t))
}

func (h *Handler) patchState(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "tenantID"))
	if err != nil {
		httpjson.WriteError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}

	var req patchStateRequest
	if err := httpjson.Decode(r, &req); err != nil {
		httpjson.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	t, err := h.svc.UpdateState(r.Context(), id, req.State)
	if err != nil {
		h.writeServiceError(w, r, err, "update tenant state")
		return
	}

	httpjson.Write(w, http.StatusOK, toResponse(t))
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error, op string) {
	switch {
	case errors.Is(err, service.ErrValidation), errors.Is(err, service.ErrInvalidState):
		httpjson.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrNotFound):
		httpjson.WriteError(w, http.StatusNotFound, "tenant not found")
	case errors.Is(err, service.ErrConflict):
		httpjson.WriteError(w, http.StatusConflict, "tenant already exists for external identity")
	case errors.Is(err, service.ErrInconsistent):
		httpjson.WriteError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("tenant request failed",
			zap.String("operation", op),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		httpjson.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
