package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/arcims/arcims-platform/domains/webhooks/be/service"
	"github.com/arcims/arcims-platform/platform/go/httpjson"
)

// Signature headers checked on incoming deliveries.
const (
	syncSignatureHeader     = "X-Fivetran-Signature-256"
	identitySignatureHeader = "X-Webhook-Signature"
)

const maxDeliveryBytes = 1 << 20

// Handler receives external webhook deliveries.
type Handler struct {
	ingester *service.Ingester
	logger   *zap.Logger
}

// NewHandler constructs the webhooks handler.
func NewHandler(ingester *service.Ingester, logger *zap.Logger) *Handler {
	if ingester == nil {
		panic("webhook ingester is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{ingester: ingester, logger: logger}
}

// Mount registers the webhook routes on the given router.
func (h *Handler) Mount(r chi.Router) {
	r.Post("/api/webhooks/sync-status", h.syncStatus)
	r.Post("/api/webhooks/identity", h.identity)
}

func (h *Handler) syncStatus(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxDeliveryBytes))
	if err != nil {
		httpjson.WriteError(w, http.StatusBadRequest, "unreadable delivery body")
		return
	}

	ack, err := h.ingester.IngestSync(r.Context(), body, r.Header.Get(syncSignatureHeader))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	httpjson.Write(w, http.StatusOK, ack)
}

func (h *Handler) identity(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxDeliveryBytes))
	if err != nil {
		httpjson.WriteError(w, http.StatusBadRequest, "unreadable delivery body")
		return
	}

	ack, err := h.ingester.IngestIdentity(r.Context(), body, r.Header.Get(identitySignatureHeader))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	httpjson.Write(w, http.StatusOK, ack)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrBadSignature):
		httpjson.WriteError(w, http.StatusUnauthorized, "signature mismatch")
	case errors.Is(err, service.ErrBadPayload):
		httpjson.WriteError(w, http.StatusBadRequest, "malformed payload")
	default:
		// A persistence failure must surface as 5xx so the sender redelivers.
		h.logger.Error("webhook processing failed", zap.String("path", r.URL.Path), zap.Error(err))
		httpjson.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
