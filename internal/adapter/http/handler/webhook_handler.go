package handler

import (
	"io"

	"giftcard-ledger/internal/core/domain"
	"giftcard-ledger/internal/core/ports"
	"giftcard-ledger/pkg/apperror"
	"giftcard-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// WebhookHandler receives gateway callbacks. The body is read raw because
// signatures are computed over the exact bytes sent.
type WebhookHandler struct {
	reconciler ports.ReconcilerService
	log        zerolog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(reconciler ports.ReconcilerService, log zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{reconciler: reconciler, log: log}
}

// Receive handles POST /webhooks/:provider/:gatewayId.
func (h *WebhookHandler) Receive(c *gin.Context) {
	provider, ok := domain.ParseProvider(c.Param("provider"))
	if !ok {
		response.Error(c, apperror.ErrNotFound("webhook endpoint"))
		return
	}
	gatewayID, err := uuid.Parse(c.Param("gatewayId"))
	if err != nil {
		response.Error(c, apperror.ErrNotFound("webhook endpoint"))
		return
	}

	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.Error(c, apperror.Validation("unreadable webhook body"))
		return
	}

	outcome, err := h.reconciler.HandleWebhook(c.Request.Context(), provider, gatewayID, payload, c.Request.Header)
	if err != nil {
		h.log.Warn().Err(err).
			Str("provider", string(provider)).
			Str("gateway_id", gatewayID.String()).
			Msg("webhook rejected")
		response.Error(c, err)
		return
	}

	h.log.Debug().
		Str("provider", string(provider)).
		Str("gateway_id", gatewayID.String()).
		Str("outcome", string(outcome)).
		Msg("webhook received")
	response.Received(c)
}
