package handler

import (
	"giftcard-ledger/internal/adapter/http/dto"
	"giftcard-ledger/internal/core/domain"
	"giftcard-ledger/internal/core/ports"
	"giftcard-ledger/pkg/apperror"
	"giftcard-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// MerchantHandler handles merchant profile and gateway credential endpoints.
type MerchantHandler struct {
	merchantSvc ports.MerchantService
}

// NewMerchantHandler creates a new merchant handler.
func NewMerchantHandler(merchantSvc ports.MerchantService) *MerchantHandler {
	return &MerchantHandler{merchantSvc: merchantSvc}
}

// GetProfile handles GET /api/v1/merchants/me.
func (h *MerchantHandler) GetProfile(c *gin.Context) {
	merchantID, ok := merchantFromContext(c)
	if !ok {
		return
	}

	merchant, err := h.merchantSvc.GetMerchant(c.Request.Context(), merchantID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, merchant)
}

// ListGateways handles GET /api/v1/gateways. Credentials are never serialized.
func (h *MerchantHandler) ListGateways(c *gin.Context) {
	merchantID, ok := merchantFromContext(c)
	if !ok {
		return
	}

	gateways, err := h.merchantSvc.ListGateways(c.Request.Context(), merchantID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gateways)
}

// PutGateway handles PUT /api/v1/gateways/:provider.
func (h *MerchantHandler) PutGateway(c *gin.Context) {
	merchantID, ok := merchantFromContext(c)
	if !ok {
		return
	}
	provider, ok := domain.ParseProvider(c.Param("provider"))
	if !ok {
		response.Error(c, apperror.Validation("provider must be one of STRIPE, PAYPAL, RAZORPAY"))
		return
	}

	var req dto.GatewayCredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	gateway, err := h.merchantSvc.PutGateway(c.Request.Context(), ports.GatewayCredentialsInput{
		MerchantID: merchantID,
		Provider:   provider,
		AccountID:  req.AccountID,
		Credentials: ports.Credentials{
			KeyID:         req.KeyID,
			SecretKey:     req.SecretKey,
			WebhookSecret: req.WebhookSecret,
			WebhookID:     req.WebhookID,
			AccountID:     req.AccountID,
		},
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gateway)
}

// CreateMerchant handles POST /api/v1/admin/merchants.
func (h *MerchantHandler) CreateMerchant(c *gin.Context) {
	var req dto.CreateMerchantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	merchant, token, err := h.merchantSvc.CreateMerchant(c.Request.Context(), req.Name, req.Currency)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, dto.CreateMerchantResponse{Merchant: merchant, Token: token})
}

// SetGatewayStatus handles PUT /api/v1/admin/gateways/:id/status.
func (h *MerchantHandler) SetGatewayStatus(c *gin.Context) {
	gatewayID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req dto.GatewayStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	gateway, err := h.merchantSvc.SetGatewayStatus(c.Request.Context(), gatewayID, domain.VerificationStatus(req.Status), *req.Active)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gateway)
}
