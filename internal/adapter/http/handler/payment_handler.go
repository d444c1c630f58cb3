package handler

import (
	"giftcard-ledger/internal/adapter/http/dto"
	"giftcard-ledger/internal/core/domain"
	"giftcard-ledger/internal/core/ports"
	"giftcard-ledger/pkg/apperror"
	"giftcard-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// PaymentHandler handles gift card purchase endpoints.
type PaymentHandler struct {
	paymentSvc ports.PaymentService
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(paymentSvc ports.PaymentService) *PaymentHandler {
	return &PaymentHandler{paymentSvc: paymentSvc}
}

// CreateIntent handles POST /api/v1/payments/intents.
func (h *PaymentHandler) CreateIntent(c *gin.Context) {
	merchantID, ok := merchantFromContext(c)
	if !ok {
		return
	}

	var req dto.CreateIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	result, err := h.paymentSvc.CreateIntent(c.Request.Context(), ports.CreateIntentInput{
		MerchantID: merchantID,
		GiftCardID: uuid.MustParse(req.GiftCardID),
		Amount:     req.Amount,
		Currency:   req.Currency,
		Method:     domain.Provider(req.Method),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Confirm handles POST /api/v1/payments/:id/confirm.
func (h *PaymentHandler) Confirm(c *gin.Context) {
	merchantID, ok := merchantFromContext(c)
	if !ok {
		return
	}
	paymentID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req dto.ConfirmPaymentRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, apperror.Validation(err.Error()))
			return
		}
	}

	payment, err := h.paymentSvc.Confirm(c.Request.Context(), merchantID, paymentID, req.Proof)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, payment)
}

// Refund handles POST /api/v1/payments/:id/refund.
func (h *PaymentHandler) Refund(c *gin.Context) {
	merchantID, ok := merchantFromContext(c)
	if !ok {
		return
	}
	paymentID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req dto.PaymentRefundRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, apperror.Validation(err.Error()))
			return
		}
	}

	result, err := h.paymentSvc.Refund(c.Request.Context(), merchantID, paymentID, req.Amount)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, result)
}

// Get handles GET /api/v1/payments/:id.
func (h *PaymentHandler) Get(c *gin.Context) {
	merchantID, ok := merchantFromContext(c)
	if !ok {
		return
	}
	paymentID, ok := pathID(c, "id")
	if !ok {
		return
	}

	payment, err := h.paymentSvc.Get(c.Request.Context(), merchantID, paymentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, payment)
}
