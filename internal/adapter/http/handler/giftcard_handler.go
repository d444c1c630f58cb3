package handler

import (
	"giftcard-ledger/internal/adapter/http/dto"
	"giftcard-ledger/internal/core/domain"
	"giftcard-ledger/internal/core/ports"
	"giftcard-ledger/pkg/apperror"
	"giftcard-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// GiftCardHandler handles gift card issue, lookup, redeem and refund.
type GiftCardHandler struct {
	ledgerSvc ports.LedgerService
}

// NewGiftCardHandler creates a new GiftCardHandler.
func NewGiftCardHandler(ledgerSvc ports.LedgerService) *GiftCardHandler {
	return &GiftCardHandler{ledgerSvc: ledgerSvc}
}

// Issue handles POST /api/v1/giftcards.
func (h *GiftCardHandler) Issue(c *gin.Context) {
	merchantID, ok := merchantFromContext(c)
	if !ok {
		return
	}

	var req dto.IssueGiftCardsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	allowPartial := true
	if req.AllowPartialRedemption != nil {
		allowPartial = *req.AllowPartialRedemption
	}

	cards, err := h.ledgerSvc.Issue(c.Request.Context(), ports.IssueInput{
		MerchantID:             merchantID,
		Value:                  req.Value,
		Currency:               req.Currency,
		AllowPartialRedemption: allowPartial,
		ExpiryDate:             req.ExpiryDate,
		Count:                  req.Count,
		Prepaid:                req.Prepaid,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.IssueGiftCardsResponse{GiftCards: cards})
}

// Get handles GET /api/v1/giftcards/:id.
func (h *GiftCardHandler) Get(c *gin.Context) {
	merchantID, ok := merchantFromContext(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	card, err := h.ledgerSvc.Get(c.Request.Context(), merchantID, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, card)
}

// GetByCode handles GET /api/v1/giftcards?code=GC-XXXX-XXXX-XXXX.
func (h *GiftCardHandler) GetByCode(c *gin.Context) {
	merchantID, ok := merchantFromContext(c)
	if !ok {
		return
	}
	code := c.Query("code")
	if code == "" {
		response.Error(c, apperror.Validation("code query parameter is required"))
		return
	}

	card, err := h.ledgerSvc.GetByCode(c.Request.Context(), merchantID, code)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, card)
}

// ListTransactions handles GET /api/v1/giftcards/:id/transactions.
func (h *GiftCardHandler) ListTransactions(c *gin.Context) {
	merchantID, ok := merchantFromContext(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	txns, err := h.ledgerSvc.ListTransactions(c.Request.Context(), merchantID, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, response.ListResponse{
		Items: txns,
		Total: int64(len(txns)),
		Limit: len(txns),
	})
}

// Redeem handles POST /api/v1/giftcards/:id/redeem.
func (h *GiftCardHandler) Redeem(c *gin.Context) {
	merchantID, ok := merchantFromContext(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req dto.RedeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	result, err := h.ledgerSvc.Redeem(c.Request.Context(), ports.RedeemInput{
		GiftCardID: id,
		MerchantID: merchantID,
		Amount:     req.Amount,
		Method:     domain.RedemptionMethod(req.Method),
		Actor:      req.Actor,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, result)
}

// Refund handles POST /api/v1/giftcards/:id/refund.
func (h *GiftCardHandler) Refund(c *gin.Context) {
	merchantID, ok := merchantFromContext(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req dto.GiftCardRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)
	if (req.RedemptionID == "") == (req.PaymentID == "") {
		response.Error(c, apperror.Validation("exactly one of redemption_id and payment_id is required"))
		return
	}

	txn, err := h.ledgerSvc.Refund(c.Request.Context(), ports.RefundInput{
		GiftCardID:   id,
		MerchantID:   merchantID,
		PaymentID:    optionalUUID(req.PaymentID),
		RedemptionID: optionalUUID(req.RedemptionID),
		Amount:       req.Amount,
		Description:  req.Description,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, txn)
}

// Audit handles GET /api/v1/admin/giftcards/:id/audit.
func (h *GiftCardHandler) Audit(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	report, err := h.ledgerSvc.Audit(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, report)
}
