package handler

import (
	"context"
	"time"

	"giftcard-ledger/internal/adapter/http/dto"
	"giftcard-ledger/internal/core/domain"
	"giftcard-ledger/internal/core/ports"
	"giftcard-ledger/pkg/apperror"
	"giftcard-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const defaultPayoutPageSize = 20

// PayoutHandler handles merchant payout endpoints and the operator payout
// controls under /admin.
type PayoutHandler struct {
	payoutSvc ports.PayoutService
}

// NewPayoutHandler creates a new PayoutHandler.
func NewPayoutHandler(payoutSvc ports.PayoutService) *PayoutHandler {
	return &PayoutHandler{payoutSvc: payoutSvc}
}

// Balance handles GET /api/v1/payouts/balance.
func (h *PayoutHandler) Balance(c *gin.Context) {
	merchantID, ok := merchantFromContext(c)
	if !ok {
		return
	}

	balance, err := h.payoutSvc.AvailableBalance(c.Request.Context(), merchantID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, balance)
}

// GetSettings handles GET /api/v1/payouts/settings.
func (h *PayoutHandler) GetSettings(c *gin.Context) {
	merchantID, ok := merchantFromContext(c)
	if !ok {
		return
	}

	settings, err := h.payoutSvc.GetSettings(c.Request.Context(), merchantID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, settings)
}

// UpdateSettings handles PUT /api/v1/payouts/settings.
func (h *PayoutHandler) UpdateSettings(c *gin.Context) {
	merchantID, ok := merchantFromContext(c)
	if !ok {
		return
	}

	var req dto.PayoutSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	settings, err := h.payoutSvc.UpdateSettings(c.Request.Context(), domain.PayoutSettings{
		MerchantID:      merchantID,
		MinimumAmount:   req.MinimumAmount,
		Schedule:        domain.PayoutSchedule(req.Schedule),
		PayoutMethod:    domain.PayoutMethod(req.PayoutMethod),
		PayoutAccountID: req.PayoutAccountID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, settings)
}

// Request handles POST /api/v1/payouts.
func (h *PayoutHandler) Request(c *gin.Context) {
	merchantID, ok := merchantFromContext(c)
	if !ok {
		return
	}

	var req dto.PayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	payout, err := h.payoutSvc.Request(c.Request.Context(), ports.PayoutRequestInput{
		MerchantID: merchantID,
		Amount:     req.Amount,
		Method:     domain.PayoutMethod(req.Method),
		AccountID:  req.AccountID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, payout)
}

// List handles GET /api/v1/payouts.
func (h *PayoutHandler) List(c *gin.Context) {
	merchantID, ok := merchantFromContext(c)
	if !ok {
		return
	}

	var q dto.PayoutListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	if q.Limit == 0 {
		q.Limit = defaultPayoutPageSize
	}

	params := ports.PayoutListParams{MerchantID: merchantID, Limit: q.Limit, Offset: q.Offset}
	if q.Status != "" {
		status := domain.PayoutStatus(q.Status)
		params.Status = &status
	}

	payouts, total, err := h.payoutSvc.List(c.Request.Context(), params)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, response.ListResponse{
		Items:  payouts,
		Total:  total,
		Limit:  q.Limit,
		Offset: q.Offset,
	})
}

// Get handles GET /api/v1/payouts/:id.
func (h *PayoutHandler) Get(c *gin.Context) {
	merchantID, ok := merchantFromContext(c)
	if !ok {
		return
	}
	payoutID, ok := pathID(c, "id")
	if !ok {
		return
	}

	payout, err := h.payoutSvc.Get(c.Request.Context(), merchantID, payoutID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, payout)
}

// Cancel handles POST /api/v1/payouts/:id/cancel.
func (h *PayoutHandler) Cancel(c *gin.Context) {
	merchantID, ok := merchantFromContext(c)
	if !ok {
		return
	}
	payoutID, ok := pathID(c, "id")
	if !ok {
		return
	}

	payout, err := h.payoutSvc.Cancel(c.Request.Context(), merchantID, payoutID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, payout)
}

// Process handles POST /api/v1/admin/payouts/:id/process.
func (h *PayoutHandler) Process(c *gin.Context) {
	h.adminAction(c, h.payoutSvc.Process)
}

// Complete handles POST /api/v1/admin/payouts/:id/complete.
func (h *PayoutHandler) Complete(c *gin.Context) {
	h.adminAction(c, h.payoutSvc.Complete)
}

// Retry handles POST /api/v1/admin/payouts/:id/retry.
func (h *PayoutHandler) Retry(c *gin.Context) {
	h.adminAction(c, h.payoutSvc.Retry)
}

// Reconcile handles POST /api/v1/admin/payouts/:id/reconcile.
func (h *PayoutHandler) Reconcile(c *gin.Context) {
	h.adminAction(c, h.payoutSvc.Reconcile)
}

// RunBatch handles POST /api/v1/admin/payouts/run-batch.
func (h *PayoutHandler) RunBatch(c *gin.Context) {
	result, err := h.payoutSvc.RunBatch(c.Request.Context(), time.Now().UTC())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, result)
}

func (h *PayoutHandler) adminAction(c *gin.Context, action func(context.Context, uuid.UUID) (*domain.Payout, error)) {
	payoutID, ok := pathID(c, "id")
	if !ok {
		return
	}

	payout, err := action(c.Request.Context(), payoutID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, payout)
}
