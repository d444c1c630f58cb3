package middleware

import (
	"net/http"

	"giftcard-ledger/pkg/logger"
	"giftcard-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// auditActions maps state-changing routes to audit actions.
var auditActions = map[string]string{
	"POST /api/v1/giftcards":                   "giftcard.issue",
	"POST /api/v1/giftcards/:id/redeem":        "giftcard.redeem",
	"POST /api/v1/giftcards/:id/refund":        "giftcard.refund",
	"POST /api/v1/payments/:id/refund":         "payment.refund",
	"PUT /api/v1/payouts/settings":             "payout.settings",
	"POST /api/v1/payouts":                     "payout.request",
	"POST /api/v1/payouts/:id/cancel":          "payout.cancel",
	"PUT /api/v1/gateways/:provider":           "gateway.credentials",
	"POST /api/v1/admin/merchants":             "merchant.create",
	"PUT /api/v1/admin/gateways/:id/status":    "gateway.status",
	"POST /api/v1/admin/payouts/:id/process":   "payout.process",
	"POST /api/v1/admin/payouts/:id/complete":  "payout.complete",
	"POST /api/v1/admin/payouts/:id/retry":     "payout.retry",
	"POST /api/v1/admin/payouts/:id/reconcile": "payout.reconcile",
	"POST /api/v1/admin/payouts/run-batch":     "payout.run_batch",
}

// AuditLog writes one audit line per successful state-changing request.
func AuditLog(log zerolog.Logger) gin.HandlerFunc {
	audit := logger.Component(log, "audit")
	return func(c *gin.Context) {
		c.Next()

		status := c.Writer.Status()
		if status < http.StatusOK || status >= http.StatusMultipleChoices {
			return
		}
		action, ok := auditActions[c.Request.Method+" "+c.FullPath()]
		if !ok {
			return
		}

		event := audit.Info().
			Str("action", action).
			Str("request_id", c.GetString(response.RequestIDKey)).
			Str("role", c.GetString(CtxRole)).
			Str("client_ip", c.ClientIP()).
			Int("status", status)
		if mid, ok := MerchantID(c); ok {
			event = event.Str("merchant_id", mid.String())
		}
		if id := c.Param("id"); id != "" {
			event = event.Str("resource_id", id)
		}
		event.Msg("audit")
	}
}
