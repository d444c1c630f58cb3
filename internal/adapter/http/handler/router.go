package handler

import (
	"giftcard-ledger/internal/adapter/http/middleware"
	"giftcard-ledger/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	LedgerSvc      ports.LedgerService
	PaymentSvc     ports.PaymentService
	ReconcilerSvc  ports.ReconcilerService
	PayoutSvc      ports.PayoutService
	MerchantSvc    ports.MerchantService
	TokenSvc       ports.TokenService
	RateLimiter    ports.RateLimiter                   // nil = rate limiting disabled
	RateLimitRules map[string]middleware.RateLimitRule // nil = DefaultRateLimitRules
	MaxBodyBytes   int64                               // API request limit; 0 = MaxAPIBodyBytes
	HealthCheckers []ports.HealthChecker
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()

	// Global middleware
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.AuditLog(deps.Logger))

	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	rules := deps.RateLimitRules
	if rules == nil {
		rules = middleware.DefaultRateLimitRules()
	}
	rl := func(group string) gin.HandlerFunc {
		rule, ok := rules[group]
		if deps.RateLimiter == nil || !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimiter, group, rule, deps.Logger)
	}

	// --- Gateway callbacks (signature-verified, no bearer) ---
	webhookHandler := NewWebhookHandler(deps.ReconcilerSvc, deps.Logger)
	r.POST("/webhooks/:provider/:gatewayId",
		middleware.MaxBodySize(middleware.MaxWebhookBodyBytes),
		rl("webhooks"),
		webhookHandler.Receive,
	)

	maxBody := deps.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = middleware.MaxAPIBodyBytes
	}
	v1 := r.Group("/api/v1", middleware.MaxBodySize(maxBody))
	jwtAuth := middleware.JWTAuth(deps.TokenSvc, deps.Logger)

	giftCardHandler := NewGiftCardHandler(deps.LedgerSvc)
	giftcards := v1.Group("/giftcards", jwtAuth)
	{
		giftcards.POST("", rl("giftcards"), giftCardHandler.Issue)
		giftcards.GET("", rl("giftcards"), giftCardHandler.GetByCode)
		giftcards.GET("/:id", rl("giftcards"), giftCardHandler.Get)
		giftcards.GET("/:id/transactions", rl("giftcards"), giftCardHandler.ListTransactions)
		giftcards.POST("/:id/redeem", rl("redeem"), giftCardHandler.Redeem)
		giftcards.POST("/:id/refund", rl("refunds"), giftCardHandler.Refund)
	}

	paymentHandler := NewPaymentHandler(deps.PaymentSvc)
	payments := v1.Group("/payments", jwtAuth)
	{
		payments.POST("/intents", rl("payments"), paymentHandler.CreateIntent)
		payments.GET("/:id", rl("payments"), paymentHandler.Get)
		payments.POST("/:id/confirm", rl("payments"), paymentHandler.Confirm)
		payments.POST("/:id/refund", rl("refunds"), paymentHandler.Refund)
	}

	payoutHandler := NewPayoutHandler(deps.PayoutSvc)
	payouts := v1.Group("/payouts", jwtAuth)
	{
		payouts.GET("/balance", rl("payouts"), payoutHandler.Balance)
		payouts.GET("/settings", rl("payouts"), payoutHandler.GetSettings)
		payouts.PUT("/settings", rl("payouts"), payoutHandler.UpdateSettings)
		payouts.POST("", rl("payouts"), payoutHandler.Request)
		payouts.GET("", rl("payouts"), payoutHandler.List)
		payouts.GET("/:id", rl("payouts"), payoutHandler.Get)
		payouts.POST("/:id/cancel", rl("payouts"), payoutHandler.Cancel)
	}

	merchantHandler := NewMerchantHandler(deps.MerchantSvc)
	v1.GET("/merchants/me", jwtAuth, rl("gateways"), merchantHandler.GetProfile)
	gateways := v1.Group("/gateways", jwtAuth)
	{
		gateways.GET("", rl("gateways"), merchantHandler.ListGateways)
		gateways.PUT("/:provider", rl("gateways"), merchantHandler.PutGateway)
	}

	// --- Operator routes ---
	admin := v1.Group("/admin", jwtAuth, middleware.RequireAdmin(), rl("admin"))
	{
		admin.POST("/merchants", merchantHandler.CreateMerchant)
		admin.PUT("/gateways/:id/status", merchantHandler.SetGatewayStatus)
		admin.GET("/giftcards/:id/audit", giftCardHandler.Audit)
		admin.POST("/payouts/run-batch", payoutHandler.RunBatch)
		admin.POST("/payouts/:id/process", payoutHandler.Process)
		admin.POST("/payouts/:id/complete", payoutHandler.Complete)
		admin.POST("/payouts/:id/retry", payoutHandler.Retry)
		admin.POST("/payouts/:id/reconcile", payoutHandler.Reconcile)
	}

	return r
}
