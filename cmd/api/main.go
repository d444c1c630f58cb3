package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"giftcard-ledger/config"
	"giftcard-ledger/internal/adapter/gateway/paypal"
	"giftcard-ledger/internal/adapter/gateway/razorpay"
	"giftcard-ledger/internal/adapter/gateway/stripe"
	httpHandler "giftcard-ledger/internal/adapter/http/handler"
	"giftcard-ledger/internal/adapter/http/middleware"
	"giftcard-ledger/internal/core/domain"
	"giftcard-ledger/internal/service"
	"giftcard-ledger/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load configuration
	cfg, err := config.Load(os.Getenv("GCL_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)
	gin.SetMode(cfg.Server.Mode)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Str("storage", cfg.Database.Driver).
		Bool("redis", cfg.Redis.Enabled).
		Int("port", cfg.Server.Port).
		Msg("Starting gift card ledger")

	if cfg.JWT.Secret == "" {
		log.Fatal().Msg("jwt.secret is required")
	}
	minPayout, err := decimal.NewFromString(cfg.Payout.MinAmount)
	if err != nil {
		log.Fatal().Err(err).Str("min_amount", cfg.Payout.MinAmount).Msg("Invalid payout.min_amount")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStorage(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer store.close()

	vol, err := openVolatile(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer vol.close()

	// Core services
	encSvc, err := service.NewAESEncryptionService(cfg.AES.Key)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize encryption service")
	}
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Issuer)

	registry := service.NewGatewayRegistry(store.gateways, encSvc, logger.Component(log, "gateways"),
		stripe.New(cfg.Gateways.Stripe, cfg.Gateways.StripeSignatureTolerance, log),
		paypal.New(cfg.Gateways.PayPal, log),
		razorpay.New(cfg.Gateways.Razorpay, log),
	)

	// Business services
	ledgerSvc := service.NewLedgerService(
		store.cards,
		store.txns,
		store.redemptions,
		store.payments,
		store.merchants,
		store.transactor,
		logger.Component(log, "ledger"),
	)
	reconcilerSvc := service.NewReconcilerService(
		service.ReconcilerRepos{
			Cards:     store.cards,
			Txns:      store.txns,
			Payments:  store.payments,
			Payouts:   store.payouts,
			Merchants: store.merchants,
			Gateways:  store.gateways,
			Events:    store.events,
		},
		registry,
		store.transactor,
		vol.cache,
		cfg.Webhook.DedupeTTL,
		logger.Component(log, "reconciler"),
	)
	paymentSvc := service.NewPaymentService(
		store.cards,
		store.payments,
		registry,
		reconcilerSvc,
		encSvc,
		store.transactor,
		logger.Component(log, "payments"),
	)
	payoutSvc := service.NewPayoutService(
		store.merchants,
		store.payouts,
		registry,
		reconcilerSvc,
		vol.locker,
		store.transactor,
		service.PayoutPolicy{
			MinAmount:       minPayout,
			DefaultSchedule: domain.PayoutSchedule(cfg.Payout.DefaultSchedule),
			MaxRetries:      cfg.Payout.MaxRetries,
			Workers:         cfg.Payout.Workers,
			DispatchLockTTL: cfg.Payout.DispatchLockTTL,
		},
		logger.Component(log, "payouts"),
	)
	merchantSvc := service.NewMerchantService(
		store.merchants,
		store.gateways,
		encSvc,
		tokenSvc,
		store.transactor,
		cfg.JWT.Expiry,
		logger.Component(log, "merchants"),
	)
	scheduler := service.NewScheduler(payoutSvc, ledgerSvc, cfg.Payout.BatchInterval, cfg.Ledger.ExpirySweepInterval, logger.Component(log, "scheduler"))

	// Read-heavy groups follow the configured default limit.
	rules := middleware.DefaultRateLimitRules()
	for _, group := range []string{"giftcards", "admin"} {
		rules[group] = middleware.RateLimitRule{Limit: int64(cfg.RateLimit.Limit), Window: cfg.RateLimit.Window}
	}

	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		LedgerSvc:      ledgerSvc,
		PaymentSvc:     paymentSvc,
		ReconcilerSvc:  reconcilerSvc,
		PayoutSvc:      payoutSvc,
		MerchantSvc:    merchantSvc,
		TokenSvc:       tokenSvc,
		RateLimiter:    vol.limiter,
		RateLimitRules: rules,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		HealthCheckers: append(store.checkers, vol.checkers...),
		Logger:         log,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return scheduler.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server stopped with error")
		return
	}
	log.Info().Msg("Server stopped")
}
