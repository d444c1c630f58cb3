package main

import (
	"context"
	"fmt"

	"giftcard-ledger/config"
	"giftcard-ledger/internal/adapter/storage/memory"
	pgStorage "giftcard-ledger/internal/adapter/storage/postgres"
	redisStorage "giftcard-ledger/internal/adapter/storage/redis"
	"giftcard-ledger/internal/core/ports"

	"github.com/rs/zerolog"
)

// storage is the durable side: repositories and the transactor that spans them.
type storage struct {
	cards       ports.GiftCardRepository
	txns        ports.TransactionRepository
	redemptions ports.RedemptionRepository
	payments    ports.PaymentRepository
	payouts     ports.PayoutRepository
	merchants   ports.MerchantRepository
	gateways    ports.GatewayRepository
	events      ports.WebhookEventRepository
	transactor  ports.DBTransactor
	checkers    []ports.HealthChecker
	close       func()
}

func openStorage(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*storage, error) {
	if cfg.Database.Driver == "memory" {
		log.Warn().Msg("Using in-memory storage, data is lost on restart")
		s := memory.NewStore()
		return &storage{
			cards:       memory.NewGiftCardRepo(s),
			txns:        memory.NewTransactionRepo(s),
			redemptions: memory.NewRedemptionRepo(s),
			payments:    memory.NewPaymentRepo(s),
			payouts:     memory.NewPayoutRepo(s),
			merchants:   memory.NewMerchantRepo(s),
			gateways:    memory.NewGatewayRepo(s),
			events:      memory.NewWebhookEventRepo(s),
			transactor:  s,
			checkers:    []ports.HealthChecker{s},
			close:       func() {},
		}, nil
	}

	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		return nil, err
	}
	if err := pgStorage.Migrate(ctx, pool, log); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrating: %w", err)
	}
	log.Info().Msg("PostgreSQL connected")

	return &storage{
		cards:       pgStorage.NewGiftCardRepo(pool),
		txns:        pgStorage.NewTransactionRepo(pool),
		redemptions: pgStorage.NewRedemptionRepo(pool),
		payments:    pgStorage.NewPaymentRepo(pool),
		payouts:     pgStorage.NewPayoutRepo(pool),
		merchants:   pgStorage.NewMerchantRepo(pool),
		gateways:    pgStorage.NewGatewayRepo(pool),
		events:      pgStorage.NewWebhookEventRepo(pool),
		transactor:  pgStorage.NewTransactor(pool),
		checkers:    []ports.HealthChecker{pgStorage.NewHealthCheck(pool)},
		close:       pool.Close,
	}, nil
}

// volatile holds the TTL-bound state: webhook dedupe marks, payout dispatch
// locks and rate-limit windows. Without Redis it lives in process, which is
// only correct for a single instance.
type volatile struct {
	cache    ports.IdempotencyCache
	locker   ports.DispatchLocker
	limiter  ports.RateLimiter
	checkers []ports.HealthChecker
	close    func()
}

func openVolatile(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*volatile, error) {
	if !cfg.Redis.Enabled {
		log.Warn().Msg("Redis disabled, using in-process locks and caches")
		return &volatile{
			cache:   memory.NewEventCache(),
			locker:  memory.NewLocker(),
			limiter: memory.NewRateLimiter(),
			close:   func() {},
		}, nil
	}

	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		return nil, err
	}

	return &volatile{
		cache:    redisStorage.NewEventCache(rdb),
		locker:   redisStorage.NewDispatchLock(rdb),
		limiter:  redisStorage.NewRateLimitStore(rdb),
		checkers: []ports.HealthChecker{redisStorage.NewHealthCheck(rdb)},
		close:    func() { _ = rdb.Close() },
	}, nil
}
