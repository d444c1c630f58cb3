package service

import (
	"context"
	"time"

	"giftcard-ledger/internal/core/ports"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Scheduler runs the periodic jobs: the payout batch and the gift card
// expiry sweep.
type Scheduler struct {
	payouts        ports.PayoutService
	ledger         ports.LedgerService
	batchInterval  time.Duration
	expiryInterval time.Duration
	now            ports.Clock
	log            zerolog.Logger
}

// NewScheduler creates a Scheduler. A non-positive interval disables that job.
func NewScheduler(payouts ports.PayoutService, ledger ports.LedgerService, batchInterval, expiryInterval time.Duration, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		payouts:        payouts,
		ledger:         ledger,
		batchInterval:  batchInterval,
		expiryInterval: expiryInterval,
		now:            func() time.Time { return time.Now().UTC() },
		log:            log,
	}
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	if s.batchInterval > 0 {
		g.Go(func() error {
			s.every(ctx, s.batchInterval, "payout_batch", s.runBatch)
			return nil
		})
	}
	if s.expiryInterval > 0 {
		g.Go(func() error {
			s.every(ctx, s.expiryInterval, "expiry_sweep", s.sweepExpired)
			return nil
		})
	}
	return g.Wait()
}

func (s *Scheduler) every(ctx context.Context, interval time.Duration, job string, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Info().Str("job", job).Dur("interval", interval).Msg("scheduled job started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Str("job", job).Msg("scheduled job stopped")
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func (s *Scheduler) runBatch(ctx context.Context) {
	if _, err := s.payouts.RunBatch(ctx, s.now()); err != nil {
		s.log.Error().Err(err).Msg("payout batch failed")
	}
}

func (s *Scheduler) sweepExpired(ctx context.Context) {
	n, err := s.ledger.ExpireDue(ctx, s.now())
	if err != nil {
		s.log.Error().Err(err).Msg("expiry sweep failed")
		return
	}
	if n > 0 {
		s.log.Info().Int("expired", n).Msg("gift cards expired")
	}
}
