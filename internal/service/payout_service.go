package service

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"giftcard-ledger/internal/core/domain"
	"giftcard-ledger/internal/core/ports"
	"giftcard-ledger/pkg/apperror"
	"giftcard-ledger/pkg/money"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const (
	payoutBatchSize          = 100
	defaultPayoutLimit       = 20
	maxPayoutLimit           = 100
	payoutDispatchLockPrefix = "payout:dispatch:"
)

// PayoutServiceImpl implements ports.PayoutService.
type PayoutServiceImpl struct {
	calc       *payoutCalculator
	merchants  ports.MerchantRepository
	payouts    ports.PayoutRepository
	resolver   ports.GatewayResolver
	reconciler ports.ReconcilerService
	locker     ports.DispatchLocker
	transactor ports.DBTransactor
	policy     PayoutPolicy
	now        ports.Clock
	log        zerolog.Logger
}

// NewPayoutService creates a new PayoutServiceImpl.
func NewPayoutService(
	merchants ports.MerchantRepository,
	payouts ports.PayoutRepository,
	resolver ports.GatewayResolver,
	reconciler ports.ReconcilerService,
	locker ports.DispatchLocker,
	transactor ports.DBTransactor,
	policy PayoutPolicy,
	log zerolog.Logger,
) *PayoutServiceImpl {
	if policy.Workers < 1 {
		policy.Workers = 1
	}
	if policy.DispatchLockTTL <= 0 {
		policy.DispatchLockTTL = 2 * time.Minute
	}
	if !policy.DefaultSchedule.Valid() {
		policy.DefaultSchedule = domain.PayoutScheduleDaily
	}
	return &PayoutServiceImpl{
		calc: &payoutCalculator{
			merchants:  merchants,
			payouts:    payouts,
			transactor: transactor,
			policy:     policy,
		},
		merchants:  merchants,
		payouts:    payouts,
		resolver:   resolver,
		reconciler: reconciler,
		locker:     locker,
		transactor: transactor,
		policy:     policy,
		now:        func() time.Time { return time.Now().UTC() },
		log:        log,
	}
}

// AvailableBalance returns the merchant's balance, reserved and available amounts.
func (s *PayoutServiceImpl) AvailableBalance(ctx context.Context, merchantID uuid.UUID) (*ports.Balance, error) {
	return s.calc.balance(ctx, merchantID)
}

// GetSettings returns the merchant's payout settings or the defaults.
func (s *PayoutServiceImpl) GetSettings(ctx context.Context, merchantID uuid.UUID) (*domain.PayoutSettings, error) {
	return s.calc.settings(ctx, merchantID)
}

// UpdateSettings validates and stores payout settings.
func (s *PayoutServiceImpl) UpdateSettings(ctx context.Context, in domain.PayoutSettings) (*domain.PayoutSettings, error) {
	if in.MinimumAmount.IsNegative() {
		return nil, apperror.Validation("minimum amount must not be negative")
	}
	if !in.Schedule.Valid() {
		return nil, apperror.Validation("schedule must be IMMEDIATE, DAILY, WEEKLY or MONTHLY")
	}
	if !in.PayoutMethod.Valid() {
		return nil, apperror.Validation("payout method must be STRIPE, PAYPAL, RAZORPAY or BANK_TRANSFER")
	}

	m, err := s.merchants.GetByID(ctx, in.MerchantID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get merchant: %w", err))
	}
	if m == nil {
		return nil, apperror.ErrNotFound("merchant")
	}
	if err := money.CheckScale(in.MinimumAmount, m.Currency); err != nil {
		return nil, apperror.Validation(err.Error())
	}

	in.UpdatedAt = s.now()
	if err := s.merchants.UpsertPayoutSettings(ctx, &in); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("upsert payout settings: %w", err))
	}
	s.log.Info().
		Str("merchant_id", in.MerchantID.String()).
		Str("schedule", string(in.Schedule)).
		Str("method", string(in.PayoutMethod)).
		Msg("payout settings updated")
	return &in, nil
}

// Request reserves funds for a withdrawal. IMMEDIATE merchants are dispatched
// before returning; a dispatch failure leaves the payout for the batch.
func (s *PayoutServiceImpl) Request(ctx context.Context, in ports.PayoutRequestInput) (*domain.Payout, error) {
	if !in.Amount.IsPositive() {
		return nil, apperror.Validation("amount must be greater than zero")
	}
	settings, err := s.calc.settings(ctx, in.MerchantID)
	if err != nil {
		return nil, err
	}
	method := in.Method
	if method == "" {
		method = settings.PayoutMethod
	}
	if !method.Valid() {
		return nil, apperror.Validation("payout method must be STRIPE, PAYPAL, RAZORPAY or BANK_TRANSFER")
	}
	account := in.AccountID
	if account == "" {
		account = settings.PayoutAccountID
	}
	if in.Amount.LessThan(settings.MinimumAmount) {
		return nil, apperror.Validation(fmt.Sprintf("payout amount is below the minimum of %s", settings.MinimumAmount.String()))
	}
	if provider, ok := method.Provider(); ok {
		if _, err := s.resolver.Resolve(ctx, in.MerchantID, provider); err != nil {
			return nil, err
		}
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	m, err := s.merchants.GetByIDForUpdate(ctx, dbTx, in.MerchantID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock merchant: %w", err))
	}
	if m == nil {
		return nil, apperror.ErrNotFound("merchant")
	}
	if !m.IsActive() {
		return nil, apperror.ErrInvalidState("merchant", string(m.Status))
	}
	if err := money.CheckScale(in.Amount, m.Currency); err != nil {
		return nil, apperror.Validation(err.Error())
	}
	if err := s.calc.reserve(ctx, dbTx, m, in.Amount, settings); err != nil {
		return nil, err
	}

	now := s.now()
	payout := &domain.Payout{
		ID:              uuid.New(),
		MerchantID:      m.ID,
		Amount:          in.Amount,
		NetAmount:       in.Amount,
		Currency:        m.Currency,
		Status:          domain.PayoutStatusPending,
		PayoutMethod:    method,
		PayoutAccountID: account,
		ScheduledFor:    settings.Schedule.NextRun(now),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.payouts.Create(ctx, dbTx, payout); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("create payout: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.log.Info().
		Str("payout_id", payout.ID.String()).
		Str("merchant_id", m.ID.String()).
		Str("amount", payout.Amount.String()).
		Str("method", string(method)).
		Time("scheduled_for", payout.ScheduledFor).
		Msg("payout requested")

	if settings.Schedule != domain.PayoutScheduleImmediate {
		return payout, nil
	}
	dispatched, err := s.Process(ctx, payout.ID)
	if err != nil {
		s.log.Warn().Err(err).Str("payout_id", payout.ID.String()).Msg("immediate dispatch failed, left for batch")
		return payout, nil
	}
	return dispatched, nil
}

// Get returns a payout owned by merchantID.
func (s *PayoutServiceImpl) Get(ctx context.Context, merchantID, payoutID uuid.UUID) (*domain.Payout, error) {
	p, err := s.payouts.GetByID(ctx, payoutID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get payout: %w", err))
	}
	if p == nil || p.MerchantID != merchantID {
		return nil, apperror.ErrNotFound("payout")
	}
	return p, nil
}

// List returns a page of the merchant's payouts, newest first.
func (s *PayoutServiceImpl) List(ctx context.Context, params ports.PayoutListParams) ([]domain.Payout, int64, error) {
	if params.Limit <= 0 {
		params.Limit = defaultPayoutLimit
	}
	if params.Limit > maxPayoutLimit {
		params.Limit = maxPayoutLimit
	}
	if params.Offset < 0 {
		params.Offset = 0
	}
	payouts, total, err := s.payouts.List(ctx, params)
	if err != nil {
		return nil, 0, apperror.InternalError(fmt.Errorf("list payouts: %w", err))
	}
	return payouts, total, nil
}

// Cancel withdraws a PENDING payout and releases its reservation.
func (s *PayoutServiceImpl) Cancel(ctx context.Context, merchantID, payoutID uuid.UUID) (*domain.Payout, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	p, err := s.payouts.GetByIDForUpdate(ctx, dbTx, payoutID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock payout: %w", err))
	}
	if p == nil || p.MerchantID != merchantID {
		return nil, apperror.ErrNotFound("payout")
	}
	if p.Status != domain.PayoutStatusPending {
		return nil, apperror.ErrInvalidState("payout", string(p.Status))
	}

	p.Status = domain.PayoutStatusCancelled
	p.UpdatedAt = s.now()
	if err := s.payouts.Update(ctx, dbTx, p); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("update payout: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.log.Info().Str("payout_id", p.ID.String()).Msg("payout cancelled")
	return p, nil
}

// Process dispatches a PENDING payout. Bank transfers stop at PROCESSING for
// an operator to complete. Provider rejections mark the payout FAILED and are
// not returned as errors; the returned payout carries the outcome.
func (s *PayoutServiceImpl) Process(ctx context.Context, payoutID uuid.UUID) (*domain.Payout, error) {
	release, err := s.lockDispatch(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	defer release()

	claimed, err := s.payouts.ClaimForDispatch(ctx, payoutID, s.now())
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("claim payout: %w", err))
	}
	p, err := s.payouts.GetByID(ctx, payoutID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get payout: %w", err))
	}
	if p == nil {
		return nil, apperror.ErrNotFound("payout")
	}
	if !claimed {
		return nil, apperror.ErrInvalidState("payout", string(p.Status))
	}

	if p.PayoutMethod.IsManual() {
		s.log.Info().Str("payout_id", p.ID.String()).Msg("bank transfer payout awaiting operator")
		return p, nil
	}
	return s.dispatch(ctx, p)
}

// dispatchReference is the provider idempotency key for one attempt. It is
// stable across re-sends of the same attempt and changes on every retry, so a
// retried payout is a new provider payout rather than a replay of the failed one.
func dispatchReference(p *domain.Payout) string {
	if p.RetryCount == 0 {
		return p.ID.String()
	}
	return fmt.Sprintf("%s-%d", p.ID, p.RetryCount)
}

// dispatch sends a PROCESSING payout to its provider under dispatchReference,
// so re-dispatching after a lost response is safe.
func (s *PayoutServiceImpl) dispatch(ctx context.Context, p *domain.Payout) (*domain.Payout, error) {
	logP := s.log.With().Str("payout_id", p.ID.String()).Str("method", string(p.PayoutMethod)).Logger()

	provider, _ := p.PayoutMethod.Provider()
	rg, err := s.resolver.Resolve(ctx, p.MerchantID, provider)
	if err != nil {
		logP.Warn().Err(err).Msg("payout gateway unavailable")
		return s.markFailed(ctx, p.ID, "gateway not configured")
	}

	res, err := rg.Gateway.CreatePayout(ctx, rg.Credentials, ports.PayoutRequest{
		Destination: p.PayoutAccountID,
		Amount:      p.NetAmount,
		Currency:    p.Currency,
		Reference:   dispatchReference(p),
	})
	if err != nil {
		if apperror.Is(err, apperror.CodeGatewayUnavailable) {
			logP.Warn().Err(err).Msg("payout dispatch deferred, provider unavailable")
			return p, nil
		}
		logP.Warn().Err(err).Msg("payout rejected by provider")
		return s.markFailed(ctx, p.ID, gatewayReason(err))
	}

	if err := s.storeExternalID(ctx, p.ID, res.PayoutID); err != nil {
		return nil, err
	}
	logP.Info().Str("external_payout_id", res.PayoutID).Str("status", res.Status).Msg("payout dispatched")

	if err := s.applyResult(ctx, provider, res); err != nil {
		return nil, err
	}
	return s.reload(ctx, p.ID)
}

// applyResult routes a terminal provider status through the reconciler so the
// webhook for the same payout is a no-op.
func (s *PayoutServiceImpl) applyResult(ctx context.Context, provider domain.Provider, res *ports.PayoutResult) error {
	var typ domain.EventType
	switch res.Status {
	case ports.PayoutStatusPaid:
		typ = domain.EventPayoutPaid
	case ports.PayoutStatusFailed:
		typ = domain.EventPayoutFailed
	case ports.PayoutStatusCanceled:
		typ = domain.EventPayoutCanceled
	default:
		return nil
	}
	_, err := s.reconciler.Apply(ctx, &domain.GatewayEvent{
		Type:          typ,
		Provider:      provider,
		ExternalID:    res.PayoutID,
		FailureReason: res.FailureReason,
	})
	return err
}

func (s *PayoutServiceImpl) storeExternalID(ctx context.Context, payoutID uuid.UUID, externalID string) error {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	p, err := s.payouts.GetByIDForUpdate(ctx, dbTx, payoutID)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("lock payout: %w", err))
	}
	if p == nil {
		return apperror.ErrNotFound("payout")
	}
	p.ExternalPayoutID = externalID
	p.UpdatedAt = s.now()
	if err := s.payouts.Update(ctx, dbTx, p); err != nil {
		return apperror.InternalError(fmt.Errorf("update payout: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

// markFailed moves a PROCESSING payout to FAILED, releasing its reservation.
func (s *PayoutServiceImpl) markFailed(ctx context.Context, payoutID uuid.UUID, reason string) (*domain.Payout, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	p, err := s.payouts.GetByIDForUpdate(ctx, dbTx, payoutID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock payout: %w", err))
	}
	if p == nil {
		return nil, apperror.ErrNotFound("payout")
	}
	if p.Status != domain.PayoutStatusProcessing {
		return p, nil
	}
	p.Status = domain.PayoutStatusFailed
	p.FailureReason = reason
	p.UpdatedAt = s.now()
	if err := s.payouts.Update(ctx, dbTx, p); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("update payout: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.log.Warn().Str("payout_id", p.ID.String()).Str("reason", reason).Msg("payout failed")
	return p, nil
}

// Complete records an operator-confirmed payout and debits the merchant.
func (s *PayoutServiceImpl) Complete(ctx context.Context, payoutID uuid.UUID) (*domain.Payout, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	p, err := s.payouts.GetByIDForUpdate(ctx, dbTx, payoutID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock payout: %w", err))
	}
	if p == nil {
		return nil, apperror.ErrNotFound("payout")
	}
	if p.Status != domain.PayoutStatusProcessing {
		return nil, apperror.ErrInvalidState("payout", string(p.Status))
	}

	now := s.now()
	p.Status = domain.PayoutStatusCompleted
	p.CompletedAt = &now
	p.UpdatedAt = now
	if err := s.merchants.AdjustBalance(ctx, dbTx, p.MerchantID, p.NetAmount.Neg()); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("debit merchant: %w", err))
	}
	if err := s.payouts.Update(ctx, dbTx, p); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("update payout: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.log.Info().Str("payout_id", p.ID.String()).Str("amount", p.NetAmount.String()).Msg("payout completed")
	return p, nil
}

// Retry re-queues a FAILED payout, reserving its funds again.
func (s *PayoutServiceImpl) Retry(ctx context.Context, payoutID uuid.UUID) (*domain.Payout, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	p, err := s.payouts.GetByIDForUpdate(ctx, dbTx, payoutID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock payout: %w", err))
	}
	if p == nil {
		return nil, apperror.ErrNotFound("payout")
	}
	if p.Status != domain.PayoutStatusFailed {
		return nil, apperror.ErrInvalidState("payout", string(p.Status))
	}
	if p.RetryCount >= s.policy.MaxRetries {
		return nil, apperror.New(apperror.CodeInvalidState,
			fmt.Sprintf("payout has reached the retry limit of %d", s.policy.MaxRetries), http.StatusConflict)
	}

	m, err := s.merchants.GetByIDForUpdate(ctx, dbTx, p.MerchantID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock merchant: %w", err))
	}
	if m == nil {
		return nil, apperror.ErrNotFound("merchant")
	}
	settings, err := s.calc.settings(ctx, p.MerchantID)
	if err != nil {
		return nil, err
	}
	// The minimum applied when the payout was requested.
	settings.MinimumAmount = decimal.Zero
	if err := s.calc.reserve(ctx, dbTx, m, p.Amount, settings); err != nil {
		return nil, err
	}

	now := s.now()
	p.Status = domain.PayoutStatusPending
	p.RetryCount++
	p.FailureReason = ""
	p.ExternalPayoutID = ""
	p.ProcessedAt = nil
	p.ScheduledFor = now
	p.UpdatedAt = now
	if err := s.payouts.Update(ctx, dbTx, p); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("update payout: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.log.Info().Str("payout_id", p.ID.String()).Int("retry_count", p.RetryCount).Msg("payout re-queued")
	return p, nil
}

// Reconcile polls the provider for a PROCESSING payout whose webhook never
// arrived. A payout that never got a provider id is dispatched again.
func (s *PayoutServiceImpl) Reconcile(ctx context.Context, payoutID uuid.UUID) (*domain.Payout, error) {
	release, err := s.lockDispatch(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	defer release()

	p, err := s.reload(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	if p.Status != domain.PayoutStatusProcessing {
		return nil, apperror.ErrInvalidState("payout", string(p.Status))
	}
	if p.PayoutMethod.IsManual() {
		return nil, apperror.Validation("bank transfer payouts are completed by an operator")
	}
	if p.ExternalPayoutID == "" {
		return s.dispatch(ctx, p)
	}

	provider, _ := p.PayoutMethod.Provider()
	rg, err := s.resolver.Resolve(ctx, p.MerchantID, provider)
	if err != nil {
		return nil, err
	}
	res, err := rg.Gateway.GetPayout(ctx, rg.Credentials, p.ExternalPayoutID)
	if err != nil {
		return nil, err
	}
	if res.PayoutID == "" {
		res.PayoutID = p.ExternalPayoutID
	}
	if err := s.applyResult(ctx, provider, res); err != nil {
		return nil, err
	}
	return s.reload(ctx, p.ID)
}

// RunBatch dispatches due PENDING payouts with bounded concurrency.
func (s *PayoutServiceImpl) RunBatch(ctx context.Context, now time.Time) (*ports.BatchResult, error) {
	ids, err := s.payouts.ListDue(ctx, now, payoutBatchSize)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list due payouts: %w", err))
	}
	result := &ports.BatchResult{}
	if len(ids) == 0 {
		return result, nil
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.policy.Workers)
	for _, id := range ids {
		g.Go(func() error {
			p, err := s.Process(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case apperror.Is(err, apperror.CodeInvalidState):
				result.Skipped++
			case err != nil:
				s.log.Error().Err(err).Str("payout_id", id.String()).Msg("payout dispatch errored")
				result.Failed++
			case p.Status == domain.PayoutStatusFailed:
				result.Failed++
			default:
				result.Dispatched++
			}
			return nil
		})
	}
	_ = g.Wait()

	s.log.Info().
		Int("dispatched", result.Dispatched).
		Int("failed", result.Failed).
		Int("skipped", result.Skipped).
		Msg("payout batch finished")
	return result, nil
}

func (s *PayoutServiceImpl) lockDispatch(ctx context.Context, payoutID uuid.UUID) (func(), error) {
	release, ok, err := s.locker.Acquire(ctx, payoutDispatchLockPrefix+payoutID.String(), s.policy.DispatchLockTTL)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("acquire dispatch lock: %w", err))
	}
	if !ok {
		return nil, apperror.New(apperror.CodeInvalidState, "payout is being dispatched", http.StatusConflict)
	}
	return func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.log.Warn().Err(err).Str("payout_id", payoutID.String()).Msg("failed to release dispatch lock")
		}
	}, nil
}

func (s *PayoutServiceImpl) reload(ctx context.Context, payoutID uuid.UUID) (*domain.Payout, error) {
	p, err := s.payouts.GetByID(ctx, payoutID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get payout: %w", err))
	}
	if p == nil {
		return nil, apperror.ErrNotFound("payout")
	}
	return p, nil
}
