package service

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"giftcard-ledger/internal/core/domain"
	"giftcard-ledger/internal/core/ports"
	"giftcard-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ReconcilerRepos groups the repositories the reconciler writes through.
type ReconcilerRepos struct {
	Cards     ports.GiftCardRepository
	Txns      ports.TransactionRepository
	Payments  ports.PaymentRepository
	Payouts   ports.PayoutRepository
	Merchants ports.MerchantRepository
	Gateways  ports.GatewayRepository
	Events    ports.WebhookEventRepository
}

// ReconcilerServiceImpl implements ports.ReconcilerService. Webhooks and
// synchronous gateway results both land in Apply, keyed so that each
// (provider, external id, event type) changes state once.
type ReconcilerServiceImpl struct {
	repos      ReconcilerRepos
	resolver   ports.GatewayResolver
	transactor ports.DBTransactor
	cache      ports.IdempotencyCache
	dedupeTTL  time.Duration
	now        ports.Clock
	log        zerolog.Logger
}

// NewReconcilerService creates a new ReconcilerServiceImpl.
func NewReconcilerService(
	repos ReconcilerRepos,
	resolver ports.GatewayResolver,
	transactor ports.DBTransactor,
	cache ports.IdempotencyCache,
	dedupeTTL time.Duration,
	log zerolog.Logger,
) *ReconcilerServiceImpl {
	if dedupeTTL <= 0 {
		dedupeTTL = 24 * time.Hour
	}
	return &ReconcilerServiceImpl{
		repos:      repos,
		resolver:   resolver,
		transactor: transactor,
		cache:      cache,
		dedupeTTL:  dedupeTTL,
		now:        func() time.Time { return time.Now().UTC() },
		log:        log,
	}
}

// errRefundBeforeCharge asks the provider to redeliver a refund that overtook
// its charge event.
func errRefundBeforeCharge() *apperror.AppError {
	return apperror.New(apperror.CodeInvalidState, "refund received before the charge completed; retry later", http.StatusConflict)
}

// HandleWebhook authenticates an inbound notification for the merchant gateway
// gatewayID and applies it.
func (s *ReconcilerServiceImpl) HandleWebhook(ctx context.Context, provider domain.Provider, gatewayID uuid.UUID, payload []byte, header http.Header) (ports.ApplyOutcome, error) {
	rg, err := s.resolver.ResolveForWebhook(ctx, gatewayID, provider)
	if err != nil {
		if apperror.Is(err, apperror.CodeGatewayNotConfigured) {
			s.log.Warn().Str("provider", string(provider)).Str("gateway_id", gatewayID.String()).Msg("webhook for unknown gateway")
			return "", apperror.Wrap(apperror.CodeSignature, "Invalid signature", http.StatusBadRequest, err)
		}
		return "", err
	}

	event, err := rg.Gateway.VerifyWebhook(ctx, rg.Credentials, payload, header)
	if err != nil {
		s.log.Warn().Err(err).Str("provider", string(provider)).Str("gateway_id", gatewayID.String()).Msg("webhook rejected")
		return "", err
	}
	event.Provider = provider

	if event.Type == domain.EventAccountUpdated {
		return s.applyAccountUpdate(ctx, rg.Record, event)
	}
	return s.Apply(ctx, event)
}

// Apply changes state for event at most once.
func (s *ReconcilerServiceImpl) Apply(ctx context.Context, event *domain.GatewayEvent) (ports.ApplyOutcome, error) {
	logEvt := s.log.With().
		Str("provider", string(event.Provider)).
		Str("event_type", string(event.Type)).
		Str("external_id", event.ExternalID).
		Logger()

	if event.Type == domain.EventUnhandled || event.ExternalID == "" {
		logEvt.Debug().Str("raw_type", event.RawType).Msg("gateway event ignored")
		return ports.OutcomeIgnored, nil
	}
	if !event.Type.IsPaymentEvent() && !event.Type.IsPayoutEvent() {
		return ports.OutcomeIgnored, nil
	}

	key := event.DedupeKey()
	if s.seen(ctx, key) {
		logEvt.Debug().Msg("gateway event already applied (cache)")
		return ports.OutcomeDuplicate, nil
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return "", apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	var res applyResult
	if event.Type.IsPaymentEvent() {
		res, err = s.applyPaymentEvent(ctx, dbTx, event)
	} else {
		res, err = s.applyPayoutEvent(ctx, dbTx, event)
	}
	if err != nil {
		return "", err
	}
	if res.outcome == ports.OutcomeIgnored {
		// Unknown target: nothing recorded, so a redelivery can still apply.
		logEvt.Warn().Msg("gateway event for unknown record")
		return ports.OutcomeIgnored, nil
	}

	if err := dbTx.Commit(ctx); err != nil {
		return "", apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.mark(ctx, key)
	if res.key != key {
		s.mark(ctx, res.key)
	}

	logEvt.Info().Str("outcome", string(res.outcome)).Msg("gateway event reconciled")
	return res.outcome, nil
}

// applyResult is the outcome of one event inside the reconcile tx, with the
// canonical key it was recorded under.
type applyResult struct {
	outcome ports.ApplyOutcome
	key     string
}

// record inserts the apply-once key for event. It reports false on a replay.
func (s *ReconcilerServiceImpl) record(ctx context.Context, dbTx pgx.Tx, event *domain.GatewayEvent) (bool, error) {
	fresh, err := s.repos.Events.Record(ctx, dbTx, domain.NewWebhookEventRecord(event, s.now()))
	if err != nil {
		return false, apperror.InternalError(fmt.Errorf("record webhook event: %w", err))
	}
	return fresh, nil
}

func (s *ReconcilerServiceImpl) applyPaymentEvent(ctx context.Context, dbTx pgx.Tx, event *domain.GatewayEvent) (applyResult, error) {
	ignored := applyResult{outcome: ports.OutcomeIgnored}
	payment, err := s.repos.Payments.GetByExternalRefForUpdate(ctx, dbTx, event.Provider, event.ExternalID)
	if err != nil {
		return ignored, apperror.InternalError(fmt.Errorf("lock payment: %w", err))
	}
	if payment == nil {
		return ignored, nil
	}

	// Providers name the same charge by order id or capture id depending on the
	// event; key on our intent id so both spellings dedupe together.
	canonical := *event
	if payment.PaymentIntentID != "" {
		canonical.ExternalID = payment.PaymentIntentID
	}
	if event.Type == domain.EventChargeRefunded && payment.Status != domain.PaymentStatusCompleted && payment.Status != domain.PaymentStatusRefunded {
		return ignored, errRefundBeforeCharge()
	}

	res := applyResult{outcome: ports.OutcomeDuplicate, key: canonical.DedupeKey()}
	fresh, err := s.record(ctx, dbTx, &canonical)
	if err != nil || !fresh {
		return res, err
	}
	res.outcome = ports.OutcomeApplied

	now := s.now()
	switch event.Type {
	case domain.EventChargeSucceeded:
		err = s.completePayment(ctx, dbTx, payment, event, now)
	case domain.EventChargeFailed:
		if payment.Status == domain.PaymentStatusPending {
			payment.Status = domain.PaymentStatusFailed
			payment.FailureReason = event.FailureReason
			if payment.FailureReason == "" {
				payment.FailureReason = "charge failed"
			}
			payment.UpdatedAt = now
			err = s.repos.Payments.Update(ctx, dbTx, payment)
		}
	case domain.EventChargeRefunded:
		err = s.refundPayment(ctx, dbTx, payment, event, now)
	}
	if err != nil {
		return res, apperror.AsInternal(err)
	}
	return res, nil
}

// completePayment moves PENDING|FAILED to COMPLETED, funds the card and
// credits the merchant. COMPLETED and REFUNDED payments are left alone.
func (s *ReconcilerServiceImpl) completePayment(ctx context.Context, dbTx pgx.Tx, payment *domain.Payment, event *domain.GatewayEvent, now time.Time) error {
	if payment.Status != domain.PaymentStatusPending && payment.Status != domain.PaymentStatusFailed {
		return nil
	}
	if event.Amount != nil && !event.Amount.Equal(payment.Amount) {
		s.log.Warn().
			Str("payment_id", payment.ID.String()).
			Str("expected", payment.Amount.String()).
			Str("reported", event.Amount.String()).
			Msg("charge amount differs from payment amount")
	}

	card, err := s.repos.Cards.GetByIDForUpdate(ctx, dbTx, payment.GiftCardID)
	if err != nil {
		return fmt.Errorf("lock gift card: %w", err)
	}
	if card == nil {
		return fmt.Errorf("gift card %s of payment %s not found", payment.GiftCardID, payment.ID)
	}

	payment.Status = domain.PaymentStatusCompleted
	payment.FailureReason = ""
	if event.ChargeReference != "" {
		payment.ChargeReference = event.ChargeReference
	}
	payment.UpdatedAt = now
	if err := s.repos.Payments.Update(ctx, dbTx, payment); err != nil {
		return fmt.Errorf("update payment: %w", err)
	}

	if card.Status == domain.GiftCardStatusPending {
		txn := domain.NewTransaction(card, domain.TransactionTypePurchase, card.Value, card.Balance, card.Value, now)
		txn.PaymentID = &payment.ID
		card.Status = domain.GiftCardStatusActive
		card.Balance = card.Value
		card.UpdatedAt = now
		if err := s.repos.Cards.Update(ctx, dbTx, card); err != nil {
			return fmt.Errorf("activate gift card: %w", err)
		}
		if err := s.repos.Txns.Create(ctx, dbTx, txn); err != nil {
			return fmt.Errorf("create purchase transaction: %w", err)
		}
	} else {
		s.log.Warn().
			Str("payment_id", payment.ID.String()).
			Str("gift_card_id", card.ID.String()).
			Str("card_status", string(card.Status)).
			Msg("payment completed for a card that was not pending")
	}

	if err := s.repos.Merchants.AdjustBalance(ctx, dbTx, payment.MerchantID, payment.Amount); err != nil {
		return fmt.Errorf("credit merchant: %w", err)
	}

	s.log.Info().
		Str("payment_id", payment.ID.String()).
		Str("gift_card_id", card.ID.String()).
		Str("amount", payment.Amount.String()).
		Msg("payment completed")
	return nil
}

// refundPayment returns purchase money to the buyer: the payment's refunded
// amount grows and the merchant is debited. A fully refunded purchase cancels
// the card with its balance frozen.
//
// An event carrying only the provider's running total books the difference as
// unattributed. A later event for an individual refund first settles against
// that amount, so the same money is never debited twice whichever side
// arrives first.
func (s *ReconcilerServiceImpl) refundPayment(ctx context.Context, dbTx pgx.Tx, payment *domain.Payment, event *domain.GatewayEvent, now time.Time) error {
	refundable := payment.Refundable()
	var amount decimal.Decimal
	switch {
	case event.Amount != nil:
		amount = *event.Amount
		if payment.UnattributedRefund.IsPositive() {
			covered := decimal.Min(amount, payment.UnattributedRefund)
			payment.UnattributedRefund = payment.UnattributedRefund.Sub(covered)
			amount = amount.Sub(covered)
		}
	case event.RefundedTotal != nil:
		amount = decimal.Min(event.RefundedTotal.Sub(payment.RefundedAmount), refundable)
		if amount.IsPositive() {
			payment.UnattributedRefund = payment.UnattributedRefund.Add(amount)
		}
	default:
		amount = refundable
	}
	amount = decimal.Min(amount, refundable)
	if !amount.IsPositive() {
		if event.Amount != nil {
			payment.UpdatedAt = now
			if err := s.repos.Payments.Update(ctx, dbTx, payment); err != nil {
				return fmt.Errorf("update payment: %w", err)
			}
		}
		return nil
	}

	payment.RefundedAmount = payment.RefundedAmount.Add(amount)
	fully := !payment.Refundable().IsPositive()
	if fully {
		payment.Status = domain.PaymentStatusRefunded
	}
	payment.UpdatedAt = now
	if err := s.repos.Payments.Update(ctx, dbTx, payment); err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	if err := s.repos.Merchants.AdjustBalance(ctx, dbTx, payment.MerchantID, amount.Neg()); err != nil {
		return fmt.Errorf("debit merchant: %w", err)
	}

	if fully {
		card, err := s.repos.Cards.GetByIDForUpdate(ctx, dbTx, payment.GiftCardID)
		if err != nil {
			return fmt.Errorf("lock gift card: %w", err)
		}
		if card != nil && card.Status != domain.GiftCardStatusCancelled {
			card.Status = domain.GiftCardStatusCancelled
			card.UpdatedAt = now
			if err := s.repos.Cards.Update(ctx, dbTx, card); err != nil {
				return fmt.Errorf("cancel gift card: %w", err)
			}
		}
	}

	s.log.Info().
		Str("payment_id", payment.ID.String()).
		Str("refund_id", event.RefundID).
		Str("amount", amount.String()).
		Bool("fully_refunded", fully).
		Msg("purchase refunded")
	return nil
}

func (s *ReconcilerServiceImpl) applyPayoutEvent(ctx context.Context, dbTx pgx.Tx, event *domain.GatewayEvent) (applyResult, error) {
	res := applyResult{outcome: ports.OutcomeIgnored, key: event.DedupeKey()}
	payout, err := s.repos.Payouts.GetByExternalIDForUpdate(ctx, dbTx, domain.PayoutMethod(event.Provider), event.ExternalID)
	if err != nil {
		return res, apperror.InternalError(fmt.Errorf("lock payout: %w", err))
	}
	if payout == nil {
		return res, nil
	}

	res.outcome = ports.OutcomeDuplicate
	fresh, err := s.record(ctx, dbTx, event)
	if err != nil || !fresh {
		return res, err
	}
	res.outcome = ports.OutcomeApplied

	if err := s.transitionPayout(ctx, dbTx, payout, event.Type, event.FailureReason); err != nil {
		return res, apperror.AsInternal(err)
	}
	return res, nil
}

// transitionPayout applies a provider payout outcome. Transitions that do not
// fit the current status are no-ops.
func (s *ReconcilerServiceImpl) transitionPayout(ctx context.Context, dbTx pgx.Tx, payout *domain.Payout, outcome domain.EventType, reason string) error {
	now := s.now()
	switch outcome {
	case domain.EventPayoutPaid:
		switch payout.Status {
		case domain.PayoutStatusProcessing, domain.PayoutStatusPending, domain.PayoutStatusFailed:
		default:
			return nil
		}
		payout.Status = domain.PayoutStatusCompleted
		payout.FailureReason = ""
		payout.CompletedAt = &now
		if err := s.repos.Merchants.AdjustBalance(ctx, dbTx, payout.MerchantID, payout.NetAmount.Neg()); err != nil {
			return fmt.Errorf("debit merchant: %w", err)
		}
	case domain.EventPayoutFailed:
		if payout.Status != domain.PayoutStatusProcessing {
			return nil
		}
		payout.Status = domain.PayoutStatusFailed
		payout.FailureReason = reason
		if payout.FailureReason == "" {
			payout.FailureReason = "payout failed"
		}
	case domain.EventPayoutCanceled:
		if payout.Status != domain.PayoutStatusProcessing && payout.Status != domain.PayoutStatusPending {
			return nil
		}
		payout.Status = domain.PayoutStatusCancelled
		payout.FailureReason = reason
	default:
		return nil
	}

	payout.UpdatedAt = now
	if err := s.repos.Payouts.Update(ctx, dbTx, payout); err != nil {
		return fmt.Errorf("update payout: %w", err)
	}
	s.log.Info().
		Str("payout_id", payout.ID.String()).
		Str("status", string(payout.Status)).
		Msg("payout reconciled")
	return nil
}

func (s *ReconcilerServiceImpl) applyAccountUpdate(ctx context.Context, gw *domain.MerchantGateway, event *domain.GatewayEvent) (ports.ApplyOutcome, error) {
	if event.AccountVerified == nil {
		return ports.OutcomeIgnored, nil
	}
	if gw.AccountID != "" && event.ExternalID != "" && gw.AccountID != event.ExternalID {
		s.log.Warn().
			Str("gateway_id", gw.ID.String()).
			Str("account_id", event.ExternalID).
			Msg("account update for a different connected account")
		return ports.OutcomeIgnored, nil
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return "", apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	keyed := *event
	keyed.ExternalID = gw.ID.String()
	fresh, err := s.record(ctx, dbTx, &keyed)
	if err != nil {
		return "", err
	}
	if fresh {
		status := domain.VerificationPending
		if *event.AccountVerified {
			status = domain.VerificationVerified
		}
		if err := s.repos.Gateways.UpdateStatus(ctx, dbTx, gw.ID, status, gw.IsActive); err != nil {
			return "", apperror.InternalError(fmt.Errorf("update gateway status: %w", err))
		}
	}
	if err := dbTx.Commit(ctx); err != nil {
		return "", apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	if !fresh {
		return ports.OutcomeDuplicate, nil
	}
	s.log.Info().
		Str("gateway_id", gw.ID.String()).
		Bool("verified", *event.AccountVerified).
		Msg("gateway verification updated from provider")
	return ports.OutcomeApplied, nil
}

func (s *ReconcilerServiceImpl) seen(ctx context.Context, key string) bool {
	if s.cache == nil {
		return false
	}
	ok, err := s.cache.Seen(ctx, key)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("webhook cache check failed, falling through to DB")
		return false
	}
	return ok
}

func (s *ReconcilerServiceImpl) mark(ctx context.Context, key string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Mark(ctx, key, s.dedupeTTL); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("failed to cache webhook event")
	}
}
