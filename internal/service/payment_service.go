package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"giftcard-ledger/internal/core/domain"
	"giftcard-ledger/internal/core/ports"
	"giftcard-ledger/pkg/apperror"
	"giftcard-ledger/pkg/money"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// PaymentServiceImpl implements ports.PaymentService. Gateway results are
// expressed as gateway events and applied through the reconciler, so a
// synchronous confirm and the matching webhook change state once.
type PaymentServiceImpl struct {
	cards      ports.GiftCardRepository
	payments   ports.PaymentRepository
	resolver   ports.GatewayResolver
	reconciler ports.ReconcilerService
	encSvc     ports.EncryptionService
	transactor ports.DBTransactor
	now        ports.Clock
	log        zerolog.Logger
}

// NewPaymentService creates a new PaymentServiceImpl.
func NewPaymentService(
	cards ports.GiftCardRepository,
	payments ports.PaymentRepository,
	resolver ports.GatewayResolver,
	reconciler ports.ReconcilerService,
	encSvc ports.EncryptionService,
	transactor ports.DBTransactor,
	log zerolog.Logger,
) *PaymentServiceImpl {
	return &PaymentServiceImpl{
		cards:      cards,
		payments:   payments,
		resolver:   resolver,
		reconciler: reconciler,
		encSvc:     encSvc,
		transactor: transactor,
		now:        func() time.Time { return time.Now().UTC() },
		log:        log,
	}
}

// CreateIntent opens (or resumes) the purchase of a PENDING card. A card has
// at most one PENDING payment.
func (s *PaymentServiceImpl) CreateIntent(ctx context.Context, in ports.CreateIntentInput) (*ports.IntentResult, error) {
	if !in.Method.Valid() {
		return nil, apperror.Validation("payment method must be STRIPE, PAYPAL or RAZORPAY")
	}
	if !in.Amount.IsPositive() {
		return nil, apperror.Validation("amount must be greater than zero")
	}

	card, err := s.cards.GetByID(ctx, in.GiftCardID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get gift card: %w", err))
	}
	if card == nil || card.MerchantID != in.MerchantID {
		return nil, apperror.ErrNotFound("gift card")
	}
	if in.Currency != "" && money.Normalize(in.Currency) != card.Currency {
		return nil, apperror.Validation(fmt.Sprintf("currency must match the gift card currency %s", card.Currency))
	}
	if !in.Amount.Equal(card.Value) {
		return nil, apperror.Validation(fmt.Sprintf("amount must equal the gift card value %s", card.Value.String()))
	}
	if card.Status != domain.GiftCardStatusPending {
		return nil, apperror.ErrInvalidState("gift card", string(card.Status))
	}

	rg, err := s.resolver.Resolve(ctx, in.MerchantID, in.Method)
	if err != nil {
		return nil, err
	}

	payment, resumed, err := s.openPayment(ctx, in)
	if err != nil {
		return nil, err
	}
	if resumed && payment.PaymentIntentID != "" {
		secret := ""
		if payment.ClientSecretEnc != "" {
			if secret, err = s.encSvc.Decrypt(payment.ClientSecretEnc); err != nil {
				return nil, apperror.ErrEncryptionFailure(fmt.Errorf("decrypt client secret: %w", err))
			}
		}
		return &ports.IntentResult{
			PaymentID:    payment.ID,
			ClientSecret: secret,
			OrderID:      orderIDFor(payment),
			Status:       payment.Status,
		}, nil
	}

	// Reference is the payment id, so a retried create hits the provider's
	// idempotency key instead of opening a second charge.
	charge, err := rg.Gateway.CreateCharge(ctx, rg.Credentials, ports.ChargeRequest{
		Amount:      payment.Amount,
		Currency:    payment.Currency,
		Reference:   payment.ID.String(),
		Description: "Gift card " + card.Code,
	})
	if err != nil {
		if apperror.Is(err, apperror.CodeGatewayUnavailable) {
			s.log.Warn().Err(err).Str("payment_id", payment.ID.String()).Msg("charge creation deferred, provider unavailable")
			return nil, err
		}
		s.failPayment(ctx, payment.ID, err)
		return nil, err
	}

	secretEnc := ""
	if charge.ClientSecret != "" {
		if secretEnc, err = s.encSvc.Encrypt(charge.ClientSecret); err != nil {
			return nil, apperror.ErrEncryptionFailure(fmt.Errorf("encrypt client secret: %w", err))
		}
	}
	if err := s.payments.SetExternalRef(ctx, payment.ID, charge.ExternalID, secretEnc); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("store payment intent: %w", err))
	}

	s.log.Info().
		Str("payment_id", payment.ID.String()).
		Str("gift_card_id", card.ID.String()).
		Str("provider", string(in.Method)).
		Str("intent_id", charge.ExternalID).
		Msg("payment intent created")

	return &ports.IntentResult{
		PaymentID:    payment.ID,
		ClientSecret: charge.ClientSecret,
		OrderID:      charge.OrderID,
		Status:       domain.PaymentStatusPending,
	}, nil
}

// openPayment returns the card's PENDING payment, creating it when there is
// none. resumed reports that an existing payment was returned.
func (s *PaymentServiceImpl) openPayment(ctx context.Context, in ports.CreateIntentInput) (*domain.Payment, bool, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, false, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	card, err := s.cards.GetByIDForUpdate(ctx, dbTx, in.GiftCardID)
	if err != nil {
		return nil, false, apperror.InternalError(fmt.Errorf("lock gift card: %w", err))
	}
	if card == nil {
		return nil, false, apperror.ErrNotFound("gift card")
	}
	if card.Status != domain.GiftCardStatusPending {
		return nil, false, apperror.ErrInvalidState("gift card", string(card.Status))
	}

	existing, err := s.payments.GetPendingByGiftCard(ctx, dbTx, card.ID)
	if err != nil {
		return nil, false, apperror.InternalError(fmt.Errorf("get pending payment: %w", err))
	}
	if existing != nil {
		if existing.PaymentMethod != in.Method {
			return nil, false, apperror.Validation(fmt.Sprintf("a %s payment is already pending for this gift card", existing.PaymentMethod))
		}
		return existing, true, nil
	}

	now := s.now()
	payment := &domain.Payment{
		ID:             uuid.New(),
		GiftCardID:     card.ID,
		MerchantID:     card.MerchantID,
		Amount:         card.Value,
		Currency:       card.Currency,
		PaymentMethod:  in.Method,
		Status:         domain.PaymentStatusPending,
		RefundedAmount: decimal.Zero,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.payments.Create(ctx, dbTx, payment); err != nil {
		return nil, false, apperror.InternalError(fmt.Errorf("create payment: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, false, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}
	return payment, false, nil
}

// failPayment records a definitive charge rejection. The card stays PENDING
// so the buyer can try again.
func (s *PaymentServiceImpl) failPayment(ctx context.Context, paymentID uuid.UUID, cause error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		s.log.Error().Err(err).Str("payment_id", paymentID.String()).Msg("failed to mark payment failed")
		return
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	payment, err := s.payments.GetByIDForUpdate(ctx, dbTx, paymentID)
	if err != nil || payment == nil || payment.Status != domain.PaymentStatusPending {
		return
	}
	payment.Status = domain.PaymentStatusFailed
	payment.FailureReason = gatewayReason(cause)
	payment.UpdatedAt = s.now()
	if err := s.payments.Update(ctx, dbTx, payment); err != nil {
		s.log.Error().Err(err).Str("payment_id", paymentID.String()).Msg("failed to mark payment failed")
		return
	}
	if err := dbTx.Commit(ctx); err != nil {
		s.log.Error().Err(err).Str("payment_id", paymentID.String()).Msg("failed to mark payment failed")
		return
	}
	s.log.Warn().Str("payment_id", paymentID.String()).Str("reason", payment.FailureReason).Msg("payment failed at gateway")
}

// Confirm asks the provider for the charge outcome and applies it. Completed
// and refunded payments are returned unchanged.
func (s *PaymentServiceImpl) Confirm(ctx context.Context, merchantID, paymentID uuid.UUID, proof map[string]string) (*domain.Payment, error) {
	payment, err := s.Get(ctx, merchantID, paymentID)
	if err != nil {
		return nil, err
	}
	switch payment.Status {
	case domain.PaymentStatusCompleted, domain.PaymentStatusRefunded:
		return payment, nil
	}
	if payment.PaymentIntentID == "" {
		return nil, apperror.ErrInvalidState("payment", "not started at the gateway")
	}

	rg, err := s.resolver.Resolve(ctx, payment.MerchantID, payment.PaymentMethod)
	if err != nil {
		return nil, err
	}
	res, err := rg.Gateway.ConfirmCharge(ctx, rg.Credentials, ports.ConfirmRequest{
		ExternalID: payment.PaymentIntentID,
		Proof:      proof,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("payment_id", payment.ID.String()).Msg("charge confirmation failed")
		return nil, err
	}

	event := &domain.GatewayEvent{
		Provider:        payment.PaymentMethod,
		ExternalID:      payment.PaymentIntentID,
		ChargeReference: res.ChargeReference,
		Currency:        payment.Currency,
		FailureReason:   res.FailureReason,
	}
	switch res.Status {
	case ports.ChargeStatusSucceeded:
		event.Type = domain.EventChargeSucceeded
		if !res.Amount.IsZero() {
			amount := res.Amount
			event.Amount = &amount
		}
	case ports.ChargeStatusFailed:
		event.Type = domain.EventChargeFailed
	default:
		// Still in flight at the provider; the webhook will settle it.
		return payment, nil
	}

	if _, err := s.reconciler.Apply(ctx, event); err != nil {
		return nil, err
	}
	return s.Get(ctx, merchantID, paymentID)
}

// Refund returns purchase money to the buyer. A nil amount refunds what is
// left. Value already redeemed from the card is the merchant's loss to absorb.
func (s *PaymentServiceImpl) Refund(ctx context.Context, merchantID, paymentID uuid.UUID, amount *decimal.Decimal) (*ports.PaymentRefundResult, error) {
	payment, err := s.Get(ctx, merchantID, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != domain.PaymentStatusCompleted {
		return nil, apperror.ErrInvalidState("payment", string(payment.Status))
	}

	refundable := payment.Refundable()
	refundAmount := refundable
	if amount != nil {
		refundAmount = *amount
	}
	if !refundAmount.IsPositive() {
		return nil, apperror.Validation("refund amount must be greater than zero")
	}
	if err := money.CheckScale(refundAmount, payment.Currency); err != nil {
		return nil, apperror.Validation(err.Error())
	}
	if refundAmount.GreaterThan(refundable) {
		return nil, apperror.Validation(fmt.Sprintf("refund amount exceeds refundable %s", refundable.String()))
	}

	rg, err := s.resolver.Resolve(ctx, payment.MerchantID, payment.PaymentMethod)
	if err != nil {
		return nil, err
	}
	res, err := rg.Gateway.Refund(ctx, rg.Credentials, ports.RefundRequest{
		ExternalID:      payment.PaymentIntentID,
		ChargeReference: payment.RefundReference(),
		Amount:          &refundAmount,
		Currency:        payment.Currency,
		Reference:       uuid.NewString(),
	})
	if err != nil {
		s.log.Warn().Err(err).Str("payment_id", payment.ID.String()).Msg("refund rejected")
		return nil, err
	}
	if res.Status == ports.ChargeStatusFailed {
		return nil, apperror.ErrGateway("refund failed at the provider", fmt.Errorf("refund %s failed", res.RefundID))
	}

	result := &ports.PaymentRefundResult{
		PaymentID: payment.ID,
		RefundID:  res.RefundID,
		Status:    res.Status,
		Amount:    refundAmount,
		Payment:   payment.Status,
	}
	if res.Status != ports.ChargeStatusSucceeded {
		// Pending refunds settle through the refund webhook.
		return result, nil
	}

	if _, err := s.reconciler.Apply(ctx, &domain.GatewayEvent{
		Type:       domain.EventChargeRefunded,
		Provider:   payment.PaymentMethod,
		ExternalID: payment.PaymentIntentID,
		RefundID:   res.RefundID,
		Amount:     &refundAmount,
		Currency:   payment.Currency,
	}); err != nil {
		return nil, err
	}

	updated, err := s.Get(ctx, merchantID, paymentID)
	if err != nil {
		return nil, err
	}
	result.Payment = updated.Status

	s.log.Info().
		Str("payment_id", payment.ID.String()).
		Str("refund_id", res.RefundID).
		Str("amount", refundAmount.String()).
		Msg("payment refunded")
	return result, nil
}

// Get returns a payment owned by merchantID.
func (s *PaymentServiceImpl) Get(ctx context.Context, merchantID, paymentID uuid.UUID) (*domain.Payment, error) {
	payment, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get payment: %w", err))
	}
	if payment == nil || payment.MerchantID != merchantID {
		return nil, apperror.ErrNotFound("payment")
	}
	return payment, nil
}

// orderIDFor exposes the order id for providers whose checkout needs it.
func orderIDFor(p *domain.Payment) string {
	if p.PaymentMethod == domain.ProviderStripe {
		return ""
	}
	return p.PaymentIntentID
}

// gatewayReason is the client-safe part of a gateway error.
func gatewayReason(err error) string {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "gateway error"
}
