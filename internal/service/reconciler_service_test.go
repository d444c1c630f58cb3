package service

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"giftcard-ledger/internal/core/domain"
	"giftcard-ledger/internal/core/ports"
	"giftcard-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func chargeSucceeded(intentID string) *domain.GatewayEvent {
	return &domain.GatewayEvent{
		EventID:         "evt_" + intentID,
		Provider:        domain.ProviderStripe,
		Type:            domain.EventChargeSucceeded,
		ExternalID:      intentID,
		ChargeReference: "ch_" + intentID,
	}
}

func refundEvent(externalID, refundID, amount string) *domain.GatewayEvent {
	e := &domain.GatewayEvent{
		Provider:   domain.ProviderStripe,
		Type:       domain.EventChargeRefunded,
		ExternalID: externalID,
		RefundID:   refundID,
	}
	if amount != "" {
		a := dec(amount)
		e.Amount = &a
	}
	return e
}

// purchased sets up a merchant with a card bought through Stripe intent pi_1.
func purchased(t *testing.T, h *harness, value string) (*domain.Merchant, *domain.GiftCard, *domain.Payment) {
	t.Helper()
	m := h.merchant(t, "0")
	h.connect(t, m.ID, domain.ProviderStripe)
	card := h.issue(t, m.ID, value, false, true)
	payment := h.pendingPayment(t, card, domain.ProviderStripe, "pi_1")
	return m, card, payment
}

func TestApply_ChargeSucceededFundsCard(t *testing.T) {
	h := newHarness(t)
	m, card, payment := purchased(t, h, "50")

	outcome, err := h.reconciler.Apply(context.Background(), chargeSucceeded("pi_1"))
	require.NoError(t, err)
	assert.Equal(t, ports.OutcomeApplied, outcome)

	p := h.payment(t, payment.ID)
	assert.Equal(t, domain.PaymentStatusCompleted, p.Status)
	assert.Equal(t, "ch_pi_1", p.ChargeReference)

	c := h.card(t, card.ID)
	assert.Equal(t, domain.GiftCardStatusActive, c.Status)
	decEqual(t, "50", c.Balance)

	txns, err := h.txns.ListByGiftCard(context.Background(), card.ID)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, domain.TransactionTypePurchase, txns[0].Type)
	assert.Equal(t, payment.ID, *txns[0].PaymentID)

	decEqual(t, "50", h.merchantBalance(t, m.ID))
	h.assertLedgerConsistent(t, card.ID)
}

func TestApply_DuplicateDeliveryChangesStateOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m, card, _ := purchased(t, h, "50")

	outcome, err := h.reconciler.Apply(ctx, chargeSucceeded("pi_1"))
	require.NoError(t, err)
	assert.Equal(t, ports.OutcomeApplied, outcome)

	redelivery := chargeSucceeded("pi_1")
	redelivery.EventID = "evt_other"
	outcome, err = h.reconciler.Apply(ctx, redelivery)
	require.NoError(t, err)
	assert.Equal(t, ports.OutcomeDuplicate, outcome)

	// Without the cache the database key still holds.
	cold := h.newReconciler(nil)
	outcome, err = cold.Apply(ctx, chargeSucceeded("pi_1"))
	require.NoError(t, err)
	assert.Equal(t, ports.OutcomeDuplicate, outcome)

	txns, err := h.txns.ListByGiftCard(ctx, card.ID)
	require.NoError(t, err)
	assert.Len(t, txns, 1)
	decEqual(t, "50", h.merchantBalance(t, m.ID))
}

func TestApply_ConcurrentDeliveryAppliesOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m, card, payment := purchased(t, h, "50")
	reconciler := h.newReconciler(nil)

	const n = 4
	var wg sync.WaitGroup
	outcomes := make([]ports.ApplyOutcome, n)
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i], errs[i] = reconciler.Apply(ctx, chargeSucceeded("pi_1"))
		}()
	}
	wg.Wait()

	applied := 0
	for i := range n {
		require.NoError(t, errs[i])
		if outcomes[i] == ports.OutcomeApplied {
			applied++
			continue
		}
		assert.Equal(t, ports.OutcomeDuplicate, outcomes[i])
	}
	assert.Equal(t, 1, applied)

	txns, err := h.txns.ListByGiftCard(ctx, card.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, countTxns(txns, domain.TransactionTypePurchase))
	assert.Equal(t, domain.PaymentStatusCompleted, h.payment(t, payment.ID).Status)
	decEqual(t, "50", h.merchantBalance(t, m.ID))
	h.assertLedgerConsistent(t, card.ID)
}

func TestApply_ChargeFailedKeepsCardPending(t *testing.T) {
	h := newHarness(t)
	_, card, payment := purchased(t, h, "50")

	outcome, err := h.reconciler.Apply(context.Background(), &domain.GatewayEvent{
		Provider:      domain.ProviderStripe,
		Type:          domain.EventChargeFailed,
		ExternalID:    "pi_1",
		FailureReason: "card_declined",
	})
	require.NoError(t, err)
	assert.Equal(t, ports.OutcomeApplied, outcome)

	p := h.payment(t, payment.ID)
	assert.Equal(t, domain.PaymentStatusFailed, p.Status)
	assert.Equal(t, "card_declined", p.FailureReason)
	assert.Equal(t, domain.GiftCardStatusPending, h.card(t, card.ID).Status)
}

func TestApply_LateSuccessAfterFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, card, payment := purchased(t, h, "50")

	_, err := h.reconciler.Apply(ctx, &domain.GatewayEvent{Provider: domain.ProviderStripe, Type: domain.EventChargeFailed, ExternalID: "pi_1"})
	require.NoError(t, err)
	_, err = h.reconciler.Apply(ctx, chargeSucceeded("pi_1"))
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusCompleted, h.payment(t, payment.ID).Status)
	assert.Equal(t, domain.GiftCardStatusActive, h.card(t, card.ID).Status)
}

func TestApply_UnknownTargetIsIgnored(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	outcome, err := h.reconciler.Apply(ctx, chargeSucceeded("pi_unknown"))
	require.NoError(t, err)
	assert.Equal(t, ports.OutcomeIgnored, outcome)

	outcome, err = h.reconciler.Apply(ctx, &domain.GatewayEvent{Provider: domain.ProviderStripe, Type: domain.EventPayoutPaid, ExternalID: "po_unknown"})
	require.NoError(t, err)
	assert.Equal(t, ports.OutcomeIgnored, outcome)

	outcome, err = h.reconciler.Apply(ctx, &domain.GatewayEvent{Provider: domain.ProviderStripe, Type: domain.EventUnhandled, RawType: "customer.created", ExternalID: "cus_1"})
	require.NoError(t, err)
	assert.Equal(t, ports.OutcomeIgnored, outcome)
}

func TestApply_RefundBeforeChargeIsRetryable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m, _, payment := purchased(t, h, "50")

	_, err := h.reconciler.Apply(ctx, refundEvent("pi_1", "re_1", "50"))
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeInvalidState))

	_, err = h.reconciler.Apply(ctx, chargeSucceeded("pi_1"))
	require.NoError(t, err)

	outcome, err := h.reconciler.Apply(ctx, refundEvent("pi_1", "re_1", "50"))
	require.NoError(t, err)
	assert.Equal(t, ports.OutcomeApplied, outcome, "the early delivery left no key behind")
	assert.Equal(t, domain.PaymentStatusRefunded, h.payment(t, payment.ID).Status)
	decEqual(t, "0", h.merchantBalance(t, m.ID))
}

func TestApply_PartialThenFullRefund(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m, card, payment := purchased(t, h, "50")
	_, err := h.reconciler.Apply(ctx, chargeSucceeded("pi_1"))
	require.NoError(t, err)

	outcome, err := h.reconciler.Apply(ctx, refundEvent("pi_1", "re_1", "20"))
	require.NoError(t, err)
	assert.Equal(t, ports.OutcomeApplied, outcome)

	p := h.payment(t, payment.ID)
	assert.Equal(t, domain.PaymentStatusCompleted, p.Status)
	decEqual(t, "20", p.RefundedAmount)
	decEqual(t, "30", h.merchantBalance(t, m.ID))
	assert.Equal(t, domain.GiftCardStatusActive, h.card(t, card.ID).Status)

	outcome, err = h.reconciler.Apply(ctx, refundEvent("pi_1", "re_1", "20"))
	require.NoError(t, err)
	assert.Equal(t, ports.OutcomeDuplicate, outcome)

	// No amount: refund whatever is left.
	outcome, err = h.reconciler.Apply(ctx, refundEvent("pi_1", "re_2", ""))
	require.NoError(t, err)
	assert.Equal(t, ports.OutcomeApplied, outcome)

	p = h.payment(t, payment.ID)
	assert.Equal(t, domain.PaymentStatusRefunded, p.Status)
	decEqual(t, "50", p.RefundedAmount)
	decEqual(t, "0", h.merchantBalance(t, m.ID))

	c := h.card(t, card.ID)
	assert.Equal(t, domain.GiftCardStatusCancelled, c.Status)
	decEqual(t, "50", c.Balance, "cancellation freezes the balance")
	h.assertLedgerConsistent(t, card.ID)
}

func TestApply_CumulativeRefundTotal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, _, payment := purchased(t, h, "50")
	_, err := h.reconciler.Apply(ctx, chargeSucceeded("pi_1"))
	require.NoError(t, err)

	total := dec("35")
	_, err = h.reconciler.Apply(ctx, &domain.GatewayEvent{
		Provider:      domain.ProviderStripe,
		Type:          domain.EventChargeRefunded,
		ExternalID:    "pi_1",
		RefundID:      "re_a",
		RefundedTotal: &total,
	})
	require.NoError(t, err)
	decEqual(t, "35", h.payment(t, payment.ID).RefundedAmount)
}

func TestApply_RefundKeyIsCanonical(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m, _, _ := purchased(t, h, "50")
	_, err := h.reconciler.Apply(ctx, chargeSucceeded("pi_1"))
	require.NoError(t, err)

	// The webhook names the charge, the synchronous path names the intent.
	outcome, err := h.reconciler.Apply(ctx, refundEvent("ch_pi_1", "re_1", "10"))
	require.NoError(t, err)
	assert.Equal(t, ports.OutcomeApplied, outcome)

	outcome, err = h.newReconciler(nil).Apply(ctx, refundEvent("pi_1", "re_1", "10"))
	require.NoError(t, err)
	assert.Equal(t, ports.OutcomeDuplicate, outcome)

	decEqual(t, "40", h.merchantBalance(t, m.ID))
}

func refundTotalEvent(eventID, total string) *domain.GatewayEvent {
	v := dec(total)
	return &domain.GatewayEvent{
		EventID:       eventID,
		Provider:      domain.ProviderStripe,
		Type:          domain.EventChargeRefunded,
		ExternalID:    "ch_pi_1",
		RefundID:      eventID,
		RefundedTotal: &v,
	}
}

func TestApply_RefundTotalThenIndividualRefund(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m, card, payment := purchased(t, h, "100")
	_, err := h.reconciler.Apply(ctx, chargeSucceeded("pi_1"))
	require.NoError(t, err)

	// The charge.refunded webhook without a refund list lands first.
	outcome, err := h.reconciler.Apply(ctx, refundTotalEvent("evt_1", "30"))
	require.NoError(t, err)
	assert.Equal(t, ports.OutcomeApplied, outcome)
	decEqual(t, "30", h.payment(t, payment.ID).RefundedAmount)
	decEqual(t, "70", h.merchantBalance(t, m.ID))

	// The synchronous result for the same money settles against it.
	outcome, err = h.reconciler.Apply(ctx, refundEvent("pi_1", "re_1", "30"))
	require.NoError(t, err)
	assert.Equal(t, ports.OutcomeApplied, outcome)

	p := h.payment(t, payment.ID)
	decEqual(t, "30", p.RefundedAmount)
	decEqual(t, "0", p.UnattributedRefund)
	decEqual(t, "70", h.merchantBalance(t, m.ID))

	// A genuinely new refund still books.
	_, err = h.reconciler.Apply(ctx, refundEvent("pi_1", "re_2", "20"))
	require.NoError(t, err)
	decEqual(t, "50", h.payment(t, payment.ID).RefundedAmount)
	decEqual(t, "50", h.merchantBalance(t, m.ID))
	assert.Equal(t, domain.GiftCardStatusActive, h.card(t, card.ID).Status)
}

func TestApply_IndividualRefundThenRefundTotal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m, _, payment := purchased(t, h, "100")
	_, err := h.reconciler.Apply(ctx, chargeSucceeded("pi_1"))
	require.NoError(t, err)

	_, err = h.reconciler.Apply(ctx, refundEvent("pi_1", "re_1", "30"))
	require.NoError(t, err)
	_, err = h.reconciler.Apply(ctx, refundTotalEvent("evt_1", "30"))
	require.NoError(t, err)

	p := h.payment(t, payment.ID)
	decEqual(t, "30", p.RefundedAmount)
	decEqual(t, "0", p.UnattributedRefund)
	decEqual(t, "70", h.merchantBalance(t, m.ID))
}

func TestApply_RefundTotalCoversSeveralRefunds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m, _, payment := purchased(t, h, "100")
	_, err := h.reconciler.Apply(ctx, chargeSucceeded("pi_1"))
	require.NoError(t, err)

	_, err = h.reconciler.Apply(ctx, refundTotalEvent("evt_1", "30"))
	require.NoError(t, err)
	_, err = h.reconciler.Apply(ctx, refundEvent("pi_1", "re_1", "20"))
	require.NoError(t, err)
	decEqual(t, "10", h.payment(t, payment.ID).UnattributedRefund)

	_, err = h.reconciler.Apply(ctx, refundEvent("pi_1", "re_2", "25"))
	require.NoError(t, err)

	p := h.payment(t, payment.ID)
	decEqual(t, "45", p.RefundedAmount)
	decEqual(t, "0", p.UnattributedRefund)
	decEqual(t, "55", h.merchantBalance(t, m.ID))
}

func processingPayout(t *testing.T, h *harness, merchantID uuid.UUID, amount, externalID string) *domain.Payout {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	p := &domain.Payout{
		ID:               uuid.New(),
		MerchantID:       merchantID,
		Amount:           dec(amount),
		NetAmount:        dec(amount),
		Currency:         "USD",
		Status:           domain.PayoutStatusProcessing,
		PayoutMethod:     domain.PayoutMethodStripe,
		ExternalPayoutID: externalID,
		ScheduledFor:     now,
		ProcessedAt:      &now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	tx, err := h.store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, h.payouts.Create(ctx, tx, p))
	require.NoError(t, tx.Commit(ctx))
	return p
}

func TestApply_PayoutTransitions(t *testing.T) {
	tests := []struct {
		name       string
		event      domain.EventType
		wantStatus domain.PayoutStatus
		wantBal    string
	}{
		{"paid", domain.EventPayoutPaid, domain.PayoutStatusCompleted, "60"},
		{"failed", domain.EventPayoutFailed, domain.PayoutStatusFailed, "100"},
		{"canceled", domain.EventPayoutCanceled, domain.PayoutStatusCancelled, "100"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			m := h.merchant(t, "100")
			payout := processingPayout(t, h, m.ID, "40", "po_1")

			outcome, err := h.reconciler.Apply(context.Background(), &domain.GatewayEvent{
				Provider:      domain.ProviderStripe,
				Type:          tt.event,
				ExternalID:    "po_1",
				FailureReason: "account_closed",
			})
			require.NoError(t, err)
			assert.Equal(t, ports.OutcomeApplied, outcome)

			got := h.payout(t, payout.ID)
			assert.Equal(t, tt.wantStatus, got.Status)
			decEqual(t, tt.wantBal, h.merchantBalance(t, m.ID))
			if tt.wantStatus == domain.PayoutStatusCompleted {
				assert.NotNil(t, got.CompletedAt)
			}
		})
	}
}

func TestApply_PayoutPaidTwiceDebitsOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m := h.merchant(t, "100")
	processingPayout(t, h, m.ID, "40", "po_1")

	event := &domain.GatewayEvent{Provider: domain.ProviderStripe, Type: domain.EventPayoutPaid, ExternalID: "po_1"}
	_, err := h.reconciler.Apply(ctx, event)
	require.NoError(t, err)
	outcome, err := h.newReconciler(nil).Apply(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, ports.OutcomeDuplicate, outcome)
	decEqual(t, "60", h.merchantBalance(t, m.ID))
}

func TestHandleWebhook_VerifiesAndApplies(t *testing.T) {
	h := newHarness(t)
	m, card, _ := purchased(t, h, "25")
	gw, err := h.gateways.GetByMerchantProvider(context.Background(), m.ID, domain.ProviderStripe)
	require.NoError(t, err)

	payload := []byte(`{"id":"evt_1"}`)
	header := http.Header{"Stripe-Signature": []string{"t=1,v1=abc"}}
	h.stripe.EXPECT().
		VerifyWebhook(gomock.Any(), gomock.Any(), payload, header).
		DoAndReturn(func(_ context.Context, creds ports.Credentials, _ []byte, _ http.Header) (*domain.GatewayEvent, error) {
			assert.Equal(t, "whsec_test", creds.WebhookSecret)
			return chargeSucceeded("pi_1"), nil
		}).
		Times(2)

	outcome, err := h.reconciler.HandleWebhook(context.Background(), domain.ProviderStripe, gw.ID, payload, header)
	require.NoError(t, err)
	assert.Equal(t, ports.OutcomeApplied, outcome)

	outcome, err = h.reconciler.HandleWebhook(context.Background(), domain.ProviderStripe, gw.ID, payload, header)
	require.NoError(t, err)
	assert.Equal(t, ports.OutcomeDuplicate, outcome)

	txns, err := h.txns.ListByGiftCard(context.Background(), card.ID)
	require.NoError(t, err)
	assert.Len(t, txns, 1)
}

func TestHandleWebhook_Rejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m, card, _ := purchased(t, h, "25")
	gw, err := h.gateways.GetByMerchantProvider(ctx, m.ID, domain.ProviderStripe)
	require.NoError(t, err)

	h.stripe.EXPECT().VerifyWebhook(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, apperror.ErrInvalidSignature())
	_, err = h.reconciler.HandleWebhook(ctx, domain.ProviderStripe, gw.ID, []byte(`{}`), http.Header{})
	assert.True(t, apperror.Is(err, apperror.CodeSignature))

	_, err = h.reconciler.HandleWebhook(ctx, domain.ProviderStripe, uuid.New(), []byte(`{}`), http.Header{})
	assert.True(t, apperror.Is(err, apperror.CodeSignature), "unknown gateway looks like a bad signature")

	_, err = h.reconciler.HandleWebhook(ctx, domain.ProviderPayPal, gw.ID, []byte(`{}`), http.Header{})
	assert.True(t, apperror.Is(err, apperror.CodeSignature), "gateway belongs to another provider")

	assert.Equal(t, domain.GiftCardStatusPending, h.card(t, card.ID).Status)
}

func TestHandleWebhook_AccountUpdated(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m := h.merchant(t, "0")
	gw := h.connect(t, m.ID, domain.ProviderStripe)

	tx, err := h.store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, h.gateways.UpdateStatus(ctx, tx, gw.ID, domain.VerificationPending, true))
	require.NoError(t, tx.Commit(ctx))

	verified := true
	h.stripe.EXPECT().VerifyWebhook(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(&domain.GatewayEvent{
		EventID:         "evt_acct",
		Type:            domain.EventAccountUpdated,
		ExternalID:      "acct_1",
		AccountVerified: &verified,
	}, nil).Times(2)

	outcome, err := h.reconciler.HandleWebhook(ctx, domain.ProviderStripe, gw.ID, []byte(`{}`), http.Header{})
	require.NoError(t, err)
	assert.Equal(t, ports.OutcomeApplied, outcome)

	got, err := h.gateways.GetByID(ctx, gw.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.VerificationVerified, got.VerificationStatus)

	outcome, err = h.reconciler.HandleWebhook(ctx, domain.ProviderStripe, gw.ID, []byte(`{}`), http.Header{})
	require.NoError(t, err)
	assert.Equal(t, ports.OutcomeDuplicate, outcome)
}

func TestApply_AmountMismatchStillCompletes(t *testing.T) {
	h := newHarness(t)
	_, _, payment := purchased(t, h, "50")

	event := chargeSucceeded("pi_1")
	odd := decimal.NewFromInt(49)
	event.Amount = &odd
	_, err := h.reconciler.Apply(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCompleted, h.payment(t, payment.ID).Status)
}
