package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"giftcard-ledger/internal/adapter/storage/memory"
	"giftcard-ledger/internal/core/domain"
	"giftcard-ledger/internal/core/ports"
	"giftcard-ledger/internal/core/ports/mocks"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// harness wires the services over the in-memory store with mocked providers.
type harness struct {
	store       *memory.Store
	cards       *memory.GiftCardRepo
	txns        *memory.TransactionRepo
	redemptions *memory.RedemptionRepo
	payments    *memory.PaymentRepo
	payouts     *memory.PayoutRepo
	merchants   *memory.MerchantRepo
	gateways    *memory.GatewayRepo
	events      *memory.WebhookEventRepo
	cache       *memory.EventCache
	locker      *memory.Locker
	encSvc      *AESEncryptionService

	stripe *mocks.MockGateway
	paypal *mocks.MockGateway

	registry   *GatewayRegistry
	ledger     *LedgerServiceImpl
	reconciler *ReconcilerServiceImpl
	paymentSvc *PaymentServiceImpl
	payoutSvc  *PayoutServiceImpl
}

var testPolicy = PayoutPolicy{
	MinAmount:       decimal.NewFromInt(10),
	DefaultSchedule: domain.PayoutScheduleDaily,
	MaxRetries:      3,
	Workers:         4,
	DispatchLockTTL: time.Minute,
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctrl := gomock.NewController(t)
	log := zerolog.Nop()

	s := memory.NewStore()
	h := &harness{
		store:       s,
		cards:       memory.NewGiftCardRepo(s),
		txns:        memory.NewTransactionRepo(s),
		redemptions: memory.NewRedemptionRepo(s),
		payments:    memory.NewPaymentRepo(s),
		payouts:     memory.NewPayoutRepo(s),
		merchants:   memory.NewMerchantRepo(s),
		gateways:    memory.NewGatewayRepo(s),
		events:      memory.NewWebhookEventRepo(s),
		cache:       memory.NewEventCache(),
		locker:      memory.NewLocker(),
		stripe:      mocks.NewMockGateway(ctrl),
		paypal:      mocks.NewMockGateway(ctrl),
	}
	h.stripe.EXPECT().Provider().Return(domain.ProviderStripe).AnyTimes()
	h.paypal.EXPECT().Provider().Return(domain.ProviderPayPal).AnyTimes()

	var err error
	h.encSvc, err = NewAESEncryptionService(strings.Repeat("ab", 32))
	require.NoError(t, err)

	h.registry = NewGatewayRegistry(h.gateways, h.encSvc, log, h.stripe, h.paypal)
	h.ledger = NewLedgerService(h.cards, h.txns, h.redemptions, h.payments, h.merchants, s, log)
	h.reconciler = h.newReconciler(h.cache)
	h.paymentSvc = NewPaymentService(h.cards, h.payments, h.registry, h.reconciler, h.encSvc, s, log)
	h.payoutSvc = h.newPayoutService(testPolicy)
	return h
}

func (h *harness) newReconciler(cache ports.IdempotencyCache) *ReconcilerServiceImpl {
	return NewReconcilerService(ReconcilerRepos{
		Cards:     h.cards,
		Txns:      h.txns,
		Payments:  h.payments,
		Payouts:   h.payouts,
		Merchants: h.merchants,
		Gateways:  h.gateways,
		Events:    h.events,
	}, h.registry, h.store, cache, time.Hour, zerolog.Nop())
}

func (h *harness) newPayoutService(policy PayoutPolicy) *PayoutServiceImpl {
	return NewPayoutService(h.merchants, h.payouts, h.registry, h.reconciler, h.locker, h.store, policy, zerolog.Nop())
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decEqual(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), append([]any{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

func (h *harness) merchant(t *testing.T, balance string) *domain.Merchant {
	t.Helper()
	now := time.Now().UTC()
	m := &domain.Merchant{
		ID:        uuid.New(),
		Name:      "Corner Books",
		Balance:   dec(balance),
		Currency:  "USD",
		Status:    domain.MerchantStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, h.merchants.Create(context.Background(), m))
	return m
}

func (h *harness) merchantBalance(t *testing.T, id uuid.UUID) decimal.Decimal {
	t.Helper()
	m, err := h.merchants.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, m)
	return m.Balance
}

// connect stores verified credentials for provider.
func (h *harness) connect(t *testing.T, merchantID uuid.UUID, provider domain.Provider) *domain.MerchantGateway {
	t.Helper()
	sealed, err := sealCredentials(h.encSvc, ports.Credentials{
		KeyID:         "key_" + strings.ToLower(string(provider)),
		SecretKey:     "sk_test",
		WebhookSecret: "whsec_test",
		WebhookID:     "WH-1",
	})
	require.NoError(t, err)
	now := time.Now().UTC()
	gw := &domain.MerchantGateway{
		ID:                   uuid.New(),
		MerchantID:           merchantID,
		Provider:             provider,
		AccountID:            "acct_1",
		EncryptedCredentials: sealed,
		VerificationStatus:   domain.VerificationVerified,
		IsActive:             true,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	require.NoError(t, h.gateways.Upsert(context.Background(), gw))
	return gw
}

func (h *harness) issue(t *testing.T, merchantID uuid.UUID, value string, prepaid, partial bool) *domain.GiftCard {
	t.Helper()
	cards, err := h.ledger.Issue(context.Background(), ports.IssueInput{
		MerchantID:             merchantID,
		Value:                  dec(value),
		Currency:               "USD",
		AllowPartialRedemption: partial,
		Prepaid:                prepaid,
	})
	require.NoError(t, err)
	require.Len(t, cards, 1)
	return &cards[0]
}

func (h *harness) card(t *testing.T, id uuid.UUID) *domain.GiftCard {
	t.Helper()
	c, err := h.cards.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, c)
	return c
}

func (h *harness) payment(t *testing.T, id uuid.UUID) *domain.Payment {
	t.Helper()
	p, err := h.payments.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, p)
	return p
}

func (h *harness) payout(t *testing.T, id uuid.UUID) *domain.Payout {
	t.Helper()
	p, err := h.payouts.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, p)
	return p
}

// pendingPayment writes a PENDING payment for card that already has a
// provider intent, as CreateIntent would leave it.
func (h *harness) pendingPayment(t *testing.T, card *domain.GiftCard, provider domain.Provider, intentID string) *domain.Payment {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	p := &domain.Payment{
		ID:              uuid.New(),
		GiftCardID:      card.ID,
		MerchantID:      card.MerchantID,
		Amount:          card.Value,
		Currency:        card.Currency,
		PaymentMethod:   provider,
		PaymentIntentID: intentID,
		Status:          domain.PaymentStatusPending,
		RefundedAmount:  decimal.Zero,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	tx, err := h.store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, h.payments.Create(ctx, tx, p))
	require.NoError(t, tx.Commit(ctx))
	return p
}

// assertLedgerConsistent checks the per-card invariants from the
// transaction log.
func (h *harness) assertLedgerConsistent(t *testing.T, cardID uuid.UUID) *ports.AuditReport {
	t.Helper()
	report, err := h.ledger.Audit(context.Background(), cardID)
	require.NoError(t, err)
	assert.True(t, report.Consistent, "ledger inconsistent: %+v", report)
	assert.True(t, report.BalanceInRange, "balance out of range: %+v", report)
	return report
}

func countTxns(txns []domain.Transaction, typ domain.TransactionType) int {
	n := 0
	for _, t := range txns {
		if t.Type == typ {
			n++
		}
	}
	return n
}
