package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"giftcard-ledger/internal/core/domain"
	"giftcard-ledger/internal/core/ports"
	"giftcard-ledger/internal/core/ports/mocks"
	"giftcard-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// stripeMerchant is a merchant paid out over Stripe on schedule.
func stripeMerchant(t *testing.T, h *harness, balance string, schedule domain.PayoutSchedule) *domain.Merchant {
	t.Helper()
	m := h.merchant(t, balance)
	h.connect(t, m.ID, domain.ProviderStripe)
	_, err := h.payoutSvc.UpdateSettings(context.Background(), domain.PayoutSettings{
		MerchantID:      m.ID,
		MinimumAmount:   dec("10"),
		Schedule:        schedule,
		PayoutMethod:    domain.PayoutMethodStripe,
		PayoutAccountID: "acct_dest",
	})
	require.NoError(t, err)
	return m
}

func requestPayout(t *testing.T, h *harness, merchantID uuid.UUID, amount string) *domain.Payout {
	t.Helper()
	p, err := h.payoutSvc.Request(context.Background(), ports.PayoutRequestInput{MerchantID: merchantID, Amount: dec(amount)})
	require.NoError(t, err)
	return p
}

func TestPayoutRequest_ReservesAvailableBalance(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m := h.merchant(t, "500")

	first := requestPayout(t, h, m.ID, "300")
	assert.Equal(t, domain.PayoutStatusPending, first.Status)
	assert.Equal(t, domain.PayoutMethodBankTransfer, first.PayoutMethod)
	assert.True(t, first.ScheduledFor.After(first.CreatedAt), "daily payouts wait for the next run")

	_, err := h.payoutSvc.Request(ctx, ports.PayoutRequestInput{MerchantID: m.ID, Amount: dec("250")})
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeValidation))

	requestPayout(t, h, m.ID, "200")

	bal, err := h.payoutSvc.AvailableBalance(ctx, m.ID)
	require.NoError(t, err)
	decEqual(t, "500", bal.MerchantBalance)
	decEqual(t, "500", bal.Reserved)
	decEqual(t, "0", bal.Available)
}

func TestPayoutRequest_ConcurrentRequestsNeverOverdraw(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m := h.merchant(t, "100")

	const n = 5
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = h.payoutSvc.Request(ctx, ports.PayoutRequestInput{MerchantID: m.ID, Amount: dec("30")})
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, apperror.Is(err, apperror.CodeValidation), "late request sees the reserved balance: %v", err)
	}
	assert.Equal(t, 3, succeeded)

	bal, err := h.payoutSvc.AvailableBalance(ctx, m.ID)
	require.NoError(t, err)
	decEqual(t, "10", bal.Available)
	decEqual(t, "100", h.merchantBalance(t, m.ID), "requests reserve, they do not debit")
}

func TestPayoutRequest_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m := h.merchant(t, "100")

	suspended := &domain.Merchant{
		ID:       uuid.New(),
		Name:     "Closed Shop",
		Balance:  dec("100"),
		Currency: "USD",
		Status:   domain.MerchantStatusSuspended,
	}
	require.NoError(t, h.merchants.Create(ctx, suspended))

	tests := []struct {
		name string
		in   ports.PayoutRequestInput
		code string
	}{
		{"zero", ports.PayoutRequestInput{MerchantID: m.ID, Amount: dec("0")}, apperror.CodeValidation},
		{"below minimum", ports.PayoutRequestInput{MerchantID: m.ID, Amount: dec("5")}, apperror.CodeValidation},
		{"too many decimals", ports.PayoutRequestInput{MerchantID: m.ID, Amount: dec("10.001")}, apperror.CodeValidation},
		{"unknown method", ports.PayoutRequestInput{MerchantID: m.ID, Amount: dec("20"), Method: "CHEQUE"}, apperror.CodeValidation},
		{"gateway not connected", ports.PayoutRequestInput{MerchantID: m.ID, Amount: dec("20"), Method: domain.PayoutMethodStripe}, apperror.CodeGatewayNotConfigured},
		{"below minimum before gateway check", ports.PayoutRequestInput{MerchantID: m.ID, Amount: dec("5"), Method: domain.PayoutMethodStripe}, apperror.CodeValidation},
		{"unknown merchant", ports.PayoutRequestInput{MerchantID: uuid.New(), Amount: dec("20")}, apperror.CodeNotFound},
		{"suspended merchant", ports.PayoutRequestInput{MerchantID: suspended.ID, Amount: dec("20")}, apperror.CodeInvalidState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.payoutSvc.Request(ctx, tt.in)
			require.Error(t, err)
			assert.True(t, apperror.Is(err, tt.code), "got %v", err)
		})
	}
}

func TestAvailableBalance_NegativeBalanceFloorsAtZero(t *testing.T) {
	h := newHarness(t)
	m := h.merchant(t, "-20")

	bal, err := h.payoutSvc.AvailableBalance(context.Background(), m.ID)
	require.NoError(t, err)
	decEqual(t, "-20", bal.MerchantBalance)
	decEqual(t, "0", bal.Available)
}

func TestUpdateSettings_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m := h.merchant(t, "0")

	valid := domain.PayoutSettings{
		MerchantID:    m.ID,
		MinimumAmount: dec("25"),
		Schedule:      domain.PayoutScheduleWeekly,
		PayoutMethod:  domain.PayoutMethodBankTransfer,
	}

	tests := []struct {
		name   string
		mutate func(*domain.PayoutSettings)
		code   string
	}{
		{"negative minimum", func(s *domain.PayoutSettings) { s.MinimumAmount = dec("-1") }, apperror.CodeValidation},
		{"unknown schedule", func(s *domain.PayoutSettings) { s.Schedule = "HOURLY" }, apperror.CodeValidation},
		{"unknown method", func(s *domain.PayoutSettings) { s.PayoutMethod = "CHEQUE" }, apperror.CodeValidation},
		{"minimum scale", func(s *domain.PayoutSettings) { s.MinimumAmount = dec("1.234") }, apperror.CodeValidation},
		{"unknown merchant", func(s *domain.PayoutSettings) { s.MerchantID = uuid.New() }, apperror.CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := valid
			tt.mutate(&in)
			_, err := h.payoutSvc.UpdateSettings(ctx, in)
			assert.True(t, apperror.Is(err, tt.code), "got %v", err)
		})
	}

	_, err := h.payoutSvc.UpdateSettings(ctx, valid)
	require.NoError(t, err)
	got, err := h.payoutSvc.GetSettings(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutScheduleWeekly, got.Schedule)
	decEqual(t, "25", got.MinimumAmount)

	defaults, err := h.payoutSvc.GetSettings(ctx, uuid.New())
	require.NoError(t, err)
	decEqual(t, "10", defaults.MinimumAmount)
	assert.Equal(t, domain.PayoutScheduleDaily, defaults.Schedule)
}

func TestPayoutRequest_ImmediateDispatchSettlesByWebhook(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m := stripeMerchant(t, h, "100", domain.PayoutScheduleImmediate)

	var sent ports.PayoutRequest
	h.stripe.EXPECT().CreatePayout(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ ports.Credentials, req ports.PayoutRequest) (*ports.PayoutResult, error) {
			sent = req
			return &ports.PayoutResult{PayoutID: "po_1", Status: ports.PayoutStatusPending}, nil
		})

	p := requestPayout(t, h, m.ID, "60")
	assert.Equal(t, domain.PayoutStatusProcessing, p.Status)
	assert.Equal(t, "po_1", p.ExternalPayoutID)
	assert.NotNil(t, p.ProcessedAt)
	assert.Equal(t, p.ID.String(), sent.Reference)
	assert.Equal(t, "acct_dest", sent.Destination)
	decEqual(t, "60", sent.Amount)
	decEqual(t, "100", h.merchantBalance(t, m.ID), "nothing is debited until the provider pays")

	outcome, err := h.reconciler.Apply(ctx, &domain.GatewayEvent{
		Provider:   domain.ProviderStripe,
		Type:       domain.EventPayoutPaid,
		ExternalID: "po_1",
	})
	require.NoError(t, err)
	assert.Equal(t, ports.OutcomeApplied, outcome)

	done := h.payout(t, p.ID)
	assert.Equal(t, domain.PayoutStatusCompleted, done.Status)
	assert.NotNil(t, done.CompletedAt)
	decEqual(t, "40", h.merchantBalance(t, m.ID))
}

func TestPayoutProcess_SynchronousPaid(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m := stripeMerchant(t, h, "100", domain.PayoutScheduleDaily)
	p := requestPayout(t, h, m.ID, "100")

	h.stripe.EXPECT().CreatePayout(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&ports.PayoutResult{PayoutID: "po_1", Status: ports.PayoutStatusPaid}, nil)

	done, err := h.payoutSvc.Process(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusCompleted, done.Status)
	decEqual(t, "0", h.merchantBalance(t, m.ID))

	// The provider's webhook for the same payout changes nothing.
	outcome, err := h.newReconciler(nil).Apply(ctx, &domain.GatewayEvent{
		Provider:   domain.ProviderStripe,
		Type:       domain.EventPayoutPaid,
		ExternalID: "po_1",
	})
	require.NoError(t, err)
	assert.Equal(t, ports.OutcomeDuplicate, outcome)
	decEqual(t, "0", h.merchantBalance(t, m.ID))
}

func TestPayoutProcess_RejectionThenRetry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m := stripeMerchant(t, h, "100", domain.PayoutScheduleDaily)
	p := requestPayout(t, h, m.ID, "80")

	var refs []string
	gomock.InOrder(
		h.stripe.EXPECT().CreatePayout(gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, _ ports.Credentials, req ports.PayoutRequest) (*ports.PayoutResult, error) {
				refs = append(refs, req.Reference)
				return nil, apperror.ErrGateway("Stripe rejected the request: account closed", nil)
			}),
		h.stripe.EXPECT().CreatePayout(gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, _ ports.Credentials, req ports.PayoutRequest) (*ports.PayoutResult, error) {
				refs = append(refs, req.Reference)
				return &ports.PayoutResult{PayoutID: "po_2", Status: ports.PayoutStatusPending}, nil
			}),
	)

	failed, err := h.payoutSvc.Process(ctx, p.ID)
	require.NoError(t, err, "provider rejections are reported on the payout")
	assert.Equal(t, domain.PayoutStatusFailed, failed.Status)
	assert.Contains(t, failed.FailureReason, "account closed")

	bal, err := h.payoutSvc.AvailableBalance(ctx, m.ID)
	require.NoError(t, err)
	decEqual(t, "100", bal.Available, "a failed payout releases its reservation")

	retried, err := h.payoutSvc.Retry(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusPending, retried.Status)
	assert.Equal(t, 1, retried.RetryCount)
	assert.Empty(t, retried.FailureReason)

	sent, err := h.payoutSvc.Process(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusProcessing, sent.Status)
	assert.Equal(t, "po_2", sent.ExternalPayoutID)
	require.Len(t, refs, 2)
	assert.Equal(t, p.ID.String(), refs[0])
	assert.Equal(t, p.ID.String()+"-1", refs[1], "each retry is a new provider payout")
}

// A provider returns the payout it already holds for a known reference, the
// way idempotency keys work. A retried payout must reach a fresh provider
// payout and settle from that payout's own events.
func TestPayoutRetry_SendsNewProviderPayout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m := stripeMerchant(t, h, "100", domain.PayoutScheduleDaily)
	p := requestPayout(t, h, m.ID, "80")

	byReference := map[string]string{}
	h.stripe.EXPECT().CreatePayout(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ ports.Credentials, req ports.PayoutRequest) (*ports.PayoutResult, error) {
			id, ok := byReference[req.Reference]
			if !ok {
				id = fmt.Sprintf("po_%d", len(byReference)+1)
				byReference[req.Reference] = id
			}
			return &ports.PayoutResult{PayoutID: id, Status: ports.PayoutStatusPending}, nil
		}).Times(2)

	first, err := h.payoutSvc.Process(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, "po_1", first.ExternalPayoutID)

	_, err = h.reconciler.Apply(ctx, &domain.GatewayEvent{
		Provider: domain.ProviderStripe, Type: domain.EventPayoutFailed, ExternalID: "po_1", FailureReason: "account closed",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusFailed, h.payout(t, p.ID).Status)

	_, err = h.payoutSvc.Retry(ctx, p.ID)
	require.NoError(t, err)
	second, err := h.payoutSvc.Process(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "po_2", second.ExternalPayoutID)

	h.stripe.EXPECT().GetPayout(gomock.Any(), gomock.Any(), "po_2").
		Return(&ports.PayoutResult{PayoutID: "po_2", Status: ports.PayoutStatusFailed, FailureReason: "account closed"}, nil)
	reconciled, err := h.payoutSvc.Reconcile(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusFailed, reconciled.Status)

	bal, err := h.payoutSvc.AvailableBalance(ctx, m.ID)
	require.NoError(t, err)
	decEqual(t, "100", bal.Available, "the failed retry releases its reservation")
}

func TestPayoutRetry_Limits(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	policy := testPolicy
	policy.MaxRetries = 1
	svc := h.newPayoutService(policy)
	m := stripeMerchant(t, h, "100", domain.PayoutScheduleDaily)

	h.stripe.EXPECT().CreatePayout(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, apperror.ErrGateway("Stripe rejected the request: invalid account", nil)).
		Times(2)

	p, err := svc.Request(ctx, ports.PayoutRequestInput{MerchantID: m.ID, Amount: dec("50")})
	require.NoError(t, err)

	_, err = svc.Retry(ctx, p.ID)
	assert.True(t, apperror.Is(err, apperror.CodeInvalidState), "only FAILED payouts are retried")

	_, err = svc.Process(ctx, p.ID)
	require.NoError(t, err)
	_, err = svc.Retry(ctx, p.ID)
	require.NoError(t, err)
	_, err = svc.Process(ctx, p.ID)
	require.NoError(t, err)

	_, err = svc.Retry(ctx, p.ID)
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeInvalidState))
	assert.Contains(t, err.Error(), "retry limit")
}

func TestPayoutRetry_RequiresAvailableBalance(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m := stripeMerchant(t, h, "100", domain.PayoutScheduleDaily)
	p := requestPayout(t, h, m.ID, "80")

	h.stripe.EXPECT().CreatePayout(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, apperror.ErrGateway("rejected", nil))
	_, err := h.payoutSvc.Process(ctx, p.ID)
	require.NoError(t, err)

	// Funds were reserved again by another request meanwhile.
	requestPayout(t, h, m.ID, "50")

	_, err = h.payoutSvc.Retry(ctx, p.ID)
	assert.True(t, apperror.Is(err, apperror.CodeValidation))
	assert.Equal(t, domain.PayoutStatusFailed, h.payout(t, p.ID).Status)
}

func TestPayoutReconcile_TransientFailureRedispatches(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m := stripeMerchant(t, h, "100", domain.PayoutScheduleDaily)
	p := requestPayout(t, h, m.ID, "70")

	var refs []string
	gomock.InOrder(
		h.stripe.EXPECT().CreatePayout(gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, _ ports.Credentials, req ports.PayoutRequest) (*ports.PayoutResult, error) {
				refs = append(refs, req.Reference)
				return nil, apperror.ErrGatewayUnavailable(nil)
			}),
		h.stripe.EXPECT().CreatePayout(gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, _ ports.Credentials, req ports.PayoutRequest) (*ports.PayoutResult, error) {
				refs = append(refs, req.Reference)
				return &ports.PayoutResult{PayoutID: "po_1", Status: ports.PayoutStatusPending}, nil
			}),
		h.stripe.EXPECT().GetPayout(gomock.Any(), gomock.Any(), "po_1").
			Return(&ports.PayoutResult{Status: ports.PayoutStatusPaid}, nil),
	)

	stuck, err := h.payoutSvc.Process(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusProcessing, stuck.Status)
	assert.Empty(t, stuck.ExternalPayoutID)

	sent, err := h.payoutSvc.Reconcile(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "po_1", sent.ExternalPayoutID)
	require.Len(t, refs, 2)
	assert.Equal(t, refs[0], refs[1])

	done, err := h.payoutSvc.Reconcile(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusCompleted, done.Status)
	decEqual(t, "30", h.merchantBalance(t, m.ID))

	_, err = h.payoutSvc.Reconcile(ctx, p.ID)
	assert.True(t, apperror.Is(err, apperror.CodeInvalidState))
}

func TestPayoutBankTransfer_CompletedByOperator(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m := h.merchant(t, "100")
	p := requestPayout(t, h, m.ID, "100")

	processing, err := h.payoutSvc.Process(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusProcessing, processing.Status)

	_, err = h.payoutSvc.Reconcile(ctx, p.ID)
	assert.True(t, apperror.Is(err, apperror.CodeValidation))

	done, err := h.payoutSvc.Complete(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusCompleted, done.Status)
	decEqual(t, "0", h.merchantBalance(t, m.ID))

	_, err = h.payoutSvc.Complete(ctx, p.ID)
	assert.True(t, apperror.Is(err, apperror.CodeInvalidState))
}

func TestPayoutProcess_DispatchesOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m := h.merchant(t, "100")
	p := requestPayout(t, h, m.ID, "40")

	_, err := h.payoutSvc.Process(ctx, p.ID)
	require.NoError(t, err)
	_, err = h.payoutSvc.Process(ctx, p.ID)
	assert.True(t, apperror.Is(err, apperror.CodeInvalidState))
}

func TestPayoutProcess_HeldLock(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m := h.merchant(t, "100")
	p := requestPayout(t, h, m.ID, "40")

	release, ok, err := h.locker.Acquire(ctx, payoutDispatchLockPrefix+p.ID.String(), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = h.payoutSvc.Process(ctx, p.ID)
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeInvalidState))
	assert.Equal(t, domain.PayoutStatusPending, h.payout(t, p.ID).Status)

	require.NoError(t, release(ctx))
	_, err = h.payoutSvc.Process(ctx, p.ID)
	require.NoError(t, err)
}

func TestPayoutProcess_LockerError(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	locker := mocks.NewMockDispatchLocker(ctrl)
	locker.EXPECT().Acquire(gomock.Any(), gomock.Any(), testPolicy.DispatchLockTTL).
		Return(nil, false, assert.AnError)

	svc := NewPayoutService(h.merchants, h.payouts, h.registry, h.reconciler, locker, h.store, testPolicy, zerolog.Nop())
	_, err := svc.Process(ctx, uuid.New())
	assert.True(t, apperror.Is(err, apperror.CodeInternal))
}

func TestPayoutCancel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m := h.merchant(t, "100")
	p := requestPayout(t, h, m.ID, "100")

	_, err := h.payoutSvc.Cancel(ctx, uuid.New(), p.ID)
	assert.True(t, apperror.Is(err, apperror.CodeNotFound))

	cancelled, err := h.payoutSvc.Cancel(ctx, m.ID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusCancelled, cancelled.Status)

	bal, err := h.payoutSvc.AvailableBalance(ctx, m.ID)
	require.NoError(t, err)
	decEqual(t, "100", bal.Available)

	_, err = h.payoutSvc.Cancel(ctx, m.ID, p.ID)
	assert.True(t, apperror.Is(err, apperror.CodeInvalidState))
}

func TestPayoutList(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m := h.merchant(t, "100")
	other := h.merchant(t, "100")
	for range 3 {
		requestPayout(t, h, m.ID, "10")
	}
	requestPayout(t, h, other.ID, "10")

	page, total, err := h.payoutSvc.List(ctx, ports.PayoutListParams{MerchantID: m.ID, Limit: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Len(t, page, 2)

	pending := domain.PayoutStatusPending
	_, total, err = h.payoutSvc.List(ctx, ports.PayoutListParams{MerchantID: m.ID, Status: &pending, Limit: 500})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
}

func TestPayoutRunBatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m := stripeMerchant(t, h, "500", domain.PayoutScheduleDaily)

	paid := requestPayout(t, h, m.ID, "100")
	inFlight := requestPayout(t, h, m.ID, "150")
	rejected := requestPayout(t, h, m.ID, "200")

	h.stripe.EXPECT().CreatePayout(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ ports.Credentials, req ports.PayoutRequest) (*ports.PayoutResult, error) {
			switch req.Reference {
			case paid.ID.String():
				return &ports.PayoutResult{PayoutID: "po_paid", Status: ports.PayoutStatusPaid}, nil
			case inFlight.ID.String():
				return &ports.PayoutResult{PayoutID: "po_pending", Status: ports.PayoutStatusPending}, nil
			default:
				return nil, apperror.ErrGateway("rejected", nil)
			}
		}).
		Times(3)

	// Nothing is due before the next daily run.
	early, err := h.payoutSvc.RunBatch(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, ports.BatchResult{}, *early)

	res, err := h.payoutSvc.RunBatch(ctx, time.Now().UTC().Add(48*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Dispatched)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 0, res.Skipped)

	assert.Equal(t, domain.PayoutStatusCompleted, h.payout(t, paid.ID).Status)
	assert.Equal(t, domain.PayoutStatusProcessing, h.payout(t, inFlight.ID).Status)
	assert.Equal(t, domain.PayoutStatusFailed, h.payout(t, rejected.ID).Status)
	decEqual(t, "400", h.merchantBalance(t, m.ID))
}
