package service

import (
	"context"
	"fmt"
	"time"

	"giftcard-ledger/internal/core/domain"
	"giftcard-ledger/internal/core/ports"
	"giftcard-ledger/pkg/apperror"
	"giftcard-ledger/pkg/money"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	maxIssueCount    = 1000
	expirySweepBatch = 500
)

// LedgerServiceImpl implements ports.LedgerService.
type LedgerServiceImpl struct {
	cards       ports.GiftCardRepository
	txns        ports.TransactionRepository
	redemptions ports.RedemptionRepository
	payments    ports.PaymentRepository
	merchants   ports.MerchantRepository
	transactor  ports.DBTransactor
	now         ports.Clock
	log         zerolog.Logger
}

// NewLedgerService creates a new LedgerServiceImpl.
func NewLedgerService(
	cards ports.GiftCardRepository,
	txns ports.TransactionRepository,
	redemptions ports.RedemptionRepository,
	payments ports.PaymentRepository,
	merchants ports.MerchantRepository,
	transactor ports.DBTransactor,
	log zerolog.Logger,
) *LedgerServiceImpl {
	return &LedgerServiceImpl{
		cards:       cards,
		txns:        txns,
		redemptions: redemptions,
		payments:    payments,
		merchants:   merchants,
		transactor:  transactor,
		now:         func() time.Time { return time.Now().UTC() },
		log:         log,
	}
}

// Issue creates Count cards. Prepaid cards start ACTIVE with a PURCHASE row;
// the rest wait in PENDING with a zero balance until their payment completes.
func (s *LedgerServiceImpl) Issue(ctx context.Context, in ports.IssueInput) ([]domain.GiftCard, error) {
	currency := money.Normalize(in.Currency)
	if !money.ValidCurrency(currency) {
		return nil, apperror.Validation("currency must be a 3-letter ISO-4217 code")
	}
	if !in.Value.IsPositive() {
		return nil, apperror.Validation("value must be greater than zero")
	}
	if err := money.CheckScale(in.Value, currency); err != nil {
		return nil, apperror.Validation(err.Error())
	}
	count := in.Count
	if count == 0 {
		count = 1
	}
	if count < 1 || count > maxIssueCount {
		return nil, apperror.Validation(fmt.Sprintf("count must be between 1 and %d", maxIssueCount))
	}
	now := s.now()
	if in.ExpiryDate != nil && !in.ExpiryDate.After(now) {
		return nil, apperror.Validation("expiry date must be in the future")
	}

	merchant, err := s.merchants.GetByID(ctx, in.MerchantID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get merchant: %w", err))
	}
	if merchant == nil {
		return nil, apperror.ErrNotFound("merchant")
	}
	if !merchant.IsActive() {
		return nil, apperror.ErrInvalidState("merchant", string(merchant.Status))
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	cards := make([]domain.GiftCard, 0, count)
	for range count {
		code, err := newGiftCardCode()
		if err != nil {
			return nil, apperror.InternalError(err)
		}
		card := domain.GiftCard{
			ID:                     uuid.New(),
			MerchantID:             in.MerchantID,
			Code:                   code,
			Value:                  in.Value,
			Balance:                decimal.Zero,
			Currency:               currency,
			Status:                 domain.GiftCardStatusPending,
			AllowPartialRedemption: in.AllowPartialRedemption,
			ExpiryDate:             in.ExpiryDate,
			CreatedAt:              now,
			UpdatedAt:              now,
		}
		if in.Prepaid {
			card.Status = domain.GiftCardStatusActive
			card.Balance = in.Value
		}
		if err := s.cards.Create(ctx, dbTx, &card); err != nil {
			return nil, apperror.InternalError(fmt.Errorf("create gift card: %w", err))
		}
		if in.Prepaid {
			txn := domain.NewTransaction(&card, domain.TransactionTypePurchase, in.Value, decimal.Zero, in.Value, now)
			txn.Description = "prepaid issue"
			if err := s.txns.Create(ctx, dbTx, txn); err != nil {
				return nil, apperror.InternalError(fmt.Errorf("create transaction: %w", err))
			}
		}
		cards = append(cards, card)
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.log.Info().
		Str("merchant_id", in.MerchantID.String()).
		Int("count", count).
		Bool("prepaid", in.Prepaid).
		Str("value", in.Value.String()).
		Msg("gift cards issued")

	return cards, nil
}

func (s *LedgerServiceImpl) Get(ctx context.Context, merchantID, id uuid.UUID) (*domain.GiftCard, error) {
	card, err := s.cards.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get gift card: %w", err))
	}
	if card == nil || card.MerchantID != merchantID {
		return nil, apperror.ErrNotFound("gift card")
	}
	return card, nil
}

func (s *LedgerServiceImpl) GetByCode(ctx context.Context, merchantID uuid.UUID, code string) (*domain.GiftCard, error) {
	card, err := s.cards.GetByCode(ctx, normalizeCode(code))
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get gift card by code: %w", err))
	}
	if card == nil || card.MerchantID != merchantID {
		return nil, apperror.ErrNotFound("gift card")
	}
	return card, nil
}

func (s *LedgerServiceImpl) ListTransactions(ctx context.Context, merchantID, id uuid.UUID) ([]domain.Transaction, error) {
	if _, err := s.Get(ctx, merchantID, id); err != nil {
		return nil, err
	}
	txns, err := s.txns.ListByGiftCard(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list transactions: %w", err))
	}
	return txns, nil
}

// Redeem spends from a card under its row lock.
func (s *LedgerServiceImpl) Redeem(ctx context.Context, in ports.RedeemInput) (*ports.RedeemResult, error) {
	if !in.Amount.IsPositive() {
		return nil, apperror.Validation("amount must be greater than zero")
	}
	method := in.Method
	if method == "" {
		method = domain.RedemptionMethodAPI
	}
	if !method.Valid() {
		return nil, apperror.Validation("unknown redemption method")
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	card, err := s.cards.GetByIDForUpdate(ctx, dbTx, in.GiftCardID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock gift card: %w", err))
	}
	if card == nil || card.MerchantID != in.MerchantID {
		return nil, apperror.ErrNotFound("gift card")
	}

	now := s.now()
	if card.Status == domain.GiftCardStatusActive && card.IsExpired(now) {
		if err := s.expire(ctx, dbTx, card, now); err != nil {
			return nil, err
		}
		if err := dbTx.Commit(ctx); err != nil {
			return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
		}
		return nil, apperror.ErrInvalidState("gift card", string(domain.GiftCardStatusExpired))
	}
	if card.Status != domain.GiftCardStatusActive {
		return nil, apperror.ErrInvalidState("gift card", string(card.Status))
	}
	if err := money.CheckScale(in.Amount, card.Currency); err != nil {
		return nil, apperror.Validation(err.Error())
	}

	// Business rules
	if in.Amount.GreaterThan(card.Balance) {
		return nil, apperror.ErrInsufficientBalance()
	}
	if in.Amount.LessThan(card.Balance) && !card.AllowPartialRedemption {
		return nil, apperror.ErrPartialRedemptionNotAllowed()
	}

	before := card.Balance
	after := before.Sub(in.Amount)

	redemption := &domain.Redemption{
		ID:            uuid.New(),
		GiftCardID:    card.ID,
		MerchantID:    card.MerchantID,
		Amount:        in.Amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		Method:        method,
		Actor:         in.Actor,
		CreatedAt:     now,
	}
	txn := domain.NewTransaction(card, domain.TransactionTypeRedemption, in.Amount, before, after, now)
	txn.RedemptionID = &redemption.ID

	card.Balance = after
	if after.IsZero() {
		card.Status = domain.GiftCardStatusRedeemed
	}
	card.UpdatedAt = now

	if err := s.cards.Update(ctx, dbTx, card); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("update gift card: %w", err))
	}
	if err := s.redemptions.Create(ctx, dbTx, redemption); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("create redemption: %w", err))
	}
	if err := s.txns.Create(ctx, dbTx, txn); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("create transaction: %w", err))
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.log.Info().
		Str("gift_card_id", card.ID.String()).
		Str("redemption_id", redemption.ID.String()).
		Str("amount", in.Amount.String()).
		Str("balance_after", after.String()).
		Msg("gift card redeemed")

	return &ports.RedeemResult{
		BalanceAfter:  after,
		FullyRedeemed: after.IsZero(),
		Redemption:    redemption,
		Transaction:   txn,
	}, nil
}

// Refund credits value back to a card against a redemption or a payment. The
// credit is capped by what is left unrefunded on the source and by the card's
// face value.
func (s *LedgerServiceImpl) Refund(ctx context.Context, in ports.RefundInput) (*domain.Transaction, error) {
	if !in.Amount.IsPositive() {
		return nil, apperror.Validation("amount must be greater than zero")
	}
	if (in.PaymentID == nil) == (in.RedemptionID == nil) {
		return nil, apperror.Validation("exactly one of payment_id or redemption_id is required")
	}

	var redemption *domain.Redemption
	if in.RedemptionID != nil {
		r, err := s.redemptions.GetByID(ctx, *in.RedemptionID)
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("get redemption: %w", err))
		}
		if r == nil || r.GiftCardID != in.GiftCardID {
			return nil, apperror.ErrNotFound("redemption")
		}
		redemption = r
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	// Payment before card, the same order the reconciler locks in.
	var payment *domain.Payment
	if in.PaymentID != nil {
		payment, err = s.payments.GetByIDForUpdate(ctx, dbTx, *in.PaymentID)
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("lock payment: %w", err))
		}
		if payment == nil || payment.GiftCardID != in.GiftCardID {
			return nil, apperror.ErrNotFound("payment")
		}
		if payment.Status != domain.PaymentStatusCompleted {
			return nil, apperror.ErrInvalidState("payment", string(payment.Status))
		}
	}

	card, err := s.cards.GetByIDForUpdate(ctx, dbTx, in.GiftCardID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock gift card: %w", err))
	}
	if card == nil || card.MerchantID != in.MerchantID {
		return nil, apperror.ErrNotFound("gift card")
	}
	if card.Status != domain.GiftCardStatusActive && card.Status != domain.GiftCardStatusRedeemed {
		return nil, apperror.ErrInvalidState("gift card", string(card.Status))
	}
	if err := money.CheckScale(in.Amount, card.Currency); err != nil {
		return nil, apperror.Validation(err.Error())
	}

	var sourceAmount, alreadyRefunded decimal.Decimal
	if redemption != nil {
		sourceAmount = redemption.Amount
		alreadyRefunded, err = s.txns.SumRefundsForRedemption(ctx, dbTx, redemption.ID)
	} else {
		sourceAmount = payment.Amount
		alreadyRefunded, err = s.txns.SumRefundsForPayment(ctx, dbTx, payment.ID)
	}
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("sum refunds: %w", err))
	}
	if remaining := sourceAmount.Sub(alreadyRefunded); in.Amount.GreaterThan(remaining) {
		return nil, apperror.Validation(fmt.Sprintf("refund exceeds the refundable amount of %s", remaining.StringFixed(money.Exponent(card.Currency))))
	}

	credit := decimal.Min(in.Amount, card.Spent())
	if !credit.IsPositive() {
		return nil, apperror.Validation("gift card is already at full value")
	}

	now := s.now()
	before := card.Balance
	after := before.Add(credit)

	txn := domain.NewTransaction(card, domain.TransactionTypeRefund, credit, before, after, now)
	txn.RedemptionID = in.RedemptionID
	txn.PaymentID = in.PaymentID
	txn.Description = in.Description

	card.Balance = after
	if card.Status == domain.GiftCardStatusRedeemed && after.IsPositive() {
		card.Status = domain.GiftCardStatusActive
	}
	card.UpdatedAt = now

	if err := s.cards.Update(ctx, dbTx, card); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("update gift card: %w", err))
	}
	if err := s.txns.Create(ctx, dbTx, txn); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("create transaction: %w", err))
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.log.Info().
		Str("gift_card_id", card.ID.String()).
		Str("tx_id", txn.ID.String()).
		Str("amount", credit.String()).
		Str("balance_after", after.String()).
		Msg("gift card refund credited")

	return txn, nil
}

// Audit recomputes the balance bounds and value − balance == Σredeemed − Σrefunded
// from the transaction log.
func (s *LedgerServiceImpl) Audit(ctx context.Context, id uuid.UUID) (*ports.AuditReport, error) {
	card, err := s.cards.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get gift card: %w", err))
	}
	if card == nil {
		return nil, apperror.ErrNotFound("gift card")
	}
	txns, err := s.txns.ListByGiftCard(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list transactions: %w", err))
	}

	report := &ports.AuditReport{
		GiftCardID:       card.ID,
		Value:            card.Value,
		Balance:          card.Balance,
		TotalRedeemed:    decimal.Zero,
		TotalRefunded:    decimal.Zero,
		TransactionCount: len(txns),
	}
	for _, t := range txns {
		switch t.Type {
		case domain.TransactionTypeRedemption:
			report.TotalRedeemed = report.TotalRedeemed.Add(t.Amount)
		case domain.TransactionTypeRefund:
			report.TotalRefunded = report.TotalRefunded.Add(t.Amount)
		}
	}
	report.BalanceInRange = !card.Balance.IsNegative() && card.Balance.LessThanOrEqual(card.Value)

	if card.Status == domain.GiftCardStatusPending {
		report.Consistent = card.Balance.IsZero() && len(txns) == 0
	} else {
		report.Consistent = card.Spent().Equal(report.TotalRedeemed.Sub(report.TotalRefunded))
		if n := len(txns); n > 0 && !txns[n-1].BalanceAfter.Equal(card.Balance) {
			report.Consistent = false
		}
	}

	if !report.Consistent || !report.BalanceInRange {
		s.log.Error().
			Str("gift_card_id", card.ID.String()).
			Str("balance", card.Balance.String()).
			Str("redeemed", report.TotalRedeemed.String()).
			Str("refunded", report.TotalRefunded.String()).
			Msg("gift card ledger audit failed")
	}
	return report, nil
}

// ExpireDue marks ACTIVE cards past their expiry date as EXPIRED.
func (s *LedgerServiceImpl) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	ids, err := s.cards.ListExpiredActive(ctx, now, expirySweepBatch)
	if err != nil {
		return 0, apperror.InternalError(fmt.Errorf("list expired cards: %w", err))
	}

	expired := 0
	for _, id := range ids {
		ok, err := s.expireOne(ctx, id, now)
		if err != nil {
			return expired, err
		}
		if ok {
			expired++
		}
	}
	if expired > 0 {
		s.log.Info().Int("count", expired).Msg("gift cards expired")
	}
	return expired, nil
}

func (s *LedgerServiceImpl) expireOne(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return false, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	card, err := s.cards.GetByIDForUpdate(ctx, dbTx, id)
	if err != nil {
		return false, apperror.InternalError(fmt.Errorf("lock gift card: %w", err))
	}
	// Redeemed or extended since the scan.
	if card == nil || card.Status != domain.GiftCardStatusActive || !card.IsExpired(now) {
		return false, nil
	}
	if err := s.expire(ctx, dbTx, card, now); err != nil {
		return false, err
	}
	if err := dbTx.Commit(ctx); err != nil {
		return false, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}
	return true, nil
}

func (s *LedgerServiceImpl) expire(ctx context.Context, dbTx pgx.Tx, card *domain.GiftCard, now time.Time) error {
	card.Status = domain.GiftCardStatusExpired
	card.UpdatedAt = now
	if err := s.cards.Update(ctx, dbTx, card); err != nil {
		return apperror.InternalError(fmt.Errorf("expire gift card: %w", err))
	}
	s.log.Info().Str("gift_card_id", card.ID.String()).Msg("gift card expired")
	return nil
}
