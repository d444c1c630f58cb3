package service

import (
	"context"
	"fmt"
	"time"

	"giftcard-ledger/internal/core/domain"
	"giftcard-ledger/internal/core/ports"
	"giftcard-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// PayoutPolicy holds the deployment-wide payout defaults.
type PayoutPolicy struct {
	// MinAmount applies to merchants without a settings row.
	MinAmount       decimal.Decimal
	DefaultSchedule domain.PayoutSchedule
	MaxRetries      int
	Workers         int
	DispatchLockTTL time.Duration
}

// payoutCalculator derives what a merchant may withdraw. Every reservation
// happens under the merchant row lock, so two requests cannot both spend the
// same available balance.
type payoutCalculator struct {
	merchants  ports.MerchantRepository
	payouts    ports.PayoutRepository
	transactor ports.DBTransactor
	policy     PayoutPolicy
}

// settings returns the merchant's payout settings, or the defaults.
func (c *payoutCalculator) settings(ctx context.Context, merchantID uuid.UUID) (*domain.PayoutSettings, error) {
	s, err := c.merchants.GetPayoutSettings(ctx, merchantID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get payout settings: %w", err))
	}
	if s != nil {
		return s, nil
	}
	return &domain.PayoutSettings{
		MerchantID:    merchantID,
		MinimumAmount: c.policy.MinAmount,
		Schedule:      c.policy.DefaultSchedule,
		PayoutMethod:  domain.PayoutMethodBankTransfer,
	}, nil
}

// available is balance minus in-flight payouts, floored at zero. The balance
// can go negative when a purchase is refunded after being paid out.
func (c *payoutCalculator) available(ctx context.Context, dbTx pgx.Tx, m *domain.Merchant) (reserved, available decimal.Decimal, err error) {
	reserved, err = c.payouts.SumInFlight(ctx, dbTx, m.ID)
	if err != nil {
		return decimal.Zero, decimal.Zero, apperror.InternalError(fmt.Errorf("sum in-flight payouts: %w", err))
	}
	available = m.Balance.Sub(reserved)
	if available.IsNegative() {
		available = decimal.Zero
	}
	return reserved, available, nil
}

// balance reads a consistent snapshot in a short read transaction.
func (c *payoutCalculator) balance(ctx context.Context, merchantID uuid.UUID) (*ports.Balance, error) {
	dbTx, err := c.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	m, err := c.merchants.GetByIDForUpdate(ctx, dbTx, merchantID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get merchant: %w", err))
	}
	if m == nil {
		return nil, apperror.ErrNotFound("merchant")
	}
	reserved, available, err := c.available(ctx, dbTx, m)
	if err != nil {
		return nil, err
	}
	return &ports.Balance{
		MerchantBalance: m.Balance,
		Reserved:        reserved,
		Available:       available,
		Currency:        m.Currency,
	}, nil
}

// reserve checks that amount can be withdrawn by the locked merchant m.
func (c *payoutCalculator) reserve(ctx context.Context, dbTx pgx.Tx, m *domain.Merchant, amount decimal.Decimal, settings *domain.PayoutSettings) error {
	if amount.LessThan(settings.MinimumAmount) {
		return apperror.Validation(fmt.Sprintf("payout amount is below the minimum of %s", settings.MinimumAmount.String()))
	}
	_, available, err := c.available(ctx, dbTx, m)
	if err != nil {
		return err
	}
	if amount.GreaterThan(available) {
		return apperror.Validation(fmt.Sprintf("payout amount exceeds available balance %s", available.String()))
	}
	return nil
}
