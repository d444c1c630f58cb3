package ports

import (
	"context"
	"time"

	"giftcard-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Methods accepting pgx.Tx run inside the caller's transaction; the ForUpdate
// variants take a row lock that is held until commit or rollback.

// GiftCardRepository persists gift cards.
type GiftCardRepository interface {
	Create(ctx context.Context, tx pgx.Tx, card *domain.GiftCard) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.GiftCard, error)
	GetByCode(ctx context.Context, code string) (*domain.GiftCard, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.GiftCard, error)
	// Update writes balance, status and updated_at.
	Update(ctx context.Context, tx pgx.Tx, card *domain.GiftCard) error
	ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
}

// TransactionRepository is the append-only TransactionLog.
type TransactionRepository interface {
	Create(ctx context.Context, tx pgx.Tx, txn *domain.Transaction) error
	ListByGiftCard(ctx context.Context, giftCardID uuid.UUID) ([]domain.Transaction, error)
	SumRefundsForRedemption(ctx context.Context, tx pgx.Tx, redemptionID uuid.UUID) (decimal.Decimal, error)
	SumRefundsForPayment(ctx context.Context, tx pgx.Tx, paymentID uuid.UUID) (decimal.Decimal, error)
}

// RedemptionRepository persists redemptions.
type RedemptionRepository interface {
	Create(ctx context.Context, tx pgx.Tx, r *domain.Redemption) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Redemption, error)
}

// PaymentRepository persists gift card purchase payments.
type PaymentRepository interface {
	Create(ctx context.Context, tx pgx.Tx, p *domain.Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Payment, error)
	GetPendingByGiftCard(ctx context.Context, tx pgx.Tx, giftCardID uuid.UUID) (*domain.Payment, error)
	// GetByExternalRefForUpdate matches either the intent/order id or the charge reference.
	GetByExternalRefForUpdate(ctx context.Context, tx pgx.Tx, provider domain.Provider, ref string) (*domain.Payment, error)
	SetExternalRef(ctx context.Context, id uuid.UUID, intentID string, clientSecretEnc string) error
	// Update writes status, charge reference, refunded amount and failure reason.
	Update(ctx context.Context, tx pgx.Tx, p *domain.Payment) error
}

// PayoutListParams holds filter + pagination for listing payouts.
type PayoutListParams struct {
	MerchantID uuid.UUID
	Status     *domain.PayoutStatus
	Limit      int
	Offset     int
}

// PayoutRepository persists merchant payouts.
type PayoutRepository interface {
	Create(ctx context.Context, tx pgx.Tx, p *domain.Payout) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Payout, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Payout, error)
	GetByExternalIDForUpdate(ctx context.Context, tx pgx.Tx, method domain.PayoutMethod, externalID string) (*domain.Payout, error)
	// SumInFlight totals PENDING and PROCESSING payouts for the merchant.
	SumInFlight(ctx context.Context, tx pgx.Tx, merchantID uuid.UUID) (decimal.Decimal, error)
	// ClaimForDispatch moves PENDING to PROCESSING. It returns false when the
	// payout was not PENDING.
	ClaimForDispatch(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	// Update writes status, external id, retry count, failure reason and timestamps.
	Update(ctx context.Context, tx pgx.Tx, p *domain.Payout) error
	List(ctx context.Context, params PayoutListParams) ([]domain.Payout, int64, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
}

// MerchantRepository persists merchants and their payout settings.
type MerchantRepository interface {
	Create(ctx context.Context, m *domain.Merchant) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Merchant, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Merchant, error)
	AdjustBalance(ctx context.Context, tx pgx.Tx, id uuid.UUID, delta decimal.Decimal) error
	GetPayoutSettings(ctx context.Context, merchantID uuid.UUID) (*domain.PayoutSettings, error)
	UpsertPayoutSettings(ctx context.Context, s *domain.PayoutSettings) error
}

// GatewayRepository persists merchant gateway credentials.
type GatewayRepository interface {
	// Upsert inserts or replaces the row for (merchant, provider).
	Upsert(ctx context.Context, g *domain.MerchantGateway) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.MerchantGateway, error)
	GetByMerchantProvider(ctx context.Context, merchantID uuid.UUID, provider domain.Provider) (*domain.MerchantGateway, error)
	ListByMerchant(ctx context.Context, merchantID uuid.UUID) ([]domain.MerchantGateway, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.VerificationStatus, active bool) error
}

// WebhookEventRepository is the apply-once ledger for gateway events.
type WebhookEventRepository interface {
	// Record inserts the key and reports whether it was new.
	Record(ctx context.Context, tx pgx.Tx, rec *domain.WebhookEventRecord) (bool, error)
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
