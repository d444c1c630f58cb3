package postgres

import (
	"context"
	"errors"
	"fmt"

	"giftcard-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const merchantColumns = `id, name, balance, currency, status, created_at, updated_at`

// MerchantRepo implements ports.MerchantRepository.
type MerchantRepo struct {
	pool Pool
}

// NewMerchantRepo creates a new MerchantRepo.
func NewMerchantRepo(pool Pool) *MerchantRepo {
	return &MerchantRepo{pool: pool}
}

// Create inserts a new merchant.
func (r *MerchantRepo) Create(ctx context.Context, m *domain.Merchant) error {
	query := `INSERT INTO merchants (` + merchantColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.pool.Exec(ctx, query, m.ID, m.Name, m.Balance, m.Currency, m.Status, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert merchant: %w", err)
	}
	return nil
}

// GetByID fetches a merchant by ID.
func (r *MerchantRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Merchant, error) {
	query := `SELECT ` + merchantColumns + ` FROM merchants WHERE id = $1`
	return scanMerchant(r.pool.QueryRow(ctx, query, id), "get merchant by id")
}

// GetByIDForUpdate locks the merchant row. Payout reservation and balance
// changes serialize on this lock.
func (r *MerchantRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Merchant, error) {
	query := `SELECT ` + merchantColumns + ` FROM merchants WHERE id = $1 FOR UPDATE`
	return scanMerchant(tx.QueryRow(ctx, query, id), "get merchant for update")
}

// AdjustBalance adds delta (which may be negative) to the payable balance.
func (r *MerchantRepo) AdjustBalance(ctx context.Context, tx pgx.Tx, id uuid.UUID, delta decimal.Decimal) error {
	query := `UPDATE merchants SET balance = balance + $1, updated_at = NOW() WHERE id = $2`

	tag, err := tx.Exec(ctx, query, delta, id)
	if err != nil {
		return fmt.Errorf("adjust merchant balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("merchant not found: %s", id)
	}
	return nil
}

// GetPayoutSettings returns nil, nil when the merchant has not saved settings.
func (r *MerchantRepo) GetPayoutSettings(ctx context.Context, merchantID uuid.UUID) (*domain.PayoutSettings, error) {
	query := `SELECT merchant_id, minimum_amount, schedule, payout_method, payout_account_id, updated_at
		FROM payout_settings WHERE merchant_id = $1`

	s := &domain.PayoutSettings{}
	err := r.pool.QueryRow(ctx, query, merchantID).Scan(
		&s.MerchantID, &s.MinimumAmount, &s.Schedule, &s.PayoutMethod, &s.PayoutAccountID, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get payout settings: %w", err)
	}
	return s, nil
}

// UpsertPayoutSettings saves a merchant's payout settings.
func (r *MerchantRepo) UpsertPayoutSettings(ctx context.Context, s *domain.PayoutSettings) error {
	query := `INSERT INTO payout_settings (merchant_id, minimum_amount, schedule, payout_method, payout_account_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (merchant_id) DO UPDATE SET
			minimum_amount = EXCLUDED.minimum_amount,
			schedule = EXCLUDED.schedule,
			payout_method = EXCLUDED.payout_method,
			payout_account_id = EXCLUDED.payout_account_id,
			updated_at = EXCLUDED.updated_at`

	_, err := r.pool.Exec(ctx, query, s.MerchantID, s.MinimumAmount, s.Schedule, s.PayoutMethod, s.PayoutAccountID, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert payout settings: %w", err)
	}
	return nil
}

func scanMerchant(row pgx.Row, op string) (*domain.Merchant, error) {
	m := &domain.Merchant{}
	err := row.Scan(&m.ID, &m.Name, &m.Balance, &m.Currency, &m.Status, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return m, nil
}
