package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"giftcard-ledger/internal/core/domain"
	"giftcard-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const payoutColumns = `id, merchant_id, amount, net_amount, currency, status, payout_method, payout_account_id,
	external_payout_id, retry_count, failure_reason, scheduled_for, processed_at, completed_at, created_at, updated_at`

// PayoutRepo implements ports.PayoutRepository.
type PayoutRepo struct {
	pool Pool
}

// NewPayoutRepo creates a new PayoutRepo.
func NewPayoutRepo(pool Pool) *PayoutRepo {
	return &PayoutRepo{pool: pool}
}

// Create inserts a payout within a database transaction.
func (r *PayoutRepo) Create(ctx context.Context, tx pgx.Tx, p *domain.Payout) error {
	query := `INSERT INTO payouts (` + payoutColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err := tx.Exec(ctx, query,
		p.ID, p.MerchantID, p.Amount, p.NetAmount, p.Currency, p.Status, p.PayoutMethod, p.PayoutAccountID,
		p.ExternalPayoutID, p.RetryCount, p.FailureReason, p.ScheduledFor, p.ProcessedAt, p.CompletedAt,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payout: %w", err)
	}
	return nil
}

// GetByID fetches a payout without locking.
func (r *PayoutRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Payout, error) {
	query := `SELECT ` + payoutColumns + ` FROM payouts WHERE id = $1`
	return scanPayout(r.pool.QueryRow(ctx, query, id), "get payout by id")
}

// GetByIDForUpdate fetches a payout with a row lock.
func (r *PayoutRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Payout, error) {
	query := `SELECT ` + payoutColumns + ` FROM payouts WHERE id = $1 FOR UPDATE`
	return scanPayout(tx.QueryRow(ctx, query, id), "get payout for update")
}

// GetByExternalIDForUpdate locks the payout a provider event refers to.
func (r *PayoutRepo) GetByExternalIDForUpdate(ctx context.Context, tx pgx.Tx, method domain.PayoutMethod, externalID string) (*domain.Payout, error) {
	query := `SELECT ` + payoutColumns + ` FROM payouts
		WHERE payout_method = $1 AND external_payout_id = $2 FOR UPDATE`
	return scanPayout(tx.QueryRow(ctx, query, method, externalID), "get payout by external id")
}

// SumInFlight totals the merchant's PENDING and PROCESSING payouts.
func (r *PayoutRepo) SumInFlight(ctx context.Context, tx pgx.Tx, merchantID uuid.UUID) (decimal.Decimal, error) {
	query := `SELECT COALESCE(SUM(amount), 0) FROM payouts
		WHERE merchant_id = $1 AND status IN ('PENDING', 'PROCESSING')`

	var sum decimal.Decimal
	if err := tx.QueryRow(ctx, query, merchantID).Scan(&sum); err != nil {
		return decimal.Zero, fmt.Errorf("sum in-flight payouts: %w", err)
	}
	return sum, nil
}

// ClaimForDispatch is a compare-and-swap from PENDING to PROCESSING.
func (r *PayoutRepo) ClaimForDispatch(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	query := `UPDATE payouts SET status = 'PROCESSING', processed_at = $1, updated_at = $1
		WHERE id = $2 AND status = 'PENDING'`

	tag, err := r.pool.Exec(ctx, query, now, id)
	if err != nil {
		return false, fmt.Errorf("claim payout: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Update writes the mutable state of a locked payout.
func (r *PayoutRepo) Update(ctx context.Context, tx pgx.Tx, p *domain.Payout) error {
	query := `UPDATE payouts SET status = $1, external_payout_id = $2, retry_count = $3, failure_reason = $4,
		scheduled_for = $5, processed_at = $6, completed_at = $7, updated_at = $8 WHERE id = $9`

	tag, err := tx.Exec(ctx, query,
		p.Status, p.ExternalPayoutID, p.RetryCount, p.FailureReason,
		p.ScheduledFor, p.ProcessedAt, p.CompletedAt, p.UpdatedAt, p.ID,
	)
	if err != nil {
		return fmt.Errorf("update payout: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payout not found: %s", p.ID)
	}
	return nil
}

// List returns a merchant's payouts, newest first, with the total count.
func (r *PayoutRepo) List(ctx context.Context, params ports.PayoutListParams) ([]domain.Payout, int64, error) {
	where := `WHERE merchant_id = $1`
	args := []any{params.MerchantID}
	if params.Status != nil {
		where += ` AND status = $2`
		args = append(args, *params.Status)
	}

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM payouts `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count payouts: %w", err)
	}

	n := len(args)
	query := fmt.Sprintf(`SELECT %s FROM payouts %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		payoutColumns, where, n+1, n+2)
	args = append(args, params.Limit, params.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list payouts: %w", err)
	}
	defer rows.Close()

	var payouts []domain.Payout
	for rows.Next() {
		p, err := scanPayout(rows, "scan payout")
		if err != nil {
			return nil, 0, err
		}
		payouts = append(payouts, *p)
	}
	return payouts, total, rows.Err()
}

// ListDue returns PENDING payouts scheduled at or before now, oldest first.
func (r *PayoutRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	query := `SELECT id FROM payouts WHERE status = 'PENDING' AND scheduled_for <= $1
		ORDER BY scheduled_for LIMIT $2`

	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due payouts: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan due payout: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanPayout(row pgx.Row, op string) (*domain.Payout, error) {
	p := &domain.Payout{}
	err := row.Scan(
		&p.ID, &p.MerchantID, &p.Amount, &p.NetAmount, &p.Currency, &p.Status, &p.PayoutMethod, &p.PayoutAccountID,
		&p.ExternalPayoutID, &p.RetryCount, &p.FailureReason, &p.ScheduledFor, &p.ProcessedAt, &p.CompletedAt,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}
