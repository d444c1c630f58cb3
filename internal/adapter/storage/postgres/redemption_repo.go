package postgres

import (
	"context"
	"errors"
	"fmt"

	"giftcard-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// RedemptionRepo implements ports.RedemptionRepository.
type RedemptionRepo struct {
	pool Pool
}

// NewRedemptionRepo creates a new RedemptionRepo.
func NewRedemptionRepo(pool Pool) *RedemptionRepo {
	return &RedemptionRepo{pool: pool}
}

// Create inserts a redemption within a database transaction.
func (r *RedemptionRepo) Create(ctx context.Context, tx pgx.Tx, red *domain.Redemption) error {
	query := `INSERT INTO redemptions (id, gift_card_id, merchant_id, amount, balance_before, balance_after,
		method, actor, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := tx.Exec(ctx, query,
		red.ID, red.GiftCardID, red.MerchantID, red.Amount, red.BalanceBefore, red.BalanceAfter,
		red.Method, red.Actor, red.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert redemption: %w", err)
	}
	return nil
}

// GetByID fetches a redemption.
func (r *RedemptionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Redemption, error) {
	query := `SELECT id, gift_card_id, merchant_id, amount, balance_before, balance_after, method, actor, created_at
		FROM redemptions WHERE id = $1`

	red := &domain.Redemption{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&red.ID, &red.GiftCardID, &red.MerchantID, &red.Amount, &red.BalanceBefore, &red.BalanceAfter,
		&red.Method, &red.Actor, &red.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get redemption: %w", err)
	}
	return red, nil
}
