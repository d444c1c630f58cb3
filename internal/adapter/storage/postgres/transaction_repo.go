package postgres

import (
	"context"
	"fmt"

	"giftcard-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// TransactionRepo implements ports.TransactionRepository. It only ever inserts.
type TransactionRepo struct {
	pool Pool
}

// NewTransactionRepo creates a new TransactionRepo.
func NewTransactionRepo(pool Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

// Create appends a ledger row within a database transaction.
func (r *TransactionRepo) Create(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	query := `INSERT INTO transactions (id, gift_card_id, type, amount, balance_before, balance_after,
		currency, payment_id, redemption_id, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := tx.Exec(ctx, query,
		t.ID, t.GiftCardID, t.Type, t.Amount, t.BalanceBefore, t.BalanceAfter,
		t.Currency, t.PaymentID, t.RedemptionID, t.Description, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// ListByGiftCard returns a card's ledger in insertion order.
func (r *TransactionRepo) ListByGiftCard(ctx context.Context, giftCardID uuid.UUID) ([]domain.Transaction, error) {
	query := `SELECT id, gift_card_id, type, amount, balance_before, balance_after,
		currency, payment_id, redemption_id, description, created_at
		FROM transactions WHERE gift_card_id = $1 ORDER BY created_at, id`

	rows, err := r.pool.Query(ctx, query, giftCardID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txns []domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		if err := rows.Scan(
			&t.ID, &t.GiftCardID, &t.Type, &t.Amount, &t.BalanceBefore, &t.BalanceAfter,
			&t.Currency, &t.PaymentID, &t.RedemptionID, &t.Description, &t.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

// SumRefundsForRedemption totals REFUND rows credited against a redemption.
func (r *TransactionRepo) SumRefundsForRedemption(ctx context.Context, tx pgx.Tx, redemptionID uuid.UUID) (decimal.Decimal, error) {
	query := `SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE type = 'REFUND' AND redemption_id = $1`

	var sum decimal.Decimal
	if err := tx.QueryRow(ctx, query, redemptionID).Scan(&sum); err != nil {
		return decimal.Zero, fmt.Errorf("sum refunds for redemption: %w", err)
	}
	return sum, nil
}

// SumRefundsForPayment totals REFUND rows credited against a payment.
func (r *TransactionRepo) SumRefundsForPayment(ctx context.Context, tx pgx.Tx, paymentID uuid.UUID) (decimal.Decimal, error) {
	query := `SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE type = 'REFUND' AND payment_id = $1`

	var sum decimal.Decimal
	if err := tx.QueryRow(ctx, query, paymentID).Scan(&sum); err != nil {
		return decimal.Zero, fmt.Errorf("sum refunds for payment: %w", err)
	}
	return sum, nil
}
