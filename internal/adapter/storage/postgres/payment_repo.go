package postgres

import (
	"context"
	"errors"
	"fmt"

	"giftcard-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const paymentColumns = `id, gift_card_id, merchant_id, amount, currency, payment_method, payment_intent_id,
	charge_reference, client_secret_enc, status, refunded_amount, unattributed_refund, failure_reason, created_at, updated_at`

// PaymentRepo implements ports.PaymentRepository.
type PaymentRepo struct {
	pool Pool
}

// NewPaymentRepo creates a new PaymentRepo.
func NewPaymentRepo(pool Pool) *PaymentRepo {
	return &PaymentRepo{pool: pool}
}

// Create inserts a payment within a database transaction.
func (r *PaymentRepo) Create(ctx context.Context, tx pgx.Tx, p *domain.Payment) error {
	query := `INSERT INTO payments (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := tx.Exec(ctx, query,
		p.ID, p.GiftCardID, p.MerchantID, p.Amount, p.Currency, p.PaymentMethod, p.PaymentIntentID,
		p.ChargeReference, p.ClientSecretEnc, p.Status, p.RefundedAmount, p.UnattributedRefund, p.FailureReason, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

// GetByID fetches a payment without locking.
func (r *PaymentRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	return scanPayment(r.pool.QueryRow(ctx, query, id), "get payment by id")
}

// GetByIDForUpdate fetches a payment with a row lock.
func (r *PaymentRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1 FOR UPDATE`
	return scanPayment(tx.QueryRow(ctx, query, id), "get payment for update")
}

// GetPendingByGiftCard returns the card's open purchase attempt, if any.
func (r *PaymentRepo) GetPendingByGiftCard(ctx context.Context, tx pgx.Tx, giftCardID uuid.UUID) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments
		WHERE gift_card_id = $1 AND status = 'PENDING' FOR UPDATE`
	return scanPayment(tx.QueryRow(ctx, query, giftCardID), "get pending payment")
}

// GetByExternalRefForUpdate locks the payment a provider event refers to.
func (r *PaymentRepo) GetByExternalRefForUpdate(ctx context.Context, tx pgx.Tx, provider domain.Provider, ref string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments
		WHERE payment_method = $1 AND (payment_intent_id = $2 OR charge_reference = $2)
		ORDER BY created_at DESC LIMIT 1 FOR UPDATE`
	return scanPayment(tx.QueryRow(ctx, query, provider, ref), "get payment by external ref")
}

// SetExternalRef records the provider intent once the charge is created.
func (r *PaymentRepo) SetExternalRef(ctx context.Context, id uuid.UUID, intentID string, clientSecretEnc string) error {
	query := `UPDATE payments SET payment_intent_id = $1, client_secret_enc = $2, updated_at = NOW()
		WHERE id = $3`

	tag, err := r.pool.Exec(ctx, query, intentID, clientSecretEnc, id)
	if err != nil {
		return fmt.Errorf("set payment external ref: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payment not found: %s", id)
	}
	return nil
}

// Update writes the mutable state of a locked payment.
func (r *PaymentRepo) Update(ctx context.Context, tx pgx.Tx, p *domain.Payment) error {
	query := `UPDATE payments SET status = $1, charge_reference = $2, refunded_amount = $3,
		unattributed_refund = $4, failure_reason = $5, updated_at = $6 WHERE id = $7`

	tag, err := tx.Exec(ctx, query, p.Status, p.ChargeReference, p.RefundedAmount, p.UnattributedRefund,
		p.FailureReason, p.UpdatedAt, p.ID)
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payment not found: %s", p.ID)
	}
	return nil
}

func scanPayment(row pgx.Row, op string) (*domain.Payment, error) {
	p := &domain.Payment{}
	err := row.Scan(
		&p.ID, &p.GiftCardID, &p.MerchantID, &p.Amount, &p.Currency, &p.PaymentMethod, &p.PaymentIntentID,
		&p.ChargeReference, &p.ClientSecretEnc, &p.Status, &p.RefundedAmount, &p.UnattributedRefund, &p.FailureReason, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}
