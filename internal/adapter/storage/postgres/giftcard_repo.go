package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"giftcard-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const giftCardColumns = `id, merchant_id, code, value, balance, currency, status,
	allow_partial_redemption, expiry_date, created_at, updated_at`

// GiftCardRepo implements ports.GiftCardRepository.
type GiftCardRepo struct {
	pool Pool
}

// NewGiftCardRepo creates a new GiftCardRepo.
func NewGiftCardRepo(pool Pool) *GiftCardRepo {
	return &GiftCardRepo{pool: pool}
}

// Create inserts a gift card within a database transaction.
func (r *GiftCardRepo) Create(ctx context.Context, tx pgx.Tx, g *domain.GiftCard) error {
	query := `INSERT INTO gift_cards (` + giftCardColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := tx.Exec(ctx, query,
		g.ID, g.MerchantID, g.Code, g.Value, g.Balance, g.Currency, g.Status,
		g.AllowPartialRedemption, g.ExpiryDate, g.CreatedAt, g.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert gift card: %w", err)
	}
	return nil
}

// GetByID fetches a gift card without locking.
func (r *GiftCardRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.GiftCard, error) {
	query := `SELECT ` + giftCardColumns + ` FROM gift_cards WHERE id = $1`
	return scanGiftCard(r.pool.QueryRow(ctx, query, id), "get gift card by id")
}

// GetByCode fetches a gift card by its presentable code.
func (r *GiftCardRepo) GetByCode(ctx context.Context, code string) (*domain.GiftCard, error) {
	query := `SELECT ` + giftCardColumns + ` FROM gift_cards WHERE code = $1`
	return scanGiftCard(r.pool.QueryRow(ctx, query, code), "get gift card by code")
}

// GetByIDForUpdate fetches a gift card with a row lock.
// This MUST be called within a transaction.
func (r *GiftCardRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.GiftCard, error) {
	query := `SELECT ` + giftCardColumns + ` FROM gift_cards WHERE id = $1 FOR UPDATE`
	return scanGiftCard(tx.QueryRow(ctx, query, id), "get gift card for update")
}

// Update writes the mutable ledger fields of a locked card.
func (r *GiftCardRepo) Update(ctx context.Context, tx pgx.Tx, g *domain.GiftCard) error {
	query := `UPDATE gift_cards SET balance = $1, status = $2, updated_at = $3 WHERE id = $4`

	tag, err := tx.Exec(ctx, query, g.Balance, g.Status, g.UpdatedAt, g.ID)
	if err != nil {
		return fmt.Errorf("update gift card: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("gift card not found: %s", g.ID)
	}
	return nil
}

// ListExpiredActive returns ids of ACTIVE cards whose expiry has passed.
func (r *GiftCardRepo) ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	query := `SELECT id FROM gift_cards
		WHERE status = 'ACTIVE' AND expiry_date IS NOT NULL AND expiry_date < $1
		ORDER BY expiry_date LIMIT $2`

	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired gift cards: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan expired gift card: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanGiftCard(row pgx.Row, op string) (*domain.GiftCard, error) {
	g := &domain.GiftCard{}
	err := row.Scan(
		&g.ID, &g.MerchantID, &g.Code, &g.Value, &g.Balance, &g.Currency, &g.Status,
		&g.AllowPartialRedemption, &g.ExpiryDate, &g.CreatedAt, &g.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return g, nil
}
