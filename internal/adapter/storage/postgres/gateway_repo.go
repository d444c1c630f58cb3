package postgres

import (
	"context"
	"errors"
	"fmt"

	"giftcard-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const gatewayColumns = `id, merchant_id, provider, account_id, encrypted_credentials,
	verification_status, is_active, created_at, updated_at`

// GatewayRepo implements ports.GatewayRepository.
type GatewayRepo struct {
	pool Pool
}

// NewGatewayRepo creates a new GatewayRepo.
func NewGatewayRepo(pool Pool) *GatewayRepo {
	return &GatewayRepo{pool: pool}
}

// Upsert stores credentials for (merchant, provider). Replacing credentials
// resets verification, so new keys must be vetted again.
func (r *GatewayRepo) Upsert(ctx context.Context, g *domain.MerchantGateway) error {
	query := `INSERT INTO merchant_gateways (` + gatewayColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (merchant_id, provider) DO UPDATE SET
			account_id = EXCLUDED.account_id,
			encrypted_credentials = EXCLUDED.encrypted_credentials,
			verification_status = EXCLUDED.verification_status,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at`

	err := r.pool.QueryRow(ctx, query,
		g.ID, g.MerchantID, g.Provider, g.AccountID, g.EncryptedCredentials,
		g.VerificationStatus, g.IsActive, g.CreatedAt, g.UpdatedAt,
	).Scan(&g.ID, &g.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert merchant gateway: %w", err)
	}
	return nil
}

// GetByID fetches a gateway row.
func (r *GatewayRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.MerchantGateway, error) {
	query := `SELECT ` + gatewayColumns + ` FROM merchant_gateways WHERE id = $1`
	return scanGateway(r.pool.QueryRow(ctx, query, id), "get gateway by id")
}

// GetByMerchantProvider fetches the merchant's row for provider.
func (r *GatewayRepo) GetByMerchantProvider(ctx context.Context, merchantID uuid.UUID, provider domain.Provider) (*domain.MerchantGateway, error) {
	query := `SELECT ` + gatewayColumns + ` FROM merchant_gateways WHERE merchant_id = $1 AND provider = $2`
	return scanGateway(r.pool.QueryRow(ctx, query, merchantID, provider), "get gateway by provider")
}

// ListByMerchant returns all gateways configured by a merchant.
func (r *GatewayRepo) ListByMerchant(ctx context.Context, merchantID uuid.UUID) ([]domain.MerchantGateway, error) {
	query := `SELECT ` + gatewayColumns + ` FROM merchant_gateways WHERE merchant_id = $1 ORDER BY provider`

	rows, err := r.pool.Query(ctx, query, merchantID)
	if err != nil {
		return nil, fmt.Errorf("list gateways: %w", err)
	}
	defer rows.Close()

	var out []domain.MerchantGateway
	for rows.Next() {
		g, err := scanGateway(rows, "scan gateway")
		if err != nil {
			return nil, err
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}

// UpdateStatus sets verification status and the active flag.
func (r *GatewayRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.VerificationStatus, active bool) error {
	query := `UPDATE merchant_gateways SET verification_status = $1, is_active = $2, updated_at = NOW() WHERE id = $3`

	tag, err := tx.Exec(ctx, query, status, active, id)
	if err != nil {
		return fmt.Errorf("update gateway status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("gateway not found: %s", id)
	}
	return nil
}

func scanGateway(row pgx.Row, op string) (*domain.MerchantGateway, error) {
	g := &domain.MerchantGateway{}
	err := row.Scan(
		&g.ID, &g.MerchantID, &g.Provider, &g.AccountID, &g.EncryptedCredentials,
		&g.VerificationStatus, &g.IsActive, &g.CreatedAt, &g.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return g, nil
}
