package postgres

import (
	"context"
	"fmt"

	"giftcard-ledger/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// WebhookEventRepo implements ports.WebhookEventRepository.
type WebhookEventRepo struct {
	pool Pool
}

// NewWebhookEventRepo creates a new WebhookEventRepo.
func NewWebhookEventRepo(pool Pool) *WebhookEventRepo {
	return &WebhookEventRepo{pool: pool}
}

// Record claims the (provider, external_id, event_type) key inside tx. A false
// result means another delivery already applied it; because the insert holds
// the unique index entry until commit, a concurrent duplicate blocks here and
// then sees zero rows.
func (r *WebhookEventRepo) Record(ctx context.Context, tx pgx.Tx, rec *domain.WebhookEventRecord) (bool, error) {
	query := `INSERT INTO webhook_events (provider, external_id, event_type, event_id, received_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (provider, external_id, event_type) DO NOTHING`

	tag, err := tx.Exec(ctx, query, rec.Provider, rec.ExternalID, rec.EventType, rec.EventID, rec.ReceivedAt)
	if err != nil {
		return false, fmt.Errorf("record webhook event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
