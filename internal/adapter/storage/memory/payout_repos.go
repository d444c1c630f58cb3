package memory

import (
	"context"
	"fmt"
	"slices"
	"time"

	"giftcard-ledger/internal/core/domain"
	"giftcard-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// PayoutRepo implements ports.PayoutRepository.
type PayoutRepo struct{ s *Store }

// NewPayoutRepo creates a PayoutRepo over s.
func NewPayoutRepo(s *Store) *PayoutRepo { return &PayoutRepo{s: s} }

func (r *PayoutRepo) Create(ctx context.Context, tx pgx.Tx, p *domain.Payout) error {
	st, err := r.s.txState(tx)
	if err != nil {
		return err
	}
	st.payouts[p.ID] = *p
	return nil
}

func (r *PayoutRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Payout, error) {
	var out *domain.Payout
	r.s.read(func(st *state) {
		if p, ok := st.payouts[id]; ok {
			out = &p
		}
	})
	return out, nil
}

func (r *PayoutRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Payout, error) {
	st, err := r.s.txState(tx)
	if err != nil {
		return nil, err
	}
	p, ok := st.payouts[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *PayoutRepo) GetByExternalIDForUpdate(ctx context.Context, tx pgx.Tx, method domain.PayoutMethod, externalID string) (*domain.Payout, error) {
	st, err := r.s.txState(tx)
	if err != nil {
		return nil, err
	}
	for _, p := range st.payouts {
		if p.PayoutMethod == method && externalID != "" && p.ExternalPayoutID == externalID {
			return &p, nil
		}
	}
	return nil, nil
}

func (r *PayoutRepo) SumInFlight(ctx context.Context, tx pgx.Tx, merchantID uuid.UUID) (decimal.Decimal, error) {
	st, err := r.s.txState(tx)
	if err != nil {
		return decimal.Zero, err
	}
	sum := decimal.Zero
	for _, p := range st.payouts {
		if p.MerchantID == merchantID && p.IsInFlight() {
			sum = sum.Add(p.Amount)
		}
	}
	return sum, nil
}

func (r *PayoutRepo) ClaimForDispatch(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	claimed := false
	err := r.s.write(ctx, func(st *state) error {
		p, ok := st.payouts[id]
		if !ok || p.Status != domain.PayoutStatusPending {
			return nil
		}
		p.Status = domain.PayoutStatusProcessing
		p.ProcessedAt = &now
		p.UpdatedAt = now
		st.payouts[id] = p
		claimed = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("claim payout: %w", err)
	}
	return claimed, nil
}

func (r *PayoutRepo) Update(ctx context.Context, tx pgx.Tx, p *domain.Payout) error {
	st, err := r.s.txState(tx)
	if err != nil {
		return err
	}
	cur, ok := st.payouts[p.ID]
	if !ok {
		return fmt.Errorf("payout not found: %s", p.ID)
	}
	cur.Status = p.Status
	cur.ExternalPayoutID = p.ExternalPayoutID
	cur.RetryCount = p.RetryCount
	cur.FailureReason = p.FailureReason
	cur.ScheduledFor = p.ScheduledFor
	cur.ProcessedAt = p.ProcessedAt
	cur.CompletedAt = p.CompletedAt
	cur.UpdatedAt = p.UpdatedAt
	st.payouts[p.ID] = cur
	return nil
}

func (r *PayoutRepo) List(ctx context.Context, params ports.PayoutListParams) ([]domain.Payout, int64, error) {
	var all []domain.Payout
	r.s.read(func(st *state) {
		for _, p := range st.payouts {
			if p.MerchantID != params.MerchantID {
				continue
			}
			if params.Status != nil && p.Status != *params.Status {
				continue
			}
			all = append(all, p)
		}
	})
	slices.SortFunc(all, byNewest(func(p domain.Payout) time.Time { return p.CreatedAt }))

	total := int64(len(all))
	start := min(max(params.Offset, 0), len(all))
	end := len(all)
	if params.Limit > 0 {
		end = min(start+params.Limit, len(all))
	}
	return all[start:end], total, nil
}

func (r *PayoutRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	var due []domain.Payout
	r.s.read(func(st *state) {
		for _, p := range st.payouts {
			if p.Status == domain.PayoutStatusPending && !p.ScheduledFor.After(now) {
				due = append(due, p)
			}
		}
	})
	slices.SortFunc(due, func(a, b domain.Payout) int { return a.ScheduledFor.Compare(b.ScheduledFor) })

	var ids []uuid.UUID
	for i := 0; i < len(due) && i < limit; i++ {
		ids = append(ids, due[i].ID)
	}
	return ids, nil
}

// MerchantRepo implements ports.MerchantRepository.
type MerchantRepo struct{ s *Store }

// NewMerchantRepo creates a MerchantRepo over s.
func NewMerchantRepo(s *Store) *MerchantRepo { return &MerchantRepo{s: s} }

func (r *MerchantRepo) Create(ctx context.Context, m *domain.Merchant) error {
	return r.s.write(ctx, func(st *state) error {
		if _, ok := st.merchants[m.ID]; ok {
			return fmt.Errorf("insert merchant: duplicate id %s", m.ID)
		}
		st.merchants[m.ID] = *m
		return nil
	})
}

func (r *MerchantRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Merchant, error) {
	var out *domain.Merchant
	r.s.read(func(st *state) {
		if m, ok := st.merchants[id]; ok {
			out = &m
		}
	})
	return out, nil
}

func (r *MerchantRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Merchant, error) {
	st, err := r.s.txState(tx)
	if err != nil {
		return nil, err
	}
	m, ok := st.merchants[id]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (r *MerchantRepo) AdjustBalance(ctx context.Context, tx pgx.Tx, id uuid.UUID, delta decimal.Decimal) error {
	st, err := r.s.txState(tx)
	if err != nil {
		return err
	}
	m, ok := st.merchants[id]
	if !ok {
		return fmt.Errorf("merchant not found: %s", id)
	}
	m.Balance = m.Balance.Add(delta)
	m.UpdatedAt = r.s.now()
	st.merchants[id] = m
	return nil
}

func (r *MerchantRepo) GetPayoutSettings(ctx context.Context, merchantID uuid.UUID) (*domain.PayoutSettings, error) {
	var out *domain.PayoutSettings
	r.s.read(func(st *state) {
		if s, ok := st.settings[merchantID]; ok {
			out = &s
		}
	})
	return out, nil
}

func (r *MerchantRepo) UpsertPayoutSettings(ctx context.Context, s *domain.PayoutSettings) error {
	return r.s.write(ctx, func(st *state) error {
		st.settings[s.MerchantID] = *s
		return nil
	})
}

// GatewayRepo implements ports.GatewayRepository.
type GatewayRepo struct{ s *Store }

// NewGatewayRepo creates a GatewayRepo over s.
func NewGatewayRepo(s *Store) *GatewayRepo { return &GatewayRepo{s: s} }

// Upsert keeps the existing row's id and created_at on conflict, like the
// postgres implementation.
func (r *GatewayRepo) Upsert(ctx context.Context, g *domain.MerchantGateway) error {
	return r.s.write(ctx, func(st *state) error {
		for id, existing := range st.gateways {
			if existing.MerchantID == g.MerchantID && existing.Provider == g.Provider {
				g.ID = id
				g.CreatedAt = existing.CreatedAt
				break
			}
		}
		st.gateways[g.ID] = *g
		return nil
	})
}

func (r *GatewayRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.MerchantGateway, error) {
	var out *domain.MerchantGateway
	r.s.read(func(st *state) {
		if g, ok := st.gateways[id]; ok {
			out = &g
		}
	})
	return out, nil
}

func (r *GatewayRepo) GetByMerchantProvider(ctx context.Context, merchantID uuid.UUID, provider domain.Provider) (*domain.MerchantGateway, error) {
	var out *domain.MerchantGateway
	r.s.read(func(st *state) {
		for _, g := range st.gateways {
			if g.MerchantID == merchantID && g.Provider == provider {
				out = &g
				return
			}
		}
	})
	return out, nil
}

func (r *GatewayRepo) ListByMerchant(ctx context.Context, merchantID uuid.UUID) ([]domain.MerchantGateway, error) {
	var out []domain.MerchantGateway
	r.s.read(func(st *state) {
		for _, g := range st.gateways {
			if g.MerchantID == merchantID {
				out = append(out, g)
			}
		}
	})
	slices.SortFunc(out, func(a, b domain.MerchantGateway) int {
		switch {
		case a.Provider < b.Provider:
			return -1
		case a.Provider > b.Provider:
			return 1
		}
		return 0
	})
	return out, nil
}

func (r *GatewayRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.VerificationStatus, active bool) error {
	st, err := r.s.txState(tx)
	if err != nil {
		return err
	}
	g, ok := st.gateways[id]
	if !ok {
		return fmt.Errorf("gateway not found: %s", id)
	}
	g.VerificationStatus = status
	g.IsActive = active
	g.UpdatedAt = r.s.now()
	st.gateways[id] = g
	return nil
}

// WebhookEventRepo implements ports.WebhookEventRepository.
type WebhookEventRepo struct{ s *Store }

// NewWebhookEventRepo creates a WebhookEventRepo over s.
func NewWebhookEventRepo(s *Store) *WebhookEventRepo { return &WebhookEventRepo{s: s} }

func (r *WebhookEventRepo) Record(ctx context.Context, tx pgx.Tx, rec *domain.WebhookEventRecord) (bool, error) {
	st, err := r.s.txState(tx)
	if err != nil {
		return false, err
	}
	key := string(rec.Provider) + "\x00" + rec.ExternalID + "\x00" + string(rec.EventType)
	if _, ok := st.webhookEvents[key]; ok {
		return false, nil
	}
	st.webhookEvents[key] = *rec
	return true, nil
}
