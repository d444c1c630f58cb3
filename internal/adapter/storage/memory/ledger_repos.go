package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"giftcard-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// GiftCardRepo implements ports.GiftCardRepository.
type GiftCardRepo struct{ s *Store }

// NewGiftCardRepo creates a GiftCardRepo over s.
func NewGiftCardRepo(s *Store) *GiftCardRepo { return &GiftCardRepo{s: s} }

func (r *GiftCardRepo) Create(ctx context.Context, tx pgx.Tx, card *domain.GiftCard) error {
	st, err := r.s.txState(tx)
	if err != nil {
		return err
	}
	if _, ok := st.cards[card.ID]; ok {
		return fmt.Errorf("insert gift card: duplicate id %s", card.ID)
	}
	for _, c := range st.cards {
		if c.Code == card.Code {
			return fmt.Errorf("insert gift card: duplicate code")
		}
	}
	st.cards[card.ID] = *card
	return nil
}

func (r *GiftCardRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.GiftCard, error) {
	var out *domain.GiftCard
	r.s.read(func(st *state) {
		if c, ok := st.cards[id]; ok {
			out = &c
		}
	})
	return out, nil
}

func (r *GiftCardRepo) GetByCode(ctx context.Context, code string) (*domain.GiftCard, error) {
	var out *domain.GiftCard
	r.s.read(func(st *state) {
		for _, c := range st.cards {
			if c.Code == code {
				out = &c
				return
			}
		}
	})
	return out, nil
}

func (r *GiftCardRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.GiftCard, error) {
	st, err := r.s.txState(tx)
	if err != nil {
		return nil, err
	}
	c, ok := st.cards[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r *GiftCardRepo) Update(ctx context.Context, tx pgx.Tx, card *domain.GiftCard) error {
	st, err := r.s.txState(tx)
	if err != nil {
		return err
	}
	c, ok := st.cards[card.ID]
	if !ok {
		return fmt.Errorf("gift card not found: %s", card.ID)
	}
	if card.Balance.IsNegative() || card.Balance.GreaterThan(c.Value) {
		return fmt.Errorf("update gift card: balance %s outside [0, %s]", card.Balance, c.Value)
	}
	c.Balance = card.Balance
	c.Status = card.Status
	c.UpdatedAt = card.UpdatedAt
	st.cards[card.ID] = c
	return nil
}

func (r *GiftCardRepo) ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	var due []domain.GiftCard
	r.s.read(func(st *state) {
		for _, c := range st.cards {
			if c.Status == domain.GiftCardStatusActive && c.ExpiryDate != nil && c.ExpiryDate.Before(now) {
				due = append(due, c)
			}
		}
	})
	slices.SortFunc(due, func(a, b domain.GiftCard) int { return a.ExpiryDate.Compare(*b.ExpiryDate) })

	var ids []uuid.UUID
	for i := 0; i < len(due) && i < limit; i++ {
		ids = append(ids, due[i].ID)
	}
	return ids, nil
}

// TransactionRepo implements ports.TransactionRepository.
type TransactionRepo struct{ s *Store }

// NewTransactionRepo creates a TransactionRepo over s.
func NewTransactionRepo(s *Store) *TransactionRepo { return &TransactionRepo{s: s} }

func (r *TransactionRepo) Create(ctx context.Context, tx pgx.Tx, txn *domain.Transaction) error {
	st, err := r.s.txState(tx)
	if err != nil {
		return err
	}
	st.txns = append(st.txns, *txn)
	return nil
}

func (r *TransactionRepo) ListByGiftCard(ctx context.Context, giftCardID uuid.UUID) ([]domain.Transaction, error) {
	var out []domain.Transaction
	r.s.read(func(st *state) {
		for _, t := range st.txns {
			if t.GiftCardID == giftCardID {
				out = append(out, t)
			}
		}
	})
	slices.SortStableFunc(out, func(a, b domain.Transaction) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

func (r *TransactionRepo) SumRefundsForRedemption(ctx context.Context, tx pgx.Tx, redemptionID uuid.UUID) (decimal.Decimal, error) {
	return r.sumRefunds(tx, func(t domain.Transaction) bool {
		return t.RedemptionID != nil && *t.RedemptionID == redemptionID
	})
}

func (r *TransactionRepo) SumRefundsForPayment(ctx context.Context, tx pgx.Tx, paymentID uuid.UUID) (decimal.Decimal, error) {
	return r.sumRefunds(tx, func(t domain.Transaction) bool {
		return t.PaymentID != nil && *t.PaymentID == paymentID
	})
}

func (r *TransactionRepo) sumRefunds(tx pgx.Tx, match func(domain.Transaction) bool) (decimal.Decimal, error) {
	st, err := r.s.txState(tx)
	if err != nil {
		return decimal.Zero, err
	}
	sum := decimal.Zero
	for _, t := range st.txns {
		if t.Type == domain.TransactionTypeRefund && match(t) {
			sum = sum.Add(t.Amount)
		}
	}
	return sum, nil
}

// RedemptionRepo implements ports.RedemptionRepository.
type RedemptionRepo struct{ s *Store }

// NewRedemptionRepo creates a RedemptionRepo over s.
func NewRedemptionRepo(s *Store) *RedemptionRepo { return &RedemptionRepo{s: s} }

func (r *RedemptionRepo) Create(ctx context.Context, tx pgx.Tx, red *domain.Redemption) error {
	st, err := r.s.txState(tx)
	if err != nil {
		return err
	}
	st.redemptions[red.ID] = *red
	return nil
}

func (r *RedemptionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Redemption, error) {
	var out *domain.Redemption
	r.s.read(func(st *state) {
		if red, ok := st.redemptions[id]; ok {
			out = &red
		}
	})
	return out, nil
}

// PaymentRepo implements ports.PaymentRepository.
type PaymentRepo struct{ s *Store }

// NewPaymentRepo creates a PaymentRepo over s.
func NewPaymentRepo(s *Store) *PaymentRepo { return &PaymentRepo{s: s} }

func (r *PaymentRepo) Create(ctx context.Context, tx pgx.Tx, p *domain.Payment) error {
	st, err := r.s.txState(tx)
	if err != nil {
		return err
	}
	if p.Status == domain.PaymentStatusPending {
		for _, existing := range st.payments {
			if existing.GiftCardID == p.GiftCardID && existing.Status == domain.PaymentStatusPending {
				return fmt.Errorf("insert payment: gift card %s already has a pending payment", p.GiftCardID)
			}
		}
	}
	st.payments[p.ID] = *p
	return nil
}

func (r *PaymentRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	var out *domain.Payment
	r.s.read(func(st *state) {
		if p, ok := st.payments[id]; ok {
			out = &p
		}
	})
	return out, nil
}

func (r *PaymentRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Payment, error) {
	st, err := r.s.txState(tx)
	if err != nil {
		return nil, err
	}
	p, ok := st.payments[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *PaymentRepo) GetPendingByGiftCard(ctx context.Context, tx pgx.Tx, giftCardID uuid.UUID) (*domain.Payment, error) {
	st, err := r.s.txState(tx)
	if err != nil {
		return nil, err
	}
	for _, p := range st.payments {
		if p.GiftCardID == giftCardID && p.Status == domain.PaymentStatusPending {
			return &p, nil
		}
	}
	return nil, nil
}

func (r *PaymentRepo) GetByExternalRefForUpdate(ctx context.Context, tx pgx.Tx, provider domain.Provider, ref string) (*domain.Payment, error) {
	st, err := r.s.txState(tx)
	if err != nil {
		return nil, err
	}
	var found *domain.Payment
	for _, p := range st.payments {
		if p.PaymentMethod != provider || ref == "" {
			continue
		}
		if p.PaymentIntentID != ref && p.ChargeReference != ref {
			continue
		}
		if found == nil || p.CreatedAt.After(found.CreatedAt) {
			found = &p
		}
	}
	return found, nil
}

func (r *PaymentRepo) SetExternalRef(ctx context.Context, id uuid.UUID, intentID string, clientSecretEnc string) error {
	return r.s.write(ctx, func(st *state) error {
		p, ok := st.payments[id]
		if !ok {
			return fmt.Errorf("payment not found: %s", id)
		}
		p.PaymentIntentID = intentID
		p.ClientSecretEnc = clientSecretEnc
		p.UpdatedAt = r.s.now()
		st.payments[id] = p
		return nil
	})
}

func (r *PaymentRepo) Update(ctx context.Context, tx pgx.Tx, p *domain.Payment) error {
	st, err := r.s.txState(tx)
	if err != nil {
		return err
	}
	cur, ok := st.payments[p.ID]
	if !ok {
		return fmt.Errorf("payment not found: %s", p.ID)
	}
	cur.Status = p.Status
	cur.ChargeReference = p.ChargeReference
	cur.RefundedAmount = p.RefundedAmount
	cur.UnattributedRefund = p.UnattributedRefund
	cur.FailureReason = p.FailureReason
	cur.UpdatedAt = p.UpdatedAt
	st.payments[p.ID] = cur
	return nil
}

func byNewest[T any](createdAt func(T) time.Time) func(a, b T) int {
	return func(a, b T) int { return cmp.Compare(createdAt(b).UnixNano(), createdAt(a).UnixNano()) }
}
