// Package memory is a process-local implementation of the repository ports,
// selected with database.driver=memory. Transactions are serialized: Begin
// takes a single write slot and works on a copy of the committed state, so a
// rolled back transaction leaves no trace.
package memory

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"giftcard-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type state struct {
	cards         map[uuid.UUID]domain.GiftCard
	txns          []domain.Transaction
	redemptions   map[uuid.UUID]domain.Redemption
	payments      map[uuid.UUID]domain.Payment
	payouts       map[uuid.UUID]domain.Payout
	merchants     map[uuid.UUID]domain.Merchant
	settings      map[uuid.UUID]domain.PayoutSettings
	gateways      map[uuid.UUID]domain.MerchantGateway
	webhookEvents map[string]domain.WebhookEventRecord
}

func newState() *state {
	return &state{
		cards:         make(map[uuid.UUID]domain.GiftCard),
		redemptions:   make(map[uuid.UUID]domain.Redemption),
		payments:      make(map[uuid.UUID]domain.Payment),
		payouts:       make(map[uuid.UUID]domain.Payout),
		merchants:     make(map[uuid.UUID]domain.Merchant),
		settings:      make(map[uuid.UUID]domain.PayoutSettings),
		gateways:      make(map[uuid.UUID]domain.MerchantGateway),
		webhookEvents: make(map[string]domain.WebhookEventRecord),
	}
}

func (s *state) clone() *state {
	return &state{
		cards:         maps.Clone(s.cards),
		txns:          append([]domain.Transaction(nil), s.txns...),
		redemptions:   maps.Clone(s.redemptions),
		payments:      maps.Clone(s.payments),
		payouts:       maps.Clone(s.payouts),
		merchants:     maps.Clone(s.merchants),
		settings:      maps.Clone(s.settings),
		gateways:      maps.Clone(s.gateways),
		webhookEvents: maps.Clone(s.webhookEvents),
	}
}

// Store holds the committed state shared by all memory repositories.
type Store struct {
	mu   sync.RWMutex
	data *state
	// slot admits one writer at a time; it plays the role of row locks.
	slot chan struct{}
	now  func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		data: newState(),
		slot: make(chan struct{}, 1),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Begin implements ports.DBTransactor. It blocks until no other transaction
// is open or ctx is done.
func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	s.mu.RLock()
	work := s.data.clone()
	s.mu.RUnlock()
	return &Tx{store: s, work: work}, nil
}

func (s *Store) acquire(ctx context.Context) error {
	select {
	case s.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) release() {
	<-s.slot
}

// read runs fn against committed state.
func (s *Store) read(fn func(st *state)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.data)
}

// write applies fn to committed state as a single-statement transaction.
func (s *Store) write(ctx context.Context, fn func(st *state) error) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.data)
}

// Ping implements ports.HealthChecker.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Name implements ports.HealthChecker.
func (s *Store) Name() string {
	return "memory"
}

var errForeignTx = errors.New("memory: transaction was not started by this store")

// Tx is an open memory transaction. Only Commit and Rollback are usable; the
// query methods of pgx.Tx are not implemented.
type Tx struct {
	pgx.Tx
	store  *Store
	work   *state
	mu     sync.Mutex
	closed bool
}

// Commit publishes the transaction's changes.
func (t *Tx) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return pgx.ErrTxClosed
	}
	t.closed = true
	t.store.mu.Lock()
	t.store.data = t.work
	t.store.mu.Unlock()
	t.store.release()
	return nil
}

// Rollback discards the transaction's changes.
func (t *Tx) Rollback(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return pgx.ErrTxClosed
	}
	t.closed = true
	t.work = nil
	t.store.release()
	return nil
}

// txState returns the working copy of an open transaction owned by s.
func (s *Store) txState(tx pgx.Tx) (*state, error) {
	t, ok := tx.(*Tx)
	if !ok || t.store != s {
		return nil, errForeignTx
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, pgx.ErrTxClosed
	}
	return t.work, nil
}
