package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType represents the kind of balance movement on a gift card.
type TransactionType string

const (
	TransactionTypePurchase   TransactionType = "PURCHASE"
	TransactionTypeRedemption TransactionType = "REDEMPTION"
	TransactionTypeRefund     TransactionType = "REFUND"
)

// Transaction is an append-only ledger row. It is never updated or deleted.
type Transaction struct {
	ID            uuid.UUID       `json:"id"`
	GiftCardID    uuid.UUID       `json:"gift_card_id"`
	Type          TransactionType `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	Currency      string          `json:"currency"`
	PaymentID     *uuid.UUID      `json:"payment_id,omitempty"`
	RedemptionID  *uuid.UUID      `json:"redemption_id,omitempty"`
	Description   string          `json:"description,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// NewTransaction builds a ledger row for a balance change from before to after.
func NewTransaction(card *GiftCard, typ TransactionType, amount, before, after decimal.Decimal, now time.Time) *Transaction {
	return &Transaction{
		ID:            uuid.New(),
		GiftCardID:    card.ID,
		Type:          typ,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		Currency:      card.Currency,
		CreatedAt:     now,
	}
}
