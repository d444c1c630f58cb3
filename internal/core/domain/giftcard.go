package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// GiftCardStatus represents the lifecycle state of a gift card.
type GiftCardStatus string

const (
	// GiftCardStatusPending marks a card bought through a gateway whose payment has not completed.
	GiftCardStatusPending   GiftCardStatus = "PENDING"
	GiftCardStatusActive    GiftCardStatus = "ACTIVE"
	GiftCardStatusRedeemed  GiftCardStatus = "REDEEMED"
	GiftCardStatusExpired   GiftCardStatus = "EXPIRED"
	GiftCardStatusCancelled GiftCardStatus = "CANCELLED"
)

// GiftCard holds stored value owned by a merchant.
// Value is fixed at creation; Balance is only changed by the ledger.
type GiftCard struct {
	ID                     uuid.UUID       `json:"id"`
	MerchantID             uuid.UUID       `json:"merchant_id"`
	Code                   string          `json:"code"`
	Value                  decimal.Decimal `json:"value"`
	Balance                decimal.Decimal `json:"balance"`
	Currency               string          `json:"currency"`
	Status                 GiftCardStatus  `json:"status"`
	AllowPartialRedemption bool            `json:"allow_partial_redemption"`
	ExpiryDate             *time.Time      `json:"expiry_date,omitempty"`
	CreatedAt              time.Time       `json:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at"`
}

// IsExpired reports whether the card is past its expiry date at now.
func (g *GiftCard) IsExpired(now time.Time) bool {
	return g.ExpiryDate != nil && now.After(*g.ExpiryDate)
}

// Spent returns value minus balance.
func (g *GiftCard) Spent() decimal.Decimal {
	return g.Value.Sub(g.Balance)
}

// IsUnspent reports whether nothing has been redeemed from the card.
func (g *GiftCard) IsUnspent() bool {
	return g.Balance.Equal(g.Value)
}
