package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RedemptionMethod is how the card was presented at the point of sale.
type RedemptionMethod string

const (
	RedemptionMethodQR   RedemptionMethod = "QR"
	RedemptionMethodCode RedemptionMethod = "CODE"
	RedemptionMethodLink RedemptionMethod = "LINK"
	RedemptionMethodAPI  RedemptionMethod = "API"
)

// Valid reports whether m is a known method.
func (m RedemptionMethod) Valid() bool {
	switch m {
	case RedemptionMethodQR, RedemptionMethodCode, RedemptionMethodLink, RedemptionMethodAPI:
		return true
	}
	return false
}

// Redemption is one merchant-initiated spend against a gift card. Immutable.
type Redemption struct {
	ID            uuid.UUID        `json:"id"`
	GiftCardID    uuid.UUID        `json:"gift_card_id"`
	MerchantID    uuid.UUID        `json:"merchant_id"`
	Amount        decimal.Decimal  `json:"amount"`
	BalanceBefore decimal.Decimal  `json:"balance_before"`
	BalanceAfter  decimal.Decimal  `json:"balance_after"`
	Method        RedemptionMethod `json:"method"`
	Actor         string           `json:"actor,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}
