package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentStatus represents the lifecycle state of a gift card purchase.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusRefunded  PaymentStatus = "REFUNDED"
)

// Payment is one purchase attempt for a gift card through a gateway.
type Payment struct {
	ID                 uuid.UUID       `json:"id"`
	GiftCardID         uuid.UUID       `json:"gift_card_id"`
	MerchantID         uuid.UUID       `json:"merchant_id"`
	Amount             decimal.Decimal `json:"amount"`
	Currency           string          `json:"currency"`
	PaymentMethod      Provider        `json:"payment_method"`
	PaymentIntentID    string          `json:"payment_intent_id,omitempty"`
	// ChargeReference is the provider's settled-charge id (PayPal capture, Razorpay payment).
	ChargeReference    string          `json:"charge_reference,omitempty"`
	ClientSecretEnc    string          `json:"-"`
	Status             PaymentStatus   `json:"status"`
	RefundedAmount     decimal.Decimal `json:"refunded_amount"`
	// UnattributedRefund is the part of RefundedAmount booked from a provider's
	// running total before the individual refund that makes it up was seen.
	UnattributedRefund decimal.Decimal `json:"-"`
	FailureReason      string          `json:"failure_reason,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// Refundable returns the amount not yet refunded.
func (p *Payment) Refundable() decimal.Decimal {
	return p.Amount.Sub(p.RefundedAmount)
}

// RefundReference is the id the provider expects when refunding this payment.
func (p *Payment) RefundReference() string {
	if p.ChargeReference != "" {
		return p.ChargeReference
	}
	return p.PaymentIntentID
}
