package dto

import (
	"time"

	"giftcard-ledger/internal/core/domain"

	"github.com/shopspring/decimal"
)

// --- Gift cards ---

// IssueGiftCardsRequest is the request body for issuing gift cards.
type IssueGiftCardsRequest struct {
	Value                  decimal.Decimal `json:"value" binding:"required,decimal_gt0"`
	Currency               string          `json:"currency" binding:"required,currency"`
	AllowPartialRedemption *bool           `json:"allow_partial_redemption,omitempty"`
	ExpiryDate             *time.Time      `json:"expiry_date,omitempty"`
	Count                  int             `json:"count,omitempty" binding:"omitempty,min=1,max=1000"`
	Prepaid                bool            `json:"prepaid"`
}

// RedeemRequest is the request body for spending from a card.
type RedeemRequest struct {
	Amount decimal.Decimal `json:"amount" binding:"required,decimal_gt0"`
	Method string          `json:"method,omitempty" binding:"omitempty,oneof=QR CODE LINK API"`
	Actor  string          `json:"actor,omitempty" binding:"omitempty,max=100"`
}

// GiftCardRefundRequest credits value back to a card. Exactly one of
// redemption_id and payment_id is set.
type GiftCardRefundRequest struct {
	RedemptionID string          `json:"redemption_id,omitempty" binding:"omitempty,uuid"`
	PaymentID    string          `json:"payment_id,omitempty" binding:"omitempty,uuid"`
	Amount       decimal.Decimal `json:"amount" binding:"required,decimal_gt0"`
	Description  string          `json:"description,omitempty" binding:"max=255"`
}

// IssueGiftCardsResponse lists the issued cards.
type IssueGiftCardsResponse struct {
	GiftCards []domain.GiftCard `json:"gift_cards"`
}

// --- Payments ---

// CreateIntentRequest starts the purchase of a card.
type CreateIntentRequest struct {
	GiftCardID string          `json:"gift_card_id" binding:"required,uuid"`
	Amount     decimal.Decimal `json:"amount" binding:"required,decimal_gt0"`
	Currency   string          `json:"currency" binding:"required,currency"`
	Method     string          `json:"method" binding:"required,oneof=STRIPE PAYPAL RAZORPAY"`
}

// ConfirmPaymentRequest carries the method-specific proof: a PayPal order
// approval or the Razorpay checkout signature fields.
type ConfirmPaymentRequest struct {
	Proof map[string]string `json:"proof,omitempty" binding:"omitempty,max=10,dive,keys,max=64,safe_id,endkeys,max=512"`
}

// PaymentRefundRequest refunds a purchase. An empty amount refunds the rest.
type PaymentRefundRequest struct {
	Amount *decimal.Decimal `json:"amount,omitempty" binding:"omitempty,decimal_gt0"`
}

// --- Payouts ---

// PayoutRequest asks for a withdrawal.
type PayoutRequest struct {
	Amount    decimal.Decimal `json:"amount" binding:"required,decimal_gt0"`
	Method    string          `json:"method,omitempty" binding:"omitempty,oneof=STRIPE PAYPAL RAZORPAY BANK_TRANSFER"`
	AccountID string          `json:"account_id,omitempty" binding:"omitempty,max=255,safe_id"`
}

// PayoutSettingsRequest replaces a merchant's payout settings.
type PayoutSettingsRequest struct {
	MinimumAmount   decimal.Decimal `json:"minimum_amount"`
	Schedule        string          `json:"schedule" binding:"required,oneof=IMMEDIATE DAILY WEEKLY MONTHLY"`
	PayoutMethod    string          `json:"payout_method" binding:"required,oneof=STRIPE PAYPAL RAZORPAY BANK_TRANSFER"`
	PayoutAccountID string          `json:"payout_account_id,omitempty" binding:"omitempty,max=255,safe_id"`
}

// PayoutListQuery is the query string of the payout list.
type PayoutListQuery struct {
	Status string `form:"status" binding:"omitempty,oneof=PENDING PROCESSING COMPLETED FAILED CANCELLED"`
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=100"`
	Offset int    `form:"offset" binding:"omitempty,min=0"`
}

// --- Merchants & gateways ---

// CreateMerchantRequest provisions a merchant.
type CreateMerchantRequest struct {
	Name     string `json:"name" binding:"required,min=1,max=255"`
	Currency string `json:"currency" binding:"required,currency"`
}

// CreateMerchantResponse returns the new merchant with its bearer token.
type CreateMerchantResponse struct {
	Merchant *domain.Merchant `json:"merchant"`
	Token    string           `json:"token"`
}

// GatewayCredentialsRequest stores credentials for one provider. Which
// fields are required depends on the provider.
type GatewayCredentialsRequest struct {
	AccountID     string `json:"account_id,omitempty" binding:"omitempty,max=255,safe_id"`
	KeyID         string `json:"key_id,omitempty" binding:"omitempty,max=255"`
	SecretKey     string `json:"secret_key" binding:"required,max=512"`
	WebhookSecret string `json:"webhook_secret,omitempty" binding:"omitempty,max=512"`
	WebhookID     string `json:"webhook_id,omitempty" binding:"omitempty,max=255,safe_id"`
}

// GatewayStatusRequest records an operator verification decision.
type GatewayStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=PENDING VERIFIED FAILED"`
	Active *bool  `json:"active" binding:"required"`
}
