package ports

import (
	"context"
	"net/http"

	"giftcard-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Credentials are a merchant's decrypted secrets for one provider. They are
// decrypted per call and never cached by adapters.
type Credentials struct {
	// KeyID is the public half: Razorpay key id, PayPal client id.
	KeyID string `json:"key_id,omitempty"`
	// SecretKey is the Stripe secret key, Razorpay key secret or PayPal client secret.
	SecretKey string `json:"secret_key"`
	// WebhookSecret signs inbound webhooks (Stripe, Razorpay).
	WebhookSecret string `json:"webhook_secret,omitempty"`
	// WebhookID identifies the PayPal webhook for signature verification.
	WebhookID string `json:"webhook_id,omitempty"`
	// AccountID is the connected account (Stripe) or payout source account (RazorpayX).
	AccountID string `json:"account_id,omitempty"`
}

// Gateway call outcomes, normalized across providers.
const (
	ChargeStatusPending   = "pending"
	ChargeStatusSucceeded = "succeeded"
	ChargeStatusFailed    = "failed"

	PayoutStatusPending  = "pending"
	PayoutStatusPaid     = "paid"
	PayoutStatusFailed   = "failed"
	PayoutStatusCanceled = "canceled"
)

// ChargeRequest starts a purchase. Reference is our payment id and doubles as
// the provider idempotency key.
type ChargeRequest struct {
	Amount      decimal.Decimal
	Currency    string
	Reference   string
	Description string
}

// ChargeResult carries what the client needs to finish paying.
type ChargeResult struct {
	ExternalID   string
	ClientSecret string
	OrderID      string
	Status       string
}

// ConfirmRequest carries method-specific proof from the client, e.g. the
// Razorpay payment id and signature.
type ConfirmRequest struct {
	ExternalID string
	Proof      map[string]string
}

// ConfirmResult is the provider's view of the charge after confirmation.
type ConfirmResult struct {
	Status          string
	ChargeReference string
	Amount          decimal.Decimal
	FailureReason   string
}

// RefundRequest refunds a settled charge. A nil Amount refunds in full.
type RefundRequest struct {
	ExternalID      string
	ChargeReference string
	Amount          *decimal.Decimal
	Currency        string
	Reference       string
}

// RefundResult identifies the provider refund.
type RefundResult struct {
	RefundID string
	Status   string
	Amount   decimal.Decimal
}

// PayoutRequest sends funds to a merchant destination.
type PayoutRequest struct {
	Destination string
	Amount      decimal.Decimal
	Currency    string
	Reference   string
}

// PayoutResult is the provider's payout id and normalized status.
type PayoutResult struct {
	PayoutID      string
	Status        string
	FailureReason string
}

// Gateway is the uniform contract over one payment network. Transient failures
// are returned as apperror GW_003, provider rejections as GW_001.
type Gateway interface {
	Provider() domain.Provider
	CreateCharge(ctx context.Context, creds Credentials, req ChargeRequest) (*ChargeResult, error)
	ConfirmCharge(ctx context.Context, creds Credentials, req ConfirmRequest) (*ConfirmResult, error)
	Refund(ctx context.Context, creds Credentials, req RefundRequest) (*RefundResult, error)
	CreatePayout(ctx context.Context, creds Credentials, req PayoutRequest) (*PayoutResult, error)
	GetPayout(ctx context.Context, creds Credentials, payoutID string) (*PayoutResult, error)
	// VerifyWebhook authenticates payload and normalizes it. Any failure is a
	// signature error and must not change state.
	VerifyWebhook(ctx context.Context, creds Credentials, payload []byte, header http.Header) (*domain.GatewayEvent, error)
}

// ResolvedGateway pairs an adapter with the credentials to call it.
type ResolvedGateway struct {
	Gateway     Gateway
	Credentials Credentials
	Record      *domain.MerchantGateway
}

// GatewayResolver selects the adapter for a provider and decrypts the merchant's
// credentials. It fails closed with GW_002.
type GatewayResolver interface {
	Resolve(ctx context.Context, merchantID uuid.UUID, provider domain.Provider) (*ResolvedGateway, error)
	ResolveForWebhook(ctx context.Context, gatewayID uuid.UUID, provider domain.Provider) (*ResolvedGateway, error)
}
