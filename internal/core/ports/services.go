package ports

import (
	"context"
	"net/http"
	"time"

	"giftcard-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// --- Gift card ledger ---

// IssueInput creates one or more gift cards. Prepaid cards are funded at
// issue; otherwise the card waits in PENDING for a purchase payment.
type IssueInput struct {
	MerchantID             uuid.UUID
	Value                  decimal.Decimal
	Currency               string
	AllowPartialRedemption bool
	ExpiryDate             *time.Time
	Count                  int
	Prepaid                bool
}

// RedeemInput spends from a card.
type RedeemInput struct {
	GiftCardID uuid.UUID
	MerchantID uuid.UUID
	Amount     decimal.Decimal
	Method     domain.RedemptionMethod
	Actor      string
}

// RedeemResult is the outcome of a redemption.
type RedeemResult struct {
	BalanceAfter  decimal.Decimal     `json:"balance_after"`
	FullyRedeemed bool                `json:"fully_redeemed"`
	Redemption    *domain.Redemption  `json:"redemption"`
	Transaction   *domain.Transaction `json:"transaction"`
}

// RefundInput credits value back to a card. Exactly one source is set.
type RefundInput struct {
	GiftCardID   uuid.UUID
	MerchantID   uuid.UUID
	PaymentID    *uuid.UUID
	RedemptionID *uuid.UUID
	Amount       decimal.Decimal
	Description  string
}

// AuditReport recomputes the ledger invariants for one card.
type AuditReport struct {
	GiftCardID       uuid.UUID       `json:"gift_card_id"`
	Value            decimal.Decimal `json:"value"`
	Balance          decimal.Decimal `json:"balance"`
	TotalRedeemed    decimal.Decimal `json:"total_redeemed"`
	TotalRefunded    decimal.Decimal `json:"total_refunded"`
	TransactionCount int             `json:"transaction_count"`
	BalanceInRange   bool            `json:"balance_in_range"`
	Consistent       bool            `json:"consistent"`
}

// LedgerService owns gift card balances.
type LedgerService interface {
	Issue(ctx context.Context, in IssueInput) ([]domain.GiftCard, error)
	Get(ctx context.Context, merchantID, id uuid.UUID) (*domain.GiftCard, error)
	GetByCode(ctx context.Context, merchantID uuid.UUID, code string) (*domain.GiftCard, error)
	ListTransactions(ctx context.Context, merchantID, id uuid.UUID) ([]domain.Transaction, error)
	Redeem(ctx context.Context, in RedeemInput) (*RedeemResult, error)
	Refund(ctx context.Context, in RefundInput) (*domain.Transaction, error)
	Audit(ctx context.Context, id uuid.UUID) (*AuditReport, error)
	ExpireDue(ctx context.Context, now time.Time) (int, error)
}

// --- Payments ---

// CreateIntentInput starts a purchase of a PENDING card.
type CreateIntentInput struct {
	MerchantID uuid.UUID
	GiftCardID uuid.UUID
	Amount     decimal.Decimal
	Currency   string
	Method     domain.Provider
}

// IntentResult is returned to the buyer's client.
type IntentResult struct {
	PaymentID    uuid.UUID            `json:"payment_id"`
	ClientSecret string               `json:"client_secret,omitempty"`
	OrderID      string               `json:"order_id,omitempty"`
	Status       domain.PaymentStatus `json:"status"`
}

// PaymentRefundResult reports a purchase refund.
type PaymentRefundResult struct {
	PaymentID uuid.UUID            `json:"payment_id"`
	RefundID  string               `json:"refund_id"`
	Status    string               `json:"status"`
	Amount    decimal.Decimal      `json:"amount"`
	Payment   domain.PaymentStatus `json:"payment_status"`
}

// PaymentService drives gift card purchases through gateways.
type PaymentService interface {
	CreateIntent(ctx context.Context, in CreateIntentInput) (*IntentResult, error)
	Confirm(ctx context.Context, merchantID, paymentID uuid.UUID, proof map[string]string) (*domain.Payment, error)
	Refund(ctx context.Context, merchantID, paymentID uuid.UUID, amount *decimal.Decimal) (*PaymentRefundResult, error)
	Get(ctx context.Context, merchantID, paymentID uuid.UUID) (*domain.Payment, error)
}

// --- Webhooks ---

// ApplyOutcome tells the caller what happened to an event.
type ApplyOutcome string

const (
	OutcomeApplied   ApplyOutcome = "applied"
	OutcomeDuplicate ApplyOutcome = "duplicate"
	OutcomeIgnored   ApplyOutcome = "ignored"
)

// ReconcilerService applies gateway events exactly once.
type ReconcilerService interface {
	HandleWebhook(ctx context.Context, provider domain.Provider, gatewayID uuid.UUID, payload []byte, header http.Header) (ApplyOutcome, error)
	Apply(ctx context.Context, event *domain.GatewayEvent) (ApplyOutcome, error)
}

// --- Payouts ---

// Balance is a merchant's payable position.
type Balance struct {
	MerchantBalance decimal.Decimal `json:"merchant_balance"`
	Reserved        decimal.Decimal `json:"reserved"`
	Available       decimal.Decimal `json:"available"`
	Currency        string          `json:"currency"`
}

// PayoutRequestInput asks for a withdrawal. Empty method/account fall back
// to the merchant's payout settings.
type PayoutRequestInput struct {
	MerchantID uuid.UUID
	Amount     decimal.Decimal
	Method     domain.PayoutMethod
	AccountID  string
}

// BatchResult summarizes one scheduled dispatch run.
type BatchResult struct {
	Dispatched int `json:"dispatched"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
}

// PayoutService is the merchant- and operator-facing payout surface.
type PayoutService interface {
	AvailableBalance(ctx context.Context, merchantID uuid.UUID) (*Balance, error)
	GetSettings(ctx context.Context, merchantID uuid.UUID) (*domain.PayoutSettings, error)
	UpdateSettings(ctx context.Context, s domain.PayoutSettings) (*domain.PayoutSettings, error)
	Request(ctx context.Context, in PayoutRequestInput) (*domain.Payout, error)
	Get(ctx context.Context, merchantID, payoutID uuid.UUID) (*domain.Payout, error)
	List(ctx context.Context, params PayoutListParams) ([]domain.Payout, int64, error)
	Cancel(ctx context.Context, merchantID, payoutID uuid.UUID) (*domain.Payout, error)
	Process(ctx context.Context, payoutID uuid.UUID) (*domain.Payout, error)
	Complete(ctx context.Context, payoutID uuid.UUID) (*domain.Payout, error)
	Retry(ctx context.Context, payoutID uuid.UUID) (*domain.Payout, error)
	Reconcile(ctx context.Context, payoutID uuid.UUID) (*domain.Payout, error)
	RunBatch(ctx context.Context, now time.Time) (*BatchResult, error)
}

// --- Merchants & gateways ---

// GatewayCredentialsInput stores credentials for one provider.
type GatewayCredentialsInput struct {
	MerchantID  uuid.UUID
	Provider    domain.Provider
	AccountID   string
	Credentials Credentials
}

// MerchantService provisions merchants and manages their gateway credentials.
type MerchantService interface {
	CreateMerchant(ctx context.Context, name, currency string) (*domain.Merchant, string, error)
	GetMerchant(ctx context.Context, id uuid.UUID) (*domain.Merchant, error)
	ListGateways(ctx context.Context, merchantID uuid.UUID) ([]domain.MerchantGateway, error)
	PutGateway(ctx context.Context, in GatewayCredentialsInput) (*domain.MerchantGateway, error)
	SetGatewayStatus(ctx context.Context, gatewayID uuid.UUID, status domain.VerificationStatus, active bool) (*domain.MerchantGateway, error)
}
