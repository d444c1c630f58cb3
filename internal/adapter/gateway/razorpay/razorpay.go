// Package razorpay adapts the Razorpay Orders/Payments API, RazorpayX payouts
// and X-Razorpay-Signature webhooks to ports.Gateway.
package razorpay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"giftcard-ledger/config"
	"giftcard-ledger/internal/adapter/gateway/gatewayhttp"
	"giftcard-ledger/internal/core/domain"
	"giftcard-ledger/internal/core/ports"
	"giftcard-ledger/pkg/apperror"
	"giftcard-ledger/pkg/money"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Checkout handler fields returned to the merchant after payment.
const (
	ProofPaymentID = "razorpay_payment_id"
	ProofSignature = "razorpay_signature"
)

// Adapter implements ports.Gateway for Razorpay.
type Adapter struct {
	client *gatewayhttp.Client
	log    zerolog.Logger
}

func New(cfg config.GatewayEndpoint, log zerolog.Logger) *Adapter {
	return &Adapter{
		client: gatewayhttp.New(string(domain.ProviderRazorpay), cfg, log, errorMessage),
		log:    log,
	}
}

func (a *Adapter) Provider() domain.Provider {
	return domain.ProviderRazorpay
}

type apiError struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
		Reason      string `json:"reason"`
	} `json:"error"`
}

func errorMessage(body []byte) string {
	var e apiError
	if json.Unmarshal(body, &e) != nil || e.Error.Description == "" {
		return strings.TrimSpace(string(body))
	}
	if e.Error.Code != "" {
		return e.Error.Code + ": " + e.Error.Description
	}
	return e.Error.Description
}

type orderResp struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

// CreateCharge creates an order; the checkout widget collects the payment
// against it. The order id doubles as the client handle.
func (a *Adapter) CreateCharge(ctx context.Context, creds ports.Credentials, req ports.ChargeRequest) (*ports.ChargeResult, error) {
	minor, err := toMinor(req.Amount, req.Currency)
	if err != nil {
		return nil, err
	}
	body := map[string]any{
		"amount":   minor,
		"currency": req.Currency,
		// Razorpay caps receipts at 40 characters; a UUID fits.
		"receipt": req.Reference,
		"notes":   map[string]string{"reference": req.Reference},
	}

	var o orderResp
	if err := a.send(ctx, creds, http.MethodPost, "/v1/orders", body, nil, &o); err != nil {
		return nil, err
	}
	return &ports.ChargeResult{
		ExternalID:   o.ID,
		OrderID:      o.ID,
		ClientSecret: o.ID,
		Status:       ports.ChargeStatusPending,
	}, nil
}

type paymentResp struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	Amount           int64  `json:"amount"`
	AmountRefunded   int64  `json:"amount_refunded"`
	Currency         string `json:"currency"`
	Status           string `json:"status"`
	ErrorDescription string `json:"error_description"`
}

func (p *paymentResp) chargeStatus() string {
	switch p.Status {
	case "captured", "refunded":
		return ports.ChargeStatusSucceeded
	case "failed":
		return ports.ChargeStatusFailed
	}
	return ports.ChargeStatusPending
}

// ConfirmCharge checks the checkout signature, HMAC-SHA256 of
// "<order_id>|<payment_id>" keyed with the API secret, then reads the payment.
func (a *Adapter) ConfirmCharge(ctx context.Context, creds ports.Credentials, req ports.ConfirmRequest) (*ports.ConfirmResult, error) {
	paymentID := req.Proof[ProofPaymentID]
	sig := req.Proof[ProofSignature]
	if paymentID == "" || sig == "" {
		return nil, apperror.Validation("razorpay_payment_id and razorpay_signature are required")
	}
	if !gatewayhttp.VerifyHex(creds.SecretKey, []byte(req.ExternalID+"|"+paymentID), sig) {
		return nil, errSignature("checkout signature mismatch for order %s", req.ExternalID)
	}

	var p paymentResp
	if err := a.send(ctx, creds, http.MethodGet, "/v1/payments/"+url.PathEscape(paymentID), nil, nil, &p); err != nil {
		return nil, err
	}
	if p.OrderID != req.ExternalID {
		return nil, errSignature("payment %s belongs to order %s", paymentID, p.OrderID)
	}
	return &ports.ConfirmResult{
		Status:          p.chargeStatus(),
		ChargeReference: p.ID,
		Amount:          money.FromMinor(p.Amount, strings.ToUpper(p.Currency)),
		FailureReason:   p.ErrorDescription,
	}, nil
}

type refundResp struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Status    string `json:"status"`
}

func (a *Adapter) Refund(ctx context.Context, creds ports.Credentials, req ports.RefundRequest) (*ports.RefundResult, error) {
	if req.ChargeReference == "" {
		return nil, apperror.Validation("Razorpay refunds need the payment id")
	}
	body := map[string]any{"notes": map[string]string{"reference": req.Reference}}
	if req.Amount != nil {
		minor, err := toMinor(*req.Amount, req.Currency)
		if err != nil {
			return nil, err
		}
		body["amount"] = minor
	}
	if req.Reference != "" {
		body["receipt"] = req.Reference
	}

	var r refundResp
	path := "/v1/payments/" + url.PathEscape(req.ChargeReference) + "/refund"
	if err := a.send(ctx, creds, http.MethodPost, path, body, nil, &r); err != nil {
		return nil, err
	}
	status := ports.ChargeStatusPending
	switch r.Status {
	case "processed":
		status = ports.ChargeStatusSucceeded
	case "failed":
		status = ports.ChargeStatusFailed
	}
	return &ports.RefundResult{
		RefundID: r.ID,
		Status:   status,
		Amount:   money.FromMinor(r.Amount, strings.ToUpper(r.Currency)),
	}, nil
}

type payoutResp struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	FailureReason string `json:"failure_reason"`
	StatusDetails *struct {
		Description string `json:"description"`
	} `json:"status_details"`
}

func (p *payoutResp) result() *ports.PayoutResult {
	res := &ports.PayoutResult{PayoutID: p.ID, Status: payoutStatus(p.Status), FailureReason: p.FailureReason}
	if res.FailureReason == "" && p.StatusDetails != nil && res.Status != ports.PayoutStatusPaid {
		res.FailureReason = p.StatusDetails.Description
	}
	return res
}

func payoutStatus(s string) string {
	switch s {
	case "processed":
		return ports.PayoutStatusPaid
	case "failed", "reversed", "rejected":
		return ports.PayoutStatusFailed
	case "cancelled":
		return ports.PayoutStatusCanceled
	}
	return ports.PayoutStatusPending
}

// CreatePayout debits the RazorpayX account in creds.AccountID towards the
// fund account named by Destination.
func (a *Adapter) CreatePayout(ctx context.Context, creds ports.Credentials, req ports.PayoutRequest) (*ports.PayoutResult, error) {
	if creds.AccountID == "" {
		return nil, apperror.ErrGatewayNotConfigured("razorpay")
	}
	minor, err := toMinor(req.Amount, req.Currency)
	if err != nil {
		return nil, err
	}
	body := map[string]any{
		"account_number":       creds.AccountID,
		"fund_account_id":      req.Destination,
		"amount":               minor,
		"currency":             req.Currency,
		"mode":                 "IMPS",
		"purpose":              "payout",
		"queue_if_low_balance": true,
		"reference_id":         req.Reference,
	}
	header := http.Header{}
	header.Set("X-Payout-Idempotency", req.Reference)

	var p payoutResp
	if err := a.send(ctx, creds, http.MethodPost, "/v1/payouts", body, header, &p); err != nil {
		return nil, err
	}
	return p.result(), nil
}

func (a *Adapter) GetPayout(ctx context.Context, creds ports.Credentials, payoutID string) (*ports.PayoutResult, error) {
	var p payoutResp
	if err := a.send(ctx, creds, http.MethodGet, "/v1/payouts/"+url.PathEscape(payoutID), nil, nil, &p); err != nil {
		return nil, err
	}
	return p.result(), nil
}

func (a *Adapter) send(ctx context.Context, creds ports.Credentials, method, path string, body any, header http.Header, out any) error {
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return apperror.InternalError(fmt.Errorf("encode razorpay request: %w", err))
		}
		rdr = bytes.NewReader(raw)
	}
	req, err := a.client.NewRequest(ctx, method, path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.SetBasicAuth(creds.KeyID, creds.SecretKey)
	return a.client.Do(req, out)
}

func toMinor(amount decimal.Decimal, currency string) (int64, error) {
	minor, err := money.ToMinor(amount, currency)
	if err != nil {
		return 0, apperror.Validation(err.Error())
	}
	return minor, nil
}

func errSignature(format string, args ...any) error {
	return apperror.Wrap(apperror.CodeSignature, "Invalid signature", http.StatusBadRequest, fmt.Errorf(format, args...))
}
