// Package stripe adapts the Stripe REST API (PaymentIntents, Refunds, Payouts)
// and Stripe-Signature webhooks to ports.Gateway.
package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"giftcard-ledger/config"
	"giftcard-ledger/internal/adapter/gateway/gatewayhttp"
	"giftcard-ledger/internal/core/domain"
	"giftcard-ledger/internal/core/ports"
	"giftcard-ledger/pkg/apperror"
	"giftcard-ledger/pkg/money"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Adapter implements ports.Gateway for Stripe.
type Adapter struct {
	client    *gatewayhttp.Client
	tolerance time.Duration
	now       func() time.Time
	log       zerolog.Logger
}

// New creates a Stripe adapter. Webhook timestamps older than tolerance are rejected.
func New(cfg config.GatewayEndpoint, tolerance time.Duration, log zerolog.Logger) *Adapter {
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}
	return &Adapter{
		client:    gatewayhttp.New(string(domain.ProviderStripe), cfg, log, errorMessage),
		tolerance: tolerance,
		now:       time.Now,
		log:       log,
	}
}

func (a *Adapter) Provider() domain.Provider {
	return domain.ProviderStripe
}

type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func errorMessage(body []byte) string {
	var e apiError
	if json.Unmarshal(body, &e) == nil && e.Error.Message != "" {
		if e.Error.Code != "" {
			return e.Error.Code + ": " + e.Error.Message
		}
		return e.Error.Message
	}
	return strings.TrimSpace(string(body))
}

type paymentIntent struct {
	ID               string `json:"id"`
	Amount           int64  `json:"amount"`
	AmountReceived   int64  `json:"amount_received"`
	Currency         string `json:"currency"`
	Status           string `json:"status"`
	ClientSecret     string `json:"client_secret"`
	LatestCharge     string `json:"latest_charge"`
	LastPaymentError *struct {
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

func (pi *paymentIntent) chargeStatus() string {
	switch pi.Status {
	case "succeeded":
		return ports.ChargeStatusSucceeded
	case "canceled":
		return ports.ChargeStatusFailed
	case "requires_payment_method":
		if pi.LastPaymentError != nil {
			return ports.ChargeStatusFailed
		}
	}
	return ports.ChargeStatusPending
}

func (pi *paymentIntent) failureReason() string {
	if pi.LastPaymentError != nil {
		return pi.LastPaymentError.Message
	}
	if pi.Status == "canceled" {
		return "payment intent canceled"
	}
	return ""
}

func (a *Adapter) CreateCharge(ctx context.Context, creds ports.Credentials, req ports.ChargeRequest) (*ports.ChargeResult, error) {
	minor, err := toMinor(req.Amount, req.Currency)
	if err != nil {
		return nil, err
	}
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(minor, 10))
	form.Set("currency", strings.ToLower(req.Currency))
	form.Set("automatic_payment_methods[enabled]", "true")
	form.Set("metadata[reference]", req.Reference)
	if req.Description != "" {
		form.Set("description", req.Description)
	}

	var pi paymentIntent
	if err := a.post(ctx, creds, "/v1/payment_intents", form, req.Reference, &pi); err != nil {
		return nil, err
	}
	return &ports.ChargeResult{
		ExternalID:   pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       pi.chargeStatus(),
	}, nil
}

// ConfirmCharge reads back the intent; Stripe.js confirms it on the client.
func (a *Adapter) ConfirmCharge(ctx context.Context, creds ports.Credentials, req ports.ConfirmRequest) (*ports.ConfirmResult, error) {
	var pi paymentIntent
	if err := a.get(ctx, creds, "/v1/payment_intents/"+url.PathEscape(req.ExternalID), &pi); err != nil {
		return nil, err
	}
	amount := pi.AmountReceived
	if amount == 0 {
		amount = pi.Amount
	}
	return &ports.ConfirmResult{
		Status:          pi.chargeStatus(),
		ChargeReference: pi.LatestCharge,
		Amount:          money.FromMinor(amount, strings.ToUpper(pi.Currency)),
		FailureReason:   pi.failureReason(),
	}, nil
}

type refund struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

func (a *Adapter) Refund(ctx context.Context, creds ports.Credentials, req ports.RefundRequest) (*ports.RefundResult, error) {
	form := url.Values{}
	form.Set("payment_intent", req.ExternalID)
	if req.Amount != nil {
		minor, err := toMinor(*req.Amount, req.Currency)
		if err != nil {
			return nil, err
		}
		form.Set("amount", strconv.FormatInt(minor, 10))
	}
	if req.Reference != "" {
		form.Set("metadata[reference]", req.Reference)
	}

	var r refund
	if err := a.post(ctx, creds, "/v1/refunds", form, req.Reference, &r); err != nil {
		return nil, err
	}
	status := ports.ChargeStatusPending
	switch r.Status {
	case "succeeded":
		status = ports.ChargeStatusSucceeded
	case "failed", "canceled":
		status = ports.ChargeStatusFailed
	}
	return &ports.RefundResult{
		RefundID: r.ID,
		Status:   status,
		Amount:   money.FromMinor(r.Amount, strings.ToUpper(r.Currency)),
	}, nil
}

type payout struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	FailureMessage string `json:"failure_message"`
}

func (p *payout) result() *ports.PayoutResult {
	status := ports.PayoutStatusPending
	switch p.Status {
	case "paid":
		status = ports.PayoutStatusPaid
	case "failed":
		status = ports.PayoutStatusFailed
	case "canceled":
		status = ports.PayoutStatusCanceled
	}
	return &ports.PayoutResult{PayoutID: p.ID, Status: status, FailureReason: p.FailureMessage}
}

// CreatePayout pays out from the connected account's Stripe balance.
func (a *Adapter) CreatePayout(ctx context.Context, creds ports.Credentials, req ports.PayoutRequest) (*ports.PayoutResult, error) {
	minor, err := toMinor(req.Amount, req.Currency)
	if err != nil {
		return nil, err
	}
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(minor, 10))
	form.Set("currency", strings.ToLower(req.Currency))
	form.Set("metadata[reference]", req.Reference)
	if req.Destination != "" {
		form.Set("destination", req.Destination)
	}

	var p payout
	if err := a.post(ctx, creds, "/v1/payouts", form, req.Reference, &p); err != nil {
		return nil, err
	}
	return p.result(), nil
}

func (a *Adapter) GetPayout(ctx context.Context, creds ports.Credentials, payoutID string) (*ports.PayoutResult, error) {
	var p payout
	if err := a.get(ctx, creds, "/v1/payouts/"+url.PathEscape(payoutID), &p); err != nil {
		return nil, err
	}
	return p.result(), nil
}

func (a *Adapter) post(ctx context.Context, creds ports.Credentials, path string, form url.Values, idempotencyKey string, out any) error {
	req, err := a.client.NewRequest(ctx, http.MethodPost, path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	a.authorize(req, creds)
	return a.client.Do(req, out)
}

func (a *Adapter) get(ctx context.Context, creds ports.Credentials, path string, out any) error {
	req, err := a.client.NewRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	a.authorize(req, creds)
	return a.client.Do(req, out)
}

func (a *Adapter) authorize(req *http.Request, creds ports.Credentials) {
	req.Header.Set("Authorization", "Bearer "+creds.SecretKey)
	if creds.AccountID != "" {
		req.Header.Set("Stripe-Account", creds.AccountID)
	}
}

func toMinor(amount decimal.Decimal, currency string) (int64, error) {
	minor, err := money.ToMinor(amount, currency)
	if err != nil {
		return 0, apperror.Validation(err.Error())
	}
	return minor, nil
}

// errSignature keeps the cause for logs while the client sees SEC_002.
func errSignature(format string, args ...any) error {
	return apperror.Wrap(apperror.CodeSignature, "Invalid signature", http.StatusBadRequest, fmt.Errorf(format, args...))
}
