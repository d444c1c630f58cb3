// Package paypal adapts the PayPal REST API (Orders v2, Payments v2, Payouts
// v1, webhook verification) to ports.Gateway.
package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"giftcard-ledger/config"
	"giftcard-ledger/internal/adapter/gateway/gatewayhttp"
	"giftcard-ledger/internal/core/domain"
	"giftcard-ledger/internal/core/ports"
	"giftcard-ledger/pkg/apperror"
	"giftcard-ledger/pkg/money"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Adapter implements ports.Gateway for PayPal.
type Adapter struct {
	client *gatewayhttp.Client
	log    zerolog.Logger

	mu     sync.Mutex
	tokens map[string]cachedSource
}

type cachedSource struct {
	secret string
	source oauth2.TokenSource
}

// New creates a PayPal adapter.
func New(cfg config.GatewayEndpoint, log zerolog.Logger) *Adapter {
	return &Adapter{
		client: gatewayhttp.New(string(domain.ProviderPayPal), cfg, log, errorMessage),
		log:    log,
		tokens: make(map[string]cachedSource),
	}
}

func (a *Adapter) Provider() domain.Provider {
	return domain.ProviderPayPal
}

type apiError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Details []struct {
		Issue       string `json:"issue"`
		Description string `json:"description"`
	} `json:"details"`
}

func errorMessage(body []byte) string {
	var e apiError
	if json.Unmarshal(body, &e) != nil || e.Name == "" {
		return strings.TrimSpace(string(body))
	}
	msg := e.Name
	if len(e.Details) > 0 && e.Details[0].Issue != "" {
		msg += ": " + e.Details[0].Issue
	}
	if e.Message != "" {
		msg += " (" + e.Message + ")"
	}
	return msg
}

type amount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

func newAmount(d decimal.Decimal, currency string) (amount, error) {
	if err := money.CheckScale(d, currency); err != nil {
		return amount{}, apperror.Validation(err.Error())
	}
	return amount{CurrencyCode: currency, Value: money.FormatMajor(d, currency)}, nil
}

type link struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type capture struct {
	ID     string  `json:"id"`
	Status string  `json:"status"`
	Amount *amount `json:"amount"`
	// Present on capture webhooks.
	SupplementaryData struct {
		RelatedIDs struct {
			OrderID string `json:"order_id"`
		} `json:"related_ids"`
	} `json:"supplementary_data"`
	StatusDetails struct {
		Reason string `json:"reason"`
	} `json:"status_details"`
}

type order struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	Links         []link `json:"links"`
	PurchaseUnits []struct {
		Payments struct {
			Captures []capture `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

func (o *order) capture() *capture {
	for _, pu := range o.PurchaseUnits {
		if len(pu.Payments.Captures) > 0 {
			return &pu.Payments.Captures[0]
		}
	}
	return nil
}

func (a *Adapter) CreateCharge(ctx context.Context, creds ports.Credentials, req ports.ChargeRequest) (*ports.ChargeResult, error) {
	amt, err := newAmount(req.Amount, req.Currency)
	if err != nil {
		return nil, err
	}
	body := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{{
			"reference_id": req.Reference,
			"custom_id":    req.Reference,
			"description":  req.Description,
			"amount":       amt,
		}},
	}

	var o order
	if err := a.send(ctx, creds, http.MethodPost, "/v2/checkout/orders", body, req.Reference, &o); err != nil {
		return nil, err
	}
	res := &ports.ChargeResult{ExternalID: o.ID, OrderID: o.ID, Status: ports.ChargeStatusPending}
	for _, l := range o.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			res.ClientSecret = l.Href
		}
	}
	return res, nil
}

// ConfirmCharge captures an approved order. A repeated capture reads the
// existing capture back instead of failing.
func (a *Adapter) ConfirmCharge(ctx context.Context, creds ports.Credentials, req ports.ConfirmRequest) (*ports.ConfirmResult, error) {
	path := "/v2/checkout/orders/" + url.PathEscape(req.ExternalID)

	var o order
	err := a.send(ctx, creds, http.MethodPost, path+"/capture", struct{}{}, "capture-"+req.ExternalID, &o)
	if err != nil {
		if gatewayhttp.StatusOf(err) != http.StatusUnprocessableEntity || !strings.Contains(err.Error(), "ORDER_ALREADY_CAPTURED") {
			return nil, err
		}
		if err := a.send(ctx, creds, http.MethodGet, path, nil, "", &o); err != nil {
			return nil, err
		}
	}

	c := o.capture()
	if c == nil {
		return &ports.ConfirmResult{Status: ports.ChargeStatusPending}, nil
	}
	res := &ports.ConfirmResult{
		Status:          captureStatus(c.Status),
		ChargeReference: c.ID,
		FailureReason:   c.StatusDetails.Reason,
	}
	if c.Amount != nil {
		if v, err := money.ParseMajor(c.Amount.Value); err == nil {
			res.Amount = v
		}
	}
	return res, nil
}

func captureStatus(s string) string {
	switch s {
	case "COMPLETED":
		return ports.ChargeStatusSucceeded
	case "DECLINED", "FAILED":
		return ports.ChargeStatusFailed
	}
	return ports.ChargeStatusPending
}

type refund struct {
	ID     string  `json:"id"`
	Status string  `json:"status"`
	Amount *amount `json:"amount"`
	Links  []link  `json:"links"`
}

func (a *Adapter) Refund(ctx context.Context, creds ports.Credentials, req ports.RefundRequest) (*ports.RefundResult, error) {
	if req.ChargeReference == "" {
		return nil, apperror.Validation("PayPal refunds need the capture id")
	}
	body := map[string]any{}
	if req.Amount != nil {
		amt, err := newAmount(*req.Amount, req.Currency)
		if err != nil {
			return nil, err
		}
		body["amount"] = amt
	}

	var r refund
	path := "/v2/payments/captures/" + url.PathEscape(req.ChargeReference) + "/refund"
	if err := a.send(ctx, creds, http.MethodPost, path, body, req.Reference, &r); err != nil {
		return nil, err
	}

	res := &ports.RefundResult{RefundID: r.ID, Status: ports.ChargeStatusPending}
	switch r.Status {
	case "COMPLETED":
		res.Status = ports.ChargeStatusSucceeded
	case "FAILED", "CANCELLED":
		res.Status = ports.ChargeStatusFailed
	}
	if r.Amount != nil {
		res.Amount, _ = money.ParseMajor(r.Amount.Value)
	} else if req.Amount != nil {
		res.Amount = *req.Amount
	}
	return res, nil
}

type payoutBatch struct {
	BatchHeader struct {
		PayoutBatchID string `json:"payout_batch_id"`
		BatchStatus   string `json:"batch_status"`
	} `json:"batch_header"`
	Items []payoutItem `json:"items"`
}

type payoutItem struct {
	PayoutItemID      string `json:"payout_item_id"`
	PayoutBatchID     string `json:"payout_batch_id"`
	TransactionStatus string `json:"transaction_status"`
	Errors            *struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"errors"`
}

func (i *payoutItem) failureReason() string {
	if i.Errors == nil {
		return ""
	}
	if i.Errors.Message != "" {
		return i.Errors.Message
	}
	return i.Errors.Name
}

func (b *payoutBatch) result() *ports.PayoutResult {
	res := &ports.PayoutResult{PayoutID: b.BatchHeader.PayoutBatchID, Status: batchStatus(b.BatchHeader.BatchStatus)}
	if len(b.Items) > 0 {
		item := &b.Items[0]
		if s := itemStatus(item.TransactionStatus); s != ports.PayoutStatusPending {
			res.Status = s
		}
		res.FailureReason = item.failureReason()
	}
	return res
}

func batchStatus(s string) string {
	switch s {
	case "SUCCESS":
		return ports.PayoutStatusPaid
	case "DENIED":
		return ports.PayoutStatusFailed
	case "CANCELED":
		return ports.PayoutStatusCanceled
	}
	return ports.PayoutStatusPending
}

func itemStatus(s string) string {
	switch s {
	case "SUCCESS", "SUCCEEDED":
		return ports.PayoutStatusPaid
	case "FAILED", "BLOCKED", "RETURNED", "DENIED":
		return ports.PayoutStatusFailed
	case "CANCELED", "REFUNDED":
		return ports.PayoutStatusCanceled
	}
	return ports.PayoutStatusPending
}

// CreatePayout sends a single-item payout batch. Destinations containing "@"
// are PayPal account emails; anything else is a PayPal payer id.
func (a *Adapter) CreatePayout(ctx context.Context, creds ports.Credentials, req ports.PayoutRequest) (*ports.PayoutResult, error) {
	if err := money.CheckScale(req.Amount, req.Currency); err != nil {
		return nil, apperror.Validation(err.Error())
	}
	recipientType := "PAYPAL_ID"
	if strings.Contains(req.Destination, "@") {
		recipientType = "EMAIL"
	}
	body := map[string]any{
		"sender_batch_header": map[string]string{
			"sender_batch_id": req.Reference,
			"email_subject":   "You have a payout",
		},
		"items": []map[string]any{{
			"recipient_type": recipientType,
			"receiver":       req.Destination,
			"sender_item_id": req.Reference,
			"amount": map[string]string{
				"currency": req.Currency,
				"value":    money.FormatMajor(req.Amount, req.Currency),
			},
		}},
	}

	var b payoutBatch
	if err := a.send(ctx, creds, http.MethodPost, "/v1/payments/payouts", body, req.Reference, &b); err != nil {
		return nil, err
	}
	return b.result(), nil
}

func (a *Adapter) GetPayout(ctx context.Context, creds ports.Credentials, payoutID string) (*ports.PayoutResult, error) {
	var b payoutBatch
	if err := a.send(ctx, creds, http.MethodGet, "/v1/payments/payouts/"+url.PathEscape(payoutID), nil, "", &b); err != nil {
		return nil, err
	}
	return b.result(), nil
}

func (a *Adapter) send(ctx context.Context, creds ports.Credentials, method, path string, body any, requestID string, out any) error {
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return apperror.InternalError(fmt.Errorf("encode paypal request: %w", err))
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
	if requestID != "" {
		req.Header.Set("PayPal-Request-Id", requestID)
	}
	if err := a.authorize(req, creds); err != nil {
		return err
	}
	return a.client.Do(req, out)
}

// authorize sets a bearer token. Tokens are cached per client id until
// shortly before they expire.
func (a *Adapter) authorize(req *http.Request, creds ports.Credentials) error {
	tok, err := a.tokenSource(creds).Token()
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && rerr.Response != nil && rerr.Response.StatusCode < 500 {
			return apperror.ErrGateway("PayPal rejected the client credentials", err)
		}
		return apperror.ErrGatewayUnavailable(fmt.Errorf("paypal token: %w", err))
	}
	tok.SetAuthHeader(req)
	return nil
}

func (a *Adapter) tokenSource(creds ports.Credentials) oauth2.TokenSource {
	a.mu.Lock()
	defer a.mu.Unlock()

	if cached, ok := a.tokens[creds.KeyID]; ok && cached.secret == creds.SecretKey {
		return cached.source
	}
	cc := &clientcredentials.Config{
		ClientID:     creds.KeyID,
		ClientSecret: creds.SecretKey,
		TokenURL:     a.client.URL("/v1/oauth2/token"),
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	// The source outlives any single request, so it gets its own context.
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, a.client.HTTPClient())
	src := cc.TokenSource(tokenCtx)
	a.tokens[creds.KeyID] = cachedSource{secret: creds.SecretKey, source: src}
	return src
}
