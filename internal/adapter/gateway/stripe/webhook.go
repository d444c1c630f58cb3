package stripe

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"giftcard-ledger/internal/adapter/gateway/gatewayhttp"
	"giftcard-ledger/internal/core/domain"
	"giftcard-ledger/internal/core/ports"
	"giftcard-ledger/pkg/money"

	"github.com/shopspring/decimal"
)

// SignatureHeader carries "t=<unix>,v1=<hex>[,v1=<hex>...]".
const SignatureHeader = "Stripe-Signature"

type event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type charge struct {
	ID             string `json:"id"`
	PaymentIntent  string `json:"payment_intent"`
	AmountRefunded int64  `json:"amount_refunded"`
	Currency       string `json:"currency"`
	Refunds        struct {
		Data []refund `json:"data"`
	} `json:"refunds"`
}

type account struct {
	ID             string `json:"id"`
	ChargesEnabled bool   `json:"charges_enabled"`
	PayoutsEnabled bool   `json:"payouts_enabled"`
}

func (a *Adapter) VerifyWebhook(ctx context.Context, creds ports.Credentials, payload []byte, header http.Header) (*domain.GatewayEvent, error) {
	if err := a.verifySignature(creds.WebhookSecret, payload, header.Get(SignatureHeader)); err != nil {
		return nil, err
	}

	var ev event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, errSignature("decode event: %v", err)
	}
	out := &domain.GatewayEvent{
		EventID:  ev.ID,
		RawType:  ev.Type,
		Type:     domain.EventUnhandled,
		Provider: domain.ProviderStripe,
	}

	switch ev.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed":
		var pi paymentIntent
		if err := json.Unmarshal(ev.Data.Object, &pi); err != nil {
			return nil, errSignature("decode payment intent: %v", err)
		}
		currency := strings.ToUpper(pi.Currency)
		amount := pi.AmountReceived
		if amount == 0 {
			amount = pi.Amount
		}
		out.Type = domain.EventChargeSucceeded
		if ev.Type == "payment_intent.payment_failed" {
			out.Type = domain.EventChargeFailed
			out.FailureReason = pi.failureReason()
		}
		out.ExternalID = pi.ID
		out.ChargeReference = pi.LatestCharge
		out.Currency = currency
		out.Amount = decimalPtr(money.FromMinor(amount, currency))

	case "charge.refunded":
		var ch charge
		if err := json.Unmarshal(ev.Data.Object, &ch); err != nil {
			return nil, errSignature("decode charge: %v", err)
		}
		currency := strings.ToUpper(ch.Currency)
		out.Type = domain.EventChargeRefunded
		out.ExternalID = ch.PaymentIntent
		out.ChargeReference = ch.ID
		out.Currency = currency
		out.RefundedTotal = decimalPtr(money.FromMinor(ch.AmountRefunded, currency))
		// Stripe lists refunds newest first.
		if len(ch.Refunds.Data) > 0 {
			latest := ch.Refunds.Data[0]
			out.RefundID = latest.ID
			out.Amount = decimalPtr(money.FromMinor(latest.Amount, currency))
		} else {
			out.RefundID = ev.ID
		}

	case "payout.paid", "payout.failed", "payout.canceled":
		var p payout
		if err := json.Unmarshal(ev.Data.Object, &p); err != nil {
			return nil, errSignature("decode payout: %v", err)
		}
		out.ExternalID = p.ID
		out.FailureReason = p.FailureMessage
		switch ev.Type {
		case "payout.paid":
			out.Type = domain.EventPayoutPaid
		case "payout.failed":
			out.Type = domain.EventPayoutFailed
		default:
			out.Type = domain.EventPayoutCanceled
		}

	case "account.updated":
		var acct account
		if err := json.Unmarshal(ev.Data.Object, &acct); err != nil {
			return nil, errSignature("decode account: %v", err)
		}
		verified := acct.ChargesEnabled && acct.PayoutsEnabled
		out.Type = domain.EventAccountUpdated
		out.ExternalID = acct.ID
		out.AccountVerified = &verified
	}

	return out, nil
}

func (a *Adapter) verifySignature(secret string, payload []byte, header string) error {
	if secret == "" {
		return errSignature("no webhook secret configured")
	}
	if header == "" {
		return errSignature("missing %s header", SignatureHeader)
	}

	var timestamp string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			timestamp = v
		case "v1":
			signatures = append(signatures, v)
		}
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return errSignature("bad timestamp %q", timestamp)
	}
	if len(signatures) == 0 {
		return errSignature("no v1 signature")
	}
	age := a.now().Sub(time.Unix(ts, 0))
	if age > a.tolerance || age < -a.tolerance {
		return errSignature("timestamp outside tolerance: %s", age)
	}

	signed := make([]byte, 0, len(timestamp)+1+len(payload))
	signed = append(signed, timestamp...)
	signed = append(signed, '.')
	signed = append(signed, payload...)
	for _, sig := range signatures {
		if gatewayhttp.VerifyHex(secret, signed, sig) {
			return nil
		}
	}
	return errSignature("no matching v1 signature")
}

func decimalPtr(d decimal.Decimal) *decimal.Decimal {
	return &d
}
