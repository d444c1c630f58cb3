package razorpay

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"giftcard-ledger/internal/adapter/gateway/gatewayhttp"
	"giftcard-ledger/internal/core/domain"
	"giftcard-ledger/internal/core/ports"
	"giftcard-ledger/pkg/money"

	"github.com/shopspring/decimal"
)

// SignatureHeader carries hex HMAC-SHA256 of the raw body, keyed with the
// webhook secret.
const SignatureHeader = "X-Razorpay-Signature"

// EventIDHeader is unique per event and reused on redelivery.
const EventIDHeader = "X-Razorpay-Event-Id"

type event struct {
	Event   string `json:"event"`
	Payload struct {
		Payment *struct {
			Entity paymentResp `json:"entity"`
		} `json:"payment"`
		Refund *struct {
			Entity refundResp `json:"entity"`
		} `json:"refund"`
		Payout *struct {
			Entity payoutResp `json:"entity"`
		} `json:"payout"`
	} `json:"payload"`
}

func (a *Adapter) VerifyWebhook(ctx context.Context, creds ports.Credentials, payload []byte, header http.Header) (*domain.GatewayEvent, error) {
	if creds.WebhookSecret == "" {
		return nil, errSignature("no webhook secret configured")
	}
	sig := header.Get(SignatureHeader)
	if sig == "" {
		return nil, errSignature("missing %s header", SignatureHeader)
	}
	if !gatewayhttp.VerifyHex(creds.WebhookSecret, payload, sig) {
		return nil, errSignature("signature mismatch")
	}
	return parseEvent(payload, header.Get(EventIDHeader))
}

func parseEvent(payload []byte, eventID string) (*domain.GatewayEvent, error) {
	var ev event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, errSignature("decode event: %v", err)
	}
	out := &domain.GatewayEvent{
		EventID:  eventID,
		RawType:  ev.Event,
		Type:     domain.EventUnhandled,
		Provider: domain.ProviderRazorpay,
	}

	switch ev.Event {
	case "payment.captured", "payment.failed":
		if ev.Payload.Payment == nil {
			return nil, errSignature("%s without payment entity", ev.Event)
		}
		p := ev.Payload.Payment.Entity
		currency := strings.ToUpper(p.Currency)
		out.Type = domain.EventChargeSucceeded
		if ev.Event == "payment.failed" {
			out.Type = domain.EventChargeFailed
			out.FailureReason = p.ErrorDescription
		}
		out.ExternalID = p.OrderID
		out.ChargeReference = p.ID
		out.Currency = currency
		out.Amount = decimalPtr(money.FromMinor(p.Amount, currency))

	case "refund.processed":
		if ev.Payload.Refund == nil {
			return nil, errSignature("%s without refund entity", ev.Event)
		}
		r := ev.Payload.Refund.Entity
		currency := strings.ToUpper(r.Currency)
		out.Type = domain.EventChargeRefunded
		out.ExternalID = r.PaymentID
		out.ChargeReference = r.PaymentID
		out.RefundID = r.ID
		out.Currency = currency
		out.Amount = decimalPtr(money.FromMinor(r.Amount, currency))
		if ev.Payload.Payment != nil {
			p := ev.Payload.Payment.Entity
			// Prefer the order id so the event resolves like charge events.
			if p.OrderID != "" {
				out.ExternalID = p.OrderID
			}
			out.RefundedTotal = decimalPtr(money.FromMinor(p.AmountRefunded, currency))
		}

	case "payout.processed", "payout.failed", "payout.reversed", "payout.rejected", "payout.cancelled":
		if ev.Payload.Payout == nil {
			return nil, errSignature("%s without payout entity", ev.Event)
		}
		res := ev.Payload.Payout.Entity.result()
		out.ExternalID = res.PayoutID
		out.FailureReason = res.FailureReason
		switch strings.TrimPrefix(ev.Event, "payout.") {
		case "processed":
			out.Type = domain.EventPayoutPaid
		case "cancelled":
			out.Type = domain.EventPayoutCanceled
		default:
			out.Type = domain.EventPayoutFailed
		}
	}

	return out, nil
}

func decimalPtr(d decimal.Decimal) *decimal.Decimal {
	return &d
}
