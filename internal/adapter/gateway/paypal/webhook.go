package paypal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"giftcard-ledger/internal/core/domain"
	"giftcard-ledger/internal/core/ports"
	"giftcard-ledger/pkg/apperror"
	"giftcard-ledger/pkg/money"

	"github.com/shopspring/decimal"
)

// Transmission headers PayPal sends with every webhook.
const (
	HeaderAuthAlgo         = "PAYPAL-AUTH-ALGO"
	HeaderCertURL          = "PAYPAL-CERT-URL"
	HeaderTransmissionID   = "PAYPAL-TRANSMISSION-ID"
	HeaderTransmissionSig  = "PAYPAL-TRANSMISSION-SIG"
	HeaderTransmissionTime = "PAYPAL-TRANSMISSION-TIME"
)

type event struct {
	ID        string          `json:"id"`
	EventType string          `json:"event_type"`
	Resource  json.RawMessage `json:"resource"`
}

type verifyResponse struct {
	VerificationStatus string `json:"verification_status"`
}

// VerifyWebhook asks PayPal to verify the transmission, then normalizes the
// event. Verification API outages surface as GW_003 so PayPal redelivers.
func (a *Adapter) VerifyWebhook(ctx context.Context, creds ports.Credentials, payload []byte, header http.Header) (*domain.GatewayEvent, error) {
	if creds.WebhookID == "" {
		return nil, errSignature("no webhook id configured")
	}
	body := map[string]any{
		"auth_algo":         header.Get(HeaderAuthAlgo),
		"cert_url":          header.Get(HeaderCertURL),
		"transmission_id":   header.Get(HeaderTransmissionID),
		"transmission_sig":  header.Get(HeaderTransmissionSig),
		"transmission_time": header.Get(HeaderTransmissionTime),
		"webhook_id":        creds.WebhookID,
		"webhook_event":     json.RawMessage(payload),
	}
	for _, k := range []string{"auth_algo", "cert_url", "transmission_id", "transmission_sig", "transmission_time"} {
		if body[k] == "" {
			return nil, errSignature("missing transmission header %s", k)
		}
	}
	if !json.Valid(payload) {
		return nil, errSignature("payload is not JSON")
	}

	var vr verifyResponse
	if err := a.send(ctx, creds, http.MethodPost, "/v1/notifications/verify-webhook-signature", body, "", &vr); err != nil {
		if apperror.Is(err, apperror.CodeGatewayUnavailable) {
			return nil, err
		}
		return nil, errSignature("verification call rejected: %v", err)
	}
	if vr.VerificationStatus != "SUCCESS" {
		return nil, errSignature("verification status %q", vr.VerificationStatus)
	}

	return parseEvent(payload)
}

func parseEvent(payload []byte) (*domain.GatewayEvent, error) {
	var ev event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, errSignature("decode event: %v", err)
	}
	out := &domain.GatewayEvent{
		EventID:  ev.ID,
		RawType:  ev.EventType,
		Type:     domain.EventUnhandled,
		Provider: domain.ProviderPayPal,
	}

	switch ev.EventType {
	case "PAYMENT.CAPTURE.COMPLETED", "PAYMENT.CAPTURE.DENIED":
		var c capture
		if err := json.Unmarshal(ev.Resource, &c); err != nil {
			return nil, errSignature("decode capture: %v", err)
		}
		out.Type = domain.EventChargeSucceeded
		if ev.EventType == "PAYMENT.CAPTURE.DENIED" {
			out.Type = domain.EventChargeFailed
			out.FailureReason = "capture denied"
			if c.StatusDetails.Reason != "" {
				out.FailureReason = c.StatusDetails.Reason
			}
		}
		out.ExternalID = c.SupplementaryData.RelatedIDs.OrderID
		if out.ExternalID == "" {
			out.ExternalID = c.ID
		}
		out.ChargeReference = c.ID
		out.Amount, out.Currency = parseAmount(c.Amount)

	case "PAYMENT.CAPTURE.REFUNDED":
		var r refund
		if err := json.Unmarshal(ev.Resource, &r); err != nil {
			return nil, errSignature("decode refund: %v", err)
		}
		out.Type = domain.EventChargeRefunded
		out.ExternalID = captureIDFromLinks(r.Links)
		out.ChargeReference = out.ExternalID
		out.RefundID = r.ID
		out.Amount, out.Currency = parseAmount(r.Amount)

	case "PAYMENT.PAYOUTSBATCH.SUCCESS", "PAYMENT.PAYOUTSBATCH.DENIED":
		var b payoutBatch
		if err := json.Unmarshal(ev.Resource, &b); err != nil {
			return nil, errSignature("decode payout batch: %v", err)
		}
		out.ExternalID = b.BatchHeader.PayoutBatchID
		out.Type = domain.EventPayoutPaid
		if ev.EventType == "PAYMENT.PAYOUTSBATCH.DENIED" {
			out.Type = domain.EventPayoutFailed
			out.FailureReason = "payout batch denied"
		}

	case "PAYMENT.PAYOUTS-ITEM.SUCCEEDED", "PAYMENT.PAYOUTS-ITEM.FAILED", "PAYMENT.PAYOUTS-ITEM.BLOCKED",
		"PAYMENT.PAYOUTS-ITEM.RETURNED", "PAYMENT.PAYOUTS-ITEM.DENIED", "PAYMENT.PAYOUTS-ITEM.CANCELED":
		var item payoutItem
		if err := json.Unmarshal(ev.Resource, &item); err != nil {
			return nil, errSignature("decode payout item: %v", err)
		}
		out.ExternalID = item.PayoutBatchID
		out.FailureReason = item.failureReason()
		switch strings.TrimPrefix(ev.EventType, "PAYMENT.PAYOUTS-ITEM.") {
		case "SUCCEEDED":
			out.Type = domain.EventPayoutPaid
		case "CANCELED":
			out.Type = domain.EventPayoutCanceled
		default:
			out.Type = domain.EventPayoutFailed
		}
	}

	return out, nil
}

func parseAmount(a *amount) (*decimal.Decimal, string) {
	if a == nil {
		return nil, ""
	}
	v, err := money.ParseMajor(a.Value)
	if err != nil {
		return nil, a.CurrencyCode
	}
	return &v, a.CurrencyCode
}

// captureIDFromLinks finds the refunded capture through the "up" link,
// e.g. https://api-m.paypal.com/v2/payments/captures/<id>.
func captureIDFromLinks(links []link) string {
	for _, l := range links {
		if l.Rel != "up" {
			continue
		}
		if i := strings.LastIndex(l.Href, "/captures/"); i >= 0 {
			return strings.Trim(l.Href[i+len("/captures/"):], "/")
		}
	}
	return ""
}

func errSignature(format string, args ...any) error {
	return apperror.Wrap(apperror.CodeSignature, "Invalid signature", http.StatusBadRequest, fmt.Errorf(format, args...))
}
