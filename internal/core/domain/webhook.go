package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType is a provider event normalized to what the ledger acts on.
type EventType string

const (
	EventChargeSucceeded EventType = "CHARGE_SUCCEEDED"
	EventChargeFailed    EventType = "CHARGE_FAILED"
	EventChargeRefunded  EventType = "CHARGE_REFUNDED"
	EventPayoutPaid      EventType = "PAYOUT_PAID"
	EventPayoutFailed    EventType = "PAYOUT_FAILED"
	EventPayoutCanceled  EventType = "PAYOUT_CANCELED"
	EventAccountUpdated  EventType = "ACCOUNT_UPDATED"
	EventUnhandled       EventType = "UNHANDLED"
)

// IsPaymentEvent reports whether t targets a Payment record.
func (t EventType) IsPaymentEvent() bool {
	return t == EventChargeSucceeded || t == EventChargeFailed || t == EventChargeRefunded
}

// IsPayoutEvent reports whether t targets a Payout record.
func (t EventType) IsPayoutEvent() bool {
	return t == EventPayoutPaid || t == EventPayoutFailed || t == EventPayoutCanceled
}

// GatewayEvent is a verified provider notification, or a synchronous gateway
// result expressed the same way so both paths share one apply-once key.
type GatewayEvent struct {
	EventID  string    `json:"event_id"`
	RawType  string    `json:"raw_type"`
	Type     EventType `json:"type"`
	Provider Provider  `json:"provider"`
	// ExternalID is the payment intent/order id, or the payout id.
	ExternalID      string `json:"external_id"`
	ChargeReference string `json:"charge_reference,omitempty"`
	// Amount is the event amount; for refunds, the amount of this refund.
	Amount *decimal.Decimal `json:"amount,omitempty"`
	// RefundedTotal is a cumulative refunded amount when the provider reports one.
	RefundedTotal *decimal.Decimal `json:"refunded_total,omitempty"`
	Currency      string           `json:"currency,omitempty"`
	RefundID      string           `json:"refund_id,omitempty"`
	FailureReason string           `json:"failure_reason,omitempty"`
	// AccountVerified is set on ACCOUNT_UPDATED.
	AccountVerified *bool `json:"account_verified,omitempty"`
}

// DedupeRef is the external part of the apply-once key. Refunds and account
// updates can repeat for the same object, so they carry a discriminator.
func (e *GatewayEvent) DedupeRef() string {
	switch e.Type {
	case EventChargeRefunded:
		if e.RefundID != "" {
			return e.ExternalID + ":" + e.RefundID
		}
	case EventAccountUpdated:
		if e.EventID != "" {
			return e.ExternalID + ":" + e.EventID
		}
	}
	return e.ExternalID
}

// DedupeKey is the full (provider, externalId, eventType) key as one string.
func (e *GatewayEvent) DedupeKey() string {
	return string(e.Provider) + ":" + e.DedupeRef() + ":" + string(e.Type)
}

// WebhookEventRecord marks an event key as applied.
type WebhookEventRecord struct {
	Provider   Provider  `json:"provider"`
	ExternalID string    `json:"external_id"`
	EventType  EventType `json:"event_type"`
	EventID    string    `json:"event_id,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// NewWebhookEventRecord builds the record for e.
func NewWebhookEventRecord(e *GatewayEvent, now time.Time) *WebhookEventRecord {
	return &WebhookEventRecord{
		Provider:   e.Provider,
		ExternalID: e.DedupeRef(),
		EventType:  e.Type,
		EventID:    e.EventID,
		ReceivedAt: now,
	}
}
