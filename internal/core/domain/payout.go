package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PayoutStatus represents the lifecycle state of a merchant withdrawal.
type PayoutStatus string

const (
	PayoutStatusPending    PayoutStatus = "PENDING"
	PayoutStatusProcessing PayoutStatus = "PROCESSING"
	PayoutStatusCompleted  PayoutStatus = "COMPLETED"
	PayoutStatusFailed     PayoutStatus = "FAILED"
	PayoutStatusCancelled  PayoutStatus = "CANCELLED"
)

// PayoutMethod selects the rail a payout is sent over.
type PayoutMethod string

const (
	PayoutMethodStripe       PayoutMethod = "STRIPE"
	PayoutMethodPayPal       PayoutMethod = "PAYPAL"
	PayoutMethodRazorpay     PayoutMethod = "RAZORPAY"
	PayoutMethodBankTransfer PayoutMethod = "BANK_TRANSFER"
)

// Valid reports whether m is a known payout method.
func (m PayoutMethod) Valid() bool {
	if m == PayoutMethodBankTransfer {
		return true
	}
	_, ok := m.Provider()
	return ok
}

// Provider returns the gateway behind m. Bank transfers have none.
func (m PayoutMethod) Provider() (Provider, bool) {
	p := Provider(m)
	return p, p.Valid()
}

// IsManual reports whether completion is recorded by an operator.
func (m PayoutMethod) IsManual() bool {
	return m == PayoutMethodBankTransfer
}

// Payout is a merchant's request to withdraw payable balance.
type Payout struct {
	ID               uuid.UUID       `json:"id"`
	MerchantID       uuid.UUID       `json:"merchant_id"`
	Amount           decimal.Decimal `json:"amount"`
	NetAmount        decimal.Decimal `json:"net_amount"`
	Currency         string          `json:"currency"`
	Status           PayoutStatus    `json:"status"`
	PayoutMethod     PayoutMethod    `json:"payout_method"`
	PayoutAccountID  string          `json:"payout_account_id,omitempty"`
	ExternalPayoutID string          `json:"external_payout_id,omitempty"`
	RetryCount       int             `json:"retry_count"`
	FailureReason    string          `json:"failure_reason,omitempty"`
	ScheduledFor     time.Time       `json:"scheduled_for"`
	ProcessedAt      *time.Time      `json:"processed_at,omitempty"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// IsInFlight reports whether the payout still reserves merchant funds.
func (p *Payout) IsInFlight() bool {
	return p.Status == PayoutStatusPending || p.Status == PayoutStatusProcessing
}

// PayoutSchedule controls when a requested payout is dispatched.
type PayoutSchedule string

const (
	PayoutScheduleImmediate PayoutSchedule = "IMMEDIATE"
	PayoutScheduleDaily     PayoutSchedule = "DAILY"
	PayoutScheduleWeekly    PayoutSchedule = "WEEKLY"
	PayoutScheduleMonthly   PayoutSchedule = "MONTHLY"
)

// Valid reports whether s is a known schedule.
func (s PayoutSchedule) Valid() bool {
	switch s {
	case PayoutScheduleImmediate, PayoutScheduleDaily, PayoutScheduleWeekly, PayoutScheduleMonthly:
		return true
	}
	return false
}

// NextRun returns the earliest dispatch time for a payout requested at from.
// Daily runs at 00:00 UTC, weekly on Monday, monthly on the 1st.
func (s PayoutSchedule) NextRun(from time.Time) time.Time {
	from = from.UTC()
	midnight := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	switch s {
	case PayoutScheduleDaily:
		return midnight.AddDate(0, 0, 1)
	case PayoutScheduleWeekly:
		days := (int(time.Monday) - int(midnight.Weekday()) + 7) % 7
		if days == 0 {
			days = 7
		}
		return midnight.AddDate(0, 0, days)
	case PayoutScheduleMonthly:
		return time.Date(from.Year(), from.Month()+1, 1, 0, 0, 0, 0, time.UTC)
	default:
		return from
	}
}

// PayoutSettings are a merchant's withdrawal preferences.
type PayoutSettings struct {
	MerchantID      uuid.UUID       `json:"merchant_id"`
	MinimumAmount   decimal.Decimal `json:"minimum_amount"`
	Schedule        PayoutSchedule  `json:"schedule"`
	PayoutMethod    PayoutMethod    `json:"payout_method"`
	PayoutAccountID string          `json:"payout_account_id,omitempty"`
	UpdatedAt       time.Time       `json:"updated_at"`
}
