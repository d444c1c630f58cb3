package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Provider identifies an external payment network.
type Provider string

const (
	ProviderStripe   Provider = "STRIPE"
	ProviderPayPal   Provider = "PAYPAL"
	ProviderRazorpay Provider = "RAZORPAY"
)

// Valid reports whether p is a supported provider.
func (p Provider) Valid() bool {
	switch p {
	case ProviderStripe, ProviderPayPal, ProviderRazorpay:
		return true
	}
	return false
}

// ParseProvider accepts any casing, as used in webhook URLs ("stripe").
func ParseProvider(s string) (Provider, bool) {
	p := Provider(strings.ToUpper(strings.TrimSpace(s)))
	return p, p.Valid()
}

// VerificationStatus tracks whether a merchant's gateway account has been vetted.
type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "PENDING"
	VerificationVerified VerificationStatus = "VERIFIED"
	VerificationFailed   VerificationStatus = "FAILED"
)

// Valid reports whether s is a known verification status.
func (s VerificationStatus) Valid() bool {
	switch s {
	case VerificationPending, VerificationVerified, VerificationFailed:
		return true
	}
	return false
}

// MerchantGateway holds one merchant's encrypted credentials for one provider.
type MerchantGateway struct {
	ID                   uuid.UUID          `json:"id"`
	MerchantID           uuid.UUID          `json:"merchant_id"`
	Provider             Provider           `json:"provider"`
	AccountID            string             `json:"account_id,omitempty"`
	EncryptedCredentials string             `json:"-"`
	VerificationStatus   VerificationStatus `json:"verification_status"`
	IsActive             bool               `json:"is_active"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// Usable reports whether payments and payouts may go through this gateway.
func (g *MerchantGateway) Usable() bool {
	return g.VerificationStatus == VerificationVerified && g.IsActive
}
