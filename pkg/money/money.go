// Package money converts between the internal decimal amount type and the
// minor-unit integers and major-unit strings used by payment providers.
package money

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// zero-decimal and three-decimal currencies; everything else has two.
var exponents = map[string]int32{
	"JPY": 0,
	"KRW": 0,
	"VND": 0,
	"CLP": 0,
	"PYG": 0,
	"ISK": 0,
	"UGX": 0,
	"BHD": 3,
	"KWD": 3,
	"OMR": 3,
	"JOD": 3,
	"TND": 3,
}

// Normalize upper-cases and trims a currency code.
func Normalize(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}

// ValidCurrency reports whether currency looks like an ISO-4217 code.
func ValidCurrency(currency string) bool {
	return currencyPattern.MatchString(currency)
}

// Exponent returns the number of minor-unit digits for currency.
func Exponent(currency string) int32 {
	if e, ok := exponents[Normalize(currency)]; ok {
		return e
	}
	return 2
}

// ToMinor converts a major-unit amount to integer minor units. Amounts with more
// precision than the currency allows are rejected rather than rounded.
func ToMinor(amount decimal.Decimal, currency string) (int64, error) {
	shifted := amount.Shift(Exponent(currency))
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has more than %d decimal places for %s", amount, Exponent(currency), Normalize(currency))
	}
	return shifted.IntPart(), nil
}

// FromMinor converts integer minor units to a major-unit decimal.
func FromMinor(minor int64, currency string) decimal.Decimal {
	return decimal.New(minor, -Exponent(currency))
}

// FormatMajor renders amount with exactly the currency's number of decimals,
// e.g. "49.00" for USD or "100" for JPY.
func FormatMajor(amount decimal.Decimal, currency string) string {
	return amount.StringFixed(Exponent(currency))
}

// ParseMajor parses a provider major-unit string.
func ParseMajor(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return d, nil
}

// CheckScale rejects amounts that cannot be represented in the currency.
func CheckScale(amount decimal.Decimal, currency string) error {
	_, err := ToMinor(amount, currency)
	return err
}
