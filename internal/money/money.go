// Package money converts between decimal amounts and provider minor units.
package money

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrOutOfRange is returned for amounts the ledger cannot store.
var ErrOutOfRange = errors.New("amount out of range")

var (
	// amountLimit bounds every stored amount; ledger columns are NUMERIC(14,2).
	amountLimit = decimal.New(1, 12)
	maxMinor    = decimal.NewFromInt(math.MaxInt64)
)

var zeroDecimalCurrencies = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "JPY": true,
	"KMF": true, "KRW": true, "MGA": true, "PYG": true, "RWF": true,
	"UGX": true, "VND": true, "VUV": true, "XAF": true, "XOF": true, "XPF": true,
}

// NormalizeCurrency upper-cases a currency code and checks its shape.
func NormalizeCurrency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 3 {
		return "", fmt.Errorf("currency %q must be a 3-letter ISO code", code)
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return "", fmt.Errorf("currency %q must be a 3-letter ISO code", code)
		}
	}
	return code, nil
}

// Exponent returns the number of minor-unit digits for a currency.
func Exponent(currency string) int32 {
	if zeroDecimalCurrencies[strings.ToUpper(currency)] {
		return 0
	}
	return 2
}

// Round rounds an amount to the currency's minor unit.
func Round(amount decimal.Decimal, currency string) decimal.Decimal {
	return amount.Round(Exponent(currency))
}

// CheckRange rejects negative amounts and amounts too large to store.
func CheckRange(amount decimal.Decimal) error {
	if amount.IsNegative() || amount.GreaterThanOrEqual(amountLimit) {
		return fmt.Errorf("%w: %s must be between 0 and %s", ErrOutOfRange, amount, amountLimit)
	}
	return nil
}

// ToMinor converts an amount to integer minor units. Amounts with more precision
// than the currency allows, negative amounts and amounts beyond int64 are
// rejected.
func ToMinor(amount decimal.Decimal, currency string) (int64, error) {
	exp := Exponent(currency)
	if !amount.Equal(amount.Round(exp)) {
		return 0, fmt.Errorf("amount %s has more than %d decimal places for %s", amount, exp, currency)
	}
	minor := amount.Shift(exp)
	if !minor.IsInteger() {
		return 0, fmt.Errorf("amount %s is not representable in minor units", amount)
	}
	if minor.IsNegative() || minor.GreaterThan(maxMinor) {
		return 0, fmt.Errorf("%w: %s %s", ErrOutOfRange, amount, currency)
	}
	return minor.IntPart(), nil
}

// FromMinor converts integer minor units back to a decimal amount.
func FromMinor(minor int64, currency string) decimal.Decimal {
	return decimal.New(minor, -Exponent(currency))
}

// Format renders an amount with its currency, e.g. "45.00 USD".
func Format(amount decimal.Decimal, currency string) string {
	return amount.StringFixed(Exponent(currency)) + " " + strings.ToUpper(currency)
}
