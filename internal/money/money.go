// Package money converts user-facing decimal amount strings to and from the
// integer minor-unit representation the ledger does all arithmetic in.
// Monetary values never pass through binary floating point.
package money

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrMalformedAmount is returned for any amount string that is not a plain
// non-negative decimal, encodes more fractional digits than the currency
// allows, or does not fit in an int64 of minor units.
var ErrMalformedAmount = errors.New("malformed amount")

// ToMinorUnits parses a decimal string into minor units, exact for any
// value with up to decimals fractional digits. Accepted syntax is digits
// with at most one decimal point; no sign, no exponent, no grouping.
func ToMinorUnits(s string, decimals int32) (int64, error) {
	if !validAmountString(s, decimals) {
		return 0, ErrMalformedAmount
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, ErrMalformedAmount
	}

	minor := d.Shift(decimals)
	if !minor.IsInteger() {
		return 0, ErrMalformedAmount
	}

	big := minor.BigInt()
	if !big.IsInt64() {
		return 0, ErrMalformedAmount
	}

	return big.Int64(), nil
}

// ToDecimalString renders minor units back as a decimal string. The result
// round-trips exactly through ToMinorUnits; trailing fractional zeros are
// trimmed.
func ToDecimalString(minor int64, decimals int32) string {
	return decimal.New(minor, -decimals).String()
}

func validAmountString(s string, decimals int32) bool {
	if s == "" {
		return false
	}

	intPart, fracPart, hasDot := strings.Cut(s, ".")
	if intPart == "" || !digitsOnly(intPart) {
		return false
	}
	if hasDot {
		if !digitsOnly(fracPart) {
			return false
		}
		if int32(len(fracPart)) > decimals {
			return false
		}
	}
	return true
}

func digitsOnly(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
