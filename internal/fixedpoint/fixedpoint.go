// Package fixedpoint converts amounts between the fixed-point precisions used
// by the vault: stable-asset units (6 decimals), volatile-asset units
// (18 decimals), vault shares (18 decimals), and oracle prices (6 decimals).
//
// All monetary values use shopspring/decimal — never float64 for money.
// Amounts are integer-valued decimals denominated in base units of their
// stated precision. Up-scaling is an exact multiply; down-scaling truncates
// toward zero, as does every division.
package fixedpoint

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Precisions in play. The stable asset is assumed pegged 1:1 to the USD
// accounting unit, so stable base units double as value units.
const (
	StableDecimals   int32 = 6
	VolatileDecimals int32 = 18
	ShareDecimals    int32 = 18
	PriceDecimals    int32 = 6
)

// ErrDivisionByZero is returned by MulDiv when the denominator is zero.
var ErrDivisionByZero = errors.New("fixedpoint: division by zero")

// Convert rescales amount from one precision to another:
// amount * 10^(to-from). Scaling up is exact; scaling down truncates
// toward zero.
func Convert(amount decimal.Decimal, from, to int32) decimal.Decimal {
	diff := to - from
	if diff == 0 {
		return amount
	}
	scaled := amount.Shift(diff)
	if diff < 0 {
		return scaled.Truncate(0)
	}
	return scaled
}

// MulDiv computes floor((a * b) / den) with exact intermediate arithmetic.
// The multiply never loses precision; only the final division truncates.
func MulDiv(a, b, den decimal.Decimal) (decimal.Decimal, error) {
	if den.IsZero() {
		return decimal.Zero, ErrDivisionByZero
	}
	q, _ := a.Mul(b).QuoRem(den, 0)
	return q, nil
}

// Div computes floor(a / den).
func Div(a, den decimal.Decimal) (decimal.Decimal, error) {
	if den.IsZero() {
		return decimal.Zero, ErrDivisionByZero
	}
	q, _ := a.QuoRem(den, 0)
	return q, nil
}

// Pow10 returns 10^n as a decimal.
func Pow10(n int32) decimal.Decimal {
	return decimal.New(1, n)
}
