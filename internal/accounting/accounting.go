// Package accounting implements the vault's share-issuance, redemption,
// valuation, and profit-split mathematics.
//
// The vault issues fungible shares proportional to the USD value a deposit
// contributes, and redeems them against a proportional slice of live vault
// value. Existing holders' percentage of the vault is unaffected by a new
// deposit beyond dilution by the newly minted shares, because mint amounts
// are computed against the pre-deposit total value.
//
// All monetary values use shopspring/decimal — never float64 for money.
// Every division floors toward zero; multiplies are exact. The package is
// stateless — vault totals are passed as arguments, not stored.
package accounting

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/atmx/vault-engine/internal/fixedpoint"
	"github.com/atmx/vault-engine/internal/model"
)

var (
	// ErrZeroVaultValue is returned when share math would divide by a zero
	// vault value while shares remain outstanding.
	ErrZeroVaultValue = errors.New("accounting: vault value is zero with shares outstanding")

	// ErrZeroPrice is returned when a volatile-asset conversion is asked
	// for with a zero price.
	ErrZeroPrice = errors.New("accounting: volatile price is zero")

	// ErrUnknownAsset is returned for an asset kind outside the two the
	// vault holds.
	ErrUnknownAsset = errors.New("accounting: unknown asset kind")
)

// Performance fee: 20% of realized profit, in basis points.
var (
	FeeRateBps     = decimal.NewFromInt(2000)
	BpsDenominator = decimal.NewFromInt(10000)
)

// unitNav is 1.0 in share precision: the NAV per share of an empty vault
// and the bootstrap exchange rate for the first deposit.
var unitNav = fixedpoint.Pow10(fixedpoint.ShareDecimals)

// volatileUnit is one whole volatile-asset token in base units (1e18).
var volatileUnit = fixedpoint.Pow10(fixedpoint.VolatileDecimals)

// UnitNav returns 1.0 in share precision (1e18).
func UnitNav() decimal.Decimal {
	return unitNav
}

// TotalValue returns the vault's USD value in stable precision:
// the stable balance plus the volatile balance converted at price6.
func TotalValue(stable6, volatile18, price6 decimal.Decimal) decimal.Decimal {
	converted, _ := fixedpoint.MulDiv(volatile18, price6, volatileUnit)
	return stable6.Add(converted)
}

// NavPerShare returns the USD value of one share in share precision.
// An empty vault values shares at exactly 1.0.
func NavPerShare(totalValue6, totalShares18 decimal.Decimal) decimal.Decimal {
	if totalShares18.IsZero() {
		return unitNav
	}
	value18 := fixedpoint.Convert(totalValue6, fixedpoint.StableDecimals, fixedpoint.ShareDecimals)
	nav, _ := fixedpoint.MulDiv(value18, unitNav, totalShares18)
	return nav
}

// DepositValue converts a deposit amount into stable-precision USD terms.
// Stable deposits pass through; volatile deposits convert at price6.
func DepositValue(asset model.AssetKind, amount, price6 decimal.Decimal) (decimal.Decimal, error) {
	switch asset {
	case model.AssetStable:
		return amount, nil
	case model.AssetVolatile:
		value, _ := fixedpoint.MulDiv(amount, price6, volatileUnit)
		return value, nil
	default:
		return decimal.Zero, ErrUnknownAsset
	}
}

// SharesForDeposit returns the shares to mint for a deposit worth value6,
// given the pre-deposit totals. A zero-supply vault bootstraps at 1:1
// (one share per USD-equivalent unit, rescaled to share precision), so
// value left behind by a full redemption is always recoverable.
func SharesForDeposit(value6, totalShares18, totalValue6 decimal.Decimal) (decimal.Decimal, error) {
	if totalShares18.IsZero() {
		return fixedpoint.Convert(value6, fixedpoint.StableDecimals, fixedpoint.ShareDecimals), nil
	}
	if totalValue6.IsZero() {
		return decimal.Zero, ErrZeroVaultValue
	}
	shares, _ := fixedpoint.MulDiv(value6, totalShares18, totalValue6)
	return shares, nil
}

// WithdrawalValue returns the stable-precision USD value of redeeming
// shares18 against the live totals: floor(shares * totalValue / totalShares).
func WithdrawalValue(shares18, totalValue6, totalShares18 decimal.Decimal) (decimal.Decimal, error) {
	if totalShares18.IsZero() {
		return decimal.Zero, ErrZeroVaultValue
	}
	value, _ := fixedpoint.MulDiv(shares18, totalValue6, totalShares18)
	return value, nil
}

// VolatileAmountForValue converts a stable-precision USD value into
// volatile base units at price6.
func VolatileAmountForValue(value6, price6 decimal.Decimal) (decimal.Decimal, error) {
	if price6.IsZero() {
		return decimal.Zero, ErrZeroPrice
	}
	return fixedpoint.MulDiv(value6, volatileUnit, price6)
}

// SplitProfit divides a realized profit into the performance fee and the
// shareholder accretion: fee = floor(profit * 2000 / 10000), accretion is
// the remainder. Both stay denominated in the profit's asset.
func SplitProfit(profit decimal.Decimal) (fee, accretion decimal.Decimal) {
	fee, _ = fixedpoint.MulDiv(profit, FeeRateBps, BpsDenominator)
	return fee, profit.Sub(fee)
}
