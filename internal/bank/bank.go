// Package bank models the external fungible-token collaborators the vault
// consumes: the share ledger (mint/burn/balance/supply) and one transfer
// bank per asset kind. The vault service is the exclusive owner of the
// share ledger; the asset banks move deposits, payouts, fees, and agent
// funds.
package bank

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidAmount is returned for zero or negative amounts.
	ErrInvalidAmount = errors.New("bank: amount must be positive")

	// ErrInsufficientFunds is returned when a transfer or burn exceeds the
	// available balance.
	ErrInsufficientFunds = errors.New("bank: insufficient funds")

	// ErrInvalidAccount is returned for an empty account identifier.
	ErrInvalidAccount = errors.New("bank: account must not be empty")
)

// ShareLedger is the fungible share token interface.
type ShareLedger interface {
	Mint(account string, amount decimal.Decimal) error
	Burn(account string, amount decimal.Decimal) error
	BalanceOf(account string) decimal.Decimal
	TotalSupply() decimal.Decimal
}

// AssetBank is the per-asset transfer interface. Balance is the vault's
// own holding of the asset.
type AssetBank interface {
	// TransferIn moves amount from an external account into the vault.
	TransferIn(from string, amount decimal.Decimal) error

	// TransferOut moves amount from the vault to an external account.
	TransferOut(to string, amount decimal.Decimal) error

	// Balance returns the vault's holding.
	Balance() decimal.Decimal
}
