package vault

import "errors"

// Operation failures. Every public operation is all-or-nothing: any of
// these aborts the triggering request with vault state unchanged.
var (
	// ErrInvalidInput covers zero/negative amounts, fractional base units,
	// unknown assets, empty accounts, and share amounts exceeding the
	// caller's balance.
	ErrInvalidInput = errors.New("vault: invalid input")

	// ErrZeroValuation is returned when a deposit's converted USD value,
	// the shares it would mint, or a withdrawal's redemption value or
	// payout floors to zero, typically an oracle failure or a dust amount.
	ErrZeroValuation = errors.New("vault: operation value is zero")

	// ErrInsufficientLiquidity is returned when a withdrawal or agent
	// request exceeds the relevant asset balance.
	ErrInsufficientLiquidity = errors.New("vault: insufficient liquidity")

	// ErrUnauthorized is returned when a role check fails on a privileged
	// operation.
	ErrUnauthorized = errors.New("vault: unauthorized")

	// ErrTransferFailure is returned when an underlying asset movement did
	// not complete.
	ErrTransferFailure = errors.New("vault: asset transfer failed")
)
