// Package model defines the core domain types shared across the vault engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// AssetKind identifies which of the two vault assets an amount refers to.
type AssetKind string

const (
	// AssetStable is the fiat-pegged asset (6-decimal base units, 1:1 USD).
	AssetStable AssetKind = "STABLE"
	// AssetVolatile is the oracle-priced asset (18-decimal base units).
	AssetVolatile AssetKind = "VOLATILE"
)

// Valid reports whether k names one of the two vault assets.
func (k AssetKind) Valid() bool {
	return k == AssetStable || k == AssetVolatile
}

// NavHistoryCapacity bounds the NAV snapshot ledger. Once full, the oldest
// snapshot is evicted before the next append; chronological order is the
// observable contract.
const NavHistoryCapacity = 100

// VaultState is the single aggregate row describing the vault.
// NavPerShare is a cache of the last computed valuation, refreshed by
// the service before any money-moving decision — never the source of truth.
type VaultState struct {
	StableBalance   decimal.Decimal `json:"stable_balance"`   // 6-dec base units
	VolatileBalance decimal.Decimal `json:"volatile_balance"` // 18-dec base units
	TotalShares     decimal.Decimal `json:"total_shares"`     // 18-dec base units
	NavPerShare     decimal.Decimal `json:"nav_per_share"`    // 18-dec, 1e18 == $1.00
	LastNavUpdate   time.Time       `json:"last_nav_update"`
	TotalUsers      int64           `json:"total_users"`
	ActiveUsers     int64           `json:"active_users"`
}

// UserPosition tracks one depositor's shares and lifetime contributions.
// The record persists after the position closes (shares back to zero);
// only Active is cleared.
type UserPosition struct {
	UserID              string          `json:"user_id"`
	Shares              decimal.Decimal `json:"shares"`               // 18-dec
	StableContributed   decimal.Decimal `json:"stable_contributed"`   // 6-dec
	VolatileContributed decimal.Decimal `json:"volatile_contributed"` // 18-dec
	Active              bool            `json:"active"`
	FirstDepositAt      time.Time       `json:"first_deposit_at"`
	LastDepositAt       time.Time       `json:"last_deposit_at"`
}

// NavSnapshot is an immutable (timestamp, NAV, total value) record appended
// after each profit distribution.
type NavSnapshot struct {
	Timestamp   time.Time       `json:"timestamp"`
	NavPerShare decimal.Decimal `json:"nav_per_share"` // 18-dec
	TotalValue  decimal.Decimal `json:"total_value"`   // 6-dec USD terms
}

// Vault event kinds recorded in the immutable event log.
const (
	EventDeposit      = "DEPOSIT"
	EventWithdrawal   = "WITHDRAWAL"
	EventAgentRequest = "AGENT_REQUEST"
	EventAgentReturn  = "AGENT_RETURN"
	EventFee          = "FEE"
)

// VaultEvent is an immutable record of a balance-moving operation.
// Once created, these are never modified or deleted.
type VaultEvent struct {
	ID        string          `json:"id" db:"id"`
	Kind      string          `json:"kind" db:"kind"`
	UserID    string          `json:"user_id" db:"user_id"` // depositor, agent, or fee recipient
	Asset     AssetKind       `json:"asset" db:"asset"`
	Amount    decimal.Decimal `json:"amount" db:"amount"` // asset base units
	Value     decimal.Decimal `json:"value" db:"value"`   // 6-dec USD terms at execution
	Shares    decimal.Decimal `json:"shares" db:"shares"` // 18-dec; zero for non-share events
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// VaultStats is the read-only statistics snapshot exposed by the query API.
type VaultStats struct {
	TotalValue      decimal.Decimal `json:"total_value"` // 6-dec USD terms
	NavPerShare     decimal.Decimal `json:"nav_per_share"`
	TotalShares     decimal.Decimal `json:"total_shares"`
	StableBalance   decimal.Decimal `json:"stable_balance"`
	VolatileBalance decimal.Decimal `json:"volatile_balance"`
	OraclePrice     decimal.Decimal `json:"oracle_price"` // 6-dec, cached read
	TotalUsers      int64           `json:"total_users"`
	ActiveUsers     int64           `json:"active_users"`
	LastNavUpdate   time.Time       `json:"last_nav_update"`
}
