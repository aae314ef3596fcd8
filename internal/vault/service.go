// Package vault implements the deposit, withdrawal, agent, and query
// operations of the dual-asset vault, exposed over HTTP.
//
// Every state-mutating operation runs to completion under one exclusive
// lock — the per-vault non-reentrant guard. Oracle refreshes (the one
// external side effect that precedes mutation) happen first, so a refresh
// failure aborts the whole operation before anything is touched.
package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/vault-engine/internal/access"
	"github.com/atmx/vault-engine/internal/accounting"
	"github.com/atmx/vault-engine/internal/bank"
	"github.com/atmx/vault-engine/internal/metrics"
	"github.com/atmx/vault-engine/internal/model"
	"github.com/atmx/vault-engine/internal/oracle"
	"github.com/atmx/vault-engine/internal/store"
)

// Service handles vault operations. The mutex serializes all mutating
// calls (single-instance); it doubles as the reentrancy guard around
// external transfers.
type Service struct {
	store        store.Store
	shares       bank.ShareLedger
	stableBank   bank.AssetBank
	volatileBank bank.AssetBank
	oracle       *oracle.Adapter
	roles        *access.Registry
	feeRecipient string
	mu           sync.Mutex
	wsHub        *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates a new vault service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(
	st store.Store,
	shares bank.ShareLedger,
	stableBank, volatileBank bank.AssetBank,
	adapter *oracle.Adapter,
	roles *access.Registry,
	feeRecipient string,
	hub *WSHub,
) *Service {
	return &Service{
		store:        st,
		shares:       shares,
		stableBank:   stableBank,
		volatileBank: volatileBank,
		oracle:       adapter,
		roles:        roles,
		feeRecipient: feeRecipient,
		wsHub:        hub,
	}
}

// Init seeds the vault aggregate on first start: zero balances, NAV per
// share at exactly 1.0.
func (s *Service) Init(ctx context.Context) error {
	_, err := s.store.GetVaultState(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	state := &model.VaultState{
		StableBalance:   decimal.Zero,
		VolatileBalance: decimal.Zero,
		TotalShares:     decimal.Zero,
		NavPerShare:     accounting.UnitNav(),
		LastNavUpdate:   time.Now().UTC(),
	}
	return s.store.SaveVaultState(ctx, state)
}

// DepositReceipt reports the outcome of a deposit.
type DepositReceipt struct {
	EventID     string          `json:"event_id"`
	UserID      string          `json:"user_id"`
	Asset       model.AssetKind `json:"asset"`
	Amount      decimal.Decimal `json:"amount"`
	Value       decimal.Decimal `json:"value"`  // 6-dec USD terms
	Shares      decimal.Decimal `json:"shares"` // minted
	NavPerShare decimal.Decimal `json:"nav_per_share"`
}

// Deposit converts amount into USD terms, mints proportional shares, and
// moves the asset into the vault. Volatile deposits are valued at a fresh
// oracle price so a stale quote cannot be arbitraged.
func (s *Service) Deposit(ctx context.Context, userID string, asset model.AssetKind, amount decimal.Decimal, priceUpdate []byte) (*DepositReceipt, error) {
	if userID == "" || !asset.Valid() {
		return nil, ErrInvalidInput
	}
	if err := validAmount(amount); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.store.GetVaultState(ctx)
	if err != nil {
		return nil, err
	}

	// Fresh oracle read for volatile deposits: fee paid and update applied
	// before any state is touched, so a refresh failure aborts cleanly.
	freshPrice := decimal.Zero
	if asset == model.AssetVolatile {
		reading, err := s.oracle.GetPrice(ctx, priceUpdate)
		if err != nil {
			if errors.Is(err, oracle.ErrStalePrice) {
				metrics.StalePriceRejections.Inc()
			}
			return nil, err
		}
		freshPrice = reading.Price
	}

	value, err := accounting.DepositValue(asset, amount, freshPrice)
	if err != nil {
		return nil, ErrInvalidInput
	}
	if value.IsZero() {
		return nil, ErrZeroValuation
	}

	// Pre-deposit totals preserve existing holders' proportional ownership.
	view := s.oracle.GetPriceView(ctx)
	totalValue := accounting.TotalValue(state.StableBalance, state.VolatileBalance, view.Price)

	minted, err := accounting.SharesForDeposit(value, state.TotalShares, totalValue)
	if err != nil || minted.IsZero() {
		return nil, ErrZeroValuation
	}

	if err := s.assetBank(asset).TransferIn(userID, amount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailure, err)
	}
	if err := s.shares.Mint(userID, minted); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailure, err)
	}

	switch asset {
	case model.AssetStable:
		state.StableBalance = state.StableBalance.Add(amount)
	case model.AssetVolatile:
		state.VolatileBalance = state.VolatileBalance.Add(amount)
	}
	state.TotalShares = state.TotalShares.Add(minted)
	s.refreshNav(ctx, state)

	now := time.Now().UTC()
	pos, err := s.store.GetPosition(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		pos = &model.UserPosition{UserID: userID, FirstDepositAt: now}
		state.TotalUsers++
	} else if err != nil {
		return nil, err
	}
	if !pos.Active {
		// 0 → nonzero transition is the only increment point.
		pos.Active = true
		state.ActiveUsers++
	}
	pos.Shares = pos.Shares.Add(minted)
	pos.LastDepositAt = now
	switch asset {
	case model.AssetStable:
		pos.StableContributed = pos.StableContributed.Add(amount)
	case model.AssetVolatile:
		pos.VolatileContributed = pos.VolatileContributed.Add(amount)
	}

	if err := s.store.SaveVaultState(ctx, state); err != nil {
		return nil, err
	}
	if err := s.store.SavePosition(ctx, pos); err != nil {
		return nil, err
	}

	event := &model.VaultEvent{
		ID:        uuid.New().String(),
		Kind:      model.EventDeposit,
		UserID:    userID,
		Asset:     asset,
		Amount:    amount,
		Value:     value,
		Shares:    minted,
		Timestamp: now,
	}
	if err := s.store.InsertVaultEvent(ctx, event); err != nil {
		return nil, err
	}

	metrics.DepositsTotal.WithLabelValues(string(asset)).Inc()
	metrics.ActiveUsers.Set(float64(state.ActiveUsers))

	slog.Info("deposit executed",
		"event_id", event.ID,
		"user", userID,
		"asset", string(asset),
		"amount", amount.String(),
		"value", value.String(),
		"shares", minted.String(),
	)

	s.broadcast(WSMessage{
		Type:        "deposit",
		Asset:       string(asset),
		Amount:      amount.String(),
		Shares:      minted.String(),
		NavPerShare: state.NavPerShare.String(),
	})

	return &DepositReceipt{
		EventID:     event.ID,
		UserID:      userID,
		Asset:       asset,
		Amount:      amount,
		Value:       value,
		Shares:      minted,
		NavPerShare: state.NavPerShare,
	}, nil
}

// WithdrawalReceipt reports the outcome of a withdrawal.
type WithdrawalReceipt struct {
	EventID string          `json:"event_id"`
	UserID  string          `json:"user_id"`
	Asset   model.AssetKind `json:"asset"`
	Shares  decimal.Decimal `json:"shares"` // burned
	Value   decimal.Decimal `json:"value"`  // 6-dec USD terms
	Amount  decimal.Decimal `json:"amount"` // paid out, asset base units
}

// Withdraw burns shares and pays out the proportional slice of live vault
// value in the requested asset. NAV is refreshed first; the payout is sized
// off live totals, not the cached NAV, so repeated withdrawals don't
// accumulate rounding drift.
func (s *Service) Withdraw(ctx context.Context, userID string, shares decimal.Decimal, asset model.AssetKind) (*WithdrawalReceipt, error) {
	if userID == "" || !asset.Valid() {
		return nil, ErrInvalidInput
	}
	if err := validAmount(shares); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.store.GetVaultState(ctx)
	if err != nil {
		return nil, err
	}
	pos, err := s.store.GetPosition(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidInput
	}
	if err != nil {
		return nil, err
	}
	if shares.GreaterThan(pos.Shares) {
		return nil, fmt.Errorf("%w: shares exceed balance", ErrInvalidInput)
	}

	totalValue := s.refreshNav(ctx, state)

	value, err := accounting.WithdrawalValue(shares, totalValue, state.TotalShares)
	if err != nil {
		return nil, ErrInvalidInput
	}
	// A dust redemption that floors to zero USD value would burn shares for
	// nothing; reject it before anything is touched.
	if value.IsZero() {
		return nil, ErrZeroValuation
	}

	var payout decimal.Decimal
	switch asset {
	case model.AssetStable:
		payout = value
		if state.StableBalance.LessThan(payout) {
			return nil, ErrInsufficientLiquidity
		}
	case model.AssetVolatile:
		reading, err := s.oracle.GetPrice(ctx, nil)
		if err != nil {
			if errors.Is(err, oracle.ErrStalePrice) {
				metrics.StalePriceRejections.Inc()
			}
			return nil, err
		}
		payout, err = accounting.VolatileAmountForValue(value, reading.Price)
		if err != nil || payout.IsZero() {
			return nil, ErrZeroValuation
		}
		if state.VolatileBalance.LessThan(payout) {
			return nil, ErrInsufficientLiquidity
		}
	}

	if err := s.shares.Burn(userID, shares); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailure, err)
	}

	switch asset {
	case model.AssetStable:
		state.StableBalance = state.StableBalance.Sub(payout)
	case model.AssetVolatile:
		state.VolatileBalance = state.VolatileBalance.Sub(payout)
	}
	state.TotalShares = state.TotalShares.Sub(shares)

	pos.Shares = pos.Shares.Sub(shares)
	if pos.Shares.IsZero() && pos.Active {
		// nonzero → 0 transition is the only decrement point. The record
		// keeps its contribution history.
		pos.Active = false
		state.ActiveUsers--
	}

	if err := s.store.SaveVaultState(ctx, state); err != nil {
		return nil, err
	}
	if err := s.store.SavePosition(ctx, pos); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	event := &model.VaultEvent{
		ID:        uuid.New().String(),
		Kind:      model.EventWithdrawal,
		UserID:    userID,
		Asset:     asset,
		Amount:    payout,
		Value:     value,
		Shares:    shares,
		Timestamp: now,
	}
	if err := s.store.InsertVaultEvent(ctx, event); err != nil {
		return nil, err
	}

	// State committed; the external payout is the last step.
	if err := s.assetBank(asset).TransferOut(userID, payout); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailure, err)
	}

	metrics.WithdrawalsTotal.WithLabelValues(string(asset)).Inc()
	metrics.ActiveUsers.Set(float64(state.ActiveUsers))

	slog.Info("withdrawal executed",
		"event_id", event.ID,
		"user", userID,
		"asset", string(asset),
		"shares", shares.String(),
		"value", value.String(),
		"payout", payout.String(),
	)

	s.broadcast(WSMessage{
		Type:        "withdrawal",
		Asset:       string(asset),
		Amount:      payout.String(),
		Shares:      shares.String(),
		NavPerShare: state.NavPerShare.String(),
	})

	return &WithdrawalReceipt{
		EventID: event.ID,
		UserID:  userID,
		Asset:   asset,
		Shares:  shares,
		Value:   value,
		Amount:  payout,
	}, nil
}

// RequestFunds releases amount of an asset to the agent for external
// deployment. Agent role required.
func (s *Service) RequestFunds(ctx context.Context, caller string, asset model.AssetKind, amount decimal.Decimal) (*model.VaultEvent, error) {
	if !s.roles.HasRole(access.RoleAgent, caller) {
		return nil, ErrUnauthorized
	}
	if !asset.Valid() {
		return nil, ErrInvalidInput
	}
	if err := validAmount(amount); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.store.GetVaultState(ctx)
	if err != nil {
		return nil, err
	}

	switch asset {
	case model.AssetStable:
		if state.StableBalance.LessThan(amount) {
			return nil, ErrInsufficientLiquidity
		}
		state.StableBalance = state.StableBalance.Sub(amount)
	case model.AssetVolatile:
		if state.VolatileBalance.LessThan(amount) {
			return nil, ErrInsufficientLiquidity
		}
		state.VolatileBalance = state.VolatileBalance.Sub(amount)
	}

	if err := s.store.SaveVaultState(ctx, state); err != nil {
		return nil, err
	}

	event := &model.VaultEvent{
		ID:        uuid.New().String(),
		Kind:      model.EventAgentRequest,
		UserID:    caller,
		Asset:     asset,
		Amount:    amount,
		Value:     decimal.Zero,
		Shares:    decimal.Zero,
		Timestamp: time.Now().UTC(),
	}
	if err := s.store.InsertVaultEvent(ctx, event); err != nil {
		return nil, err
	}

	if err := s.assetBank(asset).TransferOut(caller, amount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailure, err)
	}

	slog.Info("agent funds released",
		"event_id", event.ID,
		"agent", caller,
		"asset", string(asset),
		"amount", amount.String(),
	)

	return event, nil
}

// ProfitReceipt reports the outcome of an agent fund return.
type ProfitReceipt struct {
	EventID     string          `json:"event_id"`
	Asset       model.AssetKind `json:"asset"`
	Principal   decimal.Decimal `json:"principal"`
	Profit      decimal.Decimal `json:"profit"`
	Fee         decimal.Decimal `json:"fee"`
	Accretion   decimal.Decimal `json:"accretion"`
	NavPerShare decimal.Decimal `json:"nav_per_share"`
	TotalValue  decimal.Decimal `json:"total_value"`
}

// ReturnFunds accepts the agent's returned principal plus profit, pays the
// performance fee, accrues the remainder to shareholders, refreshes NAV,
// and appends a NAV snapshot. This is the only path that can raise NAV per
// share above 1.0.
func (s *Service) ReturnFunds(ctx context.Context, caller string, asset model.AssetKind, principal, profit decimal.Decimal, priceUpdate []byte) (*ProfitReceipt, error) {
	if !s.roles.HasRole(access.RoleAgent, caller) {
		return nil, ErrUnauthorized
	}
	if !asset.Valid() {
		return nil, ErrInvalidInput
	}
	if err := validAmount(profit); err != nil {
		return nil, err
	}
	if principal.Sign() < 0 || !principal.Equal(principal.Truncate(0)) {
		return nil, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.store.GetVaultState(ctx)
	if err != nil {
		return nil, err
	}

	// Refresh the feed first if update data came with the call, so the NAV
	// recomputation below prices the volatile balance off current data.
	if len(priceUpdate) > 0 {
		if _, err := s.oracle.GetPrice(ctx, priceUpdate); err != nil {
			if errors.Is(err, oracle.ErrStalePrice) {
				metrics.StalePriceRejections.Inc()
			}
			return nil, err
		}
	}

	returned := principal.Add(profit)
	if err := s.assetBank(asset).TransferIn(caller, returned); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailure, err)
	}

	fee, accretion := accounting.SplitProfit(profit)
	if fee.Sign() > 0 {
		if err := s.assetBank(asset).TransferOut(s.feeRecipient, fee); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransferFailure, err)
		}
	}

	kept := principal.Add(accretion)
	switch asset {
	case model.AssetStable:
		state.StableBalance = state.StableBalance.Add(kept)
	case model.AssetVolatile:
		state.VolatileBalance = state.VolatileBalance.Add(kept)
	}

	totalValue := s.refreshNav(ctx, state)

	if err := s.store.SaveVaultState(ctx, state); err != nil {
		return nil, err
	}

	snap := model.NavSnapshot{
		Timestamp:   state.LastNavUpdate,
		NavPerShare: state.NavPerShare,
		TotalValue:  totalValue,
	}
	if err := s.store.AppendNavSnapshot(ctx, snap); err != nil {
		return nil, err
	}

	now := state.LastNavUpdate
	returnEvent := &model.VaultEvent{
		ID:        uuid.New().String(),
		Kind:      model.EventAgentReturn,
		UserID:    caller,
		Asset:     asset,
		Amount:    returned,
		Value:     decimal.Zero,
		Shares:    decimal.Zero,
		Timestamp: now,
	}
	if err := s.store.InsertVaultEvent(ctx, returnEvent); err != nil {
		return nil, err
	}
	if fee.Sign() > 0 {
		feeEvent := &model.VaultEvent{
			ID:        uuid.New().String(),
			Kind:      model.EventFee,
			UserID:    s.feeRecipient,
			Asset:     asset,
			Amount:    fee,
			Value:     decimal.Zero,
			Shares:    decimal.Zero,
			Timestamp: now,
		}
		if err := s.store.InsertVaultEvent(ctx, feeEvent); err != nil {
			return nil, err
		}
	}

	metrics.ProfitDistributionsTotal.Inc()

	slog.Info("profit distributed",
		"event_id", returnEvent.ID,
		"agent", caller,
		"asset", string(asset),
		"principal", principal.String(),
		"profit", profit.String(),
		"fee", fee.String(),
		"nav_per_share", state.NavPerShare.String(),
	)

	s.broadcast(WSMessage{
		Type:        "profit_distributed",
		Asset:       string(asset),
		Amount:      profit.String(),
		NavPerShare: state.NavPerShare.String(),
		TotalValue:  totalValue.String(),
	})

	return &ProfitReceipt{
		EventID:     returnEvent.ID,
		Asset:       asset,
		Principal:   principal,
		Profit:      profit,
		Fee:         fee,
		Accretion:   accretion,
		NavPerShare: state.NavPerShare,
		TotalValue:  totalValue,
	}, nil
}

// SetFeeRecipient replaces the performance-fee recipient. Admin role.
func (s *Service) SetFeeRecipient(caller, account string) error {
	if !s.roles.HasRole(access.RoleAdmin, caller) {
		return ErrUnauthorized
	}
	if account == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feeRecipient = account
	return nil
}

// SetMaxStaleness replaces the fresh-read staleness bound. Admin role.
func (s *Service) SetMaxStaleness(caller string, d time.Duration) error {
	if !s.roles.HasRole(access.RoleAdmin, caller) {
		return ErrUnauthorized
	}
	if d <= 0 {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.oracle.SetMaxStaleness(d)
	return nil
}

// Stats returns the read-only vault statistics snapshot.
func (s *Service) Stats(ctx context.Context) (*model.VaultStats, error) {
	state, err := s.store.GetVaultState(ctx)
	if err != nil {
		return nil, err
	}
	view := s.oracle.GetPriceView(ctx)
	totalValue := accounting.TotalValue(state.StableBalance, state.VolatileBalance, view.Price)
	return &model.VaultStats{
		TotalValue:      totalValue,
		NavPerShare:     accounting.NavPerShare(totalValue, state.TotalShares),
		TotalShares:     state.TotalShares,
		StableBalance:   state.StableBalance,
		VolatileBalance: state.VolatileBalance,
		OraclePrice:     view.Price,
		TotalUsers:      state.TotalUsers,
		ActiveUsers:     state.ActiveUsers,
		LastNavUpdate:   state.LastNavUpdate,
	}, nil
}

// Position returns one user's position with its current redemption value.
func (s *Service) Position(ctx context.Context, userID string) (*model.UserPosition, decimal.Decimal, error) {
	pos, err := s.store.GetPosition(ctx, userID)
	if err != nil {
		return nil, decimal.Zero, err
	}
	state, err := s.store.GetVaultState(ctx)
	if err != nil {
		return nil, decimal.Zero, err
	}
	view := s.oracle.GetPriceView(ctx)
	totalValue := accounting.TotalValue(state.StableBalance, state.VolatileBalance, view.Price)
	value := decimal.Zero
	if pos.Shares.Sign() > 0 {
		value, _ = accounting.WithdrawalValue(pos.Shares, totalValue, state.TotalShares)
	}
	return pos, value, nil
}

// Events returns one user's vault events, oldest first.
func (s *Service) Events(ctx context.Context, userID string) ([]model.VaultEvent, error) {
	return s.store.GetEventsByUser(ctx, userID)
}

// History returns NAV snapshots in chronological order.
func (s *Service) History(ctx context.Context, limit, offset int) ([]model.NavSnapshot, error) {
	return s.store.GetNavHistory(ctx, limit, offset)
}

// refreshNav recomputes NAV per share from live balances and the cached
// oracle view, writes it into state's cache fields, and updates the gauges.
// Returns the live total value. Caller persists state.
func (s *Service) refreshNav(ctx context.Context, state *model.VaultState) decimal.Decimal {
	view := s.oracle.GetPriceView(ctx)
	totalValue := accounting.TotalValue(state.StableBalance, state.VolatileBalance, view.Price)
	state.NavPerShare = accounting.NavPerShare(totalValue, state.TotalShares)
	state.LastNavUpdate = time.Now().UTC()

	navF, _ := state.NavPerShare.Float64()
	totalF, _ := totalValue.Float64()
	priceF, _ := view.Price.Float64()
	metrics.NavPerShare.Set(navF)
	metrics.TotalValue.Set(totalF)
	metrics.OraclePrice.Set(priceF)

	return totalValue
}

func (s *Service) assetBank(asset model.AssetKind) bank.AssetBank {
	if asset == model.AssetVolatile {
		return s.volatileBank
	}
	return s.stableBank
}

func (s *Service) broadcast(msg WSMessage) {
	if s.wsHub != nil {
		s.wsHub.Broadcast(msg)
	}
}

// validAmount rejects non-positive or fractional base-unit amounts.
func validAmount(amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return ErrInvalidInput
	}
	if !amount.Equal(amount.Truncate(0)) {
		return fmt.Errorf("%w: fractional base units", ErrInvalidInput)
	}
	return nil
}
