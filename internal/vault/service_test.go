package vault_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/vault-engine/internal/access"
	"github.com/atmx/vault-engine/internal/bank"
	"github.com/atmx/vault-engine/internal/model"
	"github.com/atmx/vault-engine/internal/oracle"
	"github.com/atmx/vault-engine/internal/store"
	"github.com/atmx/vault-engine/internal/vault"
)

const (
	agentToken = "test-agent-token"
	adminToken = "test-admin-token"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type testEnv struct {
	svc          *vault.Service
	store        *store.MemoryStore
	src          *oracle.StaticSource
	shares       *bank.MemoryLedger
	stableBank   *bank.MemoryBank
	volatileBank *bank.MemoryBank
	router       chi.Router
}

// newTestEnv creates a test Service with in-memory collaborators, a static
// oracle priced at $1.00, and a chi router wired like the server.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	ms := store.NewMemoryStore()
	src := oracle.NewStaticSource()
	src.Set(100_000_000, -8, time.Now().UTC()) // $1.00, Pyth-style expo -8
	adapter := oracle.NewAdapter(src, oracle.DefaultMaxStaleness)

	roles := access.NewRegistry()
	roles.Grant(access.RoleAgent, "agent-1", agentToken)
	roles.Grant(access.RoleAdmin, "admin-1", adminToken)

	shares := bank.NewMemoryLedger()
	stableBank := bank.NewMemoryBank()
	volatileBank := bank.NewMemoryBank()

	svc := vault.NewService(ms, shares, stableBank, volatileBank, adapter, roles, "treasury", nil)
	if err := svc.Init(context.Background()); err != nil {
		t.Fatalf("failed to init vault: %v", err)
	}

	r := chi.NewRouter()
	r.Use(roles.Middleware)
	r.Post("/api/v1/deposit", svc.HandleDeposit)
	r.Post("/api/v1/withdraw", svc.HandleWithdraw)
	r.Post("/api/v1/agent/request", svc.HandleAgentRequest)
	r.Post("/api/v1/agent/return", svc.HandleAgentReturn)
	r.Put("/api/v1/admin/fee-recipient", svc.HandleSetFeeRecipient)
	r.Put("/api/v1/admin/staleness", svc.HandleSetStaleness)
	r.Get("/api/v1/vault", svc.HandleStats)
	r.Get("/api/v1/vault/nav", svc.HandleNav)
	r.Get("/api/v1/vault/history", svc.HandleHistory)
	r.Get("/api/v1/positions/{userID}", svc.HandlePosition)
	r.Get("/api/v1/users/{userID}/events", svc.HandleUserEvents)

	return &testEnv{
		svc:          svc,
		store:        ms,
		src:          src,
		shares:       shares,
		stableBank:   stableBank,
		volatileBank: volatileBank,
		router:       r,
	}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) deposit(t *testing.T, userID string, asset model.AssetKind, amount string) vault.DepositReceipt {
	t.Helper()
	w := e.do(t, "POST", "/api/v1/deposit", "", vault.DepositRequest{
		UserID: userID,
		Asset:  asset,
		Amount: d(amount),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("deposit failed: status %d, body %s", w.Code, w.Body.String())
	}
	var receipt vault.DepositReceipt
	if err := json.Unmarshal(w.Body.Bytes(), &receipt); err != nil {
		t.Fatalf("failed to decode receipt: %v", err)
	}
	return receipt
}

func (e *testEnv) stats(t *testing.T) model.VaultStats {
	t.Helper()
	w := e.do(t, "GET", "/api/v1/vault", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stats failed: status %d, body %s", w.Code, w.Body.String())
	}
	var stats model.VaultStats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("failed to decode stats: %v", err)
	}
	return stats
}

// --- Deposit tests ---

func TestDeposit_BootstrapMintsOneToOne(t *testing.T) {
	env := newTestEnv(t)

	receipt := env.deposit(t, "alice", model.AssetStable, "1000000")

	if !receipt.Shares.Equal(d("1000000000000000000")) {
		t.Errorf("shares = %s, want 1000000000000000000", receipt.Shares)
	}
	if !receipt.Value.Equal(d("1000000")) {
		t.Errorf("value = %s, want 1000000", receipt.Value)
	}
	if !receipt.NavPerShare.Equal(d("1000000000000000000")) {
		t.Errorf("nav = %s, want 1.0 (1e18)", receipt.NavPerShare)
	}

	stats := env.stats(t)
	if !stats.TotalShares.Equal(d("1000000000000000000")) {
		t.Errorf("total shares = %s", stats.TotalShares)
	}
	if !stats.StableBalance.Equal(d("1000000")) {
		t.Errorf("stable balance = %s", stats.StableBalance)
	}
	if stats.TotalUsers != 1 || stats.ActiveUsers != 1 {
		t.Errorf("users = %d/%d, want 1/1", stats.TotalUsers, stats.ActiveUsers)
	}
	if !env.shares.BalanceOf("alice").Equal(receipt.Shares) {
		t.Errorf("ledger balance = %s", env.shares.BalanceOf("alice"))
	}
}

func TestDeposit_ProportionalMint(t *testing.T) {
	env := newTestEnv(t)

	env.deposit(t, "alice", model.AssetStable, "1000000")
	receipt := env.deposit(t, "bob", model.AssetStable, "500000")

	// Bob contributes a third of the post-deposit value, so he mints half
	// of Alice's supply.
	if !receipt.Shares.Equal(d("500000000000000000")) {
		t.Errorf("bob shares = %s, want 500000000000000000", receipt.Shares)
	}

	stats := env.stats(t)
	if !stats.TotalShares.Equal(d("1500000000000000000")) {
		t.Errorf("total shares = %s", stats.TotalShares)
	}
	if stats.TotalUsers != 2 || stats.ActiveUsers != 2 {
		t.Errorf("users = %d/%d, want 2/2", stats.TotalUsers, stats.ActiveUsers)
	}
}

func TestDeposit_VolatileUsesFreshPrice(t *testing.T) {
	env := newTestEnv(t)
	env.src.Set(200_000_000, -8, time.Now().UTC()) // $2.00

	// 0.5 tokens at $2.00 is worth 1,000,000 stable units.
	receipt := env.deposit(t, "alice", model.AssetVolatile, "500000000000000000")

	if !receipt.Value.Equal(d("1000000")) {
		t.Errorf("value = %s, want 1000000", receipt.Value)
	}
	if !receipt.Shares.Equal(d("1000000000000000000")) {
		t.Errorf("shares = %s, want 1000000000000000000", receipt.Shares)
	}

	stats := env.stats(t)
	if !stats.VolatileBalance.Equal(d("500000000000000000")) {
		t.Errorf("volatile balance = %s", stats.VolatileBalance)
	}
	if !stats.TotalValue.Equal(d("1000000")) {
		t.Errorf("total value = %s", stats.TotalValue)
	}
}

func TestDeposit_StalePriceRejected(t *testing.T) {
	env := newTestEnv(t)
	env.src.Set(200_000_000, -8, time.Now().UTC().Add(-2*time.Minute))

	w := env.do(t, "POST", "/api/v1/deposit", "", vault.DepositRequest{
		UserID: "alice",
		Asset:  model.AssetVolatile,
		Amount: d("1000000000000000000"),
	})
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409, body %s", w.Code, w.Body.String())
	}
}

func TestDeposit_StablePriceDoesNotTouchOracle(t *testing.T) {
	env := newTestEnv(t)
	env.src.SetFailReads(true)

	// Stable deposits carry no oracle dependency for valuing the deposit
	// itself; the dead feed only affects the cached valuation view, which
	// falls back to 1.0.
	receipt := env.deposit(t, "alice", model.AssetStable, "1000000")
	if !receipt.Shares.Equal(d("1000000000000000000")) {
		t.Errorf("shares = %s", receipt.Shares)
	}
}

func TestDeposit_Validation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		req  vault.DepositRequest
	}{
		{"missing user", vault.DepositRequest{Asset: model.AssetStable, Amount: d("100")}},
		{"zero amount", vault.DepositRequest{UserID: "u", Asset: model.AssetStable, Amount: decimal.Zero}},
		{"negative amount", vault.DepositRequest{UserID: "u", Asset: model.AssetStable, Amount: d("-5")}},
		{"fractional base units", vault.DepositRequest{UserID: "u", Asset: model.AssetStable, Amount: d("100.5")}},
		{"unknown asset", vault.DepositRequest{UserID: "u", Asset: "GOLD", Amount: d("100")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, "POST", "/api/v1/deposit", "", tt.req)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

// --- Withdrawal tests ---

func TestWithdraw_FullAfterProfit(t *testing.T) {
	env := newTestEnv(t)
	env.deposit(t, "alice", model.AssetStable, "1000000")

	// Agent returns a 100,000 profit: 20% fee, 80,000 accrues to the vault.
	w := env.do(t, "POST", "/api/v1/agent/return", agentToken, vault.AgentReturn{
		Asset:  model.AssetStable,
		Profit: d("100000"),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("agent return failed: %d %s", w.Code, w.Body.String())
	}
	var pr vault.ProfitReceipt
	json.Unmarshal(w.Body.Bytes(), &pr)
	if !pr.Fee.Equal(d("20000")) || !pr.Accretion.Equal(d("80000")) {
		t.Errorf("fee/accretion = %s/%s, want 20000/80000", pr.Fee, pr.Accretion)
	}
	if !pr.NavPerShare.Equal(d("1080000000000000000")) {
		t.Errorf("nav = %s, want 1.08 (1.08e18)", pr.NavPerShare)
	}
	if !env.stableBank.ExternalBalance("treasury").Equal(d("20000")) {
		t.Errorf("treasury fee = %s, want 20000", env.stableBank.ExternalBalance("treasury"))
	}

	// Full redemption pays out the entire appreciated value.
	w = env.do(t, "POST", "/api/v1/withdraw", "", vault.WithdrawRequest{
		UserID: "alice",
		Shares: d("1000000000000000000"),
		Asset:  model.AssetStable,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("withdraw failed: %d %s", w.Code, w.Body.String())
	}
	var wr vault.WithdrawalReceipt
	json.Unmarshal(w.Body.Bytes(), &wr)
	if !wr.Amount.Equal(d("1080000")) {
		t.Errorf("payout = %s, want 1080000", wr.Amount)
	}

	stats := env.stats(t)
	if !stats.TotalShares.IsZero() || !stats.StableBalance.IsZero() {
		t.Errorf("vault not drained: shares %s, stable %s", stats.TotalShares, stats.StableBalance)
	}
	if stats.ActiveUsers != 0 || stats.TotalUsers != 1 {
		t.Errorf("users = %d/%d, want 0 active of 1 total", stats.ActiveUsers, stats.TotalUsers)
	}
	// Alice netted the accretion: paid 1,000,000 in, got 1,080,000 back.
	if !env.stableBank.ExternalBalance("alice").Equal(d("80000")) {
		t.Errorf("alice net = %s, want 80000", env.stableBank.ExternalBalance("alice"))
	}
	// An empty vault values shares at 1.0 again.
	if !stats.NavPerShare.Equal(d("1000000000000000000")) {
		t.Errorf("empty-vault nav = %s, want 1e18", stats.NavPerShare)
	}
}

func TestWithdraw_VolatilePayout(t *testing.T) {
	env := newTestEnv(t)
	env.src.Set(200_000_000, -8, time.Now().UTC()) // $2.00

	env.deposit(t, "alice", model.AssetVolatile, "1000000000000000000") // 1 token = $2.00

	// Half the shares redeem $1.00, which buys back 0.5 tokens at $2.00.
	w := env.do(t, "POST", "/api/v1/withdraw", "", vault.WithdrawRequest{
		UserID: "alice",
		Shares: d("1000000000000000000"),
		Asset:  model.AssetVolatile,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("withdraw failed: %d %s", w.Code, w.Body.String())
	}
	var wr vault.WithdrawalReceipt
	json.Unmarshal(w.Body.Bytes(), &wr)
	if !wr.Value.Equal(d("1000000")) {
		t.Errorf("value = %s, want 1000000", wr.Value)
	}
	if !wr.Amount.Equal(d("500000000000000000")) {
		t.Errorf("payout = %s, want 500000000000000000", wr.Amount)
	}
}

func TestWithdraw_InsufficientLiquidity(t *testing.T) {
	env := newTestEnv(t)
	env.src.Set(200_000_000, -8, time.Now().UTC())

	// Vault holds only the volatile asset; a stable payout cannot be funded.
	env.deposit(t, "alice", model.AssetVolatile, "1000000000000000000")

	w := env.do(t, "POST", "/api/v1/withdraw", "", vault.WithdrawRequest{
		UserID: "alice",
		Shares: d("1000000000000000000"),
		Asset:  model.AssetStable,
	})
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409, body %s", w.Code, w.Body.String())
	}
}

func TestWithdraw_MoreThanBalance(t *testing.T) {
	env := newTestEnv(t)
	env.deposit(t, "alice", model.AssetStable, "1000000")

	w := env.do(t, "POST", "/api/v1/withdraw", "", vault.WithdrawRequest{
		UserID: "alice",
		Shares: d("2000000000000000000"),
		Asset:  model.AssetStable,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestWithdraw_UnknownUser(t *testing.T) {
	env := newTestEnv(t)
	env.deposit(t, "alice", model.AssetStable, "1000000")

	w := env.do(t, "POST", "/api/v1/withdraw", "", vault.WithdrawRequest{
		UserID: "nobody",
		Shares: d("1"),
		Asset:  model.AssetStable,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestWithdraw_DustValueRejectedBeforeBurn(t *testing.T) {
	env := newTestEnv(t)
	env.deposit(t, "alice", model.AssetStable, "1000000")

	// 1e6 of 1e18 shares redeems floor(1e6 * 1000000 / 1e18) = 0 USD units.
	w := env.do(t, "POST", "/api/v1/withdraw", "", vault.WithdrawRequest{
		UserID: "alice",
		Shares: d("1000000"),
		Asset:  model.AssetStable,
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409, body %s", w.Code, w.Body.String())
	}

	// Nothing may have moved: no burn, no state change, no event.
	if !env.shares.BalanceOf("alice").Equal(d("1000000000000000000")) {
		t.Errorf("shares burned on rejected withdrawal: %s", env.shares.BalanceOf("alice"))
	}
	stats := env.stats(t)
	if !stats.TotalShares.Equal(d("1000000000000000000")) {
		t.Errorf("total shares = %s, want 1000000000000000000", stats.TotalShares)
	}
	if !stats.StableBalance.Equal(d("1000000")) {
		t.Errorf("stable balance = %s, want 1000000", stats.StableBalance)
	}
	events, err := env.svc.Events(context.Background(), "alice")
	if err != nil {
		t.Fatalf("events failed: %v", err)
	}
	if len(events) != 1 || events[0].Kind != model.EventDeposit {
		t.Errorf("unexpected event log after rejected withdrawal: %+v", events)
	}
}

func TestWithdraw_DustVolatilePayoutRejected(t *testing.T) {
	env := newTestEnv(t)
	// Saturated price: one USD unit of value buys zero volatile base units.
	env.src.Set(1, 100, time.Now().UTC())

	env.deposit(t, "alice", model.AssetVolatile, "1000000000000000000")

	// 1e12 shares redeem exactly 1 USD unit, whose volatile payout floors
	// to zero at the saturated price.
	w := env.do(t, "POST", "/api/v1/withdraw", "", vault.WithdrawRequest{
		UserID: "alice",
		Shares: d("1000000000000"),
		Asset:  model.AssetVolatile,
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409, body %s", w.Code, w.Body.String())
	}
	if !env.shares.BalanceOf("alice").Equal(d("18446744073709551615000000000000")) {
		t.Errorf("shares changed on rejected withdrawal: %s", env.shares.BalanceOf("alice"))
	}
}

func TestWithdraw_RedepositAfterFullExit(t *testing.T) {
	env := newTestEnv(t)
	env.deposit(t, "alice", model.AssetStable, "1000000")

	w := env.do(t, "POST", "/api/v1/withdraw", "", vault.WithdrawRequest{
		UserID: "alice",
		Shares: d("1000000000000000000"),
		Asset:  model.AssetStable,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("withdraw failed: %d %s", w.Code, w.Body.String())
	}

	// Re-entry bootstraps 1:1 again and re-activates the existing record
	// without inflating the user counters.
	receipt := env.deposit(t, "alice", model.AssetStable, "250000")
	if !receipt.Shares.Equal(d("250000000000000000")) {
		t.Errorf("shares = %s, want 250000000000000000", receipt.Shares)
	}
	stats := env.stats(t)
	if stats.TotalUsers != 1 || stats.ActiveUsers != 1 {
		t.Errorf("users = %d/%d, want 1/1", stats.TotalUsers, stats.ActiveUsers)
	}
}

// Every unit paid in comes back out, up to flooring dust kept by the vault.
func TestWithdraw_ValueConservation(t *testing.T) {
	env := newTestEnv(t)
	env.deposit(t, "alice", model.AssetStable, "1000000")
	env.deposit(t, "bob", model.AssetStable, "500000")

	w := env.do(t, "POST", "/api/v1/agent/return", agentToken, vault.AgentReturn{
		Asset:  model.AssetStable,
		Profit: d("100000"),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("agent return failed: %d %s", w.Code, w.Body.String())
	}

	// Vault value is now 1,580,000 against 1.5e18 shares.
	for _, user := range []struct{ id, shares string }{
		{"alice", "1000000000000000000"},
		{"bob", "500000000000000000"},
	} {
		w := env.do(t, "POST", "/api/v1/withdraw", "", vault.WithdrawRequest{
			UserID: user.id,
			Shares: d(user.shares),
			Asset:  model.AssetStable,
		})
		if w.Code != http.StatusOK {
			t.Fatalf("withdraw %s failed: %d %s", user.id, w.Code, w.Body.String())
		}
	}

	stats := env.stats(t)
	if !stats.TotalShares.IsZero() {
		t.Errorf("shares remain: %s", stats.TotalShares)
	}
	if !stats.StableBalance.IsZero() {
		t.Errorf("stable dust = %s, want 0", stats.StableBalance)
	}
	// Alice: floor(1e18 * 1580000 / 1.5e18) = 1053333; Bob gets the rest.
	if !env.stableBank.ExternalBalance("alice").Equal(d("53333")) {
		t.Errorf("alice net = %s, want 53333", env.stableBank.ExternalBalance("alice"))
	}
	if !env.stableBank.ExternalBalance("bob").Equal(d("26667")) {
		t.Errorf("bob net = %s, want 26667", env.stableBank.ExternalBalance("bob"))
	}
}

// --- Agent tests ---

func TestAgentRequest_RequiresRole(t *testing.T) {
	env := newTestEnv(t)
	env.deposit(t, "alice", model.AssetStable, "1000000")

	req := vault.AgentRequest{Asset: model.AssetStable, Amount: d("100")}

	if w := env.do(t, "POST", "/api/v1/agent/request", "", req); w.Code != http.StatusForbidden {
		t.Errorf("no token: status = %d, want 403", w.Code)
	}
	if w := env.do(t, "POST", "/api/v1/agent/request", adminToken, req); w.Code != http.StatusForbidden {
		t.Errorf("admin token: status = %d, want 403", w.Code)
	}
	if w := env.do(t, "POST", "/api/v1/agent/request", agentToken, req); w.Code != http.StatusOK {
		t.Errorf("agent token: status = %d, want 200, body %s", w.Code, w.Body.String())
	}
}

func TestAgentRequest_InsufficientLiquidity(t *testing.T) {
	env := newTestEnv(t)
	env.deposit(t, "alice", model.AssetStable, "1000000")

	w := env.do(t, "POST", "/api/v1/agent/request", agentToken, vault.AgentRequest{
		Asset:  model.AssetStable,
		Amount: d("1000001"),
	})
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
}

func TestAgentRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	env.deposit(t, "alice", model.AssetStable, "1000000")

	w := env.do(t, "POST", "/api/v1/agent/request", agentToken, vault.AgentRequest{
		Asset:  model.AssetStable,
		Amount: d("400000"),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("agent request failed: %d %s", w.Code, w.Body.String())
	}
	if !env.stableBank.ExternalBalance("agent-1").Equal(d("400000")) {
		t.Errorf("agent holding = %s, want 400000", env.stableBank.ExternalBalance("agent-1"))
	}

	// While deployed, the vault values only what it holds.
	stats := env.stats(t)
	if !stats.TotalValue.Equal(d("600000")) {
		t.Errorf("deployed total value = %s, want 600000", stats.TotalValue)
	}

	w = env.do(t, "POST", "/api/v1/agent/return", agentToken, vault.AgentReturn{
		Asset:     model.AssetStable,
		Principal: d("400000"),
		Profit:    d("50000"),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("agent return failed: %d %s", w.Code, w.Body.String())
	}
	var pr vault.ProfitReceipt
	json.Unmarshal(w.Body.Bytes(), &pr)
	if !pr.Fee.Equal(d("10000")) || !pr.Accretion.Equal(d("40000")) {
		t.Errorf("fee/accretion = %s/%s, want 10000/40000", pr.Fee, pr.Accretion)
	}

	stats = env.stats(t)
	if !stats.StableBalance.Equal(d("1040000")) {
		t.Errorf("stable balance = %s, want 1040000", stats.StableBalance)
	}
	if !stats.NavPerShare.Equal(d("1040000000000000000")) {
		t.Errorf("nav = %s, want 1.04e18", stats.NavPerShare)
	}
}

func TestAgentReturn_Validation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		req  vault.AgentReturn
	}{
		{"zero profit", vault.AgentReturn{Asset: model.AssetStable, Profit: decimal.Zero}},
		{"negative profit", vault.AgentReturn{Asset: model.AssetStable, Profit: d("-100")}},
		{"negative principal", vault.AgentReturn{Asset: model.AssetStable, Principal: d("-1"), Profit: d("100")}},
		{"fractional profit", vault.AgentReturn{Asset: model.AssetStable, Profit: d("100.5")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, "POST", "/api/v1/agent/return", agentToken, tt.req)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestAgentReturn_AppendsNavSnapshot(t *testing.T) {
	env := newTestEnv(t)
	env.deposit(t, "alice", model.AssetStable, "1000000")

	for i := 0; i < 3; i++ {
		w := env.do(t, "POST", "/api/v1/agent/return", agentToken, vault.AgentReturn{
			Asset:  model.AssetStable,
			Profit: d("10000"),
		})
		if w.Code != http.StatusOK {
			t.Fatalf("agent return %d failed: %d %s", i, w.Code, w.Body.String())
		}
	}

	w := env.do(t, "GET", "/api/v1/vault/history", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("history failed: %d", w.Code)
	}
	var history []model.NavSnapshot
	json.Unmarshal(w.Body.Bytes(), &history)
	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3", len(history))
	}
	for i := 1; i < len(history); i++ {
		if history[i].NavPerShare.LessThanOrEqual(history[i-1].NavPerShare) {
			t.Errorf("nav not increasing at %d: %s then %s",
				i, history[i-1].NavPerShare, history[i].NavPerShare)
		}
	}
	// Each 10,000 profit keeps 8,000 after the fee.
	if !history[2].TotalValue.Equal(d("1024000")) {
		t.Errorf("final total value = %s, want 1024000", history[2].TotalValue)
	}
}

// --- Admin tests ---

func TestAdmin_SetFeeRecipient(t *testing.T) {
	env := newTestEnv(t)
	env.deposit(t, "alice", model.AssetStable, "1000000")

	body := map[string]string{"account": "new-treasury"}
	if w := env.do(t, "PUT", "/api/v1/admin/fee-recipient", agentToken, body); w.Code != http.StatusForbidden {
		t.Errorf("agent token: status = %d, want 403", w.Code)
	}
	if w := env.do(t, "PUT", "/api/v1/admin/fee-recipient", adminToken, body); w.Code != http.StatusNoContent {
		t.Errorf("admin token: status = %d, want 204", w.Code)
	}

	w := env.do(t, "POST", "/api/v1/agent/return", agentToken, vault.AgentReturn{
		Asset:  model.AssetStable,
		Profit: d("100000"),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("agent return failed: %d %s", w.Code, w.Body.String())
	}
	if !env.stableBank.ExternalBalance("new-treasury").Equal(d("20000")) {
		t.Errorf("new recipient fee = %s, want 20000", env.stableBank.ExternalBalance("new-treasury"))
	}
	if !env.stableBank.ExternalBalance("treasury").IsZero() {
		t.Errorf("old recipient fee = %s, want 0", env.stableBank.ExternalBalance("treasury"))
	}
}

func TestAdmin_SetStaleness(t *testing.T) {
	env := newTestEnv(t)
	env.src.Set(100_000_000, -8, time.Now().UTC().Add(-2*time.Minute))

	depositReq := vault.DepositRequest{
		UserID: "alice",
		Asset:  model.AssetVolatile,
		Amount: d("1000000000000000000"),
	}
	if w := env.do(t, "POST", "/api/v1/deposit", "", depositReq); w.Code != http.StatusConflict {
		t.Fatalf("expected stale rejection, got %d", w.Code)
	}

	if w := env.do(t, "PUT", "/api/v1/admin/staleness", adminToken, map[string]int{"seconds": 600}); w.Code != http.StatusNoContent {
		t.Fatalf("set staleness failed: %d %s", w.Code, w.Body.String())
	}
	if w := env.do(t, "POST", "/api/v1/deposit", "", depositReq); w.Code != http.StatusOK {
		t.Errorf("deposit after widening: status = %d, body %s", w.Code, w.Body.String())
	}

	if w := env.do(t, "PUT", "/api/v1/admin/staleness", adminToken, map[string]int{"seconds": 0}); w.Code != http.StatusBadRequest {
		t.Errorf("zero seconds: status = %d, want 400", w.Code)
	}
}

// --- Query tests ---

func TestPosition(t *testing.T) {
	env := newTestEnv(t)
	env.deposit(t, "alice", model.AssetStable, "1000000")

	w := env.do(t, "GET", "/api/v1/positions/alice", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("position failed: %d %s", w.Code, w.Body.String())
	}
	var resp struct {
		model.UserPosition
		CurrentValue decimal.Decimal `json:"current_value"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.Shares.Equal(d("1000000000000000000")) {
		t.Errorf("shares = %s", resp.Shares)
	}
	if !resp.CurrentValue.Equal(d("1000000")) {
		t.Errorf("current value = %s, want 1000000", resp.CurrentValue)
	}
	if !resp.StableContributed.Equal(d("1000000")) {
		t.Errorf("contributed = %s", resp.StableContributed)
	}

	if w := env.do(t, "GET", "/api/v1/positions/nobody", "", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown user: status = %d, want 404", w.Code)
	}
}

func TestUserEvents(t *testing.T) {
	env := newTestEnv(t)
	env.deposit(t, "alice", model.AssetStable, "1000000")

	w := env.do(t, "POST", "/api/v1/withdraw", "", vault.WithdrawRequest{
		UserID: "alice",
		Shares: d("500000000000000000"),
		Asset:  model.AssetStable,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("withdraw failed: %d %s", w.Code, w.Body.String())
	}

	w = env.do(t, "GET", "/api/v1/users/alice/events", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("events failed: %d %s", w.Code, w.Body.String())
	}
	var events []model.VaultEvent
	json.Unmarshal(w.Body.Bytes(), &events)
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].Kind != model.EventDeposit || events[1].Kind != model.EventWithdrawal {
		t.Errorf("event kinds = %s, %s", events[0].Kind, events[1].Kind)
	}
	if !events[0].Amount.Equal(d("1000000")) {
		t.Errorf("deposit event amount = %s", events[0].Amount)
	}

	// Unknown user has an empty log, not an error.
	w = env.do(t, "GET", "/api/v1/users/nobody/events", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("unknown user events: %d", w.Code)
	}
	if body := w.Body.String(); body != "[]\n" {
		t.Errorf("unknown user body = %q, want empty array", body)
	}
}

func TestDeposit_ReceiptNavMatchesLiveNav(t *testing.T) {
	env := newTestEnv(t)
	env.src.Set(150_000_000, -8, time.Now().UTC()) // $1.50

	env.deposit(t, "alice", model.AssetVolatile, "1000000000000000000")
	receipt := env.deposit(t, "bob", model.AssetVolatile, "500000000000000001")

	// The receipt's NAV and the query surface must agree: both are computed
	// from the live balances at one price, not from a mix of pre-deposit
	// totals and the deposit's own valuation.
	w := env.do(t, "GET", "/api/v1/vault/nav", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("nav failed: %d", w.Code)
	}
	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["nav_per_share"] != receipt.NavPerShare.String() {
		t.Errorf("receipt nav %s != live nav %s", receipt.NavPerShare, resp["nav_per_share"])
	}
}

func TestNavEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.deposit(t, "alice", model.AssetStable, "1000000")

	w := env.do(t, "POST", "/api/v1/agent/return", agentToken, vault.AgentReturn{
		Asset:  model.AssetStable,
		Profit: d("100000"),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("agent return failed: %d %s", w.Code, w.Body.String())
	}

	w = env.do(t, "GET", "/api/v1/vault/nav", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("nav failed: %d", w.Code)
	}
	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["nav_per_share"] != "1080000000000000000" {
		t.Errorf("nav_per_share = %q, want 1080000000000000000", resp["nav_per_share"])
	}
	if resp["total_value"] != "1080000" {
		t.Errorf("total_value = %q, want 1080000", resp["total_value"])
	}
}

// --- Concurrency ---

func TestConcurrentDeposits(t *testing.T) {
	env := newTestEnv(t)

	// At NAV 1.0 every deposit mints value-proportional shares regardless
	// of interleaving, so the final totals are order-independent.
	var wg sync.WaitGroup
	codes := make([]int, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			w := env.do(t, "POST", "/api/v1/deposit", "", vault.DepositRequest{
				UserID: fmt.Sprintf("user-%d", n),
				Asset:  model.AssetStable,
				Amount: d("100000"),
			})
			codes[n] = w.Code
		}(i)
	}
	wg.Wait()
	for n, code := range codes {
		if code != http.StatusOK {
			t.Fatalf("deposit %d failed with status %d", n, code)
		}
	}

	stats := env.stats(t)
	if !stats.StableBalance.Equal(d("1000000")) {
		t.Errorf("stable balance = %s, want 1000000", stats.StableBalance)
	}
	if !stats.TotalShares.Equal(d("1000000000000000000")) {
		t.Errorf("total shares = %s, want 1000000000000000000", stats.TotalShares)
	}
	if stats.ActiveUsers != 10 {
		t.Errorf("active users = %d, want 10", stats.ActiveUsers)
	}
	if !env.shares.TotalSupply().Equal(stats.TotalShares) {
		t.Errorf("ledger supply %s != state shares %s", env.shares.TotalSupply(), stats.TotalShares)
	}
}
