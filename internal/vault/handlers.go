package vault

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/vault-engine/internal/access"
	"github.com/atmx/vault-engine/internal/model"
	"github.com/atmx/vault-engine/internal/oracle"
	"github.com/atmx/vault-engine/internal/store"
)

// --- Request types ---

// DepositRequest is the JSON body for POST /deposit. Amounts are decimal
// strings in base units of the asset's precision.
type DepositRequest struct {
	UserID      string          `json:"user_id"`
	Asset       model.AssetKind `json:"asset"`
	Amount      decimal.Decimal `json:"amount"`
	PriceUpdate string          `json:"price_update,omitempty"` // opaque feed update data
}

// WithdrawRequest is the JSON body for POST /withdraw.
type WithdrawRequest struct {
	UserID string          `json:"user_id"`
	Shares decimal.Decimal `json:"shares"`
	Asset  model.AssetKind `json:"asset"`
}

// AgentRequest is the JSON body for POST /agent/request.
type AgentRequest struct {
	Asset  model.AssetKind `json:"asset"`
	Amount decimal.Decimal `json:"amount"`
}

// AgentReturn is the JSON body for POST /agent/return.
type AgentReturn struct {
	Asset       model.AssetKind `json:"asset"`
	Principal   decimal.Decimal `json:"principal"`
	Profit      decimal.Decimal `json:"profit"`
	PriceUpdate string          `json:"price_update,omitempty"`
}

// --- HTTP Handlers ---

// HandleDeposit handles POST /api/v1/deposit
func (s *Service) HandleDeposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	receipt, err := s.Deposit(r.Context(), req.UserID, req.Asset, req.Amount, []byte(req.PriceUpdate))
	if err != nil {
		writeVaultError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(receipt)
}

// HandleWithdraw handles POST /api/v1/withdraw
func (s *Service) HandleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	receipt, err := s.Withdraw(r.Context(), req.UserID, req.Shares, req.Asset)
	if err != nil {
		writeVaultError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(receipt)
}

// HandleAgentRequest handles POST /api/v1/agent/request
func (s *Service) HandleAgentRequest(w http.ResponseWriter, r *http.Request) {
	var req AgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	event, err := s.RequestFunds(r.Context(), access.Caller(r.Context()), req.Asset, req.Amount)
	if err != nil {
		writeVaultError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(event)
}

// HandleAgentReturn handles POST /api/v1/agent/return
func (s *Service) HandleAgentReturn(w http.ResponseWriter, r *http.Request) {
	var req AgentReturn
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	receipt, err := s.ReturnFunds(r.Context(), access.Caller(r.Context()),
		req.Asset, req.Principal, req.Profit, []byte(req.PriceUpdate))
	if err != nil {
		writeVaultError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(receipt)
}

// HandleSetFeeRecipient handles PUT /api/v1/admin/fee-recipient
func (s *Service) HandleSetFeeRecipient(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Account string `json:"account"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.SetFeeRecipient(access.Caller(r.Context()), req.Account); err != nil {
		writeVaultError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleSetStaleness handles PUT /api/v1/admin/staleness
func (s *Service) HandleSetStaleness(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Seconds int `json:"seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.SetMaxStaleness(access.Caller(r.Context()), time.Duration(req.Seconds)*time.Second); err != nil {
		writeVaultError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleStats handles GET /api/v1/vault
func (s *Service) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Stats(r.Context())
	if err != nil {
		writeVaultError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// HandleNav handles GET /api/v1/vault/nav
func (s *Service) HandleNav(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Stats(r.Context())
	if err != nil {
		writeVaultError(w, err)
		return
	}

	resp := map[string]string{
		"nav_per_share": stats.NavPerShare.String(),
		"total_value":   stats.TotalValue.String(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// HandleHistory handles GET /api/v1/vault/history?limit=&offset=
func (s *Service) HandleHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	history, err := s.History(r.Context(), limit, offset)
	if err != nil {
		writeError(w, "failed to load history", http.StatusInternalServerError)
		return
	}
	if history == nil {
		history = []model.NavSnapshot{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(history)
}

// HandlePosition handles GET /api/v1/positions/{userID}
func (s *Service) HandlePosition(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	pos, value, err := s.Position(r.Context(), userID)
	if err != nil {
		writeVaultError(w, err)
		return
	}

	resp := struct {
		*model.UserPosition
		CurrentValue decimal.Decimal `json:"current_value"`
	}{pos, value}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// HandleUserEvents handles GET /api/v1/users/{userID}/events
func (s *Service) HandleUserEvents(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	events, err := s.Events(r.Context(), userID)
	if err != nil {
		writeVaultError(w, err)
		return
	}
	if events == nil {
		events = []model.VaultEvent{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(events)
}

// writeVaultError maps operation failures to HTTP status codes.
func writeVaultError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrUnauthorized):
		writeError(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, "not found", http.StatusNotFound)
	case errors.Is(err, ErrInsufficientLiquidity),
		errors.Is(err, ErrZeroValuation),
		errors.Is(err, oracle.ErrStalePrice),
		errors.Is(err, oracle.ErrPriceUnavailable):
		writeError(w, err.Error(), http.StatusConflict)
	default:
		writeError(w, err.Error(), http.StatusInternalServerError)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
