package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"

	"github.com/paysplit-experiment/paysplit/internal/events"
	"github.com/paysplit-experiment/paysplit/internal/gate"
	"github.com/paysplit-experiment/paysplit/internal/metrics"
	"github.com/paysplit-experiment/paysplit/internal/protocol"
	"github.com/paysplit-experiment/paysplit/internal/registry"
	"github.com/paysplit-experiment/paysplit/internal/splitter"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// statusForError maps the engine/gate/registry error taxonomy onto HTTP
// status codes. Everything unrecognized is a caller error.
func statusForError(err error) int {
	switch {
	case errors.Is(err, splitter.ErrNotAuthorized),
		errors.Is(err, gate.ErrNotAdmin),
		errors.Is(err, registry.ErrNotAdmin):
		return http.StatusForbidden
	case errors.Is(err, splitter.ErrReentrant):
		return http.StatusConflict
	case errors.Is(err, registry.ErrSplitNotActive):
		return http.StatusNotFound
	default:
		return http.StatusBadRequest
	}
}

func amountStrings(amounts []*uint256.Int) []string {
	out := make([]string, len(amounts))
	for i, a := range amounts {
		out[i] = a.Dec()
	}
	return out
}

func addressStrings(addrs []common.Address) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.Hex()
	}
	return out
}

// commit persists ledger mutations made by a successful handler.
func (s *Server) commit(w http.ResponseWriter) bool {
	if _, err := s.state.Commit(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return false
	}
	return true
}

// Settlement handlers

type SplitRequest struct {
	From       string   `json:"from"`
	Recipients []string `json:"recipients"`
	Amounts    []string `json:"amounts"`
}

type SplitResponse struct {
	TxID       string   `json:"tx_id"`
	Sender     string   `json:"sender"`
	Recipients []string `json:"recipients"`
	Amounts    []string `json:"amounts"`
	Total      string   `json:"total_amount"`
	Verified   bool     `json:"verified"`
}

func (s *Server) handleSplit(w http.ResponseWriter, r *http.Request) {
	var req SplitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	from, err := protocol.ParseAddress(req.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	recipients, err := protocol.ParseAddresses(req.Recipients)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amounts, err := protocol.ParseAmounts(req.Amounts)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	s.state.Lock()
	defer s.state.Unlock()

	settlement, err := s.engine.Settle(from, recipients, amounts)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	if !s.commit(w) {
		return
	}

	writeJSON(w, http.StatusOK, SplitResponse{
		TxID:       uuid.New().String(),
		Sender:     settlement.Sender.Hex(),
		Recipients: addressStrings(settlement.Recipients),
		Amounts:    amountStrings(settlement.Amounts),
		Total:      settlement.Total.Dec(),
		Verified:   settlement.Verified,
	})
}

func (s *Server) handleCanSplit(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	account, err := protocol.ParseAddress(vars["address"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	total, err := protocol.ParseAmount(r.URL.Query().Get("total"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	s.state.Lock()
	defer s.state.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account":                account.Hex(),
		"total":                  total.Dec(),
		"verified":               s.engine.IsVerified(account),
		"has_sufficient_balance": s.engine.HasSufficientBalance(account, total),
		"has_approved":           s.engine.HasApproved(account, total),
		"can_split_payment":      s.engine.CanSplitPayment(account, total),
	})
}

// Account handlers

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	addr, err := protocol.ParseAddress(vars["address"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.state.Lock()
	defer s.state.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{
		"address": addr.Hex(),
		"balance": s.state.GetBalance(addr).Dec(),
	})
}

type FaucetRequest struct {
	Address string `json:"address"`
	Tokens  string `json:"tokens,omitempty"`
	Coins   string `json:"coins,omitempty"`
}

func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	var req FaucetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	addr, err := protocol.ParseAddress(req.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	// Parse both amounts before touching state so a bad second field
	// can't leave a half-applied grant behind.
	var tokens, coins *uint256.Int
	if req.Tokens != "" {
		if tokens, err = protocol.ParseAmount(req.Tokens); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	if req.Coins != "" {
		if coins, err = protocol.ParseAmount(req.Coins); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	s.state.Lock()
	defer s.state.Unlock()

	if tokens != nil {
		if err := s.token.Mint(addr, tokens); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	if coins != nil {
		s.state.Credit(addr, coins)
	}
	if !s.commit(w) {
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// Token handlers

func (s *Server) handleTokenInfo(w http.ResponseWriter, r *http.Request) {
	s.state.Lock()
	defer s.state.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"address":      s.token.Address().Hex(),
		"name":         s.token.Name,
		"symbol":       s.token.Symbol,
		"decimals":     s.token.Decimals,
		"total_supply": s.token.TotalSupply().Dec(),
	})
}

func (s *Server) handleTokenBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	addr, err := protocol.ParseAddress(vars["address"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.state.Lock()
	defer s.state.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{
		"address": addr.Hex(),
		"balance": s.token.BalanceOf(addr).Dec(),
	})
}

func (s *Server) handleTokenAllowance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	owner, err := protocol.ParseAddress(vars["owner"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	spender, err := protocol.ParseAddress(vars["spender"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.state.Lock()
	defer s.state.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{
		"owner":     owner.Hex(),
		"spender":   spender.Hex(),
		"allowance": s.token.Allowance(owner, spender).Dec(),
	})
}

type ApproveRequest struct {
	Owner   string `json:"owner"`
	Spender string `json:"spender,omitempty"` // defaults to the settlement engine
	Amount  string `json:"amount"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req ApproveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	owner, err := protocol.ParseAddress(req.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	spender := s.engine.Address()
	if req.Spender != "" {
		if spender, err = protocol.ParseAddress(req.Spender); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	amount, err := protocol.ParseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	s.state.Lock()
	defer s.state.Unlock()

	if err := s.token.Approve(owner, spender, amount); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !s.commit(w) {
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// Verification handlers

func (s *Server) handleGetVerification(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	addr, err := protocol.ParseAddress(vars["address"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account":  addr.Hex(),
		"required": s.gate.Required(),
		"verified": s.engine.IsVerified(addr),
		"expiry":   s.engine.VerificationExpiry(addr),
	})
}

type VerifyRequest struct {
	From    string `json:"from"`
	Account string `json:"account"`
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	from, err := protocol.ParseAddress(req.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	account, err := protocol.ParseAddress(req.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	expiry, err := s.gate.Authorize(from, account, s.now())
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	metrics.VerificationsTotal.Inc()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account": account.Hex(),
		"expiry":  expiry,
	})
}

type VerifyBatchRequest struct {
	From     string   `json:"from"`
	Accounts []string `json:"accounts"`
}

func (s *Server) handleVerifyBatch(w http.ResponseWriter, r *http.Request) {
	var req VerifyBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	from, err := protocol.ParseAddress(req.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	accounts, err := protocol.ParseAddresses(req.Accounts)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.gate.AuthorizeMany(from, accounts, s.now()); err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	metrics.VerificationsTotal.Add(float64(len(accounts)))

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"verified": len(accounts),
	})
}

type SetRequiredRequest struct {
	From     string `json:"from"`
	Required bool   `json:"required"`
}

func (s *Server) handleSetRequired(w http.ResponseWriter, r *http.Request) {
	var req SetRequiredRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	from, err := protocol.ParseAddress(req.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.gate.SetRequired(from, req.Required); err != nil {
		writeError(w, statusForError(err), err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"required": req.Required})
}

// Registry handlers

type CreateSplitRequest struct {
	From       string   `json:"from"`
	ID         string   `json:"id"`
	Recipients []string `json:"recipients"`
	Shares     []uint64 `json:"shares"`
}

func (s *Server) handleCreateSplit(w http.ResponseWriter, r *http.Request) {
	var req CreateSplitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	from, err := protocol.ParseAddress(req.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	recipients, err := protocol.ParseAddresses(req.Recipients)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id := common.HexToHash(req.ID)

	if err := s.registry.Create(from, id, recipients, req.Shares); err != nil {
		writeError(w, statusForError(err), err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"id": id.Hex()})
}

func (s *Server) handleGetSplit(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := common.HexToHash(vars["id"])

	cfg, ok := s.registry.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, registry.ErrSplitNotActive)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":         cfg.ID.Hex(),
		"recipients": addressStrings(cfg.Recipients),
		"shares":     cfg.Shares,
		"active":     cfg.Active,
	})
}

type ExecuteSplitRequest struct {
	From   string `json:"from"`
	Amount string `json:"amount"`
}

func (s *Server) handleExecuteSplit(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := common.HexToHash(vars["id"])

	var req ExecuteSplitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	from, err := protocol.ParseAddress(req.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := protocol.ParseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	s.state.Lock()
	defer s.state.Unlock()

	if err := s.registry.Execute(from, id, amount); err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	if !s.commit(w) {
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"tx_id":  uuid.New().String(),
		"id":     id.Hex(),
		"amount": amount.Dec(),
	})
}

type DeactivateSplitRequest struct {
	From string `json:"from"`
}

func (s *Server) handleDeactivateSplit(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := common.HexToHash(vars["id"])

	var req DeactivateSplitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	from, err := protocol.ParseAddress(req.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.registry.Deactivate(from, id); err != nil {
		writeError(w, statusForError(err), err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":     id.Hex(),
		"active": false,
	})
}

// Audit log handlers

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("kind")
	var list []*events.Event
	if kind == "" {
		list = s.events.List()
	} else {
		list = s.events.ByKind(events.Kind(kind))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":  len(list),
		"events": list,
	})
}

// Operational handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	s.state.Lock()
	defer s.state.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service":    "paysplit",
		"uptime_sec": int64(time.Since(s.started).Seconds()),
		"state_root": s.state.StateRoot().Hex(),
		"token": map[string]interface{}{
			"address":      s.token.Address().Hex(),
			"name":         s.token.Name,
			"symbol":       s.token.Symbol,
			"decimals":     s.token.Decimals,
			"total_supply": s.token.TotalSupply().Dec(),
		},
		"engine": map[string]interface{}{
			"address": s.engine.Address().Hex(),
			"token":   s.engine.TokenAddress().Hex(),
		},
		"verification": map[string]interface{}{
			"admin":    s.gate.Admin().Hex(),
			"required": s.gate.Required(),
		},
		"registry": map[string]interface{}{
			"address": s.registry.Address().Hex(),
			"admin":   s.registry.Admin().Hex(),
		},
	})
}

func (s *Server) now() uint64 {
	return uint64(time.Now().Unix())
}
