package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"revpay/auth"
	"revpay/dispute"
	"revpay/ledger"
	"revpay/lifecycle"
	"revpay/vote"
)

type ctxKey string

const ctxKeyWallet ctxKey = "wallet_id"

// AuthService is the slice of auth.Service the HTTP layer needs.
type AuthService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.Account, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	ResolveWallet(token string) (string, error)
}

// LedgerService is the slice of ledger.Service the HTTP layer needs.
type LedgerService interface {
	RecordTransaction(ctx context.Context, sender, receiver string, amount decimal.Decimal) (ledger.Transaction, error)
	Settle(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (ledger.Transaction, error)
	Balances(ctx context.Context, walletID string) (ledger.BalancePair, error)
	Mint(ctx context.Context, walletID string, amount decimal.Decimal) (ledger.BalancePair, error)
	SentHistory(ctx context.Context, walletID string, limit int) ([]ledger.Transaction, error)
	ReceivedHistory(ctx context.Context, walletID string, limit int) ([]ledger.Transaction, error)
}

// DisputeService is the lifecycle orchestrator surface.
type DisputeService interface {
	RaiseDispute(ctx context.Context, transactionID, raiser, title, content string) (dispute.Record, error)
	Status(ctx context.Context, disputeID string) (lifecycle.Status, error)
}

// DisputeLister reads disputes a wallet is involved in.
type DisputeLister interface {
	ListByWallet(ctx context.Context, walletID string) ([]dispute.Record, error)
}

// VoteService casts sealed ballots.
type VoteService interface {
	CastBallot(ctx context.Context, disputeID, judgeWallet string, decision vote.Decision) error
}

// JudgeService answers membership queries.
type JudgeService interface {
	IsJudge(ctx context.Context, walletID string) (bool, error)
}

// Server routes HTTP requests to the domain services.
type Server struct {
	authService    AuthService
	ledgerService  LedgerService
	disputeService DisputeService
	disputeLister  DisputeLister
	voteService    VoteService
	judgeService   JudgeService
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/register", s.handleRegister)
	mux.HandleFunc("/api/auth/login", s.handleLogin)
	mux.HandleFunc("/api/wallet", s.requireWallet(s.handleWallet))
	mux.HandleFunc("/api/wallet/mint", s.requireWallet(s.handleMint))
	mux.HandleFunc("/api/transactions", s.requireWallet(s.handleTransactions))
	mux.HandleFunc("/api/transactions/", s.requireWallet(s.handleTransaction))
	mux.HandleFunc("/api/disputes", s.requireWallet(s.handleDisputes))
	mux.HandleFunc("/api/disputes/", s.requireWallet(s.handleDispute))
	mux.HandleFunc("/api/judge", s.requireWallet(s.handleJudge))
	return mux
}

// requireWallet resolves the bearer token to a wallet id and stores it on
// the request context.
func (s *Server) requireWallet(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		walletID, err := s.authService.ResolveWallet(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), ctxKeyWallet, walletID)))
	}
}

func callerWallet(r *http.Request) string {
	walletID, _ := r.Context().Value(ctxKeyWallet).(string)
	return walletID
}

type accountResponse struct {
	WalletID  string `json:"walletId"`
	Username  string `json:"username"`
	CreatedAt string `json:"createdAt"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	account, err := s.authService.Register(r.Context(), req)
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrDuplicateUsername):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, auth.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	default:
		internalError(w, "register", err)
		return
	}

	writeJSON(w, http.StatusCreated, accountResponse{
		WalletID:  account.WalletID,
		Username:  account.Username,
		CreatedAt: account.CreatedAt.Format(time.RFC3339),
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	result, err := s.authService.Login(r.Context(), req)
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	default:
		internalError(w, "login", err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Token    string `json:"token"`
		WalletID string `json:"walletId"`
	}{Token: result.Token, WalletID: result.Account.WalletID})
}

type balancesResponse struct {
	WalletID      string `json:"walletId"`
	Reversible    string `json:"reversible"`
	NonReversible string `json:"nonReversible"`
}

func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	pair, err := s.ledgerService.Balances(r.Context(), callerWallet(r))
	switch {
	case err == nil:
	case errors.Is(err, ledger.ErrWalletNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	default:
		internalError(w, "balances", err)
		return
	}
	writeJSON(w, http.StatusOK, balancesResponse{
		WalletID:      pair.WalletID,
		Reversible:    pair.Reversible.String(),
		NonReversible: pair.NonReversible.String(),
	})
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		Amount string `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}

	pair, err := s.ledgerService.Mint(r.Context(), callerWallet(r), amount)
	switch {
	case err == nil:
	case errors.Is(err, ledger.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	default:
		internalError(w, "mint", err)
		return
	}
	writeJSON(w, http.StatusOK, balancesResponse{
		WalletID:      pair.WalletID,
		Reversible:    pair.Reversible.String(),
		NonReversible: pair.NonReversible.String(),
	})
}

type transactionResponse struct {
	ID        string  `json:"id"`
	Sender    string  `json:"sender"`
	Receiver  string  `json:"receiver"`
	Amount    string  `json:"amount"`
	State     string  `json:"state"`
	CreatedAt string  `json:"createdAt"`
	SettledAt *string `json:"settledAt,omitempty"`
}

func toTransactionResponse(rec ledger.Transaction) transactionResponse {
	resp := transactionResponse{
		ID:        rec.ID,
		Sender:    rec.Sender,
		Receiver:  rec.Receiver,
		Amount:    rec.Amount.String(),
		State:     string(rec.State),
		CreatedAt: rec.CreatedAt.Format(time.RFC3339),
	}
	if rec.SettledAt != nil {
		settled := rec.SettledAt.Format(time.RFC3339)
		resp.SettledAt = &settled
	}
	return resp
}

// handleTransactions serves the caller's history on GET and initiates a
// transfer on POST; the sender is always the authenticated wallet.
func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		var (
			items []ledger.Transaction
			err   error
		)
		if r.URL.Query().Get("direction") == "received" {
			items, err = s.ledgerService.ReceivedHistory(r.Context(), callerWallet(r), limit)
		} else {
			items, err = s.ledgerService.SentHistory(r.Context(), callerWallet(r), limit)
		}
		if err != nil {
			internalError(w, "transaction history", err)
			return
		}
		out := make([]transactionResponse, 0, len(items))
		for _, rec := range items {
			out = append(out, toTransactionResponse(rec))
		}
		writeJSON(w, http.StatusOK, struct {
			Items []transactionResponse `json:"items"`
		}{Items: out})

	case http.MethodPost:
		var req struct {
			Receiver string `json:"receiver"`
			Amount   string `json:"amount"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		amount, err := decimal.NewFromString(req.Amount)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid amount")
			return
		}

		rec, err := s.ledgerService.RecordTransaction(r.Context(), callerWallet(r), req.Receiver, amount)
		switch {
		case err == nil:
		case errors.Is(err, ledger.ErrInvalidAmount):
			writeError(w, http.StatusBadRequest, err.Error())
			return
		case errors.Is(err, ledger.ErrInsufficientFunds):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		case errors.Is(err, ledger.ErrWalletNotFound):
			writeError(w, http.StatusNotFound, err.Error())
			return
		default:
			internalError(w, "record transaction", err)
			return
		}
		writeJSON(w, http.StatusCreated, toTransactionResponse(rec))

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleTransaction serves /api/transactions/{id} and
// /api/transactions/{id}/settle.
func (s *Server) handleTransaction(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/transactions/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "transaction id required")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		rec, err := s.ledgerService.Get(r.Context(), id)
		switch {
		case err == nil:
		case errors.Is(err, ledger.ErrTransactionNotFound):
			writeError(w, http.StatusNotFound, err.Error())
			return
		default:
			internalError(w, "get transaction", err)
			return
		}
		writeJSON(w, http.StatusOK, toTransactionResponse(rec))

	case action == "settle" && r.Method == http.MethodPost:
		err := s.ledgerService.Settle(r.Context(), id)
		switch {
		case err == nil:
		case errors.Is(err, ledger.ErrTransactionNotFound):
			writeError(w, http.StatusNotFound, err.Error())
			return
		case errors.Is(err, ledger.ErrNotEligible):
			writeError(w, http.StatusConflict, err.Error())
			return
		default:
			internalError(w, "settle transaction", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type disputeResponse struct {
	ID            string `json:"id"`
	TransactionID string `json:"transactionId"`
	Raiser        string `json:"raiser"`
	Title         string `json:"title"`
	Content       string `json:"content"`
	Verdict       string `json:"verdict"`
	CreatedAt     string `json:"createdAt"`
}

func toDisputeResponse(rec dispute.Record) disputeResponse {
	return disputeResponse{
		ID:            rec.ID,
		TransactionID: rec.TransactionID,
		Raiser:        rec.Raiser,
		Title:         rec.Title,
		Content:       rec.Content,
		Verdict:       string(rec.Verdict),
		CreatedAt:     rec.CreatedAt.Format(time.RFC3339),
	}
}

// handleDisputes lists the caller's disputes on GET and raises one on POST.
func (s *Server) handleDisputes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		items, err := s.disputeLister.ListByWallet(r.Context(), callerWallet(r))
		if err != nil {
			internalError(w, "list disputes", err)
			return
		}
		out := make([]disputeResponse, 0, len(items))
		for _, rec := range items {
			out = append(out, toDisputeResponse(rec))
		}
		writeJSON(w, http.StatusOK, struct {
			Items []disputeResponse `json:"items"`
		}{Items: out})

	case http.MethodPost:
		var req struct {
			TransactionID string `json:"transactionId"`
			Title         string `json:"title"`
			Content       string `json:"content"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}

		rec, err := s.disputeService.RaiseDispute(r.Context(), req.TransactionID, callerWallet(r), req.Title, req.Content)
		switch {
		case err == nil:
		case errors.Is(err, dispute.ErrDuplicateDispute):
			writeError(w, http.StatusConflict, err.Error())
			return
		case errors.Is(err, dispute.ErrTransactionNotEligible):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		case errors.Is(err, ledger.ErrTransactionNotFound):
			writeError(w, http.StatusNotFound, err.Error())
			return
		default:
			internalError(w, "raise dispute", err)
			return
		}
		writeJSON(w, http.StatusCreated, toDisputeResponse(rec))

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type disputeStatusResponse struct {
	Dispute    disputeResponse `json:"dispute"`
	Active     bool            `json:"active"`
	WindowEnd  string          `json:"windowEnd"`
	ApprovePct int             `json:"approvePct"`
	RejectPct  int             `json:"rejectPct"`
}

// handleDispute serves /api/disputes/{id} and /api/disputes/{id}/votes.
func (s *Server) handleDispute(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/disputes/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "dispute id required")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		st, err := s.disputeService.Status(r.Context(), id)
		switch {
		case err == nil:
		case errors.Is(err, dispute.ErrNotFound):
			writeError(w, http.StatusNotFound, err.Error())
			return
		default:
			internalError(w, "dispute status", err)
			return
		}
		writeJSON(w, http.StatusOK, disputeStatusResponse{
			Dispute:    toDisputeResponse(st.Dispute),
			Active:     st.Active,
			WindowEnd:  st.WindowEnd.Format(time.RFC3339),
			ApprovePct: st.ApprovePct,
			RejectPct:  st.RejectPct,
		})

	case action == "votes" && r.Method == http.MethodPost:
		var req struct {
			Decision string `json:"decision"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}

		err := s.voteService.CastBallot(r.Context(), id, callerWallet(r), vote.Decision(req.Decision))
		switch {
		case err == nil:
		case errors.Is(err, vote.ErrNotEligible):
			writeError(w, http.StatusForbidden, err.Error())
			return
		case errors.Is(err, vote.ErrWindowClosed):
			writeError(w, http.StatusConflict, err.Error())
			return
		case errors.Is(err, dispute.ErrNotFound):
			writeError(w, http.StatusNotFound, err.Error())
			return
		default:
			internalError(w, "cast ballot", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleJudge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	isJudge, err := s.judgeService.IsJudge(r.Context(), callerWallet(r))
	if err != nil {
		internalError(w, "judge membership", err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		IsJudge bool `json:"isJudge"`
	}{IsJudge: isJudge})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, struct {
		Error string `json:"error"`
	}{Error: message})
}

func internalError(w http.ResponseWriter, op string, err error) {
	zap.L().Error(op, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}
