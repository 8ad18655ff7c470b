package main

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/karolcichosz/investment-plans-design/internal/app"
	"github.com/karolcichosz/investment-plans-design/internal/balance"
	"github.com/karolcichosz/investment-plans-design/internal/model"
	"github.com/karolcichosz/investment-plans-design/internal/service"
)

const userIDHeader = "X-User-Id"

type amountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type balanceResponse struct {
	UserID    string          `json:"userId"`
	Balance   decimal.Decimal `json:"balance"`
	Timestamp time.Time       `json:"timestamp"`
	Stale     bool            `json:"stale"`
}

type reserveResponse struct {
	Status  string          `json:"status"`
	UserID  string          `json:"userId"`
	Amount  decimal.Decimal `json:"amount"`
	Balance decimal.Decimal `json:"balance"`
}

// CashServer handles HTTP requests for the cash domain.
type CashServer struct {
	cashService service.CashManager
	maxAge      time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// NewCashServer creates a new cash server. Balances older than maxAge are flagged stale.
func NewCashServer(cashService service.CashManager, maxAge time.Duration, logger *slog.Logger) *CashServer {
	return &CashServer{cashService: cashService, maxAge: maxAge, logger: logger, now: time.Now}
}

// Routes registers the cash endpoints.
func (s *CashServer) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/cash/balance/{userId}", s.GetBalance)
	mux.HandleFunc("PUT /api/cash/balance/{userId}", s.SetBalance)
	mux.HandleFunc("POST /api/cash/reserve", s.Reserve)
	mux.HandleFunc("GET /api/cash/balances", s.AllBalances)
	mux.HandleFunc("GET /health", app.HealthHandler("cash-domain"))
	mux.HandleFunc("GET /api/cash/health", app.HealthHandler("cash-domain"))

	return mux
}

// GetBalance handles GET /api/cash/balance/{userId}.
func (s *CashServer) GetBalance(w http.ResponseWriter, r *http.Request) {
	snap, err := s.cashService.GetBalance(r.Context(), r.PathValue("userId"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	app.WriteJSON(w, http.StatusOK, s.balanceResponse(snap))
}

// SetBalance handles PUT /api/cash/balance/{userId}.
func (s *CashServer) SetBalance(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := app.DecodeJSON(r, &req); err != nil {
		app.WriteError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	snap, err := s.cashService.SetBalance(r.Context(), r.PathValue("userId"), req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}

	app.WriteJSON(w, http.StatusOK, s.balanceResponse(snap))
}

// Reserve handles POST /api/cash/reserve.
func (s *CashServer) Reserve(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(userIDHeader)

	var req amountRequest
	if err := app.DecodeJSON(r, &req); err != nil {
		app.WriteError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	snap, err := s.cashService.Reserve(r.Context(), userID, req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}

	app.WriteJSON(w, http.StatusOK, reserveResponse{
		Status:  "RESERVED",
		UserID:  userID,
		Amount:  req.Amount,
		Balance: snap.Balance,
	})
}

// AllBalances handles GET /api/cash/balances.
func (s *CashServer) AllBalances(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.cashService.AllBalances(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	out := make(map[string]decimal.Decimal, len(snaps))
	for _, snap := range snaps {
		out[snap.UserID] = snap.Balance
	}

	app.WriteJSON(w, http.StatusOK, out)
}

func (s *CashServer) balanceResponse(snap balance.Snapshot) balanceResponse {
	return balanceResponse{
		UserID:    snap.UserID,
		Balance:   snap.Balance,
		Timestamp: snap.UpdatedAt,
		Stale:     snap.Stale(s.maxAge, s.now()),
	}
}

func (s *CashServer) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrUserIDRequired), errors.Is(err, model.ErrInvalidAmount):
		app.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, model.ErrBalanceNotFound):
		app.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, model.ErrInsufficientFunds):
		app.WriteError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("cash request failed", slog.String("error", err.Error()))
		app.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
