package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karolcichosz/investment-plans-design/internal/balance"
	"github.com/karolcichosz/investment-plans-design/internal/model"
)

// stubCash reserves against a MemoryStore without an outbox.
type stubCash struct {
	store *balance.MemoryStore
}

func (s stubCash) GetBalance(ctx context.Context, userID string) (balance.Snapshot, error) {
	return s.store.Get(ctx, userID)
}

func (s stubCash) SetBalance(ctx context.Context, userID string, amount decimal.Decimal) (balance.Snapshot, error) {
	if amount.IsNegative() {
		return balance.Snapshot{}, model.ErrInvalidAmount
	}

	return s.store.Update(ctx, userID, func(balance.Snapshot, bool) (decimal.Decimal, error) { return amount, nil })
}

func (s stubCash) Reserve(ctx context.Context, userID string, amount decimal.Decimal) (balance.Snapshot, error) {
	if userID == "" {
		return balance.Snapshot{}, model.ErrUserIDRequired
	}

	return s.store.Update(ctx, userID, func(cur balance.Snapshot, exists bool) (decimal.Decimal, error) {
		if !exists {
			return decimal.Zero, model.ErrBalanceNotFound
		}

		if cur.Balance.LessThan(amount) {
			return decimal.Zero, model.ErrInsufficientFunds
		}

		return cur.Balance.Sub(amount), nil
	})
}

func (s stubCash) AllBalances(ctx context.Context) ([]balance.Snapshot, error) {
	return s.store.All(ctx)
}

func newTestServer(now time.Time) http.Handler {
	store := balance.NewMemoryStore(map[string]decimal.Decimal{
		"demo_user": decimal.RequireFromString("50000"),
		"user_123":  decimal.RequireFromString("10000"),
	}, func() time.Time { return now })

	srv := NewCashServer(stubCash{store: store}, time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil)))
	srv.now = func() time.Time { return now.Add(2 * time.Hour) }

	return srv.Routes()
}

func do(h http.Handler, method, path, userID, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if userID != "" {
		req.Header.Set(userIDHeader, userID)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	return rec
}

func TestGetBalance(t *testing.T) {
	h := newTestServer(time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC))

	rec := do(h, http.MethodGet, "/api/cash/balance/demo_user", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body balanceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "demo_user", body.UserID)
	assert.Equal(t, "50000", body.Balance.String())
	assert.True(t, body.Stale)

	assert.Equal(t, http.StatusNotFound, do(h, http.MethodGet, "/api/cash/balance/nobody", "", "").Code)
}

func TestReserve(t *testing.T) {
	h := newTestServer(time.Now())

	rec := do(h, http.MethodPost, "/api/cash/reserve", "demo_user", `{"amount":"3000"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body reserveResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "RESERVED", body.Status)
	assert.Equal(t, "47000", body.Balance.String())

	assert.Equal(t, http.StatusConflict, do(h, http.MethodPost, "/api/cash/reserve", "user_123", `{"amount":"20000"}`).Code)
	assert.Equal(t, http.StatusNotFound, do(h, http.MethodPost, "/api/cash/reserve", "nobody", `{"amount":"1"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodPost, "/api/cash/reserve", "", `{"amount":"1"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodPost, "/api/cash/reserve", "demo_user", `{`).Code)
}

func TestSetBalanceAndList(t *testing.T) {
	h := newTestServer(time.Now())

	require.Equal(t, http.StatusOK, do(h, http.MethodPut, "/api/cash/balance/new_user", "", `{"amount":"5"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodPut, "/api/cash/balance/new_user", "", `{"amount":"-5"}`).Code)

	rec := do(h, http.MethodGet, "/api/cash/balances", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]decimal.Decimal
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body, 3)
	assert.Equal(t, "5", body["new_user"].String())
}

func TestHealth(t *testing.T) {
	h := newTestServer(time.Now())

	rec := do(h, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"UP","service":"cash-domain"}`, rec.Body.String())
}
