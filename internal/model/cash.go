package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// CashBalance is the executor's replicated view of a user's available funds.
type CashBalance struct {
	UserID    string          `json:"user_id"`
	Balance   decimal.Decimal `json:"balance"`
	AsOf      time.Time       `json:"as_of"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Stale reports whether the balance is older than maxAge at now. A non-positive maxAge disables the check.
func (b *CashBalance) Stale(maxAge time.Duration, now time.Time) bool {
	if maxAge <= 0 {
		return false
	}

	return now.Sub(b.AsOf) > maxAge
}
