package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/karolcichosz/investment-plans-design/internal/model"
)

const (
	cashBalanceSelectSQL = `
SELECT user_id, balance::text, as_of, updated_at
FROM cash_balances
WHERE user_id = $1;
`

	cashBalanceSelectForUpdateSQL = `
SELECT user_id, balance::text, as_of, updated_at
FROM cash_balances
WHERE user_id = $1
FOR UPDATE;
`

	cashBalanceApplySQL = `
INSERT INTO cash_balances (user_id, balance, as_of, updated_at)
VALUES ($1, $2::numeric, $3, now())
ON CONFLICT (user_id) DO UPDATE
SET balance = EXCLUDED.balance,
    as_of = EXCLUDED.as_of,
    updated_at = now()
WHERE cash_balances.as_of < EXCLUDED.as_of;
`

	cashBalanceDeductSQL = `
UPDATE cash_balances
SET balance = balance - $2::numeric,
    updated_at = $3
WHERE user_id = $1
  AND balance >= $2::numeric;
`
)

// CashBalanceRepositoryImpl implements CashBalanceRepository using PostgreSQL.
type CashBalanceRepositoryImpl struct {
	pool *pgxpool.Pool
}

// NewCashBalanceRepositoryImpl creates a new CashBalanceRepository implementation.
func NewCashBalanceRepositoryImpl(pool *pgxpool.Pool) *CashBalanceRepositoryImpl {
	return &CashBalanceRepositoryImpl{pool: pool}
}

// Get retrieves the replicated balance of a user.
func (r *CashBalanceRepositoryImpl) Get(ctx context.Context, userID string) (*model.CashBalance, error) {
	return r.get(ctx, cashBalanceSelectSQL, userID)
}

// GetForUpdate retrieves the replicated balance and locks its row until the
// transaction carried by ctx ends.
func (r *CashBalanceRepositoryImpl) GetForUpdate(ctx context.Context, userID string) (*model.CashBalance, error) {
	return r.get(ctx, cashBalanceSelectForUpdateSQL, userID)
}

func (r *CashBalanceRepositoryImpl) get(ctx context.Context, query, userID string) (*model.CashBalance, error) {
	var (
		b       model.CashBalance
		balance string
	)

	err := conn(ctx, r.pool).QueryRow(ctx, query, userID).Scan(&b.UserID, &balance, &b.AsOf, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrBalanceNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("cash balances: get: %w", err)
	}

	if b.Balance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("cash balances: parse balance: %w", err)
	}

	return &b, nil
}

// ApplyIfNewer upserts the balance when asOf is newer than the stored snapshot.
func (r *CashBalanceRepositoryImpl) ApplyIfNewer(
	ctx context.Context, userID string, balance decimal.Decimal, asOf time.Time,
) (bool, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, cashBalanceApplySQL, userID, balance.String(), asOf)
	if err != nil {
		return false, fmt.Errorf("cash balances: apply: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// Deduct subtracts amount from the replicated balance. It never overdraws: a missing
// or smaller balance fails with ErrInsufficientFunds.
func (r *CashBalanceRepositoryImpl) Deduct(ctx context.Context, userID string, amount decimal.Decimal, at time.Time) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, cashBalanceDeductSQL, userID, amount.String(), at)
	if err != nil {
		return fmt.Errorf("cash balances: deduct: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return model.ErrInsufficientFunds
	}

	return nil
}
