package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/karolcichosz/investment-plans-design/internal/model"
)

const (
	orderInsertSQL = `
INSERT INTO order_commands (order_id, execution_id, plan_id, user_id, asset_id, amount, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, clock_timestamp())
ON CONFLICT (order_id) DO NOTHING;
`

	orderMarkFilledSQL = `
UPDATE order_commands
SET status = 'FILLED',
    filled_at = $2,
    updated_at = clock_timestamp()
WHERE order_id = $1
  AND status = 'PENDING';
`

	orderSelectSQL = `
SELECT order_id, execution_id, plan_id, user_id, asset_id, amount::text, status, filled_at, created_at
FROM order_commands
`
)

// OrderRepositoryImpl implements OrderRepository using PostgreSQL.
type OrderRepositoryImpl struct {
	pool *pgxpool.Pool
}

// NewOrderRepositoryImpl creates a new OrderRepository implementation.
func NewOrderRepositoryImpl(pool *pgxpool.Pool) *OrderRepositoryImpl {
	return &OrderRepositoryImpl{pool: pool}
}

// CreateIfAbsent inserts the order unless an order with the same id exists.
func (r *OrderRepositoryImpl) CreateIfAbsent(ctx context.Context, order *model.OrderCommand) (bool, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, orderInsertSQL,
		order.ID,
		order.ExecutionID,
		order.PlanID,
		order.UserID,
		order.AssetID,
		order.Amount.String(),
		string(order.Status),
	)
	if err != nil {
		return false, fmt.Errorf("orders: insert: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// GetByID retrieves an order.
func (r *OrderRepositoryImpl) GetByID(ctx context.Context, id uuid.UUID) (*model.OrderCommand, error) {
	order, err := scanOrder(conn(ctx, r.pool).QueryRow(ctx, orderSelectSQL+"WHERE order_id = $1;", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrOrderNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("orders: get: %w", err)
	}

	return order, nil
}

// MarkFilled moves a PENDING order to FILLED.
func (r *OrderRepositoryImpl) MarkFilled(ctx context.Context, id uuid.UUID, filledAt time.Time) (bool, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, orderMarkFilledSQL, id, filledAt)
	if err != nil {
		return false, fmt.Errorf("orders: mark filled: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// ListByExecution retrieves the orders of an execution in creation order.
func (r *OrderRepositoryImpl) ListByExecution(ctx context.Context, executionID uuid.UUID) ([]*model.OrderCommand, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, orderSelectSQL+"WHERE execution_id = $1 ORDER BY created_at, order_id;", executionID)
	if err != nil {
		return nil, fmt.Errorf("orders: list: %w", err)
	}
	defer rows.Close()

	var orders []*model.OrderCommand

	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("orders: scan: %w", err)
		}

		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("orders: iterate: %w", err)
	}

	return orders, nil
}

func scanOrder(row pgx.Row) (*model.OrderCommand, error) {
	var (
		order  model.OrderCommand
		amount string
		status string
	)

	err := row.Scan(
		&order.ID,
		&order.ExecutionID,
		&order.PlanID,
		&order.UserID,
		&order.AssetID,
		&amount,
		&status,
		&order.FilledAt,
		&order.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	order.Status = model.OrderStatus(status)

	if order.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse order amount: %w", err)
	}

	return &order, nil
}
