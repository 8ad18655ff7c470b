package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/karolcichosz/investment-plans-design/internal/model"
)

const (
	executionInsertSQL = `
INSERT INTO plan_executions (execution_id, plan_id, user_id, triggered_at, status, created_at)
VALUES ($1, $2, $3, $4, $5, clock_timestamp())
RETURNING created_at;
`

	executionUpdateSQL = `
UPDATE plan_executions
SET status = $2,
    completed_at = $3,
    total_executed = $4::numeric,
    updated_at = clock_timestamp()
WHERE execution_id = $1
RETURNING updated_at;
`

	executionSelectSQL = `
SELECT execution_id, plan_id, user_id, triggered_at, completed_at, status, total_executed::text, created_at, updated_at
FROM plan_executions
`

	executionHasStatusSQL = `
SELECT EXISTS (SELECT 1 FROM plan_executions WHERE plan_id = $1 AND status = $2);
`
)

// ExecutionRepositoryImpl implements ExecutionRepository using PostgreSQL.
type ExecutionRepositoryImpl struct {
	pool *pgxpool.Pool
}

// NewExecutionRepositoryImpl creates a new ExecutionRepository implementation.
func NewExecutionRepositoryImpl(pool *pgxpool.Pool) *ExecutionRepositoryImpl {
	return &ExecutionRepositoryImpl{pool: pool}
}

// Create inserts a new execution.
func (r *ExecutionRepositoryImpl) Create(ctx context.Context, exec *model.PlanExecution) error {
	err := conn(ctx, r.pool).QueryRow(ctx, executionInsertSQL,
		exec.ID,
		exec.PlanID,
		exec.UserID,
		exec.TriggeredAt,
		string(exec.Status),
	).Scan(&exec.CreatedAt)
	if err != nil {
		return fmt.Errorf("executions: insert: %w", err)
	}

	return nil
}

// Save persists the mutable state of an execution.
func (r *ExecutionRepositoryImpl) Save(ctx context.Context, exec *model.PlanExecution) error {
	var total *string
	if exec.TotalExecuted != nil {
		s := exec.TotalExecuted.String()
		total = &s
	}

	err := conn(ctx, r.pool).QueryRow(ctx, executionUpdateSQL,
		exec.ID,
		string(exec.Status),
		exec.CompletedAt,
		total,
	).Scan(&exec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ErrExecutionNotFound
	}

	if err != nil {
		return fmt.Errorf("executions: update: %w", err)
	}

	return nil
}

// GetForUpdate loads and row-locks one execution.
func (r *ExecutionRepositoryImpl) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.PlanExecution, error) {
	return r.getOne(ctx, executionSelectSQL+"WHERE execution_id = $1 FOR UPDATE;", id)
}

// FindOpenForUpdate loads and row-locks the oldest open execution of a plan.
func (r *ExecutionRepositoryImpl) FindOpenForUpdate(ctx context.Context, planID uuid.UUID) (*model.PlanExecution, error) {
	return r.getOne(ctx, executionSelectSQL+`
WHERE plan_id = $1 AND status IN ('PENDING', 'IN_PROGRESS')
ORDER BY triggered_at, created_at
LIMIT 1
FOR UPDATE;`, planID)
}

// HasStatus reports whether any execution of planID is in status.
func (r *ExecutionRepositoryImpl) HasStatus(
	ctx context.Context, planID uuid.UUID, status model.ExecutionStatus,
) (bool, error) {
	var exists bool
	if err := conn(ctx, r.pool).QueryRow(ctx, executionHasStatusSQL, planID, string(status)).Scan(&exists); err != nil {
		return false, fmt.Errorf("executions: has status: %w", err)
	}

	return exists, nil
}

// ListByPlan retrieves the executions of a plan in trigger order.
func (r *ExecutionRepositoryImpl) ListByPlan(ctx context.Context, planID uuid.UUID) ([]*model.PlanExecution, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, executionSelectSQL+"WHERE plan_id = $1 ORDER BY triggered_at, created_at;", planID)
	if err != nil {
		return nil, fmt.Errorf("executions: list: %w", err)
	}
	defer rows.Close()

	var execs []*model.PlanExecution

	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("executions: scan: %w", err)
		}

		execs = append(execs, exec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("executions: iterate: %w", err)
	}

	return execs, nil
}

func (r *ExecutionRepositoryImpl) getOne(ctx context.Context, sql string, arg any) (*model.PlanExecution, error) {
	exec, err := scanExecution(conn(ctx, r.pool).QueryRow(ctx, sql, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrExecutionNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("executions: get: %w", err)
	}

	return exec, nil
}

func scanExecution(row pgx.Row) (*model.PlanExecution, error) {
	var (
		exec   model.PlanExecution
		status string
		total  *string
	)

	err := row.Scan(
		&exec.ID,
		&exec.PlanID,
		&exec.UserID,
		&exec.TriggeredAt,
		&exec.CompletedAt,
		&status,
		&total,
		&exec.CreatedAt,
		&exec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	exec.Status = model.ExecutionStatus(status)

	if total != nil {
		dec, err := decimal.NewFromString(*total)
		if err != nil {
			return nil, fmt.Errorf("parse total executed: %w", err)
		}

		exec.TotalExecuted = &dec
	}

	return &exec, nil
}
