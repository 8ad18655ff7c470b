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
	planInsertSQL = `
INSERT INTO plans (plan_id, user_id, name, execution_day, status, total_amount, version, created_at)
VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8);
`

	planInvestmentInsertSQL = `
INSERT INTO plan_investments (plan_id, position, asset_id, amount)
VALUES ($1, $2, $3, $4::numeric);
`

	planSelectSQL = `
SELECT plan_id, user_id, name, execution_day, status, total_amount::text, version, created_at, updated_at
FROM plans
`

	planInvestmentsSelectSQL = `
SELECT plan_id, asset_id, amount::text
FROM plan_investments
WHERE plan_id = ANY($1::uuid[])
ORDER BY plan_id, position;
`
)

// PlanRepositoryImpl implements PlanRepository using PostgreSQL.
type PlanRepositoryImpl struct {
	pool *pgxpool.Pool
}

// NewPlanRepositoryImpl creates a new PlanRepository implementation.
func NewPlanRepositoryImpl(pool *pgxpool.Pool) *PlanRepositoryImpl {
	return &PlanRepositoryImpl{pool: pool}
}

// Create inserts a plan and its investment lines.
func (r *PlanRepositoryImpl) Create(ctx context.Context, plan *model.Plan) error {
	q := conn(ctx, r.pool)

	_, err := q.Exec(ctx, planInsertSQL,
		plan.ID,
		plan.UserID,
		plan.Name,
		plan.ExecutionDay,
		string(plan.Status),
		plan.TotalAmount.String(),
		plan.Version,
		plan.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("plans: insert: %w", err)
	}

	for i, inv := range plan.Investments {
		if _, err := q.Exec(ctx, planInvestmentInsertSQL, plan.ID, i, inv.AssetID, inv.Amount.String()); err != nil {
			return fmt.Errorf("plans: insert investment %s: %w", inv.AssetID, err)
		}
	}

	return nil
}

// GetByID retrieves a plan with its investment lines.
func (r *PlanRepositoryImpl) GetByID(ctx context.Context, id uuid.UUID) (*model.Plan, error) {
	plan, err := scanPlan(conn(ctx, r.pool).QueryRow(ctx, planSelectSQL+"WHERE plan_id = $1;", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrPlanNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("plans: get: %w", err)
	}

	if err := r.loadInvestments(ctx, []*model.Plan{plan}); err != nil {
		return nil, err
	}

	return plan, nil
}

// ListByUser retrieves the plans owned by userID, oldest first.
func (r *PlanRepositoryImpl) ListByUser(ctx context.Context, userID string) ([]*model.Plan, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, planSelectSQL+"WHERE user_id = $1 ORDER BY created_at, plan_id;", userID)
	if err != nil {
		return nil, fmt.Errorf("plans: list: %w", err)
	}
	defer rows.Close()

	var plans []*model.Plan

	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("plans: scan: %w", err)
		}

		plans = append(plans, plan)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("plans: iterate: %w", err)
	}

	if err := r.loadInvestments(ctx, plans); err != nil {
		return nil, err
	}

	return plans, nil
}

func (r *PlanRepositoryImpl) loadInvestments(ctx context.Context, plans []*model.Plan) error {
	if len(plans) == 0 {
		return nil
	}

	byID := make(map[uuid.UUID]*model.Plan, len(plans))
	ids := make([]uuid.UUID, 0, len(plans))

	for _, p := range plans {
		byID[p.ID] = p
		ids = append(ids, p.ID)
	}

	rows, err := conn(ctx, r.pool).Query(ctx, planInvestmentsSelectSQL, ids)
	if err != nil {
		return fmt.Errorf("plans: list investments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			planID  uuid.UUID
			assetID string
			amount  string
		)

		if err := rows.Scan(&planID, &assetID, &amount); err != nil {
			return fmt.Errorf("plans: scan investment: %w", err)
		}

		dec, err := decimal.NewFromString(amount)
		if err != nil {
			return fmt.Errorf("plans: parse investment amount: %w", err)
		}

		if p, ok := byID[planID]; ok {
			p.Investments = append(p.Investments, model.Investment{AssetID: assetID, Amount: dec})
		}
	}

	return rows.Err()
}

func scanPlan(row pgx.Row) (*model.Plan, error) {
	var (
		plan   model.Plan
		status string
		total  string
	)

	err := row.Scan(
		&plan.ID,
		&plan.UserID,
		&plan.Name,
		&plan.ExecutionDay,
		&status,
		&total,
		&plan.Version,
		&plan.CreatedAt,
		&plan.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	plan.Status = model.PlanStatus(status)

	if plan.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("parse total amount: %w", err)
	}

	return &plan, nil
}
