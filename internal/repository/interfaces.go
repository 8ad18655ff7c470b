// Package repository provides data access interfaces and implementations.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/karolcichosz/investment-plans-design/internal/model"
)

// OutboxRepository defines methods for outbox event data access.
type OutboxRepository interface {
	// CreateEvent appends a record inside the transaction carried by ctx.
	CreateEvent(ctx context.Context, params *model.CreateOutboxEventParams) (*model.OutboxEvent, error)
	ClaimDueEvents(ctx context.Context, params *model.ClaimOutboxEventsParams) ([]*model.OutboxEvent, error)
	// MarkAsPublished reports false when the record was already published.
	MarkAsPublished(ctx context.Context, id int64, at time.Time) (bool, error)
	// MarkAsFailed reports whether the failure dead-lettered the record.
	MarkAsFailed(ctx context.Context, params *model.FailOutboxEventParams) (bool, error)
	// RenewClaim reports false when owner no longer holds the claim.
	RenewClaim(ctx context.Context, id int64, owner string, at time.Time) (bool, error)
	ReleaseClaim(ctx context.Context, id int64, owner string) error
	CountUnpublishedDue(ctx context.Context, now time.Time) (int64, error)
	CountDeadLettered(ctx context.Context) (int64, error)
	ExistsForAggregate(ctx context.Context, aggregateID, eventType string) (bool, error)
}

// PlanRepository defines methods for plan data access.
type PlanRepository interface {
	Create(ctx context.Context, plan *model.Plan) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Plan, error)
	ListByUser(ctx context.Context, userID string) ([]*model.Plan, error)
}

// ExecutionRepository defines methods for plan execution data access.
type ExecutionRepository interface {
	Create(ctx context.Context, exec *model.PlanExecution) error
	Save(ctx context.Context, exec *model.PlanExecution) error
	// GetForUpdate loads and row-locks one execution.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*model.PlanExecution, error)
	// FindOpenForUpdate loads and row-locks the oldest PENDING or IN_PROGRESS execution of a plan.
	FindOpenForUpdate(ctx context.Context, planID uuid.UUID) (*model.PlanExecution, error)
	HasStatus(ctx context.Context, planID uuid.UUID, status model.ExecutionStatus) (bool, error)
	ListByPlan(ctx context.Context, planID uuid.UUID) ([]*model.PlanExecution, error)
}

// OrderRepository defines methods for order command data access.
type OrderRepository interface {
	// CreateIfAbsent reports whether the order was newly inserted.
	CreateIfAbsent(ctx context.Context, order *model.OrderCommand) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.OrderCommand, error)
	// MarkFilled moves a PENDING order to FILLED and reports whether it did.
	MarkFilled(ctx context.Context, id uuid.UUID, filledAt time.Time) (bool, error)
	ListByExecution(ctx context.Context, executionID uuid.UUID) ([]*model.OrderCommand, error)
}

// CashBalanceRepository defines methods for the replicated cash balance cache.
type CashBalanceRepository interface {
	Get(ctx context.Context, userID string) (*model.CashBalance, error)
	// GetForUpdate locks the balance row for the rest of the transaction.
	GetForUpdate(ctx context.Context, userID string) (*model.CashBalance, error)
	// ApplyIfNewer stores the balance only when asOf is newer than the stored one.
	ApplyIfNewer(ctx context.Context, userID string, balance decimal.Decimal, asOf time.Time) (bool, error)
	// Deduct fails with ErrInsufficientFunds rather than overdraw.
	Deduct(ctx context.Context, userID string, amount decimal.Decimal, at time.Time) error
}

// TransactionManager defines methods for database transaction management.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
