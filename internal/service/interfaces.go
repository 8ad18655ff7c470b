// Package service provides business logic layer implementations.
package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/karolcichosz/investment-plans-design/internal/balance"
	"github.com/karolcichosz/investment-plans-design/internal/bus"
	"github.com/karolcichosz/investment-plans-design/internal/model"
)

// PlanManager defines business logic methods for plan management.
type PlanManager interface {
	CreatePlan(ctx context.Context, userID string, params *model.CreatePlanParams) (*model.Plan, error)
	GetPlan(ctx context.Context, userID string, planID uuid.UUID) (*PlanDetails, error)
	ListPlans(ctx context.Context, userID string) ([]*PlanDetails, error)
}

// CashManager defines business logic methods for the cash domain.
type CashManager interface {
	GetBalance(ctx context.Context, userID string) (balance.Snapshot, error)
	SetBalance(ctx context.Context, userID string, amount decimal.Decimal) (balance.Snapshot, error)
	Reserve(ctx context.Context, userID string, amount decimal.Decimal) (balance.Snapshot, error)
	AllBalances(ctx context.Context) ([]balance.Snapshot, error)
}

// Publisher publishes one outbox record to the bus.
type Publisher interface {
	Publish(ctx context.Context, record *model.OutboxEvent) error
}

// Sender sends a message on the bus and waits for its acknowledgment.
type Sender interface {
	Send(ctx context.Context, msg bus.Message) (string, error)
}
