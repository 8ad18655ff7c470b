package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ExecutionStatus represents the state of a plan execution.
type ExecutionStatus string

const (
	ExecutionStatusPending    ExecutionStatus = "PENDING"
	ExecutionStatusInProgress ExecutionStatus = "IN_PROGRESS"
	ExecutionStatusCompleted  ExecutionStatus = "COMPLETED"
)

// IsOpen reports whether an execution may still be picked up by the saga.
func (s ExecutionStatus) IsOpen() bool {
	return s == ExecutionStatusPending || s == ExecutionStatusInProgress
}

// PlanExecution is one occurrence of a plan.
type PlanExecution struct {
	ID            uuid.UUID        `json:"execution_id"`
	PlanID        uuid.UUID        `json:"plan_id"`
	UserID        string           `json:"user_id"`
	TriggeredAt   time.Time        `json:"triggered_at"`
	CompletedAt   *time.Time       `json:"completed_at"`
	Status        ExecutionStatus  `json:"status"`
	TotalExecuted *decimal.Decimal `json:"total_executed"`
	Orders        []OrderCommand   `json:"orders,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     *time.Time       `json:"updated_at"`
}

// NewPlanExecution creates a pending execution due at triggeredAt.
func NewPlanExecution(planID uuid.UUID, userID string, triggeredAt time.Time) *PlanExecution {
	return &PlanExecution{
		ID:          uuid.New(),
		PlanID:      planID,
		UserID:      userID,
		TriggeredAt: triggeredAt,
		Status:      ExecutionStatusPending,
	}
}

// Complete marks the execution as completed with the executed total.
func (e *PlanExecution) Complete(total decimal.Decimal, at time.Time) {
	e.Status = ExecutionStatusCompleted
	e.CompletedAt = &at
	e.TotalExecuted = &total
}
