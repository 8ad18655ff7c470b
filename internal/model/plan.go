// Package model defines domain models and data structures.
package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PlanStatus represents the lifecycle state of a plan.
type PlanStatus string

const (
	// PlanStatusActive marks a plan whose executions keep recurring.
	PlanStatusActive PlanStatus = "ACTIVE"
)

const (
	minExecutionDay = 1
	maxExecutionDay = 31
)

// Plan represents a recurring investment plan.
type Plan struct {
	ID           uuid.UUID       `json:"plan_id"`
	UserID       string          `json:"user_id"`
	Name         string          `json:"name"`
	ExecutionDay int             `json:"execution_day"`
	Status       PlanStatus      `json:"status"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	Version      int64           `json:"version"`
	Investments  []Investment    `json:"investments"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    *time.Time      `json:"updated_at"`
}

// Investment is a single asset line of a plan.
type Investment struct {
	AssetID string          `json:"assetId"`
	Amount  decimal.Decimal `json:"amount"`
}

// TotalInvestment sums the amounts of the given investment lines.
func TotalInvestment(investments []Investment) decimal.Decimal {
	total := decimal.Zero
	for _, inv := range investments {
		total = total.Add(inv.Amount)
	}

	return total
}

// CreatePlanParams represents parameters for creating a new plan.
type CreatePlanParams struct {
	Name         string       `json:"name"`
	ExecutionDay int          `json:"executionDay"`
	Investments  []Investment `json:"investments"`
}

// Validate validates the create plan parameters.
func (p *CreatePlanParams) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return ErrInvalidPlanName
	}

	if p.ExecutionDay < minExecutionDay || p.ExecutionDay > maxExecutionDay {
		return ErrInvalidExecutionDay
	}

	if len(p.Investments) == 0 {
		return ErrNoInvestments
	}

	for _, inv := range p.Investments {
		if strings.TrimSpace(inv.AssetID) == "" {
			return ErrInvalidAssetID
		}

		if !inv.Amount.IsPositive() {
			return ErrInvalidAmount
		}
	}

	return nil
}
