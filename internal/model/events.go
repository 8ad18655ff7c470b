package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event types carried in outbox records and bus envelopes.
const (
	EventTypePlanCreated        = "PlanCreated"
	EventTypeExecutePlan        = "ExecutePlan"
	EventTypeCashBalanceUpdated = "CashBalanceUpdated"
	EventTypeOrderFilled        = "OrderFilled"
	EventTypeOrderCommand       = "OrderCommand"
	EventTypeExecutionRejected  = "ExecutionRejected"
)

// Aggregate types.
const (
	AggregateTypePlan        = "Plan"
	AggregateTypeOrder       = "Order"
	AggregateTypeCashBalance = "CashBalance"
)

// OutcomeRejectedInsufficientFunds is the terminal outcome of an execution attempt
// that found the replicated balance below the plan total.
const OutcomeRejectedInsufficientFunds = "REJECTED_INSUFFICIENT_FUNDS"

// PlanEvent is the payload of PlanCreated and ExecutePlan.
type PlanEvent struct {
	PlanID       uuid.UUID    `json:"planId"`
	ExecutionID  *uuid.UUID   `json:"executionId,omitempty"`
	UserID       string       `json:"userId"`
	Name         string       `json:"name"`
	ExecutionDay int          `json:"executionDay"`
	Investments  []Investment `json:"investments"`
	Timestamp    time.Time    `json:"timestamp"`
}

// NewPlanEvent builds the plan payload for the given plan.
func NewPlanEvent(plan *Plan, executionID *uuid.UUID, now time.Time) PlanEvent {
	return PlanEvent{
		PlanID:       plan.ID,
		ExecutionID:  executionID,
		UserID:       plan.UserID,
		Name:         plan.Name,
		ExecutionDay: plan.ExecutionDay,
		Investments:  plan.Investments,
		Timestamp:    now,
	}
}

// Validate checks the fields the saga relies on.
func (e *PlanEvent) Validate() error {
	if e.PlanID == uuid.Nil || strings.TrimSpace(e.UserID) == "" || len(e.Investments) == 0 {
		return ErrMalformedPayload
	}

	for _, inv := range e.Investments {
		if inv.AssetID == "" || !inv.Amount.IsPositive() {
			return ErrMalformedPayload
		}
	}

	return nil
}

// Total sums the requested investment amounts.
func (e *PlanEvent) Total() decimal.Decimal {
	return TotalInvestment(e.Investments)
}

// OrderCommandEvent is the payload of OrderCommand.
type OrderCommandEvent struct {
	OrderID     uuid.UUID       `json:"orderId"`
	ExecutionID uuid.UUID       `json:"executionId"`
	PlanID      uuid.UUID       `json:"planId"`
	UserID      string          `json:"userId"`
	AssetID     string          `json:"assetId"`
	Amount      decimal.Decimal `json:"amount"`
}

// NewOrderCommandEvent builds the command payload for an order.
func NewOrderCommandEvent(order *OrderCommand) OrderCommandEvent {
	return OrderCommandEvent{
		OrderID:     order.ID,
		ExecutionID: order.ExecutionID,
		PlanID:      order.PlanID,
		UserID:      order.UserID,
		AssetID:     order.AssetID,
		Amount:      order.Amount,
	}
}

// Validate checks the fields the trading engine relies on.
func (e *OrderCommandEvent) Validate() error {
	if e.OrderID == uuid.Nil || e.AssetID == "" || !e.Amount.IsPositive() {
		return ErrMalformedPayload
	}

	return nil
}

// OrderFilledEvent is the payload of OrderFilled.
type OrderFilledEvent struct {
	OrderID  uuid.UUID       `json:"orderId"`
	AssetID  string          `json:"assetId"`
	Amount   decimal.Decimal `json:"amount"`
	Status   OrderStatus     `json:"status"`
	FilledAt time.Time       `json:"filledAt"`
}

// Validate checks the fields the fill guard relies on.
func (e *OrderFilledEvent) Validate() error {
	if e.OrderID == uuid.Nil || e.FilledAt.IsZero() {
		return ErrMalformedPayload
	}

	return nil
}

// CashBalanceUpdatedEvent is the payload of CashBalanceUpdated.
type CashBalanceUpdatedEvent struct {
	UserID    string          `json:"userId"`
	Balance   decimal.Decimal `json:"balance"`
	Timestamp time.Time       `json:"timestamp"`
}

// Validate checks the fields the balance guard relies on.
func (e *CashBalanceUpdatedEvent) Validate() error {
	if strings.TrimSpace(e.UserID) == "" || e.Timestamp.IsZero() {
		return ErrMalformedPayload
	}

	return nil
}

// ExecutionRejectedEvent is the payload of ExecutionRejected.
type ExecutionRejectedEvent struct {
	PlanID      uuid.UUID       `json:"planId"`
	ExecutionID *uuid.UUID      `json:"executionId,omitempty"`
	UserID      string          `json:"userId"`
	Outcome     string          `json:"outcome"`
	Required    decimal.Decimal `json:"required"`
	Available   decimal.Decimal `json:"available"`
	Timestamp   time.Time       `json:"timestamp"`
}
