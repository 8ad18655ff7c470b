package model

import "errors"

var (
	// ErrInvalidPlanName is returned when the plan name is empty.
	ErrInvalidPlanName = errors.New("plan name is required")
	// ErrInvalidExecutionDay is returned when the execution day is outside 1..31.
	ErrInvalidExecutionDay = errors.New("execution day must be between 1 and 31")
	// ErrNoInvestments is returned when a plan has no investment lines.
	ErrNoInvestments = errors.New("at least one investment is required")
	// ErrInvalidAssetID is returned when an investment line has no asset id.
	ErrInvalidAssetID = errors.New("asset id is required")
	// ErrInvalidAmount is returned when an investment amount is not positive.
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrUserIDRequired is returned when the caller did not identify the user.
	ErrUserIDRequired = errors.New("user id is required")

	// ErrPlanNotFound is returned when a plan is not found in database.
	ErrPlanNotFound = errors.New("plan not found")
	// ErrPlanAccessDenied is returned when a plan belongs to another user.
	ErrPlanAccessDenied = errors.New("unauthorized access to plan")
	// ErrExecutionNotFound is returned when no open execution exists for a plan.
	ErrExecutionNotFound = errors.New("plan execution not found")
	// ErrOrderNotFound is returned when an order command is not found in database.
	ErrOrderNotFound = errors.New("order command not found")
	// ErrBalanceNotFound is returned when no cash balance is recorded for a user.
	ErrBalanceNotFound = errors.New("cash balance not found")

	// ErrInsufficientFunds is returned when a balance cannot cover a debit.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrMalformedPayload is returned when an event payload cannot be decoded or validated.
	ErrMalformedPayload = errors.New("malformed event payload")
)
