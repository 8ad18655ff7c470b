package model

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus represents the state of an order command.
type OrderStatus string

const (
	OrderStatusPending OrderStatus = "PENDING"
	OrderStatusFilled  OrderStatus = "FILLED"
)

// orderNamespace scopes deterministic order identifiers.
var orderNamespace = uuid.MustParse("6f1c4a52-93f4-4e0b-9a55-0b6de4c0e1a7")

// OrderCommand is a buy order created by a plan execution.
type OrderCommand struct {
	ID          uuid.UUID       `json:"order_id"`
	ExecutionID uuid.UUID       `json:"execution_id"`
	PlanID      uuid.UUID       `json:"plan_id"`
	UserID      string          `json:"user_id"`
	AssetID     string          `json:"asset_id"`
	Amount      decimal.Decimal `json:"amount"`
	Status      OrderStatus     `json:"status"`
	FilledAt    *time.Time      `json:"filled_at"`
	CreatedAt   time.Time       `json:"created_at"`
}

// OrderID derives a stable order identifier for one investment line of an execution,
// so a redelivered execution maps to the same orders.
func OrderID(planID, executionID uuid.UUID, assetID string, line int) uuid.UUID {
	name := strings.Join([]string{planID.String(), executionID.String(), assetID, strconv.Itoa(line)}, "|")

	return uuid.NewSHA1(orderNamespace, []byte(name))
}

// NewOrderCommand builds the pending order for one investment line of an execution.
func NewOrderCommand(exec *PlanExecution, inv Investment, line int) *OrderCommand {
	return &OrderCommand{
		ID:          OrderID(exec.PlanID, exec.ID, inv.AssetID, line),
		ExecutionID: exec.ID,
		PlanID:      exec.PlanID,
		UserID:      exec.UserID,
		AssetID:     inv.AssetID,
		Amount:      inv.Amount,
		Status:      OrderStatusPending,
	}
}
