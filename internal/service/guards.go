package service

import (
	"context"
	"log/slog"

	"github.com/karolcichosz/investment-plans-design/internal/model"
	"github.com/karolcichosz/investment-plans-design/internal/repository"
	"github.com/karolcichosz/investment-plans-design/internal/telemetry"
)

// OrderFilledHandler applies fills to orders exactly once.
type OrderFilledHandler struct {
	transactionMgr repository.TransactionManager
	orderRepo      repository.OrderRepository
	metrics        *telemetry.SagaMetrics
	logger         *slog.Logger
}

// NewOrderFilledHandler creates a new OrderFilledHandler.
func NewOrderFilledHandler(
	transactionMgr repository.TransactionManager,
	orderRepo repository.OrderRepository,
	metrics *telemetry.SagaMetrics,
	logger *slog.Logger,
) *OrderFilledHandler {
	return &OrderFilledHandler{
		transactionMgr: transactionMgr,
		orderRepo:      orderRepo,
		metrics:        metrics,
		logger:         logger,
	}
}

// Handle marks the order FILLED and reports whether it changed. A fill for an order
// that is already FILLED is discarded. An unknown order fails with model.ErrOrderNotFound
// so the message is redelivered.
func (h *OrderFilledHandler) Handle(ctx context.Context, evt *model.OrderFilledEvent) (bool, error) {
	if err := evt.Validate(); err != nil {
		return false, err
	}

	var applied bool

	err := h.transactionMgr.WithTransaction(ctx, func(ctx context.Context) error {
		order, err := h.orderRepo.GetByID(ctx, evt.OrderID)
		if err != nil {
			return err
		}

		if order.Status == model.OrderStatusFilled {
			return nil
		}

		applied, err = h.orderRepo.MarkFilled(ctx, evt.OrderID, evt.FilledAt)

		return err
	})
	if err != nil {
		return false, err
	}

	if !applied {
		h.metrics.Outcome(ctx, model.EventTypeOrderFilled, string(OutcomeDuplicate))
		h.logger.Info("order already filled, discarding event", slog.String("order_id", evt.OrderID.String()))

		return false, nil
	}

	h.metrics.Outcome(ctx, model.EventTypeOrderFilled, "applied")
	h.logger.Info("order filled",
		slog.String("order_id", evt.OrderID.String()),
		slog.String("asset_id", evt.AssetID),
		slog.String("amount", evt.Amount.String()),
	)

	return true, nil
}

// BalanceHandler refreshes the replicated cash balance from CashBalanceUpdated events.
type BalanceHandler struct {
	balanceRepo repository.CashBalanceRepository
	metrics     *telemetry.SagaMetrics
	logger      *slog.Logger
}

// NewBalanceHandler creates a new BalanceHandler.
func NewBalanceHandler(
	balanceRepo repository.CashBalanceRepository,
	metrics *telemetry.SagaMetrics,
	logger *slog.Logger,
) *BalanceHandler {
	return &BalanceHandler{balanceRepo: balanceRepo, metrics: metrics, logger: logger}
}

// Handle stores the balance when the event is newer than the stored snapshot.
// Older or equal events are discarded.
func (h *BalanceHandler) Handle(ctx context.Context, evt *model.CashBalanceUpdatedEvent) (bool, error) {
	if err := evt.Validate(); err != nil {
		return false, err
	}

	applied, err := h.balanceRepo.ApplyIfNewer(ctx, evt.UserID, evt.Balance, evt.Timestamp)
	if err != nil {
		return false, err
	}

	if !applied {
		h.metrics.Outcome(ctx, model.EventTypeCashBalanceUpdated, string(OutcomeDuplicate))
		h.logger.Debug("stale balance update discarded",
			slog.String("user_id", evt.UserID),
			slog.Time("as_of", evt.Timestamp),
		)

		return false, nil
	}

	h.metrics.Outcome(ctx, model.EventTypeCashBalanceUpdated, "applied")
	h.logger.Info("cash balance refreshed",
		slog.String("user_id", evt.UserID),
		slog.String("balance", evt.Balance.String()),
	)

	return true, nil
}
