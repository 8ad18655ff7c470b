package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/karolcichosz/investment-plans-design/internal/model"
	"github.com/karolcichosz/investment-plans-design/internal/repository"
)

// TradingEngine is a fixed-latency stub that fills every order command.
type TradingEngine struct {
	transactionMgr repository.TransactionManager
	outboxRepo     repository.OutboxRepository
	outbox         *OutboxWriter
	latency        time.Duration
	logger         *slog.Logger
	now            func() time.Time
}

// NewTradingEngine creates a new TradingEngine.
func NewTradingEngine(
	transactionMgr repository.TransactionManager,
	outboxRepo repository.OutboxRepository,
	outbox *OutboxWriter,
	latency time.Duration,
	logger *slog.Logger,
) *TradingEngine {
	return &TradingEngine{
		transactionMgr: transactionMgr,
		outboxRepo:     outboxRepo,
		outbox:         outbox,
		latency:        latency,
		logger:         logger,
		now:            time.Now,
	}
}

// HandleOrderCommand fills the order and emits OrderFilled through the outbox.
// A command whose fill was already recorded is discarded.
func (t *TradingEngine) HandleOrderCommand(ctx context.Context, evt *model.OrderCommandEvent) (bool, error) {
	if err := evt.Validate(); err != nil {
		return false, err
	}

	orderID := evt.OrderID.String()

	filled, err := t.outboxRepo.ExistsForAggregate(ctx, orderID, model.EventTypeOrderFilled)
	if err != nil {
		return false, err
	}

	if filled {
		t.logger.Info("order already filled, discarding command", slog.String("order_id", orderID))

		return false, nil
	}

	if t.latency > 0 {
		timer := time.NewTimer(t.latency)
		select {
		case <-ctx.Done():
			timer.Stop()

			return false, ctx.Err()
		case <-timer.C:
		}
	}

	var emitted bool

	err = t.transactionMgr.WithTransaction(ctx, func(ctx context.Context) error {
		exists, err := t.outboxRepo.ExistsForAggregate(ctx, orderID, model.EventTypeOrderFilled)
		if err != nil || exists {
			return err
		}

		_, err = t.outbox.Append(ctx, AppendParams{
			AggregateID:   orderID,
			AggregateType: model.AggregateTypeOrder,
			EventType:     model.EventTypeOrderFilled,
			Payload: model.OrderFilledEvent{
				OrderID:  evt.OrderID,
				AssetID:  evt.AssetID,
				Amount:   evt.Amount,
				Status:   model.OrderStatusFilled,
				FilledAt: t.now(),
			},
		})
		emitted = err == nil

		return err
	})
	if err != nil {
		return false, err
	}

	if emitted {
		t.logger.Info("order filled",
			slog.String("order_id", orderID),
			slog.String("asset_id", evt.AssetID),
			slog.String("amount", evt.Amount.String()),
		)
	}

	return emitted, nil
}
