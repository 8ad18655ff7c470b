package service

import (
	"context"
	"log/slog"

	"github.com/karolcichosz/investment-plans-design/internal/bus"
	"github.com/karolcichosz/investment-plans-design/internal/event"
	"github.com/karolcichosz/investment-plans-design/internal/model"
)

// EnvelopeHandler processes a decoded envelope.
type EnvelopeHandler func(ctx context.Context, env event.Envelope) error

// EventRouter dispatches bus deliveries to handlers by event type.
type EventRouter struct {
	handlers map[string]EnvelopeHandler
	logger   *slog.Logger
}

// NewEventRouter creates an empty EventRouter.
func NewEventRouter(logger *slog.Logger) *EventRouter {
	return &EventRouter{handlers: make(map[string]EnvelopeHandler), logger: logger}
}

// On registers h for eventType.
func (r *EventRouter) On(eventType string, h EnvelopeHandler) *EventRouter {
	r.handlers[eventType] = h

	return r
}

// Handle decodes the delivery and runs the matching handler. Unknown event types are
// logged and acknowledged; malformed envelopes stay pending.
func (r *EventRouter) Handle(ctx context.Context, d bus.Delivery) error {
	env, err := event.Decode(d.Body)
	if err != nil {
		return err
	}

	h, ok := r.handlers[env.EventType]
	if !ok {
		r.logger.Warn("unknown event type", slog.String("event_type", env.EventType), slog.String("stream", d.Stream))

		return nil
	}

	r.logger.Debug("received event",
		slog.String("event_id", env.EventID),
		slog.String("event_type", env.EventType),
		slog.String("aggregate_id", env.AggregateID),
	)

	return h(ctx, env)
}

// Decoded adapts a typed payload handler to an EnvelopeHandler.
func Decoded[T any](fn func(ctx context.Context, payload *T) error) EnvelopeHandler {
	return func(ctx context.Context, env event.Envelope) error {
		var payload T
		if err := env.DecodePayload(&payload); err != nil {
			return err
		}

		return fn(ctx, &payload)
	}
}

// NewExecutorRouter routes the plan domain's inbound events to the saga and its guards.
func NewExecutorRouter(
	executions *ExecutionService,
	fills *OrderFilledHandler,
	balances *BalanceHandler,
	logger *slog.Logger,
) *EventRouter {
	return NewEventRouter(logger).
		On(model.EventTypeExecutePlan, Decoded(func(ctx context.Context, evt *model.PlanEvent) error {
			_, err := executions.HandleExecutePlan(ctx, evt)

			return err
		})).
		On(model.EventTypeOrderFilled, Decoded(func(ctx context.Context, evt *model.OrderFilledEvent) error {
			_, err := fills.Handle(ctx, evt)

			return err
		})).
		On(model.EventTypeCashBalanceUpdated, Decoded(func(ctx context.Context, evt *model.CashBalanceUpdatedEvent) error {
			_, err := balances.Handle(ctx, evt)

			return err
		}))
}

// NewTraderRouter routes order commands to the trading engine.
func NewTraderRouter(engine *TradingEngine, logger *slog.Logger) *EventRouter {
	return NewEventRouter(logger).
		On(model.EventTypeOrderCommand, Decoded(func(ctx context.Context, evt *model.OrderCommandEvent) error {
			_, err := engine.HandleOrderCommand(ctx, evt)

			return err
		}))
}
