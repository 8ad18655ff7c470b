package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/karolcichosz/investment-plans-design/internal/model"
	"github.com/karolcichosz/investment-plans-design/internal/repository"
	"github.com/karolcichosz/investment-plans-design/internal/telemetry"
)

// ExecutionOutcome describes how an ExecutePlan message was handled.
type ExecutionOutcome string

const (
	OutcomeCompleted                 ExecutionOutcome = "COMPLETED"
	OutcomeDuplicate                 ExecutionOutcome = "DUPLICATE"
	OutcomeRejectedInsufficientFunds ExecutionOutcome = model.OutcomeRejectedInsufficientFunds
)

// ExecutionOptions configures the saga step.
type ExecutionOptions struct {
	RecurrenceMonths    int
	BalanceMaxStaleness time.Duration
}

// ExecutionService runs the ExecutePlan saga step.
type ExecutionService struct {
	transactionMgr repository.TransactionManager
	executionRepo  repository.ExecutionRepository
	orderRepo      repository.OrderRepository
	balanceRepo    repository.CashBalanceRepository
	outbox         *OutboxWriter
	opts           ExecutionOptions
	metrics        *telemetry.SagaMetrics
	logger         *slog.Logger
	now            func() time.Time
}

// NewExecutionService creates a new ExecutionService. metrics may be nil.
func NewExecutionService(
	transactionMgr repository.TransactionManager,
	executionRepo repository.ExecutionRepository,
	orderRepo repository.OrderRepository,
	balanceRepo repository.CashBalanceRepository,
	outbox *OutboxWriter,
	opts ExecutionOptions,
	metrics *telemetry.SagaMetrics,
	logger *slog.Logger,
) *ExecutionService {
	if opts.RecurrenceMonths <= 0 {
		opts.RecurrenceMonths = 1
	}

	return &ExecutionService{
		transactionMgr: transactionMgr,
		executionRepo:  executionRepo,
		orderRepo:      orderRepo,
		balanceRepo:    balanceRepo,
		outbox:         outbox,
		opts:           opts,
		metrics:        metrics,
		logger:         logger,
		now:            time.Now,
	}
}

// HandleExecutePlan processes one ExecutePlan event in a single transaction:
// guard, funds check, orders through the outbox, completion, balance deduction
// and scheduling of the next occurrence. Any error rolls everything back and the
// message stays redeliverable.
func (s *ExecutionService) HandleExecutePlan(ctx context.Context, evt *model.PlanEvent) (ExecutionOutcome, error) {
	if err := evt.Validate(); err != nil {
		return "", err
	}

	var outcome ExecutionOutcome

	err := s.transactionMgr.WithTransaction(ctx, func(ctx context.Context) error {
		var err error
		outcome, err = s.execute(ctx, evt)

		return err
	})
	if err != nil {
		s.metrics.Outcome(ctx, model.EventTypeExecutePlan, "error")

		return "", fmt.Errorf("execute plan %s: %w", evt.PlanID, err)
	}

	s.metrics.Outcome(ctx, model.EventTypeExecutePlan, string(outcome))

	return outcome, nil
}

func (s *ExecutionService) execute(ctx context.Context, evt *model.PlanEvent) (ExecutionOutcome, error) {
	exec, done, err := s.guard(ctx, evt)
	if err != nil {
		return "", err
	}

	if done {
		s.logger.Info("execution already completed, discarding event",
			slog.String("plan_id", evt.PlanID.String()),
		)

		return OutcomeDuplicate, nil
	}

	total := evt.Total()

	available, err := s.availableBalance(ctx, evt.UserID)
	if err != nil {
		return "", err
	}

	if available.LessThan(total) {
		return OutcomeRejectedInsufficientFunds, s.reject(ctx, evt, total, available)
	}

	if exec == nil {
		exec, err = s.executionRepo.FindOpenForUpdate(ctx, evt.PlanID)
		if err != nil {
			return "", err
		}
	}

	if exec.Status == model.ExecutionStatusCompleted {
		return OutcomeDuplicate, nil
	}

	exec.Status = model.ExecutionStatusInProgress
	if err := s.executionRepo.Save(ctx, exec); err != nil {
		return "", fmt.Errorf("failed to mark execution in progress: %w", err)
	}

	if err := s.placeOrders(ctx, exec, evt.Investments); err != nil {
		return "", err
	}

	now := s.now()

	exec.Complete(total, now)
	if err := s.executionRepo.Save(ctx, exec); err != nil {
		return "", fmt.Errorf("failed to complete execution: %w", err)
	}

	if err := s.balanceRepo.Deduct(ctx, evt.UserID, total, now); err != nil {
		return "", fmt.Errorf("failed to deduct balance: %w", err)
	}

	next, err := s.scheduleNext(ctx, evt, now)
	if err != nil {
		return "", err
	}

	s.logger.Info("plan executed",
		slog.String("plan_id", evt.PlanID.String()),
		slog.String("execution_id", exec.ID.String()),
		slog.String("total", total.String()),
		slog.String("next_execution_id", next.ID.String()),
		slog.Time("next_execution_at", next.TriggeredAt),
	)

	return OutcomeCompleted, nil
}

// guard loads and locks the execution named by the event. Without an execution id
// the event counts as handled once any execution of the plan completed.
func (s *ExecutionService) guard(ctx context.Context, evt *model.PlanEvent) (*model.PlanExecution, bool, error) {
	if evt.ExecutionID == nil {
		completed, err := s.executionRepo.HasStatus(ctx, evt.PlanID, model.ExecutionStatusCompleted)
		if err != nil {
			return nil, false, err
		}

		return nil, completed, nil
	}

	exec, err := s.executionRepo.GetForUpdate(ctx, *evt.ExecutionID)
	if err != nil {
		return nil, false, err
	}

	if exec.PlanID != evt.PlanID {
		return nil, false, fmt.Errorf("%w: execution %s belongs to plan %s", model.ErrMalformedPayload, exec.ID, exec.PlanID)
	}

	return exec, exec.Status == model.ExecutionStatusCompleted, nil
}

func (s *ExecutionService) availableBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	// Held until commit so concurrent executions of the same user check and debit in turn.
	bal, err := s.balanceRepo.GetForUpdate(ctx, userID)
	if errors.Is(err, model.ErrBalanceNotFound) {
		return decimal.Zero, nil
	}

	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read cash balance: %w", err)
	}

	if bal.Stale(s.opts.BalanceMaxStaleness, s.now()) {
		s.logger.Warn("replicated cash balance is stale",
			slog.String("user_id", userID),
			slog.Time("as_of", bal.AsOf),
		)
	}

	return bal.Balance, nil
}

func (s *ExecutionService) reject(ctx context.Context, evt *model.PlanEvent, required, available decimal.Decimal) error {
	s.logger.Warn("insufficient funds, execution rejected",
		slog.String("plan_id", evt.PlanID.String()),
		slog.String("user_id", evt.UserID),
		slog.String("required", required.String()),
		slog.String("available", available.String()),
	)

	_, err := s.outbox.Append(ctx, AppendParams{
		AggregateID:   evt.PlanID.String(),
		AggregateType: model.AggregateTypePlan,
		EventType:     model.EventTypeExecutionRejected,
		Payload: model.ExecutionRejectedEvent{
			PlanID:      evt.PlanID,
			ExecutionID: evt.ExecutionID,
			UserID:      evt.UserID,
			Outcome:     model.OutcomeRejectedInsufficientFunds,
			Required:    required,
			Available:   available,
			Timestamp:   s.now(),
		},
	})

	return err
}

// placeOrders records one order per investment line. Order ids are derived from the
// execution so a redelivery finds the orders it already created and emits nothing twice.
func (s *ExecutionService) placeOrders(ctx context.Context, exec *model.PlanExecution, investments []model.Investment) error {
	for i, inv := range investments {
		order := model.NewOrderCommand(exec, inv, i)

		inserted, err := s.orderRepo.CreateIfAbsent(ctx, order)
		if err != nil {
			return fmt.Errorf("failed to create order for %s: %w", inv.AssetID, err)
		}

		if !inserted {
			continue
		}

		if _, err := s.outbox.Append(ctx, AppendParams{
			AggregateID:   order.ID.String(),
			AggregateType: model.AggregateTypeOrder,
			EventType:     model.EventTypeOrderCommand,
			Payload:       model.NewOrderCommandEvent(order),
		}); err != nil {
			return err
		}
	}

	return nil
}

// scheduleNext creates the next pending execution and the ExecutePlan record that triggers it.
func (s *ExecutionService) scheduleNext(ctx context.Context, evt *model.PlanEvent, now time.Time) (*model.PlanExecution, error) {
	next := model.NewPlanExecution(evt.PlanID, evt.UserID, now.AddDate(0, s.opts.RecurrenceMonths, 0))
	if err := s.executionRepo.Create(ctx, next); err != nil {
		return nil, fmt.Errorf("failed to create next execution: %w", err)
	}

	payload := *evt
	payload.ExecutionID = &next.ID
	payload.Timestamp = now

	if _, err := s.outbox.Append(ctx, AppendParams{
		AggregateID:   evt.PlanID.String(),
		AggregateType: model.AggregateTypePlan,
		EventType:     model.EventTypeExecutePlan,
		Payload:       payload,
		ScheduledFor:  &next.TriggeredAt,
	}); err != nil {
		return nil, err
	}

	return next, nil
}
