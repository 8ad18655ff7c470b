package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/karolcichosz/investment-plans-design/internal/model"
	"github.com/karolcichosz/investment-plans-design/internal/repository"
)

// PlanDetails is a plan with its executions and their orders.
type PlanDetails struct {
	*model.Plan
	Executions []*model.PlanExecution `json:"executions"`
}

// PlanService creates and queries plans.
type PlanService struct {
	transactionMgr repository.TransactionManager
	planRepo       repository.PlanRepository
	executionRepo  repository.ExecutionRepository
	orderRepo      repository.OrderRepository
	outbox         *OutboxWriter
	logger         *slog.Logger
	now            func() time.Time
}

// NewPlanService creates a new PlanService.
func NewPlanService(
	transactionMgr repository.TransactionManager,
	planRepo repository.PlanRepository,
	executionRepo repository.ExecutionRepository,
	orderRepo repository.OrderRepository,
	outbox *OutboxWriter,
	logger *slog.Logger,
) *PlanService {
	return &PlanService{
		transactionMgr: transactionMgr,
		planRepo:       planRepo,
		executionRepo:  executionRepo,
		orderRepo:      orderRepo,
		outbox:         outbox,
		logger:         logger,
		now:            time.Now,
	}
}

// CreatePlan stores the plan, its first pending execution and the PlanCreated and
// ExecutePlan outbox records in one transaction.
func (s *PlanService) CreatePlan(ctx context.Context, userID string, params *model.CreatePlanParams) (*model.Plan, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, model.ErrUserIDRequired
	}

	if err := params.Validate(); err != nil {
		return nil, err
	}

	now := s.now()

	plan := &model.Plan{
		ID:           uuid.New(),
		UserID:       userID,
		Name:         strings.TrimSpace(params.Name),
		ExecutionDay: params.ExecutionDay,
		Status:       model.PlanStatusActive,
		TotalAmount:  model.TotalInvestment(params.Investments),
		Investments:  params.Investments,
		CreatedAt:    now,
	}

	exec := model.NewPlanExecution(plan.ID, userID, now)

	err := s.transactionMgr.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.planRepo.Create(ctx, plan); err != nil {
			return fmt.Errorf("failed to create plan: %w", err)
		}

		if err := s.executionRepo.Create(ctx, exec); err != nil {
			return fmt.Errorf("failed to create execution: %w", err)
		}

		payload := model.NewPlanEvent(plan, &exec.ID, now)

		if _, err := s.outbox.Append(ctx, AppendParams{
			AggregateID:   plan.ID.String(),
			AggregateType: model.AggregateTypePlan,
			EventType:     model.EventTypePlanCreated,
			Payload:       payload,
		}); err != nil {
			return err
		}

		_, err := s.outbox.Append(ctx, AppendParams{
			AggregateID:   plan.ID.String(),
			AggregateType: model.AggregateTypePlan,
			EventType:     model.EventTypeExecutePlan,
			Payload:       payload,
			ScheduledFor:  &now,
		})

		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("plan created",
		slog.String("plan_id", plan.ID.String()),
		slog.String("user_id", userID),
		slog.String("total_amount", plan.TotalAmount.String()),
	)

	return plan, nil
}

// GetPlan returns a plan owned by userID.
func (s *PlanService) GetPlan(ctx context.Context, userID string, planID uuid.UUID) (*PlanDetails, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, model.ErrUserIDRequired
	}

	plan, err := s.planRepo.GetByID(ctx, planID)
	if err != nil {
		return nil, err
	}

	if plan.UserID != userID {
		return nil, model.ErrPlanAccessDenied
	}

	return s.details(ctx, plan)
}

// ListPlans returns the plans owned by userID.
func (s *PlanService) ListPlans(ctx context.Context, userID string) ([]*PlanDetails, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, model.ErrUserIDRequired
	}

	plans, err := s.planRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]*PlanDetails, 0, len(plans))

	for _, plan := range plans {
		d, err := s.details(ctx, plan)
		if err != nil {
			return nil, err
		}

		out = append(out, d)
	}

	return out, nil
}

func (s *PlanService) details(ctx context.Context, plan *model.Plan) (*PlanDetails, error) {
	execs, err := s.executionRepo.ListByPlan(ctx, plan.ID)
	if err != nil {
		return nil, err
	}

	for _, exec := range execs {
		orders, err := s.orderRepo.ListByExecution(ctx, exec.ID)
		if err != nil {
			return nil, err
		}

		exec.Orders = make([]model.OrderCommand, 0, len(orders))
		for _, o := range orders {
			exec.Orders = append(exec.Orders, *o)
		}
	}

	return &PlanDetails{Plan: plan, Executions: execs}, nil
}
