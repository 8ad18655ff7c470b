package service

import (
	"context"
	"testing"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karolcichosz/investment-plans-design/internal/model"
)

func TestPlanService_CreatePlan(t *testing.T) {
	f := newSagaFixture()

	plan, err := f.plans.CreatePlan(context.Background(), demoUser, demoPlanParams())
	require.NoError(t, err)

	assert.Equal(t, demoUser, plan.UserID)
	assert.Equal(t, model.PlanStatusActive, plan.Status)
	assert.Equal(t, "3000", plan.TotalAmount.String())

	execs := f.db.executionsOf(plan.ID)
	require.Len(t, execs, 1)
	assert.Equal(t, model.ExecutionStatusPending, execs[0].Status)
	assert.Equal(t, f.clock.Now(), execs[0].TriggeredAt)

	created := f.db.eventsOfType(model.EventTypePlanCreated)
	require.Len(t, created, 1)
	assert.Equal(t, plan.ID.String(), created[0].AggregateID)
	assert.Equal(t, model.AggregateTypePlan, created[0].AggregateType)

	var payload model.PlanEvent
	require.NoError(t, json.Unmarshal(created[0].Payload, &payload))
	assert.Equal(t, plan.ID, payload.PlanID)
	require.NotNil(t, payload.ExecutionID)
	assert.Equal(t, execs[0].ID, *payload.ExecutionID)
	assert.Len(t, payload.Investments, 2)

	triggers := f.db.eventsOfType(model.EventTypeExecutePlan)
	require.Len(t, triggers, 1)
	require.NotNil(t, triggers[0].ScheduledFor)
	assert.Equal(t, f.clock.Now(), *triggers[0].ScheduledFor)
}

func TestPlanService_CreatePlanIsAtomic(t *testing.T) {
	f := newSagaFixture()
	f.db.failAppend = func(p *model.CreateOutboxEventParams) error {
		if p.EventType == model.EventTypeExecutePlan {
			return errBusDown
		}

		return nil
	}

	_, err := f.plans.CreatePlan(context.Background(), demoUser, demoPlanParams())
	require.ErrorIs(t, err, errBusDown)

	assert.Empty(t, f.db.plans)
	assert.Empty(t, f.db.execs)
	assert.Empty(t, f.db.outbox)
}

func TestPlanService_CreatePlanValidation(t *testing.T) {
	f := newSagaFixture()

	params := demoPlanParams()
	params.Name = " "

	_, err := f.plans.CreatePlan(context.Background(), demoUser, params)
	require.ErrorIs(t, err, model.ErrInvalidPlanName)

	_, err = f.plans.CreatePlan(context.Background(), "", demoPlanParams())
	require.ErrorIs(t, err, model.ErrUserIDRequired)

	assert.Empty(t, f.db.plans)
	assert.Empty(t, f.db.outbox)
}

func TestPlanService_GetPlan(t *testing.T) {
	f := newSagaFixture()
	f.db.setBalance(demoUser, "50000", f.clock.Now())
	plan, evt := f.createPlan(t)

	_, err := f.exec.HandleExecutePlan(context.Background(), evt)
	require.NoError(t, err)

	details, err := f.plans.GetPlan(context.Background(), demoUser, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, plan.ID, details.ID)
	require.Len(t, details.Executions, 2)
	assert.Equal(t, model.ExecutionStatusCompleted, details.Executions[0].Status)
	assert.Len(t, details.Executions[0].Orders, 2)
	assert.Empty(t, details.Executions[1].Orders)

	_, err = f.plans.GetPlan(context.Background(), "someone_else", plan.ID)
	require.ErrorIs(t, err, model.ErrPlanAccessDenied)

	_, err = f.plans.GetPlan(context.Background(), demoUser, uuid.New())
	require.ErrorIs(t, err, model.ErrPlanNotFound)
}

func TestPlanService_ListPlans(t *testing.T) {
	f := newSagaFixture()

	_, err := f.plans.CreatePlan(context.Background(), demoUser, demoPlanParams())
	require.NoError(t, err)
	_, err = f.plans.CreatePlan(context.Background(), "other_user", demoPlanParams())
	require.NoError(t, err)

	plans, err := f.plans.ListPlans(context.Background(), demoUser)
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, demoUser, plans[0].UserID)
	assert.Len(t, plans[0].Executions, 1)
}
