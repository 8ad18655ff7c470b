package service

import (
	"context"
	"strconv"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karolcichosz/investment-plans-design/internal/balance"
	"github.com/karolcichosz/investment-plans-design/internal/bus"
	"github.com/karolcichosz/investment-plans-design/internal/event"
	"github.com/karolcichosz/investment-plans-design/internal/model"
)

// flowFixture wires every service to one relay and feeds sent messages back to the consumers.
type flowFixture struct {
	*sagaFixture
	sender   *fakeSender
	relay    *Relay
	cash     *CashService
	executor *EventRouter
	trader   *EventRouter
	seen     int
}

func newFlowFixture() *flowFixture {
	saga := newSagaFixture()
	sender := &fakeSender{}

	relay := NewRelay(fakeOutboxRepo{saga.db}, newTestPublisher(saga.db, sender, 0), testRelayOptions(), nil, discardLogger())
	relay.now = saga.clock.Now

	store := balance.NewMemoryStore(map[string]decimal.Decimal{demoUser: decimal.RequireFromString("50000")}, saga.clock.Now)
	cash := NewCashService(store, saga.db, NewOutboxWriter(fakeOutboxRepo{saga.db}), discardLogger())
	cash.now = saga.clock.Now

	return &flowFixture{
		sagaFixture: saga,
		sender:      sender,
		relay:       relay,
		cash:        cash,
		executor:    NewExecutorRouter(saga.exec, saga.fills, saga.balances, discardLogger()),
		trader:      NewTraderRouter(newTestTradingEngine(saga.db, 0), discardLogger()),
	}
}

// pump relays due records and delivers them until a cycle publishes nothing.
func (f *flowFixture) pump(t *testing.T) {
	t.Helper()

	ctx := context.Background()

	for range 10 {
		res, err := f.relay.ProcessDueEvents(ctx)
		require.NoError(t, err)

		if res.Published == 0 {
			return
		}

		msgs := f.sender.messages()[f.seen:]
		f.seen += len(msgs)

		for i, m := range msgs {
			d := bus.Delivery{ID: strconv.Itoa(f.seen+i) + "-0", Stream: m.Topic, Key: m.Key, EventType: m.EventType, Body: m.Body}

			switch m.Topic {
			case event.TopicOrderCommands:
				require.NoError(t, f.trader.Handle(ctx, d))
			case event.TopicPlanCommands, event.TopicOrderFilled, event.TopicCashEvents:
				require.NoError(t, f.executor.Handle(ctx, d))
			}
		}
	}

	t.Fatal("flow did not settle")
}

func TestFlow_PlanExecutesEndToEnd(t *testing.T) {
	f := newFlowFixture()

	require.NoError(t, f.cash.PublishInitialBalances(context.Background()))

	plan, err := f.plans.CreatePlan(context.Background(), demoUser, demoPlanParams())
	require.NoError(t, err)

	f.pump(t)

	execs := f.db.executionsOf(plan.ID)
	require.Len(t, execs, 2)
	assert.Equal(t, model.ExecutionStatusCompleted, execs[0].Status)
	assert.Equal(t, model.ExecutionStatusPending, execs[1].Status)

	orders := f.db.ordersOf(execs[0].ID)
	require.Len(t, orders, 2)
	for _, o := range orders {
		assert.Equal(t, model.OrderStatusFilled, o.Status)
	}

	assert.Equal(t, "47000", f.db.balance(demoUser).String())
	assert.Len(t, f.db.eventsOfType(model.EventTypeOrderFilled), 2)

	topics := map[string]int{}
	for _, m := range f.sender.messages() {
		topics[m.Topic]++
	}
	assert.Equal(t, 1, topics[event.TopicPlanEvents])
	assert.Equal(t, 1, topics[event.TopicPlanCommands])
	assert.Equal(t, 1, topics[event.TopicCashEvents])
	assert.Equal(t, 2, topics[event.TopicOrderCommands])
	assert.Equal(t, 2, topics[event.TopicOrderFilled])

	// The next occurrence waits for its schedule.
	report, err := f.relay.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, HealthReport{}, report)
}

func TestFlow_RedeliveryChangesNothing(t *testing.T) {
	f := newFlowFixture()

	require.NoError(t, f.cash.PublishInitialBalances(context.Background()))

	plan, err := f.plans.CreatePlan(context.Background(), demoUser, demoPlanParams())
	require.NoError(t, err)

	f.pump(t)

	// Every message is delivered a second time.
	for i, m := range f.sender.messages() {
		d := bus.Delivery{ID: strconv.Itoa(i) + "-1", Stream: m.Topic, Key: m.Key, EventType: m.EventType, Body: m.Body}

		switch m.Topic {
		case event.TopicOrderCommands:
			require.NoError(t, f.trader.Handle(context.Background(), d))
		case event.TopicPlanCommands, event.TopicOrderFilled, event.TopicCashEvents:
			require.NoError(t, f.executor.Handle(context.Background(), d))
		}
	}

	assert.Len(t, f.db.executionsOf(plan.ID), 2)
	assert.Len(t, f.db.eventsOfType(model.EventTypeOrderCommand), 2)
	assert.Len(t, f.db.eventsOfType(model.EventTypeOrderFilled), 2)
	assert.Equal(t, "47000", f.db.balance(demoUser).String())
}
