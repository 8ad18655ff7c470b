package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/karolcichosz/investment-plans-design/internal/bus"
	"github.com/karolcichosz/investment-plans-design/internal/model"
	"github.com/karolcichosz/investment-plans-design/internal/repository"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeTxKey struct{}

// fakeDB is an in-memory store whose transactions restore a snapshot on error.
type fakeDB struct {
	mu   sync.Mutex
	txMu sync.Mutex

	clock    *fakeClock
	outbox   []*model.OutboxEvent
	nextID   int64
	plans    map[uuid.UUID]model.Plan
	execs    map[uuid.UUID]model.PlanExecution
	orders   map[uuid.UUID]model.OrderCommand
	balances map[string]model.CashBalance

	failAppend func(p *model.CreateOutboxEventParams) error
	failMark   error
}

func newFakeDB(clock *fakeClock) *fakeDB {
	return &fakeDB{
		clock:    clock,
		plans:    map[uuid.UUID]model.Plan{},
		execs:    map[uuid.UUID]model.PlanExecution{},
		orders:   map[uuid.UUID]model.OrderCommand{},
		balances: map[string]model.CashBalance{},
	}
}

type fakeSnapshot struct {
	outbox   []model.OutboxEvent
	nextID   int64
	plans    map[uuid.UUID]model.Plan
	execs    map[uuid.UUID]model.PlanExecution
	orders   map[uuid.UUID]model.OrderCommand
	balances map[string]model.CashBalance
}

func (db *fakeDB) snapshot() fakeSnapshot {
	db.mu.Lock()
	defer db.mu.Unlock()

	s := fakeSnapshot{
		nextID:   db.nextID,
		plans:    map[uuid.UUID]model.Plan{},
		execs:    map[uuid.UUID]model.PlanExecution{},
		orders:   map[uuid.UUID]model.OrderCommand{},
		balances: map[string]model.CashBalance{},
	}
	for _, e := range db.outbox {
		s.outbox = append(s.outbox, *e)
	}
	for k, v := range db.plans {
		s.plans[k] = v
	}
	for k, v := range db.execs {
		s.execs[k] = v
	}
	for k, v := range db.orders {
		s.orders[k] = v
	}
	for k, v := range db.balances {
		s.balances[k] = v
	}

	return s
}

func (db *fakeDB) restore(s fakeSnapshot) {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.outbox = nil
	for i := range s.outbox {
		e := s.outbox[i]
		db.outbox = append(db.outbox, &e)
	}
	db.nextID = s.nextID
	db.plans = s.plans
	db.execs = s.execs
	db.orders = s.orders
	db.balances = s.balances
}

// WithTransaction implements repository.TransactionManager.
func (db *fakeDB) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(fakeTxKey{}) != nil {
		return fn(ctx)
	}

	db.txMu.Lock()
	defer db.txMu.Unlock()

	snap := db.snapshot()
	if err := fn(context.WithValue(ctx, fakeTxKey{}, true)); err != nil {
		db.restore(snap)

		return err
	}

	return nil
}

func (db *fakeDB) setBalance(userID string, amount string, asOf time.Time) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.balances[userID] = model.CashBalance{UserID: userID, Balance: decimal.RequireFromString(amount), AsOf: asOf, UpdatedAt: asOf}
}

func (db *fakeDB) balance(userID string) decimal.Decimal {
	db.mu.Lock()
	defer db.mu.Unlock()

	return db.balances[userID].Balance
}

func (db *fakeDB) eventsOfType(eventType string) []model.OutboxEvent {
	db.mu.Lock()
	defer db.mu.Unlock()

	var out []model.OutboxEvent
	for _, e := range db.outbox {
		if e.EventType == eventType {
			out = append(out, *e)
		}
	}

	return out
}

func (db *fakeDB) record(id int64) model.OutboxEvent {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, e := range db.outbox {
		if e.ID == id {
			return *e
		}
	}

	return model.OutboxEvent{}
}

func (db *fakeDB) executionsOf(planID uuid.UUID) []model.PlanExecution {
	db.mu.Lock()
	defer db.mu.Unlock()

	var out []model.PlanExecution
	for _, e := range db.execs {
		if e.PlanID == planID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TriggeredAt.Before(out[j].TriggeredAt) })

	return out
}

func (db *fakeDB) ordersOf(executionID uuid.UUID) []model.OrderCommand {
	db.mu.Lock()
	defer db.mu.Unlock()

	var out []model.OrderCommand
	for _, o := range db.orders {
		if o.ExecutionID == executionID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })

	return out
}

// fakeOutboxRepo mirrors the SQL claim rules of the PostgreSQL implementation.
type fakeOutboxRepo struct{ db *fakeDB }

func (r fakeOutboxRepo) CreateEvent(ctx context.Context, p *model.CreateOutboxEventParams) (*model.OutboxEvent, error) {
	if ctx.Value(fakeTxKey{}) == nil {
		return nil, repository.ErrTransactionRequired
	}

	if r.db.failAppend != nil {
		if err := r.db.failAppend(p); err != nil {
			return nil, err
		}
	}

	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	r.db.nextID++
	e := &model.OutboxEvent{
		ID:            r.db.nextID,
		AggregateID:   p.AggregateID,
		AggregateType: p.AggregateType,
		EventType:     p.EventType,
		Payload:       p.Payload,
		ScheduledFor:  p.ScheduledFor,
		CreatedAt:     r.db.clock.Now(),
	}
	r.db.outbox = append(r.db.outbox, e)
	cp := *e

	return &cp, nil
}

func (r fakeOutboxRepo) ClaimDueEvents(_ context.Context, p *model.ClaimOutboxEventsParams) ([]*model.OutboxEvent, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	types := map[string]bool{}
	for _, t := range p.EventTypes {
		types[t] = true
	}

	live := func(e *model.OutboxEvent) bool {
		return e.ClaimedAt != nil && !e.ClaimedAt.Before(p.ClaimExpiredBefore)
	}

	var picked []*model.OutboxEvent
	for i, e := range r.db.outbox {
		if len(picked) >= p.Limit {
			break
		}
		if len(types) > 0 && !types[e.EventType] {
			continue
		}
		if !e.IsDue(p.Now) || live(e) {
			continue
		}

		blocked := false
		for _, prev := range r.db.outbox[:i] {
			if prev.OrderingKey() != e.OrderingKey() || prev.Published || prev.DeadLettered {
				continue
			}
			if prev.ScheduledFor != nil && prev.ScheduledFor.After(p.Now) {
				continue
			}
			if (prev.NextAttemptAt != nil && prev.NextAttemptAt.After(p.Now)) || live(prev) {
				blocked = true
				break
			}
		}
		if blocked {
			continue
		}

		picked = append(picked, e)
	}

	// Claims are stamped after selection, as one statement would.
	var out []*model.OutboxEvent
	for _, e := range picked {
		now := p.Now
		e.ClaimedBy = p.Owner
		e.ClaimedAt = &now
		cp := *e
		out = append(out, &cp)
	}

	return out, nil
}

func (r fakeOutboxRepo) find(id int64) *model.OutboxEvent {
	for _, e := range r.db.outbox {
		if e.ID == id {
			return e
		}
	}

	return nil
}

func (r fakeOutboxRepo) MarkAsPublished(_ context.Context, id int64, at time.Time) (bool, error) {
	if r.db.failMark != nil {
		return false, r.db.failMark
	}

	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	e := r.find(id)
	if e == nil || e.Published {
		return false, nil
	}
	e.Published = true
	e.PublishedAt = &at
	e.ClaimedBy = ""
	e.ClaimedAt = nil

	return true, nil
}

func (r fakeOutboxRepo) MarkAsFailed(_ context.Context, p *model.FailOutboxEventParams) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	e := r.find(p.ID)
	if e == nil || e.Published || e.ClaimedBy != p.Owner {
		return false, nil
	}
	e.RetryCount++
	e.LastError = p.Error
	next := p.NextAttemptAt
	e.NextAttemptAt = &next
	e.DeadLettered = p.MaxAttempts > 0 && e.RetryCount >= p.MaxAttempts
	e.ClaimedBy = ""
	e.ClaimedAt = nil

	return e.DeadLettered, nil
}

func (r fakeOutboxRepo) RenewClaim(_ context.Context, id int64, owner string, at time.Time) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	e := r.find(id)
	if e == nil || e.Published || e.ClaimedBy != owner {
		return false, nil
	}
	e.ClaimedAt = &at

	return true, nil
}

func (r fakeOutboxRepo) ReleaseClaim(_ context.Context, id int64, owner string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if e := r.find(id); e != nil && e.ClaimedBy == owner {
		e.ClaimedBy = ""
		e.ClaimedAt = nil
	}

	return nil
}

func (r fakeOutboxRepo) CountUnpublishedDue(_ context.Context, now time.Time) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	var n int64
	for _, e := range r.db.outbox {
		if !e.Published && !e.DeadLettered && (e.ScheduledFor == nil || !e.ScheduledFor.After(now)) {
			n++
		}
	}

	return n, nil
}

func (r fakeOutboxRepo) CountDeadLettered(context.Context) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	var n int64
	for _, e := range r.db.outbox {
		if e.DeadLettered && !e.Published {
			n++
		}
	}

	return n, nil
}

func (r fakeOutboxRepo) ExistsForAggregate(_ context.Context, aggregateID, eventType string) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	for _, e := range r.db.outbox {
		if e.AggregateID == aggregateID && e.EventType == eventType {
			return true, nil
		}
	}

	return false, nil
}

type fakePlanRepo struct{ db *fakeDB }

func (r fakePlanRepo) Create(_ context.Context, plan *model.Plan) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.plans[plan.ID] = *plan

	return nil
}

func (r fakePlanRepo) GetByID(_ context.Context, id uuid.UUID) (*model.Plan, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	p, ok := r.db.plans[id]
	if !ok {
		return nil, model.ErrPlanNotFound
	}

	return &p, nil
}

func (r fakePlanRepo) ListByUser(_ context.Context, userID string) ([]*model.Plan, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	var out []*model.Plan
	for _, p := range r.db.plans {
		if p.UserID == userID {
			cp := p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out, nil
}

type fakeExecutionRepo struct{ db *fakeDB }

func (r fakeExecutionRepo) Create(_ context.Context, exec *model.PlanExecution) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	exec.CreatedAt = r.db.clock.Now()
	r.db.execs[exec.ID] = *exec

	return nil
}

func (r fakeExecutionRepo) Save(_ context.Context, exec *model.PlanExecution) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if _, ok := r.db.execs[exec.ID]; !ok {
		return model.ErrExecutionNotFound
	}
	r.db.execs[exec.ID] = *exec

	return nil
}

func (r fakeExecutionRepo) GetForUpdate(_ context.Context, id uuid.UUID) (*model.PlanExecution, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	e, ok := r.db.execs[id]
	if !ok {
		return nil, model.ErrExecutionNotFound
	}

	return &e, nil
}

func (r fakeExecutionRepo) FindOpenForUpdate(_ context.Context, planID uuid.UUID) (*model.PlanExecution, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	var found *model.PlanExecution
	for _, e := range r.db.execs {
		if e.PlanID != planID || !e.Status.IsOpen() {
			continue
		}
		if found == nil || e.TriggeredAt.Before(found.TriggeredAt) {
			cp := e
			found = &cp
		}
	}
	if found == nil {
		return nil, model.ErrExecutionNotFound
	}

	return found, nil
}

func (r fakeExecutionRepo) HasStatus(_ context.Context, planID uuid.UUID, status model.ExecutionStatus) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	for _, e := range r.db.execs {
		if e.PlanID == planID && e.Status == status {
			return true, nil
		}
	}

	return false, nil
}

func (r fakeExecutionRepo) ListByPlan(_ context.Context, planID uuid.UUID) ([]*model.PlanExecution, error) {
	var out []*model.PlanExecution
	for _, e := range r.db.executionsOf(planID) {
		cp := e
		out = append(out, &cp)
	}

	return out, nil
}

type fakeOrderRepo struct{ db *fakeDB }

func (r fakeOrderRepo) CreateIfAbsent(_ context.Context, order *model.OrderCommand) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if _, ok := r.db.orders[order.ID]; ok {
		return false, nil
	}
	order.CreatedAt = r.db.clock.Now()
	r.db.orders[order.ID] = *order

	return true, nil
}

func (r fakeOrderRepo) GetByID(_ context.Context, id uuid.UUID) (*model.OrderCommand, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	o, ok := r.db.orders[id]
	if !ok {
		return nil, model.ErrOrderNotFound
	}

	return &o, nil
}

func (r fakeOrderRepo) MarkFilled(_ context.Context, id uuid.UUID, filledAt time.Time) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	o, ok := r.db.orders[id]
	if !ok || o.Status != model.OrderStatusPending {
		return false, nil
	}
	o.Status = model.OrderStatusFilled
	o.FilledAt = &filledAt
	r.db.orders[id] = o

	return true, nil
}

func (r fakeOrderRepo) ListByExecution(_ context.Context, executionID uuid.UUID) ([]*model.OrderCommand, error) {
	var out []*model.OrderCommand
	for _, o := range r.db.ordersOf(executionID) {
		cp := o
		out = append(out, &cp)
	}

	return out, nil
}

type fakeBalanceRepo struct{ db *fakeDB }

func (r fakeBalanceRepo) Get(_ context.Context, userID string) (*model.CashBalance, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	b, ok := r.db.balances[userID]
	if !ok {
		return nil, model.ErrBalanceNotFound
	}

	return &b, nil
}

// GetForUpdate needs no lock; fakeDB transactions never overlap.
func (r fakeBalanceRepo) GetForUpdate(ctx context.Context, userID string) (*model.CashBalance, error) {
	return r.Get(ctx, userID)
}

func (r fakeBalanceRepo) ApplyIfNewer(_ context.Context, userID string, balance decimal.Decimal, asOf time.Time) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if b, ok := r.db.balances[userID]; ok && !b.AsOf.Before(asOf) {
		return false, nil
	}
	r.db.balances[userID] = model.CashBalance{UserID: userID, Balance: balance, AsOf: asOf, UpdatedAt: r.db.clock.Now()}

	return true, nil
}

func (r fakeBalanceRepo) Deduct(_ context.Context, userID string, amount decimal.Decimal, at time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	b, ok := r.db.balances[userID]
	if !ok || b.Balance.LessThan(amount) {
		return model.ErrInsufficientFunds
	}
	b.Balance = b.Balance.Sub(amount)
	b.UpdatedAt = at
	r.db.balances[userID] = b

	return nil
}

// fakeSender records sent messages. fail decides per message whether the send fails.
type fakeSender struct {
	mu   sync.Mutex
	sent []bus.Message
	fail func(msg bus.Message) error
}

func (s *fakeSender) Send(ctx context.Context, msg bus.Message) (string, error) {
	if s.fail != nil {
		if err := s.fail(msg); err != nil {
			return "", err
		}
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)

	return "0-1", nil
}

func (s *fakeSender) messages() []bus.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]bus.Message(nil), s.sent...)
}

var errBusDown = errors.New("bus unavailable")
