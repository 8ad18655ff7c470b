package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"github.com/karolcichosz/investment-plans-design/internal/bus"
	"github.com/karolcichosz/investment-plans-design/internal/config"
	"github.com/karolcichosz/investment-plans-design/internal/model"
	"github.com/karolcichosz/investment-plans-design/internal/repository"
	"github.com/karolcichosz/investment-plans-design/internal/telemetry"
)

const maxErrorLength = 1024

// RelayOptions configures a Relay.
type RelayOptions struct {
	InstanceID     string
	EventTypes     []string
	BatchSize      int
	PollInterval   time.Duration
	InitialDelay   time.Duration
	MaxAttempts    int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	BackoffJitter  float64
	ClaimTTL       time.Duration
	// MaxPublishRate caps publishes per second; zero disables the limit.
	MaxPublishRate float64
}

// RelayOptionsFromConfig maps relay configuration to options.
func RelayOptionsFromConfig(cfg config.RelayConfig) RelayOptions {
	return RelayOptions{
		InstanceID:     cfg.InstanceID,
		EventTypes:     cfg.EventTypes,
		BatchSize:      cfg.BatchSize,
		PollInterval:   cfg.PollInterval,
		InitialDelay:   cfg.InitialDelay,
		MaxAttempts:    cfg.MaxAttempts,
		BackoffInitial: cfg.BackoffInitial,
		BackoffMax:     cfg.BackoffMax,
		BackoffJitter:  cfg.BackoffJitter,
		ClaimTTL:       cfg.ClaimTTL,
		MaxPublishRate: cfg.MaxPublishRate,
	}
}

// CycleResult summarizes one poll cycle.
type CycleResult struct {
	Claimed      int
	Published    int
	Failed       int
	DeadLettered int
	// Deferred counts records released unattempted: an earlier record of the same
	// aggregate failed, or the relay is shutting down.
	Deferred int
	// Lost counts records whose claim expired and was taken by another relay.
	Lost int
}

// HealthReport is the relay's backlog.
type HealthReport struct {
	UnpublishedDue int64 `json:"unpublishedDueEvents"`
	DeadLettered   int64 `json:"deadLetteredEvents"`
}

// Relay moves due outbox records to the bus.
type Relay struct {
	outboxRepo repository.OutboxRepository
	publisher  Publisher
	opts       RelayOptions
	limiter    *rate.Limiter
	metrics    *telemetry.RelayMetrics
	logger     *slog.Logger
	now        func() time.Time
}

// NewRelay creates a new Relay. metrics may be nil.
func NewRelay(
	outboxRepo repository.OutboxRepository,
	publisher Publisher,
	opts RelayOptions,
	metrics *telemetry.RelayMetrics,
	logger *slog.Logger,
) *Relay {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}

	if opts.ClaimTTL <= 0 {
		opts.ClaimTTL = time.Minute
	}

	var limiter *rate.Limiter
	if opts.MaxPublishRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.MaxPublishRate), max(1, int(opts.MaxPublishRate)))
	}

	return &Relay{
		outboxRepo: outboxRepo,
		publisher:  publisher,
		opts:       opts,
		limiter:    limiter,
		metrics:    metrics,
		logger:     logger,
		now:        time.Now,
	}
}

// Run waits for the initial delay and then runs one cycle per poll interval until ctx is canceled.
// Cycles never overlap.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("starting outbox relay",
		slog.String("instance", r.opts.InstanceID),
		slog.Duration("poll_interval", r.opts.PollInterval),
		slog.Int("batch_size", r.opts.BatchSize),
	)

	delay := time.NewTimer(r.opts.InitialDelay)
	defer delay.Stop()

	select {
	case <-ctx.Done():
		return nil
	case <-delay.C:
	}

	r.cycle(ctx)

	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopped")

			return nil
		case <-ticker.C:
			r.cycle(ctx)
		}
	}
}

func (r *Relay) cycle(ctx context.Context) {
	res, err := r.ProcessDueEvents(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Error("error processing outbox events", slog.String("error", err.Error()))
		}

		return
	}

	if res.Claimed > 0 {
		r.logger.Info("outbox cycle finished",
			slog.Int("claimed", res.Claimed),
			slog.Int("published", res.Published),
			slog.Int("failed", res.Failed),
			slog.Int("dead_lettered", res.DeadLettered),
			slog.Int("deferred", res.Deferred),
			slog.Int("lost", res.Lost),
		)
	}
}

// ProcessDueEvents claims due records and publishes each independently. A failed record
// is scheduled for retry with exponential backoff and holds back later records of the
// same aggregate and event type. Each claim is renewed right before its send, so a
// long batch never publishes a record another relay has since taken over.
func (r *Relay) ProcessDueEvents(ctx context.Context) (CycleResult, error) {
	var res CycleResult

	now := r.now()

	events, err := r.outboxRepo.ClaimDueEvents(ctx, &model.ClaimOutboxEventsParams{
		EventTypes:         r.opts.EventTypes,
		Now:                now,
		Limit:              r.opts.BatchSize,
		Owner:              r.opts.InstanceID,
		ClaimExpiredBefore: now.Add(-r.opts.ClaimTTL),
	})
	if err != nil {
		return res, fmt.Errorf("failed to claim due events: %w", err)
	}

	res.Claimed = len(events)
	blocked := make(map[string]bool)

	for _, record := range events {
		if ctx.Err() != nil || blocked[record.OrderingKey()] {
			r.release(ctx, record)
			res.Deferred++

			continue
		}

		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				r.release(ctx, record)
				res.Deferred++

				continue
			}
		}

		owned, err := r.outboxRepo.RenewClaim(ctx, record.ID, r.opts.InstanceID, r.now())
		if err != nil {
			r.logger.Warn("failed to renew claim", slog.Int64("event_id", record.ID), slog.String("error", err.Error()))
			blocked[record.OrderingKey()] = true
			r.release(ctx, record)
			res.Deferred++

			continue
		}

		if !owned {
			r.logger.Warn("claim taken over by another relay, skipping event",
				slog.Int64("event_id", record.ID),
				slog.String("aggregate_id", record.AggregateID),
			)
			blocked[record.OrderingKey()] = true
			res.Lost++

			continue
		}

		start := time.Now()
		err = r.publisher.Publish(ctx, record)

		switch {
		case err == nil:
			res.Published++
			r.metrics.Published(ctx, record.EventType, time.Since(start))
		case errors.Is(err, ErrMarkPublished):
			// Already on the bus; only the bookkeeping failed.
			r.logger.Warn("event sent but not marked published, it will be sent again",
				slog.Int64("event_id", record.ID),
				slog.String("error", err.Error()),
			)
			r.release(ctx, record)
			res.Failed++
		case ctx.Err() != nil:
			// Interrupted by shutdown; not a delivery failure.
			blocked[record.OrderingKey()] = true
			r.release(ctx, record)
			res.Deferred++
		default:
			blocked[record.OrderingKey()] = true
			res.Failed++

			if r.recordFailure(ctx, record, err, now) {
				res.DeadLettered++
			}
		}
	}

	return res, nil
}

func (r *Relay) recordFailure(ctx context.Context, record *model.OutboxEvent, cause error, now time.Time) bool {
	r.metrics.Failed(ctx, record.EventType)

	msg := cause.Error()
	if len(msg) > maxErrorLength {
		msg = msg[:maxErrorLength]
	}

	delay := r.retryDelay(record.RetryCount)

	deadLettered, err := r.outboxRepo.MarkAsFailed(context.WithoutCancel(ctx), &model.FailOutboxEventParams{
		ID:            record.ID,
		Owner:         r.opts.InstanceID,
		Error:         msg,
		NextAttemptAt: now.Add(delay),
		MaxAttempts:   r.opts.MaxAttempts,
	})
	if err != nil {
		r.logger.Error("failed to record publish failure",
			slog.Int64("event_id", record.ID),
			slog.String("error", err.Error()),
		)

		return false
	}

	if deadLettered {
		r.metrics.DeadLettered(ctx, record.EventType)
		r.logger.Error("event dead-lettered after max attempts",
			slog.Int64("event_id", record.ID),
			slog.String("event_type", record.EventType),
			slog.String("aggregate_id", record.AggregateID),
			slog.Int("attempts", record.RetryCount+1),
			slog.String("error", msg),
		)

		return true
	}

	r.logger.Warn("failed to publish event, will retry",
		slog.Int64("event_id", record.ID),
		slog.String("event_type", record.EventType),
		slog.Bool("timeout", bus.IsTimeout(cause)),
		slog.Int("attempt", record.RetryCount+1),
		slog.Duration("retry_in", delay),
		slog.String("error", msg),
	)

	return false
}

func (r *Relay) release(ctx context.Context, record *model.OutboxEvent) {
	if err := r.outboxRepo.ReleaseClaim(context.WithoutCancel(ctx), record.ID, r.opts.InstanceID); err != nil {
		r.logger.Warn("failed to release claim",
			slog.Int64("event_id", record.ID),
			slog.String("error", err.Error()),
		)
	}
}

// retryDelay is the wait before the attempt following attempt failed ones.
func (r *Relay) retryDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.opts.BackoffInitial
	b.MaxInterval = r.opts.BackoffMax
	b.RandomizationFactor = r.opts.BackoffJitter
	b.Multiplier = 2
	b.Reset()

	delay := b.InitialInterval
	for range attempt + 1 {
		delay = b.NextBackOff()
	}

	return delay
}

// Health counts the due unpublished and the dead-lettered records.
func (r *Relay) Health(ctx context.Context) (HealthReport, error) {
	due, err := r.outboxRepo.CountUnpublishedDue(ctx, r.now())
	if err != nil {
		return HealthReport{}, err
	}

	dead, err := r.outboxRepo.CountDeadLettered(ctx)
	if err != nil {
		return HealthReport{}, err
	}

	return HealthReport{UnpublishedDue: due, DeadLettered: dead}, nil
}

// ReportHealth logs the backlog and records it as gauges. It never mutates the store.
func (r *Relay) ReportHealth(ctx context.Context) {
	report, err := r.Health(ctx)
	if err != nil {
		r.logger.Error("failed to collect outbox health", slog.String("error", err.Error()))

		return
	}

	r.metrics.Backlog(ctx, report.UnpublishedDue, report.DeadLettered)

	level := slog.LevelInfo
	if report.DeadLettered > 0 {
		level = slog.LevelWarn
	}

	r.logger.Log(ctx, level, "outbox health",
		slog.Int64("unpublished_due", report.UnpublishedDue),
		slog.Int64("dead_lettered", report.DeadLettered),
	)
}

// ScheduleHealthReports runs ReportHealth on the cron schedule until the returned scheduler is stopped.
func (r *Relay) ScheduleHealthReports(ctx context.Context, schedule string) (*cron.Cron, error) {
	scheduler := cron.New()

	if _, err := scheduler.AddFunc(schedule, func() {
		r.ReportHealth(ctx)
	}); err != nil {
		return nil, fmt.Errorf("invalid health schedule %q: %w", schedule, err)
	}

	scheduler.Start()

	return scheduler, nil
}
