package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/karolcichosz/investment-plans-design/internal/bus"
	"github.com/karolcichosz/investment-plans-design/internal/event"
	"github.com/karolcichosz/investment-plans-design/internal/model"
	"github.com/karolcichosz/investment-plans-design/internal/repository"
)

// ErrMarkPublished means the bus acknowledged a record that could not be marked published.
// The record will be sent again.
var ErrMarkPublished = errors.New("event sent but not marked published")

// EventPublisher wraps outbox records in envelopes and sends them to their topic.
type EventPublisher struct {
	sender     Sender
	outboxRepo repository.OutboxRepository
	router     *event.Router
	timeout    time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// NewEventPublisher creates a new EventPublisher. timeout bounds the wait for the bus acknowledgment.
func NewEventPublisher(
	sender Sender,
	outboxRepo repository.OutboxRepository,
	router *event.Router,
	timeout time.Duration,
	logger *slog.Logger,
) *EventPublisher {
	return &EventPublisher{
		sender:     sender,
		outboxRepo: outboxRepo,
		router:     router,
		timeout:    timeout,
		logger:     logger,
		now:        time.Now,
	}
}

// Publish sends the record keyed by its aggregate and then marks it published.
// A send failure leaves the record untouched.
func (p *EventPublisher) Publish(ctx context.Context, record *model.OutboxEvent) error {
	topic := p.router.Resolve(record.EventType)

	body, err := event.NewEnvelope(record, p.now()).Marshal()
	if err != nil {
		return fmt.Errorf("failed to encode envelope for event %d: %w", record.ID, err)
	}

	sendCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	if _, err := p.sender.Send(sendCtx, bus.Message{
		Topic:     topic,
		Key:       record.AggregateID,
		EventType: record.EventType,
		Body:      body,
	}); err != nil {
		return fmt.Errorf("failed to publish event %d to %s: %w", record.ID, topic, err)
	}

	marked, err := p.outboxRepo.MarkAsPublished(ctx, record.ID, p.now())
	if err != nil {
		return fmt.Errorf("%w: event %d: %v", ErrMarkPublished, record.ID, err)
	}

	if !marked {
		p.logger.Debug("event was already published", slog.Int64("event_id", record.ID))
	}

	p.logger.Debug("published event",
		slog.Int64("event_id", record.ID),
		slog.String("event_type", record.EventType),
		slog.String("topic", topic),
	)

	return nil
}
