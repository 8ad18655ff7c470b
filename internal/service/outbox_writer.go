package service

import (
	"context"
	"fmt"
	"time"

	"github.com/karolcichosz/investment-plans-design/internal/event"
	"github.com/karolcichosz/investment-plans-design/internal/model"
	"github.com/karolcichosz/investment-plans-design/internal/repository"
)

// AppendParams describes one event to append to the outbox.
type AppendParams struct {
	AggregateID   string
	AggregateType string
	EventType     string
	Payload       any
	// ScheduledFor delays publishing; nil means due immediately.
	ScheduledFor *time.Time
}

// OutboxWriter appends events in the caller's transaction. It never talks to the bus.
type OutboxWriter struct {
	outboxRepo repository.OutboxRepository
}

// NewOutboxWriter creates a new OutboxWriter.
func NewOutboxWriter(outboxRepo repository.OutboxRepository) *OutboxWriter {
	return &OutboxWriter{outboxRepo: outboxRepo}
}

// Append serializes the payload and stores one unpublished record.
// ctx must carry the transaction of the business write the event describes.
func (w *OutboxWriter) Append(ctx context.Context, params AppendParams) (*model.OutboxEvent, error) {
	payload, err := event.EncodePayload(params.Payload)
	if err != nil {
		return nil, err
	}

	record, err := w.outboxRepo.CreateEvent(ctx, &model.CreateOutboxEventParams{
		AggregateID:   params.AggregateID,
		AggregateType: params.AggregateType,
		EventType:     params.EventType,
		Payload:       payload,
		ScheduledFor:  params.ScheduledFor,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create outbox event: %w", err)
	}

	return record, nil
}
