// Package event defines the bus envelope and the event type to topic routing.
package event

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/karolcichosz/investment-plans-design/internal/model"
)

// Envelope is the message body sent on the bus.
type Envelope struct {
	EventID     string    `json:"eventId"`
	EventType   string    `json:"eventType"`
	AggregateID string    `json:"aggregateId"`
	Payload     string    `json:"payload"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewEnvelope wraps an outbox record with a fresh event id. The payload is passed through untouched.
func NewEnvelope(record *model.OutboxEvent, now time.Time) Envelope {
	return Envelope{
		EventID:     uuid.NewString(),
		EventType:   record.EventType,
		AggregateID: record.AggregateID,
		Payload:     string(record.Payload),
		Timestamp:   now,
	}
}

// Marshal encodes the envelope.
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// DecodePayload decodes the nested payload into v.
func (e Envelope) DecodePayload(v any) error {
	if err := json.Unmarshal([]byte(e.Payload), v); err != nil {
		return fmt.Errorf("%w: %s: %v", model.ErrMalformedPayload, e.EventType, err)
	}

	return nil
}

// Decode parses an envelope from a bus message body.
func Decode(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: envelope: %v", model.ErrMalformedPayload, err)
	}

	if env.EventType == "" {
		return Envelope{}, fmt.Errorf("%w: envelope without eventType", model.ErrMalformedPayload)
	}

	return env, nil
}

// EncodePayload serializes an event payload for storage in an outbox record.
func EncodePayload(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}

	return b, nil
}
