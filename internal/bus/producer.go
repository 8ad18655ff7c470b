// Package bus carries envelopes over Redis Streams: one stream per topic, one consumer group per service.
package bus

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/rueidis"
)

// Stream entry fields.
const (
	FieldKey       = "key"
	FieldEventType = "event_type"
	FieldEnvelope  = "envelope"
)

// ErrPublishTimeout is returned when the bus did not acknowledge a send before the deadline.
var ErrPublishTimeout = errors.New("bus: publish acknowledgment timed out")

// NewClient connects to the Redis instance used as the event bus.
func NewClient(addr string) (rueidis.Client, error) {
	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress: []string{addr},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

// Message is one keyed record sent to a topic.
type Message struct {
	Topic     string
	Key       string
	EventType string
	Body      []byte
}

// Producer appends messages to topic streams.
type Producer struct {
	client rueidis.Client
}

// NewProducer creates a producer over client.
func NewProducer(client rueidis.Client) *Producer {
	return &Producer{client: client}
}

// Send appends msg to its topic stream and returns the entry id. The XADD reply is the acknowledgment.
func (p *Producer) Send(ctx context.Context, msg Message) (string, error) {
	cmd := p.client.B().Xadd().Key(msg.Topic).Id("*").
		FieldValue().
		FieldValue(FieldKey, msg.Key).
		FieldValue(FieldEventType, msg.EventType).
		FieldValue(FieldEnvelope, string(msg.Body)).
		Build()

	id, err := p.client.Do(ctx, cmd).ToString()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %s", ErrPublishTimeout, msg.Topic)
		}

		return "", fmt.Errorf("bus: send to %s: %w", msg.Topic, err)
	}

	return id, nil
}
