package model

import "time"

// OutboxEvent represents an outbox event for reliable message delivery.
type OutboxEvent struct {
	ID            int64      `json:"id"`
	AggregateID   string     `json:"aggregate_id"`
	AggregateType string     `json:"aggregate_type"`
	EventType     string     `json:"event_type"`
	Payload       []byte     `json:"payload"`
	Published     bool       `json:"published"`
	PublishedAt   *time.Time `json:"published_at"`
	ScheduledFor  *time.Time `json:"scheduled_for"`
	RetryCount    int        `json:"retry_count"`
	NextAttemptAt *time.Time `json:"next_attempt_at"`
	LastError     string     `json:"last_error"`
	DeadLettered  bool       `json:"dead_lettered"`
	ClaimedBy     string     `json:"claimed_by"`
	ClaimedAt     *time.Time `json:"claimed_at"`
	CreatedAt     time.Time  `json:"created_at"`
}

// IsDue reports whether the event may be published at now.
func (e *OutboxEvent) IsDue(now time.Time) bool {
	if e.Published || e.DeadLettered {
		return false
	}

	if e.ScheduledFor != nil && e.ScheduledFor.After(now) {
		return false
	}

	return e.NextAttemptAt == nil || !e.NextAttemptAt.After(now)
}

// OrderingKey groups events whose publish order must follow creation order.
func (e *OutboxEvent) OrderingKey() string {
	return e.AggregateID + "|" + e.EventType
}

// CreateOutboxEventParams represents parameters for creating a new outbox event.
type CreateOutboxEventParams struct {
	AggregateID   string
	AggregateType string
	EventType     string
	Payload       []byte
	ScheduledFor  *time.Time
}

// ClaimOutboxEventsParams selects due events and marks them as claimed by Owner.
type ClaimOutboxEventsParams struct {
	EventTypes []string
	Now        time.Time
	Limit      int
	Owner      string
	// Claims stamped before ClaimExpiredBefore are treated as abandoned.
	ClaimExpiredBefore time.Time
}

// FailOutboxEventParams records one failed publish attempt.
type FailOutboxEventParams struct {
	ID            int64
	Owner         string
	Error         string
	NextAttemptAt time.Time
	MaxAttempts   int
}
