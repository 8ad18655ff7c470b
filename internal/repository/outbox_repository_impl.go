package repository

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/karolcichosz/investment-plans-design/internal/model"
)

const outboxColumns = `
    id,
    aggregate_id,
    aggregate_type,
    event_type,
    payload,
    published,
    published_at,
    scheduled_for,
    retry_count,
    next_attempt_at,
    last_error,
    dead_lettered,
    claimed_by,
    claimed_at,
    created_at`

// claimedColumns is outboxColumns qualified for the claim UPDATE, whose FROM list
// also exposes an id column.
const claimedColumns = `
    e.id,
    e.aggregate_id,
    e.aggregate_type,
    e.event_type,
    e.payload,
    e.published,
    e.published_at,
    e.scheduled_for,
    e.retry_count,
    e.next_attempt_at,
    e.last_error,
    e.dead_lettered,
    e.claimed_by,
    e.claimed_at,
    e.created_at`

const (
	outboxInsertSQL = `
INSERT INTO outbox_events (aggregate_id, aggregate_type, event_type, payload, scheduled_for)
VALUES ($1, $2, $3, $4, $5)
RETURNING` + outboxColumns

	// A record is not claimable while an earlier record of the same aggregate and event
	// type is backing off or held by another live claim. Earlier due records are claimed
	// by the same statement and published first.
	outboxClaimSQL = `
WITH due AS (
    SELECT o.id
    FROM outbox_events o
    WHERE o.published = FALSE
      AND o.dead_lettered = FALSE
      AND (cardinality($1::text[]) = 0 OR o.event_type = ANY($1::text[]))
      AND (o.scheduled_for IS NULL OR o.scheduled_for <= $2)
      AND (o.next_attempt_at IS NULL OR o.next_attempt_at <= $2)
      AND (o.claimed_at IS NULL OR o.claimed_at < $5)
      AND NOT EXISTS (
          SELECT 1
          FROM outbox_events p
          WHERE p.aggregate_id = o.aggregate_id
            AND p.event_type = o.event_type
            AND p.published = FALSE
            AND p.dead_lettered = FALSE
            AND (p.scheduled_for IS NULL OR p.scheduled_for <= $2)
            AND (p.created_at, p.id) < (o.created_at, o.id)
            AND (p.next_attempt_at > $2 OR p.claimed_at >= $5)
      )
    ORDER BY o.created_at, o.id
    LIMIT $3
    FOR UPDATE SKIP LOCKED
)
UPDATE outbox_events e
SET claimed_by = $4,
    claimed_at = $2
FROM due
WHERE e.id = due.id
RETURNING` + claimedColumns

	outboxMarkPublishedSQL = `
UPDATE outbox_events
SET published = TRUE,
    published_at = $2,
    claimed_by = NULL,
    claimed_at = NULL
WHERE id = $1
  AND published = FALSE;
`

	outboxMarkFailedSQL = `
UPDATE outbox_events
SET retry_count = retry_count + 1,
    last_error = $2,
    next_attempt_at = $3,
    dead_lettered = ($4 > 0 AND retry_count + 1 >= $4),
    claimed_by = NULL,
    claimed_at = NULL
WHERE id = $1
  AND claimed_by = $5
  AND published = FALSE
RETURNING dead_lettered;
`

	outboxRenewSQL = `
UPDATE outbox_events
SET claimed_at = $3
WHERE id = $1
  AND claimed_by = $2
  AND published = FALSE;
`

	outboxReleaseSQL = `
UPDATE outbox_events
SET claimed_by = NULL,
    claimed_at = NULL
WHERE id = $1
  AND claimed_by = $2
  AND published = FALSE;
`

	outboxCountDueSQL = `
SELECT count(*)
FROM outbox_events
WHERE published = FALSE
  AND dead_lettered = FALSE
  AND (scheduled_for IS NULL OR scheduled_for <= $1);
`

	outboxCountDeadSQL = `
SELECT count(*)
FROM outbox_events
WHERE dead_lettered = TRUE
  AND published = FALSE;
`

	outboxExistsSQL = `
SELECT EXISTS (
    SELECT 1 FROM outbox_events WHERE aggregate_id = $1 AND event_type = $2
);
`
)

// OutboxRepositoryImpl implements OutboxRepository using PostgreSQL.
type OutboxRepositoryImpl struct {
	pool *pgxpool.Pool
}

// NewOutboxRepositoryImpl creates a new OutboxRepository implementation.
func NewOutboxRepositoryImpl(pool *pgxpool.Pool) *OutboxRepositoryImpl {
	return &OutboxRepositoryImpl{pool: pool}
}

// CreateEvent creates a new outbox event. It fails with ErrTransactionRequired unless
// ctx carries the transaction of the business write it belongs to.
func (r *OutboxRepositoryImpl) CreateEvent(
	ctx context.Context, params *model.CreateOutboxEventParams,
) (*model.OutboxEvent, error) {
	tx, ok := txFrom(ctx)
	if !ok {
		return nil, ErrTransactionRequired
	}

	row := tx.QueryRow(ctx, outboxInsertSQL,
		params.AggregateID,
		params.AggregateType,
		params.EventType,
		string(params.Payload),
		params.ScheduledFor,
	)

	event, err := scanOutboxEvent(row)
	if err != nil {
		return nil, fmt.Errorf("outbox: insert: %w", err)
	}

	return event, nil
}

// ClaimDueEvents stamps up to params.Limit due events with the caller's claim and returns them
// in creation order.
func (r *OutboxRepositoryImpl) ClaimDueEvents(
	ctx context.Context, params *model.ClaimOutboxEventsParams,
) ([]*model.OutboxEvent, error) {
	eventTypes := params.EventTypes
	if eventTypes == nil {
		eventTypes = []string{}
	}

	rows, err := conn(ctx, r.pool).Query(ctx, outboxClaimSQL,
		eventTypes,
		params.Now,
		params.Limit,
		params.Owner,
		params.ClaimExpiredBefore,
	)
	if err != nil {
		return nil, fmt.Errorf("outbox: claim due: %w", err)
	}
	defer rows.Close()

	var events []*model.OutboxEvent

	for rows.Next() {
		event, err := scanOutboxEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("outbox: scan claimed: %w", err)
		}

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox: iterate claimed: %w", err)
	}

	slices.SortFunc(events, func(a, b *model.OutboxEvent) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}

		return cmp.Compare(a.ID, b.ID)
	})

	return events, nil
}

// MarkAsPublished marks an outbox event as published.
func (r *OutboxRepositoryImpl) MarkAsPublished(ctx context.Context, id int64, at time.Time) (bool, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, outboxMarkPublishedSQL, id, at)
	if err != nil {
		return false, fmt.Errorf("outbox: mark published: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// MarkAsFailed records a failed publish attempt, schedules the next one and releases the claim.
// Nothing changes unless params.Owner still holds the claim.
func (r *OutboxRepositoryImpl) MarkAsFailed(ctx context.Context, params *model.FailOutboxEventParams) (bool, error) {
	var deadLettered bool

	err := conn(ctx, r.pool).QueryRow(ctx, outboxMarkFailedSQL,
		params.ID,
		params.Error,
		params.NextAttemptAt,
		params.MaxAttempts,
		params.Owner,
	).Scan(&deadLettered)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("outbox: mark failed: %w", err)
	}

	return deadLettered, nil
}

// RenewClaim restamps owner's claim at at. It reports false when the claim was lost
// to another relay or the record is already published.
func (r *OutboxRepositoryImpl) RenewClaim(ctx context.Context, id int64, owner string, at time.Time) (bool, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, outboxRenewSQL, id, owner, at)
	if err != nil {
		return false, fmt.Errorf("outbox: renew claim: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// ReleaseClaim drops owner's claim without counting an attempt.
func (r *OutboxRepositoryImpl) ReleaseClaim(ctx context.Context, id int64, owner string) error {
	if _, err := conn(ctx, r.pool).Exec(ctx, outboxReleaseSQL, id, owner); err != nil {
		return fmt.Errorf("outbox: release claim: %w", err)
	}

	return nil
}

// CountUnpublishedDue counts records that are due at now and not yet published.
func (r *OutboxRepositoryImpl) CountUnpublishedDue(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	if err := conn(ctx, r.pool).QueryRow(ctx, outboxCountDueSQL, now).Scan(&n); err != nil {
		return 0, fmt.Errorf("outbox: count due: %w", err)
	}

	return n, nil
}

// CountDeadLettered counts records awaiting manual intervention.
func (r *OutboxRepositoryImpl) CountDeadLettered(ctx context.Context) (int64, error) {
	var n int64
	if err := conn(ctx, r.pool).QueryRow(ctx, outboxCountDeadSQL).Scan(&n); err != nil {
		return 0, fmt.Errorf("outbox: count dead-lettered: %w", err)
	}

	return n, nil
}

// ExistsForAggregate reports whether any record of eventType exists for aggregateID.
func (r *OutboxRepositoryImpl) ExistsForAggregate(ctx context.Context, aggregateID, eventType string) (bool, error) {
	var exists bool
	if err := conn(ctx, r.pool).QueryRow(ctx, outboxExistsSQL, aggregateID, eventType).Scan(&exists); err != nil {
		return false, fmt.Errorf("outbox: exists: %w", err)
	}

	return exists, nil
}

func scanOutboxEvent(row pgx.Row) (*model.OutboxEvent, error) {
	var (
		event     model.OutboxEvent
		payload   string
		lastError *string
		claimedBy *string
	)

	err := row.Scan(
		&event.ID,
		&event.AggregateID,
		&event.AggregateType,
		&event.EventType,
		&payload,
		&event.Published,
		&event.PublishedAt,
		&event.ScheduledFor,
		&event.RetryCount,
		&event.NextAttemptAt,
		&lastError,
		&event.DeadLettered,
		&claimedBy,
		&event.ClaimedAt,
		&event.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	event.Payload = []byte(payload)

	if lastError != nil {
		event.LastError = *lastError
	}

	if claimedBy != nil {
		event.ClaimedBy = *claimedBy
	}

	return &event, nil
}
