package bus

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/rueidis"
	"github.com/sourcegraph/conc/pool"
)

const errorRetryDelay = 1 * time.Second

// Delivery is one stream entry handed to a Handler.
type Delivery struct {
	ID        string
	Stream    string
	Key       string
	EventType string
	Body      []byte
}

// Handler processes a delivery. A nil error acknowledges it; any error leaves it pending for redelivery.
type Handler func(ctx context.Context, d Delivery) error

// ConsumerOptions configures a consumer group reader.
type ConsumerOptions struct {
	Group         string
	Name          string
	Streams       []string
	BatchSize     int64
	Block         time.Duration
	Workers       int
	RetryInterval time.Duration
}

// Consumer reads topic streams as a member of a consumer group.
type Consumer struct {
	client rueidis.Client
	opts   ConsumerOptions
	logger *slog.Logger

	lastRetry time.Time
	// stalled holds the keys with an unacknowledged failed entry. New entries of a
	// stalled key stay pending until RetryPending drains the older ones.
	stalled *keySet
}

// NewConsumer creates a consumer over client.
func NewConsumer(client rueidis.Client, opts ConsumerOptions, logger *slog.Logger) *Consumer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}

	if opts.Workers <= 0 {
		opts.Workers = 1
	}

	if opts.Block <= 0 {
		opts.Block = time.Second
	}

	return &Consumer{client: client, opts: opts, logger: logger, stalled: newKeySet()}
}

// EnsureGroups creates the consumer group on every stream, creating missing streams.
func (c *Consumer) EnsureGroups(ctx context.Context) error {
	for _, stream := range c.opts.Streams {
		cmd := c.client.B().XgroupCreate().Key(stream).Group(c.opts.Group).Id("0").Mkstream().Build()
		if err := c.client.Do(ctx, cmd).Error(); err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return err
		}
	}

	return nil
}

// Run consumes until ctx is canceled. Pending entries of this consumer are re-read
// every RetryInterval so failed deliveries are retried.
func (c *Consumer) Run(ctx context.Context, handler Handler) error {
	if err := c.EnsureGroups(ctx); err != nil {
		return err
	}

	c.logger.Info("starting message consumer",
		slog.String("group", c.opts.Group),
		slog.String("consumer", c.opts.Name),
		slog.Any("streams", c.opts.Streams),
	)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("consumer stopped")

			return nil
		default:
		}

		if c.opts.RetryInterval > 0 && time.Since(c.lastRetry) >= c.opts.RetryInterval {
			c.lastRetry = time.Now()

			if _, err := c.RetryPending(ctx, handler); err != nil && ctx.Err() == nil {
				c.logger.Error("error re-reading pending messages", slog.String("error", err.Error()))
			}
		}

		if _, err := c.Poll(ctx, handler); err != nil {
			if ctx.Err() != nil {
				continue
			}

			c.logger.Error("error consuming messages", slog.String("error", err.Error()))

			select {
			case <-ctx.Done():
			case <-time.After(errorRetryDelay):
			}
		}
	}
}

// Poll reads one batch of new entries, blocking up to Block, and processes it.
// Entries of a stalled key are left pending. It returns the number of entries acknowledged.
func (c *Consumer) Poll(ctx context.Context, handler Handler) (int, error) {
	deliveries, _, err := c.read(ctx, c.ids(">"), true)
	if err != nil {
		return 0, err
	}

	return c.process(ctx, deliveries, handler, c.stalled), nil
}

// RetryPending re-reads, page by page and in stream order, the entries delivered to
// this consumer but never acknowledged. A key that fails again stays stalled.
func (c *Consumer) RetryPending(ctx context.Context, handler Handler) (int, error) {
	cursor := c.ids("0")
	failed := newKeySet()
	total := 0

	for {
		deliveries, last, err := c.read(ctx, cursor, false)
		if err != nil {
			return total, err
		}

		if len(last) == 0 {
			break
		}

		for i, stream := range c.opts.Streams {
			if id, ok := last[stream]; ok {
				cursor[i] = id
			}
		}

		total += c.process(ctx, deliveries, handler, failed)
	}

	c.stalled = failed

	return total, nil
}

func (c *Consumer) ids(id string) []string {
	ids := make([]string, len(c.opts.Streams))
	for i := range ids {
		ids[i] = id
	}

	return ids
}

// read returns the deliveries of one XREADGROUP and the last entry id seen per stream.
func (c *Consumer) read(ctx context.Context, ids []string, block bool) ([]Delivery, map[string]string, error) {
	var cmd rueidis.Completed
	if block {
		cmd = c.client.B().Xreadgroup().Group(c.opts.Group, c.opts.Name).
			Count(c.opts.BatchSize).
			Block(c.opts.Block.Milliseconds()).
			Streams().
			Key(c.opts.Streams...).
			Id(ids...).
			Build()
	} else {
		cmd = c.client.B().Xreadgroup().Group(c.opts.Group, c.opts.Name).
			Count(c.opts.BatchSize).
			Streams().
			Key(c.opts.Streams...).
			Id(ids...).
			Build()
	}

	streams, err := c.client.Do(ctx, cmd).AsXRead()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, nil, nil
		}

		return nil, nil, err
	}

	var deliveries []Delivery

	last := make(map[string]string)

	for stream, entries := range streams {
		for _, entry := range entries {
			last[stream] = entry.ID

			if entry.FieldValues == nil {
				// Pending entry trimmed from the stream; nothing left to process.
				c.acknowledge(ctx, stream, entry.ID)

				continue
			}

			deliveries = append(deliveries, Delivery{
				ID:        entry.ID,
				Stream:    stream,
				Key:       entry.FieldValues[FieldKey],
				EventType: entry.FieldValues[FieldEventType],
				Body:      []byte(entry.FieldValues[FieldEnvelope]),
			})
		}
	}

	return deliveries, last, nil
}

// process runs key groups concurrently and the deliveries of one key in order.
// Keys already in stalled are skipped. The first failure within a key stalls it
// so later entries wait for the retry.
func (c *Consumer) process(ctx context.Context, deliveries []Delivery, handler Handler, stalled *keySet) int {
	groups, order := groupByKey(deliveries)

	acked := make([]int, len(order))
	p := pool.New().WithMaxGoroutines(c.opts.Workers)

	for i, key := range order {
		batch := groups[key]
		if stalled.has(key) {
			continue
		}

		p.Go(func() {
			for _, d := range batch {
				if err := handler(ctx, d); err != nil {
					stalled.add(key)
					c.logger.Error("failed to process message",
						slog.String("message_id", d.ID),
						slog.String("stream", d.Stream),
						slog.String("event_type", d.EventType),
						slog.String("error", err.Error()),
					)

					return
				}

				c.acknowledge(ctx, d.Stream, d.ID)
				acked[i]++
			}
		})
	}

	p.Wait()

	total := 0
	for _, n := range acked {
		total += n
	}

	return total
}

func (c *Consumer) acknowledge(ctx context.Context, stream, id string) {
	cmd := c.client.B().Xack().Key(stream).Group(c.opts.Group).Id(id).Build()
	if err := c.client.Do(ctx, cmd).Error(); err != nil {
		c.logger.Error("failed to ACK message",
			slog.String("message_id", id),
			slog.String("error", err.Error()),
		)

		return
	}

	c.logger.Debug("ACKed message", slog.String("message_id", id))
}

type keySet struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func newKeySet() *keySet {
	return &keySet{keys: make(map[string]struct{})}
}

func (s *keySet) add(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key] = struct{}{}
}

func (s *keySet) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.keys[key]

	return ok
}

func groupByKey(deliveries []Delivery) (map[string][]Delivery, []string) {
	groups := make(map[string][]Delivery)

	var order []string

	for _, d := range deliveries {
		k := d.Stream + "/" + d.Key
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}

		groups[k] = append(groups[k], d)
	}

	return groups, order
}

// IsTimeout reports whether err is a send deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrPublishTimeout)
}
