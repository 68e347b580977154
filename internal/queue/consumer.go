package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"server/internal/infra"
	"server/internal/pipeline"
)

// Handler receives the arrivals parsed from one queue message.
type Handler interface {
	HandleArrivals(ctx context.Context, arrivals []pipeline.Arrival) error
}

// Config tunes one consumer. Zero values fall back to the defaults below.
type Config struct {
	QueueKey      string
	DeadLetterKey string
	PollTimeout   time.Duration
	MaxAttempts   int
}

const (
	defaultQueueKey    = "jobs:arrivals"
	defaultPollTimeout = 5 * time.Second
	defaultMaxAttempts = 3
)

// ListClient is the subset of the Redis client the consumer uses.
// *redis.Client satisfies it.
type ListClient interface {
	BLPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// Consumer pops messages off a Redis list and dispatches them.
type Consumer struct {
	client  ListClient
	cfg     Config
	handler Handler
	logger  infra.Logger
}

func NewConsumer(client ListClient, cfg Config, handler Handler, logger infra.Logger) *Consumer {
	if cfg.QueueKey == "" {
		cfg.QueueKey = defaultQueueKey
	}
	if cfg.DeadLetterKey == "" {
		cfg.DeadLetterKey = cfg.QueueKey + ":dead"
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	return &Consumer{client: client, cfg: cfg, handler: handler, logger: logger}
}

// Run blocks on the queue until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info().Str("queue", c.cfg.QueueKey).Msg("queue: consumer started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		res, err := c.client.BLPop(ctx, c.cfg.PollTimeout, c.cfg.QueueKey).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			c.logger.Error().Err(err).Msg("queue: pop failed")
			time.Sleep(time.Second)
			continue
		}
		if len(res) < 2 {
			continue
		}
		c.handle(ctx, res[1])
	}
}

func (c *Consumer) handle(ctx context.Context, payload string) {
	msg, err := ParseMessage([]byte(payload))
	if err != nil {
		c.logger.Error().Err(err).Msg("queue: malformed message, dead-lettering")
		c.deadLetter(ctx, payload, err)
		return
	}
	arrivals, err := ParseArrivals(msg.Event)
	if err != nil {
		// Retrying cannot repair a bad key; park it for inspection.
		c.logger.Error().Err(err).Msg("queue: unparseable event, dead-lettering")
		c.deadLetter(ctx, payload, err)
		return
	}

	if err := c.handler.HandleArrivals(ctx, arrivals); err != nil {
		c.retry(ctx, msg, payload, err)
		return
	}
	c.logger.Debug().Int("arrivals", len(arrivals)).Msg("queue: message handled")
}

// retry re-queues the message with an incremented attempt count, or
// dead-letters it once MaxAttempts deliveries have failed.
func (c *Consumer) retry(ctx context.Context, msg Message, payload string, cause error) {
	attempts := msg.Attempts + 1
	if attempts >= c.cfg.MaxAttempts {
		c.logger.Error().Err(cause).Int("attempts", attempts).Msg("queue: delivery attempts exhausted, dead-lettering")
		c.deadLetter(ctx, payload, cause)
		return
	}
	msg.Attempts = attempts
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error().Err(err).Msg("queue: re-encode for retry failed, dead-lettering")
		c.deadLetter(ctx, payload, err)
		return
	}
	if err := c.client.RPush(ctx, c.cfg.QueueKey, data).Err(); err != nil {
		c.logger.Error().Err(err).Msg("queue: re-queue failed")
		return
	}
	c.logger.Warn().Err(cause).Int("attempts", attempts).Msg("queue: message re-queued")
}

type deadLetterRecord struct {
	Error    string          `json:"error"`
	Payload  json.RawMessage `json:"payload"`
	FailedAt string          `json:"failedAt"`
}

func (c *Consumer) deadLetter(ctx context.Context, payload string, cause error) {
	record := deadLetterRecord{
		Error:    cause.Error(),
		Payload:  json.RawMessage(payload),
		FailedAt: time.Now().UTC().Format(time.RFC3339),
	}
	data, err := json.Marshal(record)
	if err != nil {
		// Raw payload may not be valid JSON; fall back to a quoted copy.
		data, err = json.Marshal(deadLetterRecord{
			Error:    cause.Error(),
			Payload:  mustQuote(payload),
			FailedAt: record.FailedAt,
		})
		if err != nil {
			c.logger.Error().Err(err).Msg("queue: encode dead-letter record failed")
			return
		}
	}
	if err := c.client.LPush(ctx, c.cfg.DeadLetterKey, data).Err(); err != nil {
		c.logger.Error().Err(err).Msg("queue: dead-letter push failed")
	}
}

func mustQuote(s string) json.RawMessage {
	quoted, err := json.Marshal(s)
	if err != nil {
		return json.RawMessage(fmt.Sprintf("%q", s))
	}
	return quoted
}
