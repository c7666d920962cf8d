package events

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/davidleathers/risk-scoring-engine/internal/domain/errors"
	"github.com/davidleathers/risk-scoring-engine/internal/metrics"
)

// Handler processes one consumed message. A nil error acknowledges it. A
// retryable error leaves it pending for redelivery; any other error sends
// it to the dead letter queue.
type Handler func(ctx context.Context, msg Message) error

// ConsumerConfig tunes a stream consumer
type ConsumerConfig struct {
	Stream        string
	Group         string
	Consumer      string
	BatchSize     int64
	Block         time.Duration
	MaxDeliveries int64
	ClaimIdle     time.Duration
	RatePerSecond float64
}

// Dead letter reasons
const (
	ReasonRejected  = "rejected"
	ReasonExhausted = "max_deliveries"
)

// StreamConsumer reads a Redis stream through a consumer group
type StreamConsumer struct {
	client  *redis.Client
	cfg     ConsumerConfig
	handler Handler
	dlq     *DeadLetterQueue
	limiter *rate.Limiter
	metrics *metrics.Registry
	logger  *zap.Logger
	now     func() time.Time
}

// NewStreamConsumer creates a consumer. dlq may be nil, in which case
// messages that would be dead lettered stay pending in the group and are
// never acknowledged.
func NewStreamConsumer(client *redis.Client, cfg ConsumerConfig, handler Handler, dlq *DeadLetterQueue, m *metrics.Registry, logger *zap.Logger) *StreamConsumer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = 5
	}
	if cfg.ClaimIdle <= 0 {
		cfg.ClaimIdle = 30 * time.Second
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}

	return &StreamConsumer{
		client:  client,
		cfg:     cfg,
		handler: handler,
		dlq:     dlq,
		limiter: rate.NewLimiter(limit, int(cfg.BatchSize)),
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// EnsureGroup creates the consumer group and stream when missing
func (c *StreamConsumer) EnsureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("creating consumer group %s: %w", c.cfg.Group, err)
	}
	return nil
}

// Run consumes until ctx is cancelled
func (c *StreamConsumer) Run(ctx context.Context) error {
	if err := c.EnsureGroup(ctx); err != nil {
		return err
	}

	c.logger.Info("stream consumer started",
		zap.String("stream", c.cfg.Stream),
		zap.String("group", c.cfg.Group),
		zap.String("consumer", c.cfg.Consumer))

	for {
		if _, err := c.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				c.logger.Info("stream consumer stopped", zap.String("stream", c.cfg.Stream))
				return nil
			}
			c.logger.Error("stream poll failed", zap.String("stream", c.cfg.Stream), zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
		}
	}
}

// Poll reclaims stalled messages, reads new ones and handles them. It
// returns the number of messages handled.
func (c *StreamConsumer) Poll(ctx context.Context) (int, error) {
	claimed, _, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.cfg.Stream,
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		MinIdle:  c.cfg.ClaimIdle,
		Start:    "0-0",
		Count:    c.cfg.BatchSize,
	}).Result()
	if err != nil && !stderrors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("claiming pending messages: %w", err)
	}

	handled := 0
	for _, x := range claimed {
		if err := c.handle(ctx, x); err != nil {
			return handled, err
		}
		handled++
	}

	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		Streams:  []string{c.cfg.Stream, ">"},
		Count:    c.cfg.BatchSize,
		Block:    c.cfg.Block,
	}).Result()
	if err != nil {
		if stderrors.Is(err, redis.Nil) {
			return handled, nil
		}
		return handled, fmt.Errorf("reading stream %s: %w", c.cfg.Stream, err)
	}

	for _, s := range streams {
		for _, x := range s.Messages {
			if err := c.handle(ctx, x); err != nil {
				return handled, err
			}
			handled++
		}
	}
	return handled, nil
}

// handle runs the handler for one entry. Only bus failures are returned;
// handler failures are resolved by ack, redelivery or dead lettering.
func (c *StreamConsumer) handle(ctx context.Context, x redis.XMessage) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	msg, err := fromStream(c.cfg.Stream, x)
	if err == nil {
		err = c.handler(ctx, msg)
	} else {
		msg = Message{ID: x.ID, Topic: c.cfg.Stream}
	}

	log := c.logger.With(
		zap.String("stream", c.cfg.Stream),
		zap.String("entry_id", x.ID),
		zap.String("key", msg.Key))

	if err == nil {
		c.metrics.ObserveMessage(c.cfg.Stream, "ok")
		return c.ack(ctx, x.ID)
	}

	// shutting down; the entry stays pending for the next consumer
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if !errors.IsRetryable(err) {
		log.Warn("message rejected", zap.Error(err))
		c.metrics.ObserveMessage(c.cfg.Stream, "rejected")
		return c.deadLetter(ctx, x.ID, msg, ReasonRejected, err, 1)
	}

	deliveries, perr := c.deliveries(ctx, x.ID)
	if perr != nil {
		return perr
	}
	if deliveries >= c.cfg.MaxDeliveries {
		log.Error("message exhausted its deliveries", zap.Int64("deliveries", deliveries), zap.Error(err))
		c.metrics.ObserveMessage(c.cfg.Stream, "exhausted")
		return c.deadLetter(ctx, x.ID, msg, ReasonExhausted, err, deliveries)
	}

	// left pending; XAUTOCLAIM picks it up again after ClaimIdle
	log.Warn("message failed, will be redelivered", zap.Int64("deliveries", deliveries), zap.Error(err))
	c.metrics.ObserveMessage(c.cfg.Stream, "retry")
	return nil
}

func (c *StreamConsumer) deliveries(ctx context.Context, entryID string) (int64, error) {
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: c.cfg.Stream,
		Group:  c.cfg.Group,
		Start:  entryID,
		End:    entryID,
		Count:  1,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("reading pending entry %s: %w", entryID, err)
	}
	if len(pending) == 0 {
		return 0, nil
	}
	return pending[0].RetryCount, nil
}

func (c *StreamConsumer) deadLetter(ctx context.Context, entryID string, msg Message, reason string, cause error, attempts int64) error {
	if c.dlq == nil {
		c.logger.Error("no dead letter queue, message left pending",
			zap.String("stream", c.cfg.Stream),
			zap.String("entry_id", entryID),
			zap.String("reason", reason),
			zap.Error(cause))
		return nil
	}

	err := c.dlq.Add(ctx, FailedMessage{
		Message:  msg,
		SourceID: entryID,
		Reason:   reason,
		Error:    cause.Error(),
		Attempts: attempts,
		FailedAt: c.now(),
	})
	if err != nil {
		// not acked, so the message is retried rather than lost
		return err
	}
	c.metrics.ObserveDeadLetter(c.cfg.Stream, reason)
	return c.ack(ctx, entryID)
}

func (c *StreamConsumer) ack(ctx context.Context, entryID string) error {
	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, entryID).Err(); err != nil {
		return fmt.Errorf("acking %s: %w", entryID, err)
	}
	return nil
}
