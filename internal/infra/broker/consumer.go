package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rickymta/isra-notification-service/internal/common"
	"github.com/rickymta/isra-notification-service/internal/domain/notification"

	amqp "github.com/rabbitmq/amqp091-go"
)

// requeuePause softens the redelivery spin when a dependency is down
// and messages bounce straight back to the queue.
const requeuePause = time.Second

// Processor handles decoded notification requests pulled off the queue.
// A nil Process return means the message is finished and may be
// acknowledged. A DataError means the message is malformed and must be
// dropped. Any other error leaves the requeue decision to the consumer.
type Processor interface {
	Process(ctx context.Context, req *notification.NotificationRequest) error
	Abandon(ctx context.Context, req *notification.NotificationRequest, reason string) error
}

// Consumer pulls notification messages off the main queue and drives
// them through a Processor, acknowledging manually based on the outcome.
type Consumer struct {
	pool       *ChannelPool
	cfg        Config
	processor  Processor
	maxRetries int
}

// NewConsumer creates a consumer bound to the main queue.
func NewConsumer(pool *ChannelPool, cfg Config, processor Processor, maxRetries int) *Consumer {
	return &Consumer{
		pool:       pool,
		cfg:        cfg.withDefaults(),
		processor:  processor,
		maxRetries: maxRetries,
	}
}

// Run consumes until ctx is cancelled or the broker closes the
// delivery stream. Messages are processed one at a time under the
// configured prefetch; an in-flight message finishes before Run
// returns.
func (c *Consumer) Run(ctx context.Context) error {
	ch, err := c.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring consumer channel: %w", err)
	}
	defer c.pool.Release(ch)

	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("setting prefetch: %w", err)
	}

	deliveries, err := ch.Consume(c.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("starting consumer on %s: %w", c.cfg.Queue, err)
	}

	slog.Info("consumer started", "queue", c.cfg.Queue, "prefetch", c.cfg.Prefetch)

	for {
		select {
		case <-ctx.Done():
			slog.Info("consumer stopping", "queue", c.cfg.Queue)
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("broker: delivery stream closed")
			}
			c.handle(d)
		}
	}
}

// handle runs one delivery through the processor and settles it.
// Each message gets its own context so an in-flight delivery completes
// during shutdown; the timeout bounds how long shutdown can stall
// behind a single message.
func (c *Consumer) handle(d amqp.Delivery) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ShutdownTimeout)
	defer cancel()

	retryCount := RetryCountFromHeaders(d.Headers)

	req, err := DecodeRequest(d.Body)
	if err != nil {
		slog.Error("dropping undecodable message", "message_id", d.MessageId, "error", err)
		c.nack(d, false)
		return
	}

	err = c.processor.Process(ctx, req)
	switch {
	case err == nil:
		c.ack(d)

	case common.IsData(err):
		slog.Error("dropping malformed message", "id", req.ID, "error", err)
		c.nack(d, false)

	case retryCount < c.maxRetries:
		slog.Warn("requeueing message after processing error",
			"id", req.ID,
			"retry_count", retryCount,
			"error", err,
		)
		time.Sleep(requeuePause)
		c.nack(d, true)

	default:
		slog.Error("abandoning message, retry budget spent",
			"id", req.ID,
			"retry_count", retryCount,
			"error", err,
		)
		if aerr := c.processor.Abandon(ctx, req, err.Error()); aerr != nil {
			slog.Error("failed to record abandoned message", "id", req.ID, "error", aerr)
		}
		c.nack(d, false)
	}
}

func (c *Consumer) ack(d amqp.Delivery) {
	if err := d.Ack(false); err != nil {
		slog.Error("failed to ack message", "message_id", d.MessageId, "error", err)
	}
}

func (c *Consumer) nack(d amqp.Delivery, requeue bool) {
	if err := d.Nack(false, requeue); err != nil {
		slog.Error("failed to nack message", "message_id", d.MessageId, "error", err)
	}
}
