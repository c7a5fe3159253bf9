package broker

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/rickymta/isra-notification-service/internal/common"
	"github.com/rickymta/isra-notification-service/internal/domain/notification"
	"github.com/rickymta/isra-notification-service/internal/retry"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

var _ notification.Publisher = (*Publisher)(nil)

// Publisher publishes notification requests through a pooled AMQP
// connection. The exchange and main queue are declared up front; delay
// queues are declared lazily, one per delay bucket, using per-message
// TTL and dead-lettering back to the main exchange.
type Publisher struct {
	pool      *ChannelPool
	cfg       Config
	policy    retry.Policy
	transport retry.Policy

	mu          sync.Mutex
	delayQueues map[time.Duration]string
}

// NewPublisher declares the broker topology and returns a publisher.
// policy supplies the delivery retry delays used by PublishRetry.
func NewPublisher(ctx context.Context, pool *ChannelPool, cfg Config, policy retry.Policy) (*Publisher, error) {
	p := &Publisher{
		pool:   pool,
		cfg:    cfg.withDefaults(),
		policy: policy,
		// Short in-process backoff between publish attempts. Delivery
		// retries go through the delay queues and use policy instead.
		transport: retry.ExponentialBackoff{
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2,
			Jitter:       0.2,
		},
		delayQueues: make(map[time.Duration]string),
	}

	ch, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring channel for topology: %w", err)
	}
	defer pool.Release(ch)

	if err := p.declareTopology(ch); err != nil {
		return nil, err
	}

	return p, nil
}

func (p *Publisher) declareTopology(ch Channel) error {
	if err := ch.ExchangeDeclare(p.cfg.Exchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declaring exchange %s: %w", p.cfg.Exchange, err)
	}

	args := amqp.Table{"x-max-priority": int32(5)}
	if _, err := ch.QueueDeclare(p.cfg.Queue, true, false, false, false, args); err != nil {
		return fmt.Errorf("declaring queue %s: %w", p.cfg.Queue, err)
	}

	if err := ch.QueueBind(p.cfg.Queue, p.cfg.RoutingKey, p.cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("binding queue %s: %w", p.cfg.Queue, err)
	}

	return nil
}

// Publish enqueues a request for immediate delivery.
func (p *Publisher) Publish(ctx context.Context, req *notification.NotificationRequest) error {
	return p.publish(ctx, p.cfg.Exchange, p.cfg.RoutingKey, req, 0, 0)
}

// PublishDelayed parks a request in a delay queue so it surfaces on the
// main queue only after the given delay has elapsed.
func (p *Publisher) PublishDelayed(ctx context.Context, req *notification.NotificationRequest, delay time.Duration) error {
	if delay <= 0 {
		return p.Publish(ctx, req)
	}
	return p.publishDelayed(ctx, req, 0, delay)
}

// PublishRetry schedules the next delivery attempt after the backoff
// delay for the given attempt number.
func (p *Publisher) PublishRetry(ctx context.Context, req *notification.NotificationRequest, attempt int) error {
	return p.publishDelayed(ctx, req, attempt, p.policy.Delay(attempt))
}

func (p *Publisher) publishDelayed(ctx context.Context, req *notification.NotificationRequest, retryCount int, delay time.Duration) error {
	queueName, err := p.ensureDelayQueue(ctx, bucketFor(delay))
	if err != nil {
		return common.NewTransientError("declaring delay queue", err)
	}
	// Route through the default exchange straight into the delay queue.
	return p.publish(ctx, "", queueName, req, retryCount, delay)
}

// publish assembles the message and sends it, retrying transient
// transport failures a bounded number of times.
func (p *Publisher) publish(ctx context.Context, exchange, key string, req *notification.NotificationRequest, retryCount int, expiration time.Duration) error {
	body, err := EncodeRequest(req)
	if err != nil {
		return common.NewDataError("encoding notification request", err)
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Priority:     amqpPriority(req.Priority),
		Headers: amqp.Table{
			HeaderRetryCount:     int32(retryCount),
			HeaderMessageType:    MessageTypeSend,
			HeaderMessageVersion: MessageVersion,
		},
		Body: body,
	}
	if expiration > 0 {
		pub.Expiration = strconv.FormatInt(expiration.Milliseconds(), 10)
	}

	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxPublishAttempts; attempt++ {
		pub.MessageId = uuid.NewString()
		lastErr = p.publishOnce(ctx, exchange, key, pub)
		if lastErr == nil {
			return nil
		}
		if attempt == p.cfg.MaxPublishAttempts {
			break
		}

		wait := p.transport.Delay(attempt)
		slog.Warn("publish failed, retrying",
			"notification_id", req.ID,
			"attempt", attempt,
			"wait", wait,
			"error", lastErr,
		)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return common.NewTransientError(fmt.Sprintf("publishing notification %s", req.ID), lastErr)
}

func (p *Publisher) publishOnce(ctx context.Context, exchange, key string, pub amqp.Publishing) error {
	ch, err := p.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.pool.Release(ch)

	return ch.PublishWithContext(ctx, exchange, key, false, false, pub)
}

// ensureDelayQueue declares the delay queue for the given bucket on
// first use and returns its name. Delay queues have no consumers;
// messages expire after their per-message TTL and dead-letter back to
// the main exchange and routing key.
func (p *Publisher) ensureDelayQueue(ctx context.Context, bucket time.Duration) (string, error) {
	p.mu.Lock()
	if name, ok := p.delayQueues[bucket]; ok {
		p.mu.Unlock()
		return name, nil
	}
	p.mu.Unlock()

	name := fmt.Sprintf("%s.delay.%dms", p.cfg.Queue, bucket.Milliseconds())

	ch, err := p.pool.Acquire(ctx)
	if err != nil {
		return "", err
	}
	defer p.pool.Release(ch)

	args := amqp.Table{
		"x-dead-letter-exchange":    p.cfg.Exchange,
		"x-dead-letter-routing-key": p.cfg.RoutingKey,
	}
	if _, err := ch.QueueDeclare(name, true, false, false, false, args); err != nil {
		return "", fmt.Errorf("declaring delay queue %s: %w", name, err)
	}

	p.mu.Lock()
	p.delayQueues[bucket] = name
	p.mu.Unlock()

	return name, nil
}

// bucketFor coarsens a delay so arbitrary delays map onto a bounded set
// of delay queues. Messages keep their exact delay as per-message TTL;
// the bucket is rounded up, never down, so no message in a queue
// outlives the queue's nominal delay.
func bucketFor(delay time.Duration) time.Duration {
	step := time.Second
	switch {
	case delay > 10*time.Minute:
		step = time.Minute
	case delay > 10*time.Second:
		step = 10 * time.Second
	}
	if rem := delay % step; rem != 0 {
		delay += step - rem
	}
	return delay
}

// amqpPriority maps request priority (1 highest, 5 lowest) onto AMQP
// priority, where higher numbers are delivered first.
func amqpPriority(priority int) uint8 {
	p := notification.NormalizePriority(priority)
	return uint8(6 - p)
}
