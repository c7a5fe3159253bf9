package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rickymta/isra-notification-service/internal/common"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrPoolClosed is returned by Acquire after the pool has been shut down.
var ErrPoolClosed = errors.New("broker: channel pool closed")

// ErrBrokerUnavailable marks dial failures so callers can recognize a
// down broker without matching error strings.
var ErrBrokerUnavailable = errors.New("broker unavailable")

// Config holds broker connection and topology settings.
type Config struct {
	URL                string
	Exchange           string
	Queue              string
	RoutingKey         string
	ConnectTimeout     time.Duration
	MaxChannels        int
	InitialChannels    int
	Prefetch           int
	MaxPublishAttempts int
	ShutdownTimeout    time.Duration
}

func (c Config) withDefaults() Config {
	if c.Exchange == "" {
		c.Exchange = "notifications.direct"
	}
	if c.Queue == "" {
		c.Queue = "notifications.send"
	}
	if c.RoutingKey == "" {
		c.RoutingKey = "notification.send"
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.MaxChannels <= 0 {
		c.MaxChannels = 8
	}
	if c.InitialChannels < 0 {
		c.InitialChannels = 0
	}
	if c.InitialChannels > c.MaxChannels {
		c.InitialChannels = c.MaxChannels
	}
	if c.Prefetch <= 0 {
		c.Prefetch = 1
	}
	if c.MaxPublishAttempts <= 0 {
		c.MaxPublishAttempts = 3
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	return c
}

// Channel is the subset of *amqp091.Channel the pool and its users rely
// on. Tests substitute fakes behind this interface.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	IsClosed() bool
	Close() error
}

// Connection abstracts channel creation over one AMQP connection.
type Connection interface {
	Channel() (Channel, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	IsClosed() bool
	Close() error
}

// Dialer opens a broker connection. The pool dials through it whenever
// no live connection exists, so tests can inject fakes and production
// code never needs a background reconnect loop.
type Dialer func() (Connection, error)

// AMQPDialer returns a Dialer for the broker at url, bounding the TCP
// handshake by connectTimeout.
func AMQPDialer(url string, connectTimeout time.Duration) Dialer {
	return func() (Connection, error) {
		conn, err := amqp.DialConfig(url, amqp.Config{
			Dial: amqp.DefaultDial(connectTimeout),
		})
		if err != nil {
			return nil, err
		}
		return amqpConnection{conn}, nil
	}
}

// amqpConnection adapts *amqp091.Connection to the Connection seam.
type amqpConnection struct {
	*amqp.Connection
}

func (c amqpConnection) Channel() (Channel, error) {
	return c.Connection.Channel()
}

// ChannelPool hands out AMQP channels over a single shared connection.
// The number of concurrently held channels never exceeds the configured
// maximum; Acquire blocks at capacity until a channel is released.
//
// The connection is dialed lazily. When the broker drops it, the idle
// channels are invalidated and the next Acquire redials; there is no
// background reconnection.
type ChannelPool struct {
	dial Dialer
	sem  chan struct{}

	// dialMu serializes dialing so concurrent Acquire calls share one
	// connection attempt instead of racing to open several.
	dialMu sync.Mutex

	mu     sync.Mutex
	conn   Connection
	idle   []Channel
	closed bool
}

// NewPool creates a channel pool that connects through dial. The
// configured number of channels is pre-warmed immediately; pre-warm
// failures are logged and the pool stays usable, reconnecting on the
// first Acquire that finds the broker reachable.
func NewPool(dial Dialer, cfg Config) *ChannelPool {
	cfg = cfg.withDefaults()

	p := &ChannelPool{
		dial: dial,
		sem:  make(chan struct{}, cfg.MaxChannels),
	}
	p.prewarm(cfg.InitialChannels)
	return p
}

func (p *ChannelPool) prewarm(n int) {
	for i := 0; i < n; i++ {
		ch, err := p.channel()
		if err != nil {
			slog.Warn("broker channel pre-warm failed",
				"warmed", i,
				"want", n,
				"error", err,
			)
			return
		}
		p.mu.Lock()
		p.idle = append(p.idle, ch)
		p.mu.Unlock()
	}
}

// Acquire returns a channel from the pool, opening one when none are
// idle and dialing the broker first when no connection is live. It
// blocks while the pool is at capacity until a channel is released or
// ctx is done.
func (p *ChannelPool) Acquire(ctx context.Context) (Channel, error) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	ch, err := p.channel()
	if err != nil {
		<-p.sem
		return nil, err
	}
	return ch, nil
}

// channel pops a healthy idle channel or opens a fresh one.
func (p *ChannelPool) channel() (Channel, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	for len(p.idle) > 0 {
		ch := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		if ch.IsClosed() {
			continue
		}
		p.mu.Unlock()
		return ch, nil
	}
	p.mu.Unlock()

	conn, err := p.connection()
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, common.NewTransientError("opening broker channel", err)
	}
	return ch, nil
}

// connection returns the live shared connection, dialing one if needed.
func (p *ChannelPool) connection() (Connection, error) {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn != nil && !conn.IsClosed() {
		return conn, nil
	}

	p.dialMu.Lock()
	defer p.dialMu.Unlock()

	// Another caller may have reconnected while this one waited.
	p.mu.Lock()
	if p.conn != nil && !p.conn.IsClosed() {
		conn := p.conn
		p.mu.Unlock()
		return conn, nil
	}
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrPoolClosed
	}

	conn, err := p.dial()
	if err != nil {
		return nil, common.NewTransientError("connecting to broker",
			fmt.Errorf("%w: %w", ErrBrokerUnavailable, err))
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = conn.Close()
		return nil, ErrPoolClosed
	}
	p.conn = conn
	p.mu.Unlock()

	go p.watch(conn)

	slog.Info("broker connection established")
	return conn, nil
}

// watch invalidates the pool's channels when the broker drops conn.
// The NotifyClose channel closes without an error on deliberate
// shutdown, which needs no cleanup beyond what Close already did.
func (p *ChannelPool) watch(conn Connection) {
	errs := conn.NotifyClose(make(chan *amqp.Error, 1))
	amqpErr, ok := <-errs
	if !ok {
		return
	}
	slog.Error("broker connection lost", "error", amqpErr)

	p.mu.Lock()
	if p.conn == conn {
		p.conn = nil
	}
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	for _, ch := range idle {
		_ = ch.Close()
	}
}

// Release returns a channel to the pool. Channels the broker has closed
// are discarded so a fresh one can take the slot.
func (p *ChannelPool) Release(ch Channel) {
	defer func() { <-p.sem }()

	if ch == nil {
		return
	}

	p.mu.Lock()
	if p.closed || ch.IsClosed() {
		p.mu.Unlock()
		_ = ch.Close()
		return
	}
	p.idle = append(p.idle, ch)
	p.mu.Unlock()
}

// Close shuts down the pool and the underlying connection.
func (p *ChannelPool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	conn := p.conn
	p.conn = nil
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	for _, ch := range idle {
		_ = ch.Close()
	}
	if conn != nil {
		return conn.Close()
	}
	return nil
}
