package broker_test

import (
	"context"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/rickymta/isra-notification-service/internal/infra/broker"
)

// publishRecord captures one PublishWithContext call.
type publishRecord struct {
	Exchange string
	Key      string
	Msg      amqp.Publishing
}

// declareRecord captures one QueueDeclare call.
type declareRecord struct {
	Name string
	Args amqp.Table
}

// brokerRecorder collects calls across every channel a fake connection
// hands out, so assertions do not depend on which pooled channel served
// an operation.
type brokerRecorder struct {
	mu        sync.Mutex
	published []publishRecord
	declared  []declareRecord
	exchanges []string
	bindings  [][3]string // queue, key, exchange

	publishErrs []error // consumed front to back; nil entry means success
}

func (r *brokerRecorder) recordPublish(exchange, key string, msg amqp.Publishing) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, publishRecord{Exchange: exchange, Key: key, Msg: msg})
	if len(r.publishErrs) > 0 {
		err := r.publishErrs[0]
		r.publishErrs = r.publishErrs[1:]
		return err
	}
	return nil
}

func (r *brokerRecorder) failPublishes(errs ...error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publishErrs = append(r.publishErrs, errs...)
}

func (r *brokerRecorder) publishes() []publishRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]publishRecord, len(r.published))
	copy(out, r.published)
	return out
}

func (r *brokerRecorder) declares() []declareRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]declareRecord, len(r.declared))
	copy(out, r.declared)
	return out
}

func (r *brokerRecorder) declaresOf(name string) []declareRecord {
	var out []declareRecord
	for _, d := range r.declares() {
		if d.Name == name {
			out = append(out, d)
		}
	}
	return out
}

// fakeChannel implements broker.Channel against the shared recorder.
type fakeChannel struct {
	rec *brokerRecorder

	mu          sync.Mutex
	closed      bool
	deliveries  chan amqp.Delivery
	consumeErr  error
	qosErr      error
	declareErr  error
	exchangeErr error
}

var _ broker.Channel = (*fakeChannel)(nil)

func (c *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	return c.rec.recordPublish(exchange, key, msg)
}

func (c *fakeChannel) ExchangeDeclare(name, kind string, _, _, _, _ bool, _ amqp.Table) error {
	if c.exchangeErr != nil {
		return c.exchangeErr
	}
	c.rec.mu.Lock()
	c.rec.exchanges = append(c.rec.exchanges, name+"/"+kind)
	c.rec.mu.Unlock()
	return nil
}

func (c *fakeChannel) QueueDeclare(name string, _, _, _, _ bool, args amqp.Table) (amqp.Queue, error) {
	if c.declareErr != nil {
		return amqp.Queue{}, c.declareErr
	}
	c.rec.mu.Lock()
	c.rec.declared = append(c.rec.declared, declareRecord{Name: name, Args: args})
	c.rec.mu.Unlock()
	return amqp.Queue{Name: name}, nil
}

func (c *fakeChannel) QueueBind(name, key, exchange string, _ bool, _ amqp.Table) error {
	c.rec.mu.Lock()
	c.rec.bindings = append(c.rec.bindings, [3]string{name, key, exchange})
	c.rec.mu.Unlock()
	return nil
}

func (c *fakeChannel) Qos(_, _ int, _ bool) error {
	return c.qosErr
}

func (c *fakeChannel) Consume(string, string, bool, bool, bool, bool, amqp.Table) (<-chan amqp.Delivery, error) {
	if c.consumeErr != nil {
		return nil, c.consumeErr
	}
	return c.deliveries, nil
}

func (c *fakeChannel) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// fakeConn implements broker.Connection, handing out fake channels that
// write to the shared recorder.
type fakeConn struct {
	rec *brokerRecorder

	mu        sync.Mutex
	closed    bool
	channels  []*fakeChannel
	notify    []chan *amqp.Error
	channelFn func() *fakeChannel // optional channel factory override
}

var _ broker.Connection = (*fakeConn)(nil)

func (c *fakeConn) Channel() (broker.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ch *fakeChannel
	if c.channelFn != nil {
		ch = c.channelFn()
	} else {
		ch = &fakeChannel{rec: c.rec}
	}
	c.channels = append(c.channels, ch)
	return ch, nil
}

func (c *fakeConn) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notify = append(c.notify, receiver)
	return receiver
}

func (c *fakeConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close marks the connection closed and closes the notify channels
// without an error, matching a deliberate shutdown.
func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	for _, n := range c.notify {
		close(n)
	}
	return nil
}

// drop simulates the broker tearing the connection down: the connection
// and its channels become closed and the notify receivers get the error.
func (c *fakeConn) drop(reason *amqp.Error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	channels := c.channels
	notify := c.notify
	c.mu.Unlock()

	for _, ch := range channels {
		_ = ch.Close()
	}
	for _, n := range notify {
		n <- reason
		close(n)
	}
}

func (c *fakeConn) channelCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.channels)
}

// fakeDialer produces fake connections on demand and counts dials.
type fakeDialer struct {
	rec *brokerRecorder

	mu        sync.Mutex
	dials     int
	err       error
	conns     []*fakeConn
	channelFn func() *fakeChannel // propagated to every dialed connection
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{rec: &brokerRecorder{}}
}

func (d *fakeDialer) dial() (broker.Connection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.err != nil {
		return nil, d.err
	}
	conn := &fakeConn{rec: d.rec, channelFn: d.channelFn}
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) setErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) lastConn() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// settlement captures how a delivery was acked or nacked.
type settlement struct {
	Kind    string // "ack", "nack", "reject"
	Requeue bool
}

// fakeAcknowledger implements amqp.Acknowledger and reports settlements
// on a channel so tests can wait for them.
type fakeAcknowledger struct {
	settled chan settlement
}

var _ amqp.Acknowledger = (*fakeAcknowledger)(nil)

func newFakeAcknowledger() *fakeAcknowledger {
	return &fakeAcknowledger{settled: make(chan settlement, 4)}
}

func (a *fakeAcknowledger) Ack(uint64, bool) error {
	a.settled <- settlement{Kind: "ack"}
	return nil
}

func (a *fakeAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	a.settled <- settlement{Kind: "nack", Requeue: requeue}
	return nil
}

func (a *fakeAcknowledger) Reject(_ uint64, requeue bool) error {
	a.settled <- settlement{Kind: "reject", Requeue: requeue}
	return nil
}
