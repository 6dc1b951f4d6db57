package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Consumer runs every subscription on one shared channel with a prefetch of
// one unacknowledged message. The channel is opened by the first Subscribe.
// When it is lost, through connection recovery or a channel error, every
// subscription not bound to the current channel is registered again under
// its previous consumer tag.
type Consumer struct {
	manager       *ConnectionManager
	mu            sync.Mutex
	conn          Connection
	channel       Channel
	registrations map[string]*registration
	order         []string
	prefetchCount int
	closed        bool
	ctx           context.Context
	cancel        context.CancelFunc
	logger        *slog.Logger
}

type registration struct {
	tag        string
	queue      string
	autoAck    bool
	dispatcher *Dispatcher
	// channel the subscription currently consumes from
	channel Channel
	ctx     context.Context
	cancel  context.CancelFunc
}

// ConsumerOption configures the consumer
type ConsumerOption func(*Consumer)

// WithPrefetchCount sets the prefetch count of the shared channel
func WithPrefetchCount(count int) ConsumerOption {
	return func(c *Consumer) {
		c.prefetchCount = count
	}
}

// WithConsumerLogger sets the logger
func WithConsumerLogger(logger *slog.Logger) ConsumerOption {
	return func(c *Consumer) {
		c.logger = logger
	}
}

// NewConsumer creates a consumer and registers it for connection recovery
func NewConsumer(manager *ConnectionManager, options ...ConsumerOption) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Consumer{
		manager:       manager,
		registrations: make(map[string]*registration),
		prefetchCount: 1,
		ctx:           ctx,
		cancel:        cancel,
		logger:        slog.Default(),
	}

	for _, opt := range options {
		opt(c)
	}

	manager.AddStateListener(c)
	return c
}

// Subscribe starts consuming queue and returns the consumer tag. Each
// delivery is passed to handle; sink receives failures. The subscription
// lives until Unsubscribe or Close, independent of ctx, and the handler
// context is cancelled when it ends.
func (c *Consumer) Subscribe(ctx context.Context, queue string, autoAck bool, handle HandleFunc, sink ExceptionSink) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return "", ErrConsumerClosed
	}

	tag := uuid.NewString()
	regCtx, cancel := context.WithCancel(c.ctx)
	reg := &registration{
		tag:        tag,
		queue:      queue,
		autoAck:    autoAck,
		dispatcher: NewDispatcher(queue, autoAck, handle, sink, c.logger),
		ctx:        regCtx,
		cancel:     cancel,
	}

	ch, err := c.ensureChannel(ctx)
	if err != nil {
		cancel()
		return "", &ConsumerError{Queue: queue, ConsumerTag: tag, Op: "subscribe", Err: err, Timestamp: time.Now()}
	}

	if err := c.start(ch, reg); err != nil {
		cancel()
		return "", &ConsumerError{Queue: queue, ConsumerTag: tag, Op: "subscribe", Err: err, Timestamp: time.Now()}
	}

	c.registrations[tag] = reg
	c.order = append(c.order, tag)
	c.restore(c.ctx)

	c.logger.Info("subscribed to queue",
		"queue", queue,
		"consumerTag", tag,
		"autoAck", autoAck,
		"prefetchCount", c.prefetchCount,
	)
	return tag, nil
}

// Unsubscribe cancels the subscription with the given consumer tag.
// Deliveries the broker already sent are drained and requeued.
func (c *Consumer) Unsubscribe(tag string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConsumerClosed
	}

	reg, ok := c.registrations[tag]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConsumer, tag)
	}
	c.forget(tag)
	defer reg.cancel()

	ch := reg.channel
	if ch == nil || ch.IsClosed() {
		return nil
	}
	if err := ch.Cancel(tag, false); err != nil {
		return &ConsumerError{Queue: reg.queue, ConsumerTag: tag, Op: "cancel", Err: err, Timestamp: time.Now()}
	}

	c.logger.Info("unsubscribed from queue", "queue", reg.queue, "consumerTag", tag)
	return nil
}

// Tags returns the consumer tags of live subscriptions in subscription order
func (c *Consumer) Tags() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.order...)
}

// Close stops all subscriptions and closes the shared channel. Handlers
// already running are not waited for; their context is cancelled.
func (c *Consumer) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.cancel()
	ch := c.channel
	c.channel = nil
	c.conn = nil
	c.registrations = make(map[string]*registration)
	c.order = nil
	c.mu.Unlock()

	if ch == nil || ch.IsClosed() {
		return nil
	}
	if err := ch.Close(); err != nil {
		c.logger.Warn("failed to close subscribe channel", "error", err)
	}
	return nil
}

// OnConnected registers every suspended subscription on a fresh channel
func (c *Consumer) OnConnected() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.restore(c.ctx)
}

// OnDisconnected drops the subscribe channel when it belongs to the lost
// connection. A channel opened on a newer connection is kept.
func (c *Consumer) OnDisconnected(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && c.conn.IsClosed() {
		c.conn = nil
		c.channel = nil
	}
	c.logger.Warn("subscriptions suspended", "subscriptions", len(c.order), "error", err)
}

// OnReconnecting is a no-op
func (c *Consumer) OnReconnecting(int) {}

// ensureChannel returns the shared channel, opening it if needed. Callers
// hold c.mu.
func (c *Consumer) ensureChannel(ctx context.Context) (Channel, error) {
	if c.channel != nil && !c.channel.IsClosed() {
		return c.channel, nil
	}

	conn, err := c.manager.Connection(ctx)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChannelCreationFailed, err)
	}

	if err := ch.Qos(c.prefetchCount, 0, false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	c.conn = conn
	c.channel = ch
	return ch, nil
}

// restore starts every registration that is not bound to the current
// channel. A subscription the broker refuses is dropped and reported to its
// sink, so a deleted queue cannot keep killing the shared channel. Callers
// hold c.mu.
func (c *Consumer) restore(ctx context.Context) {
	for _, tag := range append([]string(nil), c.order...) {
		reg := c.registrations[tag]
		if reg.channel != nil && reg.channel == c.channel && !reg.channel.IsClosed() {
			continue
		}

		ch, err := c.ensureChannel(ctx)
		if err != nil {
			c.logger.Error("failed to reopen subscribe channel", "error", err)
			return
		}

		if err := c.start(ch, reg); err != nil {
			c.forget(tag)
			reg.cancel()
			c.logger.Error("dropped subscription",
				"queue", reg.queue,
				"consumerTag", tag,
				"error", err)
			reg.dispatcher.report(&ConsumerError{Queue: reg.queue, ConsumerTag: tag, Op: "restore", Err: err, Timestamp: time.Now()})
			continue
		}
		c.logger.Info("restored subscription", "queue", reg.queue, "consumerTag", tag)
	}
}

func (c *Consumer) start(ch Channel, reg *registration) error {
	deliveries, err := ch.Consume(
		reg.queue,
		reg.tag,
		reg.autoAck,
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	reg.channel = ch
	go c.process(reg, ch, deliveries)
	return nil
}

// process dispatches deliveries until the broker closes the stream. Once
// the subscription has ended, deliveries still buffered are requeued.
func (c *Consumer) process(reg *registration, ch Channel, deliveries <-chan amqp.Delivery) {
	for delivery := range deliveries {
		if reg.ctx.Err() != nil && !reg.autoAck {
			reg.dispatcher.Requeue(delivery)
			continue
		}
		reg.dispatcher.Dispatch(reg.ctx, delivery)
	}

	if reg.ctx.Err() != nil {
		return
	}
	c.logger.Debug("delivery channel closed", "queue", reg.queue, "consumerTag", reg.tag)
	c.resume(reg, ch)
}

// resume brings a subscription back after its channel closed under it.
// While the connection is down recovery takes care of it instead.
func (c *Consumer) resume(reg *registration, from Channel) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.registrations[reg.tag] != reg || reg.channel != from {
		return
	}
	if !c.manager.IsConnected() {
		return
	}
	c.restore(c.ctx)
}

func (c *Consumer) forget(tag string) {
	delete(c.registrations, tag)
	for i, t := range c.order {
		if t == tag {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}
