// Package rabbitmqtest provides an in-memory broker that records every
// operation issued through the rabbitmq transport interfaces.
package rabbitmqtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/glimte/mqpool/internal/rabbitmq"
)

// ErrNoConsumer is returned by Deliver when nobody consumes the queue
var ErrNoConsumer = errors.New("rabbitmqtest: no consumer for queue")

// ExchangeDeclaration records an exchange declare
type ExchangeDeclaration struct {
	Name       string
	Kind       string
	Durable    bool
	AutoDelete bool
	Args       amqp.Table
}

// QueueDeclaration records a queue declare
type QueueDeclaration struct {
	Name       string
	Durable    bool
	AutoDelete bool
	Exclusive  bool
	Args       amqp.Table
}

// Binding records a queue bind
type Binding struct {
	Queue    string
	Key      string
	Exchange string
	Args     amqp.Table
}

// Publishing records a published message
type Publishing struct {
	Exchange string
	Key      string
	Channel  int
	Msg      amqp.Publishing
}

// Consumption records a consume call
type Consumption struct {
	Queue   string
	Tag     string
	AutoAck bool
	Channel int
}

// Qos records a quality of service setting
type Qos struct {
	PrefetchCount int
	PrefetchSize  int
	Global        bool
	Channel       int
}

// Ack records an acknowledgment
type Ack struct {
	Tag      uint64
	Multiple bool
}

// Nack records a negative acknowledgment
type Nack struct {
	Tag      uint64
	Multiple bool
	Requeue  bool
}

type failure struct {
	op   string
	name string
	err  error
}

type consumer struct {
	tag        string
	queue      string
	channel    *Channel
	deliveries chan amqp.Delivery
}

// Broker is an in-memory stand-in for a RabbitMQ server
type Broker struct {
	// DialDelay slows every dial down, widening races between first callers
	DialDelay time.Duration

	mu          sync.Mutex
	dialErr     error
	dials       int
	urls        []string
	configs     []amqp.Config
	conns       []*Connection
	channels    int
	nextChannel int
	nextTag     uint64
	failures    []failure
	consumers   []*consumer
	exchanges   []ExchangeDeclaration
	queues      []QueueDeclaration
	bindings    []Binding
	published   []Publishing
	consumed    []Consumption
	qos         []Qos
	acks        []Ack
	nacks       []Nack
	cancels     []string
}

// NewBroker creates an empty broker
func NewBroker() *Broker {
	return &Broker{}
}

// Dial implements rabbitmq.Dialer
func (b *Broker) Dial(url string, config amqp.Config) (rabbitmq.Connection, error) {
	if b.DialDelay > 0 {
		time.Sleep(b.DialDelay)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.dials++
	b.urls = append(b.urls, url)
	b.configs = append(b.configs, config)
	if b.dialErr != nil {
		return nil, b.dialErr
	}

	conn := &Connection{broker: b, config: config}
	b.conns = append(b.conns, conn)
	return conn, nil
}

// FailDial makes every following dial fail with err; nil restores dialing
func (b *Broker) FailDial(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dialErr = err
}

// FailOn makes op fail with err for the named entity, or for any entity
// when name is empty. Ops are ExchangeDeclare, QueueDeclare, QueueBind,
// Publish, Qos, Consume and Channel. A failed op closes its channel the way
// a broker does.
func (b *Broker) FailOn(op, name string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = append(b.failures, failure{op: op, name: name, err: err})
}

// Drop simulates a broker-side connection loss on every open connection
func (b *Broker) Drop(reason string) {
	b.mu.Lock()
	conns := append([]*Connection(nil), b.conns...)
	b.mu.Unlock()

	for _, conn := range conns {
		conn.shutdown(&amqp.Error{Code: amqp.ConnectionForced, Reason: reason, Server: true})
	}
}

// Deliver hands a message to the first consumer of queue
func (b *Broker) Deliver(queue string, msg amqp.Publishing) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, c := range b.consumers {
		if c.queue != queue {
			continue
		}
		b.nextTag++
		delivery := amqp.Delivery{
			Acknowledger:    b,
			Headers:         msg.Headers,
			ContentType:     msg.ContentType,
			ContentEncoding: msg.ContentEncoding,
			DeliveryMode:    msg.DeliveryMode,
			Expiration:      msg.Expiration,
			ConsumerTag:     c.tag,
			DeliveryTag:     b.nextTag,
			Body:            msg.Body,
		}
		select {
		case c.deliveries <- delivery:
			return b.nextTag, nil
		default:
			return 0, fmt.Errorf("rabbitmqtest: consumer %s is saturated", c.tag)
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrNoConsumer, queue)
}

// Ack implements amqp.Acknowledger
func (b *Broker) Ack(tag uint64, multiple bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.acks = append(b.acks, Ack{Tag: tag, Multiple: multiple})
	return nil
}

// Nack implements amqp.Acknowledger
func (b *Broker) Nack(tag uint64, multiple, requeue bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nacks = append(b.nacks, Nack{Tag: tag, Multiple: multiple, Requeue: requeue})
	return nil
}

// Reject implements amqp.Acknowledger
func (b *Broker) Reject(tag uint64, requeue bool) error {
	return b.Nack(tag, false, requeue)
}

// Dials returns how many connections were dialed
func (b *Broker) Dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

// URLs returns the dialed URLs
func (b *Broker) URLs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.urls...)
}

// Configs returns the dial configurations
func (b *Broker) Configs() []amqp.Config {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]amqp.Config(nil), b.configs...)
}

// ChannelsOpened returns how many channels were opened
func (b *Broker) ChannelsOpened() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.channels
}

// OpenChannels returns how many channels are currently open
func (b *Broker) OpenChannels() int {
	b.mu.Lock()
	conns := append([]*Connection(nil), b.conns...)
	b.mu.Unlock()

	var channels []*Channel
	for _, conn := range conns {
		conn.mu.Lock()
		channels = append(channels, conn.channels...)
		conn.mu.Unlock()
	}

	open := 0
	for _, ch := range channels {
		if !ch.IsClosed() {
			open++
		}
	}
	return open
}

// Exchanges returns the recorded exchange declares
func (b *Broker) Exchanges() []ExchangeDeclaration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]ExchangeDeclaration(nil), b.exchanges...)
}

// Queues returns the recorded queue declares
func (b *Broker) Queues() []QueueDeclaration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]QueueDeclaration(nil), b.queues...)
}

// Bindings returns the recorded queue binds
func (b *Broker) Bindings() []Binding {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Binding(nil), b.bindings...)
}

// Published returns the recorded publishes
func (b *Broker) Published() []Publishing {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Publishing(nil), b.published...)
}

// Consumed returns the recorded consume calls
func (b *Broker) Consumed() []Consumption {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Consumption(nil), b.consumed...)
}

// QosSettings returns the recorded qos calls
func (b *Broker) QosSettings() []Qos {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Qos(nil), b.qos...)
}

// Acks returns the recorded acknowledgments
func (b *Broker) Acks() []Ack {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Ack(nil), b.acks...)
}

// Nacks returns the recorded negative acknowledgments
func (b *Broker) Nacks() []Nack {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Nack(nil), b.nacks...)
}

// Cancels returns the cancelled consumer tags
func (b *Broker) Cancels() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.cancels...)
}

// ConsumerTags returns the tags of active consumers on queue
func (b *Broker) ConsumerTags(queue string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var tags []string
	for _, c := range b.consumers {
		if c.queue == queue {
			tags = append(tags, c.tag)
		}
	}
	return tags
}

// Operations counts every recorded broker interaction, dials included
func (b *Broker) Operations() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials + b.channels + len(b.exchanges) + len(b.queues) + len(b.bindings) +
		len(b.published) + len(b.consumed) + len(b.qos) + len(b.acks) + len(b.nacks) + len(b.cancels)
}

// fail reports the injected error for op on name. Callers hold b.mu.
func (b *Broker) fail(op, name string) error {
	for _, f := range b.failures {
		if f.op == op && (f.name == "" || f.name == name) {
			return f.err
		}
	}
	return nil
}

// removeConsumers detaches and closes the consumers matched by drop.
// Callers hold b.mu.
func (b *Broker) removeConsumers(drop func(*consumer) bool) {
	kept := b.consumers[:0]
	for _, c := range b.consumers {
		if drop(c) {
			close(c.deliveries)
			continue
		}
		kept = append(kept, c)
	}
	b.consumers = kept
}

// Connection is an in-memory rabbitmq.Connection
type Connection struct {
	broker   *Broker
	config   amqp.Config
	mu       sync.Mutex
	closed   bool
	channels []*Channel
	notify   []chan *amqp.Error
}

// Channel opens a channel
func (c *Connection) Channel() (rabbitmq.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, amqp.ErrClosed
	}

	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fail("Channel", ""); err != nil {
		return nil, err
	}
	b.channels++
	b.nextChannel++

	ch := &Channel{broker: b, id: b.nextChannel}
	c.channels = append(c.channels, ch)
	return ch, nil
}

// NotifyClose registers a listener for connection close
func (c *Connection) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		close(receiver)
		return receiver
	}
	c.notify = append(c.notify, receiver)
	return receiver
}

// Heartbeat returns the configured heartbeat
func (c *Connection) Heartbeat() time.Duration {
	return c.config.Heartbeat
}

// IsClosed reports whether the connection is closed
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close closes the connection gracefully
func (c *Connection) Close() error {
	if c.IsClosed() {
		return amqp.ErrClosed
	}
	c.shutdown(nil)
	return nil
}

func (c *Connection) shutdown(reason *amqp.Error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	channels := c.channels
	notify := c.notify
	c.notify = nil
	c.mu.Unlock()

	for _, ch := range channels {
		_ = ch.Close()
	}
	for _, receiver := range notify {
		if reason != nil {
			receiver <- reason
		}
		close(receiver)
	}
}

// Channel is an in-memory rabbitmq.Channel
type Channel struct {
	broker *Broker
	id     int
	closed bool
}

// ExchangeDeclare records an exchange declare
func (ch *Channel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := ch.check("ExchangeDeclare", name); err != nil {
		return err
	}
	b.exchanges = append(b.exchanges, ExchangeDeclaration{Name: name, Kind: kind, Durable: durable, AutoDelete: autoDelete, Args: args})
	return nil
}

// QueueDeclare records a queue declare
func (ch *Channel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := ch.check("QueueDeclare", name); err != nil {
		return amqp.Queue{}, err
	}
	b.queues = append(b.queues, QueueDeclaration{Name: name, Durable: durable, AutoDelete: autoDelete, Exclusive: exclusive, Args: args})
	return amqp.Queue{Name: name}, nil
}

// QueueBind records a queue bind
func (ch *Channel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := ch.check("QueueBind", name); err != nil {
		return err
	}
	b.bindings = append(b.bindings, Binding{Queue: name, Key: key, Exchange: exchange, Args: args})
	return nil
}

// PublishWithContext records a publish
func (ch *Channel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := ch.check("Publish", key); err != nil {
		return err
	}
	b.published = append(b.published, Publishing{Exchange: exchange, Key: key, Channel: ch.id, Msg: msg})
	return nil
}

// Qos records a quality of service setting
func (ch *Channel) Qos(prefetchCount, prefetchSize int, global bool) error {
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := ch.check("Qos", ""); err != nil {
		return err
	}
	b.qos = append(b.qos, Qos{PrefetchCount: prefetchCount, PrefetchSize: prefetchSize, Global: global, Channel: ch.id})
	return nil
}

// Consume registers a consumer and returns its delivery channel
func (ch *Channel) Consume(queue, tag string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := ch.check("Consume", queue); err != nil {
		return nil, err
	}
	deliveries := make(chan amqp.Delivery, 64)
	b.consumers = append(b.consumers, &consumer{tag: tag, queue: queue, channel: ch, deliveries: deliveries})
	b.consumed = append(b.consumed, Consumption{Queue: queue, Tag: tag, AutoAck: autoAck, Channel: ch.id})
	return deliveries, nil
}

// Cancel stops the consumer with the given tag
func (ch *Channel) Cancel(tag string, noWait bool) error {
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	b.cancels = append(b.cancels, tag)
	b.removeConsumers(func(c *consumer) bool { return c.channel == ch && c.tag == tag })
	return nil
}

// ID identifies the channel in recorded operations
func (ch *Channel) ID() int {
	return ch.id
}

// IsClosed reports whether the channel is closed
func (ch *Channel) IsClosed() bool {
	ch.broker.mu.Lock()
	defer ch.broker.mu.Unlock()
	return ch.closed
}

// Close closes the channel and its consumers
func (ch *Channel) Close() error {
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	ch.closeLocked()
	return nil
}

func (ch *Channel) closeLocked() {
	ch.closed = true
	ch.broker.removeConsumers(func(c *consumer) bool { return c.channel == ch })
}

// check applies failure injection. Callers hold the broker lock.
func (ch *Channel) check(op, name string) error {
	if ch.closed {
		return amqp.ErrClosed
	}
	if err := ch.broker.fail(op, name); err != nil {
		ch.closeLocked()
		return err
	}
	return nil
}
