package mqpool

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/glimte/mqpool/internal/rabbitmq"
	"github.com/glimte/mqpool/serialization"
)

// Handler processes decoded messages of type T. Returning false or an
// error requeues the delivery unless the subscription auto-acks.
type Handler[T any] interface {
	Handle(ctx context.Context, msg T, delivery amqp.Delivery) (bool, error)
}

// HandlerFunc adapts a function to Handler
type HandlerFunc[T any] func(ctx context.Context, msg T, delivery amqp.Delivery) (bool, error)

// Handle calls f
func (f HandlerFunc[T]) Handle(ctx context.Context, msg T, delivery amqp.Delivery) (bool, error) {
	return f(ctx, msg, delivery)
}

// ExceptionSink receives decode and handler failures together with the
// queue the delivery came from.
type ExceptionSink interface {
	HandleException(queue string, err error)
}

// ExceptionSinkFunc adapts a function to ExceptionSink
type ExceptionSinkFunc func(queue string, err error)

// HandleException calls f
func (f ExceptionSinkFunc) HandleException(queue string, err error) {
	f(queue, err)
}

// Subscription identifies an active consumer registration
type Subscription struct {
	Queue       string
	ConsumerTag string
	AutoAck     bool
}

// SubscribeOption configures a subscription
type SubscribeOption func(*subscribeConfig)

type subscribeConfig struct {
	autoAck bool
}

// WithAutoAck lets the broker settle deliveries on receipt
func WithAutoAck(autoAck bool) SubscribeOption {
	return func(cfg *subscribeConfig) {
		cfg.autoAck = autoAck
	}
}

// Subscribe consumes queue on the shared subscribe channel, decoding each
// delivery into a T. An intentionally empty payload counts as handled
// without calling h. The subscription outlives ctx; end it with
// Unsubscribe or Close.
func Subscribe[T any](ctx context.Context, p *Pool, queue string, h Handler[T], opts ...SubscribeOption) (Subscription, error) {
	if p == nil {
		return Subscription{}, fmt.Errorf("%w: pool is nil", ErrInvalidArgument)
	}
	if h == nil {
		return Subscription{}, fmt.Errorf("%w: handler is nil", ErrInvalidArgument)
	}
	if queue == "" {
		return Subscription{}, fmt.Errorf("%w: queue is empty", ErrInvalidArgument)
	}
	if p.closed.Load() {
		return Subscription{}, ErrPoolClosed
	}

	cfg := subscribeConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	handle := func(ctx context.Context, delivery amqp.Delivery) (bool, error) {
		msg, ok, err := serialization.Decode[T](p.bridge, delivery.Body)
		if err != nil {
			return false, err
		}
		if !ok {
			return true, nil
		}
		return h.Handle(ctx, msg, delivery)
	}

	var sink rabbitmq.ExceptionSink
	if p.sink != nil {
		sink = p.sink.HandleException
	}

	tag, err := p.consumer.Subscribe(ctx, queue, cfg.autoAck, handle, sink)
	if err != nil {
		if errors.Is(err, rabbitmq.ErrConsumerClosed) {
			return Subscription{}, ErrPoolClosed
		}
		return Subscription{}, err
	}

	return Subscription{Queue: queue, ConsumerTag: tag, AutoAck: cfg.autoAck}, nil
}
