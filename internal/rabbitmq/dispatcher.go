package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// HandleFunc processes one delivery and reports whether it was handled.
// A returned error counts as not handled.
type HandleFunc func(ctx context.Context, delivery amqp.Delivery) (bool, error)

// ExceptionSink receives handler and decode failures for a queue
type ExceptionSink func(queue string, err error)

// Dispatcher turns handler outcomes into acknowledgments. Every delivery is
// settled on its own: handled deliveries are acked, all others are nacked
// with requeue. Nothing is settled in auto-ack mode.
type Dispatcher struct {
	queue   string
	autoAck bool
	handle  HandleFunc
	sink    ExceptionSink
	logger  *slog.Logger
}

// NewDispatcher creates a dispatcher for queue
func NewDispatcher(queue string, autoAck bool, handle HandleFunc, sink ExceptionSink, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		queue:   queue,
		autoAck: autoAck,
		handle:  handle,
		sink:    sink,
		logger:  logger,
	}
}

// Dispatch handles and settles a single delivery. It never panics and
// never returns an error; failures reach the exception sink.
func (d *Dispatcher) Dispatch(ctx context.Context, delivery amqp.Delivery) bool {
	handled, err := d.invoke(ctx, delivery)
	if err != nil {
		handled = false
		d.report(err)
	}

	if d.autoAck {
		return handled
	}

	if handled {
		if ackErr := delivery.Ack(false); ackErr != nil {
			d.logger.Error("failed to ack message",
				"error", ackErr,
				"queue", d.queue,
				"deliveryTag", delivery.DeliveryTag)
		}
		return true
	}

	d.Requeue(delivery)
	return false
}

// Requeue rejects a delivery without handling it so the broker redelivers
// it. Nothing is settled in auto-ack mode.
func (d *Dispatcher) Requeue(delivery amqp.Delivery) {
	if d.autoAck {
		return
	}
	if err := delivery.Nack(false, true); err != nil {
		d.logger.Error("failed to nack message",
			"error", err,
			"queue", d.queue,
			"deliveryTag", delivery.DeliveryTag)
	}
}

func (d *Dispatcher) invoke(ctx context.Context, delivery amqp.Delivery) (handled bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			handled, err = false, fmt.Errorf("panic in handler: %v", r)
		}
	}()
	return d.handle(ctx, delivery)
}

func (d *Dispatcher) report(err error) {
	if d.sink == nil {
		d.logger.Error("failed to handle message", "queue", d.queue, "error", err)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("exception sink panicked", "queue", d.queue, "panic", r, "error", err)
		}
	}()
	d.sink(d.queue, err)
}
