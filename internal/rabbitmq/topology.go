package rabbitmq

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/glimte/mqpool/config"
)

// TopologyManager declares exchanges, queues and their bindings on pooled
// channels. A batch borrows one channel and is not atomic: entries declared
// before a failure stay declared.
type TopologyManager struct {
	pool *ChannelPool
}

// NewTopologyManager creates a new topology manager
func NewTopologyManager(pool *ChannelPool) *TopologyManager {
	return &TopologyManager{
		pool: pool,
	}
}

// DeclareExchanges declares every exchange in order
func (tm *TopologyManager) DeclareExchanges(ctx context.Context, exchanges []config.Exchange) error {
	return tm.pool.Execute(ctx, func(ch Channel) error {
		for _, exchange := range exchanges {
			if err := tm.declareExchange(ch, exchange); err != nil {
				return &TopologyError{Component: "exchange", Name: exchange.Name, Op: "declare", Err: err, Timestamp: time.Now()}
			}
		}
		return nil
	})
}

// DeclareQueues declares and binds every queue in order. A queue with a
// distinct delay queue also gets its dead-letter companion.
func (tm *TopologyManager) DeclareQueues(ctx context.Context, queues []config.Queue) error {
	return tm.pool.Execute(ctx, func(ch Channel) error {
		for _, queue := range queues {
			if err := tm.declareQueue(ch, queue); err != nil {
				return err
			}
		}
		return nil
	})
}

func (tm *TopologyManager) declareQueue(ch Channel, queue config.Queue) error {
	if _, err := ch.QueueDeclare(
		queue.Name,
		queue.Durable,
		queue.AutoDelete,
		queue.Exclusive,
		false, // no-wait
		table(queue.QueueArguments),
	); err != nil {
		return &TopologyError{Component: "queue", Name: queue.Name, Op: "declare", Err: err, Timestamp: time.Now()}
	}

	if err := ch.QueueBind(queue.Name, queue.RoutingKey, queue.Exchange, false, table(queue.BindArguments)); err != nil {
		return &TopologyError{Component: "binding", Name: queue.Name, Op: "bind", Err: err, Timestamp: time.Now()}
	}

	if !queue.HasDelayQueue() {
		return nil
	}

	if _, err := ch.QueueDeclare(
		queue.DelayQueue,
		queue.Durable,
		queue.AutoDelete,
		queue.Exclusive,
		false, // no-wait
		table(queue.DelayQueueArguments()),
	); err != nil {
		return &TopologyError{Component: "queue", Name: queue.DelayQueue, Op: "declare", Err: err, Timestamp: time.Now()}
	}

	if err := ch.QueueBind(queue.DelayQueue, queue.DelayRoutingKey, queue.Exchange, false, nil); err != nil {
		return &TopologyError{Component: "binding", Name: queue.DelayQueue, Op: "bind", Err: err, Timestamp: time.Now()}
	}
	return nil
}

func (tm *TopologyManager) declareExchange(ch Channel, exchange config.Exchange) error {
	return ch.ExchangeDeclare(
		exchange.Name,
		exchange.Kind,
		exchange.Durable,
		exchange.AutoDelete,
		false, // internal
		false, // no-wait
		table(exchange.Arguments),
	)
}

func table(args config.Arguments) amqp.Table {
	if len(args) == 0 {
		return nil
	}
	return amqp.Table(args)
}
