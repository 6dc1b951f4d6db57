package rabbitmq

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher sends prepared messages on pooled channels
type Publisher struct {
	pool *ChannelPool
}

// NewPublisher creates a new publisher
func NewPublisher(pool *ChannelPool) *Publisher {
	return &Publisher{
		pool: pool,
	}
}

// Publish sends msgs in order on one borrowed channel. The call is not
// atomic; messages before a failed one have already been sent.
func (p *Publisher) Publish(ctx context.Context, exchange, routingKey string, msgs ...amqp.Publishing) error {
	if len(msgs) == 0 {
		return nil
	}

	return p.pool.Execute(ctx, func(ch Channel) error {
		for i, msg := range msgs {
			if err := ch.PublishWithContext(ctx, exchange, routingKey, false, false, msg); err != nil {
				return &PublishError{
					Exchange:   exchange,
					RoutingKey: routingKey,
					Index:      i,
					Err:        err,
					Timestamp:  time.Now(),
				}
			}
		}
		return nil
	})
}
