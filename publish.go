package mqpool

import (
	"context"
	"fmt"
	"strconv"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/glimte/mqpool/config"
)

// PublishOption configures a publish call
type PublishOption func(*publishConfig)

type publishConfig struct {
	exchange   string
	expire     int
	hasExpire  bool
	persistent bool
	headers    amqp.Table
}

// WithExchange publishes to exchange instead of amq.direct
func WithExchange(exchange string) PublishOption {
	return func(cfg *publishConfig) {
		cfg.exchange = exchange
	}
}

// WithExpire sets the message TTL in seconds
func WithExpire(seconds int) PublishOption {
	return func(cfg *publishConfig) {
		cfg.expire = seconds
		cfg.hasExpire = true
	}
}

// WithPersistent marks messages persistent
func WithPersistent(persistent bool) PublishOption {
	return func(cfg *publishConfig) {
		cfg.persistent = persistent
	}
}

// WithHeaders attaches headers to every message. The map is copied when
// the publish starts.
func WithHeaders(headers map[string]interface{}) PublishOption {
	return func(cfg *publishConfig) {
		cfg.headers = amqp.Table(config.Arguments(headers).Copy())
	}
}

// Publish sends one message
func (p *Pool) Publish(ctx context.Context, routingKey string, msg any, opts ...PublishOption) error {
	if msg == nil {
		return fmt.Errorf("%w: message is nil", ErrInvalidArgument)
	}
	return p.publish(ctx, routingKey, []any{msg}, opts)
}

// PublishBatch sends msgs in order on one channel. An empty batch succeeds
// without touching the broker. The batch is not atomic.
func (p *Pool) PublishBatch(ctx context.Context, routingKey string, msgs []any, opts ...PublishOption) error {
	if len(msgs) == 0 {
		return nil
	}
	return p.publish(ctx, routingKey, msgs, opts)
}

// PublishDelayed sends msg to the delay routing key with a TTL of delay
// seconds. The delay queue dead-letters it back to the primary queue.
func (p *Pool) PublishDelayed(ctx context.Context, delayRoutingKey string, msg any, delay int, opts ...PublishOption) error {
	if delay < 1 {
		return fmt.Errorf("%w: delay %d must be at least 1 second", ErrInvalidArgument, delay)
	}
	return p.Publish(ctx, delayRoutingKey, msg, withOption(opts, WithExpire(delay))...)
}

// PublishDelayedBatch is PublishDelayed for a batch
func (p *Pool) PublishDelayedBatch(ctx context.Context, delayRoutingKey string, msgs []any, delay int, opts ...PublishOption) error {
	if len(msgs) == 0 {
		return nil
	}
	if delay < 1 {
		return fmt.Errorf("%w: delay %d must be at least 1 second", ErrInvalidArgument, delay)
	}
	return p.publish(ctx, delayRoutingKey, msgs, withOption(opts, WithExpire(delay)))
}

// PublishTo sends msg along a configured route
func (p *Pool) PublishTo(ctx context.Context, route config.PubRoute, msg any, opts ...PublishOption) error {
	return p.Publish(ctx, route.RoutingKey, msg, append([]PublishOption{WithExchange(route.Exchange)}, opts...)...)
}

// PublishDelayedTo sends msg to the delay routing key of a configured route
func (p *Pool) PublishDelayedTo(ctx context.Context, route config.PubRoute, msg any, delay int, opts ...PublishOption) error {
	return p.PublishDelayed(ctx, route.DelayRoutingKey, msg, delay, append([]PublishOption{WithExchange(route.Exchange)}, opts...)...)
}

// withOption appends opt without writing into the caller's backing array
func withOption(opts []PublishOption, opt PublishOption) []PublishOption {
	return append(opts[:len(opts):len(opts)], opt)
}

func (p *Pool) publish(ctx context.Context, routingKey string, msgs []any, opts []PublishOption) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}

	cfg := publishConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.exchange == "" {
		cfg.exchange = config.DefaultExchange
	}
	if cfg.hasExpire && cfg.expire < 1 {
		return fmt.Errorf("%w: expire %d must be at least 1 second", ErrInvalidArgument, cfg.expire)
	}

	deliveryMode := amqp.Transient
	if cfg.persistent {
		deliveryMode = amqp.Persistent
	}
	var expiration string
	if cfg.hasExpire {
		expiration = strconv.Itoa(cfg.expire * 1000)
	}

	publishings := make([]amqp.Publishing, len(msgs))
	for i, msg := range msgs {
		env, err := p.bridge.Encode(msg)
		if err != nil {
			return fmt.Errorf("%w: message %d: %w", ErrInvalidArgument, i, err)
		}
		publishings[i] = amqp.Publishing{
			Headers:         cfg.headers,
			ContentType:     env.ContentType,
			ContentEncoding: env.ContentEncoding,
			DeliveryMode:    deliveryMode,
			Expiration:      expiration,
			Body:            env.Body,
		}
	}

	return p.publisher.Publish(ctx, cfg.exchange, routingKey, publishings...)
}
